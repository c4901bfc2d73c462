// Package gmail implements an EmailSource backed by the Gmail API.
package gmail

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/ArionMiles/bankmail/pkg/api"
	"github.com/ArionMiles/bankmail/pkg/mailparse"
)

// Scope is the OAuth scope the source needs.
const Scope = gmail.GmailReadonlyScope

const (
	defaultMaxMessages = 500
	fetchConcurrency   = 8
)

// ErrTooManyMessages is returned, wrapped in api.ErrSourceUnavailable, when
// more messages match than MaxMessages allows. A partial month is never
// returned since Gmail lists newest first and the oldest emails would be lost.
var ErrTooManyMessages = errors.New("message limit reached")

// Config holds configuration for the Gmail source.
type Config struct {
	// Query is appended to the date range filter, e.g. "from:(vpb.com.vn OR techcombank.com.vn)".
	Query string `json:"query"`
	// MaxMessages caps how many messages one fetch may list. A period with
	// more matches fails instead of being cut short. Defaults to 500.
	MaxMessages int `json:"maxMessages"`
	// Endpoint overrides the API base URL.
	Endpoint string `json:"endpoint,omitempty"`
}

// Source lists and downloads messages from the authenticated mailbox.
type Source struct {
	client *gmail.Service
	cfg    Config
	logger *slog.Logger
}

// New creates a Gmail source using an authenticated HTTP client.
func New(httpClient *http.Client, cfg Config, logger *slog.Logger) (*Source, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxMessages <= 0 {
		cfg.MaxMessages = defaultMaxMessages
	}

	opts := []option.ClientOption{option.WithHTTPClient(httpClient)}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}
	client, err := gmail.NewService(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("creating gmail service: %w", err)
	}

	return &Source{
		client: client,
		cfg:    cfg,
		logger: logger.With("component", "gmail_source"),
	}, nil
}

// Fetch returns the messages received within period, oldest first. The
// mailbox is always the one the HTTP client is authorized for, so userID is
// only used for logging.
func (s *Source) Fetch(ctx context.Context, userID string, period api.Period) ([]api.EmailMessage, error) {
	query := buildQuery(period, s.cfg.Query)
	logger := s.logger.With("user_id", userID, "query", query)

	var ids []string
	err := s.client.Users.Messages.List("me").Q(query).Context(ctx).Pages(ctx, func(resp *gmail.ListMessagesResponse) error {
		for _, m := range resp.Messages {
			if len(ids) >= s.cfg.MaxMessages {
				return ErrTooManyMessages
			}
			ids = append(ids, m.Id)
		}
		return nil
	})
	if errors.Is(err, ErrTooManyMessages) {
		logger.Warn("too many messages in period, narrow the query or raise maxMessages",
			"max_messages", s.cfg.MaxMessages, "period", period.String())
		return nil, fmt.Errorf("%w: more than %d messages in %s: %w",
			api.ErrSourceUnavailable, s.cfg.MaxMessages, period, ErrTooManyMessages)
	}
	if err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}
	logger.Info("found messages", "count", len(ids))

	emails := make([]api.EmailMessage, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fetchConcurrency)
	for i, id := range ids {
		g.Go(func() error {
			msg, err := s.client.Users.Messages.Get("me", id).Format("full").Context(gctx).Do()
			if err != nil {
				return fmt.Errorf("getting message %s: %w", id, err)
			}
			emails[i] = convert(msg)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// The date filter has day granularity on Gmail's side.
	out := emails[:0]
	for _, e := range emails {
		if period.Contains(e.ReceivedAt) {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ReceivedAt.Before(out[j].ReceivedAt) })
	return out, nil
}

func buildQuery(period api.Period, extra string) string {
	q := fmt.Sprintf("after:%d before:%d", period.Start.Unix(), period.End.Unix())
	if extra = strings.TrimSpace(extra); extra != "" {
		q += " " + extra
	}
	return q
}

func convert(msg *gmail.Message) api.EmailMessage {
	email := api.EmailMessage{
		ID:         msg.Id,
		ReceivedAt: time.UnixMilli(msg.InternalDate).UTC(),
	}
	if msg.Payload == nil {
		email.Body = msg.Snippet
		return email
	}

	for _, h := range msg.Payload.Headers {
		switch strings.ToLower(h.Name) {
		case "from":
			email.From = h.Value
		case "subject":
			email.Subject = h.Value
		}
	}

	plain, html := findBodies(msg.Payload)
	switch {
	case strings.TrimSpace(plain) != "":
		email.Body = plain
	case html != "":
		email.Body = mailparse.HTMLToText(html)
	default:
		email.Body = msg.Snippet
	}
	return email
}

// findBodies walks the part tree depth first and returns the first plain and
// HTML bodies.
func findBodies(part *gmail.MessagePart) (plain, html string) {
	if part == nil {
		return "", ""
	}
	if part.Body != nil && part.Body.Data != "" {
		switch part.MimeType {
		case "text/plain":
			plain = decodeData(part.Body.Data)
		case "text/html":
			html = decodeData(part.Body.Data)
		}
	}
	for _, child := range part.Parts {
		p, h := findBodies(child)
		if plain == "" {
			plain = p
		}
		if html == "" {
			html = h
		}
	}
	return plain, html
}

func decodeData(data string) string {
	b, err := base64.URLEncoding.DecodeString(data)
	if err != nil {
		b, err = base64.RawURLEncoding.DecodeString(data)
		if err != nil {
			return ""
		}
	}
	return strings.ReplaceAll(string(b), "\r\n", "\n")
}
