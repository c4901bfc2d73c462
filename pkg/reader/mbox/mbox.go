// Package mbox implements an EmailSource that reads exported mailbox files.
package mbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/emersion/go-mbox"

	"github.com/ArionMiles/bankmail/pkg/api"
	"github.com/ArionMiles/bankmail/pkg/mailparse"
)

// Config holds configuration for the mbox source.
type Config struct {
	// Path is either a single mbox file shared by all users, or a directory
	// holding one <userID>.mbox file per user.
	Path string `json:"path"`
}

// Source reads messages from mbox files on disk.
type Source struct {
	cfg    Config
	logger *slog.Logger
}

// New creates an mbox source.
func New(cfg Config, logger *slog.Logger) (*Source, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Path == "" {
		return nil, errors.New("mbox path is required")
	}
	if _, err := os.Stat(cfg.Path); err != nil {
		return nil, fmt.Errorf("checking mbox path: %w", err)
	}
	return &Source{cfg: cfg, logger: logger.With("component", "mbox_source")}, nil
}

// Fetch returns the messages of userID received within period, oldest first.
// Messages that cannot be parsed or carry no date are skipped.
func (s *Source) Fetch(ctx context.Context, userID string, period api.Period) ([]api.EmailMessage, error) {
	path, err := s.pathFor(userID)
	if err != nil {
		return nil, err
	}
	logger := s.logger.With("user_id", userID, "path", path)

	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		logger.Debug("no mailbox for user")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("opening mailbox: %w", err)
	}
	defer f.Close()

	var out []api.EmailMessage
	r := mbox.NewReader(f)
	for i := 0; ; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		raw, err := r.NextMessage()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading message %d: %w", i, err)
		}

		email, err := mailparse.Parse(raw)
		if err != nil {
			logger.Warn("skipping unparseable message", "index", i, "error", err)
			continue
		}
		if email.ReceivedAt.IsZero() {
			logger.Warn("skipping message without date", "index", i, "subject", email.Subject)
			continue
		}
		if !period.Contains(email.ReceivedAt) {
			continue
		}
		if email.ID == "" {
			email.ID = fmt.Sprintf("%s#%d", filepath.Base(path), i)
		}
		out = append(out, email)
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].ReceivedAt.Before(out[j].ReceivedAt) })
	logger.Info("read mailbox", "count", len(out), "period", period.String())
	return out, nil
}

func (s *Source) pathFor(userID string) (string, error) {
	info, err := os.Stat(s.cfg.Path)
	if err != nil {
		return "", fmt.Errorf("checking mbox path: %w", err)
	}
	if !info.IsDir() {
		return s.cfg.Path, nil
	}
	if userID == "" || filepath.Base(userID) != userID {
		return "", fmt.Errorf("invalid user id %q for mailbox directory", userID)
	}
	return filepath.Join(s.cfg.Path, userID+".mbox"), nil
}
