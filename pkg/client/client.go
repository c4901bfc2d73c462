// Package client builds OAuth2 HTTP clients for the Google APIs used by the
// Gmail source.
package client

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

const (
	callbackPath    = "/callback"
	callbackTimeout = 5 * time.Minute
	// DefaultCallbackPort is the local port of the consent redirect.
	DefaultCallbackPort = 8085
)

// ErrNoToken is returned when no cached token exists and the consent flow
// is not allowed.
var ErrNoToken = errors.New("no oauth token cached; run `bankmail auth` first")

// Options configures how the client obtains credentials.
type Options struct {
	// SecretFile is the OAuth client secret JSON downloaded from Google.
	SecretFile string
	// TokenFile caches the user token between runs.
	TokenFile string
	Scopes    []string
	// Interactive allows the browser consent flow when no token is cached.
	Interactive  bool
	CallbackPort int
}

// New returns an authorized HTTP client. Refreshed tokens are written back to
// TokenFile.
func New(ctx context.Context, opts Options, logger *slog.Logger) (*http.Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	secret, err := os.ReadFile(opts.SecretFile)
	if err != nil {
		return nil, fmt.Errorf("reading client secret file: %w", err)
	}
	config, err := google.ConfigFromJSON(secret, opts.Scopes...)
	if err != nil {
		return nil, fmt.Errorf("parsing client secret: %w", err)
	}

	tok, err := tokenFromFile(opts.TokenFile)
	if err != nil {
		if !opts.Interactive {
			return nil, fmt.Errorf("%w (%s)", ErrNoToken, opts.TokenFile)
		}
		logger.Info("no cached token, starting consent flow")
		if tok, err = tokenFromWeb(ctx, config, opts.CallbackPort, logger); err != nil {
			return nil, err
		}
		if err := saveToken(opts.TokenFile, tok); err != nil {
			logger.Error("failed to save token", "path", opts.TokenFile, "error", err)
		}
	}

	src := &savingTokenSource{
		base:   config.TokenSource(ctx, tok),
		path:   opts.TokenFile,
		last:   tok.AccessToken,
		logger: logger,
	}
	return oauth2.NewClient(ctx, oauth2.ReuseTokenSource(tok, src)), nil
}

// savingTokenSource persists a token whenever the access token changes.
type savingTokenSource struct {
	base   oauth2.TokenSource
	path   string
	last   string
	logger *slog.Logger
}

func (s *savingTokenSource) Token() (*oauth2.Token, error) {
	tok, err := s.base.Token()
	if err != nil {
		return nil, err
	}
	if tok.AccessToken != s.last {
		s.last = tok.AccessToken
		if err := saveToken(s.path, tok); err != nil {
			s.logger.Warn("failed to persist refreshed token", "error", err)
		}
	}
	return tok, nil
}

func tokenFromWeb(ctx context.Context, config *oauth2.Config, port int, logger *slog.Logger) (*oauth2.Token, error) {
	if port == 0 {
		port = DefaultCallbackPort
	}
	config.RedirectURL = fmt.Sprintf("http://localhost:%d%s", port, callbackPath)

	state, err := generateState()
	if err != nil {
		return nil, fmt.Errorf("generating state token: %w", err)
	}

	codes := make(chan string, 1)
	errs := make(chan error, 1)
	server, err := startCallbackServer(ctx, port, state, codes, errs, logger)
	if err != nil {
		return nil, fmt.Errorf("starting callback server: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("error shutting down callback server", "error", err)
		}
	}()

	authURL := config.AuthCodeURL(state, oauth2.AccessTypeOffline)
	fmt.Printf("\nOpen this URL to grant bankmail read access to your mailbox:\n%s\n\n", authURL)
	if err := openBrowser(ctx, authURL); err != nil {
		logger.Debug("could not open browser", "error", err)
	}

	select {
	case code := <-codes:
		tok, err := config.Exchange(ctx, code)
		if err != nil {
			return nil, fmt.Errorf("exchanging authorization code: %w", err)
		}
		return tok, nil
	case err := <-errs:
		return nil, fmt.Errorf("oauth callback: %w", err)
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(callbackTimeout):
		return nil, fmt.Errorf("oauth flow timed out after %v", callbackTimeout)
	}
}

func startCallbackServer(ctx context.Context, port int, state string, codes chan<- string, errs chan<- error, logger *slog.Logger) (*http.Server, error) {
	mux := http.NewServeMux()
	mux.HandleFunc(callbackPath, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		switch {
		case q.Get("state") != state:
			http.Error(w, "invalid state parameter", http.StatusBadRequest)
			sendErr(errs, errors.New("invalid state parameter"))
		case q.Get("error") != "":
			http.Error(w, "authentication failed: "+q.Get("error"), http.StatusBadRequest)
			sendErr(errs, fmt.Errorf("%s: %s", q.Get("error"), q.Get("error_description")))
		case q.Get("code") == "":
			http.Error(w, "no authorization code received", http.StatusBadRequest)
			sendErr(errs, errors.New("no authorization code received"))
		default:
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			_, _ = fmt.Fprintln(w, "bankmail is authorized. You can close this window.")
			select {
			case codes <- q.Get("code"):
			default:
			}
		}
	})

	server := &http.Server{
		Addr:              fmt.Sprintf("localhost:%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc := net.ListenConfig{}
	listener, err := lc.Listen(ctx, "tcp", server.Addr)
	if err != nil {
		return nil, fmt.Errorf("port %d unavailable: %w", port, err)
	}

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("callback server error", "error", err)
			sendErr(errs, err)
		}
	}()
	return server, nil
}

func sendErr(errs chan<- error, err error) {
	select {
	case errs <- err:
	default:
	}
}

func openBrowser(ctx context.Context, url string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.CommandContext(ctx, "open", url)
	case "linux":
		cmd = exec.CommandContext(ctx, "xdg-open", url)
	case "windows":
		cmd = exec.CommandContext(ctx, "cmd", "/c", "start", url)
	default:
		return fmt.Errorf("unsupported platform: %s", runtime.GOOS)
	}
	return cmd.Start()
}

func generateState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func tokenFromFile(path string) (*oauth2.Token, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	tok := &oauth2.Token{}
	if err := json.NewDecoder(f).Decode(tok); err != nil {
		return nil, fmt.Errorf("decoding token: %w", err)
	}
	return tok, nil
}

func saveToken(path string, token *oauth2.Token) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating token directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("creating token file: %w", err)
	}
	defer f.Close()

	if err := json.NewEncoder(f).Encode(token); err != nil {
		return fmt.Errorf("encoding token: %w", err)
	}
	return nil
}
