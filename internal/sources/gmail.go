package sources

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/ArionMiles/bankmail/pkg/api"
	"github.com/ArionMiles/bankmail/pkg/reader/gmail"
)

// GmailPlugin reads bank emails from the authorized Gmail mailbox.
type GmailPlugin struct{}

// Name returns the plugin name.
func (p *GmailPlugin) Name() string { return "gmail" }

// Description returns a human-readable description.
func (p *GmailPlugin) Description() string {
	return "Read bank notification emails from Gmail"
}

// RequiredScopes returns the OAuth scopes needed by this plugin.
func (p *GmailPlugin) RequiredScopes() []string {
	return []string{gmail.Scope}
}

// ConfigSchema returns a JSON schema describing the plugin's configuration.
func (p *GmailPlugin) ConfigSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{
				"type":        "string",
				"description": "Gmail search query narrowing the messages, combined with the month range",
			},
			"maxMessages": map[string]any{
				"type":        "integer",
				"description": "Maximum messages fetched per sync (default: 500)",
				"default":     500,
			},
		},
	}
}

// NewSource creates a Gmail source.
func (p *GmailPlugin) NewSource(httpClient *http.Client, config json.RawMessage, logger *slog.Logger) (api.EmailSource, error) {
	var cfg gmail.Config
	if err := json.Unmarshal(config, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling gmail config: %w", err)
	}
	return gmail.New(httpClient, cfg, logger)
}
