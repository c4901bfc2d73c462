package sources

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/ArionMiles/bankmail/pkg/api"
	"github.com/ArionMiles/bankmail/pkg/reader/mbox"
)

// MboxPlugin reads bank emails from exported mbox files.
type MboxPlugin struct{}

// Name returns the plugin name.
func (p *MboxPlugin) Name() string { return "mbox" }

// Description returns a human-readable description.
func (p *MboxPlugin) Description() string {
	return "Read bank notification emails from mbox exports"
}

// RequiredScopes returns nil; mbox files are local.
func (p *MboxPlugin) RequiredScopes() []string { return nil }

// ConfigSchema returns a JSON schema describing the plugin's configuration.
func (p *MboxPlugin) ConfigSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{
				"type":        "string",
				"description": "An mbox file, or a directory of <userId>.mbox files",
			},
		},
		"required": []string{"path"},
	}
}

// NewSource creates an mbox source.
func (p *MboxPlugin) NewSource(_ *http.Client, config json.RawMessage, logger *slog.Logger) (api.EmailSource, error) {
	var cfg mbox.Config
	if err := json.Unmarshal(config, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling mbox config: %w", err)
	}
	return mbox.New(cfg, logger)
}
