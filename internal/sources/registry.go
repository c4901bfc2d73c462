// Package sources provides a registry of email source plugins.
package sources

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"

	"github.com/ArionMiles/bankmail/pkg/api"
)

// Plugin builds an EmailSource from JSON configuration.
type Plugin interface {
	// Name returns the plugin name (e.g., "gmail", "mbox").
	Name() string
	// Description returns a human-readable description.
	Description() string
	// RequiredScopes returns the OAuth scopes needed by this plugin.
	RequiredScopes() []string
	// ConfigSchema returns a JSON schema describing the plugin's configuration.
	ConfigSchema() map[string]any
	// NewSource creates a source. httpClient is nil for plugins without scopes.
	NewSource(httpClient *http.Client, config json.RawMessage, logger *slog.Logger) (api.EmailSource, error)
}

// Registry manages available source plugins.
type Registry struct {
	mu      sync.RWMutex
	plugins map[string]Plugin
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{plugins: make(map[string]Plugin)}
}

// Default returns a registry with the built-in gmail and mbox plugins.
func Default() *Registry {
	r := NewRegistry()
	_ = r.Register(&GmailPlugin{})
	_ = r.Register(&MboxPlugin{})
	return r
}

// Register adds a plugin. Names must be unique.
func (r *Registry) Register(plugin Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := plugin.Name()
	if _, exists := r.plugins[name]; exists {
		return fmt.Errorf("source plugin %q already registered", name)
	}
	r.plugins[name] = plugin
	return nil
}

// Get returns a plugin by name.
func (r *Registry) Get(name string) (Plugin, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	plugin, exists := r.plugins[name]
	if !exists {
		return nil, fmt.Errorf("source plugin %q not found", name)
	}
	return plugin, nil
}

// List returns all plugins sorted by name.
func (r *Registry) List() []Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	plugins := make([]Plugin, 0, len(r.plugins))
	for _, plugin := range r.plugins {
		plugins = append(plugins, plugin)
	}
	sort.Slice(plugins, func(i, j int) bool { return plugins[i].Name() < plugins[j].Name() })
	return plugins
}

// Scopes returns the OAuth scopes of the named plugin.
func (r *Registry) Scopes(name string) ([]string, error) {
	plugin, err := r.Get(name)
	if err != nil {
		return nil, err
	}
	return plugin.RequiredScopes(), nil
}

// Create instantiates the named plugin.
func (r *Registry) Create(name string, httpClient *http.Client, config json.RawMessage, logger *slog.Logger) (api.EmailSource, error) {
	plugin, err := r.Get(name)
	if err != nil {
		return nil, err
	}
	if len(plugin.RequiredScopes()) > 0 && httpClient == nil {
		return nil, fmt.Errorf("source plugin %q needs an authorized http client", name)
	}
	if len(config) == 0 {
		config = json.RawMessage("{}")
	}
	src, err := plugin.NewSource(httpClient, config, logger)
	if err != nil {
		return nil, fmt.Errorf("creating %s source: %w", name, err)
	}
	return src, nil
}
