package provider

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/charmbracelet/log"
	"gopkg.in/yaml.v3"
)

// ConnectionConfig identifies a provider kind and carries its connection
// parameters. The engine treats params as opaque and passes them through to
// the registered factory.
type ConnectionConfig struct {
	ID         string            `yaml:"id"`
	ProviderID string            `yaml:"providerId"`
	Params     map[string]string `yaml:"params"`
}

// LoadConnection reads a connection config from a YAML file.
func LoadConnection(path string) (ConnectionConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ConnectionConfig{}, fmt.Errorf("failed to read connection config: %w", err)
	}
	var cfg ConnectionConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return ConnectionConfig{}, fmt.Errorf("failed to parse connection config: %w", err)
	}
	if cfg.ProviderID == "" {
		return ConnectionConfig{}, fmt.Errorf("connection config %s has no providerId", path)
	}
	return cfg, nil
}

// Factory builds a live, authenticated Provider from a connection config.
type Factory func(ctx context.Context, cfg ConnectionConfig) (Provider, error)

var (
	factoryMu sync.RWMutex
	factories = map[string]Factory{}
)

// RegisterFactory registers a provider factory under a provider kind.
// Later registrations for the same kind replace earlier ones.
func RegisterFactory(providerID string, f Factory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	factories[providerID] = f
}

// RegisteredKinds returns the provider kinds with a registered factory.
func RegisteredKinds() []string {
	factoryMu.RLock()
	defer factoryMu.RUnlock()
	kinds := make([]string, 0, len(factories))
	for k := range factories {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// Connect resolves a connection config to a live provider handle.
// Connection and authentication failures are fatal for a migration run.
func Connect(ctx context.Context, cfg ConnectionConfig) (Provider, error) {
	factoryMu.RLock()
	f, ok := factories[cfg.ProviderID]
	factoryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no provider factory registered for %q", cfg.ProviderID)
	}

	log.Debug("Connecting provider", "provider", cfg.ProviderID, "connection", cfg.ID)

	p, err := f(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect provider %s: %w", cfg.ProviderID, err)
	}
	return p, nil
}
