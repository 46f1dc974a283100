package stage

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/domstage/patch"
	"github.com/hazyhaar/domstage/session"
	"github.com/hazyhaar/domstage/stage/internal/store"
)

// Config holds all stage configuration.
type Config struct {
	ArtifactDB      string         `yaml:"artifact_db"`
	CredentialsDB   string         `yaml:"credentials_db"`
	HistoryCapacity int            `yaml:"history_capacity"`
	Viewport        ViewportConfig `yaml:"viewport"`
	Provider        ProviderConfig `yaml:"provider"`
}

// ViewportConfig records the viewport dimensions stamped onto exports.
type ViewportConfig struct {
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
}

// ProviderConfig controls the generation backend.
type ProviderConfig struct {
	BaseURL    string        `yaml:"base_url"`
	Model      string        `yaml:"model"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
}

func (c *Config) defaults() {
	if c.ArtifactDB == "" {
		c.ArtifactDB = "domstage.db"
	}
	if c.CredentialsDB == "" {
		c.CredentialsDB = c.ArtifactDB
	}
	if c.HistoryCapacity <= 0 {
		c.HistoryCapacity = patch.DefaultCapacity
	}
	if c.Viewport.Width <= 0 {
		c.Viewport.Width = 1280
	}
	if c.Viewport.Height <= 0 {
		c.Viewport.Height = 720
	}
	if c.Provider.Timeout <= 0 {
		c.Provider.Timeout = 60 * time.Second
	}
	if c.Provider.MaxRetries <= 0 {
		c.Provider.MaxRetries = 2
	}
}

// LoadConfigFile reads a YAML config file.
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	cfg.defaults()
	return cfg, nil
}

// NewFromConfig creates a Stage with the artifact store, history bound,
// and viewport taken from cfg. The machine may be nil.
func NewFromConfig(doc Document, machine *session.Machine, cfg *Config, opts ...Option) (*Stage, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	cfg.defaults()

	st, err := store.Open(cfg.ArtifactDB)
	if err != nil {
		return nil, fmt.Errorf("stage: open artifact store: %w", err)
	}

	all := append([]Option{
		WithStore(st),
		WithHistoryCapacity(cfg.HistoryCapacity),
		WithViewport(cfg.Viewport.Width, cfg.Viewport.Height),
	}, opts...)
	return New(doc, machine, all...), nil
}

// CloseStore releases the artifact database, when one is configured.
func (s *Stage) CloseStore() error {
	if s.store == nil {
		return nil
	}
	return s.store.Close()
}
