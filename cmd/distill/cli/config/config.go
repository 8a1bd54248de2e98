// Package config loads the global distill configuration.
package config

import (
	"encoding/json"
	"os"
)

// Annotator modes.
const (
	AnnotatorSelf  = "self"
	AnnotatorHaiku = "haiku"
)

// Provider shapes.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
)

// DefaultTokenBudget is the retrieval context budget in tokens.
const DefaultTokenBudget = 4000

// Config is the global configuration read from config.json.
type Config struct {
	Annotator   string `json:"annotator"`
	Provider    string `json:"provider"`
	APIBaseURL  string `json:"apiBaseUrl"`
	APIKey      string `json:"apiKey"`
	Model       string `json:"model"`
	TokenBudget int    `json:"tokenBudget"`
	Enabled     *bool  `json:"enabled"`
}

// Default returns the configuration used when no config file exists
// or the file cannot be parsed.
func Default() Config {
	enabled := true
	return Config{
		Annotator:   AnnotatorSelf,
		Provider:    ProviderAnthropic,
		TokenBudget: DefaultTokenBudget,
		Enabled:     &enabled,
	}
}

// Load reads the config file at path. A missing or malformed file falls
// back to defaults; partial files keep defaults for absent fields.
func Load(path string) Config {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Default()
	}

	if cfg.Annotator != AnnotatorSelf && cfg.Annotator != AnnotatorHaiku {
		cfg.Annotator = AnnotatorSelf
	}
	if cfg.Provider != ProviderAnthropic && cfg.Provider != ProviderOpenAI {
		cfg.Provider = ProviderAnthropic
	}
	if cfg.TokenBudget <= 0 {
		cfg.TokenBudget = DefaultTokenBudget
	}
	if cfg.Enabled == nil {
		enabled := true
		cfg.Enabled = &enabled
	}
	return cfg
}

// ResolveAPIKey returns the configured key, falling back to the
// DISTILL_API_KEY and ANTHROPIC_API_KEY environment variables.
func (c Config) ResolveAPIKey() string {
	if c.APIKey != "" {
		return c.APIKey
	}
	if key := os.Getenv("DISTILL_API_KEY"); key != "" {
		return key
	}
	return os.Getenv("ANTHROPIC_API_KEY")
}

// IsEnabled reports the effective enable flag.
func (c Config) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}
