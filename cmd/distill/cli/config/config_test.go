package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_Missing(t *testing.T) {
	t.Parallel()

	cfg := Load(filepath.Join(t.TempDir(), "absent.json"))
	if cfg.Annotator != AnnotatorSelf {
		t.Errorf("annotator = %q, want self", cfg.Annotator)
	}
	if cfg.TokenBudget != DefaultTokenBudget {
		t.Errorf("tokenBudget = %d, want %d", cfg.TokenBudget, DefaultTokenBudget)
	}
	if !cfg.IsEnabled() {
		t.Error("default config should be enabled")
	}
}

func TestLoad_Malformed(t *testing.T) {
	t.Parallel()

	cfg := Load(writeConfig(t, "{not json"))
	if cfg.Annotator != AnnotatorSelf {
		t.Errorf("annotator = %q, want self after parse error", cfg.Annotator)
	}
}

func TestLoad_Partial(t *testing.T) {
	t.Parallel()

	cfg := Load(writeConfig(t, `{"annotator":"haiku","model":"claude-haiku"}`))
	if cfg.Annotator != AnnotatorHaiku {
		t.Errorf("annotator = %q, want haiku", cfg.Annotator)
	}
	if cfg.Model != "claude-haiku" {
		t.Errorf("model = %q", cfg.Model)
	}
	if cfg.TokenBudget != DefaultTokenBudget {
		t.Errorf("tokenBudget = %d, want default", cfg.TokenBudget)
	}
	if cfg.Provider != ProviderAnthropic {
		t.Errorf("provider = %q, want anthropic", cfg.Provider)
	}
}

func TestLoad_InvalidValuesFallBack(t *testing.T) {
	t.Parallel()

	cfg := Load(writeConfig(t, `{"annotator":"gpt5","provider":"other","tokenBudget":-1}`))
	if cfg.Annotator != AnnotatorSelf {
		t.Errorf("annotator = %q, want self", cfg.Annotator)
	}
	if cfg.Provider != ProviderAnthropic {
		t.Errorf("provider = %q, want anthropic", cfg.Provider)
	}
	if cfg.TokenBudget != DefaultTokenBudget {
		t.Errorf("tokenBudget = %d, want default", cfg.TokenBudget)
	}
}

func TestLoad_Disabled(t *testing.T) {
	t.Parallel()

	cfg := Load(writeConfig(t, `{"enabled":false}`))
	if cfg.IsEnabled() {
		t.Error("enabled=false should stick")
	}
}

func TestResolveAPIKey(t *testing.T) {
	t.Setenv("DISTILL_API_KEY", "")
	t.Setenv("ANTHROPIC_API_KEY", "")

	cfg := Default()
	if cfg.ResolveAPIKey() != "" {
		t.Error("no key expected")
	}

	t.Setenv("ANTHROPIC_API_KEY", "anthropic-key")
	if cfg.ResolveAPIKey() != "anthropic-key" {
		t.Error("ANTHROPIC_API_KEY fallback not used")
	}

	t.Setenv("DISTILL_API_KEY", "distill-key")
	if cfg.ResolveAPIKey() != "distill-key" {
		t.Error("DISTILL_API_KEY should take precedence over ANTHROPIC_API_KEY")
	}

	cfg.APIKey = "configured"
	if cfg.ResolveAPIKey() != "configured" {
		t.Error("configured key should win")
	}
}
