package llm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/distill-dev/distill/cmd/distill/cli/config"
)

func TestNew_SelectsProviderShape(t *testing.T) {
	cfg := config.Default()
	cfg.APIKey = "test-key"

	p, err := New(cfg)
	require.NoError(t, err)
	assert.IsType(t, &Anthropic{}, p)

	cfg.Provider = config.ProviderOpenAI
	p, err = New(cfg)
	require.NoError(t, err)
	assert.IsType(t, &OpenAICompat{}, p)
}

func TestNew_NoKey(t *testing.T) {
	t.Setenv("DISTILL_API_KEY", "")
	t.Setenv("ANTHROPIC_API_KEY", "")

	_, err := New(config.Default())
	assert.ErrorIs(t, err, ErrNoAPIKey)
}

func TestNew_EnvFallback(t *testing.T) {
	t.Setenv("DISTILL_API_KEY", "")
	t.Setenv("ANTHROPIC_API_KEY", "env-key")

	_, err := New(config.Default())
	assert.NoError(t, err)
}

func TestAnthropic_Annotate(t *testing.T) {
	t.Parallel()

	var gotPath, gotKey, gotVersion string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("x-api-key")
		gotVersion = r.Header.Get("anthropic-version")
		data, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(data, &gotBody)
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"content":[{"type":"text","text":"{\"annotations\""},{"type":"text","text":":[]}"}]}`)
	}))
	defer srv.Close()

	p := &Anthropic{Base: srv.URL, Key: "k", Model: "claude-haiku", client: srv.Client()}
	text, err := p.Annotate(context.Background(), "sys", "user msg")
	require.NoError(t, err)
	assert.Equal(t, `{"annotations":[]}`, text, "text blocks are concatenated")

	assert.Equal(t, "/v1/messages", gotPath)
	assert.Equal(t, "k", gotKey)
	assert.Equal(t, "2023-06-01", gotVersion)
	assert.Equal(t, "sys", gotBody["system"])
	assert.Equal(t, float64(MaxTokens), gotBody["max_tokens"])
}

func TestOpenAICompat_Annotate(t *testing.T) {
	t.Parallel()

	var gotPath, gotAuth string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		data, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(data, &gotBody)
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"choices":[{"message":{"content":"hello"}}]}`)
	}))
	defer srv.Close()

	p := &OpenAICompat{Base: srv.URL, Key: "k", Model: "gpt", client: srv.Client()}
	text, err := p.Annotate(context.Background(), "sys", "user msg")
	require.NoError(t, err)
	assert.Equal(t, "hello", text)

	assert.Equal(t, "/chat/completions", gotPath)
	assert.Equal(t, "Bearer k", gotAuth)

	messages, ok := gotBody["messages"].([]any)
	require.True(t, ok)
	require.Len(t, messages, 2)
	first := messages[0].(map[string]any)
	assert.Equal(t, "system", first["role"])
}

func TestAnnotate_ServerError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "overloaded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := &Anthropic{Base: srv.URL, Key: "k", client: srv.Client()}
	_, err := p.Annotate(context.Background(), "s", "u")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}

func TestAnnotate_ContextCancelled(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(200 * time.Millisecond)
		io.WriteString(w, `{"choices":[]}`)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	p := &OpenAICompat{Base: srv.URL, Key: "k", client: srv.Client()}
	_, err := p.Annotate(ctx, "s", "u")
	assert.Error(t, err)
}

func TestStripFences(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"bare", `{"a":1}`, `{"a":1}`},
		{"fenced", "```\n{\"a\":1}\n```", `{"a":1}`},
		{"fenced with language", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"surrounding whitespace", "  ```json\n{\"a\":1}\n```  ", `{"a":1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StripFences(tt.in))
		})
	}
}
