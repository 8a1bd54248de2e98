// Package llm is the thin client for the annotation provider: two wire
// shapes behind one Annotate operation.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/distill-dev/distill/cmd/distill/cli/config"
)

// MaxTokens caps every annotation completion.
const MaxTokens = 4096

const defaultTimeout = 120 * time.Second

// ErrNoAPIKey is returned when no key is configured and no fallback
// environment variable is set.
var ErrNoAPIKey = errors.New("no API key configured")

// Provider sends one system+user exchange and returns the raw completion
// text.
type Provider interface {
	Annotate(ctx context.Context, system, user string) (string, error)
}

// New selects the provider shape from the configuration.
func New(cfg config.Config) (Provider, error) {
	key := cfg.ResolveAPIKey()
	if key == "" {
		return nil, ErrNoAPIKey
	}

	httpc := &http.Client{Timeout: defaultTimeout}
	switch cfg.Provider {
	case config.ProviderOpenAI:
		base := cfg.APIBaseURL
		if base == "" {
			base = "https://api.openai.com/v1"
		}
		return &OpenAICompat{Base: base, Key: key, Model: cfg.Model, client: httpc}, nil
	default:
		base := cfg.APIBaseURL
		if base == "" {
			base = "https://api.anthropic.com"
		}
		return &Anthropic{Base: base, Key: key, Model: cfg.Model, client: httpc}, nil
	}
}

// Anthropic speaks the messages API.
type Anthropic struct {
	Base  string
	Key   string
	Model string

	client *http.Client
}

// Annotate posts one user message with a system prompt and concatenates
// the text blocks of the response.
func (a *Anthropic) Annotate(ctx context.Context, system, user string) (string, error) {
	body := map[string]any{
		"model":      a.Model,
		"max_tokens": MaxTokens,
		"system":     system,
		"messages": []map[string]string{
			{"role": "user", "content": user},
		},
	}

	data, err := postJSON(ctx, a.client, strings.TrimSuffix(a.Base, "/")+"/v1/messages", body, map[string]string{
		"x-api-key":         a.Key,
		"anthropic-version": "2023-06-01",
	})
	if err != nil {
		return "", err
	}

	var resp struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}

	var b strings.Builder
	for _, block := range resp.Content {
		if block.Type == "" || block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	if b.Len() == 0 {
		return "", errors.New("empty completion")
	}
	return b.String(), nil
}

// OpenAICompat speaks the chat-completions API.
type OpenAICompat struct {
	Base  string
	Key   string
	Model string

	client *http.Client
}

// Annotate posts system+user chat messages and returns the first choice.
func (o *OpenAICompat) Annotate(ctx context.Context, system, user string) (string, error) {
	body := map[string]any{
		"model":      o.Model,
		"max_tokens": MaxTokens,
		"messages": []map[string]string{
			{"role": "system", "content": system},
			{"role": "user", "content": user},
		},
	}

	data, err := postJSON(ctx, o.client, strings.TrimSuffix(o.Base, "/")+"/chat/completions", body, map[string]string{
		"Authorization": "Bearer " + o.Key,
	})
	if err != nil {
		return "", err
	}

	var resp struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("empty completion")
	}
	return resp.Choices[0].Message.Content, nil
}

func postJSON(ctx context.Context, client *http.Client, url string, body any, headers map[string]string) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("post %s: %w", url, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("provider returned %d: %s", resp.StatusCode, firstLine(data))
	}
	return data, nil
}

func firstLine(data []byte) string {
	s := strings.TrimSpace(string(data))
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}

// StripFences removes an optional Markdown code fence wrapping a
// completion.
func StripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		// Drop the language tag line.
		s = s[i+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
