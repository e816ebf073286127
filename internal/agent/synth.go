package agent

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/GindaChen/nsys-tui/internal/config"
)

// ErrSynthesisUnavailable is returned by synthesizers that are not configured.
var ErrSynthesisUnavailable = stderrors.New("synthesis not available")

// Synthesizer turns skill evidence into a narrative answer. Ask only calls
// Synthesize when Available reports true.
type Synthesizer interface {
	Available() bool
	Synthesize(ctx context.Context, question, evidence string) (string, error)
}

// NullSynthesizer is never available.
type NullSynthesizer struct{}

func (NullSynthesizer) Available() bool { return false }

func (NullSynthesizer) Synthesize(context.Context, string, string) (string, error) {
	return "", ErrSynthesisUnavailable
}

const (
	anthropicVersion = "2023-06-01"
	maxErrorBody     = 4096
)

// AnthropicSynthesizer answers through the Anthropic Messages API.
type AnthropicSynthesizer struct {
	apiKey    string
	endpoint  string
	model     string
	maxTokens int
	system    string
	client    *http.Client
}

// NewAnthropicSynthesizer builds a synthesizer from cfg. The API key is read
// from the environment variable cfg.APIKeyEnv; without it the synthesizer is
// unavailable. system is sent as the system prompt on every request.
func NewAnthropicSynthesizer(cfg config.SynthesisConfig, system string) *AnthropicSynthesizer {
	def := config.DefaultConfig().Synthesis
	s := &AnthropicSynthesizer{
		endpoint:  strings.TrimRight(cfg.Endpoint, "/"),
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
		system:    system,
		client:    &http.Client{Timeout: 2 * time.Minute},
	}
	if cfg.APIKeyEnv != "" {
		s.apiKey = os.Getenv(cfg.APIKeyEnv)
	}
	if s.endpoint == "" {
		s.endpoint = def.Endpoint
	}
	if s.model == "" {
		s.model = def.Model
	}
	if s.maxTokens <= 0 {
		s.maxTokens = def.MaxTokens
	}
	return s
}

// Available reports whether an API key is configured.
func (s *AnthropicSynthesizer) Available() bool {
	return s.apiKey != ""
}

// Synthesize sends the evidence and question as a single user message.
func (s *AnthropicSynthesizer) Synthesize(ctx context.Context, question, evidence string) (string, error) {
	if !s.Available() {
		return "", ErrSynthesisUnavailable
	}

	body, err := json.Marshal(messagesRequest{
		Model:     s.model,
		MaxTokens: s.maxTokens,
		System:    s.system,
		Messages:  []message{{Role: "user", Content: userPrompt(question, evidence)}},
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", s.apiKey)
	req.Header.Set("anthropic-version", anthropicVersion)

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return "", fmt.Errorf("anthropic error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var out messagesResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}

	var text strings.Builder
	for _, block := range out.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return "", fmt.Errorf("anthropic response has no text content (stop reason %q)", out.StopReason)
	}
	return text.String(), nil
}

func userPrompt(question, evidence string) string {
	return "Here is data from an Nsight Systems profile analysis:\n\n" +
		evidence + "\n\n" +
		"Based on this data, answer the following question:\n" + question
}

type messagesRequest struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	System    string    `json:"system,omitempty"`
	Messages  []message `json:"messages"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesResponse struct {
	Model      string `json:"model"`
	StopReason string `json:"stop_reason"`
	Content    []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}
