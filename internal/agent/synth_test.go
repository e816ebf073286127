package agent

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GindaChen/nsys-tui/internal/config"
	"github.com/GindaChen/nsys-tui/internal/skills"
)

const testKeyEnv = "NSYS_AI_TEST_API_KEY"

func TestNullSynthesizer(t *testing.T) {
	var s Synthesizer = NullSynthesizer{}
	assert.False(t, s.Available())

	_, err := s.Synthesize(context.Background(), "q", "e")
	assert.ErrorIs(t, err, ErrSynthesisUnavailable)
}

func TestAnthropicSynthesizer_Unavailable(t *testing.T) {
	t.Setenv(testKeyEnv, "")
	s := NewAnthropicSynthesizer(config.SynthesisConfig{APIKeyEnv: testKeyEnv}, "system")
	assert.False(t, s.Available())

	_, err := s.Synthesize(context.Background(), "q", "e")
	assert.ErrorIs(t, err, ErrSynthesisUnavailable)

	s = NewAnthropicSynthesizer(config.SynthesisConfig{}, "system")
	assert.False(t, s.Available())
}

func TestAnthropicSynthesizer_Synthesize(t *testing.T) {
	var got messagesRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("x-api-key"))
		assert.Equal(t, "2023-06-01", r.Header.Get("anthropic-version"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"model":"m","stop_reason":"end_turn","content":[` +
			`{"type":"text","text":"## Summary\n"},` +
			`{"type":"tool_use","id":"x"},` +
			`{"type":"text","text":"GPU idle 40% of the step."}]}`))
	}))
	defer srv.Close()

	t.Setenv(testKeyEnv, "secret")
	s := NewAnthropicSynthesizer(config.SynthesisConfig{
		APIKeyEnv: testKeyEnv,
		Endpoint:  srv.URL + "/",
		Model:     "test-model",
		MaxTokens: 512,
	}, "you are a profiler")
	require.True(t, s.Available())

	answer, err := s.Synthesize(context.Background(), "why idle?", "── GPU Idle Gaps ──\n7  5.000")
	require.NoError(t, err)
	assert.Equal(t, "## Summary\nGPU idle 40% of the step.", answer)

	assert.Equal(t, "test-model", got.Model)
	assert.Equal(t, 512, got.MaxTokens)
	assert.Equal(t, "you are a profiler", got.System)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, "user", got.Messages[0].Role)
	assert.Equal(t,
		"Here is data from an Nsight Systems profile analysis:\n\n── GPU Idle Gaps ──\n7  5.000\n\n"+
			"Based on this data, answer the following question:\nwhy idle?",
		got.Messages[0].Content)
}

func TestAnthropicSynthesizer_Defaults(t *testing.T) {
	t.Setenv(testKeyEnv, "secret")
	s := NewAnthropicSynthesizer(config.SynthesisConfig{APIKeyEnv: testKeyEnv}, "")

	def := config.DefaultConfig().Synthesis
	assert.Equal(t, def.Endpoint, s.endpoint)
	assert.Equal(t, def.Model, s.model)
	assert.Equal(t, def.MaxTokens, s.maxTokens)
}

func TestAnthropicSynthesizer_Errors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr string
	}{
		{
			name:    "api error",
			status:  http.StatusTooManyRequests,
			body:    `{"type":"error","error":{"type":"rate_limit_error"}}`,
			wantErr: "status 429",
		},
		{name: "bad json", status: http.StatusOK, body: `{`, wantErr: "decode response"},
		{
			name:    "no text",
			status:  http.StatusOK,
			body:    `{"stop_reason":"max_tokens","content":[]}`,
			wantErr: "no text content",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			t.Setenv(testKeyEnv, "secret")
			s := NewAnthropicSynthesizer(config.SynthesisConfig{APIKeyEnv: testKeyEnv, Endpoint: srv.URL}, "")

			_, err := s.Synthesize(context.Background(), "q", "e")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestSystemPrompt(t *testing.T) {
	reg, err := skills.NewRegistry()
	require.NoError(t, err)

	prompt := SystemPrompt(reg.Catalog())

	assert.True(t, strings.HasPrefix(prompt, "# Identity"))
	assert.Contains(t, prompt, "## Available Skills\n\n[gpu_idle_gaps]")
	assert.NotContains(t, prompt, catalogMarker)
	for _, name := range reg.List() {
		assert.Contains(t, prompt, "["+name+"]")
	}
	assert.Less(t, strings.Index(prompt, "# Root Cause Reference"), strings.Index(prompt, "## Available Skills"))
	assert.Less(t, strings.Index(prompt, "## Available Skills"), strings.Index(prompt, "# Output Format"))
}
