package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

// mockProvider is a test implementation of Provider
type mockProvider struct {
	name     string
	response *Response
	err      error
	calls    atomic.Int32
}

func (m *mockProvider) Name() string {
	return m.name
}

func (m *mockProvider) Generate(ctx context.Context, req *Request) (*Response, error) {
	m.calls.Add(1)
	if m.err != nil {
		return nil, m.err
	}
	return m.response, nil
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	r := NewRegistry()
	p := &mockProvider{name: "test"}
	r.Register("test", p)

	tests := []struct {
		name    string
		key     string
		wantErr bool
	}{
		{"existing provider", "test", false},
		{"non-existing provider", "nonexistent", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.Get(tt.key)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Get() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && !errors.Is(err, ErrProviderNotFound) {
				t.Errorf("Get() error = %v, want ErrProviderNotFound", err)
			}
			if !tt.wantErr && got != p {
				t.Error("Get() returned different provider")
			}
		})
	}
}

func TestRegistry_Default(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Default(); !errors.Is(err, ErrNoDefaultProvider) {
		t.Fatalf("Default() on empty registry error = %v", err)
	}

	gemini := &mockProvider{name: "gemini"}
	ollama := &mockProvider{name: "ollama"}
	r.Register("gemini", gemini)
	r.Register("ollama", ollama)

	got, err := r.Default()
	if err != nil || got != gemini {
		t.Errorf("auto Default() = %v, %v; want first registered", got, err)
	}

	if err := r.SetDefault("ollama"); err != nil {
		t.Fatalf("SetDefault() error = %v", err)
	}
	if got, _ := r.Default(); got != ollama {
		t.Error("Default() did not honor SetDefault")
	}
	if err := r.SetDefault("missing"); err == nil {
		t.Error("SetDefault(missing) error = nil")
	}
	if err := r.SetDefault("auto"); err != nil {
		t.Errorf("SetDefault(auto) error = %v", err)
	}
	if got := r.List(); len(got) != 2 || got[0] != "gemini" || got[1] != "ollama" {
		t.Errorf("List() = %v", got)
	}
}

func TestGeminiProvider_Generate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("Method = %v, want POST", r.Method)
		}
		if r.URL.Path != "/v1beta/models/gemini-2.5-flash:generateContent" {
			t.Errorf("Path = %v", r.URL.Path)
		}
		if r.Header.Get("x-goog-api-key") != "test-key" {
			t.Errorf("x-goog-api-key = %v", r.Header.Get("x-goog-api-key"))
		}

		var req geminiRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.SystemInstruction == nil || req.SystemInstruction.Parts[0].Text != "be kind" {
			t.Errorf("SystemInstruction = %+v", req.SystemInstruction)
		}
		if len(req.Contents) != 2 || req.Contents[1].Role != "model" {
			t.Errorf("Contents = %+v", req.Contents)
		}

		w.Write([]byte(`{
			"candidates": [{"content": {"role": "model", "parts": [{"text": "Think about "}, {"text": "elif."}]}, "finishReason": "STOP"}],
			"usageMetadata": {"promptTokenCount": 12, "candidatesTokenCount": 4}
		}`))
	}))
	defer server.Close()

	p := NewGeminiProvider(GeminiConfig{APIKey: "test-key", BaseURL: server.URL})

	got, err := p.Generate(context.Background(), &Request{
		System: "be kind",
		Messages: []Message{
			{Role: RoleUser, Content: "Hello"},
			{Role: RoleAssistant, Content: "Hi"},
		},
	})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if got.Content != "Think about elif." {
		t.Errorf("Content = %q", got.Content)
	}
	if got.FinishReason != "STOP" || got.Usage.InputTokens != 12 || got.Usage.OutputTokens != 4 {
		t.Errorf("Response = %+v", got)
	}
}

func TestGeminiProvider_BlockedPrompt(t *testing.T) {
	p := NewGeminiProvider(GeminiConfig{APIKey: "k"})
	resp := &geminiResponse{}
	resp.PromptFeedback = &struct {
		BlockReason string `json:"blockReason"`
	}{BlockReason: "SAFETY"}

	got := p.parseResponse(resp)
	if got.Content != "" || got.FinishReason != "SAFETY" {
		t.Errorf("parseResponse() = %+v", got)
	}
}

func TestProviders_HTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"error": "overloaded"}`))
	}))
	defer server.Close()

	providers := []Provider{
		NewGeminiProvider(GeminiConfig{APIKey: "k", BaseURL: server.URL}),
		NewClaudeProvider(ClaudeConfig{APIKey: "k", BaseURL: server.URL}),
		NewOllamaProvider(OllamaConfig{BaseURL: server.URL}),
	}

	for _, p := range providers {
		t.Run(p.Name(), func(t *testing.T) {
			_, err := p.Generate(context.Background(), &Request{Messages: []Message{{Role: RoleUser, Content: "hi"}}})
			var apiErr *APIError
			if !errors.As(err, &apiErr) {
				t.Fatalf("Generate() error = %v, want *APIError", err)
			}
			if apiErr.StatusCode != http.StatusServiceUnavailable {
				t.Errorf("StatusCode = %d", apiErr.StatusCode)
			}
			if !strings.Contains(err.Error(), "503") {
				t.Errorf("error should contain status code, got: %v", err)
			}
		})
	}
}

func TestClaudeProvider_Generate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("Path = %v, want /v1/messages", r.URL.Path)
		}
		if r.Header.Get("x-api-key") != "test-key" {
			t.Errorf("x-api-key = %v, want test-key", r.Header.Get("x-api-key"))
		}
		if r.Header.Get("anthropic-version") != "2023-06-01" {
			t.Errorf("anthropic-version = %v", r.Header.Get("anthropic-version"))
		}

		var req claudeRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.System != "sys" || len(req.Messages) != 1 {
			t.Errorf("request = %+v", req)
		}

		w.Write([]byte(`{"content": [{"type": "text", "text": "Hello from Claude!"}], "stop_reason": "end_turn", "usage": {"input_tokens": 10, "output_tokens": 5}}`))
	}))
	defer server.Close()

	p := NewClaudeProvider(ClaudeConfig{APIKey: "test-key", BaseURL: server.URL})
	got, err := p.Generate(context.Background(), &Request{
		Messages: []Message{{Role: RoleSystem, Content: "sys"}, {Role: RoleUser, Content: "Hello"}},
	})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if got.Content != "Hello from Claude!" || got.Usage.OutputTokens != 5 {
		t.Errorf("Response = %+v", got)
	}
}

func TestOllamaProvider_Generate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("Path = %v, want /api/chat", r.URL.Path)
		}
		var req ollamaRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.Stream {
			t.Error("Stream should be false")
		}
		if len(req.Messages) != 2 || req.Messages[0].Role != "system" {
			t.Errorf("Messages = %+v", req.Messages)
		}
		w.Write([]byte(`{"model": "llama3.2", "message": {"role": "assistant", "content": "local hint"}, "done": true, "eval_count": 3, "prompt_eval_count": 7}`))
	}))
	defer server.Close()

	p := NewOllamaProvider(OllamaConfig{BaseURL: server.URL})
	got, err := p.Generate(context.Background(), &Request{
		System:   "sys",
		Messages: []Message{{Role: RoleUser, Content: "Hello"}},
	})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if got.Content != "local hint" || got.FinishReason != "stop" || got.Usage.InputTokens != 7 {
		t.Errorf("Response = %+v", got)
	}
}

func TestProviders_ContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// The server only notices a client disconnect once the body is read.
		_, _ = io.Copy(io.Discard, r.Body)
		<-r.Context().Done()
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	p := NewGeminiProvider(GeminiConfig{APIKey: "k", BaseURL: server.URL})
	if _, err := p.Generate(ctx, &Request{}); err == nil {
		t.Error("Generate() error = nil, want context error")
	}
}

func TestResilientProvider_Generate_Success(t *testing.T) {
	p := &mockProvider{name: "test", response: &Response{Content: "Hello from resilient!"}}

	rp := NewResilientProvider(p, ResilientConfig{
		EnableRetry:    true,
		EnableBulkhead: true,
		MaxConcurrent:  2,
		InitialDelay:   time.Millisecond,
	})
	defer rp.Close()

	resp, err := rp.Generate(context.Background(), &Request{})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if resp.Content != "Hello from resilient!" {
		t.Errorf("Content = %v", resp.Content)
	}
	if rp.Name() != "test" {
		t.Errorf("Name() = %v", rp.Name())
	}
}

// flakyProvider fails with the given errors before succeeding.
type flakyProvider struct {
	failures []error
	calls    atomic.Int32
}

func (f *flakyProvider) Name() string { return "flaky" }

func (f *flakyProvider) Generate(ctx context.Context, req *Request) (*Response, error) {
	n := int(f.calls.Add(1))
	if n <= len(f.failures) {
		return nil, f.failures[n-1]
	}
	return &Response{Content: fmt.Sprintf("ok after %d", n)}, nil
}

func TestResilientProvider_RetriesTransientErrors(t *testing.T) {
	p := &flakyProvider{failures: []error{&APIError{StatusCode: http.StatusServiceUnavailable}}}
	rp := NewResilientProvider(p, ResilientConfig{EnableRetry: true, MaxAttempts: 3, InitialDelay: time.Millisecond})

	resp, err := rp.Generate(context.Background(), &Request{})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if resp.Content != "ok after 2" {
		t.Errorf("Content = %q", resp.Content)
	}
}

func TestResilientProvider_DoesNotRetryClientErrors(t *testing.T) {
	p := &flakyProvider{failures: []error{&APIError{StatusCode: http.StatusBadRequest}, &APIError{StatusCode: http.StatusBadRequest}}}
	rp := NewResilientProvider(p, ResilientConfig{EnableRetry: true, MaxAttempts: 3, InitialDelay: time.Millisecond})

	if _, err := rp.Generate(context.Background(), &Request{}); err == nil {
		t.Fatal("Generate() error = nil")
	}
	if got := p.calls.Load(); got != 1 {
		t.Errorf("calls = %d, want 1", got)
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"429", &APIError{StatusCode: 429}, true},
		{"500", &APIError{StatusCode: 500}, true},
		{"503 wrapped", fmt.Errorf("generate: %w", &APIError{StatusCode: 503}), true},
		{"400", &APIError{StatusCode: 400}, false},
		{"401", &APIError{StatusCode: 401}, false},
		{"plain", errors.New("status 503"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestHasCredentials(t *testing.T) {
	tests := []struct {
		name string
		p    Provider
		want bool
	}{
		{"nil", nil, false},
		{"gemini without key", NewGeminiProvider(GeminiConfig{}), false},
		{"gemini with key", NewGeminiProvider(GeminiConfig{APIKey: "k"}), true},
		{"claude without key", NewClaudeProvider(ClaudeConfig{}), false},
		{"ollama", NewOllamaProvider(OllamaConfig{}), true},
		{"resilient without key", NewResilientProvider(NewGeminiProvider(GeminiConfig{}), ResilientConfig{}), false},
		{"mock", &mockProvider{name: "m"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HasCredentials(tt.p); got != tt.want {
				t.Errorf("HasCredentials() = %v, want %v", got, tt.want)
			}
		})
	}
}
