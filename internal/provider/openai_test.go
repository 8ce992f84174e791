package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestOpenAIProviderSendsJSONObjectFormat(t *testing.T) {
	t.Parallel()

	var captured map[string]any
	var authHeader string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		authHeader = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"model":"m-1","choices":[{"message":{"content":" {\"summary\":\"ok\"} "}}]}`))
	}))
	defer server.Close()

	p := NewOpenAIProvider("Primary", server.URL, "m-1", "sk-test", server.Client())
	resp, err := p.Complete(context.Background(), CompletionRequest{
		SystemPrompt: "system",
		Prompt:       "hello",
		Format:       FormatJSONObject,
	})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if resp.Text != `{"summary":"ok"}` {
		t.Fatalf("unexpected text: %q", resp.Text)
	}
	if resp.Provider != "primary" {
		t.Fatalf("unexpected provider: got %q want %q", resp.Provider, "primary")
	}
	if authHeader != "Bearer sk-test" {
		t.Fatalf("unexpected authorization header: %q", authHeader)
	}
	format, ok := captured["response_format"].(map[string]any)
	if !ok {
		t.Fatalf("missing response_format in %v", captured)
	}
	if format["type"] != "json_object" {
		t.Fatalf("unexpected response_format type: %v", format["type"])
	}
	messages, _ := captured["messages"].([]any)
	if len(messages) != 2 {
		t.Fatalf("unexpected message count: got %d want 2", len(messages))
	}
}

func TestOpenAIProviderOmitsFormatWhenOff(t *testing.T) {
	t.Parallel()

	var captured map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&captured)
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"summary: ok"}}]}`))
	}))
	defer server.Close()

	p := NewOpenAIProvider("plain", server.URL+"/v1", "m", "", server.Client())
	resp, err := p.Complete(context.Background(), CompletionRequest{Prompt: "hello", Format: FormatOff})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if _, exists := captured["response_format"]; exists {
		t.Fatalf("expected response_format to be omitted, got %v", captured["response_format"])
	}
	if resp.Model != "m" {
		t.Fatalf("unexpected model fallback: %q", resp.Model)
	}
}

func TestOpenAIProviderSendsJSONSchema(t *testing.T) {
	t.Parallel()

	var captured struct {
		ResponseFormat struct {
			Type       string `json:"type"`
			JSONSchema struct {
				Name   string          `json:"name"`
				Strict bool            `json:"strict"`
				Schema json.RawMessage `json:"schema"`
			} `json:"json_schema"`
		} `json:"response_format"`
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&captured)
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"{}"}}]}`))
	}))
	defer server.Close()

	p := NewOpenAIProvider("schema", server.URL, "m", "", server.Client())
	_, err := p.Complete(context.Background(), CompletionRequest{
		Prompt:     "hello",
		Format:     FormatJSONSchema,
		Schema:     json.RawMessage(`{"type":"object"}`),
		SchemaName: "news_annotation",
	})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if captured.ResponseFormat.Type != "json_schema" || captured.ResponseFormat.JSONSchema.Name != "news_annotation" || !captured.ResponseFormat.JSONSchema.Strict {
		t.Fatalf("unexpected response_format: %+v", captured.ResponseFormat)
	}
	if string(captured.ResponseFormat.JSONSchema.Schema) != `{"type":"object"}` {
		t.Fatalf("unexpected schema: %s", captured.ResponseFormat.JSONSchema.Schema)
	}
}

func TestOpenAIProviderClassifiesStatusCodes(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		status   int
		body     string
		kind     error
		code     string
		retrying bool
	}{
		{name: "rate limited", status: 429, body: `{"error":{"message":"slow down"}}`, kind: ErrRateLimited, code: "http_429", retrying: true},
		{name: "unavailable", status: 503, body: "upstream down", kind: ErrUnavailable, code: "http_503", retrying: true},
		{name: "format", status: 400, body: `{"error":{"message":"Invalid value","param":"response_format"}}`, kind: ErrUnsupportedFormat, code: CodeUnsupportedFormat},
		{name: "auth", status: 401, body: `{"error":{"message":"bad key"}}`, kind: ErrRejected, code: "http_401"},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer server.Close()

			p := NewOpenAIProvider("p", server.URL, "m", "", server.Client())
			_, err := p.Complete(context.Background(), CompletionRequest{Prompt: "x", Format: FormatJSONObject})
			if !errors.Is(err, tc.kind) {
				t.Fatalf("unexpected error kind: got %v want %v", err, tc.kind)
			}
			if got := ErrorCode(err); got != tc.code {
				t.Fatalf("unexpected code: got %q want %q", got, tc.code)
			}
			if got := IsRetryable(err); got != tc.retrying {
				t.Fatalf("unexpected retryable: got %v want %v", got, tc.retrying)
			}
		})
	}
}

func TestOpenAIProviderBoundsResponseSize(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat("x", 4096)))
	}))
	defer server.Close()

	p := NewOpenAIProvider("p", server.URL, "m", "", server.Client())
	_, err := p.Complete(context.Background(), CompletionRequest{Prompt: "x", MaxResponseBytes: 1024})
	if !errors.Is(err, ErrParse) {
		t.Fatalf("expected parse error, got %v", err)
	}
	if got := ErrorCode(err); got != CodeResponseTooLarge {
		t.Fatalf("unexpected code: got %q want %q", got, CodeResponseTooLarge)
	}
}

func TestOpenAIProviderTimeoutIsRetryable(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	p := NewOpenAIProvider("slow", server.URL, "m", "", server.Client())
	_, err := p.Complete(ctx, CompletionRequest{Prompt: "x"})
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}
	if got := ErrorCode(err); got != CodeTimeout {
		t.Fatalf("unexpected code: got %q want %q", got, CodeTimeout)
	}
}

func TestChatCompletionsURL(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"":                                   "http://127.0.0.1:8845/v1/chat/completions",
		"localhost:9000":                     "http://localhost:9000/v1/chat/completions",
		"https://api.example.com/v1/":        "https://api.example.com/v1/chat/completions",
		"https://x.test/v1/chat/completions": "https://x.test/v1/chat/completions",
		"https://x.test/v1beta/openai":       "https://x.test/v1beta/openai/chat/completions",
	}
	for raw, want := range cases {
		if got := chatCompletionsURL(normalizeEndpoint(raw)); got != want {
			t.Fatalf("unexpected url for %q: got %q want %q", raw, got, want)
		}
	}
}
