package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// FormatMode controls how a completion is asked to shape its answer.
type FormatMode string

const (
	FormatJSONObject FormatMode = "json_object"
	FormatJSONSchema FormatMode = "json_schema"
	FormatOff        FormatMode = "off"
)

func ParseFormatMode(raw string) (FormatMode, error) {
	switch FormatMode(strings.ToLower(strings.TrimSpace(raw))) {
	case FormatJSONObject:
		return FormatJSONObject, nil
	case FormatJSONSchema:
		return FormatJSONSchema, nil
	case FormatOff, "none", "text":
		return FormatOff, nil
	default:
		return "", fmt.Errorf("unsupported response format %q", raw)
	}
}

// Structured reports whether the mode expects a JSON payload.
func (m FormatMode) Structured() bool {
	return m == FormatJSONObject || m == FormatJSONSchema
}

// Kind selects the adapter used to talk to an endpoint.
type Kind string

const (
	KindOpenAI Kind = "openai"
	KindGemini Kind = "gemini"
)

func ParseKind(raw string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(raw))) {
	case "", KindOpenAI, "openai_compatible", "local":
		return KindOpenAI, nil
	case KindGemini:
		return KindGemini, nil
	default:
		return "", fmt.Errorf("unsupported provider kind %q", raw)
	}
}

// Config describes one completion endpoint. CredentialRef is a logical secret
// name resolved through a SecretSource, never the secret itself.
type Config struct {
	Name          string `json:"name" yaml:"name"`
	Kind          string `json:"kind,omitempty" yaml:"kind,omitempty"`
	Endpoint      string `json:"endpoint" yaml:"endpoint"`
	Model         string `json:"model" yaml:"model"`
	Priority      int    `json:"priority" yaml:"priority"`
	Weight        int    `json:"weight,omitempty" yaml:"weight,omitempty"`
	Enabled       bool   `json:"enabled" yaml:"enabled"`
	CredentialRef string `json:"credential_ref,omitempty" yaml:"credential_ref,omitempty"`
}

// Validate checks the fields a registry needs to build an adapter.
func (c Config) Validate() error {
	if NormalizeName(c.Name) == "" {
		return fmt.Errorf("provider name is required")
	}
	if _, err := ParseKind(c.Kind); err != nil {
		return fmt.Errorf("provider %q: %w", c.Name, err)
	}
	if strings.TrimSpace(c.Model) == "" {
		return fmt.Errorf("provider %q: model is required", c.Name)
	}
	if c.Weight < 0 {
		return fmt.Errorf("provider %q: weight must be >= 0", c.Name)
	}
	return nil
}

type CompletionRequest struct {
	SystemPrompt string
	Prompt       string
	Format       FormatMode
	// Schema is the JSON Schema sent with FormatJSONSchema.
	Schema     json.RawMessage
	SchemaName string
	// MaxResponseBytes bounds how much of the response body is read.
	MaxResponseBytes int64
}

type CompletionResponse struct {
	Text       string
	Provider   string
	Model      string
	StatusCode int
	LatencyMs  int64
}

// Provider is a completion endpoint.
type Provider interface {
	Name() string
	Endpoint() string
	Model() string
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}

func NormalizeName(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}
