package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"horse.fit/newsai/internal/globaltime"
)

const defaultGeminiEndpoint = "generativelanguage.googleapis.com"

// GeminiProvider calls the Gemini API through the generative-ai-go client.
type GeminiProvider struct {
	name     string
	endpoint string
	model    string
	client   *genai.Client
}

func NewGeminiProvider(ctx context.Context, name, endpoint, model, apiKey string) (*GeminiProvider, error) {
	endpoint = strings.TrimSpace(endpoint)
	opts := []option.ClientOption{option.WithAPIKey(strings.TrimSpace(apiKey))}
	if endpoint != "" {
		opts = append(opts, option.WithEndpoint(endpoint))
	} else {
		endpoint = defaultGeminiEndpoint
	}

	client, err := genai.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create gemini client for %s: %w", name, err)
	}
	return &GeminiProvider{
		name:     NormalizeName(name),
		endpoint: endpoint,
		model:    strings.TrimSpace(model),
		client:   client,
	}, nil
}

func (p *GeminiProvider) Name() string {
	return p.name
}

func (p *GeminiProvider) Endpoint() string {
	return p.endpoint
}

func (p *GeminiProvider) Model() string {
	return p.model
}

func (p *GeminiProvider) Close() error {
	if p == nil || p.client == nil {
		return nil
	}
	return p.client.Close()
}

func (p *GeminiProvider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	if p == nil || p.client == nil {
		return nil, fmt.Errorf("gemini provider is not initialized")
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, fmt.Errorf("prompt is required")
	}

	model := p.client.GenerativeModel(p.model)
	model.SetTemperature(0.2)
	if system := strings.TrimSpace(req.SystemPrompt); system != "" {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(system)}}
	}
	switch req.Format {
	case FormatJSONObject:
		model.ResponseMIMEType = "application/json"
	case FormatJSONSchema:
		model.ResponseMIMEType = "application/json"
		schema, err := GeminiSchema(req.Schema)
		if err != nil {
			return nil, &Error{
				Kind:     ErrUnsupportedFormat,
				Provider: p.name,
				Endpoint: p.endpoint,
				Code:     CodeUnsupportedFormat,
				Message:  "schema cannot be expressed for gemini",
				Err:      err,
			}
		}
		model.ResponseSchema = schema
	}

	started := globaltime.Now()
	resp, err := model.GenerateContent(ctx, genai.Text(req.Prompt))
	if err != nil {
		return nil, p.classify(err)
	}

	var b strings.Builder
	if resp != nil {
		for _, candidate := range resp.Candidates {
			if candidate == nil || candidate.Content == nil {
				continue
			}
			for _, part := range candidate.Content.Parts {
				if text, ok := part.(genai.Text); ok {
					b.WriteString(string(text))
				}
			}
			break
		}
	}
	text := strings.TrimSpace(b.String())
	if text == "" {
		return nil, &Error{
			Kind:     ErrParse,
			Provider: p.name,
			Endpoint: p.endpoint,
			Code:     CodeEmptyResponse,
			Message:  "completion had no text parts",
		}
	}
	limit := req.MaxResponseBytes
	if limit <= 0 {
		limit = DefaultMaxResponseBytes
	}
	if int64(len(text)) > limit {
		return nil, &Error{
			Kind:     ErrParse,
			Provider: p.name,
			Endpoint: p.endpoint,
			Code:     CodeResponseTooLarge,
			Message:  fmt.Sprintf("response exceeded %d bytes", limit),
		}
	}

	return &CompletionResponse{
		Text:       text,
		Provider:   p.name,
		Model:      p.model,
		StatusCode: http.StatusOK,
		LatencyMs:  globaltime.Since(started).Milliseconds(),
	}, nil
}

func (p *GeminiProvider) classify(err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		perr := ClassifyStatus(p.name, p.endpoint, apiErr.Code, apiErr.Message)
		perr.Err = err
		return perr
	}
	var coded interface{ HTTPCode() int }
	if errors.As(err, &coded) && coded.HTTPCode() > 0 {
		perr := ClassifyStatus(p.name, p.endpoint, coded.HTTPCode(), err.Error())
		perr.Err = err
		return perr
	}
	var blocked *genai.BlockedError
	if errors.As(err, &blocked) {
		return &Error{
			Kind:     ErrRejected,
			Provider: p.name,
			Endpoint: p.endpoint,
			Code:     "blocked",
			Message:  truncateMessage(blocked.Error()),
			Err:      err,
		}
	}
	return ClassifyTransport(p.name, p.endpoint, err)
}

// GeminiSchema converts the subset of JSON Schema used for completions
// (type, properties, items, required, enum, description) into a genai.Schema.
func GeminiSchema(raw json.RawMessage) (*genai.Schema, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var node jsonSchemaNode
	if err := json.Unmarshal(raw, &node); err != nil {
		return nil, fmt.Errorf("decode json schema: %w", err)
	}
	return node.toGenai()
}

type jsonSchemaNode struct {
	Type        any                        `json:"type"`
	Description string                     `json:"description"`
	Properties  map[string]*jsonSchemaNode `json:"properties"`
	Items       *jsonSchemaNode            `json:"items"`
	Required    []string                   `json:"required"`
	Enum        []string                   `json:"enum"`
}

func (n *jsonSchemaNode) toGenai() (*genai.Schema, error) {
	if n == nil {
		return nil, nil
	}
	typeName, nullable := schemaTypeName(n.Type)
	out := &genai.Schema{
		Description: n.Description,
		Enum:        n.Enum,
		Required:    n.Required,
		Nullable:    nullable,
	}
	switch typeName {
	case "object":
		out.Type = genai.TypeObject
	case "array":
		out.Type = genai.TypeArray
	case "string":
		out.Type = genai.TypeString
	case "integer":
		out.Type = genai.TypeInteger
	case "number":
		out.Type = genai.TypeNumber
	case "boolean":
		out.Type = genai.TypeBoolean
	default:
		return nil, fmt.Errorf("unsupported schema type %v", n.Type)
	}
	if len(n.Properties) > 0 {
		out.Properties = make(map[string]*genai.Schema, len(n.Properties))
		for key, child := range n.Properties {
			converted, err := child.toGenai()
			if err != nil {
				return nil, fmt.Errorf("property %s: %w", key, err)
			}
			out.Properties[key] = converted
		}
	}
	if n.Items != nil {
		items, err := n.Items.toGenai()
		if err != nil {
			return nil, fmt.Errorf("items: %w", err)
		}
		out.Items = items
	}
	return out, nil
}

func schemaTypeName(raw any) (string, bool) {
	switch typed := raw.(type) {
	case string:
		return typed, false
	case []any:
		name := ""
		nullable := false
		for _, entry := range typed {
			value, _ := entry.(string)
			if value == "null" {
				nullable = true
				continue
			}
			if name == "" {
				name = value
			}
		}
		return name, nullable
	default:
		return "", false
	}
}
