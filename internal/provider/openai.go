package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"horse.fit/newsai/internal/globaltime"
)

const (
	// DefaultOpenAIEndpoint points to a local OpenAI-compatible server.
	DefaultOpenAIEndpoint = "http://127.0.0.1:8845/v1"
	// DefaultMaxResponseBytes bounds response bodies when a request sets no limit.
	DefaultMaxResponseBytes = 1 << 20
)

// OpenAIProvider calls an OpenAI-compatible chat completions endpoint.
type OpenAIProvider struct {
	name        string
	endpointURL string
	model       string
	apiKey      string
	client      *http.Client
}

// NewOpenAIProvider builds an adapter. A nil client falls back to a client
// without its own timeout; callers bound each call with a context deadline.
func NewOpenAIProvider(name, endpoint, model, apiKey string, client *http.Client) *OpenAIProvider {
	if client == nil {
		client = &http.Client{}
	}
	return &OpenAIProvider{
		name:        NormalizeName(name),
		endpointURL: chatCompletionsURL(normalizeEndpoint(endpoint)),
		model:       strings.TrimSpace(model),
		apiKey:      strings.TrimSpace(apiKey),
		client:      client,
	}
}

func (p *OpenAIProvider) Name() string {
	return p.name
}

func (p *OpenAIProvider) Endpoint() string {
	return p.endpointURL
}

func (p *OpenAIProvider) Model() string {
	return p.model
}

func (p *OpenAIProvider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	if p == nil {
		return nil, fmt.Errorf("openai provider is nil")
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, fmt.Errorf("prompt is required")
	}

	payload := chatRequest{
		Model:       p.model,
		Temperature: 0.2,
	}
	if system := strings.TrimSpace(req.SystemPrompt); system != "" {
		payload.Messages = append(payload.Messages, chatMessage{Role: "system", Content: system})
	}
	payload.Messages = append(payload.Messages, chatMessage{Role: "user", Content: req.Prompt})

	switch req.Format {
	case FormatJSONObject:
		payload.ResponseFormat = &chatResponseFormat{Type: string(FormatJSONObject)}
	case FormatJSONSchema:
		name := strings.TrimSpace(req.SchemaName)
		if name == "" {
			name = "response"
		}
		payload.ResponseFormat = &chatResponseFormat{
			Type: string(FormatJSONSchema),
			JSONSchema: &chatJSONSchema{
				Name:   name,
				Schema: req.Schema,
				Strict: true,
			},
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal completion request: %w", err)
	}

	started := globaltime.Now()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpointURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build completion request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, ClassifyTransport(p.name, p.endpointURL, err)
	}
	defer resp.Body.Close()

	limit := req.MaxResponseBytes
	if limit <= 0 {
		limit = DefaultMaxResponseBytes
	}
	respBody, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, ClassifyTransport(p.name, p.endpointURL, fmt.Errorf("read completion response: %w", err))
	}
	if int64(len(respBody)) > limit {
		return nil, &Error{
			Kind:       ErrParse,
			Provider:   p.name,
			Endpoint:   p.endpointURL,
			StatusCode: resp.StatusCode,
			Code:       CodeResponseTooLarge,
			Message:    fmt.Sprintf("response exceeded %d bytes", limit),
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		message := strings.TrimSpace(string(respBody))
		var errPayload chatErrorResponse
		if unmarshalErr := json.Unmarshal(respBody, &errPayload); unmarshalErr == nil {
			if msg := strings.TrimSpace(errPayload.Error.Message); msg != "" {
				message = msg
				if param := strings.TrimSpace(errPayload.Error.Param); param != "" {
					message = param + ": " + msg
				}
			}
		}
		return nil, ClassifyStatus(p.name, p.endpointURL, resp.StatusCode, message)
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, &Error{
			Kind:       ErrParse,
			Provider:   p.name,
			Endpoint:   p.endpointURL,
			StatusCode: resp.StatusCode,
			Code:       CodeParse,
			Message:    "decode completion envelope",
			Err:        err,
		}
	}
	if len(parsed.Choices) == 0 || strings.TrimSpace(parsed.Choices[0].Message.Content) == "" {
		return nil, &Error{
			Kind:       ErrParse,
			Provider:   p.name,
			Endpoint:   p.endpointURL,
			StatusCode: resp.StatusCode,
			Code:       CodeEmptyResponse,
			Message:    "completion had no content",
		}
	}

	model := strings.TrimSpace(parsed.Model)
	if model == "" {
		model = p.model
	}
	return &CompletionResponse{
		Text:       strings.TrimSpace(parsed.Choices[0].Message.Content),
		Provider:   p.name,
		Model:      model,
		StatusCode: resp.StatusCode,
		LatencyMs:  globaltime.Since(started).Milliseconds(),
	}, nil
}

type chatRequest struct {
	Model          string              `json:"model"`
	Messages       []chatMessage       `json:"messages"`
	Temperature    float64             `json:"temperature,omitempty"`
	ResponseFormat *chatResponseFormat `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponseFormat struct {
	Type       string          `json:"type"`
	JSONSchema *chatJSONSchema `json:"json_schema,omitempty"`
}

type chatJSONSchema struct {
	Name   string          `json:"name"`
	Schema json.RawMessage `json:"schema,omitempty"`
	Strict bool            `json:"strict"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type chatErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Param   string `json:"param"`
	} `json:"error"`
}

func normalizeEndpoint(raw string) string {
	endpoint := strings.TrimSpace(raw)
	if endpoint == "" {
		return DefaultOpenAIEndpoint
	}
	if !strings.Contains(endpoint, "://") {
		endpoint = "http://" + endpoint
	}

	parsed, err := url.Parse(endpoint)
	if err != nil || strings.TrimSpace(parsed.Host) == "" {
		return DefaultOpenAIEndpoint
	}
	parsed.Path = strings.TrimRight(parsed.Path, "/")
	if parsed.Path == "" {
		parsed.Path = "/v1"
	}
	return parsed.String()
}

func chatCompletionsURL(endpoint string) string {
	parsed, err := url.Parse(endpoint)
	if err != nil || strings.TrimSpace(parsed.Host) == "" {
		return DefaultOpenAIEndpoint + "/chat/completions"
	}

	path := strings.TrimRight(parsed.Path, "/")
	switch {
	case strings.HasSuffix(path, "/chat/completions"):
		parsed.Path = path
	case strings.HasSuffix(path, "/v1"):
		parsed.Path = path + "/chat/completions"
	default:
		parsed.Path = path + "/chat/completions"
	}
	return parsed.String()
}
