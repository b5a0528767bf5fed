// Package llm is a small OpenRouter chat-completions client used for
// classification, structured extraction and image transcription.
package llm

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spherical-ai/finsight/internal/observability"
)

const (
	defaultBaseURL = "https://openrouter.ai/api/v1"
	defaultModel   = "google/gemini-2.5-flash"
)

// Completer is anything that can answer a prompt with text.
type Completer interface {
	Complete(ctx context.Context, prompt Prompt) (string, error)
}

// Config holds client configuration.
type Config struct {
	APIKey  string
	Model   string
	BaseURL string // Default: https://openrouter.ai/api/v1
	Timeout time.Duration
	Retry   RetryConfig
}

// Client handles communication with the OpenRouter API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
	retry      RetryConfig
	logger     *observability.Logger
}

// Message represents a chat message
type Message struct {
	Role    string        `json:"role"`
	Content []ContentPart `json:"content"`
}

// ContentPart represents a part of message content (text or image)
type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// ImageURL represents an image URL in the message
type ImageURL struct {
	URL string `json:"url"`
}

// ResponseFormat asks the model for a particular output encoding.
type ResponseFormat struct {
	Type string `json:"type"`
}

// Request represents the API request structure
type Request struct {
	Model          string          `json:"model"`
	Messages       []Message       `json:"messages"`
	Stream         bool            `json:"stream"`
	Temperature    *float64        `json:"temperature,omitempty"`
	ResponseFormat *ResponseFormat `json:"response_format,omitempty"`
}

// Response represents the API response structure
type Response struct {
	ID      string    `json:"id"`
	Choices []Choice  `json:"choices"`
	Error   *APIError `json:"error,omitempty"`
}

// Choice represents a single completion choice
type Choice struct {
	Message      Delta  `json:"message"`
	FinishReason string `json:"finish_reason"`
}

// Delta is the assistant message of a choice.
type Delta struct {
	Content string `json:"content"`
	Role    string `json:"role"`
}

// Image is an inline image attached to a prompt.
type Image struct {
	MimeType string
	Data     []byte
}

// DataURL encodes the image as a base64 data URL.
func (i Image) DataURL() string {
	mime := i.MimeType
	if mime == "" {
		mime = "image/jpeg"
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(i.Data)
}

// Prompt is one completion request.
type Prompt struct {
	System      string
	User        string
	Images      []Image
	Temperature *float64
	JSON        bool
}

// NewClient creates a new client.
func NewClient(cfg Config, logger *observability.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	if logger == nil {
		logger = observability.NopLogger()
	}

	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		retry:      cfg.Retry.withDefaults(),
		logger:     logger,
	}, nil
}

// Model returns the configured model name.
func (c *Client) Model() string {
	return c.model
}

// Complete sends prompt and returns the first choice's content.
func (c *Client) Complete(ctx context.Context, prompt Prompt) (string, error) {
	body, err := json.Marshal(c.buildRequest(prompt))
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	resp, err := c.send(ctx, func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
		if err != nil {
			return nil, err
		}

		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		req.Header.Set("HTTP-Referer", "https://spherical.ai")
		req.Header.Set("X-Title", "Finsight Document Worker")

		return c.httpClient.Do(req)
	})
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var errResp Response
		if err := json.Unmarshal(data, &errResp); err == nil && errResp.Error != nil {
			errResp.Error.StatusCode = resp.StatusCode
			return "", errResp.Error
		}
		return "", &APIError{StatusCode: resp.StatusCode, Message: string(data)}
	}

	var out Response
	if err := json.Unmarshal(data, &out); err != nil {
		return "", fmt.Errorf("unmarshal response: %w", err)
	}
	if out.Error != nil {
		return "", out.Error
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("no choices returned")
	}

	return out.Choices[0].Message.Content, nil
}

// CompleteJSON sends prompt in JSON mode and decodes the answer into v.
func (c *Client) CompleteJSON(ctx context.Context, prompt Prompt, v any) error {
	prompt.JSON = true
	return DecodeJSON(ctx, c, prompt, v)
}

// DecodeJSON asks completer for a JSON answer and decodes it into v,
// tolerating markdown code fences around the payload.
func DecodeJSON(ctx context.Context, completer Completer, prompt Prompt, v any) error {
	text, err := completer.Complete(ctx, prompt)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(ExtractJSON(text)), v); err != nil {
		return fmt.Errorf("decode model output: %w", err)
	}
	return nil
}

func (c *Client) buildRequest(prompt Prompt) *Request {
	var messages []Message
	if prompt.System != "" {
		messages = append(messages, Message{
			Role:    "system",
			Content: []ContentPart{{Type: "text", Text: prompt.System}},
		})
	}

	user := Message{Role: "user"}
	if prompt.User != "" {
		user.Content = append(user.Content, ContentPart{Type: "text", Text: prompt.User})
	}
	for _, img := range prompt.Images {
		user.Content = append(user.Content, ContentPart{
			Type:     "image_url",
			ImageURL: &ImageURL{URL: img.DataURL()},
		})
	}
	messages = append(messages, user)

	req := &Request{
		Model:       c.model,
		Messages:    messages,
		Temperature: prompt.Temperature,
	}
	if prompt.JSON {
		req.ResponseFormat = &ResponseFormat{Type: "json_object"}
	}
	return req
}

// ExtractJSON returns the JSON object or array embedded in s, stripping
// markdown fences and surrounding prose.
func ExtractJSON(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
		if nl := strings.IndexByte(s, '\n'); nl >= 0 {
			s = s[nl+1:]
		}
		if end := strings.LastIndex(s, "```"); end >= 0 {
			s = s[:end]
		}
		s = strings.TrimSpace(s)
	}

	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return s
	}
	closer := byte('}')
	if s[start] == '[' {
		closer = ']'
	}
	end := strings.LastIndexByte(s, closer)
	if end < start {
		return s[start:]
	}
	return s[start : end+1]
}

// APIError is an error reported by the completion endpoint.
type APIError struct {
	StatusCode int    `json:"-"`
	Message    string `json:"message"`
	Type       string `json:"type,omitempty"`
	Code       any    `json:"code,omitempty"`
}

func (e *APIError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("API error %d: %s (type: %s)", e.StatusCode, e.Message, e.Type)
	}
	return fmt.Sprintf("API error %d: %s", e.StatusCode, e.Message)
}
