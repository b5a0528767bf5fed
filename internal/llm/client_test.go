package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetry() RetryConfig {
	return RetryConfig{MaxRetries: 2, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond}
}

func TestNewClient(t *testing.T) {
	tests := []struct {
		name      string
		cfg       Config
		wantModel string
		wantErr   bool
	}{
		{"default model", Config{APIKey: "sk-or-test"}, defaultModel, false},
		{"custom model", Config{APIKey: "sk-or-test", Model: "google/gemini-2.5-pro"}, "google/gemini-2.5-pro", false},
		{"empty api key", Config{}, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := NewClient(tt.cfg, nil)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantModel, client.Model())
			assert.Equal(t, defaultBaseURL, client.baseURL)
		})
	}
}

func TestBuildRequest(t *testing.T) {
	client, err := NewClient(Config{APIKey: "k"}, nil)
	require.NoError(t, err)

	req := client.buildRequest(Prompt{
		System: "be terse",
		User:   "transcribe",
		Images: []Image{{MimeType: "image/png", Data: []byte{1, 2, 3}}},
		JSON:   true,
	})

	require.Len(t, req.Messages, 2)
	assert.Equal(t, "system", req.Messages[0].Role)
	assert.Equal(t, "user", req.Messages[1].Role)
	require.Len(t, req.Messages[1].Content, 2)
	assert.Equal(t, "data:image/png;base64,AQID", req.Messages[1].Content[1].ImageURL.URL)
	assert.False(t, req.Stream)
	require.NotNil(t, req.ResponseFormat)
	assert.Equal(t, "json_object", req.ResponseFormat.Type)
}

func TestComplete_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer k", r.Header.Get("Authorization"))

		var req Request
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "m", req.Model)

		_ = json.NewEncoder(w).Encode(Response{Choices: []Choice{{Message: Delta{Content: "hello"}}}})
	}))
	defer srv.Close()

	client, err := NewClient(Config{APIKey: "k", Model: "m", BaseURL: srv.URL + "/"}, nil)
	require.NoError(t, err)

	out, err := client.Complete(context.Background(), Prompt{User: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "hello", out)
}

func TestComplete_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(Response{Choices: []Choice{{Message: Delta{Content: "ok"}}}})
	}))
	defer srv.Close()

	client, err := NewClient(Config{APIKey: "k", BaseURL: srv.URL, Retry: fastRetry()}, nil)
	require.NoError(t, err)

	out, err := client.Complete(context.Background(), Prompt{User: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, int32(3), calls.Load())
}

func TestComplete_GivesUpAfterRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client, err := NewClient(Config{APIKey: "k", BaseURL: srv.URL, Retry: fastRetry()}, nil)
	require.NoError(t, err)

	_, err = client.Complete(context.Background(), Prompt{User: "hi"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 429")
	assert.Equal(t, int32(3), calls.Load())
}

func TestComplete_NonRetryableError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"bad key","type":"auth"}}`))
	}))
	defer srv.Close()

	client, err := NewClient(Config{APIKey: "k", BaseURL: srv.URL, Retry: fastRetry()}, nil)
	require.NoError(t, err)

	_, err = client.Complete(context.Background(), Prompt{User: "hi"})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	assert.Equal(t, "bad key", apiErr.Message)
}

func TestRetryBackoff(t *testing.T) {
	cfg := RetryConfig{InitialBackoff: time.Second, MaxBackoff: 5 * time.Second}
	assert.Equal(t, time.Second, cfg.backoff(0))
	assert.Equal(t, 4*time.Second, cfg.backoff(2))
	assert.Equal(t, 5*time.Second, cfg.backoff(5))

	d := RetryConfig{MaxRetries: -1}.withDefaults()
	assert.Zero(t, d.MaxRetries)
	assert.Equal(t, 30*time.Second, d.MaxBackoff)
}

func TestComplete_HonorsRetryAfter(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "120")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_ = json.NewEncoder(w).Encode(Response{Choices: []Choice{{Message: Delta{Content: "ok"}}}})
	}))
	defer srv.Close()

	// capped by MaxBackoff, so the test does not wait two minutes
	client, err := NewClient(Config{APIKey: "k", BaseURL: srv.URL, Retry: fastRetry()}, nil)
	require.NoError(t, err)

	start := time.Now()
	out, err := client.Complete(context.Background(), Prompt{User: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, int32(2), calls.Load())
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"bare", `{"a":1}`, `{"a":1}`},
		{"fenced", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"prose", `Here you go: {"a":{"b":2}} hope that helps`, `{"a":{"b":2}}`},
		{"array", "```\n[1,2]\n```", `[1,2]`},
		{"none", "no json", "no json"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractJSON(tt.in))
		})
	}
}

type stubCompleter string

func (s stubCompleter) Complete(context.Context, Prompt) (string, error) {
	return string(s), nil
}

func TestDecodeJSON(t *testing.T) {
	var out struct {
		Type string `json:"type"`
	}
	require.NoError(t, DecodeJSON(context.Background(), stubCompleter("```json\n{\"type\":\"invoice\"}\n```"), Prompt{}, &out))
	assert.Equal(t, "invoice", out.Type)

	assert.Error(t, DecodeJSON(context.Background(), stubCompleter("nope"), Prompt{}, &out))
}
