// Copyright 2025 AxonFlow
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newOpenAITestServer(t *testing.T, handler http.HandlerFunc) *OpenAIProvider {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	p, err := NewOpenAIProvider(OpenAIConfig{APIKey: "sk-test", BaseURL: server.URL})
	require.NoError(t, err)
	return p
}

func TestNewOpenAIProvider_Defaults(t *testing.T) {
	p, err := NewOpenAIProvider(OpenAIConfig{APIKey: "sk-test"})
	require.NoError(t, err)
	assert.Equal(t, "openai", p.Name())
	assert.Equal(t, DefaultOpenAIBaseURL, p.baseURL)
	assert.Equal(t, DefaultOpenAIModel, p.Model())

	g, err := NewOpenAIProvider(OpenAIConfig{Type: ProviderTypeGroq, APIKey: "gsk-test"})
	require.NoError(t, err)
	assert.Equal(t, "groq", g.Name())
	assert.Equal(t, DefaultGroqBaseURL, g.baseURL)
	assert.Equal(t, DefaultGroqModel, g.Model())

	_, err = NewOpenAIProvider(OpenAIConfig{})
	assert.Error(t, err)
}

func TestOpenAIProvider_Complete(t *testing.T) {
	p := newOpenAITestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, DefaultOpenAIModel, req.Model)
		require.Len(t, req.Messages, 2)
		assert.Equal(t, "system", req.Messages[0].Role)
		assert.Equal(t, "user", req.Messages[1].Role)
		assert.Equal(t, "how many rows?", req.Messages[1].Content)
		assert.Equal(t, 0.0, req.Temperature)
		require.NotNil(t, req.ResponseFormat)
		assert.Equal(t, "json_object", req.ResponseFormat.Type)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "chatcmpl-1",
			"model": "gpt-4o-mini-2024-07-18",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "42"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 10, "completion_tokens": 1, "total_tokens": 11}
		}`))
	})

	resp, err := p.Complete(context.Background(), CompletionRequest{
		SystemPrompt: "You answer questions about data.",
		Prompt:       "how many rows?",
		JSONMode:     true,
	})
	require.NoError(t, err)
	assert.Equal(t, "42", resp.Content)
	assert.Equal(t, "gpt-4o-mini-2024-07-18", resp.Model)
	assert.Equal(t, "stop", resp.FinishReason)
	assert.Equal(t, 11, resp.Usage.TotalTokens)
}

func TestOpenAIProvider_APIErrors(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		retryAfter string
		retryable  bool
		wantType   string
	}{
		{"rate limited", http.StatusTooManyRequests, `{"error":{"type":"rate_limit_exceeded","message":"slow down"}}`, "3", true, "rate_limit_exceeded"},
		{"server error", http.StatusBadGateway, `upstream failure`, "", true, ""},
		{"timeout", http.StatusRequestTimeout, `{"error":{"message":"timeout"}}`, "", true, ""},
		{"bad request", http.StatusBadRequest, `{"error":{"type":"invalid_request_error","message":"bad prompt"}}`, "", false, "invalid_request_error"},
		{"unauthorized", http.StatusUnauthorized, `{"error":{"type":"invalid_api_key","message":"bad key"}}`, "", false, "invalid_api_key"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newOpenAITestServer(t, func(w http.ResponseWriter, r *http.Request) {
				if tt.retryAfter != "" {
					w.Header().Set("Retry-After", tt.retryAfter)
				}
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			_, err := p.Complete(context.Background(), CompletionRequest{Prompt: "hi"})
			require.Error(t, err)

			var apiErr *APIError
			require.True(t, errors.As(err, &apiErr))
			assert.Equal(t, tt.status, apiErr.StatusCode)
			assert.Equal(t, tt.wantType, apiErr.Type)
			assert.Equal(t, tt.retryable, IsRetryableError(err))
			if tt.retryAfter != "" {
				assert.Equal(t, 3*time.Second, apiErr.RetryAfter)
			}
		})
	}
}

func TestOpenAIProvider_EmptyChoices(t *testing.T) {
	p := newOpenAITestServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"x","choices":[]}`))
	})

	_, err := p.Complete(context.Background(), CompletionRequest{Prompt: "hi"})
	assert.ErrorIs(t, err, ErrEmptyCompletion)
	assert.False(t, IsRetryableError(err))
}

func TestMapFinishReason(t *testing.T) {
	assert.Equal(t, "stop", mapFinishReason("stop"))
	assert.Equal(t, "max_tokens", mapFinishReason("length"))
	assert.Equal(t, "content_filter", mapFinishReason("content_filter"))
	assert.Equal(t, "unknown", mapFinishReason(""))
	assert.Equal(t, "tool_calls", mapFinishReason("tool_calls"))
}
