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
	"fmt"
	"net/http"
	"strings"
	"time"
)

const (
	// DefaultOpenAIBaseURL is the OpenAI API root.
	DefaultOpenAIBaseURL = "https://api.openai.com/v1"

	// DefaultGroqBaseURL is Groq's OpenAI-compatible API root.
	DefaultGroqBaseURL = "https://api.groq.com/openai/v1"

	// DefaultOpenAIModel is used when no model is configured.
	DefaultOpenAIModel = "gpt-4o-mini"

	// DefaultGroqModel is used for Groq when no model is configured.
	DefaultGroqModel = "llama-3.3-70b-versatile"
)

// OpenAIConfig configures an OpenAI-compatible provider.
type OpenAIConfig struct {
	Type    ProviderType  // ProviderTypeOpenAI (default) or ProviderTypeGroq
	APIKey  string        // Required
	BaseURL string        // Optional: defaults per Type
	Model   string        // Optional: defaults per Type
	Timeout time.Duration // Optional: HTTP timeout (default: 120s)
}

// OpenAIProvider talks to any API implementing OpenAI chat completions.
type OpenAIProvider struct {
	providerType ProviderType
	apiKey       string
	baseURL      string
	model        string
	client       HTTPClient
}

// NewOpenAIProvider creates an OpenAI-compatible provider.
func NewOpenAIProvider(cfg OpenAIConfig) (*OpenAIProvider, error) {
	if cfg.Type == "" {
		cfg.Type = ProviderTypeOpenAI
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%s API key is required", cfg.Type)
	}

	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultOpenAIBaseURL
		if cfg.Type == ProviderTypeGroq {
			cfg.BaseURL = DefaultGroqBaseURL
		}
	}
	if cfg.Model == "" {
		cfg.Model = DefaultOpenAIModel
		if cfg.Type == ProviderTypeGroq {
			cfg.Model = DefaultGroqModel
		}
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}

	return &OpenAIProvider{
		providerType: cfg.Type,
		apiKey:       cfg.APIKey,
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		model:        cfg.Model,
		client:       &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// WithHTTPClient replaces the HTTP client, mainly for tests.
func (p *OpenAIProvider) WithHTTPClient(c HTTPClient) *OpenAIProvider {
	p.client = c
	return p
}

// Name returns the provider name.
func (p *OpenAIProvider) Name() string { return string(p.providerType) }

// Type returns the provider type.
func (p *OpenAIProvider) Type() ProviderType { return p.providerType }

// Model returns the default model.
func (p *OpenAIProvider) Model() string { return p.model }

// Complete generates a completion for the given request.
func (p *OpenAIProvider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	start := time.Now()

	model := req.Model
	if model == "" {
		model = p.model
	}

	apiReq := newChatRequest(req)
	apiReq.Model = model

	var apiResp chatResponse
	headers := map[string]string{"Authorization": "Bearer " + p.apiKey}
	if err := postJSON(ctx, p.client, p.Name(), p.baseURL+"/chat/completions", headers, apiReq, &apiResp); err != nil {
		return nil, err
	}
	return apiResp.toCompletion(start)
}

// Wire types shared by OpenAI and Azure OpenAI.

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponseFormat struct {
	Type string `json:"type"`
}

type chatRequest struct {
	Model          string              `json:"model,omitempty"`
	Messages       []chatMessage       `json:"messages"`
	MaxTokens      int                 `json:"max_tokens"`
	Temperature    float64             `json:"temperature"`
	Stop           []string            `json:"stop,omitempty"`
	ResponseFormat *chatResponseFormat `json:"response_format,omitempty"`
	User           string              `json:"user,omitempty"`
}

type chatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index        int         `json:"index"`
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

func newChatRequest(req CompletionRequest) chatRequest {
	messages := make([]chatMessage, 0, 2)
	if req.SystemPrompt != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.SystemPrompt})
	}
	messages = append(messages, chatMessage{Role: "user", Content: req.Prompt})

	out := chatRequest{
		Messages:    messages,
		MaxTokens:   effectiveMaxTokens(req.MaxTokens),
		Temperature: effectiveTemperature(req.Temperature),
		Stop:        req.StopSequences,
		User:        req.User,
	}
	if req.JSONMode {
		out.ResponseFormat = &chatResponseFormat{Type: "json_object"}
	}
	return out
}

func (r *chatResponse) toCompletion(start time.Time) (*CompletionResponse, error) {
	if len(r.Choices) == 0 || strings.TrimSpace(r.Choices[0].Message.Content) == "" {
		return nil, ErrEmptyCompletion
	}
	return &CompletionResponse{
		Content:      r.Choices[0].Message.Content,
		Model:        r.Model,
		FinishReason: mapFinishReason(r.Choices[0].FinishReason),
		Usage: UsageStats{
			PromptTokens:     r.Usage.PromptTokens,
			CompletionTokens: r.Usage.CompletionTokens,
			TotalTokens:      r.Usage.TotalTokens,
		},
		Latency: time.Since(start),
	}, nil
}

// mapFinishReason normalizes OpenAI finish reasons.
func mapFinishReason(reason string) string {
	switch reason {
	case "stop":
		return "stop"
	case "length":
		return "max_tokens"
	case "content_filter":
		return "content_filter"
	case "":
		return "unknown"
	default:
		return reason
	}
}
