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
	"net/http"
	"time"
)

// ProviderType identifies the wire protocol of a provider.
type ProviderType string

// Supported provider types.
const (
	// ProviderTypeOpenAI represents OpenAI's chat completions API.
	ProviderTypeOpenAI ProviderType = "openai"

	// ProviderTypeGroq represents Groq's OpenAI-compatible API.
	ProviderTypeGroq ProviderType = "groq"

	// ProviderTypeAzureOpenAI represents Azure OpenAI Service deployments.
	ProviderTypeAzureOpenAI ProviderType = "azure-openai"

	// ProviderTypeAnthropic represents Anthropic's Messages API.
	ProviderTypeAnthropic ProviderType = "anthropic"
)

// Provider generates completions. Implementations must be safe for
// concurrent use.
type Provider interface {
	// Name returns the identifier used in logs and metrics.
	Name() string

	// Type returns the provider type.
	Type() ProviderType

	// Complete generates a completion for the given request.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}

// HTTPClient is an interface for HTTP client operations (enables testing).
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// CompletionRequest encapsulates the parameters of one completion.
type CompletionRequest struct {
	// Prompt is the user message.
	Prompt string `json:"prompt"`

	// SystemPrompt is an optional system message that sets context/behavior.
	SystemPrompt string `json:"system_prompt,omitempty"`

	// MaxTokens limits the response length. If 0, provider defaults are used.
	MaxTokens int `json:"max_tokens,omitempty"`

	// Temperature controls randomness. 0.0 is valid and deterministic;
	// negative values select the provider default.
	Temperature float64 `json:"temperature"`

	// Model overrides the provider's default model.
	Model string `json:"model,omitempty"`

	// StopSequences are strings that cause generation to stop.
	StopSequences []string `json:"stop_sequences,omitempty"`

	// JSONMode asks for a JSON object response where the API supports it.
	JSONMode bool `json:"json_mode,omitempty"`

	// User identifies the end user to the provider for abuse monitoring.
	User string `json:"user,omitempty"`
}

// CompletionResponse contains the result of an LLM completion.
type CompletionResponse struct {
	// Content is the generated text response.
	Content string `json:"content"`

	// Model is the actual model used (may differ from requested).
	Model string `json:"model"`

	// Usage contains token usage statistics.
	Usage UsageStats `json:"usage"`

	// Latency is the time taken to generate the response.
	Latency time.Duration `json:"latency"`

	// FinishReason indicates why generation stopped.
	FinishReason string `json:"finish_reason,omitempty"`
}

// UsageStats tracks token usage.
type UsageStats struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

const (
	// DefaultTimeout is the default HTTP timeout.
	DefaultTimeout = 120 * time.Second

	// DefaultMaxTokens is the default max output tokens for completions.
	DefaultMaxTokens = 1024

	// DefaultTemperature is used when a request carries a negative temperature.
	DefaultTemperature = 0.0
)

func effectiveTemperature(t float64) float64 {
	if t < 0 {
		return DefaultTemperature
	}
	return t
}

func effectiveMaxTokens(n int) int {
	if n <= 0 {
		return DefaultMaxTokens
	}
	return n
}
