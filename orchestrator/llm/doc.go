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

/*
Package llm provides the completion providers used by the SQL and image agents.

# Provider Interface

Every backend implements Provider:

	type Provider interface {
		Name() string
		Type() ProviderType
		Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
	}

Implementations are safe for concurrent use, so a single provider is shared
by all projects and all cached agent executors.

# Supported Providers

  - OpenAI chat completions, and OpenAI-compatible APIs such as Groq
  - Azure OpenAI deployments
  - Anthropic Messages

New selects one by name:

	p, err := llm.New(llm.Config{Provider: "groq", APIKey: key})

# Retries

Wrap a provider with NewRetryingProvider to retry transient failures:

	p = llm.NewRetryingProvider(p, policy)

HTTP 408, 429 and 5xx responses and network errors are retried. Other 4xx
responses are permanent and returned on the first attempt. An APIError
carries the status code so callers can tell them apart.
*/
package llm
