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
	"fmt"
	"strings"
	"time"

	"axonflow/tabula/connectors/sdk"
)

// Config selects and configures a provider by name.
type Config struct {
	Provider string // openai, groq, azure-openai (or azure), anthropic
	APIKey   string
	BaseURL  string
	Model    string
	Timeout  time.Duration

	AzureEndpoint   string
	AzureDeployment string
	AzureAPIVersion string

	// Retry wraps the provider in a RetryingProvider when set.
	Retry *sdk.RetryPolicy
}

// New builds the provider named by cfg.Provider.
func New(cfg Config) (Provider, error) {
	var (
		p   Provider
		err error
	)

	switch ProviderType(strings.ToLower(strings.TrimSpace(cfg.Provider))) {
	case ProviderTypeOpenAI, "":
		p, err = NewOpenAIProvider(OpenAIConfig{
			Type: ProviderTypeOpenAI, APIKey: cfg.APIKey, BaseURL: cfg.BaseURL, Model: cfg.Model, Timeout: cfg.Timeout,
		})
	case ProviderTypeGroq:
		p, err = NewOpenAIProvider(OpenAIConfig{
			Type: ProviderTypeGroq, APIKey: cfg.APIKey, BaseURL: cfg.BaseURL, Model: cfg.Model, Timeout: cfg.Timeout,
		})
	case ProviderTypeAzureOpenAI, "azure":
		deployment := cfg.AzureDeployment
		if deployment == "" {
			deployment = cfg.Model
		}
		p, err = NewAzureProvider(AzureConfig{
			Endpoint:       cfg.AzureEndpoint,
			APIKey:         cfg.APIKey,
			DeploymentName: deployment,
			APIVersion:     cfg.AzureAPIVersion,
			Timeout:        cfg.Timeout,
		})
	case ProviderTypeAnthropic:
		p, err = NewAnthropicProvider(AnthropicConfig{
			APIKey: cfg.APIKey, BaseURL: cfg.BaseURL, Model: cfg.Model, Timeout: cfg.Timeout,
		})
	default:
		return nil, fmt.Errorf("unknown LLM provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}

	if cfg.Retry != nil {
		return NewRetryingProvider(p, cfg.Retry), nil
	}
	return p, nil
}
