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

// DefaultAzureAPIVersion is the default Azure OpenAI API version.
const DefaultAzureAPIVersion = "2024-08-01-preview"

// AuthType represents the authentication method for Azure OpenAI.
type AuthType string

const (
	// AuthTypeAPIKey uses the api-key header (Classic Azure OpenAI)
	AuthTypeAPIKey AuthType = "api-key"

	// AuthTypeBearer uses Authorization: Bearer header (Azure AI Foundry)
	AuthTypeBearer AuthType = "bearer"
)

// AzureConfig contains configuration for the Azure OpenAI provider.
type AzureConfig struct {
	Endpoint       string        // Required: Azure OpenAI endpoint URL
	APIKey         string        // Required: Azure OpenAI API key or Bearer token
	DeploymentName string        // Required: Azure deployment name
	APIVersion     string        // Optional: API version (default: 2024-08-01-preview)
	AuthType       AuthType      // Optional: Auth type (auto-detected from endpoint if empty)
	Timeout        time.Duration // Optional: HTTP timeout (default: 120s)
}

// AzureProvider implements Provider for Azure OpenAI deployments.
type AzureProvider struct {
	endpoint       string
	apiKey         string
	deploymentName string
	apiVersion     string
	authType       AuthType
	client         HTTPClient
}

// NewAzureProvider creates a new Azure OpenAI provider instance.
func NewAzureProvider(cfg AzureConfig) (*AzureProvider, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("azure OpenAI endpoint is required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("azure OpenAI API key is required")
	}
	if cfg.DeploymentName == "" {
		return nil, fmt.Errorf("azure OpenAI deployment name is required")
	}

	if cfg.APIVersion == "" {
		cfg.APIVersion = DefaultAzureAPIVersion
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	authType := cfg.AuthType
	if authType == "" {
		authType = detectAuthType(cfg.Endpoint)
	}

	return &AzureProvider{
		endpoint:       strings.TrimRight(cfg.Endpoint, "/"),
		apiKey:         cfg.APIKey,
		deploymentName: cfg.DeploymentName,
		apiVersion:     cfg.APIVersion,
		authType:       authType,
		client:         &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// detectAuthType auto-detects the authentication type based on the endpoint URL.
// - Classic Azure OpenAI (*.openai.azure.com) uses api-key header
// - Azure AI Foundry (*.cognitiveservices.azure.com) uses Bearer token
func detectAuthType(endpoint string) AuthType {
	if strings.Contains(strings.ToLower(endpoint), ".cognitiveservices.azure.com") {
		return AuthTypeBearer
	}
	return AuthTypeAPIKey
}

// WithHTTPClient replaces the HTTP client, mainly for tests.
func (p *AzureProvider) WithHTTPClient(c HTTPClient) *AzureProvider {
	p.client = c
	return p
}

// Name returns the provider name.
func (p *AzureProvider) Name() string { return "azure-openai" }

// Type returns the provider type.
func (p *AzureProvider) Type() ProviderType { return ProviderTypeAzureOpenAI }

// AuthType returns the authentication type being used.
func (p *AzureProvider) AuthType() AuthType { return p.authType }

// buildURL constructs the Azure OpenAI API URL:
// {endpoint}/openai/deployments/{deployment}/chat/completions?api-version={version}
func (p *AzureProvider) buildURL(deploymentName string) string {
	return fmt.Sprintf("%s/openai/deployments/%s/chat/completions?api-version=%s",
		p.endpoint, deploymentName, p.apiVersion)
}

// Complete generates a completion for the given request. A request model
// overrides the deployment name.
func (p *AzureProvider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	start := time.Now()

	deploymentName := p.deploymentName
	if req.Model != "" {
		deploymentName = req.Model
	}

	headers := map[string]string{}
	switch p.authType {
	case AuthTypeBearer:
		headers["Authorization"] = "Bearer " + p.apiKey
	default:
		headers["api-key"] = p.apiKey
	}

	var apiResp chatResponse
	if err := postJSON(ctx, p.client, p.Name(), p.buildURL(deploymentName), headers, newChatRequest(req), &apiResp); err != nil {
		return nil, err
	}
	return apiResp.toCompletion(start)
}
