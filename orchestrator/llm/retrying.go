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
	"errors"

	"axonflow/tabula/connectors/sdk"
)

// RetryingProvider retries transient failures of the wrapped provider.
type RetryingProvider struct {
	inner  Provider
	policy *sdk.RetryPolicy
}

// NewRetryingProvider wraps p. The policy's classifier is replaced with
// IsRetryableError; a nil policy uses sdk.DefaultRetryPolicy.
func NewRetryingProvider(p Provider, policy *sdk.RetryPolicy) *RetryingProvider {
	if policy == nil {
		policy = sdk.DefaultRetryPolicy()
	}
	return &RetryingProvider{
		inner:  p,
		policy: policy.WithName("llm." + p.Name()).WithClassifier(IsRetryableError),
	}
}

// Name returns the wrapped provider's name.
func (r *RetryingProvider) Name() string { return r.inner.Name() }

// Type returns the wrapped provider's type.
func (r *RetryingProvider) Type() ProviderType { return r.inner.Type() }

// Unwrap returns the wrapped provider.
func (r *RetryingProvider) Unwrap() Provider { return r.inner }

// Complete calls the wrapped provider under the retry policy.
func (r *RetryingProvider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	return sdk.Do(ctx, r.policy, func(ctx context.Context) (*CompletionResponse, error) {
		resp, err := r.inner.Complete(ctx, req)
		if err != nil {
			var apiErr *APIError
			if errors.As(err, &apiErr) && apiErr.RetryAfter > 0 && apiErr.Retryable() {
				return nil, &sdk.RetryableError{Err: err, RetryAfter: apiErr.RetryAfter}
			}
			return nil, err
		}
		return resp, nil
	})
}
