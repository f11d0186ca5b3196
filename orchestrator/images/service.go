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

package images

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"axonflow/tabula/connectors/base"
	"axonflow/tabula/orchestrator/llm"
	"axonflow/tabula/shared/background"
	"axonflow/tabula/shared/logger"
	"axonflow/tabula/shared/tracing"
)

// NoMatchAnswer is returned when no stored image fits the query.
const NoMatchAnswer = "No matching image found in database."

// URLPrefix marks an answer that carries an image link.
const URLPrefix = "IMAGE_URL: "

const noMatch = "no_match"

// ErrUnsupportedContentType is returned for anything but JPEG and PNG.
var ErrUnsupportedContentType = errors.New("unsupported image content type")

var allowedContentTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
}

// Result is the body of a successful image query.
type Result struct {
	Success bool   `json:"success"`
	Answer  string `json:"answer"`
}

// Service stores project images and picks one for a natural-language query.
type Service struct {
	store    base.ObjectStore
	provider llm.Provider
	tasks    *background.Group
	urlTTL   time.Duration
	logger   *logger.Logger
}

// NewService wires a Service. urlTTL bounds the lifetime of returned links.
func NewService(store base.ObjectStore, provider llm.Provider, tasks *background.Group, urlTTL time.Duration, log *logger.Logger) *Service {
	if urlTTL <= 0 {
		urlTTL = time.Hour
	}
	if log == nil {
		log = logger.New("images")
	}
	return &Service{store: store, provider: provider, tasks: tasks, urlTTL: urlTTL, logger: log}
}

// ContentTypeAllowed reports whether uploads of contentType are accepted.
func ContentTypeAllowed(contentType string) bool {
	mediaType, _, _ := strings.Cut(contentType, ";")
	return allowedContentTypes[strings.ToLower(strings.TrimSpace(mediaType))]
}

// Upload validates the image and stores it in the background.
func (s *Service) Upload(ctx context.Context, projectID, fileName, contentType string, data []byte) error {
	if !ContentTypeAllowed(contentType) {
		return fmt.Errorf("%w: %s", ErrUnsupportedContentType, contentType)
	}
	if err := base.ValidateFileName(fileName); err != nil {
		return err
	}
	return s.tasks.Go(ctx, "image_upload", projectID, func(ctx context.Context) error {
		return s.store.Put(ctx, projectID, fileName, contentType, data)
	})
}

// Delete removes the image in the background.
func (s *Service) Delete(ctx context.Context, projectID, fileName string) error {
	if err := base.ValidateFileName(fileName); err != nil {
		return err
	}
	return s.tasks.Go(ctx, "image_delete", projectID, func(ctx context.Context) error {
		return s.store.Delete(ctx, projectID, fileName)
	})
}

// List returns the project's image names.
func (s *Service) List(ctx context.Context, projectID string) ([]string, error) {
	return s.store.List(ctx, projectID)
}

// Query asks the model which stored image best matches query and returns a
// signed link to it.
func (s *Service) Query(ctx context.Context, projectID, userID, requestID, query string) (*Result, error) {
	ctx, span := tracing.Start(ctx, "images.query", attribute.String("project_id", projectID))
	result, err := s.query(ctx, projectID, userID, requestID, query)
	tracing.End(span, err)
	return result, err
}

func (s *Service) query(ctx context.Context, projectID, userID, requestID, query string) (*Result, error) {
	names, err := s.store.List(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("list images: %w", err)
	}
	if len(names) == 0 {
		return &Result{Success: true, Answer: NoMatchAnswer}, nil
	}

	name, err := s.pick(ctx, names, userID, query)
	if err != nil {
		return nil, err
	}
	if name == noMatch || !contains(names, name) {
		s.logger.Info(projectID, requestID, "No image matched query", map[string]interface{}{"candidates": len(names), "picked": name})
		return &Result{Success: true, Answer: NoMatchAnswer}, nil
	}

	url, err := s.store.SignedURL(ctx, projectID, name, s.urlTTL)
	if err != nil {
		return nil, fmt.Errorf("sign url for %s: %w", name, err)
	}
	return &Result{Success: true, Answer: URLPrefix + url}, nil
}

func (s *Service) pick(ctx context.Context, names []string, userID, query string) (string, error) {
	resp, err := s.provider.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: pickPrompt(names),
		Prompt:       query,
		JSONMode:     true,
		User:         userID,
	})
	if err != nil {
		return "", fmt.Errorf("pick image: %w", err)
	}
	var choice struct {
		Name string `json:"name"`
	}
	if err := llm.DecodeJSON(resp.Content, &choice); err != nil {
		return "", fmt.Errorf("pick image: %w", err)
	}
	if choice.Name == "" {
		return noMatch, nil
	}
	return choice.Name, nil
}

func pickPrompt(names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = fmt.Sprintf("%q", n)
	}
	return fmt.Sprintf(`Given the user query, return the name of the image (exactly as written) from the list [%s] that best matches the query. If there is no match, return "no_match".
Respond with a JSON object in the following format:
{"name": "name of the image from the list" | "no_match"}
Do not provide any explanation or additional information.`, strings.Join(quoted, ", "))
}

func contains(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}
