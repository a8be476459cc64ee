package ai

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
)

// Completion is the plain text completion contract.
type Completion interface {
	Completion(ctx context.Context, model, system, user string) (string, error)
}

// Structured is the structured-response contract the retain pipeline
// consumes: one call, one JSON document matching the requested schema.
type Structured interface {
	StructuredCompletion(ctx context.Context, model string, req StructuredRequest) (json.RawMessage, error)
}

// Embedding is the embeddings contract. Output order matches input order.
// Vectors are float32, the precision pgvector stores.
type Embedding interface {
	Embedding(ctx context.Context, input string, model string) ([]float32, error)
	Embeddings(ctx context.Context, inputs []string, model string) ([][]float32, error)
}

// Embedder binds an embeddings service to one configured model so pipeline
// code can embed batches without carrying model configuration around.
type Embedder struct {
	service Embedding
	model   string
}

func NewEmbedder(service Embedding, model string) (*Embedder, error) {
	if service == nil {
		return nil, errors.New("embedding service cannot be nil")
	}
	if model == "" {
		return nil, errors.New("model cannot be empty")
	}
	return &Embedder{service: service, model: model}, nil
}

func (e *Embedder) Embedding(ctx context.Context, input string) ([]float32, error) {
	return e.service.Embedding(ctx, input, e.model)
}

func (e *Embedder) Embeddings(ctx context.Context, inputs []string) ([][]float32, error) {
	return e.service.Embeddings(ctx, inputs, e.model)
}

// StructuredRequest describes a structured-JSON completion.
type StructuredRequest struct {
	System      string
	User        string
	Scope       string
	SchemaName  string
	Schema      map[string]any
	Temperature float64
	MaxTokens   int64
}

// ErrOutputTooLong is returned when the model hit its output token cap and
// the completion was truncated. Callers recover by splitting their input.
var ErrOutputTooLong = errors.New("completion output exceeded max tokens")

// IsSchemaValidationError reports whether err looks like the provider
// rejecting or failing structured-output validation. These are retryable
// with the same prompt.
func IsSchemaValidationError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "json_validate_failed")
}
