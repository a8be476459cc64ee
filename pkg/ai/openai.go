package ai

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

var (
	_ Completion = (*Service)(nil)
	_ Structured = (*Service)(nil)
	_ Embedding  = (*Service)(nil)
)

// Service wraps an OpenAI-compatible endpoint for completions and
// embeddings. It holds no per-request state and is safe for concurrent use.
type Service struct {
	client *openai.Client
	logger *log.Logger
	opts   []option.RequestOption
}

func NewOpenAIService(logger *log.Logger, apiKey string, baseURL string) *Service {
	client := openai.NewClient(
		option.WithAPIKey(apiKey),
		option.WithBaseURL(baseURL),
	)
	return &Service{
		client: &client,
		logger: logger,
	}
}

// Completion runs a plain system+user completion and returns the text.
func (s *Service) Completion(ctx context.Context, model, system, user string) (string, error) {
	completion, err := s.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(user),
		},
		Model: model,
	}, s.opts...)
	if err != nil {
		return "", err
	}
	if len(completion.Choices) == 0 {
		return "", fmt.Errorf("completion returned no choices")
	}
	return completion.Choices[0].Message.Content, nil
}

// StructuredCompletion runs a completion constrained to a JSON schema and
// returns the raw JSON document. A truncated completion (the provider ran
// out of output tokens) is reported as ErrOutputTooLong so callers can
// split their input and retry; transport errors propagate verbatim.
func (s *Service) StructuredCompletion(ctx context.Context, model string, req StructuredRequest) (json.RawMessage, error) {
	params := openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(req.System),
			openai.UserMessage(req.User),
		},
		Model:       model,
		Temperature: openai.Float(req.Temperature),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{
				JSONSchema: openai.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:   req.SchemaName,
					Schema: req.Schema,
				},
			},
		},
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(req.MaxTokens)
	}

	completion, err := s.client.Chat.Completions.New(ctx, params, s.opts...)
	if err != nil {
		return nil, err
	}
	if len(completion.Choices) == 0 {
		return nil, fmt.Errorf("structured completion %q returned no choices", req.Scope)
	}

	choice := completion.Choices[0]
	if choice.FinishReason == "length" {
		return nil, fmt.Errorf("structured completion %q: %w", req.Scope, ErrOutputTooLong)
	}

	return json.RawMessage(choice.Message.Content), nil
}

// Embeddings generates one embedding per input, order preserved. The
// provider returns float64 vectors; they are narrowed to float32 here, at
// the API boundary.
func (s *Service) Embeddings(ctx context.Context, inputs []string, model string) ([][]float32, error) {
	embedding, err := s.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Model: model,
		Input: openai.EmbeddingNewParamsInputUnion{
			OfArrayOfStrings: inputs,
		},
	}, s.opts...)
	if err != nil {
		return nil, err
	}
	embeddings := make([][]float32, 0, len(embedding.Data))
	for _, e := range embedding.Data {
		vector := make([]float32, len(e.Embedding))
		for i, v := range e.Embedding {
			vector[i] = float32(v)
		}
		embeddings = append(embeddings, vector)
	}
	if len(embeddings) != len(inputs) {
		return nil, fmt.Errorf("embeddings count mismatch: %d inputs, %d vectors", len(inputs), len(embeddings))
	}
	return embeddings, nil
}

// Embedding generates a single embedding.
func (s *Service) Embedding(ctx context.Context, input string, model string) ([]float32, error) {
	embeddings, err := s.Embeddings(ctx, []string{input}, model)
	if err != nil {
		return nil, err
	}
	return embeddings[0], nil
}
