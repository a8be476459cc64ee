package retain

import (
	"context"
	"fmt"

	"github.com/samber/lo"

	"github.com/recollect-ai/recollect/pkg/memory"
)

// Embedder is the batch embedding contract the pipeline consumes. Output
// order matches input order.
type Embedder interface {
	Embeddings(ctx context.Context, inputs []string) ([][]float32, error)
}

// AugmentTextForEmbedding prefixes the fact text with its temporal anchor so
// the vector carries when, not just what. Events anchor on when they
// occurred; everything else on when they were mentioned.
func AugmentTextForEmbedding(fact memory.ExtractedFact) string {
	anchor := fact.MentionedAt
	if fact.OccurredStart != nil {
		anchor = *fact.OccurredStart
	}
	return fmt.Sprintf("[%s] %s", anchor.UTC().Format("2006-01-02"), fact.FactText)
}

// EmbedFacts embeds every fact in one batch call and pairs each fact with
// its vector.
func EmbedFacts(ctx context.Context, embedder Embedder, facts []memory.ExtractedFact) ([]memory.ProcessedFact, error) {
	if len(facts) == 0 {
		return nil, nil
	}

	texts := lo.Map(facts, func(fact memory.ExtractedFact, _ int) string {
		return AugmentTextForEmbedding(fact)
	})
	embeddings, err := embedder.Embeddings(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("generating embeddings: %w", err)
	}
	if len(embeddings) != len(facts) {
		return nil, fmt.Errorf("embedding count mismatch: %d embeddings for %d facts", len(embeddings), len(facts))
	}

	processed := make([]memory.ProcessedFact, len(facts))
	for i, fact := range facts {
		processed[i] = memory.ProcessedFact{
			ExtractedFact: fact,
			Embedding:     embeddings[i],
		}
	}
	return processed, nil
}
