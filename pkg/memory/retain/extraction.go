package retain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/recollect-ai/recollect/pkg/ai"
	"github.com/recollect-ai/recollect/pkg/memory"
)

const (
	// secondsPerFact spaces consecutive facts of one content item apart so
	// ordering within a document survives into the temporal index.
	secondsPerFact = 10

	extractionScope       = "memory_extract_facts"
	extractionSchemaName  = "fact_extraction"
	extractionTemperature = 0.1
	extractionMaxTokens   = 65000
	extractionMaxRetries  = 2
)

// Extractor turns retain contents into extracted facts via structured LLM
// completions, chunking large inputs and recovering from output overruns by
// splitting chunks.
type Extractor struct {
	logger        *log.Logger
	llm           ai.Structured
	model         string
	maxChunkChars int
	schema        map[string]any
}

// NewExtractor creates an Extractor. maxChunkChars <= 0 selects the default
// chunk size.
func NewExtractor(logger *log.Logger, llm ai.Structured, model string, maxChunkChars int) (*Extractor, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if llm == nil {
		return nil, fmt.Errorf("llm cannot be nil")
	}
	if model == "" {
		return nil, fmt.Errorf("model cannot be empty")
	}
	if maxChunkChars <= 0 {
		maxChunkChars = DefaultMaxChunkChars
	}
	schema, err := ai.ReflectSchema(extractionResponse{})
	if err != nil {
		return nil, fmt.Errorf("reflecting extraction schema: %w", err)
	}
	return &Extractor{
		logger:        logger,
		llm:           llm,
		model:         model,
		maxChunkChars: maxChunkChars,
		schema:        schema,
	}, nil
}

// contentResult is the per-content extraction output before flattening.
type contentResult struct {
	chunks     []string
	chunkFacts [][]chunkFact
}

// ExtractFromContents extracts facts from every content item in parallel and
// flattens the results into batch-global fact and chunk indices. Causal
// target indices are rebased from chunk-relative to global; temporal offsets
// keep facts of one content strictly ordered.
func (e *Extractor) ExtractFromContents(ctx context.Context, contents []memory.RetainContent, agentName string, opinionsOnly bool) ([]memory.ExtractedFact, []memory.ChunkMetadata, error) {
	if len(contents) == 0 {
		return nil, nil, nil
	}

	results := make([]contentResult, len(contents))
	g, gctx := errgroup.WithContext(ctx)
	for i, content := range contents {
		i, content := i, content
		g.Go(func() error {
			result, err := e.extractFromText(gctx, content.Content, content.Context, agentName, opinionsOnly)
			if err != nil {
				return fmt.Errorf("content %d: %w", i, err)
			}
			results[i] = result
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	var facts []memory.ExtractedFact
	var chunksMeta []memory.ChunkMetadata

	globalChunkIdx := 0
	globalFactIdx := 0
	for contentIdx, result := range results {
		content := contents[contentIdx]
		contentFactStart := globalFactIdx

		for chunkInContent, chunkFacts := range result.chunkFacts {
			chunkGlobalIdx := globalChunkIdx + chunkInContent
			chunkFactStart := globalFactIdx

			for _, fact := range chunkFacts {
				offset := time.Duration(globalFactIdx-contentFactStart) * secondsPerFact * time.Second

				extracted := memory.ExtractedFact{
					FactText:      fact.FactText(),
					FactType:      fact.FactType,
					Dimensions:    fact.Dimensions,
					Entities:      fact.Entities,
					OccurredStart: offsetTime(fact.OccurredStart, offset),
					OccurredEnd:   offsetTime(fact.OccurredEnd, offset),
					MentionedAt:   content.EventDate.Add(offset),
					ContentIndex:  contentIdx,
					ChunkIndex:    chunkGlobalIdx,
					Context:       content.Context,
					Metadata:      content.Metadata,
				}
				for _, rel := range fact.CausalRelations {
					extracted.CausalRelations = append(extracted.CausalRelations, memory.CausalRelation{
						RelationType:    rel.RelationType,
						TargetFactIndex: chunkFactStart + rel.TargetFactIndex,
						Strength:        rel.Strength,
					})
				}
				facts = append(facts, extracted)
				globalFactIdx++
			}
		}

		for chunkInContent, chunkText := range result.chunks {
			chunksMeta = append(chunksMeta, memory.ChunkMetadata{
				ChunkText:    chunkText,
				FactCount:    len(result.chunkFacts[chunkInContent]),
				ContentIndex: contentIdx,
				ChunkIndex:   globalChunkIdx + chunkInContent,
			})
		}
		globalChunkIdx += len(result.chunks)
	}
	return facts, chunksMeta, nil
}

// extractFromText chunks one content item and extracts every chunk in
// parallel.
func (e *Extractor) extractFromText(ctx context.Context, text, contentContext, agentName string, opinionsOnly bool) (contentResult, error) {
	chunks := ChunkText(text, e.maxChunkChars)
	result := contentResult{
		chunks:     chunks,
		chunkFacts: make([][]chunkFact, len(chunks)),
	}

	g, gctx := errgroup.WithContext(ctx)
	for i, chunk := range chunks {
		i, chunk := i, chunk
		g.Go(func() error {
			facts, err := e.extractWithAutoSplit(gctx, chunk, agentName, contentContext, opinionsOnly)
			if err != nil {
				return fmt.Errorf("chunk %d/%d: %w", i+1, len(chunks), err)
			}
			result.chunkFacts[i] = facts
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return contentResult{}, err
	}
	return result, nil
}

// extractWithAutoSplit extracts from one chunk, recursively halving it when
// the model output exceeds its token cap.
func (e *Extractor) extractWithAutoSplit(ctx context.Context, chunk, agentName, contentContext string, opinionsOnly bool) ([]chunkFact, error) {
	facts, err := e.extractChunk(ctx, chunk, agentName, contentContext, opinionsOnly)
	if err == nil {
		return facts, nil
	}
	if !errors.Is(err, ai.ErrOutputTooLong) {
		return nil, err
	}

	first, second, ok := splitChunk(chunk)
	if !ok {
		e.logger.Error("output too long for unsplittable chunk, dropping it", "chars", len(chunk))
		return nil, nil
	}
	e.logger.Warn("output too long, splitting chunk and retrying",
		"chars", len(chunk), "first_half", len(first), "second_half", len(second))

	var firstFacts, secondFacts []chunkFact
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		firstFacts, err = e.extractWithAutoSplit(gctx, first, agentName, contentContext, opinionsOnly)
		return err
	})
	g.Go(func() error {
		var err error
		secondFacts, err = e.extractWithAutoSplit(gctx, second, agentName, contentContext, opinionsOnly)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return append(firstFacts, secondFacts...), nil
}

// extractChunk runs one structured completion, retrying on provider-side
// schema validation failures.
func (e *Extractor) extractChunk(ctx context.Context, chunk, agentName, contentContext string, opinionsOnly bool) ([]chunkFact, error) {
	req := ai.StructuredRequest{
		System:      extractionSystemPrompt,
		User:        buildExtractionPrompt(chunk, contentContext, agentName, opinionsOnly),
		Scope:       extractionScope,
		SchemaName:  extractionSchemaName,
		Schema:      e.schema,
		Temperature: extractionTemperature,
		MaxTokens:   extractionMaxTokens,
	}

	var raw json.RawMessage
	var err error
	for attempt := 1; attempt <= extractionMaxRetries; attempt++ {
		raw, err = e.llm.StructuredCompletion(ctx, e.model, req)
		if err == nil {
			break
		}
		if ai.IsSchemaValidationError(err) && attempt < extractionMaxRetries {
			e.logger.Warn("schema validation failed, retrying extraction", "attempt", attempt, "error", err)
			continue
		}
		return nil, err
	}
	if err != nil {
		return nil, err
	}
	return parseExtractionResponse(e.logger, raw), nil
}

// splitChunk halves a chunk, preferring a sentence boundary within 20% of
// the midpoint. ok is false when the chunk cannot be meaningfully split.
func splitChunk(chunk string) (first, second string, ok bool) {
	if len(chunk) < 2 {
		return "", "", false
	}

	mid := len(chunk) / 2
	searchRange := len(chunk) / 5
	searchStart := mid - searchRange
	if searchStart < 0 {
		searchStart = 0
	}
	searchEnd := mid + searchRange
	if searchEnd > len(chunk) {
		searchEnd = len(chunk)
	}

	split := mid
	for _, ending := range []string{". ", "! ", "? ", "\n\n"} {
		pos := strings.LastIndex(chunk[searchStart:searchEnd], ending)
		if pos != -1 {
			split = searchStart + pos + len(ending)
			break
		}
	}

	first = strings.TrimSpace(chunk[:split])
	second = strings.TrimSpace(chunk[split:])
	if first == "" || second == "" {
		return "", "", false
	}
	return first, second, true
}

func offsetTime(t *time.Time, offset time.Duration) *time.Time {
	if t == nil {
		return nil
	}
	shifted := t.Add(offset)
	return &shifted
}
