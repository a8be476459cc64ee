package retain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recollect-ai/recollect/pkg/ai"
	"github.com/recollect-ai/recollect/pkg/memory"
)

type fakeStructured struct {
	fn func(req ai.StructuredRequest) (json.RawMessage, error)
}

func (f *fakeStructured) StructuredCompletion(_ context.Context, _ string, req ai.StructuredRequest) (json.RawMessage, error) {
	return f.fn(req)
}

func factsJSON(cores ...string) json.RawMessage {
	type fact struct {
		FactualCore string `json:"factual_core"`
		FactType    string `json:"fact_type"`
	}
	facts := make([]fact, len(cores))
	for i, core := range cores {
		facts[i] = fact{FactualCore: core, FactType: "world"}
	}
	payload, _ := json.Marshal(map[string]any{"facts": facts})
	return payload
}

func newTestExtractor(t *testing.T, llm ai.Structured, maxChunkChars int) *Extractor {
	t.Helper()
	extractor, err := NewExtractor(testLogger(), llm, "test-model", maxChunkChars)
	require.NoError(t, err)
	return extractor
}

func TestExtractFromContentsTemporalOffsets(t *testing.T) {
	base := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	llm := &fakeStructured{fn: func(req ai.StructuredRequest) (json.RawMessage, error) {
		return json.RawMessage(`{"facts": [
			{"factual_core": "first", "fact_type": "world"},
			{"factual_core": "second", "fact_type": "world"},
			{"factual_core": "third", "fact_type": "world", "fact_kind": "event",
			 "occurred_start": "2024-03-05T00:00:00Z", "occurred_end": "2024-03-06T00:00:00Z"}
		]}`), nil
	}}
	extractor := newTestExtractor(t, llm, 0)

	facts, chunks, err := extractor.ExtractFromContents(context.Background(),
		[]memory.RetainContent{{Content: "some conversation", EventDate: base}}, "Marcus", false)
	require.NoError(t, err)
	require.Len(t, facts, 3)
	require.Len(t, chunks, 1)
	assert.Equal(t, 3, chunks[0].FactCount)

	assert.Equal(t, base, facts[0].MentionedAt)
	assert.Equal(t, base.Add(10*time.Second), facts[1].MentionedAt)
	assert.Equal(t, base.Add(20*time.Second), facts[2].MentionedAt)

	require.NotNil(t, facts[2].OccurredStart)
	assert.Equal(t, time.Date(2024, 3, 5, 0, 0, 20, 0, time.UTC), *facts[2].OccurredStart)
	require.NotNil(t, facts[2].OccurredEnd)
	assert.Equal(t, time.Date(2024, 3, 6, 0, 0, 20, 0, time.UTC), *facts[2].OccurredEnd)
}

func TestExtractFromContentsOffsetsResetPerContent(t *testing.T) {
	baseA := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	baseB := time.Date(2024, 4, 1, 9, 0, 0, 0, time.UTC)

	llm := &fakeStructured{fn: func(req ai.StructuredRequest) (json.RawMessage, error) {
		if strings.Contains(req.User, "CONTENT_A") {
			return factsJSON("a1", "a2"), nil
		}
		return factsJSON("b1"), nil
	}}
	extractor := newTestExtractor(t, llm, 0)

	facts, chunks, err := extractor.ExtractFromContents(context.Background(),
		[]memory.RetainContent{
			{Content: "CONTENT_A", EventDate: baseA},
			{Content: "CONTENT_B", EventDate: baseB},
		}, "", false)
	require.NoError(t, err)
	require.Len(t, facts, 3)
	require.Len(t, chunks, 2)

	assert.Equal(t, 0, facts[0].ContentIndex)
	assert.Equal(t, baseA, facts[0].MentionedAt)
	assert.Equal(t, baseA.Add(10*time.Second), facts[1].MentionedAt)

	assert.Equal(t, 1, facts[2].ContentIndex)
	assert.Equal(t, baseB, facts[2].MentionedAt)

	assert.Equal(t, 0, chunks[0].ChunkIndex)
	assert.Equal(t, 1, chunks[1].ChunkIndex)
	assert.Equal(t, 1, chunks[1].ContentIndex)
}

func TestExtractFromContentsCausalRebase(t *testing.T) {
	llm := &fakeStructured{fn: func(req ai.StructuredRequest) (json.RawMessage, error) {
		if strings.Contains(req.User, "CONTENT_A") {
			return factsJSON("a1", "a2"), nil
		}
		return json.RawMessage(`{"facts": [
			{"factual_core": "b1", "fact_type": "world"},
			{"factual_core": "b2", "fact_type": "world",
			 "causal_relations": [{"relation_type": "caused_by", "target_fact_index": 0, "strength": 0.9}]}
		]}`), nil
	}}
	extractor := newTestExtractor(t, llm, 0)

	facts, _, err := extractor.ExtractFromContents(context.Background(),
		[]memory.RetainContent{
			{Content: "CONTENT_A", EventDate: time.Now()},
			{Content: "CONTENT_B", EventDate: time.Now()},
		}, "", false)
	require.NoError(t, err)
	require.Len(t, facts, 4)

	require.Len(t, facts[3].CausalRelations, 1)
	// Target 0 within the second content's chunk rebases to global index 2.
	assert.Equal(t, 2, facts[3].CausalRelations[0].TargetFactIndex)
	assert.Equal(t, memory.CausalCausedBy, facts[3].CausalRelations[0].RelationType)
}

func TestExtractAutoSplitOnOutputOverrun(t *testing.T) {
	content := strings.Repeat("alpha ", 8) + "alpha. " + strings.Repeat("beta ", 8) + "beta."

	llm := &fakeStructured{fn: func(req ai.StructuredRequest) (json.RawMessage, error) {
		hasAlpha := strings.Contains(req.User, "alpha")
		hasBeta := strings.Contains(req.User, "beta")
		if hasAlpha && hasBeta {
			return nil, fmt.Errorf("truncated: %w", ai.ErrOutputTooLong)
		}
		if hasAlpha {
			return factsJSON("alpha fact"), nil
		}
		return factsJSON("beta fact"), nil
	}}
	extractor := newTestExtractor(t, llm, 0)

	facts, chunks, err := extractor.ExtractFromContents(context.Background(),
		[]memory.RetainContent{{Content: content, EventDate: time.Now()}}, "", false)
	require.NoError(t, err)
	require.Len(t, facts, 2)
	assert.Equal(t, "alpha fact", facts[0].FactText)
	assert.Equal(t, "beta fact", facts[1].FactText)

	// Both halves still count against the one original chunk.
	require.Len(t, chunks, 1)
	assert.Equal(t, 2, chunks[0].FactCount)
}

func TestExtractUnsplittableOverrunDropsChunk(t *testing.T) {
	llm := &fakeStructured{fn: func(req ai.StructuredRequest) (json.RawMessage, error) {
		return nil, ai.ErrOutputTooLong
	}}
	extractor := newTestExtractor(t, llm, 0)

	facts, chunks, err := extractor.ExtractFromContents(context.Background(),
		[]memory.RetainContent{{Content: "ab", EventDate: time.Now()}}, "", false)
	require.NoError(t, err)
	assert.Empty(t, facts)
	require.Len(t, chunks, 1)
	assert.Equal(t, 0, chunks[0].FactCount)
}

func TestExtractRetriesSchemaValidationFailure(t *testing.T) {
	var calls atomic.Int32
	llm := &fakeStructured{fn: func(req ai.StructuredRequest) (json.RawMessage, error) {
		if calls.Add(1) == 1 {
			return nil, errors.New("provider error: json_validate_failed")
		}
		return factsJSON("recovered"), nil
	}}
	extractor := newTestExtractor(t, llm, 0)

	facts, _, err := extractor.ExtractFromContents(context.Background(),
		[]memory.RetainContent{{Content: "hello there", EventDate: time.Now()}}, "", false)
	require.NoError(t, err)
	require.Len(t, facts, 1)
	assert.Equal(t, int32(2), calls.Load())
}

func TestExtractPermanentErrorPropagates(t *testing.T) {
	llm := &fakeStructured{fn: func(req ai.StructuredRequest) (json.RawMessage, error) {
		return nil, errors.New("connection refused")
	}}
	extractor := newTestExtractor(t, llm, 0)

	_, _, err := extractor.ExtractFromContents(context.Background(),
		[]memory.RetainContent{{Content: "hello", EventDate: time.Now()}}, "", false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestBuildExtractionPrompt(t *testing.T) {
	prompt := buildExtractionPrompt("the chunk text", "a chat log", "Marcus", false)
	assert.Contains(t, prompt, "the chunk text")
	assert.Contains(t, prompt, "a chat log")
	assert.Contains(t, prompt, "Your name: Marcus")
	assert.Contains(t, prompt, "DO NOT extract opinions")

	opinions := buildExtractionPrompt("chunk", "", "", true)
	assert.Contains(t, opinions, "ONLY 'opinion' type facts")
	assert.Contains(t, opinions, "no additional context provided")
	assert.NotContains(t, opinions, "Your name:")
}

func TestExtractFromContentsCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	llm := &fakeStructured{fn: func(_ ai.StructuredRequest) (json.RawMessage, error) {
		cancel()
		return nil, ctx.Err()
	}}
	extractor := newTestExtractor(t, llm, 0)

	_, _, err := extractor.ExtractFromContents(ctx,
		[]memory.RetainContent{{Content: "some conversation", EventDate: time.Now().UTC()}}, "Marcus", false)
	require.ErrorIs(t, err, context.Canceled)
}
