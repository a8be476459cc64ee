package retain

import (
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recollect-ai/recollect/pkg/memory"
)

func testLogger() *log.Logger {
	return log.New(io.Discard)
}

func TestParseExtractionResponse(t *testing.T) {
	logger := testLogger()

	t.Run("full fact", func(t *testing.T) {
		raw := json.RawMessage(`{"facts": [{
			"factual_core": "Gina's team won first place at regionals when she was 15",
			"fact_type": "world",
			"fact_kind": "event",
			"emotional_significance": "This was Gina's favorite memory",
			"occurred_start": "2010-05-01T00:00:00Z",
			"occurred_end": "2010-05-31T23:59:59Z",
			"entities": [{"text": "Gina"}],
			"causal_relations": [{"relation_type": "causes", "target_fact_index": 1, "strength": 0.7}]
		}]}`)
		facts := parseExtractionResponse(logger, raw)
		require.Len(t, facts, 1)

		fact := facts[0]
		assert.Equal(t, memory.FactTypeWorld, fact.FactType)
		assert.Equal(t, "This was Gina's favorite memory", fact.Dimensions.EmotionalSignificance)
		assert.Equal(t, []string{"Gina"}, fact.Entities)
		require.NotNil(t, fact.OccurredStart)
		assert.Equal(t, time.Date(2010, 5, 1, 0, 0, 0, 0, time.UTC), *fact.OccurredStart)
		require.Len(t, fact.CausalRelations, 1)
		assert.Equal(t, memory.CausalCauses, fact.CausalRelations[0].RelationType)
		assert.Equal(t, 0.7, fact.CausalRelations[0].Strength)

		assert.Equal(t,
			"Gina's team won first place at regionals when she was 15 - This was Gina's favorite memory",
			fact.FactText())
	})

	t.Run("assistant maps to bank", func(t *testing.T) {
		raw := json.RawMessage(`{"facts": [{"factual_core": "User asked me about ClickUp", "fact_type": "assistant"}]}`)
		facts := parseExtractionResponse(logger, raw)
		require.Len(t, facts, 1)
		assert.Equal(t, memory.FactTypeBank, facts[0].FactType)
	})

	t.Run("swapped type and kind is repaired", func(t *testing.T) {
		raw := json.RawMessage(`{"facts": [{"factual_core": "I wrote a story", "fact_type": "conversation", "fact_kind": "assistant"}]}`)
		facts := parseExtractionResponse(logger, raw)
		require.Len(t, facts, 1)
		assert.Equal(t, memory.FactTypeBank, facts[0].FactType)
	})

	t.Run("unknown type defaults to world", func(t *testing.T) {
		raw := json.RawMessage(`{"facts": [{"factual_core": "something", "fact_type": "banana"}]}`)
		facts := parseExtractionResponse(logger, raw)
		require.Len(t, facts, 1)
		assert.Equal(t, memory.FactTypeWorld, facts[0].FactType)
	})

	t.Run("missing factual core drops the fact", func(t *testing.T) {
		raw := json.RawMessage(`{"facts": [{"fact_type": "world"}, {"factual_core": "kept", "fact_type": "world"}]}`)
		facts := parseExtractionResponse(logger, raw)
		require.Len(t, facts, 1)
		assert.Equal(t, "kept", facts[0].Core)
	})

	t.Run("occurred dates dropped for non-events", func(t *testing.T) {
		raw := json.RawMessage(`{"facts": [{
			"factual_core": "Jon is expanding his studio",
			"fact_type": "world",
			"fact_kind": "conversation",
			"occurred_start": "2023-05-01T00:00:00Z"
		}]}`)
		facts := parseExtractionResponse(logger, raw)
		require.Len(t, facts, 1)
		assert.Nil(t, facts[0].OccurredStart)
		assert.Nil(t, facts[0].OccurredEnd)
	})

	t.Run("entities as bare strings", func(t *testing.T) {
		raw := json.RawMessage(`{"facts": [{"factual_core": "x", "fact_type": "world", "entities": ["Jon", " Gina ", ""]}]}`)
		facts := parseExtractionResponse(logger, raw)
		require.Len(t, facts, 1)
		assert.Equal(t, []string{"Jon", "Gina"}, facts[0].Entities)
	})

	t.Run("invalid causal relations are filtered", func(t *testing.T) {
		raw := json.RawMessage(`{"facts": [{
			"factual_core": "x",
			"fact_type": "world",
			"causal_relations": [
				{"relation_type": "correlates", "target_fact_index": 1},
				{"relation_type": "causes"},
				{"relation_type": "enables", "target_fact_index": 2}
			]
		}]}`)
		facts := parseExtractionResponse(logger, raw)
		require.Len(t, facts, 1)
		require.Len(t, facts[0].CausalRelations, 1)
		assert.Equal(t, memory.CausalEnables, facts[0].CausalRelations[0].RelationType)
		assert.Equal(t, 1.0, facts[0].CausalRelations[0].Strength)
	})

	t.Run("causal strength is clamped", func(t *testing.T) {
		raw := json.RawMessage(`{"facts": [{
			"factual_core": "x",
			"fact_type": "world",
			"causal_relations": [{"relation_type": "prevents", "target_fact_index": 0, "strength": 2.5}]
		}]}`)
		facts := parseExtractionResponse(logger, raw)
		require.Len(t, facts[0].CausalRelations, 1)
		assert.Equal(t, 1.0, facts[0].CausalRelations[0].Strength)
	})

	t.Run("non-object response yields nothing", func(t *testing.T) {
		assert.Nil(t, parseExtractionResponse(logger, json.RawMessage(`"oops"`)))
		assert.Nil(t, parseExtractionResponse(logger, json.RawMessage(`{"facts": "oops"}`)))
	})

	t.Run("dimension combination order is stable", func(t *testing.T) {
		raw := json.RawMessage(`{"facts": [{
			"factual_core": "core",
			"fact_type": "world",
			"observations": "obs",
			"emotional_significance": "emo",
			"sensory_details": "sense"
		}]}`)
		facts := parseExtractionResponse(logger, raw)
		require.Len(t, facts, 1)
		assert.Equal(t, "core - emo - sense - obs", facts[0].FactText())
	})
}

func TestParseTimestamp(t *testing.T) {
	cases := []struct {
		raw  string
		want *time.Time
	}{
		{"2023-05-01T12:30:00Z", timePtr(time.Date(2023, 5, 1, 12, 30, 0, 0, time.UTC))},
		{"2023-05-01T12:30:00", timePtr(time.Date(2023, 5, 1, 12, 30, 0, 0, time.UTC))},
		{"2023-05-01", timePtr(time.Date(2023, 5, 1, 0, 0, 0, 0, time.UTC))},
		{"next month", nil},
		{"", nil},
	}
	for _, tc := range cases {
		got := parseTimestamp(tc.raw)
		if tc.want == nil {
			assert.Nil(t, got, tc.raw)
		} else {
			require.NotNil(t, got, tc.raw)
			assert.True(t, tc.want.Equal(*got), tc.raw)
		}
	}
}

func timePtr(t time.Time) *time.Time { return &t }
