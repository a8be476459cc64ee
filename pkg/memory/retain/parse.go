package retain

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/recollect-ai/recollect/pkg/memory"
)

// extractionResponse is the schema handed to the model. Responses are parsed
// leniently, so missing or malformed fields degrade to skipped facts rather
// than a failed chunk.
type extractionResponse struct {
	Facts []extractionFact `json:"facts"`
}

type extractionFact struct {
	FactualCore           string                     `json:"factual_core"`
	FactType              string                     `json:"fact_type" jsonschema:"enum=world,enum=assistant,enum=opinion"`
	FactKind              string                     `json:"fact_kind" jsonschema:"enum=conversation,enum=event,enum=other"`
	EmotionalSignificance string                     `json:"emotional_significance,omitempty"`
	ReasoningMotivation   string                     `json:"reasoning_motivation,omitempty"`
	PreferencesOpinions   string                     `json:"preferences_opinions,omitempty"`
	SensoryDetails        string                     `json:"sensory_details,omitempty"`
	Observations          string                     `json:"observations,omitempty"`
	OccurredStart         string                     `json:"occurred_start,omitempty"`
	OccurredEnd           string                     `json:"occurred_end,omitempty"`
	Entities              []extractionEntity         `json:"entities,omitempty"`
	CausalRelations       []extractionCausalRelation `json:"causal_relations,omitempty"`
}

type extractionEntity struct {
	Text string `json:"text"`
}

type extractionCausalRelation struct {
	RelationType    string  `json:"relation_type" jsonschema:"enum=causes,enum=caused_by,enum=enables,enum=prevents"`
	TargetFactIndex int     `json:"target_fact_index"`
	Strength        float64 `json:"strength,omitempty"`
}

// chunkFact is one fact parsed out of a single chunk's response. Causal
// target indices are still chunk-relative at this point.
type chunkFact struct {
	Core            string
	FactType        memory.FactType
	Dimensions      memory.FactDimensions
	Entities        []string
	OccurredStart   *time.Time
	OccurredEnd     *time.Time
	CausalRelations []memory.CausalRelation
}

// FactText combines the core with the populated dimensions in stable order.
func (f chunkFact) FactText() string {
	return memory.BuildFactText(f.Core, f.Dimensions.Ordered()...)
}

// parseExtractionResponse decodes a structured extraction response
// leniently. Facts without a factual core are skipped; unknown fact types
// fall back to "world" after attempting to repair a swapped
// fact_type/fact_kind pair; occurred dates are kept only for event-kind
// facts.
func parseExtractionResponse(logger *log.Logger, raw json.RawMessage) []chunkFact {
	var response map[string]json.RawMessage
	if err := json.Unmarshal(raw, &response); err != nil {
		logger.Warn("extraction response is not a JSON object", "error", err)
		return nil
	}

	var rawFacts []map[string]json.RawMessage
	if err := json.Unmarshal(response["facts"], &rawFacts); err != nil {
		logger.Warn("extraction response missing facts list", "error", err)
		return nil
	}

	facts := make([]chunkFact, 0, len(rawFacts))
	for i, rawFact := range rawFacts {
		core := stringField(rawFact, "factual_core")
		if core == "" {
			logger.Warn("skipping fact without factual_core", "index", i)
			continue
		}

		rawType := stringField(rawFact, "fact_type")
		factType, knownRaw := knownFactType(rawType)
		if !knownRaw {
			// The model occasionally swaps fact_type and fact_kind.
			if swapped, ok := knownFactType(stringField(rawFact, "fact_kind")); ok {
				factType = swapped
			} else {
				factType = memory.FactTypeWorld
				logger.Warn("defaulting to fact_type=world", "index", i, "raw_type", rawType)
			}
		}

		kind := memory.NormalizeFactKind(stringField(rawFact, "fact_kind"))

		fact := chunkFact{
			Core:     core,
			FactType: factType,
			Dimensions: memory.FactDimensions{
				EmotionalSignificance: stringField(rawFact, "emotional_significance"),
				ReasoningMotivation:   stringField(rawFact, "reasoning_motivation"),
				PreferencesOpinions:   stringField(rawFact, "preferences_opinions"),
				SensoryDetails:        stringField(rawFact, "sensory_details"),
				Observations:          stringField(rawFact, "observations"),
			},
			Entities:        parseEntities(logger, rawFact["entities"]),
			CausalRelations: parseCausalRelations(logger, rawFact["causal_relations"]),
		}

		// Only event-kind facts carry occurred dates.
		if kind == memory.FactKindEvent {
			fact.OccurredStart = parseTimestamp(stringField(rawFact, "occurred_start"))
			fact.OccurredEnd = parseTimestamp(stringField(rawFact, "occurred_end"))
		}

		facts = append(facts, fact)
	}
	return facts
}

// knownFactType maps a raw value onto a stored fact type, accepting the
// prompt-side "assistant" alias.
func knownFactType(raw string) (memory.FactType, bool) {
	raw = strings.TrimSpace(strings.ToLower(raw))
	if raw == "assistant" {
		return memory.FactTypeBank, true
	}
	return memory.ParseFactType(raw)
}

// parseEntities accepts both the schema form [{"text": "..."}] and the bare
// string list the model sometimes produces.
func parseEntities(logger *log.Logger, raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		logger.Warn("entities field is not a list", "error", err)
		return nil
	}
	var entities []string
	for _, item := range items {
		var s string
		if err := json.Unmarshal(item, &s); err == nil {
			if s = strings.TrimSpace(s); s != "" {
				entities = append(entities, s)
			}
			continue
		}
		var obj struct {
			Text string `json:"text"`
		}
		if err := json.Unmarshal(item, &obj); err == nil {
			if text := strings.TrimSpace(obj.Text); text != "" {
				entities = append(entities, text)
			}
			continue
		}
		logger.Warn("skipping malformed entity", "raw", string(item))
	}
	return entities
}

// parseCausalRelations keeps only relations with a valid relation type and a
// target index. Strength defaults to 1.0 and is clamped to [0, 1].
func parseCausalRelations(logger *log.Logger, raw json.RawMessage) []memory.CausalRelation {
	if len(raw) == 0 {
		return nil
	}
	var items []struct {
		RelationType    string   `json:"relation_type"`
		TargetFactIndex *int     `json:"target_fact_index"`
		Strength        *float64 `json:"strength"`
	}
	if err := json.Unmarshal(raw, &items); err != nil {
		logger.Warn("causal_relations field is malformed", "error", err)
		return nil
	}
	var relations []memory.CausalRelation
	for _, item := range items {
		kind, ok := memory.ParseCausalKind(item.RelationType)
		if !ok || item.TargetFactIndex == nil {
			logger.Warn("skipping invalid causal relation", "relation_type", item.RelationType)
			continue
		}
		strength := 1.0
		if item.Strength != nil {
			strength = *item.Strength
		}
		if strength < 0 {
			strength = 0
		}
		if strength > 1 {
			strength = 1
		}
		relations = append(relations, memory.CausalRelation{
			RelationType:    kind,
			TargetFactIndex: *item.TargetFactIndex,
			Strength:        strength,
		})
	}
	return relations
}

func stringField(fields map[string]json.RawMessage, key string) string {
	raw, ok := fields[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return strings.TrimSpace(s)
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// parseTimestamp parses the extractor's ISO timestamps, tolerating missing
// zones and date-only values. Unparseable input yields nil.
func parseTimestamp(raw string) *time.Time {
	if raw == "" {
		return nil
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}
