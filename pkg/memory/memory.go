// Package memory defines the domain model shared by the retain pipeline,
// the link builder and the storage layer: facts (units), entities, links
// and the contracts the pipeline consumes from injected collaborators.
package memory

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// FactType is the perspective a fact is recorded from.
type FactType string

const (
	// FactTypeWorld marks facts that are true independently of any
	// interaction with the agent.
	FactTypeWorld FactType = "world"
	// FactTypeBank marks facts about interactions with the agent itself.
	FactTypeBank FactType = "bank"
	// FactTypeOpinion marks beliefs the agent has formed.
	FactTypeOpinion FactType = "opinion"
)

// NormalizeFactType maps raw extractor output onto a valid FactType.
// The extraction prompt uses "assistant" for agent-interaction facts; that
// value is rewritten to "bank". Anything unrecognized falls back to "world".
func NormalizeFactType(raw string) FactType {
	switch strings.TrimSpace(strings.ToLower(raw)) {
	case "world":
		return FactTypeWorld
	case "bank", "assistant":
		return FactTypeBank
	case "opinion":
		return FactTypeOpinion
	default:
		return FactTypeWorld
	}
}

// ParseFactType reports whether raw names a valid stored fact type.
func ParseFactType(raw string) (FactType, bool) {
	switch FactType(strings.TrimSpace(strings.ToLower(raw))) {
	case FactTypeWorld:
		return FactTypeWorld, true
	case FactTypeBank:
		return FactTypeBank, true
	case FactTypeOpinion:
		return FactTypeOpinion, true
	}
	return "", false
}

// FactKind is the temporal nature of a fact during extraction. It controls
// whether occurred_start/occurred_end survive into storage and is itself
// never persisted.
type FactKind string

const (
	FactKindConversation FactKind = "conversation"
	FactKindEvent        FactKind = "event"
	FactKindOther        FactKind = "other"
)

// NormalizeFactKind falls back to "conversation" for unknown values.
func NormalizeFactKind(raw string) FactKind {
	switch FactKind(strings.TrimSpace(strings.ToLower(raw))) {
	case FactKindEvent:
		return FactKindEvent
	case FactKindOther:
		return FactKindOther
	default:
		return FactKindConversation
	}
}

// LinkKind classifies a directed edge between two units.
type LinkKind string

const (
	LinkKindTemporal LinkKind = "temporal"
	LinkKindSemantic LinkKind = "semantic"
	LinkKindCausal   LinkKind = "causal"
)

// CausalKind is the sub-kind carried as metadata on causal links.
type CausalKind string

const (
	CausalCauses   CausalKind = "causes"
	CausalCausedBy CausalKind = "caused_by"
	CausalEnables  CausalKind = "enables"
	CausalPrevents CausalKind = "prevents"
)

// ParseCausalKind validates a raw relation type from the extractor.
func ParseCausalKind(raw string) (CausalKind, bool) {
	switch CausalKind(strings.TrimSpace(strings.ToLower(raw))) {
	case CausalCauses:
		return CausalCauses, true
	case CausalCausedBy:
		return CausalCausedBy, true
	case CausalEnables:
		return CausalEnables, true
	case CausalPrevents:
		return CausalPrevents, true
	}
	return "", false
}

// RetainContent is one immutable content item of a retain batch.
type RetainContent struct {
	Content   string
	Context   string
	EventDate time.Time
	Metadata  map[string]string
}

// CausalRelation is a directed causal edge reported by the extractor.
// TargetFactIndex is a global fact index within the batch after rebasing.
type CausalRelation struct {
	RelationType    CausalKind
	TargetFactIndex int
	Strength        float64
}

// FactDimensions are the optional narrative dimensions of a fact. They are
// folded into FactText and also stored individually.
type FactDimensions struct {
	EmotionalSignificance string
	ReasoningMotivation   string
	PreferencesOpinions   string
	SensoryDetails        string
	Observations          string
}

// Ordered returns the dimension texts in the stable combination order.
func (d FactDimensions) Ordered() []string {
	return []string{
		d.EmotionalSignificance,
		d.ReasoningMotivation,
		d.PreferencesOpinions,
		d.SensoryDetails,
		d.Observations,
	}
}

// ExtractedFact is a fact produced by the extractor, before embedding and
// persistence. MentionedAt is always set; OccurredStart/End are only kept
// for event-kind facts.
type ExtractedFact struct {
	FactText        string
	FactType        FactType
	Dimensions      FactDimensions
	Entities        []string
	OccurredStart   *time.Time
	OccurredEnd     *time.Time
	MentionedAt     time.Time
	CausalRelations []CausalRelation

	// Positional bookkeeping within the batch.
	ContentIndex int
	ChunkIndex   int

	Context  string
	Metadata map[string]string
}

// ProcessedFact is an ExtractedFact with its embedding and storage-time
// attributes attached.
type ProcessedFact struct {
	ExtractedFact

	Embedding  []float32
	ChunkID    *uuid.UUID
	Confidence *float64
}

// ChunkMetadata describes one chunk the extractor worked on. FactCount maps
// extracted facts back onto their source chunk; ChunkIndex is global across
// the batch in content order.
type ChunkMetadata struct {
	ChunkText    string
	FactCount    int
	ContentIndex int
	ChunkIndex   int
}

// EntityLink attaches a resolved entity to a stored unit.
type EntityLink struct {
	UnitID     uuid.UUID
	EntityID   uuid.UUID
	EntityName string
	Confidence float64
}

// UnitLink is a directed edge between two units of the same bank.
// Metadata carries the causal sub-kind for causal links and is empty
// otherwise.
type UnitLink struct {
	SrcUnitID uuid.UUID
	DstUnitID uuid.UUID
	Kind      LinkKind
	Weight    float64
	Metadata  string
}

// BankProfile is the per-bank profile loaded before extraction. Name is the
// owner agent's self-reference and feeds the extraction prompt.
type BankProfile struct {
	ID   string
	Name string
}

// BuildFactText combines the factual core with the optional dimension texts
// in stable order, joined with " - ".
func BuildFactText(core string, dimensions ...string) string {
	parts := make([]string, 0, 1+len(dimensions))
	parts = append(parts, core)
	for _, d := range dimensions {
		if strings.TrimSpace(d) != "" {
			parts = append(parts, d)
		}
	}
	if len(parts) == 1 {
		return parts[0]
	}
	return parts[0] + " - " + strings.Join(parts[1:], " - ")
}
