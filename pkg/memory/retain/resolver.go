package retain

import (
	"context"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/recollect-ai/recollect/pkg/memory"
	"github.com/recollect-ai/recollect/pkg/memory/storage"
)

// EntityResolver maps the entity mentions of a stored unit onto bank-scoped
// entity rows inside the retain transaction.
type EntityResolver interface {
	Resolve(ctx context.Context, tx storage.Tx, bankID string, unitID uuid.UUID, names []string) ([]memory.EntityLink, error)
}

// DuplicateChecker decides whether a fact is a near-duplicate of a stored
// unit and should be dropped.
type DuplicateChecker interface {
	IsDuplicate(ctx context.Context, tx storage.Tx, bankID string, fact memory.ProcessedFact, threshold float64) (bool, error)
}

// NaiveEntityResolver resolves entity mentions by canonical-name identity.
// A resolution failure drops that one mention, never the fact.
type NaiveEntityResolver struct {
	logger *log.Logger
}

func NewNaiveEntityResolver(logger *log.Logger) *NaiveEntityResolver {
	return &NaiveEntityResolver{logger: logger}
}

func (r *NaiveEntityResolver) Resolve(ctx context.Context, tx storage.Tx, bankID string, unitID uuid.UUID, names []string) ([]memory.EntityLink, error) {
	seen := make(map[string]struct{}, len(names))
	var links []memory.EntityLink
	for _, name := range names {
		canonical := storage.CanonicalEntityName(name)
		if canonical == "" {
			continue
		}
		if _, dup := seen[canonical]; dup {
			continue
		}
		seen[canonical] = struct{}{}

		entityID, err := tx.GetOrCreateEntity(ctx, bankID, strings.TrimSpace(name))
		if err != nil {
			r.logger.Warn("entity resolution failed, skipping mention", "entity", name, "error", err)
			continue
		}
		links = append(links, memory.EntityLink{
			UnitID:     unitID,
			EntityID:   entityID,
			EntityName: strings.TrimSpace(name),
			Confidence: 1.0,
		})
	}
	return links, nil
}

// VectorDuplicateChecker flags facts whose nearest stored neighbor is both
// within the cosine threshold and textually near-equivalent. Check failures
// err on the side of keeping the fact.
type VectorDuplicateChecker struct {
	logger *log.Logger
}

func NewVectorDuplicateChecker(logger *log.Logger) *VectorDuplicateChecker {
	return &VectorDuplicateChecker{logger: logger}
}

func (c *VectorDuplicateChecker) IsDuplicate(ctx context.Context, tx storage.Tx, bankID string, fact memory.ProcessedFact, threshold float64) (bool, error) {
	isDup, err := tx.FindDuplicate(ctx, bankID, fact.FactText, fact.Embedding, threshold)
	if err != nil {
		c.logger.Warn("duplicate check failed, keeping fact", "error", err)
		return false, nil
	}
	return isDup, nil
}
