// Package storage persists banks, documents, chunks, units, entities and
// links on PostgreSQL with pgvector. Retain-time mutations run through a
// single transaction obtained from RunInTransaction.
package storage

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/recollect-ai/recollect/pkg/memory"
	"github.com/recollect-ai/recollect/pkg/memory/linking"
)

// Interface is the storage contract the retain orchestrator depends on.
type Interface interface {
	// GetBankProfile loads the bank profile, or a default profile (name =
	// bank ID) when the bank does not exist yet. Banks are created lazily
	// inside the retain transaction.
	GetBankProfile(ctx context.Context, bankID string) (memory.BankProfile, error)

	// RunInTransaction acquires a connection (with bounded retry), opens
	// one transaction, runs fn and commits. Any error rolls back. The Tx
	// must not escape fn.
	RunInTransaction(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	// DeleteBank removes the bank and everything it contains: documents,
	// chunks, units, entities, entity links and unit links.
	DeleteBank(ctx context.Context, bankID string) error
}

// Tx exposes the transactional operations of one retain batch.
type Tx interface {
	// EnsureBankExists creates the bank row if missing.
	EnsureBankExists(ctx context.Context, bankID string) error

	// UpsertDocument tracks the source document. When isFirstBatch is
	// true an existing document is replaced and its previous chunks and
	// units are cascade-deleted; otherwise content is appended.
	UpsertDocument(ctx context.Context, bankID, documentID, content string, isFirstBatch bool) error

	// StoreChunksBatch inserts the chunks and returns batch chunk index ->
	// chunk ID. chunk_index is dense and monotonic per document version,
	// continuing from prior batches of the same document.
	StoreChunksBatch(ctx context.Context, bankID, documentID string, chunks []memory.ChunkMetadata) (map[int]uuid.UUID, error)

	// InsertFactsBatch bulk-inserts the facts and returns their unit IDs
	// in input order.
	InsertFactsBatch(ctx context.Context, bankID string, facts []memory.ProcessedFact, documentID string) ([]uuid.UUID, error)

	// GetOrCreateEntity resolves a bank-scoped entity name to its ID,
	// creating the entity inside the current transaction when new.
	GetOrCreateEntity(ctx context.Context, bankID, name string) (uuid.UUID, error)

	// InsertEntityLinks bulk-inserts entity links.
	InsertEntityLinks(ctx context.Context, links []memory.EntityLink) error

	// InsertUnitLinks bulk-inserts unit links of any kind.
	InsertUnitLinks(ctx context.Context, links []memory.UnitLink) error

	// TemporalCandidates returns units of the bank mentioned within
	// [from, upTo], ordered by mentioned_at.
	TemporalCandidates(ctx context.Context, bankID string, from, upTo time.Time, limit int) ([]linking.TemporalCandidate, error)

	// SemanticNeighbors returns the k nearest units of the bank by cosine
	// similarity, excluding the given IDs, best first.
	SemanticNeighbors(ctx context.Context, bankID string, embedding []float32, k int, exclude []uuid.UUID) ([]linking.SemanticNeighbor, error)

	// FindDuplicate reports whether the bank already holds a fact that is
	// textually near-equivalent to factText and within the similarity
	// threshold of embedding.
	FindDuplicate(ctx context.Context, bankID, factText string, embedding []float32, threshold float64) (bool, error)
}
