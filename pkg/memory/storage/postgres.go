package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	pgxvector "github.com/pgvector/pgvector-go/pgx"

	"github.com/recollect-ai/recollect/pkg/memory"
	"github.com/recollect-ai/recollect/pkg/memory/linking"
)

const (
	acquireAttempts    = 3
	acquireBackoffBase = 100 * time.Millisecond
)

// PostgresStore implements Interface on PostgreSQL + pgvector.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *log.Logger
	dims   int
}

// NewPostgresStoreInput contains the dependencies for PostgresStore.
type NewPostgresStoreInput struct {
	Pool *pgxpool.Pool
	// EmbeddingDimensions is the fixed vector dimensionality; inserts with
	// a different length are rejected.
	EmbeddingDimensions int
	Logger              *log.Logger
}

// NewPostgresStore creates a new PostgresStore instance.
func NewPostgresStore(input NewPostgresStoreInput) (*PostgresStore, error) {
	if input.Pool == nil {
		return nil, fmt.Errorf("pool cannot be nil")
	}
	if input.Logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if input.EmbeddingDimensions <= 0 {
		return nil, fmt.Errorf("embedding dimensions must be positive")
	}
	return &PostgresStore{
		pool:   input.Pool,
		logger: input.Logger,
		dims:   input.EmbeddingDimensions,
	}, nil
}

// NewPool opens a pgx pool with pgvector types registered on every
// connection.
func NewPool(ctx context.Context, connString string, poolSize int) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}
	if poolSize > 0 {
		cfg.MaxConns = int32(poolSize)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvector.RegisterTypes(ctx, conn)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}
	return pool, nil
}

// GetBankProfile loads the bank profile; a missing bank yields a default
// profile whose name is the bank ID (banks are created lazily on retain).
func (s *PostgresStore) GetBankProfile(ctx context.Context, bankID string) (memory.BankProfile, error) {
	var profile memory.BankProfile
	err := s.pool.QueryRow(ctx,
		`SELECT id, name FROM banks WHERE id = $1`, bankID,
	).Scan(&profile.ID, &profile.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return memory.BankProfile{ID: bankID, Name: bankID}, nil
	}
	if err != nil {
		return memory.BankProfile{}, fmt.Errorf("loading bank profile: %w", err)
	}
	return profile, nil
}

// VerifyEmbeddingDimensions compares the configured dimensionality against
// the migrated units.embedding column. A mismatch fails here with a clear
// message instead of surfacing as a raw insert error mid-batch. For pgvector
// columns atttypmod holds the declared dimension.
func (s *PostgresStore) VerifyEmbeddingDimensions(ctx context.Context) error {
	var schemaDims int
	err := s.pool.QueryRow(ctx,
		`SELECT atttypmod FROM pg_attribute
		 WHERE attrelid = 'units'::regclass AND attname = 'embedding'`,
	).Scan(&schemaDims)
	if err != nil {
		return fmt.Errorf("reading embedding column dimensions: %w", err)
	}
	return checkEmbeddingDims(schemaDims, s.dims)
}

func checkEmbeddingDims(schemaDims, configuredDims int) error {
	if schemaDims != configuredDims {
		return fmt.Errorf("embedding dimensions mismatch: schema column is vector(%d), configured dimensionality is %d", schemaDims, configuredDims)
	}
	return nil
}

func (s *PostgresStore) acquireWithRetry(ctx context.Context) (*pgxpool.Conn, error) {
	var lastErr error
	for attempt := 0; attempt < acquireAttempts; attempt++ {
		if attempt > 0 {
			backoff := acquireBackoffBase << (attempt - 1)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		conn, err := s.pool.Acquire(ctx)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		s.logger.Warn("connection acquisition failed, retrying", "attempt", attempt+1, "error", err)
	}
	return nil, fmt.Errorf("acquiring connection after %d attempts: %w", acquireAttempts, lastErr)
}

// RunInTransaction acquires one connection, opens one transaction and runs
// fn. The transaction commits only when fn returns nil; both the
// transaction and the connection are released on every exit path.
func (s *PostgresStore) RunInTransaction(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	conn, err := s.acquireWithRetry(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	tx, err := conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() {
		// No-op after a successful commit.
		_ = tx.Rollback(ctx)
	}()

	if err := fn(ctx, &pgTx{tx: tx, store: s}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// DeleteBank removes the bank row; documents, chunks, units, entities and
// links all go with it through foreign key cascades.
func (s *PostgresStore) DeleteBank(ctx context.Context, bankID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM banks WHERE id = $1`, bankID)
	if err != nil {
		return fmt.Errorf("deleting bank %s: %w", bankID, err)
	}
	s.logger.Info("bank deleted", "bank_id", bankID, "existed", tag.RowsAffected() > 0)
	return nil
}

// pgTx implements Tx on one open pgx transaction.
type pgTx struct {
	tx    pgx.Tx
	store *PostgresStore
}

var _ Tx = (*pgTx)(nil)

func (t *pgTx) EnsureBankExists(ctx context.Context, bankID string) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO banks (id, name) VALUES ($1, $1) ON CONFLICT (id) DO NOTHING`, bankID)
	if err != nil {
		return fmt.Errorf("ensuring bank %s: %w", bankID, err)
	}
	return nil
}

func (t *pgTx) UpsertDocument(ctx context.Context, bankID, documentID, content string, isFirstBatch bool) error {
	if isFirstBatch {
		// Replace the document: prior facts and chunks of this document
		// version are dropped before the new content lands.
		if _, err := t.tx.Exec(ctx,
			`DELETE FROM units WHERE bank_id = $1 AND document_id = $2`, bankID, documentID); err != nil {
			return fmt.Errorf("deleting prior units of document %s: %w", documentID, err)
		}
		if _, err := t.tx.Exec(ctx,
			`DELETE FROM chunks WHERE bank_id = $1 AND document_id = $2`, bankID, documentID); err != nil {
			return fmt.Errorf("deleting prior chunks of document %s: %w", documentID, err)
		}
		if _, err := t.tx.Exec(ctx,
			`INSERT INTO documents (bank_id, id, content) VALUES ($1, $2, $3)
			 ON CONFLICT (bank_id, id) DO UPDATE SET content = EXCLUDED.content`,
			bankID, documentID, content); err != nil {
			return fmt.Errorf("upserting document %s: %w", documentID, err)
		}
		return nil
	}

	if _, err := t.tx.Exec(ctx,
		`INSERT INTO documents (bank_id, id, content) VALUES ($1, $2, $3)
		 ON CONFLICT (bank_id, id) DO UPDATE SET content = documents.content || E'\n' || EXCLUDED.content`,
		bankID, documentID, content); err != nil {
		return fmt.Errorf("appending to document %s: %w", documentID, err)
	}
	return nil
}

func (t *pgTx) StoreChunksBatch(ctx context.Context, bankID, documentID string, chunks []memory.ChunkMetadata) (map[int]uuid.UUID, error) {
	if len(chunks) == 0 {
		return map[int]uuid.UUID{}, nil
	}

	// chunk_index continues across append batches of the same document.
	var base int
	if err := t.tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(chunk_index) + 1, 0) FROM chunks WHERE bank_id = $1 AND document_id = $2`,
		bankID, documentID,
	).Scan(&base); err != nil {
		return nil, fmt.Errorf("reading chunk index base: %w", err)
	}

	idMap := make(map[int]uuid.UUID, len(chunks))
	batch := &pgx.Batch{}
	for i, chunk := range chunks {
		id := uuid.New()
		idMap[chunk.ChunkIndex] = id
		batch.Queue(
			`INSERT INTO chunks (id, bank_id, document_id, chunk_index, chunk_text) VALUES ($1, $2, $3, $4, $5)`,
			id, bankID, documentID, base+i, chunk.ChunkText)
	}
	if err := t.sendBatch(ctx, batch); err != nil {
		return nil, fmt.Errorf("storing %d chunks: %w", len(chunks), err)
	}
	return idMap, nil
}

func (t *pgTx) InsertFactsBatch(ctx context.Context, bankID string, facts []memory.ProcessedFact, documentID string) ([]uuid.UUID, error) {
	if len(facts) == 0 {
		return nil, nil
	}

	ids := make([]uuid.UUID, 0, len(facts))
	batch := &pgx.Batch{}
	for i, fact := range facts {
		if len(fact.Embedding) != t.store.dims {
			return nil, fmt.Errorf("fact %d: embedding has %d dimensions, bank expects %d", i, len(fact.Embedding), t.store.dims)
		}
		if fact.MentionedAt.IsZero() {
			return nil, fmt.Errorf("fact %d: mentioned_at is not set", i)
		}

		var metadataJSON []byte
		if len(fact.Metadata) > 0 {
			var err error
			metadataJSON, err = json.Marshal(fact.Metadata)
			if err != nil {
				return nil, fmt.Errorf("fact %d: encoding metadata: %w", i, err)
			}
		}

		id := uuid.New()
		ids = append(ids, id)
		batch.Queue(
			`INSERT INTO units (
				id, bank_id, document_id, chunk_id, fact_text, fact_type, embedding,
				mentioned_at, occurred_start, occurred_end, confidence,
				emotional_significance, reasoning_motivation, preferences_opinions,
				sensory_details, observations, metadata
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
			id,
			bankID,
			nullString(documentID),
			fact.ChunkID,
			fact.FactText,
			string(fact.FactType),
			pgvector.NewVector(fact.Embedding),
			linking.NormalizeTime(fact.MentionedAt),
			normalizeTimePtr(fact.OccurredStart),
			normalizeTimePtr(fact.OccurredEnd),
			fact.Confidence,
			nullString(fact.Dimensions.EmotionalSignificance),
			nullString(fact.Dimensions.ReasoningMotivation),
			nullString(fact.Dimensions.PreferencesOpinions),
			nullString(fact.Dimensions.SensoryDetails),
			nullString(fact.Dimensions.Observations),
			metadataJSON,
		)
	}
	if err := t.sendBatch(ctx, batch); err != nil {
		return nil, fmt.Errorf("inserting %d facts: %w", len(facts), err)
	}
	return ids, nil
}

func (t *pgTx) GetOrCreateEntity(ctx context.Context, bankID, name string) (uuid.UUID, error) {
	canonical := CanonicalEntityName(name)
	if canonical == "" {
		return uuid.Nil, fmt.Errorf("entity name is empty")
	}
	var id uuid.UUID
	err := t.tx.QueryRow(ctx,
		`INSERT INTO entities (id, bank_id, name, canonical_name) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (bank_id, canonical_name) DO UPDATE SET name = entities.name
		 RETURNING id`,
		uuid.New(), bankID, strings.TrimSpace(name), canonical,
	).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("resolving entity %q: %w", name, err)
	}
	return id, nil
}

func (t *pgTx) InsertEntityLinks(ctx context.Context, links []memory.EntityLink) error {
	if len(links) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, link := range links {
		batch.Queue(
			`INSERT INTO entity_links (unit_id, entity_id, confidence) VALUES ($1, $2, $3)
			 ON CONFLICT (unit_id, entity_id) DO NOTHING`,
			link.UnitID, link.EntityID, link.Confidence)
	}
	if err := t.sendBatch(ctx, batch); err != nil {
		return fmt.Errorf("inserting %d entity links: %w", len(links), err)
	}
	return nil
}

func (t *pgTx) InsertUnitLinks(ctx context.Context, links []memory.UnitLink) error {
	if len(links) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, link := range links {
		var metadataJSON []byte
		if link.Metadata != "" {
			var err error
			metadataJSON, err = json.Marshal(map[string]string{"relation_type": link.Metadata})
			if err != nil {
				return fmt.Errorf("encoding link metadata: %w", err)
			}
		}
		batch.Queue(
			`INSERT INTO unit_links (src_unit_id, dst_unit_id, kind, weight, metadata) VALUES ($1, $2, $3, $4, $5)
			 ON CONFLICT (src_unit_id, dst_unit_id, kind) DO NOTHING`,
			link.SrcUnitID, link.DstUnitID, string(link.Kind), link.Weight, metadataJSON)
	}
	if err := t.sendBatch(ctx, batch); err != nil {
		return fmt.Errorf("inserting %d unit links: %w", len(links), err)
	}
	return nil
}

func (t *pgTx) TemporalCandidates(ctx context.Context, bankID string, from, upTo time.Time, limit int) ([]linking.TemporalCandidate, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := t.tx.Query(ctx,
		`SELECT id, mentioned_at FROM units
		 WHERE bank_id = $1 AND mentioned_at >= $2 AND mentioned_at <= $3
		 ORDER BY mentioned_at ASC
		 LIMIT $4`,
		bankID, from, upTo, limit)
	if err != nil {
		return nil, fmt.Errorf("querying temporal candidates: %w", err)
	}
	defer rows.Close()

	var candidates []linking.TemporalCandidate
	for rows.Next() {
		var c linking.TemporalCandidate
		if err := rows.Scan(&c.ID, &c.EventDate); err != nil {
			return nil, fmt.Errorf("scanning temporal candidate: %w", err)
		}
		candidates = append(candidates, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading temporal candidates: %w", err)
	}
	return candidates, nil
}

func (t *pgTx) SemanticNeighbors(ctx context.Context, bankID string, embedding []float32, k int, exclude []uuid.UUID) ([]linking.SemanticNeighbor, error) {
	if k <= 0 {
		k = 20
	}
	if exclude == nil {
		exclude = []uuid.UUID{}
	}
	vec := pgvector.NewVector(embedding)
	rows, err := t.tx.Query(ctx,
		`SELECT id, 1 - (embedding <=> $2) AS similarity FROM units
		 WHERE bank_id = $1 AND NOT (id = ANY($3))
		 ORDER BY embedding <=> $2
		 LIMIT $4`,
		bankID, vec, exclude, k)
	if err != nil {
		return nil, fmt.Errorf("querying semantic neighbors: %w", err)
	}
	defer rows.Close()

	var neighbors []linking.SemanticNeighbor
	for rows.Next() {
		var n linking.SemanticNeighbor
		if err := rows.Scan(&n.ID, &n.Similarity); err != nil {
			return nil, fmt.Errorf("scanning semantic neighbor: %w", err)
		}
		neighbors = append(neighbors, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading semantic neighbors: %w", err)
	}
	return neighbors, nil
}

func (t *pgTx) FindDuplicate(ctx context.Context, bankID, factText string, embedding []float32, threshold float64) (bool, error) {
	vec := pgvector.NewVector(embedding)
	var existingText string
	var similarity float64
	err := t.tx.QueryRow(ctx,
		`SELECT fact_text, 1 - (embedding <=> $2) AS similarity FROM units
		 WHERE bank_id = $1
		 ORDER BY embedding <=> $2
		 LIMIT 1`,
		bankID, vec,
	).Scan(&existingText, &similarity)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("querying duplicate candidate: %w", err)
	}
	return similarity >= threshold && NormalizeFactText(existingText) == NormalizeFactText(factText), nil
}

// sendBatch runs a batch and drains every queued result.
func (t *pgTx) sendBatch(ctx context.Context, batch *pgx.Batch) error {
	results := t.tx.SendBatch(ctx, batch)
	defer func() { _ = results.Close() }()
	for i := 0; i < batch.Len(); i++ {
		if _, err := results.Exec(); err != nil {
			return err
		}
	}
	return results.Close()
}

// CanonicalEntityName normalizes an entity name for bank-scoped identity:
// lowercase, trimmed, inner whitespace collapsed.
func CanonicalEntityName(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}

// NormalizeFactText reduces a fact text for near-equivalence comparison.
func NormalizeFactText(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(text)), " ")
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func normalizeTimePtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	utc := linking.NormalizeTime(*t)
	return &utc
}
