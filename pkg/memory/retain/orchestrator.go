// Package retain implements the write path of the memory substrate:
// chunking, LLM fact extraction, embedding, deduplication, entity
// resolution and link building, committed in one transaction per batch.
package retain

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/recollect-ai/recollect/pkg/memory"
	"github.com/recollect-ai/recollect/pkg/memory/linking"
	"github.com/recollect-ai/recollect/pkg/memory/storage"
	"github.com/recollect-ai/recollect/pkg/memory/tasks"
)

const (
	topNEntitiesForObservations = 5
	minFactsForObservations     = 5
	temporalCandidateLimit      = 500
)

// FactExtractor is the extraction stage contract.
type FactExtractor interface {
	ExtractFromContents(ctx context.Context, contents []memory.RetainContent, agentName string, opinionsOnly bool) ([]memory.ExtractedFact, []memory.ChunkMetadata, error)
}

// Config tunes the pipeline's linking and deduplication behavior.
type Config struct {
	// TimeWindowHours bounds temporal linking.
	TimeWindowHours int
	// MaxTemporalLinks caps temporal links per new unit.
	MaxTemporalLinks int
	// SemanticTopK is the neighbor pool size fetched per new unit.
	SemanticTopK int
	// SemanticFloor is the minimum similarity for a semantic link.
	SemanticFloor float64
	// MaxSemanticLinks caps semantic links per new unit.
	MaxSemanticLinks int
	// DedupThreshold is the cosine similarity above which a textually
	// near-equivalent fact counts as a duplicate.
	DedupThreshold float64
}

// DefaultConfig returns the pipeline defaults.
func DefaultConfig() Config {
	return Config{
		TimeWindowHours:  linking.DefaultTimeWindowHours,
		MaxTemporalLinks: linking.MaxTemporalLinksPerUnit,
		SemanticTopK:     20,
		SemanticFloor:    0.55,
		MaxSemanticLinks: 5,
		DedupThreshold:   0.96,
	}
}

// Dependencies contains all dependencies needed by the orchestrator.
type Dependencies struct {
	Logger     *log.Logger
	Storage    storage.Interface
	Extractor  FactExtractor
	Embedder   Embedder
	Tasks      tasks.Backend
	Resolver   EntityResolver
	Duplicates DuplicateChecker
	Config     Config
}

// Orchestrator drives one retain batch end to end.
type Orchestrator struct {
	logger     *log.Logger
	store      storage.Interface
	extractor  FactExtractor
	embedder   Embedder
	tasks      tasks.Backend
	resolver   EntityResolver
	duplicates DuplicateChecker
	cfg        Config
}

// New creates an Orchestrator, validating that all dependencies are
// provided.
func New(deps Dependencies) (*Orchestrator, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if deps.Storage == nil {
		return nil, fmt.Errorf("storage cannot be nil")
	}
	if deps.Extractor == nil {
		return nil, fmt.Errorf("extractor cannot be nil")
	}
	if deps.Embedder == nil {
		return nil, fmt.Errorf("embedder cannot be nil")
	}
	if deps.Tasks == nil {
		return nil, fmt.Errorf("task backend cannot be nil")
	}
	if deps.Resolver == nil {
		return nil, fmt.Errorf("entity resolver cannot be nil")
	}
	if deps.Duplicates == nil {
		return nil, fmt.Errorf("duplicate checker cannot be nil")
	}
	cfg := deps.Config
	if cfg == (Config{}) {
		cfg = DefaultConfig()
	}
	return &Orchestrator{
		logger:     deps.Logger,
		store:      deps.Storage,
		extractor:  deps.Extractor,
		embedder:   deps.Embedder,
		tasks:      deps.Tasks,
		resolver:   deps.Resolver,
		duplicates: deps.Duplicates,
		cfg:        cfg,
	}, nil
}

// ContentItem is one content item of a retain batch.
type ContentItem struct {
	Content string
	Context string
	// EventDate is when the content happened. Zero means now.
	EventDate time.Time
	Metadata  map[string]string
}

// RetainOptions tunes one retain batch.
type RetainOptions struct {
	// DocumentID groups the batch under a source document. Empty generates
	// one when chunks are stored.
	DocumentID string
	// Append marks a continuation batch of DocumentID. The default
	// replaces the document and everything extracted from it before.
	Append bool
	// FactTypeOverride forces the type of every extracted fact. The value
	// "opinion" switches extraction into opinions-only mode.
	FactTypeOverride string
	// ConfidenceScore, when set, is stored on every inserted fact. Must be
	// in [0, 1].
	ConfidenceScore *float64
}

// Retain processes a single content item.
func (o *Orchestrator) Retain(ctx context.Context, bankID string, item ContentItem, opts RetainOptions) ([]uuid.UUID, error) {
	results, err := o.RetainBatch(ctx, bankID, []ContentItem{item}, opts)
	if err != nil {
		return nil, err
	}
	return results[0], nil
}

// RetainBatch processes a batch of content items in one transaction and
// returns, per content item, the IDs of the units it produced. Duplicated
// facts produce no unit and no ID.
func (o *Orchestrator) RetainBatch(ctx context.Context, bankID string, items []ContentItem, opts RetainOptions) ([][]uuid.UUID, error) {
	start := time.Now()

	if bankID == "" {
		return nil, fmt.Errorf("bank id cannot be empty")
	}
	var override memory.FactType
	if opts.FactTypeOverride != "" {
		var ok bool
		override, ok = memory.ParseFactType(opts.FactTypeOverride)
		if !ok {
			return nil, fmt.Errorf("invalid fact type override %q", opts.FactTypeOverride)
		}
	}
	if opts.ConfidenceScore != nil && (*opts.ConfidenceScore < 0 || *opts.ConfidenceScore > 1) {
		return nil, fmt.Errorf("confidence score %v out of range [0, 1]", *opts.ConfidenceScore)
	}

	emptyResults := make([][]uuid.UUID, len(items))
	if len(items) == 0 {
		return emptyResults, nil
	}

	profile, err := o.store.GetBankProfile(ctx, bankID)
	if err != nil {
		return nil, err
	}

	contents := make([]memory.RetainContent, len(items))
	totalChars := 0
	for i, item := range items {
		eventDate := item.EventDate
		if eventDate.IsZero() {
			eventDate = time.Now().UTC()
		}
		contents[i] = memory.RetainContent{
			Content:   item.Content,
			Context:   item.Context,
			EventDate: linking.NormalizeTime(eventDate),
			Metadata:  item.Metadata,
		}
		totalChars += len(item.Content)
	}

	o.logger.Info("retain batch started", "bank_id", bankID, "contents", len(items), "chars", totalChars)

	stepStart := time.Now()
	opinionsOnly := override == memory.FactTypeOpinion
	extractedFacts, chunks, err := o.extractor.ExtractFromContents(ctx, contents, profile.Name, opinionsOnly)
	if err != nil {
		return nil, fmt.Errorf("extracting facts: %w", err)
	}
	o.logger.Info("facts extracted", "facts", len(extractedFacts), "chunks", len(chunks), "duration", time.Since(stepStart))

	if len(extractedFacts) == 0 {
		return emptyResults, nil
	}

	for i := range extractedFacts {
		if override != "" {
			extractedFacts[i].FactType = override
		}
		// An inverted occurred range is an extractor defect, not a reason
		// to drop the fact.
		if extractedFacts[i].OccurredStart != nil && extractedFacts[i].OccurredEnd != nil &&
			extractedFacts[i].OccurredStart.After(*extractedFacts[i].OccurredEnd) {
			o.logger.Warn("clearing inverted occurred range", "fact_index", i)
			extractedFacts[i].OccurredStart = nil
			extractedFacts[i].OccurredEnd = nil
		}
	}

	stepStart = time.Now()
	processedFacts, err := EmbedFacts(ctx, o.embedder, extractedFacts)
	if err != nil {
		return nil, err
	}
	o.logger.Info("embeddings generated", "count", len(processedFacts), "duration", time.Since(stepStart))

	if opts.ConfidenceScore != nil {
		for i := range processedFacts {
			processedFacts[i].Confidence = opts.ConfidenceScore
		}
	}

	var (
		results     [][]uuid.UUID
		unitIDs     []uuid.UUID
		kept        []memory.ProcessedFact
		entityLinks []memory.EntityLink
	)
	err = o.store.RunInTransaction(ctx, func(ctx context.Context, tx storage.Tx) error {
		if err := tx.EnsureBankExists(ctx, bankID); err != nil {
			return err
		}

		documentID := opts.DocumentID
		if documentID == "" && len(chunks) > 0 {
			documentID = uuid.New().String()
			o.logger.Debug("generated document id", "document_id", documentID)
		}
		if documentID != "" {
			combined := joinContents(contents)
			if err := tx.UpsertDocument(ctx, bankID, documentID, combined, !opts.Append); err != nil {
				return err
			}
		}

		if documentID != "" && len(chunks) > 0 {
			stepStart = time.Now()
			chunkIDMap, err := tx.StoreChunksBatch(ctx, bankID, documentID, chunks)
			if err != nil {
				return err
			}
			for i := range processedFacts {
				if id, ok := chunkIDMap[processedFacts[i].ChunkIndex]; ok {
					chunkID := id
					processedFacts[i].ChunkID = &chunkID
				}
			}
			o.logger.Info("chunks stored", "count", len(chunks), "duration", time.Since(stepStart))
		}

		stepStart = time.Now()
		duplicateFlags := make([]bool, len(processedFacts))
		duplicateCount := 0
		for i, fact := range processedFacts {
			isDup, err := o.duplicates.IsDuplicate(ctx, tx, bankID, fact, o.cfg.DedupThreshold)
			if err != nil {
				return err
			}
			duplicateFlags[i] = isDup
			if isDup {
				duplicateCount++
			}
		}
		o.logger.Info("deduplication done", "duplicates", duplicateCount, "duration", time.Since(stepStart))

		kept = kept[:0]
		for i, fact := range processedFacts {
			if !duplicateFlags[i] {
				kept = append(kept, fact)
			}
		}
		if len(kept) == 0 {
			results = emptyResults
			return nil
		}

		stepStart = time.Now()
		unitIDs, err = tx.InsertFactsBatch(ctx, bankID, kept, documentID)
		if err != nil {
			return err
		}
		o.logger.Info("facts inserted", "units", len(unitIDs), "duration", time.Since(stepStart))

		stepStart = time.Now()
		entityLinks = entityLinks[:0]
		for i, fact := range kept {
			links, err := o.resolver.Resolve(ctx, tx, bankID, unitIDs[i], fact.Entities)
			if err != nil {
				return err
			}
			entityLinks = append(entityLinks, links...)
		}
		o.logger.Info("entities resolved", "links", len(entityLinks), "duration", time.Since(stepStart))

		unitLinks, err := o.buildUnitLinks(ctx, tx, bankID, kept, duplicateFlags, processedFacts, unitIDs)
		if err != nil {
			return err
		}

		if err := tx.InsertEntityLinks(ctx, entityLinks); err != nil {
			return err
		}
		if err := tx.InsertUnitLinks(ctx, unitLinks); err != nil {
			return err
		}

		results = mapResultsToContents(len(contents), processedFacts, duplicateFlags, unitIDs)
		return nil
	})
	if err != nil {
		return nil, err
	}

	o.logger.Info("retain batch complete", "bank_id", bankID, "units", len(unitIDs), "duration", time.Since(start))

	if len(unitIDs) > 0 {
		o.triggerBackgroundTasks(ctx, bankID, unitIDs, kept, entityLinks)
	}
	return results, nil
}

// buildUnitLinks computes temporal, semantic and causal links for the newly
// inserted units.
func (o *Orchestrator) buildUnitLinks(ctx context.Context, tx storage.Tx, bankID string, kept []memory.ProcessedFact, duplicateFlags []bool, allFacts []memory.ProcessedFact, unitIDs []uuid.UUID) ([]memory.UnitLink, error) {
	stepStart := time.Now()
	unitDates := make(map[uuid.UUID]time.Time, len(unitIDs))
	for i, id := range unitIDs {
		unitDates[id] = kept[i].MentionedAt
	}

	var links []memory.UnitLink
	if lower, upper, ok := linking.ComputeTemporalQueryBounds(unitDates, o.cfg.TimeWindowHours); ok {
		candidates, err := tx.TemporalCandidates(ctx, bankID, lower, upper, temporalCandidateLimit)
		if err != nil {
			return nil, err
		}
		links = append(links, linking.ComputeTemporalLinks(unitDates, candidates, o.cfg.TimeWindowHours, o.cfg.MaxTemporalLinks)...)
	}

	neighbors := make(map[uuid.UUID][]linking.SemanticNeighbor, len(unitIDs))
	for i, id := range unitIDs {
		found, err := tx.SemanticNeighbors(ctx, bankID, kept[i].Embedding, o.cfg.SemanticTopK, unitIDs)
		if err != nil {
			return nil, err
		}
		neighbors[id] = found
	}
	links = append(links, linking.ComputeSemanticLinks(neighbors, o.cfg.SemanticFloor, o.cfg.MaxSemanticLinks)...)

	links = append(links, linking.ComputeCausalLinks(allFacts, duplicateFlags, unitIDs)...)
	o.logger.Info("unit links built", "links", len(links), "duration", time.Since(stepStart))
	return links, nil
}

// triggerBackgroundTasks fires post-commit jobs. Failures are logged and
// swallowed; the retained data is already durable.
func (o *Orchestrator) triggerBackgroundTasks(ctx context.Context, bankID string, unitIDs []uuid.UUID, facts []memory.ProcessedFact, entityLinks []memory.EntityLink) {
	unitEntities := make([][]string, len(facts))
	unitTexts := make([]string, len(facts))
	hasEntities := false
	for i, fact := range facts {
		unitEntities[i] = fact.Entities
		unitTexts[i] = fact.FactText
		if len(fact.Entities) > 0 {
			hasEntities = true
		}
	}
	if hasEntities {
		err := o.tasks.SubmitTask(ctx, tasks.Task{
			Type:           tasks.TypeReinforceOpinion,
			BankID:         bankID,
			CreatedUnitIDs: unitIDs,
			UnitTexts:      unitTexts,
			UnitEntities:   unitEntities,
		})
		if err != nil {
			o.logger.Warn("failed to submit opinion reinforcement task", "error", err)
		}
	}

	if len(entityLinks) > 0 {
		seen := make(map[uuid.UUID]struct{}, len(entityLinks))
		var entityIDs []uuid.UUID
		for _, link := range entityLinks {
			if _, ok := seen[link.EntityID]; ok {
				continue
			}
			seen[link.EntityID] = struct{}{}
			entityIDs = append(entityIDs, link.EntityID)
			if len(entityIDs) == topNEntitiesForObservations {
				break
			}
		}
		err := o.tasks.SubmitTask(ctx, tasks.Task{
			Type:      tasks.TypeRegenerateObservations,
			BankID:    bankID,
			EntityIDs: entityIDs,
			MinFacts:  minFactsForObservations,
		})
		if err != nil {
			o.logger.Warn("failed to submit observation regeneration task", "error", err)
		}
	}
}

// DeleteBank removes a bank and all of its memories.
func (o *Orchestrator) DeleteBank(ctx context.Context, bankID string) error {
	if bankID == "" {
		return fmt.Errorf("bank id cannot be empty")
	}
	return o.store.DeleteBank(ctx, bankID)
}

// mapResultsToContents distributes the inserted unit IDs back onto the
// content items that produced them, skipping duplicates.
func mapResultsToContents(contentCount int, facts []memory.ProcessedFact, duplicateFlags []bool, unitIDs []uuid.UUID) [][]uuid.UUID {
	results := make([][]uuid.UUID, contentCount)
	next := 0
	for i, fact := range facts {
		if duplicateFlags[i] {
			continue
		}
		if next >= len(unitIDs) {
			break
		}
		idx := fact.ContentIndex
		if idx >= 0 && idx < contentCount {
			results[idx] = append(results[idx], unitIDs[next])
		}
		next++
	}
	return results
}

func joinContents(contents []memory.RetainContent) string {
	switch len(contents) {
	case 0:
		return ""
	case 1:
		return contents[0].Content
	}
	combined := contents[0].Content
	for _, c := range contents[1:] {
		combined += "\n" + c.Content
	}
	return combined
}
