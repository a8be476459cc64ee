// Package tasks submits post-commit background work. The retain pipeline
// fires tasks after its transaction commits; workers consume them
// elsewhere.
package tasks

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Task types the retain pipeline emits.
const (
	TypeReinforceOpinion       = "reinforce_opinion"
	TypeRegenerateObservations = "regenerate_observations"
)

// Task is one background job. Only the fields relevant to its type are set.
type Task struct {
	Type   string `json:"type"`
	BankID string `json:"bank_id"`

	// reinforce_opinion
	CreatedUnitIDs []uuid.UUID `json:"created_unit_ids,omitempty"`
	UnitTexts      []string    `json:"unit_texts,omitempty"`
	UnitEntities   [][]string  `json:"unit_entities,omitempty"`

	// regenerate_observations
	EntityIDs []uuid.UUID `json:"entity_ids,omitempty"`
	MinFacts  int         `json:"min_facts,omitempty"`
}

// Backend accepts tasks for asynchronous execution. Submission failures must
// not fail the retain call that produced the task.
type Backend interface {
	SubmitTask(ctx context.Context, task Task) error
}

// InProcessBackend buffers tasks in memory. Used when no broker is
// configured, and by tests.
type InProcessBackend struct {
	mu    sync.Mutex
	tasks []Task
}

func NewInProcessBackend() *InProcessBackend {
	return &InProcessBackend{}
}

func (b *InProcessBackend) SubmitTask(ctx context.Context, task Task) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tasks = append(b.tasks, task)
	return nil
}

// Tasks returns a snapshot of everything submitted so far.
func (b *InProcessBackend) Tasks() []Task {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Task, len(b.tasks))
	copy(out, b.tasks)
	return out
}
