package tasks

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInProcessBackend(t *testing.T) {
	backend := NewInProcessBackend()

	task := Task{
		Type:           TypeReinforceOpinion,
		BankID:         "bank-1",
		CreatedUnitIDs: []uuid.UUID{uuid.New()},
		UnitTexts:      []string{"a fact"},
		UnitEntities:   [][]string{{"Jon"}},
	}
	require.NoError(t, backend.SubmitTask(context.Background(), task))

	got := backend.Tasks()
	require.Len(t, got, 1)
	assert.Equal(t, task, got[0])

	// The snapshot is a copy.
	got[0].BankID = "mutated"
	assert.Equal(t, "bank-1", backend.Tasks()[0].BankID)
}

func TestInProcessBackendConcurrent(t *testing.T) {
	backend := NewInProcessBackend()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = backend.SubmitTask(context.Background(), Task{Type: TypeRegenerateObservations})
		}()
	}
	wg.Wait()
	assert.Len(t, backend.Tasks(), 20)
}

func TestTaskJSONShape(t *testing.T) {
	unitID := uuid.MustParse("11111111-1111-1111-1111-111111111111")
	entityID := uuid.MustParse("22222222-2222-2222-2222-222222222222")

	t.Run("reinforce opinion", func(t *testing.T) {
		payload, err := json.Marshal(Task{
			Type:           TypeReinforceOpinion,
			BankID:         "bank-1",
			CreatedUnitIDs: []uuid.UUID{unitID},
			UnitTexts:      []string{"a fact"},
			UnitEntities:   [][]string{{"Jon"}},
		})
		require.NoError(t, err)

		var decoded map[string]any
		require.NoError(t, json.Unmarshal(payload, &decoded))
		assert.Equal(t, "reinforce_opinion", decoded["type"])
		assert.Equal(t, "bank-1", decoded["bank_id"])
		assert.Equal(t, []any{"11111111-1111-1111-1111-111111111111"}, decoded["created_unit_ids"])
		assert.NotContains(t, decoded, "entity_ids")
		assert.NotContains(t, decoded, "min_facts")
	})

	t.Run("regenerate observations", func(t *testing.T) {
		payload, err := json.Marshal(Task{
			Type:      TypeRegenerateObservations,
			BankID:    "bank-1",
			EntityIDs: []uuid.UUID{entityID},
			MinFacts:  5,
		})
		require.NoError(t, err)

		var decoded map[string]any
		require.NoError(t, json.Unmarshal(payload, &decoded))
		assert.Equal(t, "regenerate_observations", decoded["type"])
		assert.Equal(t, []any{"22222222-2222-2222-2222-222222222222"}, decoded["entity_ids"])
		assert.Equal(t, float64(5), decoded["min_facts"])
		assert.NotContains(t, decoded, "created_unit_ids")
	})
}
