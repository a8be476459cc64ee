package ai

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEmbeddingService struct {
	gotModel  string
	gotInputs []string
}

func (f *fakeEmbeddingService) Embedding(ctx context.Context, input string, model string) ([]float32, error) {
	vectors, err := f.Embeddings(ctx, []string{input}, model)
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (f *fakeEmbeddingService) Embeddings(_ context.Context, inputs []string, model string) ([][]float32, error) {
	f.gotModel = model
	f.gotInputs = inputs
	out := make([][]float32, len(inputs))
	for i := range inputs {
		out[i] = []float32{float32(i)}
	}
	return out, nil
}

func TestNewEmbedderValidation(t *testing.T) {
	_, err := NewEmbedder(nil, "model")
	require.Error(t, err)

	_, err = NewEmbedder(&fakeEmbeddingService{}, "")
	require.Error(t, err)
}

func TestEmbedderBindsModel(t *testing.T) {
	service := &fakeEmbeddingService{}
	embedder, err := NewEmbedder(service, "text-embedding-3-small")
	require.NoError(t, err)

	vectors, err := embedder.Embeddings(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	require.Len(t, vectors, 2)
	assert.Equal(t, "text-embedding-3-small", service.gotModel)
	assert.Equal(t, []string{"a", "b"}, service.gotInputs)

	vector, err := embedder.Embedding(context.Background(), "c")
	require.NoError(t, err)
	assert.Equal(t, []float32{0}, vector)
}
