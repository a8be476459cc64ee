package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanonicalEntityName(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Jon", "jon"},
		{"  Jon Smith  ", "jon smith"},
		{"JON   SMITH", "jon smith"},
		{"jon\tsmith", "jon smith"},
		{"", ""},
		{"   ", ""},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, CanonicalEntityName(tc.in), tc.in)
	}
}

func TestNormalizeFactText(t *testing.T) {
	a := NormalizeFactText("Jon runs a   dance studio. ")
	b := NormalizeFactText("jon RUNS a dance studio.")
	assert.Equal(t, a, b)

	assert.NotEqual(t,
		NormalizeFactText("Jon runs a dance studio"),
		NormalizeFactText("Jon runs two dance studios"))
}

func TestCheckEmbeddingDims(t *testing.T) {
	assert.NoError(t, checkEmbeddingDims(1536, 1536))

	err := checkEmbeddingDims(1536, 768)
	if assert.Error(t, err) {
		assert.Contains(t, err.Error(), "vector(1536)")
		assert.Contains(t, err.Error(), "768")
	}
}

func TestNullString(t *testing.T) {
	assert.Nil(t, nullString(""))

	got := nullString("value")
	if assert.NotNil(t, got) {
		assert.Equal(t, "value", *got)
	}
}
