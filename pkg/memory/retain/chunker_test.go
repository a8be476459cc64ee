package retain

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkText(t *testing.T) {
	t.Run("empty input", func(t *testing.T) {
		assert.Nil(t, ChunkText("", 100))
	})

	t.Run("short input stays one chunk", func(t *testing.T) {
		chunks := ChunkText("hello world", 100)
		assert.Equal(t, []string{"hello world"}, chunks)
	})

	t.Run("chunks respect the size cap", func(t *testing.T) {
		text := strings.Repeat("one sentence here. ", 200)
		chunks := ChunkText(text, 100)
		require.NotEmpty(t, chunks)
		for _, chunk := range chunks {
			assert.LessOrEqual(t, len(chunk), 100)
		}
	})

	t.Run("concatenation reproduces the input", func(t *testing.T) {
		text := "First paragraph.\n\nSecond paragraph with more text. And a sentence! Also a question? Yes.\nNew line here, with a comma, and words."
		chunks := ChunkText(text, 40)
		assert.Equal(t, text, strings.Join(chunks, ""))
	})

	t.Run("prefers paragraph boundaries", func(t *testing.T) {
		para := strings.Repeat("word ", 10)
		text := para + "\n\n" + para
		chunks := ChunkText(text, len(para)+5)
		require.Len(t, chunks, 2)
		assert.True(t, strings.HasSuffix(chunks[0], "\n\n"))
	})

	t.Run("falls back to sentence boundaries", func(t *testing.T) {
		text := "This is the first sentence. This is the second sentence. This is the third sentence."
		chunks := ChunkText(text, 40)
		require.Greater(t, len(chunks), 1)
		assert.True(t, strings.HasSuffix(chunks[0], ". "))
	})

	t.Run("unbroken text is hard split", func(t *testing.T) {
		text := strings.Repeat("a", 250)
		chunks := ChunkText(text, 100)
		assert.Equal(t, []string{strings.Repeat("a", 100), strings.Repeat("a", 100), strings.Repeat("a", 50)}, chunks)
	})

	t.Run("hard split keeps runes intact", func(t *testing.T) {
		text := strings.Repeat("記憶", 50)
		chunks := ChunkText(text, 10)
		require.NotEmpty(t, chunks)
		for _, chunk := range chunks {
			assert.True(t, utf8.ValidString(chunk), chunk)
			assert.LessOrEqual(t, len(chunk), 10)
		}
		assert.Equal(t, text, strings.Join(chunks, ""))
	})

	t.Run("zero max uses the default", func(t *testing.T) {
		text := strings.Repeat("sentence here. ", 10)
		chunks := ChunkText(text, 0)
		assert.Equal(t, []string{text}, chunks)
	})
}

func TestSplitChunk(t *testing.T) {
	t.Run("prefers sentence boundary near midpoint", func(t *testing.T) {
		text := strings.Repeat("x", 45) + ". " + strings.Repeat("y", 45)
		first, second, ok := splitChunk(text)
		require.True(t, ok)
		assert.Equal(t, strings.Repeat("x", 45)+".", first)
		assert.Equal(t, strings.Repeat("y", 45), second)
	})

	t.Run("falls back to midpoint without boundary", func(t *testing.T) {
		text := strings.Repeat("ab", 50)
		first, second, ok := splitChunk(text)
		require.True(t, ok)
		assert.Equal(t, 50, len(first))
		assert.Equal(t, 50, len(second))
	})

	t.Run("tiny chunk is unsplittable", func(t *testing.T) {
		_, _, ok := splitChunk("x")
		assert.False(t, ok)
	})

	t.Run("whitespace-only half is unsplittable", func(t *testing.T) {
		_, _, ok := splitChunk("ab  ")
		assert.False(t, ok)
	})
}
