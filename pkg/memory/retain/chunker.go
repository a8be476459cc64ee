package retain

import (
	"strings"
	"unicode/utf8"
)

// DefaultMaxChunkChars is the chunk size cap used when no override is given.
const DefaultMaxChunkChars = 3000

// chunkSeparators is tried in order; the first separator present in the text
// drives the split at that recursion level. The empty separator is the
// character-level last resort.
var chunkSeparators = []string{"\n\n", "\n", ". ", "! ", "? ", "; ", ", ", " ", ""}

// ChunkText splits text into chunks of at most maxChars characters,
// preferring paragraph and sentence boundaries over word and character
// boundaries. Separators stay attached to the piece they terminate, so
// concatenating the chunks reproduces the input.
func ChunkText(text string, maxChars int) []string {
	if maxChars <= 0 {
		maxChars = DefaultMaxChunkChars
	}
	if text == "" {
		return nil
	}
	return splitRecursive(text, maxChars, chunkSeparators)
}

func splitRecursive(text string, maxChars int, separators []string) []string {
	if len(text) <= maxChars {
		return []string{text}
	}
	if len(separators) == 0 {
		return hardSplit(text, maxChars)
	}

	sep := separators[0]
	rest := separators[1:]
	if sep == "" {
		return hardSplit(text, maxChars)
	}
	if !strings.Contains(text, sep) {
		return splitRecursive(text, maxChars, rest)
	}

	pieces := splitKeepSeparator(text, sep)

	var chunks []string
	var current strings.Builder
	flush := func() {
		if current.Len() > 0 {
			chunks = append(chunks, current.String())
			current.Reset()
		}
	}
	for _, piece := range pieces {
		if len(piece) > maxChars {
			flush()
			chunks = append(chunks, splitRecursive(piece, maxChars, rest)...)
			continue
		}
		if current.Len()+len(piece) > maxChars {
			flush()
		}
		current.WriteString(piece)
	}
	flush()
	return chunks
}

// splitKeepSeparator splits on sep, keeping sep at the end of each piece
// except possibly the last.
func splitKeepSeparator(text, sep string) []string {
	parts := strings.Split(text, sep)
	pieces := make([]string, 0, len(parts))
	for i, part := range parts {
		if i < len(parts)-1 {
			pieces = append(pieces, part+sep)
		} else if part != "" {
			pieces = append(pieces, part)
		}
	}
	return pieces
}

// hardSplit cuts every maxChars bytes, backing up to the nearest rune
// boundary so multi-byte characters are never cut in half.
func hardSplit(text string, maxChars int) []string {
	var chunks []string
	for len(text) > maxChars {
		cut := maxChars
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		if cut == 0 {
			cut = maxChars
		}
		chunks = append(chunks, text[:cut])
		text = text[cut:]
	}
	if text != "" {
		chunks = append(chunks, text)
	}
	return chunks
}
