package chunker

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"unicode/utf8"

	"newsrag/internal/domain"
)

// DefaultSeparators are tried in order: paragraph, line, sentence, clause.
var DefaultSeparators = []string{"\n\n", "\n", ".", ","}

// RecursiveChunker splits text on the highest-priority separator that keeps
// pieces under the size limit, then greedily merges neighbouring pieces.
// Separators stay attached to the piece they end, so concatenating a
// document's chunks reproduces the document exactly.
type RecursiveChunker struct {
	maxSize    int
	separators []string
}

func NewRecursiveChunker(maxSize int, separators []string) *RecursiveChunker {
	if len(separators) == 0 {
		separators = DefaultSeparators
	}
	if maxSize < 1 {
		maxSize = 1
	}
	return &RecursiveChunker{
		maxSize:    maxSize,
		separators: separators,
	}
}

func (c *RecursiveChunker) Chunk(doc domain.SourceDocument) []domain.Chunk {
	if doc.Text == "" {
		return nil
	}

	texts := c.split(doc.Text, c.separators)
	chunks := make([]domain.Chunk, 0, len(texts))
	for i, text := range texts {
		chunks = append(chunks, domain.Chunk{
			ID:   generateChunkID(doc.URL, i),
			URL:  doc.URL,
			Seq:  i,
			Text: text,
		})
	}
	return chunks
}

// Split is Chunk without the document bookkeeping.
func (c *RecursiveChunker) Split(text string) []string {
	if text == "" {
		return nil
	}
	return c.split(text, c.separators)
}

func (c *RecursiveChunker) split(text string, separators []string) []string {
	if len(text) <= c.maxSize {
		return []string{text}
	}
	if len(separators) == 0 {
		return c.hardCut(text)
	}

	sep := separators[0]
	if !strings.Contains(text, sep) {
		return c.split(text, separators[1:])
	}

	var (
		out     []string
		current strings.Builder
	)
	flush := func() {
		if current.Len() > 0 {
			out = append(out, current.String())
			current.Reset()
		}
	}

	for _, piece := range strings.SplitAfter(text, sep) {
		if piece == "" {
			continue
		}
		if len(piece) > c.maxSize {
			flush()
			out = append(out, c.split(piece, separators[1:])...)
			continue
		}
		if current.Len()+len(piece) > c.maxSize {
			flush()
		}
		current.WriteString(piece)
	}
	flush()

	return out
}

// hardCut slices text into maxSize-byte pieces on rune boundaries. A single
// rune wider than maxSize becomes its own oversized piece.
func (c *RecursiveChunker) hardCut(text string) []string {
	var out []string
	for len(text) > c.maxSize {
		cut := c.maxSize
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		if cut == 0 {
			_, cut = utf8.DecodeRuneInString(text)
		}
		out = append(out, text[:cut])
		text = text[cut:]
	}
	if text != "" {
		out = append(out, text)
	}
	return out
}

func generateChunkID(url string, seq int) string {
	data := fmt.Sprintf("%s#%d", url, seq)
	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:8])
}
