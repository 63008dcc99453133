// Package chunking splits report content into retrieval-sized pieces.
//
// Two strategies exist. Structured markdown is chunked along its heading
// hierarchy with heading context prepended to every piece; anything else
// falls back to recursive separator splitting with a fixed overlap between
// neighbours. Lengths are counted in runes.
package chunking

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

type ChunkType string

const (
	TypeHybrid  ChunkType = "hybrid"
	TypeText    ChunkType = "text"
	TypeTable   ChunkType = "table"
	TypeSection ChunkType = "section"
)

const (
	DefaultChunkSize    = 500
	DefaultOverlap      = 100
	DefaultMaxTokens    = 512
	DefaultMaxTableRows = 20
)

var defaultSeparators = []string{"\n\n", "\n", ". ", " ", ""}

// Piece is one chunk of content plus the metadata the chunker knows about.
type Piece struct {
	Content      string
	Type         ChunkType
	Page         int
	Headings     []string
	TableType    string
	TableHeaders []string
	SectionTitle string
}

// TokenCounter estimates how many model tokens a string occupies.
type TokenCounter func(string) int

// EstimateTokens assumes roughly four runes per token, which holds well
// enough for English and Scandinavian prose.
func EstimateTokens(s string) int {
	n := utf8.RuneCountInString(s)
	return (n + 3) / 4
}

type Chunker struct {
	size       int
	overlap    int
	maxTokens  int
	maxRows    int
	separators []string
	tokens     TokenCounter
}

type Option func(*Chunker)

func WithChunkSize(size int) Option {
	return func(c *Chunker) {
		if size > 0 {
			c.size = size
		}
	}
}

func WithOverlap(overlap int) Option {
	return func(c *Chunker) {
		if overlap >= 0 {
			c.overlap = overlap
		}
	}
}

func WithMaxTokens(n int) Option {
	return func(c *Chunker) {
		if n > 0 {
			c.maxTokens = n
		}
	}
}

func WithMaxTableRows(n int) Option {
	return func(c *Chunker) {
		if n > 0 {
			c.maxRows = n
		}
	}
}

func WithSeparators(seps []string) Option {
	return func(c *Chunker) {
		if len(seps) > 0 {
			c.separators = append([]string(nil), seps...)
		}
	}
}

func WithTokenCounter(fn TokenCounter) Option {
	return func(c *Chunker) {
		if fn != nil {
			c.tokens = fn
		}
	}
}

func New(opts ...Option) *Chunker {
	c := &Chunker{
		size:       DefaultChunkSize,
		overlap:    DefaultOverlap,
		maxTokens:  DefaultMaxTokens,
		maxRows:    DefaultMaxTableRows,
		separators: defaultSeparators,
		tokens:     EstimateTokens,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.overlap >= c.size {
		c.overlap = c.size / 5
	}
	return c
}

// ChunkSize reports the configured fallback chunk size.
func (c *Chunker) ChunkSize() int { return c.size }

// Overlap reports the configured fallback overlap.
func (c *Chunker) Overlap() int { return c.overlap }

// ChunkText splits plain text. No chunk is longer than size+overlap runes
// plus the whitespace at the overlap boundary, and each chunk after the
// first starts with at least overlap runes of its predecessor's tail unless
// it came out of a hard split.
func (c *Chunker) ChunkText(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if utf8.RuneCountInString(text) <= c.size {
		return []string{strings.TrimSpace(text)}
	}
	return c.merge(c.atoms(text, c.separators))
}

// atoms breaks text into parts no longer than the chunk size, descending
// through the separator list. A part that no separator can break is
// returned whole and hard-split during merge.
func (c *Chunker) atoms(text string, seps []string) []string {
	if utf8.RuneCountInString(text) <= c.size {
		return []string{text}
	}
	for i, sep := range seps {
		if sep == "" {
			break
		}
		if !strings.Contains(text, sep) {
			continue
		}
		var out []string
		for _, part := range splitKeep(text, sep) {
			out = append(out, c.atoms(part, seps[i+1:])...)
		}
		return out
	}
	return []string{text}
}

func (c *Chunker) merge(atoms []string) []string {
	var (
		chunks  []string
		current string
	)
	flush := func() {
		if t := strings.TrimSpace(current); t != "" {
			chunks = append(chunks, t)
		}
		current = ""
	}

	for _, atom := range atoms {
		n := utf8.RuneCountInString(atom)
		if utf8.RuneCountInString(current)+n <= c.size {
			current += atom
			continue
		}

		flush()

		if n > c.size {
			pieces := hardSplit(atom, c.size, c.overlap)
			for _, p := range pieces[:len(pieces)-1] {
				if t := strings.TrimSpace(p); t != "" {
					chunks = append(chunks, t)
				}
			}
			current = pieces[len(pieces)-1]
			continue
		}

		if len(chunks) > 0 && c.overlap > 0 {
			current = overlapTail(chunks[len(chunks)-1], c.overlap) + atom
		} else {
			current = atom
		}
	}
	flush()

	return chunks
}

// splitKeep splits on sep and glues the separator to the front of every
// part after the first, so no text is lost.
func splitKeep(text, sep string) []string {
	raw := strings.Split(text, sep)
	parts := make([]string, 0, len(raw))
	for i, p := range raw {
		if i > 0 {
			p = sep + p
		}
		if p != "" {
			parts = append(parts, p)
		}
	}
	return parts
}

// hardSplit cuts text into windows of size runes that advance by
// size-overlap. It always returns at least one piece.
func hardSplit(text string, size, overlap int) []string {
	r := []rune(text)
	step := size - overlap
	if step < 1 {
		step = 1
	}
	var pieces []string
	for i := 0; i < len(r); i += step {
		end := i + size
		if end > len(r) {
			end = len(r)
		}
		pieces = append(pieces, string(r[i:end]))
		if end == len(r) {
			break
		}
	}
	if len(pieces) == 0 {
		pieces = []string{text}
	}
	return pieces
}

// overlapTail returns the last n runes of s, extended backwards so it does
// not start with whitespace. flush trims leading whitespace, so a tail that
// started with a space would lose part of the overlap.
func overlapTail(s string, n int) string {
	if n <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	start := len(r) - n
	for start > 0 && unicode.IsSpace(r[start]) {
		start--
	}
	return string(r[start:])
}
