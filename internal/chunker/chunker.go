package chunker

import (
	"errors"
	"strings"

	"github.com/dshills/docsearch-mcp/pkg/types"
)

const (
	// FewSentences is the sentence count below which a document is not segmented
	FewSentences = 3

	// TokensPerChar is the heuristic for estimating tokens (chars/4)
	TokensPerChar = types.TokensPerChar
)

// ErrUnterminatedFence is returned by ChunkSections when a code fence is never closed
var ErrUnterminatedFence = errors.New("unterminated code fence")

// Options controls chunk sizing. Sizes are in estimated tokens.
type Options struct {
	TargetSize   int
	MaxSize      int
	MinSize      int
	Overlap      int
	PreserveCode bool

	// Tags copied onto every produced chunk
	ContentType types.ContentType
	Quality     float64
}

// DefaultOptions returns the sizing used when a document has no classification
func DefaultOptions() Options {
	return Options{
		TargetSize:   512,
		MaxSize:      1024,
		MinSize:      64,
		Overlap:      50,
		PreserveCode: true,
		Quality:      1.0,
	}
}

// ProfileFor returns the adaptive sizing profile for a content classification.
// Technical content gets small chunks without overlap, conceptual content gets
// large chunks with overlap.
func ProfileFor(ct types.ContentType) Options {
	opts := DefaultOptions()
	switch ct {
	case types.ContentTechnical:
		opts.TargetSize, opts.MaxSize, opts.MinSize, opts.Overlap = 300, 500, 50, 0
	case types.ContentExample:
		opts.TargetSize, opts.MaxSize, opts.MinSize, opts.Overlap = 400, 800, 50, 0
	case types.ContentConceptual:
		opts.TargetSize, opts.MaxSize, opts.MinSize, opts.Overlap = 600, 900, 100, 100
	case types.ContentMeta:
		opts.TargetSize, opts.MaxSize, opts.MinSize, opts.Overlap = 300, 500, 30, 0
	}
	opts.ContentType = ct
	return opts
}

func (o Options) normalized() Options {
	d := DefaultOptions()
	if o.TargetSize <= 0 {
		o.TargetSize = d.TargetSize
	}
	if o.MaxSize <= 0 {
		o.MaxSize = o.TargetSize * 2
	}
	if o.MaxSize < o.TargetSize {
		o.MaxSize = o.TargetSize
	}
	if o.MinSize < 0 {
		o.MinSize = 0
	}
	if o.MinSize > o.TargetSize/2 {
		o.MinSize = o.TargetSize / 2
	}
	if o.Overlap < 0 {
		o.Overlap = 0
	}
	if o.Overlap > o.TargetSize/2 {
		o.Overlap = o.TargetSize / 2
	}
	if o.Quality == 0 {
		o.Quality = 1.0
	}
	return o
}

// Chunker splits documents into retrieval units.
// It holds no state; the same document and options always yield the same chunks.
type Chunker struct{}

// New creates a new Chunker instance
func New() *Chunker {
	return &Chunker{}
}

// Chunk splits doc into chunks. Section parsing failures fall back to ChunkPlain,
// so a non-empty document always yields at least one chunk.
func (c *Chunker) Chunk(doc *types.Document, opts Options) ([]types.Chunk, error) {
	chunks, err := c.ChunkSections(doc, opts)
	if err == nil {
		return chunks, nil
	}
	if errors.Is(err, types.ErrEmptyContent) {
		return nil, err
	}
	return c.ChunkPlain(doc, opts)
}

// ChunkSections performs section and code aware chunking
func (c *Chunker) ChunkSections(doc *types.Document, opts Options) ([]types.Chunk, error) {
	text := normalizeText(doc.Content)
	if text == "" {
		return nil, types.ErrEmptyContent
	}
	doc.EnsureID()
	opts = opts.normalized()

	if countSentences(text) < FewSentences && tokenCount(len(text)) <= opts.MaxSize {
		title, level := leadingTitle(text, doc.Metadata.Title)
		return build(doc, []piece{{text: text, title: title, level: level, hasCode: hasFence(text)}}, opts), nil
	}

	sections, err := parseSections(text, doc.Metadata.Title)
	if err != nil {
		return nil, err
	}

	var pieces []piece
	for _, s := range sections {
		body := strings.TrimSpace(strings.Join(s.lines, "\n"))
		if tokenCount(len(body)) <= opts.TargetSize {
			pieces = append(pieces, piece{text: body, title: s.title, level: s.level, hasCode: hasFence(body)})
			continue
		}
		units := sectionUnits(s, opts)
		pieces = append(pieces, accumulate(units, opts, s.title, s.level)...)
	}

	return build(doc, mergeSmall(pieces, opts), opts), nil
}

// ChunkPlain performs fixed-size sentence accumulation with no section or code awareness
func (c *Chunker) ChunkPlain(doc *types.Document, opts Options) ([]types.Chunk, error) {
	text := normalizeText(doc.Content)
	if text == "" {
		return nil, types.ErrEmptyContent
	}
	doc.EnsureID()
	opts = opts.normalized()

	var units []unit
	for _, para := range paragraphs(text) {
		units = append(units, proseUnits(para, opts.TargetSize)...)
	}
	pieces := accumulate(units, opts, doc.Metadata.Title, 0)
	return build(doc, mergeSmall(pieces, opts), opts), nil
}

// Resplit breaks a chunk that exceeds maxTokens into smaller chunks.
// Chunks within the limit are returned unchanged.
func Resplit(chunk types.Chunk, maxTokens int) []types.Chunk {
	if maxTokens <= 0 || types.EstimateTokens(chunk.Content) <= maxTokens {
		return []types.Chunk{chunk}
	}

	opts := Options{TargetSize: maxTokens, MaxSize: maxTokens}
	var units []unit
	for _, para := range paragraphs(chunk.Content) {
		units = append(units, proseUnits(para, maxTokens)...)
	}
	pieces := accumulate(units, opts, chunk.SectionTitle, chunk.SectionLevel)

	doc := &types.Document{ID: chunk.DocumentID, Metadata: chunk.Metadata}
	out := make([]types.Chunk, 0, len(pieces))
	for _, p := range pieces {
		nc := types.NewChunk(doc, chunk.Index, p.text)
		nc.SectionTitle = chunk.SectionTitle
		nc.SectionLevel = chunk.SectionLevel
		nc.HasCode = hasFence(p.text) || (chunk.HasCode && p.hasCode)
		nc.ContentType = chunk.ContentType
		nc.QualityScore = chunk.QualityScore
		out = append(out, nc)
	}
	return out
}

// piece is a chunk's text before it becomes a types.Chunk
type piece struct {
	text    string
	title   string
	level   int
	hasCode bool
}

// unit is the smallest thing accumulate moves around: a sentence, a word run or a code block
type unit struct {
	text        string
	code        bool
	breakBefore bool
}

func unitSep(prev, next unit) string {
	if next.breakBefore || next.code || prev.code {
		return "\n\n"
	}
	return " "
}

func joinUnits(us []unit) string {
	var b strings.Builder
	for i, u := range us {
		if i > 0 {
			b.WriteString(unitSep(us[i-1], u))
		}
		b.WriteString(u.text)
	}
	return b.String()
}

func joinedLen(us []unit) int {
	n := 0
	for i, u := range us {
		if i > 0 {
			n += len(unitSep(us[i-1], u))
		}
		n += len(u.text)
	}
	return n
}

func anyCode(us []unit) bool {
	for _, u := range us {
		if u.code {
			return true
		}
	}
	return false
}

// overlapTail returns the trailing sentences of us that fit within overlap tokens
func overlapTail(us []unit, overlap int) []unit {
	if overlap <= 0 {
		return nil
	}
	start := len(us)
	for start > 0 {
		u := us[start-1]
		if u.code || tokenCount(joinedLen(us[start-1:])) > overlap {
			break
		}
		start--
	}
	if start == len(us) {
		return nil
	}
	tail := make([]unit, len(us)-start)
	copy(tail, us[start:])
	tail[0].breakBefore = true
	return tail
}

// accumulate packs units into pieces no larger than the target size.
// Units larger than the target (intact code blocks) become pieces of their own.
func accumulate(units []unit, opts Options, title string, level int) []piece {
	var pieces []piece
	var pieceUnits [][]unit
	var cur []unit
	carried := 0

	emit := func(us []unit) {
		pieces = append(pieces, piece{text: joinUnits(us), title: title, level: level, hasCode: anyCode(us)})
		pieceUnits = append(pieceUnits, us)
	}
	flush := func() {
		if len(cur) > carried {
			emit(cur)
			cur = overlapTail(cur, opts.Overlap)
		} else {
			cur = nil
		}
		carried = len(cur)
	}

	for _, u := range units {
		if tokenCount(len(u.text)) > opts.TargetSize {
			if len(cur) > carried {
				emit(cur)
			}
			cur, carried = nil, 0
			emit([]unit{u})
			continue
		}

		if len(cur) > 0 && tokenCount(joinedLen(append(cur[:len(cur):len(cur)], u))) > opts.TargetSize {
			flush()
			if len(cur) > 0 && tokenCount(joinedLen(append(cur[:len(cur):len(cur)], u))) > opts.TargetSize {
				cur, carried = nil, 0
			}
		}
		cur = append(cur, u)
	}

	if len(cur) > carried {
		tail := cur[carried:]
		last := len(pieces) - 1
		if last >= 0 && opts.MinSize > 0 && tokenCount(joinedLen(tail)) < opts.MinSize && !anyCode(pieceUnits[last]) {
			merged := append(append([]unit{}, pieceUnits[last]...), tail...)
			if tokenCount(joinedLen(merged)) <= opts.MaxSize {
				pieces[last] = piece{text: joinUnits(merged), title: title, level: level, hasCode: anyCode(merged)}
				pieceUnits[last] = merged
				return pieces
			}
		}
		emit(cur)
	}
	return pieces
}

// mergeSmall folds pieces below the minimum size into a neighbour, preferring
// the following piece. When neither neighbour has room, the small piece is
// joined to one anyway and the result is cut into balanced parts within the
// maximum size.
func mergeSmall(pieces []piece, opts Options) []piece {
	if opts.MinSize <= 0 || len(pieces) < 2 {
		return pieces
	}
	out := append([]piece(nil), pieces...)
	for i := 0; i < len(out); {
		if len(out) == 1 || tokenCount(len(out[i].text)) >= opts.MinSize {
			i++
			continue
		}
		if i+1 < len(out) {
			if m := joinPieces(out[i], out[i+1]); tokenCount(len(m.text)) <= opts.MaxSize {
				out[i] = m
				out = append(out[:i+1], out[i+2:]...)
				continue
			}
		}
		if i > 0 {
			if m := joinPieces(out[i-1], out[i]); tokenCount(len(m.text)) <= opts.MaxSize {
				out[i-1] = m
				out = append(out[:i], out[i+1:]...)
				continue
			}
		}

		lo := i
		if i+1 >= len(out) {
			lo = i - 1
		}
		parts := cutPiece(joinPieces(out[lo], out[lo+1]), opts.MaxSize)
		out = append(out[:lo], append(parts, out[lo+2:]...)...)
		i = lo + len(parts)
	}
	return out
}

// joinPieces concatenates two pieces. The larger one names the result.
func joinPieces(a, b piece) piece {
	title, level := a.title, a.level
	if len(b.text) > len(a.text) {
		title, level = b.title, b.level
	}
	return piece{
		text:    a.text + "\n\n" + b.text,
		title:   title,
		level:   level,
		hasCode: a.hasCode || b.hasCode,
	}
}

// cutPiece splits an oversized piece into parts of at most maxTokens
func cutPiece(p piece, maxTokens int) []piece {
	texts := splitBalanced(p.text, maxTokens)
	parts := make([]piece, 0, len(texts))
	for _, t := range texts {
		parts = append(parts, piece{text: t, title: p.title, level: p.level, hasCode: hasFence(t)})
	}
	return parts
}

// build converts pieces into chunks, dropping exact duplicate content
func build(doc *types.Document, pieces []piece, opts Options) []types.Chunk {
	chunks := make([]types.Chunk, 0, len(pieces))
	seen := make(map[string]struct{}, len(pieces))
	for _, p := range pieces {
		text := strings.TrimSpace(p.text)
		if text == "" {
			continue
		}
		if _, dup := seen[text]; dup {
			continue
		}
		seen[text] = struct{}{}

		chunk := types.NewChunk(doc, len(chunks), text)
		chunk.SectionTitle = p.title
		chunk.SectionLevel = p.level
		chunk.HasCode = p.hasCode || hasFence(text)
		chunk.ContentType = opts.ContentType
		chunk.QualityScore = opts.Quality
		chunks = append(chunks, chunk)
	}
	return chunks
}

// tokenCount estimates tokens for a string of n bytes
func tokenCount(n int) int {
	if n <= 0 {
		return 0
	}
	t := n / TokensPerChar
	if t == 0 {
		return 1
	}
	return t
}

// charBudget is the largest byte length that stays within maxTokens
func charBudget(maxTokens int) int {
	return maxTokens*TokensPerChar + TokensPerChar - 1
}

func normalizeText(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	return strings.TrimSpace(s)
}
