package types

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

// ContentType is the content-quality classification of a document or chunk
type ContentType string

const (
	ContentTechnical  ContentType = "technical"
	ContentConceptual ContentType = "conceptual"
	ContentMeta       ContentType = "meta"
	ContentExample    ContentType = "example"
)

// IsValid reports whether t is one of the known classifications. The empty
// type (unclassified) is not valid as a filter value.
func (t ContentType) IsValid() bool {
	switch t {
	case ContentTechnical, ContentConceptual, ContentMeta, ContentExample:
		return true
	}
	return false
}

// TokensPerChar is the heuristic for estimating tokens (chars/4)
const TokensPerChar = 4

// Chunk represents a bounded section of a document for embedding and search
type Chunk struct {
	// Identification
	ID         string
	DocumentID string
	Index      int

	// Content
	Content     string
	ContentHash [32]byte // SHA-256 hash for deduplication
	TokenCount  int
	CharCount   int
	HasCode     bool

	// Structure
	SectionTitle string
	SectionLevel int

	// Quality
	ContentType  ContentType
	QualityScore float64

	Metadata Metadata
}

// NewChunk builds a chunk for doc with token count, hash and ID computed
func NewChunk(doc *Document, index int, content string) Chunk {
	c := Chunk{
		DocumentID: doc.ID,
		Index:      index,
		Content:    content,
		Metadata:   doc.Metadata.Clone(),
	}
	c.ComputeTokenCount()
	c.ComputeContentHash()
	c.ComputeID()
	return c
}

// ComputeTokenCount estimates the number of tokens in the chunk
func (c *Chunk) ComputeTokenCount() int {
	c.CharCount = len(c.Content)
	c.TokenCount = EstimateTokens(c.Content)
	return c.TokenCount
}

// ComputeContentHash computes the SHA-256 hash of the chunk content
func (c *Chunk) ComputeContentHash() {
	c.ContentHash = sha256.Sum256([]byte(c.Content))
}

// ComputeID derives the stable upsert key from the chunk text and source identifiers.
// The same document, source and text always produce the same ID.
func (c *Chunk) ComputeID() string {
	h := sha256.New()
	h.Write([]byte(c.DocumentID))
	h.Write([]byte{0})
	h.Write([]byte(c.Metadata.SourcePath))
	h.Write([]byte{0})
	h.Write([]byte(c.Content))
	c.ID = hex.EncodeToString(h.Sum(nil))
	return c.ID
}

// Validate performs comprehensive validation of the chunk
func (c *Chunk) Validate() error {
	if c.Content == "" {
		return ErrEmptyContent
	}
	if c.DocumentID == "" {
		return ErrMissingDocumentID
	}
	if c.ID == "" {
		return errors.New("chunk ID must be computed")
	}

	var zeroHash [32]byte
	if c.ContentHash == zeroHash {
		return errors.New("content hash must be computed")
	}

	if c.ContentType != "" && !c.ContentType.IsValid() {
		return ErrInvalidContentType
	}
	return nil
}

// EstimateTokens estimates the number of tokens in a string.
// Non-empty text always counts as at least one token.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	n := len(text) / TokensPerChar
	if n == 0 {
		return 1
	}
	return n
}
