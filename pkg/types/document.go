package types

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

// Metadata describes where a document came from
type Metadata struct {
	SourcePath string
	Product    string
	Version    string
	Title      string
	URL        string

	// Extra holds source-specific fields that have no dedicated column
	Extra map[string]string
}

// Clone returns a copy that shares no maps with m
func (m Metadata) Clone() Metadata {
	out := m
	if m.Extra != nil {
		out.Extra = make(map[string]string, len(m.Extra))
		for k, v := range m.Extra {
			out.Extra[k] = v
		}
	}
	return out
}

// Document is an input unit of raw text plus metadata
type Document struct {
	ID       string
	Content  string
	Metadata Metadata
}

// EnsureID derives a stable ID from the source identifiers when none is set
func (d *Document) EnsureID() string {
	if d.ID != "" {
		return d.ID
	}
	key := d.Metadata.SourcePath
	if key == "" {
		key = d.Metadata.URL
	}
	if key == "" {
		key = d.Content
	}
	sum := sha256.Sum256([]byte(d.Metadata.Product + "\x00" + key))
	d.ID = hex.EncodeToString(sum[:16])
	return d.ID
}

// Validate checks that the document can be chunked
func (d *Document) Validate() error {
	if d.ID == "" {
		return ErrMissingDocumentID
	}
	if d.Content == "" {
		return ErrEmptyContent
	}
	return nil
}

// ContentHash returns the SHA-256 hash of the document content
func (d *Document) ContentHash() [32]byte {
	return sha256.Sum256([]byte(d.Content))
}

// ValidateMetadata is a helper used by stores before persisting a document
func ValidateMetadata(m Metadata) error {
	if m.SourcePath == "" && m.URL == "" {
		return errors.New("metadata requires a source path or URL")
	}
	return nil
}
