package types

import "errors"

// Domain errors for type validation
var (
	ErrMissingDocumentID     = errors.New("document ID is required")
	ErrEmptyContent          = errors.New("content cannot be empty")
	ErrInvalidContentType    = errors.New("invalid content type")
	ErrInvalidRank           = errors.New("rank must be >= 1")
	ErrInvalidRelevanceScore = errors.New("relevance score must be non-negative")
)
