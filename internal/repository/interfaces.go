package repository

import (
	"context"
)

// ImageRepository resolves image references selected by the user
type ImageRepository interface {
	// FetchImage loads and validates the image behind ref
	FetchImage(ctx context.Context, ref string) (*SourceImage, error)

	// ValidateSource checks that ref is a reference this repository can load
	ValidateSource(ref string) error
}

// SourceImage is a selected image with its detected metadata
type SourceImage struct {
	Data        []byte
	Filename    string
	ContentType string
}

// HistoryStore defines the persistence operations for processing records
type HistoryStore interface {
	// Save stores a processing record
	Save(ctx context.Context, record *ProcessingRecord) error

	// ListBySession retrieves recent records of a session
	ListBySession(ctx context.Context, sessionID string, limit int) ([]*ProcessingRecord, error)

	// Summary aggregates all stored records
	Summary(ctx context.Context) (*Summary, error)
}
