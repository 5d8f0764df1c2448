// Package storage archives raw bank exports after import so a run can be
// audited or replayed against a fixed schema.
package storage

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"
)

// ArchiveInfo contains metadata about an archived export file, including
// the outcome of the import that consumed it.
type ArchiveInfo struct {
	ID         uuid.UUID `json:"id"`
	Name       string    `json:"name"`
	Size       int64     `json:"size"`
	Schema     string    `json:"schema"`
	Imported   int       `json:"imported"`
	Duplicates int       `json:"duplicates"`
	Failed     int       `json:"failed"`
	Path       string    `json:"path"` // Internal storage path
	ArchivedAt time.Time `json:"archived_at"`
}

// Archive defines the interface for export archival operations
type Archive interface {
	// Save stores the raw export alongside its import outcome
	Save(ctx context.Context, info ArchiveInfo, r io.Reader) (*ArchiveInfo, error)

	// Open retrieves an archived export by its ID
	Open(ctx context.Context, id uuid.UUID) (io.ReadCloser, *ArchiveInfo, error)

	// List returns all archived exports
	List(ctx context.Context) ([]*ArchiveInfo, error)

	// Delete removes an archived export by its ID
	Delete(ctx context.Context, id uuid.UUID) error
}
