// Package metadata persists file records and publishes their changes.
package metadata

import (
	"context"
	"errors"

	"docpipe/pkg/models"
)

// ErrNotFound is returned when no record exists for a file ID.
var ErrNotFound = errors.New("file record not found")

// Store is durable keyed storage for file records. Writes to a single file ID
// are atomic; concurrent writers resolve as last-writer-wins.
type Store interface {
	// Get returns the record for fileID or ErrNotFound.
	Get(ctx context.Context, fileID string) (*models.FileRecord, error)
	// Put inserts or fully replaces a record.
	Put(ctx context.Context, rec *models.FileRecord) error
	// SetStatus updates only the status of an existing record. It does not
	// emit a change event.
	SetStatus(ctx context.Context, fileID string, status models.Status) error
	// Delete removes a record. Deleting a missing record is not an error.
	Delete(ctx context.Context, fileID string) error
}

// ChangeOp names the write that produced a change event.
type ChangeOp string

const (
	OpInsert ChangeOp = "INSERT"
	OpUpdate ChangeOp = "UPDATE"
)

// Change is emitted when a record is inserted or its text changes.
type Change struct {
	FileID string   `json:"file_id"`
	Op     ChangeOp `json:"op"`
}

// ChangeHandler consumes change events. Errors are logged by the feed and do
// not stop it.
type ChangeHandler func(ctx context.Context, change Change) error

// ChangeFeed delivers change events until ctx is canceled.
type ChangeFeed interface {
	Listen(ctx context.Context, handler ChangeHandler) error
}
