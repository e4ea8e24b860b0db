package pipeline

import (
	"context"
	"errors"

	"docpipe/internal/metadata"
	"docpipe/pkg/models"
)

// Retriever serves the current extraction result for a file.
type Retriever struct {
	store metadata.Store
}

func NewRetriever(store metadata.Store) *Retriever {
	return &Retriever{store: store}
}

// Get returns the stored text for fileID. Text is empty, never nil, while
// extraction is pending or after it failed; Status tells the two apart.
func (r *Retriever) Get(ctx context.Context, fileID string) (*models.ResultResponse, error) {
	const op = "Get"

	rec, err := r.store.Get(ctx, fileID)
	if errors.Is(err, metadata.ErrNotFound) {
		return nil, NewPipelineError(op, ErrNotFound, err, MsgFileNotFound)
	}
	if err != nil {
		return nil, NewPipelineError(op, ErrStore, err, MsgInternal)
	}

	text := rec.Text
	if text == nil {
		text = []string{}
	}
	return &models.ResultResponse{FileID: fileID, Text: text, Status: rec.Status}, nil
}
