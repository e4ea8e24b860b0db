package pipeline

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docpipe/internal/metadata"
	"docpipe/pkg/models"
)

func TestRetrieverPendingReturnsEmptyText(t *testing.T) {
	store := metadata.NewMemoryStore(16)
	seed(t, store, &models.FileRecord{FileID: "f1", CallbackURL: "https://x.test/cb", Status: models.StatusRegistered})

	res, err := NewRetriever(store).Get(context.Background(), "f1")
	require.NoError(t, err)
	assert.Equal(t, "f1", res.FileID)
	assert.Equal(t, models.StatusRegistered, res.Status)

	body, err := json.Marshal(res)
	require.NoError(t, err)
	assert.JSONEq(t, `{"file_id":"f1","text":[],"status":"registered"}`, string(body))
}

func TestRetrieverUnknownID(t *testing.T) {
	_, err := NewRetriever(metadata.NewMemoryStore(16)).Get(context.Background(), "unknown")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, http.StatusNotFound, HTTPStatus(err))
	assert.Equal(t, MsgFileNotFound, Message(err))
}

func TestRetrieverStoreFailure(t *testing.T) {
	store := &failingStore{Store: metadata.NewMemoryStore(16), getErr: errBoom}
	_, err := NewRetriever(store).Get(context.Background(), "f1")
	assert.ErrorIs(t, err, ErrStore)
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(err))
	assert.Equal(t, MsgInternal, Message(err))
}

func TestHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusOK, HTTPStatus(nil))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(errBoom))
	assert.Equal(t, http.StatusBadGateway, HTTPStatus(NewPipelineError("op", ErrDelivery, nil, "")))
	assert.Equal(t, MsgInternal, Message(errBoom))

	err := NewPipelineError("Dispatch", ErrDispatchPrecondition, ErrNoText, MsgNoTextBlocks)
	assert.Contains(t, err.Error(), "Dispatch")
	assert.Contains(t, err.Error(), MsgNoTextBlocks)
	assert.NotErrorIs(t, err, ErrValidation)
}
