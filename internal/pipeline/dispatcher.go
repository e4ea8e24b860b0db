package pipeline

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"docpipe/internal/callback"
	"docpipe/internal/events"
	"docpipe/internal/logger"
	"docpipe/internal/metadata"
	"docpipe/pkg/models"
)

// Delivery is the result of one callback dispatch.
type Delivery struct {
	FileID     string `json:"file_id"`
	StatusCode int    `json:"status_code"`
	Error      string `json:"error,omitempty"`

	Err error `json:"-"`
}

// Dispatcher posts extracted text to the record's callback URL.
type Dispatcher struct {
	store  metadata.Store
	poster callback.Poster
	log    zerolog.Logger
}

func NewDispatcher(store metadata.Store, poster callback.Poster) *Dispatcher {
	return &Dispatcher{
		store:  store,
		poster: poster,
		log:    logger.WithComponent("dispatcher"),
	}
}

// Dispatch re-reads the record named by ev and delivers its text with a single
// POST. The returned status mirrors the callback endpoint's reply; records that
// aren't ready produce a 400 delivery without any request being sent.
func (d *Dispatcher) Dispatch(ctx context.Context, ev events.RecordEvent) *Delivery {
	const op = "Dispatch"
	log := logger.WithFileID(d.log, ev.FileID)

	rec, err := d.store.Get(ctx, ev.FileID)
	if errors.Is(err, metadata.ErrNotFound) {
		return d.precondition(log, ev.FileID, ErrRecordMissing, MsgNoRecord)
	}
	if err != nil {
		log.Error().Err(err).Msg("Failed to load file record")
		perr := NewPipelineError(op, ErrStore, err, MsgInternal)
		return &Delivery{FileID: ev.FileID, StatusCode: http.StatusInternalServerError, Error: perr.Details, Err: perr}
	}
	if !rec.HasText() {
		return d.precondition(log, ev.FileID, ErrNoText, MsgNoTextBlocks)
	}
	callbackURL := strings.TrimSpace(rec.CallbackURL)
	if callbackURL == "" {
		return d.precondition(log, ev.FileID, ErrMissingCallback, MsgCallbackMissing)
	}

	status, err := d.poster.Post(ctx, callbackURL, models.SuccessPayload{FileID: rec.FileID, Text: rec.Text})
	if err != nil {
		log.Warn().Err(err).Msg("Callback delivery failed")
		perr := NewPipelineError(op, ErrDelivery, err, err.Error())
		return &Delivery{FileID: ev.FileID, StatusCode: HTTPStatus(perr), Error: perr.Details, Err: perr}
	}

	log.Info().Int("callback_status", status).Int("lines", len(rec.Text)).Msg("Callback delivered")
	if callback.Success(status) {
		if err := d.store.SetStatus(ctx, rec.FileID, models.StatusNotified); err != nil {
			log.Warn().Err(err).Msg("Failed to mark record notified")
		}
	}
	return &Delivery{FileID: ev.FileID, StatusCode: status}
}

// HandleChange adapts Dispatch to a metadata change feed. Records that aren't
// ready are already logged by Dispatch and are not reported as errors.
func (d *Dispatcher) HandleChange(ctx context.Context, change metadata.Change) error {
	delivery := d.Dispatch(ctx, events.RecordEvent{FileID: change.FileID, Op: string(change.Op)})
	if errors.Is(delivery.Err, ErrDispatchPrecondition) {
		return nil
	}
	return delivery.Err
}

func (d *Dispatcher) precondition(log zerolog.Logger, fileID string, cause error, msg string) *Delivery {
	perr := NewPipelineError("Dispatch", ErrDispatchPrecondition, cause, msg)
	log.Warn().Str("reason", msg).Msg("Callback not dispatched")
	return &Delivery{FileID: fileID, StatusCode: http.StatusBadRequest, Error: msg, Err: perr}
}
