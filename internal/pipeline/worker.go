package pipeline

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"docpipe/internal/callback"
	"docpipe/internal/dedupe"
	"docpipe/internal/events"
	"docpipe/internal/logger"
	"docpipe/internal/metadata"
	"docpipe/internal/ocr"
	"docpipe/internal/storage"
	"docpipe/pkg/models"
)

// OutcomeKind classifies the result of one extraction run.
type OutcomeKind string

const (
	OutcomeExtracted      OutcomeKind = "extracted"
	OutcomeRecordNotFound OutcomeKind = "record_not_found"
	OutcomeDuplicate      OutcomeKind = "duplicate"
	OutcomeEngineFailure  OutcomeKind = "engine_failure"
	OutcomeNoText         OutcomeKind = "no_text_found"
	OutcomeStoreFailure   OutcomeKind = "store_failure"
)

// Outcome is the result of processing one object event.
type Outcome struct {
	FileID     string      `json:"file_id"`
	Kind       OutcomeKind `json:"outcome"`
	StatusCode int         `json:"status_code"`
	Lines      []string    `json:"text,omitempty"`
	Error      string      `json:"error,omitempty"`

	// NotificationStatus is the callback endpoint's reply to a failure
	// notification, 0 when none was received.
	NotificationStatus int `json:"notification_status,omitempty"`

	Err error `json:"-"`
}

// Retryable reports whether redelivering the same event could change the
// result. Every other outcome is final for that event.
func (o *Outcome) Retryable() bool {
	return o.Kind == OutcomeStoreFailure
}

// WorkerConfig holds optional worker settings.
type WorkerConfig struct {
	// Guard suppresses redelivered events. Nil disables the check.
	Guard     dedupe.Guard
	DedupeTTL time.Duration

	// ExtractionTimeout bounds the engine call. Zero means no extra bound.
	ExtractionTimeout time.Duration

	// Inspector resolves the content type of objects whose event didn't
	// carry one. Nil leaves it to the engine default.
	Inspector storage.ObjectInspector
}

// Worker runs text extraction for uploaded objects and stores the result.
type Worker struct {
	store    metadata.Store
	detector ocr.TextDetector
	poster   callback.Poster
	cfg      WorkerConfig
	log      zerolog.Logger
}

func NewWorker(store metadata.Store, detector ocr.TextDetector, poster callback.Poster, cfg WorkerConfig) *Worker {
	if cfg.DedupeTTL <= 0 {
		cfg.DedupeTTL = time.Hour
	}
	return &Worker{
		store:    store,
		detector: detector,
		poster:   poster,
		cfg:      cfg,
		log:      logger.WithComponent("worker"),
	}
}

// Process extracts the text of the object named by ev and persists it on the
// record whose file ID equals the object key. Success never notifies the
// client directly; the metadata change does. Failures are reported to the
// callback URL once, with the same payload whether the engine failed or found
// nothing. A dedupe claim is kept for every outcome except a retryable one.
func (w *Worker) Process(ctx context.Context, ev events.ObjectEvent) (out *Outcome) {
	const op = "Process"
	fileID := ev.Key
	log := logger.WithFileID(w.log, fileID)

	rec, err := w.store.Get(ctx, fileID)
	if errors.Is(err, metadata.ErrNotFound) {
		log.Warn().Str("bucket", ev.Bucket).Msg("No record for uploaded object")
		perr := NewPipelineError(op, ErrNotFound, err, MsgNoRecord)
		return &Outcome{FileID: fileID, Kind: OutcomeRecordNotFound, StatusCode: http.StatusNotFound, Error: perr.Details, Err: perr}
	}
	if err != nil {
		log.Error().Err(err).Msg("Failed to load file record")
		return w.storeFailure(op, fileID, err)
	}

	if key := ev.DedupeKey(); w.cfg.Guard != nil && key != "" {
		claimed, err := w.cfg.Guard.Claim(ctx, key, w.cfg.DedupeTTL)
		switch {
		case err != nil:
			log.Warn().Err(err).Str("event", key).Msg("Dedupe claim failed, processing anyway")
		case !claimed:
			log.Info().Str("event", key).Msg("Duplicate event skipped")
			return &Outcome{FileID: fileID, Kind: OutcomeDuplicate, StatusCode: http.StatusOK}
		default:
			defer func() {
				if !out.Retryable() {
					return
				}
				if err := w.cfg.Guard.Release(context.WithoutCancel(ctx), key); err != nil {
					log.Warn().Err(err).Str("event", key).Msg("Failed to release dedupe claim")
				}
			}()
		}
	}

	detectCtx := ctx
	if w.cfg.ExtractionTimeout > 0 {
		var cancel context.CancelFunc
		detectCtx, cancel = context.WithTimeout(ctx, w.cfg.ExtractionTimeout)
		defer cancel()
	}

	detection, err := w.detector.DetectDocumentText(detectCtx, ocr.DocumentRef{
		Bucket:   ev.Bucket,
		Name:     ev.Key,
		MimeType: w.contentType(ctx, ev, log),
	})
	if err != nil {
		log.Error().Err(err).Msg("Text detection failed")
		return w.extractionFailed(ctx, rec, OutcomeEngineFailure, err)
	}

	lines := models.NormalizeLines(detection.Lines())
	if len(lines) == 0 {
		log.Warn().Int("pages", detection.PageCount).Msg("No text lines detected")
		return w.extractionFailed(ctx, rec, OutcomeNoText, errors.New("no text lines detected"))
	}

	status := models.StatusExtracted
	if slices.Equal(rec.Text, lines) {
		// Unchanged text produces no change event, so keep whatever delivery
		// state the record already reached.
		status = rec.Status
	}
	updated := &models.FileRecord{
		FileID:      fileID,
		CallbackURL: rec.CallbackURL,
		Text:        lines,
		Status:      status,
		CreatedAt:   rec.CreatedAt,
	}
	if err := w.store.Put(ctx, updated); err != nil {
		log.Error().Err(err).Msg("Failed to store extracted text")
		return w.storeFailure(op, fileID, err)
	}

	log.Info().
		Int("lines", len(lines)).
		Int("pages", detection.PageCount).
		Str("engine", detection.Engine).
		Dur("duration", detection.ProcessingDuration).
		Msg("Text extracted")
	return &Outcome{FileID: fileID, Kind: OutcomeExtracted, StatusCode: http.StatusOK, Lines: lines}
}

func (w *Worker) contentType(ctx context.Context, ev events.ObjectEvent, log zerolog.Logger) string {
	if ev.ContentType != "" || w.cfg.Inspector == nil {
		return ev.ContentType
	}
	contentType, err := w.cfg.Inspector.ContentType(ctx, ev.Bucket, ev.Key)
	if err != nil {
		log.Warn().Err(err).Str("default", ocr.DefaultMimeType).Msg("Content type lookup failed")
		return ""
	}
	log.Debug().Str("content_type", contentType).Msg("Content type read from object attributes")
	return contentType
}

func (w *Worker) extractionFailed(ctx context.Context, rec *models.FileRecord, kind OutcomeKind, cause error) *Outcome {
	log := logger.WithFileID(w.log, rec.FileID)
	perr := NewPipelineError("Process", ErrExtraction, cause, models.FailureMessage)
	out := &Outcome{
		FileID:     rec.FileID,
		Kind:       kind,
		StatusCode: HTTPStatus(perr),
		Error:      models.FailureMessage,
		Err:        perr,
	}

	// A record that already holds text keeps its successful state.
	markable := !rec.HasText()
	if markable {
		if err := w.store.SetStatus(ctx, rec.FileID, models.StatusExtractionFailed); err != nil {
			log.Warn().Err(err).Msg("Failed to mark extraction failure")
		}
	}

	callbackURL := strings.TrimSpace(rec.CallbackURL)
	if callbackURL == "" {
		log.Warn().Msg("No callback URL, failure not reported")
		return out
	}

	status, err := w.poster.Post(ctx, callbackURL, models.FailurePayload{FileID: rec.FileID, Error: models.FailureMessage})
	if err != nil {
		log.Warn().Err(err).Msg("Failure notification not delivered")
		return out
	}
	out.NotificationStatus = status
	log.Info().Int("callback_status", status).Str("outcome", string(kind)).Msg("Failure notification sent")

	if markable && callback.Success(status) {
		if err := w.store.SetStatus(ctx, rec.FileID, models.StatusFailureNotified); err != nil {
			log.Warn().Err(err).Msg("Failed to mark failure notified")
		}
	}
	return out
}

func (w *Worker) storeFailure(op, fileID string, err error) *Outcome {
	perr := NewPipelineError(op, ErrStore, err, MsgInternal)
	return &Outcome{FileID: fileID, Kind: OutcomeStoreFailure, StatusCode: http.StatusInternalServerError, Error: perr.Details, Err: perr}
}
