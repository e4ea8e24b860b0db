package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"docpipe/internal/callback"
	"docpipe/internal/config"
	"docpipe/internal/dedupe"
	"docpipe/internal/gcp"
	"docpipe/internal/metadata"
	"docpipe/internal/ocr"
	"docpipe/internal/pipeline"
	"docpipe/internal/storage"
)

// changeBuffer bounds undelivered change events for the in-memory backend.
const changeBuffer = 1024

// metadataStore is what every command needs from the configured backend.
type metadataStore interface {
	metadata.Store
	metadata.ChangeFeed
}

// runtime holds the collaborators built from configuration. Fields are nil
// until the matching build method has run.
type runtime struct {
	cfg *config.Config
	log zerolog.Logger

	store    metadataStore
	postgres *metadata.PostgresStore
	signer   *storage.GCSSigner
	detector ocr.TextDetector
	guard    dedupe.Guard
	poster   *callback.Client

	closers []func()
}

func newRuntime(cfg *config.Config, log zerolog.Logger) *runtime {
	return &runtime{
		cfg:    cfg,
		log:    log,
		poster: callback.NewClient(cfg.CallbackTimeout),
	}
}

// Close releases everything the runtime opened, newest first.
func (rt *runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
}

func (rt *runtime) openStore(ctx context.Context) error {
	switch rt.cfg.MetadataBackend {
	case config.BackendMemory:
		rt.log.Warn().Msg("Using in-memory metadata store; records are lost on exit")
		rt.store = metadata.NewMemoryStore(changeBuffer)
		return nil
	default:
		pg, err := metadata.Open(ctx, metadata.Config{
			DSN:   rt.cfg.MetadataURL(),
			Table: rt.cfg.TableName,
		})
		if err != nil {
			return fmt.Errorf("failed to open metadata store: %w", err)
		}
		rt.postgres = pg
		rt.store = pg
		rt.closers = append(rt.closers, pg.Close)
		return nil
	}
}

func (rt *runtime) openSigner(ctx context.Context) error {
	signer, err := storage.NewGCSSigner(ctx)
	if err != nil {
		return fmt.Errorf("failed to create upload signer: %w", err)
	}
	rt.signer = signer
	rt.closers = append(rt.closers, func() {
		if err := signer.Close(); err != nil {
			rt.log.Warn().Err(err).Msg("Failed to close storage client")
		}
	})
	return nil
}

func (rt *runtime) openDetector(ctx context.Context) error {
	if err := rt.cfg.ValidateExtraction(); err != nil {
		return err
	}
	if !gcp.HasExplicitCredentials() {
		rt.log.Info().Msg("No explicit Google credentials configured, using Application Default Credentials")
	}

	var (
		detector ocr.TextDetector
		err      error
	)
	switch rt.cfg.ExtractionEngine {
	case config.EngineVision:
		detector, err = ocr.NewGoogleVisionDetector(ctx)
	default:
		detector, err = ocr.NewDocumentAIDetector(ctx, ocr.DocumentAIConfig{
			ProjectID:        rt.cfg.GoogleCloudProject,
			Location:         rt.cfg.GoogleCloudLocation,
			ProcessorID:      rt.cfg.DocumentAIProcessorID,
			ProcessorVersion: rt.cfg.DocumentAIProcessorVersion,
			Timeout:          rt.cfg.ExtractionTimeout,
		})
	}
	if err != nil {
		return describeEngineError(err)
	}

	rt.detector = detector
	rt.closers = append(rt.closers, func() {
		if err := detector.Close(); err != nil {
			rt.log.Warn().Err(err).Msg("Failed to close text detection client")
		}
	})
	rt.log.Debug().Str("engine", rt.cfg.ExtractionEngine).Msg("Text detector created")
	return nil
}

func (rt *runtime) openGuard(ctx context.Context) error {
	switch {
	case rt.cfg.RedisAddr != "":
		guard, err := dedupe.NewRedisGuard(ctx, dedupe.RedisConfig{Addr: rt.cfg.RedisAddr})
		if err != nil {
			return fmt.Errorf("failed to connect dedupe store: %w", err)
		}
		rt.guard = guard
		rt.closers = append(rt.closers, func() { _ = guard.Close() })
	case rt.cfg.MetadataBackend == config.BackendMemory:
		rt.guard = dedupe.NewMemoryGuard()
	}
	return nil
}

func (rt *runtime) worker() *pipeline.Worker {
	cfg := pipeline.WorkerConfig{
		Guard:             rt.guard,
		DedupeTTL:         rt.cfg.DedupeTTL,
		ExtractionTimeout: rt.cfg.ExtractionTimeout,
	}
	if rt.signer != nil {
		cfg.Inspector = rt.signer
	}
	return pipeline.NewWorker(rt.store, rt.detector, rt.poster, cfg)
}

func (rt *runtime) dispatcher() *pipeline.Dispatcher {
	return pipeline.NewDispatcher(rt.store, rt.poster)
}

// describeEngineError turns engine construction failures into actionable messages.
func describeEngineError(err error) error {
	errStr := err.Error()

	switch {
	case errors.Is(err, ocr.ErrInvalidConfiguration):
		return fmt.Errorf("text detection is not configured: %w", err)
	case errors.Is(err, ocr.ErrMissingCredentials),
		strings.Contains(errStr, "could not find default credentials"):
		return fmt.Errorf("Google Cloud credentials not configured. Please set one of:\n\n" +
			"1. Export GOOGLE_APPLICATION_CREDENTIALS with path to service account JSON:\n" +
			"   export GOOGLE_APPLICATION_CREDENTIALS=/path/to/service-account-key.json\n\n" +
			"2. Export GOOGLE_CREDENTIALS with inline JSON:\n" +
			"   export GOOGLE_CREDENTIALS='{\"type\":\"service_account\",\"project_id\":\"your-project\",...}'\n\n" +
			"3. Use Application Default Credentials (if gcloud is configured):\n" +
			"   gcloud auth application-default login\n\n" +
			"Original error: %w", err)
	default:
		return fmt.Errorf("failed to create text detector: %w", err)
	}
}
