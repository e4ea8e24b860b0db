package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"docpipe/internal/api"
	"docpipe/internal/logger"
	"docpipe/internal/metadata"
	"docpipe/internal/pipeline"
)

const (
	shutdownTimeout = 15 * time.Second

	// listenRetryDelay is the pause before reconnecting a failed change feed.
	listenRetryDelay = 5 * time.Second
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Long: `Serve the upload registration and result endpoints together with the
push endpoints for object and record events.

With --listen the command also consumes the metadata store's change feed and
delivers callbacks in-process, which replaces the record-changed push
endpoint when no external trigger is wired up.

Required environment variables:
  TABLE_NAME   - Metadata table name
  BUCKET_NAME  - Upload bucket
  DATABASE_URL - PostgreSQL connection string (or IS_OFFLINE=true)`,
	Example: `  # Serve on the configured address
  docpipe serve

  # Serve and deliver callbacks from the change feed
  docpipe serve --listen --addr :9000`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("addr", "", "Listen address (default: HTTP_ADDR)")
	serveCmd.Flags().Bool("listen", false, "Consume the metadata change feed and dispatch callbacks")
}

func runServe(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("serve")

	addr, _ := cmd.Flags().GetString("addr")
	listen, _ := cmd.Flags().GetBool("listen")

	cfg, err := loadConfig(log)
	if err != nil {
		return err
	}
	if addr == "" {
		addr = cfg.HTTPAddr
	}

	ctx, cancel := signalContext(log)
	defer cancel()

	rt := newRuntime(cfg, log)
	defer rt.Close()

	if err := rt.openStore(ctx); err != nil {
		return err
	}
	if err := rt.openSigner(ctx); err != nil {
		return err
	}
	if err := rt.openDetector(ctx); err != nil {
		return err
	}
	if err := rt.openGuard(ctx); err != nil {
		return err
	}

	dispatcher := rt.dispatcher()
	server := api.NewServer(
		pipeline.NewRegistrar(rt.store, rt.signer, cfg.BucketName),
		pipeline.NewRetriever(rt.store),
		rt.worker(),
		dispatcher,
	)
	if rt.postgres != nil {
		server.SetHealthCheck(rt.postgres)
	}

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info().
			Str("addr", addr).
			Str("backend", cfg.MetadataBackend).
			Str("engine", cfg.ExtractionEngine).
			Bool("listen", listen).
			Msg("HTTP server starting")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		log.Info().Msg("HTTP server shutting down")
		return httpServer.Shutdown(shutdownCtx)
	})

	if listen {
		g.Go(func() error {
			listenChanges(gctx, rt.store, dispatcher.HandleChange, listenRetryDelay, log)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Server stopped with error")
		return err
	}
	log.Info().Msg("Server stopped")
	return nil
}

// listenChanges consumes the change feed until ctx is done, reconnecting
// after delay whenever the feed fails.
func listenChanges(ctx context.Context, feed metadata.ChangeFeed, handler metadata.ChangeHandler, delay time.Duration, log zerolog.Logger) {
	for {
		err := feed.Listen(ctx, handler)
		if ctx.Err() != nil {
			return
		}
		log.Warn().Err(err).Dur("retry_in", delay).Msg("Change feed stopped, reconnecting")

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}
