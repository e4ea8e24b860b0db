package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"docpipe/internal/config"
	"docpipe/internal/logger"
)

var version = "1.0.0"

var rootCmd = &cobra.Command{
	Use:   "docpipe",
	Short: "docpipe - asynchronous document text extraction",
	Long: `docpipe accepts document uploads, extracts their text once the upload
lands in object storage and delivers the result to a client-supplied
callback URL.

The HTTP API and the change-feed listener run under "serve". The "process"
and "callback" commands run a single pipeline step for one event, which is
how event-triggered hosts invoke the pipeline.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() {
	log := logger.WithComponent("cmd")

	if err := rootCmd.Execute(); err != nil {
		log.Error().
			Err(err).
			Msg("Command execution failed")
		fmt.Fprintf(os.Stderr, "Error executing command: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig loads and validates configuration for a command.
func loadConfig(log zerolog.Logger) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		log.Error().Err(err).Msg("Invalid configuration")
		return nil, err
	}
	return cfg, nil
}

// signalContext returns a context canceled on SIGINT or SIGTERM.
func signalContext(log zerolog.Logger) (context.Context, context.CancelFunc) {
	return withSignals(context.Background(), log)
}

// createContextWithTimeout creates a context with timeout and signal handling
func createContextWithTimeout(timeout time.Duration, log zerolog.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	sigCtx, sigCancel := withSignals(ctx, log)
	return sigCtx, func() {
		sigCancel()
		cancel()
	}
}

func withSignals(parent context.Context, log zerolog.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigChan)
		select {
		case sig := <-sigChan:
			log.Info().
				Str("signal", sig.String()).
				Msg("Received interrupt signal, shutting down")
			cancel()
		case <-ctx.Done():
			// Context completed normally
		}
	}()

	return ctx, cancel
}

// readEventPayload reads an event body from a file, or from stdin for "-".
func readEventPayload(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read event file: %w", err)
	}
	return data, nil
}

// writeResult prints v as indented JSON to outputPath or stdout.
func writeResult(v any, outputPath string, log zerolog.Logger) error {
	outputData, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to create JSON output: %w", err)
	}
	outputData = append(outputData, '\n')

	if outputPath != "" {
		if err := os.WriteFile(outputPath, outputData, 0644); err != nil {
			log.Error().
				Err(err).
				Str("output_file", outputPath).
				Msg("Failed to write output file")
			return fmt.Errorf("failed to write output file: %w", err)
		}
		log.Info().
			Str("output_file", outputPath).
			Int("bytes", len(outputData)).
			Msg("Result written to file")
		return nil
	}

	if _, err := os.Stdout.Write(outputData); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}
