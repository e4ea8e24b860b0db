package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"docpipe/internal/callback"
	"docpipe/internal/events"
	"docpipe/internal/logger"
)

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Extract text for one uploaded object",
	Long: `Run the extraction worker once for an uploaded object.

The object is named either directly with --key (and optionally --bucket) or
by an upload event payload read with --event. Pub/Sub push envelopes,
CloudEvents, S3-style notification records and plain {"bucket","key"}
documents are accepted.

The outcome is printed as JSON. The command exits non-zero unless the
outcome status is 2xx.

Required environment variables:
  GOOGLE_APPLICATION_CREDENTIALS - Path to service account JSON file, OR
  GOOGLE_CREDENTIALS - Inline JSON credentials string
  GOOGLE_CLOUD_PROJECT, DOCUMENT_AI_PROCESSOR_ID - for the Document AI engine`,
	Example: `  # Process an object in the configured bucket
  docpipe process --key 3f0c2c1e-5b1a-4c59-9a8e-1f3d2f7e9b10

  # Process a storage notification read from stdin
  cat event.json | docpipe process --event -

  # Write the outcome to a file
  docpipe process --event event.json -o outcome.json`,
	Args: cobra.NoArgs,
	RunE: runProcess,
}

func init() {
	rootCmd.AddCommand(processCmd)

	processCmd.Flags().String("bucket", "", "Bucket of the uploaded object (default: BUCKET_NAME)")
	processCmd.Flags().String("key", "", "Object key, which is the file ID")
	processCmd.Flags().String("content-type", "", "Content type of the object (default: read from the object store)")
	processCmd.Flags().String("event", "", "Read an upload event payload from a file, or - for stdin")
	processCmd.Flags().StringP("output", "o", "", "Output file path (default: stdout)")
	processCmd.Flags().Duration("timeout", 5*time.Minute, "Overall processing timeout")
}

func runProcess(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("process")

	bucket, _ := cmd.Flags().GetString("bucket")
	key, _ := cmd.Flags().GetString("key")
	contentType, _ := cmd.Flags().GetString("content-type")
	eventPath, _ := cmd.Flags().GetString("event")
	outputPath, _ := cmd.Flags().GetString("output")
	timeout, _ := cmd.Flags().GetDuration("timeout")

	if (key == "") == (eventPath == "") {
		return fmt.Errorf("exactly one of --key or --event is required")
	}

	cfg, err := loadConfig(log)
	if err != nil {
		return err
	}

	var ev events.ObjectEvent
	if eventPath != "" {
		payload, err := readEventPayload(eventPath)
		if err != nil {
			return err
		}
		ev, err = events.DecodeObjectEvent(payload)
		if errors.Is(err, events.ErrIgnoredEvent) {
			log.Info().Err(err).Msg("Event ignored")
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to decode event: %w", err)
		}
	} else {
		if bucket == "" {
			bucket = cfg.BucketName
		}
		ev = events.ObjectEvent{Bucket: bucket, Key: key, ContentType: contentType}
	}

	log.Info().
		Str("bucket", ev.Bucket).
		Str("key", ev.Key).
		Str("generation", ev.Generation).
		Dur("timeout", timeout).
		Msg("Starting extraction")

	ctx, cancel := createContextWithTimeout(timeout, log)
	defer cancel()

	rt := newRuntime(cfg, log)
	defer rt.Close()

	if err := rt.openStore(ctx); err != nil {
		return err
	}
	if err := rt.openDetector(ctx); err != nil {
		return err
	}
	if err := rt.openGuard(ctx); err != nil {
		return err
	}
	if ev.ContentType == "" {
		if err := rt.openSigner(ctx); err != nil {
			return err
		}
	}

	out := rt.worker().Process(ctx, ev)
	if err := writeResult(out, outputPath, log); err != nil {
		return err
	}
	return stepError("extraction", out.StatusCode, out.Err)
}

// stepError converts a non-2xx pipeline result into a command error.
func stepError(step string, status int, err error) error {
	if callback.Success(status) {
		return nil
	}
	if err == nil {
		return fmt.Errorf("%s finished with status %d", step, status)
	}
	return fmt.Errorf("%s finished with status %d: %w", step, status, err)
}
