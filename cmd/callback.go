package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"docpipe/internal/events"
	"docpipe/internal/logger"
)

var callbackCmd = &cobra.Command{
	Use:   "callback [file-id]",
	Short: "Deliver the extracted text of one record",
	Long: `Run the callback dispatcher once for a file record.

The record is named by its file ID or by a change event payload read with
--event. Accepted payloads are {"file_id": ...}, the change-feed notification
{"file_id": ..., "op": ...} and stream records carrying
Records[0].dynamodb.Keys.file_id.S.

The delivery result is printed as JSON. A record without text or without a
callback URL yields status 400 and no request is sent.`,
	Example: `  # Deliver one record
  docpipe callback 3f0c2c1e-5b1a-4c59-9a8e-1f3d2f7e9b10

  # Deliver from a change event on stdin
  echo '{"file_id":"3f0c2c1e-5b1a-4c59-9a8e-1f3d2f7e9b10"}' | docpipe callback --event -`,
	Args: cobra.MaximumNArgs(1),
	RunE: runCallback,
}

func init() {
	rootCmd.AddCommand(callbackCmd)

	callbackCmd.Flags().String("event", "", "Read a change event payload from a file, or - for stdin")
	callbackCmd.Flags().StringP("output", "o", "", "Output file path (default: stdout)")
	callbackCmd.Flags().Duration("timeout", time.Minute, "Overall delivery timeout")
}

func runCallback(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("callback")

	eventPath, _ := cmd.Flags().GetString("event")
	outputPath, _ := cmd.Flags().GetString("output")
	timeout, _ := cmd.Flags().GetDuration("timeout")

	if (len(args) == 0) == (eventPath == "") {
		return fmt.Errorf("exactly one of a file ID argument or --event is required")
	}

	var ev events.RecordEvent
	if eventPath != "" {
		payload, err := readEventPayload(eventPath)
		if err != nil {
			return err
		}
		if ev, err = events.DecodeRecordEvent(payload); err != nil {
			return fmt.Errorf("failed to decode event: %w", err)
		}
	} else {
		ev = events.RecordEvent{FileID: args[0]}
	}

	cfg, err := loadConfig(log)
	if err != nil {
		return err
	}

	ctx, cancel := createContextWithTimeout(timeout, log)
	defer cancel()

	rt := newRuntime(cfg, log)
	defer rt.Close()

	if err := rt.openStore(ctx); err != nil {
		return err
	}

	delivery := rt.dispatcher().Dispatch(ctx, ev)
	if err := writeResult(delivery, outputPath, log); err != nil {
		return err
	}
	return stepError("delivery", delivery.StatusCode, delivery.Err)
}
