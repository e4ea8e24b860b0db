package pipeline

import (
	"errors"
	"fmt"
	"net/http"
)

// Error kinds. Every error returned by a pipeline step matches exactly one of
// these with errors.Is.
var (
	// ErrValidation is returned when client input is rejected.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound is returned when no record exists for a file ID.
	ErrNotFound = errors.New("record not found")

	// ErrCredential is returned when the upload URL can't be signed.
	ErrCredential = errors.New("upload credential generation failed")

	// ErrExtraction is returned when the engine failed or found no text.
	ErrExtraction = errors.New("text extraction failed")

	// ErrDispatchPrecondition is returned when a record isn't ready for delivery.
	ErrDispatchPrecondition = errors.New("dispatch precondition failed")

	// ErrDelivery is returned when the callback endpoint could not be reached.
	ErrDelivery = errors.New("callback delivery failed")

	// ErrStore is returned when the metadata store fails.
	ErrStore = errors.New("metadata store failure")
)

// Dispatch precondition causes, wrapped by ErrDispatchPrecondition errors.
var (
	ErrRecordMissing   = errors.New("record missing")
	ErrNoText          = errors.New("record has no text")
	ErrMissingCallback = errors.New("record has no callback url")
)

// Client-facing messages.
const (
	MsgInvalidCallbackURL = "Invalid callback URL supplied"
	MsgFileNotFound       = "File not found"
	MsgNoRecord           = "No record with specified file ID"
	MsgNoTextBlocks       = "No text blocks found for specified file ID"
	MsgCallbackMissing    = "Callback URL not provided"
	MsgInternal           = "Internal server error"
)

// PipelineError carries the failing operation, its kind and the message that
// may be shown to the client.
type PipelineError struct {
	// Op is the operation that failed (e.g., "Register").
	Op string

	// Kind is one of the package error kinds.
	Kind error

	// Err is the underlying cause. It may be nil.
	Err error

	// Details is the client-facing message.
	Details string
}

func (e *PipelineError) Error() string {
	msg := fmt.Sprintf("pipeline: %s: %v", e.Op, e.Kind)
	if e.Details != "" {
		msg += ": " + e.Details
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}

func (e *PipelineError) Is(target error) bool {
	return target == e.Kind
}

// NewPipelineError creates a PipelineError.
func NewPipelineError(op string, kind, err error, details string) *PipelineError {
	return &PipelineError{
		Op:      op,
		Kind:    kind,
		Err:     err,
		Details: details,
	}
}

// HTTPStatus maps an error to the status code reported for it.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrValidation), errors.Is(err, ErrCredential), errors.Is(err, ErrDispatchPrecondition):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrExtraction):
		return http.StatusNotFound
	case errors.Is(err, ErrDelivery):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Message returns the client-facing message for err.
func Message(err error) string {
	var perr *PipelineError
	if errors.As(err, &perr) && perr.Details != "" {
		return perr.Details
	}
	return MsgInternal
}
