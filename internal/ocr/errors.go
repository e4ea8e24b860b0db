package ocr

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Common text detection errors
var (
	// ErrOCRFailed is returned when the engine fails to process the document.
	ErrOCRFailed = errors.New("text detection failed")

	// ErrMissingCredentials is returned when neither GOOGLE_APPLICATION_CREDENTIALS
	// nor GOOGLE_CREDENTIALS environment variables are configured.
	ErrMissingCredentials = errors.New("missing Google Cloud credentials: set GOOGLE_APPLICATION_CREDENTIALS or GOOGLE_CREDENTIALS environment variable")

	// ErrInvalidConfiguration is returned when the engine settings are incomplete.
	ErrInvalidConfiguration = errors.New("invalid text detection configuration")

	// ErrDocumentNotFound is returned when the referenced object does not exist
	// or the engine may not read it.
	ErrDocumentNotFound = errors.New("document not found in object store")

	// ErrUnsupportedDocument is returned when the engine rejects the document format.
	ErrUnsupportedDocument = errors.New("unsupported or corrupted document")

	// ErrQuotaExceeded is returned when API quota limits are exceeded.
	ErrQuotaExceeded = errors.New("text detection quota exceeded")

	// ErrPermissionDenied is returned when the credentials lack the required role.
	ErrPermissionDenied = errors.New("permission denied by text detection API")
)

// OCRError wraps errors with additional context about the detection failure.
type OCRError struct {
	// Op is the operation that failed (e.g., "DetectDocumentText").
	Op string

	// Err is the underlying error.
	Err error

	// Details provides additional context about the failure.
	Details string
}

// Error implements the error interface.
func (e *OCRError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("ocr: %s failed: %s: %v", e.Op, e.Details, e.Err)
	}
	return fmt.Sprintf("ocr: %s failed: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for error unwrapping.
func (e *OCRError) Unwrap() error {
	return e.Err
}

// Is implements error matching for Go 1.13+ error handling.
func (e *OCRError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewOCRError creates a new OCRError with the specified operation and underlying error.
func NewOCRError(op string, err error, details string) *OCRError {
	return &OCRError{
		Op:      op,
		Err:     err,
		Details: details,
	}
}

// WrapOCRError wraps an error as an OCRError if it isn't already one.
func WrapOCRError(op string, err error, details string) error {
	if err == nil {
		return nil
	}

	var ocrErr *OCRError
	if errors.As(err, &ocrErr) {
		return err // Already wrapped
	}

	return NewOCRError(op, err, details)
}

// classifyAPIError maps a Google API error onto the package sentinels using
// its gRPC status code.
func classifyAPIError(op string, err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return WrapOCRError(op, context.DeadlineExceeded, "processing timeout")
	case errors.Is(err, context.Canceled):
		return WrapOCRError(op, context.Canceled, "processing was canceled")
	}

	st, ok := status.FromError(err)
	if !ok {
		return WrapOCRError(op, ErrOCRFailed, err.Error())
	}

	switch st.Code() {
	case codes.NotFound:
		return WrapOCRError(op, ErrDocumentNotFound, st.Message())
	case codes.PermissionDenied, codes.Unauthenticated:
		return WrapOCRError(op, ErrPermissionDenied, st.Message())
	case codes.ResourceExhausted:
		return WrapOCRError(op, ErrQuotaExceeded, st.Message())
	case codes.InvalidArgument, codes.FailedPrecondition:
		return WrapOCRError(op, ErrUnsupportedDocument, st.Message())
	case codes.DeadlineExceeded:
		return WrapOCRError(op, context.DeadlineExceeded, st.Message())
	default:
		return WrapOCRError(op, ErrOCRFailed, fmt.Sprintf("%s: %s", st.Code(), st.Message()))
	}
}
