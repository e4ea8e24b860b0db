// Package ocr provides text detection for documents stored in Google Cloud Storage.
//
// Two engines are supported and both are addressed by object reference, so the
// pipeline never downloads the uploaded file itself:
//   - Document AI (default): the OCR processor returns page layouts with explicit
//     line, token and page granularity.
//   - Cloud Vision: DOCUMENT_TEXT_DETECTION on a GCS image; lines are taken from
//     the full text annotation.
//
// Required Environment Variables:
//   - GOOGLE_APPLICATION_CREDENTIALS: Path to service account JSON file, OR
//   - GOOGLE_CREDENTIALS: Inline JSON credentials string
//   - GOOGLE_CLOUD_PROJECT, DOCUMENT_AI_PROCESSOR_ID: for the Document AI engine
//
// Results are returned as a flat list of blocks tagged with their granularity.
// Callers decide which granularity they care about.
package ocr

import (
	"context"
	"fmt"
	"time"
)

// BlockType is the granularity of a recognized text block.
type BlockType string

const (
	BlockPage BlockType = "PAGE"
	BlockLine BlockType = "LINE"
	BlockWord BlockType = "WORD"
)

// DocumentRef points at an object in the object store.
type DocumentRef struct {
	Bucket string
	Name   string

	// MimeType of the stored object. Empty means DefaultMimeType.
	MimeType string
}

// DefaultMimeType is assumed when neither the event nor the object's stored
// attributes supply a content type.
const DefaultMimeType = "application/pdf"

// URI returns the gs:// URI of the object.
func (d DocumentRef) URI() string {
	return fmt.Sprintf("gs://%s/%s", d.Bucket, d.Name)
}

func (d DocumentRef) mimeType() string {
	if d.MimeType == "" {
		return DefaultMimeType
	}
	return d.MimeType
}

// TextDetector defines the interface for text detection engines.
type TextDetector interface {
	// DetectDocumentText runs text detection against a stored object.
	// Any error means the engine could not produce a result.
	DetectDocumentText(ctx context.Context, doc DocumentRef) (*Detection, error)

	// Close releases the underlying client.
	Close() error
}

// Block is one recognized text element.
type Block struct {
	Type       BlockType `json:"block_type"`
	Text       string    `json:"text"`
	Page       int       `json:"page"`
	Confidence float32   `json:"confidence,omitempty"`
}

// Detection contains the results of text detection with metadata.
type Detection struct {
	// Blocks holds every recognized element, pages first, in reading order.
	Blocks []Block `json:"blocks"`

	// PageCount is the number of pages that were processed.
	PageCount int `json:"page_count"`

	// Engine names the backend that produced the result.
	Engine string `json:"engine"`

	// ProcessedAt is the timestamp when detection completed.
	ProcessedAt time.Time `json:"processed_at"`

	// ProcessingDuration is how long the engine call took.
	ProcessingDuration time.Duration `json:"processing_duration"`
}

// Lines returns the text of every LINE block, in the order they were detected.
func (d *Detection) Lines() []string {
	if d == nil {
		return nil
	}
	var lines []string
	for _, b := range d.Blocks {
		if b.Type == BlockLine {
			lines = append(lines, b.Text)
		}
	}
	return lines
}
