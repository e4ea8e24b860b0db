package ocr

import (
	"context"
	"fmt"
	"strings"
	"time"

	vision "cloud.google.com/go/vision/v2/apiv1"
	"cloud.google.com/go/vision/v2/apiv1/visionpb"
	"github.com/rs/zerolog"

	"docpipe/internal/gcp"
	"docpipe/internal/logger"
)

const (
	// MaxPagesSync is the maximum number of pages for synchronous file processing
	MaxPagesSync = 5
)

// GoogleVisionDetector implements TextDetector using Google Cloud Vision API.
type GoogleVisionDetector struct {
	client *vision.ImageAnnotatorClient
	log    zerolog.Logger
}

// NewGoogleVisionDetector creates a new detector with credentials from environment.
// It expects either GOOGLE_APPLICATION_CREDENTIALS path or GOOGLE_CREDENTIALS JSON in env.
func NewGoogleVisionDetector(ctx context.Context) (*GoogleVisionDetector, error) {
	const op = "NewGoogleVisionDetector"

	client, err := vision.NewImageAnnotatorClient(ctx, gcp.ClientOptions()...)
	if err != nil {
		if !gcp.HasExplicitCredentials() {
			return nil, WrapOCRError(op, ErrMissingCredentials, "no credentials found in environment")
		}
		return nil, WrapOCRError(op, err, "failed to create Vision client")
	}

	return NewGoogleVisionDetectorWithClient(client), nil
}

// NewGoogleVisionDetectorWithClient creates a new detector with an explicit client (for testing).
func NewGoogleVisionDetectorWithClient(client *vision.ImageAnnotatorClient) *GoogleVisionDetector {
	return &GoogleVisionDetector{
		client: client,
		log:    logger.WithComponent("google-vision"),
	}
}

// DetectDocumentText runs DOCUMENT_TEXT_DETECTION against the stored object.
// PDF, TIFF and GIF go through the file API; everything else is treated as an image.
func (g *GoogleVisionDetector) DetectDocumentText(ctx context.Context, doc DocumentRef) (*Detection, error) {
	const op = "DetectDocumentText"
	startTime := time.Now()

	var (
		pages []*visionpb.AnnotateImageResponse
		err   error
	)
	if isFileMimeType(doc.mimeType()) {
		pages, err = g.annotateFile(ctx, doc)
	} else {
		pages, err = g.annotateImage(ctx, doc)
	}
	if err != nil {
		return nil, WrapOCRError(op, err, doc.URI())
	}

	detection, err := visionDetection(pages)
	if err != nil {
		return nil, WrapOCRError(op, err, "failed to process Vision API response")
	}

	detection.ProcessedAt = time.Now()
	detection.ProcessingDuration = detection.ProcessedAt.Sub(startTime)

	g.log.Info().
		Str("uri", doc.URI()).
		Int("page_count", detection.PageCount).
		Int("blocks", len(detection.Blocks)).
		Dur("duration", detection.ProcessingDuration).
		Msg("Vision detection completed")

	return detection, nil
}

func (g *GoogleVisionDetector) annotateFile(ctx context.Context, doc DocumentRef) ([]*visionpb.AnnotateImageResponse, error) {
	req := &visionpb.BatchAnnotateFilesRequest{
		Requests: []*visionpb.AnnotateFileRequest{
			{
				InputConfig: &visionpb.InputConfig{
					GcsSource: &visionpb.GcsSource{Uri: doc.URI()},
					MimeType:  doc.mimeType(),
				},
				Features: []*visionpb.Feature{
					{
						Type: visionpb.Feature_DOCUMENT_TEXT_DETECTION,
					},
				},
			},
		},
	}

	resp, err := g.client.BatchAnnotateFiles(ctx, req)
	if err != nil {
		return nil, classifyAPIError("BatchAnnotateFiles", err)
	}
	if len(resp.GetResponses()) == 0 {
		return nil, fmt.Errorf("no response from Vision API: %w", ErrOCRFailed)
	}

	fileResp := resp.GetResponses()[0]
	if fileResp.GetError() != nil {
		return nil, fmt.Errorf("Vision API error: %s: %w", fileResp.GetError().GetMessage(), ErrOCRFailed)
	}
	if len(fileResp.GetResponses()) > MaxPagesSync {
		return nil, fmt.Errorf("document has %d pages, synchronous limit is %d: %w",
			len(fileResp.GetResponses()), MaxPagesSync, ErrUnsupportedDocument)
	}
	return fileResp.GetResponses(), nil
}

func (g *GoogleVisionDetector) annotateImage(ctx context.Context, doc DocumentRef) ([]*visionpb.AnnotateImageResponse, error) {
	req := &visionpb.BatchAnnotateImagesRequest{
		Requests: []*visionpb.AnnotateImageRequest{
			{
				Image: &visionpb.Image{
					Source: &visionpb.ImageSource{GcsImageUri: doc.URI()},
				},
				Features: []*visionpb.Feature{
					{
						Type: visionpb.Feature_DOCUMENT_TEXT_DETECTION,
					},
				},
			},
		},
	}

	resp, err := g.client.BatchAnnotateImages(ctx, req)
	if err != nil {
		return nil, classifyAPIError("BatchAnnotateImages", err)
	}
	if len(resp.GetResponses()) == 0 {
		return nil, fmt.Errorf("no response from Vision API: %w", ErrOCRFailed)
	}
	return resp.GetResponses(), nil
}

// visionDetection converts per-page annotations into blocks. Vision has no
// line entity, so lines are the newline-separated rows of the full text
// annotation, and words are the individual text annotations after the first
// (which repeats the whole page).
func visionDetection(pages []*visionpb.AnnotateImageResponse) (*Detection, error) {
	detection := &Detection{
		PageCount: len(pages),
		Engine:    "vision",
	}

	for pageIdx, page := range pages {
		if page.GetError() != nil {
			return nil, fmt.Errorf("error processing page %d: %s: %w", pageIdx+1, page.GetError().GetMessage(), ErrOCRFailed)
		}
		annotation := page.GetFullTextAnnotation()
		if annotation == nil {
			continue
		}

		pageNumber := pageIdx + 1
		if ctx := page.GetContext(); ctx != nil && ctx.GetPageNumber() > 0 {
			pageNumber = int(ctx.GetPageNumber())
		}

		detection.Blocks = append(detection.Blocks, Block{
			Type:       BlockPage,
			Text:       annotation.GetText(),
			Page:       pageNumber,
			Confidence: pageConfidence(annotation),
		})
		for _, line := range strings.Split(annotation.GetText(), "\n") {
			if line = strings.TrimSpace(line); line == "" {
				continue
			}
			detection.Blocks = append(detection.Blocks, Block{Type: BlockLine, Text: line, Page: pageNumber})
		}
		for i, word := range page.GetTextAnnotations() {
			if i == 0 {
				continue
			}
			detection.Blocks = append(detection.Blocks, Block{
				Type:       BlockWord,
				Text:       word.GetDescription(),
				Page:       pageNumber,
				Confidence: word.GetConfidence(),
			})
		}
	}

	return detection, nil
}

func pageConfidence(annotation *visionpb.TextAnnotation) float32 {
	var sum float32
	var n int
	for _, p := range annotation.GetPages() {
		if p.GetConfidence() > 0 {
			sum += p.GetConfidence()
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float32(n)
}

func isFileMimeType(mimeType string) bool {
	switch strings.ToLower(mimeType) {
	case "application/pdf", "image/tiff", "image/gif":
		return true
	}
	return false
}

// Close closes the underlying Vision client.
func (g *GoogleVisionDetector) Close() error {
	if g.client != nil {
		return g.client.Close()
	}
	return nil
}
