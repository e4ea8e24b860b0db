package ocr

import (
	"context"
	"fmt"
	"strings"
	"time"

	documentai "cloud.google.com/go/documentai/apiv1"
	"cloud.google.com/go/documentai/apiv1/documentaipb"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"

	"docpipe/internal/gcp"
	"docpipe/internal/logger"
)

// DocumentAIConfig holds configuration for Google Document AI processing.
type DocumentAIConfig struct {
	// ProjectID is the Google Cloud project ID where Document AI is enabled.
	ProjectID string

	// Location is the processing location (e.g., "us", "eu").
	// Should match where your Document AI processor is created.
	Location string

	// ProcessorID is the OCR processor ID.
	ProcessorID string

	// ProcessorVersion specifies a particular processor version.
	// If empty, uses the default version.
	ProcessorVersion string

	// Timeout is the maximum time to wait for processing.
	// Default: 120 seconds.
	Timeout time.Duration
}

func (c DocumentAIConfig) validate() error {
	if c.ProjectID == "" {
		return fmt.Errorf("project ID is required: %w", ErrInvalidConfiguration)
	}
	if c.ProcessorID == "" {
		return fmt.Errorf("processor ID is required: %w", ErrInvalidConfiguration)
	}
	return nil
}

// DocumentAIDetector implements TextDetector using a Document AI OCR processor.
type DocumentAIDetector struct {
	client *documentai.DocumentProcessorClient
	config DocumentAIConfig
	log    zerolog.Logger
}

// NewDocumentAIDetector creates a detector with credentials from environment.
func NewDocumentAIDetector(ctx context.Context, config DocumentAIConfig) (*DocumentAIDetector, error) {
	const op = "NewDocumentAIDetector"

	if err := config.validate(); err != nil {
		return nil, WrapOCRError(op, err, "")
	}
	if config.Location == "" {
		config.Location = "us"
	}
	if config.Timeout <= 0 {
		config.Timeout = 120 * time.Second
	}

	// Non-US processors are only reachable through their regional endpoint
	var extra []option.ClientOption
	if config.Location != "us" {
		extra = append(extra, option.WithEndpoint(fmt.Sprintf("%s-documentai.googleapis.com:443", config.Location)))
	}

	client, err := documentai.NewDocumentProcessorClient(ctx, gcp.ClientOptions(extra...)...)
	if err != nil {
		if !gcp.HasExplicitCredentials() {
			return nil, WrapOCRError(op, ErrMissingCredentials, "no credentials found in environment")
		}
		return nil, WrapOCRError(op, err, fmt.Sprintf("failed to create Document AI client for location: %s", config.Location))
	}

	return NewDocumentAIDetectorWithClient(config, client), nil
}

// NewDocumentAIDetectorWithClient creates a detector with an explicit client (for testing).
func NewDocumentAIDetectorWithClient(config DocumentAIConfig, client *documentai.DocumentProcessorClient) *DocumentAIDetector {
	return &DocumentAIDetector{
		client: client,
		config: config,
		log:    logger.WithComponent("document-ai"),
	}
}

// DetectDocumentText runs the OCR processor against the object in place.
func (p *DocumentAIDetector) DetectDocumentText(ctx context.Context, doc DocumentRef) (*Detection, error) {
	const op = "DetectDocumentText"
	startTime := time.Now()

	processCtx, cancel := context.WithTimeout(ctx, p.config.Timeout)
	defer cancel()

	req := &documentaipb.ProcessRequest{
		Name: p.processorName(),
		Source: &documentaipb.ProcessRequest_GcsDocument{
			GcsDocument: &documentaipb.GcsDocument{
				GcsUri:   doc.URI(),
				MimeType: doc.mimeType(),
			},
		},
	}

	p.log.Debug().
		Str("processor", req.Name).
		Str("uri", doc.URI()).
		Str("mime_type", doc.mimeType()).
		Msg("Calling Document AI")

	resp, err := p.client.ProcessDocument(processCtx, req)
	if err != nil {
		return nil, classifyAPIError(op, err)
	}
	if resp.GetDocument() == nil {
		return nil, WrapOCRError(op, ErrOCRFailed, "no document in response")
	}
	if e := resp.GetDocument().GetError(); e != nil && e.GetMessage() != "" {
		return nil, WrapOCRError(op, ErrOCRFailed, fmt.Sprintf("Document AI error: %s", e.GetMessage()))
	}

	detection := &Detection{
		Blocks:    documentBlocks(resp.GetDocument()),
		PageCount: len(resp.GetDocument().GetPages()),
		Engine:    "documentai",
	}
	detection.ProcessedAt = time.Now()
	detection.ProcessingDuration = detection.ProcessedAt.Sub(startTime)

	p.log.Info().
		Str("uri", doc.URI()).
		Int("page_count", detection.PageCount).
		Int("blocks", len(detection.Blocks)).
		Dur("duration", detection.ProcessingDuration).
		Msg("Document AI detection completed")

	return detection, nil
}

// processorName constructs the full processor name for Document AI API.
func (p *DocumentAIDetector) processorName() string {
	if p.config.ProcessorVersion != "" {
		return fmt.Sprintf("projects/%s/locations/%s/processors/%s/processorVersions/%s",
			p.config.ProjectID, p.config.Location, p.config.ProcessorID, p.config.ProcessorVersion)
	}
	return fmt.Sprintf("projects/%s/locations/%s/processors/%s",
		p.config.ProjectID, p.config.Location, p.config.ProcessorID)
}

// documentBlocks flattens the page layout into blocks. Every page contributes
// a PAGE block, then its LINE blocks, then its WORD blocks (Document AI tokens).
func documentBlocks(doc *documentaipb.Document) []Block {
	text := []rune(doc.GetText())
	var blocks []Block

	for i, page := range doc.GetPages() {
		pageNumber := int(page.GetPageNumber())
		if pageNumber == 0 {
			pageNumber = i + 1
		}

		blocks = append(blocks, Block{
			Type:       BlockPage,
			Text:       layoutText(text, page.GetLayout()),
			Page:       pageNumber,
			Confidence: page.GetLayout().GetConfidence(),
		})
		for _, line := range page.GetLines() {
			blocks = append(blocks, Block{
				Type:       BlockLine,
				Text:       strings.TrimSpace(layoutText(text, line.GetLayout())),
				Page:       pageNumber,
				Confidence: line.GetLayout().GetConfidence(),
			})
		}
		for _, token := range page.GetTokens() {
			blocks = append(blocks, Block{
				Type:       BlockWord,
				Text:       strings.TrimSpace(layoutText(text, token.GetLayout())),
				Page:       pageNumber,
				Confidence: token.GetLayout().GetConfidence(),
			})
		}
	}
	return blocks
}

// layoutText resolves a layout's text anchor against the document text.
// Segment offsets index Unicode code points, not bytes.
func layoutText(text []rune, layout *documentaipb.Document_Page_Layout) string {
	var sb strings.Builder
	for _, seg := range layout.GetTextAnchor().GetTextSegments() {
		start, end := seg.GetStartIndex(), seg.GetEndIndex()
		if start < 0 || end > int64(len(text)) || start >= end {
			continue
		}
		sb.WriteString(string(text[start:end]))
	}
	return sb.String()
}

// Close closes the underlying Document AI client.
func (p *DocumentAIDetector) Close() error {
	if p.client != nil {
		return p.client.Close()
	}
	return nil
}
