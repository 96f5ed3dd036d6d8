// Package extract turns uploaded document bytes into per-page text.
//
// Extractors are selected by MIME type detected from the file's magic bytes,
// never from its filename.
package extract

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gabriel-vasile/mimetype"
)

// Sentinel errors for extraction.
var (
	// ErrUnsupportedMedia is returned for MIME types with no extractor.
	ErrUnsupportedMedia = errors.New("unsupported media type")

	// ErrCorruptDocument is returned when a supported document cannot be parsed.
	ErrCorruptDocument = errors.New("corrupt document")

	// ErrNoContent is returned when a document yields no text at all.
	ErrNoContent = errors.New("document contains no extractable text")
)

// Supported MIME types.
const (
	MIMEPDF  = "application/pdf"
	MIMEDocx = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
)

// Page is the text of one document page, 1-based.
type Page struct {
	Number int
	Text   string
}

// Result is the extractor output: per-page text plus document metadata.
type Result struct {
	Pages        []Page
	PageCount    int
	Author       string
	CreationDate *time.Time
}

// Extractor parses one document format into pages.
type Extractor interface {
	Extract(ctx context.Context, data []byte) (*Result, error)
}

// Factory selects an Extractor by detected MIME type.
type Factory struct {
	byMIME map[string]func() Extractor
}

// NewFactory registers the built-in PDF and DOCX extractors.
func NewFactory() *Factory {
	return &Factory{
		byMIME: map[string]func() Extractor{
			MIMEPDF:  func() Extractor { return &PDFExtractor{} },
			MIMEDocx: func() Extractor { return &DocxExtractor{} },
		},
	}
}

// Register adds or replaces the extractor constructor for a MIME type.
func (f *Factory) Register(mime string, constructor func() Extractor) {
	f.byMIME[mime] = constructor
}

// DetectMIME sniffs the MIME type from the file's magic bytes.
func (f *Factory) DetectMIME(data []byte) string {
	return mimetype.Detect(data).String()
}

// ExtractorFor returns the extractor for a detected MIME type, or
// ErrUnsupportedMedia when none is registered.
func (f *Factory) ExtractorFor(mime string) (Extractor, error) {
	constructor, ok := f.byMIME[mime]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedMedia, mime)
	}
	return constructor(), nil
}

// Supported reports whether a MIME type has a registered extractor.
func (f *Factory) Supported(mime string) bool {
	_, ok := f.byMIME[mime]
	return ok
}
