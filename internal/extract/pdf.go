package extract

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ledongthuc/pdf"
)

// PDFExtractor extracts per-page text and document info from PDF bytes.
type PDFExtractor struct{}

// Extract parses the PDF. Pages whose content cannot be decoded are kept with
// empty text so page numbering stays aligned with the source document.
func (e *PDFExtractor) Extract(ctx context.Context, data []byte) (*Result, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptDocument, err)
	}

	numPages := reader.NumPage()
	if numPages == 0 {
		return nil, fmt.Errorf("%w: pdf has no pages", ErrNoContent)
	}

	result := &Result{PageCount: numPages}

	for pageNum := 1; pageNum <= numPages; pageNum++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		page := reader.Page(pageNum)
		text := ""
		if !page.V.IsNull() {
			if t, err := page.GetPlainText(nil); err == nil {
				text = strings.TrimSpace(t)
			}
		}
		result.Pages = append(result.Pages, Page{Number: pageNum, Text: text})
	}

	e.readInfo(reader, result)
	return result, nil
}

// readInfo pulls Author and CreationDate from the document info dictionary.
// Metadata is best-effort; parse failures leave the fields empty.
func (e *PDFExtractor) readInfo(reader *pdf.Reader, result *Result) {
	defer func() {
		// The info dictionary of malformed files can panic the decoder.
		_ = recover()
	}()

	info := reader.Trailer().Key("Info")
	if info.IsNull() {
		return
	}
	if author := info.Key("Author"); !author.IsNull() {
		result.Author = strings.TrimSpace(author.Text())
	}
	if created := info.Key("CreationDate"); !created.IsNull() {
		if t, ok := parsePDFDate(created.Text()); ok {
			result.CreationDate = &t
		}
	}
}

// parsePDFDate parses the D:YYYYMMDDHHmmSS form, ignoring the timezone suffix.
func parsePDFDate(raw string) (time.Time, bool) {
	raw = strings.TrimPrefix(raw, "D:")
	for _, layout := range []string{"20060102150405", "200601021504", "20060102"} {
		if len(raw) < len(layout) {
			continue
		}
		if t, err := time.Parse(layout, raw[:len(layout)]); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
