package extract

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
	"go.uber.org/zap"
)

// PageReader returns the embedded text of every page in a PDF, in page order.
// Pages without a text layer are returned as "".
type PageReader func(content []byte) ([]string, error)

// ReadPDFPages reads each page's text layer with ledongthuc/pdf. A page whose text
// cannot be decoded is returned as "" so it can still be OCR'd.
func ReadPDFPages(content []byte) (pages []string, err error) {
	// The parser panics on some malformed inputs.
	defer func() {
		if r := recover(); r != nil {
			pages, err = nil, fmt.Errorf("parse PDF: %v", r)
		}
	}()
	r, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, fmt.Errorf("open PDF: %w", err)
	}
	n := r.NumPage()
	pages = make([]string, n)
	for i := 0; i < n; i++ {
		page := r.Page(i + 1)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		pages[i] = text
	}
	return pages, nil
}

// extractPDF joins per-page text. A page with only whitespace in its text layer is
// rasterized and OCR'd; OCR failures leave that page empty.
func (e *Extractor) extractPDF(ctx context.Context, content []byte) (string, error) {
	pages, err := e.pages(content)
	if err != nil {
		return "", err
	}
	parts := make([]string, 0, len(pages))
	for i, text := range pages {
		text = strings.TrimSpace(text)
		if text == "" && e.ocr != nil {
			recognized, ocrErr := e.ocr.RecognizePage(ctx, content, i+1)
			if ocrErr != nil {
				e.logger.Debug("ocr failed for page", zap.Int("page", i+1), zap.Error(ocrErr))
				continue
			}
			text = strings.TrimSpace(recognized)
		}
		if text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, "\n"), nil
}
