// Package extract converts uploaded document blobs into plain text.
package extract

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/hyperjump/bunsho/internal/models"
	"github.com/hyperjump/bunsho/pkg/utils"
	"go.uber.org/zap"
)

// supported lists the extensions ExtractBytes understands.
var supported = map[string]bool{
	".pdf":  true,
	".docx": true,
	".txt":  true,
	".md":   true,
	".xlsx": true,
	".pptx": true,
}

// Supported reports whether ext (with leading dot, any case) can be extracted.
func Supported(ext string) bool {
	return supported[strings.ToLower(ext)]
}

// ExtensionOf returns the lowercased extension of a file name or URL path.
// Query strings and fragments are ignored.
func ExtensionOf(name string) string {
	if i := strings.IndexAny(name, "?#"); i >= 0 {
		name = name[:i]
	}
	return strings.ToLower(path.Ext(name))
}

// Extractor extracts plain text from document bytes.
type Extractor struct {
	ocr    OCR
	pages  PageReader
	logger *zap.Logger
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithOCR sets the recognizer used for PDF pages without embedded text. nil disables OCR.
func WithOCR(ocr OCR) Option {
	return func(e *Extractor) { e.ocr = ocr }
}

// WithPageReader replaces the PDF text layer reader.
func WithPageReader(r PageReader) Option {
	return func(e *Extractor) { e.pages = r }
}

// WithLogger sets a logger for swallowed per-page and parse failures.
func WithLogger(l *zap.Logger) Option {
	return func(e *Extractor) { e.logger = l }
}

// NewExtractor returns an Extractor. By default PDF pages without a text layer are
// sent through tesseract.
func NewExtractor(opts ...Option) *Extractor {
	e := &Extractor{
		ocr:   NewTesseractOCR(ExecRunner{}),
		pages: ReadPDFPages,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = utils.OrNop(e.logger)
	return e
}

// ExtractBytes extracts text from content based on ext, which should include the
// leading dot (e.g. ".pdf"). The result is trimmed; an empty string is a valid outcome
// that callers must check for. Only an unsupported extension is an error: a document
// that cannot be parsed yields "".
func (e *Extractor) ExtractBytes(ctx context.Context, content []byte, ext string) (string, error) {
	ext = strings.ToLower(ext)
	var (
		text string
		err  error
	)
	switch ext {
	case ".pdf":
		text, err = e.extractPDF(ctx, content)
	case ".docx":
		text, err = extractDOCX(content)
	case ".xlsx":
		text, err = extractExcel(content)
	case ".pptx":
		text, err = extractPPTX(content)
	case ".txt", ".md":
		text = extractPlain(content)
	default:
		return "", fmt.Errorf("%w: %q", models.ErrUnsupportedFormat, ext)
	}
	if err != nil {
		e.logger.Warn("extraction failed, treating document as empty", zap.String("ext", ext), zap.Error(err))
		return "", nil
	}
	return strings.TrimSpace(text), nil
}
