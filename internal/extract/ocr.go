package extract

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
)

// OCR recognizes the text of a single PDF page (1-based).
type OCR interface {
	RecognizePage(ctx context.Context, pdf []byte, page int) (string, error)
}

// CommandRunner runs an external program and returns its standard output.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

// Run executes name with args and returns stdout.
func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// TesseractOCR rasterizes a page with poppler's pdftoppm and reads it with tesseract.
type TesseractOCR struct {
	Runner CommandRunner
	Lang   string
	DPI    int
}

// NewTesseractOCR returns an English, 300 DPI recognizer.
func NewTesseractOCR(runner CommandRunner) *TesseractOCR {
	return &TesseractOCR{Runner: runner, Lang: "eng", DPI: 300}
}

// RecognizePage writes the PDF to a scratch directory, renders the page to PNG and
// returns tesseract's output.
func (t *TesseractOCR) RecognizePage(ctx context.Context, pdf []byte, page int) (string, error) {
	dir, err := os.MkdirTemp("", "bunsho-ocr-*")
	if err != nil {
		return "", fmt.Errorf("create scratch dir: %w", err)
	}
	defer os.RemoveAll(dir)

	in := filepath.Join(dir, "in.pdf")
	if err := os.WriteFile(in, pdf, 0600); err != nil {
		return "", fmt.Errorf("write scratch pdf: %w", err)
	}
	p := strconv.Itoa(page)
	prefix := filepath.Join(dir, "page")
	if _, err := t.Runner.Run(ctx, "pdftoppm",
		"-f", p, "-l", p, "-r", strconv.Itoa(t.DPI), "-png", "-singlefile", in, prefix); err != nil {
		return "", fmt.Errorf("rasterize page %d: %w", page, err)
	}
	out, err := t.Runner.Run(ctx, "tesseract", prefix+".png", "stdout", "-l", t.Lang)
	if err != nil {
		return "", fmt.Errorf("ocr page %d: %w", page, err)
	}
	return string(out), nil
}
