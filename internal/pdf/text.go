package pdf

import (
	"fmt"

	"github.com/gen2brain/go-fitz"
	"go.uber.org/zap"
)

// TextReader extracts per-page text with MuPDF
type TextReader struct {
	logger *zap.Logger
}

// NewTextReader creates a reader; a nil logger is replaced with a no-op
func NewTextReader(logger *zap.Logger) *TextReader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TextReader{logger: logger}
}

// PageTexts returns the text of every page in order. Pages that fail to
// render yield an empty string rather than aborting the document.
func (r *TextReader) PageTexts(data []byte) ([]string, error) {
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	defer doc.Close()

	pages := make([]string, doc.NumPage())
	for i := range pages {
		text, err := doc.Text(i)
		if err != nil {
			r.logger.Warn("failed to extract page text", zap.Int("page", i+1), zap.Error(err))
			continue
		}
		pages[i] = text
	}

	r.logger.Debug("extracted page text", zap.Int("pages", len(pages)))
	return pages, nil
}

// RenderPNG rasterises one zero-based page, for documents without a text layer
func (r *TextReader) RenderPNG(data []byte, page int, dpi float64) ([]byte, error) {
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	defer doc.Close()

	if page < 0 || page >= doc.NumPage() {
		return nil, fmt.Errorf("page %d out of range (document has %d)", page+1, doc.NumPage())
	}
	img, err := doc.ImagePNG(page, dpi)
	if err != nil {
		return nil, fmt.Errorf("render page %d: %w", page+1, err)
	}
	return img, nil
}
