package viewer

import (
	"bytes"
	"fmt"

	"github.com/ledongthuc/pdf"
)

// defaultPageWidth is the US Letter width in PDF points, used when a page
// carries no usable MediaBox.
const defaultPageWidth = 612.0

// Document gives page-level access to one loaded PDF. Pages are 1-based.
type Document interface {
	PageCount() int
	PageWidth(n int) float64
	PageText(n int) (string, error)
}

type pdfDocument struct {
	reader *pdf.Reader
}

// OpenDocument parses a fetched PDF held fully in memory.
func OpenDocument(data []byte) (Document, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	return &pdfDocument{reader: reader}, nil
}

func (d *pdfDocument) PageCount() int {
	return d.reader.NumPage()
}

// PageWidth returns the page's native width at scale 1, in PDF points.
func (d *pdfDocument) PageWidth(n int) float64 {
	page := d.reader.Page(n)
	if page.V.IsNull() {
		return defaultPageWidth
	}

	box := page.V.Key("MediaBox")
	if box.Kind() != pdf.Array || box.Len() < 4 {
		return defaultPageWidth
	}

	width := box.Index(2).Float64() - box.Index(0).Float64()
	if width <= 0 {
		return defaultPageWidth
	}
	return width
}

func (d *pdfDocument) PageText(n int) (string, error) {
	page := d.reader.Page(n)
	if page.V.IsNull() {
		return "", fmt.Errorf("page %d not found", n)
	}

	text, err := page.GetPlainText(nil)
	if err != nil {
		return "", fmt.Errorf("extract page %d text: %w", n, err)
	}
	return text, nil
}
