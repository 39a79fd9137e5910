package directory

import (
	"bytes"
	"fmt"
	"io"

	"github.com/ledongthuc/pdf"
)

// TextExtractor turns fetched roster document bytes into the plain text
// the roster parser operates on.
type TextExtractor interface {
	ExtractText(data []byte) (string, error)
}

// PDFTextExtractor extracts the text layer of a roster PDF.
type PDFTextExtractor struct{}

func (PDFTextExtractor) ExtractText(data []byte) (text string, err error) {
	// The reader panics on some malformed documents instead of returning
	// an error.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("malformed roster document: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("failed to open roster document: %w", err)
	}
	plain, err := reader.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("failed to extract roster text: %w", err)
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, plain); err != nil {
		return "", fmt.Errorf("failed to read roster text: %w", err)
	}
	return buf.String(), nil
}
