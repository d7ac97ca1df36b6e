// Package extractor parses raw document bytes into plain text, keeping
// page boundaries where the format has them.
package extractor

import (
	"errors"
	"fmt"
)

// ErrMalformedDocument indicates the byte stream is not parseable as the
// declared format. Non-retryable.
var ErrMalformedDocument = errors.New("malformed document")

// ErrUnsupportedType indicates a mime type no extractor handles.
var ErrUnsupportedType = errors.New("unsupported content type")

// Page is one unit of extracted text. Number is 1-based for paginated
// formats and 0 for formats without page structure.
type Page struct {
	Number int
	Text   string
}

// Extract dispatches on mime type. An empty result (no text) is a valid
// outcome, not an error; only unparseable input fails.
func Extract(data []byte, mimeType string) ([]Page, error) {
	switch {
	case mimeType == "application/pdf":
		return ExtractPDF(data)
	case IsDOCXContentType(mimeType):
		return ExtractDOCX(data)
	case IsTextContentType(mimeType):
		return ExtractTXT(data)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, mimeType)
	}
}

// IsDOCXContentType checks if the content type is a DOCX file, handling the
// MIME type variations browsers send.
func IsDOCXContentType(contentType string) bool {
	switch contentType {
	case "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
		"application/vnd.openxmlformats-officedocument.wordprocessingml",
		"application/docx",
		"application/x-docx":
		return true
	}
	return false
}

// IsTextContentType checks if the content type is plain text.
func IsTextContentType(contentType string) bool {
	switch contentType {
	case "text/plain", "text/txt", "application/txt", "application/x-txt":
		return true
	}
	return false
}
