package extractor

import (
	"archive/zip"
	"bytes"
	"errors"
	"strings"
	"testing"
)

func buildDOCX(t *testing.T, paragraphs []string) []byte {
	t.Helper()

	var sb strings.Builder
	sb.WriteString(`<?xml version="1.0" encoding="UTF-8" standalone="yes"?>`)
	sb.WriteString(`<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>`)
	for _, p := range paragraphs {
		sb.WriteString(`<w:p><w:r><w:t>` + p + `</w:t></w:r></w:p>`)
	}
	sb.WriteString(`</w:body></w:document>`)

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	f, err := zw.Create("word/document.xml")
	if err != nil {
		t.Fatalf("failed to create zip entry: %v", err)
	}
	if _, err := f.Write([]byte(sb.String())); err != nil {
		t.Fatalf("failed to write document.xml: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("failed to close zip: %v", err)
	}

	return buf.Bytes()
}

func TestExtractDOCX(t *testing.T) {
	data := buildDOCX(t, []string{"First paragraph of the report.", "Second paragraph with details."})

	pages, err := ExtractDOCX(data)
	if err != nil {
		t.Fatalf("ExtractDOCX returned error: %v", err)
	}

	if len(pages) == 0 {
		t.Fatal("ExtractDOCX returned no pages")
	}
	if pages[0].Number != 0 {
		t.Errorf("DOCX has no pagination, want page number 0, got %d", pages[0].Number)
	}
	if !strings.Contains(pages[0].Text, "First paragraph") {
		t.Errorf("missing paragraph text, got: %q", pages[0].Text)
	}
	if !strings.Contains(pages[0].Text, "Second paragraph") {
		t.Errorf("missing paragraph text, got: %q", pages[0].Text)
	}
}

func TestExtractDOCXMalformed(t *testing.T) {
	_, err := ExtractDOCX([]byte("this is not a zip archive"))
	if !errors.Is(err, ErrMalformedDocument) {
		t.Errorf("want ErrMalformedDocument, got %v", err)
	}
}

func TestExtractDOCXEmpty(t *testing.T) {
	data := buildDOCX(t, nil)

	pages, err := ExtractDOCX(data)
	if err != nil {
		t.Fatalf("ExtractDOCX returned error: %v", err)
	}
	if len(pages) != 0 {
		t.Errorf("want no pages for empty document, got %d", len(pages))
	}
}

func TestExtractPDFMalformed(t *testing.T) {
	_, err := ExtractPDF([]byte("%PDF-1.4 but actually garbage"))
	if !errors.Is(err, ErrMalformedDocument) {
		t.Errorf("want ErrMalformedDocument, got %v", err)
	}
}

func TestExtractTXT(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want string
	}{
		{"plain ascii", []byte("hello world"), "hello world"},
		{"utf8 bom", append([]byte{0xEF, 0xBB, 0xBF}, []byte("bom text")...), "bom text"},
		{"windows newlines", []byte("line one\r\nline two"), "line one\nline two"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pages, err := ExtractTXT(tt.data)
			if err != nil {
				t.Fatalf("ExtractTXT returned error: %v", err)
			}
			if len(pages) != 1 {
				t.Fatalf("want one page, got %d", len(pages))
			}
			if !strings.Contains(pages[0].Text, strings.Split(tt.want, "\n")[0]) {
				t.Errorf("want text containing %q, got %q", tt.want, pages[0].Text)
			}
		})
	}
}

func TestExtractTXTEmpty(t *testing.T) {
	pages, err := ExtractTXT([]byte("   \n\t  "))
	if err != nil {
		t.Fatalf("ExtractTXT returned error: %v", err)
	}
	if len(pages) != 0 {
		t.Errorf("want no pages for whitespace-only input, got %d", len(pages))
	}
}

func TestExtractDispatch(t *testing.T) {
	if _, err := Extract([]byte("text"), "text/plain"); err != nil {
		t.Errorf("text/plain should dispatch, got %v", err)
	}

	_, err := Extract([]byte("data"), "image/png")
	if !errors.Is(err, ErrUnsupportedType) {
		t.Errorf("want ErrUnsupportedType for image/png, got %v", err)
	}
}
