package qr

import (
	"bytes"
	"encoding/base64"
	"strings"
	"testing"
)

func TestDataURL(t *testing.T) {
	r, err := NewRenderer()
	if err != nil {
		t.Fatalf("NewRenderer: %v", err)
	}

	url, err := r.DataURL("2@abc123,def456")
	if err != nil {
		t.Fatalf("DataURL: %v", err)
	}
	const prefix = "data:image/png;base64,"
	if !strings.HasPrefix(url, prefix) {
		t.Fatalf("url = %.40q..., want %q prefix", url, prefix)
	}

	png, err := base64.StdEncoding.DecodeString(url[len(prefix):])
	if err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if !bytes.HasPrefix(png, []byte("\x89PNG\r\n\x1a\n")) {
		t.Fatal("payload is not a PNG")
	}
}

func TestDataURLCaches(t *testing.T) {
	r, err := NewRenderer()
	if err != nil {
		t.Fatalf("NewRenderer: %v", err)
	}

	first, err := r.DataURL("same-payload")
	if err != nil {
		t.Fatalf("DataURL: %v", err)
	}
	second, err := r.DataURL("same-payload")
	if err != nil {
		t.Fatalf("DataURL: %v", err)
	}
	if first != second {
		t.Fatal("same payload must render to the same url")
	}

	other, err := r.DataURL("different-payload")
	if err != nil {
		t.Fatalf("DataURL: %v", err)
	}
	if other == first {
		t.Fatal("different payloads must render differently")
	}
}
