// Package qr renders pairing payloads into PNG data URLs for display
// in browser dashboards.
package qr

import (
	"encoding/base64"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	qrcode "github.com/skip2/go-qrcode"
)

// imageSize is the rendered QR side length in pixels.
const imageSize = 320

// Renderer encodes pairing payloads as PNG data URLs. Rendered images
// are cached by payload: the upstream client re-emits the same code on
// a timer, and re-encoding it for every subscriber is wasted work.
type Renderer struct {
	cache *lru.Cache[string, string]
}

// NewRenderer creates a renderer with a small LRU cache.
func NewRenderer() (*Renderer, error) {
	cache, err := lru.New[string, string](32)
	if err != nil {
		return nil, err
	}
	return &Renderer{cache: cache}, nil
}

// DataURL returns a "data:image/png;base64," URL for the payload.
func (r *Renderer) DataURL(payload string) (string, error) {
	if cached, ok := r.cache.Get(payload); ok {
		return cached, nil
	}

	png, err := qrcode.Encode(payload, qrcode.Medium, imageSize)
	if err != nil {
		return "", fmt.Errorf("encode qr: %w", err)
	}

	url := "data:image/png;base64," + base64.StdEncoding.EncodeToString(png)
	r.cache.Add(payload, url)
	return url, nil
}
