// Package imaging validates downloaded payloads and re-encodes images in process.
package imaging

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	_ "image/gif" // decoder registration
	"image/jpeg"
	"image/png"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/nfnt/resize"
	_ "golang.org/x/image/webp" // decoder registration

	"github.com/samvad-hq/samvad-gallery-mirror/internal/domain"
)

const (
	// LossyQuality matches the quality used for remote lossy transforms.
	LossyQuality   = 90
	maxShrinkSteps = 4
	shrinkFactor   = 0.8
)

// Validate rejects empty payloads and HTML/JSON/text error bodies served with an image URL.
func Validate(data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: empty body", domain.ErrInvalidImage)
	}
	head := bytes.TrimSpace(data[:min(len(data), 512)])
	if len(head) > 0 && (head[0] == '{' || head[0] == '[') {
		return fmt.Errorf("%w: json body (%d bytes)", domain.ErrInvalidImage, len(data))
	}
	ct := http.DetectContentType(data)
	if !strings.HasPrefix(ct, "image/") {
		return fmt.Errorf("%w: content type %s (%d bytes)", domain.ErrInvalidImage, ct, len(data))
	}
	return nil
}

// ReencodeLossless decodes data and writes it back as best-compression PNG.
func ReencodeLossless(data []byte) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.BestCompression}
	if err := enc.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// ReencodeLossy writes data as JPEG, shrinking the image until it fits maxBytes (0 disables the cap).
func ReencodeLossy(data []byte, maxBytes int64) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	img = flatten(img)

	for step := 0; ; step++ {
		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: LossyQuality}); err != nil {
			return nil, fmt.Errorf("encode jpeg: %w", err)
		}
		if maxBytes <= 0 || int64(buf.Len()) <= maxBytes || step >= maxShrinkSteps {
			return buf.Bytes(), nil
		}
		b := img.Bounds()
		w := uint(float64(b.Dx()) * shrinkFactor)
		if w == 0 {
			return buf.Bytes(), nil
		}
		img = resize.Resize(w, 0, img, resize.Lanczos3)
	}
}

// flatten composites transparent images onto white so JPEG output keeps a sane background.
func flatten(img image.Image) image.Image {
	b := img.Bounds()
	out := image.NewRGBA(b)
	draw.Draw(out, b, &image.Uniform{C: color.White}, image.Point{}, draw.Src)
	draw.Draw(out, b, img, b.Min, draw.Over)
	return out
}

// Ext returns the lowercase file extension of an image URL, defaulting to "jpg".
func Ext(rawURL string) string {
	p := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		p = u.Path
	}
	ext := strings.TrimPrefix(strings.ToLower(path.Ext(p)), ".")
	switch ext {
	case "jpg", "jpeg", "png", "gif", "webp":
		return ext
	default:
		return "jpg"
	}
}
