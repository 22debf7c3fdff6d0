package imaging

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"math/rand"
	"testing"

	"github.com/samvad-hq/samvad-gallery-mirror/internal/domain"
)

func noisyPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	r := rand.New(rand.NewSource(1))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{uint8(r.Intn(256)), uint8(r.Intn(256)), uint8(r.Intn(256)), 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode: %v", err)
	}
	return buf.Bytes()
}

func TestValidateRejectsErrorBodies(t *testing.T) {
	cases := map[string][]byte{
		"empty": nil,
		"json":  []byte(`{"error":"Image too large","code":413,"x":1}`),
		"html":  []byte("<!DOCTYPE html><html><body>509 bandwidth exceeded</body></html>"),
		"text":  []byte("An error has occurred. (403)"),
	}
	for name, body := range cases {
		if err := Validate(body); !errors.Is(err, domain.ErrInvalidImage) {
			t.Fatalf("%s: expected ErrInvalidImage, got %v", name, err)
		}
	}

	if err := Validate(noisyPNG(t, 4, 4)); err != nil {
		t.Fatalf("valid png rejected: %v", err)
	}
}

func TestReencodeLossless(t *testing.T) {
	src := noisyPNG(t, 16, 16)
	out, err := ReencodeLossless(src)
	if err != nil {
		t.Fatalf("ReencodeLossless: %v", err)
	}
	img, format, err := image.Decode(bytes.NewReader(out))
	if err != nil || format != "png" {
		t.Fatalf("decode output: format=%s err=%v", format, err)
	}
	if img.Bounds().Dx() != 16 {
		t.Fatalf("unexpected width %d", img.Bounds().Dx())
	}
}

func TestReencodeLossyShrinksToCap(t *testing.T) {
	src := noisyPNG(t, 200, 200)
	unbounded, err := ReencodeLossy(src, 0)
	if err != nil {
		t.Fatalf("ReencodeLossy: %v", err)
	}
	limit := int64(len(unbounded) / 2)
	out, err := ReencodeLossy(src, limit)
	if err != nil {
		t.Fatalf("ReencodeLossy capped: %v", err)
	}
	if int64(len(out)) > limit {
		t.Fatalf("output %d bytes exceeds cap %d", len(out), limit)
	}
	img, format, err := image.Decode(bytes.NewReader(out))
	if err != nil || format != "jpeg" {
		t.Fatalf("decode output: format=%s err=%v", format, err)
	}
	if img.Bounds().Dx() >= 200 {
		t.Fatalf("expected downscale, width %d", img.Bounds().Dx())
	}
}

func TestReencodeRejectsGarbage(t *testing.T) {
	if _, err := ReencodeLossless([]byte("nope")); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestExt(t *testing.T) {
	cases := map[string]string{
		"https://h.hath.network/h/x/keystamp=1;fileindex=2/name.PNG": "png",
		"https://example.org/a.webp?x=1":                              "webp",
		"https://example.org/a":                                       "jpg",
	}
	for in, want := range cases {
		if got := Ext(in); got != want {
			t.Fatalf("Ext(%s) = %s, want %s", in, got, want)
		}
	}
}
