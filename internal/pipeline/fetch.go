package pipeline

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/samvad-hq/samvad-gallery-mirror/internal/fallback"
	"github.com/samvad-hq/samvad-gallery-mirror/internal/imaging"
	"github.com/samvad-hq/samvad-gallery-mirror/internal/retry"
	"github.com/samvad-hq/samvad-gallery-mirror/pkg/httpclient"
)

const (
	losslessParams = "output=webp&ll&n=-1"
	lossyParams    = "output=webp&q=95&n=-1"
)

// payload is the chosen bytes for one page and the name they are uploaded under.
type payload struct {
	data []byte
	name string
	step string
	// remote marks bytes produced by an external transform service.
	remote bool
}

// original downloads the source image once and shares it between fallback steps.
type original struct {
	once sync.Once
	data []byte
	err  error
}

func (o *original) get(ctx context.Context, p *Pipeline, src string) ([]byte, error) {
	o.once.Do(func() {
		o.data, o.err = p.download(ctx, src)
	})
	return o.data, o.err
}

// fetchPayload picks the bytes to upload for src. Large images go through the
// remote transform services first, then local re-encodes, then the raw bytes.
// Small images are uploaded raw when they fit.
func (p *Pipeline) fetchPayload(ctx context.Context, hash, src string) (payload, error) {
	orig := &original{}
	size := p.probeSize(ctx, src)

	var steps []fallback.Step[payload]
	if size > p.opts.CompressThreshold {
		for _, base := range []string{p.opts.TransformPrimary, p.opts.TransformAlternate} {
			if base != "" {
				steps = append(steps, p.remoteStep("remote_lossless", base, losslessParams, hash, src))
			}
		}
		for _, base := range []string{p.opts.TransformPrimary, p.opts.TransformAlternate} {
			if base != "" {
				steps = append(steps, p.remoteStep("remote_lossy", base, lossyParams, hash, src))
			}
		}
		steps = append(steps,
			p.localLosslessStep(hash, src, orig),
			p.localLossyStep(hash, src, orig, true),
			p.rawStep("raw", hash, src, orig, false),
		)
	} else {
		steps = append(steps,
			p.rawStep("raw_within_limit", hash, src, orig, true),
			p.localLosslessStep(hash, src, orig),
			p.localLossyStep(hash, src, orig, false),
			p.rawStep("raw", hash, src, orig, false),
		)
	}

	res, err := fallback.First(ctx, steps...)
	if err != nil {
		return payload{}, err
	}
	if len(res.Failed) > 0 {
		p.log.DebugObj("image fallback used", "image_fallback", map[string]any{
			"hash":    hash,
			"step":    res.Step,
			"skipped": len(res.Failed),
			"size":    size,
		})
	}
	return res.Value, nil
}

// localPayload re-encodes the original in process. It backs up transformed
// payloads the hosting backends refused.
func (p *Pipeline) localPayload(ctx context.Context, hash, src string) (payload, error) {
	orig := &original{}
	res, err := fallback.First(ctx,
		p.localLosslessStep(hash, src, orig),
		p.localLossyStep(hash, src, orig, false),
	)
	if err != nil {
		return payload{}, err
	}
	return res.Value, nil
}

func (p *Pipeline) remoteStep(name, base, params, hash, src string) fallback.Step[payload] {
	return fallback.Step[payload]{
		Name: name,
		Run: func(ctx context.Context) (payload, error) {
			data, err := p.download(ctx, transformURL(base, src, params))
			if err != nil {
				return payload{}, err
			}
			if err := p.acceptable(data); err != nil {
				return payload{}, err
			}
			return payload{data: data, name: hash + ".webp", step: name, remote: true}, nil
		},
	}
}

func (p *Pipeline) localLosslessStep(hash, src string, orig *original) fallback.Step[payload] {
	return fallback.Step[payload]{
		Name: "local_lossless",
		Run: func(ctx context.Context) (payload, error) {
			data, err := orig.get(ctx, p, src)
			if err != nil {
				return payload{}, err
			}
			out, err := imaging.ReencodeLossless(data)
			if err != nil {
				return payload{}, err
			}
			if err := p.acceptable(out); err != nil {
				return payload{}, err
			}
			return payload{data: out, name: hash + ".png", step: "local_lossless"}, nil
		},
	}
}

// localLossyStep re-encodes as JPEG. When mustShrink is set the result has to
// be smaller than the original to be worth uploading.
func (p *Pipeline) localLossyStep(hash, src string, orig *original, mustShrink bool) fallback.Step[payload] {
	return fallback.Step[payload]{
		Name: "local_lossy",
		Run: func(ctx context.Context) (payload, error) {
			data, err := orig.get(ctx, p, src)
			if err != nil {
				return payload{}, err
			}
			out, err := imaging.ReencodeLossy(data, p.opts.MaxPayload)
			if err != nil {
				return payload{}, err
			}
			if mustShrink && len(out) >= len(data) {
				return payload{}, fmt.Errorf("lossy re-encode did not shrink: %d >= %d bytes", len(out), len(data))
			}
			if err := p.acceptable(out); err != nil {
				return payload{}, err
			}
			return payload{data: out, name: hash + ".jpg", step: "local_lossy"}, nil
		},
	}
}

// rawStep uploads the original bytes, optionally only when they fit the payload cap.
func (p *Pipeline) rawStep(name, hash, src string, orig *original, withinLimit bool) fallback.Step[payload] {
	return fallback.Step[payload]{
		Name: name,
		Run: func(ctx context.Context) (payload, error) {
			data, err := orig.get(ctx, p, src)
			if err != nil {
				return payload{}, err
			}
			if err := imaging.Validate(data); err != nil {
				return payload{}, err
			}
			if withinLimit && int64(len(data)) > p.opts.MaxPayload {
				return payload{}, fmt.Errorf("original exceeds payload cap: %d > %d bytes", len(data), p.opts.MaxPayload)
			}
			return payload{data: data, name: hash + "." + imaging.Ext(src), step: name}, nil
		},
	}
}

// acceptable checks that data is an image of plausible size within the payload cap.
func (p *Pipeline) acceptable(data []byte) error {
	if err := imaging.Validate(data); err != nil {
		return err
	}
	n := int64(len(data))
	if n < p.opts.MinImage {
		return fmt.Errorf("image too small: %d < %d bytes", n, p.opts.MinImage)
	}
	if n > p.opts.MaxPayload {
		return fmt.Errorf("image too large: %d > %d bytes", n, p.opts.MaxPayload)
	}
	return nil
}

// probeSize returns the Content-Length of src, or -1 when unknown.
func (p *Pipeline) probeSize(ctx context.Context, src string) int64 {
	size := int64(-1)
	_ = p.withNet(ctx, func(ctx context.Context) error {
		resp, err := p.http.Head(ctx, src, nil)
		if err != nil {
			return err
		}
		if err := httpclient.CheckStatus(resp, src); err != nil {
			return err
		}
		if n, err := strconv.ParseInt(resp.Header().Get("Content-Length"), 10, 64); err == nil {
			size = n
		}
		return nil
	})
	return size
}

func (p *Pipeline) download(ctx context.Context, src string) ([]byte, error) {
	return retry.DoValue(ctx, p.opts.NetworkRetry, func(ctx context.Context) ([]byte, error) {
		var body []byte
		err := p.withNet(ctx, func(ctx context.Context) error {
			resp, err := p.http.Get(ctx, src, nil)
			if err != nil {
				return err
			}
			if err := httpclient.CheckStatus(resp, src); err != nil {
				return err
			}
			body = resp.Body()
			return nil
		})
		return body, err
	})
}

// transformURL builds a transform-service request for src. The services take
// the source address without its scheme.
func transformURL(base, src, params string) string {
	target := strings.TrimPrefix(strings.TrimPrefix(src, "https://"), "http://")
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return base + sep + "url=" + url.QueryEscape(target) + "&" + params
}
