package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/samvad-hq/samvad-gallery-mirror/internal/domain"
)

// ScanSummary counts the galleries handled by one scan cycle.
type ScanSummary struct {
	Seen     int `json:"seen"`
	Uploaded int `json:"uploaded"`
	Updated  int `json:"updated"`
	Skipped  int `json:"skipped"`
	Failed   int `json:"failed"`
}

// ScanCycle walks the search feed up to the configured cap, updating and then
// uploading every gallery it finds. A failing gallery is logged and the cycle
// moves on; only cancellation ends it early.
func (p *Pipeline) ScanCycle(ctx context.Context) (ScanSummary, error) {
	var sum ScanSummary
	start := p.now()

	for ref := range p.source.SearchPages(ctx, p.opts.SearchParams, "") {
		sum.Seen++
		p.process(ctx, ref, &sum)
		if sum.Seen >= p.opts.SearchCap || ctx.Err() != nil {
			break
		}

		if p.opts.GalleryPause > 0 {
			t := time.NewTimer(p.opts.GalleryPause)
			select {
			case <-ctx.Done():
				t.Stop()
			case <-t.C:
			}
		}
	}

	p.log.InfoObj("scan cycle finished", "scan_summary", map[string]any{
		"seen":       sum.Seen,
		"uploaded":   sum.Uploaded,
		"updated":    sum.Updated,
		"skipped":    sum.Skipped,
		"failed":     sum.Failed,
		"elapsed_ms": p.now().Sub(start).Milliseconds(),
	})
	return sum, ctx.Err()
}

func (p *Pipeline) process(ctx context.Context, ref domain.GalleryRef, sum *ScanSummary) {
	updated, err := p.TryUpdate(ctx, ref, true)
	if err != nil {
		p.log.ErrorObj("gallery update failed", "gallery_error", map[string]any{
			"gallery_id": ref.ID,
			"error":      err.Error(),
		})
	} else if updated == OutcomeUpdated {
		sum.Updated++
	}

	uploaded, err := p.TryUpload(ctx, ref, true)
	switch {
	case err != nil:
		sum.Failed++
		p.log.ErrorObj("gallery upload failed", "gallery_error", map[string]any{
			"gallery_id": ref.ID,
			"error":      err.Error(),
		})
		if !errors.Is(err, context.Canceled) {
			p.notifyOperators(ctx, ref, err)
		}
	case uploaded == OutcomeSkipped:
		sum.Skipped++
	default:
		sum.Uploaded++
	}
}
