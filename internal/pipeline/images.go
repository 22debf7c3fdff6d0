package pipeline

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/samvad-hq/samvad-gallery-mirror/internal/domain"
)

type resolvedPage struct {
	page      domain.PageRef
	fileIndex int
	url       string
}

// mirrorImages makes sure every page of g maps to a hosted Image.
// Pages whose hash is already known are mapped without touching the network.
// The remaining pages are resolved one at a time and handed to the workers
// through a queue bounded at twice the worker count.
func (p *Pipeline) mirrorImages(ctx context.Context, g domain.Gallery) (err error) {
	prog := newTracker(g.Ref.ID, len(g.Pages), p.observer)
	if f, ok := p.observer.(Finisher); ok {
		defer func() { f.OnFinish(g.Ref.ID, err) }()
	}

	pending := make([]domain.PageRef, 0, len(g.Pages))
	// pages repeating a hash already queued wait for that upload
	var siblings []domain.PageRef
	queued := make(map[string]bool, len(g.Pages))
	for _, page := range g.Pages {
		hash := page.ContentHash()
		img, found, err := p.ledger.ImageByHash(ctx, hash)
		if err != nil {
			return fmt.Errorf("dedup page %d: %w", page.Page, err)
		}
		if !found {
			if queued[hash] {
				siblings = append(siblings, page)
			} else {
				queued[hash] = true
				pending = append(pending, page)
			}
			continue
		}
		if err := p.ledger.CreatePage(ctx, domain.PageMapping{GalleryID: g.Ref.ID, Page: page.Page, ImageID: img.ID}); err != nil {
			return fmt.Errorf("map page %d: %w", page.Page, err)
		}
		prog.update(func(pr *domain.Progress) { pr.Satisfied++ })
	}
	if len(pending) == 0 {
		return nil
	}

	queue := make(chan resolvedPage, 2*p.opts.Workers)
	grp, gctx := errgroup.WithContext(ctx)

	grp.Go(func() error {
		defer close(queue)
		for _, page := range pending {
			idx, src, err := p.source.ResolveImageURL(gctx, page)
			if err != nil {
				return fmt.Errorf("resolve page %d: %w", page.Page, err)
			}
			prog.update(func(pr *domain.Progress) { pr.Resolved++ })
			select {
			case queue <- resolvedPage{page: page, fileIndex: idx, url: src}:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})

	for range p.opts.Workers {
		grp.Go(func() error {
			for item := range queue {
				if err := p.mirrorPage(gctx, item, prog); err != nil {
					return err
				}
			}
			return nil
		})
	}

	err = grp.Wait()
	if err == nil {
		err = p.mapSiblings(ctx, siblings, prog)
	}
	final := prog.snapshot()
	p.log.InfoObj("gallery images mirrored", "image_summary", map[string]any{
		"gallery_id": g.Ref.ID,
		"total":      final.Total,
		"satisfied":  final.Satisfied,
		"uploaded":   final.Uploaded,
		"failed":     err != nil,
	})
	return err
}

func (p *Pipeline) mirrorPage(ctx context.Context, item resolvedPage, prog *tracker) error {
	hash := item.page.ContentHash()
	pay, err := p.fetchPayload(ctx, hash, item.url)
	if err != nil {
		return fmt.Errorf("fetch page %d: %w", item.page.Page, err)
	}
	prog.update(func(pr *domain.Progress) { pr.Downloaded++ })

	hosted, err := p.upload(ctx, pay)
	if err != nil && pay.remote {
		p.log.WarnObj("upload of transformed image failed, retrying with local transcode", "image_error", map[string]any{
			"gallery_id": item.page.GalleryID,
			"page":       item.page.Page,
			"step":       pay.step,
			"error":      err.Error(),
		})
		local, lerr := p.localPayload(ctx, hash, item.url)
		if lerr != nil {
			return fmt.Errorf("upload page %d: %w", item.page.Page, errors.Join(err, lerr))
		}
		hosted, err = p.upload(ctx, local)
	}
	if err != nil {
		return fmt.Errorf("upload page %d: %w", item.page.Page, err)
	}
	prog.update(func(pr *domain.Progress) { pr.Uploaded++ })

	return p.record(ctx, item, hash, hosted)
}

func (p *Pipeline) upload(ctx context.Context, pay payload) (string, error) {
	var hosted string
	err := p.withNet(ctx, func(ctx context.Context) error {
		var err error
		hosted, err = p.store.Upload(ctx, pay.name, pay.data)
		return err
	})
	return hosted, err
}

func (p *Pipeline) mapSiblings(ctx context.Context, siblings []domain.PageRef, prog *tracker) error {
	for _, page := range siblings {
		img, found, err := p.ledger.ImageByHash(ctx, page.ContentHash())
		if err != nil {
			return fmt.Errorf("map page %d: %w", page.Page, err)
		}
		if !found {
			return fmt.Errorf("map page %d: image %s was not recorded", page.Page, page.ContentHash())
		}
		if err := p.ledger.CreatePage(ctx, domain.PageMapping{GalleryID: page.GalleryID, Page: page.Page, ImageID: img.ID}); err != nil {
			return fmt.Errorf("map page %d: %w", page.Page, err)
		}
		prog.update(func(pr *domain.Progress) { pr.Satisfied++ })
	}
	return nil
}

// record writes the Image, then maps the page to the id the ledger stored.
// The file index is only a preferred id; a failed image write maps nothing.
func (p *Pipeline) record(ctx context.Context, item resolvedPage, hash, hosted string) error {
	img, err := p.ledger.CreateImage(ctx, domain.Image{ID: int64(item.fileIndex), Hash: hash, URL: hosted})
	if err == nil {
		err = p.ledger.CreatePage(ctx, domain.PageMapping{GalleryID: item.page.GalleryID, Page: item.page.Page, ImageID: img.ID})
	}
	if err != nil {
		p.log.ErrorObj("ledger write failed", "ledger_error", map[string]any{
			"gallery_id": item.page.GalleryID,
			"page":       item.page.Page,
			"hash":       hash,
			"error":      err.Error(),
		})
		return fmt.Errorf("record page %d: %w", item.page.Page, err)
	}
	return nil
}
