package pipeline

import (
	"context"
	"fmt"

	"github.com/samvad-hq/samvad-gallery-mirror/internal/domain"
	"github.com/samvad-hq/samvad-gallery-mirror/internal/messenger"
	"github.com/samvad-hq/samvad-gallery-mirror/pkg/publishers"
)

// TryUpdate refreshes a gallery that was already announced. When throttled,
// the gallery is only re-fetched on days matching its age cadence. A change of
// title or tags edits the existing message; the stored snapshot is refreshed
// either way.
func (p *Pipeline) TryUpdate(ctx context.Context, ref domain.GalleryRef, throttled bool) (Outcome, error) {
	stored, gFound, err := p.ledger.Gallery(ctx, ref.ID)
	if err != nil {
		return "", err
	}
	msg, mFound, err := p.ledger.Message(ctx, ref.ID)
	if err != nil {
		return "", err
	}
	if !gFound || !mFound {
		return OutcomeSkipped, nil
	}

	now := p.now()
	if throttled && !p.opts.Cadence.Due(msg.PublishedDate, now) {
		return OutcomeThrottled, nil
	}

	g, err := p.source.ResolveGallery(ctx, ref)
	if err != nil {
		return "", fmt.Errorf("resolve gallery %d: %w", ref.ID, err)
	}
	fresh := g.Entity(now)
	if fresh.CoverIndex == 0 {
		fresh.CoverIndex = stored.CoverIndex
	}

	outcome := OutcomeUnchanged
	if changed(stored, fresh) {
		articleURL, err := p.currentArticle(ctx, fresh)
		if err != nil {
			return "", err
		}
		text := messenger.Announcement(fresh, articleURL, p.source.GalleryURL(ref))
		if err := p.edit(ctx, msg.ID, text); err != nil {
			return "", fmt.Errorf("edit message for gallery %d: %w", ref.ID, err)
		}
		outcome = OutcomeUpdated
		p.log.InfoObj("gallery metadata changed", "gallery_meta", map[string]any{
			"gallery_id": ref.ID,
			"title":      fresh.DisplayTitle(),
			"message_id": msg.ID,
		})
		p.emit(ctx, publishers.EventUpdated, fresh, articleURL, msg.ID)
	}

	if err := p.ledger.UpsertGallery(ctx, fresh); err != nil {
		return "", err
	}
	return outcome, nil
}

// currentArticle returns the stored article URL, publishing one when none exists.
func (p *Pipeline) currentArticle(ctx context.Context, g domain.GalleryEntity) (string, error) {
	a, found, err := p.ledger.Article(ctx, g.ID)
	if err != nil {
		return "", err
	}
	if found && a.URL != "" {
		return a.URL, nil
	}
	url, err := p.articles.Publish(ctx, g)
	if err != nil {
		return "", fmt.Errorf("publish article %d: %w", g.ID, err)
	}
	if err := p.ledger.SaveArticle(ctx, domain.Article{GalleryID: g.ID, URL: url, UpdatedAt: p.now().UTC()}); err != nil {
		return "", err
	}
	return url, nil
}

func changed(stored, fresh domain.GalleryEntity) bool {
	return stored.Title != fresh.Title ||
		stored.TitleNative != fresh.TitleNative ||
		!stored.Tags.Equal(fresh.Tags)
}
