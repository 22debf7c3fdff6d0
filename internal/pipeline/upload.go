package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/samvad-hq/samvad-gallery-mirror/internal/domain"
	"github.com/samvad-hq/samvad-gallery-mirror/internal/messenger"
	"github.com/samvad-hq/samvad-gallery-mirror/internal/retry"
	"github.com/samvad-hq/samvad-gallery-mirror/pkg/publishers"
)

// TryUpload mirrors ref and announces it. With skipIfKnown, a gallery that
// already has both a ledger row and a channel message is left alone without
// any network call. A gallery that was announced before gets its existing
// message edited rather than a second post.
func (p *Pipeline) TryUpload(ctx context.Context, ref domain.GalleryRef, skipIfKnown bool) (Outcome, error) {
	if skipIfKnown {
		known, err := p.known(ctx, ref.ID)
		if err != nil {
			return "", err
		}
		if known {
			return OutcomeSkipped, nil
		}
	}

	g, err := p.source.ResolveGallery(ctx, ref)
	if err != nil {
		return "", fmt.Errorf("resolve gallery %d: %w", ref.ID, err)
	}
	if err := p.mirrorImages(ctx, g); err != nil {
		return "", fmt.Errorf("mirror gallery %d: %w", ref.ID, err)
	}

	now := p.now()
	entity := g.Entity(now)
	articleURL, err := p.articles.Publish(ctx, entity)
	if err != nil {
		return "", fmt.Errorf("publish article %d: %w", ref.ID, err)
	}

	msg, found, err := p.ledger.Message(ctx, ref.ID)
	if err != nil {
		return "", err
	}
	text := messenger.Announcement(entity, articleURL, p.source.GalleryURL(ref))
	outcome := OutcomeUploaded
	if found {
		if err := p.edit(ctx, msg.ID, text); err != nil {
			return "", fmt.Errorf("edit message for gallery %d: %w", ref.ID, err)
		}
		outcome = OutcomeRefreshed
	} else {
		id, err := p.announce(ctx, g, text)
		if err != nil {
			return "", fmt.Errorf("announce gallery %d: %w", ref.ID, err)
		}
		msg = domain.ChannelMessage{ID: id, GalleryID: ref.ID, PublishedDate: now.UTC()}
	}

	if err := errors.Join(
		p.ledger.UpsertGallery(ctx, entity),
		p.ledger.SaveArticle(ctx, domain.Article{GalleryID: ref.ID, URL: articleURL, UpdatedAt: now.UTC()}),
		p.ledger.SaveMessage(ctx, msg),
	); err != nil {
		return "", fmt.Errorf("record gallery %d: %w", ref.ID, err)
	}

	p.log.InfoObj("gallery uploaded", "gallery_meta", map[string]any{
		"gallery_id": ref.ID,
		"title":      entity.DisplayTitle(),
		"pages":      entity.Pages,
		"article":    articleURL,
		"message_id": msg.ID,
		"outcome":    string(outcome),
	})
	evt := publishers.EventPublished
	if outcome == OutcomeRefreshed {
		evt = publishers.EventUpdated
	}
	p.emit(ctx, evt, entity, articleURL, msg.ID)
	return outcome, nil
}

// Republish regenerates the article of a stored gallery and points its
// channel message at the new URL. The stored Article row is replaced.
func (p *Pipeline) Republish(ctx context.Context, g domain.GalleryEntity, msg domain.ChannelMessage) (string, error) {
	articleURL, err := p.articles.Publish(ctx, g)
	if err != nil {
		return "", fmt.Errorf("publish article %d: %w", g.ID, err)
	}
	if err := p.ledger.SaveArticle(ctx, domain.Article{GalleryID: g.ID, URL: articleURL, UpdatedAt: p.now().UTC()}); err != nil {
		return "", err
	}
	text := messenger.Announcement(g, articleURL, p.source.GalleryURL(g.Ref()))
	if err := p.edit(ctx, msg.ID, text); err != nil {
		return "", fmt.Errorf("edit message for gallery %d: %w", g.ID, err)
	}

	p.log.InfoObj("gallery republished", "gallery_meta", map[string]any{
		"gallery_id": g.ID,
		"article":    articleURL,
		"message_id": msg.ID,
	})
	p.emit(ctx, publishers.EventRepublished, g, articleURL, msg.ID)
	return articleURL, nil
}

// RepublishByID looks up a stored gallery and its message, then republishes it.
func (p *Pipeline) RepublishByID(ctx context.Context, id int64) (string, error) {
	g, gFound, err := p.ledger.Gallery(ctx, id)
	if err != nil {
		return "", err
	}
	msg, mFound, err := p.ledger.Message(ctx, id)
	if err != nil {
		return "", err
	}
	if !gFound || !mFound {
		return "", fmt.Errorf("gallery %d: %w", id, ErrUnknownGallery)
	}
	return p.Republish(ctx, g, msg)
}

func (p *Pipeline) known(ctx context.Context, id int64) (bool, error) {
	_, gFound, err := p.ledger.Gallery(ctx, id)
	if err != nil || !gFound {
		return false, err
	}
	_, mFound, err := p.ledger.Message(ctx, id)
	return mFound, err
}

// announce posts text to the channel, threaded under the parent gallery's
// message when the parent was announced before.
func (p *Pipeline) announce(ctx context.Context, g domain.Gallery, text string) (int64, error) {
	if g.Parent != nil {
		if replier, ok := p.msg.(messenger.Replier); ok {
			parent, found, err := p.ledger.Message(ctx, g.Parent.ID)
			if err != nil {
				p.log.WarnObj("parent message lookup failed", "ledger_error", map[string]any{
					"gallery_id": g.Ref.ID,
					"parent_id":  g.Parent.ID,
					"error":      err.Error(),
				})
			}
			if found {
				return retry.DoValue(ctx, p.opts.LogicRetry, func(ctx context.Context) (int64, error) {
					return replier.Reply(ctx, p.opts.ChannelID, parent.ID, text)
				})
			}
		}
	}
	return retry.DoValue(ctx, p.opts.LogicRetry, func(ctx context.Context) (int64, error) {
		return p.msg.Send(ctx, p.opts.ChannelID, text)
	})
}

func (p *Pipeline) edit(ctx context.Context, messageID int64, text string) error {
	return retry.Do(ctx, p.opts.LogicRetry, func(ctx context.Context) error {
		return p.msg.Edit(ctx, p.opts.ChannelID, messageID, text)
	})
}

// notifyOperators reports a gallery-level upload failure to every operator chat.
func (p *Pipeline) notifyOperators(ctx context.Context, ref domain.GalleryRef, cause error) {
	if len(p.opts.OperatorChatIDs) == 0 {
		return
	}
	text := messenger.UploadFailure(ref, p.source.GalleryURL(ref), cause)
	for _, chat := range p.opts.OperatorChatIDs {
		if _, err := p.msg.Send(ctx, chat, text); err != nil {
			p.log.ErrorObj("operator notification failed", "notify_error", map[string]any{
				"chat_id":    chat,
				"gallery_id": ref.ID,
				"error":      err.Error(),
			})
		}
	}
}
