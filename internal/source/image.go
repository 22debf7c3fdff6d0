package source

import (
	"context"
	"fmt"
	"net/url"

	"github.com/samvad-hq/samvad-gallery-mirror/internal/domain"
	"github.com/samvad-hq/samvad-gallery-mirror/internal/fallback"
)

// ResolveImageURL turns a page into a concrete image URL. Tiers, in order: the original
// asset link (redirect followed), the displayed image (HEAD liveness), and a page re-fetch
// with the downgrade token from the image's error hint.
func (c *Client) ResolveImageURL(ctx context.Context, page domain.PageRef) (int, string, error) {
	pageURL := page.URL(c.base)
	doc, err := c.fetchDocument(ctx, pageURL)
	if err != nil {
		return 0, "", fmt.Errorf("page %d/%d: %w", page.GalleryID, page.Page, err)
	}
	info, err := parseImagePage(doc)
	if err != nil {
		return 0, "", fmt.Errorf("page %d/%d: %w", page.GalleryID, page.Page, err)
	}

	res, err := fallback.First(ctx,
		fallback.Step[string]{Name: "original", Run: func(ctx context.Context) (string, error) {
			if info.original == "" {
				return "", errNoCandidate
			}
			return c.probe(ctx, c.absolute(info.original), true)
		}},
		fallback.Step[string]{Name: "standard", Run: func(ctx context.Context) (string, error) {
			if _, err := c.probe(ctx, info.standard, false); err != nil {
				return "", err
			}
			return info.standard, nil
		}},
		fallback.Step[string]{Name: "downgraded", Run: func(ctx context.Context) (string, error) {
			return c.downgraded(ctx, pageURL, info.nl)
		}},
	)
	if err != nil {
		if ctx.Err() != nil {
			return 0, "", ctx.Err()
		}
		return 0, "", fmt.Errorf("page %d/%d: %w: %w", page.GalleryID, page.Page, domain.ErrHotlinkBroken, err)
	}
	if len(res.Failed) > 0 {
		c.log.DebugObj("image url resolved by fallback", "image_fallback", map[string]any{
			"gallery_id": page.GalleryID,
			"page":       page.Page,
			"tier":       res.Step,
		})
	}

	idx := fileIndex(res.Value)
	if idx == 0 {
		idx = fileIndex(info.standard)
	}
	return idx, res.Value, nil
}

func (c *Client) downgraded(ctx context.Context, pageURL, nl string) (string, error) {
	if nl == "" {
		return "", errNoCandidate
	}
	doc, err := c.fetchDocument(ctx, pageURL+"?nl="+url.QueryEscape(nl))
	if err != nil {
		return "", err
	}
	info, err := parseImagePage(doc)
	if err != nil {
		return "", err
	}
	return info.standard, nil
}

func (c *Client) absolute(ref string) string {
	u, err := url.Parse(ref)
	if err != nil || u.IsAbs() {
		return ref
	}
	base, err := url.Parse(c.base + "/")
	if err != nil {
		return ref
	}
	return base.ResolveReference(u).String()
}
