package source

import (
	"context"
	"iter"
	"net/url"

	"github.com/samvad-hq/samvad-gallery-mirror/internal/domain"
)

// SearchPage fetches one page of results. next is empty on the last page.
func (c *Client) SearchPage(ctx context.Context, params url.Values, cursor string) ([]domain.GalleryRef, string, error) {
	q := url.Values{}
	for k, v := range params {
		q[k] = append([]string(nil), v...)
	}
	if cursor != "" {
		q.Set("next", cursor)
	}
	target := c.base + "/"
	if len(q) > 0 {
		target += "?" + q.Encode()
	}

	doc, err := c.fetchDocument(ctx, target)
	if err != nil {
		return nil, "", err
	}
	refs, next := parseSearch(doc)
	return refs, next, nil
}

// SearchPages lazily walks the search feed from cursor ("" for the first page).
// A failed page fetch is logged and ends the sequence.
func (c *Client) SearchPages(ctx context.Context, params url.Values, cursor string) iter.Seq[domain.GalleryRef] {
	return func(yield func(domain.GalleryRef) bool) {
		for {
			refs, next, err := c.SearchPage(ctx, params, cursor)
			if err != nil {
				if ctx.Err() == nil {
					c.log.WarnObj("search feed ended early", "search_error", map[string]any{
						"cursor": cursor,
						"error":  err.Error(),
					})
				}
				return
			}
			for _, ref := range refs {
				if !yield(ref) {
					return
				}
			}
			if next == "" || next == cursor {
				return
			}
			cursor = next
		}
	}
}
