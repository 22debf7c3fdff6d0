package source

import (
	"context"
	"fmt"

	"github.com/samvad-hq/samvad-gallery-mirror/internal/domain"
)

// maxGridPages bounds continuation fetches for one gallery.
const maxGridPages = 200

// ResolveGallery fetches a gallery and all of its continuation pages.
func (c *Client) ResolveGallery(ctx context.Context, ref domain.GalleryRef) (domain.Gallery, error) {
	first := ref.URL(c.base)
	doc, err := c.fetchDocument(ctx, first)
	if err != nil {
		return domain.Gallery{}, fmt.Errorf("gallery %d: %w", ref.ID, err)
	}
	g, next, err := parseGallery(doc)
	if err != nil {
		return domain.Gallery{}, fmt.Errorf("gallery %d: %w", ref.ID, err)
	}
	g.Ref = ref
	g.CoverIndex = ref.Cover

	seen := map[string]bool{first: true}
	for i := 0; next != "" && !seen[next]; i++ {
		if i >= maxGridPages {
			return domain.Gallery{}, fmt.Errorf("gallery %d: %w: too many continuation pages", ref.ID, domain.ErrParse)
		}
		seen[next] = true
		doc, err := c.fetchDocument(ctx, c.absolute(next))
		if err != nil {
			return domain.Gallery{}, fmt.Errorf("gallery %d continuation: %w", ref.ID, err)
		}
		var pages []domain.PageRef
		pages, next = parsePageList(doc)
		g.Pages = append(g.Pages, pages...)
	}

	c.log.DebugObj("gallery resolved", "gallery_meta", map[string]any{
		"gallery_id": ref.ID,
		"title":      g.Title,
		"pages":      len(g.Pages),
	})
	return g, nil
}
