// Package article assembles mirrored galleries into linked long-form pages.
package article

import (
	"context"
	"errors"
	"fmt"

	"github.com/samvad-hq/samvad-gallery-mirror/internal/domain"
	"github.com/samvad-hq/samvad-gallery-mirror/internal/logger"
	"github.com/samvad-hq/samvad-gallery-mirror/internal/retry"
)

// ErrNoImages is returned when a gallery has no mirrored images yet.
var ErrNoImages = errors.New("gallery has no mirrored images")

// PageAPI creates and rewrites article pages.
type PageAPI interface {
	CreatePage(ctx context.Context, title string, content []Node) (Page, error)
	EditPage(ctx context.Context, path, title string, content []Node) (Page, error)
}

// ImageSource lists a gallery's mirrored images in page order.
type ImageSource interface {
	GalleryImages(ctx context.Context, galleryID int64) ([]domain.Image, error)
}

// Publisher builds articles from ledger state, never from the live source.
type Publisher struct {
	api      PageAPI
	images   ImageSource
	capacity int
	retry    retry.Policy
	log      logger.Logger
}

// NewPublisher returns a Publisher splitting articles every capacity images.
func NewPublisher(api PageAPI, images ImageSource, capacity int, policy retry.Policy, log logger.Logger) *Publisher {
	if capacity <= 0 {
		capacity = 100
	}
	return &Publisher{api: api, images: images, capacity: capacity, retry: policy, log: logger.Ensure(log)}
}

// Publish creates the gallery's article and returns the URL of its first page.
// Multi-page articles are created first and then rewritten with neighbour links.
func (p *Publisher) Publish(ctx context.Context, g domain.GalleryEntity) (string, error) {
	images, err := p.images.GalleryImages(ctx, g.ID)
	if err != nil {
		return "", fmt.Errorf("load images: %w", err)
	}
	if len(images) == 0 {
		return "", fmt.Errorf("gallery %d: %w", g.ID, ErrNoImages)
	}
	if g.CoverIndex > 0 && g.CoverIndex < len(images) {
		images = append([]domain.Image{images[g.CoverIndex]}, images...)
	}

	chunks := chunk(images, p.capacity)
	titles := make([]string, len(chunks))
	pages := make([]Page, len(chunks))
	for i := range chunks {
		titles[i] = g.DisplayTitle()
		if len(chunks) > 1 {
			titles[i] = fmt.Sprintf("%s (%d/%d)", g.DisplayTitle(), i+1, len(chunks))
		}
		content := render(chunks[i], nil, nil, g.Pages, i == len(chunks)-1)
		page, err := retry.DoValue(ctx, p.retry, func(ctx context.Context) (Page, error) {
			return p.api.CreatePage(ctx, titles[i], content)
		})
		if err != nil {
			return "", fmt.Errorf("create article page %d/%d: %w", i+1, len(chunks), err)
		}
		pages[i] = page
	}

	if len(pages) > 1 {
		for i := range pages {
			var prev, next *Page
			if i > 0 {
				prev = &pages[i-1]
			}
			if i < len(pages)-1 {
				next = &pages[i+1]
			}
			content := render(chunks[i], prev, next, g.Pages, i == len(chunks)-1)
			if _, err := retry.DoValue(ctx, p.retry, func(ctx context.Context) (Page, error) {
				return p.api.EditPage(ctx, pages[i].Path, titles[i], content)
			}); err != nil {
				return "", fmt.Errorf("link article page %d/%d: %w", i+1, len(pages), err)
			}
		}
	}

	p.log.InfoObj("article published", "article_meta", map[string]any{
		"gallery_id": g.ID,
		"url":        pages[0].URL,
		"pages":      len(pages),
		"images":     len(images),
	})
	return pages[0].URL, nil
}

func chunk(images []domain.Image, size int) [][]domain.Image {
	var out [][]domain.Image
	for start := 0; start < len(images); start += size {
		end := min(start+size, len(images))
		out = append(out, images[start:end])
	}
	return out
}

func render(images []domain.Image, prev, next *Page, total int, last bool) []Node {
	content := make([]Node, 0, len(images)+2)
	for _, img := range images {
		content = append(content, Node{Tag: "img", Attrs: map[string]string{"src": img.URL}})
	}
	if prev != nil || next != nil {
		nav := Node{Tag: "p"}
		if prev != nil {
			nav.Children = append(nav.Children, Node{Tag: "a", Attrs: map[string]string{"href": prev.URL}, Children: []any{"« previous"}})
		}
		if prev != nil && next != nil {
			nav.Children = append(nav.Children, " | ")
		}
		if next != nil {
			nav.Children = append(nav.Children, Node{Tag: "a", Attrs: map[string]string{"href": next.URL}, Children: []any{"next »"}})
		}
		content = append(content, nav)
	}
	if last {
		content = append(content, Node{Tag: "p", Children: []any{fmt.Sprintf("Total images: %d", total)}})
	}
	return content
}
