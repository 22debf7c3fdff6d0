package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/samvad-hq/samvad-gallery-mirror/internal/domain"
)

// Package storage provides the durable ledger of mirrored galleries.

// Ledger records galleries, images, page mappings, articles and channel messages.
//
// Write contracts:
//   - UpsertGallery, SaveArticle, SaveMessage: create-or-update, one row per gallery.
//   - CreateImage: create-if-absent by hash; returns the stored row either way.
//   - CreatePage: insert-or-ignore by (gallery, page).
type Ledger interface {
	Close() error

	Gallery(ctx context.Context, id int64) (domain.GalleryEntity, bool, error)
	UpsertGallery(ctx context.Context, g domain.GalleryEntity) error
	Galleries(ctx context.Context) ([]domain.GalleryEntity, error)

	ImageByHash(ctx context.Context, hash string) (domain.Image, bool, error)
	CreateImage(ctx context.Context, img domain.Image) (domain.Image, error)
	GalleryImages(ctx context.Context, galleryID int64) ([]domain.Image, error)

	CreatePage(ctx context.Context, m domain.PageMapping) error
	GalleryPages(ctx context.Context, galleryID int64) ([]domain.PageMapping, error)

	Article(ctx context.Context, galleryID int64) (domain.Article, bool, error)
	SaveArticle(ctx context.Context, a domain.Article) error

	Message(ctx context.Context, galleryID int64) (domain.ChannelMessage, bool, error)
	SaveMessage(ctx context.Context, m domain.ChannelMessage) error
}

// Options selects the on-disk location per backend.
type Options struct {
	BBoltPath  string
	SQLitePath string
}

// NewLedger creates the configured storage backend.
func NewLedger(typ string, opts Options) (Ledger, error) {
	typ = strings.TrimSpace(strings.ToLower(typ))

	switch typ {
	case "", "bbolt":
		if strings.TrimSpace(opts.BBoltPath) == "" {
			return nil, fmt.Errorf("bbolt storage requires a path")
		}
		return openBolt(opts.BBoltPath)
	case "sqlite":
		if strings.TrimSpace(opts.SQLitePath) == "" {
			return nil, fmt.Errorf("sqlite storage requires a path")
		}
		return openSQL(opts.SQLitePath)
	default:
		return nil, fmt.Errorf("unsupported storage type %q", typ)
	}
}

func ledgerErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", domain.ErrLedger, op, err)
}
