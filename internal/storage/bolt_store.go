package storage

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/samvad-hq/samvad-gallery-mirror/internal/domain"
)

const (
	galleryBucket   = "galleries"
	imageBucket     = "images"
	imageHashBucket = "image_hashes"
	pageBucket      = "pages"
	articleBucket   = "articles"
	messageBucket   = "messages"
)

var allBuckets = []string{galleryBucket, imageBucket, imageHashBucket, pageBucket, articleBucket, messageBucket}

// boltStore implements a Ledger backed by BoltDB. bbolt serializes writers, so the
// create-if-absent checks below run inside a single Update transaction.
type boltStore struct {
	db *bolt.DB
}

// openBolt initializes a BoltDB-backed Ledger.
func openBolt(path string) (Ledger, error) {
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage directory: %w", err)
		}
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bbolt db: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		for _, name := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("init buckets: %w", err)
	}

	return &boltStore{db: db}, nil
}

// Close closes the BoltDB store.
func (b *boltStore) Close() error {
	if b == nil || b.db == nil {
		return nil
	}
	return b.db.Close()
}

func (b *boltStore) Gallery(ctx context.Context, id int64) (domain.GalleryEntity, bool, error) {
	var g domain.GalleryEntity
	found, err := b.getJSON(ctx, galleryBucket, itob(id), &g)
	if err != nil {
		return g, false, ledgerErr("get gallery", err)
	}
	return g, found, nil
}

func (b *boltStore) UpsertGallery(ctx context.Context, g domain.GalleryEntity) error {
	if err := b.putJSON(ctx, galleryBucket, itob(g.ID), g); err != nil {
		return ledgerErr("upsert gallery", err)
	}
	return nil
}

func (b *boltStore) Galleries(ctx context.Context) ([]domain.GalleryEntity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []domain.GalleryEntity
	err := b.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(galleryBucket)).ForEach(func(_, v []byte) error {
			var g domain.GalleryEntity
			if err := json.Unmarshal(v, &g); err != nil {
				return err
			}
			out = append(out, g)
			return nil
		})
	})
	if err != nil {
		return nil, ledgerErr("list galleries", err)
	}
	return out, nil
}

func (b *boltStore) ImageByHash(ctx context.Context, hash string) (domain.Image, bool, error) {
	if err := ctx.Err(); err != nil {
		return domain.Image{}, false, err
	}
	var (
		img   domain.Image
		found bool
	)
	err := b.db.View(func(tx *bolt.Tx) error {
		id := tx.Bucket([]byte(imageHashBucket)).Get([]byte(normalizeHash(hash)))
		if id == nil {
			return nil
		}
		raw := tx.Bucket([]byte(imageBucket)).Get(id)
		if raw == nil {
			return fmt.Errorf("image hash %s points at missing row", hash)
		}
		found = true
		return json.Unmarshal(raw, &img)
	})
	if err != nil {
		return domain.Image{}, false, ledgerErr("get image", err)
	}
	return img, found, nil
}

func (b *boltStore) CreateImage(ctx context.Context, img domain.Image) (domain.Image, error) {
	if err := ctx.Err(); err != nil {
		return domain.Image{}, err
	}
	img.Hash = normalizeHash(img.Hash)
	if img.Hash == "" {
		return domain.Image{}, ledgerErr("create image", fmt.Errorf("empty hash"))
	}

	var out domain.Image
	err := b.db.Update(func(tx *bolt.Tx) error {
		images := tx.Bucket([]byte(imageBucket))
		hashes := tx.Bucket([]byte(imageHashBucket))

		if id := hashes.Get([]byte(img.Hash)); id != nil {
			return json.Unmarshal(images.Get(id), &out)
		}

		if img.ID <= 0 || images.Get(itob(img.ID)) != nil {
			for {
				seq, err := images.NextSequence()
				if err != nil {
					return err
				}
				if images.Get(itob(int64(seq))) == nil {
					img.ID = int64(seq)
					break
				}
			}
		}

		raw, err := json.Marshal(img)
		if err != nil {
			return err
		}
		if err := images.Put(itob(img.ID), raw); err != nil {
			return err
		}
		out = img
		return hashes.Put([]byte(img.Hash), itob(img.ID))
	})
	if err != nil {
		return domain.Image{}, ledgerErr("create image", err)
	}
	return out, nil
}

func (b *boltStore) GalleryImages(ctx context.Context, galleryID int64) ([]domain.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []domain.Image
	err := b.db.View(func(tx *bolt.Tx) error {
		images := tx.Bucket([]byte(imageBucket))
		prefix := itob(galleryID)
		c := tx.Bucket([]byte(pageBucket)).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			raw := images.Get(v)
			if raw == nil {
				continue
			}
			var img domain.Image
			if err := json.Unmarshal(raw, &img); err != nil {
				return err
			}
			out = append(out, img)
		}
		return nil
	})
	if err != nil {
		return nil, ledgerErr("gallery images", err)
	}
	return out, nil
}

func (b *boltStore) CreatePage(ctx context.Context, m domain.PageMapping) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := b.db.Update(func(tx *bolt.Tx) error {
		pages := tx.Bucket([]byte(pageBucket))
		key := pageKey(m.GalleryID, m.Page)
		if pages.Get(key) != nil {
			return nil
		}
		return pages.Put(key, itob(m.ImageID))
	})
	if err != nil {
		return ledgerErr("create page", err)
	}
	return nil
}

func (b *boltStore) GalleryPages(ctx context.Context, galleryID int64) ([]domain.PageMapping, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []domain.PageMapping
	err := b.db.View(func(tx *bolt.Tx) error {
		prefix := itob(galleryID)
		c := tx.Bucket([]byte(pageBucket)).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			out = append(out, domain.PageMapping{
				GalleryID: galleryID,
				Page:      int(btoi(k[8:])),
				ImageID:   btoi(v),
			})
		}
		return nil
	})
	if err != nil {
		return nil, ledgerErr("gallery pages", err)
	}
	return out, nil
}

func (b *boltStore) Article(ctx context.Context, galleryID int64) (domain.Article, bool, error) {
	var a domain.Article
	found, err := b.getJSON(ctx, articleBucket, itob(galleryID), &a)
	if err != nil {
		return a, false, ledgerErr("get article", err)
	}
	return a, found, nil
}

func (b *boltStore) SaveArticle(ctx context.Context, a domain.Article) error {
	if err := b.putJSON(ctx, articleBucket, itob(a.GalleryID), a); err != nil {
		return ledgerErr("save article", err)
	}
	return nil
}

func (b *boltStore) Message(ctx context.Context, galleryID int64) (domain.ChannelMessage, bool, error) {
	var m domain.ChannelMessage
	found, err := b.getJSON(ctx, messageBucket, itob(galleryID), &m)
	if err != nil {
		return m, false, ledgerErr("get message", err)
	}
	return m, found, nil
}

func (b *boltStore) SaveMessage(ctx context.Context, m domain.ChannelMessage) error {
	if err := b.putJSON(ctx, messageBucket, itob(m.GalleryID), m); err != nil {
		return ledgerErr("save message", err)
	}
	return nil
}

func (b *boltStore) getJSON(ctx context.Context, bucket string, key []byte, dst any) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	var found bool
	err := b.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket([]byte(bucket)).Get(key)
		if raw == nil {
			return nil
		}
		found = true
		return json.Unmarshal(raw, dst)
	})
	return found, err
}

func (b *boltStore) putJSON(ctx context.Context, bucket string, key []byte, v any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucket)).Put(key, raw)
	})
}

func itob(v int64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(v))
	return buf
}

func btoi(b []byte) int64 {
	if len(b) != 8 {
		return 0
	}
	return int64(binary.BigEndian.Uint64(b))
}

func pageKey(galleryID int64, page int) []byte {
	return append(itob(galleryID), itob(int64(page))...)
}

func normalizeHash(h string) string {
	return strings.ToLower(strings.TrimSpace(h))
}
