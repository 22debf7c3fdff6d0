package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/samvad-hq/samvad-gallery-mirror/internal/domain"
)

type galleryRow struct {
	ID            int64 `gorm:"primaryKey;autoIncrement:false"`
	Token         string
	Title         string
	TitleNative   string
	Tags          domain.Tags `gorm:"serializer:json"`
	FavoriteCount int
	Pages         int
	ParentID      int64
	CoverIndex    int
	PostedAt      time.Time
	UpdatedAt     time.Time `gorm:"autoUpdateTime:false"`
}

func (galleryRow) TableName() string { return "galleries" }

type imageRow struct {
	ID   int64  `gorm:"primaryKey"`
	Hash string `gorm:"uniqueIndex;not null"`
	URL  string `gorm:"not null"`
}

func (imageRow) TableName() string { return "images" }

type pageRow struct {
	GalleryID int64 `gorm:"primaryKey;autoIncrement:false"`
	Page      int   `gorm:"primaryKey;autoIncrement:false"`
	ImageID   int64 `gorm:"index;not null"`
}

func (pageRow) TableName() string { return "pages" }

type articleRow struct {
	GalleryID int64 `gorm:"primaryKey;autoIncrement:false"`
	URL       string
	UpdatedAt time.Time `gorm:"autoUpdateTime:false"`
}

func (articleRow) TableName() string { return "articles" }

type messageRow struct {
	GalleryID     int64 `gorm:"primaryKey;autoIncrement:false"`
	MessageID     int64 `gorm:"not null"`
	PublishedDate time.Time
}

func (messageRow) TableName() string { return "messages" }

// sqlStore implements Ledger on SQLite through gorm.
type sqlStore struct {
	db *gorm.DB
}

func openSQL(path string) (Ledger, error) {
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage directory: %w", err)
		}
	}

	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("sqlite handle: %w", err)
	}
	// SQLite allows one writer; a single connection keeps writers queued instead of failing.
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&galleryRow{}, &imageRow{}, &pageRow{}, &articleRow{}, &messageRow{}); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("migrate sqlite schema: %w", err)
	}
	return &sqlStore{db: db}, nil
}

func (s *sqlStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *sqlStore) Gallery(ctx context.Context, id int64) (domain.GalleryEntity, bool, error) {
	var row galleryRow
	found, err := s.take(ctx, &row, "id = ?", id)
	if err != nil {
		return domain.GalleryEntity{}, false, ledgerErr("get gallery", err)
	}
	return row.entity(), found, nil
}

func (s *sqlStore) UpsertGallery(ctx context.Context, g domain.GalleryEntity) error {
	row := galleryRow{
		ID:            g.ID,
		Token:         g.Token,
		Title:         g.Title,
		TitleNative:   g.TitleNative,
		Tags:          g.Tags,
		FavoriteCount: g.FavoriteCount,
		Pages:         g.Pages,
		ParentID:      g.ParentID,
		CoverIndex:    g.CoverIndex,
		PostedAt:      g.PostedAt,
		UpdatedAt:     g.UpdatedAt,
	}
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error; err != nil {
		return ledgerErr("upsert gallery", err)
	}
	return nil
}

func (s *sqlStore) Galleries(ctx context.Context) ([]domain.GalleryEntity, error) {
	var rows []galleryRow
	if err := s.db.WithContext(ctx).Order("id").Find(&rows).Error; err != nil {
		return nil, ledgerErr("list galleries", err)
	}
	out := make([]domain.GalleryEntity, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.entity())
	}
	return out, nil
}

func (s *sqlStore) ImageByHash(ctx context.Context, hash string) (domain.Image, bool, error) {
	var row imageRow
	found, err := s.take(ctx, &row, "hash = ?", normalizeHash(hash))
	if err != nil {
		return domain.Image{}, false, ledgerErr("get image", err)
	}
	return row.image(), found, nil
}

func (s *sqlStore) CreateImage(ctx context.Context, img domain.Image) (domain.Image, error) {
	hash := normalizeHash(img.Hash)
	if hash == "" {
		return domain.Image{}, ledgerErr("create image", fmt.Errorf("empty hash"))
	}

	var out imageRow
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("hash = ?", hash).Take(&out).Error
		if err == nil {
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		row := imageRow{ID: img.ID, Hash: hash, URL: img.URL}
		if row.ID > 0 {
			var taken int64
			if err := tx.Model(&imageRow{}).Where("id = ?", row.ID).Count(&taken).Error; err != nil {
				return err
			}
			if taken > 0 {
				row.ID = 0
			}
		} else {
			row.ID = 0
		}

		res := tx.Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "hash"}}, DoNothing: true}).Create(&row)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return tx.Where("hash = ?", hash).Take(&out).Error
		}
		out = row
		return nil
	})
	if err != nil {
		return domain.Image{}, ledgerErr("create image", err)
	}
	return out.image(), nil
}

func (s *sqlStore) GalleryImages(ctx context.Context, galleryID int64) ([]domain.Image, error) {
	var rows []imageRow
	err := s.db.WithContext(ctx).
		Table("images").
		Select("images.id, images.hash, images.url").
		Joins("JOIN pages ON pages.image_id = images.id").
		Where("pages.gallery_id = ?", galleryID).
		Order("pages.page").
		Scan(&rows).Error
	if err != nil {
		return nil, ledgerErr("gallery images", err)
	}
	out := make([]domain.Image, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.image())
	}
	return out, nil
}

func (s *sqlStore) CreatePage(ctx context.Context, m domain.PageMapping) error {
	row := pageRow{GalleryID: m.GalleryID, Page: m.Page, ImageID: m.ImageID}
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error; err != nil {
		return ledgerErr("create page", err)
	}
	return nil
}

func (s *sqlStore) GalleryPages(ctx context.Context, galleryID int64) ([]domain.PageMapping, error) {
	var rows []pageRow
	if err := s.db.WithContext(ctx).Where("gallery_id = ?", galleryID).Order("page").Find(&rows).Error; err != nil {
		return nil, ledgerErr("gallery pages", err)
	}
	out := make([]domain.PageMapping, 0, len(rows))
	for _, r := range rows {
		out = append(out, domain.PageMapping{GalleryID: r.GalleryID, Page: r.Page, ImageID: r.ImageID})
	}
	return out, nil
}

func (s *sqlStore) Article(ctx context.Context, galleryID int64) (domain.Article, bool, error) {
	var row articleRow
	found, err := s.take(ctx, &row, "gallery_id = ?", galleryID)
	if err != nil {
		return domain.Article{}, false, ledgerErr("get article", err)
	}
	return domain.Article{GalleryID: row.GalleryID, URL: row.URL, UpdatedAt: row.UpdatedAt}, found, nil
}

func (s *sqlStore) SaveArticle(ctx context.Context, a domain.Article) error {
	row := articleRow{GalleryID: a.GalleryID, URL: a.URL, UpdatedAt: a.UpdatedAt}
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error; err != nil {
		return ledgerErr("save article", err)
	}
	return nil
}

func (s *sqlStore) Message(ctx context.Context, galleryID int64) (domain.ChannelMessage, bool, error) {
	var row messageRow
	found, err := s.take(ctx, &row, "gallery_id = ?", galleryID)
	if err != nil {
		return domain.ChannelMessage{}, false, ledgerErr("get message", err)
	}
	return domain.ChannelMessage{ID: row.MessageID, GalleryID: row.GalleryID, PublishedDate: row.PublishedDate}, found, nil
}

func (s *sqlStore) SaveMessage(ctx context.Context, m domain.ChannelMessage) error {
	row := messageRow{GalleryID: m.GalleryID, MessageID: m.ID, PublishedDate: m.PublishedDate}
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error; err != nil {
		return ledgerErr("save message", err)
	}
	return nil
}

func (s *sqlStore) take(ctx context.Context, dst any, query string, args ...any) (bool, error) {
	err := s.db.WithContext(ctx).Where(query, args...).Take(dst).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r galleryRow) entity() domain.GalleryEntity {
	return domain.GalleryEntity{
		ID:            r.ID,
		Token:         r.Token,
		Title:         r.Title,
		TitleNative:   r.TitleNative,
		Tags:          r.Tags,
		FavoriteCount: r.FavoriteCount,
		Pages:         r.Pages,
		ParentID:      r.ParentID,
		CoverIndex:    r.CoverIndex,
		PostedAt:      r.PostedAt,
		UpdatedAt:     r.UpdatedAt,
	}
}

func (r imageRow) image() domain.Image {
	return domain.Image{ID: r.ID, Hash: r.Hash, URL: r.URL}
}
