package domain

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Domain contains core models shared across the mirror.

// GalleryRef identifies a gallery on the source. Only ID is identity; Token is an access capability.
type GalleryRef struct {
	ID    int64
	Token string
	// Cover is an optional cover page index (0 means none).
	Cover int
}

// Path returns the source-relative gallery path.
func (r GalleryRef) Path() string {
	return fmt.Sprintf("/g/%d/%s/", r.ID, r.Token)
}

// URL joins the gallery path onto base.
func (r GalleryRef) URL(base string) string {
	return strings.TrimRight(base, "/") + r.Path()
}

var (
	galleryPathRe = regexp.MustCompile(`/g/(\d+)/([0-9a-f]+)/?`)
	pagePathRe    = regexp.MustCompile(`/s/([0-9a-f]+)/(\d+)-(\d+)`)
)

// ParseGalleryURL extracts a GalleryRef from a gallery link. A "cover" query value is kept as Cover.
func ParseGalleryURL(raw string) (GalleryRef, error) {
	m := galleryPathRe.FindStringSubmatch(raw)
	if m == nil {
		return GalleryRef{}, fmt.Errorf("%w: not a gallery url %q", ErrParse, raw)
	}
	id, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return GalleryRef{}, fmt.Errorf("%w: gallery id %q", ErrParse, m[1])
	}
	ref := GalleryRef{ID: id, Token: m[2]}
	if u, err := url.Parse(raw); err == nil {
		if c, err := strconv.Atoi(u.Query().Get("cover")); err == nil && c > 0 {
			ref.Cover = c
		}
	}
	return ref, nil
}

// PageRef identifies one page within a gallery. Page is 1-based.
type PageRef struct {
	GalleryID int64
	Page      int
	Token     string
}

// Path returns the source-relative page path.
func (p PageRef) Path() string {
	return fmt.Sprintf("/s/%s/%d-%d", p.Token, p.GalleryID, p.Page)
}

// URL joins the page path onto base.
func (p PageRef) URL(base string) string {
	return strings.TrimRight(base, "/") + p.Path()
}

// ContentHash is the dedup key. The page token is derived from the image file itself,
// so identical images in different galleries share it.
func (p PageRef) ContentHash() string {
	return strings.ToLower(p.Token)
}

// ParsePageURL extracts a PageRef from a page link.
func ParsePageURL(raw string) (PageRef, error) {
	m := pagePathRe.FindStringSubmatch(raw)
	if m == nil {
		return PageRef{}, fmt.Errorf("%w: not a page url %q", ErrParse, raw)
	}
	gid, err := strconv.ParseInt(m[2], 10, 64)
	if err != nil {
		return PageRef{}, fmt.Errorf("%w: page gallery id %q", ErrParse, m[2])
	}
	page, err := strconv.Atoi(m[3])
	if err != nil || page < 1 {
		return PageRef{}, fmt.Errorf("%w: page number %q", ErrParse, m[3])
	}
	return PageRef{GalleryID: gid, Page: page, Token: m[1]}, nil
}

// TagGroup holds the tags of a single namespace in source order.
type TagGroup struct {
	Namespace string   `json:"namespace"`
	Values    []string `json:"values"`
}

// Tags is an ordered namespace → set mapping.
type Tags []TagGroup

// Add appends value under namespace, keeping both orders and skipping duplicates.
func (t Tags) Add(namespace, value string) Tags {
	for i := range t {
		if t[i].Namespace != namespace {
			continue
		}
		for _, v := range t[i].Values {
			if v == value {
				return t
			}
		}
		t[i].Values = append(t[i].Values, value)
		return t
	}
	return append(t, TagGroup{Namespace: namespace, Values: []string{value}})
}

// Equal compares namespaces and tag sets, ignoring order.
func (t Tags) Equal(other Tags) bool {
	a, b := t.sets(), other.sets()
	if len(a) != len(b) {
		return false
	}
	for ns, values := range a {
		ov, ok := b[ns]
		if !ok || len(ov) != len(values) {
			return false
		}
		for v := range values {
			if _, ok := ov[v]; !ok {
				return false
			}
		}
	}
	return true
}

func (t Tags) sets() map[string]map[string]struct{} {
	out := make(map[string]map[string]struct{}, len(t))
	for _, g := range t {
		if len(g.Values) == 0 {
			continue
		}
		set := out[g.Namespace]
		if set == nil {
			set = make(map[string]struct{}, len(g.Values))
			out[g.Namespace] = set
		}
		for _, v := range g.Values {
			set[v] = struct{}{}
		}
	}
	return out
}

// Gallery is a freshly fetched snapshot of a source gallery.
type Gallery struct {
	Ref           GalleryRef
	Title         string
	TitleNative   string
	Tags          Tags
	FavoriteCount int
	PostedAt      time.Time
	Pages         []PageRef
	Parent        *GalleryRef
	CoverIndex    int
}

// GalleryEntity is the flattened gallery row kept in the ledger.
type GalleryEntity struct {
	ID            int64     `json:"id"`
	Token         string    `json:"token"`
	Title         string    `json:"title"`
	TitleNative   string    `json:"title_native"`
	Tags          Tags      `json:"tags"`
	FavoriteCount int       `json:"favorite_count"`
	Pages         int       `json:"pages"`
	ParentID      int64     `json:"parent_id,omitempty"`
	CoverIndex    int       `json:"cover_index"`
	PostedAt      time.Time `json:"posted_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Entity flattens a snapshot for persistence.
func (g Gallery) Entity(now time.Time) GalleryEntity {
	e := GalleryEntity{
		ID:            g.Ref.ID,
		Token:         g.Ref.Token,
		Title:         g.Title,
		TitleNative:   g.TitleNative,
		Tags:          g.Tags,
		FavoriteCount: g.FavoriteCount,
		Pages:         len(g.Pages),
		CoverIndex:    g.CoverIndex,
		PostedAt:      g.PostedAt,
		UpdatedAt:     now.UTC(),
	}
	if g.Parent != nil {
		e.ParentID = g.Parent.ID
	}
	return e
}

// Ref rebuilds the source reference of a stored gallery.
func (e GalleryEntity) Ref() GalleryRef {
	return GalleryRef{ID: e.ID, Token: e.Token, Cover: e.CoverIndex}
}

// DisplayTitle prefers the native title.
func (e GalleryEntity) DisplayTitle() string {
	if t := strings.TrimSpace(e.TitleNative); t != "" {
		return t
	}
	return e.Title
}

// Image is a mirrored image, unique per Hash.
type Image struct {
	ID   int64  `json:"id"`
	Hash string `json:"hash"`
	URL  string `json:"url"`
}

// PageMapping links a gallery page to an Image.
type PageMapping struct {
	GalleryID int64 `json:"gallery_id"`
	Page      int   `json:"page"`
	ImageID   int64 `json:"image_id"`
}

// Article is the current long-form page published for a gallery.
type Article struct {
	GalleryID int64     `json:"gallery_id"`
	URL       string    `json:"url"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ChannelMessage is the current announcement post for a gallery.
type ChannelMessage struct {
	ID            int64     `json:"id"`
	GalleryID     int64     `json:"gallery_id"`
	PublishedDate time.Time `json:"published_date"`
}

// Progress reports image pipeline stage counts for one gallery.
type Progress struct {
	GalleryID  int64 `json:"gallery_id"`
	Total      int   `json:"total"`
	Satisfied  int   `json:"satisfied"`
	Resolved   int   `json:"resolved"`
	Downloaded int   `json:"downloaded"`
	Uploaded   int   `json:"uploaded"`
}
