package domain

import (
	"errors"
	"testing"
	"time"
)

func TestParseGalleryURL(t *testing.T) {
	ref, err := ParseGalleryURL("https://exhentai.org/g/2345678/abcdef0123/?cover=4")
	if err != nil {
		t.Fatalf("ParseGalleryURL: %v", err)
	}
	if ref.ID != 2345678 || ref.Token != "abcdef0123" || ref.Cover != 4 {
		t.Fatalf("unexpected ref %#v", ref)
	}
	if got := ref.URL("https://exhentai.org/"); got != "https://exhentai.org/g/2345678/abcdef0123/" {
		t.Fatalf("URL = %s", got)
	}

	if _, err := ParseGalleryURL("https://exhentai.org/tag/foo"); !errors.Is(err, ErrParse) {
		t.Fatalf("expected ErrParse, got %v", err)
	}
}

func TestParsePageURL(t *testing.T) {
	page, err := ParsePageURL("https://exhentai.org/s/0a1b2c3d4e/2345678-12")
	if err != nil {
		t.Fatalf("ParsePageURL: %v", err)
	}
	if page.GalleryID != 2345678 || page.Page != 12 || page.Token != "0a1b2c3d4e" {
		t.Fatalf("unexpected page %#v", page)
	}
	if page.ContentHash() != "0a1b2c3d4e" {
		t.Fatalf("ContentHash = %s", page.ContentHash())
	}
	if _, err := ParsePageURL("https://exhentai.org/s/0a1b2c3d4e/2345678-0"); err == nil {
		t.Fatalf("expected error for page 0")
	}
}

func TestTagsAddAndEqual(t *testing.T) {
	var a Tags
	a = a.Add("artist", "foo")
	a = a.Add("female", "glasses")
	a = a.Add("artist", "foo")
	a = a.Add("artist", "bar")
	if len(a) != 2 || len(a[0].Values) != 2 {
		t.Fatalf("unexpected tags %#v", a)
	}

	b := Tags{{Namespace: "female", Values: []string{"glasses"}}, {Namespace: "artist", Values: []string{"bar", "foo"}}}
	if !a.Equal(b) {
		t.Fatalf("expected order-insensitive equality")
	}
	if a.Equal(b.Add("female", "twintails")) {
		t.Fatalf("expected inequality after adding a tag")
	}
}

func TestGalleryEntity(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	g := Gallery{
		Ref:    GalleryRef{ID: 10, Token: "aa"},
		Title:  "English",
		Pages:  []PageRef{{GalleryID: 10, Page: 1}, {GalleryID: 10, Page: 2}},
		Parent: &GalleryRef{ID: 7, Token: "bb"},
	}
	e := g.Entity(now)
	if e.Pages != 2 || e.ParentID != 7 || !e.UpdatedAt.Equal(now) {
		t.Fatalf("unexpected entity %#v", e)
	}
	if e.DisplayTitle() != "English" {
		t.Fatalf("DisplayTitle = %s", e.DisplayTitle())
	}
	e.TitleNative = "ネイティブ"
	if e.DisplayTitle() != "ネイティブ" {
		t.Fatalf("DisplayTitle should prefer native title")
	}
}
