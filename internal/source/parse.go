package source

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/samvad-hq/samvad-gallery-mirror/internal/domain"
)

const postedLayout = "2006-01-02 15:04"

var (
	nlTokenRe   = regexp.MustCompile(`nl\('([^']+)'\)`)
	fileIndexRe = regexp.MustCompile(`fileindex=(\d+)|/om/(\d+)/`)
)

// parseSearch extracts gallery links and the next-page cursor from a result page.
func parseSearch(doc *goquery.Document) ([]domain.GalleryRef, string) {
	var refs []domain.GalleryRef
	doc.Find("table.itg.gltc tr").Each(func(_ int, row *goquery.Selection) {
		href, ok := row.Find("td.gl3c.glname a").First().Attr("href")
		if !ok {
			return
		}
		if ref, err := domain.ParseGalleryURL(href); err == nil {
			refs = append(refs, ref)
		}
	})

	next := ""
	if href, ok := doc.Find("a#dnext").First().Attr("href"); ok {
		if i := strings.LastIndex(href, "="); i >= 0 {
			next = href[i+1:]
		}
	}
	return refs, next
}

// parseGallery extracts metadata and the first block of page links.
func parseGallery(doc *goquery.Document) (domain.Gallery, string, error) {
	var g domain.Gallery

	g.Title = strings.TrimSpace(doc.Find("h1#gn").First().Text())
	if g.Title == "" {
		return g, "", fmt.Errorf("%w: gallery title missing", domain.ErrParse)
	}
	g.TitleNative = strings.TrimSpace(doc.Find("h1#gj").First().Text())

	if href, ok := doc.Find("td.gdt2 a").First().Attr("href"); ok {
		if parent, err := domain.ParseGalleryURL(href); err == nil {
			g.Parent = &parent
		}
	}

	doc.Find("div#taglist tr").Each(func(_ int, row *goquery.Selection) {
		ns := strings.TrimSuffix(strings.TrimSpace(row.Find("td.tc").First().Text()), ":")
		if ns == "" {
			ns = "misc"
		}
		row.Find("td div a").Each(func(_ int, a *goquery.Selection) {
			if tag := strings.TrimSpace(a.Text()); tag != "" {
				g.Tags = g.Tags.Add(ns, tag)
			}
		})
	})

	g.FavoriteCount = parseFavorites(doc.Find("#favcount").First().Text())

	postedRaw := strings.TrimSpace(doc.Find("td.gdt2").First().Text())
	posted, err := time.ParseInLocation(postedLayout, postedRaw, time.UTC)
	if err != nil {
		return g, "", fmt.Errorf("%w: posted date %q", domain.ErrParse, postedRaw)
	}
	g.PostedAt = posted

	pages, next := parsePageList(doc)
	if len(pages) == 0 {
		return g, "", fmt.Errorf("%w: gallery has no page links", domain.ErrParse)
	}
	g.Pages = pages
	return g, next, nil
}

// parsePageList returns page links from the thumbnail grid and the next grid page, if any.
func parsePageList(doc *goquery.Document) ([]domain.PageRef, string) {
	var pages []domain.PageRef
	doc.Find("div#gdt a").Each(func(_ int, a *goquery.Selection) {
		href, ok := a.Attr("href")
		if !ok {
			return
		}
		if page, err := domain.ParsePageURL(href); err == nil {
			pages = append(pages, page)
		}
	})
	next, _ := doc.Find("table.ptb td:last-child a").First().Attr("href")
	return pages, strings.TrimSpace(next)
}

func parseFavorites(raw string) int {
	fields := strings.Fields(raw)
	if len(fields) == 0 {
		return 0
	}
	switch strings.ToLower(fields[0]) {
	case "never":
		return 0
	case "once":
		return 1
	}
	n, err := strconv.Atoi(strings.ReplaceAll(fields[0], ",", ""))
	if err != nil {
		return 0
	}
	return n
}

// imagePage holds the candidate URLs of a single page view.
type imagePage struct {
	original string
	standard string
	nl       string
}

func parseImagePage(doc *goquery.Document) (imagePage, error) {
	var p imagePage
	if href, ok := doc.Find(`div#i6 div a[href*="fullimg"]`).First().Attr("href"); ok {
		p.original = strings.TrimSpace(href)
	}
	img := doc.Find("img#img").First()
	src, ok := img.Attr("src")
	if !ok || strings.TrimSpace(src) == "" {
		return p, fmt.Errorf("%w: image element missing", domain.ErrParse)
	}
	p.standard = strings.TrimSpace(src)
	if onerror, ok := img.Attr("onerror"); ok {
		if m := nlTokenRe.FindStringSubmatch(onerror); m != nil {
			p.nl = m[1]
		}
	}
	return p, nil
}

// fileIndex extracts the source file index from an image URL; 0 when absent.
func fileIndex(rawURL string) int {
	m := fileIndexRe.FindStringSubmatch(rawURL)
	if m == nil {
		return 0
	}
	for _, g := range m[1:] {
		if g == "" {
			continue
		}
		if n, err := strconv.Atoi(g); err == nil {
			return n
		}
	}
	return 0
}
