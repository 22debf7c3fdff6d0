package source

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samvad-hq/samvad-gallery-mirror/internal/domain"
	"github.com/samvad-hq/samvad-gallery-mirror/internal/retry"
)

func htmlPage(body string) string {
	return "<!DOCTYPE html><html><head><title>t</title></head><body>" + body +
		strings.Repeat("<!-- padding -->", 80) + "</body></html>"
}

func writeHTML(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(htmlPage(body)))
}

func testConfig(base string) Config {
	return Config{
		BaseURL:    base,
		Credential: "ipb_member_id=1; ipb_pass_hash=abc",
		Retry:      retry.Policy{MaxAttempts: 1},
	}
}

func newTestClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	c, err := NewClient(testConfig(srv.URL), nil)
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func TestNormalizeCredential(t *testing.T) {
	got := NormalizeCredential(" ipb_member_id=1;\r\n ipb_pass_hash=abc ;\n\tigneous=x;; ")
	assert.Equal(t, "ipb_member_id=1; ipb_pass_hash=abc; igneous=x", got)
}

func TestAuthenticateRunsHandshake(t *testing.T) {
	var visited []string
	mux := http.NewServeMux()
	handler := func(w http.ResponseWriter, r *http.Request) {
		visited = append(visited, r.URL.Path)
		if c, err := r.Cookie("ipb_pass_hash"); err != nil || c.Value != "abc" {
			return // origin answers bad sessions with an empty body
		}
		writeHTML(w, "<div>front page</div>")
	}
	mux.HandleFunc("/", handler)
	mux.HandleFunc("/uconfig.php", handler)
	mux.HandleFunc("/mytags", handler)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.Credential = "ipb_member_id=1;\r\nipb_pass_hash=abc\n"
	c, err := Authenticate(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer c.Close()
	assert.Equal(t, []string{"/", "/uconfig.php", "/mytags", "/"}, visited)

	cfg.Credential = "ipb_member_id=1; ipb_pass_hash=wrong"
	_, err = Authenticate(context.Background(), cfg, nil)
	require.ErrorIs(t, err, domain.ErrAuth)
}

func TestAuthenticateRejectsLoginRedirect(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/bounce_login.php", func(w http.ResponseWriter, _ *http.Request) {
		writeHTML(w, "<form>login</form>")
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/" {
			http.Redirect(w, r, "/bounce_login.php?b=d", http.StatusFound)
			return
		}
		writeHTML(w, "ok")
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	_, err := Authenticate(context.Background(), testConfig(srv.URL), nil)
	require.ErrorIs(t, err, domain.ErrAuth)
}

func TestNewClientRejectsEmptyCredential(t *testing.T) {
	cfg := testConfig("https://example.org")
	cfg.Credential = " \r\n "
	_, err := NewClient(cfg, nil)
	require.ErrorIs(t, err, domain.ErrAuth)
}

func searchRows(base string, ids ...int) string {
	var b strings.Builder
	b.WriteString(`<table class="itg gltc"><tr><th>Published</th><th>Title</th></tr>`)
	for _, id := range ids {
		fmt.Fprintf(&b, `<tr><td class="gl3c glname"><a href="%s/g/%d/tok%d/"><div class="glink">g%d</div></a></td></tr>`, base, id, id, id)
	}
	b.WriteString(`</table>`)
	return b.String()
}

func TestSearchPagesPaginates(t *testing.T) {
	var srv *httptest.Server
	var queries []url.Values
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		queries = append(queries, r.URL.Query())
		switch r.URL.Query().Get("next") {
		case "":
			writeHTML(w, searchRows(srv.URL, 30, 20)+`<a id="dnext" href="`+srv.URL+`/?f_cats=0&next=20">Next</a>`)
		case "20":
			writeHTML(w, searchRows(srv.URL, 10))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	var ids []int64
	for ref := range c.SearchPages(context.Background(), url.Values{"f_cats": {"0"}}, "") {
		ids = append(ids, ref.ID)
	}
	assert.Equal(t, []int64{30, 20, 10}, ids)
	require.Len(t, queries, 2)
	assert.Equal(t, "0", queries[0].Get("f_cats"))
}

func TestSearchPagesEndsOnFetchError(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("next") == "" {
			writeHTML(w, searchRows(srv.URL, 2, 1)+`<a id="dnext" href="/?next=1">Next</a>`)
			return
		}
		w.WriteHeader(http.StatusOK) // thin body
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	count := 0
	for range c.SearchPages(context.Background(), nil, "") {
		count++
	}
	assert.Equal(t, 2, count)
}

func TestSearchPagesStopsWhenConsumerBreaks(t *testing.T) {
	var srv *httptest.Server
	calls := 0
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		writeHTML(w, searchRows(srv.URL, 5, 4)+`<a id="dnext" href="/?next=4">Next</a>`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	for ref := range c.SearchPages(context.Background(), nil, "") {
		assert.Equal(t, int64(5), ref.ID)
		break
	}
	assert.Equal(t, 1, calls)
}

func galleryHTML(base string, withNext bool) string {
	next := `<td>&gt;</td>`
	if withNext {
		next = `<td><a href="` + base + `/g/42/abc/?p=1">&gt;</a></td>`
	}
	return `<h1 id="gn">Sample Gallery</h1><h1 id="gj">サンプル</h1>
<div id="gdd"><table>
<tr><td class="gdt1">Posted:</td><td class="gdt2">2024-03-05 10:20</td></tr>
<tr><td class="gdt1">Parent:</td><td class="gdt2"><a href="` + base + `/g/41/def/">41</a></td></tr>
</table></div>
<div id="favcount">1,234 times</div>
<div id="taglist"><table>
<tr><td class="tc">artist:</td><td><div><a>foo</a></div><div><a>bar</a></div></td></tr>
<tr><td class="tc">female:</td><td><div><a>glasses</a></div></td></tr>
</table></div>
<table class="ptb"><tr><td>1</td>` + next + `</tr></table>
<div id="gdt"><a href="` + base + `/s/aaaa000001/42-1">1</a><a href="` + base + `/s/aaaa000002/42-2">2</a></div>`
}

func TestResolveGalleryFollowsContinuationPages(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("p") == "1" {
			writeHTML(w, `<table class="ptb"><tr><td>2</td><td>&gt;</td></tr></table>
<div id="gdt"><a href="`+srv.URL+`/s/aaaa000003/42-3">3</a></div>`)
			return
		}
		writeHTML(w, galleryHTML(srv.URL, true))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	g, err := c.ResolveGallery(context.Background(), domain.GalleryRef{ID: 42, Token: "abc", Cover: 2})
	require.NoError(t, err)

	assert.Equal(t, "Sample Gallery", g.Title)
	assert.Equal(t, "サンプル", g.TitleNative)
	assert.Equal(t, 1234, g.FavoriteCount)
	assert.Equal(t, 2, g.CoverIndex)
	require.NotNil(t, g.Parent)
	assert.Equal(t, int64(41), g.Parent.ID)
	assert.Equal(t, "2024-03-05T10:20:00Z", g.PostedAt.Format("2006-01-02T15:04:05Z07:00"))
	require.Len(t, g.Pages, 3)
	assert.Equal(t, 3, g.Pages[2].Page)
	assert.Equal(t, "aaaa000003", g.Pages[2].ContentHash())
	assert.True(t, g.Tags.Equal(domain.Tags{
		{Namespace: "artist", Values: []string{"foo", "bar"}},
		{Namespace: "female", Values: []string{"glasses"}},
	}))
}

func TestResolveGalleryClassifiesFailures(t *testing.T) {
	cases := map[string]struct {
		handler http.HandlerFunc
		want    error
	}{
		"removed": {
			handler: func(w http.ResponseWriter, _ *http.Request) {
				writeHTML(w, "<p>This gallery has been removed or is unavailable.</p>")
			},
			want: domain.ErrNotFound,
		},
		"thin body": {
			handler: func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("<html></html>")) },
			want:    domain.ErrParse,
		},
		"not html": {
			handler: func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(strings.Repeat("{}", 800)))
			},
			want: domain.ErrParse,
		},
		"login redirect": {
			handler: func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/" {
					http.Redirect(w, r, "/", http.StatusFound)
					return
				}
				writeHTML(w, "front")
			},
			want: domain.ErrAuthExpired,
		},
		"oversized body": {
			handler: func(w http.ResponseWriter, _ *http.Request) {
				writeHTML(w, strings.Repeat("<p>x</p>", maxDocumentBytes/8+1))
			},
			want: domain.ErrParse,
		},
		"missing title": {
			handler: func(w http.ResponseWriter, _ *http.Request) { writeHTML(w, "<div id=gdt></div>") },
			want:    domain.ErrParse,
		},
		"404": {
			handler: func(w http.ResponseWriter, r *http.Request) { http.NotFound(w, r) },
			want:    domain.ErrNotFound,
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(tc.handler)
			defer srv.Close()
			c := newTestClient(t, srv)
			_, err := c.ResolveGallery(context.Background(), domain.GalleryRef{ID: 1, Token: "ff"})
			require.ErrorIs(t, err, tc.want)
		})
	}
}

type imageServer struct {
	original   bool
	standardOK bool
	nl         bool
	downgrade  bool
}

func (s imageServer) start(t *testing.T) *httptest.Server {
	t.Helper()
	var srv *httptest.Server
	mux := http.NewServeMux()
	mux.HandleFunc("/s/aaaa000001/42-1", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("nl") != "" {
			if !s.downgrade {
				writeHTML(w, "<p>no image</p>")
				return
			}
			writeHTML(w, `<img id="img" src="`+srv.URL+`/h/alt/keystamp=1;fileindex=77;xres=org/a.jpg">`)
			return
		}
		var body strings.Builder
		if s.original {
			body.WriteString(`<div id="i6"><div><a href="` + srv.URL + `/fullimg/42/1/key/a.jpg">Download original</a></div></div>`)
		}
		onerror := ""
		if s.nl {
			onerror = ` onerror="this.onerror=null; nl('12345-678')"`
		}
		body.WriteString(`<img id="img" src="` + srv.URL + `/h/std/keystamp=1;fileindex=42;xres=org/a.jpg"` + onerror + `>`)
		writeHTML(w, body.String())
	})
	mux.HandleFunc("/fullimg/42/1/key/a.jpg", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/om/99/full.jpg", http.StatusFound)
	})
	mux.HandleFunc("/om/99/full.jpg", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/h/std/", func(w http.ResponseWriter, r *http.Request) {
		if !s.standardOK {
			http.NotFound(w, r)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	srv = httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestResolveImageURLTiers(t *testing.T) {
	page := domain.PageRef{GalleryID: 42, Page: 1, Token: "aaaa000001"}

	t.Run("original", func(t *testing.T) {
		srv := imageServer{original: true}.start(t)
		idx, u, err := newTestClient(t, srv).ResolveImageURL(context.Background(), page)
		require.NoError(t, err)
		assert.Equal(t, srv.URL+"/om/99/full.jpg", u)
		assert.Equal(t, 99, idx)
	})

	t.Run("standard", func(t *testing.T) {
		srv := imageServer{standardOK: true}.start(t)
		idx, u, err := newTestClient(t, srv).ResolveImageURL(context.Background(), page)
		require.NoError(t, err)
		assert.Contains(t, u, "/h/std/")
		assert.Equal(t, 42, idx)
	})

	t.Run("downgraded", func(t *testing.T) {
		srv := imageServer{nl: true, downgrade: true}.start(t)
		idx, u, err := newTestClient(t, srv).ResolveImageURL(context.Background(), page)
		require.NoError(t, err)
		assert.Contains(t, u, "/h/alt/")
		assert.Equal(t, 77, idx)
	})

	t.Run("exhausted", func(t *testing.T) {
		srv := imageServer{nl: true}.start(t)
		_, _, err := newTestClient(t, srv).ResolveImageURL(context.Background(), page)
		require.ErrorIs(t, err, domain.ErrHotlinkBroken)
	})
}

func TestFileIndex(t *testing.T) {
	assert.Equal(t, 123, fileIndex("https://a.hath.network/h/x/keystamp=1;fileindex=123;xres=org/p.jpg"))
	assert.Equal(t, 9, fileIndex("https://exhentai.org/om/9/abc/x.jpg"))
	assert.Equal(t, 0, fileIndex("https://example.org/p.jpg"))
}
