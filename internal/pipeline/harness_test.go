package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"iter"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/samvad-hq/samvad-gallery-mirror/internal/domain"
	"github.com/samvad-hq/samvad-gallery-mirror/internal/retry"
	"github.com/samvad-hq/samvad-gallery-mirror/internal/storage"
	"github.com/samvad-hq/samvad-gallery-mirror/pkg/httpclient"
	"github.com/samvad-hq/samvad-gallery-mirror/pkg/publishers"
)

var testNow = time.Date(2024, 5, 6, 12, 0, 0, 0, time.UTC)

type fakeSource struct {
	mu        sync.Mutex
	base      string
	galleries map[int64]domain.Gallery
	feed      []domain.GalleryRef
	broken    map[string]bool
	fileIndex map[string]int

	galleryCalls int
	imageCalls   int
}

func (f *fakeSource) SearchPages(_ context.Context, _ url.Values, _ string) iter.Seq[domain.GalleryRef] {
	return func(yield func(domain.GalleryRef) bool) {
		for _, ref := range f.feed {
			if !yield(ref) {
				return
			}
		}
	}
}

func (f *fakeSource) ResolveGallery(_ context.Context, ref domain.GalleryRef) (domain.Gallery, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.galleryCalls++
	g, ok := f.galleries[ref.ID]
	if !ok {
		return domain.Gallery{}, domain.ErrNotFound
	}
	return g, nil
}

func (f *fakeSource) ResolveImageURL(_ context.Context, page domain.PageRef) (int, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.imageCalls++
	if f.broken[page.Token] {
		return 0, "", domain.ErrHotlinkBroken
	}
	return f.fileIndex[page.Token], f.base + "/img/" + page.Token + ".png", nil
}

func (f *fakeSource) GalleryURL(ref domain.GalleryRef) string {
	return ref.URL("https://exhentai.org")
}

func (f *fakeSource) calls() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.galleryCalls, f.imageCalls
}

type fakeStore struct {
	mu          sync.Mutex
	uploads     []string
	reject      func(name string) bool
	delay       time.Duration
	inFlight    int
	maxInFlight int
}

func (f *fakeStore) Upload(_ context.Context, name string, _ []byte) (string, error) {
	f.mu.Lock()
	f.inFlight++
	f.maxInFlight = max(f.maxInFlight, f.inFlight)
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.inFlight--
		f.mu.Unlock()
	}()

	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.reject != nil && f.reject(name) {
		return "", errors.New("backend refused " + name)
	}
	f.mu.Lock()
	f.uploads = append(f.uploads, name)
	f.mu.Unlock()
	return "https://cdn.test/" + name, nil
}

func (f *fakeStore) names() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.uploads...)
}

type fakeArticles struct {
	mu    sync.Mutex
	base  string
	calls int
	err   error
}

func (f *fakeArticles) Publish(_ context.Context, g domain.GalleryEntity) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.calls++
	return fmt.Sprintf("%s/article/g%d-%d", f.base, g.ID, f.calls), nil
}

type sentMessage struct {
	chat    string
	replyTo int64
	text    string
}

type editedMessage struct {
	chat string
	id   int64
	text string
}

type fakeMessenger struct {
	mu     sync.Mutex
	next   int64
	sent   []sentMessage
	edited []editedMessage
}

func (f *fakeMessenger) Send(ctx context.Context, chat, text string) (int64, error) {
	return f.Reply(ctx, chat, 0, text)
}

func (f *fakeMessenger) Reply(_ context.Context, chat string, replyTo int64, text string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	f.sent = append(f.sent, sentMessage{chat: chat, replyTo: replyTo, text: text})
	return 100 + f.next, nil
}

func (f *fakeMessenger) Edit(_ context.Context, chat string, id int64, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edited = append(f.edited, editedMessage{chat: chat, id: id, text: text})
	return nil
}

type recordingSink struct {
	mu     sync.Mutex
	events []publishers.Event
}

func (r *recordingSink) Publish(_ context.Context, evt publishers.Event) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
	return 1, nil
}

func (r *recordingSink) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

// origin serves source images, transform responses and article probes.
type origin struct {
	srv       *httptest.Server
	mu        sync.RWMutex
	images    map[string][]byte
	transform func(w http.ResponseWriter, r *http.Request)
	goneURLs  sync.Map
	hits      atomic.Int64
	transHits atomic.Int64
}

func newOrigin(t *testing.T) *origin {
	t.Helper()
	o := &origin{images: map[string][]byte{}}
	mux := http.NewServeMux()
	mux.HandleFunc("/img/", func(w http.ResponseWriter, r *http.Request) {
		o.hits.Add(1)
		token := strings.TrimSuffix(path.Base(r.URL.Path), ".png")
		o.mu.RLock()
		data, ok := o.images[token]
		o.mu.RUnlock()
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		if r.Method == http.MethodHead {
			return
		}
		_, _ = w.Write(data)
	})
	mux.HandleFunc("/transform", func(w http.ResponseWriter, r *http.Request) {
		o.hits.Add(1)
		o.transHits.Add(1)
		if o.transform == nil {
			http.Error(w, "no transform", http.StatusBadGateway)
			return
		}
		o.transform(w, r)
	})
	mux.HandleFunc("/article/", func(w http.ResponseWriter, r *http.Request) {
		if _, gone := o.goneURLs.Load(r.URL.Path); gone {
			http.NotFound(w, r)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	o.srv = httptest.NewServer(mux)
	t.Cleanup(o.srv.Close)
	return o
}

// pngBytes renders a noisy image so encoded sizes differ per seed.
func pngBytes(t *testing.T, size, seed int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			v := uint8((x*31 + y*17 + seed*7) % 251)
			img.Set(x, y, color.RGBA{R: v, G: 255 - v, B: uint8(seed), A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

type harness struct {
	t        *testing.T
	origin   *origin
	source   *fakeSource
	store    *fakeStore
	ledger   storage.Ledger
	articles *fakeArticles
	msg      *fakeMessenger
	events   *recordingSink
	progress []domain.Progress
	progMu   sync.Mutex
	opts     Options
	p        *Pipeline
}

func newHarness(t *testing.T, tweak func(*Options)) *harness {
	t.Helper()
	o := newOrigin(t)
	ledger, err := storage.NewLedger("bbolt", storage.Options{BBoltPath: filepath.Join(t.TempDir(), "ledger.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = ledger.Close() })

	h := &harness{
		t:      t,
		origin: o,
		source: &fakeSource{
			base:      o.srv.URL,
			galleries: map[int64]domain.Gallery{},
			broken:    map[string]bool{},
			fileIndex: map[string]int{},
		},
		store:    &fakeStore{},
		ledger:   ledger,
		articles: &fakeArticles{base: o.srv.URL},
		msg:      &fakeMessenger{},
		events:   &recordingSink{},
	}
	h.opts = Options{
		ChannelID:          "@mirror",
		SearchCap:          10,
		Workers:            2,
		CompressThreshold:  1 << 20,
		MaxPayload:         1 << 22,
		MinImage:           10,
		TransformPrimary:   o.srv.URL + "/transform",
		TransformAlternate: o.srv.URL + "/transform",
		NetworkRetry:       retry.Policy{MaxAttempts: 1},
		LogicRetry:         retry.Policy{MaxAttempts: 1},
	}
	if tweak != nil {
		tweak(&h.opts)
	}
	h.rebuild()
	return h
}

func (h *harness) rebuild() {
	p, err := New(Deps{
		Source:    h.source,
		Store:     h.store,
		Ledger:    h.ledger,
		Articles:  h.articles,
		Messenger: h.msg,
		HTTP:      httpclient.NewRestyClient(5 * time.Second),
		Events:    h.events,
		Observer: ObserverFunc(func(p domain.Progress) {
			h.progMu.Lock()
			h.progress = append(h.progress, p)
			h.progMu.Unlock()
		}),
		Now: func() time.Time { return testNow },
	}, h.opts)
	require.NoError(h.t, err)
	h.p = p
}

// addGallery registers a gallery whose pages use the given tokens.
func (h *harness) addGallery(id int64, title string, tokens ...string) domain.GalleryRef {
	ref := domain.GalleryRef{ID: id, Token: fmt.Sprintf("tok%d", id)}
	g := domain.Gallery{Ref: ref, Title: title, PostedAt: testNow.Add(-time.Hour)}
	g.Tags = g.Tags.Add("artist", "someone")
	for i, tok := range tokens {
		g.Pages = append(g.Pages, domain.PageRef{GalleryID: id, Page: i + 1, Token: tok})
		h.origin.mu.Lock()
		if _, ok := h.origin.images[tok]; !ok {
			n := len(h.origin.images)
			h.origin.images[tok] = pngBytes(h.t, 16+n, n+1)
		}
		h.origin.mu.Unlock()
	}
	h.source.galleries[id] = g
	return ref
}

func (h *harness) pages(id int64) []domain.PageMapping {
	h.t.Helper()
	pages, err := h.ledger.GalleryPages(context.Background(), id)
	require.NoError(h.t, err)
	return pages
}

func (h *harness) images(id int64) []domain.Image {
	h.t.Helper()
	imgs, err := h.ledger.GalleryImages(context.Background(), id)
	require.NoError(h.t, err)
	return imgs
}
