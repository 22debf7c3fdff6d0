package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/klauspost/compress/zstd"
	"golang.org/x/time/rate"

	"github.com/samvad-hq/samvad-gallery-mirror/internal/domain"
	"github.com/samvad-hq/samvad-gallery-mirror/internal/logger"
	"github.com/samvad-hq/samvad-gallery-mirror/internal/retry"
	"github.com/samvad-hq/samvad-gallery-mirror/pkg/httpclient"
)

const (
	// minDocumentBytes is the smallest body accepted as a real page. The source answers
	// rejected sessions with an empty 200.
	minDocumentBytes = 1000
	maxDocumentBytes = 8 << 20 // 8 MiB
)

var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

// Config describes how to reach the gallery source.
type Config struct {
	BaseURL           string
	Credential        string
	UserAgent         string
	Timeout           time.Duration
	ConnectTimeout    time.Duration
	RequestsPerSecond float64
	Retry             retry.Policy
}

// Client is an authenticated session against the gallery source.
type Client struct {
	base    string
	http    httpclient.Client
	limiter *rate.Limiter
	retry   retry.Policy
	zstd    *zstd.Decoder
	log     logger.Logger
}

// Authenticate builds a session from cfg.Credential and runs the warm-up handshake:
// home page, settings page, tag page, then a re-verification of the home page.
func Authenticate(ctx context.Context, cfg Config, log logger.Logger) (*Client, error) {
	c, err := NewClient(cfg, log)
	if err != nil {
		return nil, err
	}
	if err := c.handshake(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// NewClient builds a session without running the handshake.
func NewClient(cfg Config, log logger.Logger) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	baseURL, err := url.Parse(base)
	if err != nil || baseURL.Scheme == "" || baseURL.Host == "" {
		return nil, fmt.Errorf("invalid source base url %q", cfg.BaseURL)
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}
	cookies, err := parseCredential(cfg.Credential)
	if err != nil {
		return nil, err
	}
	jar.SetCookies(baseURL, cookies)

	headers := map[string]string{
		"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8",
		"Accept-Language": "en-US,en;q=0.9",
		"Referer":         base + "/",
	}
	if ua := strings.TrimSpace(cfg.UserAgent); ua != "" {
		headers["User-Agent"] = ua
	}
	client := httpclient.NewRestyClientWithOptions(httpclient.Options{
		Timeout:        cfg.Timeout,
		ConnectTimeout: cfg.ConnectTimeout,
		Jar:            jar,
		Headers:        headers,
	})

	return newClient(base, client, cfg, log)
}

func newClient(base string, client httpclient.Client, cfg Config, log logger.Logger) (*Client, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	policy := cfg.Retry
	if policy.MaxAttempts <= 0 {
		policy = retry.Network(0)
	}
	return &Client{
		base:    base,
		http:    client,
		limiter: rate.NewLimiter(limit, 1),
		retry:   policy,
		zstd:    dec,
		log:     logger.Ensure(log),
	}, nil
}

// BaseURL returns the source origin without a trailing slash.
func (c *Client) BaseURL() string { return c.base }

// GalleryURL returns the public URL of a gallery.
func (c *Client) GalleryURL(ref domain.GalleryRef) string { return ref.URL(c.base) }

// NormalizeCredential strips line breaks and stray whitespace from a cookie string.
func NormalizeCredential(raw string) string {
	raw = strings.NewReplacer("\r", "", "\n", "", "\t", "").Replace(raw)
	parts := strings.Split(raw, ";")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, "; ")
}

func parseCredential(raw string) ([]*http.Cookie, error) {
	norm := NormalizeCredential(raw)
	if norm == "" {
		return nil, fmt.Errorf("%w: empty credential", domain.ErrAuth)
	}
	cookies, err := http.ParseCookie(norm)
	if err != nil {
		return nil, fmt.Errorf("%w: parse credential: %v", domain.ErrAuth, err)
	}
	return cookies, nil
}

func (c *Client) handshake(ctx context.Context) error {
	for _, path := range []string{"/", "/uconfig.php", "/mytags"} {
		if _, err := c.get(ctx, c.base+path); err != nil {
			return fmt.Errorf("%w: warm-up %s: %w", domain.ErrAuth, path, err)
		}
	}

	resp, err := c.get(ctx, c.base+"/")
	if err != nil {
		return fmt.Errorf("%w: verify session: %w", domain.ErrAuth, err)
	}
	if isLoginRedirect("/", resp.FinalURL()) {
		return fmt.Errorf("%w: redirected to %s", domain.ErrAuth, resp.FinalURL())
	}
	body, err := c.decodeBody(resp)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrAuth, err)
	}
	if len(body) < minDocumentBytes {
		return fmt.Errorf("%w: verification body too short (%d bytes)", domain.ErrAuth, len(body))
	}
	c.log.InfoObj("source session established", "source_session", map[string]any{
		"base_url": c.base,
	})
	return nil
}

// get performs a rate-limited GET with retries on transient failures.
func (c *Client) get(ctx context.Context, rawURL string) (httpclient.Response, error) {
	return retry.DoValue(ctx, c.retry, func(ctx context.Context) (httpclient.Response, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		resp, err := c.http.Get(ctx, rawURL, nil)
		if err != nil {
			return nil, fmt.Errorf("get %s: %w", rawURL, err)
		}
		if resp.StatusCode() == http.StatusNotFound {
			return nil, fmt.Errorf("%w: %s returned 404", domain.ErrNotFound, rawURL)
		}
		if err := httpclient.CheckStatus(resp, rawURL); err != nil {
			return nil, err
		}
		return resp, nil
	})
}

// probe checks that rawURL answers a HEAD with 2xx after redirects and returns the final URL.
func (c *Client) probe(ctx context.Context, rawURL string, limited bool) (string, error) {
	return retry.DoValue(ctx, c.retry, func(ctx context.Context) (string, error) {
		if limited {
			if err := c.limiter.Wait(ctx); err != nil {
				return "", err
			}
		}
		resp, err := c.http.Head(ctx, rawURL, nil)
		if err != nil {
			return "", fmt.Errorf("head %s: %w", rawURL, err)
		}
		if err := httpclient.CheckStatus(resp, rawURL); err != nil {
			return "", err
		}
		return resp.FinalURL(), nil
	})
}

// fetchDocument fetches and validates an HTML page from the source.
func (c *Client) fetchDocument(ctx context.Context, rawURL string) (*goquery.Document, error) {
	resp, err := c.get(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	requested := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		requested = u.Path
	}
	if isLoginRedirect(requested, resp.FinalURL()) {
		return nil, fmt.Errorf("%w: %s redirected to %s", domain.ErrAuthExpired, rawURL, resp.FinalURL())
	}
	body, err := c.decodeBody(resp)
	if err != nil {
		return nil, err
	}
	if err := validateDocument(body); err != nil {
		return nil, fmt.Errorf("%s: %w", rawURL, err)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: parse html: %v", domain.ErrParse, err)
	}
	return doc, nil
}

func (c *Client) decodeBody(resp httpclient.Response) ([]byte, error) {
	body := resp.Body()
	encoded := strings.Contains(strings.ToLower(resp.Header().Get("Content-Encoding")), "zstd")
	if encoded || bytes.HasPrefix(body, zstdMagic) {
		out, err := c.zstd.DecodeAll(body, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: zstd body: %v", domain.ErrParse, err)
		}
		body = out
	}
	if len(body) > maxDocumentBytes {
		return nil, fmt.Errorf("%w: body too large (%d bytes)", domain.ErrParse, len(body))
	}
	return body, nil
}

var removalMarkers = []string{
	"This gallery has been removed",
	"Gallery not found",
	"Key missing, or incorrect key provided",
}

// validateDocument classifies thin or garbled bodies before any field extraction.
func validateDocument(body []byte) error {
	for _, marker := range removalMarkers {
		if bytes.Contains(body, []byte(marker)) {
			return fmt.Errorf("%w: %s", domain.ErrNotFound, marker)
		}
	}
	if len(body) < minDocumentBytes {
		return fmt.Errorf("%w: body too short (%d bytes): %s", domain.ErrParse, len(body), httpclient.Snippet(body))
	}
	head := bytes.ToLower(bytes.TrimSpace(body[:min(len(body), 64)]))
	if !bytes.HasPrefix(head, []byte("<!doctype html")) && !bytes.HasPrefix(head, []byte("<html")) {
		return fmt.Errorf("%w: body is not an html document", domain.ErrParse)
	}
	return nil
}

// isLoginRedirect reports whether a request for requestedPath landed on a login page or the site root.
func isLoginRedirect(requestedPath, finalURL string) bool {
	u, err := url.Parse(finalURL)
	if err != nil {
		return false
	}
	if strings.Contains(strings.ToLower(u.Path+"?"+u.RawQuery), "login") {
		return true
	}
	requestedPath = strings.TrimSpace(requestedPath)
	if requestedPath == "" || requestedPath == "/" {
		return false
	}
	return u.Path == "" || u.Path == "/"
}

// Close releases decoder resources.
func (c *Client) Close() {
	if c != nil && c.zstd != nil {
		c.zstd.Close()
	}
}

var errNoCandidate = errors.New("no candidate url on page")
