package article

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/samvad-hq/samvad-gallery-mirror/internal/domain"
	"github.com/samvad-hq/samvad-gallery-mirror/pkg/httpclient"
)

// Node is one element of a Telegraph content tree. Text nodes are plain strings.
type Node struct {
	Tag      string            `json:"tag"`
	Attrs    map[string]string `json:"attrs,omitempty"`
	Children []any             `json:"children,omitempty"`
}

// Page is the subset of a created page the publisher needs.
type Page struct {
	Path  string `json:"path"`
	URL   string `json:"url"`
	Title string `json:"title"`
}

// Telegraph is a client for the telegra.ph page API.
type Telegraph struct {
	base       string
	token      string
	authorName string
	authorURL  string
	client     *resty.Client
}

type apiResponse struct {
	OK     bool            `json:"ok"`
	Result json.RawMessage `json:"result"`
	Error  string          `json:"error"`
}

// TelegraphConfig holds account settings for page creation.
type TelegraphConfig struct {
	APIURL     string
	Token      string
	AuthorName string
	AuthorURL  string
	Timeout    time.Duration
}

// NewTelegraph builds a page API client.
func NewTelegraph(cfg TelegraphConfig) (*Telegraph, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, fmt.Errorf("article token is required")
	}
	base := strings.TrimRight(strings.TrimSpace(cfg.APIURL), "/")
	if base == "" {
		base = "https://api.telegra.ph"
	}
	return &Telegraph{
		base:       base,
		token:      strings.TrimSpace(cfg.Token),
		authorName: cfg.AuthorName,
		authorURL:  cfg.AuthorURL,
		client:     httpclient.NewRestyHTTPClient(cfg.Timeout),
	}, nil
}

// CreatePage publishes a new page.
func (t *Telegraph) CreatePage(ctx context.Context, title string, content []Node) (Page, error) {
	return t.call(ctx, "createPage", title, content)
}

// EditPage rewrites the page at path.
func (t *Telegraph) EditPage(ctx context.Context, path, title string, content []Node) (Page, error) {
	return t.call(ctx, "editPage/"+path, title, content)
}

func (t *Telegraph) call(ctx context.Context, method, title string, content []Node) (Page, error) {
	body, err := json.Marshal(content)
	if err != nil {
		return Page{}, fmt.Errorf("encode content: %w", err)
	}

	var out apiResponse
	resp, err := t.client.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"access_token":   t.token,
			"title":          truncate(title, 256),
			"author_name":    t.authorName,
			"author_url":     t.authorURL,
			"content":        string(body),
			"return_content": "false",
		}).
		SetResult(&out).
		Post(t.base + "/" + method)
	if err != nil {
		return Page{}, fmt.Errorf("%s: %w", method, err)
	}
	if err := httpclient.CheckStatus(restyResponse{resp}, t.base+"/"+method); err != nil {
		return Page{}, err
	}
	if !out.OK {
		if strings.HasPrefix(out.Error, "FLOOD_WAIT") {
			return Page{}, fmt.Errorf("%s: %w: %s", method, domain.ErrTransient, out.Error)
		}
		return Page{}, fmt.Errorf("%s: %s", method, out.Error)
	}

	var page Page
	if err := json.Unmarshal(out.Result, &page); err != nil {
		return Page{}, fmt.Errorf("decode %s result: %w", method, err)
	}
	return page, nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// restyResponse satisfies httpclient.Response for status checks.
type restyResponse struct{ *resty.Response }

func (r restyResponse) FinalURL() string { return r.Request.URL }
