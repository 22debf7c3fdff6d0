package hosting

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/samvad-hq/samvad-gallery-mirror/internal/logger"
	"github.com/samvad-hq/samvad-gallery-mirror/pkg/httpclient"
)

type teletypeBackend struct {
	id       string
	endpoint string
	token    string
	client   *resty.Client
}

func newTeletypeBackend(_ context.Context, cfg BackendConfig, _ logger.Logger) (Backend, error) {
	if cfg.Teletype == nil {
		return nil, fmt.Errorf("backend %q missing teletype configuration", cfg.ID)
	}
	return &teletypeBackend{
		id:       cfg.ID,
		endpoint: cfg.Teletype.Endpoint,
		token:    cfg.Teletype.Token,
		client:   httpclient.NewRestyHTTPClient(time.Duration(cfg.Teletype.TimeoutSeconds) * time.Second),
	}, nil
}

func (b *teletypeBackend) ID() string   { return b.id }
func (b *teletypeBackend) Type() string { return TypeTeletype }

// Upload answers with the public URL as plain text.
func (b *teletypeBackend) Upload(ctx context.Context, name string, data []byte) (string, error) {
	resp, err := b.client.R().
		SetContext(ctx).
		SetHeader("Authorization", b.token).
		SetFormData(map[string]string{"type": "images"}).
		SetFileReader("file", name, bytes.NewReader(data)).
		Put(b.endpoint)
	if err != nil {
		return "", fmt.Errorf("teletype upload: %w", err)
	}
	if resp.IsError() {
		return "", &httpclient.StatusError{Code: resp.StatusCode(), URL: b.endpoint, Snippet: httpclient.Snippet(resp.Body())}
	}
	url := strings.TrimSpace(resp.String())
	if !strings.HasPrefix(url, "http") {
		return "", fmt.Errorf("teletype returned unexpected body: %s", httpclient.Snippet(resp.Body()))
	}
	return url, nil
}
