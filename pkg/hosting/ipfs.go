package hosting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/samvad-hq/samvad-gallery-mirror/internal/logger"
	"github.com/samvad-hq/samvad-gallery-mirror/pkg/httpclient"
)

type ipfsBackend struct {
	id          string
	endpoint    string
	gatewayHost string
	gatewayDate string
	client      *resty.Client
	log         logger.Logger
}

type ipfsAddResponse struct {
	Name string `json:"Name"`
	Hash string `json:"Hash"`
}

func newIPFSBackend(_ context.Context, cfg BackendConfig, log logger.Logger) (Backend, error) {
	if cfg.IPFS == nil {
		return nil, fmt.Errorf("backend %q missing ipfs configuration", cfg.ID)
	}
	return &ipfsBackend{
		id:          cfg.ID,
		endpoint:    cfg.IPFS.Endpoint,
		gatewayHost: cfg.IPFS.GatewayHost,
		gatewayDate: cfg.IPFS.GatewayDate,
		client:      httpclient.NewRestyHTTPClient(time.Duration(cfg.IPFS.TimeoutSeconds) * time.Second),
		log:         logger.Ensure(log),
	}, nil
}

func (b *ipfsBackend) ID() string   { return b.id }
func (b *ipfsBackend) Type() string { return TypeIPFS }

func (b *ipfsBackend) Upload(ctx context.Context, name string, data []byte) (string, error) {
	resp, err := b.client.R().
		SetContext(ctx).
		SetFileReader("file", name, bytes.NewReader(data)).
		Post(b.endpoint)
	if err != nil {
		return "", fmt.Errorf("ipfs add: %w", err)
	}
	if resp.IsError() {
		return "", &httpclient.StatusError{Code: resp.StatusCode(), URL: b.endpoint, Snippet: httpclient.Snippet(resp.Body())}
	}

	var added ipfsAddResponse
	if err := json.Unmarshal(resp.Body(), &added); err != nil {
		return "", fmt.Errorf("decode ipfs response: %w", err)
	}
	if added.Hash == "" {
		return "", fmt.Errorf("ipfs response missing hash: %s", httpclient.Snippet(resp.Body()))
	}
	b.log.DebugObj("ipfs upload stored", "hosting_upload", map[string]any{
		"backend": b.id,
		"hash":    added.Hash,
		"bytes":   len(data),
	})
	return b.gatewayURL(added.Hash, name), nil
}

func (b *ipfsBackend) gatewayURL(hash, name string) string {
	var sb strings.Builder
	sb.WriteString(strings.TrimRight(b.gatewayHost, "/"))
	sb.WriteString("/")
	sb.WriteString(hash)
	sb.WriteString("/?")
	if b.gatewayDate != "" {
		sb.WriteString(b.gatewayDate)
		sb.WriteString("&")
	}
	sb.WriteString("filename=")
	sb.WriteString(url.QueryEscape(name))
	return sb.String()
}
