package hosting

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samvad-hq/samvad-gallery-mirror/internal/domain"
	"github.com/samvad-hq/samvad-gallery-mirror/internal/logger"
	"github.com/samvad-hq/samvad-gallery-mirror/internal/retry"
)

type stubBackend struct {
	id    string
	url   string
	errs  []error
	calls int
}

func (s *stubBackend) ID() string   { return s.id }
func (s *stubBackend) Type() string { return "stub" }

func (s *stubBackend) Upload(_ context.Context, name string, _ []byte) (string, error) {
	s.calls++
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		return "", err
	}
	return s.url + "/" + name, nil
}

func fastPolicy(attempts int) retry.Policy {
	return retry.Policy{MaxAttempts: attempts, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}
}

func TestStoreFallsBackInOrder(t *testing.T) {
	first := &stubBackend{id: "a", errs: []error{errors.New("rejected")}}
	second := &stubBackend{id: "b", url: "https://b.example"}
	store := NewStore([]Backend{first, nil, second}, fastPolicy(3), logger.NopLogger{})

	url, err := store.Upload(context.Background(), "x.png", []byte("data"))
	require.NoError(t, err)
	assert.Equal(t, "https://b.example/x.png", url)
	assert.Equal(t, 1, first.calls, "permanent errors are not retried")
	assert.Equal(t, 2, store.Size())
}

func TestStoreRetriesTransientErrors(t *testing.T) {
	b := &stubBackend{id: "a", url: "https://a.example", errs: []error{domain.ErrTransient, domain.ErrTransient}}
	store := NewStore([]Backend{b}, fastPolicy(3), nil)

	url, err := store.Upload(context.Background(), "y.jpg", []byte("data"))
	require.NoError(t, err)
	assert.Equal(t, "https://a.example/y.jpg", url)
	assert.Equal(t, 3, b.calls)
}

func TestStoreAllBackendsFail(t *testing.T) {
	store := NewStore([]Backend{
		&stubBackend{id: "a", errs: []error{errors.New("one")}},
		&stubBackend{id: "b", errs: []error{errors.New("two")}},
	}, fastPolicy(1), nil)

	_, err := store.Upload(context.Background(), "z.png", []byte("data"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "one")
	assert.Contains(t, err.Error(), "two")

	_, err = NewStore(nil, fastPolicy(1), nil).Upload(context.Background(), "z.png", nil)
	assert.Error(t, err)
}

func TestLimitedRejectsOversizedPayload(t *testing.T) {
	inner := &stubBackend{id: "a", url: "https://a.example"}
	l := limited{Backend: inner, maxBytes: 4}

	_, err := l.Upload(context.Background(), "big", []byte("12345"))
	assert.ErrorIs(t, err, ErrPayloadTooLarge)
	assert.Zero(t, inner.calls)

	url, err := l.Upload(context.Background(), "ok", []byte("1234"))
	require.NoError(t, err)
	assert.Equal(t, "https://a.example/ok", url)
}

func TestIPFSUploadBuildsGatewayURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		file, header, err := r.FormFile("file")
		if !assert.NoError(t, err) {
			http.Error(w, "no file", http.StatusBadRequest)
			return
		}
		defer file.Close()
		body, _ := io.ReadAll(file)
		assert.Equal(t, "img-bytes", string(body))
		assert.Equal(t, "abc.webp", header.Filename)
		_, _ = io.WriteString(w, `{"Name":"abc.webp","Hash":"QmHash"}`)
	}))
	defer srv.Close()

	b, err := newIPFSBackend(context.Background(), BackendConfig{
		ID:   "ipfs",
		Type: TypeIPFS,
		IPFS: &IPFSConfig{Endpoint: srv.URL, GatewayHost: "https://gw.example/ipfs/", GatewayDate: "d=2024", TimeoutSeconds: 2},
	}, nil)
	require.NoError(t, err)

	url, err := b.Upload(context.Background(), "abc.webp", []byte("img-bytes"))
	require.NoError(t, err)
	assert.Equal(t, "https://gw.example/ipfs/QmHash/?d=2024&filename=abc.webp", url)
}

func TestIPFSUploadReportsStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "busy", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	b, err := newIPFSBackend(context.Background(), BackendConfig{
		ID: "ipfs", Type: TypeIPFS,
		IPFS: &IPFSConfig{Endpoint: srv.URL, GatewayHost: "https://gw.example", TimeoutSeconds: 2},
	}, nil)
	require.NoError(t, err)

	_, err = b.Upload(context.Background(), "a.png", []byte("x"))
	require.Error(t, err)
	assert.True(t, retry.IsTransient(err))
}

func TestTeletypeUploadReturnsBodyURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "secret", r.Header.Get("Authorization"))
		assert.Equal(t, "images", r.FormValue("type"))
		_, _ = io.WriteString(w, "https://img.teletype.in/files/a.png\n")
	}))
	defer srv.Close()

	b, err := newTeletypeBackend(context.Background(), BackendConfig{
		ID: "tt", Type: TypeTeletype,
		Teletype: &TeletypeConfig{Endpoint: srv.URL, Token: "secret", TimeoutSeconds: 2},
	}, nil)
	require.NoError(t, err)

	url, err := b.Upload(context.Background(), "a.png", []byte("x"))
	require.NoError(t, err)
	assert.Equal(t, "https://img.teletype.in/files/a.png", url)
}

type fakeS3Client struct {
	input *s3.PutObjectInput
	err   error
}

func (f *fakeS3Client) PutObject(_ context.Context, params *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.input = params
	if f.err != nil {
		return nil, f.err
	}
	return &s3.PutObjectOutput{}, nil
}

func TestS3UploadUsesPrefixAndPublicURL(t *testing.T) {
	client := &fakeS3Client{}
	b := &s3Backend{id: "s3", bucket: "mirror", prefix: "img", publicURL: "https://cdn.example", client: client, log: logger.NopLogger{}}

	url, err := b.Upload(context.Background(), "h.png", []byte("\x89PNG\r\n\x1a\n"))
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example/img/h.png", url)
	require.NotNil(t, client.input)
	assert.Equal(t, "mirror", aws.ToString(client.input.Bucket))
	assert.Equal(t, "img/h.png", aws.ToString(client.input.Key))
	assert.Equal(t, "image/png", aws.ToString(client.input.ContentType))

	client.err = errors.New("denied")
	_, err = b.Upload(context.Background(), "h.png", []byte("x"))
	assert.ErrorContains(t, err, "denied")
}

func TestParseConfigsFiltersDisabledAndValidates(t *testing.T) {
	raw := `
backends:
  - id: primary
    type: ipfs
    max_bytes: 5000000
    ipfs:
      gateway_host: https://gw.example
  - id: off
    type: teletype
    enabled: false
    teletype:
      token: t
  - id: bucket
    type: s3
    s3:
      bucket: b
      region: us-east-1
      public_url: https://cdn.example/
      prefix: /gallery/
`
	cfgs, err := ParseConfigs([]byte(raw), ".yaml")
	require.NoError(t, err)
	require.Len(t, cfgs, 2)
	assert.Equal(t, "primary", cfgs[0].ID)
	assert.Equal(t, defaultIPFSEndpoint, cfgs[0].IPFS.Endpoint)
	assert.Equal(t, defaultTimeoutSeconds, cfgs[0].IPFS.TimeoutSeconds)
	assert.Equal(t, "https://cdn.example", cfgs[1].S3.PublicURL)
	assert.Equal(t, "gallery", cfgs[1].S3.Prefix)

	_, err = ParseConfigs([]byte(`{"backends":[{"id":"x","type":"ipfs","ipfs":{}}]}`), ".json")
	assert.ErrorContains(t, err, "gateway_host")

	_, err = ParseConfigs([]byte("backends:\n  - id: a\n    type: ipfs\n    ipfs: {gateway_host: g}\n  - id: a\n    type: ipfs\n    ipfs: {gateway_host: g}\n"), ".yml")
	assert.ErrorContains(t, err, "duplicate")
}

func TestRegistryAppliesSizeCap(t *testing.T) {
	reg := NewRegistry(map[string]Builder{
		"stub": func(context.Context, BackendConfig, logger.Logger) (Backend, error) {
			return &stubBackend{id: "s", url: "u"}, nil
		},
	})
	backends, err := BuildAll(context.Background(), reg, []BackendConfig{{ID: "s", Type: "STUB", MaxBytes: 2}}, nil)
	require.NoError(t, err)
	require.Len(t, backends, 1)

	_, err = backends[0].Upload(context.Background(), "n", []byte("abc"))
	assert.ErrorIs(t, err, ErrPayloadTooLarge)

	_, err = BuildAll(context.Background(), reg, []BackendConfig{{ID: "x", Type: "missing"}}, nil)
	assert.True(t, err != nil && strings.Contains(err.Error(), "missing"))
}
