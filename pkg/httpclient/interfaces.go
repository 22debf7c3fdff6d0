package httpclient

import (
	"context"
	"fmt"
	"net/http"
	"strings"
)

// Response is a minimal HTTP response contract.
type Response interface {
	Body() []byte
	StatusCode() int
	Header() http.Header
	// FinalURL is the request URL after redirects were followed.
	FinalURL() string
}

// Client abstracts HTTP calls so callers can inject mocks or different transports.
type Client interface {
	Get(ctx context.Context, url string, headers map[string]string) (Response, error)
	Head(ctx context.Context, url string, headers map[string]string) (Response, error)
}

// StatusError reports a non-2xx response.
type StatusError struct {
	Code    int
	URL     string
	Snippet string
}

func (e *StatusError) Error() string {
	if e.Snippet == "" {
		return fmt.Sprintf("%s returned status %d", e.URL, e.Code)
	}
	return fmt.Sprintf("%s returned status %d: %s", e.URL, e.Code, e.Snippet)
}

// CheckStatus returns a *StatusError unless resp is 2xx.
func CheckStatus(resp Response, url string) error {
	code := resp.StatusCode()
	if code >= 200 && code < 300 {
		return nil
	}
	return &StatusError{Code: code, URL: url, Snippet: Snippet(resp.Body())}
}

// Snippet trims body to a short loggable prefix.
func Snippet(body []byte) string {
	const maxLen = 512
	s := strings.TrimSpace(string(body))
	if len(s) > maxLen {
		return s[:maxLen] + "..."
	}
	return s
}
