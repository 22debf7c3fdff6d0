// Package hosting uploads mirrored images to public hosting backends.
package hosting

import (
	"context"
	"errors"
	"fmt"

	"github.com/samvad-hq/samvad-gallery-mirror/internal/logger"
	"github.com/samvad-hq/samvad-gallery-mirror/internal/retry"
)

// ErrPayloadTooLarge is returned when a backend's size cap rejects a payload.
var ErrPayloadTooLarge = errors.New("payload exceeds backend limit")

// Backend accepts a named payload and returns its durable public URL.
type Backend interface {
	ID() string
	Type() string
	Upload(ctx context.Context, name string, data []byte) (string, error)
}

// Store tries backends in order and returns the first durable URL.
type Store struct {
	backends []Backend
	retry    retry.Policy
	log      logger.Logger
}

// NewStore builds a Store over backends in priority order.
func NewStore(backends []Backend, policy retry.Policy, log logger.Logger) *Store {
	cp := make([]Backend, 0, len(backends))
	for _, b := range backends {
		if b != nil {
			cp = append(cp, b)
		}
	}
	return &Store{backends: cp, retry: policy, log: logger.Ensure(log)}
}

// Upload stores data under name. Backend fallback is invisible to callers.
func (s *Store) Upload(ctx context.Context, name string, data []byte) (string, error) {
	if s == nil || len(s.backends) == 0 {
		return "", fmt.Errorf("no hosting backends configured")
	}

	var errs []error
	for _, b := range s.backends {
		url, err := retry.DoValue(ctx, s.retry, func(ctx context.Context) (string, error) {
			return b.Upload(ctx, name, data)
		})
		if err == nil {
			if len(errs) > 0 {
				s.log.InfoObj("upload served by fallback backend", "hosting_fallback", map[string]any{
					"backend": b.ID(),
					"name":    name,
				})
			}
			return url, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		s.log.WarnObj("hosting backend rejected upload", "hosting_error", map[string]any{
			"backend": b.ID(),
			"type":    b.Type(),
			"name":    name,
			"bytes":   len(data),
			"error":   err.Error(),
		})
		errs = append(errs, fmt.Errorf("%s backend[%s]: %w", b.Type(), b.ID(), err))
	}
	return "", fmt.Errorf("upload %s: %w", name, errors.Join(errs...))
}

// Size returns the number of active backends.
func (s *Store) Size() int {
	if s == nil {
		return 0
	}
	return len(s.backends)
}

// limited enforces a per-backend size cap before any network call.
type limited struct {
	Backend
	maxBytes int64
}

func (l limited) Upload(ctx context.Context, name string, data []byte) (string, error) {
	if int64(len(data)) > l.maxBytes {
		return "", fmt.Errorf("%w: %d > %d bytes", ErrPayloadTooLarge, len(data), l.maxBytes)
	}
	return l.Backend.Upload(ctx, name, data)
}
