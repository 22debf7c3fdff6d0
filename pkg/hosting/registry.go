package hosting

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/samvad-hq/samvad-gallery-mirror/internal/logger"
)

// Builder creates a Backend from a config entry.
type Builder func(ctx context.Context, cfg BackendConfig, log logger.Logger) (Backend, error)

// Registry maps backend types to builders.
type Registry interface {
	Register(typ string, builder Builder)
	BackendFor(ctx context.Context, cfg BackendConfig, log logger.Logger) (Backend, error)
}

type registry struct {
	mu       sync.RWMutex
	builders map[string]Builder
}

// NewRegistry returns a registry with optional pre-registered builders.
func NewRegistry(builders map[string]Builder) Registry {
	r := &registry{builders: make(map[string]Builder)}
	for typ, b := range builders {
		r.Register(typ, b)
	}
	return r
}

// Register associates a builder with a backend type.
func (r *registry) Register(typ string, builder Builder) {
	if typ = strings.TrimSpace(strings.ToLower(typ)); typ == "" || builder == nil {
		return
	}
	r.mu.Lock()
	r.builders[typ] = builder
	r.mu.Unlock()
}

// BackendFor builds the backend described by cfg, applying its size cap.
func (r *registry) BackendFor(ctx context.Context, cfg BackendConfig, log logger.Logger) (Backend, error) {
	r.mu.RLock()
	builder := r.builders[strings.ToLower(cfg.Type)]
	r.mu.RUnlock()

	if builder == nil {
		return nil, fmt.Errorf("no hosting backend registered for type %q", cfg.Type)
	}
	b, err := builder(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	if cfg.MaxBytes > 0 {
		return limited{Backend: b, maxBytes: cfg.MaxBytes}, nil
	}
	return b, nil
}

// DefaultRegistry wires up known backends.
func DefaultRegistry() Registry {
	return NewRegistry(map[string]Builder{
		TypeIPFS:     newIPFSBackend,
		TypeTeletype: newTeletypeBackend,
		TypeS3:       newS3Backend,
	})
}

// BuildAll instantiates backends for configs in order.
func BuildAll(ctx context.Context, reg Registry, cfgs []BackendConfig, log logger.Logger) ([]Backend, error) {
	if reg == nil || len(cfgs) == 0 {
		return nil, nil
	}
	out := make([]Backend, 0, len(cfgs))
	for _, cfg := range cfgs {
		b, err := reg.BackendFor(ctx, cfg, log)
		if err != nil {
			return nil, fmt.Errorf("build backend %q: %w", cfg.ID, err)
		}
		out = append(out, b)
	}
	return out, nil
}
