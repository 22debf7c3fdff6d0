package pipeline

import (
	"sync"

	"github.com/samvad-hq/samvad-gallery-mirror/internal/domain"
)

// Observer receives stage counts while a gallery's images are mirrored.
type Observer interface {
	OnProgress(p domain.Progress)
}

// Finisher is implemented by observers that track galleries in flight.
type Finisher interface {
	OnFinish(galleryID int64, err error)
}

// NopObserver ignores progress.
type NopObserver struct{}

func (NopObserver) OnProgress(domain.Progress) {}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(domain.Progress)

func (f ObserverFunc) OnProgress(p domain.Progress) { f(p) }

type tracker struct {
	mu  sync.Mutex
	p   domain.Progress
	obs Observer
}

func newTracker(galleryID int64, total int, obs Observer) *tracker {
	return &tracker{p: domain.Progress{GalleryID: galleryID, Total: total}, obs: obs}
}

func (t *tracker) update(fn func(p *domain.Progress)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fn(&t.p)
	t.obs.OnProgress(t.p)
}

func (t *tracker) snapshot() domain.Progress {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.p
}
