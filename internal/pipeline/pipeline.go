// Package pipeline turns discovered galleries into mirrored images, articles
// and channel posts, without repeating work already recorded in the ledger.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"net/url"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/samvad-hq/samvad-gallery-mirror/internal/domain"
	"github.com/samvad-hq/samvad-gallery-mirror/internal/logger"
	"github.com/samvad-hq/samvad-gallery-mirror/internal/messenger"
	"github.com/samvad-hq/samvad-gallery-mirror/internal/retry"
	"github.com/samvad-hq/samvad-gallery-mirror/internal/storage"
	"github.com/samvad-hq/samvad-gallery-mirror/pkg/httpclient"
	"github.com/samvad-hq/samvad-gallery-mirror/pkg/publishers"
)

// ErrUnknownGallery is returned for operations that need a gallery already in the ledger.
var ErrUnknownGallery = errors.New("gallery not in ledger")

// Source resolves galleries and pages from the remote site.
type Source interface {
	SearchPages(ctx context.Context, params url.Values, cursor string) iter.Seq[domain.GalleryRef]
	ResolveGallery(ctx context.Context, ref domain.GalleryRef) (domain.Gallery, error)
	ResolveImageURL(ctx context.Context, page domain.PageRef) (int, string, error)
	GalleryURL(ref domain.GalleryRef) string
}

// ContentStore uploads a payload and returns its public URL.
type ContentStore interface {
	Upload(ctx context.Context, name string, data []byte) (string, error)
}

// ArticlePublisher builds the long-form page of a gallery from ledger state.
type ArticlePublisher interface {
	Publish(ctx context.Context, g domain.GalleryEntity) (string, error)
}

// EventSink forwards lifecycle events downstream.
type EventSink interface {
	Publish(ctx context.Context, evt publishers.Event) (int, error)
}

// Outcome says what an operation did to a gallery.
type Outcome string

const (
	OutcomeSkipped     Outcome = "skipped"
	OutcomeThrottled   Outcome = "throttled"
	OutcomeUnchanged   Outcome = "unchanged"
	OutcomeUploaded    Outcome = "uploaded"
	OutcomeRefreshed   Outcome = "refreshed"
	OutcomeUpdated     Outcome = "updated"
	OutcomeRepublished Outcome = "republished"
)

// Deps are the collaborators of a Pipeline.
type Deps struct {
	Source    Source
	Store     ContentStore
	Ledger    storage.Ledger
	Articles  ArticlePublisher
	Messenger messenger.Messenger
	// HTTP downloads images, calls transform services and probes articles.
	HTTP     httpclient.Client
	Events   EventSink
	Observer Observer
	Log      logger.Logger
	Now      func() time.Time
}

// Options tunes a Pipeline.
type Options struct {
	ChannelID       string
	OperatorChatIDs []string

	SearchParams url.Values
	SearchCap    int
	GalleryPause time.Duration

	Workers            int
	CompressThreshold  int64
	MaxPayload         int64
	MinImage           int64
	TransformPrimary   string
	TransformAlternate string

	Cadence      Cadence
	NetworkRetry retry.Policy
	LogicRetry   retry.Policy
}

// Pipeline is the ingestion orchestrator.
type Pipeline struct {
	source   Source
	store    ContentStore
	ledger   storage.Ledger
	articles ArticlePublisher
	msg      messenger.Messenger
	http     httpclient.Client
	events   EventSink
	observer Observer
	log      logger.Logger
	now      func() time.Time

	opts Options
	net  *semaphore.Weighted
}

// New validates deps and returns a Pipeline.
func New(deps Deps, opts Options) (*Pipeline, error) {
	switch {
	case deps.Source == nil:
		return nil, fmt.Errorf("pipeline requires a source")
	case deps.Store == nil:
		return nil, fmt.Errorf("pipeline requires a content store")
	case deps.Ledger == nil:
		return nil, fmt.Errorf("pipeline requires a ledger")
	case deps.Articles == nil:
		return nil, fmt.Errorf("pipeline requires an article publisher")
	case deps.Messenger == nil:
		return nil, fmt.Errorf("pipeline requires a messenger")
	case deps.HTTP == nil:
		return nil, fmt.Errorf("pipeline requires an http client")
	}
	if opts.Workers <= 0 {
		opts.Workers = 5
	}
	if opts.SearchCap <= 0 {
		opts.SearchCap = 50
	}
	if opts.MaxPayload <= 0 {
		opts.MaxPayload = 4_900_000
	}
	if opts.CompressThreshold <= 0 {
		opts.CompressThreshold = 1_000_000
	}
	if len(opts.Cadence.Tiers) == 0 && opts.Cadence.Default <= 0 {
		opts.Cadence = DefaultCadence()
	}
	if opts.NetworkRetry.MaxAttempts <= 0 {
		opts.NetworkRetry = retry.Network(0)
	}
	if opts.LogicRetry.MaxAttempts <= 0 {
		opts.LogicRetry = retry.Logic(0)
	}
	if deps.Observer == nil {
		deps.Observer = NopObserver{}
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	return &Pipeline{
		source:   deps.Source,
		store:    deps.Store,
		ledger:   deps.Ledger,
		articles: deps.Articles,
		msg:      deps.Messenger,
		http:     deps.HTTP,
		events:   deps.Events,
		observer: deps.Observer,
		log:      logger.Ensure(deps.Log),
		now:      deps.Now,
		opts:     opts,
		net:      semaphore.NewWeighted(int64(opts.Workers)),
	}, nil
}

// withNet runs fn while holding one network slot.
func (p *Pipeline) withNet(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := p.net.Acquire(ctx, 1); err != nil {
		return err
	}
	defer p.net.Release(1)
	return fn(ctx)
}

func (p *Pipeline) emit(ctx context.Context, typ string, g domain.GalleryEntity, articleURL string, messageID int64) {
	if p.events == nil {
		return
	}
	evt := publishers.NewEvent(typ, g, articleURL, p.source.GalleryURL(g.Ref()), messageID, p.now())
	if _, err := p.events.Publish(ctx, evt); err != nil {
		p.log.WarnObj("event publish failed", "event_error", map[string]any{
			"event":      typ,
			"gallery_id": g.ID,
			"error":      err.Error(),
		})
	}
}
