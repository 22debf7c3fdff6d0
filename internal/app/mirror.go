package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/samvad-hq/samvad-gallery-mirror/internal/article"
	"github.com/samvad-hq/samvad-gallery-mirror/internal/config"
	"github.com/samvad-hq/samvad-gallery-mirror/internal/domain"
	"github.com/samvad-hq/samvad-gallery-mirror/internal/logger"
	"github.com/samvad-hq/samvad-gallery-mirror/internal/messenger"
	"github.com/samvad-hq/samvad-gallery-mirror/internal/metrics"
	"github.com/samvad-hq/samvad-gallery-mirror/internal/pipeline"
	"github.com/samvad-hq/samvad-gallery-mirror/internal/retry"
	"github.com/samvad-hq/samvad-gallery-mirror/internal/source"
	"github.com/samvad-hq/samvad-gallery-mirror/internal/storage"
	"github.com/samvad-hq/samvad-gallery-mirror/pkg/hosting"
	"github.com/samvad-hq/samvad-gallery-mirror/pkg/httpclient"
	"github.com/samvad-hq/samvad-gallery-mirror/pkg/publishers"
)

// cycles is the part of the pipeline the scheduler drives.
type cycles interface {
	ScanCycle(ctx context.Context) (pipeline.ScanSummary, error)
	Recheck(ctx context.Context) (pipeline.RecheckSummary, error)
}

// Mirror is the long-running gallery mirror. It owns the scan loop, the
// optional article recheck loop and the admin HTTP server, and closes the
// ledger, source session and event sinks on exit.
type Mirror struct {
	cycles          cycles
	metrics         *metrics.Collector
	admin           *http.Server
	scanInterval    time.Duration
	recheckInterval time.Duration
	closers         []namedCloser
	log             logger.Logger
}

type namedCloser struct {
	name  string
	close func() error
}

// NewMirror builds a mirror runtime from config and registry files.
func NewMirror(ctx context.Context, cfg *config.Config, log logger.Logger) (_ *Mirror, err error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	log = logger.Ensure(log)
	if ctx == nil {
		ctx = context.Background()
	}

	m := &Mirror{
		scanInterval:    cfg.ScanInterval,
		recheckInterval: cfg.RecheckInterval,
		log:             log,
	}
	defer func() {
		if err != nil {
			m.shutdown()
		}
	}()

	networkRetry := retry.Network(cfg.NetworkRetryAttempts)
	logicRetry := retry.Logic(cfg.LogicRetryAttempts)

	hostCfgs, err := hosting.LoadConfigs(cfg.HostsFile)
	if err != nil {
		return nil, fmt.Errorf("load hosting backends: %w", err)
	}
	backends, err := hosting.BuildAll(ctx, hosting.DefaultRegistry(), hostCfgs, log)
	if err != nil {
		return nil, fmt.Errorf("build hosting backends: %w", err)
	}
	store := hosting.NewStore(backends, networkRetry, log)
	if store.Size() == 0 {
		return nil, fmt.Errorf("no hosting backends enabled in %s", cfg.HostsFile)
	}
	backendSummaries := make([]map[string]string, 0, len(backends))
	for _, b := range backends {
		backendSummaries = append(backendSummaries, map[string]string{"id": b.ID(), "type": b.Type()})
	}
	log.InfoObj("hosting backends loaded", "hosting_meta", map[string]any{
		"count":    store.Size(),
		"backends": backendSummaries,
	})

	ledger, err := storage.NewLedger(cfg.StorageType, storage.Options{
		BBoltPath:  cfg.BBoltPath,
		SQLitePath: cfg.SQLitePath,
	})
	if err != nil {
		return nil, fmt.Errorf("init ledger: %w", err)
	}
	m.closers = append(m.closers, namedCloser{name: "ledger", close: ledger.Close})
	log.InfoObj("ledger initialized", "storage_config", map[string]any{
		"type":        cfg.StorageType,
		"bbolt_path":  cfg.BBoltPath,
		"sqlite_path": cfg.SQLitePath,
	})

	bot, err := messenger.NewTelegram(cfg.TelegramAPIURL, cfg.TelegramToken, cfg.HTTPTimeout, log)
	if err != nil {
		return nil, fmt.Errorf("init messenger: %w", err)
	}

	src, err := source.Authenticate(ctx, source.Config{
		BaseURL:           cfg.SourceBaseURL,
		Credential:        cfg.SourceCredential,
		UserAgent:         cfg.SourceUserAgent,
		Timeout:           cfg.HTTPTimeout,
		ConnectTimeout:    cfg.ConnectTimeout,
		RequestsPerSecond: cfg.SourceRPS,
		Retry:             networkRetry,
	}, log)
	if err != nil {
		notifyAuthFailure(ctx, bot, cfg.OperatorChatIDs, cfg.SourceBaseURL, err, log)
		return nil, fmt.Errorf("authenticate source: %w", err)
	}
	m.closers = append(m.closers, namedCloser{name: "source", close: func() error { src.Close(); return nil }})

	pages, err := article.NewTelegraph(article.TelegraphConfig{
		APIURL:     cfg.ArticleAPIURL,
		Token:      cfg.ArticleToken,
		AuthorName: cfg.ArticleAuthorName,
		AuthorURL:  cfg.ArticleAuthorURL,
		Timeout:    cfg.HTTPTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("init article api: %w", err)
	}
	articles := article.NewPublisher(pages, ledger, cfg.ArticleCapacity, logicRetry, log)

	var events pipeline.EventSink
	if cfg.PublishersFile != "" {
		fanout, err := buildFanout(ctx, cfg.PublishersFile, log)
		if err != nil {
			return nil, err
		}
		m.closers = append(m.closers, namedCloser{name: "publishers", close: fanout.Close})
		events = fanout
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector, err := metrics.New(reg)
	if err != nil {
		return nil, err
	}
	m.metrics = collector

	tiers := make([]pipeline.Tier, 0, len(cfg.CadenceTiers))
	for _, t := range cfg.CadenceTiers {
		tiers = append(tiers, pipeline.Tier{MaxAgeDays: t.MaxAgeDays, EveryDays: t.EveryDays})
	}

	pipe, err := pipeline.New(pipeline.Deps{
		Source:    src,
		Store:     store,
		Ledger:    ledger,
		Articles:  articles,
		Messenger: bot,
		HTTP: httpclient.NewRestyClientWithOptions(httpclient.Options{
			Timeout:        cfg.HTTPTimeout,
			ConnectTimeout: cfg.ConnectTimeout,
		}),
		Events:   events,
		Observer: collector,
		Log:      log,
	}, pipeline.Options{
		ChannelID:          cfg.ChannelID,
		OperatorChatIDs:    cfg.OperatorChatIDs,
		SearchParams:       cfg.SearchParams,
		SearchCap:          cfg.SearchCap,
		GalleryPause:       cfg.GalleryPause,
		Workers:            cfg.WorkerCount,
		CompressThreshold:  cfg.CompressThresholdBytes,
		MaxPayload:         cfg.MaxPayloadBytes,
		MinImage:           cfg.MinImageBytes,
		TransformPrimary:   cfg.TransformPrimaryURL,
		TransformAlternate: cfg.TransformAlternateURL,
		Cadence:            pipeline.Cadence{Tiers: tiers, Default: cfg.CadenceDefault},
		NetworkRetry:       networkRetry,
		LogicRetry:         logicRetry,
	})
	if err != nil {
		return nil, fmt.Errorf("init pipeline: %w", err)
	}
	m.cycles = pipe

	if cfg.AdminAddr != "" {
		m.admin = &http.Server{
			Addr:              cfg.AdminAddr,
			Handler:           NewAdminRouter(pipe, collector, reg, log),
			ReadHeaderTimeout: 10 * time.Second,
		}
	}
	return m, nil
}

// notifyAuthFailure tells operators the source refused the session.
func notifyAuthFailure(ctx context.Context, bot messenger.Messenger, chats []string, sourceURL string, cause error, log logger.Logger) {
	if ctx.Err() != nil || !errors.Is(cause, domain.ErrAuth) {
		return
	}
	text := messenger.AuthFailure(sourceURL, cause)
	for _, chat := range chats {
		if _, err := bot.Send(ctx, chat, text); err != nil {
			log.ErrorObj("operator notification failed", "notify_error", map[string]any{
				"chat_id": chat,
				"error":   err.Error(),
			})
		}
	}
}

func buildFanout(ctx context.Context, path string, log logger.Logger) (*publishers.Fanout, error) {
	reg, err := publishers.LoadRegistry(path)
	if err != nil {
		return nil, fmt.Errorf("load publishers registry: %w", err)
	}
	enabled := reg.Enabled()
	clients, err := publishers.BuildAll(ctx, publishers.DefaultRegistry(), enabled, log)
	if err != nil {
		return nil, fmt.Errorf("build publishers: %w", err)
	}
	summaries := make([]map[string]string, 0, len(enabled))
	for _, c := range enabled {
		summaries = append(summaries, map[string]string{"id": c.ID, "type": c.Type})
	}
	log.InfoObj("publishers registry loaded", "publishers_meta", map[string]any{
		"count":      len(summaries),
		"publishers": summaries,
	})
	return publishers.NewFanout(clients), nil
}

// Run scans immediately, then on every scan tick, until ctx is cancelled.
// Rechecks run on their own tick when a recheck interval is configured.
func (m *Mirror) Run(ctx context.Context) error {
	if m == nil || m.cycles == nil {
		return fmt.Errorf("mirror is not initialized")
	}
	defer m.shutdown()

	adminErr := m.serveAdmin(ctx)

	m.log.InfoObj("mirror loop starting", "mirror_state", map[string]any{
		"scan_interval":    m.scanInterval.String(),
		"recheck_interval": m.recheckInterval.String(),
		"admin":            m.admin != nil,
	})

	m.runScan(ctx)

	scan := time.NewTicker(m.scanInterval)
	defer scan.Stop()

	var recheck <-chan time.Time
	if m.recheckInterval > 0 {
		t := time.NewTicker(m.recheckInterval)
		defer t.Stop()
		recheck = t.C
	}

	for {
		select {
		case <-ctx.Done():
			m.log.InfoObj("mirror loop exiting", "reason", ctx.Err().Error())
			return nil
		case err := <-adminErr:
			return fmt.Errorf("admin server: %w", err)
		case <-scan.C:
			m.runScan(ctx)
		case <-recheck:
			m.runRecheck(ctx)
		}
	}
}

func (m *Mirror) runScan(ctx context.Context) {
	start := time.Now()
	sum, err := m.cycles.ScanCycle(ctx)
	if m.metrics != nil {
		m.metrics.ObserveScan(sum, time.Since(start))
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		m.log.ErrorObj("scan cycle failed", "error", err.Error())
	}
}

func (m *Mirror) runRecheck(ctx context.Context) {
	sum, err := m.cycles.Recheck(ctx)
	if m.metrics != nil {
		m.metrics.ObserveRecheck(sum)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		m.log.ErrorObj("article recheck failed", "error", err.Error())
	}
}

// serveAdmin starts the admin server when one is configured and stops it with ctx.
// The returned channel carries a listener failure.
func (m *Mirror) serveAdmin(ctx context.Context) <-chan error {
	errCh := make(chan error, 1)
	if m.admin == nil {
		return errCh
	}
	go func() {
		m.log.InfoObj("admin server listening", "admin_addr", m.admin.Addr)
		if err := m.admin.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = m.admin.Shutdown(shutdownCtx)
	}()
	return errCh
}

// shutdown closes owned resources in reverse order of creation.
func (m *Mirror) shutdown() {
	for i := len(m.closers) - 1; i >= 0; i-- {
		c := m.closers[i]
		if err := c.close(); err != nil {
			m.log.ErrorObj("close failed", "close_error", map[string]any{
				"resource": c.name,
				"error":    err.Error(),
			})
		}
	}
	m.closers = nil
}
