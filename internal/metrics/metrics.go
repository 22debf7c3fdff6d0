// Package metrics exports mirror progress through Prometheus collectors.
package metrics

import (
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/samvad-hq/samvad-gallery-mirror/internal/domain"
	"github.com/samvad-hq/samvad-gallery-mirror/internal/pipeline"
)

// Stage labels for page counters.
const (
	StageSatisfied  = "satisfied"
	StageResolved   = "resolved"
	StageDownloaded = "downloaded"
	StageUploaded   = "uploaded"
)

// Collector owns the mirror's collectors. It implements pipeline.Observer.
type Collector struct {
	pages          *prometheus.CounterVec
	galleriesBusy  prometheus.Gauge
	scanGalleries  *prometheus.CounterVec
	scanDuration   prometheus.Histogram
	recheck        *prometheus.CounterVec
	adminRequests  *prometheus.CounterVec
	adminDurations *prometheus.HistogramVec

	mu   sync.Mutex
	last map[int64]domain.Progress
}

// New registers the collectors against reg, or the default registerer when nil.
func New(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	c := &Collector{
		pages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mirror_pages_total",
			Help: "Gallery pages that reached a pipeline stage.",
		}, []string{"stage"}),
		galleriesBusy: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mirror_galleries_in_progress",
			Help: "Galleries whose images are being mirrored.",
		}),
		scanGalleries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mirror_scan_galleries_total",
			Help: "Galleries handled by scan cycles, partitioned by result.",
		}, []string{"result"}),
		scanDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "mirror_scan_duration_seconds",
			Help:    "Wall time per scan cycle.",
			Buckets: []float64{10, 30, 60, 300, 600, 1200, 1800, 3600},
		}),
		recheck: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mirror_recheck_articles_total",
			Help: "Articles probed by recheck passes, partitioned by result.",
		}, []string{"result"}),
		adminRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mirror_admin_requests_total",
			Help: "Admin HTTP requests, labeled by method and code.",
		}, []string{"method", "code"}),
		adminDurations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mirror_admin_request_duration_seconds",
			Help:    "Admin HTTP request latency by route.",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 5, 30, 120},
		}, []string{"method", "route"}),
		last: make(map[int64]domain.Progress),
	}
	for _, collector := range []prometheus.Collector{
		c.pages, c.galleriesBusy, c.scanGalleries, c.scanDuration,
		c.recheck, c.adminRequests, c.adminDurations,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register mirror collector: %w", err)
		}
	}
	return c, nil
}

// OnProgress turns progress snapshots into stage counter increments.
func (c *Collector) OnProgress(p domain.Progress) {
	c.mu.Lock()
	prev, seen := c.last[p.GalleryID]
	done := p.Satisfied+p.Uploaded >= p.Total
	if done {
		delete(c.last, p.GalleryID)
	} else {
		c.last[p.GalleryID] = p
	}
	c.mu.Unlock()

	if !seen && !done {
		c.galleriesBusy.Inc()
	}
	if seen && done {
		c.galleriesBusy.Dec()
	}
	c.add(StageSatisfied, p.Satisfied-prev.Satisfied)
	c.add(StageResolved, p.Resolved-prev.Resolved)
	c.add(StageDownloaded, p.Downloaded-prev.Downloaded)
	c.add(StageUploaded, p.Uploaded-prev.Uploaded)
}

// OnFinish drops the progress of a gallery once its image stage ends.
func (c *Collector) OnFinish(galleryID int64, _ error) {
	c.mu.Lock()
	_, seen := c.last[galleryID]
	delete(c.last, galleryID)
	c.mu.Unlock()
	if seen {
		c.galleriesBusy.Dec()
	}
}

func (c *Collector) add(stage string, delta int) {
	if delta > 0 {
		c.pages.WithLabelValues(stage).Add(float64(delta))
	}
}

// ObserveScan records a finished scan cycle.
func (c *Collector) ObserveScan(sum pipeline.ScanSummary, elapsed time.Duration) {
	c.scanGalleries.WithLabelValues("uploaded").Add(float64(sum.Uploaded))
	c.scanGalleries.WithLabelValues("updated").Add(float64(sum.Updated))
	c.scanGalleries.WithLabelValues("skipped").Add(float64(sum.Skipped))
	c.scanGalleries.WithLabelValues("failed").Add(float64(sum.Failed))
	c.scanDuration.Observe(elapsed.Seconds())
}

// ObserveRecheck records a finished recheck pass.
func (c *Collector) ObserveRecheck(sum pipeline.RecheckSummary) {
	c.recheck.WithLabelValues("checked").Add(float64(sum.Checked))
	c.recheck.WithLabelValues("republished").Add(float64(sum.Republished))
	c.recheck.WithLabelValues("failed").Add(float64(sum.Failed))
}

// Middleware is a chi middleware that records admin request metrics.
func (c *Collector) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)

		route := "unknown"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		c.adminRequests.WithLabelValues(r.Method, strconv.Itoa(ww.status)).Inc()
		c.adminDurations.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

// Handler exposes the metrics gathered by g, or the default gatherer when nil.
func Handler(g prometheus.Gatherer) http.Handler {
	if g == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}
