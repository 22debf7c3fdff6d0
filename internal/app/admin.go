package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/samvad-hq/samvad-gallery-mirror/internal/domain"
	"github.com/samvad-hq/samvad-gallery-mirror/internal/logger"
	"github.com/samvad-hq/samvad-gallery-mirror/internal/metrics"
	"github.com/samvad-hq/samvad-gallery-mirror/internal/pipeline"
)

// Operations are the pipeline entry points exposed to operators.
type Operations interface {
	TryUpload(ctx context.Context, ref domain.GalleryRef, skipIfKnown bool) (pipeline.Outcome, error)
	RepublishByID(ctx context.Context, id int64) (string, error)
	Recheck(ctx context.Context) (pipeline.RecheckSummary, error)
}

type adminHandler struct {
	ops Operations
	log logger.Logger
}

// NewAdminRouter mounts the health, metrics and operator routes.
func NewAdminRouter(ops Operations, collector *metrics.Collector, gatherer prometheus.Gatherer, log logger.Logger) http.Handler {
	h := &adminHandler{ops: ops, log: logger.Ensure(log)}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	if collector != nil {
		r.Use(collector.Middleware)
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", metrics.Handler(gatherer))

	r.Post("/galleries/{id}/republish", h.republish)
	r.Post("/galleries/{id}/{token}", h.upload)
	r.Post("/recheck", h.recheck)
	return r
}

// upload force-mirrors one gallery, refreshing its post when it was announced before.
func (h *adminHandler) upload(w http.ResponseWriter, r *http.Request) {
	id, ok := galleryID(w, r)
	if !ok {
		return
	}
	ref := domain.GalleryRef{ID: id, Token: chi.URLParam(r, "token")}
	if c, err := strconv.Atoi(r.URL.Query().Get("cover")); err == nil && c > 0 {
		ref.Cover = c
	}

	outcome, err := h.ops.TryUpload(r.Context(), ref, false)
	if err != nil {
		h.fail(w, "admin upload failed", id, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"gallery_id": id, "outcome": outcome})
}

func (h *adminHandler) republish(w http.ResponseWriter, r *http.Request) {
	id, ok := galleryID(w, r)
	if !ok {
		return
	}
	url, err := h.ops.RepublishByID(r.Context(), id)
	if err != nil {
		h.fail(w, "admin republish failed", id, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"gallery_id": id, "article": url})
}

func (h *adminHandler) recheck(w http.ResponseWriter, r *http.Request) {
	sum, err := h.ops.Recheck(r.Context())
	if err != nil {
		h.fail(w, "admin recheck failed", 0, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (h *adminHandler) fail(w http.ResponseWriter, msg string, id int64, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, pipeline.ErrUnknownGallery), errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrAuth), errors.Is(err, domain.ErrAuthExpired):
		status = http.StatusBadGateway
	}
	h.log.ErrorObj(msg, "admin_error", map[string]any{
		"gallery_id": id,
		"status":     status,
		"error":      err.Error(),
	})
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func galleryID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid gallery id"})
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
