package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mash-protocol/mash-reporting/pkg/reporting"
)

// engineStatus is the part of the reporting host the debug API uses.
type engineStatus interface {
	Transactions(ctx context.Context) ([]reporting.TransactionInfo, error)
	Stats(ctx context.Context) (reporting.Stats, error)
	CancelTransaction(ctx context.Context, id uint32) error
}

// debugHandler serves engine state as JSON.
type debugHandler struct {
	engine engineStatus
	logger *slog.Logger
}

// newDebugRouter returns the debug HTTP API:
//
//	GET    /transactions       registered transactions
//	DELETE /transactions/{id}  cancel a transaction
//	GET    /stats              engine counters
//	GET    /metrics            Prometheus metrics from gatherer
func newDebugRouter(engine engineStatus, gatherer prometheus.Gatherer, logger *slog.Logger) http.Handler {
	h := &debugHandler{engine: engine, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Second))
	r.Get("/transactions", h.handleTransactions)
	r.Delete("/transactions/{id}", h.handleCancel)
	r.Get("/stats", h.handleStats)
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	return r
}

func (h *debugHandler) handleTransactions(w http.ResponseWriter, r *http.Request) {
	infos, err := h.engine.Transactions(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, infos)
}

func (h *debugHandler) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.engine.Stats(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *debugHandler) handleCancel(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 32)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid transaction id"})
		return
	}
	if err := h.engine.CancelTransaction(r.Context(), uint32(id)); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *debugHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, reporting.ErrUnknownTransaction):
		status = http.StatusNotFound
	case errors.Is(err, reporting.ErrEngineClosed):
		status = http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		status = http.StatusGatewayTimeout
	}
	if status == http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "debug request failed", "path", r.URL.Path, "error", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
