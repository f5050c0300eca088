// Package api exposes the read-only candle query HTTP API.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"candle-aggregation/internal/logger"
	"candle-aggregation/internal/model"
)

// TraceHeader carries the request trace ID in and out.
const TraceHeader = "X-Trace-Id"

// NewRouter sets up HTTP routes for the query API.
func NewRouter(h *Handler) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/v1/health", h.wrap("health", func(w http.ResponseWriter, r *http.Request) int {
		return writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}))
	mux.HandleFunc("/api/candles/history", h.wrap("history", h.history))
	mux.HandleFunc("/api/instruments", h.wrap("instruments", h.listInstruments))
	mux.HandleFunc("/api/intervals", h.wrap("intervals", h.listIntervals))

	return mux
}

// Handler serves queries against a candle store.
type Handler struct {
	store     model.CandleStore
	intervals []model.Interval

	// OnRequest is called after every request (optional, for metrics).
	OnRequest func(route string, code int)
}

// NewHandler creates a Handler. intervals is reported by /api/intervals.
func NewHandler(store model.CandleStore, intervals []model.Interval) *Handler {
	return &Handler{store: store, intervals: intervals}
}

type routeFunc func(w http.ResponseWriter, r *http.Request) int

// wrap rejects non-GET methods, attaches a trace ID and logs the request.
func (h *Handler) wrap(route string, fn routeFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		tid := r.Header.Get(TraceHeader)
		if tid == "" {
			tid = logger.NewTraceID()
		}
		ctx := logger.WithTraceID(r.Context(), tid)
		w.Header().Set(TraceHeader, tid)

		var code int
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			code = writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		} else {
			code = fn(w, r.WithContext(ctx))
		}

		attrs := append([]any{
			"component", "api",
			"route", route,
			"code", code,
			"took", time.Since(start).String(),
		}, logger.LogWithTrace(ctx)...)
		slog.Debug("request served", attrs...)

		if h.OnRequest != nil {
			h.OnRequest(route, code)
		}
	}
}
