package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"candle-aggregation/internal/logger"
	"candle-aggregation/internal/model"
)

// DefaultLimit is applied to history queries without a limit parameter.
const DefaultLimit = 100

type intervalInfo struct {
	Label  string `json:"label"`
	Millis int64  `json:"millis"`
}

// history serves GET /api/candles/history?symbol=&interval=&from=&to=&limit=.
// from and to are inclusive unix-millis bounds; limit=0 returns every candle.
func (h *Handler) history(w http.ResponseWriter, r *http.Request) int {
	params := r.URL.Query()
	q := model.Query{
		Instrument: params.Get("symbol"),
		Interval:   params.Get("interval"),
		Limit:      DefaultLimit,
	}
	if q.Instrument == "" || q.Interval == "" {
		return writeError(w, http.StatusBadRequest, "symbol and interval are required")
	}

	var err error
	if q.From, err = optInt64(params.Get("from")); err != nil {
		return writeError(w, http.StatusBadRequest, "from must be unix millis")
	}
	if q.To, err = optInt64(params.Get("to")); err != nil {
		return writeError(w, http.StatusBadRequest, "to must be unix millis")
	}
	if v := params.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
		}
		q.Limit = n
	}

	candles := h.store.Query(q)
	slog.Debug("history query", append([]any{
		"component", "api",
		"symbol", q.Instrument,
		"interval", q.Interval,
		"results", len(candles),
	}, logger.LogWithTrace(r.Context())...)...)
	return writeJSON(w, http.StatusOK, candles)
}

func (h *Handler) listInstruments(w http.ResponseWriter, r *http.Request) int {
	return writeJSON(w, http.StatusOK, h.store.ListInstruments())
}

func (h *Handler) listIntervals(w http.ResponseWriter, r *http.Request) int {
	out := make([]intervalInfo, 0, len(h.intervals))
	for _, iv := range h.intervals {
		out = append(out, intervalInfo{Label: iv.Label, Millis: iv.Millis()})
	}
	return writeJSON(w, http.StatusOK, out)
}

func optInt64(s string) (*int64, error) {
	if s == "" {
		return nil, nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

func writeJSON(w http.ResponseWriter, code int, v any) int {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("response encode failed", "component", "api", "error", err)
	}
	return code
}

func writeError(w http.ResponseWriter, code int, msg string) int {
	return writeJSON(w, code, map[string]string{"error": msg})
}
