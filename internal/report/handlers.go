package report

import (
	"net/http"
	"time"

	"github.com/noah-isme/kasir-api/internal/common"
)

// Handler wires the report service to HTTP.
type Handler struct {
	Svc *Service
}

// parseRange reads from/to query params (RFC 3339 or YYYY-MM-DD), defaulting
// to the current day.
func parseRange(r *http.Request) (time.Time, time.Time, bool) {
	now := time.Now()
	from := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	to := from.AddDate(0, 0, 1)
	if raw := r.URL.Query().Get("from"); raw != "" {
		parsed, err := parseTime(raw)
		if err != nil {
			return from, to, false
		}
		from = parsed
	}
	if raw := r.URL.Query().Get("to"); raw != "" {
		parsed, err := parseTime(raw)
		if err != nil {
			return from, to, false
		}
		to = parsed
	}
	return from, to, true
}

func parseTime(raw string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", raw)
}

// Transactions lists settled transactions for a range.
func (h *Handler) Transactions(w http.ResponseWriter, r *http.Request) {
	from, to, ok := parseRange(r)
	if !ok {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid date range", nil)
		return
	}
	txs, err := h.Svc.Transactions(r.Context(), from, to)
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "unable to load transactions", nil)
		return
	}
	page, perPage := common.ParsePagination(r, 100)
	meta := common.Pagination{Page: page, PerPage: perPage, TotalItems: len(txs)}
	start := (page - 1) * perPage
	if start > len(txs) {
		start = len(txs)
	}
	end := start + perPage
	if end > len(txs) {
		end = len(txs)
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": txs[start:end], "pagination": meta})
}

// Summary returns the sales rollup for a range.
func (h *Handler) Summary(w http.ResponseWriter, r *http.Request) {
	from, to, ok := parseRange(r)
	if !ok {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid date range", nil)
		return
	}
	sum, err := h.Svc.Summarize(r.Context(), from, to)
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "unable to build summary", nil)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": sum})
}
