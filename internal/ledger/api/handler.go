package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"ms-tokenomy/internal/ledger"
	"ms-tokenomy/internal/ledger/report"
	"ms-tokenomy/internal/logger"
	"ms-tokenomy/internal/models"
)

type Handler struct {
	Ledger  *ledger.Store
	Reports *report.Service
	Logger  *logger.Logger
}

// ListEntries serves the filtered, newest-first ledger page.
func (h *Handler) ListEntries(w http.ResponseWriter, r *http.Request) {
	filter := ledger.Filter{
		Kind:        r.URL.Query().Get("kind"),
		ReferenceID: r.URL.Query().Get("reference_id"),
		Currency:    r.URL.Query().Get("currency"),
		Direction:   r.URL.Query().Get("direction"),
	}
	var err error
	if filter.From, filter.To, err = parseWindow(r); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	page := ledger.Page{Limit: 50}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if page.Limit, err = strconv.Atoi(raw); err != nil || page.Limit < 1 || page.Limit > 500 {
			http.Error(w, "limit must be between 1 and 500", http.StatusBadRequest)
			return
		}
	}
	if raw := r.URL.Query().Get("offset"); raw != "" {
		if page.Offset, err = strconv.Atoi(raw); err != nil || page.Offset < 0 {
			http.Error(w, "offset must be non-negative", http.StatusBadRequest)
			return
		}
	}

	entries, err := h.Ledger.Query(r.Context(), filter, page)
	if err != nil {
		writeError(w, err)
		return
	}
	if entries == nil {
		entries = []models.LedgerEntry{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(entries)
}

// EntriesByReference returns every entry for one reference, oldest first.
func (h *Handler) EntriesByReference(w http.ResponseWriter, r *http.Request) {
	referenceID := chi.URLParam(r, "referenceID")
	entries, err := h.Ledger.ByReference(r.Context(), referenceID)
	if err != nil {
		writeError(w, err)
		return
	}
	if entries == nil {
		entries = []models.LedgerEntry{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(entries)
}

func (h *Handler) Summary(w http.ResponseWriter, r *http.Request) {
	from, to, err := parseWindow(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	summary, err := h.Reports.Summary(r.Context(), from, to)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(summary)
}

// ExportCSV streams the filtered ledger as a CSV download.
func (h *Handler) ExportCSV(w http.ResponseWriter, r *http.Request) {
	filter := ledger.Filter{
		Kind:     r.URL.Query().Get("kind"),
		Currency: r.URL.Query().Get("currency"),
	}
	var err error
	if filter.From, filter.To, err = parseWindow(r); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="ledger-export.csv"`)
	if err := h.Reports.ExportCSV(r.Context(), w, filter); err != nil {
		// Headers are already gone; all we can do is log-and-drop, and the
		// truncated CSV will fail the client's parse.
		return
	}
}

type adjustmentRequest struct {
	ReferenceID string          `json:"reference_id"`
	Direction   string          `json:"direction"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	Memo        string          `json:"memo"`
}

// CreateAdjustment appends an offsetting correction entry to an existing
// reference. The original entries are never touched.
func (h *Handler) CreateAdjustment(w http.ResponseWriter, r *http.Request) {
	var req adjustmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	entryID, err := h.Ledger.AppendAdjustment(r.Context(), req.ReferenceID, req.Direction, req.Amount, req.Currency, req.Memo)
	if err != nil {
		writeError(w, err)
		return
	}

	if h.Logger != nil {
		h.Logger.LogLedger("ADJUST", req.ReferenceID, "correction entry "+entryID)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]string{"entry_id": entryID})
}

func parseWindow(r *http.Request) (time.Time, time.Time, error) {
	var from, to time.Time
	var err error
	if raw := r.URL.Query().Get("from"); raw != "" {
		if from, err = time.Parse(time.RFC3339, raw); err != nil {
			return from, to, errors.New("from must be RFC3339")
		}
	}
	if raw := r.URL.Query().Get("to"); raw != "" {
		if to, err = time.Parse(time.RFC3339, raw); err != nil {
			return from, to, errors.New("to must be RFC3339")
		}
	}
	return from, to, nil
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrValidation):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, models.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	default:
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
