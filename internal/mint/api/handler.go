package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"ms-tokenomy/internal/auth"
	"ms-tokenomy/internal/mint"
	"ms-tokenomy/internal/mint/storage"
	"ms-tokenomy/internal/models"
)

type Handler struct {
	Service *mint.Service
	Recon   *storage.PostgreSQLStore
}

// GetMint returns the mint record for an order, if one exists.
func (h *Handler) GetMint(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")
	record, err := h.Service.DB.GetMintByOrderID(r.Context(), orderID)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if record == nil {
		http.Error(w, "no mint for order "+orderID, http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(record)
}

// ListAmbiguous returns chain submissions awaiting manual reconciliation.
func (h *Handler) ListAmbiguous(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 500 {
			http.Error(w, "limit must be between 1 and 500", http.StatusBadRequest)
			return
		}
		limit = parsed
	}
	offset := 0
	if raw := r.URL.Query().Get("offset"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			http.Error(w, "offset must be non-negative", http.StatusBadRequest)
			return
		}
		offset = parsed
	}

	attempts, err := h.Recon.ListOpen(r.Context(), limit, offset)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if attempts == nil {
		attempts = []*storage.AmbiguousMint{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(attempts)
}

// Remint lets an admin retry an order after confirming on-chain that the
// ambiguous submission never landed.
func (h *Handler) Remint(w http.ResponseWriter, r *http.Request) {
	adminID := auth.UserID(r.Context())
	orderID := chi.URLParam(r, "orderID")

	record, err := h.Service.Remint(r.Context(), orderID, adminID)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrValidation):
			http.Error(w, err.Error(), http.StatusBadRequest)
		case errors.Is(err, models.ErrNotFound):
			http.Error(w, err.Error(), http.StatusNotFound)
		case errors.Is(err, models.ErrAmbiguous):
			http.Error(w, err.Error(), http.StatusConflict)
		case errors.Is(err, models.ErrInvalidState), errors.Is(err, models.ErrMissingWallet):
			http.Error(w, err.Error(), http.StatusConflict)
		default:
			http.Error(w, "remint failed: "+err.Error(), http.StatusBadGateway)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(record)
}
