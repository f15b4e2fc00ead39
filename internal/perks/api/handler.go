package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"ms-tokenomy/internal/auth"
	"ms-tokenomy/internal/models"
	"ms-tokenomy/internal/perks"
)

type Handler struct {
	Service *perks.Service
}

type createPerkRequest struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	TokenCost   decimal.Decimal `json:"token_cost"`
}

func (h *Handler) CreatePerk(w http.ResponseWriter, r *http.Request) {
	var req createPerkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	perk, err := h.Service.CreatePerk(r.Context(), req.Name, req.Description, req.TokenCost)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(perk)
}

func (h *Handler) ListPerks(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("all") != "true"
	list, err := h.Service.ListPerks(r.Context(), activeOnly)
	if err != nil {
		writeError(w, err)
		return
	}
	if list == nil {
		list = []models.Perk{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(list)
}

func (h *Handler) SetActive(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Active bool `json:"active"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	perk, err := h.Service.SetActive(r.Context(), chi.URLParam(r, "perkID"), req.Active)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(perk)
}

func (h *Handler) DeletePerk(w http.ResponseWriter, r *http.Request) {
	if err := h.Service.RemovePerk(r.Context(), chi.URLParam(r, "perkID")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ClaimPerk(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	if userID == "" {
		http.Error(w, "unauthenticated", http.StatusUnauthorized)
		return
	}

	claim, err := h.Service.ClaimPerk(r.Context(), userID, chi.URLParam(r, "perkID"))
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(claim)
}

func (h *Handler) MyClaims(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	if userID == "" {
		http.Error(w, "unauthenticated", http.StatusUnauthorized)
		return
	}

	claims, err := h.Service.GetUserClaims(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	if claims == nil {
		claims = []models.PerkClaim{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(claims)
}

// ClaimQR serves the claim's QR image. Only the claim owner can fetch it.
func (h *Handler) ClaimQR(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	if userID == "" {
		http.Error(w, "unauthenticated", http.StatusUnauthorized)
		return
	}

	claim, err := h.Service.DB.GetClaimByID(r.Context(), chi.URLParam(r, "claimID"))
	if err != nil {
		writeError(w, err)
		return
	}
	if claim.UserID != userID {
		http.Error(w, "claim not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Write(claim.QRPNG)
}

type redeemRequest struct {
	Code    string `json:"code,omitempty"`
	ClaimID string `json:"claim_id,omitempty"`
}

// Redeem consumes a claim. Staff submit either the scanned QR code or a raw
// claim ID.
func (h *Handler) Redeem(w http.ResponseWriter, r *http.Request) {
	staffID := auth.UserID(r.Context())

	var req redeemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	var result *perks.RedeemResult
	var err error
	switch {
	case req.Code != "":
		result, err = h.Service.RedeemCode(r.Context(), req.Code, staffID)
	case req.ClaimID != "":
		result, err = h.Service.Redeem(r.Context(), req.ClaimID, staffID)
	default:
		http.Error(w, "code or claim_id is required", http.StatusBadRequest)
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrValidation):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, models.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, models.ErrAlreadyRedeemed),
		errors.Is(err, models.ErrPerkInactive),
		errors.Is(err, models.ErrInsufficientBalance),
		errors.Is(err, models.ErrMissingWallet),
		errors.Is(err, models.ErrInvalidState):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
