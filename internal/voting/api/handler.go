package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"ms-tokenomy/internal/auth"
	"ms-tokenomy/internal/models"
	"ms-tokenomy/internal/voting"
)

type Handler struct {
	Service *voting.Service
}

func (h *Handler) CreateVote(w http.ResponseWriter, r *http.Request) {
	var req voting.VoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	vote, err := h.Service.CreateVote(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(vote)
}

func (h *Handler) ListVotes(w http.ResponseWriter, r *http.Request) {
	votes, err := h.Service.ListVotes(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if votes == nil {
		votes = []models.Vote{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(votes)
}

func (h *Handler) GetVote(w http.ResponseWriter, r *http.Request) {
	vote, options, err := h.Service.GetVote(r.Context(), chi.URLParam(r, "voteID"))
	if err != nil {
		writeError(w, err)
		return
	}

	resp := map[string]interface{}{
		"vote":    vote,
		"options": options,
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (h *Handler) CastBallot(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	if userID == "" {
		http.Error(w, "unauthenticated", http.StatusUnauthorized)
		return
	}

	var req struct {
		OptionID string `json:"option_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	ballot, err := h.Service.CastBallot(r.Context(), chi.URLParam(r, "voteID"), userID, req.OptionID)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(ballot)
}

func (h *Handler) Results(w http.ResponseWriter, r *http.Request) {
	results, err := h.Service.Results(r.Context(), chi.URLParam(r, "voteID"))
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(results)
}

func (h *Handler) RemoveOption(w http.ResponseWriter, r *http.Request) {
	err := h.Service.RemoveOption(r.Context(), chi.URLParam(r, "voteID"), chi.URLParam(r, "optionID"))
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) CloseVote(w http.ResponseWriter, r *http.Request) {
	vote, err := h.Service.CloseVote(r.Context(), chi.URLParam(r, "voteID"))
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(vote)
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrValidation):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, models.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, models.ErrOptionNotInVote):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	case errors.Is(err, models.ErrAlreadyVoted), errors.Is(err, models.ErrInvalidState):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
