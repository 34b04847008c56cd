package api

import (
	"encoding/json"
	"net/http"

	"github.com/garnizeh/mockprep/internal/service"
)

type PersonalityHandler struct {
	svc *service.Service
}

func NewPersonalityHandler(svc *service.Service) *PersonalityHandler {
	return &PersonalityHandler{svc: svc}
}

type personalityResponse struct {
	Traits map[string]float64 `json:"traits"`
}

func (h *PersonalityHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFrom(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	t, err := h.svc.Personality(r.Context(), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if t == nil {
		t = map[string]float64{}
	}
	writeJSON(w, personalityResponse{Traits: t}, http.StatusOK)
}

// Update merges the submitted scores. Invalid entries come back as conflicts.
func (h *PersonalityHandler) Update(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFrom(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	var req personalityResponse
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Traits == nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}
	res, err := h.svc.UpdatePersonality(r.Context(), userID, req.Traits)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, res, http.StatusOK)
}
