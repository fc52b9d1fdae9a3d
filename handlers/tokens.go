package handlers

import (
	"net/http"
	"time"

	"danmuhub/internal/database"
	"danmuhub/models"
	"danmuhub/utils/auth"
)

// TokenHandler manages the API tokens the compat API is gated on.
type TokenHandler struct {
	Tokens *database.TokenRepository
}

// List is GET /api/control/tokens.
func (h *TokenHandler) List(w http.ResponseWriter, r *http.Request) {
	rows, err := h.Tokens.List()
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if rows == nil {
		rows = []models.APIToken{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"tokens": rows})
}

// Create is POST /api/control/tokens: mint a fresh token.
func (h *TokenHandler) Create(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name string `json:"name"`
		// ValidityDays of 0 means the token never expires.
		ValidityDays int `json:"validityDays"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if body.Name == "" {
		writeJSONError(w, "name is required", http.StatusBadRequest)
		return
	}
	value, err := auth.GenerateToken()
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	token := models.APIToken{Name: body.Name, Token: value, Enabled: true}
	if body.ValidityDays > 0 {
		expires := time.Now().AddDate(0, 0, body.ValidityDays)
		token.ExpiresAt = &expires
	}
	id, err := h.Tokens.Insert(&token)
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	token.ID = id
	writeJSON(w, http.StatusCreated, token)
}

// SetEnabled is PUT /api/control/tokens/{tokenId}/enabled.
func (h *TokenHandler) SetEnabled(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "tokenId")
	if !ok {
		return
	}
	var body struct {
		Enabled bool `json:"enabled"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if _, err := h.Tokens.Get(id); err != nil {
		notFoundOr500(w, err)
		return
	}
	if err := h.Tokens.SetEnabled(id, body.Enabled); err != nil {
		writeJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "enabled": body.Enabled})
}

// Delete is DELETE /api/control/tokens/{tokenId}.
func (h *TokenHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "tokenId")
	if !ok {
		return
	}
	if _, err := h.Tokens.Get(id); err != nil {
		notFoundOr500(w, err)
		return
	}
	if err := h.Tokens.Delete(id); err != nil {
		writeJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
