package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"danmuhub/config"
	"danmuhub/models"
	"danmuhub/services/ratelimit"
)

// SettingsHandler reads and writes the persisted configuration, plus the
// rate-limiter status views built on it.
type SettingsHandler struct {
	Cfg     *config.Manager
	Limiter ratelimit.Limiter
}

// Get is GET /api/control/settings. The PIN hash never leaves the server.
func (h *SettingsHandler) Get(w http.ResponseWriter, r *http.Request) {
	settings, err := h.Cfg.Load()
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	settings.Server.PINHash = ""
	writeJSON(w, http.StatusOK, settings)
}

// Update is PUT /api/control/settings: replace the whole settings
// document. The stored PIN hash is preserved across updates.
func (h *SettingsHandler) Update(w http.ResponseWriter, r *http.Request) {
	current, err := h.Cfg.Load()
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	incoming := current
	if !decodeBody(w, r, &incoming) {
		return
	}
	incoming.Server.PINHash = current.Server.PINHash
	if err := h.Cfg.Save(incoming); err != nil {
		writeJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	h.Cfg.Invalidate()
	writeJSON(w, http.StatusOK, map[string]string{"status": "saved"})
}

// RateLimitStatus is GET /api/control/rate-limit: every persisted counter
// plus the global window.
func (h *SettingsHandler) RateLimitStatus(w http.ResponseWriter, r *http.Request) {
	states, err := h.Limiter.States()
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if states == nil {
		states = []models.RateLimitState{}
	}
	limited, retryAfter := h.Limiter.GlobalStatus()
	writeJSON(w, http.StatusOK, map[string]any{
		"states":             states,
		"globalLimited":      limited,
		"globalRetryAfterMs": retryAfter.Milliseconds(),
	})
}

// RateLimitReset is POST /api/control/rate-limit/{key}/reset. The key
// "all" clears every counter.
func (h *SettingsHandler) RateLimitReset(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]
	if key == "" {
		writeJSONError(w, "key is required", http.StatusBadRequest)
		return
	}
	if key == "all" {
		key = ""
	}
	if err := h.Limiter.Reset(key); err != nil {
		writeJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}
