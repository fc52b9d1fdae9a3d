package handlers

import (
	"net/http"
	"strings"

	"danmuhub/config"
	"danmuhub/internal/database"
	"danmuhub/utils/auth"
)

// AuthHandler runs PIN login for the control API and token validation for
// the compat API.
type AuthHandler struct {
	Cfg      *config.Manager
	Sessions *auth.Sessions
	Tokens   *database.TokenRepository
}

func NewAuthHandler(cfg *config.Manager, sessions *auth.Sessions, tokens *database.TokenRepository) *AuthHandler {
	return &AuthHandler{Cfg: cfg, Sessions: sessions, Tokens: tokens}
}

// Login exchanges the admin PIN for a session token.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var body struct {
		PIN string `json:"pin"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	settings, err := h.Cfg.Load()
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if !auth.VerifyPIN(settings.Server.PINHash, body.PIN) {
		writeJSONError(w, "invalid pin", http.StatusUnauthorized)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": h.Sessions.Create()})
}

// Logout revokes the presented session.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	h.Sessions.Revoke(bearerToken(r))
	w.WriteHeader(http.StatusNoContent)
}

// RequireAdmin gates control-API routes on a valid session.
func (h *AuthHandler) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !h.Sessions.Valid(bearerToken(r)) {
			writeJSONError(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireToken gates compat-API routes on an enabled API token, accepted
// either as a bearer header or a ?token= query parameter (players cannot
// always set headers).
func (h *AuthHandler) RequireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			token = r.URL.Query().Get("token")
		}
		if token == "" {
			writeJSONError(w, "token required", http.StatusUnauthorized)
			return
		}
		if _, err := h.Tokens.Validate(token); err != nil {
			writeJSONError(w, "invalid token", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return ""
}
