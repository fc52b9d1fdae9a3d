package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"danmuhub/handlers"
)

// corsMiddleware handles CORS for API routes
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "*")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Register mounts API endpoints onto the provided router.
func Register(
	r *mux.Router,
	authHandler *handlers.AuthHandler,
	compatHandler *handlers.CompatHandler,
	libraryHandler *handlers.LibraryHandler,
	taskHandler *handlers.TaskHandler,
	settingsHandler *handlers.SettingsHandler,
	tokenHandler *handlers.TokenHandler,
	webhookHandler *handlers.WebhookHandler,
	backupHandler *handlers.BackupHandler,
) {
	// Compat API: dandanplay-style endpoints gated on an API token.
	compat := r.PathPrefix("/api/v2").Subrouter()
	compat.Use(corsMiddleware)
	compat.Use(authHandler.RequireToken)
	compat.HandleFunc("/search/episodes", compatHandler.SearchEpisodes).Methods("GET", "OPTIONS")
	compat.HandleFunc("/match", compatHandler.Match).Methods("POST", "OPTIONS")
	compat.HandleFunc("/comment/{episodeId:[0-9]+}", compatHandler.Comments).Methods("GET", "OPTIONS")

	// Webhook ingress: media servers authenticate with the same API token
	// in the query string.
	hooks := r.PathPrefix("/api/webhook").Subrouter()
	hooks.Use(corsMiddleware)
	hooks.Use(authHandler.RequireToken)
	hooks.HandleFunc("/{source}", webhookHandler.Receive).Methods("POST", "OPTIONS")

	// Login is the only unauthenticated control endpoint.
	r.HandleFunc("/api/control/auth/login", authHandler.Login).Methods("POST", "OPTIONS")

	// Control API: web UI, gated on an admin session.
	control := r.PathPrefix("/api/control").Subrouter()
	control.Use(corsMiddleware)
	control.Use(authHandler.RequireAdmin)

	control.HandleFunc("/auth/logout", authHandler.Logout).Methods("POST", "OPTIONS")

	control.HandleFunc("/library", libraryHandler.ListAnime).Methods("GET", "OPTIONS")
	control.HandleFunc("/library/{animeId:[0-9]+}", libraryHandler.GetAnime).Methods("GET", "OPTIONS")
	control.HandleFunc("/library/{animeId:[0-9]+}", libraryHandler.DeleteAnime).Methods("DELETE", "OPTIONS")
	control.HandleFunc("/library/{animeId:[0-9]+}/sources", libraryHandler.ListSources).Methods("GET", "OPTIONS")
	control.HandleFunc("/sources/bulk-delete", libraryHandler.BulkDeleteSources).Methods("POST", "OPTIONS")
	control.HandleFunc("/sources/{sourceId:[0-9]+}", libraryHandler.DeleteSource).Methods("DELETE", "OPTIONS")
	control.HandleFunc("/sources/{sourceId:[0-9]+}/favorite", libraryHandler.FavoriteSource).Methods("PUT", "OPTIONS")
	control.HandleFunc("/sources/{sourceId:[0-9]+}/refresh", libraryHandler.RefreshSource).Methods("POST", "OPTIONS")
	control.HandleFunc("/sources/{sourceId:[0-9]+}/episodes", libraryHandler.ListEpisodes).Methods("GET", "OPTIONS")
	control.HandleFunc("/episodes/{episodeId:[0-9]+}/refresh", libraryHandler.RefreshEpisode).Methods("POST", "OPTIONS")
	control.HandleFunc("/episodes/{episodeId:[0-9]+}", libraryHandler.DeleteEpisode).Methods("DELETE", "OPTIONS")

	control.HandleFunc("/search", libraryHandler.Search).Methods("GET", "OPTIONS")
	control.HandleFunc("/import", libraryHandler.Import).Methods("POST", "OPTIONS")

	control.HandleFunc("/tasks", taskHandler.List).Methods("GET", "OPTIONS")
	control.HandleFunc("/tasks/prune", taskHandler.Prune).Methods("POST", "OPTIONS")
	control.HandleFunc("/tasks/{taskId}", taskHandler.Get).Methods("GET", "OPTIONS")
	control.HandleFunc("/tasks/{taskId}", taskHandler.Delete).Methods("DELETE", "OPTIONS")
	control.HandleFunc("/tasks/{taskId}/pause", taskHandler.Pause).Methods("POST", "OPTIONS")
	control.HandleFunc("/tasks/{taskId}/resume", taskHandler.Resume).Methods("POST", "OPTIONS")
	control.HandleFunc("/tasks/{taskId}/abort", taskHandler.Abort).Methods("POST", "OPTIONS")

	control.HandleFunc("/settings", settingsHandler.Get).Methods("GET", "OPTIONS")
	control.HandleFunc("/settings", settingsHandler.Update).Methods("PUT", "OPTIONS")
	control.HandleFunc("/rate-limit", settingsHandler.RateLimitStatus).Methods("GET", "OPTIONS")
	control.HandleFunc("/rate-limit/{key}/reset", settingsHandler.RateLimitReset).Methods("POST", "OPTIONS")

	control.HandleFunc("/tokens", tokenHandler.List).Methods("GET", "OPTIONS")
	control.HandleFunc("/tokens", tokenHandler.Create).Methods("POST", "OPTIONS")
	control.HandleFunc("/tokens/{tokenId:[0-9]+}/enabled", tokenHandler.SetEnabled).Methods("PUT", "OPTIONS")
	control.HandleFunc("/tokens/{tokenId:[0-9]+}", tokenHandler.Delete).Methods("DELETE", "OPTIONS")

	control.HandleFunc("/backup/export", backupHandler.Export).Methods("GET", "OPTIONS")
	control.HandleFunc("/backup/import", backupHandler.Import).Methods("POST", "OPTIONS")
}
