package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"danmuhub/config"
	"danmuhub/internal/database"
	"danmuhub/models"
	"danmuhub/services/search"
	"danmuhub/services/task"
)

// LibraryHandler serves the catalog: anime, sources, episodes, and the
// manual search/import flow driven from the web UI.
type LibraryHandler struct {
	Cfg      *config.Manager
	DB       *database.DB
	Searcher *search.Service
	Tasks    *task.Manager
	Deps     task.Deps
}

// ListAnime is GET /api/control/library?keyword=...
func (h *LibraryHandler) ListAnime(w http.ResponseWriter, r *http.Request) {
	rows, err := h.DB.Anime.List(r.URL.Query().Get("keyword"))
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if rows == nil {
		rows = []models.Anime{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"animes": rows})
}

// GetAnime is GET /api/control/library/{animeId}: the anime with its
// sources and stored metadata.
func (h *LibraryHandler) GetAnime(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "animeId")
	if !ok {
		return
	}
	anime, err := h.DB.Anime.Get(id)
	if err != nil {
		notFoundOr500(w, err)
		return
	}
	sources, err := h.DB.Anime.ListSources(id)
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	meta, _ := h.DB.Anime.GetMetadata(id)
	aliases, _ := h.DB.Anime.GetAliases(id)
	writeJSON(w, http.StatusOK, map[string]any{
		"anime":    anime,
		"sources":  sources,
		"metadata": meta,
		"aliases":  aliases,
	})
}

// DeleteAnime submits a management task that removes the anime, all of
// its sources, and every danmaku file on disk.
func (h *LibraryHandler) DeleteAnime(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "animeId")
	if !ok {
		return
	}
	anime, err := h.DB.Anime.Get(id)
	if err != nil {
		notFoundOr500(w, err)
		return
	}
	h.submitManagement(w, fmt.Sprintf("删除作品: %s", anime.Title), task.DeleteAnime(h.Deps, id), fmt.Sprintf("delete-anime-%d", id))
}

// ListSources is GET /api/control/library/{animeId}/sources.
func (h *LibraryHandler) ListSources(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "animeId")
	if !ok {
		return
	}
	sources, err := h.DB.Anime.ListSources(id)
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if sources == nil {
		sources = []models.AnimeSource{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"sources": sources})
}

// FavoriteSource is PUT /api/control/sources/{sourceId}/favorite.
func (h *LibraryHandler) FavoriteSource(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "sourceId")
	if !ok {
		return
	}
	var body struct {
		Favorited bool `json:"favorited"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if err := h.DB.Anime.SetFavorited(id, body.Favorited); err != nil {
		notFoundOr500(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sourceId": id, "favorited": body.Favorited})
}

// DeleteSource submits a management task removing one source and its files.
func (h *LibraryHandler) DeleteSource(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "sourceId")
	if !ok {
		return
	}
	source, err := h.DB.Anime.GetSource(id)
	if err != nil {
		notFoundOr500(w, err)
		return
	}
	h.submitManagement(w, fmt.Sprintf("删除源: %s (%s)", source.MediaID, source.Provider), task.DeleteSource(h.Deps, id), fmt.Sprintf("delete-source-%d", id))
}

// BulkDeleteSources is POST /api/control/sources/bulk-delete.
func (h *LibraryHandler) BulkDeleteSources(w http.ResponseWriter, r *http.Request) {
	var body struct {
		SourceIDs []int64 `json:"sourceIds"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if len(body.SourceIDs) == 0 {
		writeJSONError(w, "sourceIds is required", http.StatusBadRequest)
		return
	}
	h.submitManagement(w, fmt.Sprintf("批量删除 %d 个源", len(body.SourceIDs)), task.BulkDeleteSources(h.Deps, body.SourceIDs), "")
}

// RefreshSource submits a full refresh of every episode under a source.
func (h *LibraryHandler) RefreshSource(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "sourceId")
	if !ok {
		return
	}
	source, err := h.DB.Anime.GetSource(id)
	if err != nil {
		notFoundOr500(w, err)
		return
	}
	taskID, _, err := h.Tasks.Submit(task.Spec{
		Title:     fmt.Sprintf("刷新源: %s (%s)", source.MediaID, source.Provider),
		Queue:     models.QueueDownload,
		Body:      task.FullRefresh(h.Deps, id),
		UniqueKey: fmt.Sprintf("refresh-source-%d", id),
		Provider:  source.Provider,
	})
	respondSubmitted(w, taskID, err)
}

// ListEpisodes is GET /api/control/sources/{sourceId}/episodes.
func (h *LibraryHandler) ListEpisodes(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "sourceId")
	if !ok {
		return
	}
	episodes, err := h.DB.Anime.ListEpisodes(id)
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if episodes == nil {
		episodes = []models.Episode{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"episodes": episodes})
}

// RefreshEpisode submits a single-episode refetch.
func (h *LibraryHandler) RefreshEpisode(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "episodeId")
	if !ok {
		return
	}
	ep, err := h.DB.Anime.GetEpisode(id)
	if err != nil {
		notFoundOr500(w, err)
		return
	}
	source, err := h.DB.Anime.GetSource(ep.SourceID)
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	taskID, _, err := h.Tasks.Submit(task.Spec{
		Title:     fmt.Sprintf("刷新分集: %d", id),
		Queue:     models.QueueDownload,
		Body:      task.RefreshEpisode(h.Deps, id),
		UniqueKey: fmt.Sprintf("refresh-episode-%d", id),
		Provider:  source.Provider,
	})
	respondSubmitted(w, taskID, err)
}

// DeleteEpisode submits removal of one episode and its danmaku file.
func (h *LibraryHandler) DeleteEpisode(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "episodeId")
	if !ok {
		return
	}
	if _, err := h.DB.Anime.GetEpisode(id); err != nil {
		notFoundOr500(w, err)
		return
	}
	h.submitManagement(w, fmt.Sprintf("删除分集: %d", id), task.DeleteEpisode(h.Deps, id), fmt.Sprintf("delete-episode-%d", id))
}

// Search is GET /api/control/search?keyword=...: the full unified search
// pipeline, run inline for the UI.
func (h *LibraryHandler) Search(w http.ResponseWriter, r *http.Request) {
	keyword := r.URL.Query().Get("keyword")
	if keyword == "" {
		writeJSONError(w, "keyword is required", http.StatusBadRequest)
		return
	}
	settings, err := h.Cfg.Load()
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	opts := search.Options{
		UseAliasExpansion:        true,
		UseAliasFiltering:        true,
		UseTitleFiltering:        true,
		UseSourcePrioritySorting: r.URL.Query().Get("sort") == "source",
		MaxResultsPerSource:      settings.Search.MaxResultsPerSource,
		SeasonMapping:            settings.SeasonMapping.HomeSearch,
		TMDBID:                   r.URL.Query().Get("tmdbId"),
	}
	results, err := h.Searcher.UnifiedSearch(r.Context(), keyword, opts)
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if results == nil {
		results = []models.ProviderSearchResult{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

type importRequest struct {
	Provider   string `json:"provider"`
	MediaID    string `json:"mediaId"`
	AnimeTitle string `json:"animeTitle"`
	MediaType  string `json:"mediaType"`
	Season     int    `json:"season"`
	Year       int    `json:"year,omitempty"`
	ImageURL   string `json:"imageUrl,omitempty"`
	// EpisodeIndex restricts the import to a single episode; 0 imports all.
	EpisodeIndex int    `json:"episodeIndex,omitempty"`
	TMDBID       string `json:"tmdbId,omitempty"`
	IMDBID       string `json:"imdbId,omitempty"`
	TVDBID       string `json:"tvdbId,omitempty"`
	DoubanID     string `json:"doubanId,omitempty"`
	BangumiID    string `json:"bangumiId,omitempty"`
}

// Import is POST /api/control/import: submit a download task for the
// chosen search result.
func (h *LibraryHandler) Import(w http.ResponseWriter, r *http.Request) {
	var req importRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Provider == "" || req.MediaID == "" || req.AnimeTitle == "" {
		writeJSONError(w, "provider, mediaId and animeTitle are required", http.StatusBadRequest)
		return
	}
	params := task.ImportParams{
		Provider:            req.Provider,
		MediaID:             req.MediaID,
		AnimeTitle:          req.AnimeTitle,
		MediaType:           req.MediaType,
		Season:              req.Season,
		Year:                req.Year,
		ImageURL:            req.ImageURL,
		CurrentEpisodeIndex: req.EpisodeIndex,
		TMDBID:              req.TMDBID,
		IMDBID:              req.IMDBID,
		TVDBID:              req.TVDBID,
		DoubanID:            req.DoubanID,
		BangumiID:           req.BangumiID,
	}
	taskID, _, err := h.Tasks.Submit(task.Spec{
		Title:      fmt.Sprintf("导入: %s (%s)", req.AnimeTitle, req.Provider),
		Queue:      models.QueueDownload,
		Body:       task.GenericImport(h.Deps, params),
		UniqueKey:  task.ImportUniqueKey(params),
		TaskType:   task.TypeGenericImport,
		Parameters: params,
		Provider:   req.Provider,
	})
	respondSubmitted(w, taskID, err)
}

func (h *LibraryHandler) submitManagement(w http.ResponseWriter, title string, body task.Body, uniqueKey string) {
	taskID, _, err := h.Tasks.Submit(task.Spec{
		Title:     title,
		Queue:     models.QueueManagement,
		Body:      body,
		UniqueKey: uniqueKey,
	})
	respondSubmitted(w, taskID, err)
}

func respondSubmitted(w http.ResponseWriter, taskID string, err error) {
	if errors.Is(err, task.ErrTaskConflict) {
		writeJSONError(w, "相同任务已在队列中", http.StatusConflict)
		return
	}
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"taskId": taskID})
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)[name], 10, 64)
	if err != nil || id <= 0 {
		writeJSONError(w, "invalid "+name, http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func notFoundOr500(w http.ResponseWriter, err error) {
	if errors.Is(err, database.ErrNotFound) {
		writeJSONError(w, "not found", http.StatusNotFound)
		return
	}
	writeJSONError(w, err.Error(), http.StatusInternalServerError)
}
