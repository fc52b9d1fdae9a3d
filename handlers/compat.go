package handlers

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"danmuhub/config"
	"danmuhub/internal/database"
	"danmuhub/models"
	"danmuhub/services/danmaku"
	"danmuhub/services/library"
	"danmuhub/services/ratelimit"
	"danmuhub/services/search"
	"danmuhub/services/task"
	"danmuhub/utils/titleparse"
)

// CompatHandler implements the dandanplay-style endpoints players consume:
// episode search, file match, and comment retrieval. Library misses can
// auto-trigger fallback imports, budgeted by the fallback quota.
type CompatHandler struct {
	Cfg      *config.Manager
	DB       *database.DB
	Store    *danmaku.Store
	Library  *library.Service
	Searcher *search.Service
	Tasks    *task.Manager
	Deps     task.Deps
	Limiter  ratelimit.Limiter
}

type compatEpisode struct {
	EpisodeID    int64  `json:"episodeId"`
	EpisodeTitle string `json:"episodeTitle"`
}

type compatAnime struct {
	AnimeID    int64           `json:"animeId"`
	AnimeTitle string          `json:"animeTitle"`
	Type       string          `json:"type"`
	Episodes   []compatEpisode `json:"episodes"`
}

// SearchEpisodes is GET /api/v2/search/episodes?anime=...&episode=N.
func (h *CompatHandler) SearchEpisodes(w http.ResponseWriter, r *http.Request) {
	keyword := strings.TrimSpace(r.URL.Query().Get("anime"))
	if keyword == "" {
		writeJSONError(w, "anime parameter is required", http.StatusBadRequest)
		return
	}
	wantEpisode, _ := strconv.Atoi(r.URL.Query().Get("episode"))

	parsed := titleparse.Parse(keyword)
	season := parsed.Season
	if settings, err := h.Cfg.Load(); err == nil && settings.SeasonMapping.ExternalSearch && wantEpisode > 0 {
		if ms, me, ok := h.Searcher.MapSeason(r.Context(), "", parsed.Title, season, wantEpisode); ok {
			season, wantEpisode = ms, me
		}
	}

	animes, err := h.lookupLibrary(parsed.Title, season, wantEpisode)
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if len(animes) == 0 {
		h.triggerFallback(r.Context(), ratelimit.KeyFallbackSearch, parsed.Title, wantEpisode)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"hasMore": false,
		"animes":  animes,
	})
}

type matchRequest struct {
	FileName string `json:"fileName"`
	FileHash string `json:"fileHash,omitempty"`
	FileSize int64  `json:"fileSize,omitempty"`
}

type matchEntry struct {
	EpisodeID    int64  `json:"episodeId"`
	AnimeID      int64  `json:"animeId"`
	AnimeTitle   string `json:"animeTitle"`
	EpisodeTitle string `json:"episodeTitle"`
	Type         string `json:"type"`
	Shift        int    `json:"shift"`
}

// Match is POST /api/v2/match: resolve a local filename to an episode ID.
func (h *CompatHandler) Match(w http.ResponseWriter, r *http.Request) {
	var req matchRequest
	if !decodeBody(w, r, &req) {
		return
	}
	parsed := titleparse.Parse(req.FileName)
	if parsed.Title == "" {
		writeJSON(w, http.StatusOK, map[string]any{"isMatched": false, "matches": []matchEntry{}})
		return
	}
	episode := parsed.Episode
	if episode <= 0 {
		episode = 1
	}

	animes, err := h.lookupLibrary(parsed.Title, parsed.Season, episode)
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	var matches []matchEntry
	for _, a := range animes {
		for _, ep := range a.Episodes {
			matches = append(matches, matchEntry{
				EpisodeID:    ep.EpisodeID,
				AnimeID:      a.AnimeID,
				AnimeTitle:   a.AnimeTitle,
				EpisodeTitle: ep.EpisodeTitle,
				Type:         a.Type,
				Shift:        0,
			})
		}
	}
	if len(matches) == 0 {
		h.triggerFallback(r.Context(), ratelimit.KeyFallbackMatch, parsed.Title, episode)
		writeJSON(w, http.StatusOK, map[string]any{"isMatched": false, "matches": []matchEntry{}})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"isMatched": len(matches) == 1,
		"matches":   matches,
	})
}

type commentItem struct {
	CID int64  `json:"cid"`
	P   string `json:"p"`
	M   string `json:"m"`
}

// Comments is GET /api/v2/comment/{episodeId}: serve the stored danmaku
// with post-processing applied, then opportunistically prefetch N+1.
func (h *CompatHandler) Comments(w http.ResponseWriter, r *http.Request) {
	episodeID, err := strconv.ParseInt(mux.Vars(r)["episodeId"], 10, 64)
	if err != nil {
		writeJSONError(w, "invalid episode id", http.StatusBadRequest)
		return
	}

	anime, source, ep, err := h.Library.ResolveEpisode(episodeID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			writeJSON(w, http.StatusOK, map[string]any{"count": 0, "comments": []commentItem{}})
			return
		}
		writeJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	comments, err := h.Store.ReadEpisode(ep)
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	settings, err := h.Cfg.Load()
	if err == nil {
		comments = danmaku.Postprocess(settings, comments)
	}

	items := make([]commentItem, len(comments))
	for i, c := range comments {
		items[i] = commentItem{CID: c.CID, P: c.P, M: c.M}
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(items), "comments": items})

	if err == nil && settings.Fallback.PreDownloadNextEpisode && anime.Type == models.MediaTypeTVSeries {
		h.preDownloadNext(source, ep.EpisodeIndex+1, anime.Title)
	}
}

func (h *CompatHandler) preDownloadNext(source *models.AnimeSource, nextIndex int, title string) {
	_, _, err := h.Tasks.Submit(task.Spec{
		Title:     fmt.Sprintf("预下载: %s 第%d集", title, nextIndex),
		Queue:     models.QueueFallback,
		Body:      task.PreDownloadNextEpisode(h.Deps, source.ID, nextIndex),
		UniqueKey: task.PreDownloadUniqueKey(source.Provider, source.MediaID, nextIndex),
		Provider:  source.Provider,
	})
	if err != nil && !errors.Is(err, task.ErrTaskConflict) {
		log.Printf("[compat] pre-download submit: %v", err)
	}
}

// lookupLibrary finds cataloged episodes whose title contains the keyword.
func (h *CompatHandler) lookupLibrary(title string, season, wantEpisode int) ([]compatAnime, error) {
	rows, err := h.DB.Anime.List(title)
	if err != nil {
		return nil, err
	}

	var out []compatAnime
	for _, a := range rows {
		if season > 0 && a.Season != season {
			continue
		}
		sources, err := h.DB.Anime.ListSources(a.ID)
		if err != nil {
			return nil, err
		}
		entry := compatAnime{AnimeID: a.ID, AnimeTitle: a.Title, Type: compatType(a.Type)}
		for _, src := range sources {
			episodes, err := h.DB.Anime.ListEpisodes(src.ID)
			if err != nil {
				return nil, err
			}
			for _, ep := range episodes {
				if wantEpisode > 0 && ep.EpisodeIndex != wantEpisode {
					continue
				}
				title := ep.Title
				if title == "" {
					title = fmt.Sprintf("第%d集", ep.EpisodeIndex)
				}
				entry.Episodes = append(entry.Episodes, compatEpisode{EpisodeID: ep.ID, EpisodeTitle: title})
			}
		}
		if len(entry.Episodes) > 0 {
			out = append(out, entry)
		}
	}
	return out, nil
}

// triggerFallback submits a search-and-import task for a library miss,
// spending one unit of the fallback quota.
func (h *CompatHandler) triggerFallback(ctx context.Context, kind, title string, episode int) {
	settings, err := h.Cfg.Load()
	if err != nil {
		return
	}
	switch kind {
	case ratelimit.KeyFallbackMatch:
		if !settings.Fallback.MatchEnabled {
			return
		}
	case ratelimit.KeyFallbackSearch:
		if !settings.Fallback.SearchEnabled {
			return
		}
	}
	if err := h.Limiter.CheckFallback(kind, ""); err != nil {
		log.Printf("[compat] fallback quota spent: %v", err)
		return
	}
	if episode <= 0 {
		episode = 1
	}

	body := h.fallbackBody(kind, title, episode)
	_, _, err = h.Tasks.Submit(task.Spec{
		Title:     fmt.Sprintf("自动匹配: %s 第%d集", title, episode),
		Queue:     models.QueueFallback,
		Body:      body,
		UniqueKey: fmt.Sprintf("fallback-%s-S0-ep%d-%s", title, episode, kind),
	})
	if err != nil && !errors.Is(err, task.ErrTaskConflict) {
		log.Printf("[compat] fallback submit: %v", err)
	}
}

// fallbackBody searches providers for the missed title and chains into a
// normal import of the winning candidate.
func (h *CompatHandler) fallbackBody(kind, title string, episode int) task.Body {
	return func(ctx context.Context, progress task.ProgressFunc) task.Result {
		if err := progress(ctx, 10, "搜索弹幕源: "+title); err != nil {
			return task.Fail(err)
		}
		// The mapped numbering has to drive the ladder and the import too,
		// so the remap happens here rather than inside the search.
		season := 0
		if settings, err := h.Cfg.Load(); err == nil {
			mapping := false
			switch kind {
			case ratelimit.KeyFallbackMatch:
				mapping = settings.SeasonMapping.MatchFallback
			case ratelimit.KeyFallbackSearch:
				mapping = settings.SeasonMapping.FallbackSearch
			}
			if mapping {
				if ms, me, ok := h.Searcher.MapSeason(ctx, "", title, 0, episode); ok {
					season, episode = ms, me
				}
			}
		}
		opts := search.Options{
			UseAliasExpansion:        true,
			UseAliasFiltering:        true,
			UseTitleFiltering:        true,
			StrictFiltering:          true,
			AliasSimilarityThreshold: 70,
			EpisodeInfo:              &models.EpisodeInfo{Season: season, Episode: episode},
		}
		ranked, err := h.Searcher.UnifiedSearch(ctx, title, opts)
		if err != nil {
			return task.Fail(err)
		}
		if len(ranked) == 0 {
			return task.Failf("没有找到匹配的弹幕源")
		}

		idx := h.Searcher.SelectBest(ctx, title, ranked, opts)
		var chosen *models.ProviderSearchResult
		if idx >= 0 {
			chosen = &ranked[idx]
		} else {
			chosen, err = h.Searcher.VerifyLadder(ctx, ranked, episode, false)
			if rl, ok := ratelimit.IsRateLimited(err); ok {
				return task.Pause(rl.RetryAfter, rl.Error())
			}
			if err != nil {
				return task.Fail(err)
			}
		}
		if chosen == nil {
			return task.Failf("没有候选通过分集校验")
		}
		_ = h.Limiter.IncrementFallback(kind, chosen.Provider)

		if err := progress(ctx, 40, fmt.Sprintf("导入 %s/%s", chosen.Provider, chosen.MediaID)); err != nil {
			return task.Fail(err)
		}
		importBody := task.GenericImport(h.Deps, task.ImportParams{
			Provider:            chosen.Provider,
			MediaID:             chosen.MediaID,
			AnimeTitle:          chosen.Title,
			MediaType:           string(chosen.Type),
			Season:              chosen.Season,
			Year:                chosen.Year,
			ImageURL:            chosen.ImageURL,
			CurrentEpisodeIndex: episode,
		})
		return importBody(ctx, progress)
	}
}

func compatType(t models.MediaType) string {
	switch t {
	case models.MediaTypeMovie:
		return "movie"
	case models.MediaTypeOVA:
		return "ova"
	default:
		return "tvseries"
	}
}
