package task

import (
	"context"
	"fmt"
	"log"

	"danmuhub/config"
	"danmuhub/internal/database"
	"danmuhub/models"
	"danmuhub/services/danmaku"
	"danmuhub/services/library"
	"danmuhub/services/ratelimit"
	"danmuhub/services/recognition"
	"danmuhub/services/scraper"
)

// Recoverable task types; their parameters round-trip through the history
// table so a restart can replay them.
const (
	TypeGenericImport   = "generic_import"
	TypeWebhookDispatch = "webhook_search_and_dispatch"
)

// SeasonMapper reconciles custom season numbering against TMDB's canonical
// one; the search service implements it.
type SeasonMapper interface {
	MapSeason(ctx context.Context, tmdbID, title string, season, episode int) (int, int, bool)
}

// Deps carries everything the task bodies touch. One value is built at
// wiring time and shared.
type Deps struct {
	Cfg         *config.Manager
	DB          *database.DB
	Library     *library.Service
	Store       *danmaku.Store
	Scrapers    *scraper.Registry
	Limiter     ratelimit.Limiter
	Recognition *recognition.Manager
	Seasons     SeasonMapper
}

// ImportParams is the serialized parameter block of a generic import.
type ImportParams struct {
	Provider            string `json:"provider"`
	MediaID             string `json:"mediaId"`
	AnimeTitle          string `json:"animeTitle"`
	MediaType           string `json:"mediaType"`
	Season              int    `json:"season"`
	Year                int    `json:"year,omitempty"`
	ImageURL            string `json:"imageUrl,omitempty"`
	// CurrentEpisodeIndex limits the import to one episode; 0 imports all.
	CurrentEpisodeIndex int `json:"currentEpisodeIndex,omitempty"`
	// External catalogue IDs, recorded on the anime under fill-if-empty.
	TMDBID    string `json:"tmdbId,omitempty"`
	IMDBID    string `json:"imdbId,omitempty"`
	TVDBID    string `json:"tvdbId,omitempty"`
	DoubanID  string `json:"doubanId,omitempty"`
	BangumiID string `json:"bangumiId,omitempty"`
}

// HasExternalIDs reports whether any catalogue ID is present.
func (p ImportParams) HasExternalIDs() bool {
	return p.TMDBID != "" || p.IMDBID != "" || p.TVDBID != "" || p.DoubanID != "" || p.BangumiID != ""
}

// ImportUniqueKey is the dedup key of an import submission.
func ImportUniqueKey(p ImportParams) string {
	return fmt.Sprintf("import-%s-%s-S%d-ep%d", p.Provider, p.MediaID, p.Season, p.CurrentEpisodeIndex)
}

// GenericImport builds the import body: normalize the title, bind the
// source, list provider episodes and fetch danmaku for each under the
// smart-refresh rule. Rate limits pause the task instead of failing it.
func GenericImport(deps Deps, p ImportParams) Body {
	return func(ctx context.Context, progress ProgressFunc) Result {
		title := deps.Recognition.NormalizeTitle(p.AnimeTitle)
		season := deps.Recognition.Season(p.Provider, p.Season)
		if title == "" {
			return Failf("标题为空")
		}
		if err := progress(ctx, 0, "准备导入 "+title); err != nil {
			return Fail(err)
		}

		if deps.Seasons != nil && p.CurrentEpisodeIndex > 0 && models.MediaType(p.MediaType) != models.MediaTypeMovie {
			if settings, err := deps.Cfg.Load(); err == nil && settings.SeasonMapping.AutoImport {
				if ms, me, ok := deps.Seasons.MapSeason(ctx, p.TMDBID, title, season, p.CurrentEpisodeIndex); ok {
					log.Printf("[task] season mapping for %q: S%dE%d -> S%dE%d", title, season, p.CurrentEpisodeIndex, ms, me)
					season, p.CurrentEpisodeIndex = ms, me
				}
			}
		}

		sc, err := deps.Scrapers.Get(p.Provider)
		if err != nil {
			return Fail(err)
		}

		if err := deps.Limiter.Check(p.Provider); err != nil {
			if rl, ok := ratelimit.IsRateLimited(err); ok {
				return Pause(rl.RetryAfter, rl.Error())
			}
			return Fail(err)
		}
		episodes, err := sc.GetEpisodes(ctx, p.MediaID, models.MediaType(p.MediaType))
		_ = deps.Limiter.Increment(p.Provider)
		if err != nil {
			if rl, ok := ratelimit.IsRateLimited(err); ok {
				return Pause(rl.RetryAfter, rl.Error())
			}
			return Failf("获取分集列表失败: %v", err)
		}
		if len(episodes) == 0 {
			return Failf("提供方没有返回任何分集")
		}

		anime, _, err := deps.Library.GetOrCreateAnime(title, models.MediaType(p.MediaType), season, p.Year, p.ImageURL)
		if err != nil {
			return Fail(err)
		}
		source, err := deps.Library.GetOrCreateSource(anime.ID, p.Provider, p.MediaID)
		if err != nil {
			return Fail(err)
		}
		if p.HasExternalIDs() {
			err := deps.Library.ApplyMetadata(anime.ID, models.MetadataDetails{
				TMDBID:    p.TMDBID,
				IMDBID:    p.IMDBID,
				TVDBID:    p.TVDBID,
				DoubanID:  p.DoubanID,
				BangumiID: p.BangumiID,
			})
			if err != nil {
				log.Printf("[task] record metadata for anime %d: %v", anime.ID, err)
			}
		}
		if err := deps.Library.CacheCoverImage(ctx, anime); err != nil {
			log.Printf("[task] cache cover for anime %d: %v", anime.ID, err)
		}

		if p.CurrentEpisodeIndex > 0 {
			var picked []models.ProviderEpisodeInfo
			for _, ep := range episodes {
				idx := deps.Recognition.EpisodeIndex(ep.Title, ep.EpisodeIndex)
				if idx == p.CurrentEpisodeIndex {
					ep.EpisodeIndex = idx
					picked = append(picked, ep)
					break
				}
			}
			if len(picked) == 0 {
				return Failf("提供方分集列表中没有第 %d 集", p.CurrentEpisodeIndex)
			}
			episodes = picked
		}

		written, skipped := 0, 0
		for i, ep := range episodes {
			pct := 10 + (i*85)/len(episodes)
			if err := progress(ctx, pct, fmt.Sprintf("下载弹幕 %d/%d", i+1, len(episodes))); err != nil {
				return Fail(err)
			}
			n, res := fetchEpisode(ctx, deps, anime, source, ep)
			if res != nil {
				return *res
			}
			if n > 0 {
				written++
			} else {
				skipped++
			}
		}
		return Done(fmt.Sprintf("%s: 导入 %d 集, 跳过 %d 集", msgCompleted, written, skipped))
	}
}

// fetchEpisode performs the rate-limited fetch-and-save for one provider
// episode. A non-nil Result short-circuits the caller.
func fetchEpisode(ctx context.Context, deps Deps, anime *models.Anime, source *models.AnimeSource, ep models.ProviderEpisodeInfo) (int, *Result) {
	idx := deps.Recognition.EpisodeIndex(ep.Title, ep.EpisodeIndex)

	if err := deps.Limiter.Check(source.Provider); err != nil {
		if rl, ok := ratelimit.IsRateLimited(err); ok {
			r := Pause(rl.RetryAfter, rl.Error())
			return 0, &r
		}
		r := Fail(err)
		return 0, &r
	}

	sc, err := deps.Scrapers.Get(source.Provider)
	if err != nil {
		r := Fail(err)
		return 0, &r
	}
	comments, err := sc.GetComments(ctx, ep.EpisodeID)
	_ = deps.Limiter.Increment(source.Provider)
	if err != nil {
		if rl, ok := ratelimit.IsRateLimited(err); ok {
			r := Pause(rl.RetryAfter, rl.Error())
			return 0, &r
		}
		r := Failf("获取弹幕失败 (第 %d 集): %v", idx, err)
		return 0, &r
	}

	row, err := deps.Library.EnsureEpisode(anime, source, idx, ep.Title, ep.EpisodeID, ep.URL)
	if err != nil {
		r := Fail(err)
		return 0, &r
	}
	n, err := deps.Store.SaveForEpisode(anime, source, row, comments)
	if err != nil {
		r := Fail(err)
		return 0, &r
	}
	return n, nil
}

// RefreshEpisode re-fetches one episode through the stored provider handle.
// The smart-refresh rule means only a strictly richer fetch replaces the
// file; a no-op bumps the source's incremental failure counter.
func RefreshEpisode(deps Deps, episodeID int64) Body {
	return func(ctx context.Context, progress ProgressFunc) Result {
		anime, source, ep, err := deps.Library.ResolveEpisode(episodeID)
		if err != nil {
			return Fail(err)
		}
		if err := progress(ctx, 10, fmt.Sprintf("刷新 %s 第 %d 集", anime.Title, ep.EpisodeIndex)); err != nil {
			return Fail(err)
		}
		n, res := fetchEpisode(ctx, deps, anime, source, models.ProviderEpisodeInfo{
			Provider:     source.Provider,
			EpisodeIndex: ep.EpisodeIndex,
			Title:        ep.Title,
			EpisodeID:    ep.ProviderEpisodeID,
			URL:          ep.SourceURL,
		})
		if res != nil {
			return *res
		}
		if n == 0 {
			_ = deps.DB.Anime.BumpRefreshFailures(source.ID, false)
			return Done(fmt.Sprintf("%s: 弹幕数未增加, 保留现有文件", msgCompleted))
		}
		_ = deps.DB.Anime.BumpRefreshFailures(source.ID, true)
		return Done(fmt.Sprintf("%s: 更新为 %d 条弹幕", msgCompleted, n))
	}
}

// FullRefresh walks every episode of a source from the database (never the
// provider's episode list, which is frequently broken) and refreshes each.
// A rate limit pauses the whole refresh as one unit.
func FullRefresh(deps Deps, sourceID int64) Body {
	return func(ctx context.Context, progress ProgressFunc) Result {
		source, err := deps.DB.Anime.GetSource(sourceID)
		if err != nil {
			return Fail(err)
		}
		anime, err := deps.DB.Anime.Get(source.AnimeID)
		if err != nil {
			return Fail(err)
		}
		episodes, err := deps.DB.Anime.ListEpisodes(sourceID)
		if err != nil {
			return Fail(err)
		}
		if len(episodes) == 0 {
			return Done(fmt.Sprintf("%s: 该源没有分集", msgCompleted))
		}

		updated, skipped, failed := 0, 0, 0
		for i, ep := range episodes {
			pct := (i * 100) / len(episodes)
			if err := progress(ctx, pct, fmt.Sprintf("刷新 %d/%d", i+1, len(episodes))); err != nil {
				return Fail(err)
			}
			n, res := fetchEpisode(ctx, deps, anime, source, models.ProviderEpisodeInfo{
				Provider:     source.Provider,
				EpisodeIndex: ep.EpisodeIndex,
				Title:        ep.Title,
				EpisodeID:    ep.ProviderEpisodeID,
				URL:          ep.SourceURL,
			})
			if res != nil {
				if res.kind == resultPause {
					return *res
				}
				failed++
				log.Printf("[task] full refresh %d/%d failed: %v", i+1, len(episodes), res.err)
				continue
			}
			if n > 0 {
				updated++
			} else {
				skipped++
			}
		}
		return Done(fmt.Sprintf("%s: 更新 %d, 跳过 %d, 失败 %d", msgCompleted, updated, skipped, failed))
	}
}

// DeleteEpisode removes one episode row and its danmaku file.
func DeleteEpisode(deps Deps, episodeID int64) Body {
	return func(ctx context.Context, progress ProgressFunc) Result {
		ep, err := deps.DB.Anime.GetEpisode(episodeID)
		if err != nil {
			return Fail(err)
		}
		if err := progress(ctx, 50, "删除分集"); err != nil {
			return Fail(err)
		}
		if err := deps.DB.Anime.DeleteEpisode(episodeID); err != nil {
			return Fail(err)
		}
		if err := deps.Store.DeleteEpisodeFile(ep.DanmakuFilePath); err != nil {
			log.Printf("[task] delete episode file %s: %v", ep.DanmakuFilePath, err)
		}
		return Done("")
	}
}

// DeleteSource removes a source, its episodes and their files. When that
// leaves the anime with no sources, the anime row goes too.
func DeleteSource(deps Deps, sourceID int64) Body {
	return func(ctx context.Context, progress ProgressFunc) Result {
		source, err := deps.DB.Anime.GetSource(sourceID)
		if err != nil {
			return Fail(err)
		}
		paths, err := deps.DB.Anime.DanmakuPathsForSource(sourceID)
		if err != nil {
			return Fail(err)
		}
		if err := progress(ctx, 30, "删除数据源"); err != nil {
			return Fail(err)
		}
		if err := deps.DB.Anime.DeleteSource(sourceID); err != nil {
			return Fail(err)
		}
		deps.Store.DeleteFiles(paths)

		remaining, err := deps.DB.Anime.CountSources(source.AnimeID)
		if err == nil && remaining == 0 {
			if err := deps.DB.Anime.Delete(source.AnimeID); err != nil {
				log.Printf("[task] delete orphaned anime %d: %v", source.AnimeID, err)
			}
		}
		return Done(fmt.Sprintf("%s: 删除 %d 个弹幕文件", msgCompleted, len(paths)))
	}
}

// DeleteAnime removes the whole aggregate: rows cascade, files are swept in
// one batch.
func DeleteAnime(deps Deps, animeID int64) Body {
	return func(ctx context.Context, progress ProgressFunc) Result {
		paths, err := deps.DB.Anime.DanmakuPathsForAnime(animeID)
		if err != nil {
			return Fail(err)
		}
		if err := progress(ctx, 30, "删除作品"); err != nil {
			return Fail(err)
		}
		if err := deps.DB.Anime.Delete(animeID); err != nil {
			return Fail(err)
		}
		deps.Store.DeleteFiles(paths)
		return Done(fmt.Sprintf("%s: 删除 %d 个弹幕文件", msgCompleted, len(paths)))
	}
}

// BulkDeleteSources deletes several sources in one task.
func BulkDeleteSources(deps Deps, sourceIDs []int64) Body {
	return func(ctx context.Context, progress ProgressFunc) Result {
		deleted := 0
		for i, id := range sourceIDs {
			pct := (i * 100) / len(sourceIDs)
			if err := progress(ctx, pct, fmt.Sprintf("删除数据源 %d/%d", i+1, len(sourceIDs))); err != nil {
				return Fail(err)
			}
			body := DeleteSource(deps, id)
			if res := body(ctx, progress); res.kind == resultFail {
				log.Printf("[task] bulk delete source %d: %v", id, res.err)
				continue
			}
			deleted++
		}
		return Done(fmt.Sprintf("%s: 删除 %d/%d 个数据源", msgCompleted, deleted, len(sourceIDs)))
	}
}

// PreDownloadUniqueKey dedups the next-episode prefetch.
func PreDownloadUniqueKey(provider, mediaID string, episode int) string {
	return fmt.Sprintf("predownload_%s_%s_%d", provider, mediaID, episode)
}

// PreDownloadNextEpisode fetches episode N+1 of the same source after N was
// served, so the next play starts with danmaku already on disk.
func PreDownloadNextEpisode(deps Deps, sourceID int64, nextIndex int) Body {
	return func(ctx context.Context, progress ProgressFunc) Result {
		source, err := deps.DB.Anime.GetSource(sourceID)
		if err != nil {
			return Fail(err)
		}
		anime, err := deps.DB.Anime.Get(source.AnimeID)
		if err != nil {
			return Fail(err)
		}
		if err := progress(ctx, 10, fmt.Sprintf("预下载 %s 第 %d 集", anime.Title, nextIndex)); err != nil {
			return Fail(err)
		}

		sc, err := deps.Scrapers.Get(source.Provider)
		if err != nil {
			return Fail(err)
		}
		if err := deps.Limiter.Check(source.Provider); err != nil {
			if rl, ok := ratelimit.IsRateLimited(err); ok {
				return Pause(rl.RetryAfter, rl.Error())
			}
			return Fail(err)
		}
		episodes, err := sc.GetEpisodes(ctx, source.MediaID, anime.Type)
		_ = deps.Limiter.Increment(source.Provider)
		if err != nil {
			return Failf("获取分集列表失败: %v", err)
		}
		for _, ep := range episodes {
			if deps.Recognition.EpisodeIndex(ep.Title, ep.EpisodeIndex) != nextIndex {
				continue
			}
			ep.EpisodeIndex = nextIndex
			n, res := fetchEpisode(ctx, deps, anime, source, ep)
			if res != nil {
				return *res
			}
			return Done(fmt.Sprintf("%s: 预下载 %d 条弹幕", msgCompleted, n))
		}
		return Done(fmt.Sprintf("%s: 提供方尚未更新第 %d 集", msgCompleted, nextIndex))
	}
}
