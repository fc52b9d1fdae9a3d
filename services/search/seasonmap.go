package search

import (
	"context"
	"log"
	"strconv"

	"danmuhub/config"
	"danmuhub/models"
	"danmuhub/services/metasource"
)

// MapSeason reconciles a custom (season, episode) numbering against TMDB's
// canonical one through the entry's episode groups. Stored mappings answer
// first; on a miss the largest episode group is fetched, persisted and
// scanned. The input numbering comes back unchanged when nothing maps.
func (s *Service) MapSeason(ctx context.Context, tmdbID, title string, season, episode int) (int, int, bool) {
	if episode <= 0 {
		return season, episode, false
	}
	if season <= 0 {
		season = 1
	}

	tvID := s.resolveTmdbTV(ctx, tmdbID, title)
	if tvID == 0 {
		return season, episode, false
	}

	if s.db != nil {
		if m, err := s.db.Anime.LookupEpisodeMappingByTV(tvID, season, episode); err == nil {
			return m.TmdbSeason, m.TmdbEpisode, true
		}
	}

	src, err := s.metas.Get("tmdb")
	if err != nil {
		return season, episode, false
	}
	tmdb, ok := src.(*metasource.TMDB)
	if !ok {
		return season, episode, false
	}

	groups, err := tmdb.EpisodeGroups(ctx, tvID)
	if err != nil {
		log.Printf("[search] episode groups for tv %d: %v", tvID, err)
		return season, episode, false
	}
	best := pickEpisodeGroup(groups)
	if best == nil {
		return season, episode, false
	}

	mappings, err := tmdb.EpisodeGroupMappings(ctx, tvID, best.ID)
	if err != nil {
		log.Printf("[search] episode group %s for tv %d: %v", best.ID, tvID, err)
		return season, episode, false
	}
	if s.db != nil {
		for _, m := range mappings {
			if err := s.db.Anime.UpsertEpisodeMapping(m); err != nil {
				log.Printf("[search] store episode mapping: %v", err)
				break
			}
		}
	}
	for _, m := range mappings {
		if m.CustomSeason == season && m.CustomEpisode == episode {
			log.Printf("[search] season mapping S%dE%d -> S%dE%d via group %s", season, episode, m.TmdbSeason, m.TmdbEpisode, best.ID)
			return m.TmdbSeason, m.TmdbEpisode, true
		}
	}
	return season, episode, false
}

// resolveTmdbTV turns an explicit ID or a title into a TMDB TV id. The
// title lookup is cached under the metadata-search TTL.
func (s *Service) resolveTmdbTV(ctx context.Context, tmdbID, title string) int64 {
	if tmdbID != "" {
		id, err := strconv.ParseInt(tmdbID, 10, 64)
		if err == nil && id > 0 {
			return id
		}
	}
	if title == "" {
		return 0
	}

	src, err := s.metas.Get("tmdb")
	if err != nil {
		return 0
	}
	cacheKey := "metadata_search_tmdb_tv_" + title
	var details []models.MetadataDetails
	if !s.cacheGet(cacheKey, &details) {
		details, err = src.Search(ctx, title, models.MediaTypeTVSeries)
		if err != nil {
			log.Printf("[search] tmdb lookup for %q: %v", title, err)
			return 0
		}
		if len(details) > 0 {
			ttl := s.cacheTTL(func(c config.CacheSettings) int { return c.MetadataSearchTTLSeconds })
			s.cachePut(cacheKey, details, ttl)
		}
	}
	if len(details) == 0 {
		return 0
	}
	id, err := strconv.ParseInt(details[0].TMDBID, 10, 64)
	if err != nil || id <= 0 {
		return 0
	}
	return id
}

// pickEpisodeGroup prefers the group covering the most episodes.
func pickEpisodeGroup(groups []metasource.TmdbEpisodeGroup) *metasource.TmdbEpisodeGroup {
	var best *metasource.TmdbEpisodeGroup
	for i := range groups {
		g := &groups[i]
		if g.EpisodeCount == 0 {
			continue
		}
		if best == nil || g.EpisodeCount > best.EpisodeCount {
			best = g
		}
	}
	return best
}
