// Package search implements the unified search pipeline: parse the query,
// expand aliases through metadata sources, fan out to every enabled
// scraper, filter and rank the candidates, and optionally let the AI
// matcher break ties.
package search

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"regexp"
	"sync"
	"time"

	"github.com/sourcegraph/conc/pool"

	"danmuhub/config"
	"danmuhub/internal/database"
	"danmuhub/models"
	"danmuhub/services/aimatch"
	"danmuhub/services/metasource"
	"danmuhub/services/ratelimit"
	"danmuhub/services/scraper"
	"danmuhub/utils/similarity"
	"danmuhub/utils/titleparse"
)

// Options tunes one pipeline invocation. The zero value searches with no
// alias expansion and no filtering.
type Options struct {
	UseAliasExpansion        bool
	UseAliasFiltering        bool
	UseTitleFiltering        bool
	UseSourcePrioritySorting bool
	StrictFiltering          bool
	CustomAliases            []string
	MaxResultsPerSource      int
	EpisodeInfo              *models.EpisodeInfo
	// AliasSimilarityThreshold accepts metadata-source aliases; 0 means the
	// default 75.
	AliasSimilarityThreshold int
	// MediaType is the caller's intent when known; it drives season
	// filtering and the movie branch of the fallback ladder.
	MediaType models.MediaType
	// Year of the query when the caller knows it, for ranking bonuses.
	Year int
	// SeasonMapping rewrites the requested (season, episode) through TMDB
	// episode groups before searching. TMDBID skips the title lookup.
	SeasonMapping bool
	TMDBID        string
}

const (
	defaultAliasThreshold = 75
	titleFilterRatio       = 85
	strictFilterRatio      = 95
	aliasCacheTTL          = time.Hour
)

var movieMarkerRe = regexp.MustCompile(`剧场版|劇場版|movie|映画`)

// Service runs the pipeline.
type Service struct {
	cfg      *config.Manager
	scrapers *scraper.Registry
	metas    *metasource.Registry
	limiter  ratelimit.Limiter
	cache    *database.CacheRepository
	ai       *aimatch.Matcher
	db       *database.DB

	simCache simCache
}

func New(cfg *config.Manager, scrapers *scraper.Registry, metas *metasource.Registry, limiter ratelimit.Limiter, cache *database.CacheRepository, ai *aimatch.Matcher, db *database.DB) *Service {
	return &Service{
		cfg:      cfg,
		scrapers: scrapers,
		metas:    metas,
		limiter:  limiter,
		cache:    cache,
		ai:       ai,
		db:       db,
	}
}

// UnifiedSearch returns candidates ranked best-first. Callers either take
// the head or present the list.
func (s *Service) UnifiedSearch(ctx context.Context, term string, opts Options) ([]models.ProviderSearchResult, error) {
	settings, err := s.cfg.Load()
	if err != nil {
		return nil, err
	}
	if opts.MaxResultsPerSource <= 0 {
		opts.MaxResultsPerSource = settings.Search.MaxResultsPerSource
	}
	if opts.AliasSimilarityThreshold <= 0 {
		opts.AliasSimilarityThreshold = defaultAliasThreshold
	}

	parsed := titleparse.Parse(term)
	if opts.EpisodeInfo == nil && (parsed.Season > 0 || parsed.Episode > 0) {
		opts.EpisodeInfo = &models.EpisodeInfo{Season: parsed.Season, Episode: parsed.Episode}
	}
	if opts.MediaType == "" && parsed.IsMovie {
		opts.MediaType = models.MediaTypeMovie
	}

	if opts.SeasonMapping && opts.MediaType != models.MediaTypeMovie {
		season, episode := parsed.Season, parsed.Episode
		if opts.EpisodeInfo != nil {
			if opts.EpisodeInfo.Season > 0 {
				season = opts.EpisodeInfo.Season
			}
			if opts.EpisodeInfo.Episode > 0 {
				episode = opts.EpisodeInfo.Episode
			}
		}
		if episode > 0 {
			if ms, me, ok := s.MapSeason(ctx, opts.TMDBID, parsed.Title, season, episode); ok {
				parsed.Season = ms
				opts.EpisodeInfo = &models.EpisodeInfo{Season: ms, Episode: me}
			}
		}
	}

	// Alias expansion runs concurrently with the provider fan-out.
	var aliases []string
	var aliasWG sync.WaitGroup
	if opts.UseAliasExpansion {
		aliasWG.Add(1)
		go func() {
			defer aliasWG.Done()
			aliases = s.expandAliases(ctx, parsed.Title, opts.AliasSimilarityThreshold)
		}()
	}

	results := s.fanOut(ctx, parsed.Title, opts)
	aliasWG.Wait()
	aliases = append(aliases, opts.CustomAliases...)
	aliasSet := append([]string{parsed.Title}, aliases...)

	results = correctTypes(results)
	results = filterSeason(results, parsed.Season, opts.MediaType)
	if opts.UseAliasFiltering || opts.UseTitleFiltering {
		results = s.filterByAliases(results, aliasSet, opts.StrictFiltering)
	}

	ranked := s.rank(results, parsed.Title, parsed.Season, opts)
	return ranked, nil
}

// SelectBest applies AI disambiguation (when enabled) and the favorited
// override to an already ranked list, returning the winning index or -1.
// -1 sends the caller down the verification ladder: a rank-1 candidate that
// was never episode-checked is not a winner.
func (s *Service) SelectBest(ctx context.Context, query string, ranked []models.ProviderSearchResult, opts Options) int {
	if len(ranked) == 0 {
		return -1
	}
	favorited := s.favoritedIndexes(ranked)

	// A favorited source with a matching type and a plausible title wins
	// unconditionally.
	for i, c := range ranked {
		if !favorited[i] {
			continue
		}
		if opts.MediaType != "" && c.Type != opts.MediaType {
			continue
		}
		if similarity.TokenSetRatio(query, c.Title) >= 70 {
			return i
		}
	}

	if s.ai != nil && s.ai.Enabled() {
		idx, err := s.ai.SelectBestMatch(ctx, query, opts.EpisodeInfo, ranked, favorited)
		if err == nil {
			return idx
		}
		settings, cfgErr := s.cfg.Load()
		if cfgErr == nil && !settings.AI.FallbackEnabled {
			log.Printf("[search] ai match failed and fallback disabled: %v", err)
			return -1
		}
		log.Printf("[search] ai match failed, falling back to episode verification: %v", err)
	}
	return -1
}

// VerifyLadder walks ranked candidates and returns the first whose episode
// list actually contains the wanted episode (TV), or the first movie when
// the query is a movie. Episode lists are cached under the episodes TTL;
// rate limits propagate so callers can pause.
func (s *Service) VerifyLadder(ctx context.Context, ranked []models.ProviderSearchResult, episode int, isMovie bool) (*models.ProviderSearchResult, error) {
	episodesTTL := s.cacheTTL(func(c config.CacheSettings) int { return c.EpisodesTTLSeconds })
	for i := range ranked {
		c := ranked[i]
		if isMovie {
			if c.Type == models.MediaTypeMovie {
				return &c, nil
			}
			continue
		}
		cacheKey := "provider_episodes_" + c.Provider + "_" + c.MediaID
		var episodes []models.ProviderEpisodeInfo
		if !s.cacheGet(cacheKey, &episodes) {
			sc, err := s.scrapers.Get(c.Provider)
			if err != nil {
				continue
			}
			if err := s.limiter.Check(c.Provider); err != nil {
				return nil, err
			}
			episodes, err = sc.GetEpisodes(ctx, c.MediaID, c.Type)
			if rl, ok := ratelimit.IsRateLimited(err); ok {
				return nil, rl
			}
			_ = s.limiter.Increment(c.Provider)
			if err != nil {
				log.Printf("[search] ladder: %s/%s episodes: %v", c.Provider, c.MediaID, err)
				continue
			}
			if len(episodes) > 0 {
				s.cachePut(cacheKey, episodes, episodesTTL)
			}
		}
		for _, ep := range episodes {
			if ep.EpisodeIndex == episode {
				return &c, nil
			}
		}
	}
	return nil, nil
}

// fanOut searches every enabled scraper concurrently, budgeted by the rate
// limiter. A limited provider is skipped, not fatal. Per-provider results
// are cached under the search TTL; a cache hit spends no quota.
func (s *Service) fanOut(ctx context.Context, term string, opts Options) []models.ProviderSearchResult {
	enabled, err := s.scrapers.Enabled()
	if err != nil {
		log.Printf("[search] load scrapers: %v", err)
		return nil
	}
	searchTTL := s.cacheTTL(func(c config.CacheSettings) int { return c.SearchTTLSeconds })

	p := pool.NewWithResults[[]models.ProviderSearchResult]().WithContext(ctx)
	for _, sc := range enabled {
		p.Go(func(ctx context.Context) ([]models.ProviderSearchResult, error) {
			cacheKey := "provider_search_" + sc.Name() + "_" + term
			if opts.EpisodeInfo != nil {
				cacheKey += fmt.Sprintf("_S%dE%d", opts.EpisodeInfo.Season, opts.EpisodeInfo.Episode)
			}
			var cached []models.ProviderSearchResult
			if s.cacheGet(cacheKey, &cached) {
				return cached, nil
			}
			if err := s.limiter.Check(sc.Name()); err != nil {
				log.Printf("[search] %s skipped: %v", sc.Name(), err)
				return nil, nil
			}
			start := time.Now()
			results, err := sc.Search(ctx, term, opts.EpisodeInfo, opts.MaxResultsPerSource)
			_ = s.limiter.Increment(sc.Name())
			if err != nil {
				log.Printf("[search] %s failed after %s: %v", sc.Name(), time.Since(start).Round(time.Millisecond), err)
				return nil, nil
			}
			log.Printf("[search] %s returned %d results in %s", sc.Name(), len(results), time.Since(start).Round(time.Millisecond))
			if len(results) > opts.MaxResultsPerSource {
				results = results[:opts.MaxResultsPerSource]
			}
			if len(results) > 0 {
				s.cachePut(cacheKey, results, searchTTL)
			}
			return results, nil
		})
	}
	groups, _ := p.Wait()

	var out []models.ProviderSearchResult
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}

// expandAliases fans out to metadata sources, keeps aliases that still look
// like the queried title, and caches the validated set for an hour.
func (s *Service) expandAliases(ctx context.Context, title string, threshold int) []string {
	cacheKey := "search_aliases_" + title
	var cachedAliases []string
	if s.cacheGet(cacheKey, &cachedAliases) {
		return cachedAliases
	}

	sources, err := s.metas.Enabled()
	if err != nil {
		log.Printf("[search] load metadata sources: %v", err)
		return nil
	}

	metadataTTL := s.cacheTTL(func(c config.CacheSettings) int { return c.MetadataSearchTTLSeconds })
	p := pool.NewWithResults[[]string]().WithContext(ctx)
	for _, src := range sources {
		p.Go(func(ctx context.Context) ([]string, error) {
			detailsKey := "metadata_search_" + src.Name() + "_" + title
			var details []models.MetadataDetails
			if !s.cacheGet(detailsKey, &details) {
				var err error
				details, err = src.Search(ctx, title, "")
				if err != nil {
					log.Printf("[search] alias expansion via %s: %v", src.Name(), err)
					return nil, nil
				}
				if len(details) > 0 {
					s.cachePut(detailsKey, details, metadataTTL)
				}
			}
			var names []string
			for _, d := range details {
				names = append(names, d.AllTitles()...)
			}
			return names, nil
		})
	}
	groups, _ := p.Wait()

	seen := map[string]struct{}{title: {}}
	var out []string
	for _, g := range groups {
		for _, alias := range g {
			if _, dup := seen[alias]; dup {
				continue
			}
			seen[alias] = struct{}{}
			if similarity.TokenSetRatio(title, alias) >= threshold {
				out = append(out, alias)
			}
		}
	}

	if len(out) > 0 {
		s.cachePut(cacheKey, out, aliasCacheTTL)
	}
	return out
}

// cacheTTL reads one configured cache TTL; pick selects the field.
func (s *Service) cacheTTL(pick func(config.CacheSettings) int) time.Duration {
	settings, err := s.cfg.Load()
	if err != nil {
		return time.Duration(config.MinCacheTTL) * time.Second
	}
	return time.Duration(pick(settings.Cache)) * time.Second
}

func (s *Service) cacheGet(key string, v any) bool {
	if s.cache == nil {
		return false
	}
	raw, err := s.cache.Get(key)
	if err != nil {
		return false
	}
	return json.Unmarshal([]byte(raw), v) == nil
}

func (s *Service) cachePut(key string, v any, ttl time.Duration) {
	if s.cache == nil || ttl <= 0 {
		return
	}
	if data, err := json.Marshal(v); err == nil {
		_ = s.cache.Set(key, string(data), ttl)
	}
}

// correctTypes flips tv_series results whose title carries a theatrical
// marker to movie.
func correctTypes(results []models.ProviderSearchResult) []models.ProviderSearchResult {
	for i, r := range results {
		if r.Type == models.MediaTypeTVSeries && movieMarkerRe.MatchString(r.Title) {
			results[i].Type = models.MediaTypeMovie
		}
	}
	return results
}

// filterSeason drops candidates that cannot be the requested TV season.
func filterSeason(results []models.ProviderSearchResult, season int, mediaType models.MediaType) []models.ProviderSearchResult {
	if season <= 0 || mediaType == models.MediaTypeMovie {
		return results
	}
	out := results[:0]
	for _, r := range results {
		if r.Type != models.MediaTypeTVSeries {
			continue
		}
		if r.Season != 0 && r.Season != season {
			continue
		}
		out = append(out, r)
	}
	return out
}

// filterByAliases keeps candidates whose title is close to at least one
// alias. Strict mode raises the bar to 95, or 85 with a bounded length
// difference.
func (s *Service) filterByAliases(results []models.ProviderSearchResult, aliases []string, strict bool) []models.ProviderSearchResult {
	out := results[:0]
	for _, r := range results {
		if s.matchesAnyAlias(r.Title, aliases, strict) {
			out = append(out, r)
		}
	}
	return out
}

func (s *Service) matchesAnyAlias(title string, aliases []string, strict bool) bool {
	norm := similarity.Normalize(title)
	for _, alias := range aliases {
		ratio, ok := s.simCache.partialRatio(norm, similarity.Normalize(alias))
		if !ok {
			continue
		}
		if strict {
			if ratio >= strictFilterRatio {
				return true
			}
			if ratio >= titleFilterRatio && absInt(len([]rune(title))-len([]rune(alias))) <= 10 {
				return true
			}
			continue
		}
		if ratio >= titleFilterRatio {
			return true
		}
	}
	return false
}

func (s *Service) favoritedIndexes(results []models.ProviderSearchResult) map[int]bool {
	out := make(map[int]bool)
	if s.db == nil {
		return out
	}
	for i, r := range results {
		src, err := s.db.Anime.GetSourceByProviderMedia(r.Provider, r.MediaID)
		if err == nil && src.IsFavorited {
			out[i] = true
		}
	}
	return out
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
