// Package webhook turns media-server playback events (Emby, Jellyfin,
// Plex) into import submissions. Bursts of events for one series coalesce
// behind a per-series lock, and an already-imported favorited source short
// circuits the whole search.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"
	"unicode"

	"danmuhub/config"
	"danmuhub/internal/database"
	"danmuhub/models"
	"danmuhub/services/aimatch"
	"danmuhub/services/metasource"
	"danmuhub/services/ratelimit"
	"danmuhub/services/recognition"
	"danmuhub/services/search"
	"danmuhub/services/task"
)

// Dispatcher processes ingress payloads.
type Dispatcher struct {
	cfg         *config.Manager
	db          *database.DB
	searcher    *search.Service
	metas       *metasource.Registry
	ai          *aimatch.Matcher
	tasks       *task.Manager
	deps        task.Deps
	recognition *recognition.Manager

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewDispatcher(cfg *config.Manager, db *database.DB, searcher *search.Service, metas *metasource.Registry, ai *aimatch.Matcher, tasks *task.Manager, deps task.Deps, recog *recognition.Manager) *Dispatcher {
	return &Dispatcher{
		cfg:         cfg,
		db:          db,
		searcher:    searcher,
		metas:       metas,
		ai:          ai,
		tasks:       tasks,
		deps:        deps,
		recognition: recog,
		locks:       make(map[string]*sync.Mutex),
	}
}

// DispatchParams is the replayable parameter block of a dispatch task.
type DispatchParams struct {
	Source  string                `json:"source"`
	Payload models.WebhookPayload `json:"payload"`
}

// Ingest stores the raw event and queues the dispatch as a fallback task,
// so it shows up in task history and survives a restart. source is the
// URL-routed tag (emby, jellyfin, plex, media_server, or custom).
func (d *Dispatcher) Ingest(ctx context.Context, source string, rawBody []byte, payload models.WebhookPayload) error {
	if _, err := d.db.Conn().Exec(
		`INSERT INTO webhook_events (source, payload) VALUES (?, ?)`, source, string(rawBody)); err != nil {
		log.Printf("[webhook] persist event: %v", err)
	}
	spec, err := d.TaskSpec(DispatchParams{Source: source, Payload: payload})
	if err != nil {
		return err
	}
	_, _, err = d.tasks.Submit(*spec)
	if errors.Is(err, task.ErrTaskConflict) {
		log.Printf("[webhook] dispatch already queued for %q S%d", payload.AnimeTitle, payload.Season)
		return nil
	}
	return err
}

// TaskSpec builds the submit spec for one dispatch, shared between ingress
// and startup recovery.
func (d *Dispatcher) TaskSpec(p DispatchParams) (*task.Spec, error) {
	if p.Payload.AnimeTitle == "" {
		return nil, errors.New("webhook payload missing anime_title")
	}
	season := p.Payload.Season
	if season <= 0 {
		season = 1
	}
	return &task.Spec{
		Title:      fmt.Sprintf("Webhook处理: %s 第%d集", p.Payload.AnimeTitle, p.Payload.CurrentEpisodeIndex),
		Queue:      models.QueueFallback,
		Body:       d.dispatchBody(p),
		UniqueKey:  fmt.Sprintf("webhook-dispatch-%s-S%d-ep%d", p.Payload.AnimeTitle, season, p.Payload.CurrentEpisodeIndex),
		TaskType:   task.TypeWebhookDispatch,
		Parameters: p,
	}, nil
}

func (d *Dispatcher) dispatchBody(p DispatchParams) task.Body {
	return func(ctx context.Context, progress task.ProgressFunc) task.Result {
		if err := progress(ctx, 10, "匹配弹幕源: "+p.Payload.AnimeTitle); err != nil {
			return task.Fail(err)
		}
		if err := d.Dispatch(ctx, p.Source, p.Payload); err != nil {
			if rl, ok := ratelimit.IsRateLimited(err); ok {
				return task.Pause(rl.RetryAfter, rl.Error())
			}
			return task.Fail(err)
		}
		return task.Done("")
	}
}

// Dispatch runs the search-and-submit flow for one event. Concurrent events
// for the same (title, season) serialize on a per-key lock.
func (d *Dispatcher) Dispatch(ctx context.Context, source string, p models.WebhookPayload) error {
	if p.AnimeTitle == "" {
		return errors.New("webhook payload missing anime_title")
	}
	if p.Season <= 0 {
		p.Season = 1
	}

	title := d.recognition.NormalizeTitle(p.AnimeTitle)
	key := fmt.Sprintf("webhook-%s-S%d", title, p.Season)
	lock := d.lockFor(key)
	lock.Lock()
	defer lock.Unlock()

	log.Printf("[webhook] %s event for %q S%d ep%d", source, title, p.Season, p.CurrentEpisodeIndex)

	mediaType := models.MediaType(p.MediaType)
	if mediaType == "" {
		mediaType = models.MediaTypeTVSeries
	}

	settings, err := d.cfg.Load()
	if err != nil {
		return err
	}
	if settings.SeasonMapping.Webhook && mediaType != models.MediaTypeMovie {
		if ms, me, ok := d.searcher.MapSeason(ctx, p.TMDBID, title, p.Season, p.CurrentEpisodeIndex); ok {
			log.Printf("[webhook] season mapping for %q: S%dE%d -> S%dE%d", title, p.Season, p.CurrentEpisodeIndex, ms, me)
			p.Season, p.CurrentEpisodeIndex = ms, me
		}
	}

	// Shortcut: a favorited source of an already-cataloged series skips the
	// whole pipeline.
	if src, anime, err := d.db.Anime.FavoritedSourceForIdentity(title, p.Season); err == nil {
		log.Printf("[webhook] favorited source %s/%s for %q, importing directly", src.Provider, src.MediaID, title)
		params := task.ImportParams{
			Provider:            src.Provider,
			MediaID:             src.MediaID,
			AnimeTitle:          anime.Title,
			MediaType:           string(anime.Type),
			Season:              anime.Season,
			Year:                anime.Year,
			CurrentEpisodeIndex: p.CurrentEpisodeIndex,
		}
		copyExternalIDs(&params, p)
		return d.submit(params)
	}

	searchTitle := title
	if converted, err := d.convertName(ctx, title, p.TMDBID, mediaType); err == nil && converted != "" {
		searchTitle = converted
	}

	keyword := p.SearchKeyword
	if keyword == "" {
		keyword = searchTitle
	}

	if !settings.Fallback.WebhookEnabled {
		log.Printf("[webhook] auto import disabled, ignoring event for %q", title)
		return nil
	}

	opts := search.Options{
		UseAliasExpansion:        true,
		UseAliasFiltering:        true,
		UseTitleFiltering:        true,
		StrictFiltering:          true,
		AliasSimilarityThreshold: 70,
		EpisodeInfo:              &models.EpisodeInfo{Season: p.Season, Episode: p.CurrentEpisodeIndex},
		MediaType:                mediaType,
		Year:                     p.Year,
	}
	ranked, err := d.searcher.UnifiedSearch(ctx, keyword, opts)
	if err != nil {
		return fmt.Errorf("webhook search: %w", err)
	}
	if len(ranked) == 0 {
		return fmt.Errorf("no candidates for %q", keyword)
	}

	winner := d.searcher.SelectBest(ctx, searchTitle, ranked, opts)
	var chosen *models.ProviderSearchResult
	if winner >= 0 {
		chosen = &ranked[winner]
	} else {
		isMovie := mediaType == models.MediaTypeMovie
		chosen, err = d.searcher.VerifyLadder(ctx, ranked, p.CurrentEpisodeIndex, isMovie)
		if err != nil {
			return err
		}
	}
	if chosen == nil {
		return fmt.Errorf("no candidate for %q passed episode verification", keyword)
	}

	episodes := p.SelectedEpisodes
	if len(episodes) == 0 {
		episodes = []int{p.CurrentEpisodeIndex}
	}
	for _, ep := range episodes {
		params := task.ImportParams{
			Provider:            chosen.Provider,
			MediaID:             chosen.MediaID,
			AnimeTitle:          title,
			MediaType:           string(chosen.Type),
			Season:              p.Season,
			Year:                chosen.Year,
			ImageURL:            chosen.ImageURL,
			CurrentEpisodeIndex: ep,
		}
		copyExternalIDs(&params, p)
		if err := d.submit(params); err != nil {
			return err
		}
	}
	return nil
}

// copyExternalIDs carries the media server's catalogue IDs into the import,
// where they land on the anime's metadata sidecar.
func copyExternalIDs(params *task.ImportParams, p models.WebhookPayload) {
	params.TMDBID = p.TMDBID
	params.IMDBID = p.IMDBID
	params.TVDBID = p.TVDBID
	params.DoubanID = p.DoubanID
	params.BangumiID = p.BangumiID
}

// submit sends the import to the download queue. Conflict means another
// event already queued the same work, which counts as success.
func (d *Dispatcher) submit(p task.ImportParams) error {
	_, _, err := d.tasks.Submit(task.Spec{
		Title:      fmt.Sprintf("Webhook导入: %s 第%d集", p.AnimeTitle, p.CurrentEpisodeIndex),
		Queue:      models.QueueDownload,
		Body:       task.GenericImport(d.deps, p),
		UniqueKey:  task.ImportUniqueKey(p),
		TaskType:   task.TypeGenericImport,
		Parameters: p,
		Provider:   p.Provider,
	})
	if errors.Is(err, task.ErrTaskConflict) {
		log.Printf("[webhook] import already in progress: %s", task.ImportUniqueKey(p))
		return nil
	}
	return err
}

// convertName resolves a non-Chinese title to its Chinese name: the TMDB
// entry itself when the event carries an ID, then metadata sources in
// priority order, then the AI matcher. Returns "" when conversion is off or
// nothing better was found.
func (d *Dispatcher) convertName(ctx context.Context, title, tmdbID string, mediaType models.MediaType) (string, error) {
	settings, err := d.cfg.Load()
	if err != nil {
		return "", err
	}
	if !settings.NameConversion.Enabled || containsCJK(title) {
		return "", nil
	}

	if tmdbID != "" {
		if details := d.baseInfo(ctx, tmdbID, mediaType); details != nil && details.TitleCN != "" {
			log.Printf("[webhook] converted %q -> %q via tmdb id %s", title, details.TitleCN, tmdbID)
			return details.TitleCN, nil
		}
	}

	for _, name := range settings.NameConversion.SourcePriority {
		src, err := d.metas.Get(name)
		if err != nil {
			continue
		}
		results, err := src.Search(ctx, title, "")
		if err != nil {
			log.Printf("[webhook] name conversion via %s: %v", name, err)
			continue
		}
		for _, r := range results {
			if r.TitleCN != "" {
				log.Printf("[webhook] converted %q -> %q via %s", title, r.TitleCN, name)
				return r.TitleCN, nil
			}
		}
	}

	if d.ai != nil && d.ai.Enabled() {
		converted, err := d.ai.ConvertName(ctx, title)
		if err == nil && converted != title {
			log.Printf("[webhook] converted %q -> %q via ai", title, converted)
			return converted, nil
		}
	}
	return "", nil
}

// baseInfo fetches the full TMDB record for a known ID, cached under the
// base-info TTL.
func (d *Dispatcher) baseInfo(ctx context.Context, tmdbID string, mediaType models.MediaType) *models.MetadataDetails {
	cacheKey := "tmdb_base_info_" + string(mediaType) + "_" + tmdbID
	var cached models.MetadataDetails
	if raw, err := d.db.Cache.Get(cacheKey); err == nil && json.Unmarshal([]byte(raw), &cached) == nil {
		return &cached
	}

	src, err := d.metas.Get("tmdb")
	if err != nil {
		return nil
	}
	details, err := src.GetDetails(ctx, tmdbID, mediaType)
	if err != nil {
		log.Printf("[webhook] tmdb details for %s: %v", tmdbID, err)
		return nil
	}
	if settings, err := d.cfg.Load(); err == nil {
		if data, mErr := json.Marshal(details); mErr == nil {
			ttl := time.Duration(settings.Cache.BaseInfoTTLSeconds) * time.Second
			_ = d.db.Cache.Set(cacheKey, string(data), ttl)
		}
	}
	return details
}

func (d *Dispatcher) lockFor(key string) *sync.Mutex {
	d.mu.Lock()
	defer d.mu.Unlock()
	lock, ok := d.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		d.locks[key] = lock
	}
	return lock
}

func containsCJK(s string) bool {
	for _, r := range s {
		if unicode.Is(unicode.Han, r) {
			return true
		}
	}
	return false
}

// ParsePayload extracts the dispatcher's fields from a raw media-server
// body. Unknown fields are ignored; the raw body is persisted separately.
func ParsePayload(raw []byte) (models.WebhookPayload, error) {
	var p models.WebhookPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return p, fmt.Errorf("decode webhook payload: %w", err)
	}
	p.AnimeTitle = strings.TrimSpace(p.AnimeTitle)
	return p, nil
}
