// Package library is the write path into the anime catalogue: identity
// resolution, source binding, episode creation with the public ID scheme,
// and the fill-if-empty metadata discipline.
package library

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"

	"github.com/gabriel-vasile/mimetype"

	"danmuhub/config"
	"danmuhub/internal/database"
	"danmuhub/models"
	"danmuhub/services/scraper"
)

// Public episode IDs pack (animeID, sourceOrder, episodeIndex) into one
// stable integer that compat-API clients hold onto across restarts:
//
//	id = 25·10¹² + animeID·10⁶ + sourceOrder·10⁴ + episodeIndex
const (
	episodeIDBase = 25_000_000_000_000
	animeIDMax    = 1_000_000
	sourceMax     = 100
	episodeMax    = 10_000
)

// EpisodeID synthesizes the public episode identifier.
func EpisodeID(animeID int64, sourceOrder, episodeIndex int) (int64, error) {
	if animeID <= 0 || animeID >= animeIDMax {
		return 0, fmt.Errorf("anime id %d out of range", animeID)
	}
	if sourceOrder <= 0 || sourceOrder >= sourceMax {
		return 0, fmt.Errorf("source order %d out of range", sourceOrder)
	}
	if episodeIndex <= 0 || episodeIndex >= episodeMax {
		return 0, fmt.Errorf("episode index %d out of range", episodeIndex)
	}
	return episodeIDBase + animeID*1_000_000 + int64(sourceOrder)*10_000 + int64(episodeIndex), nil
}

// SplitEpisodeID reverses EpisodeID.
func SplitEpisodeID(id int64) (animeID int64, sourceOrder, episodeIndex int, err error) {
	rest := id - episodeIDBase
	if rest <= 0 {
		return 0, 0, 0, fmt.Errorf("episode id %d out of range", id)
	}
	animeID = rest / 1_000_000
	rest %= 1_000_000
	sourceOrder = int(rest / 10_000)
	episodeIndex = int(rest % 10_000)
	if animeID <= 0 || sourceOrder <= 0 || episodeIndex <= 0 {
		return 0, 0, 0, fmt.Errorf("episode id %d malformed", id)
	}
	return animeID, sourceOrder, episodeIndex, nil
}

// Service owns catalogue writes.
type Service struct {
	cfg   *config.Manager
	db    *database.DB
	httpc *scraper.HTTPClient
}

func New(cfg *config.Manager, db *database.DB, httpc *scraper.HTTPClient) *Service {
	return &Service{cfg: cfg, db: db, httpc: httpc}
}

// GetOrCreateAnime finds the anime by identity or creates it. Season 0 is
// normalized to 1; movies always land on season 1.
func (s *Service) GetOrCreateAnime(title string, mediaType models.MediaType, season, year int, imageURL string) (*models.Anime, bool, error) {
	if mediaType == "" {
		mediaType = models.MediaTypeTVSeries
	}
	if season <= 0 || mediaType == models.MediaTypeMovie {
		season = 1
	}

	existing, err := s.db.Anime.GetByIdentity(title, season, year)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, database.ErrNotFound) {
		return nil, false, err
	}

	a := &models.Anime{Title: title, Type: mediaType, Season: season, Year: year, ImageURL: imageURL}
	if _, err := s.db.Anime.Insert(a); err != nil {
		return nil, false, err
	}
	log.Printf("[library] created anime %d %q S%d", a.ID, title, season)
	return a, true, nil
}

// GetOrCreateSource binds a provider media entry to the anime, reusing the
// existing binding when present. A media id already bound to a different
// anime is an error; (provider, mediaID) is globally unique.
func (s *Service) GetOrCreateSource(animeID int64, provider, mediaID string) (*models.AnimeSource, error) {
	existing, err := s.db.Anime.GetSourceByProviderMedia(provider, mediaID)
	if err == nil {
		if existing.AnimeID != animeID {
			return nil, fmt.Errorf("media %s/%s already bound to anime %d", provider, mediaID, existing.AnimeID)
		}
		return existing, nil
	}
	if !errors.Is(err, database.ErrNotFound) {
		return nil, err
	}
	src, err := s.db.Anime.InsertSource(animeID, provider, mediaID)
	if err != nil {
		return nil, err
	}
	log.Printf("[library] bound source %d (%s/%s) to anime %d as order %d", src.ID, provider, mediaID, animeID, src.SourceOrder)
	return src, nil
}

// EnsureEpisode creates (or returns) the episode row with its synthesized
// public ID.
func (s *Service) EnsureEpisode(anime *models.Anime, source *models.AnimeSource, index int, title, providerEpisodeID, sourceURL string) (*models.Episode, error) {
	id, err := EpisodeID(anime.ID, source.SourceOrder, index)
	if err != nil {
		return nil, err
	}
	return s.db.Anime.UpsertEpisode(&models.Episode{
		ID:                id,
		SourceID:          source.ID,
		EpisodeIndex:      index,
		Title:             title,
		ProviderEpisodeID: providerEpisodeID,
		SourceURL:         sourceURL,
	})
}

// ApplyMetadata records catalogue IDs and aliases under the fill-if-empty
// rule.
func (s *Service) ApplyMetadata(animeID int64, d models.MetadataDetails) error {
	meta := models.AnimeMetadata{
		AnimeID:   animeID,
		TMDBID:    d.TMDBID,
		IMDBID:    d.IMDBID,
		TVDBID:    d.TVDBID,
		DoubanID:  d.DoubanID,
		BangumiID: d.BangumiID,
	}
	if err := s.db.Anime.FillMetadataIfEmpty(meta); err != nil {
		return err
	}

	aliases := models.AnimeAliases{AnimeID: animeID, NameEN: d.NameEN, NameJP: d.NameJP, NameRomaji: d.NameRomaji}
	slots := []*string{&aliases.AliasCN1, &aliases.AliasCN2, &aliases.AliasCN3}
	i := 0
	if d.TitleCN != "" && d.TitleCN != d.Title {
		*slots[i] = d.TitleCN
		i++
	}
	for _, a := range d.Aliases {
		if i >= len(slots) {
			break
		}
		*slots[i] = a
		i++
	}
	return s.db.Anime.FillAliasesIfEmpty(aliases)
}

// CacheCoverImage downloads the anime's remote cover next to the database,
// sniffing the extension from the bytes, and records the local path.
func (s *Service) CacheCoverImage(ctx context.Context, anime *models.Anime) error {
	if anime.ImageURL == "" || anime.LocalImagePath != "" {
		return nil
	}
	settings, err := s.cfg.Load()
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, anime.ImageURL, nil)
	if err != nil {
		return err
	}
	resp, err := s.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("fetch cover: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch cover: %s", resp.Status)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return err
	}

	ext := mimetype.Detect(data).Extension()
	if ext == "" {
		ext = ".jpg"
	}
	dir := filepath.Join(filepath.Dir(settings.Database.Path), "images")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	local := filepath.Join(dir, fmt.Sprintf("anime_%d%s", anime.ID, ext))
	if err := os.WriteFile(local, data, 0o644); err != nil {
		return err
	}

	if err := s.db.Anime.UpdateImage(anime.ID, anime.ImageURL, local); err != nil {
		return err
	}
	anime.LocalImagePath = local
	return nil
}

// ResolveEpisode walks an external episode ID down to its rows.
func (s *Service) ResolveEpisode(episodeID int64) (*models.Anime, *models.AnimeSource, *models.Episode, error) {
	ep, err := s.db.Anime.GetEpisode(episodeID)
	if err != nil {
		return nil, nil, nil, err
	}
	src, err := s.db.Anime.GetSource(ep.SourceID)
	if err != nil {
		return nil, nil, nil, err
	}
	anime, err := s.db.Anime.Get(src.AnimeID)
	if err != nil {
		return nil, nil, nil, err
	}
	return anime, src, ep, nil
}
