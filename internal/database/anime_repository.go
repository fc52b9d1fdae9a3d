package database

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"danmuhub/models"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// AnimeRepository covers the anime → source → episode aggregate plus its
// metadata and alias sidecars. Deletes cascade through foreign keys.
type AnimeRepository struct {
	db *sql.DB
}

// --- anime ---

func (r *AnimeRepository) Insert(a *models.Anime) (int64, error) {
	if a.Season <= 0 {
		a.Season = 1
	}
	res, err := r.db.Exec(
		`INSERT INTO anime (title, type, season, year, image_url, local_image_path) VALUES (?, ?, ?, ?, ?, ?)`,
		a.Title, string(a.Type), a.Season, a.Year, a.ImageURL, a.LocalImagePath,
	)
	if err != nil {
		return 0, fmt.Errorf("insert anime: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	a.ID = id
	return id, nil
}

func (r *AnimeRepository) Get(id int64) (*models.Anime, error) {
	row := r.db.QueryRow(
		`SELECT id, title, type, season, year, image_url, local_image_path, created_at FROM anime WHERE id = ?`, id)
	return scanAnime(row)
}

// GetByIdentity looks an anime up by its (title, season) identity. Year is
// compared only when both sides carry one, so re-imports without year
// metadata still land on the existing row.
func (r *AnimeRepository) GetByIdentity(title string, season, year int) (*models.Anime, error) {
	if season <= 0 {
		season = 1
	}
	rows, err := r.db.Query(
		`SELECT id, title, type, season, year, image_url, local_image_path, created_at FROM anime WHERE title = ? AND season = ?`,
		title, season)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		a, err := scanAnimeRows(rows)
		if err != nil {
			return nil, err
		}
		if year == 0 || a.Year == 0 || a.Year == year {
			return a, nil
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return nil, ErrNotFound
}

func (r *AnimeRepository) List(keyword string) ([]models.Anime, error) {
	query := `SELECT id, title, type, season, year, image_url, local_image_path, created_at FROM anime`
	args := []any{}
	if keyword != "" {
		query += ` WHERE title LIKE ?`
		args = append(args, "%"+keyword+"%")
	}
	query += ` ORDER BY id`
	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Anime
	for rows.Next() {
		a, err := scanAnimeRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func (r *AnimeRepository) UpdateImage(id int64, imageURL, localPath string) error {
	_, err := r.db.Exec(`UPDATE anime SET image_url = ?, local_image_path = ? WHERE id = ?`, imageURL, localPath, id)
	return err
}

// Delete removes the anime row; sources and episodes cascade.
func (r *AnimeRepository) Delete(id int64) error {
	_, err := r.db.Exec(`DELETE FROM anime WHERE id = ?`, id)
	return err
}

// --- sources ---

// InsertSource creates a binding with the next source_order for the anime.
func (r *AnimeRepository) InsertSource(animeID int64, provider, mediaID string) (*models.AnimeSource, error) {
	tx, err := r.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var next int
	if err := tx.QueryRow(`SELECT COALESCE(MAX(source_order), 0) + 1 FROM anime_sources WHERE anime_id = ?`, animeID).Scan(&next); err != nil {
		return nil, err
	}
	res, err := tx.Exec(
		`INSERT INTO anime_sources (anime_id, provider_name, media_id, source_order) VALUES (?, ?, ?, ?)`,
		animeID, provider, mediaID, next)
	if err != nil {
		return nil, fmt.Errorf("insert source: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &models.AnimeSource{
		ID:          id,
		AnimeID:     animeID,
		Provider:    provider,
		MediaID:     mediaID,
		SourceOrder: next,
		CreatedAt:   time.Now().UTC(),
	}, nil
}

func (r *AnimeRepository) GetSource(id int64) (*models.AnimeSource, error) {
	row := r.db.QueryRow(
		`SELECT id, anime_id, provider_name, media_id, source_order, is_favorited, incremental_refresh_failures, created_at
		 FROM anime_sources WHERE id = ?`, id)
	return scanSource(row)
}

func (r *AnimeRepository) GetSourceByProviderMedia(provider, mediaID string) (*models.AnimeSource, error) {
	row := r.db.QueryRow(
		`SELECT id, anime_id, provider_name, media_id, source_order, is_favorited, incremental_refresh_failures, created_at
		 FROM anime_sources WHERE provider_name = ? AND media_id = ?`, provider, mediaID)
	return scanSource(row)
}

func (r *AnimeRepository) ListSources(animeID int64) ([]models.AnimeSource, error) {
	rows, err := r.db.Query(
		`SELECT id, anime_id, provider_name, media_id, source_order, is_favorited, incremental_refresh_failures, created_at
		 FROM anime_sources WHERE anime_id = ? ORDER BY source_order`, animeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.AnimeSource
	for rows.Next() {
		var s models.AnimeSource
		var fav int
		if err := rows.Scan(&s.ID, &s.AnimeID, &s.Provider, &s.MediaID, &s.SourceOrder, &fav, &s.IncrementalFailures, &s.CreatedAt); err != nil {
			return nil, err
		}
		s.IsFavorited = fav != 0
		out = append(out, s)
	}
	return out, rows.Err()
}

// SetFavorited marks one source as favorite and clears any prior favorite
// of the same anime; exactly zero or one source per anime stays favorited.
func (r *AnimeRepository) SetFavorited(sourceID int64, favorited bool) error {
	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var animeID int64
	if err := tx.QueryRow(`SELECT anime_id FROM anime_sources WHERE id = ?`, sourceID).Scan(&animeID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return err
	}
	if favorited {
		if _, err := tx.Exec(`UPDATE anime_sources SET is_favorited = 0 WHERE anime_id = ?`, animeID); err != nil {
			return err
		}
	}
	fav := 0
	if favorited {
		fav = 1
	}
	if _, err := tx.Exec(`UPDATE anime_sources SET is_favorited = ? WHERE id = ?`, fav, sourceID); err != nil {
		return err
	}
	return tx.Commit()
}

// FavoritedSourceForIdentity returns the favorited source of the anime
// matching (title, season), if any. Used by the webhook shortcut.
func (r *AnimeRepository) FavoritedSourceForIdentity(title string, season int) (*models.AnimeSource, *models.Anime, error) {
	anime, err := r.GetByIdentity(title, season, 0)
	if err != nil {
		return nil, nil, err
	}
	sources, err := r.ListSources(anime.ID)
	if err != nil {
		return nil, nil, err
	}
	for i := range sources {
		if sources[i].IsFavorited {
			return &sources[i], anime, nil
		}
	}
	return nil, anime, ErrNotFound
}

func (r *AnimeRepository) BumpRefreshFailures(sourceID int64, reset bool) error {
	if reset {
		_, err := r.db.Exec(`UPDATE anime_sources SET incremental_refresh_failures = 0 WHERE id = ?`, sourceID)
		return err
	}
	_, err := r.db.Exec(`UPDATE anime_sources SET incremental_refresh_failures = incremental_refresh_failures + 1 WHERE id = ?`, sourceID)
	return err
}

func (r *AnimeRepository) DeleteSource(id int64) error {
	_, err := r.db.Exec(`DELETE FROM anime_sources WHERE id = ?`, id)
	return err
}

func (r *AnimeRepository) CountSources(animeID int64) (int, error) {
	var n int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM anime_sources WHERE anime_id = ?`, animeID).Scan(&n)
	return n, err
}

// --- episodes ---

// UpsertEpisode inserts the episode if (source, index) is new, otherwise
// returns the existing row. The caller supplies the synthesized ID.
func (r *AnimeRepository) UpsertEpisode(e *models.Episode) (*models.Episode, error) {
	existing, err := r.GetEpisodeByIndex(e.SourceID, e.EpisodeIndex)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	_, err = r.db.Exec(
		`INSERT INTO episode (id, source_id, episode_index, title, provider_episode_id, source_url) VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, e.SourceID, e.EpisodeIndex, e.Title, e.ProviderEpisodeID, e.SourceURL)
	if err != nil {
		return nil, fmt.Errorf("insert episode: %w", err)
	}
	return e, nil
}

func (r *AnimeRepository) GetEpisode(id int64) (*models.Episode, error) {
	row := r.db.QueryRow(
		`SELECT id, source_id, episode_index, title, provider_episode_id, source_url, danmaku_file_path, comment_count, fetched_at
		 FROM episode WHERE id = ?`, id)
	return scanEpisode(row)
}

func (r *AnimeRepository) GetEpisodeByIndex(sourceID int64, index int) (*models.Episode, error) {
	row := r.db.QueryRow(
		`SELECT id, source_id, episode_index, title, provider_episode_id, source_url, danmaku_file_path, comment_count, fetched_at
		 FROM episode WHERE source_id = ? AND episode_index = ?`, sourceID, index)
	return scanEpisode(row)
}

func (r *AnimeRepository) ListEpisodes(sourceID int64) ([]models.Episode, error) {
	rows, err := r.db.Query(
		`SELECT id, source_id, episode_index, title, provider_episode_id, source_url, danmaku_file_path, comment_count, fetched_at
		 FROM episode WHERE source_id = ? ORDER BY episode_index`, sourceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Episode
	for rows.Next() {
		e, err := scanEpisodeRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

// UpdateEpisodeDanmaku records where the danmaku file landed and how many
// comments it holds.
func (r *AnimeRepository) UpdateEpisodeDanmaku(id int64, path string, count int) error {
	_, err := r.db.Exec(
		`UPDATE episode SET danmaku_file_path = ?, comment_count = ?, fetched_at = ? WHERE id = ?`,
		path, count, time.Now().UTC(), id)
	return err
}

func (r *AnimeRepository) DeleteEpisode(id int64) error {
	_, err := r.db.Exec(`DELETE FROM episode WHERE id = ?`, id)
	return err
}

// DanmakuPathsForAnime collects every non-empty danmaku file path under an
// anime, for the bulk-delete file sweep.
func (r *AnimeRepository) DanmakuPathsForAnime(animeID int64) ([]string, error) {
	rows, err := r.db.Query(
		`SELECT e.danmaku_file_path FROM episode e
		 JOIN anime_sources s ON s.id = e.source_id
		 WHERE s.anime_id = ? AND e.danmaku_file_path != ''`, animeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *AnimeRepository) DanmakuPathsForSource(sourceID int64) ([]string, error) {
	rows, err := r.db.Query(
		`SELECT danmaku_file_path FROM episode WHERE source_id = ? AND danmaku_file_path != ''`, sourceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// --- metadata sidecar ---

func (r *AnimeRepository) GetMetadata(animeID int64) (*models.AnimeMetadata, error) {
	row := r.db.QueryRow(
		`SELECT anime_id, tmdb_id, tmdb_episode_group_id, imdb_id, tvdb_id, douban_id, bangumi_id
		 FROM anime_metadata WHERE anime_id = ?`, animeID)
	var m models.AnimeMetadata
	err := row.Scan(&m.AnimeID, &m.TMDBID, &m.TMDBEpisodeGroupID, &m.IMDBID, &m.TVDBID, &m.DoubanID, &m.BangumiID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// FillMetadataIfEmpty writes catalogue IDs without ever overwriting a value
// that is already present.
func (r *AnimeRepository) FillMetadataIfEmpty(m models.AnimeMetadata) error {
	_, err := r.db.Exec(`INSERT INTO anime_metadata (anime_id) VALUES (?) ON CONFLICT (anime_id) DO NOTHING`, m.AnimeID)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(
		`UPDATE anime_metadata SET
			tmdb_id = CASE WHEN tmdb_id = '' THEN ? ELSE tmdb_id END,
			tmdb_episode_group_id = CASE WHEN tmdb_episode_group_id = '' THEN ? ELSE tmdb_episode_group_id END,
			imdb_id = CASE WHEN imdb_id = '' THEN ? ELSE imdb_id END,
			tvdb_id = CASE WHEN tvdb_id = '' THEN ? ELSE tvdb_id END,
			douban_id = CASE WHEN douban_id = '' THEN ? ELSE douban_id END,
			bangumi_id = CASE WHEN bangumi_id = '' THEN ? ELSE bangumi_id END
		 WHERE anime_id = ?`,
		m.TMDBID, m.TMDBEpisodeGroupID, m.IMDBID, m.TVDBID, m.DoubanID, m.BangumiID, m.AnimeID)
	return err
}

// --- alias sidecar ---

func (r *AnimeRepository) GetAliases(animeID int64) (*models.AnimeAliases, error) {
	row := r.db.QueryRow(
		`SELECT anime_id, name_en, name_jp, name_romaji, alias_cn_1, alias_cn_2, alias_cn_3
		 FROM anime_aliases WHERE anime_id = ?`, animeID)
	var a models.AnimeAliases
	err := row.Scan(&a.AnimeID, &a.NameEN, &a.NameJP, &a.NameRomaji, &a.AliasCN1, &a.AliasCN2, &a.AliasCN3)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// FillAliasesIfEmpty follows the same fill-if-empty discipline as metadata.
func (r *AnimeRepository) FillAliasesIfEmpty(a models.AnimeAliases) error {
	_, err := r.db.Exec(`INSERT INTO anime_aliases (anime_id) VALUES (?) ON CONFLICT (anime_id) DO NOTHING`, a.AnimeID)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(
		`UPDATE anime_aliases SET
			name_en = CASE WHEN name_en = '' THEN ? ELSE name_en END,
			name_jp = CASE WHEN name_jp = '' THEN ? ELSE name_jp END,
			name_romaji = CASE WHEN name_romaji = '' THEN ? ELSE name_romaji END,
			alias_cn_1 = CASE WHEN alias_cn_1 = '' THEN ? ELSE alias_cn_1 END,
			alias_cn_2 = CASE WHEN alias_cn_2 = '' THEN ? ELSE alias_cn_2 END,
			alias_cn_3 = CASE WHEN alias_cn_3 = '' THEN ? ELSE alias_cn_3 END
		 WHERE anime_id = ?`,
		a.NameEN, a.NameJP, a.NameRomaji, a.AliasCN1, a.AliasCN2, a.AliasCN3, a.AnimeID)
	return err
}

// --- tmdb episode mapping ---

func (r *AnimeRepository) UpsertEpisodeMapping(m models.TmdbEpisodeMapping) error {
	_, err := r.db.Exec(
		`INSERT INTO tmdb_episode_mapping
			(tmdb_tv_id, tmdb_episode_group_id, custom_season, custom_episode, tmdb_season, tmdb_episode, absolute_episode)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (tmdb_tv_id, tmdb_episode_group_id, custom_season, custom_episode)
		 DO UPDATE SET tmdb_season = excluded.tmdb_season, tmdb_episode = excluded.tmdb_episode, absolute_episode = excluded.absolute_episode`,
		m.TmdbTVID, m.GroupID, m.CustomSeason, m.CustomEpisode, m.TmdbSeason, m.TmdbEpisode, m.AbsoluteEpisode)
	return err
}

func (r *AnimeRepository) LookupEpisodeMapping(tvID int64, groupID string, season, episode int) (*models.TmdbEpisodeMapping, error) {
	row := r.db.QueryRow(
		`SELECT tmdb_tv_id, tmdb_episode_group_id, custom_season, custom_episode, tmdb_season, tmdb_episode, absolute_episode
		 FROM tmdb_episode_mapping
		 WHERE tmdb_tv_id = ? AND tmdb_episode_group_id = ? AND custom_season = ? AND custom_episode = ?`,
		tvID, groupID, season, episode)
	var m models.TmdbEpisodeMapping
	err := row.Scan(&m.TmdbTVID, &m.GroupID, &m.CustomSeason, &m.CustomEpisode, &m.TmdbSeason, &m.TmdbEpisode, &m.AbsoluteEpisode)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// LookupEpisodeMappingByTV resolves a custom (season, episode) against any
// stored group of the TV entry.
func (r *AnimeRepository) LookupEpisodeMappingByTV(tvID int64, season, episode int) (*models.TmdbEpisodeMapping, error) {
	row := r.db.QueryRow(
		`SELECT tmdb_tv_id, tmdb_episode_group_id, custom_season, custom_episode, tmdb_season, tmdb_episode, absolute_episode
		 FROM tmdb_episode_mapping
		 WHERE tmdb_tv_id = ? AND custom_season = ? AND custom_episode = ?
		 LIMIT 1`,
		tvID, season, episode)
	var m models.TmdbEpisodeMapping
	err := row.Scan(&m.TmdbTVID, &m.GroupID, &m.CustomSeason, &m.CustomEpisode, &m.TmdbSeason, &m.TmdbEpisode, &m.AbsoluteEpisode)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// --- scan helpers ---

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAnime(row *sql.Row) (*models.Anime, error) {
	a, err := scanAnimeFrom(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return a, err
}

func scanAnimeRows(rows *sql.Rows) (*models.Anime, error) {
	return scanAnimeFrom(rows)
}

func scanAnimeFrom(s rowScanner) (*models.Anime, error) {
	var a models.Anime
	var typ string
	if err := s.Scan(&a.ID, &a.Title, &typ, &a.Season, &a.Year, &a.ImageURL, &a.LocalImagePath, &a.CreatedAt); err != nil {
		return nil, err
	}
	a.Type = models.MediaType(typ)
	return &a, nil
}

func scanSource(row *sql.Row) (*models.AnimeSource, error) {
	var s models.AnimeSource
	var fav int
	err := row.Scan(&s.ID, &s.AnimeID, &s.Provider, &s.MediaID, &s.SourceOrder, &fav, &s.IncrementalFailures, &s.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	s.IsFavorited = fav != 0
	return &s, nil
}

func scanEpisode(row *sql.Row) (*models.Episode, error) {
	e, err := scanEpisodeFrom(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return e, err
}

func scanEpisodeRows(rows *sql.Rows) (*models.Episode, error) {
	return scanEpisodeFrom(rows)
}

func scanEpisodeFrom(s rowScanner) (*models.Episode, error) {
	var e models.Episode
	var fetched sql.NullTime
	if err := s.Scan(&e.ID, &e.SourceID, &e.EpisodeIndex, &e.Title, &e.ProviderEpisodeID, &e.SourceURL, &e.DanmakuFilePath, &e.CommentCount, &fetched); err != nil {
		return nil, err
	}
	if fetched.Valid {
		e.FetchedAt = fetched.Time
	}
	return &e, nil
}
