package models

import "time"

// MediaType classifies a library entry.
type MediaType string

const (
	MediaTypeTVSeries MediaType = "tv_series"
	MediaTypeMovie    MediaType = "movie"
	MediaTypeOVA      MediaType = "ova"
	MediaTypeOther    MediaType = "other"
)

// Anime is one work in the library (a movie, a TV season, an OVA).
// A work is uniquely identified by (normalized title, season, year).
type Anime struct {
	ID             int64     `json:"id"`
	Title          string    `json:"title"`
	Type           MediaType `json:"type"`
	Season         int       `json:"season"`
	Year           int       `json:"year,omitempty"`
	ImageURL       string    `json:"imageUrl,omitempty"`
	LocalImagePath string    `json:"localImagePath,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}

// AnimeSource binds one anime to one provider. (provider, mediaID) is
// globally unique; sourceOrder is monotonic per anime and is baked into the
// public episode ID, so it never changes after creation.
type AnimeSource struct {
	ID                  int64     `json:"id"`
	AnimeID             int64     `json:"animeId"`
	Provider            string    `json:"provider"`
	MediaID             string    `json:"mediaId"`
	SourceOrder         int       `json:"sourceOrder"`
	IsFavorited         bool      `json:"isFavorited"`
	IncrementalFailures int       `json:"incrementalRefreshFailures"`
	CreatedAt           time.Time `json:"createdAt"`
}

// Episode is one episode of one source. ID is the synthesized 14-digit
// public identifier; CommentCount mirrors the number of <d> nodes in the
// danmaku file (0 when no file exists).
type Episode struct {
	ID                int64     `json:"id"`
	SourceID          int64     `json:"sourceId"`
	EpisodeIndex      int       `json:"episodeIndex"`
	Title             string    `json:"title"`
	ProviderEpisodeID string    `json:"providerEpisodeId"`
	SourceURL         string    `json:"sourceUrl,omitempty"`
	DanmakuFilePath   string    `json:"danmakuFilePath,omitempty"`
	CommentCount      int       `json:"commentCount"`
	FetchedAt         time.Time `json:"fetchedAt,omitempty"`
}

// AnimeMetadata is the 1:1 sidecar holding IDs in foreign catalogues.
// Auto-discovery only fills empty fields, it never overwrites.
type AnimeMetadata struct {
	AnimeID            int64  `json:"animeId"`
	TMDBID             string `json:"tmdbId,omitempty"`
	TMDBEpisodeGroupID string `json:"tmdbEpisodeGroupId,omitempty"`
	IMDBID             string `json:"imdbId,omitempty"`
	TVDBID             string `json:"tvdbId,omitempty"`
	DoubanID           string `json:"doubanId,omitempty"`
	BangumiID          string `json:"bangumiId,omitempty"`
}

// AnimeAliases is the 1:1 sidecar of alternative names used by search.
type AnimeAliases struct {
	AnimeID    int64  `json:"animeId"`
	NameEN     string `json:"nameEn,omitempty"`
	NameJP     string `json:"nameJp,omitempty"`
	NameRomaji string `json:"nameRomaji,omitempty"`
	AliasCN1   string `json:"aliasCn1,omitempty"`
	AliasCN2   string `json:"aliasCn2,omitempty"`
	AliasCN3   string `json:"aliasCn3,omitempty"`
}

// All returns the non-empty aliases as a flat list.
func (a AnimeAliases) All() []string {
	var out []string
	for _, s := range []string{a.NameEN, a.NameJP, a.NameRomaji, a.AliasCN1, a.AliasCN2, a.AliasCN3} {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// TmdbEpisodeMapping reconciles provider numbering against a TMDB episode
// group's custom season/episode ordering.
type TmdbEpisodeMapping struct {
	TmdbTVID        int64 `json:"tmdbTvId"`
	GroupID         string `json:"tmdbEpisodeGroupId"`
	CustomSeason    int   `json:"customSeason"`
	CustomEpisode   int   `json:"customEpisode"`
	TmdbSeason      int   `json:"tmdbSeason"`
	TmdbEpisode     int   `json:"tmdbEpisode"`
	AbsoluteEpisode int   `json:"absoluteEpisode"`
}
