package models

// EpisodeInfo is the optional (season, episode) hint forwarded to scrapers
// that can narrow their search with it.
type EpisodeInfo struct {
	Season  int `json:"season,omitempty"`
	Episode int `json:"episode,omitempty"`
}

// ProviderSearchResult is one candidate returned by a scraper search.
type ProviderSearchResult struct {
	Provider     string    `json:"provider"`
	MediaID      string    `json:"mediaId"`
	Title        string    `json:"title"`
	Type         MediaType `json:"type"`
	Season       int       `json:"season,omitempty"`
	Year         int       `json:"year,omitempty"`
	EpisodeCount int       `json:"episodeCount,omitempty"`
	ImageURL     string    `json:"imageUrl,omitempty"`
	// CurrentEpisodeIndex carries through the episode the caller asked for,
	// when the scraper could resolve it directly.
	CurrentEpisodeIndex int `json:"currentEpisodeIndex,omitempty"`
}

// ProviderEpisodeInfo is one episode as listed by a provider.
type ProviderEpisodeInfo struct {
	Provider     string `json:"provider"`
	EpisodeIndex int    `json:"episodeIndex"`
	Title        string `json:"title"`
	EpisodeID    string `json:"episodeId"`
	URL          string `json:"url,omitempty"`
}

// MetadataDetails is the normalized payload from a metadata source
// (TMDB, Bangumi, ...).
type MetadataDetails struct {
	Source     string   `json:"source"`
	ID         string   `json:"id"`
	Title      string   `json:"title"`
	TitleCN    string   `json:"titleCn,omitempty"`
	NameEN     string   `json:"nameEn,omitempty"`
	NameJP     string   `json:"nameJp,omitempty"`
	NameRomaji string   `json:"nameRomaji,omitempty"`
	Aliases    []string `json:"aliases,omitempty"`
	MediaType  MediaType `json:"mediaType,omitempty"`
	Year       int      `json:"year,omitempty"`
	IMDBID     string   `json:"imdbId,omitempty"`
	TMDBID     string   `json:"tmdbId,omitempty"`
	TVDBID     string   `json:"tvdbId,omitempty"`
	BangumiID  string   `json:"bangumiId,omitempty"`
	DoubanID   string   `json:"doubanId,omitempty"`
	ImageURL   string   `json:"imageUrl,omitempty"`
}

// AllTitles returns every usable name of the entry, primary title first.
func (d MetadataDetails) AllTitles() []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(s string) {
		if s == "" {
			return
		}
		if _, dup := seen[s]; dup {
			return
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	add(d.Title)
	add(d.TitleCN)
	add(d.NameEN)
	add(d.NameJP)
	add(d.NameRomaji)
	for _, a := range d.Aliases {
		add(a)
	}
	return out
}
