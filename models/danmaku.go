package models

// Comment is one danmaku line as exchanged with scrapers and the compat API.
// P carries "time,mode,fontsize,color" plus an optional bracketed provider
// tag; the store normalizes it before anything is written to disk.
type Comment struct {
	CID  int64   `json:"cid,omitempty"`
	P    string  `json:"p"`
	M    string  `json:"m"`
	T    float64 `json:"t,omitempty"`
}

// WebhookPayload is the subset of a media-server event the dispatcher reads.
// The raw body is persisted verbatim alongside it.
type WebhookPayload struct {
	AnimeTitle          string `json:"anime_title"`
	MediaType           string `json:"media_type"`
	Season              int    `json:"season"`
	CurrentEpisodeIndex int    `json:"current_episode_index"`
	SearchKeyword       string `json:"search_keyword,omitempty"`
	DoubanID            string `json:"douban_id,omitempty"`
	TMDBID              string `json:"tmdb_id,omitempty"`
	IMDBID              string `json:"imdb_id,omitempty"`
	TVDBID              string `json:"tvdb_id,omitempty"`
	BangumiID           string `json:"bangumi_id,omitempty"`
	Year                int    `json:"year,omitempty"`
	SelectedEpisodes    []int  `json:"selected_episodes,omitempty"`
}
