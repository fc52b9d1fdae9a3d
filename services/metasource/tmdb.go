package metasource

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"danmuhub/config"
	"danmuhub/models"
	"danmuhub/services/scraper"
)

const tmdbBaseURL = "https://api.themoviedb.org/3"
const tmdbImageBaseURL = "https://image.tmdb.org/t/p/w500"

// TMDB resolves titles and IDs against themoviedb.org. It also exposes
// episode-group lookups, which back custom season numbering.
type TMDB struct {
	cfg   *config.Manager
	httpc *scraper.HTTPClient
}

var _ Source = (*TMDB)(nil)

func NewTMDB(cfg *config.Manager, httpc *scraper.HTTPClient) *TMDB {
	return &TMDB{cfg: cfg, httpc: httpc}
}

func (t *TMDB) Name() string { return "tmdb" }

func (t *TMDB) credentials() (apiKey, language string, err error) {
	settings, err := t.cfg.Load()
	if err != nil {
		return "", "", err
	}
	for _, m := range settings.MetadataSources {
		if m.Name == "tmdb" {
			lang := m.Language
			if lang == "" {
				lang = "zh-CN"
			}
			return strings.TrimSpace(m.APIKey), lang, nil
		}
	}
	return "", "zh-CN", nil
}

type tmdbSearchResponse struct {
	Results []struct {
		ID           int64  `json:"id"`
		Name         string `json:"name"`
		Title        string `json:"title"`
		OriginalName string `json:"original_name"`
		FirstAirDate string `json:"first_air_date"`
		ReleaseDate  string `json:"release_date"`
		PosterPath   string `json:"poster_path"`
	} `json:"results"`
}

type tmdbDetailsResponse struct {
	ID           int64  `json:"id"`
	Name         string `json:"name"`
	Title        string `json:"title"`
	OriginalName string `json:"original_name"`
	FirstAirDate string `json:"first_air_date"`
	ReleaseDate  string `json:"release_date"`
	PosterPath   string `json:"poster_path"`
	ExternalIDs  struct {
		IMDBID string `json:"imdb_id"`
		TVDBID int64  `json:"tvdb_id"`
	} `json:"external_ids"`
	AlternativeTitles struct {
		// movies use "titles", tv uses "results"
		Titles  []tmdbAltTitle `json:"titles"`
		Results []tmdbAltTitle `json:"results"`
	} `json:"alternative_titles"`
	Translations struct {
		Translations []struct {
			ISO6391 string `json:"iso_639_1"`
			Data    struct {
				Name  string `json:"name"`
				Title string `json:"title"`
			} `json:"data"`
		} `json:"translations"`
	} `json:"translations"`
}

type tmdbAltTitle struct {
	ISO31661 string `json:"iso_3166_1"`
	Title    string `json:"title"`
}

func (t *TMDB) Search(ctx context.Context, keyword string, mediaType models.MediaType) ([]models.MetadataDetails, error) {
	apiKey, language, err := t.credentials()
	if err != nil {
		return nil, err
	}
	if apiKey == "" {
		return nil, errors.New("tmdb api key not configured")
	}

	kind := "tv"
	if mediaType == models.MediaTypeMovie {
		kind = "movie"
	}
	endpoint := fmt.Sprintf("%s/search/%s?api_key=%s&language=%s&query=%s",
		tmdbBaseURL, kind, url.QueryEscape(apiKey), url.QueryEscape(language), url.QueryEscape(keyword))

	var payload tmdbSearchResponse
	if err := t.httpc.GetJSON(ctx, endpoint, nil, &payload); err != nil {
		return nil, fmt.Errorf("tmdb search: %w", err)
	}

	out := make([]models.MetadataDetails, 0, len(payload.Results))
	for _, r := range payload.Results {
		title := r.Name
		if title == "" {
			title = r.Title
		}
		d := models.MetadataDetails{
			Source:    "tmdb",
			ID:        strconv.FormatInt(r.ID, 10),
			Title:     title,
			MediaType: mediaType,
			Year:      parseYear(r.ReleaseDate, r.FirstAirDate),
			TMDBID:    strconv.FormatInt(r.ID, 10),
		}
		if r.OriginalName != "" && r.OriginalName != title {
			d.Aliases = append(d.Aliases, r.OriginalName)
		}
		if r.PosterPath != "" {
			d.ImageURL = tmdbImageBaseURL + r.PosterPath
		}
		out = append(out, d)
	}
	return out, nil
}

func (t *TMDB) GetDetails(ctx context.Context, id string, mediaType models.MediaType) (*models.MetadataDetails, error) {
	apiKey, language, err := t.credentials()
	if err != nil {
		return nil, err
	}
	if apiKey == "" {
		return nil, errors.New("tmdb api key not configured")
	}

	kind := "tv"
	if mediaType == models.MediaTypeMovie {
		kind = "movie"
	}
	endpoint := fmt.Sprintf("%s/%s/%s?api_key=%s&language=%s&append_to_response=external_ids,alternative_titles,translations",
		tmdbBaseURL, kind, url.PathEscape(id), url.QueryEscape(apiKey), url.QueryEscape(language))

	var payload tmdbDetailsResponse
	if err := t.httpc.GetJSON(ctx, endpoint, nil, &payload); err != nil {
		return nil, fmt.Errorf("tmdb details: %w", err)
	}

	title := payload.Name
	if title == "" {
		title = payload.Title
	}
	d := &models.MetadataDetails{
		Source:    "tmdb",
		ID:        strconv.FormatInt(payload.ID, 10),
		Title:     title,
		MediaType: mediaType,
		Year:      parseYear(payload.ReleaseDate, payload.FirstAirDate),
		TMDBID:    strconv.FormatInt(payload.ID, 10),
		IMDBID:    payload.ExternalIDs.IMDBID,
	}
	if payload.ExternalIDs.TVDBID != 0 {
		d.TVDBID = strconv.FormatInt(payload.ExternalIDs.TVDBID, 10)
	}
	if payload.PosterPath != "" {
		d.ImageURL = tmdbImageBaseURL + payload.PosterPath
	}
	if payload.OriginalName != "" {
		d.Aliases = appendUnique(d.Aliases, title, payload.OriginalName)
	}
	alt := payload.AlternativeTitles.Results
	if len(alt) == 0 {
		alt = payload.AlternativeTitles.Titles
	}
	for _, a := range alt {
		switch a.ISO31661 {
		case "CN", "HK", "TW":
			if d.TitleCN == "" {
				d.TitleCN = a.Title
			}
		case "JP":
			if d.NameJP == "" {
				d.NameJP = a.Title
			}
		case "US", "GB":
			if d.NameEN == "" {
				d.NameEN = a.Title
			}
		}
		d.Aliases = appendUnique(d.Aliases, title, a.Title)
	}
	for _, tr := range payload.Translations.Translations {
		name := tr.Data.Name
		if name == "" {
			name = tr.Data.Title
		}
		if name == "" {
			continue
		}
		switch tr.ISO6391 {
		case "zh":
			if d.TitleCN == "" {
				d.TitleCN = name
			}
		case "en":
			if d.NameEN == "" {
				d.NameEN = name
			}
		case "ja":
			if d.NameJP == "" {
				d.NameJP = name
			}
		}
	}
	return d, nil
}

type tmdbEpisodeGroupsResponse struct {
	Results []TmdbEpisodeGroup `json:"results"`
}

// TmdbEpisodeGroup is one alternative episode ordering of a TV entry.
type TmdbEpisodeGroup struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	GroupCount   int    `json:"group_count"`
	EpisodeCount int    `json:"episode_count"`
	Type         int    `json:"type"`
}

type tmdbEpisodeGroupDetails struct {
	Groups []struct {
		Order    int `json:"order"`
		Episodes []struct {
			SeasonNumber  int `json:"season_number"`
			EpisodeNumber int `json:"episode_number"`
			Order         int `json:"order"`
		} `json:"episodes"`
	} `json:"groups"`
}

// EpisodeGroups lists the alternative orderings TMDB knows for a TV entry.
func (t *TMDB) EpisodeGroups(ctx context.Context, tvID int64) ([]TmdbEpisodeGroup, error) {
	apiKey, language, err := t.credentials()
	if err != nil {
		return nil, err
	}
	if apiKey == "" {
		return nil, errors.New("tmdb api key not configured")
	}
	endpoint := fmt.Sprintf("%s/tv/%d/episode_groups?api_key=%s&language=%s",
		tmdbBaseURL, tvID, url.QueryEscape(apiKey), url.QueryEscape(language))
	var payload tmdbEpisodeGroupsResponse
	if err := t.httpc.GetJSON(ctx, endpoint, nil, &payload); err != nil {
		return nil, fmt.Errorf("tmdb episode groups: %w", err)
	}
	return payload.Results, nil
}

// EpisodeGroupMappings flattens an episode group into the rows the mapping
// table stores: custom (season=group order, episode=order+1) against the
// canonical TMDB numbering, with a running absolute index.
func (t *TMDB) EpisodeGroupMappings(ctx context.Context, tvID int64, groupID string) ([]models.TmdbEpisodeMapping, error) {
	apiKey, language, err := t.credentials()
	if err != nil {
		return nil, err
	}
	if apiKey == "" {
		return nil, errors.New("tmdb api key not configured")
	}
	endpoint := fmt.Sprintf("%s/tv/episode_group/%s?api_key=%s&language=%s",
		tmdbBaseURL, url.PathEscape(groupID), url.QueryEscape(apiKey), url.QueryEscape(language))
	var payload tmdbEpisodeGroupDetails
	if err := t.httpc.GetJSON(ctx, endpoint, nil, &payload); err != nil {
		return nil, fmt.Errorf("tmdb episode group %s: %w", groupID, err)
	}

	var out []models.TmdbEpisodeMapping
	absolute := 0
	for _, g := range payload.Groups {
		for _, ep := range g.Episodes {
			absolute++
			out = append(out, models.TmdbEpisodeMapping{
				TmdbTVID:        tvID,
				GroupID:         groupID,
				CustomSeason:    g.Order,
				CustomEpisode:   ep.Order + 1,
				TmdbSeason:      ep.SeasonNumber,
				TmdbEpisode:     ep.EpisodeNumber,
				AbsoluteEpisode: absolute,
			})
		}
	}
	return out, nil
}

func parseYear(movieDate, seriesDate string) int {
	date := movieDate
	if date == "" {
		date = seriesDate
	}
	if date == "" {
		return 0
	}
	if ts, err := time.Parse("2006-01-02", date); err == nil {
		return ts.Year()
	}
	if len(date) >= 4 {
		if y, err := strconv.Atoi(date[:4]); err == nil {
			return y
		}
	}
	return 0
}

func appendUnique(list []string, primary string, v string) []string {
	v = strings.TrimSpace(v)
	if v == "" || v == primary {
		return list
	}
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}
