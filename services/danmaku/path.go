package danmaku

import (
	"path/filepath"
	"strconv"
	"strings"

	"danmuhub/config"
	"danmuhub/models"
	"danmuhub/utils/titleparse"
)

// PathVars feeds the filename template substitutions.
type PathVars struct {
	AnimeID   int64
	EpisodeID int64
	SourceID  int64
	Title     string
	Season    int
	Episode   int
	Year      int
	Provider  string
}

// EpisodePath resolves the on-disk location for an episode's danmaku file
// from the active settings. Custom templates get their own directory root;
// otherwise files live under the danmaku root.
func EpisodePath(s config.Settings, mediaType models.MediaType, v PathVars) string {
	isMovie := mediaType == models.MediaTypeMovie
	base := s.Danmaku.Root
	var tpl string
	if isMovie {
		tpl = s.Danmaku.MovieFilenameTemplate
		if s.Danmaku.CustomPathEnabled && s.Danmaku.MovieDirectoryPath != "" {
			base = s.Danmaku.MovieDirectoryPath
		}
	} else {
		tpl = s.Danmaku.TVFilenameTemplate
		if s.Danmaku.CustomPathEnabled && s.Danmaku.TVDirectoryPath != "" {
			base = s.Danmaku.TVDirectoryPath
		}
	}
	if tpl == "" {
		if isMovie {
			tpl = "${title}/${episodeId}.xml"
		} else {
			tpl = "${animeId}/${episodeId}.xml"
		}
	}
	rel := renderTemplate(tpl, v)
	return filepath.Join(base, filepath.FromSlash(rel))
}

func renderTemplate(tpl string, v PathVars) string {
	r := strings.NewReplacer(
		"${animeId}", strconv.FormatInt(v.AnimeID, 10),
		"${episodeId}", strconv.FormatInt(v.EpisodeID, 10),
		"${sourceId}", strconv.FormatInt(v.SourceID, 10),
		"${title}", sanitizeComponent(v.Title),
		"${titleBase}", sanitizeComponent(titleparse.StripSeasonTokens(v.Title)),
		"${season}", strconv.Itoa(v.Season),
		"${episode}", strconv.Itoa(v.Episode),
		"${year}", strconv.Itoa(v.Year),
		"${provider}", sanitizeComponent(v.Provider),
	)
	return r.Replace(tpl)
}

// sanitizeComponent strips characters that are unsafe in a single path
// segment. Slashes inside a substitution must not create directories.
func sanitizeComponent(s string) string {
	s = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '_'
		}
		if r < 0x20 {
			return -1
		}
		return r
	}, s)
	s = strings.TrimSpace(s)
	s = strings.Trim(s, ".")
	if s == "" {
		return "_"
	}
	return s
}
