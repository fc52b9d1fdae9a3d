package danmaku

import (
	"path/filepath"
	"testing"

	"danmuhub/config"
	"danmuhub/models"
)

func TestEpisodePathDefaults(t *testing.T) {
	s := config.DefaultSettings()
	s.Danmaku.Root = "data/danmaku"

	v := PathVars{AnimeID: 42, EpisodeID: 25000042010003, Title: "某作品", Season: 1, Episode: 3}
	got := EpisodePath(s, models.MediaTypeTVSeries, v)
	want := filepath.Join("data/danmaku", "42", "25000042010003.xml")
	if got != want {
		t.Fatalf("tv path = %q, want %q", got, want)
	}

	got = EpisodePath(s, models.MediaTypeMovie, v)
	want = filepath.Join("data/danmaku", "某作品", "25000042010003.xml")
	if got != want {
		t.Fatalf("movie path = %q, want %q", got, want)
	}
}

func TestEpisodePathCustomTemplate(t *testing.T) {
	s := config.DefaultSettings()
	s.Danmaku.CustomPathEnabled = true
	s.Danmaku.TVDirectoryPath = "/mnt/danmaku"
	s.Danmaku.TVFilenameTemplate = "${title}/Season ${season}/${title} S${season}E${episode}.xml"

	v := PathVars{AnimeID: 7, EpisodeID: 25000007010012, Title: "Frieren", Season: 1, Episode: 12}
	got := EpisodePath(s, models.MediaTypeTVSeries, v)
	want := filepath.Join("/mnt/danmaku", "Frieren", "Season 1", "Frieren S1E12.xml")
	if got != want {
		t.Fatalf("custom path = %q, want %q", got, want)
	}
}

func TestEpisodePathCustomDirDisabled(t *testing.T) {
	s := config.DefaultSettings()
	s.Danmaku.Root = "root"
	s.Danmaku.CustomPathEnabled = false
	s.Danmaku.TVDirectoryPath = "/elsewhere"

	v := PathVars{AnimeID: 1, EpisodeID: 2}
	got := EpisodePath(s, models.MediaTypeTVSeries, v)
	if got != filepath.Join("root", "1", "2.xml") {
		t.Fatalf("custom dir should be ignored when disabled: %q", got)
	}
}

func TestSanitizeComponent(t *testing.T) {
	v := PathVars{AnimeID: 1, EpisodeID: 2, Title: `Fate/stay night: UBW?`}
	s := config.DefaultSettings()
	s.Danmaku.Root = "r"
	got := EpisodePath(s, models.MediaTypeMovie, v)
	want := filepath.Join("r", "Fate_stay night_ UBW_", "2.xml")
	if got != want {
		t.Fatalf("sanitized path = %q, want %q", got, want)
	}
}
