package titleparse

import "testing"

func TestParseSxxEyy(t *testing.T) {
	p := Parse("Frieren S01E03")
	if p.Title != "Frieren" || p.Season != 1 || p.Episode != 3 {
		t.Fatalf("parsed %+v", p)
	}

	p = Parse("Some Show S2EP12")
	if p.Title != "Some Show" || p.Season != 2 || p.Episode != 12 {
		t.Fatalf("parsed %+v", p)
	}
}

func TestParseChineseSeasonEpisode(t *testing.T) {
	p := Parse("葬送的芙莉莲 第二季 第8话")
	if p.Title != "葬送的芙莉莲" || p.Season != 2 || p.Episode != 8 {
		t.Fatalf("parsed %+v", p)
	}

	p = Parse("某动画 第十一季")
	if p.Season != 11 {
		t.Fatalf("第十一季 season = %d", p.Season)
	}

	p = Parse("某动画 第3期")
	if p.Season != 3 {
		t.Fatalf("第3期 season = %d", p.Season)
	}
}

func TestParseStripsReleaseMetadata(t *testing.T) {
	p := Parse("[SubGroup] Mushoku Tensei S02E05 1080p WEBRip x265")
	if p.Title != "Mushoku Tensei" {
		t.Fatalf("title = %q", p.Title)
	}
	if p.Season != 2 || p.Episode != 5 {
		t.Fatalf("parsed %+v", p)
	}
}

func TestParseBracketCannotShadowEpisode(t *testing.T) {
	p := Parse("某作品 第3话 【WebRip 1080p】")
	if p.Episode != 3 {
		t.Fatalf("bracket shadowed episode: %+v", p)
	}
	if p.Title != "某作品" {
		t.Fatalf("title = %q", p.Title)
	}
}

func TestParseMovieAndOVAMarkers(t *testing.T) {
	p := Parse("某作品 剧场版")
	if !p.IsMovie {
		t.Fatalf("剧场版 not detected: %+v", p)
	}
	p = Parse("Mushoku Tensei OVA")
	if !p.IsOVA {
		t.Fatalf("OVA not detected: %+v", p)
	}
	if p.Title != "Mushoku Tensei" {
		t.Fatalf("OVA marker left in title: %q", p.Title)
	}
}

func TestParsePlainTitle(t *testing.T) {
	p := Parse("  进击的巨人  ")
	if p.Title != "进击的巨人" || p.Season != 0 || p.Episode != 0 {
		t.Fatalf("parsed %+v", p)
	}
}

func TestStripSeasonTokens(t *testing.T) {
	if got := StripSeasonTokens("某作品 第二季"); got != "某作品" {
		t.Fatalf("StripSeasonTokens = %q", got)
	}
	if got := StripSeasonTokens("Show Season 2"); got != "Show" {
		t.Fatalf("StripSeasonTokens = %q", got)
	}
}
