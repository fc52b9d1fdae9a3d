package search

import (
	"testing"

	"danmuhub/models"
)

func TestScoreExactMatchDominates(t *testing.T) {
	query := "葬送的芙莉莲"
	exact := models.ProviderSearchResult{Title: "葬送的芙莉莲", Type: models.MediaTypeTVSeries, Season: 1}
	fuzzy := models.ProviderSearchResult{Title: "葬送的芙莉莲 特别篇", Type: models.MediaTypeTVSeries, Season: 1}

	// The exact match sits on the worst display order, the fuzzy one on the
	// best; exact must still win.
	se := scoreCandidate(exact, query, 1, 0, 99)
	sf := scoreCandidate(fuzzy, query, 1, 0, 1)
	if se <= sf {
		t.Fatalf("exact %d must beat fuzzy %d despite display order", se, sf)
	}
}

func TestScoreYearBonusAndPenalty(t *testing.T) {
	query := "某作品"
	right := models.ProviderSearchResult{Title: "某作品", Year: 2020}
	wrong := models.ProviderSearchResult{Title: "某作品", Year: 2015}
	none := models.ProviderSearchResult{Title: "某作品"}

	sr := scoreCandidate(right, query, 0, 2020, 1)
	sw := scoreCandidate(wrong, query, 0, 2020, 1)
	sn := scoreCandidate(none, query, 0, 2020, 1)
	if sr <= sn {
		t.Fatalf("matching year %d must beat missing year %d", sr, sn)
	}
	if sn <= sw {
		t.Fatalf("missing year %d must beat wrong year %d", sn, sw)
	}
}

func TestScoreSeasonBonus(t *testing.T) {
	query := "某作品"
	s2 := models.ProviderSearchResult{Title: "某作品", Type: models.MediaTypeTVSeries, Season: 2}
	s1 := models.ProviderSearchResult{Title: "某作品", Type: models.MediaTypeTVSeries, Season: 1}
	if a, b := scoreCandidate(s2, query, 2, 0, 1), scoreCandidate(s1, query, 2, 0, 1); a <= b {
		t.Fatalf("season match %d must beat mismatch %d", a, b)
	}
}

func TestScoreLongRunningBonus(t *testing.T) {
	query := "名侦探柯南"
	origin := models.ProviderSearchResult{Title: "名侦探柯南", Year: 1996}
	nearMiss := models.ProviderSearchResult{Title: "名侦探柯南", Year: 2018}

	// Query year 2020: both candidates take the wrong-year penalty, but the
	// entry that started well before gets the long-running bonus on top.
	so := scoreCandidate(origin, query, 0, 2020, 1)
	sn := scoreCandidate(nearMiss, query, 0, 2020, 1)
	if so <= sn {
		t.Fatalf("long-running origin %d must beat near-miss year %d", so, sn)
	}
}

func TestPartialRatioPreFilters(t *testing.T) {
	var c simCache
	if _, ok := c.partialRatio("abc", "xyz"); ok {
		t.Fatalf("disjoint rune sets must be rejected")
	}
	long := make([]rune, 100)
	for i := range long {
		long[i] = 'a'
	}
	if _, ok := c.partialRatio("a", string(long)); ok {
		t.Fatalf("large length difference must be rejected")
	}
	v, ok := c.partialRatio("hello world", "hello world")
	if !ok || v != 100 {
		t.Fatalf("identical strings: %d, %v", v, ok)
	}
	// second call comes from the cache and must agree
	v2, ok := c.partialRatio("hello world", "hello world")
	if !ok || v2 != v {
		t.Fatalf("cache disagreement: %d != %d", v2, v)
	}
}
