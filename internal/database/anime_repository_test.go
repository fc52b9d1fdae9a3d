package database

import (
	"errors"
	"testing"

	"danmuhub/models"
)

func seedAnime(t *testing.T, db *DB, title string, season, year int) *models.Anime {
	t.Helper()
	a := &models.Anime{Title: title, Type: models.MediaTypeTVSeries, Season: season, Year: year}
	if _, err := db.Anime.Insert(a); err != nil {
		t.Fatalf("insert anime: %v", err)
	}
	return a
}

func TestGetByIdentityYearSemantics(t *testing.T) {
	db := openTestDB(t)
	seedAnime(t, db, "某作品", 1, 2020)

	// Year compared only when both sides carry one.
	if _, err := db.Anime.GetByIdentity("某作品", 1, 0); err != nil {
		t.Fatalf("yearless query: %v", err)
	}
	if _, err := db.Anime.GetByIdentity("某作品", 1, 2020); err != nil {
		t.Fatalf("matching year: %v", err)
	}
	if _, err := db.Anime.GetByIdentity("某作品", 1, 2015); !errors.Is(err, ErrNotFound) {
		t.Fatalf("wrong year err = %v, want ErrNotFound", err)
	}
	if _, err := db.Anime.GetByIdentity("某作品", 2, 0); !errors.Is(err, ErrNotFound) {
		t.Fatalf("wrong season err = %v, want ErrNotFound", err)
	}
}

func TestInsertSourceAssignsOrder(t *testing.T) {
	db := openTestDB(t)
	a := seedAnime(t, db, "多源作品", 1, 0)

	s1, err := db.Anime.InsertSource(a.ID, "bilibili", "md1")
	if err != nil {
		t.Fatalf("insert source: %v", err)
	}
	s2, err := db.Anime.InsertSource(a.ID, "tencent", "cover1")
	if err != nil {
		t.Fatalf("insert source: %v", err)
	}
	if s1.SourceOrder != 1 || s2.SourceOrder != 2 {
		t.Fatalf("orders = %d, %d", s1.SourceOrder, s2.SourceOrder)
	}
}

func TestSetFavoritedIsExclusive(t *testing.T) {
	db := openTestDB(t)
	a := seedAnime(t, db, "收藏作品", 1, 0)
	s1, _ := db.Anime.InsertSource(a.ID, "bilibili", "md1")
	s2, _ := db.Anime.InsertSource(a.ID, "tencent", "cover1")

	if err := db.Anime.SetFavorited(s1.ID, true); err != nil {
		t.Fatalf("favorite s1: %v", err)
	}
	if err := db.Anime.SetFavorited(s2.ID, true); err != nil {
		t.Fatalf("favorite s2: %v", err)
	}

	sources, err := db.Anime.ListSources(a.ID)
	if err != nil {
		t.Fatalf("list sources: %v", err)
	}
	favorites := 0
	for _, s := range sources {
		if s.IsFavorited {
			favorites++
			if s.ID != s2.ID {
				t.Fatalf("favorite moved to wrong source %d", s.ID)
			}
		}
	}
	if favorites != 1 {
		t.Fatalf("%d favorites, want exactly 1", favorites)
	}

	if err := db.Anime.SetFavorited(99999, true); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown source err = %v, want ErrNotFound", err)
	}
}

func TestDeleteAnimeCascades(t *testing.T) {
	db := openTestDB(t)
	a := seedAnime(t, db, "级联作品", 1, 0)
	s, _ := db.Anime.InsertSource(a.ID, "bilibili", "md1")
	ep, err := db.Anime.UpsertEpisode(&models.Episode{
		ID: 25_000_000_000_000 + a.ID*1_000_000 + 10_000 + 1, SourceID: s.ID, EpisodeIndex: 1, Title: "第1集",
	})
	if err != nil {
		t.Fatalf("upsert episode: %v", err)
	}

	if err := db.Anime.Delete(a.ID); err != nil {
		t.Fatalf("delete anime: %v", err)
	}
	if _, err := db.Anime.GetSource(s.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("source survived delete: %v", err)
	}
	if _, err := db.Anime.GetEpisode(ep.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("episode survived delete: %v", err)
	}
}

func TestEpisodeMappingRoundTrip(t *testing.T) {
	db := openTestDB(t)

	rows := []models.TmdbEpisodeMapping{
		{TmdbTVID: 123, GroupID: "grp1", CustomSeason: 2, CustomEpisode: 1, TmdbSeason: 1, TmdbEpisode: 13, AbsoluteEpisode: 13},
		{TmdbTVID: 123, GroupID: "grp1", CustomSeason: 2, CustomEpisode: 2, TmdbSeason: 1, TmdbEpisode: 14, AbsoluteEpisode: 14},
	}
	for _, m := range rows {
		if err := db.Anime.UpsertEpisodeMapping(m); err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}

	m, err := db.Anime.LookupEpisodeMapping(123, "grp1", 2, 2)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if m.TmdbSeason != 1 || m.TmdbEpisode != 14 {
		t.Fatalf("mapping = %+v", m)
	}

	// Lookup without a group scans every stored group of the entry.
	m, err = db.Anime.LookupEpisodeMappingByTV(123, 2, 1)
	if err != nil {
		t.Fatalf("lookup by tv: %v", err)
	}
	if m.GroupID != "grp1" || m.TmdbEpisode != 13 {
		t.Fatalf("mapping = %+v", m)
	}

	// Re-upserting the same custom slot replaces the canonical side.
	updated := rows[0]
	updated.TmdbEpisode = 26
	if err := db.Anime.UpsertEpisodeMapping(updated); err != nil {
		t.Fatalf("re-upsert: %v", err)
	}
	m, err = db.Anime.LookupEpisodeMapping(123, "grp1", 2, 1)
	if err != nil {
		t.Fatalf("lookup after update: %v", err)
	}
	if m.TmdbEpisode != 26 {
		t.Fatalf("update not applied: %+v", m)
	}

	if _, err := db.Anime.LookupEpisodeMappingByTV(999, 2, 1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("miss err = %v, want ErrNotFound", err)
	}
}

func TestUpsertEpisodeReturnsExisting(t *testing.T) {
	db := openTestDB(t)
	a := seedAnime(t, db, "重复集作品", 1, 0)
	s, _ := db.Anime.InsertSource(a.ID, "bilibili", "md1")

	id := 25_000_000_000_000 + a.ID*1_000_000 + 10_000 + 3
	first, err := db.Anime.UpsertEpisode(&models.Episode{ID: id, SourceID: s.ID, EpisodeIndex: 3, Title: "第3集"})
	if err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	again, err := db.Anime.UpsertEpisode(&models.Episode{ID: id, SourceID: s.ID, EpisodeIndex: 3, Title: "改名"})
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if again.ID != first.ID || again.Title != first.Title {
		t.Fatalf("second upsert replaced the row: %+v", again)
	}
}
