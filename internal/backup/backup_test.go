package backup

import (
	"bytes"
	"compress/gzip"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"danmuhub/internal/database"
	"danmuhub/models"
)

func openTestDB(t *testing.T, name string) *database.DB {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), name))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestExportImportRoundTrip(t *testing.T) {
	src := openTestDB(t, "src.db")
	dst := openTestDB(t, "dst.db")

	anime := &models.Anime{Title: "备份作品", Type: models.MediaTypeTVSeries, Season: 1, Year: 2023}
	if _, err := src.Anime.Insert(anime); err != nil {
		t.Fatalf("insert anime: %v", err)
	}
	source, err := src.Anime.InsertSource(anime.ID, "bilibili", "md42")
	if err != nil {
		t.Fatalf("insert source: %v", err)
	}
	if _, err := src.Anime.UpsertEpisode(&models.Episode{
		ID:           25_000_000_000_000 + anime.ID*1_000_000 + 10_000 + 1,
		SourceID:     source.ID,
		EpisodeIndex: 1,
		Title:        "第1集",
	}); err != nil {
		t.Fatalf("upsert episode: %v", err)
	}
	if err := src.Cache.Set("search:key", "value", time.Hour); err != nil {
		t.Fatalf("cache set: %v", err)
	}

	// The destination holds a row that the restore must wipe.
	stale := &models.Anime{Title: "旧作品", Type: models.MediaTypeMovie, Season: 1}
	if _, err := dst.Anime.Insert(stale); err != nil {
		t.Fatalf("insert stale anime: %v", err)
	}

	var buf bytes.Buffer
	if err := Export(src.Conn(), &buf); err != nil {
		t.Fatalf("export: %v", err)
	}
	if err := Import(dst.Conn(), bytes.NewReader(buf.Bytes())); err != nil {
		t.Fatalf("import: %v", err)
	}

	restored, err := dst.Anime.List("")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(restored) != 1 || restored[0].Title != "备份作品" {
		t.Fatalf("restored animes: %+v", restored)
	}
	sources, err := dst.Anime.ListSources(restored[0].ID)
	if err != nil {
		t.Fatalf("list sources: %v", err)
	}
	if len(sources) != 1 || sources[0].Provider != "bilibili" {
		t.Fatalf("restored sources: %+v", sources)
	}
	if v, err := dst.Cache.Get("search:key"); err != nil || v != "value" {
		t.Fatalf("restored cache: %q, %v", v, err)
	}
}

func TestImportRejectsGarbage(t *testing.T) {
	dst := openTestDB(t, "dst.db")
	if err := Import(dst.Conn(), strings.NewReader("not a gzip stream")); err == nil {
		t.Fatal("garbage input must fail")
	}
}

func TestImportRejectsUnknownVersion(t *testing.T) {
	dst := openTestDB(t, "dst.db")

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write([]byte(`{"metadata":{"version":99},"data":{}}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := gz.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	err := Import(dst.Conn(), &buf)
	if err == nil || !strings.Contains(err.Error(), "version") {
		t.Fatalf("err = %v, want version rejection", err)
	}
}
