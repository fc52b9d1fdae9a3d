package danmaku

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"

	"danmuhub/config"
	"danmuhub/internal/database"
	"danmuhub/models"
)

type storeFixture struct {
	store  *Store
	fs     afero.Fs
	anime  *models.Anime
	source *models.AnimeSource
	ep     *models.Episode
}

func newStoreFixture(t *testing.T) *storeFixture {
	t.Helper()
	dir := t.TempDir()

	cfg := config.NewManager(filepath.Join(dir, "settings.json"))
	settings, err := cfg.Load()
	if err != nil {
		t.Fatalf("load settings: %v", err)
	}
	settings.Danmaku.Root = "danmaku"
	if err := cfg.Save(settings); err != nil {
		t.Fatalf("save settings: %v", err)
	}

	db, err := database.Open(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	anime := &models.Anime{Title: "测试作品", Type: models.MediaTypeTVSeries, Season: 1}
	if _, err := db.Anime.Insert(anime); err != nil {
		t.Fatalf("insert anime: %v", err)
	}
	source, err := db.Anime.InsertSource(anime.ID, "bilibili", "md100")
	if err != nil {
		t.Fatalf("insert source: %v", err)
	}
	ep, err := db.Anime.UpsertEpisode(&models.Episode{
		ID:           25_000_000_000_000 + anime.ID*1_000_000 + 10_000 + 1,
		SourceID:     source.ID,
		EpisodeIndex: 1,
		Title:        "第1集",
	})
	if err != nil {
		t.Fatalf("upsert episode: %v", err)
	}

	memfs := afero.NewMemMapFs()
	return &storeFixture{
		store:  NewStore(cfg, memfs, db.Anime),
		fs:     memfs,
		anime:  anime,
		source: source,
		ep:     ep,
	}
}

func comments(n int) []models.Comment {
	out := make([]models.Comment, n)
	for i := range out {
		out[i] = models.Comment{P: fmt.Sprintf("%d,1,25,16777215", i), M: fmt.Sprintf("c%d", i)}
	}
	return out
}

func TestSaveForEpisodeWritesAndRecords(t *testing.T) {
	f := newStoreFixture(t)
	n, err := f.store.SaveForEpisode(f.anime, f.source, f.ep, comments(5))
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if n != 5 {
		t.Fatalf("wrote %d, want 5", n)
	}
	if f.ep.DanmakuFilePath == "" || f.ep.CommentCount != 5 {
		t.Fatalf("episode not updated: %+v", f.ep)
	}

	got, err := f.store.ReadEpisode(f.ep)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(got) != 5 {
		t.Fatalf("read back %d comments", len(got))
	}
}

func TestSaveForEpisodeSmartRefresh(t *testing.T) {
	f := newStoreFixture(t)
	if _, err := f.store.SaveForEpisode(f.anime, f.source, f.ep, comments(10)); err != nil {
		t.Fatalf("initial save: %v", err)
	}

	// Equal count: no touch.
	n, err := f.store.SaveForEpisode(f.anime, f.source, f.ep, comments(10))
	if err != nil {
		t.Fatalf("equal save: %v", err)
	}
	if n != 0 {
		t.Fatalf("equal count wrote %d, want 0", n)
	}

	// Fewer: no touch.
	if n, _ := f.store.SaveForEpisode(f.anime, f.source, f.ep, comments(3)); n != 0 {
		t.Fatalf("poorer fetch wrote %d, want 0", n)
	}
	if f.ep.CommentCount != 10 {
		t.Fatalf("comment count regressed to %d", f.ep.CommentCount)
	}

	// Richer: replace.
	if n, _ := f.store.SaveForEpisode(f.anime, f.source, f.ep, comments(12)); n != 12 {
		t.Fatalf("richer fetch wrote %d, want 12", n)
	}
	if f.ep.CommentCount != 12 {
		t.Fatalf("comment count = %d, want 12", f.ep.CommentCount)
	}
}

func TestSaveForEpisodeEmptyFetchIsNoop(t *testing.T) {
	f := newStoreFixture(t)
	if _, err := f.store.SaveForEpisode(f.anime, f.source, f.ep, comments(4)); err != nil {
		t.Fatalf("initial save: %v", err)
	}
	n, err := f.store.SaveForEpisode(f.anime, f.source, f.ep, nil)
	if err != nil {
		t.Fatalf("empty save: %v", err)
	}
	if n != 0 || f.ep.CommentCount != 4 {
		t.Fatalf("empty fetch touched the file: n=%d count=%d", n, f.ep.CommentCount)
	}
}

func TestSaveForEpisodeSortsByTime(t *testing.T) {
	f := newStoreFixture(t)
	in := []models.Comment{
		{P: "30,1,25,255", M: "late"},
		{P: "5,1,25,255", M: "early"},
		{P: "15,1,25,255", M: "middle"},
	}
	if _, err := f.store.SaveForEpisode(f.anime, f.source, f.ep, in); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := f.store.ReadEpisode(f.ep)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got[0].M != "early" || got[1].M != "middle" || got[2].M != "late" {
		t.Fatalf("comments not time-sorted: %+v", got)
	}
}

func TestDeleteEpisodeFilePrunesEmptyDirs(t *testing.T) {
	f := newStoreFixture(t)
	if _, err := f.store.SaveForEpisode(f.anime, f.source, f.ep, comments(2)); err != nil {
		t.Fatalf("save: %v", err)
	}
	path := f.ep.DanmakuFilePath
	if err := f.store.DeleteEpisodeFile(path); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if exists, _ := afero.Exists(f.fs, path); exists {
		t.Fatalf("file still present")
	}
	if exists, _ := afero.DirExists(f.fs, filepath.Dir(path)); exists {
		t.Fatalf("empty parent directory not pruned")
	}
}
