package task

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"

	"danmuhub/config"
	"danmuhub/internal/database"
	"danmuhub/models"
	"danmuhub/services/danmaku"
	"danmuhub/services/library"
	"danmuhub/services/ratelimit"
	"danmuhub/services/recognition"
	"danmuhub/services/scraper"
)

type fakeProvider struct {
	episodes []models.ProviderEpisodeInfo
	comments []models.Comment
}

func (f *fakeProvider) Name() string { return "bilibili" }

func (f *fakeProvider) Search(ctx context.Context, keyword string, episodeInfo *models.EpisodeInfo, limit int) ([]models.ProviderSearchResult, error) {
	return nil, nil
}

func (f *fakeProvider) GetEpisodes(ctx context.Context, mediaID string, mediaType models.MediaType) ([]models.ProviderEpisodeInfo, error) {
	return f.episodes, nil
}

func (f *fakeProvider) GetComments(ctx context.Context, providerEpisodeID string) ([]models.Comment, error) {
	return f.comments, nil
}

type fixedSeasonMapper struct {
	calls int
}

func (m *fixedSeasonMapper) MapSeason(ctx context.Context, tmdbID, title string, season, episode int) (int, int, bool) {
	m.calls++
	if season == 2 && episode == 5 {
		return 1, 17, true
	}
	return season, episode, false
}

func newImportDeps(t *testing.T, provider *fakeProvider) (Deps, *config.Manager, *database.DB) {
	t.Helper()
	cfg := config.NewManager(filepath.Join(t.TempDir(), "settings.json"))
	if _, err := cfg.Load(); err != nil {
		t.Fatalf("load settings: %v", err)
	}
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	reg := scraper.NewRegistry(cfg)
	reg.Register(provider)
	deps := Deps{
		Cfg:         cfg,
		DB:          db,
		Library:     library.New(cfg, db, nil),
		Store:       danmaku.NewStore(cfg, afero.NewMemMapFs(), db.Anime),
		Scrapers:    reg,
		Limiter:     ratelimit.Disabled{},
		Recognition: recognition.NewManager(cfg),
	}
	return deps, cfg, db
}

func noProgress(ctx context.Context, progress int, description string) error { return nil }

func providerEpisodeList(indexes ...int) []models.ProviderEpisodeInfo {
	out := make([]models.ProviderEpisodeInfo, 0, len(indexes))
	for _, idx := range indexes {
		out = append(out, models.ProviderEpisodeInfo{
			Provider:     "bilibili",
			EpisodeIndex: idx,
			Title:        "",
			EpisodeID:    "pe",
		})
	}
	return out
}

func TestGenericImportRecordsExternalIDs(t *testing.T) {
	provider := &fakeProvider{
		episodes: providerEpisodeList(1, 2),
		comments: []models.Comment{{CID: 1, P: "1,1,25,16777215", M: "测试弹幕"}},
	}
	deps, _, db := newImportDeps(t, provider)

	res := GenericImport(deps, ImportParams{
		Provider:   "bilibili",
		MediaID:    "md1",
		AnimeTitle: "某作品",
		MediaType:  string(models.MediaTypeTVSeries),
		Season:     1,
		TMDBID:     "123",
		IMDBID:     "tt0100",
		BangumiID:  "bgm9",
	})(context.Background(), noProgress)
	if res.kind != resultDone {
		t.Fatalf("import result = %+v", res)
	}

	anime, err := db.Anime.GetByIdentity("某作品", 1, 0)
	if err != nil {
		t.Fatalf("anime not created: %v", err)
	}
	meta, err := db.Anime.GetMetadata(anime.ID)
	if err != nil {
		t.Fatalf("metadata sidecar missing: %v", err)
	}
	if meta.TMDBID != "123" || meta.IMDBID != "tt0100" || meta.BangumiID != "bgm9" {
		t.Fatalf("metadata = %+v", meta)
	}
}

func TestGenericImportSkipsSidecarWithoutIDs(t *testing.T) {
	provider := &fakeProvider{
		episodes: providerEpisodeList(1),
		comments: []models.Comment{{CID: 1, P: "1,1,25,16777215", M: "测试弹幕"}},
	}
	deps, _, db := newImportDeps(t, provider)

	res := GenericImport(deps, ImportParams{
		Provider:   "bilibili",
		MediaID:    "md2",
		AnimeTitle: "无标识作品",
		MediaType:  string(models.MediaTypeTVSeries),
		Season:     1,
	})(context.Background(), noProgress)
	if res.kind != resultDone {
		t.Fatalf("import result = %+v", res)
	}

	anime, err := db.Anime.GetByIdentity("无标识作品", 1, 0)
	if err != nil {
		t.Fatalf("anime not created: %v", err)
	}
	if _, err := db.Anime.GetMetadata(anime.ID); err == nil {
		t.Fatal("sidecar row written with no IDs to record")
	}
}

func TestGenericImportMapsSeason(t *testing.T) {
	provider := &fakeProvider{
		episodes: providerEpisodeList(16, 17, 18),
		comments: []models.Comment{{CID: 1, P: "1,1,25,16777215", M: "测试弹幕"}},
	}
	deps, cfg, db := newImportDeps(t, provider)

	settings, err := cfg.Load()
	if err != nil {
		t.Fatalf("load settings: %v", err)
	}
	settings.SeasonMapping.AutoImport = true
	if err := cfg.Save(settings); err != nil {
		t.Fatalf("save settings: %v", err)
	}
	mapper := &fixedSeasonMapper{}
	deps.Seasons = mapper

	res := GenericImport(deps, ImportParams{
		Provider:            "bilibili",
		MediaID:             "md3",
		AnimeTitle:          "映射作品",
		MediaType:           string(models.MediaTypeTVSeries),
		Season:              2,
		CurrentEpisodeIndex: 5,
		TMDBID:              "123",
	})(context.Background(), noProgress)
	if res.kind != resultDone {
		t.Fatalf("import result = %+v", res)
	}
	if mapper.calls != 1 {
		t.Fatalf("mapper calls = %d, want 1", mapper.calls)
	}

	// The canonical numbering drives the catalog: season 1, episode 17.
	anime, err := db.Anime.GetByIdentity("映射作品", 1, 0)
	if err != nil {
		t.Fatalf("anime not created under mapped season: %v", err)
	}
	sources, err := db.Anime.ListSources(anime.ID)
	if err != nil || len(sources) != 1 {
		t.Fatalf("sources = %v, %v", sources, err)
	}
	episodes, err := db.Anime.ListEpisodes(sources[0].ID)
	if err != nil {
		t.Fatalf("list episodes: %v", err)
	}
	if len(episodes) != 1 || episodes[0].EpisodeIndex != 17 {
		t.Fatalf("episodes = %+v, want the mapped index 17", episodes)
	}
}

func TestGenericImportSkipsMappingWhenDisabled(t *testing.T) {
	provider := &fakeProvider{
		episodes: providerEpisodeList(5),
		comments: []models.Comment{{CID: 1, P: "1,1,25,16777215", M: "测试弹幕"}},
	}
	deps, _, db := newImportDeps(t, provider)
	mapper := &fixedSeasonMapper{}
	deps.Seasons = mapper

	res := GenericImport(deps, ImportParams{
		Provider:            "bilibili",
		MediaID:             "md4",
		AnimeTitle:          "直连作品",
		MediaType:           string(models.MediaTypeTVSeries),
		Season:              2,
		CurrentEpisodeIndex: 5,
	})(context.Background(), noProgress)
	if res.kind != resultDone {
		t.Fatalf("import result = %+v", res)
	}
	if mapper.calls != 0 {
		t.Fatalf("mapper called %d times with the switch off", mapper.calls)
	}
	if _, err := db.Anime.GetByIdentity("直连作品", 2, 0); err != nil {
		t.Fatalf("anime not created under its own season: %v", err)
	}
}
