package webhook

import (
	"testing"

	"danmuhub/models"
	"danmuhub/services/task"
)

func TestTaskSpecUniqueKey(t *testing.T) {
	d := &Dispatcher{}
	spec, err := d.TaskSpec(DispatchParams{
		Source:  "emby",
		Payload: models.WebhookPayload{AnimeTitle: "葬送的芙莉莲", Season: 2, CurrentEpisodeIndex: 8},
	})
	if err != nil {
		t.Fatalf("task spec: %v", err)
	}
	if spec.UniqueKey != "webhook-dispatch-葬送的芙莉莲-S2-ep8" {
		t.Fatalf("unique key = %q", spec.UniqueKey)
	}
	if spec.Queue != models.QueueFallback {
		t.Fatalf("queue = %q", spec.Queue)
	}
	if spec.TaskType == "" || spec.Parameters == nil {
		t.Fatalf("spec not replayable: %+v", spec)
	}
}

func TestTaskSpecFloorsSeason(t *testing.T) {
	d := &Dispatcher{}
	spec, err := d.TaskSpec(DispatchParams{
		Source:  "plex",
		Payload: models.WebhookPayload{AnimeTitle: "某电影", MediaType: "movie", CurrentEpisodeIndex: 1},
	})
	if err != nil {
		t.Fatalf("task spec: %v", err)
	}
	if spec.UniqueKey != "webhook-dispatch-某电影-S1-ep1" {
		t.Fatalf("unique key = %q", spec.UniqueKey)
	}
}

func TestTaskSpecRequiresTitle(t *testing.T) {
	d := &Dispatcher{}
	if _, err := d.TaskSpec(DispatchParams{Source: "emby"}); err == nil {
		t.Fatal("empty title must be rejected")
	}
}

func TestParsePayload(t *testing.T) {
	p, err := ParsePayload([]byte(`{"anime_title":"  某作品  ","season":2,"current_episode_index":5,"tmdb_id":"123"}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if p.AnimeTitle != "某作品" {
		t.Fatalf("title not trimmed: %q", p.AnimeTitle)
	}
	if p.Season != 2 || p.CurrentEpisodeIndex != 5 || p.TMDBID != "123" {
		t.Fatalf("parsed %+v", p)
	}

	if _, err := ParsePayload([]byte(`{broken`)); err == nil {
		t.Fatal("malformed body must fail")
	}
}

func TestImportCarriesExternalIDs(t *testing.T) {
	p := models.WebhookPayload{
		AnimeTitle: "某作品",
		TMDBID:     "123",
		IMDBID:     "tt0100",
		TVDBID:     "456",
		DoubanID:   "789",
		BangumiID:  "bgm9",
	}
	var params task.ImportParams
	copyExternalIDs(&params, p)
	if params.TMDBID != "123" || params.IMDBID != "tt0100" || params.TVDBID != "456" {
		t.Fatalf("params = %+v", params)
	}
	if params.DoubanID != "789" || params.BangumiID != "bgm9" {
		t.Fatalf("params = %+v", params)
	}
	if !params.HasExternalIDs() {
		t.Fatal("carried IDs not detected")
	}
}

func TestContainsCJK(t *testing.T) {
	if !containsCJK("某作品 Season 2") {
		t.Fatal("han runes not detected")
	}
	if containsCJK("Frieren: Beyond Journey's End") {
		t.Fatal("latin title misdetected")
	}
}
