package library

import "testing"

func TestEpisodeIDSynthesis(t *testing.T) {
	id, err := EpisodeID(1, 1, 3)
	if err != nil {
		t.Fatalf("EpisodeID: %v", err)
	}
	if id != 25_000001_01_0003 {
		t.Fatalf("EpisodeID = %d, want 25000001010003", id)
	}
}

func TestEpisodeIDRoundTrip(t *testing.T) {
	cases := []struct {
		anime   int64
		order   int
		episode int
	}{
		{1, 1, 1},
		{42, 3, 12},
		{999_999, 99, 9_999},
	}
	for _, c := range cases {
		id, err := EpisodeID(c.anime, c.order, c.episode)
		if err != nil {
			t.Fatalf("EpisodeID(%d,%d,%d): %v", c.anime, c.order, c.episode, err)
		}
		anime, order, episode, err := SplitEpisodeID(id)
		if err != nil {
			t.Fatalf("SplitEpisodeID(%d): %v", id, err)
		}
		if anime != c.anime || order != c.order || episode != c.episode {
			t.Fatalf("round trip (%d,%d,%d) -> %d -> (%d,%d,%d)",
				c.anime, c.order, c.episode, id, anime, order, episode)
		}
	}
}

func TestEpisodeIDRangeChecks(t *testing.T) {
	cases := []struct {
		anime   int64
		order   int
		episode int
	}{
		{0, 1, 1},
		{1_000_000, 1, 1},
		{1, 0, 1},
		{1, 100, 1},
		{1, 1, 0},
		{1, 1, 10_000},
	}
	for _, c := range cases {
		if _, err := EpisodeID(c.anime, c.order, c.episode); err == nil {
			t.Errorf("EpisodeID(%d,%d,%d) should fail", c.anime, c.order, c.episode)
		}
	}
}

func TestSplitEpisodeIDRejectsForeignIDs(t *testing.T) {
	for _, id := range []int64{0, 123, 25_000_000_000_000} {
		if _, _, _, err := SplitEpisodeID(id); err == nil {
			t.Errorf("SplitEpisodeID(%d) should fail", id)
		}
	}
}
