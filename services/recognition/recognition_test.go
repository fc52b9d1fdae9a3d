package recognition

import (
	"path/filepath"
	"testing"

	"danmuhub/config"
)

func newTestManager(t *testing.T, rules string) *Manager {
	t.Helper()
	cfg := config.NewManager(filepath.Join(t.TempDir(), "settings.json"))
	settings, err := cfg.Load()
	if err != nil {
		t.Fatalf("load settings: %v", err)
	}
	settings.Recognition.Rules = rules
	if err := cfg.Save(settings); err != nil {
		t.Fatalf("save settings: %v", err)
	}
	return NewManager(cfg)
}

func TestNormalizeTitleReplacement(t *testing.T) {
	m := newTestManager(t, `
# comment line
BanG Dream! It's MyGO!!!!! => BanG Dream
【熟肉】
`)
	if got := m.NormalizeTitle("BanG Dream! It's MyGO!!!!!"); got != "BanG Dream" {
		t.Fatalf("whole-line replacement: %q", got)
	}
	if got := m.NormalizeTitle("【熟肉】某动画 第一季"); got != "某动画 第一季" {
		t.Fatalf("blocklist strip: %q", got)
	}
}

func TestNormalizeTitleSubstringReplacement(t *testing.T) {
	m := newTestManager(t, "剧场版 => 剧场版(Movie)")
	if got := m.NormalizeTitle("某作品 剧场版 完结篇"); got != "某作品 剧场版(Movie) 完结篇" {
		t.Fatalf("substring replacement: %q", got)
	}
}

func TestEpisodeOffset(t *testing.T) {
	m := newTestManager(t, "某长篇 <> 第二部 >> EP-12")
	if got := m.EpisodeIndex("某长篇 第二部", 15); got != 3 {
		t.Fatalf("offset applied: %d, want 3", got)
	}
	// only one locator word present: no offset
	if got := m.EpisodeIndex("某长篇 第一部", 15); got != 15 {
		t.Fatalf("partial match must not offset: %d", got)
	}
	// floor at 1
	if got := m.EpisodeIndex("某长篇 第二部", 5); got != 1 {
		t.Fatalf("result must floor at 1: %d", got)
	}
}

func TestSeasonRemap(t *testing.T) {
	m := newTestManager(t, "{source=tencent;season_offset=9>13}")
	if got := m.Season("tencent", 9); got != 13 {
		t.Fatalf("season remap: %d, want 13", got)
	}
	if got := m.Season("tencent", 8); got != 8 {
		t.Fatalf("non-matching season changed: %d", got)
	}
	if got := m.Season("bilibili", 9); got != 9 {
		t.Fatalf("other provider changed: %d", got)
	}
}

func TestParseRulesSkipsMalformed(t *testing.T) {
	rs := parseRules(`
pre <> post
pre <> post >> EPX
good <> rule >> EP+1
`)
	if len(rs.offsets) != 1 {
		t.Fatalf("offsets = %d, want 1 (malformed lines skipped)", len(rs.offsets))
	}
	if rs.offsets[0].delta != 1 {
		t.Fatalf("delta = %d", rs.offsets[0].delta)
	}
	// "pre <> post" has no ">>", it must not land in the blocklist either
	for _, b := range rs.blocklist {
		if b == "pre <> post" {
			t.Fatalf("malformed offset rule fell through to blocklist")
		}
	}
}
