package danmaku

import (
	"fmt"
	"testing"

	"danmuhub/config"
	"danmuhub/models"
)

func makeComments(n int) []models.Comment {
	out := make([]models.Comment, n)
	for i := range out {
		out[i] = models.Comment{
			CID: int64(i + 1),
			P:   fmt.Sprintf("%d,1,25,16777215", i),
			M:   fmt.Sprintf("comment %d", i),
		}
	}
	return out
}

func TestPostprocessBlacklist(t *testing.T) {
	s := config.DefaultSettings()
	s.Danmaku.BlacklistEnabled = true
	s.Danmaku.BlacklistPatterns = `广告|http://`

	in := []models.Comment{
		{P: "1,1,25,255", M: "正常弹幕"},
		{P: "2,1,25,255", M: "这是广告"},
		{P: "3,1,25,255", M: "visit http://spam"},
	}
	out := Postprocess(s, in)
	if len(out) != 1 || out[0].M != "正常弹幕" {
		t.Fatalf("blacklist filter wrong: %+v", out)
	}
}

func TestPostprocessInvalidBlacklistIsNoop(t *testing.T) {
	s := config.DefaultSettings()
	s.Danmaku.BlacklistEnabled = true
	s.Danmaku.BlacklistPatterns = `([unclosed`

	in := makeComments(3)
	out := Postprocess(s, in)
	if len(out) != 3 {
		t.Fatalf("invalid pattern should not filter, got %d", len(out))
	}
}

func TestPostprocessSampling(t *testing.T) {
	s := config.DefaultSettings()
	s.Danmaku.OutputLimitPerSource = 10

	out := Postprocess(s, makeComments(100))
	if len(out) != 10 {
		t.Fatalf("sampled %d, want 10", len(out))
	}
	// Samples must preserve timeline order.
	for i := 1; i < len(out); i++ {
		if out[i].CID <= out[i-1].CID {
			t.Fatalf("sampling broke order at %d: %d <= %d", i, out[i].CID, out[i-1].CID)
		}
	}

	s.Danmaku.OutputLimitPerSource = -1
	if out := Postprocess(s, makeComments(100)); len(out) != 100 {
		t.Fatalf("limit -1 must be unlimited, got %d", len(out))
	}
}

func TestPostprocessAllWhite(t *testing.T) {
	s := config.DefaultSettings()
	s.Danmaku.RandomColorMode = "all_white"

	in := []models.Comment{{P: "1,1,25,255", M: "x"}}
	out := Postprocess(s, in)
	if col, _ := PColor(out[0].P); col != 16777215 {
		t.Fatalf("all_white left color %d", col)
	}
	if in[0].P != "1,1,25,255" {
		t.Fatalf("input slice mutated: %q", in[0].P)
	}
}

func TestPostprocessWhiteToRandom(t *testing.T) {
	s := config.DefaultSettings()
	s.Danmaku.RandomColorMode = "white_to_random"
	s.Danmaku.RandomColorPalette = "255"

	in := []models.Comment{
		{P: "1,1,25,16777215", M: "white"},
		{P: "2,1,25,65280", M: "green"},
	}
	out := Postprocess(s, in)
	if col, _ := PColor(out[0].P); col != 255 {
		t.Fatalf("white comment should take palette color, got %d", col)
	}
	if col, _ := PColor(out[1].P); col != 65280 {
		t.Fatalf("colored comment must be untouched, got %d", col)
	}
}
