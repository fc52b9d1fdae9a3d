package danmaku

import "testing"

func TestNormalizePBilibiliEightField(t *testing.T) {
	got := NormalizeP("12.50,1,25,16777215,1700000000,0,abcdef,987654321", "bilibili")
	want := "12.5,1,25,16777215,[bilibili]"
	if got != want {
		t.Fatalf("NormalizeP = %q, want %q", got, want)
	}
}

func TestNormalizePBilibiliVariantFieldCounts(t *testing.T) {
	// bilibili emits 9-field variants; the leading four fields survive.
	got := NormalizeP("7.25,4,18,255,1700000000,0,abcdef,987654321,extra", "bilibili")
	want := "7.25,4,18,255,[bilibili]"
	if got != want {
		t.Fatalf("nine-field input = %q, want %q", got, want)
	}

	// Five and six fields keep time, mode, fontsize and color too.
	got = NormalizeP("2.5,1,30,65280,1700000000", "")
	if got != "2.5,1,30,65280" {
		t.Fatalf("five-field input = %q", got)
	}
	got = NormalizeP("2.5,1,30,65280,1700000000,0", "")
	if got != "2.5,1,30,65280" {
		t.Fatalf("six-field input = %q", got)
	}
}

func TestNormalizePCanonicalFourField(t *testing.T) {
	got := NormalizeP("3,5,18,255", "")
	if got != "3,5,18,255" {
		t.Fatalf("canonical input changed: %q", got)
	}
}

func TestNormalizePDandanplayFourField(t *testing.T) {
	// third field is a color (> 1000): fontsize 25 gets inserted
	got := NormalizeP("10.2,1,16711680,a1b2c3d4", "dandanplay")
	want := "10.2,1,25,16711680,[dandanplay]"
	if got != want {
		t.Fatalf("NormalizeP = %q, want %q", got, want)
	}

	// fourth field is a non-numeric hash
	got = NormalizeP("10.2,1,255,deadbeef", "")
	if got != "10.2,1,25,255" {
		t.Fatalf("hash-tail variant = %q", got)
	}
}

func TestNormalizePThreeField(t *testing.T) {
	got := NormalizeP("1.00,4,65280", "gamer")
	if got != "1,4,25,65280,[gamer]" {
		t.Fatalf("NormalizeP = %q", got)
	}
}

func TestNormalizePGarbage(t *testing.T) {
	got := NormalizeP("not,a,number", "")
	if got != "0,1,25,16777215" {
		t.Fatalf("garbage should fall back to defaults, got %q", got)
	}
}

func TestNormalizePColorOutOfRange(t *testing.T) {
	got := NormalizeP("0,1,25,99999999", "")
	if got != "0,1,25,16777215" {
		t.Fatalf("out-of-range color should clamp to white, got %q", got)
	}
}

func TestNormalizePKeepsExistingTag(t *testing.T) {
	got := NormalizeP("5,1,25,255,[tencent]", "")
	if got != "5,1,25,255,[tencent]" {
		t.Fatalf("existing tag lost: %q", got)
	}
	got = NormalizeP("5,1,25,255,[tencent]", "iqiyi")
	if got != "5,1,25,255,[iqiyi]" {
		t.Fatalf("provider should replace tag: %q", got)
	}
}

func TestNormalizePIdempotent(t *testing.T) {
	inputs := []string{
		"12.50,1,25,16777215,1700000000,0,abcdef,987654321",
		"10.2,1,16711680,a1b2c3d4",
		"1.00,4,65280",
	}
	for _, in := range inputs {
		once := NormalizeP(in, "x")
		twice := NormalizeP(once, "")
		if once != twice {
			t.Fatalf("not idempotent for %q: %q != %q", in, once, twice)
		}
	}
}

func TestPColorAndPWithColor(t *testing.T) {
	p := "3.5,1,25,255,[bilibili]"
	c, ok := PColor(p)
	if !ok || c != 255 {
		t.Fatalf("PColor = %d, %v", c, ok)
	}
	got := PWithColor(p, 16711680)
	if got != "3.5,1,25,16711680,[bilibili]" {
		t.Fatalf("PWithColor = %q", got)
	}
}

func TestPTime(t *testing.T) {
	if got := PTime("42.75,1,25,255"); got != 42.75 {
		t.Fatalf("PTime = %v", got)
	}
}
