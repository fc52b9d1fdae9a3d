package similarity

import "testing"

func TestRatio(t *testing.T) {
	if got := Ratio("hello", "hello"); got != 100 {
		t.Fatalf("identical = %d", got)
	}
	if got := Ratio("", ""); got != 0 {
		t.Fatalf("empty strings = %d", got)
	}
	if got := Ratio("abc", "xyz"); got != 0 {
		t.Fatalf("disjoint = %d", got)
	}
	if got := Ratio("kitten", "sitten"); got < 80 {
		t.Fatalf("one edit apart = %d", got)
	}
}

func TestNormalize(t *testing.T) {
	cases := []struct{ in, want string }{
		{"  Hello,   World! ", "hello world"},
		{"Ｆａｔｅ／Ｚｅｒｏ", "fatezero"},
		{"Re:ゼロから始める", "re ゼロから始める"},
		{"Tom & Jerry", "tom and jerry"},
		{"A.B-C_D:E", "a b c d e"},
	}
	for _, c := range cases {
		if got := Normalize(c.in); got != c.want {
			t.Errorf("Normalize(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestPartialRatioWindow(t *testing.T) {
	if got := PartialRatio("Demo", "Demo Extended Edition"); got != 100 {
		t.Fatalf("prefix window = %d", got)
	}
	if got := PartialRatio("Edition", "Demo Extended Edition"); got != 100 {
		t.Fatalf("suffix window = %d", got)
	}
}

func TestTokenSortRatioIgnoresOrder(t *testing.T) {
	if got := TokenSortRatio("world hello", "hello world"); got != 100 {
		t.Fatalf("reordered tokens = %d", got)
	}
}

func TestTokenSetRatioForgivesExtraTokens(t *testing.T) {
	got := TokenSetRatio("Attack on Titan", "Attack on Titan Final Season")
	if got != 100 {
		t.Fatalf("subset tokens = %d", got)
	}
	if got := TokenSetRatio("", "anything"); got != 0 {
		t.Fatalf("empty side = %d", got)
	}
}

func TestNormalizeASCII(t *testing.T) {
	if NormalizeASCII("Ｈｅｌｌｏ") != "hello" {
		t.Fatalf("full-width fold failed")
	}
	// transliteration makes kana comparable to romaji
	if NormalizeASCII("すし") != NormalizeASCII("sushi") {
		t.Fatalf("transliteration mismatch: %q vs %q", NormalizeASCII("すし"), NormalizeASCII("sushi"))
	}
}
