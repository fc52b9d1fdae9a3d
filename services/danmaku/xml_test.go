package danmaku

import (
	"strings"
	"testing"

	"danmuhub/models"
)

func TestXMLRoundTrip(t *testing.T) {
	in := []models.Comment{
		{P: "0,1,25,16777215,[bilibili]", M: "第一条"},
		{P: "12.5,4,25,255,[bilibili]", M: "second"},
		{P: "99.99,1,25,65280,[bilibili]", M: "<&> escaped"},
	}
	data, err := EncodeXML(25000001010001, "bilibili", in)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if !strings.HasPrefix(string(data), `<?xml version="1.0" encoding="utf-8"?>`) {
		t.Fatalf("missing xml header: %q", string(data[:50]))
	}

	out, err := DecodeXML(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out) != len(in) {
		t.Fatalf("round trip lost comments: %d != %d", len(out), len(in))
	}
	for i := range in {
		if out[i].P != in[i].P {
			t.Errorf("comment %d p = %q, want %q", i, out[i].P, in[i].P)
		}
		if out[i].M != in[i].M {
			t.Errorf("comment %d text = %q, want %q", i, out[i].M, in[i].M)
		}
	}
	if out[1].T != 12.5 {
		t.Errorf("comment 1 time = %v, want 12.5", out[1].T)
	}
}

func TestCountCommentsMatchesDecode(t *testing.T) {
	comments := make([]models.Comment, 137)
	for i := range comments {
		comments[i] = models.Comment{P: "1,1,25,16777215", M: "x"}
	}
	data, err := EncodeXML(1, "gamer", comments)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if n := CountComments(data); n != 137 {
		t.Fatalf("CountComments = %d, want 137", n)
	}
}

func TestDecodeXMLIgnoresForeignElements(t *testing.T) {
	doc := `<?xml version="1.0" encoding="utf-8"?>
<i>
  <chatserver>danmuhub</chatserver>
  <d p="1,1,25,255">good</d>
  <metadata><nested>stuff</nested></metadata>
  <d p="3,1,25,255">also good</d>
</i>`
	out, err := DecodeXML([]byte(doc))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("got %d comments, want 2", len(out))
	}
	if out[0].M != "good" || out[1].M != "also good" {
		t.Fatalf("wrong comments: %q, %q", out[0].M, out[1].M)
	}
}

func TestDecodeXMLTruncatedFileKeepsPrefix(t *testing.T) {
	doc := `<i><d p="1,1,25,255">one</d><d p="2,1,25,255">two</d><d p="3,1,25`
	out, err := DecodeXML([]byte(doc))
	if err == nil {
		t.Fatalf("expected error for truncated file")
	}
	if len(out) != 2 {
		t.Fatalf("got %d comments before the error, want 2", len(out))
	}
}

func TestDecodeXMLStripsControlCharacters(t *testing.T) {
	doc := "<i><d p=\"1,1,25,255\">bad\x08char</d></i>"
	out, err := DecodeXML([]byte(doc))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out) != 1 || out[0].M != "badchar" {
		t.Fatalf("control character not stripped: %+v", out)
	}
}

func TestDecodeXMLNormalizesP(t *testing.T) {
	doc := `<i><d p="10.2,1,16711680,a1b2c3">hi</d></i>`
	out, err := DecodeXML([]byte(doc))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out[0].P != "10.2,1,25,16711680" {
		t.Fatalf("p not normalized on read: %q", out[0].P)
	}
}
