package danmaku

import (
	"strconv"
	"strings"
)

const (
	defaultMode     = 1
	defaultFontsize = 25
	defaultColor    = 16777215 // white
	maxColor        = 16777215
)

// NormalizeP rewrites a comment's p attribute to the canonical
// "time,mode,fontsize,color,[provider]" form. Recognized inputs:
//
//   - bilibili "t,mode,fontsize,color,ts,pool,uid,dmid" (8 fields in the
//     standard form; trailing metadata varies, so anything with 5+ fields
//     keeps its leading four)
//   - 4-field "t,mode,fontsize,color" (already canonical)
//   - 4-field dandanplay "t,mode,color,uidhash"
//   - 3-field dandanplay "t,mode,color"
//
// Anything unparseable falls back to per-field defaults. An existing
// bracketed tag in the input is replaced by provider when provider is
// non-empty, kept otherwise.
func NormalizeP(raw, provider string) string {
	tag := provider
	if i := strings.Index(raw, ",["); i >= 0 {
		if tag == "" {
			tag = strings.Trim(raw[i+1:], "[]")
		}
		raw = raw[:i]
	}

	fields := strings.Split(raw, ",")
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}

	var t float64
	mode, fontsize, color := defaultMode, defaultFontsize, defaultColor

	switch {
	case len(fields) >= 5:
		t = parseFloatDefault(fields[0], 0)
		mode = parseIntDefault(fields[1], defaultMode)
		fontsize = parseIntDefault(fields[2], defaultFontsize)
		color = parseIntDefault(fields[3], defaultColor)
	case len(fields) == 4:
		t = parseFloatDefault(fields[0], 0)
		mode = parseIntDefault(fields[1], defaultMode)
		if isDandanplayFour(fields) {
			color = parseIntDefault(fields[2], defaultColor)
		} else {
			fontsize = parseIntDefault(fields[2], defaultFontsize)
			color = parseIntDefault(fields[3], defaultColor)
		}
	case len(fields) == 3:
		t = parseFloatDefault(fields[0], 0)
		mode = parseIntDefault(fields[1], defaultMode)
		color = parseIntDefault(fields[2], defaultColor)
	case len(fields) == 2:
		t = parseFloatDefault(fields[0], 0)
		mode = parseIntDefault(fields[1], defaultMode)
	case len(fields) == 1 && fields[0] != "":
		t = parseFloatDefault(fields[0], 0)
	}

	if color < 0 || color > maxColor {
		color = defaultColor
	}

	var b strings.Builder
	b.WriteString(formatTime(t))
	b.WriteByte(',')
	b.WriteString(strconv.Itoa(mode))
	b.WriteByte(',')
	b.WriteString(strconv.Itoa(fontsize))
	b.WriteByte(',')
	b.WriteString(strconv.Itoa(color))
	if tag != "" {
		b.WriteString(",[")
		b.WriteString(tag)
		b.WriteByte(']')
	}
	return b.String()
}

// isDandanplayFour detects the "t,mode,color,uidhash" shape: the third
// field looks like a color rather than a fontsize, or the fourth is a hash.
func isDandanplayFour(fields []string) bool {
	if third, err := strconv.Atoi(fields[2]); err == nil && third > 1000 {
		return true
	}
	fourth, err := strconv.Atoi(fields[3])
	if err != nil {
		return true
	}
	return fourth > maxColor
}

// PColor extracts the color field from a canonical p attribute.
func PColor(p string) (int, bool) {
	fields := strings.SplitN(p, ",", 5)
	if len(fields) < 4 {
		return 0, false
	}
	c, err := strconv.Atoi(fields[3])
	if err != nil {
		return 0, false
	}
	return c, true
}

// PWithColor replaces the color field of a canonical p attribute.
func PWithColor(p string, color int) string {
	fields := strings.SplitN(p, ",", 5)
	if len(fields) < 4 {
		return p
	}
	fields[3] = strconv.Itoa(color)
	return strings.Join(fields, ",")
}

// PTime extracts the playback offset in seconds.
func PTime(p string) float64 {
	i := strings.IndexByte(p, ',')
	if i < 0 {
		i = len(p)
	}
	return parseFloatDefault(p[:i], 0)
}

func formatTime(t float64) string {
	s := strconv.FormatFloat(t, 'f', 2, 64)
	s = strings.TrimRight(s, "0")
	s = strings.TrimRight(s, ".")
	if s == "" || s == "-" {
		return "0"
	}
	return s
}

func parseFloatDefault(s string, def float64) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return def
	}
	return v
}

func parseIntDefault(s string, def int) int {
	v, err := strconv.Atoi(s)
	if err != nil {
		// tolerate float-formatted ints from sloppy providers
		if f, ferr := strconv.ParseFloat(s, 64); ferr == nil {
			return int(f)
		}
		return def
	}
	return v
}
