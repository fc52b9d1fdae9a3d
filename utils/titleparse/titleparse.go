// Package titleparse extracts a (title, season, episode) target from
// filename-style search terms like "Frieren S01E03", "葬送的芙莉莲 第二季"
// or "Mushoku Tensei OVA".
package titleparse

import (
	"regexp"
	"strconv"
	"strings"
)

// Parsed is the structured form of a search term.
type Parsed struct {
	Title   string
	Season  int // 0 = unspecified
	Episode int // 0 = unspecified
	IsMovie bool
	IsOVA   bool
}

var (
	sxxEyyRe   = regexp.MustCompile(`(?i)\bS(\d{1,2})\s*E(?:P)?(\d{1,4})\b`)
	seasonRe   = regexp.MustCompile(`(?i)\bS(?:eason\s*)?(\d{1,2})\b`)
	episodeRe  = regexp.MustCompile(`(?i)\bE(?:P|pisode\s*)?(\d{1,4})\b`)
	cnSeasonRe = regexp.MustCompile(`第\s*([0-9一二三四五六七八九十]+)\s*[季期部]`)
	cnEpRe     = regexp.MustCompile(`第\s*([0-9]{1,4})\s*[话話集]`)
	ovaRe      = regexp.MustCompile(`(?i)\b(OVA|OAD|SP)\b`)
	movieRe    = regexp.MustCompile(`(?i)剧场版|劇場版|\bmovie\b|映画|大电影`)

	// Release metadata that never belongs to the title.
	metaKeywordRe = regexp.MustCompile(`(?i)\b(1080p|720p|2160p|4k|bluray|bdrip|web[- ]?dl|webrip|hdtv|x264|x265|h\.?26[45]|hevc|aac|flac|10bit|hdr|remux|dv)\b`)
	bracketRe     = regexp.MustCompile(`[\[【(（][^\]】)）]*[\]】)）]`)
)

var cnDigits = map[rune]int{
	'一': 1, '二': 2, '三': 3, '四': 4, '五': 5,
	'六': 6, '七': 7, '八': 8, '九': 9, '十': 10,
}

// Parse breaks a search term into its core title plus season/episode hints.
// Recognized forms are removed from the returned title.
func Parse(term string) Parsed {
	p := Parsed{}
	s := strings.TrimSpace(term)

	// Fansub group tags and release metadata get stripped first so a tag
	// like "[WebRip 1080p]" cannot shadow an episode marker.
	s = bracketRe.ReplaceAllString(s, " ")
	s = metaKeywordRe.ReplaceAllString(s, " ")

	if m := sxxEyyRe.FindStringSubmatch(s); m != nil {
		p.Season, _ = strconv.Atoi(m[1])
		p.Episode, _ = strconv.Atoi(m[2])
		s = sxxEyyRe.ReplaceAllString(s, " ")
	} else {
		if m := cnSeasonRe.FindStringSubmatch(s); m != nil {
			p.Season = parseCNNumber(m[1])
			s = cnSeasonRe.ReplaceAllString(s, " ")
		} else if m := seasonRe.FindStringSubmatch(s); m != nil {
			p.Season, _ = strconv.Atoi(m[1])
			s = seasonRe.ReplaceAllString(s, " ")
		}
		if m := cnEpRe.FindStringSubmatch(s); m != nil {
			p.Episode, _ = strconv.Atoi(m[1])
			s = cnEpRe.ReplaceAllString(s, " ")
		} else if m := episodeRe.FindStringSubmatch(s); m != nil {
			p.Episode, _ = strconv.Atoi(m[1])
			s = episodeRe.ReplaceAllString(s, " ")
		}
	}

	if ovaRe.MatchString(s) {
		p.IsOVA = true
		s = ovaRe.ReplaceAllString(s, " ")
	}
	if movieRe.MatchString(s) {
		p.IsMovie = true
	}

	p.Title = collapse(s)
	return p
}

// StripSeasonTokens removes season markers from a display title, leaving
// the base series name. Used by the ${titleBase} path template variable.
func StripSeasonTokens(title string) string {
	s := cnSeasonRe.ReplaceAllString(title, " ")
	s = seasonRe.ReplaceAllString(s, " ")
	return collapse(s)
}

func parseCNNumber(s string) int {
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	runes := []rune(s)
	// 十, 二十, 十一, 二十三
	switch len(runes) {
	case 1:
		return cnDigits[runes[0]]
	case 2:
		if runes[0] == '十' {
			return 10 + cnDigits[runes[1]]
		}
		if runes[1] == '十' {
			return cnDigits[runes[0]] * 10
		}
	case 3:
		if runes[1] == '十' {
			return cnDigits[runes[0]]*10 + cnDigits[runes[2]]
		}
	}
	return 0
}

func collapse(s string) string {
	return strings.TrimSpace(strings.Join(strings.Fields(s), " "))
}
