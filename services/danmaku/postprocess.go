package danmaku

import (
	"log"
	"math/rand"
	"regexp"
	"strconv"
	"strings"

	"danmuhub/config"
	"danmuhub/models"
)

// defaultPalette backs the random-color modes when no custom palette is
// configured. Colors are the bilibili picker presets.
var defaultPalette = []int{
	16777215, 16007990, 16744192, 16757504, 16766720,
	10546688, 52480, 4251856, 2124492, 2582722, 10056398,
}

// Postprocess applies the serving-time comment transforms in order:
// blacklist filter, per-source sampling cap, random color rewrite. The
// input slice is not modified.
func Postprocess(s config.Settings, comments []models.Comment) []models.Comment {
	out := comments
	if s.Danmaku.BlacklistEnabled && s.Danmaku.BlacklistPatterns != "" {
		out = filterBlacklist(out, s.Danmaku.BlacklistPatterns)
	}
	if limit := s.Danmaku.OutputLimitPerSource; limit >= 0 && len(out) > limit {
		out = sampleEvenly(out, limit)
	}
	if mode := s.Danmaku.RandomColorMode; mode != "" && mode != "off" {
		out = recolor(out, mode, s.Danmaku.RandomColorPalette)
	}
	return out
}

func filterBlacklist(comments []models.Comment, patterns string) []models.Comment {
	re, err := regexp.Compile(patterns)
	if err != nil {
		log.Printf("[danmaku] invalid blacklist pattern, skipping filter: %v", err)
		return comments
	}
	out := make([]models.Comment, 0, len(comments))
	for _, c := range comments {
		if re.MatchString(c.M) {
			continue
		}
		out = append(out, c)
	}
	return out
}

// sampleEvenly keeps n comments spread uniformly across the timeline.
func sampleEvenly(comments []models.Comment, n int) []models.Comment {
	if n <= 0 {
		return nil
	}
	if len(comments) <= n {
		return comments
	}
	out := make([]models.Comment, 0, n)
	step := float64(len(comments)) / float64(n)
	for i := 0; i < n; i++ {
		out = append(out, comments[int(float64(i)*step)])
	}
	return out
}

func recolor(comments []models.Comment, mode, paletteCSV string) []models.Comment {
	palette := parsePalette(paletteCSV)
	out := make([]models.Comment, len(comments))
	for i, c := range comments {
		switch mode {
		case "all_white":
			c.P = PWithColor(c.P, defaultColor)
		case "all_random":
			c.P = PWithColor(c.P, palette[rand.Intn(len(palette))])
		case "white_to_random":
			if col, ok := PColor(c.P); ok && col == defaultColor {
				c.P = PWithColor(c.P, palette[rand.Intn(len(palette))])
			}
		}
		out[i] = c
	}
	return out
}

func parsePalette(csv string) []int {
	var out []int
	for _, part := range strings.Split(csv, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		v, err := strconv.Atoi(part)
		if err != nil || v < 0 || v > maxColor {
			continue
		}
		out = append(out, v)
	}
	if len(out) == 0 {
		return defaultPalette
	}
	return out
}
