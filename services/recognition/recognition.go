// Package recognition applies user-maintained recognition-word rules to
// titles before they are stored or matched. Rules live one per line in
// settings:
//
//	some garbage token                      blocklist substring, removed
//	raw title => canonical title            replacement
//	pre word <> post word >> EP-1           episode offset when both match
//	{source=tencent;season_offset=9>13}     per-provider season remap
package recognition

import (
	"log"
	"regexp"
	"strconv"
	"strings"

	"danmuhub/config"
)

// Manager parses the rule text lazily on each call; the settings loader
// already caches, so reparsing is cheap and picks up edits immediately.
type Manager struct {
	cfg *config.Manager
}

func NewManager(cfg *config.Manager) *Manager {
	return &Manager{cfg: cfg}
}

type replacement struct {
	from, to string
}

type episodeOffset struct {
	pre, post string
	delta     int
}

type seasonRemap struct {
	provider string
	from, to int
}

type ruleSet struct {
	blocklist    []string
	replacements []replacement
	offsets      []episodeOffset
	seasonRemaps []seasonRemap
}

var seasonRemapRe = regexp.MustCompile(`^\{source=([^;}]+);season_offset=(\d+)>(\d+)\}$`)
var episodeExprRe = regexp.MustCompile(`^EP([+-]\d+)?$`)

func parseRules(raw string) ruleSet {
	var rs ruleSet
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if m := seasonRemapRe.FindStringSubmatch(line); m != nil {
			from, _ := strconv.Atoi(m[2])
			to, _ := strconv.Atoi(m[3])
			rs.seasonRemaps = append(rs.seasonRemaps, seasonRemap{provider: m[1], from: from, to: to})
			continue
		}
		if pre, rest, ok := strings.Cut(line, "<>"); ok {
			post, expr, ok := strings.Cut(rest, ">>")
			if !ok {
				log.Printf("[recognition] offset rule missing '>>': %q", line)
				continue
			}
			delta, ok := parseEpisodeExpr(strings.TrimSpace(expr))
			if !ok {
				log.Printf("[recognition] bad episode expression: %q", line)
				continue
			}
			rs.offsets = append(rs.offsets, episodeOffset{
				pre:   strings.TrimSpace(pre),
				post:  strings.TrimSpace(post),
				delta: delta,
			})
			continue
		}
		if from, to, ok := strings.Cut(line, "=>"); ok {
			rs.replacements = append(rs.replacements, replacement{
				from: strings.TrimSpace(from),
				to:   strings.TrimSpace(to),
			})
			continue
		}
		rs.blocklist = append(rs.blocklist, line)
	}
	return rs
}

func parseEpisodeExpr(expr string) (int, bool) {
	m := episodeExprRe.FindStringSubmatch(expr)
	if m == nil {
		return 0, false
	}
	if m[1] == "" {
		return 0, true
	}
	delta, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return delta, true
}

func (m *Manager) rules() ruleSet {
	settings, err := m.cfg.Load()
	if err != nil {
		return ruleSet{}
	}
	return parseRules(settings.Recognition.Rules)
}

// NormalizeTitle applies replacements first (whole-line rules win), then
// strips blocklist substrings. The result is what lands in the database.
func (m *Manager) NormalizeTitle(title string) string {
	rs := m.rules()
	for _, r := range rs.replacements {
		if title == r.from {
			return r.to
		}
	}
	for _, r := range rs.replacements {
		title = strings.ReplaceAll(title, r.from, r.to)
	}
	for _, b := range rs.blocklist {
		title = strings.ReplaceAll(title, b, "")
	}
	return strings.TrimSpace(title)
}

// EpisodeIndex applies the first offset rule whose pre and post locator
// words both appear in the title. The result is floored at 1.
func (m *Manager) EpisodeIndex(title string, episode int) int {
	for _, o := range m.rules().offsets {
		if strings.Contains(title, o.pre) && strings.Contains(title, o.post) {
			episode += o.delta
			break
		}
	}
	if episode < 1 {
		episode = 1
	}
	return episode
}

// Season applies the per-provider season remap, if one matches.
func (m *Manager) Season(provider string, season int) int {
	for _, r := range m.rules().seasonRemaps {
		if r.provider == provider && r.from == season {
			return r.to
		}
	}
	return season
}
