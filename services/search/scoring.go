package search

import (
	"sort"
	"sync"

	"danmuhub/models"
	"danmuhub/utils/similarity"
)

// rank orders candidates with the lexicographic scoring ladder. Ties break
// on provider display order, which keeps the output deterministic.
func (s *Service) rank(results []models.ProviderSearchResult, queryTitle string, querySeason int, opts Options) []models.ProviderSearchResult {
	if len(results) == 0 {
		return results
	}
	settings, err := s.cfg.Load()
	if err != nil {
		return results
	}

	type scored struct {
		result models.ProviderSearchResult
		score  int
		order  int
	}
	list := make([]scored, 0, len(results))
	for _, r := range results {
		order := settings.ProviderDisplayOrder(r.Provider)
		list = append(list, scored{
			result: r,
			score:  scoreCandidate(r, queryTitle, querySeason, opts.Year, order),
			order:  order,
		})
	}

	if opts.UseSourcePrioritySorting {
		sort.SliceStable(list, func(i, j int) bool {
			if list[i].order != list[j].order {
				return list[i].order < list[j].order
			}
			si := similarity.TokenSetRatio(queryTitle, list[i].result.Title)
			sj := similarity.TokenSetRatio(queryTitle, list[j].result.Title)
			return si > sj
		})
	} else {
		sort.SliceStable(list, func(i, j int) bool {
			if list[i].score != list[j].score {
				return list[i].score > list[j].score
			}
			return list[i].order < list[j].order
		})
	}

	out := make([]models.ProviderSearchResult, len(list))
	for i, sc := range list {
		out[i] = sc.result
	}
	return out
}

// scoreCandidate assigns the additive score of one candidate. The bonus
// tiers are far enough apart that a higher tier always dominates lower-tier
// noise.
func scoreCandidate(r models.ProviderSearchResult, queryTitle string, querySeason, queryYear, displayOrder int) int {
	score := 0
	lenDiff := absInt(len([]rune(queryTitle)) - len([]rune(r.Title)))
	tokenSort := similarity.TokenSortRatio(queryTitle, r.Title)

	switch {
	case r.Title == queryTitle:
		score += 10000
	case similarity.NormalizeASCII(r.Title) == similarity.NormalizeASCII(queryTitle):
		score += 5000
	case tokenSort > 98 && lenDiff <= 10:
		score += 2000
	case tokenSort > 95 && lenDiff <= 20:
		score += 1000
	}

	// Long-running series keep their exact title across many yearly entries;
	// favor them when the library's year is well behind the candidate's.
	if r.Title == queryTitle && queryYear > 0 && r.Year > 0 && queryYear-r.Year >= 3 {
		score += 800
	}

	if queryYear > 0 && r.Year == queryYear {
		score += 500
	}
	if querySeason > 0 && r.Type == models.MediaTypeTVSeries && r.Season == querySeason {
		score += 100
	}
	if ts := similarity.TokenSetRatio(queryTitle, r.Title); ts >= 85 {
		score += ts
	}
	score -= lenDiff
	if queryYear > 0 && r.Year > 0 && r.Year != queryYear {
		score -= 500
	}
	score -= displayOrder
	return score
}

// simCache memoizes pairwise similarity with two cheap pre-filters: a large
// length difference or disjoint character sets means the pair can never
// clear a threshold, so the ratio is skipped outright.
type simCache struct {
	mu    sync.Mutex
	cache map[[2]string]int
}

const simMaxLenDiff = 30

// partialRatio returns (ratio, true) or (0, false) when a pre-filter
// rejected the pair. Inputs are expected pre-normalized.
func (c *simCache) partialRatio(a, b string) (int, bool) {
	ra, rb := []rune(a), []rune(b)
	if absInt(len(ra)-len(rb)) > simMaxLenDiff {
		return 0, false
	}
	if !sharesAnyRune(ra, rb) {
		return 0, false
	}

	key := [2]string{a, b}
	if a > b {
		key = [2]string{b, a}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cache == nil {
		c.cache = make(map[[2]string]int)
	}
	if v, ok := c.cache[key]; ok {
		return v, true
	}
	v := similarity.PartialRatio(a, b)
	c.cache[key] = v
	return v, true
}

func sharesAnyRune(a, b []rune) bool {
	set := make(map[rune]struct{}, len(a))
	for _, r := range a {
		set[r] = struct{}{}
	}
	for _, r := range b {
		if _, ok := set[r]; ok {
			return true
		}
	}
	return false
}
