package similarity

import (
	"sort"
	"strings"
	"unicode"

	"github.com/mozillazg/go-unidecode"
	"golang.org/x/text/width"
)

// Ratio calculates the similarity between two strings using Levenshtein
// distance over their normalized forms. Returns 0 (completely different)
// to 100 (identical).
func Ratio(s1, s2 string) int {
	return ratio(Normalize(s1), Normalize(s2))
}

func ratio(s1, s2 string) int {
	if s1 == s2 {
		if len(s1) == 0 {
			return 0
		}
		return 100
	}
	if len(s1) == 0 || len(s2) == 0 {
		return 0
	}
	r1 := []rune(s1)
	r2 := []rune(s2)
	distance := levenshteinDistance(r1, r2)
	maxLen := maxInt(len(r1), len(r2))
	return int(100 * (1.0 - float64(distance)/float64(maxLen)))
}

// PartialRatio slides the shorter string across the longer one and returns
// the best window ratio. "Demo" against "Demo Extended Edition" scores 100.
func PartialRatio(s1, s2 string) int {
	a := []rune(Normalize(s1))
	b := []rune(Normalize(s2))
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	shorter, longer := a, b
	if len(a) > len(b) {
		shorter, longer = b, a
	}
	best := 0
	for i := 0; i+len(shorter) <= len(longer); i++ {
		score := ratio(string(shorter), string(longer[i:i+len(shorter)]))
		if score > best {
			best = score
		}
		if best == 100 {
			break
		}
	}
	return best
}

// TokenSortRatio tokenizes both strings, sorts the tokens, and compares the
// rejoined forms so word order stops mattering.
func TokenSortRatio(s1, s2 string) int {
	return ratio(sortedTokens(s1), sortedTokens(s2))
}

// TokenSetRatio compares the token intersection against each side's token
// difference and returns the best score. Forgiving of extra words on one
// side, which is what alias matching needs.
func TokenSetRatio(s1, s2 string) int {
	t1 := tokenSet(s1)
	t2 := tokenSet(s2)
	if len(t1) == 0 || len(t2) == 0 {
		return 0
	}

	var inter, diff1, diff2 []string
	for tok := range t1 {
		if _, ok := t2[tok]; ok {
			inter = append(inter, tok)
		} else {
			diff1 = append(diff1, tok)
		}
	}
	for tok := range t2 {
		if _, ok := t1[tok]; !ok {
			diff2 = append(diff2, tok)
		}
	}
	sort.Strings(inter)
	sort.Strings(diff1)
	sort.Strings(diff2)

	base := strings.Join(inter, " ")
	combined1 := strings.TrimSpace(base + " " + strings.Join(diff1, " "))
	combined2 := strings.TrimSpace(base + " " + strings.Join(diff2, " "))

	best := ratio(base, combined1)
	if s := ratio(base, combined2); s > best {
		best = s
	}
	if s := ratio(combined1, combined2); s > best {
		best = s
	}
	return best
}

// Normalize folds full-width characters to half-width, lowercases, and
// strips punctuation so title comparison is forgiving. CJK characters are
// preserved as-is; "&" becomes "and".
func Normalize(s string) string {
	s = width.Fold.String(s)
	s = strings.ReplaceAll(s, "&", " and ")

	var result strings.Builder
	result.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			result.WriteRune(r)
		} else if unicode.IsSpace(r) || r == '.' || r == '-' || r == '_' || r == ':' || r == '・' {
			result.WriteRune(' ')
		}
	}
	return strings.TrimSpace(strings.Join(strings.Fields(result.String()), " "))
}

// NormalizeASCII additionally transliterates non-Latin text so that
// punctuation-insensitive exact comparison can use plain byte equality.
func NormalizeASCII(s string) string {
	return Normalize(unidecode.Unidecode(s))
}

func sortedTokens(s string) string {
	tokens := strings.Fields(Normalize(s))
	sort.Strings(tokens)
	return strings.Join(tokens, " ")
}

func tokenSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, tok := range strings.Fields(Normalize(s)) {
		set[tok] = struct{}{}
	}
	return set
}

// levenshteinDistance calculates the edit distance between two rune slices
// using two rolling rows.
func levenshteinDistance(r1, r2 []rune) int {
	len1 := len(r1)
	len2 := len(r2)

	prev := make([]int, len2+1)
	cur := make([]int, len2+1)
	for j := 0; j <= len2; j++ {
		prev[j] = j
	}

	for i := 1; i <= len1; i++ {
		cur[0] = i
		for j := 1; j <= len2; j++ {
			cost := 1
			if r1[i-1] == r2[j-1] {
				cost = 0
			}
			cur[j] = min3(
				prev[j]+1,      // deletion
				cur[j-1]+1,     // insertion
				prev[j-1]+cost, // substitution
			)
		}
		prev, cur = cur, prev
	}

	return prev[len2]
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
