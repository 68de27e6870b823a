// internal/relevance/relevance.go

// Package relevance scores raw search results against a query, filters them by
// a threshold, deduplicates them by canonical link, and orders the survivors
// deterministically. The engine is pure: identical inputs always produce
// identical outputs, which is what makes it cacheable and testable.
package relevance

import (
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/width"

	"github.com/xkilldash9x/scout-cli/api/schemas"
	"github.com/xkilldash9x/scout-cli/internal/config"
)

// Ranker scores and orders search results. Weights come from configuration;
// the 0.6/0.3/0.1 defaults are empirical, not structural.
type Ranker struct {
	weights config.RelevanceWeights
	lower   cases.Caser
}

// NewRanker creates a ranker with the given sub-score weights.
func NewRanker(weights config.RelevanceWeights) *Ranker {
	return &Ranker{
		weights: weights,
		lower:   cases.Lower(language.Und),
	}
}

// Rank scores every result against the query, drops those below minRelevance,
// deduplicates by canonical link (first occurrence by page order wins), and
// returns the rest sorted by descending score with first-seen order as the
// stable tie-break.
func (r *Ranker) Rank(results []schemas.SearchResult, query string, minRelevance float64) []schemas.ScoredResult {
	terms := NormalizeTerms(query)
	if len(terms) == 0 {
		return nil
	}

	type candidate struct {
		schemas.ScoredResult
		firstSeen int
	}

	seen := make(map[string]bool, len(results))
	var candidates []candidate
	for i, res := range results {
		key := CanonicalLink(res.Link)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true

		score := r.score(res, terms)
		if score < minRelevance {
			continue
		}
		candidates = append(candidates, candidate{
			ScoredResult: schemas.ScoredResult{SearchResult: res, Score: score},
			firstSeen:    i,
		})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		return candidates[i].firstSeen < candidates[j].firstSeen
	})

	scored := make([]schemas.ScoredResult, len(candidates))
	for i, c := range candidates {
		c.Rank = i + 1
		scored[i] = c.ScoredResult
	}
	return scored
}

// score combines the per-field overlap sub-scores, clamped to 1.0. The weights
// sum to 1.0 in the default configuration, so the clamp is a safety net for
// custom weightings, not a normal code path.
func (r *Ranker) score(res schemas.SearchResult, terms []string) float64 {
	combined := r.weights.Title*overlap(res.Title, terms) +
		r.weights.Summary*overlap(res.Summary, terms) +
		r.weights.Author*overlap(res.Author, terms)
	if combined > 1.0 {
		return 1.0
	}
	if combined < 0.0 {
		return 0.0
	}
	return combined
}

// overlap returns the fraction of query terms present in the field, in [0,1].
func overlap(field string, terms []string) float64 {
	if field == "" || len(terms) == 0 {
		return 0.0
	}
	folded := foldText(field)
	matched := 0
	for _, term := range terms {
		if strings.Contains(folded, term) {
			matched++
		}
	}
	return float64(matched) / float64(len(terms))
}

// foldText lowercases and narrows full-width characters so "ＰＹＴＨＯＮ"
// matches "python".
func foldText(s string) string {
	return strings.ToLower(width.Narrow.String(s))
}

// NormalizeTerms turns a query into the comparable term set: lowercased,
// width-folded, stopwords removed. Latin/digit runs become word tokens; CJK
// runs become overlapping bigrams (single-character queries keep the single
// character), which is the usual way to make containment checks meaningful for
// unsegmented text.
func NormalizeTerms(query string) []string {
	folded := foldText(query)

	var terms []string
	seen := map[string]bool{}
	add := func(term string) {
		if term == "" || stopwords[term] || seen[term] {
			return
		}
		seen[term] = true
		terms = append(terms, term)
	}

	var word []rune
	var cjk []rune
	flushWord := func() {
		if len(word) > 0 {
			add(string(word))
			word = word[:0]
		}
	}
	flushCJK := func() {
		if len(cjk) == 1 {
			add(string(cjk))
		} else {
			for i := 0; i+1 < len(cjk); i++ {
				add(string(cjk[i : i+2]))
			}
		}
		cjk = cjk[:0]
	}

	for _, r := range folded {
		switch {
		case unicode.Is(unicode.Han, r):
			flushWord()
			// Particle characters break the run so they never leak into
			// bigrams.
			if stopwords[string(r)] {
				flushCJK()
				continue
			}
			cjk = append(cjk, r)
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			flushCJK()
			word = append(word, r)
		default:
			flushWord()
			flushCJK()
		}
	}
	flushWord()
	flushCJK()

	return terms
}

// stopwords are function words that carry no relevance signal. English plus
// the common Chinese particles seen in real queries.
var stopwords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true,
	"be": true, "by": true, "for": true, "from": true, "how": true, "in": true,
	"is": true, "it": true, "of": true, "on": true, "or": true, "the": true,
	"to": true, "what": true, "with": true,
	"的": true, "了": true, "和": true, "是": true, "在": true, "有": true,
	"与": true, "及": true, "或": true,
}
