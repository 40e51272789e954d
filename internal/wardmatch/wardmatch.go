// Package wardmatch reconciles ward names reported by health facilities
// against the canonical ward-boundary registry.
//
// Resolution is tiered: exact ward+LGA match, exact ward-only match, then
// fuzzy matching above a similarity cutoff. Unresolved names are reported,
// never guessed below the cutoff.
package wardmatch

import (
	"errors"

	"github.com/mbd888/wardflow/internal/normalize"
)

var ErrNoCandidates = errors.New("no canonical wards to match against")

// DefaultFuzzyCutoff is the minimum similarity accepted for a fuzzy match.
const DefaultFuzzyCutoff = 0.75

// ambiguityMargin bounds how close a runner-up may score before a fuzzy
// match is flagged ambiguous.
const ambiguityMargin = 0.02

// CanonicalWard is one entry of the ward-boundary registry.
type CanonicalWard struct {
	Code  string `json:"code"`
	Name  string `json:"name"`
	LGA   string `json:"lga"`
	State string `json:"state"`
}

// Tier identifies which resolution step produced a match.
type Tier string

const (
	TierExactWithLGA  Tier = "exact_with_lga"
	TierExactWardOnly Tier = "exact_ward_only"
	TierFuzzy         Tier = "fuzzy"
	TierUnmatched     Tier = "unmatched"
)

// MatchResult is the outcome of resolving one source (ward, LGA) pair.
type MatchResult struct {
	SourceWard string `json:"sourceWard"`
	SourceLGA  string `json:"sourceLga"`

	Canonical *CanonicalWard `json:"canonical,omitempty"`
	Tier      Tier           `json:"tier"`
	// Confidence is 1.0 for exact tiers and the similarity score for fuzzy.
	Confidence float64 `json:"confidence"`
	// Ambiguous is set when more than one canonical ward matched equally
	// well; the first candidate in registry order is returned.
	Ambiguous bool `json:"ambiguous"`
}

// Matched reports whether a canonical ward was resolved.
func (m MatchResult) Matched() bool {
	return m.Tier != TierUnmatched
}

// Summary aggregates a MatchAll pass for diagnostics.
type Summary struct {
	Total     int          `json:"total"`
	ByTier    map[Tier]int `json:"byTier"`
	Unmatched []string     `json:"unmatched,omitempty"`
	Ambiguous []string     `json:"ambiguous,omitempty"`
}

// MatchRate returns the share of inputs that resolved, in [0, 1].
func (s *Summary) MatchRate() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Total-s.ByTier[TierUnmatched]) / float64(s.Total)
}

// candidate is a canonical ward with its normalized lookup keys precomputed.
type candidate struct {
	ward CanonicalWard
	name string
	lga  string
}

// Matcher resolves source names against one registry snapshot. Safe for
// sequential use within one batch; build a fresh Matcher per batch so the
// lookup cache never outlives the registry snapshot it was built from.
type Matcher struct {
	candidates []candidate
	byName     map[string][]int
	byNameLGA  map[string]int
	cutoff     float64

	cache map[string]MatchResult
}

// NewMatcher indexes the canonical registry for lookups. A non-positive
// cutoff falls back to DefaultFuzzyCutoff.
func NewMatcher(registry []CanonicalWard, cutoff float64) (*Matcher, error) {
	if len(registry) == 0 {
		return nil, ErrNoCandidates
	}
	if cutoff <= 0 {
		cutoff = DefaultFuzzyCutoff
	}

	m := &Matcher{
		candidates: make([]candidate, 0, len(registry)),
		byName:     make(map[string][]int),
		byNameLGA:  make(map[string]int),
		cutoff:     cutoff,
		cache:      make(map[string]MatchResult),
	}

	for _, w := range registry {
		c := candidate{ward: w, name: normalize.Ward(w.Name), lga: normalize.LGA(w.LGA)}
		idx := len(m.candidates)
		m.candidates = append(m.candidates, c)
		m.byName[c.name] = append(m.byName[c.name], idx)
		key := c.name + "\x00" + c.lga
		if _, exists := m.byNameLGA[key]; !exists {
			m.byNameLGA[key] = idx
		}
	}
	return m, nil
}

// Match resolves one source pair. Results are cached per (ward, LGA) pair
// for the lifetime of the Matcher, so repeated rows cost one lookup.
func (m *Matcher) Match(sourceWard, sourceLGA string) MatchResult {
	cacheKey := sourceWard + "\x00" + sourceLGA
	if cached, ok := m.cache[cacheKey]; ok {
		return cached
	}

	result := m.resolve(sourceWard, sourceLGA)
	m.cache[cacheKey] = result
	return result
}

func (m *Matcher) resolve(sourceWard, sourceLGA string) MatchResult {
	result := MatchResult{
		SourceWard: sourceWard,
		SourceLGA:  sourceLGA,
		Tier:       TierUnmatched,
	}

	name := normalize.Ward(sourceWard)
	lga := normalize.LGA(sourceLGA)
	if name == "" {
		return result
	}

	// Tier 1: ward and LGA both match exactly.
	if idx, ok := m.byNameLGA[name+"\x00"+lga]; ok {
		result.Canonical = cloneWard(m.candidates[idx].ward)
		result.Tier = TierExactWithLGA
		result.Confidence = 1
		return result
	}

	// Tier 2: ward name matches exactly somewhere else. Ambiguous when the
	// same name exists in several LGAs.
	if idxs, ok := m.byName[name]; ok && len(idxs) > 0 {
		result.Canonical = cloneWard(m.candidates[idxs[0]].ward)
		result.Tier = TierExactWardOnly
		result.Confidence = 1
		result.Ambiguous = len(idxs) > 1
		return result
	}

	// Tier 3: fuzzy, scored against the source LGA's wards when the LGA is
	// known, otherwise against the whole registry. A known LGA never widens
	// to the rest of the state: a near-miss in the wrong LGA is a different
	// ward, not a match.
	best, runnerUp, bestIdx := 0.0, 0.0, -1
	for i, c := range m.candidates {
		if lga != "" && c.lga != lga {
			continue
		}
		s := similarity(name, c.name)
		if s > best {
			runnerUp = best
			best = s
			bestIdx = i
		} else if s > runnerUp && i != bestIdx {
			runnerUp = s
		}
	}

	if bestIdx >= 0 && best >= m.cutoff {
		result.Canonical = cloneWard(m.candidates[bestIdx].ward)
		result.Tier = TierFuzzy
		result.Confidence = best
		result.Ambiguous = best-runnerUp < ambiguityMargin
	}
	return result
}

// MatchAll resolves a batch of source pairs and summarizes the outcome.
func (m *Matcher) MatchAll(pairs [][2]string) ([]MatchResult, *Summary) {
	results := make([]MatchResult, 0, len(pairs))
	summary := &Summary{ByTier: make(map[Tier]int)}

	for _, p := range pairs {
		r := m.Match(p[0], p[1])
		results = append(results, r)
		summary.Total++
		summary.ByTier[r.Tier]++
		if r.Tier == TierUnmatched {
			summary.Unmatched = append(summary.Unmatched, p[0])
		}
		if r.Ambiguous {
			summary.Ambiguous = append(summary.Ambiguous, p[0])
		}
	}
	return results, summary
}

func cloneWard(w CanonicalWard) *CanonicalWard {
	c := w
	return &c
}
