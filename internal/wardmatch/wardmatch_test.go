package wardmatch

import (
	"context"
	"errors"
	"math"
	"testing"
)

var kanoRegistry = []CanonicalWard{
	{Code: "KN001", Name: "Dala", LGA: "Dala", State: "Kano"},
	{Code: "KN002", Name: "Gwale", LGA: "Gwale", State: "Kano"},
	{Code: "KN003", Name: "Hosheri Zum", LGA: "Fufore", State: "Kano"},
	{Code: "KN004", Name: "Unguwa", LGA: "Dala", State: "Kano"},
	{Code: "KN005", Name: "Unguwa", LGA: "Gwale", State: "Kano"},
}

func newTestMatcher(t *testing.T) *Matcher {
	t.Helper()
	m, err := NewMatcher(kanoRegistry, 0.75)
	if err != nil {
		t.Fatalf("NewMatcher: %v", err)
	}
	return m
}

func TestSimilarity(t *testing.T) {
	tests := []struct {
		a, b string
		want float64
	}{
		{"HOSHERI ZUM", "HOSHERI ZUM", 1},
		{"HOSHERI ZUM", "HOSERI ZUM", 10.0 / 11.0},
		{"ZUM HOSHERI", "HOSHERI ZUM", 1}, // token sort
		{"DALA", "", 0},
		{"", "", 1},
	}
	for _, tt := range tests {
		if got := similarity(tt.a, tt.b); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("similarity(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestMatchExactWithLGA(t *testing.T) {
	m := newTestMatcher(t)

	r := m.Match("KN Dala ward", "Dala LGA")
	if r.Tier != TierExactWithLGA {
		t.Fatalf("Tier = %s, want exact_with_lga", r.Tier)
	}
	if r.Canonical == nil || r.Canonical.Code != "KN001" {
		t.Errorf("Canonical = %+v, want KN001", r.Canonical)
	}
	if r.Confidence != 1 || r.Ambiguous {
		t.Errorf("Confidence = %v Ambiguous = %v, want 1 and false", r.Confidence, r.Ambiguous)
	}
}

func TestMatchExactWardOnly(t *testing.T) {
	m := newTestMatcher(t)

	// Correct ward name, wrong LGA.
	r := m.Match("Gwale", "Fagge")
	if r.Tier != TierExactWardOnly {
		t.Fatalf("Tier = %s, want exact_ward_only", r.Tier)
	}
	if r.Canonical == nil || r.Canonical.Code != "KN002" {
		t.Errorf("Canonical = %+v, want KN002", r.Canonical)
	}
	if r.Ambiguous {
		t.Error("unique name must not be ambiguous")
	}
}

func TestMatchExactWardOnlyAmbiguous(t *testing.T) {
	m := newTestMatcher(t)

	// "Unguwa" exists in two LGAs and the source LGA matches neither.
	r := m.Match("Unguwa", "Fagge")
	if r.Tier != TierExactWardOnly {
		t.Fatalf("Tier = %s, want exact_ward_only", r.Tier)
	}
	if !r.Ambiguous {
		t.Error("duplicate ward name across LGAs must be flagged ambiguous")
	}
}

func TestMatchFuzzy(t *testing.T) {
	m := newTestMatcher(t)

	// One dropped letter: "Hoseri" for "Hosheri".
	r := m.Match("Hoseri-Zum", "Fufore")
	if r.Tier != TierFuzzy {
		t.Fatalf("Tier = %s, want fuzzy", r.Tier)
	}
	if r.Canonical == nil || r.Canonical.Code != "KN003" {
		t.Errorf("Canonical = %+v, want KN003", r.Canonical)
	}
	if r.Confidence < 0.75 || r.Confidence >= 1 {
		t.Errorf("Confidence = %v, want in [0.75, 1)", r.Confidence)
	}
}

func TestMatchFuzzyStaysInKnownLGA(t *testing.T) {
	m, err := NewMatcher([]CanonicalWard{
		{Code: "AD001", Name: "Hoseri Zum", LGA: "One", State: "Adamawa"},
		{Code: "AD002", Name: "Wagga", LGA: "Two", State: "Adamawa"},
	}, 0.75)
	if err != nil {
		t.Fatalf("NewMatcher: %v", err)
	}

	// "Hosheri-Zum" is a near-miss of the ward in LGA One, but the source
	// row says LGA Two. The pool never widens past a known LGA.
	r := m.Match("Hosheri-Zum", "Two")
	if r.Tier != TierUnmatched {
		t.Fatalf("Tier = %s, want unmatched", r.Tier)
	}
	if r.Canonical != nil {
		t.Errorf("Canonical = %+v, want nil for cross-LGA near-miss", r.Canonical)
	}
}

func TestMatchFuzzyUnknownLGASearchesRegistry(t *testing.T) {
	m := newTestMatcher(t)

	// No LGA on the source row, so every canonical ward competes.
	r := m.Match("Hoseri-Zum", "")
	if r.Tier != TierFuzzy {
		t.Fatalf("Tier = %s, want fuzzy", r.Tier)
	}
	if r.Canonical == nil || r.Canonical.Code != "KN003" {
		t.Errorf("Canonical = %+v, want KN003", r.Canonical)
	}
}

func TestMatchUnmatchedBelowCutoff(t *testing.T) {
	m := newTestMatcher(t)

	r := m.Match("Completely Different", "Nowhere")
	if r.Tier != TierUnmatched {
		t.Fatalf("Tier = %s, want unmatched", r.Tier)
	}
	if r.Canonical != nil {
		t.Errorf("Canonical = %+v, want nil (never guess below cutoff)", r.Canonical)
	}
	if r.Matched() {
		t.Error("Matched() = true for unmatched result")
	}
}

func TestMatchEmptyName(t *testing.T) {
	m := newTestMatcher(t)
	if r := m.Match("", "Dala"); r.Tier != TierUnmatched {
		t.Errorf("Tier = %s, want unmatched for empty name", r.Tier)
	}
}

func TestMatchCacheReturnsSameResult(t *testing.T) {
	m := newTestMatcher(t)

	first := m.Match("Hoseri-Zum", "Fufore")
	second := m.Match("Hoseri-Zum", "Fufore")
	if first.Tier != second.Tier || first.Confidence != second.Confidence {
		t.Errorf("cached result differs: %+v vs %+v", first, second)
	}
	if len(m.cache) != 1 {
		t.Errorf("cache size = %d, want 1", len(m.cache))
	}
}

func TestMatchAllSummary(t *testing.T) {
	m := newTestMatcher(t)

	results, summary := m.MatchAll([][2]string{
		{"Dala", "Dala"},
		{"Gwale", "Fagge"},
		{"Hoseri-Zum", "Fufore"},
		{"Unguwa", "Fagge"},
		{"Nonexistent Place", "Nowhere"},
	})

	if len(results) != 5 {
		t.Fatalf("got %d results, want 5", len(results))
	}
	if summary.Total != 5 {
		t.Errorf("Total = %d, want 5", summary.Total)
	}
	if summary.ByTier[TierExactWithLGA] != 1 ||
		summary.ByTier[TierExactWardOnly] != 2 ||
		summary.ByTier[TierFuzzy] != 1 ||
		summary.ByTier[TierUnmatched] != 1 {
		t.Errorf("ByTier = %v", summary.ByTier)
	}
	if len(summary.Unmatched) != 1 || summary.Unmatched[0] != "Nonexistent Place" {
		t.Errorf("Unmatched = %v", summary.Unmatched)
	}
	if len(summary.Ambiguous) != 1 || summary.Ambiguous[0] != "Unguwa" {
		t.Errorf("Ambiguous = %v", summary.Ambiguous)
	}
	if rate := summary.MatchRate(); math.Abs(rate-0.8) > 1e-9 {
		t.Errorf("MatchRate = %v, want 0.8", rate)
	}
}

func TestNewMatcherEmptyRegistry(t *testing.T) {
	if _, err := NewMatcher(nil, 0.75); !errors.Is(err, ErrNoCandidates) {
		t.Errorf("err = %v, want ErrNoCandidates", err)
	}
}

func TestMemoryRegistry(t *testing.T) {
	ctx := context.Background()
	reg := NewMemoryRegistry()

	if err := reg.Load(ctx, kanoRegistry); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := reg.Load(ctx, []CanonicalWard{
		{Code: "AD001", Name: "Bille", LGA: "Fufore", State: "Adamawa"},
	}); err != nil {
		t.Fatalf("Load: %v", err)
	}

	wards, err := reg.WardsForState(ctx, "kano")
	if err != nil {
		t.Fatalf("WardsForState: %v", err)
	}
	if len(wards) != len(kanoRegistry) {
		t.Errorf("got %d wards, want %d", len(wards), len(kanoRegistry))
	}

	// Mutating the returned slice must not touch the registry.
	wards[0].Name = "CLOBBERED"
	again, _ := reg.WardsForState(ctx, "Kano")
	if again[0].Name == "CLOBBERED" {
		t.Error("WardsForState leaked internal slice")
	}

	if _, err := reg.WardsForState(ctx, "Lagos"); !errors.Is(err, ErrStateNotFound) {
		t.Errorf("err = %v, want ErrStateNotFound", err)
	}

	states, err := reg.States(ctx)
	if err != nil {
		t.Fatalf("States: %v", err)
	}
	if len(states) != 2 || states[0] != "ADAMAWA" || states[1] != "KANO" {
		t.Errorf("States = %v, want [ADAMAWA KANO]", states)
	}
}
