// Package tpr computes ward-level malaria Test Positivity Rates from raw
// health-facility test records.
//
// Flow:
//  1. Per record, take the max of RDT and microscopy counts for the selected
//     age cohort (a person tested by both methods is one person)
//  2. Group records by (ward, LGA) and sum tested/positive
//  3. TPR = positive / tested * 100; a zero denominator yields an explicit
//     missing value, never zero
//  4. Urban wards whose standard TPR exceeds the urban threshold are
//     recalculated against outpatient attendance (the alternative method)
//
// Impossible inputs (positive > tested, negative counts) are surfaced as
// data-quality issues and never silently corrected.
package tpr

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/mbd888/wardflow/internal/normalize"
)

var (
	ErrNoRecords       = errors.New("no facility records to calculate from")
	ErrUnknownAgeGroup = errors.New("unknown age group")
)

// AgeGroup identifies the analysis cohort.
type AgeGroup string

const (
	AgeUnder5   AgeGroup = "u5"
	AgeOver5    AgeGroup = "o5"
	AgePregnant AgeGroup = "pw"
	AgeAll      AgeGroup = "all"
)

// ValidAgeGroup reports whether s names a supported cohort.
func ValidAgeGroup(s string) bool {
	switch AgeGroup(s) {
	case AgeUnder5, AgeOver5, AgePregnant, AgeAll:
		return true
	}
	return false
}

// FacilityLevel is the tier of a health facility.
type FacilityLevel string

const (
	LevelPrimary   FacilityLevel = "primary"
	LevelSecondary FacilityLevel = "secondary"
	LevelTertiary  FacilityLevel = "tertiary"
)

// ValidFacilityLevel reports whether s names a supported tier ("all" is
// accepted as a no-filter sentinel at the workflow layer, not here).
func ValidFacilityLevel(s string) bool {
	switch FacilityLevel(s) {
	case LevelPrimary, LevelSecondary, LevelTertiary:
		return true
	}
	return false
}

// Method records which denominator produced a ward's TPR.
type Method string

const (
	MethodStandard    Method = "standard"
	MethodAlternative Method = "alternative"
)

// TestCounts holds the raw test tallies for one cohort at one facility row.
type TestCounts struct {
	RDTTested          int `json:"rdtTested"`
	RDTPositive        int `json:"rdtPositive"`
	MicroscopyTested   int `json:"microscopyTested"`
	MicroscopyPositive int `json:"microscopyPositive"`
}

// Tested returns the deduplicated tested count: the max of the two methods,
// never their sum.
func (c TestCounts) Tested() int {
	return maxInt(c.RDTTested, c.MicroscopyTested)
}

// Positive returns the deduplicated positive count.
func (c TestCounts) Positive() int {
	return maxInt(c.RDTPositive, c.MicroscopyPositive)
}

// Add returns the channel-wise sum of two tallies. Used for the combined
// all-ages cohort, which sums across cohorts before deduplicating methods.
func (c TestCounts) Add(o TestCounts) TestCounts {
	return TestCounts{
		RDTTested:          c.RDTTested + o.RDTTested,
		RDTPositive:        c.RDTPositive + o.RDTPositive,
		MicroscopyTested:   c.MicroscopyTested + o.MicroscopyTested,
		MicroscopyPositive: c.MicroscopyPositive + o.MicroscopyPositive,
	}
}

func (c TestCounts) empty() bool {
	return c.RDTTested == 0 && c.RDTPositive == 0 &&
		c.MicroscopyTested == 0 && c.MicroscopyPositive == 0
}

// FacilityRecord is one row of raw input: one facility's monthly tallies.
// Records are immutable once ingested.
type FacilityRecord struct {
	Ward          string        `json:"ward" binding:"required"`
	LGA           string        `json:"lga" binding:"required"`
	State         string        `json:"state" binding:"required"`
	FacilityLevel FacilityLevel `json:"facilityLevel"`

	Under5   TestCounts `json:"u5"`
	Over5    TestCounts `json:"o5"`
	Pregnant TestCounts `json:"pw"`

	OutpatientAttendance float64 `json:"outpatientAttendance"`

	// Urban is the explicit per-row urban flag, when the source provides one.
	Urban *bool `json:"urban,omitempty"`
	// UrbanPercentage is the share of the ward population classified urban,
	// when the source provides one.
	UrbanPercentage *float64 `json:"urbanPercentage,omitempty"`
}

// CountsFor returns the tallies for the requested cohort. For AgeAll the
// cohorts are summed channel-wise first (sum-then-ratio policy).
func (r FacilityRecord) CountsFor(age AgeGroup) (TestCounts, error) {
	switch age {
	case AgeUnder5:
		return r.Under5, nil
	case AgeOver5:
		return r.Over5, nil
	case AgePregnant:
		return r.Pregnant, nil
	case AgeAll:
		return r.Under5.Add(r.Over5).Add(r.Pregnant), nil
	}
	return TestCounts{}, fmt.Errorf("%w: %q", ErrUnknownAgeGroup, age)
}

// WardAggregate is the calculated result for one (ward, LGA) group.
type WardAggregate struct {
	WardName string `json:"wardName"`
	LGA      string `json:"lga"`

	// TPR is nil when the denominator was zero ("missing", never coerced
	// to 0). Full precision is retained; round only for display.
	TPR    *float64 `json:"tpr"`
	Method Method   `json:"method"`

	Numerator   int     `json:"numerator"`
	Denominator float64 `json:"denominator"`

	FacilityCount   int     `json:"facilityCount"`
	Completeness    float64 `json:"completeness"`
	IsUrban         bool    `json:"isUrban"`
	UrbanPercentage float64 `json:"urbanPercentage"`
}

// DisplayTPR renders the TPR rounded to one decimal place, or "missing".
func (w WardAggregate) DisplayTPR() string {
	if w.TPR == nil {
		return "missing"
	}
	return fmt.Sprintf("%.1f%%", *w.TPR)
}

// RoundedTPR returns the TPR rounded to one decimal place for presentation.
// Threshold comparisons must use the unrounded value.
func (w WardAggregate) RoundedTPR() *float64 {
	if w.TPR == nil {
		return nil
	}
	v := math.Round(*w.TPR*10) / 10
	return &v
}

// IssueKind classifies a data-quality problem found during calculation.
type IssueKind string

const (
	IssueNegativeCount      IssueKind = "negative_count"
	IssuePositiveOverTested IssueKind = "positive_exceeds_tested"
	IssueZeroDenominator    IssueKind = "zero_denominator"
)

// Issue is one data-quality violation. Issues never abort the batch.
type Issue struct {
	Kind   IssueKind `json:"kind"`
	Ward   string    `json:"ward"`
	LGA    string    `json:"lga"`
	Detail string    `json:"detail"`
}

// Diagnostics aggregates per-record and per-ward problems for one run.
type Diagnostics struct {
	Issues []Issue `json:"issues,omitempty"`
	// MissingTPRWards lists wards whose TPR is missing (zero denominator).
	MissingTPRWards []string `json:"missingTprWards,omitempty"`
}

// HasIssues reports whether any data-quality problem was recorded.
func (d *Diagnostics) HasIssues() bool {
	return d != nil && (len(d.Issues) > 0 || len(d.MissingTPRWards) > 0)
}

func (d *Diagnostics) add(kind IssueKind, ward, lga, detail string) {
	d.Issues = append(d.Issues, Issue{Kind: kind, Ward: ward, LGA: lga, Detail: detail})
}

// urbanKeywords is the low-confidence fallback signal for urban
// classification. Only consulted when neither an explicit flag nor an urban
// percentage is present on any row of the ward.
var urbanKeywords = []string{
	"URBAN", "CITY", "METRO", "METROPOLITAN", "TOWNSHIP", "MUNICIPAL", "CENTRAL",
}

const (
	// DefaultUrbanThreshold is the standard-TPR cutoff above which urban
	// wards switch to the outpatient-attendance denominator.
	DefaultUrbanThreshold = 50.0
	// urbanPercentageCutoff classifies a ward urban when its reported urban
	// population share exceeds it.
	urbanPercentageCutoff = 30.0
)

// Calculator aggregates facility records into ward-level TPR values.
type Calculator struct {
	urbanThreshold float64
}

// NewCalculator creates a calculator. A non-positive threshold falls back to
// DefaultUrbanThreshold.
func NewCalculator(urbanThreshold float64) *Calculator {
	if urbanThreshold <= 0 {
		urbanThreshold = DefaultUrbanThreshold
	}
	return &Calculator{urbanThreshold: urbanThreshold}
}

// wardGroup accumulates one (ward, LGA) bucket during aggregation.
type wardGroup struct {
	ward, lga    string
	tested       int
	positive     int
	attendance   float64
	rows         int
	rowsWithData int

	urbanFlag     *bool
	urbanPctKnown bool
	urbanPct      float64
}

// Calculate aggregates records for the given cohort into ward aggregates,
// ordered by (LGA, ward). Data-quality problems are reported through the
// returned Diagnostics; no record aborts the batch.
func (c *Calculator) Calculate(records []FacilityRecord, age AgeGroup) ([]WardAggregate, *Diagnostics, error) {
	if len(records) == 0 {
		return nil, nil, ErrNoRecords
	}
	if !ValidAgeGroup(string(age)) {
		return nil, nil, fmt.Errorf("%w: %q", ErrUnknownAgeGroup, age)
	}

	diags := &Diagnostics{}
	groups := make(map[string]*wardGroup)
	var order []string

	for _, rec := range records {
		counts, err := rec.CountsFor(age)
		if err != nil {
			return nil, nil, err
		}

		ward := normalize.Ward(rec.Ward)
		lga := normalize.LGA(rec.LGA)
		key := lga + "\x00" + ward

		g, ok := groups[key]
		if !ok {
			g = &wardGroup{ward: ward, lga: lga}
			groups[key] = g
			order = append(order, key)
		}

		c.checkQuality(diags, ward, lga, counts)

		tested := counts.Tested()
		positive := counts.Positive()

		g.tested += tested
		g.positive += positive
		g.attendance += rec.OutpatientAttendance
		g.rows++
		if !counts.empty() {
			g.rowsWithData++
		}

		// Urban signals resolve in priority order: explicit flag, urban
		// percentage, then the keyword heuristic applied at ward level.
		if rec.Urban != nil {
			if g.urbanFlag == nil || *rec.Urban {
				v := *rec.Urban
				if g.urbanFlag != nil {
					v = v || *g.urbanFlag
				}
				g.urbanFlag = &v
			}
		}
		if rec.UrbanPercentage != nil {
			if !g.urbanPctKnown || *rec.UrbanPercentage > g.urbanPct {
				g.urbanPct = *rec.UrbanPercentage
			}
			g.urbanPctKnown = true
		}
	}

	sort.Strings(order)

	aggregates := make([]WardAggregate, 0, len(order))
	for _, key := range order {
		g := groups[key]
		agg := c.aggregate(g, diags)
		aggregates = append(aggregates, agg)
	}

	return aggregates, diags, nil
}

// aggregate finalizes one ward group: standard TPR, urban classification,
// and the alternative-denominator policy.
func (c *Calculator) aggregate(g *wardGroup, diags *Diagnostics) WardAggregate {
	agg := WardAggregate{
		WardName:      g.ward,
		LGA:           g.lga,
		Method:        MethodStandard,
		Numerator:     g.positive,
		Denominator:   float64(g.tested),
		FacilityCount: g.rows,
	}

	if g.rows > 0 {
		agg.Completeness = float64(g.rowsWithData) / float64(g.rows) * 100
	}

	agg.IsUrban, agg.UrbanPercentage = c.classifyUrban(g)

	if g.tested == 0 {
		// Explicitly missing: the denominator is zero.
		diags.MissingTPRWards = append(diags.MissingTPRWards, g.ward)
		diags.add(IssueZeroDenominator, g.ward, g.lga, "no tests recorded for selected cohort")
		return agg
	}

	standard := float64(g.positive) / float64(g.tested) * 100
	agg.TPR = &standard

	if agg.IsUrban && standard > c.urbanThreshold && g.attendance > 0 {
		alt := float64(g.positive) / g.attendance * 100
		agg.TPR = &alt
		agg.Method = MethodAlternative
		agg.Denominator = g.attendance
	}

	return agg
}

// classifyUrban resolves the ward's urban status from the accumulated
// signals, in priority order.
func (c *Calculator) classifyUrban(g *wardGroup) (bool, float64) {
	pct := 0.0
	if g.urbanPctKnown {
		pct = g.urbanPct
	}
	if g.urbanFlag != nil {
		return *g.urbanFlag, pct
	}
	if g.urbanPctKnown {
		return g.urbanPct > urbanPercentageCutoff, pct
	}
	// Keyword heuristic: low-confidence fallback when no better data exists.
	name := strings.ToUpper(g.ward)
	for _, kw := range urbanKeywords {
		if strings.Contains(name, kw) {
			return true, pct
		}
	}
	return false, pct
}

// checkQuality records impossible values for one row's cohort tallies.
func (c *Calculator) checkQuality(diags *Diagnostics, ward, lga string, counts TestCounts) {
	check := func(label string, tested, positive int) {
		if tested < 0 || positive < 0 {
			diags.add(IssueNegativeCount, ward, lga,
				fmt.Sprintf("%s: tested=%d positive=%d", label, tested, positive))
		}
		if positive > tested && tested >= 0 {
			diags.add(IssuePositiveOverTested, ward, lga,
				fmt.Sprintf("%s: positive %d exceeds tested %d", label, positive, tested))
		}
	}
	check("rdt", counts.RDTTested, counts.RDTPositive)
	check("microscopy", counts.MicroscopyTested, counts.MicroscopyPositive)
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
