// Package threshold flags ward TPR values that exceed programmatic action
// thresholds and summarizes them for decision-makers.
//
// Urban and rural wards carry different cutoffs. Violations cluster by LGA
// when two or more wards in the same LGA breach, which usually indicates an
// area-wide problem rather than a facility artifact.
package threshold

import (
	"fmt"
	"sort"
	"strings"

	"github.com/mbd888/wardflow/internal/tpr"
)

const (
	// DefaultUrbanThreshold is the action cutoff for urban wards.
	DefaultUrbanThreshold = 50.0
	// DefaultRuralThreshold is the action cutoff for rural wards.
	DefaultRuralThreshold = 70.0

	severeCutoff   = 70.0
	criticalCutoff = 90.0
)

// Severity buckets a violation by how far past critical levels it sits.
type Severity string

const (
	SeverityElevated Severity = "elevated"
	SeveritySevere   Severity = "severe"
	SeverityCritical Severity = "critical"
)

// Violation is one ward whose TPR exceeds its applicable threshold.
type Violation struct {
	WardName  string   `json:"wardName"`
	LGA       string   `json:"lga"`
	TPR       float64  `json:"tpr"`
	Threshold float64  `json:"threshold"`
	IsUrban   bool     `json:"isUrban"`
	Severity  Severity `json:"severity"`
	Method    string   `json:"method"`
}

// Cluster groups the violating wards of one LGA. Only LGAs with two or more
// violations form a cluster.
type Cluster struct {
	LGA   string   `json:"lga"`
	Wards []string `json:"wards"`
}

// Report is the outcome of one detection pass.
type Report struct {
	Urban []Violation `json:"urban,omitempty"`
	Rural []Violation `json:"rural,omitempty"`

	Clusters []Cluster `json:"clusters,omitempty"`

	Recommendations []string `json:"recommendations,omitempty"`

	WardsChecked int `json:"wardsChecked"`
	// WardsSkipped counts wards with no TPR value (zero denominator).
	WardsSkipped int `json:"wardsSkipped"`
}

// Total returns the number of violations across both partitions.
func (r *Report) Total() int {
	return len(r.Urban) + len(r.Rural)
}

// AlertMessage renders a human-readable alert, or "" when nothing violates.
func (r *Report) AlertMessage() string {
	if r.Total() == 0 {
		return ""
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d of %d wards exceed action thresholds.", r.Total(), r.WardsChecked)
	if len(r.Urban) > 0 {
		fmt.Fprintf(&b, " Urban (>%.0f%%): %s.", r.Urban[0].Threshold, wardList(r.Urban))
	}
	if len(r.Rural) > 0 {
		fmt.Fprintf(&b, " Rural (>%.0f%%): %s.", r.Rural[0].Threshold, wardList(r.Rural))
	}
	for _, cl := range r.Clusters {
		fmt.Fprintf(&b, " Cluster in %s LGA: %s.", cl.LGA, strings.Join(cl.Wards, ", "))
	}
	return b.String()
}

func wardList(vs []Violation) string {
	names := make([]string, len(vs))
	for i, v := range vs {
		names[i] = fmt.Sprintf("%s (%.1f%%)", v.WardName, v.TPR)
	}
	return strings.Join(names, ", ")
}

// Detector evaluates ward aggregates against action thresholds.
type Detector struct {
	urbanThreshold float64
	ruralThreshold float64
}

// NewDetector creates a detector. Non-positive thresholds fall back to the
// defaults.
func NewDetector(urban, rural float64) *Detector {
	if urban <= 0 {
		urban = DefaultUrbanThreshold
	}
	if rural <= 0 {
		rural = DefaultRuralThreshold
	}
	return &Detector{urbanThreshold: urban, ruralThreshold: rural}
}

// Detect partitions threshold breaches by urban/rural, clusters them by LGA,
// and derives recommendations. Wards without a TPR are skipped and counted.
// Comparison uses the full-precision TPR, not the display rounding.
func (d *Detector) Detect(aggregates []tpr.WardAggregate) *Report {
	report := &Report{}

	byLGA := make(map[string][]string)

	for _, agg := range aggregates {
		if agg.TPR == nil {
			report.WardsSkipped++
			continue
		}
		report.WardsChecked++

		limit := d.ruralThreshold
		if agg.IsUrban {
			limit = d.urbanThreshold
		}
		if *agg.TPR <= limit {
			continue
		}

		v := Violation{
			WardName:  agg.WardName,
			LGA:       agg.LGA,
			TPR:       *agg.TPR,
			Threshold: limit,
			IsUrban:   agg.IsUrban,
			Severity:  severity(*agg.TPR),
			Method:    string(agg.Method),
		}
		if agg.IsUrban {
			report.Urban = append(report.Urban, v)
		} else {
			report.Rural = append(report.Rural, v)
		}
		byLGA[agg.LGA] = append(byLGA[agg.LGA], agg.WardName)
	}

	for lga, wards := range byLGA {
		if len(wards) < 2 {
			continue
		}
		sort.Strings(wards)
		report.Clusters = append(report.Clusters, Cluster{LGA: lga, Wards: wards})
	}
	sort.Slice(report.Clusters, func(i, j int) bool {
		return report.Clusters[i].LGA < report.Clusters[j].LGA
	})

	report.Recommendations = d.recommend(report)
	return report
}

func severity(v float64) Severity {
	switch {
	case v > criticalCutoff:
		return SeverityCritical
	case v > severeCutoff:
		return SeveritySevere
	default:
		return SeverityElevated
	}
}

// recommend maps the violation pattern to programmatic follow-ups.
func (d *Detector) recommend(r *Report) []string {
	if r.Total() == 0 {
		return nil
	}

	var recs []string

	var critical, severe int
	for _, v := range append(append([]Violation{}, r.Urban...), r.Rural...) {
		switch v.Severity {
		case SeverityCritical:
			critical++
		case SeveritySevere:
			severe++
		}
	}

	if critical > 0 {
		recs = append(recs, fmt.Sprintf("%d ward(s) above %.0f%% TPR: verify test stock and reporting before escalating", critical, criticalCutoff))
	}
	if severe > 0 {
		recs = append(recs, fmt.Sprintf("%d ward(s) above %.0f%% TPR: prioritize for vector-control review", severe, severeCutoff))
	}
	for _, cl := range r.Clusters {
		recs = append(recs, fmt.Sprintf("%s LGA has %d violating wards: investigate LGA-wide transmission drivers", cl.LGA, len(cl.Wards)))
	}
	if len(r.Urban) > 0 {
		recs = append(recs, "urban violations persist above threshold despite denominator adjustment: review facility catchment assumptions")
	}
	return recs
}
