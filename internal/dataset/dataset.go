// Package dataset manages uploaded facility-record batches. A dataset is
// immutable after ingest and is referenced by an opaque handle.
package dataset

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/mbd888/wardflow/internal/idgen"
	"github.com/mbd888/wardflow/internal/tpr"
)

var (
	ErrNotFound       = errors.New("dataset not found")
	ErrNoRecords      = errors.New("dataset has no records")
	ErrTooManyRecords = errors.New("dataset exceeds record limit")
)

// MaxRecords caps one upload. Monthly national extracts run well under this.
const MaxRecords = 500_000

// Summary describes a dataset without exposing its records.
type Summary struct {
	RecordCount    int      `json:"recordCount"`
	States         []string `json:"states"`
	FacilityLevels []string `json:"facilityLevels"`
	WardCount      int      `json:"wardCount"`
}

// Dataset is one uploaded batch of facility records.
type Dataset struct {
	Handle    string    `json:"handle"`
	Name      string    `json:"name,omitempty"`
	Summary   Summary   `json:"summary"`
	CreatedAt time.Time `json:"createdAt"`

	records []tpr.FacilityRecord
}

// Records returns a copy of the dataset's records, optionally filtered by
// state and facility level (empty filter values match everything).
func (d *Dataset) Records(state string, level tpr.FacilityLevel) []tpr.FacilityRecord {
	out := make([]tpr.FacilityRecord, 0, len(d.records))
	for _, r := range d.records {
		if state != "" && !strings.EqualFold(strings.TrimSpace(r.State), strings.TrimSpace(state)) {
			continue
		}
		if level != "" && r.FacilityLevel != level {
			continue
		}
		out = append(out, r)
	}
	return out
}

// Store persists datasets.
type Store interface {
	Create(ctx context.Context, d *Dataset) error
	Get(ctx context.Context, handle string) (*Dataset, error)
	List(ctx context.Context, limit int) ([]*Dataset, error)
	Delete(ctx context.Context, handle string) error
}

// New builds a dataset from uploaded records, assigning a handle and
// computing the summary. The record slice is copied; later mutation of the
// caller's slice cannot reach the dataset.
func New(name string, records []tpr.FacilityRecord) (*Dataset, error) {
	if len(records) == 0 {
		return nil, ErrNoRecords
	}
	if len(records) > MaxRecords {
		return nil, ErrTooManyRecords
	}

	owned := make([]tpr.FacilityRecord, len(records))
	copy(owned, records)

	return &Dataset{
		Handle:    idgen.WithPrefix("ds_"),
		Name:      name,
		Summary:   summarize(owned),
		CreatedAt: time.Now().UTC(),
		records:   owned,
	}, nil
}

func summarize(records []tpr.FacilityRecord) Summary {
	states := map[string]struct{}{}
	levels := map[string]struct{}{}
	wards := map[string]struct{}{}
	for _, r := range records {
		if s := strings.TrimSpace(r.State); s != "" {
			states[strings.ToUpper(s)] = struct{}{}
		}
		if r.FacilityLevel != "" {
			levels[string(r.FacilityLevel)] = struct{}{}
		}
		wards[strings.ToUpper(r.LGA)+"\x00"+strings.ToUpper(r.Ward)] = struct{}{}
	}

	s := Summary{
		RecordCount:    len(records),
		States:         sortedKeys(states),
		FacilityLevels: sortedKeys(levels),
		WardCount:      len(wards),
	}
	return s
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
