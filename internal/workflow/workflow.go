// Package workflow implements the staged analysis conversation: a session
// walks from state selection through facility level and age cohort to a
// computed ward-level TPR result.
//
// The engine consumes typed intent results from an external classifier and
// never parses free text itself. Every stage transition is computed from a
// freshly loaded session and persisted before the response is returned.
package workflow

import (
	"context"
	"errors"
	"time"

	"github.com/mbd888/wardflow/internal/threshold"
	"github.com/mbd888/wardflow/internal/tpr"
	"github.com/mbd888/wardflow/internal/wardmatch"
)

var (
	ErrSessionNotFound     = errors.New("session not found")
	ErrVersionConflict     = errors.New("session was modified concurrently")
	ErrDatasetNotFound     = errors.New("dataset not found")
	ErrMalformedIntent     = errors.New("malformed intent result")
	ErrMissingPrerequisite = errors.New("missing prerequisite selection")
)

// Stage is the position of a session in the analysis conversation.
type Stage string

const (
	StageInitial                Stage = "initial"
	StageStateSelection         Stage = "state_selection"
	StageFacilityLevelSelection Stage = "facility_level_selection"
	StageAgeGroupSelection      Stage = "age_group_selection"
	StageCalculating            Stage = "calculating"
	StageComplete               Stage = "complete"
)

// Selections holds the user's confirmed choices. A field is empty until the
// corresponding stage has been passed.
type Selections struct {
	State         string `json:"state,omitempty"`
	FacilityLevel string `json:"facilityLevel,omitempty"`
	AgeGroup      string `json:"ageGroup,omitempty"`
}

// Session is one user conversation. Mutated only by the Service.
type Session struct {
	ID            string     `json:"id"`
	DatasetHandle string     `json:"datasetHandle"`
	Stage         Stage      `json:"stage"`
	Selections    Selections `json:"selections"`

	// Version increments on every save; stores reject stale writes.
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// IntentKind is the classifier's verdict on what the user wants.
type IntentKind string

const (
	IntentSelection       IntentKind = "selection"
	IntentInformation     IntentKind = "information"
	IntentDataInquiry     IntentKind = "dataInquiry"
	IntentAnalysisRequest IntentKind = "analysisRequest"
	IntentNavigation      IntentKind = "navigation"
	IntentUnclear         IntentKind = "unclear"
)

// NavigationType is the value carried by a navigation intent.
type NavigationType string

const (
	NavBack   NavigationType = "back"
	NavStatus NavigationType = "status"
	NavExit   NavigationType = "exit"
)

// IntentResult is the external classifier's output for one user message.
type IntentResult struct {
	Kind       IntentKind `json:"intentKind"`
	Value      string     `json:"extractedValue,omitempty"`
	Confidence float64    `json:"confidence"`
	Rationale  string     `json:"rationale,omitempty"`
}

// validate rejects results that violate the classifier contract. A rejected
// result is a fatal error, not a clarification.
func (r IntentResult) validate() error {
	switch r.Kind {
	case IntentSelection, IntentNavigation:
		if r.Value == "" {
			return ErrMalformedIntent
		}
	case IntentInformation, IntentDataInquiry, IntentAnalysisRequest, IntentUnclear:
	default:
		return ErrMalformedIntent
	}
	if r.Confidence < 0 || r.Confidence > 1 {
		return ErrMalformedIntent
	}
	return nil
}

// WardResult pairs one calculated ward aggregate with its canonical match.
type WardResult struct {
	Aggregate tpr.WardAggregate     `json:"aggregate"`
	Match     wardmatch.MatchResult `json:"match"`
}

// Response is the stable contract surfaced to any UI layer.
type Response struct {
	SessionID  string     `json:"sessionId"`
	Message    string     `json:"message"`
	Stage      Stage      `json:"stage"`
	Selections Selections `json:"selections"`
	// Options lists the valid next inputs for the current stage.
	Options []string `json:"options,omitempty"`
	// Clarification marks responses that ask the user to try again.
	Clarification bool `json:"clarification,omitempty"`

	Results      []WardResult       `json:"results,omitempty"`
	Violations   *threshold.Report  `json:"violations,omitempty"`
	DataQuality  *tpr.Diagnostics   `json:"dataQuality,omitempty"`
	MatchSummary *wardmatch.Summary `json:"matchSummary,omitempty"`
}

// Store persists sessions. Save must reject writes whose Version does not
// match the stored one, so concurrent requests on one session cannot apply a
// transition computed from stale state.
type Store interface {
	Create(ctx context.Context, s *Session) error
	Get(ctx context.Context, id string) (*Session, error)
	Save(ctx context.Context, s *Session) error
	Delete(ctx context.Context, id string) error
	// ListIdle returns sessions not updated since before, for expiry sweeps.
	ListIdle(ctx context.Context, before time.Time, limit int) ([]*Session, error)
}

// IntentClassifier turns a raw user message into a typed intent. External;
// the engine must behave correctly for any well-formed result.
type IntentClassifier interface {
	Classify(ctx context.Context, message string, stage Stage, selections Selections) (IntentResult, error)
}

// ExplanationDelegate answers information and analysis questions. The engine
// passes its response through unmodified, then appends a reminder of the
// valid next inputs.
type ExplanationDelegate interface {
	Explain(ctx context.Context, session *Session, intent IntentResult) (string, error)
}

// Event is a notification published on session activity.
type Event struct {
	Type      string         `json:"type"`
	SessionID string         `json:"sessionId"`
	State     string         `json:"state,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// Event types published by the Service.
const (
	EventSessionStarted      = "session_started"
	EventStageChanged        = "stage_changed"
	EventCalculationComplete = "calculation_complete"
	EventThresholdAlert      = "threshold_alert"
	EventSessionExpired      = "session_expired"
)

// EventEmitter receives session events. Implementations must not block.
type EventEmitter interface {
	Emit(event Event)
}
