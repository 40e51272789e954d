package workflow

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/mbd888/wardflow/internal/dataset"
	"github.com/mbd888/wardflow/internal/idgen"
	"github.com/mbd888/wardflow/internal/logging"
	"github.com/mbd888/wardflow/internal/metrics"
	"github.com/mbd888/wardflow/internal/syncutil"
	"github.com/mbd888/wardflow/internal/threshold"
	"github.com/mbd888/wardflow/internal/tpr"
	"github.com/mbd888/wardflow/internal/traces"
	"github.com/mbd888/wardflow/internal/wardmatch"
)

// DefaultMinConfidence is the classifier confidence below which the engine
// answers with a "didn't understand" response instead of acting.
const DefaultMinConfidence = 0.4

// Config tunes the engine.
type Config struct {
	FuzzyCutoff    float64
	UrbanThreshold float64
	RuralThreshold float64
	MinConfidence  float64
}

// Service is the workflow engine. All session mutations go through it.
type Service struct {
	store      Store
	datasets   dataset.Store
	registry   wardmatch.Registry
	classifier IntentClassifier
	delegate   ExplanationDelegate
	emitter    EventEmitter

	calc     *tpr.Calculator
	detector *threshold.Detector

	fuzzyCutoff   float64
	minConfidence float64

	// locks serializes handling per session ID within this process. The
	// store's version check covers multi-process deployments.
	locks *syncutil.ContextShardedMutex
}

// NewService creates the workflow engine. Classifier, delegate, and emitter
// may be nil; the engine falls back to canned behavior for each.
func NewService(store Store, datasets dataset.Store, registry wardmatch.Registry, cfg Config) *Service {
	minConf := cfg.MinConfidence
	if minConf <= 0 {
		minConf = DefaultMinConfidence
	}
	return &Service{
		store:         store,
		datasets:      datasets,
		registry:      registry,
		calc:          tpr.NewCalculator(cfg.UrbanThreshold),
		detector:      threshold.NewDetector(cfg.UrbanThreshold, cfg.RuralThreshold),
		fuzzyCutoff:   cfg.FuzzyCutoff,
		minConfidence: minConf,
		locks:         syncutil.NewContextShardedMutex(),
	}
}

// SetClassifier injects the external intent classifier.
func (s *Service) SetClassifier(c IntentClassifier) { s.classifier = c }

// SetDelegate injects the explanation delegate.
func (s *Service) SetDelegate(d ExplanationDelegate) { s.delegate = d }

// SetEmitter injects the event emitter.
func (s *Service) SetEmitter(e EventEmitter) { s.emitter = e }

// Start creates a session over the given dataset and advances it to its
// first selection stage. Datasets covering a single state skip state
// selection entirely, with that state pre-saved.
func (s *Service) Start(ctx context.Context, datasetHandle string) (*Response, error) {
	d, err := s.datasets.Get(ctx, datasetHandle)
	if err != nil {
		if errors.Is(err, dataset.ErrNotFound) {
			return nil, ErrDatasetNotFound
		}
		return nil, fmt.Errorf("load dataset: %w", err)
	}

	now := time.Now().UTC()
	sess := &Session{
		ID:            idgen.WithPrefix("sess_"),
		DatasetHandle: datasetHandle,
		Stage:         StageInitial,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	var msg string
	if states := d.Summary.States; len(states) == 1 {
		sess.Selections.State = states[0]
		sess.Stage = StageFacilityLevelSelection
		msg = fmt.Sprintf("Starting TPR analysis for %s (%d records). Which facility level should be included?",
			states[0], d.Summary.RecordCount)
	} else {
		sess.Stage = StageStateSelection
		msg = fmt.Sprintf("Starting TPR analysis over %d records covering %d states. Which state should be analyzed?",
			d.Summary.RecordCount, len(d.Summary.States))
	}

	if err := s.store.Create(ctx, sess); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	metrics.SessionsStartedTotal.Inc()
	metrics.StageTransitionsTotal.WithLabelValues(string(StageInitial), string(sess.Stage)).Inc()
	s.emit(Event{Type: EventSessionStarted, SessionID: sess.ID, State: sess.Selections.State})

	logging.L(ctx).Info("session started",
		"sessionId", sess.ID, "dataset", datasetHandle, "stage", sess.Stage)

	resp := s.respond(ctx, sess, msg)
	return resp, nil
}

// Get returns the session unchanged.
func (s *Service) Get(ctx context.Context, sessionID string) (*Session, error) {
	return s.store.Get(ctx, sessionID)
}

// Delete removes a session outright.
func (s *Service) Delete(ctx context.Context, sessionID string) error {
	return s.store.Delete(ctx, sessionID)
}

// HandleMessage classifies a raw user message and handles the result.
func (s *Service) HandleMessage(ctx context.Context, sessionID, message string) (*Response, error) {
	if s.classifier == nil {
		return nil, errors.New("no intent classifier configured")
	}

	sess, err := s.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	intent, err := s.classifier.Classify(ctx, message, sess.Stage, sess.Selections)
	if err != nil {
		return nil, fmt.Errorf("classify: %w", err)
	}
	return s.HandleIntent(ctx, sessionID, intent)
}

// HandleIntent applies one classified intent to a session. The session is
// re-loaded under the per-session lock so the transition is never computed
// from stale state.
func (s *Service) HandleIntent(ctx context.Context, sessionID string, intent IntentResult) (*Response, error) {
	if err := intent.validate(); err != nil {
		return nil, err
	}
	metrics.IntentsTotal.WithLabelValues(string(intent.Kind)).Inc()

	ctx, span := traces.StartSpan(ctx, "workflow.handle_intent",
		traces.SessionID(sessionID),
	)
	defer span.End()

	unlock, err := s.locks.LockContext(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	sess, err := s.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	// The confidence gate comes before any dispatch, navigation included: a
	// half-heard "exit" must not end the session.
	if intent.Kind == IntentUnclear || intent.Confidence < s.minConfidence {
		metrics.ClarificationsTotal.Inc()
		return s.clarify(ctx, sess, "I didn't understand that. "+s.prompt(ctx, sess)), nil
	}

	// Navigation is dispatched before any stage-specific handling.
	if intent.Kind == IntentNavigation {
		return s.handleNavigation(ctx, sess, NavigationType(intent.Value))
	}

	switch intent.Kind {
	case IntentInformation, IntentDataInquiry, IntentAnalysisRequest:
		return s.handleExplanation(ctx, sess, intent)
	case IntentSelection:
		return s.handleSelection(ctx, sess, intent.Value)
	}
	return nil, ErrMalformedIntent
}

// handleNavigation implements back, status, and exit.
func (s *Service) handleNavigation(ctx context.Context, sess *Session, nav NavigationType) (*Response, error) {
	switch nav {
	case NavStatus:
		return s.respond(ctx, sess, s.statusMessage(sess)), nil

	case NavExit:
		// Exit is unconditional and idempotent. Selections stay for audit.
		if sess.Stage != StageComplete {
			from := sess.Stage
			sess.Stage = StageComplete
			if err := s.save(ctx, sess); err != nil {
				return nil, err
			}
			metrics.StageTransitionsTotal.WithLabelValues(string(from), string(StageComplete)).Inc()
		}
		return s.respond(ctx, sess, "Analysis ended. Start a new session to analyze again."), nil

	case NavBack:
		var msg string
		from := sess.Stage
		switch sess.Stage {
		case StageFacilityLevelSelection:
			sess.Stage = StageStateSelection
			sess.Selections.FacilityLevel = ""
			sess.Selections.AgeGroup = ""
			msg = "Back to state selection. " + s.prompt(ctx, sess)
		case StageAgeGroupSelection:
			sess.Stage = StageFacilityLevelSelection
			sess.Selections.AgeGroup = ""
			msg = "Back to facility level selection. " + s.prompt(ctx, sess)
		case StageComplete:
			sess.Stage = StageAgeGroupSelection
			sess.Selections.AgeGroup = ""
			msg = "Back to age group selection. " + s.prompt(ctx, sess)
		default:
			// Nothing earlier to return to.
			return s.respond(ctx, sess, "Already at the beginning. "+s.prompt(ctx, sess)), nil
		}
		if err := s.save(ctx, sess); err != nil {
			return nil, err
		}
		metrics.StageTransitionsTotal.WithLabelValues(string(from), string(sess.Stage)).Inc()
		s.emit(Event{Type: EventStageChanged, SessionID: sess.ID, State: sess.Selections.State,
			Payload: map[string]any{"from": from, "to": sess.Stage}})
		return s.respond(ctx, sess, msg), nil
	}
	return nil, fmt.Errorf("%w: navigation %q", ErrMalformedIntent, nav)
}

// handleExplanation forwards the question to the delegate and appends the
// valid-next-inputs reminder.
func (s *Service) handleExplanation(ctx context.Context, sess *Session, intent IntentResult) (*Response, error) {
	answer := "I can't answer that here."
	if s.delegate != nil {
		a, err := s.delegate.Explain(ctx, sess, intent)
		if err != nil {
			return nil, fmt.Errorf("explanation delegate: %w", err)
		}
		answer = a
	}
	return s.respond(ctx, sess, answer+" "+s.prompt(ctx, sess)), nil
}

// handleSelection validates a selection for the current stage and advances.
func (s *Service) handleSelection(ctx context.Context, sess *Session, value string) (*Response, error) {
	from := sess.Stage

	switch sess.Stage {
	case StageStateSelection:
		state, ok := s.matchState(ctx, sess, value)
		if !ok {
			metrics.ClarificationsTotal.Inc()
			return s.clarify(ctx, sess, fmt.Sprintf("%q is not a state in this dataset. %s", value, s.prompt(ctx, sess))), nil
		}
		sess.Selections.State = state
		sess.Stage = StageFacilityLevelSelection

	case StageFacilityLevelSelection:
		level := strings.ToLower(strings.TrimSpace(value))
		if level != "all" && !tpr.ValidFacilityLevel(level) {
			metrics.ClarificationsTotal.Inc()
			return s.clarify(ctx, sess, fmt.Sprintf("%q is not a facility level. %s", value, s.prompt(ctx, sess))), nil
		}
		sess.Selections.FacilityLevel = level
		sess.Stage = StageAgeGroupSelection

	case StageAgeGroupSelection:
		age := strings.ToLower(strings.TrimSpace(value))
		if !tpr.ValidAgeGroup(age) {
			metrics.ClarificationsTotal.Inc()
			return s.clarify(ctx, sess, fmt.Sprintf("%q is not an age group. %s", value, s.prompt(ctx, sess))), nil
		}
		return s.runCalculation(ctx, sess, age)

	case StageComplete:
		metrics.ClarificationsTotal.Inc()
		return s.clarify(ctx, sess, "The analysis is complete. Say back to change the age group, or exit."), nil

	default:
		metrics.ClarificationsTotal.Inc()
		return s.clarify(ctx, sess, "No selection is expected right now. "+s.prompt(ctx, sess)), nil
	}

	if err := s.save(ctx, sess); err != nil {
		return nil, err
	}
	metrics.StageTransitionsTotal.WithLabelValues(string(from), string(sess.Stage)).Inc()
	s.emit(Event{Type: EventStageChanged, SessionID: sess.ID, State: sess.Selections.State,
		Payload: map[string]any{"from": from, "to": sess.Stage}})

	return s.respond(ctx, sess, "Got it. "+s.prompt(ctx, sess)), nil
}

// runCalculation moves the session through Calculating to Complete. The
// session is saved only after the whole result bundle exists; a failed
// transition leaves the session exactly as it was.
func (s *Service) runCalculation(ctx context.Context, sess *Session, age string) (*Response, error) {
	if sess.Selections.State == "" {
		return nil, fmt.Errorf("%w: state must be selected before calculating; go back or restart", ErrMissingPrerequisite)
	}
	if sess.Selections.FacilityLevel == "" {
		return nil, fmt.Errorf("%w: facility level must be selected before calculating; go back or restart", ErrMissingPrerequisite)
	}

	ctx, span := traces.StartSpan(ctx, "workflow.calculate",
		traces.SessionID(sess.ID),
		traces.State(sess.Selections.State),
		traces.DatasetHandle(sess.DatasetHandle),
	)
	defer span.End()
	started := time.Now()

	d, err := s.datasets.Get(ctx, sess.DatasetHandle)
	if err != nil {
		metrics.CalculationsTotal.WithLabelValues("failed").Inc()
		if errors.Is(err, dataset.ErrNotFound) {
			return nil, fmt.Errorf("%w: dataset %s is gone; restart with a new upload", ErrMissingPrerequisite, sess.DatasetHandle)
		}
		return nil, fmt.Errorf("load dataset: %w", err)
	}

	level := tpr.FacilityLevel(sess.Selections.FacilityLevel)
	if sess.Selections.FacilityLevel == "all" {
		level = ""
	}
	records := d.Records(sess.Selections.State, level)
	if len(records) == 0 {
		metrics.CalculationsTotal.WithLabelValues("empty").Inc()
		metrics.ClarificationsTotal.Inc()
		return s.clarify(ctx, sess, fmt.Sprintf(
			"No records match %s at %s facilities. Pick a different age group, or go back to change the filters.",
			sess.Selections.State, sess.Selections.FacilityLevel)), nil
	}

	aggregates, diags, err := s.calc.Calculate(records, tpr.AgeGroup(age))
	if err != nil {
		metrics.CalculationsTotal.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("calculate: %w", err)
	}

	report := s.detector.Detect(aggregates)

	results, matchSummary := s.reconcile(ctx, sess.Selections.State, aggregates)

	sess.Selections.AgeGroup = age
	sess.Stage = StageComplete
	if err := s.save(ctx, sess); err != nil {
		metrics.CalculationsTotal.WithLabelValues("failed").Inc()
		return nil, err
	}

	metrics.CalculationsTotal.WithLabelValues("success").Inc()
	metrics.CalculationDuration.Observe(time.Since(started).Seconds())
	metrics.SessionsCompletedTotal.Inc()
	metrics.StageTransitionsTotal.WithLabelValues(string(StageAgeGroupSelection), string(StageCalculating)).Inc()
	metrics.StageTransitionsTotal.WithLabelValues(string(StageCalculating), string(StageComplete)).Inc()
	if matchSummary != nil {
		metrics.WardMatchRate.Observe(matchSummary.MatchRate())
	}
	for _, v := range append(append([]threshold.Violation{}, report.Urban...), report.Rural...) {
		metrics.ThresholdViolationsTotal.WithLabelValues(string(v.Severity)).Inc()
	}
	span.SetAttributes(traces.WardCount(len(aggregates)))

	s.emit(Event{Type: EventCalculationComplete, SessionID: sess.ID, State: sess.Selections.State,
		Payload: map[string]any{"wards": len(aggregates), "violations": report.Total()}})
	if alert := report.AlertMessage(); alert != "" {
		s.emit(Event{Type: EventThresholdAlert, SessionID: sess.ID, State: sess.Selections.State,
			Payload: map[string]any{"message": alert}})
	}

	logging.L(ctx).Info("calculation complete",
		"sessionId", sess.ID, "state", sess.Selections.State, "ageGroup", age,
		"wards", len(aggregates), "violations", report.Total(),
		"duration", time.Since(started))

	resp := s.respond(ctx, sess, s.resultMessage(sess, len(aggregates), report))
	resp.Results = results
	resp.Violations = report
	resp.DataQuality = diags
	resp.MatchSummary = matchSummary
	return resp, nil
}

// reconcile joins aggregates to the canonical ward registry. A missing
// registry for the state degrades to unmatched results rather than failing
// the calculation.
func (s *Service) reconcile(ctx context.Context, state string, aggregates []tpr.WardAggregate) ([]WardResult, *wardmatch.Summary) {
	results := make([]WardResult, len(aggregates))

	canonical, err := s.registry.WardsForState(ctx, state)
	if err != nil {
		logging.L(ctx).Warn("no canonical registry for state; skipping reconciliation",
			"state", state, "error", err)
		for i, agg := range aggregates {
			results[i] = WardResult{
				Aggregate: agg,
				Match: wardmatch.MatchResult{
					SourceWard: agg.WardName, SourceLGA: agg.LGA, Tier: wardmatch.TierUnmatched,
				},
			}
		}
		return results, nil
	}

	matcher, err := wardmatch.NewMatcher(canonical, s.fuzzyCutoff)
	if err != nil {
		// Only possible with an empty snapshot; treat like a missing registry.
		return s.reconcileUnmatched(aggregates), nil
	}

	pairs := make([][2]string, len(aggregates))
	for i, agg := range aggregates {
		pairs[i] = [2]string{agg.WardName, agg.LGA}
	}
	matches, summary := matcher.MatchAll(pairs)
	for i, agg := range aggregates {
		results[i] = WardResult{Aggregate: agg, Match: matches[i]}
	}
	return results, summary
}

func (s *Service) reconcileUnmatched(aggregates []tpr.WardAggregate) []WardResult {
	results := make([]WardResult, len(aggregates))
	for i, agg := range aggregates {
		results[i] = WardResult{
			Aggregate: agg,
			Match: wardmatch.MatchResult{
				SourceWard: agg.WardName, SourceLGA: agg.LGA, Tier: wardmatch.TierUnmatched,
			},
		}
	}
	return results
}

// save persists the session with a bumped version. A conflict means another
// request won the race; the caller's transition is abandoned.
func (s *Service) save(ctx context.Context, sess *Session) error {
	sess.UpdatedAt = time.Now().UTC()
	if err := s.store.Save(ctx, sess); err != nil {
		return fmt.Errorf("save session %s: %w", sess.ID, err)
	}
	return nil
}

func (s *Service) emit(event Event) {
	if s.emitter != nil {
		s.emitter.Emit(event)
	}
}

// respond builds a Response with the stage's valid options attached.
func (s *Service) respond(ctx context.Context, sess *Session, msg string) *Response {
	return &Response{
		SessionID:  sess.ID,
		Message:    msg,
		Stage:      sess.Stage,
		Selections: sess.Selections,
		Options:    s.options(ctx, sess),
	}
}

func (s *Service) clarify(ctx context.Context, sess *Session, msg string) *Response {
	resp := s.respond(ctx, sess, msg)
	resp.Clarification = true
	return resp
}

// options lists the valid next inputs for the session's stage.
func (s *Service) options(ctx context.Context, sess *Session) []string {
	switch sess.Stage {
	case StageStateSelection:
		return s.datasetStates(ctx, sess)
	case StageFacilityLevelSelection:
		return []string{"primary", "secondary", "tertiary", "all"}
	case StageAgeGroupSelection:
		return []string{"u5", "o5", "pw", "all"}
	case StageComplete:
		return []string{"back", "status", "exit"}
	}
	return nil
}

// prompt renders the question for the session's stage.
func (s *Service) prompt(ctx context.Context, sess *Session) string {
	opts := s.options(ctx, sess)
	switch sess.Stage {
	case StageStateSelection:
		return "Which state should be analyzed? Options: " + strings.Join(opts, ", ") + "."
	case StageFacilityLevelSelection:
		return "Which facility level? Options: " + strings.Join(opts, ", ") + "."
	case StageAgeGroupSelection:
		return "Which age group? Options: " + strings.Join(opts, ", ") + "."
	case StageComplete:
		return "You can say back, status, or exit."
	}
	return ""
}

func (s *Service) statusMessage(sess *Session) string {
	var parts []string
	if sess.Selections.State != "" {
		parts = append(parts, "state="+sess.Selections.State)
	}
	if sess.Selections.FacilityLevel != "" {
		parts = append(parts, "facilityLevel="+sess.Selections.FacilityLevel)
	}
	if sess.Selections.AgeGroup != "" {
		parts = append(parts, "ageGroup="+sess.Selections.AgeGroup)
	}
	if len(parts) == 0 {
		return fmt.Sprintf("Stage: %s. No selections yet.", sess.Stage)
	}
	return fmt.Sprintf("Stage: %s. Selections: %s.", sess.Stage, strings.Join(parts, ", "))
}

func (s *Service) resultMessage(sess *Session, wards int, report *threshold.Report) string {
	msg := fmt.Sprintf("Calculated TPR for %d wards in %s (%s facilities, %s age group).",
		wards, sess.Selections.State, sess.Selections.FacilityLevel, sess.Selections.AgeGroup)
	if alert := report.AlertMessage(); alert != "" {
		msg += " " + alert
	} else {
		msg += " No wards exceed action thresholds."
	}
	return msg
}

// matchState resolves a user-entered state against the dataset's states,
// case-insensitively, returning the dataset's spelling.
func (s *Service) matchState(ctx context.Context, sess *Session, value string) (string, bool) {
	for _, state := range s.datasetStates(ctx, sess) {
		if strings.EqualFold(strings.TrimSpace(value), state) {
			return state, true
		}
	}
	return "", false
}

func (s *Service) datasetStates(ctx context.Context, sess *Session) []string {
	d, err := s.datasets.Get(ctx, sess.DatasetHandle)
	if err != nil {
		return nil
	}
	states := append([]string(nil), d.Summary.States...)
	sort.Strings(states)
	return states
}
