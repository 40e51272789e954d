package webhooks

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mbd888/wardflow/internal/idgen"
	"github.com/mbd888/wardflow/internal/workflow"
)

var (
	webhookEmitTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "wardflow",
		Subsystem: "webhook",
		Name:      "emit_total",
		Help:      "Total webhook emit attempts by event type.",
	}, []string{"event_type"})

	webhookEmitErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "wardflow",
		Subsystem: "webhook",
		Name:      "emit_errors_total",
		Help:      "Total webhook emit failures by event type.",
	}, []string{"event_type"})
)

func init() {
	prometheus.MustRegister(webhookEmitTotal, webhookEmitErrors)
}

// Emitter forwards workflow session events to webhook subscribers.
// It satisfies workflow.EventEmitter; dispatch is fire-and-forget and
// errors are logged but never returned.
type Emitter struct {
	d      *Dispatcher
	logger *slog.Logger
}

// NewEmitter creates a new webhook emitter.
func NewEmitter(d *Dispatcher, logger *slog.Logger) *Emitter {
	return &Emitter{d: d, logger: logger}
}

var _ workflow.EventEmitter = (*Emitter)(nil)

// Emit dispatches a workflow event to all matching subscriptions.
func (e *Emitter) Emit(event workflow.Event) {
	if e == nil || e.d == nil {
		return
	}
	webhookEmitTotal.WithLabelValues(event.Type).Inc()

	out := &Event{
		ID:        idgen.WithPrefix("evt_"),
		Type:      event.Type,
		SessionID: event.SessionID,
		State:     event.State,
		Timestamp: time.Now(),
		Data:      event.Payload,
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.d.Dispatch(ctx, out); err != nil {
		webhookEmitErrors.WithLabelValues(event.Type).Inc()
		e.logger.Warn("webhook emit failed", "event", event.Type, "session", event.SessionID, "error", err)
	}
}
