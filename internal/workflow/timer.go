package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/mbd888/wardflow/internal/metrics"
)

// Timer periodically expires sessions that have been idle past the TTL.
type Timer struct {
	service  *Service
	store    Store
	interval time.Duration
	ttl      time.Duration
	logger   *slog.Logger
	stop     chan struct{}
	running  atomic.Bool
}

// NewTimer creates a new idle-session expiry timer.
func NewTimer(service *Service, store Store, ttl time.Duration, logger *slog.Logger) *Timer {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Timer{
		service:  service,
		store:    store,
		interval: time.Minute,
		ttl:      ttl,
		logger:   logger,
		stop:     make(chan struct{}),
	}
}

// Running reports whether the timer loop is actively running.
func (t *Timer) Running() bool {
	return t.running.Load()
}

// Start begins the expiry loop. Call in a goroutine.
func (t *Timer) Start(ctx context.Context) {
	t.running.Store(true)
	defer t.running.Store(false)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.stop:
			return
		case <-ticker.C:
			t.safeExpireIdle(ctx)
		}
	}
}

// Stop signals the timer to stop.
func (t *Timer) Stop() {
	select {
	case t.stop <- struct{}{}:
	default:
	}
}

func (t *Timer) safeExpireIdle(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("panic in session expiry timer", "panic", fmt.Sprint(r))
		}
	}()
	t.expireIdle(ctx)
}

func (t *Timer) expireIdle(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-t.ttl)

	idle, err := t.store.ListIdle(ctx, cutoff, 100)
	if err != nil {
		t.logger.Warn("failed to list idle sessions", "error", err)
		return
	}

	for _, sess := range idle {
		if err := t.store.Delete(ctx, sess.ID); err != nil {
			t.logger.Warn("failed to expire session",
				"sessionId", sess.ID, "error", err)
			continue
		}
		metrics.SessionsExpiredTotal.Inc()
		t.service.emit(Event{Type: EventSessionExpired, SessionID: sess.ID, State: sess.Selections.State})
		t.logger.Info("expired idle session",
			"sessionId", sess.ID,
			"stage", sess.Stage,
			"idleSince", sess.UpdatedAt,
		)
	}
}
