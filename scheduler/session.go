package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"skyfare/models"
)

// SessionStore is the slice of persistence the ledger needs.
type SessionStore interface {
	CreateSession(ctx context.Context, sess *models.ScrapingSession) error
	UpdateSession(ctx context.Context, sess *models.ScrapingSession) error
	ActiveSession(ctx context.Context) (*models.ScrapingSession, error)
}

// Ledger owns the one in-flight tracking session. At most one session
// may be running or paused at a time; control calls against the wrong
// state report failure instead of raising, and never mutate.
type Ledger struct {
	store SessionStore
	log   *zap.SugaredLogger

	mu  sync.Mutex
	cur *models.ScrapingSession
}

func NewLedger(store SessionStore, log *zap.SugaredLogger) *Ledger {
	return &Ledger{store: store, log: log}
}

// Begin opens a new running session, refusing while another one holds
// the active slot.
func (l *Ledger) Begin(ctx context.Context, trigger models.TriggerType, totalRoutes int) (*models.ScrapingSession, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.cur != nil && l.cur.Status.Active() {
		return nil, fmt.Errorf("session %s is still %s", l.cur.ID, l.cur.Status)
	}
	if active, err := l.store.ActiveSession(ctx); err != nil {
		return nil, fmt.Errorf("check active session: %w", err)
	} else if active != nil {
		return nil, fmt.Errorf("session %s is still %s", active.ID, active.Status)
	}

	sess := &models.ScrapingSession{
		ID:          uuid.New(),
		TriggerType: trigger,
		Status:      models.SessionRunning,
		StartedAt:   time.Now().UTC(),
		TotalRoutes: totalRoutes,
	}
	if err := l.store.CreateSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	l.cur = sess
	l.log.Infow("session started", "session_id", sess.ID, "trigger", trigger, "routes", totalRoutes)
	return sess, nil
}

// Pause moves a running session to paused. The active-duration clock
// stops here.
func (l *Ledger) Pause(ctx context.Context) models.ControlResult {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.cur == nil {
		return models.ControlResult{Message: "no active session"}
	}
	if l.cur.Status != models.SessionRunning {
		return models.ControlResult{Message: fmt.Sprintf("cannot pause a %s session", l.cur.Status)}
	}

	now := time.Now().UTC()
	l.cur.Status = models.SessionPaused
	l.cur.PausedAt = &now
	l.cur.DurationSeconds = l.activeSeconds(now)
	if err := l.persist(ctx); err != nil {
		return models.ControlResult{Message: err.Error()}
	}
	l.log.Infow("session paused", "session_id", l.cur.ID)
	return models.ControlResult{Success: true, Message: "session paused"}
}

// Resume moves a paused session back to running, folding the pause
// interval into the pause total.
func (l *Ledger) Resume(ctx context.Context) models.ControlResult {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.cur == nil {
		return models.ControlResult{Message: "no active session"}
	}
	if l.cur.Status != models.SessionPaused {
		return models.ControlResult{Message: fmt.Sprintf("cannot resume a %s session", l.cur.Status)}
	}

	now := time.Now().UTC()
	l.cur.PauseDurationSeconds += int64(now.Sub(*l.cur.PausedAt).Seconds())
	l.cur.Status = models.SessionRunning
	l.cur.ResumedAt = &now
	l.cur.PausedAt = nil
	if err := l.persist(ctx); err != nil {
		return models.ControlResult{Message: err.Error()}
	}
	l.log.Infow("session resumed", "session_id", l.cur.ID)
	return models.ControlResult{Success: true, Message: "session resumed"}
}

// Stop ends a running or paused session early. The tracking loop sees
// the status change and drains at the next checkpoint.
func (l *Ledger) Stop(ctx context.Context) models.ControlResult {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.cur == nil || !l.cur.Status.Active() {
		return models.ControlResult{Message: "no active session"}
	}
	l.finalize(models.SessionStopped, "")
	if err := l.persist(ctx); err != nil {
		return models.ControlResult{Message: err.Error()}
	}
	l.log.Infow("session stopped", "session_id", l.cur.ID)
	return models.ControlResult{Success: true, Message: "session stopped"}
}

// Complete marks the session's clean end.
func (l *Ledger) Complete(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.cur == nil || !l.cur.Status.Active() {
		return fmt.Errorf("no active session to complete")
	}
	l.finalize(models.SessionCompleted, "")
	return l.persist(ctx)
}

// Fail marks the session dead with a reason.
func (l *Ledger) Fail(ctx context.Context, reason string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.cur == nil || !l.cur.Status.Active() {
		return fmt.Errorf("no active session to fail")
	}
	l.finalize(models.SessionFailed, reason)
	return l.persist(ctx)
}

// RecordRoute folds one route's outcome into the session counters.
func (l *Ledger) RecordRoute(ctx context.Context, detail models.RouteDetail) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.cur == nil {
		return
	}
	l.cur.RouteDetails = append(l.cur.RouteDetails, detail)
	l.cur.TotalFlightsFound += detail.FlightsFound
	l.cur.TotalFlightsSaved += detail.FlightsSaved
	l.cur.TotalErrors += len(detail.Errors)
	if len(detail.Errors) > 0 {
		l.cur.FailedRoutes++
	} else {
		l.cur.CompletedRoutes++
	}
	if err := l.persist(ctx); err != nil {
		l.log.Warnw("session progress not persisted", "session_id", l.cur.ID, "error", err)
	}
}

// Status returns the current session's status, or "" when none.
func (l *Ledger) Status() models.SessionStatus {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cur == nil {
		return ""
	}
	return l.cur.Status
}

// Current returns a copy of the in-flight session, or nil.
func (l *Ledger) Current() *models.ScrapingSession {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cur == nil {
		return nil
	}
	cp := *l.cur
	return &cp
}

// finalize and activeSeconds run under l.mu.

func (l *Ledger) finalize(status models.SessionStatus, reason string) {
	now := time.Now().UTC()
	if l.cur.Status == models.SessionPaused && l.cur.PausedAt != nil {
		l.cur.PauseDurationSeconds += int64(now.Sub(*l.cur.PausedAt).Seconds())
		l.cur.PausedAt = nil
	}
	l.cur.Status = status
	l.cur.CompletedAt = &now
	l.cur.DurationSeconds = l.activeSeconds(now)
	l.cur.ErrorMessage = reason
}

func (l *Ledger) activeSeconds(now time.Time) int64 {
	total := int64(now.Sub(l.cur.StartedAt).Seconds()) - l.cur.PauseDurationSeconds
	if total < 0 {
		total = 0
	}
	return total
}

func (l *Ledger) persist(ctx context.Context) error {
	if err := l.store.UpdateSession(ctx, l.cur); err != nil {
		return fmt.Errorf("persist session: %w", err)
	}
	return nil
}
