package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"skyfare/models"
)

type fakeSessionStore struct {
	sessions map[uuid.UUID]*models.ScrapingSession
	updates  int
}

func newFakeSessionStore() *fakeSessionStore {
	return &fakeSessionStore{sessions: make(map[uuid.UUID]*models.ScrapingSession)}
}

func (f *fakeSessionStore) CreateSession(ctx context.Context, sess *models.ScrapingSession) error {
	cp := *sess
	f.sessions[sess.ID] = &cp
	return nil
}

func (f *fakeSessionStore) UpdateSession(ctx context.Context, sess *models.ScrapingSession) error {
	cp := *sess
	f.sessions[sess.ID] = &cp
	f.updates++
	return nil
}

func (f *fakeSessionStore) ActiveSession(ctx context.Context) (*models.ScrapingSession, error) {
	for _, s := range f.sessions {
		if s.Status.Active() {
			cp := *s
			return &cp, nil
		}
	}
	return nil, nil
}

func newTestLedger() (*Ledger, *fakeSessionStore) {
	store := newFakeSessionStore()
	return NewLedger(store, zap.NewNop().Sugar()), store
}

func TestLedgerLifecycle(t *testing.T) {
	ledger, store := newTestLedger()
	ctx := context.Background()

	sess, err := ledger.Begin(ctx, models.TriggerScheduled, 5)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if sess.Status != models.SessionRunning {
		t.Fatalf("new session should be running, got %s", sess.Status)
	}

	if res := ledger.Pause(ctx); !res.Success {
		t.Fatalf("pause failed: %s", res.Message)
	}
	if got := ledger.Status(); got != models.SessionPaused {
		t.Fatalf("expected paused, got %s", got)
	}

	if res := ledger.Resume(ctx); !res.Success {
		t.Fatalf("resume failed: %s", res.Message)
	}
	if got := ledger.Status(); got != models.SessionRunning {
		t.Fatalf("expected running, got %s", got)
	}

	if err := ledger.Complete(ctx); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	final := store.sessions[sess.ID]
	if final.Status != models.SessionCompleted {
		t.Fatalf("expected completed, got %s", final.Status)
	}
	if final.CompletedAt == nil {
		t.Fatalf("completed session missing completion time")
	}
}

func TestLedgerRefusesSecondActiveSession(t *testing.T) {
	ledger, _ := newTestLedger()
	ctx := context.Background()

	if _, err := ledger.Begin(ctx, models.TriggerScheduled, 5); err != nil {
		t.Fatalf("first Begin: %v", err)
	}
	if _, err := ledger.Begin(ctx, models.TriggerManual, 5); err == nil {
		t.Fatalf("second Begin should be refused while a session is active")
	}

	ledger.Pause(ctx)
	if _, err := ledger.Begin(ctx, models.TriggerManual, 5); err == nil {
		t.Fatalf("paused session still holds the active slot")
	}

	if res := ledger.Stop(ctx); !res.Success {
		t.Fatalf("stop from paused failed: %s", res.Message)
	}
	if _, err := ledger.Begin(ctx, models.TriggerManual, 5); err != nil {
		t.Fatalf("Begin after stop: %v", err)
	}
}

func TestLedgerInvalidTransitionsDoNotMutate(t *testing.T) {
	ledger, _ := newTestLedger()
	ctx := context.Background()

	if res := ledger.Pause(ctx); res.Success {
		t.Fatalf("pause with no session should fail")
	}
	if res := ledger.Resume(ctx); res.Success {
		t.Fatalf("resume with no session should fail")
	}

	sess, _ := ledger.Begin(ctx, models.TriggerManual, 1)

	if res := ledger.Resume(ctx); res.Success {
		t.Fatalf("resume of a running session should fail")
	}
	if got := ledger.Status(); got != models.SessionRunning {
		t.Fatalf("failed resume mutated status to %s", got)
	}

	if err := ledger.Complete(ctx); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if res := ledger.Pause(ctx); res.Success {
		t.Fatalf("pause of a completed session should fail")
	}
	if res := ledger.Stop(ctx); res.Success {
		t.Fatalf("stop of a completed session should fail")
	}
	if got := ledger.Current(); got.Status != models.SessionCompleted {
		t.Fatalf("failed controls mutated session %s to %s", sess.ID, got.Status)
	}
}

func TestLedgerPauseDurationExcludedFromActiveTime(t *testing.T) {
	ledger, _ := newTestLedger()
	ctx := context.Background()

	if _, err := ledger.Begin(ctx, models.TriggerManual, 1); err != nil {
		t.Fatalf("Begin: %v", err)
	}

	// Backdate the pause so the interval is measurable in seconds.
	ledger.Pause(ctx)
	past := time.Now().UTC().Add(-10 * time.Second)
	ledger.mu.Lock()
	ledger.cur.PausedAt = &past
	ledger.mu.Unlock()

	if res := ledger.Resume(ctx); !res.Success {
		t.Fatalf("resume failed: %s", res.Message)
	}

	cur := ledger.Current()
	if cur.PauseDurationSeconds < 9 || cur.PauseDurationSeconds > 11 {
		t.Fatalf("expected ~10s of pause time, got %d", cur.PauseDurationSeconds)
	}
	if cur.PausedAt != nil {
		t.Fatalf("resumed session still carries a pause timestamp")
	}
	if cur.ResumedAt == nil {
		t.Fatalf("resumed session missing resume timestamp")
	}

	if err := ledger.Complete(ctx); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	final := ledger.Current()
	if final.DurationSeconds > 2 {
		t.Fatalf("pause time leaked into active duration: %ds", final.DurationSeconds)
	}
}

func TestLedgerRecordRoute(t *testing.T) {
	ledger, _ := newTestLedger()
	ctx := context.Background()

	if _, err := ledger.Begin(ctx, models.TriggerScheduled, 2); err != nil {
		t.Fatalf("Begin: %v", err)
	}

	ledger.RecordRoute(ctx, models.RouteDetail{
		Origin: "THR", Destination: "MHD",
		DatesTracked: 7, FlightsFound: 40, FlightsSaved: 35,
	})
	ledger.RecordRoute(ctx, models.RouteDetail{
		Origin: "THR", Destination: "KIH",
		DatesTracked: 7, FlightsFound: 10, FlightsSaved: 0,
		Errors: []string{"2026-09-14: record batch: db down"},
	})

	cur := ledger.Current()
	if cur.CompletedRoutes != 1 || cur.FailedRoutes != 1 {
		t.Fatalf("route counters wrong: completed=%d failed=%d", cur.CompletedRoutes, cur.FailedRoutes)
	}
	if cur.TotalFlightsFound != 50 || cur.TotalFlightsSaved != 35 {
		t.Fatalf("flight counters wrong: found=%d saved=%d", cur.TotalFlightsFound, cur.TotalFlightsSaved)
	}
	if cur.TotalErrors != 1 || len(cur.RouteDetails) != 2 {
		t.Fatalf("error bookkeeping wrong: errors=%d details=%d", cur.TotalErrors, len(cur.RouteDetails))
	}
}
