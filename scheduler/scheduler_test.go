package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"skyfare/config"
	"skyfare/gateway"
	"skyfare/models"
	"skyfare/tracker"
)

type fakeRouteStore struct {
	routes   []models.TrackedRoute
	loads    int
	touched  []int64
	upserted int
}

func (f *fakeRouteStore) GetActiveRoutes(ctx context.Context) ([]models.TrackedRoute, error) {
	f.loads++
	return append([]models.TrackedRoute{}, f.routes...), nil
}

func (f *fakeRouteStore) GetRoute(ctx context.Context, origin, destination string) (*models.TrackedRoute, error) {
	for _, r := range f.routes {
		if r.Origin == origin && r.Destination == destination {
			cp := r
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeRouteStore) CountActiveRoutes(ctx context.Context) (int, error) {
	return len(f.routes), nil
}

func (f *fakeRouteStore) UpsertRoute(ctx context.Context, r *models.TrackedRoute) error {
	f.upserted++
	r.ID = int64(f.upserted)
	return nil
}

func (f *fakeRouteStore) TouchRouteTracked(ctx context.Context, id int64) error {
	f.touched = append(f.touched, id)
	return nil
}

// fakeHistoryStore is the minimal tracker.Store needed for a cycle.
type fakeHistoryStore struct {
	snapshots int
	lowest    int
}

func (f *fakeHistoryStore) UpsertTrackedFlight(ctx context.Context, fl *models.TrackedFlight) error {
	if fl.ID == uuid.Nil {
		fl.ID = uuid.New()
	}
	return nil
}

func (f *fakeHistoryStore) GetTrackedFlight(ctx context.Context, number, date, origin, destination string) (*models.TrackedFlight, error) {
	return nil, nil
}

func (f *fakeHistoryStore) UpdateCurrentLowest(ctx context.Context, flightID uuid.UUID, price int64, provider string) error {
	return nil
}

func (f *fakeHistoryStore) HasRecentSnapshot(ctx context.Context, number, date, origin, destination, provider string, window time.Duration) (bool, error) {
	return false, nil
}

func (f *fakeHistoryStore) LatestSnapshot(ctx context.Context, flightID uuid.UUID, provider string) (*models.PriceSnapshot, error) {
	return nil, nil
}

func (f *fakeHistoryStore) InsertPriceSnapshot(ctx context.Context, p *models.PriceSnapshot) error {
	f.snapshots++
	return nil
}

func (f *fakeHistoryStore) NewestSnapshotTime(ctx context.Context, origin, destination, date string) (*time.Time, error) {
	return nil, nil
}

func (f *fakeHistoryStore) LatestLowestSnapshot(ctx context.Context, flightID uuid.UUID) (*models.LowestPriceSnapshot, error) {
	return nil, nil
}

func (f *fakeHistoryStore) InsertLowestPriceSnapshot(ctx context.Context, l *models.LowestPriceSnapshot) error {
	f.lowest++
	return nil
}

type fixedProvider struct {
	name   string
	offers []models.Offer
}

func (p *fixedProvider) Name() string { return p.name }

func (p *fixedProvider) Search(ctx context.Context, q models.SearchQuery) ([]models.Offer, error) {
	out := make([]models.Offer, len(p.offers))
	copy(out, p.offers)
	for i := range out {
		out[i].Origin = q.Origin
		out[i].Destination = q.Destination
	}
	return out, nil
}

func testConfig() *config.Config {
	return &config.Config{
		Tracker: config.TrackerConfig{
			FreshnessWindow:     time.Hour,
			MaxConcurrentRoutes: 2,
			RouteDelay:          time.Millisecond,
			DateDelay:           time.Millisecond,
			DaysAhead:           2,
		},
	}
}

func newTestScheduler(routes *fakeRouteStore, history *fakeHistoryStore, providers ...gateway.Provider) *Scheduler {
	log := zap.NewNop().Sugar()
	gw := gateway.New(providers, time.Second, nil, log)
	tr := tracker.New(history, time.Hour, nil, log)
	ledger := NewLedger(newFakeSessionStore(), log)
	return New(testConfig(), gw, tr, routes, ledger, nil, nil, log)
}

func TestRunCycleSkipsWhenBusy(t *testing.T) {
	routes := &fakeRouteStore{routes: []models.TrackedRoute{{ID: 1, Origin: "THR", Destination: "MHD"}}}
	s := newTestScheduler(routes, &fakeHistoryStore{})

	s.isRunning.Store(true)
	if err := s.RunCycle(context.Background(), models.TriggerScheduled); err != nil {
		t.Fatalf("skipped cycle should not error: %v", err)
	}
	if routes.loads != 0 {
		t.Fatalf("skipped cycle must not touch the route store")
	}
	if !s.isRunning.Load() {
		t.Fatalf("skip cleared the running flag it does not own")
	}
}

func TestRunCycleTracksRoutesAndCompletes(t *testing.T) {
	routes := &fakeRouteStore{routes: []models.TrackedRoute{
		{ID: 1, Origin: "THR", Destination: "MHD", DaysAhead: 2},
		{ID: 2, Origin: "THR", Destination: "KIH", DaysAhead: 2},
	}}
	history := &fakeHistoryStore{}
	provider := &fixedProvider{name: "alibaba", offers: []models.Offer{{
		FlightNumber:  "IR263",
		AirlineCode:   "IR",
		DepartureTime: time.Date(2026, 9, 14, 8, 45, 0, 0, time.UTC),
		Price:         1200000,
		Capacity:      4,
	}}}
	s := newTestScheduler(routes, history, provider)

	if err := s.RunCycle(context.Background(), models.TriggerManual); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}

	sess := s.ledger.Current()
	if sess == nil || sess.Status != models.SessionCompleted {
		t.Fatalf("expected a completed session, got %+v", sess)
	}
	if sess.CompletedRoutes != 2 || sess.FailedRoutes != 0 {
		t.Fatalf("route counters wrong: %+v", sess)
	}
	// 2 routes x 2 dates, one snapshot and one lowest row each.
	if history.snapshots != 4 || history.lowest != 4 {
		t.Fatalf("expected 4 snapshots and 4 lowest rows, got %d/%d", history.snapshots, history.lowest)
	}
	if len(routes.touched) != 2 {
		t.Fatalf("clean routes should move last_tracked_at, touched=%v", routes.touched)
	}
	if s.isRunning.Load() {
		t.Fatalf("running flag not released after cycle")
	}
}

func TestRunCycleWithoutRoutesIsNoOp(t *testing.T) {
	routes := &fakeRouteStore{}
	s := newTestScheduler(routes, &fakeHistoryStore{})

	if err := s.RunCycle(context.Background(), models.TriggerScheduled); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if s.ledger.Current() != nil {
		t.Fatalf("no-op cycle should not open a session")
	}
}

func TestStopEndsCycleEarly(t *testing.T) {
	var routeList []models.TrackedRoute
	for i := 0; i < 6; i++ {
		routeList = append(routeList, models.TrackedRoute{
			ID: int64(i + 1), Origin: "THR", Destination: "MHD", DaysAhead: 2,
		})
	}
	routes := &fakeRouteStore{routes: routeList}
	history := &fakeHistoryStore{}

	slow := &slowProvider{delay: 20 * time.Millisecond}
	s := newTestScheduler(routes, history, slow)

	done := make(chan error, 1)
	go func() { done <- s.RunCycle(context.Background(), models.TriggerManual) }()

	// Wait for the session to open, then stop it mid-cycle.
	deadline := time.After(2 * time.Second)
	for s.ledger.Status() != models.SessionRunning {
		select {
		case <-deadline:
			t.Fatalf("session never opened")
		case <-time.After(time.Millisecond):
		}
	}
	if res := s.ledger.Stop(context.Background()); !res.Success {
		t.Fatalf("stop failed: %s", res.Message)
	}

	if err := <-done; err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	sess := s.ledger.Current()
	if sess.Status != models.SessionStopped {
		t.Fatalf("expected stopped session, got %s", sess.Status)
	}
	if len(sess.RouteDetails) == len(routeList) {
		t.Fatalf("stop did not cut the sweep short")
	}
}

type slowProvider struct {
	delay time.Duration
}

func (p *slowProvider) Name() string { return "slow" }

func (p *slowProvider) Search(ctx context.Context, q models.SearchQuery) ([]models.Offer, error) {
	select {
	case <-time.After(p.delay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return nil, nil
}

func TestInitRoutesSeedsMatrix(t *testing.T) {
	routes := &fakeRouteStore{}
	s := newTestScheduler(routes, &fakeHistoryStore{})
	s.cfg.Routes = config.RoutesConfig{
		DaysAhead:       7,
		IntervalMinutes: 60,
		Airports: []config.Airport{
			{Code: "THR", City: "تهران"},
			{Code: "MHD", City: "مشهد"},
			{Code: "KIH", City: "کیش"},
		},
	}

	n, err := s.InitRoutes(context.Background())
	if err != nil {
		t.Fatalf("InitRoutes: %v", err)
	}
	// Every ordered pair of distinct airports.
	if n != 6 || routes.upserted != 6 {
		t.Fatalf("expected 6 seeded routes, got n=%d upserted=%d", n, routes.upserted)
	}
}
