package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"skyfare/config"
	"skyfare/gateway"
	"skyfare/metrics"
	"skyfare/models"
	"skyfare/search"
	"skyfare/storage"
	"skyfare/tracker"
)

// RouteStore is the slice of persistence the scheduler needs for
// route bookkeeping.
type RouteStore interface {
	GetActiveRoutes(ctx context.Context) ([]models.TrackedRoute, error)
	GetRoute(ctx context.Context, origin, destination string) (*models.TrackedRoute, error)
	CountActiveRoutes(ctx context.Context) (int, error)
	UpsertRoute(ctx context.Context, r *models.TrackedRoute) error
	TouchRouteTracked(ctx context.Context, id int64) error
}

// Rotator rotates the outbound tunnel between cycles.
type Rotator interface {
	Rotate() error
}

// Scheduler drives the automated tracking loop: a cron (or plain
// ticker) fires RunCycle, the SQLite command queue feeds manual
// control, and the Ledger keeps the session record. Overlapping
// triggers are collapsed: a cycle that fires while one is already
// running is skipped, never queued.
type Scheduler struct {
	cfg     *config.Config
	gw      *gateway.Gateway
	tracker *tracker.Tracker
	routes  RouteStore
	ledger  *Ledger
	queue   *storage.SQLiteStore
	vpn     Rotator
	metrics *metrics.Metrics
	log     *zap.SugaredLogger

	cron      *cron.Cron
	ticker    *time.Ticker
	stopCh    chan struct{}
	isRunning atomic.Bool
}

func New(cfg *config.Config, gw *gateway.Gateway, tr *tracker.Tracker, routes RouteStore, ledger *Ledger, queue *storage.SQLiteStore, m *metrics.Metrics, log *zap.SugaredLogger) *Scheduler {
	return &Scheduler{
		cfg:     cfg,
		gw:      gw,
		tracker: tr,
		routes:  routes,
		ledger:  ledger,
		queue:   queue,
		metrics: m,
		log:     log,
		cron:    cron.New(),
		stopCh:  make(chan struct{}),
	}
}

// SetRotator wires an optional VPN rotation step ahead of each cycle.
func (s *Scheduler) SetRotator(r Rotator) {
	s.vpn = r
}

func (s *Scheduler) Start(ctx context.Context) error {
	if s.queue != nil {
		go s.pollCommands(ctx)
	}

	if s.cfg.Scheduler.Cron != "" {
		s.log.Infow("starting scheduler", "cron", s.cfg.Scheduler.Cron)
		_, err := s.cron.AddFunc(s.cfg.Scheduler.Cron, func() {
			if err := s.RunCycle(ctx, models.TriggerScheduled); err != nil {
				s.log.Errorw("scheduled cycle failed", "error", err)
			}
		})
		if err != nil {
			return fmt.Errorf("invalid cron expression: %w", err)
		}
		s.cron.Start()
	} else if s.cfg.Scheduler.Interval > 0 {
		s.log.Infow("starting scheduler", "interval", s.cfg.Scheduler.Interval)
		s.ticker = time.NewTicker(s.cfg.Scheduler.Interval)
		go func() {
			for {
				select {
				case <-s.ticker.C:
					if err := s.RunCycle(ctx, models.TriggerScheduled); err != nil {
						s.log.Errorw("scheduled cycle failed", "error", err)
					}
				case <-s.stopCh:
					return
				case <-ctx.Done():
					return
				}
			}
		}()
	} else {
		s.log.Infow("no schedule configured, daemon will only respond to commands")
	}

	return nil
}

func (s *Scheduler) Stop() {
	if s.cron != nil {
		s.cron.Stop()
	}
	if s.ticker != nil {
		s.ticker.Stop()
	}
	close(s.stopCh)
}

// Pause, Resume and StopSession forward to the ledger; they exist so
// callers never touch session state except through the scheduler.
func (s *Scheduler) Pause(ctx context.Context) models.ControlResult  { return s.ledger.Pause(ctx) }
func (s *Scheduler) Resume(ctx context.Context) models.ControlResult { return s.ledger.Resume(ctx) }
func (s *Scheduler) StopSession(ctx context.Context) models.ControlResult {
	return s.ledger.Stop(ctx)
}

// Status answers a status query from the current ledger state.
func (s *Scheduler) Status(ctx context.Context) models.TrackerStatus {
	status := models.TrackerStatus{IsRunning: s.isRunning.Load()}
	if sess := s.ledger.Current(); sess != nil && sess.Status.Active() {
		status.SessionID = &sess.ID
		status.IsPaused = sess.Status == models.SessionPaused
	}
	if n, err := s.routes.CountActiveRoutes(ctx); err == nil {
		status.RouteCount = n
	}
	return status
}

// InitRoutes seeds the route table with the configured airport
// matrix, resetting existing pairs to the configured defaults.
func (s *Scheduler) InitRoutes(ctx context.Context) (int, error) {
	defaults := s.cfg.DefaultRoutes()
	for i := range defaults {
		if err := s.routes.UpsertRoute(ctx, &defaults[i]); err != nil {
			return i, fmt.Errorf("seed route %s-%s: %w", defaults[i].Origin, defaults[i].Destination, err)
		}
	}
	s.log.Infow("routes seeded", "count", len(defaults))
	return len(defaults), nil
}

// RunCycle executes one full tracking sweep over all active routes.
// A concurrent invocation is skipped with a warning rather than
// stacked behind the running one.
func (s *Scheduler) RunCycle(ctx context.Context, trigger models.TriggerType) error {
	if !s.isRunning.CompareAndSwap(false, true) {
		s.log.Warnw("tracking cycle already in progress, skipping", "trigger", trigger)
		if s.metrics != nil {
			s.metrics.CyclesSkipped.Inc()
		}
		return nil
	}
	defer s.isRunning.Store(false)

	if s.vpn != nil {
		if err := s.vpn.Rotate(); err != nil {
			s.log.Warnw("vpn rotation failed, continuing on current exit", "error", err)
		}
	}

	routes, err := s.routes.GetActiveRoutes(ctx)
	if err != nil {
		return fmt.Errorf("load active routes: %w", err)
	}
	if len(routes) == 0 {
		s.log.Infow("no active routes, nothing to track")
		return nil
	}

	sess, err := s.ledger.Begin(ctx, trigger, len(routes))
	if err != nil {
		return fmt.Errorf("begin session: %w", err)
	}
	s.log.Infow("tracking cycle started", "session_id", sess.ID, "routes", len(routes), "trigger", trigger)

	s.sweep(ctx, routes)

	final := s.ledger.Current()
	if s.metrics != nil && final != nil {
		s.metrics.SessionsTotal.WithLabelValues(string(final.Status)).Inc()
	}
	if final != nil {
		s.log.Infow("tracking cycle finished",
			"session_id", final.ID,
			"status", final.Status,
			"routes_completed", final.CompletedRoutes,
			"routes_failed", final.FailedRoutes,
			"flights_saved", final.TotalFlightsSaved,
			"duration_seconds", final.DurationSeconds)
	}
	return nil
}

// sweep runs the batched route walk and finalizes the session. A
// panic anywhere in the sweep fails the session instead of killing
// the daemon; the next tick starts fresh.
func (s *Scheduler) sweep(ctx context.Context, routes []models.TrackedRoute) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Errorw("tracking cycle panicked", "panic", r)
			if err := s.ledger.Fail(ctx, fmt.Sprintf("cycle panic: %v", r)); err != nil {
				s.log.Warnw("session not finalized", "error", err)
			}
		}
	}()

	batch := s.cfg.Tracker.MaxConcurrentRoutes
	if batch < 1 {
		batch = 1
	}

	for start := 0; start < len(routes); start += batch {
		if s.cycleInterrupted(ctx) {
			break
		}
		end := start + batch
		if end > len(routes) {
			end = len(routes)
		}

		var wg sync.WaitGroup
		for i := start; i < end; i++ {
			wg.Add(1)
			go func(route models.TrackedRoute) {
				defer wg.Done()
				s.trackRoute(ctx, route)
			}(routes[i])
		}
		wg.Wait()

		if end < len(routes) {
			select {
			case <-time.After(s.cfg.Tracker.RouteDelay):
			case <-ctx.Done():
			}
		}
	}

	switch {
	case ctx.Err() != nil:
		if err := s.ledger.Fail(ctx, "daemon shutting down"); err != nil {
			s.log.Warnw("session not finalized", "error", err)
		}
	case s.ledger.Status() == models.SessionStopped:
		// Stop already finalized the session.
	default:
		if err := s.ledger.Complete(ctx); err != nil {
			s.log.Warnw("session not finalized", "error", err)
		}
	}
}

// trackRoute walks the date range for one route, one day at a time.
// last_tracked_at moves only after a sweep with zero errors.
func (s *Scheduler) trackRoute(ctx context.Context, route models.TrackedRoute) {
	detail := models.RouteDetail{
		Origin:      route.Origin,
		Destination: route.Destination,
	}

	daysAhead := route.DaysAhead
	if daysAhead <= 0 {
		daysAhead = s.cfg.Tracker.DaysAhead
	}

	today := time.Now()
	for offset := 0; offset < daysAhead; offset++ {
		if !s.waitIfPaused(ctx) {
			break
		}

		date := today.AddDate(0, 0, offset).Format("2006-01-02")
		found, saved, err := s.trackDate(ctx, route, date)
		detail.DatesTracked++
		detail.FlightsFound += found
		detail.FlightsSaved += saved
		if err != nil {
			detail.Errors = append(detail.Errors, fmt.Sprintf("%s: %v", date, err))
		}

		if offset < daysAhead-1 {
			select {
			case <-time.After(s.cfg.Tracker.DateDelay):
			case <-ctx.Done():
			}
		}
	}

	detail.CompletedAt = time.Now().UTC()
	s.ledger.RecordRoute(ctx, detail)

	if len(detail.Errors) == 0 && detail.DatesTracked > 0 && route.ID != 0 {
		if err := s.routes.TouchRouteTracked(ctx, route.ID); err != nil {
			s.log.Warnw("route timestamp not updated",
				"origin", route.Origin, "destination", route.Destination, "error", err)
		}
	}
}

func (s *Scheduler) trackDate(ctx context.Context, route models.TrackedRoute, date string) (found, saved int, err error) {
	q := models.SearchQuery{
		Origin:        route.Origin,
		Destination:   route.Destination,
		DepartureDate: date,
	}

	perProvider := s.gw.QueryAll(ctx, q, route.PreferredProviders)

	var offers []models.Offer
	for _, batch := range perProvider {
		offers = append(offers, batch...)
	}

	groups := search.Group(offers)
	for i := range groups {
		found += len(groups[i].Options)
	}
	if found == 0 {
		return 0, 0, nil
	}

	saved, _, err = s.tracker.RecordBatch(ctx, offers, route.Origin, route.Destination, date)
	if err != nil {
		return found, saved, fmt.Errorf("record batch: %w", err)
	}

	for i := range groups {
		if err := s.tracker.RecordLowest(ctx, &groups[i], date); err != nil {
			return found, saved, fmt.Errorf("record lowest for %s: %w", groups[i].BaseFlightID, err)
		}
	}
	return found, saved, nil
}

// waitIfPaused blocks while the session is paused. Returns false when
// the sweep should end: stop requested, session gone, or daemon
// shutting down.
func (s *Scheduler) waitIfPaused(ctx context.Context) bool {
	for {
		if ctx.Err() != nil {
			return false
		}
		switch s.ledger.Status() {
		case models.SessionRunning:
			return true
		case models.SessionPaused:
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return false
			}
		default:
			return false
		}
	}
}

func (s *Scheduler) cycleInterrupted(ctx context.Context) bool {
	if ctx.Err() != nil {
		return true
	}
	return !s.ledger.Status().Active()
}

// pollCommands drains the SQLite command queue every two seconds and
// maps each command onto a control operation.
func (s *Scheduler) pollCommands(ctx context.Context) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			cmds, err := s.queue.GetPendingCommands()
			if err != nil {
				s.log.Warnw("command queue read failed", "error", err)
				continue
			}
			for i := range cmds {
				result := s.handleCommand(ctx, &cmds[i])
				if err := s.queue.MarkCommandProcessed(cmds[i].ID, result.Message); err != nil {
					s.log.Warnw("command not marked processed", "id", cmds[i].ID, "error", err)
				}
			}
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *Scheduler) handleCommand(ctx context.Context, cmd *models.Command) models.ControlResult {
	s.log.Infow("processing command", "id", cmd.ID, "command", cmd.Command)

	switch cmd.Command {
	case models.CmdPause:
		return s.ledger.Pause(ctx)
	case models.CmdResume:
		return s.ledger.Resume(ctx)
	case models.CmdStop:
		return s.ledger.Stop(ctx)
	case models.CmdTrackAll:
		go func() {
			if err := s.RunCycle(ctx, models.TriggerManual); err != nil {
				s.log.Errorw("manual cycle failed", "error", err)
			}
		}()
		return models.ControlResult{Success: true, Message: "tracking cycle started"}
	case models.CmdTrackRoute:
		params, err := s.queue.ParseCommandParams(cmd)
		if err != nil {
			return models.ControlResult{Message: fmt.Sprintf("bad params: %v", err)}
		}
		if params == nil || params.Origin == "" || params.Destination == "" {
			return models.ControlResult{Message: "track_route needs origin and destination"}
		}
		return s.trackSingleRoute(ctx, params.Origin, params.Destination)
	case models.CmdInitRoutes:
		n, err := s.InitRoutes(ctx)
		if err != nil {
			return models.ControlResult{Message: err.Error()}
		}
		return models.ControlResult{Success: true, Message: fmt.Sprintf("%d routes seeded", n)}
	default:
		return models.ControlResult{Message: fmt.Sprintf("unknown command: %s", cmd.Command)}
	}
}

// trackSingleRoute runs a one-route session outside the full cycle.
func (s *Scheduler) trackSingleRoute(ctx context.Context, origin, destination string) models.ControlResult {
	if !s.isRunning.CompareAndSwap(false, true) {
		return models.ControlResult{Message: "a tracking cycle is already in progress"}
	}
	defer s.isRunning.Store(false)

	route := models.TrackedRoute{
		Origin:      origin,
		Destination: destination,
		DaysAhead:   s.cfg.Tracker.DaysAhead,
	}
	if known, err := s.routes.GetRoute(ctx, origin, destination); err == nil && known != nil {
		route = *known
	}

	if _, err := s.ledger.Begin(ctx, models.TriggerManual, 1); err != nil {
		return models.ControlResult{Message: err.Error()}
	}
	s.trackRoute(ctx, route)
	if s.ledger.Status().Active() {
		if err := s.ledger.Complete(ctx); err != nil {
			return models.ControlResult{Message: err.Error()}
		}
	}
	return models.ControlResult{Success: true, Message: fmt.Sprintf("route %s-%s tracked", origin, destination)}
}
