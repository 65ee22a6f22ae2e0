package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"skyfare/models"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 2
	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	store := &PostgresStore{pool: pool}
	if err := store.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return store, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS tracked_flights (
		id UUID PRIMARY KEY,
		flight_number TEXT NOT NULL,
		flight_date DATE NOT NULL,
		origin TEXT NOT NULL,
		destination TEXT NOT NULL,
		airline_code TEXT,
		airline_name TEXT,
		current_lowest_price BIGINT,
		current_lowest_provider TEXT,
		last_tracked_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (flight_number, flight_date, origin, destination)
	);

	CREATE TABLE IF NOT EXISTS flight_price_history (
		id BIGSERIAL PRIMARY KEY,
		tracked_flight_id UUID NOT NULL REFERENCES tracked_flights(id),
		provider TEXT NOT NULL,
		price BIGINT NOT NULL,
		seats INTEGER NOT NULL DEFAULT 0,
		is_available BOOLEAN NOT NULL DEFAULT TRUE,
		price_change_amount BIGINT,
		price_change_percent DOUBLE PRECISION,
		scraped_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS lowest_price_history (
		id BIGSERIAL PRIMARY KEY,
		tracked_flight_id UUID NOT NULL REFERENCES tracked_flights(id),
		lowest_price BIGINT NOT NULL,
		provider TEXT NOT NULL,
		second_lowest_price BIGINT,
		second_provider TEXT,
		price_change_amount BIGINT,
		price_change_percent DOUBLE PRECISION,
		comparison_data JSONB,
		scraped_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS tracked_routes (
		id BIGSERIAL PRIMARY KEY,
		origin TEXT NOT NULL,
		destination TEXT NOT NULL,
		origin_city TEXT,
		destination_city TEXT,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		days_ahead INTEGER NOT NULL DEFAULT 7,
		interval_minutes INTEGER NOT NULL DEFAULT 60,
		preferred_providers TEXT[],
		last_tracked_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (origin, destination)
	);

	CREATE TABLE IF NOT EXISTS scraping_sessions (
		id UUID PRIMARY KEY,
		trigger_type TEXT NOT NULL,
		status TEXT NOT NULL,
		started_at TIMESTAMPTZ NOT NULL,
		paused_at TIMESTAMPTZ,
		resumed_at TIMESTAMPTZ,
		completed_at TIMESTAMPTZ,
		total_routes INTEGER NOT NULL DEFAULT 0,
		completed_routes INTEGER NOT NULL DEFAULT 0,
		failed_routes INTEGER NOT NULL DEFAULT 0,
		total_flights_found INTEGER NOT NULL DEFAULT 0,
		total_flights_saved INTEGER NOT NULL DEFAULT 0,
		total_errors INTEGER NOT NULL DEFAULT 0,
		route_details JSONB,
		error_message TEXT,
		duration_seconds BIGINT NOT NULL DEFAULT 0,
		pause_duration_seconds BIGINT NOT NULL DEFAULT 0,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_price_history_flight ON flight_price_history(tracked_flight_id, scraped_at);
	CREATE INDEX IF NOT EXISTS idx_price_history_provider ON flight_price_history(tracked_flight_id, provider, scraped_at);
	CREATE INDEX IF NOT EXISTS idx_lowest_history_flight ON lowest_price_history(tracked_flight_id, scraped_at);
	CREATE INDEX IF NOT EXISTS idx_tracked_flights_route ON tracked_flights(origin, destination, flight_date);
	CREATE INDEX IF NOT EXISTS idx_sessions_status ON scraping_sessions(status, started_at);
	`
	_, err := s.pool.Exec(ctx, schema)
	return err
}

// =============================================================================
// Tracked Flights
// =============================================================================

func (s *PostgresStore) UpsertTrackedFlight(ctx context.Context, f *models.TrackedFlight) error {
	if f.ID == uuid.Nil {
		f.ID = uuid.New()
	}

	query := `
		INSERT INTO tracked_flights (
			id, flight_number, flight_date, origin, destination,
			airline_code, airline_name, last_tracked_at, created_at, updated_at
		) VALUES ($1, $2, $3::date, $4, $5, $6, $7, NOW(), NOW(), NOW())
		ON CONFLICT (flight_number, flight_date, origin, destination) DO UPDATE SET
			airline_code = COALESCE(NULLIF(EXCLUDED.airline_code, ''), tracked_flights.airline_code),
			airline_name = COALESCE(NULLIF(EXCLUDED.airline_name, ''), tracked_flights.airline_name),
			last_tracked_at = NOW(),
			updated_at = NOW()
		RETURNING id`

	return s.pool.QueryRow(ctx, query,
		f.ID, f.FlightNumber, f.FlightDate, f.Origin, f.Destination,
		f.AirlineCode, f.AirlineName,
	).Scan(&f.ID)
}

func (s *PostgresStore) GetTrackedFlight(ctx context.Context, flightNumber, flightDate, origin, destination string) (*models.TrackedFlight, error) {
	query := `
		SELECT id, flight_number, to_char(flight_date, 'YYYY-MM-DD'), origin, destination,
			COALESCE(airline_code, ''), COALESCE(airline_name, ''),
			current_lowest_price, COALESCE(current_lowest_provider, ''),
			last_tracked_at, created_at, updated_at
		FROM tracked_flights
		WHERE flight_number = $1 AND flight_date = $2::date AND origin = $3 AND destination = $4`

	var f models.TrackedFlight
	err := s.pool.QueryRow(ctx, query, flightNumber, flightDate, origin, destination).Scan(
		&f.ID, &f.FlightNumber, &f.FlightDate, &f.Origin, &f.Destination,
		&f.AirlineCode, &f.AirlineName,
		&f.CurrentLowestPrice, &f.CurrentLowestProvider,
		&f.LastTrackedAt, &f.CreatedAt, &f.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &f, nil
}

func (s *PostgresStore) UpdateCurrentLowest(ctx context.Context, flightID uuid.UUID, price int64, provider string) error {
	query := `
		UPDATE tracked_flights
		SET current_lowest_price = $2, current_lowest_provider = $3, updated_at = NOW()
		WHERE id = $1`
	_, err := s.pool.Exec(ctx, query, flightID, price, provider)
	return err
}

// =============================================================================
// Price History
// =============================================================================

func (s *PostgresStore) HasRecentSnapshot(ctx context.Context, flightNumber, flightDate, origin, destination, provider string, window time.Duration) (bool, error) {
	query := `
		SELECT 1
		FROM flight_price_history h
		JOIN tracked_flights f ON f.id = h.tracked_flight_id
		WHERE f.flight_number = $1 AND f.flight_date = $2::date
			AND f.origin = $3 AND f.destination = $4
			AND h.provider = $5
			AND h.scraped_at > NOW() - make_interval(secs => $6)
		LIMIT 1`

	var one int
	err := s.pool.QueryRow(ctx, query,
		flightNumber, flightDate, origin, destination, provider, window.Seconds(),
	).Scan(&one)
	if err == pgx.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *PostgresStore) LatestSnapshot(ctx context.Context, flightID uuid.UUID, provider string) (*models.PriceSnapshot, error) {
	query := `
		SELECT id, tracked_flight_id, provider, price, seats, is_available,
			price_change_amount, price_change_percent, scraped_at
		FROM flight_price_history
		WHERE tracked_flight_id = $1 AND provider = $2
		ORDER BY scraped_at DESC
		LIMIT 1`

	var p models.PriceSnapshot
	err := s.pool.QueryRow(ctx, query, flightID, provider).Scan(
		&p.ID, &p.TrackedFlightID, &p.Provider, &p.Price, &p.Seats, &p.IsAvailable,
		&p.PriceChangeAmount, &p.PriceChangePercent, &p.ScrapedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *PostgresStore) InsertPriceSnapshot(ctx context.Context, p *models.PriceSnapshot) error {
	query := `
		INSERT INTO flight_price_history (
			tracked_flight_id, provider, price, seats, is_available,
			price_change_amount, price_change_percent, scraped_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`

	return s.pool.QueryRow(ctx, query,
		p.TrackedFlightID, p.Provider, p.Price, p.Seats, p.IsAvailable,
		p.PriceChangeAmount, p.PriceChangePercent, p.ScrapedAt,
	).Scan(&p.ID)
}

func (s *PostgresStore) NewestSnapshotTime(ctx context.Context, origin, destination, flightDate string) (*time.Time, error) {
	query := `
		SELECT MAX(h.scraped_at)
		FROM flight_price_history h
		JOIN tracked_flights f ON f.id = h.tracked_flight_id
		WHERE f.origin = $1 AND f.destination = $2 AND f.flight_date = $3::date`

	var newest *time.Time
	if err := s.pool.QueryRow(ctx, query, origin, destination, flightDate).Scan(&newest); err != nil {
		return nil, err
	}
	return newest, nil
}

// =============================================================================
// Lowest Price History
// =============================================================================

func (s *PostgresStore) LatestLowestSnapshot(ctx context.Context, flightID uuid.UUID) (*models.LowestPriceSnapshot, error) {
	query := `
		SELECT id, tracked_flight_id, lowest_price, provider,
			second_lowest_price, COALESCE(second_provider, ''),
			price_change_amount, price_change_percent, comparison_data, scraped_at
		FROM lowest_price_history
		WHERE tracked_flight_id = $1
		ORDER BY scraped_at DESC
		LIMIT 1`

	var l models.LowestPriceSnapshot
	var comparison []byte
	err := s.pool.QueryRow(ctx, query, flightID).Scan(
		&l.ID, &l.TrackedFlightID, &l.LowestPrice, &l.Provider,
		&l.SecondLowestPrice, &l.SecondProvider,
		&l.PriceChangeAmount, &l.PriceChangePercent, &comparison, &l.ScrapedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(comparison) > 0 {
		if err := json.Unmarshal(comparison, &l.ComparisonData); err != nil {
			return nil, fmt.Errorf("decode comparison data: %w", err)
		}
	}
	return &l, nil
}

func (s *PostgresStore) InsertLowestPriceSnapshot(ctx context.Context, l *models.LowestPriceSnapshot) error {
	comparison, err := json.Marshal(l.ComparisonData)
	if err != nil {
		return fmt.Errorf("encode comparison data: %w", err)
	}

	query := `
		INSERT INTO lowest_price_history (
			tracked_flight_id, lowest_price, provider, second_lowest_price, second_provider,
			price_change_amount, price_change_percent, comparison_data, scraped_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id`

	return s.pool.QueryRow(ctx, query,
		l.TrackedFlightID, l.LowestPrice, l.Provider, l.SecondLowestPrice, l.SecondProvider,
		l.PriceChangeAmount, l.PriceChangePercent, comparison, l.ScrapedAt,
	).Scan(&l.ID)
}

// =============================================================================
// Tracked Routes
// =============================================================================

func (s *PostgresStore) UpsertRoute(ctx context.Context, r *models.TrackedRoute) error {
	query := `
		INSERT INTO tracked_routes (
			origin, destination, origin_city, destination_city,
			is_active, days_ahead, interval_minutes, preferred_providers,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW())
		ON CONFLICT (origin, destination) DO UPDATE SET
			origin_city = COALESCE(NULLIF(EXCLUDED.origin_city, ''), tracked_routes.origin_city),
			destination_city = COALESCE(NULLIF(EXCLUDED.destination_city, ''), tracked_routes.destination_city),
			is_active = EXCLUDED.is_active,
			days_ahead = EXCLUDED.days_ahead,
			interval_minutes = EXCLUDED.interval_minutes,
			preferred_providers = COALESCE(EXCLUDED.preferred_providers, tracked_routes.preferred_providers),
			updated_at = NOW()
		RETURNING id`

	return s.pool.QueryRow(ctx, query,
		r.Origin, r.Destination, r.OriginCity, r.DestinationCity,
		r.IsActive, r.DaysAhead, r.IntervalMinutes, r.PreferredProviders,
	).Scan(&r.ID)
}

func (s *PostgresStore) GetRoute(ctx context.Context, origin, destination string) (*models.TrackedRoute, error) {
	query := routeSelect + ` WHERE origin = $1 AND destination = $2`

	var r models.TrackedRoute
	err := s.pool.QueryRow(ctx, query, origin, destination).Scan(routeFields(&r)...)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *PostgresStore) GetActiveRoutes(ctx context.Context) ([]models.TrackedRoute, error) {
	query := routeSelect + ` WHERE is_active = TRUE ORDER BY origin, destination`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var routes []models.TrackedRoute
	for rows.Next() {
		var r models.TrackedRoute
		if err := rows.Scan(routeFields(&r)...); err != nil {
			return nil, err
		}
		routes = append(routes, r)
	}
	return routes, rows.Err()
}

func (s *PostgresStore) TouchRouteTracked(ctx context.Context, id int64) error {
	query := `UPDATE tracked_routes SET last_tracked_at = NOW(), updated_at = NOW() WHERE id = $1`
	_, err := s.pool.Exec(ctx, query, id)
	return err
}

func (s *PostgresStore) CountActiveRoutes(ctx context.Context) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM tracked_routes WHERE is_active = TRUE`).Scan(&count)
	return count, err
}

const routeSelect = `
	SELECT id, origin, destination, COALESCE(origin_city, ''), COALESCE(destination_city, ''),
		is_active, days_ahead, interval_minutes, preferred_providers,
		last_tracked_at, created_at, updated_at
	FROM tracked_routes`

func routeFields(r *models.TrackedRoute) []any {
	return []any{
		&r.ID, &r.Origin, &r.Destination, &r.OriginCity, &r.DestinationCity,
		&r.IsActive, &r.DaysAhead, &r.IntervalMinutes, &r.PreferredProviders,
		&r.LastTrackedAt, &r.CreatedAt, &r.UpdatedAt,
	}
}

// =============================================================================
// Scraping Sessions
// =============================================================================

func (s *PostgresStore) CreateSession(ctx context.Context, sess *models.ScrapingSession) error {
	details, err := json.Marshal(sess.RouteDetails)
	if err != nil {
		return fmt.Errorf("encode route details: %w", err)
	}

	query := `
		INSERT INTO scraping_sessions (
			id, trigger_type, status, started_at, total_routes, route_details, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, NOW())`

	_, err = s.pool.Exec(ctx, query,
		sess.ID, sess.TriggerType, sess.Status, sess.StartedAt, sess.TotalRoutes, details,
	)
	return err
}

func (s *PostgresStore) UpdateSession(ctx context.Context, sess *models.ScrapingSession) error {
	details, err := json.Marshal(sess.RouteDetails)
	if err != nil {
		return fmt.Errorf("encode route details: %w", err)
	}

	query := `
		UPDATE scraping_sessions SET
			status = $2, paused_at = $3, resumed_at = $4, completed_at = $5,
			total_routes = $6, completed_routes = $7, failed_routes = $8,
			total_flights_found = $9, total_flights_saved = $10, total_errors = $11,
			route_details = $12, error_message = NULLIF($13, ''),
			duration_seconds = $14, pause_duration_seconds = $15, updated_at = NOW()
		WHERE id = $1`

	_, err = s.pool.Exec(ctx, query,
		sess.ID, sess.Status, sess.PausedAt, sess.ResumedAt, sess.CompletedAt,
		sess.TotalRoutes, sess.CompletedRoutes, sess.FailedRoutes,
		sess.TotalFlightsFound, sess.TotalFlightsSaved, sess.TotalErrors,
		details, sess.ErrorMessage,
		sess.DurationSeconds, sess.PauseDurationSeconds,
	)
	return err
}

func (s *PostgresStore) ActiveSession(ctx context.Context) (*models.ScrapingSession, error) {
	query := sessionSelect + ` WHERE status IN ('running', 'paused') ORDER BY started_at DESC LIMIT 1`
	return s.scanSession(s.pool.QueryRow(ctx, query))
}

func (s *PostgresStore) GetSession(ctx context.Context, id uuid.UUID) (*models.ScrapingSession, error) {
	query := sessionSelect + ` WHERE id = $1`
	return s.scanSession(s.pool.QueryRow(ctx, query, id))
}

func (s *PostgresStore) RecentSessions(ctx context.Context, limit int) ([]models.ScrapingSession, error) {
	query := sessionSelect + ` ORDER BY started_at DESC LIMIT $1`

	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []models.ScrapingSession
	for rows.Next() {
		sess, err := s.scanSession(rows)
		if err != nil {
			return nil, err
		}
		if sess != nil {
			sessions = append(sessions, *sess)
		}
	}
	return sessions, rows.Err()
}

func (s *PostgresStore) SessionStats(ctx context.Context) (*models.SessionStats, error) {
	query := `
		SELECT COUNT(*),
			COUNT(*) FILTER (WHERE status = 'completed'),
			COUNT(*) FILTER (WHERE status = 'failed'),
			COALESCE(AVG(duration_seconds) FILTER (WHERE status = 'completed'), 0),
			COALESCE(SUM(total_flights_saved), 0)
		FROM scraping_sessions`

	var stats models.SessionStats
	err := s.pool.QueryRow(ctx, query).Scan(
		&stats.TotalSessions, &stats.CompletedSessions, &stats.FailedSessions,
		&stats.AvgDurationSeconds, &stats.TotalFlightsSaved,
	)
	if err != nil {
		return nil, err
	}
	if stats.TotalSessions > 0 {
		stats.SuccessRate = float64(stats.CompletedSessions) / float64(stats.TotalSessions)
	}
	return &stats, nil
}

const sessionSelect = `
	SELECT id, trigger_type, status, started_at, paused_at, resumed_at, completed_at,
		total_routes, completed_routes, failed_routes,
		total_flights_found, total_flights_saved, total_errors,
		route_details, COALESCE(error_message, ''),
		duration_seconds, pause_duration_seconds, updated_at
	FROM scraping_sessions`

func (s *PostgresStore) scanSession(row pgx.Row) (*models.ScrapingSession, error) {
	var sess models.ScrapingSession
	var details []byte
	err := row.Scan(
		&sess.ID, &sess.TriggerType, &sess.Status, &sess.StartedAt,
		&sess.PausedAt, &sess.ResumedAt, &sess.CompletedAt,
		&sess.TotalRoutes, &sess.CompletedRoutes, &sess.FailedRoutes,
		&sess.TotalFlightsFound, &sess.TotalFlightsSaved, &sess.TotalErrors,
		&details, &sess.ErrorMessage,
		&sess.DurationSeconds, &sess.PauseDurationSeconds, &sess.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(details) > 0 {
		if err := json.Unmarshal(details, &sess.RouteDetails); err != nil {
			return nil, fmt.Errorf("decode route details: %w", err)
		}
	}
	return &sess, nil
}
