package tracker

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"skyfare/identity"
	"skyfare/metrics"
	"skyfare/models"
)

// Store is the slice of persistence the tracker needs.
type Store interface {
	UpsertTrackedFlight(ctx context.Context, f *models.TrackedFlight) error
	GetTrackedFlight(ctx context.Context, flightNumber, flightDate, origin, destination string) (*models.TrackedFlight, error)
	UpdateCurrentLowest(ctx context.Context, flightID uuid.UUID, price int64, provider string) error
	HasRecentSnapshot(ctx context.Context, flightNumber, flightDate, origin, destination, provider string, window time.Duration) (bool, error)
	LatestSnapshot(ctx context.Context, flightID uuid.UUID, provider string) (*models.PriceSnapshot, error)
	InsertPriceSnapshot(ctx context.Context, p *models.PriceSnapshot) error
	NewestSnapshotTime(ctx context.Context, origin, destination, flightDate string) (*time.Time, error)
	LatestLowestSnapshot(ctx context.Context, flightID uuid.UUID) (*models.LowestPriceSnapshot, error)
	InsertLowestPriceSnapshot(ctx context.Context, l *models.LowestPriceSnapshot) error
}

// Tracker writes price history. Every offer that survives validation
// and the freshness window becomes a snapshot row tied to a tracked
// flight; per-flight lowest-price rows land separately.
type Tracker struct {
	store   Store
	window  time.Duration
	metrics *metrics.Metrics
	log     *zap.SugaredLogger
}

func New(store Store, window time.Duration, m *metrics.Metrics, log *zap.SugaredLogger) *Tracker {
	return &Tracker{store: store, window: window, metrics: m, log: log}
}

// RecordBatch persists one snapshot per fresh, valid offer. A repeat
// observation from the same provider inside the freshness window is
// skipped rather than duplicated. Per-offer failures are logged and
// counted but never abort the batch.
func (t *Tracker) RecordBatch(ctx context.Context, offers []models.Offer, origin, destination, date string) (int, int, error) {
	var saved, skipped int
	for i := range offers {
		ok, err := t.recordOne(ctx, &offers[i], origin, destination, date)
		if err != nil {
			t.log.Warnw("snapshot not saved",
				"provider", offers[i].Provider,
				"flight", offers[i].FlightNumber,
				"error", err)
			skipped++
			continue
		}
		if ok {
			saved++
			if t.metrics != nil {
				t.metrics.SnapshotsSaved.Inc()
			}
		} else {
			skipped++
			if t.metrics != nil {
				t.metrics.SnapshotsSkipped.Inc()
			}
		}
	}
	return saved, skipped, nil
}

func (t *Tracker) recordOne(ctx context.Context, o *models.Offer, origin, destination, date string) (bool, error) {
	// A nameless or unattributed offer would key the history on a
	// sentinel flight number, so it is dropped like a priceless one.
	if !o.Valid() || o.FlightNumber == "" || o.Provider == "" {
		return false, nil
	}

	number := o.NormalizedNumber
	if number == "" {
		number = identity.NormalizeFlightNumber(o.FlightNumber)
	}

	fresh, err := t.store.HasRecentSnapshot(ctx, number, date, origin, destination, o.Provider, t.window)
	if err != nil {
		return false, fmt.Errorf("freshness check: %w", err)
	}
	if fresh {
		return false, nil
	}

	flight := &models.TrackedFlight{
		FlightNumber: number,
		FlightDate:   date,
		Origin:       origin,
		Destination:  destination,
		AirlineCode:  identity.CanonicalAirlineCode(o.AirlineCode),
		AirlineName:  identity.NormalizeAirlineName(o.AirlineName),
	}
	if err := t.store.UpsertTrackedFlight(ctx, flight); err != nil {
		return false, fmt.Errorf("upsert tracked flight: %w", err)
	}

	snapshot := &models.PriceSnapshot{
		TrackedFlightID: flight.ID,
		Provider:        o.Provider,
		Price:           o.Price,
		Seats:           o.Capacity,
		IsAvailable:     o.Capacity > 0,
		ScrapedAt:       time.Now().UTC(),
	}

	prior, err := t.store.LatestSnapshot(ctx, flight.ID, o.Provider)
	if err != nil {
		return false, fmt.Errorf("prior snapshot: %w", err)
	}
	if prior != nil && prior.Price > 0 {
		delta := o.Price - prior.Price
		pct := float64(delta) / float64(prior.Price) * 100
		snapshot.PriceChangeAmount = &delta
		snapshot.PriceChangePercent = &pct
	}

	if err := t.store.InsertPriceSnapshot(ctx, snapshot); err != nil {
		return false, fmt.Errorf("insert snapshot: %w", err)
	}
	return true, nil
}

// CacheAge reports how many minutes old the newest snapshot for a
// route and date is. -1 means no history at all; a snapshot from the
// future (clock skew between writer and reader) clamps to 0.
func (t *Tracker) CacheAge(ctx context.Context, origin, destination, date string) (int, error) {
	newest, err := t.store.NewestSnapshotTime(ctx, origin, destination, date)
	if err != nil {
		return -1, err
	}
	if newest == nil {
		return -1, nil
	}
	age := int(time.Since(*newest).Minutes())
	if age < 0 {
		age = 0
	}
	return age, nil
}

// RecordLowest reduces all valid offers for one physical flight to a
// winner and runner-up and appends a lowest-price row, keeping every
// provider's quote in the comparison payload. The tracked flight's
// current-lowest columns move with the winner.
func (t *Tracker) RecordLowest(ctx context.Context, g *models.GroupedFlight, date string) error {
	var quotes []models.ProviderPrice
	for _, o := range g.Options {
		if o.Price <= 0 {
			continue
		}
		quotes = append(quotes, models.ProviderPrice{
			Provider: o.Provider,
			Price:    o.Price,
			Seats:    o.Capacity,
		})
	}
	if len(quotes) == 0 {
		return nil
	}
	sort.Slice(quotes, func(i, j int) bool {
		if quotes[i].Price != quotes[j].Price {
			return quotes[i].Price < quotes[j].Price
		}
		return quotes[i].Provider < quotes[j].Provider
	})

	// RecordBatch has usually upserted the flight already; upsert only
	// when this group was never snapshotted.
	flight, err := t.store.GetTrackedFlight(ctx, g.FlightNumber, date, g.Origin, g.Destination)
	if err != nil {
		return fmt.Errorf("load tracked flight: %w", err)
	}
	if flight == nil {
		flight = &models.TrackedFlight{
			FlightNumber: g.FlightNumber,
			FlightDate:   date,
			Origin:       g.Origin,
			Destination:  g.Destination,
			AirlineCode:  g.AirlineCode,
			AirlineName:  g.AirlineName,
		}
		if err := t.store.UpsertTrackedFlight(ctx, flight); err != nil {
			return fmt.Errorf("upsert tracked flight: %w", err)
		}
	}

	winner := quotes[0]
	snapshot := &models.LowestPriceSnapshot{
		TrackedFlightID: flight.ID,
		LowestPrice:     winner.Price,
		Provider:        winner.Provider,
		ComparisonData:  quotes,
		ScrapedAt:       time.Now().UTC(),
	}
	if len(quotes) > 1 {
		second := quotes[1]
		snapshot.SecondLowestPrice = &second.Price
		snapshot.SecondProvider = second.Provider
	}

	prior, err := t.store.LatestLowestSnapshot(ctx, flight.ID)
	if err != nil {
		return fmt.Errorf("prior lowest: %w", err)
	}
	if prior != nil && prior.LowestPrice > 0 {
		delta := winner.Price - prior.LowestPrice
		pct := float64(delta) / float64(prior.LowestPrice) * 100
		snapshot.PriceChangeAmount = &delta
		snapshot.PriceChangePercent = &pct
	}

	if err := t.store.InsertLowestPriceSnapshot(ctx, snapshot); err != nil {
		return fmt.Errorf("insert lowest snapshot: %w", err)
	}
	if err := t.store.UpdateCurrentLowest(ctx, flight.ID, winner.Price, winner.Provider); err != nil {
		return fmt.Errorf("update current lowest: %w", err)
	}
	return nil
}
