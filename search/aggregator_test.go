package search

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"skyfare/gateway"
	"skyfare/models"
)

type stubProvider struct {
	name   string
	offers []models.Offer
	err    error
	delay  time.Duration
}

func (s *stubProvider) Name() string { return s.name }

func (s *stubProvider) Search(ctx context.Context, q models.SearchQuery) ([]models.Offer, error) {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return s.offers, s.err
}

type stubRecorder struct {
	batches chan []models.Offer
	err     error
}

func (r *stubRecorder) RecordBatch(ctx context.Context, offers []models.Offer, origin, destination, date string) (int, int, error) {
	if r.batches != nil {
		r.batches <- offers
	}
	return len(offers), 0, r.err
}

var testQuery = models.SearchQuery{
	Origin:        "THR",
	Destination:   "MHD",
	DepartureDate: "2026-09-14",
}

func dep(hour, min int) time.Time {
	return time.Date(2026, 9, 14, hour, min, 0, 0, time.UTC)
}

func mkOffer(provider, number string, price int64, capacity int, at time.Time) models.Offer {
	return models.Offer{
		FlightNumber:  number,
		AirlineCode:   "IR",
		AirlineName:   "Iran Air",
		Origin:        "THR",
		Destination:   "MHD",
		DepartureTime: at,
		ArrivalTime:   at.Add(80 * time.Minute),
		Price:         price,
		Capacity:      capacity,
		Provider:      provider,
	}
}

func newGateway(providers ...gateway.Provider) *gateway.Gateway {
	return gateway.New(providers, time.Second, nil, zap.NewNop().Sugar())
}

func TestAggregatorGroupsSameFlightAcrossProviders(t *testing.T) {
	at := dep(8, 45)
	gw := newGateway(
		&stubProvider{name: "alibaba", offers: []models.Offer{mkOffer("alibaba", "IR0263", 1350000, 9, at)}},
		&stubProvider{name: "mrbilit", offers: []models.Offer{mkOffer("mrbilit", "IR263", 1200000, 4, at)}},
	)
	agg := NewAggregator(gw, nil, nil, zap.NewNop().Sugar())

	result := agg.Search(context.Background(), testQuery)
	if len(result.Flights) != 1 {
		t.Fatalf("expected 1 grouped flight, got %d", len(result.Flights))
	}

	g := result.Flights[0]
	if g.LowestPrice != 1200000 {
		t.Fatalf("expected lowest price 1200000, got %d", g.LowestPrice)
	}
	if g.HighestPrice != 1350000 {
		t.Fatalf("expected highest price 1350000, got %d", g.HighestPrice)
	}
	if len(g.Options) != 2 {
		t.Fatalf("expected 2 pricing options, got %d", len(g.Options))
	}
	if g.Options[0].Price > g.Options[1].Price {
		t.Fatalf("options not sorted ascending: %d, %d", g.Options[0].Price, g.Options[1].Price)
	}
	if g.FlightNumber != "263" {
		t.Fatalf("expected normalized flight number 263, got %s", g.FlightNumber)
	}
	if result.Metadata.TotalFlights != 1 || result.Metadata.TotalOptions != 2 {
		t.Fatalf("unexpected metadata: flights=%d options=%d",
			result.Metadata.TotalFlights, result.Metadata.TotalOptions)
	}
}

func TestAggregatorIsolatesProviderFailure(t *testing.T) {
	gw := newGateway(
		&stubProvider{name: "alibaba", err: errors.New("timeout")},
		&stubProvider{name: "mrbilit", offers: []models.Offer{mkOffer("mrbilit", "263", 1200000, 4, dep(8, 45))}},
	)
	agg := NewAggregator(gw, nil, nil, zap.NewNop().Sugar())

	result := agg.Search(context.Background(), testQuery)
	if len(result.Flights) != 1 {
		t.Fatalf("expected 1 flight from healthy provider, got %d", len(result.Flights))
	}
	if len(result.Metadata.ProvidersFailed) != 1 || result.Metadata.ProvidersFailed[0] != "alibaba" {
		t.Fatalf("expected alibaba in failed list, got %v", result.Metadata.ProvidersFailed)
	}
	if len(result.Metadata.ProvidersSuccessful) != 1 || result.Metadata.ProvidersSuccessful[0] != "mrbilit" {
		t.Fatalf("expected mrbilit in successful list, got %v", result.Metadata.ProvidersSuccessful)
	}
}

func TestAggregatorFiltersInvalidOffers(t *testing.T) {
	at := dep(8, 45)
	gw := newGateway(
		&stubProvider{name: "alibaba", offers: []models.Offer{
			mkOffer("alibaba", "263", 1200000, 4, at),
			mkOffer("alibaba", "480", 0, 4, at.Add(time.Hour)),  // free is not a fare
			mkOffer("alibaba", "481", 900000, 0, at.Add(time.Hour)), // sold out
		}},
	)
	agg := NewAggregator(gw, nil, nil, zap.NewNop().Sugar())

	result := agg.Search(context.Background(), testQuery)
	if result.Metadata.TotalOptions != 1 {
		t.Fatalf("expected 1 valid option after filtering, got %d", result.Metadata.TotalOptions)
	}
	for _, g := range result.Flights {
		for _, o := range g.Options {
			if o.Price <= 0 || o.Capacity <= 0 {
				t.Fatalf("invalid offer survived filtering: price=%d capacity=%d", o.Price, o.Capacity)
			}
		}
	}
}

func TestGroupOffersOrderIndependent(t *testing.T) {
	at := dep(8, 45)
	offers := []models.Offer{
		mkOffer("alibaba", "IR0263", 1350000, 9, at),
		mkOffer("mrbilit", "IR263", 1200000, 4, at),
		mkOffer("safar366", "480", 990000, 2, dep(13, 30)),
	}
	for i := range offers {
		offers[i].NormalizedNumber = offers[i].FlightNumber
	}

	forward := groupOffers(offers)
	reversed := groupOffers([]models.Offer{offers[2], offers[1], offers[0]})

	if len(forward) != len(reversed) {
		t.Fatalf("group count differs: %d vs %d", len(forward), len(reversed))
	}
	for i := range forward {
		if forward[i].BaseFlightID != reversed[i].BaseFlightID {
			t.Fatalf("group order differs at %d: %s vs %s",
				i, forward[i].BaseFlightID, reversed[i].BaseFlightID)
		}
		if len(forward[i].Options) != len(reversed[i].Options) {
			t.Fatalf("group membership differs for %s", forward[i].BaseFlightID)
		}
	}
	if !forward[0].DepartureTime.Before(forward[1].DepartureTime) {
		t.Fatalf("groups not sorted by departure time")
	}
}

func TestAggregatorHandsBatchToRecorder(t *testing.T) {
	recorder := &stubRecorder{batches: make(chan []models.Offer, 1)}
	gw := newGateway(
		&stubProvider{name: "alibaba", offers: []models.Offer{mkOffer("alibaba", "263", 1200000, 4, dep(8, 45))}},
	)
	agg := NewAggregator(gw, recorder, nil, zap.NewNop().Sugar())

	result := agg.Search(context.Background(), testQuery)
	if len(result.Flights) != 1 {
		t.Fatalf("expected 1 flight, got %d", len(result.Flights))
	}

	select {
	case batch := <-recorder.batches:
		if len(batch) != 1 {
			t.Fatalf("expected 1 offer in recorded batch, got %d", len(batch))
		}
	case <-time.After(time.Second):
		t.Fatalf("recorder was never invoked")
	}
}

func TestAggregatorSurvivesRecorderFailure(t *testing.T) {
	recorder := &stubRecorder{err: errors.New("db down")}
	gw := newGateway(
		&stubProvider{name: "alibaba", offers: []models.Offer{mkOffer("alibaba", "263", 1200000, 4, dep(8, 45))}},
	)
	agg := NewAggregator(gw, recorder, nil, zap.NewNop().Sugar())

	result := agg.Search(context.Background(), testQuery)
	if len(result.Flights) != 1 || result.Metadata.Error != "" {
		t.Fatalf("recorder failure leaked into search response: %+v", result.Metadata)
	}
}
