package search

import (
	"context"
	"time"

	"go.uber.org/zap"

	"skyfare/gateway"
	"skyfare/metrics"
	"skyfare/models"
)

// HistoryRecorder persists an offer batch into the price history.
// Recording is detached from the search path and must never affect
// the response.
type HistoryRecorder interface {
	RecordBatch(ctx context.Context, offers []models.Offer, origin, destination, date string) (saved, skipped int, err error)
}

// Aggregator runs a one-shot search: every provider queried
// concurrently, offers grouped onto physical flights, one response.
type Aggregator struct {
	gw       *gateway.Gateway
	recorder HistoryRecorder
	metrics  *metrics.Metrics
	log      *zap.SugaredLogger
}

func NewAggregator(gw *gateway.Gateway, recorder HistoryRecorder, m *metrics.Metrics, log *zap.SugaredLogger) *Aggregator {
	return &Aggregator{gw: gw, recorder: recorder, metrics: m, log: log}
}

// Search always returns a result; a provider dying, timing out, or
// returning garbage only shrinks the offer list.
func (a *Aggregator) Search(ctx context.Context, q models.SearchQuery) *models.SearchResult {
	start := time.Now()
	if a.metrics != nil {
		a.metrics.SearchesTotal.Inc()
	}

	names := a.gw.Providers()
	result := &models.SearchResult{
		Metadata: models.SearchMetadata{
			ProvidersQueried:    names,
			ProvidersSuccessful: []string{},
			ProvidersFailed:     []string{},
		},
	}
	if len(names) == 0 {
		result.Metadata.Error = "no providers configured"
		result.Metadata.SearchTimeMS = time.Since(start).Milliseconds()
		return result
	}

	perProvider := a.gw.QueryAll(ctx, q, nil)

	var raw, valid []models.Offer
	for _, name := range names {
		offers := perProvider[name]
		raw = append(raw, offers...)

		providerValid := filterOffers(offers)
		if len(providerValid) > 0 {
			result.Metadata.ProvidersSuccessful = append(result.Metadata.ProvidersSuccessful, name)
		} else {
			result.Metadata.ProvidersFailed = append(result.Metadata.ProvidersFailed, name)
		}
		valid = append(valid, providerValid...)
	}

	result.Flights = groupOffers(valid)
	result.Metadata.TotalFlights = len(result.Flights)
	result.Metadata.TotalOptions = len(valid)
	result.Metadata.SearchTimeMS = time.Since(start).Milliseconds()

	a.log.Infow("search complete",
		"origin", q.Origin, "destination", q.Destination, "date", q.DepartureDate,
		"flights", result.Metadata.TotalFlights, "options", result.Metadata.TotalOptions,
		"failed_providers", result.Metadata.ProvidersFailed,
		"elapsed_ms", result.Metadata.SearchTimeMS)

	// The response is final at this point; history recording runs
	// detached with its own error boundary.
	if a.recorder != nil && len(raw) > 0 {
		batch := make([]models.Offer, len(raw))
		copy(batch, raw)
		go a.recordHistory(batch, q)
	}

	return result
}

func (a *Aggregator) recordHistory(offers []models.Offer, q models.SearchQuery) {
	defer func() {
		if r := recover(); r != nil {
			a.log.Errorw("history recording panicked", "recovered", r)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	saved, skipped, err := a.recorder.RecordBatch(ctx, offers, q.Origin, q.Destination, q.DepartureDate)
	if err != nil {
		a.log.Warnw("history recording failed",
			"origin", q.Origin, "destination", q.Destination, "error", err)
		return
	}
	a.log.Debugw("history recorded", "saved", saved, "skipped", skipped)
}
