package search

import (
	"context"
	"time"

	"go.uber.org/zap"

	"skyfare/gateway"
	"skyfare/models"
)

// Streamer runs the same search as the Aggregator but queries
// providers one at a time and emits each provider's grouped result as
// soon as it lands memory-side, followed by a progress event. The
// stream always terminates with exactly one search_complete or error
// event unless the consumer walks away first.
type Streamer struct {
	gw  *gateway.Gateway
	log *zap.SugaredLogger
}

func NewStreamer(gw *gateway.Gateway, log *zap.SugaredLogger) *Streamer {
	return &Streamer{gw: gw, log: log}
}

// Search returns the event channel. Cancelling ctx stops emission:
// the provider call in flight is left to finish on its own timeout
// and its result is discarded.
func (s *Streamer) Search(ctx context.Context, q models.SearchQuery) <-chan models.StreamEvent {
	events := make(chan models.StreamEvent, 8)
	go s.run(ctx, q, events)
	return events
}

func (s *Streamer) run(ctx context.Context, q models.SearchQuery, events chan<- models.StreamEvent) {
	defer close(events)
	start := time.Now()

	names := s.gw.Providers()
	if len(names) == 0 {
		s.emit(ctx, events, models.StreamEvent{
			Type:    models.EventError,
			Message: "no providers configured",
		})
		return
	}

	summary := models.StreamSummary{
		ProvidersSuccessful: []string{},
		ProvidersFailed:     []string{},
	}

	for i, name := range names {
		// Detached from consumer cancellation: the gateway applies
		// the per-provider timeout, and an abandoned result is simply
		// dropped below.
		offers := s.gw.Query(context.WithoutCancel(ctx), name, q)
		if ctx.Err() != nil {
			s.log.Debugw("stream consumer gone, discarding results",
				"provider", name, "origin", q.Origin, "destination", q.Destination)
			return
		}

		valid := filterOffers(offers)
		if len(valid) > 0 {
			groups := groupOffers(valid)
			summary.TotalFlights += len(groups)
			summary.TotalOptions += len(valid)
			summary.ProvidersSuccessful = append(summary.ProvidersSuccessful, name)

			if !s.emit(ctx, events, models.StreamEvent{
				Type:     models.EventProviderResult,
				Provider: name,
				Flights:  groups,
			}) {
				return
			}
		} else {
			summary.ProvidersFailed = append(summary.ProvidersFailed, name)
		}

		if !s.emit(ctx, events, models.StreamEvent{
			Type:     models.EventProgress,
			Provider: name,
			Progress: &models.StreamProgress{
				Completed:          i + 1,
				Total:              len(names),
				ProvidersCompleted: append([]string{}, names[:i+1]...),
				ProvidersRemaining: append([]string{}, names[i+1:]...),
			},
		}) {
			return
		}
	}

	summary.SearchTimeMS = time.Since(start).Milliseconds()
	s.emit(ctx, events, models.StreamEvent{
		Type:    models.EventSearchComplete,
		Summary: &summary,
	})
}

func (s *Streamer) emit(ctx context.Context, events chan<- models.StreamEvent, ev models.StreamEvent) bool {
	select {
	case events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
