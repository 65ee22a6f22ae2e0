package search

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"skyfare/models"
)

func collectEvents(t *testing.T, ch <-chan models.StreamEvent) []models.StreamEvent {
	t.Helper()
	var out []models.StreamEvent
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-deadline:
			t.Fatalf("stream never closed, got %d events so far", len(out))
		}
	}
}

func TestStreamerEventSequence(t *testing.T) {
	gw := newGateway(
		&stubProvider{name: "alibaba", offers: []models.Offer{mkOffer("alibaba", "263", 1200000, 4, dep(8, 45))}},
		&stubProvider{name: "mrbilit", err: errors.New("upstream 502")},
	)
	st := NewStreamer(gw, zap.NewNop().Sugar())

	events := collectEvents(t, st.Search(context.Background(), testQuery))

	var results, progress, completes int
	for _, ev := range events {
		switch ev.Type {
		case models.EventProviderResult:
			results++
			if ev.Provider != "alibaba" {
				t.Fatalf("result event from wrong provider: %s", ev.Provider)
			}
			if len(ev.Flights) != 1 {
				t.Fatalf("expected 1 flight in result event, got %d", len(ev.Flights))
			}
		case models.EventProgress:
			progress++
		case models.EventSearchComplete:
			completes++
			if ev.Summary == nil {
				t.Fatalf("search_complete without summary")
			}
			if len(ev.Summary.ProvidersSuccessful) != 1 || len(ev.Summary.ProvidersFailed) != 1 {
				t.Fatalf("unexpected summary counts: %+v", ev.Summary)
			}
		case models.EventError:
			t.Fatalf("unexpected error event: %s", ev.Message)
		}
	}
	if results != 1 {
		t.Fatalf("expected 1 provider_result event, got %d", results)
	}
	if progress != 2 {
		t.Fatalf("expected a progress event per provider, got %d", progress)
	}
	if completes != 1 {
		t.Fatalf("expected exactly one search_complete, got %d", completes)
	}
	if events[len(events)-1].Type != models.EventSearchComplete {
		t.Fatalf("stream did not end with search_complete: %s", events[len(events)-1].Type)
	}
}

func TestStreamerProgressCounts(t *testing.T) {
	gw := newGateway(
		&stubProvider{name: "alibaba"},
		&stubProvider{name: "mrbilit"},
		&stubProvider{name: "safar366"},
	)
	st := NewStreamer(gw, zap.NewNop().Sugar())

	events := collectEvents(t, st.Search(context.Background(), testQuery))

	seen := 0
	for _, ev := range events {
		if ev.Type != models.EventProgress {
			continue
		}
		seen++
		if ev.Progress == nil {
			t.Fatalf("progress event without payload")
		}
		if ev.Progress.Completed != seen || ev.Progress.Total != 3 {
			t.Fatalf("progress %d/%d after %d providers", ev.Progress.Completed, ev.Progress.Total, seen)
		}
		if len(ev.Progress.ProvidersCompleted) != seen {
			t.Fatalf("completed list has %d entries after %d providers",
				len(ev.Progress.ProvidersCompleted), seen)
		}
		if len(ev.Progress.ProvidersRemaining) != 3-seen {
			t.Fatalf("remaining list has %d entries after %d providers",
				len(ev.Progress.ProvidersRemaining), seen)
		}
	}
	if seen != 3 {
		t.Fatalf("expected 3 progress events, got %d", seen)
	}
}

func TestStreamerNoProviders(t *testing.T) {
	st := NewStreamer(newGateway(), zap.NewNop().Sugar())

	events := collectEvents(t, st.Search(context.Background(), testQuery))
	if len(events) != 1 || events[0].Type != models.EventError {
		t.Fatalf("expected a lone error event, got %+v", events)
	}
}

func TestStreamerCancellation(t *testing.T) {
	gw := newGateway(
		&stubProvider{name: "alibaba", delay: 50 * time.Millisecond,
			offers: []models.Offer{mkOffer("alibaba", "263", 1200000, 4, dep(8, 45))}},
		&stubProvider{name: "mrbilit", delay: 50 * time.Millisecond},
	)
	st := NewStreamer(gw, zap.NewNop().Sugar())

	ctx, cancel := context.WithCancel(context.Background())
	ch := st.Search(ctx, testQuery)
	cancel()

	events := collectEvents(t, ch)
	for _, ev := range events {
		if ev.Type == models.EventSearchComplete {
			t.Fatalf("search_complete emitted after cancellation")
		}
	}
}
