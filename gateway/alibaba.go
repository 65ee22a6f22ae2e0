package gateway

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"skyfare/config"
	"skyfare/models"
)

// Alibaba is a two-phase JSON API: a search request returns a request
// id, then a results endpoint is polled until the search completes.
type Alibaba struct {
	cfg    *config.ProviderConfig
	client *Client
}

func NewAlibaba(cfg *config.ProviderConfig, client *Client) *Alibaba {
	return &Alibaba{cfg: cfg, client: client}
}

func (a *Alibaba) Name() string {
	return a.cfg.ID
}

func (a *Alibaba) Search(ctx context.Context, q models.SearchQuery) ([]models.Offer, error) {
	body := map[string]any{
		"origin":        q.Origin,
		"destination":   q.Destination,
		"departureDate": q.DepartureDate,
		"adult":         1,
		"child":         0,
		"infant":        0,
	}

	data, err := a.client.postJSON(ctx, a.cfg.Endpoints["available"], body, a.cfg.Headers)
	if err != nil {
		return nil, fmt.Errorf("request search: %w", err)
	}

	requestID := gjson.GetBytes(data, "result.requestId").String()
	if requestID == "" {
		return nil, fmt.Errorf("no request id in response")
	}

	resultsURL := strings.Replace(a.cfg.Endpoints["results"], "{request_id}", requestID, 1)

	// The results endpoint answers immediately with whatever has
	// arrived so far; poll until it reports completion.
	for attempt := 0; attempt < 10; attempt++ {
		data, err = a.client.get(ctx, resultsURL, a.cfg.Headers)
		if err != nil {
			return nil, fmt.Errorf("poll results: %w", err)
		}
		if gjson.GetBytes(data, "result.isCompleted").Bool() {
			break
		}

		select {
		case <-time.After(time.Second):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	a.client.archive(a.Name(), q, data)
	return parseAlibabaResults(data, q), nil
}

func parseAlibabaResults(data []byte, q models.SearchQuery) []models.Offer {
	var offers []models.Offer
	gjson.GetBytes(data, "result.departing").ForEach(func(_, flight gjson.Result) bool {
		offers = append(offers, models.Offer{
			FlightNumber:  flight.Get("flightNumber").String(),
			AirlineCode:   flight.Get("airlineCode").String(),
			AirlineName:   flight.Get("airlineName").String(),
			Origin:        q.Origin,
			Destination:   q.Destination,
			DepartureTime: parseTime(flight.Get("leaveDateTime").String()),
			ArrivalTime:   parseTime(flight.Get("arrivalDateTime").String()),
			Price:         flight.Get("priceAdult").Int(),
			Currency:      "IRR",
			Capacity:      int(flight.Get("seat").Int()),
			CabinClass:    flight.Get("classTypeName").String(),
			IsCharter:     flight.Get("isCharter").Bool(),
			IsRefundable:  flight.Get("isRefundable").Bool(),
			ProviderRef:   flight.Get("proposalId").String(),
		})
		return true
	})
	return offers
}
