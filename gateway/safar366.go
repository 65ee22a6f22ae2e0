package gateway

import (
	"context"
	"fmt"
	"net/url"

	"github.com/tidwall/gjson"

	"skyfare/config"
	"skyfare/models"
)

// Safar366 is a plain GET JSON API.
type Safar366 struct {
	cfg    *config.ProviderConfig
	client *Client
}

func NewSafar366(cfg *config.ProviderConfig, client *Client) *Safar366 {
	return &Safar366{cfg: cfg, client: client}
}

func (s *Safar366) Name() string {
	return s.cfg.ID
}

func (s *Safar366) Search(ctx context.Context, q models.SearchQuery) ([]models.Offer, error) {
	params := url.Values{}
	params.Set("origin", q.Origin)
	params.Set("destination", q.Destination)
	params.Set("date", q.DepartureDate)

	data, err := s.client.get(ctx, s.cfg.Endpoints["search"]+"?"+params.Encode(), s.cfg.Headers)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}

	s.client.archive(s.Name(), q, data)
	return parseSafar366Flights(data, q), nil
}

func parseSafar366Flights(data []byte, q models.SearchQuery) []models.Offer {
	var offers []models.Offer
	gjson.GetBytes(data, "data.flights").ForEach(func(_, flight gjson.Result) bool {
		offers = append(offers, models.Offer{
			FlightNumber:  flight.Get("flight_number").String(),
			AirlineCode:   flight.Get("airline_code").String(),
			AirlineName:   flight.Get("airline_name").String(),
			Origin:        q.Origin,
			Destination:   q.Destination,
			DepartureTime: parseTime(flight.Get("departure_time").String()),
			ArrivalTime:   parseTime(flight.Get("arrival_time").String()),
			Price:         flight.Get("price").Int(),
			Currency:      "IRR",
			Capacity:      int(flight.Get("capacity").Int()),
			CabinClass:    flight.Get("cabin_class").String(),
			IsCharter:     flight.Get("is_charter").Bool(),
			IsRefundable:  flight.Get("refundable").Bool(),
			ProviderRef:   flight.Get("id").String(),
		})
		return true
	})
	return offers
}
