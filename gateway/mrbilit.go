package gateway

import (
	"context"
	"fmt"

	"github.com/tidwall/gjson"

	"skyfare/config"
	"skyfare/models"
)

// MrBilit answers a single POST with the full flight list. A flight
// may carry several fare classes; each priced class becomes one offer.
type MrBilit struct {
	cfg    *config.ProviderConfig
	client *Client
}

func NewMrBilit(cfg *config.ProviderConfig, client *Client) *MrBilit {
	return &MrBilit{cfg: cfg, client: client}
}

func (m *MrBilit) Name() string {
	return m.cfg.ID
}

func (m *MrBilit) Search(ctx context.Context, q models.SearchQuery) ([]models.Offer, error) {
	body := map[string]any{
		"From":          q.Origin,
		"To":            q.Destination,
		"DepartureDate": q.DepartureDate,
		"AdultCount":    1,
	}

	data, err := m.client.postJSON(ctx, m.cfg.Endpoints["search"], body, m.cfg.Headers)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}

	m.client.archive(m.Name(), q, data)
	return parseMrBilitFlights(data, q), nil
}

func parseMrBilitFlights(data []byte, q models.SearchQuery) []models.Offer {
	var offers []models.Offer
	gjson.GetBytes(data, "Flights").ForEach(func(_, flight gjson.Result) bool {
		base := models.Offer{
			FlightNumber:  flight.Get("FlightNumber").String(),
			AirlineCode:   flight.Get("Airline.Code").String(),
			AirlineName:   flight.Get("Airline.Name").String(),
			Origin:        q.Origin,
			Destination:   q.Destination,
			DepartureTime: parseTime(flight.Get("DepartureDateTime").String()),
			ArrivalTime:   parseTime(flight.Get("ArrivalDateTime").String()),
			Currency:      "IRR",
			IsCharter:     flight.Get("IsCharter").Bool(),
			ProviderRef:   flight.Get("Id").String(),
		}

		classes := flight.Get("Classes")
		if !classes.Exists() || len(classes.Array()) == 0 {
			offer := base
			offer.Price = flight.Get("AdultFare").Int()
			offer.Capacity = int(flight.Get("Capacity").Int())
			offer.CabinClass = flight.Get("CabinType").String()
			offer.IsRefundable = flight.Get("Refundable").Bool()
			offers = append(offers, offer)
			return true
		}

		classes.ForEach(func(_, class gjson.Result) bool {
			offer := base
			offer.Price = class.Get("AdultFare").Int()
			offer.Capacity = int(class.Get("Capacity").Int())
			offer.CabinClass = class.Get("CabinType").String()
			offer.IsRefundable = class.Get("Refundable").Bool()
			offers = append(offers, offer)
			return true
		})
		return true
	})
	return offers
}
