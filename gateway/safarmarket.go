package gateway

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/tidwall/gjson"

	"skyfare/config"
	"skyfare/models"
)

// Safarmarket serves a results page with the flight list embedded as
// JSON in a script tag; the page is parsed rather than any API.
type Safarmarket struct {
	cfg    *config.ProviderConfig
	client *Client
}

func NewSafarmarket(cfg *config.ProviderConfig, client *Client) *Safarmarket {
	return &Safarmarket{cfg: cfg, client: client}
}

func (s *Safarmarket) Name() string {
	return s.cfg.ID
}

func (s *Safarmarket) Search(ctx context.Context, q models.SearchQuery) ([]models.Offer, error) {
	u := s.cfg.Endpoints["results"]
	u = strings.Replace(u, "{origin}", strings.ToLower(q.Origin), 1)
	u = strings.Replace(u, "{destination}", strings.ToLower(q.Destination), 1)
	u = strings.Replace(u, "{date}", q.DepartureDate, 1)

	data, err := s.client.get(ctx, u, s.cfg.Headers)
	if err != nil {
		return nil, fmt.Errorf("fetch results page: %w", err)
	}

	offers, err := parseSafarmarketPage(data, q)
	if err != nil {
		return nil, err
	}

	s.client.archive(s.Name(), q, data)
	return offers, nil
}

func parseSafarmarketPage(page []byte, q models.SearchQuery) ([]models.Offer, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page))
	if err != nil {
		return nil, fmt.Errorf("parse page: %w", err)
	}

	state := doc.Find("script#__SM_STATE__").Text()
	if state == "" {
		return nil, fmt.Errorf("no embedded state in page")
	}

	var offers []models.Offer
	gjson.Get(state, "search.flights").ForEach(func(_, flight gjson.Result) bool {
		offers = append(offers, models.Offer{
			FlightNumber:  flight.Get("flightNumber").String(),
			AirlineCode:   flight.Get("airlineCode").String(),
			AirlineName:   flight.Get("airlineName").String(),
			Origin:        q.Origin,
			Destination:   q.Destination,
			DepartureTime: parseTime(flight.Get("departureDateTime").String()),
			ArrivalTime:   parseTime(flight.Get("arrivalDateTime").String()),
			Price:         flight.Get("price").Int(),
			Currency:      "IRR",
			Capacity:      int(flight.Get("remainingSeats").Int()),
			CabinClass:    flight.Get("cabinClass").String(),
			IsCharter:     flight.Get("isCharter").Bool(),
			IsRefundable:  flight.Get("isRefundable").Bool(),
			ProviderRef:   flight.Get("token").String(),
		})
		return true
	})
	return offers, nil
}
