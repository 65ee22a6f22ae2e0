package models

import "time"

// Offer is one priced, bookable option for a flight as reported by a
// single provider. Offers are snapshots and are never mutated after
// they come back from the gateway.
type Offer struct {
	FlightNumber     string    `json:"flight_number"`
	NormalizedNumber string    `json:"normalized_number"`
	AirlineCode      string    `json:"airline_code"`
	AirlineName      string    `json:"airline_name"`
	Origin           string    `json:"origin"`
	Destination      string    `json:"destination"`
	DepartureTime    time.Time `json:"departure_time"`
	ArrivalTime      time.Time `json:"arrival_time"`
	Price            int64     `json:"price"`
	Currency         string    `json:"currency"`
	Capacity         int       `json:"capacity"`
	CabinClass       string    `json:"cabin_class"`
	IsCharter        bool      `json:"is_charter"`
	IsRefundable     bool      `json:"is_refundable"`
	Provider         string    `json:"provider"`
	ProviderRef      string    `json:"provider_ref"`
}

// Valid reports whether the offer is displayable: zero-priced and
// sold-out options are filtered before grouping.
func (o *Offer) Valid() bool {
	return o.Price > 0 && o.Capacity > 0
}

// SearchQuery identifies one route/date search.
type SearchQuery struct {
	Origin        string `json:"origin"`
	Destination   string `json:"destination"`
	DepartureDate string `json:"departure_date"` // YYYY-MM-DD
	ReturnDate    string `json:"return_date,omitempty"`
	UserID        string `json:"user_id,omitempty"`
}

// GroupedFlight is one physical flight with every provider's offers
// for it. Options are sorted ascending by price.
type GroupedFlight struct {
	BaseFlightID  string    `json:"base_flight_id"`
	FlightNumber  string    `json:"flight_number"`
	AirlineCode   string    `json:"airline_code"`
	AirlineName   string    `json:"airline_name"`
	Origin        string    `json:"origin"`
	Destination   string    `json:"destination"`
	DepartureTime time.Time `json:"departure_time"`
	ArrivalTime   time.Time `json:"arrival_time"`
	LowestPrice   int64     `json:"lowest_price"`
	HighestPrice  int64     `json:"highest_price"`
	Options       []Offer   `json:"options"`
}

type SearchMetadata struct {
	TotalFlights        int      `json:"total_flights"`
	TotalOptions        int      `json:"total_options"`
	ProvidersQueried    []string `json:"providers_queried"`
	ProvidersSuccessful []string `json:"providers_successful"`
	ProvidersFailed     []string `json:"providers_failed"`
	SearchTimeMS        int64    `json:"search_time_ms"`
	Error               string   `json:"error,omitempty"`
}

type SearchResult struct {
	Flights  []GroupedFlight `json:"flights"`
	Metadata SearchMetadata  `json:"metadata"`
}
