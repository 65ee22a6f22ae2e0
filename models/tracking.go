package models

import (
	"time"

	"github.com/google/uuid"
)

// TrackedFlight is the durable record of a physical flight under
// observation. One row per (flight number, date, origin, destination);
// created on first sighting, touched on every later one, never deleted.
type TrackedFlight struct {
	ID                    uuid.UUID  `json:"id" db:"id"`
	FlightNumber          string     `json:"flight_number" db:"flight_number"`
	FlightDate            string     `json:"flight_date" db:"flight_date"` // YYYY-MM-DD
	Origin                string     `json:"origin" db:"origin"`
	Destination           string     `json:"destination" db:"destination"`
	AirlineCode           string     `json:"airline_code" db:"airline_code"`
	AirlineName           string     `json:"airline_name" db:"airline_name"`
	CurrentLowestPrice    *int64     `json:"current_lowest_price" db:"current_lowest_price"`
	CurrentLowestProvider string     `json:"current_lowest_provider" db:"current_lowest_provider"`
	LastTrackedAt         time.Time  `json:"last_tracked_at" db:"last_tracked_at"`
	CreatedAt             time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at" db:"updated_at"`
}

// PriceSnapshot is one append-only price observation for a tracked
// flight from one provider. Change fields are computed once, against
// the same provider's immediately preceding snapshot.
type PriceSnapshot struct {
	ID                 int64     `json:"id" db:"id"`
	TrackedFlightID    uuid.UUID `json:"tracked_flight_id" db:"tracked_flight_id"`
	Provider           string    `json:"provider" db:"provider"`
	Price              int64     `json:"price" db:"price"`
	Seats              int       `json:"seats" db:"seats"`
	IsAvailable        bool      `json:"is_available" db:"is_available"`
	PriceChangeAmount  *int64    `json:"price_change_amount" db:"price_change_amount"`
	PriceChangePercent *float64  `json:"price_change_percent" db:"price_change_percent"`
	ScrapedAt          time.Time `json:"scraped_at" db:"scraped_at"`
}

// ProviderPrice is one provider's price for a flight inside a
// cross-provider comparison.
type ProviderPrice struct {
	Provider string `json:"provider"`
	Price    int64  `json:"price"`
	Seats    int    `json:"seats"`
}

// LowestPriceSnapshot records the best deal across all providers for
// a tracked flight at one tracking cycle. Append-only.
type LowestPriceSnapshot struct {
	ID                 int64           `json:"id" db:"id"`
	TrackedFlightID    uuid.UUID       `json:"tracked_flight_id" db:"tracked_flight_id"`
	LowestPrice        int64           `json:"lowest_price" db:"lowest_price"`
	Provider           string          `json:"provider" db:"provider"`
	SecondLowestPrice  *int64          `json:"second_lowest_price" db:"second_lowest_price"`
	SecondProvider     string          `json:"second_provider" db:"second_provider"`
	PriceChangeAmount  *int64          `json:"price_change_amount" db:"price_change_amount"`
	PriceChangePercent *float64        `json:"price_change_percent" db:"price_change_percent"`
	ComparisonData     []ProviderPrice `json:"comparison_data" db:"comparison_data"`
	ScrapedAt          time.Time       `json:"scraped_at" db:"scraped_at"`
}

// TrackedRoute is a route under automated observation. Upserted by
// origin+destination; last_tracked_at is touched only after a full
// clean sweep of the route.
type TrackedRoute struct {
	ID                 int64      `json:"id" db:"id"`
	Origin             string     `json:"origin" db:"origin"`
	Destination        string     `json:"destination" db:"destination"`
	OriginCity         string     `json:"origin_city" db:"origin_city"`
	DestinationCity    string     `json:"destination_city" db:"destination_city"`
	IsActive           bool       `json:"is_active" db:"is_active"`
	DaysAhead          int        `json:"days_ahead" db:"days_ahead"`
	IntervalMinutes    int        `json:"interval_minutes" db:"interval_minutes"`
	PreferredProviders []string   `json:"preferred_providers" db:"preferred_providers"`
	LastTrackedAt      *time.Time `json:"last_tracked_at" db:"last_tracked_at"`
	CreatedAt          time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at" db:"updated_at"`
}
