package models

type StreamEventType string

const (
	EventProviderResult StreamEventType = "provider_result"
	EventProgress       StreamEventType = "progress"
	EventSearchComplete StreamEventType = "search_complete"
	EventError          StreamEventType = "error"
)

// StreamEvent is one element of a streaming search. The event
// sequence is provider_result* interleaved with progress*, terminated
// by exactly one search_complete or one error.
type StreamEvent struct {
	Type     StreamEventType `json:"type"`
	Provider string          `json:"provider,omitempty"`
	Flights  []GroupedFlight `json:"flights,omitempty"`
	Progress *StreamProgress `json:"progress,omitempty"`
	Summary  *StreamSummary  `json:"summary,omitempty"`
	Message  string          `json:"message,omitempty"`
}

type StreamProgress struct {
	Completed          int      `json:"completed"`
	Total              int      `json:"total"`
	ProvidersCompleted []string `json:"providers_completed"`
	ProvidersRemaining []string `json:"providers_remaining"`
}

type StreamSummary struct {
	TotalFlights        int      `json:"total_flights"`
	TotalOptions        int      `json:"total_options"`
	ProvidersSuccessful []string `json:"providers_successful"`
	ProvidersFailed     []string `json:"providers_failed"`
	SearchTimeMS        int64    `json:"search_time_ms"`
}
