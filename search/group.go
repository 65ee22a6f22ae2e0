package search

import (
	"sort"

	"skyfare/identity"
	"skyfare/models"
)

// Group filters raw provider offers and collapses them onto physical
// flights. Shared by the one-shot aggregator, the streamer, and the
// route tracker.
func Group(offers []models.Offer) []models.GroupedFlight {
	return groupOffers(filterOffers(offers))
}

// filterOffers drops offers that are not displayable: non-positive
// price or no remaining seats.
func filterOffers(offers []models.Offer) []models.Offer {
	var valid []models.Offer
	for _, o := range offers {
		if o.Valid() {
			valid = append(valid, o)
		}
	}
	return valid
}

// groupOffers collapses offers onto physical flights. Membership
// depends only on the flight identity, never on input order: options
// are sorted by price (provider and ref break ties) and groups by
// departure time, so the output is deterministic for any shuffle of
// the input.
func groupOffers(offers []models.Offer) []models.GroupedFlight {
	byID := make(map[string][]models.Offer)
	for _, o := range offers {
		id := identity.OfferID(&o)
		byID[id] = append(byID[id], o)
	}

	groups := make([]models.GroupedFlight, 0, len(byID))
	for id, options := range byID {
		sort.Slice(options, func(i, j int) bool {
			if options[i].Price != options[j].Price {
				return options[i].Price < options[j].Price
			}
			if options[i].Provider != options[j].Provider {
				return options[i].Provider < options[j].Provider
			}
			return options[i].ProviderRef < options[j].ProviderRef
		})

		cheapest := options[0]
		groups = append(groups, models.GroupedFlight{
			BaseFlightID:  id,
			FlightNumber:  cheapest.NormalizedNumber,
			AirlineCode:   identity.CanonicalAirlineCode(cheapest.AirlineCode),
			AirlineName:   cheapest.AirlineName,
			Origin:        cheapest.Origin,
			Destination:   cheapest.Destination,
			DepartureTime: cheapest.DepartureTime,
			ArrivalTime:   cheapest.ArrivalTime,
			LowestPrice:   options[0].Price,
			HighestPrice:  options[len(options)-1].Price,
			Options:       options,
		})
	}

	sort.Slice(groups, func(i, j int) bool {
		if !groups[i].DepartureTime.Equal(groups[j].DepartureTime) {
			return groups[i].DepartureTime.Before(groups[j].DepartureTime)
		}
		return groups[i].BaseFlightID < groups[j].BaseFlightID
	})

	return groups
}
