package identity

import (
	"fmt"
	"strings"
	"time"

	"skyfare/models"
)

// Carriers that report under more than one code. Collapsed so the same
// physical flight groups across providers.
var airlineCodeAliases = map[string]string{
	"TKN": "FK",
	"K0":  "FK",
	"ATS": "AT",
	"NSM": "NA",
	"ISP": "JS",
	"IS":  "JS",
	"J3":  "JS",
}

// Persian/Arabic glyph variants normalized to one canonical glyph set
// before airline names are compared.
var glyphReplacer = strings.NewReplacer(
	"ي", "ی",
	"ك", "ک",
	"آ", "ا",
	"أ", "ا",
	"إ", "ا",
	"ٱ", "ا",
	"ة", "ه",
	"ؤ", "و",
	"ئ", "ی",
)

// Suffix tokens stripped from airline names. Order matters: only the
// first matching suffix is removed.
var airlineSuffixes = []string{
	" ایر",
	" ایرلاین",
	" ایرلاینز",
	" airlines",
	" airline",
	" air",
	" airways",
}

// NormalizeFlightNumber canonicalizes a provider-reported flight
// number so the same flight collapses to one key. Letters are
// stripped, then leading zeros. A 5-digit number starting with a
// nonzero digit carries an airline-code prefix and drops its first
// digit; a 4-digit number starting with 9 drops the 9 only when the
// remainder is exactly 3 digits. The 5-digit/9-prefix rules are a
// heuristic over observed provider numbering and are kept as-is.
func NormalizeFlightNumber(raw string) string {
	var digits strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}

	num := strings.TrimLeft(digits.String(), "0")
	if num == "" {
		num = "0"
	}

	if len(num) == 5 && num[0] >= '1' && num[0] <= '9' {
		num = strings.TrimLeft(num[1:], "0")
		if num == "" {
			num = "0"
		}
	} else if len(num) == 4 && num[0] == '9' {
		// Drop the 9 only when the remainder is a genuine 3-digit
		// number; a zero right after the 9 means the 9 is part of
		// the flight number itself.
		rest := strings.TrimLeft(num[1:], "0")
		if len(rest) == 3 {
			num = rest
		}
	}

	return num
}

// NormalizeAirlineName canonicalizes glyph variants and strips one
// trailing marketing suffix ("... Air", "... Airlines", the Persian
// equivalents). Used purely as a grouping aid; raw names are kept for
// display.
func NormalizeAirlineName(raw string) string {
	name := strings.TrimSpace(strings.ToLower(raw))
	name = glyphReplacer.Replace(name)

	for _, suffix := range airlineSuffixes {
		if strings.HasSuffix(name, suffix) {
			name = strings.TrimSuffix(name, suffix)
			break
		}
	}

	return strings.TrimSpace(name)
}

// CanonicalAirlineCode maps alias codes onto the carrier's primary
// IATA code.
func CanonicalAirlineCode(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	if canonical, ok := airlineCodeAliases[code]; ok {
		return canonical
	}
	return code
}

// BaseFlightID computes the stable key grouping every offer for the
// same physical flight: route, date, canonical airline code,
// normalized flight number, departure time.
func BaseFlightID(origin, destination string, departure time.Time, airlineCode, flightNumber string) string {
	return fmt.Sprintf("%s%s%s%s%s%s",
		strings.ToUpper(origin),
		strings.ToUpper(destination),
		departure.Format("20060102"),
		CanonicalAirlineCode(airlineCode),
		NormalizeFlightNumber(flightNumber),
		departure.Format("1504"),
	)
}

// OfferID is BaseFlightID applied to one offer.
func OfferID(o *models.Offer) string {
	return BaseFlightID(o.Origin, o.Destination, o.DepartureTime, o.AirlineCode, o.FlightNumber)
}
