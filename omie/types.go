package omie

import (
	"errors"
	"time"

	"github.com/angas/omie-go/dates"
)

// MaxHoursPerDay is the number of hours on the day that DST ends.
const MaxHoursPerDay = 25

// ErrMalformedFeed indicates the feed body did not match the expected OMIE
// file layout. This usually means an upstream format change and must surface
// rather than being skipped.
var ErrMalformedFeed = errors.New("malformed omie feed")

// FetchedSeries is one parsed OMIE result file. It is immutable once built
// and replaced wholesale on every refresh.
type FetchedSeries struct {
	UpdatedAt  time.Time
	MarketDate dates.MarketDate
	Source     string
	Header     string
	// Hourly maps series keys to ordered hourly values, index h being the
	// value for reference-timezone hour h of MarketDate. Recognized rows
	// appear under "{key}_hourly", unrecognized rows under their raw label.
	Hourly map[string][]float64
	// Daily holds "{key}_day_average" (EUR/MWh series) and "{key}_day_total"
	// (MWh series) aggregates for recognized rows.
	Daily map[string]float64
}
