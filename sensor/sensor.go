// Package sensor assembles presentation states: one sensor per market price
// series, combining the three adjacent date-window caches into a local-time
// view with current-hour value, day projections and feed metadata.
package sensor

import (
	"time"

	"github.com/angas/omie-go/dates"
	"github.com/angas/omie-go/localize"
	"github.com/angas/omie-go/omie"
	"github.com/angas/omie-go/types/maybe"
)

// Sources supplies the cached series for the three reference-timezone date
// windows a sensor draws from. Each call returns the latest cache content,
// nil while nothing is held.
type Sources struct {
	Yesterday func() *omie.FetchedSeries
	Today     func() *omie.FetchedSeries
	Tomorrow  func() *omie.FetchedSeries
}

// State is one sensor's externally visible snapshot.
type State struct {
	Key   string               `json:"key"`
	Price maybe.Maybe[float64] `json:"price"` // value for the current local hour

	Today    localize.Projection `json:"today"`
	Tomorrow localize.Projection `json:"tomorrow"`

	// Day averages over the reference-timezone market days, as published.
	MarketTodayAverage    maybe.Maybe[float64] `json:"market_today_average"`
	MarketTomorrowAverage maybe.Maybe[float64] `json:"market_tomorrow_average"`

	// Feed metadata passed through from the current market day's file.
	MarketDate string    `json:"market_date,omitempty"`
	FetchedAt  time.Time `json:"fetched_at,omitzero"`
	Source     string    `json:"source,omitempty"`
	Header     string    `json:"header,omitempty"`
}

type Sensor struct {
	key       string
	hourlyKey string
	sources   Sources
	refLoc    *time.Location
	localLoc  *time.Location
	now       func() time.Time
}

// New builds a sensor for one series key (e.g. "spot_price_pt") shown in the
// given local timezone.
func New(key string, sources Sources, refLoc, localLoc *time.Location) *Sensor {
	return &Sensor{
		key:       key,
		hourlyKey: key + "_hourly",
		sources:   sources,
		refLoc:    refLoc,
		localLoc:  localLoc,
		now:       time.Now,
	}
}

func (s *Sensor) Key() string { return s.key }

// State projects the cached series onto the sensor's local timezone as of
// now. Yesterday's file is needed because the first local hours of today may
// belong to the previous reference-timezone date.
func (s *Sensor) State() State {
	yesterday := s.sources.Yesterday()
	today := s.sources.Today()
	tomorrow := s.sources.Tomorrow()

	hourly := localize.HourlyByInstant(s.refLoc, s.hourlyKey, yesterday, today, tomorrow)

	now := s.now().In(s.localLoc)
	localToday := dates.FromTime(now)

	state := State{
		Key:                   s.key,
		Today:                 localize.Project(hourly, localToday, s.localLoc),
		Tomorrow:              localize.Project(hourly, localToday.AddDays(1), s.localLoc),
		MarketTodayAverage:    localize.ReferenceDayAverage(today, s.hourlyKey),
		MarketTomorrowAverage: localize.ReferenceDayAverage(tomorrow, s.hourlyKey),
		Price:                 maybe.None[float64](),
	}

	// Pick the hour whose absolute interval contains now. Rebuilding the hour
	// start from wall-clock fields would resolve the repeated hour on the DST
	// fall-back day to the wrong occurrence.
	for _, hv := range state.Today.Hours {
		if !hv.Start.After(now) && now.Before(hv.Start.Add(time.Hour)) {
			state.Price = hv.Value
			break
		}
	}

	if today != nil {
		state.MarketDate = today.MarketDate.String()
		state.FetchedAt = today.UpdatedAt
		state.Source = today.Source
		state.Header = today.Header
	}

	return state
}
