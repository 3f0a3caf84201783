// Package localize re-projects reference-timezone-indexed hourly series
// onto an arbitrary local timezone's hour boundaries. A local day spans at
// most two reference-timezone dates and may have 23, 24 or 25 hours; both
// facts fall out of the zones' own transition rules, nothing is hardcoded.
package localize

import (
	"time"

	"github.com/angas/omie-go/convert"
	"github.com/angas/omie-go/dates"
	"github.com/angas/omie-go/omie"
	"github.com/angas/omie-go/types/maybe"
)

// HourValue is one local hour of a projected day.
type HourValue struct {
	Start time.Time            `json:"start"`
	Value maybe.Maybe[float64] `json:"value"`
}

// Projection is one series key projected onto one local calendar date.
type Projection struct {
	Hours []HourValue `json:"hours"`
	// Provisional is set while any hour of the local day is still unknown.
	Provisional bool                 `json:"provisional"`
	Average     maybe.Maybe[float64] `json:"average"`
}

// HourlyByInstant merges the hourly sequences for one series key from up to
// three adjacent reference-timezone days into a single instant-indexed map.
// Keys are normalized to UTC so map lookups don't depend on the location a
// time value happens to carry.
func HourlyByInstant(refLoc *time.Location, key string, series ...*omie.FetchedSeries) map[time.Time]float64 {
	out := make(map[time.Time]float64)
	for _, s := range series {
		if s == nil {
			continue
		}
		hourly, ok := s.Hourly[key]
		if !ok {
			continue
		}
		midnight := s.MarketDate.Midnight(refLoc)
		for h, v := range hourly {
			out[midnight.Add(time.Duration(h)*time.Hour).UTC()] = v
		}
	}
	return out
}

// DayHours returns every hour-start instant of the given local calendar
// date: 23 on the day DST starts, 25 on the day it ends, 24 otherwise.
func DayHours(day dates.MarketDate, loc *time.Location) []time.Time {
	midnight := day.Midnight(loc)
	hours := make([]time.Time, 0, omie.MaxHoursPerDay)
	for h := 0; h < omie.MaxHoursPerDay; h++ {
		t := midnight.Add(time.Duration(h) * time.Hour)
		if dates.FromTime(t.In(loc)) != day {
			continue // spilled into the next local day
		}
		hours = append(hours, t)
	}
	return hours
}

// Project looks up each local hour of the given date in an instant-indexed
// hourly map. The result is provisional while any hour is unknown or the
// day has no known hours at all; the average covers known hours only.
func Project(hourly map[time.Time]float64, day dates.MarketDate, loc *time.Location) Projection {
	hourStarts := DayHours(day, loc)

	p := Projection{Hours: make([]HourValue, 0, len(hourStarts))}
	known := make([]float64, 0, len(hourStarts))
	for _, start := range hourStarts {
		if v, ok := hourly[start.UTC()]; ok {
			p.Hours = append(p.Hours, HourValue{Start: start, Value: maybe.Some(v)})
			known = append(known, v)
		} else {
			p.Hours = append(p.Hours, HourValue{Start: start, Value: maybe.None[float64]()})
		}
	}

	p.Provisional = len(known) < len(hourStarts) || len(known) == 0
	if len(known) > 0 {
		p.Average = maybe.Some(convert.TwoDecimals(convert.Mean(known)))
	} else {
		p.Average = maybe.None[float64]()
	}
	return p
}

// ReferenceDayAverage is the day average over a series' own hourly sequence
// in the reference timezone, without re-projection.
func ReferenceDayAverage(s *omie.FetchedSeries, key string) maybe.Maybe[float64] {
	if s == nil {
		return maybe.None[float64]()
	}
	hourly, ok := s.Hourly[key]
	if !ok || len(hourly) == 0 {
		return maybe.None[float64]()
	}
	return maybe.Some(convert.TwoDecimals(convert.Mean(hourly)))
}
