// Package refresh decides when a cached market series is still usable and
// when the next fetch attempt is worth making, given OMIE's publication
// calendar in the reference timezone. It never retries on failure; it only
// answers "is a refresh warranted now" and "when should we look again".
package refresh

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/angas/omie-go/dates"
	"github.com/angas/omie-go/omie"
	"github.com/angas/omie-go/types/maybe"
)

// maxScheduleJitter bounds the fixed per-instance offset added to scheduled
// wake-ups so many schedulers don't hit OMIE in the same instant.
const maxScheduleJitter = 3 * time.Second

// FetchFunc fetches and parses the series for the market date its scheduler
// is bound to. (nil, nil) means the file has not been published yet.
type FetchFunc func(ctx context.Context) (*omie.FetchedSeries, error)

// Options configures a Scheduler beyond its date factory and fetch function.
type Options struct {
	// NoneBefore is a "HH:MM" time of day in the reference timezone before
	// which the series structurally cannot exist (e.g. day-ahead results
	// before the auction closes). Empty means midnight.
	NoneBefore string
	// UpdateInterval is the minimum spacing between re-fetches once data for
	// the current market date is held. Zero means fetch at most once per
	// market date; a finalized file never changes.
	UpdateInterval time.Duration
}

// Scheduler owns the cached series for one (source kind × date window) pair.
// The cached slot has three states: never resolved, known absent (fetched
// but not published), and present. It is replaced wholesale on refresh and
// has exactly one writer path, Decide.
type Scheduler struct {
	name           string
	logger         *slog.Logger
	loc            *time.Location
	marketDate     dates.Factory
	fetch          FetchFunc
	gateHour       int
	gateMinute     int
	updateInterval time.Duration
	jitter         time.Duration
	now            func() time.Time

	group     singleflight.Group
	mu        sync.RWMutex
	cached    maybe.Maybe[*omie.FetchedSeries]
	updatedAt time.Time
}

func New(name string, loc *time.Location, marketDate dates.Factory, fetch FetchFunc, opts Options) (*Scheduler, error) {
	gateHour, gateMinute, err := parseGate(opts.NoneBefore)
	if err != nil {
		return nil, fmt.Errorf("scheduler %s: %w", name, err)
	}

	return &Scheduler{
		name:           name,
		logger:         slog.Default().With("module", "refresh", slog.String("scheduler", name)),
		loc:            loc,
		marketDate:     marketDate,
		fetch:          fetch,
		gateHour:       gateHour,
		gateMinute:     gateMinute,
		updateInterval: opts.UpdateInterval,
		jitter:         time.Duration(rand.Int64N(int64(maxScheduleJitter))),
		now:            time.Now,
	}, nil
}

func parseGate(noneBefore string) (int, int, error) {
	if noneBefore == "" {
		return 0, 0, nil
	}
	parts := strings.Split(noneBefore, ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid none_before %q, expected HH:MM", noneBefore)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("invalid none_before hour in %q", noneBefore)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("invalid none_before minute in %q", noneBefore)
	}
	return hour, minute, nil
}

func (s *Scheduler) Name() string { return s.name }

// Cached returns the current cache slot: None until the first fetch
// resolves, Some(nil) while the file is known to be unpublished, Some(series)
// once data is held.
func (s *Scheduler) Cached() maybe.Maybe[*omie.FetchedSeries] {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cached
}

// Decide is the refresh opportunity entry point. It returns the cached value
// unchanged while the gate is closed or the held value is fresh, and fetches
// otherwise. Concurrent calls coalesce into a single in-flight fetch. Fetch
// errors propagate untouched and leave the cache as it was.
func (s *Scheduler) Decide(ctx context.Context) (*omie.FetchedSeries, error) {
	v, err, _ := s.group.Do("decide", func() (any, error) {
		return s.decide(ctx)
	})
	series, _ := v.(*omie.FetchedSeries)
	return series, err
}

func (s *Scheduler) decide(ctx context.Context) (*omie.FetchedSeries, error) {
	// One reference-timezone "now" for both the gate and freshness checks,
	// so the two can't disagree around midnight.
	now := s.now().In(s.loc)

	if now.Before(s.gateInstant(now)) {
		s.logger.Debug("gated, no data can exist before the gate time",
			slog.String("noneBefore", fmt.Sprintf("%02d:%02d", s.gateHour, s.gateMinute)))
		return s.cachedSeries(), nil
	}

	if s.isFresh(now) {
		s.logger.Debug("cached data is still fresh")
		return s.cachedSeries(), nil
	}

	series, err := s.fetch(ctx)
	if err != nil {
		return nil, err
	}
	if ctx.Err() != nil {
		// the scheduler was torn down mid-flight, discard the late response
		return nil, ctx.Err()
	}

	s.mu.Lock()
	s.cached = maybe.Some(series)
	s.updatedAt = s.now()
	s.mu.Unlock()

	if series == nil {
		s.logger.Debug("not published yet", slog.String("marketDate", s.marketDate().String()))
	} else {
		s.logger.Info("refreshed", slog.String("marketDate", series.MarketDate.String()))
	}
	return series, nil
}

// NextRefreshInstant schedules the next Decide opportunity: the gate instant
// when we're inside the gate hour and it is still ahead, the next top of the
// hour otherwise. Both carry this instance's fixed jitter.
func (s *Scheduler) NextRefreshInstant() time.Time {
	now := s.now().In(s.loc)
	gate := s.gateInstant(now)
	nextHour := time.Date(now.Year(), now.Month(), now.Day(), now.Hour(), 0, 0, 0, s.loc).
		Add(time.Hour).Add(s.jitter)

	if now.Hour() == s.gateHour && gate.After(now) {
		return gate
	}
	return nextHour
}

// gateInstant is today's none_before time in the reference timezone, offset
// by this instance's jitter.
func (s *Scheduler) gateInstant(now time.Time) time.Time {
	return time.Date(now.Year(), now.Month(), now.Day(), s.gateHour, s.gateMinute, 0, 0, s.loc).
		Add(s.jitter)
}

func (s *Scheduler) cachedSeries() *omie.FetchedSeries {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cached.ValueOrDefault(nil)
}

func (s *Scheduler) isFresh(now time.Time) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.cached.IsValid() || s.cached.Value() == nil {
		// never fetched, or known absent: look again
		return false
	}
	if s.cached.Value().MarketDate != s.marketDate() {
		// date rollover, the held file is for another day
		return false
	}
	if s.updateInterval == 0 {
		// a finalized file for the current date never changes
		return true
	}
	return now.Before(s.updatedAt.Add(s.updateInterval))
}
