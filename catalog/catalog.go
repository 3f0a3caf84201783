// Package catalog wires one refresh scheduler per (source kind × date
// window) pair and drives each with a re-armed one-shot timer at its own
// next-refresh instant. It is the only owner of the scheduler set;
// consumers get read-only access to the cached series and may register for
// update notifications.
package catalog

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/angas/omie-go/dates"
	"github.com/angas/omie-go/omie"
	"github.com/angas/omie-go/refresh"
)

type Source string

const (
	SourceSpot       Source = "spot"
	SourceAdjustment Source = "adjustment"
)

type Window string

const (
	WindowYesterday Window = "yesterday"
	WindowToday     Window = "today"
	WindowTomorrow  Window = "tomorrow"
)

type key struct {
	source Source
	window Window
}

// UpdateListener is notified after a scheduler replaced its cached series.
type UpdateListener func(source Source, window Window)

// Options configures the scheduler set.
type Options struct {
	// NoneBefore gates the tomorrow windows: day-ahead results cannot exist
	// before the auction closes (13:30 reference time plus publication lag).
	NoneBefore string
	// UpdateInterval re-fetch spacing for the today windows; intraday
	// sessions revise the current date's file during the day. Zero disables
	// re-fetching.
	UpdateInterval time.Duration
}

type Catalog struct {
	logger     *slog.Logger
	schedulers map[key]*refresh.Scheduler

	mu        sync.Mutex
	listeners []UpdateListener
}

func New(client *omie.Client, refLoc *time.Location, opts Options) (*Catalog, error) {
	c := &Catalog{
		logger:     slog.Default().With("module", "catalog"),
		schedulers: make(map[key]*refresh.Scheduler),
	}

	windows := []struct {
		window  Window
		factory dates.Factory
		opts    refresh.Options
	}{
		{WindowYesterday, dates.YesterdayIn(refLoc), refresh.Options{}},
		{WindowToday, dates.TodayIn(refLoc), refresh.Options{UpdateInterval: opts.UpdateInterval}},
		{WindowTomorrow, dates.TomorrowIn(refLoc), refresh.Options{NoneBefore: opts.NoneBefore}},
	}
	fetchers := map[Source]func(context.Context, dates.MarketDate) (*omie.FetchedSeries, error){
		SourceSpot:       client.FetchSpot,
		SourceAdjustment: client.FetchAdjustment,
	}

	for source, fetchDate := range fetchers {
		for _, w := range windows {
			factory, fetchDate := w.factory, fetchDate
			fetch := func(ctx context.Context) (*omie.FetchedSeries, error) {
				// the factory is evaluated at fetch time, never cached
				return fetchDate(ctx, factory())
			}
			s, err := refresh.New(string(source)+"_"+string(w.window), refLoc, factory, fetch, w.opts)
			if err != nil {
				return nil, err
			}
			c.schedulers[key{source, w.window}] = s
		}
	}

	return c, nil
}

// Series returns the latest cached series for a (source, window) pair, nil
// while nothing is held or the file is known to be unpublished.
func (c *Catalog) Series(source Source, window Window) *omie.FetchedSeries {
	s, ok := c.schedulers[key{source, window}]
	if !ok {
		return nil
	}
	return s.Cached().ValueOrDefault(nil)
}

// OnUpdate registers a listener called whenever any scheduler replaces its
// cached series. Listeners must be registered before Run.
func (c *Catalog) OnUpdate(l UpdateListener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, l)
}

// Run starts one refresh loop per scheduler and blocks until the context is
// cancelled. Each loop decides immediately, then sleeps until its
// scheduler's next refresh instant.
func (c *Catalog) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for k, s := range c.schedulers {
		wg.Add(1)
		go func(k key, s *refresh.Scheduler) {
			defer wg.Done()
			c.runOne(ctx, k, s)
		}(k, s)
	}
	wg.Wait()
}

func (c *Catalog) runOne(ctx context.Context, k key, s *refresh.Scheduler) {
	for {
		before := s.Cached().ValueOrDefault(nil)
		if _, err := s.Decide(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			// failures surface here and are retried at the next scheduled
			// opportunity; the scheduler itself never retries
			c.logger.Error("refresh failed",
				slog.String("scheduler", s.Name()),
				slog.Any("error", err))
		} else if after := s.Cached().ValueOrDefault(nil); after != before {
			c.notify(k)
		}

		timer := time.NewTimer(time.Until(s.NextRefreshInstant()))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (c *Catalog) notify(k key) {
	c.mu.Lock()
	listeners := make([]UpdateListener, len(c.listeners))
	copy(listeners, c.listeners)
	c.mu.Unlock()

	for _, l := range listeners {
		l(k.source, k.window)
	}
}
