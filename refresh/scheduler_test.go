package refresh

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/angas/omie-go/dates"
	"github.com/angas/omie-go/omie"
)

var cet = mustLoadCET()

func mustLoadCET() *time.Location {
	loc, err := time.LoadLocation("CET")
	if err != nil {
		panic(err)
	}
	return loc
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeFetch struct {
	mu     sync.Mutex
	calls  int
	series *omie.FetchedSeries
	err    error
}

func (f *fakeFetch) Fetch(ctx context.Context) (*omie.FetchedSeries, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.series, f.err
}

func (f *fakeFetch) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func seriesFor(d dates.MarketDate) *omie.FetchedSeries {
	return &omie.FetchedSeries{
		MarketDate: d,
		Hourly:     map[string][]float64{"spot_price_es_hourly": make([]float64, 24)},
	}
}

func newTestScheduler(t *testing.T, clock *fakeClock, factory dates.Factory, fetch FetchFunc, opts Options) *Scheduler {
	t.Helper()
	s, err := New("test", cet, factory, fetch, opts)
	if err != nil {
		t.Fatalf("New() unexpected error: %v", err)
	}
	s.now = clock.Now
	s.jitter = 0
	return s
}

func cetClock(year int, month time.Month, day, hour, minute int) *fakeClock {
	return &fakeClock{now: time.Date(year, month, day, hour, minute, 0, 0, cet)}
}

func TestDecideCachesWithinInterval(t *testing.T) {
	clock := cetClock(2024, time.March, 5, 10, 0)
	today := dates.MarketDate{Year: 2024, Month: time.March, Day: 5}
	fetch := &fakeFetch{series: seriesFor(today)}
	s := newTestScheduler(t, clock, func() dates.MarketDate { return today }, fetch.Fetch,
		Options{UpdateInterval: time.Hour})

	first, err := s.Decide(context.Background())
	if err != nil {
		t.Fatalf("Decide() unexpected error: %v", err)
	}
	if fetch.Calls() != 1 {
		t.Fatalf("expected one fetch, got %d", fetch.Calls())
	}

	clock.Advance(30 * time.Minute)
	second, err := s.Decide(context.Background())
	if err != nil {
		t.Fatalf("Decide() unexpected error: %v", err)
	}
	if fetch.Calls() != 1 {
		t.Errorf("expected no fetch within the update interval, got %d", fetch.Calls())
	}
	if second != first {
		t.Errorf("expected the cached value to be returned unchanged")
	}
}

func TestDecideRefreshesAfterInterval(t *testing.T) {
	clock := cetClock(2024, time.March, 5, 10, 0)
	today := dates.MarketDate{Year: 2024, Month: time.March, Day: 5}
	fetch := &fakeFetch{series: seriesFor(today)}
	s := newTestScheduler(t, clock, func() dates.MarketDate { return today }, fetch.Fetch,
		Options{UpdateInterval: time.Hour})

	if _, err := s.Decide(context.Background()); err != nil {
		t.Fatalf("Decide() unexpected error: %v", err)
	}
	clock.Advance(61 * time.Minute)
	if _, err := s.Decide(context.Background()); err != nil {
		t.Fatalf("Decide() unexpected error: %v", err)
	}
	if fetch.Calls() != 2 {
		t.Errorf("expected a second fetch after the interval elapsed, got %d", fetch.Calls())
	}
}

func TestDecideNeverRefetchesSameDateWithoutInterval(t *testing.T) {
	clock := cetClock(2024, time.March, 5, 1, 0)
	today := dates.MarketDate{Year: 2024, Month: time.March, Day: 5}
	fetch := &fakeFetch{series: seriesFor(today)}
	s := newTestScheduler(t, clock, func() dates.MarketDate { return today }, fetch.Fetch, Options{})

	for i := 0; i < 5; i++ {
		if _, err := s.Decide(context.Background()); err != nil {
			t.Fatalf("Decide() unexpected error: %v", err)
		}
		clock.Advance(4 * time.Hour)
	}
	if fetch.Calls() != 1 {
		t.Errorf("expected exactly one fetch for a finalized date, got %d", fetch.Calls())
	}
}

func TestDecideRefreshesOnDateRollover(t *testing.T) {
	clock := cetClock(2024, time.March, 5, 23, 30)
	var mu sync.Mutex
	current := dates.MarketDate{Year: 2024, Month: time.March, Day: 5}
	factory := func() dates.MarketDate {
		mu.Lock()
		defer mu.Unlock()
		return current
	}
	fetch := &fakeFetch{series: seriesFor(current)}
	s := newTestScheduler(t, clock, factory, fetch.Fetch, Options{UpdateInterval: 24 * time.Hour})

	if _, err := s.Decide(context.Background()); err != nil {
		t.Fatalf("Decide() unexpected error: %v", err)
	}

	// midnight rollover: factory now reports the next date, interval not elapsed
	clock.Advance(time.Hour)
	mu.Lock()
	current = current.AddDays(1)
	mu.Unlock()
	fetch.mu.Lock()
	fetch.series = seriesFor(current)
	fetch.mu.Unlock()

	if _, err := s.Decide(context.Background()); err != nil {
		t.Fatalf("Decide() unexpected error: %v", err)
	}
	if fetch.Calls() != 2 {
		t.Errorf("expected a fetch on date rollover regardless of interval, got %d", fetch.Calls())
	}
}

func TestDecideGate(t *testing.T) {
	tomorrow := dates.MarketDate{Year: 2024, Month: time.March, Day: 6}

	tests := []struct {
		name        string
		hour        int
		minute      int
		wantFetches int
	}{
		{name: "well before the gate", hour: 9, minute: 0, wantFetches: 0},
		{name: "one minute before the gate", hour: 13, minute: 29, wantFetches: 0},
		{name: "exactly at the gate instant", hour: 13, minute: 30, wantFetches: 1},
		{name: "after the gate", hour: 14, minute: 0, wantFetches: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := cetClock(2024, time.March, 5, tt.hour, tt.minute)
			fetch := &fakeFetch{series: seriesFor(tomorrow)}
			s := newTestScheduler(t, clock, func() dates.MarketDate { return tomorrow }, fetch.Fetch,
				Options{NoneBefore: "13:30"})

			series, err := s.Decide(context.Background())
			if err != nil {
				t.Fatalf("Decide() unexpected error: %v", err)
			}
			if fetch.Calls() != tt.wantFetches {
				t.Errorf("expected %d fetches, got %d", tt.wantFetches, fetch.Calls())
			}
			if tt.wantFetches == 0 && series != nil {
				t.Errorf("expected no data while gated, got %+v", series)
			}
		})
	}
}

func TestDecideGateUsesReferenceTimezoneDate(t *testing.T) {
	tomorrow := dates.MarketDate{Year: 2024, Month: time.March, Day: 6}
	fetch := &fakeFetch{series: seriesFor(tomorrow)}

	// 23:30 UTC on March 4 is 00:30 CET on March 5: a fresh reference-tz
	// day has begun, so the 13:30 gate must be closed again even though the
	// UTC date has not rolled over.
	clock := &fakeClock{now: time.Date(2024, time.March, 4, 23, 30, 0, 0, time.UTC)}
	s := newTestScheduler(t, clock, func() dates.MarketDate { return tomorrow }, fetch.Fetch,
		Options{NoneBefore: "13:30"})

	if _, err := s.Decide(context.Background()); err != nil {
		t.Fatalf("Decide() unexpected error: %v", err)
	}
	if fetch.Calls() != 0 {
		t.Errorf("expected the gate to follow the reference timezone date, got %d fetches", fetch.Calls())
	}

	// 23:30 CET, still March 5 in the reference timezone: gate long open.
	clock.Set(time.Date(2024, time.March, 5, 22, 30, 0, 0, time.UTC))
	if _, err := s.Decide(context.Background()); err != nil {
		t.Fatalf("Decide() unexpected error: %v", err)
	}
	if fetch.Calls() != 1 {
		t.Errorf("expected one fetch after the gate opened, got %d", fetch.Calls())
	}
}

func TestDecideNotPublishedBecomesAbsentMarker(t *testing.T) {
	clock := cetClock(2024, time.March, 5, 14, 0)
	tomorrow := dates.MarketDate{Year: 2024, Month: time.March, Day: 6}
	fetch := &fakeFetch{series: nil}
	s := newTestScheduler(t, clock, func() dates.MarketDate { return tomorrow }, fetch.Fetch, Options{})

	if cached := s.Cached(); cached.IsValid() {
		t.Fatalf("expected an unresolved cache before the first fetch")
	}

	series, err := s.Decide(context.Background())
	if err != nil {
		t.Fatalf("Decide() unexpected error: %v", err)
	}
	if series != nil {
		t.Errorf("expected no series when not published")
	}
	cached := s.Cached()
	if !cached.IsValid() || cached.Value() != nil {
		t.Errorf("expected an explicit known-absent marker, got valid=%v", cached.IsValid())
	}

	// an absent marker is never fresh: the next opportunity fetches again
	clock.Advance(time.Hour)
	fetch.mu.Lock()
	fetch.series = seriesFor(tomorrow)
	fetch.mu.Unlock()
	if _, err := s.Decide(context.Background()); err != nil {
		t.Fatalf("Decide() unexpected error: %v", err)
	}
	if fetch.Calls() != 2 {
		t.Errorf("expected a re-fetch after a not-published result, got %d", fetch.Calls())
	}
}

func TestDecidePropagatesFetchErrors(t *testing.T) {
	clock := cetClock(2024, time.March, 5, 14, 0)
	today := dates.MarketDate{Year: 2024, Month: time.March, Day: 5}
	fetch := &fakeFetch{series: seriesFor(today)}
	s := newTestScheduler(t, clock, func() dates.MarketDate { return today }, fetch.Fetch, Options{})

	if _, err := s.Decide(context.Background()); err != nil {
		t.Fatalf("Decide() unexpected error: %v", err)
	}
	before := s.Cached().Value()

	clock.Advance(25 * time.Hour)
	fetch.mu.Lock()
	fetch.series = nil
	fetch.err = context.DeadlineExceeded
	fetch.mu.Unlock()

	// force staleness via rollover of the held date
	s.marketDate = func() dates.MarketDate { return today.AddDays(1) }
	if _, err := s.Decide(context.Background()); err == nil {
		t.Fatalf("Decide() expected the fetch error to propagate")
	}
	if s.Cached().Value() != before {
		t.Errorf("expected the cache to be left untouched on fetch failure")
	}
}

func TestDecideDiscardsLateFetchAfterCancel(t *testing.T) {
	clock := cetClock(2024, time.March, 5, 14, 0)
	today := dates.MarketDate{Year: 2024, Month: time.March, Day: 5}

	// the caller tears down while the fetch is in flight; the response
	// arrives anyway and must not be written to the cache
	ctx, cancel := context.WithCancel(context.Background())
	fetch := func(fctx context.Context) (*omie.FetchedSeries, error) {
		cancel()
		return seriesFor(today), nil
	}
	s := newTestScheduler(t, clock, func() dates.MarketDate { return today }, fetch, Options{})

	if _, err := s.Decide(ctx); err != context.Canceled {
		t.Fatalf("Decide() expected context.Canceled, got %v", err)
	}
	if s.Cached().IsValid() {
		t.Errorf("expected the cache to stay unresolved after a cancelled fetch")
	}
}

func TestDecideCoalescesConcurrentCalls(t *testing.T) {
	clock := cetClock(2024, time.March, 5, 14, 0)
	today := dates.MarketDate{Year: 2024, Month: time.March, Day: 5}

	started := make(chan struct{})
	release := make(chan struct{})
	var calls sync.WaitGroup
	var fetches int
	var mu sync.Mutex
	fetch := func(ctx context.Context) (*omie.FetchedSeries, error) {
		mu.Lock()
		fetches++
		first := fetches == 1
		mu.Unlock()
		if first {
			close(started)
			<-release
		}
		return seriesFor(today), nil
	}

	s := newTestScheduler(t, clock, func() dates.MarketDate { return today }, fetch, Options{})

	for i := 0; i < 3; i++ {
		calls.Add(1)
		go func() {
			defer calls.Done()
			if _, err := s.Decide(context.Background()); err != nil {
				t.Errorf("Decide() unexpected error: %v", err)
			}
		}()
	}

	<-started
	time.Sleep(50 * time.Millisecond) // let the remaining calls join the flight
	close(release)
	calls.Wait()

	mu.Lock()
	defer mu.Unlock()
	if fetches != 1 {
		t.Errorf("expected concurrent calls to share one fetch, got %d", fetches)
	}
}

func TestNextRefreshInstant(t *testing.T) {
	today := dates.MarketDate{Year: 2024, Month: time.March, Day: 6}

	tests := []struct {
		name     string
		now      time.Time
		expected time.Time
	}{
		{
			name:     "inside the gate hour before the gate",
			now:      time.Date(2024, time.March, 5, 13, 10, 0, 0, cet),
			expected: time.Date(2024, time.March, 5, 13, 30, 0, 0, cet),
		},
		{
			name:     "inside the gate hour after the gate",
			now:      time.Date(2024, time.March, 5, 13, 45, 0, 0, cet),
			expected: time.Date(2024, time.March, 5, 14, 0, 0, 0, cet),
		},
		{
			name:     "outside the gate hour",
			now:      time.Date(2024, time.March, 5, 9, 20, 0, 0, cet),
			expected: time.Date(2024, time.March, 5, 10, 0, 0, 0, cet),
		},
		{
			name:     "last hour of the day rolls to midnight",
			now:      time.Date(2024, time.March, 5, 23, 59, 0, 0, cet),
			expected: time.Date(2024, time.March, 6, 0, 0, 0, 0, cet),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := &fakeClock{now: tt.now}
			fetch := &fakeFetch{}
			s := newTestScheduler(t, clock, func() dates.MarketDate { return today }, fetch.Fetch,
				Options{NoneBefore: "13:30"})

			if got := s.NextRefreshInstant(); !got.Equal(tt.expected) {
				t.Errorf("NextRefreshInstant() expected %v, got %v", tt.expected, got)
			}
		})
	}
}

func TestNextRefreshInstantCarriesJitter(t *testing.T) {
	clock := cetClock(2024, time.March, 5, 9, 20)
	fetch := &fakeFetch{}
	s := newTestScheduler(t, clock, func() dates.MarketDate { return dates.MarketDate{} }, fetch.Fetch, Options{})
	s.jitter = 2 * time.Second

	expected := time.Date(2024, time.March, 5, 10, 0, 2, 0, cet)
	if got := s.NextRefreshInstant(); !got.Equal(expected) {
		t.Errorf("NextRefreshInstant() expected %v, got %v", expected, got)
	}
}

func TestNewRejectsBadGateStrings(t *testing.T) {
	tests := []string{"25:00", "13:60", "1330", "aa:bb", "13:30:00"}
	for _, noneBefore := range tests {
		t.Run(noneBefore, func(t *testing.T) {
			_, err := New("test", cet, func() dates.MarketDate { return dates.MarketDate{} },
				func(ctx context.Context) (*omie.FetchedSeries, error) { return nil, nil },
				Options{NoneBefore: noneBefore})
			if err == nil {
				t.Errorf("New() expected an error for none_before %q", noneBefore)
			}
		})
	}
}

func TestNewJitterWithinBounds(t *testing.T) {
	for i := 0; i < 20; i++ {
		s, err := New("test", cet, func() dates.MarketDate { return dates.MarketDate{} },
			func(ctx context.Context) (*omie.FetchedSeries, error) { return nil, nil }, Options{})
		if err != nil {
			t.Fatalf("New() unexpected error: %v", err)
		}
		if s.jitter < 0 || s.jitter >= maxScheduleJitter {
			t.Errorf("jitter %v outside [0, %v)", s.jitter, maxScheduleJitter)
		}
	}
}
