package dates

import (
	"fmt"
	"time"
)

const dateLayout = "2006-01-02"

// MarketDate is the calendar date an OMIE result file pertains to. It has no
// time component; the market publishes one file per source per date.
type MarketDate struct {
	Year  int
	Month time.Month
	Day   int
}

func (d MarketDate) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, d.Month, d.Day)
}

func (d MarketDate) IsZero() bool {
	return d == MarketDate{}
}

func (d MarketDate) Before(other MarketDate) bool {
	if d.Year != other.Year {
		return d.Year < other.Year
	}
	if d.Month != other.Month {
		return d.Month < other.Month
	}
	return d.Day < other.Day
}

// Midnight returns the first instant of the date in the given location.
func (d MarketDate) Midnight(loc *time.Location) time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, loc)
}

func (d MarketDate) AddDays(days int) MarketDate {
	return FromTime(d.Midnight(time.UTC).AddDate(0, 0, days))
}

func FromTime(t time.Time) MarketDate {
	y, m, day := t.Date()
	return MarketDate{Year: y, Month: m, Day: day}
}

func FromString(str string) (MarketDate, error) {
	t, err := time.Parse(dateLayout, str)
	if err != nil {
		return MarketDate{}, fmt.Errorf("parsing market date %q: %w", str, err)
	}
	return FromTime(t), nil
}

// Components holds a market date formatted for use in OMIE file names.
type Components struct {
	Date      MarketDate
	Year      int
	Month     string // zero-padded to width 2
	Day       string // zero-padded to width 2
	Composite string // dd_MM_yyyy
}

func Decompose(d MarketDate) Components {
	month := fmt.Sprintf("%02d", d.Month)
	day := fmt.Sprintf("%02d", d.Day)
	return Components{
		Date:      d,
		Year:      d.Year,
		Month:     month,
		Day:       day,
		Composite: fmt.Sprintf("%s_%s_%04d", day, month, d.Year),
	}
}

// Factory returns the market date the current instant corresponds to in some
// caller-chosen semantic. Factories are invoked fresh on every use because
// the answer changes at midnight in the reference timezone.
type Factory func() MarketDate

func TodayIn(loc *time.Location) Factory {
	return func() MarketDate { return FromTime(time.Now().In(loc)) }
}

func TomorrowIn(loc *time.Location) Factory {
	return func() MarketDate { return FromTime(time.Now().In(loc)).AddDays(1) }
}

func YesterdayIn(loc *time.Location) Factory {
	return func() MarketDate { return FromTime(time.Now().In(loc)).AddDays(-1) }
}
