package omie

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/angas/omie-go/convert"
	"github.com/angas/omie-go/dates"
)

// Parse turns the raw text of one OMIE file into a FetchedSeries. Line 0 is
// the header (kept verbatim), line 1 is a units line (skipped), remaining
// lines are `;`-delimited rows: label first, then up to 25 comma-decimal
// values. Short rows are valid (23-hour DST days, trailing empty fields);
// rows with an empty label are dropped; labels found in the short-name table
// additionally get a daily aggregate under a stable key. Unknown labels pass
// through untouched so table revisions never break ingestion.
func Parse(raw string, marketDate dates.MarketDate, source string, shortNames map[string]string, fetchedAt time.Time) (*FetchedSeries, error) {
	lines := strings.Split(strings.ReplaceAll(raw, "\r\n", "\n"), "\n")
	if len(lines) < 2 {
		return nil, fmt.Errorf("%w: expected header and units lines, got %d line(s)", ErrMalformedFeed, len(lines))
	}

	series := &FetchedSeries{
		UpdatedAt:  fetchedAt,
		MarketDate: marketDate,
		Source:     source,
		Header:     strings.TrimSpace(lines[0]),
		Hourly:     make(map[string][]float64),
		Daily:      make(map[string]float64),
	}

	for _, line := range lines[2:] {
		if strings.TrimSpace(line) == "" {
			continue
		}

		fields := strings.Split(line, ";")
		label := strings.TrimSpace(fields[0])
		if label == "" {
			continue
		}

		values, err := parseHourlyFields(fields[1:])
		if err != nil {
			return nil, fmt.Errorf("row %q: %w", label, err)
		}

		key, known := shortNames[label]
		if !known {
			series.Hourly[label] = values
			continue
		}

		if len(values) == 0 {
			return nil, fmt.Errorf("%w: row %q has no values", ErrMalformedFeed, label)
		}

		series.Hourly[key+"_hourly"] = values
		if strings.Contains(label, "(EUR/") {
			series.Daily[key+"_day_average"] = convert.TwoDecimals(convert.Mean(values))
		} else {
			series.Daily[key+"_day_total"] = convert.OneDecimal(convert.Sum(values))
		}
	}

	return series, nil
}

func parseHourlyFields(fields []string) ([]float64, error) {
	values := make([]float64, 0, MaxHoursPerDay)
	for i, field := range fields {
		if i >= MaxHoursPerDay {
			break
		}
		field = strings.TrimSpace(field)
		if field == "" {
			// absent trailing hour (short DST day), not zero
			continue
		}
		v, err := strconv.ParseFloat(strings.Replace(field, ",", ".", 1), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: field %d is not a number: %q", ErrMalformedFeed, i+1, field)
		}
		values = append(values, v)
	}
	return values, nil
}
