package omie

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/text/encoding/charmap"

	"github.com/angas/omie-go/dates"
)

// DefaultBaseURL is where OMIE publishes its daily result files.
const DefaultBaseURL = "https://www.omie.es/sites/default/files/dados"

const (
	spotFeedCode       = "INT_PBC_EV_H_1"
	adjustmentFeedCode = "INT_MAJ_EV_H"
)

// AdjustmentEndDate is the date on which the MIBEL adjustment mechanism
// (MAJ) stopped applying; no adjustment file exists from this date on.
var AdjustmentEndDate = dates.MarketDate{Year: 2024, Month: time.January, Day: 1}

// Client fetches and parses OMIE result files. A fetch returning (nil, nil)
// means the file for that date has not been published yet; any error is a
// transport or format failure for the caller's retry policy to deal with.
type Client struct {
	logger  *slog.Logger
	http    *http.Client
	baseURL string
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		logger:  slog.Default().With("module", "omie"),
		http:    &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

func (c *Client) FetchSpot(ctx context.Context, marketDate dates.MarketDate) (*FetchedSeries, error) {
	return c.fetch(ctx, spotFeedCode, marketDate, spotShortNames)
}

func (c *Client) FetchAdjustment(ctx context.Context, marketDate dates.MarketDate) (*FetchedSeries, error) {
	if !marketDate.Before(AdjustmentEndDate) {
		// the adjustment mechanism ended in 2023, don't bother asking
		return nil, nil
	}
	return c.fetch(ctx, adjustmentFeedCode, marketDate, adjustmentShortNames)
}

func (c *Client) fetch(ctx context.Context, feedCode string, marketDate dates.MarketDate, shortNames map[string]string) (*FetchedSeries, error) {
	source := c.sourceURL(feedCode, marketDate)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", source, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		c.logger.Debug("file not published yet",
			slog.String("marketDate", marketDate.String()),
			slog.String("source", source))
		return nil, nil
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code %d fetching %s", resp.StatusCode, source)
	}

	// OMIE files are ISO-8859-1, not UTF-8 (labels carry accented characters)
	body, err := io.ReadAll(charmap.ISO8859_1.NewDecoder().Reader(resp.Body))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	return Parse(string(body), marketDate, source, shortNames, time.Now().UTC())
}

func (c *Client) sourceURL(feedCode string, marketDate dates.MarketDate) string {
	dc := dates.Decompose(marketDate)
	return fmt.Sprintf("%s/AGNO_%d/MES_%s/TXT/%s_%s_%s.TXT",
		c.baseURL, dc.Year, dc.Month, feedCode, dc.Composite, dc.Composite)
}
