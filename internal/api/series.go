package api

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
)

// GetTimeSeries fetches historical bars for a symbol.
func (c *Client) GetTimeSeries(ctx context.Context, symbol string, opts TimeSeriesOptions) (*TimeSeriesResponse, error) {
	query := url.Values{}
	query.Set("symbol", symbol)

	interval := opts.Interval
	if interval == "" {
		interval = "1day"
	}
	query.Set("interval", interval)
	if opts.OutputSize > 0 {
		query.Set("outputsize", strconv.Itoa(opts.OutputSize))
	}

	var resp TimeSeriesResponse
	if err := c.get(ctx, "/time_series", query, &resp); err != nil {
		return nil, fmt.Errorf("get time series %s: %w", symbol, err)
	}
	return &resp, nil
}
