package api

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
)

// SymbolSearch finds instruments matching query.
func (c *Client) SymbolSearch(ctx context.Context, query string, limit int) ([]APISymbol, error) {
	q := url.Values{}
	q.Set("symbol", query)
	if limit > 0 {
		q.Set("outputsize", strconv.Itoa(limit))
	}

	var resp SymbolSearchResponse
	if err := c.get(ctx, "/symbol_search", q, &resp); err != nil {
		return nil, fmt.Errorf("symbol search %q: %w", query, err)
	}
	if limit > 0 && len(resp.Data) > limit {
		resp.Data = resp.Data[:limit]
	}
	return resp.Data, nil
}
