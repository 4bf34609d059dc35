package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

// GetQuote fetches the quote for one symbol.
func (c *Client) GetQuote(ctx context.Context, symbol string) (*QuoteResponse, error) {
	query := url.Values{}
	query.Set("symbol", symbol)

	var resp QuoteResponse
	if err := c.get(ctx, "/quote", query, &resp); err != nil {
		return nil, fmt.Errorf("get quote %s: %w", symbol, err)
	}
	return &resp, nil
}

// GetQuotes fetches quotes for several symbols in one call. Symbols the
// provider reports errors for are omitted from the result and logged.
func (c *Client) GetQuotes(ctx context.Context, symbols []string) (map[string]QuoteResponse, error) {
	if len(symbols) == 0 {
		return map[string]QuoteResponse{}, nil
	}

	query := url.Values{}
	query.Set("symbol", strings.Join(symbols, ","))

	// One symbol yields a bare object; several yield a map keyed by symbol.
	var raw json.RawMessage
	if err := c.get(ctx, "/quote", query, &raw); err != nil {
		return nil, fmt.Errorf("get quotes: %w", err)
	}

	out := make(map[string]QuoteResponse, len(symbols))
	if len(symbols) == 1 {
		var q QuoteResponse
		if err := json.Unmarshal(raw, &q); err != nil {
			return nil, fmt.Errorf("unmarshal quote: %w", err)
		}
		out[symbols[0]] = q
		return out, nil
	}

	var batch map[string]json.RawMessage
	if err := json.Unmarshal(raw, &batch); err != nil {
		return nil, fmt.Errorf("unmarshal quotes: %w", err)
	}
	for sym, msg := range batch {
		var q QuoteResponse
		if err := json.Unmarshal(msg, &q); err != nil {
			c.logger.Warn("skipping malformed quote", "symbol", sym, "error", err)
			continue
		}
		if q.Status == "error" {
			c.logger.Warn("upstream rejected symbol", "symbol", sym, "code", q.Code, "message", q.Message)
			continue
		}
		out[sym] = q
	}
	return out, nil
}

// GetPrice fetches the latest price for one symbol.
func (c *Client) GetPrice(ctx context.Context, symbol string) (*PriceResponse, error) {
	query := url.Values{}
	query.Set("symbol", symbol)

	var resp PriceResponse
	if err := c.get(ctx, "/price", query, &resp); err != nil {
		return nil, fmt.Errorf("get price %s: %w", symbol, err)
	}
	return &resp, nil
}
