package api

import (
	"bytes"
	"encoding/json"
)

// NumString holds a numeric field the provider may send as a JSON string
// or a JSON number. Null and absent fields are empty.
type NumString string

func (n *NumString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*n = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*n = NumString(s)
		return nil
	}
	var num json.Number
	if err := json.Unmarshal(data, &num); err != nil {
		return err
	}
	*n = NumString(num)
	return nil
}

// QuoteResponse from GET /quote
type QuoteResponse struct {
	Symbol        string    `json:"symbol"`
	Name          string    `json:"name"`
	Exchange      string    `json:"exchange"`
	Currency      string    `json:"currency"`
	Datetime      string    `json:"datetime"`
	Timestamp     NumString `json:"timestamp"`
	Open          NumString `json:"open"`
	High          NumString `json:"high"`
	Low           NumString `json:"low"`
	Close         NumString `json:"close"`
	Volume        NumString `json:"volume"`
	PreviousClose NumString `json:"previous_close"`
	Change        NumString `json:"change"`
	PercentChange NumString `json:"percent_change"`
	IsMarketOpen  bool      `json:"is_market_open"`

	// Set on per-symbol errors inside a batch response.
	Code    int    `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
	Status  string `json:"status,omitempty"`
}

// PriceResponse from GET /price
type PriceResponse struct {
	Price NumString `json:"price"`
}

// TimeSeriesResponse from GET /time_series
type TimeSeriesResponse struct {
	Meta   TimeSeriesMeta `json:"meta"`
	Values []APIBar       `json:"values"`
	Status string         `json:"status"`
}

// TimeSeriesMeta describes a time series.
type TimeSeriesMeta struct {
	Symbol           string `json:"symbol"`
	Interval         string `json:"interval"`
	Currency         string `json:"currency"`
	ExchangeTimezone string `json:"exchange_timezone"`
	Exchange         string `json:"exchange"`
	Type             string `json:"type"`
}

// APIBar is one candle, newest first in provider responses.
type APIBar struct {
	Datetime string    `json:"datetime"`
	Open     NumString `json:"open"`
	High     NumString `json:"high"`
	Low      NumString `json:"low"`
	Close    NumString `json:"close"`
	Volume   NumString `json:"volume"`
}

// SymbolSearchResponse from GET /symbol_search
type SymbolSearchResponse struct {
	Data   []APISymbol `json:"data"`
	Status string      `json:"status"`
}

// APISymbol is a symbol search match.
type APISymbol struct {
	Symbol           string `json:"symbol"`
	InstrumentName   string `json:"instrument_name"`
	Exchange         string `json:"exchange"`
	MICCode          string `json:"mic_code"`
	ExchangeTimezone string `json:"exchange_timezone"`
	InstrumentType   string `json:"instrument_type"`
	Country          string `json:"country"`
	Currency         string `json:"currency"`
}

// TimeSeriesOptions configures a GetTimeSeries request.
type TimeSeriesOptions struct {
	Interval   string // e.g. 1min, 1h, 1day
	OutputSize int
}
