package api

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rickgao/quotecore/internal/model"
)

var errEmptyNumber = errors.New("empty numeric field")

// ParseDecimal parses a provider numeric string exactly.
func ParseDecimal(s NumString) (decimal.Decimal, error) {
	str := strings.TrimSpace(string(s))
	if str == "" {
		return decimal.Zero, errEmptyNumber
	}
	d, err := decimal.NewFromString(str)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse %q: %w", str, err)
	}
	return d, nil
}

// ParseFloat parses a provider numeric string.
func ParseFloat(s NumString) (float64, error) {
	d, err := ParseDecimal(s)
	if err != nil {
		return 0, err
	}
	return d.InexactFloat64(), nil
}

// OptionalFloat parses an optional numeric field, returning 0 for empty or
// invalid input.
func OptionalFloat(s NumString) float64 {
	f, err := ParseFloat(s)
	if err != nil {
		return 0
	}
	return f
}

// ParseVolume returns the integer part of a volume field, 0 if absent.
func ParseVolume(s NumString) int64 {
	d, err := ParseDecimal(s)
	if err != nil || d.IsNegative() {
		return 0
	}
	return d.IntPart()
}

var datetimeLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02",
	time.RFC3339,
}

// ParseDatetime parses the provider's datetime strings as UTC.
func ParseDatetime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range datetimeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized datetime %q", s)
}

// ToSnapshot converts a quote to a snapshot. The close price is required;
// change fields and volume default to zero. The quote timestamp is used when
// present, otherwise now.
func (q *QuoteResponse) ToSnapshot(now time.Time) (model.QuoteSnapshot, error) {
	symbol := model.NormalizeSymbol(q.Symbol)
	if symbol == "" {
		return model.QuoteSnapshot{}, errors.New("quote without symbol")
	}

	price, err := ParseDecimal(q.Close)
	if err != nil {
		return model.QuoteSnapshot{}, fmt.Errorf("quote %s close: %w", symbol, err)
	}
	if price.IsNegative() {
		return model.QuoteSnapshot{}, fmt.Errorf("quote %s: negative price %s", symbol, price)
	}

	ts := now
	if secs, err := ParseDecimal(q.Timestamp); err == nil && secs.IsPositive() {
		ts = time.Unix(secs.IntPart(), 0).UTC()
	}

	return model.QuoteSnapshot{
		Symbol:        symbol,
		Price:         price.InexactFloat64(),
		Change:        OptionalFloat(q.Change),
		ChangePercent: OptionalFloat(q.PercentChange),
		Volume:        ParseVolume(q.Volume),
		Timestamp:     ts,
		Source:        model.SourceREST,
	}, nil
}

// ToSnapshot converts a price-only response to a snapshot for symbol.
func (p *PriceResponse) ToSnapshot(symbol string, now time.Time) (model.QuoteSnapshot, error) {
	price, err := ParseFloat(p.Price)
	if err != nil {
		return model.QuoteSnapshot{}, fmt.Errorf("price %s: %w", symbol, err)
	}
	return model.QuoteSnapshot{
		Symbol:    model.NormalizeSymbol(symbol),
		Price:     price,
		Timestamp: now,
		Source:    model.SourceREST,
	}, nil
}

// ToModel converts one bar. Open, high, low and close are required.
func (b *APIBar) ToModel() (model.HistoricalBar, error) {
	dt, err := ParseDatetime(b.Datetime)
	if err != nil {
		return model.HistoricalBar{}, err
	}

	var vals [4]float64
	for i, s := range []NumString{b.Open, b.High, b.Low, b.Close} {
		if vals[i], err = ParseFloat(s); err != nil {
			return model.HistoricalBar{}, fmt.Errorf("bar %s: %w", b.Datetime, err)
		}
	}

	return model.HistoricalBar{
		Datetime: dt,
		Open:     vals[0],
		High:     vals[1],
		Low:      vals[2],
		Close:    vals[3],
		Volume:   ParseVolume(b.Volume),
	}, nil
}

// Bars converts the series to bars in ascending time order, skipping
// malformed entries.
func (r *TimeSeriesResponse) Bars() []model.HistoricalBar {
	bars := make([]model.HistoricalBar, 0, len(r.Values))
	for i := range r.Values {
		bar, err := r.Values[i].ToModel()
		if err != nil {
			continue
		}
		bars = append(bars, bar)
	}
	slices.SortFunc(bars, func(a, b model.HistoricalBar) int {
		return a.Datetime.Compare(b.Datetime)
	})
	return bars
}

// ToModel converts a search match.
func (s *APISymbol) ToModel() model.SymbolMatch {
	return model.SymbolMatch{
		Symbol:   s.Symbol,
		Name:     s.InstrumentName,
		Type:     s.InstrumentType,
		Exchange: s.Exchange,
		Country:  s.Country,
		Currency: s.Currency,
	}
}
