package connection

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/rickgao/quotecore/internal/api"
	"github.com/rickgao/quotecore/internal/model"
)

// errNotPrice marks well-formed events that are not price ticks.
var errNotPrice = errors.New("not a price event")

// ParseTick converts a raw price event to a snapshot. Events with a missing
// symbol or a missing, non-numeric, or negative price are rejected; bad
// optional fields are treated as zero.
func ParseTick(data []byte, receivedAt time.Time) (model.QuoteSnapshot, error) {
	var ev PriceEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return model.QuoteSnapshot{}, fmt.Errorf("decode price event: %w", err)
	}
	if ev.Event != EventPrice {
		return model.QuoteSnapshot{}, errNotPrice
	}

	symbol := model.NormalizeSymbol(ev.Symbol)
	if symbol == "" {
		return model.QuoteSnapshot{}, errors.New("price event without symbol")
	}
	price, err := api.ParseFloat(ev.Price)
	if err != nil {
		return model.QuoteSnapshot{}, fmt.Errorf("price event %s: %w", symbol, err)
	}
	if price < 0 {
		return model.QuoteSnapshot{}, fmt.Errorf("price event %s: invalid price %v", symbol, price)
	}

	volume := api.ParseVolume(ev.DayVolume)
	if volume == 0 {
		volume = api.ParseVolume(ev.Volume)
	}

	ts := receivedAt
	if sec, err := strconv.ParseInt(string(ev.Timestamp), 10, 64); err == nil && sec > 0 {
		ts = time.Unix(sec, 0)
	}

	return model.QuoteSnapshot{
		Symbol:        symbol,
		Price:         price,
		Change:        api.OptionalFloat(ev.Change),
		ChangePercent: api.OptionalFloat(ev.PercentChange),
		Volume:        volume,
		Timestamp:     ts.UTC(),
		Source:        model.SourceStream,
	}, nil
}
