package poller

import (
	"context"
	"errors"
	"reflect"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/rickgao/quotecore/internal/market"
	"github.com/rickgao/quotecore/internal/model"
	"github.com/rickgao/quotecore/internal/subscription"
)

func newTestPoller(t *testing.T, cfg Config, quotes QuoteSource, symbols SymbolSource, handler SnapshotHandler) *Poller {
	t.Helper()
	p := New(cfg, quotes, symbols, handler, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	p.ctx = ctx
	return p
}

func TestPoller_DeliversToSubscriber(t *testing.T) {
	ctrl := gomock.NewController(t)

	registry := subscription.NewRegistry(4, nil)
	sub, err := registry.Subscribe("AAPL", "t1")
	require.NoError(t, err)

	quotes := NewMockQuoteSource(ctrl)
	quotes.EXPECT().
		RefreshQuotes(gomock.Any(), []string{"AAPL"}).
		Return(map[string]model.QuoteSnapshot{
			"AAPL": {Symbol: "AAPL", Price: 190.12, Change: 1.5, Source: model.SourceREST},
		}, nil).
		Times(1)

	handler := SnapshotHandlerFunc(func(s model.QuoteSnapshot) error {
		registry.Publish(s)
		return nil
	})

	p := newTestPoller(t, Config{Interval: time.Hour}, quotes, registry, handler)
	stats := p.pollAll()

	assert.Equal(t, 1, stats.Symbols)
	assert.Equal(t, int64(1), stats.Delivered)
	assert.Zero(t, stats.Missing)

	select {
	case got := <-sub.Updates():
		assert.Equal(t, "AAPL", got.Symbol)
		assert.Equal(t, 190.12, got.Price)
		assert.Equal(t, 1.5, got.Change)
	default:
		t.Fatal("subscriber received nothing")
	}
	select {
	case extra := <-sub.Updates():
		t.Fatalf("unexpected second delivery: %+v", extra)
	default:
	}

	e, ok := registry.Entry("AAPL")
	require.True(t, ok)
	require.NotNil(t, e.Last)
	assert.Equal(t, 190.12, e.Last.Price)
	assert.Equal(t, 1.5, e.Last.Change)
}

func TestPoller_Batching(t *testing.T) {
	ctrl := gomock.NewController(t)

	symbols := NewMockSymbolSource(ctrl)
	symbols.EXPECT().
		DueSymbols(time.Hour).
		Return([]string{"A", "B", "C", "D", "E"})

	var calls atomic.Int32
	quotes := NewMockQuoteSource(ctrl)
	quotes.EXPECT().
		RefreshQuotes(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, batch []string) (map[string]model.QuoteSnapshot, error) {
			calls.Add(1)
			if len(batch) > 2 {
				t.Errorf("batch size = %d, want <= 2", len(batch))
			}
			out := make(map[string]model.QuoteSnapshot, len(batch))
			for _, s := range batch {
				out[s] = model.QuoteSnapshot{Symbol: s, Price: 1}
			}
			return out, nil
		}).
		Times(3)

	var handled atomic.Int32
	handler := SnapshotHandlerFunc(func(model.QuoteSnapshot) error {
		handled.Add(1)
		return nil
	})

	p := newTestPoller(t, Config{Interval: time.Hour, BatchSize: 2, Concurrency: 3}, quotes, symbols, handler)
	stats := p.pollAll()

	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, int32(5), handled.Load())
	assert.Equal(t, 3, stats.Batches)
	assert.Equal(t, int64(5), stats.Delivered)
}

func TestPoller_MissingSymbolsAreReported(t *testing.T) {
	ctrl := gomock.NewController(t)

	symbols := NewMockSymbolSource(ctrl)
	symbols.EXPECT().DueSymbols(gomock.Any()).Return([]string{"AAPL", "MSFT"})

	quotes := NewMockQuoteSource(ctrl)
	quotes.EXPECT().
		RefreshQuotes(gomock.Any(), []string{"AAPL", "MSFT"}).
		Return(map[string]model.QuoteSnapshot{"AAPL": {Symbol: "AAPL", Price: 1}}, nil)

	handler := NewMockSnapshotHandler(ctrl)
	handler.EXPECT().HandleSnapshot(model.QuoteSnapshot{Symbol: "AAPL", Price: 1}).Return(nil)

	p := newTestPoller(t, Config{Interval: time.Hour}, quotes, symbols, handler)
	stats := p.pollAll()

	assert.Equal(t, int64(1), stats.Delivered)
	assert.Equal(t, int64(1), stats.Missing)
	assert.Zero(t, stats.Failed)
}

func TestPoller_RateLimitedCycle(t *testing.T) {
	ctrl := gomock.NewController(t)

	symbols := NewMockSymbolSource(ctrl)
	symbols.EXPECT().DueSymbols(gomock.Any()).Return([]string{"AAPL"})

	quotes := NewMockQuoteSource(ctrl)
	quotes.EXPECT().
		RefreshQuotes(gomock.Any(), gomock.Any()).
		Return(map[string]model.QuoteSnapshot{}, market.ErrRateLimited)

	// No HandleSnapshot expectation: any call fails the test.
	handler := NewMockSnapshotHandler(ctrl)

	p := newTestPoller(t, Config{Interval: time.Hour}, quotes, symbols, handler)
	stats := p.pollAll()

	assert.Equal(t, int64(1), stats.RateLimited)
	assert.Zero(t, stats.Failed)
	assert.Equal(t, int64(1), stats.Missing)
}

func TestPoller_UpstreamFailureIsContained(t *testing.T) {
	ctrl := gomock.NewController(t)

	symbols := NewMockSymbolSource(ctrl)
	symbols.EXPECT().DueSymbols(gomock.Any()).Return([]string{"A", "B"})

	quotes := NewMockQuoteSource(ctrl)
	quotes.EXPECT().
		RefreshQuotes(gomock.Any(), []string{"A"}).
		Return(nil, errors.New("boom"))
	quotes.EXPECT().
		RefreshQuotes(gomock.Any(), []string{"B"}).
		Return(map[string]model.QuoteSnapshot{"B": {Symbol: "B"}}, nil)

	handler := SnapshotHandlerFunc(func(model.QuoteSnapshot) error { return nil })

	p := newTestPoller(t, Config{Interval: time.Hour, BatchSize: 1}, quotes, symbols, handler)
	stats := p.pollAll()

	assert.Equal(t, int64(1), stats.Failed)
	assert.Equal(t, int64(1), stats.Delivered)
}

func TestPoller_IdleCycleSkipsUpstream(t *testing.T) {
	ctrl := gomock.NewController(t)

	symbols := NewMockSymbolSource(ctrl)
	symbols.EXPECT().DueSymbols(gomock.Any()).Return(nil)
	quotes := NewMockQuoteSource(ctrl)

	p := newTestPoller(t, Config{Interval: time.Hour}, quotes, symbols, nil)
	stats := p.pollAll()

	assert.Zero(t, stats.Symbols)
	assert.Equal(t, uint64(1), p.Cycles())
}

func TestPoller_Concurrency(t *testing.T) {
	ctrl := gomock.NewController(t)

	var syms []string
	for i := 0; i < 20; i++ {
		syms = append(syms, "SYM-"+string(rune('A'+i)))
	}
	symbols := NewMockSymbolSource(ctrl)
	symbols.EXPECT().DueSymbols(gomock.Any()).Return(syms)

	var inFlight, maxInFlight atomic.Int32
	quotes := NewMockQuoteSource(ctrl)
	quotes.EXPECT().
		RefreshQuotes(gomock.Any(), gomock.Any()).
		DoAndReturn(func(context.Context, []string) (map[string]model.QuoteSnapshot, error) {
			current := inFlight.Add(1)
			defer inFlight.Add(-1)
			for {
				old := maxInFlight.Load()
				if current <= old || maxInFlight.CompareAndSwap(old, current) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			return nil, nil
		}).
		Times(20)

	p := newTestPoller(t, Config{Interval: time.Hour, BatchSize: 1, Concurrency: 3}, quotes, symbols, nil)
	p.pollAll()

	if got := maxInFlight.Load(); got > 3 {
		t.Errorf("maxInFlight = %d, want <= 3", got)
	}
}

func TestPoller_StartStop(t *testing.T) {
	ctrl := gomock.NewController(t)

	symbols := NewMockSymbolSource(ctrl)
	symbols.EXPECT().DueSymbols(gomock.Any()).Return([]string{"AAPL"}).MinTimes(1)

	quotes := NewMockQuoteSource(ctrl)
	quotes.EXPECT().
		RefreshQuotes(gomock.Any(), gomock.Any()).
		Return(map[string]model.QuoteSnapshot{"AAPL": {Symbol: "AAPL"}}, nil).
		MinTimes(1)

	var called atomic.Bool
	handler := SnapshotHandlerFunc(func(model.QuoteSnapshot) error {
		called.Store(true)
		return nil
	})

	p := New(Config{Interval: 50 * time.Millisecond}, quotes, symbols, handler, nil)

	ctx := context.Background()
	require.NoError(t, p.Start(ctx))

	require.Eventually(t, called.Load, time.Second, 10*time.Millisecond)

	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	require.NoError(t, p.Stop(stopCtx))

	_, ok := p.LastCycle()
	assert.True(t, ok)
}

func TestChunk(t *testing.T) {
	tests := []struct {
		in   []string
		size int
		want [][]string
	}{
		{nil, 2, nil},
		{[]string{"A"}, 2, [][]string{{"A"}}},
		{[]string{"A", "B"}, 2, [][]string{{"A", "B"}}},
		{[]string{"A", "B", "C"}, 2, [][]string{{"A", "B"}, {"C"}}},
	}
	for _, tt := range tests {
		got := chunk(tt.in, tt.size)
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("chunk(%v, %d) = %v, want %v", tt.in, tt.size, got, tt.want)
		}
	}
}
