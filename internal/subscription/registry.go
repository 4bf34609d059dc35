package subscription

import (
	"errors"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rickgao/quotecore/internal/metrics"
	"github.com/rickgao/quotecore/internal/model"
)

// ErrInvalidSymbol is returned for an empty symbol.
var ErrInvalidSymbol = errors.New("invalid symbol")

// ErrClosed is returned after Close.
var ErrClosed = errors.New("registry closed")

// ErrUnsubscribed is returned when re-adding a subscriber whose queue was closed.
var ErrUnsubscribed = errors.New("subscriber already unsubscribed")

// DefaultBufferSize is the per-subscriber queue length.
const DefaultBufferSize = 16

type entry struct {
	symbol       string
	subs         map[uuid.UUID]*Subscriber
	last         *model.QuoteSnapshot
	lastDelivery time.Time
	lastStream   time.Time
}

// Entry is a read-only view of a symbol's subscription state.
type Entry struct {
	Symbol       string               `json:"symbol"`
	Subscribers  int                  `json:"subscribers"`
	Tenants      []string             `json:"tenants"`
	Last         *model.QuoteSnapshot `json:"last,omitempty"`
	LastDelivery time.Time            `json:"last_delivery"`
}

// Delivery describes the outcome of one Publish.
type Delivery struct {
	Snapshot  model.QuoteSnapshot
	Tenants   []string // distinct tenants subscribed at publish time
	Delivered int
	Dropped   int
}

// Registry maps symbols to their subscribers.
type Registry struct {
	bufferSize int
	logger     *slog.Logger
	now        func() time.Time

	mu      sync.RWMutex
	entries map[string]*entry
	seq     uint64
	closed  bool

	// Coalesced signal that the symbol set changed.
	changed chan struct{}
}

// NewRegistry creates a Registry with the given per-subscriber queue length.
func NewRegistry(bufferSize int, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	if bufferSize < 1 {
		bufferSize = DefaultBufferSize
	}
	return &Registry{
		bufferSize: bufferSize,
		logger:     logger.With("component", "subscription"),
		now:        time.Now,
		entries:    make(map[string]*entry),
		changed:    make(chan struct{}, 1),
	}
}

// Subscribe creates a subscriber for (symbol, tenant) and registers it.
func (r *Registry) Subscribe(symbol, tenantID string) (*Subscriber, error) {
	symbol = model.NormalizeSymbol(symbol)
	if symbol == "" {
		return nil, ErrInvalidSymbol
	}
	if tenantID == "" {
		tenantID = model.DefaultTenantID
	}
	sub := newSubscriber(symbol, tenantID, r.bufferSize)
	if err := r.Add(sub); err != nil {
		return nil, err
	}
	return sub, nil
}

// Add registers sub. Adding an already registered subscriber is a no-op.
func (r *Registry) Add(sub *Subscriber) error {
	if sub.isClosed() {
		return ErrUnsubscribed
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}

	e, ok := r.entries[sub.symbol]
	if !ok {
		e = &entry{symbol: sub.symbol, subs: make(map[uuid.UUID]*Subscriber)}
		r.entries[sub.symbol] = e
	}
	_, exists := e.subs[sub.id]
	e.subs[sub.id] = sub
	symbols := len(r.entries)
	r.mu.Unlock()

	if exists {
		return nil
	}
	metrics.RegistrySymbols.Set(float64(symbols))
	if !ok {
		r.signal()
		r.logger.Debug("symbol added", "symbol", sub.symbol)
	}
	r.logger.Debug("subscribed", "symbol", sub.symbol, "tenant", sub.tenant, "subscriber", sub.id)
	return nil
}

// Unsubscribe removes sub and closes its queue. The symbol's entry is
// deleted with its last subscriber. Unsubscribing twice is a no-op.
func (r *Registry) Unsubscribe(sub *Subscriber) {
	if sub == nil {
		return
	}

	r.mu.Lock()
	e, ok := r.entries[sub.symbol]
	removedEntry := false
	if ok {
		if _, found := e.subs[sub.id]; found {
			delete(e.subs, sub.id)
			if len(e.subs) == 0 {
				delete(r.entries, sub.symbol)
				removedEntry = true
			}
		}
	}
	symbols := len(r.entries)
	r.mu.Unlock()

	sub.close()
	metrics.RegistrySymbols.Set(float64(symbols))
	if removedEntry {
		r.signal()
		r.logger.Debug("symbol removed", "symbol", sub.symbol)
	}
}

// Publish records snap as the symbol's latest value and delivers it to
// every current subscriber. Snapshots for symbols nobody subscribes to are
// discarded and reported with ok=false.
func (r *Registry) Publish(snap model.QuoteSnapshot) (Delivery, bool) {
	snap.Symbol = model.NormalizeSymbol(snap.Symbol)
	now := r.now()

	r.mu.Lock()
	e, ok := r.entries[snap.Symbol]
	if !ok || r.closed {
		r.mu.Unlock()
		return Delivery{}, false
	}
	r.seq++
	snap.Seq = r.seq
	stored := snap
	e.last = &stored
	e.lastDelivery = now
	if snap.Source == model.SourceStream {
		e.lastStream = now
	}
	subs := make([]*Subscriber, 0, len(e.subs))
	for _, s := range e.subs {
		subs = append(subs, s)
	}
	r.mu.Unlock()

	d := Delivery{Snapshot: snap}
	for _, s := range subs {
		ok, dropped := s.deliver(snap)
		if ok {
			d.Delivered++
		}
		if dropped {
			d.Dropped++
		}
		if !slices.Contains(d.Tenants, s.tenant) {
			d.Tenants = append(d.Tenants, s.tenant)
		}
	}
	sort.Strings(d.Tenants)

	metrics.Deliveries.Add(float64(d.Delivered))
	if d.Dropped > 0 {
		metrics.DeliveryDrops.Add(float64(d.Dropped))
	}
	return d, true
}

// Prime delivers an initial value to sub alone. If the entry already holds
// a snapshot at least as new as snap, that one is sent instead; otherwise
// snap becomes the entry's latest value. A subscriber that already received
// live data is not primed with an older or equal value. It reports whether
// anything was delivered.
func (r *Registry) Prime(sub *Subscriber, snap model.QuoteSnapshot) bool {
	snap.Symbol = model.NormalizeSymbol(snap.Symbol)
	if sub == nil || snap.Symbol != sub.symbol {
		return false
	}

	r.mu.Lock()
	e, ok := r.entries[sub.symbol]
	if !ok || r.closed {
		r.mu.Unlock()
		return false
	}
	if _, registered := e.subs[sub.id]; !registered {
		r.mu.Unlock()
		return false
	}
	if e.last != nil && !e.last.Timestamp.Before(snap.Timestamp) {
		if sub.Delivered() > 0 {
			r.mu.Unlock()
			return false
		}
		snap = *e.last
	} else {
		r.seq++
		snap.Seq = r.seq
		stored := snap
		e.last = &stored
	}
	r.mu.Unlock()

	delivered, dropped := sub.deliver(snap)
	if delivered {
		metrics.Deliveries.Inc()
	}
	if dropped {
		metrics.DeliveryDrops.Inc()
	}
	return delivered
}

// Symbols returns every subscribed symbol, sorted.
func (r *Registry) Symbols() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.entries))
	for sym := range r.entries {
		out = append(out, sym)
	}
	r.mu.RUnlock()
	sort.Strings(out)
	return out
}

// DueSymbols returns subscribed symbols without a stream update within
// window, sorted. A non-positive window returns every symbol.
func (r *Registry) DueSymbols(window time.Duration) []string {
	if window <= 0 {
		return r.Symbols()
	}
	cutoff := r.now().Add(-window)

	r.mu.RLock()
	out := make([]string, 0, len(r.entries))
	for sym, e := range r.entries {
		if e.lastStream.After(cutoff) {
			continue
		}
		out = append(out, sym)
	}
	r.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Entry returns a view of symbol's state.
func (r *Registry) Entry(symbol string) (Entry, bool) {
	symbol = model.NormalizeSymbol(symbol)

	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[symbol]
	if !ok {
		return Entry{}, false
	}
	view := Entry{
		Symbol:       e.symbol,
		Subscribers:  len(e.subs),
		LastDelivery: e.lastDelivery,
	}
	if e.last != nil {
		last := *e.last
		view.Last = &last
	}
	for _, s := range e.subs {
		if !slices.Contains(view.Tenants, s.tenant) {
			view.Tenants = append(view.Tenants, s.tenant)
		}
	}
	sort.Strings(view.Tenants)
	return view, true
}

// Len returns the number of subscribed symbols.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// SubscriberCount returns the number of registered subscribers.
func (r *Registry) SubscriberCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, e := range r.entries {
		n += len(e.subs)
	}
	return n
}

// Changed signals, coalesced, that the subscribed symbol set changed.
func (r *Registry) Changed() <-chan struct{} {
	return r.changed
}

func (r *Registry) signal() {
	select {
	case r.changed <- struct{}{}:
	default:
	}
}

// Close unsubscribes everyone. Later Subscribe calls fail with ErrClosed.
func (r *Registry) Close() {
	r.mu.Lock()
	r.closed = true
	var subs []*Subscriber
	for _, e := range r.entries {
		for _, s := range e.subs {
			subs = append(subs, s)
		}
	}
	r.entries = make(map[string]*entry)
	r.mu.Unlock()

	for _, s := range subs {
		s.close()
	}
	metrics.RegistrySymbols.Set(0)
}
