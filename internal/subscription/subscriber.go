package subscription

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/rickgao/quotecore/internal/model"
)

// Subscriber is one listener for one symbol.
type Subscriber struct {
	id     uuid.UUID
	tenant string
	symbol string
	ch     chan model.QuoteSnapshot

	mu     sync.Mutex
	closed bool

	delivered atomic.Uint64
	dropped   atomic.Uint64
}

func newSubscriber(symbol, tenant string, buffer int) *Subscriber {
	if buffer < 1 {
		buffer = 1
	}
	return &Subscriber{
		id:     uuid.New(),
		tenant: tenant,
		symbol: symbol,
		ch:     make(chan model.QuoteSnapshot, buffer),
	}
}

func (s *Subscriber) ID() uuid.UUID   { return s.id }
func (s *Subscriber) Tenant() string  { return s.tenant }
func (s *Subscriber) Symbol() string  { return s.symbol }
func (s *Subscriber) Dropped() uint64 { return s.dropped.Load() }

// Delivered returns the number of snapshots queued for this subscriber.
func (s *Subscriber) Delivered() uint64 { return s.delivered.Load() }

// Updates returns the snapshot queue. It is closed on unsubscribe.
func (s *Subscriber) Updates() <-chan model.QuoteSnapshot { return s.ch }

// deliver enqueues snap, evicting the oldest queued snapshot when full.
// It reports whether anything was dropped.
func (s *Subscriber) deliver(snap model.QuoteSnapshot) (ok, dropped bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false, false
	}

	for {
		select {
		case s.ch <- snap:
			s.delivered.Add(1)
			return true, dropped
		default:
		}
		select {
		case <-s.ch:
			dropped = true
			s.dropped.Add(1)
		default:
		}
	}
}

// close closes the queue once. Pending snapshots remain readable.
func (s *Subscriber) close() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.closed = true
	close(s.ch)
	return true
}

func (s *Subscriber) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
