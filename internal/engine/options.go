package engine

import (
	"github.com/rickgao/quotecore/internal/cache"
	"github.com/rickgao/quotecore/internal/market"
	"github.com/rickgao/quotecore/internal/publish"
)

// Option configures an Engine.
type Option func(*Engine)

// WithCache replaces the configured cache backend.
func WithCache(c cache.Cache) Option {
	return func(e *Engine) {
		e.cache = c
	}
}

// WithUpstream replaces the provider REST client.
func WithUpstream(u market.Upstream) Option {
	return func(e *Engine) {
		e.upstream = u
	}
}

// WithKafkaWriter replaces the kafka-go writer used by the publisher. It
// enables publishing even when no brokers are configured.
func WithKafkaWriter(w publish.KafkaWriter) Option {
	return func(e *Engine) {
		e.kafkaWriter = w
	}
}
