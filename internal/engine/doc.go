// Package engine wires the market data distribution engine together.
//
// An Engine owns the database manager, cache, upstream client, subscription
// registry, update scheduler, streaming channel, snapshot writer and Kafka
// publisher. Every snapshot, from the scheduler or the stream, flows through
// one dispatch path: registry fan-out, then persistence for each subscribed
// tenant, then export.
package engine
