// Package poller runs the periodic update scheduler.
//
// Every interval it collects the subscribed symbols that the stream has not
// refreshed recently, fetches them in batches through the quote source, and
// hands each snapshot to the handler (normally the engine, which records it
// in the subscription registry and fans it out). Symbols missing from a
// batch are simply retried on the next tick.
package poller
