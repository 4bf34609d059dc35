// Package subscription tracks which (tenant, subscriber) pairs want which
// symbols and fans out quote snapshots to them.
//
// Each subscriber owns a bounded queue. A full queue drops its oldest
// snapshot to make room, so a slow reader sees the most recent values.
// Registry state is mutated under a single lock that is never held while
// delivering.
package subscription
