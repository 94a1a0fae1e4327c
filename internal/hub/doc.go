// Package hub fans state-change events out to subscribers without ever
// blocking the publisher.
//
// Every subscriber owns an independent bounded queue. When a queue is
// full the hub drops that subscriber's oldest queued event, counts the
// drop, and keeps going; other subscribers and the ingestion path are
// unaffected. A subscriber that wants a consistent starting point can
// request an initial snapshot, delivered through its queue ahead of
// any incremental events.
package hub
