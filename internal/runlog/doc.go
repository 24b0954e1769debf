// Package runlog records one diagnostic event per adapter attempt plus run
// lifecycle markers. Events are buffered by a non-blocking Hub and fanned out
// in batches to sinks such as structured logs, Prometheus, an append-only
// JSON-lines file, or Postgres.
package runlog
