// Package sinks implements run-log consumers: structured logging, Prometheus
// counters, an append-only JSON-lines file, and a repository-backed store.
package sinks
