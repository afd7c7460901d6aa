// Package sinks implements progress consumers for Prometheus, the run ledger,
// and structured logging. Each sink satisfies progress.Sink.
package sinks
