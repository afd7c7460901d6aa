// Package api hosts the operator HTTP server that runs alongside a pipeline run.
// Routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/progress for the live batch and shard counters.
//   - GET /v1/runs/{run_id} and /v1/runs/{run_id}/shards for the run ledger
//     via the RunRepository interface.
package api
