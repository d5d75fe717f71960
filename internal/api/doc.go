// Package api hosts the optional status HTTP server of a scrape run. Routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/progress for the live counters of the current run.
//   - GET /v1/runs/{run_id} for a run recorded in the ledger.
package api
