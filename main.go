// Package main is the docscrape executable.
//
// Architecture overview:
//   - CLI: cmd builds a cobra root with the scrape subcommand; flags, DOCSCRAPE_* env vars, and an optional
//     YAML file are merged by internal/config (viper).
//   - Startup: internal/app resolves the scraper (definition file or built-in), compiles it once to surface
//     problems, and fails with a diagnostic before any document is read.
//   - Pipeline: a source (CSV report or glob) feeds a bounded in-memory queue consumed by a fixed pool of
//     workers. Each worker compiles its own scraper and turns one document into exactly one outcome.
//   - Output: outcomes are consumed on a single goroutine by internal/sink, which serializes records to stdout,
//     a local file, or GCS and counts failures on the progress tracker.
//   - Observability: zap logs go to stderr; progress events are batched to log, Prometheus, and (optionally)
//     Postgres sinks; an optional status API serves /healthz, /metrics, and /v1/progress; a run summary is
//     published to Pub/Sub when configured.
//
// Exit statuses: 0 on success, 1 on startup failure, 2 when a run aborts, 130 when interrupted.
package main

import (
	"os"

	"github.com/JakeFAU/docscrape/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
