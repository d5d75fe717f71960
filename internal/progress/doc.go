// Package progress tracks how far a scraping run has got. The Tracker keeps
// the live counters and renders them to the terminal; the Hub batches run
// events on a background goroutine and fans them out to pluggable sinks such
// as logs, Prometheus metrics, or the run ledger.
package progress
