// Package scrape defines the core types shared by the scraping pipeline: work
// items, outcomes, records, the evaluation context handed to compiled
// scrapers, and the sentinel errors that classify failures.
package scrape
