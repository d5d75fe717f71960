// Package engine compiles scraper definitions into executable scrapers.
//
// A compiled Scraper owns precompiled CSS matchers and a private JavaScript
// VM for eval expressions, so it must not be shared between goroutines.
// Workers compile their own copy once and reuse it for every document.
package engine
