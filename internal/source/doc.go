// Package source produces work items lazily from a glob pattern or from a
// CSV report listing files and inline documents.
package source
