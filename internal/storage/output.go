// Package storage opens the destinations scrape output is written to.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	gcsclient "cloud.google.com/go/storage"

	"github.com/JakeFAU/docscrape/internal/storage/gcs"
	"github.com/JakeFAU/docscrape/internal/storage/local"
)

// Stdout is the destination name for standard output.
const Stdout = "-"

// OpenOutput returns a writer for dest: "-" (or "") for stdout, gs://bucket/object
// for Cloud Storage, and anything else as a local path. Closing the writer
// commits the output; stdout itself is never closed.
func OpenOutput(ctx context.Context, dest string, contentType string) (io.WriteCloser, error) {
	switch {
	case dest == "" || dest == Stdout:
		return nopCloser{os.Stdout}, nil
	case strings.HasPrefix(dest, "gs://"):
		return openGCS(ctx, dest, contentType)
	default:
		return openLocal(ctx, dest)
	}
}

// ContentType maps an output format name to a MIME type.
func ContentType(format string) string {
	if format == "jsonl" || format == "ndjson" {
		return "application/x-ndjson"
	}
	return "text/csv"
}

func openLocal(ctx context.Context, dest string) (io.WriteCloser, error) {
	abs, err := filepath.Abs(dest)
	if err != nil {
		return nil, fmt.Errorf("resolve output path: %w", err)
	}
	store, err := local.New(local.Config{BaseDir: filepath.Dir(abs)})
	if err != nil {
		return nil, fmt.Errorf("open output dir: %w", err)
	}
	w, err := store.Create(ctx, filepath.Base(abs))
	if err != nil {
		return nil, fmt.Errorf("open output: %w", err)
	}
	return w, nil
}

func openGCS(ctx context.Context, dest string, contentType string) (io.WriteCloser, error) {
	bucket, object, err := gcs.ParseURI(dest)
	if err != nil {
		return nil, err
	}
	client, err := gcsclient.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	store, err := gcs.New(client, gcs.Config{Bucket: bucket})
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	w, err := store.Create(ctx, object, contentType)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	return &clientWriter{WriteCloser: w, client: client}, nil
}

type clientWriter struct {
	io.WriteCloser
	client *gcsclient.Client
}

func (w *clientWriter) Close() error {
	return errors.Join(w.WriteCloser.Close(), w.client.Close())
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }
