// Package content loads documents from disk, transparently decompressing
// and decoding them to UTF-8 text.
package content

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/saintfish/chardet"
	"golang.org/x/text/encoding/htmlindex"

	"github.com/JakeFAU/docscrape/internal/scrape"
)

// EncodingAuto asks the reader to sniff the charset.
const EncodingAuto = "auto"

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Reader implements scrape.ContentReader for local files.
type Reader struct {
	defaultEncoding string
	maxBytes        int64
}

var _ scrape.ContentReader = (*Reader)(nil)

// NewReader builds a reader. defaultEncoding applies to items that do not
// carry their own; maxBytes caps decompressed size (0 means unlimited).
func NewReader(defaultEncoding string, maxBytes int64) *Reader {
	return &Reader{defaultEncoding: defaultEncoding, maxBytes: maxBytes}
}

// errCorrupt marks a file that opened but could not be decompressed.
var errCorrupt = errors.New("corrupt compressed stream")

// Read loads path and decodes it. Missing or unreadable files fail with
// scrape.ErrContentUnavailable; corrupt archives and undecodable bytes with
// scrape.ErrDecoding.
func (r *Reader) Read(path, encoding string) (string, error) {
	raw, err := r.load(path)
	if errors.Is(err, errCorrupt) {
		return "", scrape.NewItemError(scrape.ErrDecoding, path, err)
	}
	if err != nil {
		return "", scrape.NewItemError(scrape.ErrContentUnavailable, path, err)
	}
	if encoding == "" {
		encoding = r.defaultEncoding
	}
	text, err := Decode(raw, encoding)
	if err != nil {
		return "", scrape.NewItemError(scrape.ErrDecoding, path, err)
	}
	return text, nil
}

func (r *Reader) load(path string) ([]byte, error) {
	if path == "" {
		return nil, errors.New("item has neither a path nor inline content")
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("open: %w", fs.ErrNotExist)
		}
		return nil, fmt.Errorf("open: %w", err)
	}
	defer func() { _ = f.Close() }()

	var (
		src        io.Reader = f
		compressed bool
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".gz", ".gzip":
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("gunzip: %w: %w", errCorrupt, err)
		}
		defer func() { _ = gz.Close() }()
		src, compressed = gz, true
	case ".zst", ".zstd":
		dec, err := zstd.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("zstd: %w: %w", errCorrupt, err)
		}
		rc := dec.IOReadCloser()
		defer func() { _ = rc.Close() }()
		src, compressed = rc, true
	}
	if r.maxBytes > 0 {
		src = io.LimitReader(src, r.maxBytes+1)
	}
	data, err := io.ReadAll(src)
	if err != nil {
		if compressed {
			return nil, fmt.Errorf("decompress: %w: %w", errCorrupt, err)
		}
		return nil, fmt.Errorf("read: %w", err)
	}
	if r.maxBytes > 0 && int64(len(data)) > r.maxBytes {
		return nil, fmt.Errorf("document exceeds %d bytes", r.maxBytes)
	}
	return data, nil
}

// Decode converts raw bytes to a string using the named encoding. An empty
// name means strict UTF-8; "auto" sniffs the charset.
func Decode(raw []byte, encoding string) (string, error) {
	name := strings.ToLower(strings.TrimSpace(encoding))
	if name == EncodingAuto {
		detected, err := sniff(raw)
		if err != nil {
			return "", err
		}
		name = detected
	}
	switch name {
	case "", "utf-8", "utf8":
		raw = bytes.TrimPrefix(raw, utf8BOM)
		if !utf8.Valid(raw) {
			return "", errors.New("invalid utf-8 byte sequence")
		}
		return string(raw), nil
	}
	enc, err := htmlindex.Get(name)
	if err != nil {
		return "", fmt.Errorf("unknown encoding %q: %w", encoding, err)
	}
	out, err := enc.NewDecoder().Bytes(raw)
	if err != nil {
		return "", fmt.Errorf("decode %s: %w", name, err)
	}
	return string(bytes.TrimPrefix(out, utf8BOM)), nil
}

func sniff(raw []byte) (string, error) {
	if len(raw) == 0 || utf8.Valid(raw) {
		return "utf-8", nil
	}
	res, err := chardet.NewHtmlDetector().DetectBest(raw)
	if err != nil {
		return "", fmt.Errorf("detect charset: %w", err)
	}
	return strings.ToLower(res.Charset), nil
}
