// Package outputsink delivers encoded pages to their final destination:
// files on disk, retained in-memory buffers, or objects uploaded to a
// remote blob store. Each mode bounds its own delivery concurrency; only the
// object-store mode retries a failed item. A single page's delivery failure
// never aborts its siblings.
package outputsink

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	digest "github.com/opencontainers/go-digest"

	"github.com/docker/pdfraster/pkg/encode"
	"github.com/docker/pdfraster/pkg/logging"
)

// Mode selects which concrete Sink a Config builds.
type Mode string

const (
	ModeFile        Mode = "file"
	ModeBuffer      Mode = "buffer"
	ModeObjectStore Mode = "object_store"
)

// DeliveryResult reports the outcome of delivering one encoded page.
// Digest is a content digest of the delivered bytes, useful for verifying
// idempotent re-runs without changing SinkRef's meaning.
type DeliveryResult struct {
	PageIndex int
	WidthPx   int
	HeightPx  int
	Success   bool
	SinkRef   string // file path, object-store key, or "" for buffer mode
	Digest    string
	Bytes     []byte // populated only in buffer mode
	Error     error
}

// OutputError reports that a specific page failed to deliver. It never
// aborts delivery of sibling pages.
type OutputError struct {
	PageIndex int
	Err       error
}

func (e *OutputError) Error() string {
	return fmt.Sprintf("output failed (page %d): %v", e.PageIndex, e.Err)
}

func (e *OutputError) Unwrap() error { return e.Err }

// Sink delivers one EncodedPage at a time. Concurrency across pages is the
// caller's responsibility (see Concurrency); a Sink implementation need not
// be safe for concurrent DeliverOne calls beyond what Concurrency advertises
// unless documented otherwise.
type Sink interface {
	// DeliverOne writes or uploads one page and returns its DeliveryResult.
	// It never returns an error for a per-page failure; the failure is
	// recorded on the result itself instead.
	DeliverOne(ctx context.Context, page encode.EncodedPage, ext, contentType string) DeliveryResult
	// Concurrency is this Sink's recommended maximum number of simultaneous
	// DeliverOne calls.
	Concurrency() int
}

// Config selects a Mode and carries its mode-specific settings.
type Config struct {
	Mode Mode

	// File mode.
	OutputDir string
	Prefix    string

	// ObjectStore mode.
	ObjectStore ObjectStoreConfig
	KeyPrefix   string

	Log logging.Logger
}

// New constructs the Sink named by cfg.Mode.
func New(cfg Config) (Sink, error) {
	log := cfg.Log
	if log == nil {
		log = logging.NewDefault()
	}
	switch cfg.Mode {
	case ModeFile:
		if cfg.OutputDir == "" {
			return nil, fmt.Errorf("outputsink: file mode requires OutputDir")
		}
		if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
			return nil, fmt.Errorf("outputsink: creating output dir: %w", err)
		}
		return &fileSink{dir: cfg.OutputDir, prefix: cfg.Prefix, log: log}, nil
	case ModeBuffer:
		return &bufferSink{}, nil
	case ModeObjectStore:
		sink, err := newS3ObjectStore(cfg.ObjectStore, cfg.KeyPrefix, log)
		if err != nil {
			return nil, fmt.Errorf("outputsink: constructing object store client: %w", err)
		}
		return sink, nil
	default:
		return nil, fmt.Errorf("outputsink: unknown mode %q", cfg.Mode)
	}
}

func digestOf(b []byte) string {
	return digest.FromBytes(b).String()
}

func pageFileName(prefix string, pageIndex int, ext string) string {
	if prefix == "" {
		prefix = "page"
	}
	return fmt.Sprintf("%s_%d.%s", prefix, pageIndex, ext)
}

func pageObjectKey(keyPrefix string, pageIndex int, ext string) string {
	name := fmt.Sprintf("page_%d.%s", pageIndex, ext)
	if keyPrefix == "" {
		return name
	}
	return filepath.ToSlash(filepath.Join(keyPrefix, name))
}
