// Package acquire implements the InputAcquirer: normalising a caller-supplied
// Source (local path, in-memory bytes, or remote URL) into an AcquiredInput
// that the rest of the pipeline can decode from, either fully buffered or
// streamed through a RangeFetcher.
package acquire

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/docker/pdfraster/pkg/internal/utils"
	"github.com/docker/pdfraster/pkg/logging"
	"github.com/docker/pdfraster/pkg/rangefetch"
	"github.com/docker/pdfraster/pkg/rangefetch/parallel"
	"github.com/docker/pdfraster/pkg/rangefetch/resumable"
)

// SourceKind tags which variant a Source holds.
type SourceKind int

const (
	SourceLocalPath SourceKind = iota
	SourceInMemory
	SourceRemote
)

// Source is the caller-supplied input, normalised into a tagged variant.
type Source struct {
	Kind  SourceKind
	Path  string // SourceLocalPath
	Bytes []byte // SourceInMemory
	URL   string // SourceRemote
}

func FromPath(path string) Source  { return Source{Kind: SourceLocalPath, Path: path} }
func FromBytes(b []byte) Source    { return Source{Kind: SourceInMemory, Bytes: b} }
func FromURL(url string) Source    { return Source{Kind: SourceRemote, URL: url} }

// Kind tags which variant an AcquiredInput holds.
type Kind int

const (
	Buffered Kind = iota
	Streamed
)

// AcquiredInput is the immutable result of acquisition: either the full
// document bytes, or a known size plus an initial prefix and a handle to pull
// further byte ranges on demand. Its lifetime is exactly one convert call.
type AcquiredInput struct {
	Kind Kind

	Size int64

	// Buffered fields.
	Bytes        []byte
	TempFilePath string // non-empty if Bytes was materialized via a temp-file download

	// Streamed fields.
	Prefix  []byte
	Fetcher *rangefetch.Fetcher
}

// ErrSourceNotFound indicates a local path is missing/unreadable or a remote
// source returned 404.
var ErrSourceNotFound = errors.New("acquire: source not found")

// Acquirer normalises Sources into AcquiredInputs.
type Acquirer struct {
	log        logging.Logger
	httpClient *http.Client
	tempDir    string
}

// Option configures an Acquirer.
type Option func(*Acquirer)

func WithLogger(log logging.Logger) Option       { return func(a *Acquirer) { a.log = log } }
func WithHTTPClient(c *http.Client) Option        { return func(a *Acquirer) { a.httpClient = c } }
func WithTempDir(dir string) Option               { return func(a *Acquirer) { a.tempDir = dir } }

func New(opts ...Option) *Acquirer {
	a := &Acquirer{
		log:        logging.NewDefault(),
		httpClient: http.DefaultClient,
		tempDir:    os.TempDir(),
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Acquire normalises src. forceBuffered, when true, forces a remote source to
// be fully downloaded (e.g. because the chosen Strategy demands Buffered
// input); it has no effect on LocalPath/InMemory sources, which are always
// trivially "buffered" in the sense the planner cares about.
func (a *Acquirer) Acquire(ctx context.Context, src Source, forceBuffered bool) (*AcquiredInput, error) {
	switch src.Kind {
	case SourceLocalPath:
		return a.acquireLocalPath(src.Path)
	case SourceInMemory:
		return &AcquiredInput{Kind: Buffered, Size: int64(len(src.Bytes)), Bytes: src.Bytes}, nil
	case SourceRemote:
		return a.acquireRemote(ctx, src.URL, forceBuffered)
	default:
		return nil, fmt.Errorf("acquire: unknown source kind %d", src.Kind)
	}
}

func (a *Acquirer) acquireLocalPath(path string) (*AcquiredInput, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrSourceNotFound, path)
		}
		return nil, fmt.Errorf("acquire: stat %s: %w", path, err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%w: %s is not a regular file", ErrSourceNotFound, path)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrSourceNotFound, path, err)
	}
	defer f.Close()

	b, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("acquire: reading %s: %w", path, err)
	}
	return &AcquiredInput{Kind: Buffered, Size: int64(len(b)), Bytes: b}, nil
}

func (a *Acquirer) acquireRemote(ctx context.Context, url string, forceBuffered bool) (*AcquiredInput, error) {
	fetcher := rangefetch.New(url, rangefetch.WithHTTPClient(a.httpClient), rangefetch.WithLogger(a.log))

	totalSize, prefix, complete, err := fetcher.Probe(ctx)
	if err != nil {
		if errors.Is(err, rangefetch.ErrServerRangeUnsupported) {
			return nil, err
		}
		return nil, fmt.Errorf("acquire: probing %s: %w", url, err)
	}

	if complete {
		return &AcquiredInput{Kind: Buffered, Size: totalSize, Bytes: prefix}, nil
	}

	if forceBuffered {
		return a.downloadFull(ctx, url, totalSize)
	}

	return &AcquiredInput{
		Kind:    Streamed,
		Size:    totalSize,
		Prefix:  prefix,
		Fetcher: fetcher,
	}, nil
}

// downloadFull performs a bounded-retry full download of url into a temp
// file, using the parallel transport so large downloads get the benefit of
// concurrent sub-range fetches instead of one serial stream, over the
// resumable transport, which resumes a broken body a bounded number of times.
func (a *Acquirer) downloadFull(ctx context.Context, url string, expectedSize int64) (*AcquiredInput, error) {
	client := &http.Client{Transport: parallel.New(resumable.New(http.DefaultTransport), parallel.WithTempDir(a.tempDir))}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("acquire: building download request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("acquire: downloading %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", ErrSourceNotFound, url)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		return nil, fmt.Errorf("acquire: downloading %s: unexpected status %d", url, resp.StatusCode)
	}

	tmp, err := os.CreateTemp(a.tempDir, "pdfraster-acquire-*.pdf")
	if err != nil {
		return nil, fmt.Errorf("acquire: creating temp file: %w", err)
	}
	path := tmp.Name()
	n, err := io.Copy(tmp, resp.Body)
	closeErr := tmp.Close()
	if err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("acquire: writing temp file: %w", err)
	}
	if closeErr != nil {
		os.Remove(path)
		return nil, fmt.Errorf("acquire: closing temp file: %w", closeErr)
	}

	b, err := os.ReadFile(path)
	if err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("acquire: reading back temp file: %w", err)
	}

	a.log.WithField("bytes", n).Infof("Downloaded full document %s", utils.SanitizeForLog(url))
	return &AcquiredInput{Kind: Buffered, Size: n, Bytes: b, TempFilePath: path}, nil
}

// EnsureBuffered upgrades a Streamed AcquiredInput to Buffered in place by
// fetching whatever bytes beyond Prefix haven't already been pulled, through
// the same Fetcher (and therefore the same chunk cache) the caller may have
// already warmed via a best-effort page-count probe. It is a no-op if the
// input is already Buffered.
func (in *AcquiredInput) EnsureBuffered(ctx context.Context) error {
	if in.Kind == Buffered {
		return nil
	}
	if in.Fetcher == nil {
		return fmt.Errorf("acquire: streamed input has no fetcher to buffer from")
	}
	rest, err := in.Fetcher.Fetch(ctx, int64(len(in.Prefix)), in.Size-1)
	if err != nil {
		return fmt.Errorf("acquire: buffering remaining bytes: %w", err)
	}
	full := make([]byte, 0, in.Size)
	full = append(full, in.Prefix...)
	full = append(full, rest...)
	in.Kind = Buffered
	in.Bytes = full
	return nil
}

// Cleanup removes any temp file materialized by a Buffered AcquiredInput. It
// is safe to call even if no temp file was created.
func (in *AcquiredInput) Cleanup() error {
	if in.TempFilePath == "" {
		return nil
	}
	return os.Remove(in.TempFilePath)
}
