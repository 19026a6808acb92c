package portable

import (
	"context"
	"fmt"

	"github.com/docker/pdfraster/pkg/acquire"
)

// randomAccess is the minimal byte-addressable view the portable decoder
// needs over an AcquiredInput, whether it is fully buffered or streamed
// through a RangeFetcher. Reads are always range-bounded so the decoder
// never needs a byte it doesn't ask for by name. The native (cgo) decoder has
// no such on-demand path: it downloads the whole document before opening it.
type randomAccess interface {
	Size() int64
	ReadAt(ctx context.Context, off, length int64) ([]byte, error)
}

func newRandomAccess(in *acquire.AcquiredInput) (randomAccess, error) {
	switch in.Kind {
	case acquire.Buffered:
		return &bufferedSource{data: in.Bytes}, nil
	case acquire.Streamed:
		return &streamedSource{size: in.Size, prefix: in.Prefix, fetcher: in.Fetcher}, nil
	default:
		return nil, fmt.Errorf("portable: unknown acquired input kind %d", in.Kind)
	}
}

type bufferedSource struct {
	data []byte
}

func (b *bufferedSource) Size() int64 { return int64(len(b.data)) }

func (b *bufferedSource) ReadAt(_ context.Context, off, length int64) ([]byte, error) {
	if off < 0 || off > int64(len(b.data)) {
		return nil, fmt.Errorf("portable: read offset %d out of range (size %d)", off, len(b.data))
	}
	end := off + length
	if end > int64(len(b.data)) {
		end = int64(len(b.data))
	}
	return b.data[off:end], nil
}

type streamedSource struct {
	size    int64
	prefix  []byte
	fetcher interface {
		Fetch(ctx context.Context, start, endInclusive int64) ([]byte, error)
	}
}

func (s *streamedSource) Size() int64 { return s.size }

func (s *streamedSource) ReadAt(ctx context.Context, off, length int64) ([]byte, error) {
	end := off + length
	if end > s.size {
		end = s.size
	}
	if end <= off {
		return nil, nil
	}
	// Serve entirely from the already-fetched prefix when possible, so those
	// bytes are not downloaded again.
	if end <= int64(len(s.prefix)) {
		return s.prefix[off:end], nil
	}
	return s.fetcher.Fetch(ctx, off, end-1)
}
