// Package spool implements a single-producer/single-consumer byte pipe
// backed by a temporary file, so the parallel transport can let one
// goroutine write a chunk's bytes as they arrive over the network while
// another goroutine reads them out in order, without holding the whole
// chunk in memory.
package spool

import (
	"fmt"
	"io"
	"os"
	"sync"
)

// File is an io.ReadWriteCloser backed by an on-disk temp file: writes
// always append, reads always start from the last read position, and a
// Read blocks until either more data is written or the write side is
// closed.
type File struct {
	mu       sync.Mutex
	notEmpty *sync.Cond

	f *os.File

	read, written int64
	writeDone     bool
	writeErr      error
	torndown      bool
}

// New creates a File backed by a temp file in dir (the system default
// temp directory when dir is empty). The caller must call Close to remove
// the underlying file.
func New(dir string) (*File, error) {
	f, err := os.CreateTemp(dir, "pdfraster-spool-*.tmp")
	if err != nil {
		return nil, fmt.Errorf("spool: creating backing file: %w", err)
	}
	s := &File{f: f}
	s.notEmpty = sync.NewCond(&s.mu)
	return s, nil
}

// Write appends p to the spool and wakes any Read blocked waiting for data.
func (s *File) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.torndown || s.writeDone {
		return 0, fmt.Errorf("spool: write after close")
	}
	if s.writeErr != nil {
		return 0, s.writeErr
	}
	if len(p) == 0 {
		return 0, nil
	}

	if _, err := s.f.Seek(s.written, io.SeekStart); err != nil {
		s.writeErr = fmt.Errorf("spool: seeking write cursor: %w", err)
		return 0, s.writeErr
	}
	n, err := s.f.Write(p)
	if n > 0 {
		s.written += int64(n)
		s.notEmpty.Broadcast()
	}
	if err != nil {
		s.writeErr = fmt.Errorf("spool: write: %w", err)
		return n, s.writeErr
	}
	return n, nil
}

// CloseWrite marks the spool as having no further writes coming. Readers
// drain what remains, then see io.EOF; the backing file is not removed
// until Close.
func (s *File) CloseWrite() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writeDone = true
	s.notEmpty.Broadcast()
}

// Read blocks until at least one byte is available, the write side closes,
// or the spool itself is closed.
func (s *File) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for {
		if s.torndown {
			return 0, io.EOF
		}
		if avail := s.written - s.read; avail > 0 {
			return s.readLocked(p, avail)
		}
		if s.writeDone {
			return 0, io.EOF
		}
		s.notEmpty.Wait()
	}
}

// readLocked copies up to len(p) already-written bytes into p. Callers must
// hold s.mu.
func (s *File) readLocked(p []byte, avail int64) (int, error) {
	want := int64(len(p))
	if want > avail {
		want = avail
	}
	if _, err := s.f.Seek(s.read, io.SeekStart); err != nil {
		return 0, fmt.Errorf("spool: seeking read cursor: %w", err)
	}
	n, err := s.f.Read(p[:want])
	s.read += int64(n)
	if err != nil && err != io.EOF {
		return n, fmt.Errorf("spool: read: %w", err)
	}
	return n, nil
}

// Close tears the spool down, unblocking any pending Read, closing the
// backing file, and removing it from disk. Safe to call more than once.
func (s *File) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.torndown {
		return nil
	}
	s.torndown = true
	s.notEmpty.Broadcast()

	name := s.f.Name()
	closeErr := s.f.Close()
	removeErr := os.Remove(name)
	switch {
	case closeErr != nil && removeErr != nil:
		return fmt.Errorf("spool: close: %v; remove: %v", closeErr, removeErr)
	case closeErr != nil:
		return fmt.Errorf("spool: close: %w", closeErr)
	case removeErr != nil:
		return fmt.Errorf("spool: remove: %w", removeErr)
	}
	return nil
}
