package spool

import (
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileWriteThenReadRoundTrips(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Write([]byte("hello "))
	require.NoError(t, err)
	_, err = s.Write([]byte("world"))
	require.NoError(t, err)
	s.CloseWrite()

	got, err := io.ReadAll(s)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(got))
}

func TestFileReadBlocksUntilWrite(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	var wg sync.WaitGroup
	wg.Add(1)
	var got []byte
	var readErr error
	go func() {
		defer wg.Done()
		got, readErr = io.ReadAll(s)
	}()

	time.Sleep(20 * time.Millisecond) // give the reader time to block
	_, err = s.Write([]byte("payload"))
	require.NoError(t, err)
	s.CloseWrite()

	wg.Wait()
	require.NoError(t, readErr)
	assert.Equal(t, "payload", string(got))
}

func TestFileCloseUnblocksPendingRead(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := s.Read(make([]byte, 16))
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, s.Close())

	select {
	case err := <-done:
		assert.ErrorIs(t, err, io.EOF)
	case <-time.After(time.Second):
		t.Fatal("Read did not unblock after Close")
	}
}

func TestFileWriteAfterCloseWriteFails(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	s.CloseWrite()
	_, err = s.Write([]byte("too late"))
	assert.Error(t, err)
}

func TestFileCloseIsIdempotent(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)
	assert.NoError(t, s.Close())
	assert.NoError(t, s.Close())
}
