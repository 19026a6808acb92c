package workerpool

import "errors"

// ErrPoolClosed indicates that Lease was called after the Pool's Run loop
// had already exited.
var ErrPoolClosed = errors.New("worker pool closed")

// ErrAcquireCanceled indicates that a Lease request's context was canceled
// while waiting for a free slot.
var ErrAcquireCanceled = errors.New("worker pool: lease wait canceled")
