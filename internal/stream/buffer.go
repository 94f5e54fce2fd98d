package stream

import (
	"context"
	"errors"
	"time"
)

// ErrDrainTimeout is returned by Buffer.Next when the head chunk's fetch does
// not complete within the drain timeout. It indicates a backend that stopped
// responding mid-stream; the session treats it as unrecoverable.
var ErrDrainTimeout = errors.New("stream: timed out waiting for next chunk")

// chunkResult is a buffer slot for one chunk. It is reserved by the scheduler
// before the fetch starts and completed exactly once when the fetch finishes.
type chunkResult struct {
	spec  chunkSpec
	data  []byte
	err   error
	ready chan struct{}
}

func (c *chunkResult) complete(data []byte, err error) {
	c.data = data
	c.err = err
	close(c.ready)
}

// Buffer is the reorder/backpressure stage between concurrent chunk fetches
// and the response writer. Slots are reserved in sequence order, so draining
// the underlying channel yields chunks in sequence order regardless of the
// order in which fetches complete. The channel capacity bounds in-flight plus
// buffered chunks: a consumer that stops reading blocks Reserve, which stops
// the scheduler, which stops backend reads.
type Buffer struct {
	slots chan *chunkResult
}

// NewBuffer returns a buffer holding at most capacity undrained chunks.
func NewBuffer(capacity int) *Buffer {
	return &Buffer{slots: make(chan *chunkResult, capacity)}
}

// reserve enqueues a slot for the next chunk in sequence, blocking while the
// buffer is at capacity. The caller must arrange for complete to be called on
// the returned slot exactly once.
func (b *Buffer) reserve(ctx context.Context, spec chunkSpec) (*chunkResult, error) {
	c := &chunkResult{spec: spec, ready: make(chan struct{})}
	select {
	case b.slots <- c:
		return c, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// closeIntake marks that no further slots will be reserved. Next returns
// ok=false once the remaining slots are drained.
func (b *Buffer) closeIntake() {
	close(b.slots)
}

// next returns the next chunk in sequence, waiting until its fetch has
// completed. It returns ok=false when the intake is closed and every slot has
// been drained.
func (b *Buffer) next(ctx context.Context, wait time.Duration) (c *chunkResult, ok bool, err error) {
	select {
	case c, ok = <-b.slots:
		if !ok {
			return nil, false, nil
		}
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-c.ready:
		return c, true, nil
	case <-ctx.Done():
		return nil, false, ctx.Err()
	case <-timer.C:
		return nil, false, ErrDrainTimeout
	}
}
