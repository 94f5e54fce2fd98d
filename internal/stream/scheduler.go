package stream

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/filegate/filegate/internal/source"
)

// scheduler covers a chunk plan with bounded-concurrency prefetch reads. It
// reserves buffer slots in sequence order and launches at most width fetch
// tasks at a time; each task fills one logical chunk with backend calls of at
// most callSize bytes and completes its slot when done.
type scheduler struct {
	src      source.Source
	ref      string
	plan     plan
	buf      *Buffer
	width    int
	callSize int64

	retries     int
	backoff     time.Duration
	maxBackoff  time.Duration
	readTimeout time.Duration

	log zerolog.Logger
}

// run drives the prefetch pipeline until the plan is covered or ctx is
// cancelled, then closes the buffer intake. Fetch tasks for reserved slots
// always complete their slot, so the consumer never waits on an abandoned
// chunk.
func (s *scheduler) run(ctx context.Context) {
	tokens := make(chan struct{}, s.width)
	var wg sync.WaitGroup

	for _, spec := range s.plan.chunks {
		slot, err := s.buf.reserve(ctx, spec)
		if err != nil {
			break
		}
		launched := false
		select {
		case tokens <- struct{}{}:
			launched = true
		case <-ctx.Done():
			slot.complete(nil, ctx.Err())
		}
		if !launched {
			break
		}

		wg.Add(1)
		go func(spec chunkSpec, slot *chunkResult) {
			defer wg.Done()
			defer func() { <-tokens }()
			data, err := s.fetchChunk(ctx, spec)
			slot.complete(data, err)
		}(spec, slot)
	}

	s.buf.closeIntake()
	wg.Wait()
}

// fetchChunk pulls one logical chunk from the source. The backend penalizes
// large single calls, so the chunk is assembled from reads of at most
// callSize bytes each.
func (s *scheduler) fetchChunk(ctx context.Context, spec chunkSpec) ([]byte, error) {
	data := make([]byte, 0, spec.length)
	end := spec.offset + spec.length

	for off := spec.offset; off < end; {
		length := min(s.callSize, end-off)
		part, err := s.readWithRetry(ctx, off, length)
		if err != nil {
			return nil, fmt.Errorf("chunk %d read at %d: %w", spec.seq, off, err)
		}
		if int64(len(part)) != length {
			return nil, fmt.Errorf("chunk %d read at %d: short read %d of %d bytes",
				spec.seq, off, len(part), length)
		}
		data = append(data, part...)
		off += length
	}
	return data, nil
}

// readWithRetry issues one backend read, retrying transient failures a small
// bounded number of times with jittered exponential backoff. Cancellation is
// never retried; authorization and range errors never reach this layer.
func (s *scheduler) readWithRetry(ctx context.Context, offset, length int64) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt <= s.retries; attempt++ {
		if attempt > 0 {
			s.log.Warn().
				Int64("offset", offset).
				Int("attempt", attempt).
				Err(lastErr).
				Msg("retrying chunk read")
			if err := s.wait(ctx, attempt); err != nil {
				return nil, err
			}
		}

		readCtx, cancel := context.WithTimeout(ctx, s.readTimeout)
		data, err := s.src.Read(readCtx, s.ref, offset, length)
		cancel()
		if err == nil {
			return data, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, source.ErrNotFound) {
			return nil, err
		}
		lastErr = err
	}
	return nil, fmt.Errorf("after %d attempts: %w", s.retries+1, lastErr)
}

// wait sleeps for an exponentially increasing duration with +/-25% jitter.
func (s *scheduler) wait(ctx context.Context, attempt int) error {
	backoff := s.backoff * time.Duration(1<<uint(attempt-1))
	if backoff > s.maxBackoff {
		backoff = s.maxBackoff
	}
	jitter := time.Duration(rand.Int63n(int64(backoff)/2+1)) - backoff/4

	timer := time.NewTimer(backoff + jitter)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
