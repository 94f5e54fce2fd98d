package stream

import (
	"context"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/filegate/filegate/internal/registry"
	"github.com/filegate/filegate/internal/source"
)

// State is a session's position in its lifecycle.
type State int32

const (
	StateAdmitted State = iota
	StateResolving
	StateWindowing
	StateStreaming
	StateCompleted
	StateAborted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateAdmitted:
		return "admitted"
	case StateResolving:
		return "resolving"
	case StateWindowing:
		return "windowing"
	case StateStreaming:
		return "streaming"
	case StateCompleted:
		return "completed"
	case StateAborted:
		return "aborted"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// Session is the unit of work for one streaming request. It owns one object
// handle, one serving window, one reorder buffer and one admission slot; all
// of them die with the session.
type Session struct {
	ID      string
	Object  *registry.Object
	Window  Window
	Partial bool

	slot  *Slot
	src   source.Source
	cfg   Config
	log   zerolog.Logger
	state atomic.Int32
}

// State reports the session's current lifecycle state.
func (s *Session) State() State {
	return State(s.state.Load())
}

func (s *Session) setState(st State) {
	s.state.Store(int32(st))
}

// fail moves the session to Failed and releases the admission slot. Used for
// errors before streaming begins.
func (s *Session) fail(err error) {
	s.setState(StateFailed)
	s.slot.Release()
	s.log.Debug().Err(err).Msg("session failed before streaming")
}

// Run streams the serving window to w and blocks until the session reaches a
// terminal state. The admission slot is released on every exit path. Once
// streaming has begun a failure cannot change the response status line; the
// caller must abort the connection instead of writing more bytes.
func (s *Session) Run(ctx context.Context, w io.Writer) error {
	defer s.slot.Release()

	ctx, cancel := context.WithTimeout(ctx, s.cfg.MaxDuration)
	defer cancel()

	limits := s.src.Limits()
	pl := buildPlan(s.Window, s.cfg.ChunkSize, limits.Align)
	buf := NewBuffer(s.cfg.BufferCap)
	sched := &scheduler{
		src:         s.src,
		ref:         s.Object.Handle.Ref,
		plan:        pl,
		buf:         buf,
		width:       s.cfg.Prefetch,
		callSize:    min(s.cfg.CallSize, limits.MaxCall),
		retries:     s.cfg.Retries,
		backoff:     s.cfg.RetryBackoff,
		maxBackoff:  s.cfg.MaxBackoff,
		readTimeout: s.cfg.ReadTimeout,
		log:         s.log,
	}

	s.setState(StateStreaming)
	s.log.Info().
		Int64("start", s.Window.Start).
		Int64("length", s.Window.Len()).
		Int("chunks", len(pl.chunks)).
		Str("source", s.src.Name()).
		Msg("session streaming")

	go sched.run(ctx)

	var sent int64
	for {
		c, ok, err := buf.next(ctx, s.cfg.DrainTimeout)
		if err != nil {
			if ctx.Err() != nil {
				s.setState(StateAborted)
				return fmt.Errorf("session cancelled: %w", ctx.Err())
			}
			s.setState(StateFailed)
			return err
		}
		if !ok {
			break
		}
		if c.err != nil {
			s.setState(StateFailed)
			return fmt.Errorf("chunk %d: %w", c.spec.seq, c.err)
		}

		n, err := w.Write(c.data[c.spec.head:])
		sent += int64(n)
		if err != nil {
			s.setState(StateAborted)
			return fmt.Errorf("client write: %w", err)
		}
	}

	s.setState(StateCompleted)
	s.log.Info().Int64("bytes", sent).Msg("session completed")
	return nil
}
