package stream

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/filegate/filegate/internal/registry"
	"github.com/filegate/filegate/internal/source"
)

// Engine defaults. All of them are operational constants and configurable.
const (
	DefaultCeiling   = 100
	DefaultChunkSize = 4 << 20
	DefaultCallSize  = 1 << 20
	DefaultPrefetch  = 10
	DefaultBufferCap = 50
	DefaultRetries   = 3
)

// ErrBusy is returned by Open when the admission ceiling is reached.
var ErrBusy = errors.New("stream: concurrent session limit reached")

// ErrUnknownSource is returned when a resolved handle names a source that is
// not configured.
var ErrUnknownSource = errors.New("stream: unknown chunk source")

// Config holds the engine's operational constants.
type Config struct {
	// Ceiling bounds concurrent sessions process-wide.
	Ceiling int

	// ChunkSize is the logical chunk covering the serving window.
	ChunkSize int64

	// CallSize caps a single backend read. The effective cap is the smaller
	// of this and the source's own limit.
	CallSize int64

	// Prefetch is the number of chunk fetches kept in flight per session.
	Prefetch int

	// BufferCap bounds in-flight plus buffered chunks per session.
	BufferCap int

	// Retries, RetryBackoff and MaxBackoff govern per-read retry behavior.
	Retries      int
	RetryBackoff time.Duration
	MaxBackoff   time.Duration

	// ReadTimeout bounds one backend read attempt.
	ReadTimeout time.Duration

	// DrainTimeout bounds the wait for the next in-order chunk.
	DrainTimeout time.Duration

	// MaxDuration is the whole-session safety net: a backend that never
	// responds must not hold an admission slot forever.
	MaxDuration time.Duration
}

func (c Config) withDefaults() Config {
	if c.Ceiling <= 0 {
		c.Ceiling = DefaultCeiling
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = DefaultChunkSize
	}
	if c.CallSize <= 0 {
		c.CallSize = DefaultCallSize
	}
	if c.Prefetch <= 0 {
		c.Prefetch = DefaultPrefetch
	}
	if c.BufferCap <= 0 {
		c.BufferCap = DefaultBufferCap
	}
	if c.Retries <= 0 {
		c.Retries = DefaultRetries
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 500 * time.Millisecond
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 10 * time.Second
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 30 * time.Second
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = 15 * time.Second
	}
	if c.MaxDuration <= 0 {
		c.MaxDuration = time.Hour
	}
	return c
}

// Engine admits, resolves and runs streaming sessions.
type Engine struct {
	gate    *Gate
	reg     registry.Registry
	sources *source.Set
	cfg     Config
	log     zerolog.Logger
}

// NewEngine wires the engine with its registry and chunk sources.
func NewEngine(reg registry.Registry, sources *source.Set, cfg Config, log zerolog.Logger) *Engine {
	cfg = cfg.withDefaults()
	return &Engine{
		gate:    NewGate(cfg.Ceiling),
		reg:     reg,
		sources: sources,
		cfg:     cfg,
		log:     log,
	}
}

// Open admits one session, resolves the object and selects the serving
// window. Every failure path releases the admission slot before returning;
// on success the returned session owns the slot and releases it when Run
// reaches a terminal state.
func (e *Engine) Open(ctx context.Context, objectID int64, code, rangeHeader string) (*Session, error) {
	slot, ok := e.gate.TryAcquire()
	if !ok {
		return nil, ErrBusy
	}

	s := &Session{
		ID:   uuid.NewString(),
		slot: slot,
		cfg:  e.cfg,
	}
	s.log = e.log.With().Str("session", s.ID).Int64("object", objectID).Logger()
	s.setState(StateAdmitted)

	s.setState(StateResolving)
	obj, err := e.reg.Resolve(ctx, objectID, code)
	if err != nil {
		s.fail(err)
		return nil, err
	}

	src, ok := e.sources.Lookup(obj.Handle.Source)
	if !ok {
		err := fmt.Errorf("%w: %q", ErrUnknownSource, obj.Handle.Source)
		s.fail(err)
		return nil, err
	}

	s.setState(StateWindowing)
	window, partial, err := ResolveRange(rangeHeader, obj.Size)
	if err != nil {
		s.fail(err)
		return nil, err
	}

	s.Object = obj
	s.Window = window
	s.Partial = partial
	s.src = src
	return s, nil
}
