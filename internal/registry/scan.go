package registry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// DefaultScanDepth bounds how many recent records Lookup searches for a
// matching label.
const DefaultScanDepth = 100

const defaultResolveTimeout = 10 * time.Second

// History is the bounded view of recent records a ScanRegistry searches.
// In production it is backed by the chat channel the objects were forwarded
// into; tests supply an in-memory fake.
type History interface {
	// Get returns the record with the given identifier, or ErrNotFound.
	Get(ctx context.Context, id int64) (*Object, error)

	// Recent returns up to limit records, newest first.
	Recent(ctx context.Context, limit int) ([]*Object, error)
}

// ScanRegistry resolves objects by fetching chat records and comparing their
// stored label to the supplied access code.
type ScanRegistry struct {
	hist    History
	depth   int
	timeout time.Duration
	now     func() time.Time
}

// ScanOption configures a ScanRegistry.
type ScanOption func(*ScanRegistry)

// WithScanDepth bounds the label search in Lookup.
func WithScanDepth(n int) ScanOption {
	return func(r *ScanRegistry) { r.depth = n }
}

// WithResolveTimeout bounds each backing-store call.
func WithResolveTimeout(d time.Duration) ScanOption {
	return func(r *ScanRegistry) { r.timeout = d }
}

func withClock(now func() time.Time) ScanOption {
	return func(r *ScanRegistry) { r.now = now }
}

// NewScanRegistry returns a registry over the given history.
func NewScanRegistry(hist History, opts ...ScanOption) *ScanRegistry {
	r := &ScanRegistry{
		hist:    hist,
		depth:   DefaultScanDepth,
		timeout: defaultResolveTimeout,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve fetches the record and verifies the stored label equals the code.
// The comparison happens before any metadata is filled in, so a mismatched
// code never learns anything about the object.
func (r *ScanRegistry) Resolve(ctx context.Context, objectID int64, code string) (*Object, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	rec, err := r.hist.Get(ctx, objectID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if rec.Label != code {
		return nil, ErrForbidden
	}

	obj := *rec
	if err := finalize(&obj, r.now()); err != nil {
		return nil, err
	}
	return &obj, nil
}

// Lookup finds an existing record carrying the given label within the scan
// depth. Link-issuing collaborators call it before forwarding a new copy, so
// repeated link requests for the same object reuse one record.
func (r *ScanRegistry) Lookup(ctx context.Context, label string) (*Object, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	recent, err := r.hist.Recent(ctx, r.depth)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	for _, rec := range recent {
		if rec.Label == label {
			obj := *rec
			if err := finalize(&obj, r.now()); err != nil {
				return nil, err
			}
			return &obj, nil
		}
	}
	return nil, ErrNotFound
}
