// Package source defines the remote chunk source boundary: backends that
// serve raw object bytes in bounded, offset-addressed reads.
package source

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// Default read constraints. These are operational constants tuned against
// typical backends, not protocol invariants; every backend may override them.
const (
	DefaultMaxCall = 1 << 20
	DefaultAlign   = 1 << 20
)

// ErrNotFound is returned when the referenced object does not exist in the
// backend.
var ErrNotFound = errors.New("source: object not found")

// Limits describes a backend's read constraints: the largest single call it
// will serve and the offset alignment it performs best at.
type Limits struct {
	MaxCall int64
	Align   int64
}

// Handle references an object held by a named source. It is opaque to the
// engine: Ref is interpreted only by the source it names.
type Handle struct {
	Source string `json:"source"`
	Ref    string `json:"ref"`
}

// Source pulls raw object bytes in bounded reads.
type Source interface {
	Name() string
	Limits() Limits

	// Read returns exactly length bytes at offset. Callers derive offsets
	// and lengths from the object size reported by the registry, so a short
	// read is a backend fault, not end-of-object.
	Read(ctx context.Context, ref string, offset, length int64) ([]byte, error)
}

// Set is a named collection of sources.
type Set struct {
	sources map[string]Source
}

// NewSet builds a set from the given sources.
func NewSet(sources ...Source) *Set {
	s := &Set{sources: make(map[string]Source)}
	for _, src := range sources {
		s.Add(src)
	}
	return s
}

// Add registers a source under its name, replacing any previous entry.
func (s *Set) Add(src Source) {
	s.sources[src.Name()] = src
}

// Lookup returns the source a handle names.
func (s *Set) Lookup(name string) (Source, bool) {
	src, ok := s.sources[name]
	return src, ok
}

// Len returns the number of registered sources.
func (s *Set) Len() int {
	return len(s.sources)
}

// LoadFromEnv instantiates the sources declared in the SOURCES env variable.
func LoadFromEnv(ctx context.Context, logger zerolog.Logger) *Set {
	set := NewSet()
	raw := os.Getenv("SOURCES")
	if raw == "" {
		return set
	}
	for _, token := range strings.Split(raw, ",") {
		token = strings.TrimSpace(strings.ToLower(token))
		if token == "" {
			continue
		}
		var (
			src Source
			err error
		)
		switch token {
		case "http":
			src, err = NewHTTPSourceFromEnv()
		case "s3":
			src, err = NewS3Source(ctx)
		case "azure":
			src, err = NewAzureSource()
		case "sftp":
			src, err = NewSFTPSource()
		default:
			err = fmt.Errorf("unknown source %q", token)
		}
		if err != nil {
			logger.Error().Err(err).Str("source", token).Msg("failed to init source")
			continue
		}
		logger.Info().Str("source", src.Name()).Msg("initialized source")
		set.Add(src)
	}
	return set
}
