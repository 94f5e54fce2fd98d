package source

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// HTTPOptions configures an HTTPSource.
type HTTPOptions struct {
	// BaseURL is prepended to object refs, e.g. the chat platform's bot
	// file endpoint including the token path segment.
	BaseURL string

	// MaxCall and Align override the source read limits.
	MaxCall int64
	Align   int64

	// BytesPerSec throttles backend reads across all sessions.
	// Zero disables throttling.
	BytesPerSec int64

	// MaxIdleConnsPerHost sets the idle pool size. Default: 100.
	MaxIdleConnsPerHost int
}

// HTTPSource reads object bytes from a backend that honors HTTP Range
// requests. It fronts the chat platform's file endpoints in production and
// any range-capable origin in general.
type HTTPSource struct {
	client  *http.Client
	base    string
	limits  Limits
	limiter *rate.Limiter
}

// NewHTTPSource returns an HTTP-backed source.
func NewHTTPSource(opts HTTPOptions) *HTTPSource {
	if opts.MaxCall <= 0 {
		opts.MaxCall = DefaultMaxCall
	}
	if opts.Align <= 0 {
		opts.Align = DefaultAlign
	}
	if opts.MaxIdleConnsPerHost <= 0 {
		opts.MaxIdleConnsPerHost = 100
	}

	transport := &http.Transport{
		MaxIdleConnsPerHost: opts.MaxIdleConnsPerHost,
		MaxIdleConns:        opts.MaxIdleConnsPerHost * 2,
		IdleConnTimeout:     90 * time.Second,
		DisableCompression:  true, // raw bytes only, ranges don't compose with encoding
	}

	s := &HTTPSource{
		client: &http.Client{Transport: transport},
		base:   strings.TrimSuffix(opts.BaseURL, "/"),
		limits: Limits{MaxCall: opts.MaxCall, Align: opts.Align},
	}
	if opts.BytesPerSec > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(opts.BytesPerSec), int(opts.MaxCall))
	}
	return s
}

// NewHTTPSourceFromEnv builds an HTTPSource from HTTP_FILE_BASE_URL and
// optional HTTP_FILE_RATE_LIMIT (bytes per second).
func NewHTTPSourceFromEnv() (*HTTPSource, error) {
	base := os.Getenv("HTTP_FILE_BASE_URL")
	if base == "" {
		return nil, fmt.Errorf("HTTP_FILE_BASE_URL required when enabling http source")
	}
	opts := HTTPOptions{BaseURL: base}
	if v := os.Getenv("HTTP_FILE_RATE_LIMIT"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid HTTP_FILE_RATE_LIMIT: %w", err)
		}
		opts.BytesPerSec = n
	}
	return NewHTTPSource(opts), nil
}

func (s *HTTPSource) Name() string {
	return "http"
}

func (s *HTTPSource) Limits() Limits {
	return s.limits
}

// Read fetches [offset, offset+length) with a ranged GET.
func (s *HTTPSource) Read(ctx context.Context, ref string, offset, length int64) ([]byte, error) {
	if s.limiter != nil {
		if err := s.limiter.WaitN(ctx, int(length)); err != nil {
			return nil, err
		}
	}

	url := s.base + "/" + strings.TrimPrefix(ref, "/")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", offset, offset+length-1))

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusPartialContent:
	case resp.StatusCode == http.StatusOK && offset == 0:
		// origin ignored the range but the window starts at zero, so the
		// leading bytes are still the ones we asked for
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrNotFound
	default:
		return nil, fmt.Errorf("http source: unexpected status %d", resp.StatusCode)
	}

	data := make([]byte, length)
	if _, err := io.ReadFull(resp.Body, data); err != nil {
		return nil, fmt.Errorf("http source: read body: %w", err)
	}
	return data, nil
}
