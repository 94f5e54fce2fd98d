package server

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/filegate/filegate/internal/registry"
	"github.com/filegate/filegate/internal/source"
	"github.com/filegate/filegate/internal/stream"
)

type fakeRegistry struct {
	objects map[int64]*registry.Object
}

func (r *fakeRegistry) Resolve(_ context.Context, objectID int64, code string) (*registry.Object, error) {
	obj, ok := r.objects[objectID]
	if !ok {
		return nil, registry.ErrNotFound
	}
	if obj.Label != code {
		return nil, registry.ErrForbidden
	}
	cp := *obj
	return &cp, nil
}

type fakeSource struct {
	data  []byte
	fail  map[int64]int
	mu    sync.Mutex
	reads atomic.Int64
}

func (f *fakeSource) Name() string { return "fake" }

func (f *fakeSource) Limits() source.Limits {
	return source.Limits{MaxCall: 4096, Align: 4096}
}

func (f *fakeSource) Read(_ context.Context, _ string, offset, length int64) ([]byte, error) {
	f.reads.Add(1)
	f.mu.Lock()
	if n := f.fail[offset]; n > 0 {
		f.fail[offset] = n - 1
		f.mu.Unlock()
		return nil, fmt.Errorf("backend read failed at %d", offset)
	}
	f.mu.Unlock()
	if offset+length > int64(len(f.data)) {
		return nil, fmt.Errorf("read past end at %d", offset)
	}
	return append([]byte(nil), f.data[offset:offset+length]...), nil
}

func testObject(size int64) *registry.Object {
	return &registry.Object{
		ID:     7,
		Label:  "7-42",
		Kind:   "video",
		Name:   "holiday clip.mp4",
		MIME:   "video/mp4",
		Size:   size,
		Handle: source.Handle{Source: "fake", Ref: "obj"},
	}
}

func newTestServer(t *testing.T, src source.Source, size int64, cfg stream.Config) *httptest.Server {
	t.Helper()
	reg := &fakeRegistry{objects: map[int64]*registry.Object{7: testObject(size)}}
	sources := source.NewSet(src)
	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = 8192
	}
	if cfg.CallSize == 0 {
		cfg.CallSize = 4096
	}
	eng := stream.NewEngine(reg, sources, cfg, zerolog.Nop())
	ts := httptest.NewServer(New(eng, reg, zerolog.Nop()).Routes())
	t.Cleanup(ts.Close)
	return ts
}

func pattern(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i % 131)
	}
	return data
}

func TestDownloadFullObject(t *testing.T) {
	data := pattern(40 << 10)
	ts := newTestServer(t, &fakeSource{data: data}, int64(len(data)), stream.Config{})

	resp, err := http.Get(ts.URL + "/dl/7?code=7-42")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if !bytes.Equal(body, data) {
		t.Fatal("body differs from object bytes")
	}
	if got := resp.Header.Get("Content-Type"); got != "video/mp4" {
		t.Errorf("Content-Type = %q", got)
	}
	if got := resp.Header.Get("Accept-Ranges"); got != "bytes" {
		t.Errorf("Accept-Ranges = %q", got)
	}
	if got := resp.Header.Get("Content-Disposition"); got != "attachment; filename*=UTF-8''holiday%20clip.mp4" {
		t.Errorf("Content-Disposition = %q", got)
	}
}

func TestDownloadRepeatable(t *testing.T) {
	data := pattern(24 << 10)
	ts := newTestServer(t, &fakeSource{data: data}, int64(len(data)), stream.Config{})

	// The same (objectID, code) pair must yield identical bytes every time.
	for i := 0; i < 2; i++ {
		resp, err := http.Get(ts.URL + "/dl/7?code=7-42")
		if err != nil {
			t.Fatalf("GET %d: %v", i, err)
		}
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			t.Fatalf("read body %d: %v", i, err)
		}
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("GET %d status = %d, want 200", i, resp.StatusCode)
		}
		if !bytes.Equal(body, data) {
			t.Fatalf("GET %d body differs from object bytes", i)
		}
	}
}

func TestDownloadRange(t *testing.T) {
	data := pattern(40 << 10)
	ts := newTestServer(t, &fakeSource{data: data}, int64(len(data)), stream.Config{})

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/dl/7?code=7-42", nil)
	req.Header.Set("Range", "bytes=5000-19999")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusPartialContent {
		t.Fatalf("status = %d, want 206", resp.StatusCode)
	}
	want := fmt.Sprintf("bytes 5000-19999/%d", len(data))
	if got := resp.Header.Get("Content-Range"); got != want {
		t.Errorf("Content-Range = %q, want %q", got, want)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if !bytes.Equal(body, data[5000:20000]) {
		t.Fatal("body differs from requested slice")
	}
}

func TestDownloadRangeUnsatisfiable(t *testing.T) {
	data := pattern(4096)
	ts := newTestServer(t, &fakeSource{data: data}, int64(len(data)), stream.Config{})

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/dl/7?code=7-42", nil)
	req.Header.Set("Range", "bytes=9000-")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusRequestedRangeNotSatisfiable {
		t.Fatalf("status = %d, want 416", resp.StatusCode)
	}
	if got := resp.Header.Get("Content-Range"); got != "bytes */4096" {
		t.Errorf("Content-Range = %q, want %q", got, "bytes */4096")
	}
	body, _ := io.ReadAll(resp.Body)
	if len(body) != 0 {
		t.Errorf("416 response carried %d body bytes", len(body))
	}
}

func TestDownloadErrors(t *testing.T) {
	data := pattern(4096)
	src := &fakeSource{data: data}
	ts := newTestServer(t, src, int64(len(data)), stream.Config{})

	cases := []struct {
		name string
		path string
		want int
	}{
		{"missing code", "/dl/7", http.StatusUnauthorized},
		{"wrong code", "/dl/7?code=nope", http.StatusForbidden},
		{"unknown object", "/dl/999?code=7-42", http.StatusNotFound},
		{"bad id", "/dl/abc?code=7-42", http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, err := http.Get(ts.URL + tc.path)
			if err != nil {
				t.Fatalf("GET: %v", err)
			}
			resp.Body.Close()
			if resp.StatusCode != tc.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tc.want)
			}
		})
	}

	// Rejected requests never touch the backend.
	if got := src.reads.Load(); got != 0 {
		t.Errorf("rejected requests issued %d backend reads", got)
	}
}

type blockingSource struct {
	data    []byte
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (s *blockingSource) Name() string { return "fake" }

func (s *blockingSource) Limits() source.Limits {
	return source.Limits{MaxCall: 4096, Align: 4096}
}

func (s *blockingSource) Read(_ context.Context, _ string, offset, length int64) ([]byte, error) {
	s.once.Do(func() { close(s.entered) })
	<-s.release
	return append([]byte(nil), s.data[offset:offset+length]...), nil
}

func TestDownloadBusy(t *testing.T) {
	data := pattern(4096)
	src := &blockingSource{
		data:    data,
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	ts := newTestServer(t, src, int64(len(data)), stream.Config{Ceiling: 1})

	type result struct {
		status int
		body   []byte
		err    error
	}
	first := make(chan result, 1)
	go func() {
		resp, err := http.Get(ts.URL + "/dl/7?code=7-42")
		if err != nil {
			first <- result{err: err}
			return
		}
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		first <- result{status: resp.StatusCode, body: body, err: err}
	}()

	select {
	case <-src.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("first request never reached the backend")
	}

	resp, err := http.Get(ts.URL + "/dl/7?code=7-42")
	if err != nil {
		t.Fatalf("second GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("second request status = %d, want 503", resp.StatusCode)
	}

	close(src.release)
	res := <-first
	if res.err != nil {
		t.Fatalf("first request: %v", res.err)
	}
	if res.status != http.StatusOK || !bytes.Equal(res.body, data) {
		t.Fatalf("first request status = %d, body %d bytes", res.status, len(res.body))
	}

	// Slot freed once the first session completed.
	resp, err = http.Get(ts.URL + "/dl/7?code=7-42")
	if err != nil {
		t.Fatalf("third GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("third request status = %d, want 200", resp.StatusCode)
	}
}

func TestMidStreamFailureTruncatesConnection(t *testing.T) {
	data := pattern(64 << 10)
	src := &fakeSource{data: data, fail: map[int64]int{16384: 1000}}
	ts := newTestServer(t, src, int64(len(data)), stream.Config{
		Retries:      1,
		RetryBackoff: time.Millisecond,
	})

	resp, err := http.Get(ts.URL + "/dl/7?code=7-42")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	// The failure hits after headers are committed, so the status line still
	// says 200 and the body read must error out instead of ending cleanly.
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if _, err := io.ReadAll(resp.Body); err == nil {
		t.Fatal("body read ended cleanly despite a mid-stream backend failure")
	}
}

func TestPlayerPage(t *testing.T) {
	data := pattern(4096)
	src := &fakeSource{data: data}
	ts := newTestServer(t, src, int64(len(data)), stream.Config{})

	for _, path := range []string{
		"/dl/7?code=7-42%3Dstream",
		"/stream/7?code=7-42",
	} {
		resp, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("%s status = %d, want 200", path, resp.StatusCode)
		}
		if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
			t.Errorf("%s Content-Type = %q", path, ct)
		}
		if !strings.Contains(string(body), "holiday clip.mp4") {
			t.Errorf("%s player page does not name the file", path)
		}
	}
	if got := src.reads.Load(); got != 0 {
		t.Errorf("player pages issued %d backend reads", got)
	}
}

func TestSplitCode(t *testing.T) {
	code, mode := splitCode("7-42=stream")
	if code != "7-42" || mode != modePlayer {
		t.Errorf("splitCode(%q) = %q, %v", "7-42=stream", code, mode)
	}
	code, mode = splitCode("7-42")
	if code != "7-42" || mode != modeDownload {
		t.Errorf("splitCode(%q) = %q, %v", "7-42", code, mode)
	}
}
