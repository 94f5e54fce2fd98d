package stream

import (
	"fmt"
	"strconv"
	"strings"
)

// Window is the byte range of the object produced for one response.
// Start is inclusive, End exclusive.
type Window struct {
	Start int64
	End   int64
}

// Len returns the number of bytes the window covers.
func (w Window) Len() int64 {
	return w.End - w.Start
}

// UnsatisfiableError reports a Range header that cannot be served against an
// object of the given size. It maps to 416 with "Content-Range: bytes */size".
type UnsatisfiableError struct {
	Size int64
}

func (e *UnsatisfiableError) Error() string {
	return fmt.Sprintf("stream: range not satisfiable for object of %d bytes", e.Size)
}

// ResolveRange validates a Range request header against the object size and
// selects the serving window. An empty header selects the whole object and
// partial reports false. Only a single "bytes=start-end" range is accepted;
// multi-range headers are rejected rather than silently truncated. The end
// position is clamped to the object size when omitted or out of bounds.
func ResolveRange(header string, size int64) (w Window, partial bool, err error) {
	if header == "" {
		return Window{Start: 0, End: size}, false, nil
	}

	spec, ok := strings.CutPrefix(strings.TrimSpace(header), "bytes=")
	if !ok {
		return Window{}, false, &UnsatisfiableError{Size: size}
	}
	if strings.Contains(spec, ",") {
		// multi-range is out of scope
		return Window{}, false, &UnsatisfiableError{Size: size}
	}

	startStr, endStr, ok := strings.Cut(spec, "-")
	if !ok {
		return Window{}, false, &UnsatisfiableError{Size: size}
	}

	start, err := strconv.ParseInt(strings.TrimSpace(startStr), 10, 64)
	if err != nil || start < 0 {
		return Window{}, false, &UnsatisfiableError{Size: size}
	}

	end := size - 1
	if s := strings.TrimSpace(endStr); s != "" {
		end, err = strconv.ParseInt(s, 10, 64)
		if err != nil || end < 0 {
			return Window{}, false, &UnsatisfiableError{Size: size}
		}
	}
	if end > size-1 {
		end = size - 1
	}

	if start >= size || start > end {
		return Window{}, false, &UnsatisfiableError{Size: size}
	}

	return Window{Start: start, End: end + 1}, true, nil
}
