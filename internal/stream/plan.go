package stream

// chunkSpec describes one logical chunk of a serving window. The fetch range
// [offset, offset+length) is laid on the backend's alignment grid; head is
// the number of leading fetched bytes that fall before the window start and
// must not be delivered.
type chunkSpec struct {
	seq    int
	offset int64
	length int64
	head   int64
}

// deliverLen returns the number of bytes of this chunk that reach the client.
func (c chunkSpec) deliverLen() int64 {
	return c.length - c.head
}

// plan covers a serving window with an ordered sequence of chunk specs.
type plan struct {
	window Window
	chunks []chunkSpec
}

// buildPlan splits the window into logical chunks of at most chunkSize bytes.
// The chunk grid is anchored at the window start rounded down to the backend
// alignment, so every fetch offset is a multiple of align. The first chunk
// fetches up to align-1 extra leading bytes that are trimmed before delivery;
// that one small over-read buys aligned offsets on every following fetch.
//
// The grid only works when chunkSize is a positive multiple of align: the
// alignment is clamped to the chunk size and the chunk size rounded down to a
// multiple of the alignment. Without the clamp a first-chunk head trim could
// exceed the chunk length, and without the rounding every offset after the
// first would drift off the grid.
func buildPlan(w Window, chunkSize, align int64) plan {
	p := plan{window: w}
	if w.Len() <= 0 {
		return p
	}
	if align <= 0 {
		align = 1
	}
	if align > chunkSize {
		align = chunkSize
	}
	chunkSize -= chunkSize % align

	base := w.Start - w.Start%align
	for off := base; off < w.End; off += chunkSize {
		spec := chunkSpec{
			seq:    len(p.chunks),
			offset: off,
			length: min(chunkSize, w.End-off),
		}
		if off < w.Start {
			spec.head = w.Start - off
		}
		p.chunks = append(p.chunks, spec)
	}
	return p
}
