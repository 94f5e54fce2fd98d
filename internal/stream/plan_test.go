package stream

import "testing"

func TestBuildPlanAlignment(t *testing.T) {
	const (
		chunkSize = 4096
		align     = 1024
	)

	// Window starts mid-alignment-cell: the first fetch is rounded down to
	// the grid and the extra head bytes are trimmed from delivery.
	w := Window{Start: 1500, End: 10000}
	p := buildPlan(w, chunkSize, align)

	if len(p.chunks) == 0 {
		t.Fatal("empty plan")
	}

	first := p.chunks[0]
	if first.offset != 1024 {
		t.Errorf("first fetch offset = %d, want 1024", first.offset)
	}
	if first.head != 1500-1024 {
		t.Errorf("first head trim = %d, want %d", first.head, 1500-1024)
	}

	var delivered int64
	var prevEnd int64 = -1
	for i, c := range p.chunks {
		if c.seq != i {
			t.Errorf("chunk %d has seq %d", i, c.seq)
		}
		if c.offset%align != 0 {
			t.Errorf("chunk %d fetch offset %d not aligned to %d", i, c.offset, align)
		}
		if c.length <= 0 || c.length > chunkSize {
			t.Errorf("chunk %d length %d out of bounds", i, c.length)
		}
		if i > 0 {
			if c.head != 0 {
				t.Errorf("chunk %d has head trim %d", i, c.head)
			}
			if c.offset != prevEnd {
				t.Errorf("chunk %d offset %d leaves a gap after %d", i, c.offset, prevEnd)
			}
		}
		prevEnd = c.offset + c.length
		delivered += c.deliverLen()
	}

	if delivered != w.Len() {
		t.Errorf("delivered bytes = %d, want %d", delivered, w.Len())
	}
	last := p.chunks[len(p.chunks)-1]
	if last.offset+last.length != w.End {
		t.Errorf("plan ends at %d, want %d", last.offset+last.length, w.End)
	}
}

func TestBuildPlanAlignedStart(t *testing.T) {
	p := buildPlan(Window{Start: 4096, End: 4096 + 8192}, 4096, 1024)
	if len(p.chunks) != 2 {
		t.Fatalf("chunk count = %d, want 2", len(p.chunks))
	}
	if p.chunks[0].head != 0 {
		t.Errorf("aligned window start should not trim, got head %d", p.chunks[0].head)
	}
	for _, c := range p.chunks {
		if c.length != 4096 {
			t.Errorf("chunk %d length = %d, want 4096", c.seq, c.length)
		}
	}
}

func TestBuildPlanSingleChunk(t *testing.T) {
	// Whole window fits into one chunk even with the head trim.
	p := buildPlan(Window{Start: 100, End: 200}, 4096, 1024)
	if len(p.chunks) != 1 {
		t.Fatalf("chunk count = %d, want 1", len(p.chunks))
	}
	c := p.chunks[0]
	if c.offset != 0 || c.head != 100 || c.deliverLen() != 100 {
		t.Errorf("chunk = %+v, want offset 0, head 100, deliver 100", c)
	}
}

func TestBuildPlanAlignExceedsChunkSize(t *testing.T) {
	// An alignment coarser than the chunk size cannot be honored; the plan
	// must clamp it instead of producing a head trim larger than the first
	// chunk.
	w := Window{Start: 700, End: 2000}
	p := buildPlan(w, 512, 1024)

	if len(p.chunks) == 0 {
		t.Fatal("empty plan")
	}
	var delivered int64
	for _, c := range p.chunks {
		if c.head >= c.length {
			t.Fatalf("chunk %d head %d >= length %d", c.seq, c.head, c.length)
		}
		if c.offset%512 != 0 {
			t.Errorf("chunk %d offset %d off the clamped grid", c.seq, c.offset)
		}
		delivered += c.deliverLen()
	}
	if delivered != w.Len() {
		t.Errorf("delivered bytes = %d, want %d", delivered, w.Len())
	}
}

func TestBuildPlanChunkSizeRoundedToAlign(t *testing.T) {
	// chunk size 1000 is not a multiple of the 256-byte alignment; without
	// rounding, every chunk after the first would fetch off the grid.
	w := Window{Start: 300, End: 5000}
	p := buildPlan(w, 1000, 256)

	var delivered int64
	for _, c := range p.chunks {
		if c.offset%256 != 0 {
			t.Errorf("chunk %d fetch offset %d not aligned to 256", c.seq, c.offset)
		}
		if c.length > 1000 {
			t.Errorf("chunk %d length %d exceeds the configured chunk size", c.seq, c.length)
		}
		delivered += c.deliverLen()
	}
	if delivered != w.Len() {
		t.Errorf("delivered bytes = %d, want %d", delivered, w.Len())
	}
}

func TestBuildPlanEmptyWindow(t *testing.T) {
	p := buildPlan(Window{Start: 10, End: 10}, 4096, 1024)
	if len(p.chunks) != 0 {
		t.Errorf("chunk count = %d, want 0", len(p.chunks))
	}
}
