package graph

import (
	"errors"
	"testing"

	"github.com/samcharles93/kvrun/internal/buffer"
	"github.com/samcharles93/kvrun/pkg/ctxbin"
)

func testInfo(batch, chunk, vocab uint32) ctxbin.GraphInfo {
	return ctxbin.GraphInfo{
		Name: "prefill",
		Inputs: []ctxbin.TensorInfo{
			{Name: SlotInputIDs, DType: "int64", Dims: []uint32{batch, chunk}},
			{Name: SlotPositionIDs, DType: "int64", Dims: []uint32{batch, chunk}},
		},
		Outputs: []ctxbin.TensorInfo{
			{Name: SlotLogits, DType: "float32", Dims: []uint32{batch, 1, vocab}},
		},
	}
}

func mustShape(t *testing.T, batch, chunk, vocab uint32) *Shape {
	t.Helper()
	s, err := FromInfo(testInfo(batch, chunk, vocab))
	if err != nil {
		t.Fatalf("FromInfo: %v", err)
	}
	return s
}

func TestFromInfoDerivesDimensions(t *testing.T) {
	t.Parallel()
	s := mustShape(t, 2, 32, 100)
	if s.BatchSize != 2 || s.ChunkLen != 32 || s.VocabSize != 100 {
		t.Fatalf("shape = %v", s)
	}
	if got := s.Slot(SlotInputIDs).ExpectedBytes(); got != 2*32*8 {
		t.Fatalf("input_ids bytes = %d", got)
	}
	if got := s.Slot(SlotLogits).ExpectedBytes(); got != 2*100*4 {
		t.Fatalf("logits bytes = %d", got)
	}
}

func TestFromInfoRejectsBadGraphs(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name   string
		mutate func(*ctxbin.GraphInfo)
		want   error
	}{
		{"no-logits", func(g *ctxbin.GraphInfo) { g.Outputs = nil }, ErrMissingTensor},
		{"bad-dtype", func(g *ctxbin.GraphInfo) { g.Inputs[0].DType = "complex64" }, ErrUnknownDType},
		{"float-ids", func(g *ctxbin.GraphInfo) { g.Inputs[0].DType = "float32" }, ErrInvalidShape},
		{"int-logits", func(g *ctxbin.GraphInfo) { g.Outputs[0].DType = "int32" }, ErrInvalidShape},
		{"rank-one-ids", func(g *ctxbin.GraphInfo) { g.Inputs[0].Dims = []uint32{8} }, ErrInvalidShape},
		{"position-mismatch", func(g *ctxbin.GraphInfo) { g.Inputs[1].Dims = []uint32{1, 4} }, ErrInvalidShape},
		{"logits-per-token", func(g *ctxbin.GraphInfo) { g.Outputs[0].Dims = []uint32{1, 8, 50} }, ErrInvalidShape},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			info := testInfo(1, 8, 50)
			tc.mutate(&info)
			if _, err := FromInfo(info); !errors.Is(err, tc.want) {
				t.Fatalf("err = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestAttachValidation(t *testing.T) {
	t.Parallel()
	s := mustShape(t, 1, 4, 10)

	if err := s.Attach("attention_mask", buffer.Alloc(32)); !errors.Is(err, ErrUnknownSlot) {
		t.Fatalf("unknown slot err = %v", err)
	}
	if err := s.Attach(SlotInputIDs, buffer.Alloc(31)); !errors.Is(err, ErrSizeMismatch) {
		t.Fatalf("size mismatch err = %v", err)
	}
	dead := buffer.Alloc(32)
	_ = dead.Release()
	if err := s.Attach(SlotInputIDs, dead); !errors.Is(err, buffer.ErrReleased) {
		t.Fatalf("released err = %v", err)
	}
	if s.Bound() != 0 {
		t.Fatalf("failed attaches left %d bindings", s.Bound())
	}
}

func TestAttachRejectsAliasing(t *testing.T) {
	t.Parallel()
	s := mustShape(t, 1, 4, 10)
	tr := buffer.NewTracker()

	ids := tr.Alloc(32)
	if err := s.Attach(SlotInputIDs, ids); err != nil {
		t.Fatal(err)
	}
	// Same storage through a borrowed view is still the same buffer.
	if err := s.Attach(SlotPositionIDs, ids.Borrow()); !errors.Is(err, ErrAliased) {
		t.Fatalf("alias err = %v", err)
	}
	if err := s.DetachAll(); err != nil {
		t.Fatal(err)
	}
	if st := tr.Stats(); st.Outstanding != 0 || st.DoubleReleases != 0 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestReplaceReleasesOwnedOnly(t *testing.T) {
	t.Parallel()
	s := mustShape(t, 1, 4, 10)
	tr := buffer.NewTracker()

	first := tr.Alloc(32)
	second := tr.Alloc(32)
	if err := s.Attach(SlotInputIDs, first); err != nil {
		t.Fatal(err)
	}
	if err := s.Attach(SlotInputIDs, second); err != nil {
		t.Fatal(err)
	}
	if !first.Released() {
		t.Fatal("replaced owned buffer was not released")
	}

	// Borrowed logits are never released by the shape.
	scratch := tr.Alloc(40)
	for range 3 {
		if err := s.Attach(SlotLogits, scratch.Borrow()); err != nil {
			t.Fatal(err)
		}
		if err := s.DetachAll(); err != nil {
			t.Fatal(err)
		}
	}
	if scratch.Released() {
		t.Fatal("shape released a borrowed buffer")
	}
	if !second.Released() {
		t.Fatal("DetachAll did not release owned attachment")
	}
	if err := s.DetachAll(); err != nil {
		t.Fatalf("second DetachAll: %v", err)
	}
	if err := scratch.Release(); err != nil {
		t.Fatal(err)
	}

	st := tr.Stats()
	if st.Allocated != 3 || st.Outstanding != 0 || st.DoubleReleases != 0 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestFailedReplaceLeavesBufferWithCaller(t *testing.T) {
	t.Parallel()
	s := mustShape(t, 1, 4, 10)
	tr := buffer.NewTracker()

	first := tr.Alloc(32)
	if err := s.Attach(SlotInputIDs, first); err != nil {
		t.Fatal(err)
	}
	// The shape owns first now; releasing it here is the caller's mistake.
	_ = first.Release()

	second := tr.Alloc(32)
	err := s.Attach(SlotInputIDs, second)
	if !errors.Is(err, buffer.ErrDoubleRelease) {
		t.Fatalf("attach over released buffer: %v", err)
	}
	if s.Bound() != 0 || second.Released() {
		t.Fatalf("bound = %d, second released = %v", s.Bound(), second.Released())
	}

	if err := errors.Join(second.Release(), s.DetachAll()); err != nil {
		t.Fatal(err)
	}
	if st := tr.Stats(); st.Outstanding != 0 || st.DoubleReleases != 1 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestParseDType(t *testing.T) {
	t.Parallel()
	for in, want := range map[string]DType{"int64": DTypeInt64, "FP16": DTypeFloat16, " f32 ": DTypeFloat32, "uint64": DTypeUint64} {
		got, err := ParseDType(in)
		if err != nil || got != want {
			t.Errorf("ParseDType(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
}
