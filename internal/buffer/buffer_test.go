package buffer

import (
	"errors"
	"testing"
)

func TestOwnedReleaseOnce(t *testing.T) {
	tr := NewTracker()
	b := tr.Alloc(16)
	if !b.Owned() || b.Len() != 16 {
		t.Fatalf("unexpected buffer %v", b)
	}
	if err := b.Release(); err != nil {
		t.Fatalf("first release: %v", err)
	}
	if err := b.Release(); !errors.Is(err, ErrDoubleRelease) {
		t.Fatalf("second release err = %v, want ErrDoubleRelease", err)
	}
	st := tr.Stats()
	if st.Allocated != 1 || st.Released != 1 || st.Outstanding != 0 || st.DoubleReleases != 1 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestBorrowSharesStorage(t *testing.T) {
	tr := NewTracker()
	owner := tr.Alloc(8)
	view := owner.Borrow()

	if view.Owned() {
		t.Fatal("borrowed view reports ownership")
	}
	if view.ID() != owner.ID() {
		t.Fatalf("view id %d != owner id %d", view.ID(), owner.ID())
	}
	if err := view.SetInt64(0, 42); err != nil {
		t.Fatal(err)
	}
	if got, _ := owner.Int64(0); got != 42 {
		t.Fatalf("owner sees %d, want 42", got)
	}

	// Releasing a view never frees the storage.
	for range 3 {
		if err := view.Release(); err != nil {
			t.Fatalf("borrowed release: %v", err)
		}
	}
	if owner.Released() {
		t.Fatal("borrowed release freed storage")
	}

	if err := owner.Release(); err != nil {
		t.Fatal(err)
	}
	if !view.Released() || view.Bytes() != nil {
		t.Fatal("view still usable after owner release")
	}
	if _, err := view.Int64(0); !errors.Is(err, ErrReleased) {
		t.Fatalf("read after release err = %v", err)
	}
	if st := tr.Stats(); st.Outstanding != 0 || st.DoubleReleases != 0 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestInt64Views(t *testing.T) {
	b := FromInt64s([]int64{1, -1, 1 << 40})
	got, err := b.Int64s()
	if err != nil {
		t.Fatal(err)
	}
	want := []int64{1, -1, 1 << 40}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("elem %d = %d, want %d", i, got[i], want[i])
		}
	}
	// little-endian on the wire
	if b.Bytes()[8] != 0xff || b.Bytes()[0] != 1 {
		t.Fatalf("unexpected encoding %x", b.Bytes()[:16])
	}
	if _, err := b.Int64(3); !errors.Is(err, ErrOutOfRange) {
		t.Fatalf("out of range err = %v", err)
	}
	if _, err := Own(make([]byte, 7)).Int64s(); !errors.Is(err, ErrElementSize) {
		t.Fatalf("ragged err = %v", err)
	}
}
