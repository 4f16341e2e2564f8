package buffer

import "sync/atomic"

// Tracker counts allocations and releases of the owned buffers it created.
// It exists so tests and debug logging can prove that every owned buffer was
// released exactly once.
type Tracker struct {
	allocated     atomic.Int64
	released      atomic.Int64
	doubleRelease atomic.Int64
}

func NewTracker() *Tracker {
	return &Tracker{}
}

// Own is like the package-level Own but records the buffer.
func (t *Tracker) Own(data []byte) *Buffer {
	b := Own(data)
	if t != nil {
		b.s.tracker = t
		t.allocated.Add(1)
	}
	return b
}

func (t *Tracker) Alloc(n int) *Buffer {
	return t.Own(make([]byte, n))
}

type Stats struct {
	Allocated      int64
	Released       int64
	Outstanding    int64
	DoubleReleases int64
}

func (t *Tracker) Stats() Stats {
	if t == nil {
		return Stats{}
	}
	a := t.allocated.Load()
	r := t.released.Load()
	return Stats{
		Allocated:      a,
		Released:       r,
		Outstanding:    a - r,
		DoubleReleases: t.doubleRelease.Load(),
	}
}
