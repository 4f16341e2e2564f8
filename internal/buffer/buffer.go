// Package buffer provides ownership-tagged byte regions that are handed to an
// execution backend.
//
// An owned buffer is released exactly once by whoever holds it last. A
// borrowed buffer is a view of someone else's storage: releasing it is a no-op
// and it becomes unusable once the owner releases the storage.
package buffer

import (
	"errors"
	"fmt"
	"sync/atomic"
)

var (
	ErrReleased      = errors.New("buffer: storage already released")
	ErrDoubleRelease = errors.New("buffer: double release")
	ErrOutOfRange    = errors.New("buffer: element index out of range")
	ErrElementSize   = errors.New("buffer: length is not a multiple of the element size")
)

var nextID atomic.Uint64

// storage is shared between an owned buffer and every borrowed view of it.
type storage struct {
	id       uint64
	data     []byte
	released bool
	tracker  *Tracker
}

// Buffer is a handle to a byte region. The zero value is not usable.
type Buffer struct {
	s     *storage
	owned bool
}

// Own wraps data as an owned buffer. The caller gives up the slice.
func Own(data []byte) *Buffer {
	return &Buffer{
		s:     &storage{id: nextID.Add(1), data: data},
		owned: true,
	}
}

// Alloc returns an owned, zeroed buffer of n bytes.
func Alloc(n int) *Buffer {
	return Own(make([]byte, n))
}

// Borrow returns a non-owning view of the same storage.
func (b *Buffer) Borrow() *Buffer {
	return &Buffer{s: b.s}
}

// ID identifies the underlying storage; a buffer and its borrows share an ID.
func (b *Buffer) ID() uint64 { return b.s.id }

func (b *Buffer) Owned() bool { return b.owned }

func (b *Buffer) Released() bool { return b.s.released }

// Len returns the byte length, or 0 after release.
func (b *Buffer) Len() int {
	if b.s.released {
		return 0
	}
	return len(b.s.data)
}

// Bytes returns the underlying region, or nil after release.
func (b *Buffer) Bytes() []byte {
	if b.s.released {
		return nil
	}
	return b.s.data
}

// Release frees an owned buffer. Releasing a borrowed view does nothing.
func (b *Buffer) Release() error {
	if !b.owned {
		return nil
	}
	if b.s.released {
		if b.s.tracker != nil {
			b.s.tracker.doubleRelease.Add(1)
		}
		return fmt.Errorf("%w: storage %d", ErrDoubleRelease, b.s.id)
	}
	b.s.released = true
	b.s.data = nil
	if b.s.tracker != nil {
		b.s.tracker.released.Add(1)
	}
	return nil
}

func (b *Buffer) String() string {
	kind := "borrowed"
	if b.owned {
		kind = "owned"
	}
	return fmt.Sprintf("buffer#%d(%s, %d bytes)", b.s.id, kind, b.Len())
}
