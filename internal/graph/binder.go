package graph

import (
	"errors"
	"fmt"

	"github.com/samcharles93/kvrun/internal/buffer"
)

// Attach binds buf to the named slot.
//
// An owned buffer becomes the shape's: it is released when the slot is
// re-attached or when DetachAll runs. A borrowed buffer is only referenced.
// On error buf is not attached and is still the caller's. If releasing the
// replaced buffer fails, that buffer is dropped from the slot.
func (s *Shape) Attach(name string, buf *buffer.Buffer) error {
	slot := s.Slot(name)
	if slot == nil {
		return fmt.Errorf("%w: %q in graph %q", ErrUnknownSlot, name, s.Name)
	}
	if buf.Released() {
		return fmt.Errorf("attach %q in graph %q: %w", name, s.Name, buffer.ErrReleased)
	}
	if got, want := buf.Len(), slot.ExpectedBytes(); got != want {
		return fmt.Errorf("%w: slot %q in graph %q expects %d bytes, got %d",
			ErrSizeMismatch, name, s.Name, want, got)
	}
	if other := s.holder(buf.ID()); other != nil && other != slot {
		return fmt.Errorf("%w: buffer#%d is bound to %q, cannot bind to %q",
			ErrAliased, buf.ID(), other.Name, name)
	}

	prev := slot.attached
	if prev != nil && prev.ID() == buf.ID() {
		// Same storage: keep whichever handle owns it.
		if !prev.Owned() {
			slot.attached = buf
		}
		return nil
	}
	if prev != nil {
		if err := prev.Release(); err != nil {
			// prev is unusable either way; drop it so DetachAll does not retry.
			slot.attached = nil
			return fmt.Errorf("attach %q in graph %q: release previous: %w", name, s.Name, err)
		}
	}
	slot.attached = buf
	return nil
}

func (s *Shape) holder(id uint64) *Slot {
	for _, group := range [][]*Slot{s.Inputs, s.Outputs} {
		for _, sl := range group {
			if sl.attached != nil && sl.attached.ID() == id {
				return sl
			}
		}
	}
	return nil
}

// DetachAll clears every attachment, releasing the ones the shape owns.
// It is safe to call more than once.
func (s *Shape) DetachAll() error {
	var errs []error
	for _, group := range [][]*Slot{s.Inputs, s.Outputs} {
		for _, sl := range group {
			if sl.attached == nil {
				continue
			}
			if err := sl.attached.Release(); err != nil {
				errs = append(errs, fmt.Errorf("detach %q: %w", sl.Name, err))
			}
			sl.attached = nil
		}
	}
	return errors.Join(errs...)
}

// Bound reports how many slots currently hold a buffer.
func (s *Shape) Bound() int {
	n := 0
	for _, group := range [][]*Slot{s.Inputs, s.Outputs} {
		for _, sl := range group {
			if sl.attached != nil {
				n++
			}
		}
	}
	return n
}
