// Package graph describes the fixed tensor shapes of a compiled graph and
// binds caller buffers to its named slots.
package graph

import (
	"errors"
	"fmt"

	"github.com/samcharles93/kvrun/internal/buffer"
	"github.com/samcharles93/kvrun/pkg/ctxbin"
)

// Well-known slot names.
const (
	SlotInputIDs    = "input_ids"
	SlotPositionIDs = "position_ids"
	SlotLogits      = "logits"
)

var (
	ErrUnknownSlot   = errors.New("graph: unknown slot")
	ErrSizeMismatch  = errors.New("graph: buffer size mismatch")
	ErrAliased       = errors.New("graph: buffer already attached to another slot")
	ErrUnknownDType  = errors.New("graph: unknown dtype")
	ErrInvalidShape  = errors.New("graph: invalid shape")
	ErrMissingTensor = errors.New("graph: required tensor missing")
)

// Tensor is the static description of a slot.
type Tensor struct {
	Name  string
	DType DType
	Dims  []int
}

// Elements returns the product of the dimensions.
func (t Tensor) Elements() int {
	n := 1
	for _, d := range t.Dims {
		n *= d
	}
	return n
}

// Slot is a named graph input or output and its current attachment.
type Slot struct {
	Tensor
	attached *buffer.Buffer
}

func (s *Slot) ExpectedBytes() int {
	return s.Elements() * s.DType.Size()
}

// Attached returns the buffer currently bound to the slot, if any.
func (s *Slot) Attached() *buffer.Buffer { return s.attached }

// Shape is the capability contract of one compiled graph: the batch size,
// chunk length and vocabulary size it was built for, and its ordered slots.
type Shape struct {
	Name      string
	BatchSize int
	ChunkLen  int
	VocabSize int
	Inputs    []*Slot
	Outputs   []*Slot
}

// FromInfo derives a shape from a graph descriptor. The graph must have
// input_ids and position_ids inputs shaped [batch, chunk] and a logits output
// holding one vocabulary row per batch element.
func FromInfo(info ctxbin.GraphInfo) (*Shape, error) {
	s := &Shape{Name: info.Name}
	var err error
	if s.Inputs, err = slotsFrom(info.Inputs); err != nil {
		return nil, fmt.Errorf("graph %q inputs: %w", info.Name, err)
	}
	if s.Outputs, err = slotsFrom(info.Outputs); err != nil {
		return nil, fmt.Errorf("graph %q outputs: %w", info.Name, err)
	}

	ids := s.Slot(SlotInputIDs)
	pos := s.Slot(SlotPositionIDs)
	lg := s.Slot(SlotLogits)
	switch {
	case ids == nil:
		return nil, fmt.Errorf("%w: graph %q has no %s input", ErrMissingTensor, info.Name, SlotInputIDs)
	case pos == nil:
		return nil, fmt.Errorf("%w: graph %q has no %s input", ErrMissingTensor, info.Name, SlotPositionIDs)
	case lg == nil:
		return nil, fmt.Errorf("%w: graph %q has no %s output", ErrMissingTensor, info.Name, SlotLogits)
	}

	if len(ids.Dims) < 2 {
		return nil, fmt.Errorf("%w: graph %q %s must be [batch, seq], got %v", ErrInvalidShape, info.Name, SlotInputIDs, ids.Dims)
	}
	s.BatchSize = ids.Dims[0]
	s.ChunkLen = ids.Elements() / s.BatchSize
	if pos.Elements() != ids.Elements() {
		return nil, fmt.Errorf("%w: graph %q %s %v does not match %s %v",
			ErrInvalidShape, info.Name, SlotPositionIDs, pos.Dims, SlotInputIDs, ids.Dims)
	}
	if ids.DType.IsFloat() || pos.DType.IsFloat() {
		return nil, fmt.Errorf("%w: graph %q id inputs must be integer typed", ErrInvalidShape, info.Name)
	}
	if !lg.DType.IsFloat() {
		return nil, fmt.Errorf("%w: graph %q logits must be float typed, got %s", ErrInvalidShape, info.Name, lg.DType)
	}
	s.VocabSize = lg.Dims[len(lg.Dims)-1]
	if lg.Elements() != s.BatchSize*s.VocabSize {
		return nil, fmt.Errorf("%w: graph %q logits %v must hold %d rows of %d",
			ErrInvalidShape, info.Name, lg.Dims, s.BatchSize, s.VocabSize)
	}
	return s, nil
}

func slotsFrom(infos []ctxbin.TensorInfo) ([]*Slot, error) {
	out := make([]*Slot, 0, len(infos))
	for _, ti := range infos {
		dt, err := ParseDType(ti.DType)
		if err != nil {
			return nil, fmt.Errorf("tensor %q: %w", ti.Name, err)
		}
		dims := make([]int, len(ti.Dims))
		for i, d := range ti.Dims {
			if d == 0 {
				return nil, fmt.Errorf("%w: tensor %q has a zero dimension", ErrInvalidShape, ti.Name)
			}
			dims[i] = int(d)
		}
		out = append(out, &Slot{Tensor: Tensor{Name: ti.Name, DType: dt, Dims: dims}})
	}
	return out, nil
}

// Slot looks a slot up by name across inputs and outputs.
func (s *Shape) Slot(name string) *Slot {
	for _, sl := range s.Inputs {
		if sl.Name == name {
			return sl
		}
	}
	for _, sl := range s.Outputs {
		if sl.Name == name {
			return sl
		}
	}
	return nil
}

func (s *Shape) String() string {
	return fmt.Sprintf("%s[batch=%d chunk=%d vocab=%d]", s.Name, s.BatchSize, s.ChunkLen, s.VocabSize)
}
