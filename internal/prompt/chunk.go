// Package prompt prepares the graph-shaped chunks fed to the prefill graph.
package prompt

import (
	"errors"
	"fmt"

	"github.com/samcharles93/kvrun/internal/buffer"
)

// PadPosition marks a padding element in position_ids.
const PadPosition int64 = -1

var (
	ErrNoChunks    = errors.New("prompt: no chunks")
	ErrChunkSize   = errors.New("prompt: chunk has wrong element count")
	ErrChunkTaken  = errors.New("prompt: chunk already taken")
	ErrChunkIndex  = errors.New("prompt: chunk index out of range")
	ErrEmptyPrompt = errors.New("prompt: no token ids")
)

// Chunk is one prefill step's worth of input_ids and position_ids, each
// holding batch*chunkLen little-endian int64 elements.
type Chunk struct {
	InputIDs    *buffer.Buffer
	PositionIDs *buffer.Buffer
}

// Release frees both buffers. Missing buffers are skipped.
func (c *Chunk) Release() error {
	var errs []error
	if c.InputIDs != nil {
		errs = append(errs, c.InputIDs.Release())
	}
	if c.PositionIDs != nil {
		errs = append(errs, c.PositionIDs.Release())
	}
	return errors.Join(errs...)
}

// ChunkSet holds the ordered chunks of one prompt until prefill takes them.
type ChunkSet struct {
	chunks []*Chunk
	taken  []bool
}

func NewChunkSet(chunks []*Chunk) *ChunkSet {
	return &ChunkSet{chunks: chunks, taken: make([]bool, len(chunks))}
}

func (s *ChunkSet) Len() int { return len(s.chunks) }

// Take hands chunk i to the caller, who becomes responsible for releasing it.
func (s *ChunkSet) Take(i int) (*Chunk, error) {
	if i < 0 || i >= len(s.chunks) {
		return nil, fmt.Errorf("%w: %d of %d", ErrChunkIndex, i, len(s.chunks))
	}
	if s.taken[i] {
		return nil, fmt.Errorf("%w: %d", ErrChunkTaken, i)
	}
	s.taken[i] = true
	return s.chunks[i], nil
}

// Validate checks that every chunk holds exactly elems int64 elements.
func (s *ChunkSet) Validate(elems int) error {
	if len(s.chunks) == 0 {
		return ErrNoChunks
	}
	for i, c := range s.chunks {
		if c.InputIDs == nil || c.PositionIDs == nil {
			return fmt.Errorf("%w: chunk %d is incomplete", ErrChunkSize, i)
		}
		if c.InputIDs.Len() != elems*8 || c.PositionIDs.Len() != elems*8 {
			return fmt.Errorf("%w: chunk %d has %d/%d bytes, want %d",
				ErrChunkSize, i, c.InputIDs.Len(), c.PositionIDs.Len(), elems*8)
		}
	}
	return nil
}

// Release frees every chunk that was never taken. It is safe to call more
// than once.
func (s *ChunkSet) Release() error {
	var errs []error
	for i, c := range s.chunks {
		if s.taken[i] {
			continue
		}
		s.taken[i] = true
		errs = append(errs, c.Release())
	}
	return errors.Join(errs...)
}
