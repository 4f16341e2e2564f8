// Package logits turns logits buffers into token ids.
package logits

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/x448/float16"

	"github.com/samcharles93/kvrun/internal/graph"
)

var (
	ErrEmptyVocab    = errors.New("logits: vocabulary size is zero")
	ErrNoFiniteLogit = errors.New("logits: row has no value above -Inf")
	ErrShortBuffer   = errors.New("logits: buffer shorter than batch*vocab")
	ErrDType         = errors.New("logits: unsupported dtype")
)

// Argmax returns the index of the largest value in row. The scan is strict
// greater-than from -Inf, so the first index wins ties and NaN never wins.
func Argmax(row []float32) (int, error) {
	if len(row) == 0 {
		return -1, ErrEmptyVocab
	}
	best, idx := float32(math.Inf(-1)), -1
	for i, v := range row {
		if v > best {
			best, idx = v, i
		}
	}
	if idx < 0 {
		return -1, ErrNoFiniteLogit
	}
	return idx, nil
}

// Greedy samples one token per batch row from a raw logits buffer.
type Greedy struct {
	row []float32
}

// SampleBatch decodes batch rows of vocab logits from buf and writes the
// argmax of row b into dst[b].
func (g *Greedy) SampleBatch(buf []byte, dtype graph.DType, vocab, batch int, dst []int) error {
	if vocab <= 0 {
		return ErrEmptyVocab
	}
	if len(dst) < batch {
		return fmt.Errorf("logits: destination holds %d of %d rows", len(dst), batch)
	}
	size := dtype.Size()
	if !dtype.IsFloat() {
		return fmt.Errorf("%w: %s", ErrDType, dtype)
	}
	if len(buf) < batch*vocab*size {
		return fmt.Errorf("%w: %d bytes, need %d", ErrShortBuffer, len(buf), batch*vocab*size)
	}
	if cap(g.row) < vocab {
		g.row = make([]float32, vocab)
	}
	row := g.row[:vocab]

	for b := 0; b < batch; b++ {
		src := buf[b*vocab*size : (b+1)*vocab*size]
		switch dtype {
		case graph.DTypeFloat32:
			for i := range row {
				row[i] = math.Float32frombits(binary.LittleEndian.Uint32(src[i*4:]))
			}
		case graph.DTypeFloat16:
			for i := range row {
				row[i] = float16.Frombits(binary.LittleEndian.Uint16(src[i*2:])).Float32()
			}
		}
		tok, err := Argmax(row)
		if err != nil {
			return fmt.Errorf("row %d: %w", b, err)
		}
		dst[b] = tok
	}
	return nil
}
