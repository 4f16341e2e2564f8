package reference

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

var weightsMagic = [4]byte{'B', 'G', 'R', 'M'}

const weightsHeaderSize = 8

var ErrInvalidWeights = errors.New("reference: invalid weights payload")

// Table is a bigram logits table: row i holds the logits produced after
// token i.
type Table struct {
	Vocab int
	Data  []float32
}

func (t *Table) Row(tok int) []float32 {
	return t.Data[tok*t.Vocab : (tok+1)*t.Vocab]
}

// NewTable builds a table whose greedy successor of token i is next(i).
func NewTable(vocab int, next func(int) int) *Table {
	t := &Table{Vocab: vocab, Data: make([]float32, vocab*vocab)}
	for i := 0; i < vocab; i++ {
		row := t.Row(i)
		for j := range row {
			row[j] = -1
		}
		row[next(i)%vocab] = 1
	}
	return t
}

// Synthetic returns a deterministic pseudo-random table for seed.
func Synthetic(vocab int, seed uint64) *Table {
	t := &Table{Vocab: vocab, Data: make([]float32, vocab*vocab)}
	s := seed
	for i := range t.Data {
		s = splitmix64(s)
		t.Data[i] = float32(s>>40) / float32(1<<24)
	}
	return t
}

func splitmix64(x uint64) uint64 {
	x += 0x9e3779b97f4a7c15
	z := x
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return z ^ (z >> 31)
}

// Encode serializes t as a weights payload.
func (t *Table) Encode() []byte {
	out := make([]byte, weightsHeaderSize+4*len(t.Data))
	copy(out, weightsMagic[:])
	binary.LittleEndian.PutUint32(out[4:], uint32(t.Vocab))
	for i, v := range t.Data {
		binary.LittleEndian.PutUint32(out[weightsHeaderSize+4*i:], math.Float32bits(v))
	}
	return out
}

// DecodeTable parses a weights payload.
func DecodeTable(data []byte) (*Table, error) {
	if len(data) < weightsHeaderSize || [4]byte(data[:4]) != weightsMagic {
		return nil, fmt.Errorf("%w: bad magic", ErrInvalidWeights)
	}
	vocab := int(binary.LittleEndian.Uint32(data[4:]))
	if vocab == 0 {
		return nil, fmt.Errorf("%w: zero vocabulary", ErrInvalidWeights)
	}
	want := weightsHeaderSize + 4*vocab*vocab
	if len(data) != want {
		return nil, fmt.Errorf("%w: %d bytes, want %d for vocab %d", ErrInvalidWeights, len(data), want, vocab)
	}
	t := &Table{Vocab: vocab, Data: make([]float32, vocab*vocab)}
	for i := range t.Data {
		t.Data[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[weightsHeaderSize+4*i:]))
	}
	return t, nil
}
