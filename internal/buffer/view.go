package buffer

import (
	"encoding/binary"
	"fmt"
)

// Little-endian element accessors. Backends exchange tensors as raw
// little-endian arrays, so these never depend on host byte order.

func (b *Buffer) checkElem(i, size int) ([]byte, error) {
	data := b.Bytes()
	if data == nil {
		return nil, ErrReleased
	}
	if i < 0 || (i+1)*size > len(data) {
		return nil, fmt.Errorf("%w: element %d of %d-byte buffer", ErrOutOfRange, i, len(data))
	}
	return data[i*size : (i+1)*size], nil
}

func (b *Buffer) Int64(i int) (int64, error) {
	p, err := b.checkElem(i, 8)
	if err != nil {
		return 0, err
	}
	return int64(binary.LittleEndian.Uint64(p)), nil
}

func (b *Buffer) SetInt64(i int, v int64) error {
	p, err := b.checkElem(i, 8)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint64(p, uint64(v))
	return nil
}

func (b *Buffer) Int32(i int) (int32, error) {
	p, err := b.checkElem(i, 4)
	if err != nil {
		return 0, err
	}
	return int32(binary.LittleEndian.Uint32(p)), nil
}

func (b *Buffer) SetInt32(i int, v int32) error {
	p, err := b.checkElem(i, 4)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(p, uint32(v))
	return nil
}

// Int64s decodes the whole buffer as int64 elements.
func (b *Buffer) Int64s() ([]int64, error) {
	data := b.Bytes()
	if data == nil {
		return nil, ErrReleased
	}
	if len(data)%8 != 0 {
		return nil, fmt.Errorf("%w: %d bytes", ErrElementSize, len(data))
	}
	out := make([]int64, len(data)/8)
	for i := range out {
		out[i] = int64(binary.LittleEndian.Uint64(data[i*8:]))
	}
	return out, nil
}

// FromInt64s encodes vals into a new owned buffer.
func FromInt64s(vals []int64) *Buffer {
	data := make([]byte, 8*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint64(data[i*8:], uint64(v))
	}
	return Own(data)
}
