package reference

import (
	"encoding/binary"
	"math"

	"github.com/samcharles93/kvrun/internal/backend"
	"github.com/samcharles93/kvrun/internal/graph"
)

type intTensor struct {
	backend.Binding
	vals []int64
}

func intBinding(bs []backend.Binding, name string) (intTensor, error) {
	b, ok := backend.Find(bs, name)
	if !ok {
		return intTensor{}, bindingErr("missing %s input", name)
	}
	data := b.Buf.Bytes()
	if data == nil {
		return intTensor{}, bindingErr("%s buffer released", name)
	}
	n := b.Elements()
	if len(data) != n*b.DType.Size() {
		return intTensor{}, bindingErr("%s holds %d bytes, want %d", name, len(data), n*b.DType.Size())
	}
	vals := make([]int64, n)
	switch b.DType {
	case graph.DTypeInt64, graph.DTypeUint64:
		for i := range vals {
			vals[i] = int64(binary.LittleEndian.Uint64(data[i*8:]))
		}
	case graph.DTypeInt32:
		for i := range vals {
			vals[i] = int64(int32(binary.LittleEndian.Uint32(data[i*4:])))
		}
	default:
		return intTensor{}, bindingErr("%s has non-integer dtype %s", name, b.DType)
	}
	return intTensor{Binding: b, vals: vals}, nil
}

func putF32(dst []byte, v float32) {
	binary.LittleEndian.PutUint32(dst, math.Float32bits(v))
}
