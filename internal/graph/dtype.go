package graph

import (
	"fmt"
	"strings"
)

// DType is the element type of a graph tensor.
type DType uint8

const (
	DTypeInvalid DType = iota
	DTypeInt64
	DTypeUint64
	DTypeInt32
	DTypeFloat32
	DTypeFloat16
)

var dtypeNames = map[DType]string{
	DTypeInt64:   "int64",
	DTypeUint64:  "uint64",
	DTypeInt32:   "int32",
	DTypeFloat32: "float32",
	DTypeFloat16: "float16",
}

func (d DType) String() string {
	if s, ok := dtypeNames[d]; ok {
		return s
	}
	return fmt.Sprintf("dtype(%d)", uint8(d))
}

// Size returns the element size in bytes, or 0 for an invalid dtype.
func (d DType) Size() int {
	switch d {
	case DTypeInt64, DTypeUint64:
		return 8
	case DTypeInt32, DTypeFloat32:
		return 4
	case DTypeFloat16:
		return 2
	default:
		return 0
	}
}

func (d DType) IsFloat() bool {
	return d == DTypeFloat32 || d == DTypeFloat16
}

// ParseDType accepts the names written in graph info sections. "f32", "fp16"
// and friends are accepted as aliases.
func ParseDType(s string) (DType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "int64", "i64":
		return DTypeInt64, nil
	case "uint64", "u64":
		return DTypeUint64, nil
	case "int32", "i32":
		return DTypeInt32, nil
	case "float32", "f32", "fp32":
		return DTypeFloat32, nil
	case "float16", "f16", "fp16", "half":
		return DTypeFloat16, nil
	default:
		return DTypeInvalid, fmt.Errorf("%w: %q", ErrUnknownDType, s)
	}
}
