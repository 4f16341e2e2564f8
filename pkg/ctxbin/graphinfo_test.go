package ctxbin

import (
	"errors"
	"testing"
)

func TestGraphInfoKeepsDeclarationOrder(t *testing.T) {
	t.Parallel()

	graphs := []GraphInfo{
		{
			Name:    "decode",
			Inputs:  []TensorInfo{{Name: "input_ids", DType: "int64", Dims: []uint32{2, 1}}, {Name: "position_ids", DType: "int64", Dims: []uint32{2, 1}}},
			Outputs: []TensorInfo{{Name: "logits", DType: "float32", Dims: []uint32{2, 1, 16}}},
		},
		{
			Name:    "prefill",
			Inputs:  []TensorInfo{{Name: "input_ids", DType: "int64", Dims: []uint32{2, 8}}, {Name: "position_ids", DType: "int64", Dims: []uint32{2, 8}}},
			Outputs: []TensorInfo{{Name: "logits", DType: "float32", Dims: []uint32{2, 1, 16}}},
		},
	}
	data, err := EncodeGraphInfo(graphs)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := DecodeGraphInfo(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 2 || got[0].Name != "decode" || got[1].Name != "prefill" {
		t.Fatalf("unexpected graphs: %+v", got)
	}
	if got[1].Inputs[0].Rank() != 2 || got[1].Inputs[0].Dims[1] != 8 {
		t.Fatalf("unexpected prefill input: %+v", got[1].Inputs[0])
	}
}

func TestGraphInfoValidation(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		graphs []GraphInfo
	}{
		{name: "empty", graphs: nil},
		{name: "unnamed-graph", graphs: []GraphInfo{{Name: " "}}},
		{name: "duplicate-graph", graphs: []GraphInfo{{Name: "a"}, {Name: "a"}}},
		{name: "zero-dim", graphs: []GraphInfo{{Name: "a", Inputs: []TensorInfo{{Name: "x", DType: "int64", Dims: []uint32{1, 0}}}}}},
		{name: "rank-zero", graphs: []GraphInfo{{Name: "a", Outputs: []TensorInfo{{Name: "logits", DType: "float32"}}}}},
		{name: "duplicate-tensor", graphs: []GraphInfo{{Name: "a", Inputs: []TensorInfo{
			{Name: "x", DType: "int64", Dims: []uint32{1}},
			{Name: "x", DType: "int64", Dims: []uint32{1}},
		}}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := EncodeGraphInfo(tc.graphs)
			if !errors.Is(err, ErrInvalidGraphInfo) {
				t.Fatalf("got %v, want ErrInvalidGraphInfo", err)
			}
		})
	}
}

func TestDecodeGraphInfoRejectsGarbage(t *testing.T) {
	t.Parallel()

	if _, err := DecodeGraphInfo([]byte("{not json")); !errors.Is(err, ErrInvalidGraphInfo) {
		t.Fatalf("got %v, want ErrInvalidGraphInfo", err)
	}
	if _, err := DecodeGraphInfo(nil); !errors.Is(err, ErrInvalidGraphInfo) {
		t.Fatalf("got %v, want ErrInvalidGraphInfo", err)
	}
}
