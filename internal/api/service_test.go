package api

import (
	"context"
	"errors"
	"testing"

	"github.com/samcharles93/kvrun/internal/backend"
	"github.com/samcharles93/kvrun/internal/backend/reference"
	"github.com/samcharles93/kvrun/internal/graph"
	"github.com/samcharles93/kvrun/internal/inference"
	"github.com/samcharles93/kvrun/internal/tokenizer"
	"github.com/samcharles93/kvrun/pkg/ctxbin"
)

func testShape(t *testing.T, name string, batch, seq, vocab int) *graph.Shape {
	t.Helper()
	dims := []uint32{uint32(batch), uint32(seq)}
	s, err := graph.FromInfo(ctxbin.GraphInfo{
		Name: name,
		Inputs: []ctxbin.TensorInfo{
			{Name: graph.SlotInputIDs, DType: "int64", Dims: dims},
			{Name: graph.SlotPositionIDs, DType: "int64", Dims: dims},
		},
		Outputs: []ctxbin.TensorInfo{
			{Name: graph.SlotLogits, DType: "float32", Dims: []uint32{uint32(batch), 1, uint32(vocab)}},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	return s
}

// newTestService builds a batch-2 driver over the reference backend whose
// greedy successor of token i is i+1.
func newTestService(t *testing.T, defaults Defaults) *DriverService {
	t.Helper()
	words := []string{"a", "b", "c", "d", "e", "</s>"}
	vocab := tokenizer.NewVocab(words)
	table := reference.NewTable(len(words), func(i int) int { return i + 1 })
	sess, err := reference.New().Open(context.Background(), table.Encode(), backend.SessionConfig{QueueDepth: 1})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = sess.Close() })

	d, err := inference.NewDriver(sess, testShape(t, "prefill", 2, 3, len(words)), testShape(t, "decode", 2, 1, len(words)), vocab)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = d.Close() })
	return NewDriverService(d, defaults)
}

func TestDriverServiceGeneratesFromPrompt(t *testing.T) {
	t.Parallel()
	s := newTestService(t, Defaults{GenLen: 10})

	var streamed []string
	res, err := s.Generate(context.Background(), GenerateRequest{Prompt: "ab"}, func(seq int, tok string) {
		if seq == 0 {
			streamed = append(streamed, tok)
		}
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	for i, out := range res.Outputs() {
		if out != "abcde</s>" {
			t.Fatalf("output %d = %q", i, out)
		}
	}
	if res.Stats.StopReason != inference.StopEOS {
		t.Fatalf("stop reason = %q", res.Stats.StopReason)
	}
	if len(streamed) != 4 {
		t.Fatalf("streamed = %v", streamed)
	}

	// Requests run back to back on the same session.
	res, err = s.Generate(context.Background(), GenerateRequest{InputIDs: []int64{2}, GenLen: intPtr(2)}, nil)
	if err != nil {
		t.Fatalf("second generate: %v", err)
	}
	if got := res.Outputs()[1]; got != "cde" {
		t.Fatalf("second output = %q", got)
	}
}

func TestDriverServiceValidates(t *testing.T) {
	t.Parallel()
	s := newTestService(t, Defaults{GenLen: 4, CtxLen: 4})

	tests := []struct {
		name string
		req  GenerateRequest
	}{
		{"empty", GenerateRequest{}},
		{"unencodable", GenerateRequest{Prompt: "xyz"}},
		{"id out of range", GenerateRequest{InputIDs: []int64{9}}},
		{"negative gen_len", GenerateRequest{Prompt: "a", GenLen: intPtr(-1)}},
		{"bad policy", GenerateRequest{Prompt: "a", StopPolicy: "first"}},
		{"stop index", GenerateRequest{Prompt: "a", StopPolicy: "sequence", StopIndex: 2}},
		{"context", GenerateRequest{Prompt: "abcd"}},
	}
	for _, tt := range tests {
		_, err := s.Generate(context.Background(), tt.req, nil)
		if !errors.Is(err, ErrInvalidRequest) {
			t.Fatalf("%s: err = %v, want ErrInvalidRequest", tt.name, err)
		}
	}
}

func intPtr(v int) *int { return &v }
