package ctxstore

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/samcharles93/kvrun/internal/tokenizer"
	"github.com/samcharles93/kvrun/pkg/ctxbin"
)

func graphInfo(name string, batch, seq, vocab uint32) ctxbin.GraphInfo {
	return ctxbin.GraphInfo{
		Name: name,
		Inputs: []ctxbin.TensorInfo{
			{Name: "input_ids", DType: "int64", Dims: []uint32{batch, seq}},
			{Name: "position_ids", DType: "int64", Dims: []uint32{batch, seq}},
		},
		Outputs: []ctxbin.TensorInfo{
			{Name: "logits", DType: "float32", Dims: []uint32{batch, 1, vocab}},
		},
	}
}

func TestOpenAndSelectGraphs(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "model.bin")
	eos := 2
	err := Write(path, Contents{
		Graphs: []ctxbin.GraphInfo{
			graphInfo("decode", 2, 1, 4),
			graphInfo("prefill", 2, 8, 4),
		},
		Weights:  bytes.NewReader(make([]byte, 64)),
		Vocab:    tokenizer.NewVocab([]string{"a", "b", "</s>", "c"}),
		Metadata: &ctxbin.Metadata{Model: "tiny", ContextLength: 32, EOSTokenID: &eos},
	})
	if err != nil {
		t.Fatalf("write: %v", err)
	}

	f, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil {
			t.Fatalf("close: %v", cerr)
		}
	}()

	prefill, decode, err := f.SelectGraphs()
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if prefill.Name != "prefill" || prefill.ChunkLen != 8 {
		t.Fatalf("prefill = %v", prefill)
	}
	if decode.Name != "decode" || decode.ChunkLen != 1 {
		t.Fatalf("decode = %v", decode)
	}

	w, err := f.Weights()
	if err != nil || len(w) != 64 {
		t.Fatalf("weights = %d bytes, %v", len(w), err)
	}
	v, err := f.Vocab()
	if err != nil || v.Len() != 4 {
		t.Fatalf("vocab = %v, %v", v, err)
	}
	md := f.Metadata()
	if md.Model != "tiny" || md.EOSTokenID == nil || *md.EOSTokenID != 2 {
		t.Fatalf("metadata = %+v", md)
	}
}

func TestSingleGraphServesBothPhases(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "one.bin")
	if err := Write(path, Contents{Graphs: []ctxbin.GraphInfo{graphInfo("only", 1, 1, 8)}}); err != nil {
		t.Fatal(err)
	}
	f, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	prefill, decode, err := f.SelectGraphs()
	if err != nil {
		t.Fatal(err)
	}
	if prefill.Name != "only" || decode.Name != "only" {
		t.Fatalf("got %s / %s", prefill.Name, decode.Name)
	}
	// Distinct shapes so each phase owns its own attachments.
	if prefill == decode {
		t.Fatal("prefill and decode share a Shape")
	}
	if _, err := f.Vocab(); !errors.Is(err, ErrNoVocab) {
		t.Fatalf("vocab err = %v", err)
	}
	if _, err := f.Weights(); !errors.Is(err, ErrNoWeights) {
		t.Fatalf("weights err = %v", err)
	}
}

func TestSelectGraphsRejectsMismatchedBatch(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "bad.bin")
	err := Write(path, Contents{Graphs: []ctxbin.GraphInfo{
		graphInfo("decode", 1, 1, 8),
		graphInfo("prefill", 2, 4, 8),
	}})
	if err != nil {
		t.Fatal(err)
	}
	f, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if _, _, err := f.SelectGraphs(); err == nil {
		t.Fatal("expected batch mismatch error")
	}
}

func TestWriteLeavesOnlyTheBinary(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "model.bin")
	if err := Write(path, Contents{}); !errors.Is(err, ErrNoGraphs) {
		t.Fatalf("empty contents: got %v", err)
	}
	if err := Write(path, Contents{Graphs: []ctxbin.GraphInfo{graphInfo("only", 1, 4, 3)}}); err != nil {
		t.Fatalf("write: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name() != "model.bin" {
		t.Fatalf("directory holds %v", entries)
	}

	f, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = f.Close() }()
	if _, err := f.Weights(); !errors.Is(err, ErrNoWeights) {
		t.Fatalf("weights: got %v", err)
	}
}
