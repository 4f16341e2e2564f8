package inference

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/samcharles93/kvrun/internal/buffer"
	"github.com/samcharles93/kvrun/internal/graph"
	"github.com/samcharles93/kvrun/internal/metrics"
)

// DecodeResult describes how the decode loop ended.
type DecodeResult struct {
	Steps      int
	StopReason StopReason
	Duration   time.Duration
}

// Decode feeds each sequence's last token back through the decode graph
// until the step budget, the stop policy, the context guard or an error
// ends the loop. It runs at most GenLen-1 steps since the first token comes
// from prefill.
//
// On an execute failure the returned error wraps ErrDecode and every
// sequence keeps the tokens appended before the failing step.
func (d *Driver) Decode(ctx context.Context, seqs []*Sequence, opts DecodeOptions) (res DecodeResult, err error) {
	shape := d.decode
	start := time.Now()
	res.StopReason = StopBudget

	if len(seqs) != shape.BatchSize {
		return res, fmt.Errorf("%w: %d sequences for batch size %d", ErrConfig, len(seqs), shape.BatchSize)
	}
	if opts.StopPolicy == StopSequence && (opts.StopIndex < 0 || opts.StopIndex >= len(seqs)) {
		return res, fmt.Errorf("%w: stop index %d outside batch of %d", ErrConfig, opts.StopIndex, len(seqs))
	}
	if d.shouldStop(seqs, opts) {
		res.StopReason = StopEOS
		return res, nil
	}

	elems := shape.BatchSize * shape.ChunkLen
	idsBuf := d.alloc(elems * shape.Slot(graph.SlotInputIDs).DType.Size())
	posBuf := d.alloc(elems * shape.Slot(graph.SlotPositionIDs).DType.Size())
	lg, _ := d.logitsFor(shape)
	defer func() {
		cleanup := errors.Join(shape.DetachAll(), idsBuf.Release(), posBuf.Release())
		if err == nil && cleanup != nil {
			err = fmt.Errorf("%w: release step buffers: %w", ErrDecode, cleanup)
		}
		res.Duration = time.Since(start)
	}()

	next := make([]int, shape.BatchSize)
	for step := 1; step < opts.GenLen; step++ {
		if cerr := ctx.Err(); cerr != nil {
			res.StopReason = StopCancelled
			return res, fmt.Errorf("decode step %d: %w", step, cerr)
		}
		if opts.CtxLen > 0 && d.contextFull(seqs, opts.CtxLen) {
			res.StopReason = StopContext
			d.log.Info("context length reached", "ctx_len", opts.CtxLen, "step", step)
			return res, nil
		}

		if err := d.writeStep(shape, seqs, idsBuf, posBuf); err != nil {
			res.StopReason = StopError
			return res, fmt.Errorf("%w: step %d: %w", ErrDecode, step, err)
		}
		for _, b := range []struct {
			name string
			buf  *buffer.Buffer
		}{
			{graph.SlotInputIDs, idsBuf.Borrow()},
			{graph.SlotPositionIDs, posBuf.Borrow()},
			{graph.SlotLogits, lg.Borrow()},
		} {
			if err := shape.Attach(b.name, b.buf); err != nil {
				res.StopReason = StopError
				return res, fmt.Errorf("%w: step %d: %w", ErrDecode, step, err)
			}
		}

		op := fmt.Sprintf("execute decode step %d", step)
		if err := d.execute(ctx, metrics.PhaseDecode, op, d.dg, shape); err != nil {
			res.StopReason = StopError
			return res, fmt.Errorf("%w: %w", ErrDecode, err)
		}
		if err := d.sample(shape, next); err != nil {
			res.StopReason = StopError
			return res, fmt.Errorf("%w: step %d: %w", ErrDecode, step, err)
		}
		res.Steps++

		if err := d.commit(seqs, next, opts); err != nil {
			res.StopReason = StopError
			return res, fmt.Errorf("%w: step %d: %w", ErrDecode, step, err)
		}
		d.metrics.AddTokens(metrics.PhaseDecode, len(seqs))

		if d.shouldStop(seqs, opts) {
			res.StopReason = StopEOS
			d.log.Debug("stop condition met", "step", step, "policy", opts.StopPolicy.String())
			return res, nil
		}
	}
	return res, nil
}

// writeStep fills the step buffers with each sequence's last token at its
// cache position. Extra columns of a multi-token decode graph are padding.
func (d *Driver) writeStep(shape *graph.Shape, seqs []*Sequence, ids, pos *buffer.Buffer) error {
	idt := shape.Slot(graph.SlotInputIDs).DType
	pdt := shape.Slot(graph.SlotPositionIDs).DType
	for b, s := range seqs {
		for j := 0; j < shape.ChunkLen; j++ {
			tok, p := int64(0), int64(-1)
			if j == 0 {
				tok, p = int64(s.LastToken), int64(s.CachePosition)
			}
			i := b*shape.ChunkLen + j
			if err := putInt(ids, idt, i, tok); err != nil {
				return err
			}
			if err := putInt(pos, pdt, i, p); err != nil {
				return err
			}
		}
	}
	return nil
}

// commit advances every sequence by the tokens sampled in one step.
func (d *Driver) commit(seqs []*Sequence, next []int, opts DecodeOptions) error {
	for _, s := range seqs {
		s.CachePosition++
	}
	return d.accept(seqs, next, opts)
}

// accept appends next[b] to sequence b, streams it and applies the EOS check
// to that fresh token.
func (d *Driver) accept(seqs []*Sequence, next []int, opts DecodeOptions) error {
	for b, s := range seqs {
		if s.Finished && opts.StopPolicy == StopAll {
			// Keeps feeding its last token but stops accumulating text.
			continue
		}
		str, err := s.append(d.vocab, next[b])
		if err != nil {
			return fmt.Errorf("sequence %d: %w", b, err)
		}
		if opts.Stream != nil {
			opts.Stream(b, str)
		}
		if opts.EOS != nil && next[b] == *opts.EOS {
			s.Finished = true
		}
	}
	return nil
}

func (d *Driver) shouldStop(seqs []*Sequence, opts DecodeOptions) bool {
	if opts.EOS == nil {
		return false
	}
	switch opts.StopPolicy {
	case StopAll:
		for _, s := range seqs {
			if !s.Finished {
				return false
			}
		}
		return true
	case StopSequence:
		return seqs[opts.StopIndex].Finished
	default:
		for _, s := range seqs {
			if s.Finished {
				return true
			}
		}
		return false
	}
}

func (d *Driver) contextFull(seqs []*Sequence, ctxLen int) bool {
	for _, s := range seqs {
		if s.CachePosition >= ctxLen {
			return true
		}
	}
	return false
}
