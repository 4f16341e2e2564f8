package inference

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/samcharles93/kvrun/internal/buffer"
	"github.com/samcharles93/kvrun/internal/graph"
	"github.com/samcharles93/kvrun/internal/metrics"
	"github.com/samcharles93/kvrun/internal/prompt"
)

// PrefillResult describes a completed prefill.
type PrefillResult struct {
	// Position is the running cache position after the last chunk,
	// ChunkLen times the number of chunks. It exceeds the true prompt
	// length when the last chunk is padded.
	Position int
	Chunks   int
	// Tokens holds the token sampled for each batch row.
	Tokens   []int
	Duration time.Duration
}

// Prefill runs every chunk of set through the prefill graph in order and
// samples the first generated token of each row. Chunk buffers are handed
// to the graph as they are used; whatever remains in set is released before
// Prefill returns.
func (d *Driver) Prefill(ctx context.Context, set *prompt.ChunkSet) (res PrefillResult, err error) {
	shape := d.prefill
	start := time.Now()
	defer func() {
		cleanup := errors.Join(shape.DetachAll(), set.Release())
		if err == nil && cleanup != nil {
			err = fmt.Errorf("%w: release chunk buffers: %w", ErrPrefill, cleanup)
		}
	}()

	if err := set.Validate(shape.BatchSize * shape.ChunkLen); err != nil {
		return res, fmt.Errorf("%w: %w", ErrConfig, err)
	}

	lg, _ := d.logitsFor(shape)
	for i := 0; i < set.Len(); i++ {
		if err := ctx.Err(); err != nil {
			return res, fmt.Errorf("%w: chunk %d: %w", ErrPrefill, i, err)
		}
		chunk, err := set.Take(i)
		if err != nil {
			return res, fmt.Errorf("%w: %w", ErrPrefill, err)
		}
		if err := d.bindChunk(shape, chunk); err != nil {
			return res, fmt.Errorf("%w: chunk %d: %w", ErrPrefill, i, err)
		}
		if err := shape.Attach(graph.SlotLogits, lg.Borrow()); err != nil {
			return res, fmt.Errorf("%w: chunk %d: %w", ErrPrefill, i, err)
		}
		op := fmt.Sprintf("execute prefill chunk %d", i)
		if err := d.execute(ctx, metrics.PhasePrefill, op, d.pg, shape); err != nil {
			return res, fmt.Errorf("%w: %w", ErrPrefill, err)
		}
		res.Position += shape.ChunkLen
		res.Chunks++
		d.log.Debug("prefill chunk executed", "chunk", i, "position", res.Position)
	}

	res.Tokens = make([]int, shape.BatchSize)
	if err := d.sample(shape, res.Tokens); err != nil {
		return res, fmt.Errorf("%w: sample: %w", ErrPrefill, err)
	}
	res.Duration = time.Since(start)
	return res, nil
}

// bindChunk attaches a chunk's buffers, converting them to the slot dtype
// when the graph does not take int64. The shape owns the buffers once they
// are attached; any buffer that could not be attached is released here.
func (d *Driver) bindChunk(shape *graph.Shape, c *prompt.Chunk) error {
	ids, err := d.toSlotDType(shape, graph.SlotInputIDs, c.InputIDs)
	if err != nil {
		return errors.Join(err, c.Release())
	}
	if err := shape.Attach(graph.SlotInputIDs, ids); err != nil {
		return errors.Join(err, ids.Release(), c.PositionIDs.Release())
	}
	pos, err := d.toSlotDType(shape, graph.SlotPositionIDs, c.PositionIDs)
	if err != nil {
		return errors.Join(err, c.PositionIDs.Release())
	}
	if err := shape.Attach(graph.SlotPositionIDs, pos); err != nil {
		return errors.Join(err, pos.Release())
	}
	return nil
}

// toSlotDType returns src re-encoded for the named slot. src holds int64
// elements; for 8-byte slots it is returned unchanged.
func (d *Driver) toSlotDType(shape *graph.Shape, name string, src *buffer.Buffer) (*buffer.Buffer, error) {
	slot := shape.Slot(name)
	if slot == nil {
		return nil, fmt.Errorf("%w: %q in graph %q", graph.ErrUnknownSlot, name, shape.Name)
	}
	if slot.DType.Size() == 8 {
		return src, nil
	}
	vals, err := src.Int64s()
	if err != nil {
		return nil, err
	}
	dst := d.alloc(len(vals) * slot.DType.Size())
	for i, v := range vals {
		if err := putInt(dst, slot.DType, i, v); err != nil {
			return nil, errors.Join(err, dst.Release())
		}
	}
	if err := src.Release(); err != nil {
		return nil, errors.Join(err, dst.Release())
	}
	return dst, nil
}

func putInt(b *buffer.Buffer, dt graph.DType, i int, v int64) error {
	switch dt {
	case graph.DTypeInt64, graph.DTypeUint64:
		return b.SetInt64(i, v)
	case graph.DTypeInt32:
		return b.SetInt32(i, int32(v))
	default:
		return fmt.Errorf("%w: integer slot has dtype %s", graph.ErrInvalidShape, dt)
	}
}
