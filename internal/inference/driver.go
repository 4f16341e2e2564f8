// Package inference drives a prefill graph over a chunked prompt and then a
// decode graph one token at a time.
package inference

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/samcharles93/kvrun/internal/backend"
	"github.com/samcharles93/kvrun/internal/buffer"
	"github.com/samcharles93/kvrun/internal/graph"
	"github.com/samcharles93/kvrun/internal/logger"
	"github.com/samcharles93/kvrun/internal/logits"
	"github.com/samcharles93/kvrun/internal/metrics"
	"github.com/samcharles93/kvrun/internal/tokenizer"
)

// Driver runs one generation at a time against an open session. It owns
// the logits scratch buffers and lends them to the graphs as borrowed views.
// A Driver is not safe for concurrent use.
type Driver struct {
	session backend.Session
	prefill *graph.Shape
	decode  *graph.Shape
	pg, dg  backend.Graph
	vocab   *tokenizer.Vocab

	scratch map[int]*buffer.Buffer
	sampler logits.Greedy

	log            logger.Logger
	metrics        *metrics.Metrics
	tracker        *buffer.Tracker
	executeTimeout time.Duration
}

type Option func(*Driver)

func WithLogger(l logger.Logger) Option {
	return func(d *Driver) { d.log = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Driver) { d.metrics = m }
}

// WithTracker records every buffer the driver allocates.
func WithTracker(t *buffer.Tracker) Option {
	return func(d *Driver) { d.tracker = t }
}

// WithExecuteTimeout bounds each execute call; 0 means no bound.
func WithExecuteTimeout(timeout time.Duration) Option {
	return func(d *Driver) { d.executeTimeout = timeout }
}

// NewDriver retrieves the prefill and decode graphs from session.
func NewDriver(session backend.Session, prefill, decode *graph.Shape, vocab *tokenizer.Vocab, opts ...Option) (*Driver, error) {
	if session == nil || prefill == nil || decode == nil {
		return nil, fmt.Errorf("%w: session and both graph shapes are required", ErrConfig)
	}
	if vocab.Len() == 0 {
		return nil, fmt.Errorf("%w: vocabulary is empty", ErrConfig)
	}
	if prefill.BatchSize != decode.BatchSize || prefill.VocabSize != decode.VocabSize {
		return nil, fmt.Errorf("%w: prefill %s and decode %s disagree", ErrConfig, prefill, decode)
	}

	d := &Driver{
		session: session,
		prefill: prefill,
		decode:  decode,
		vocab:   vocab,
		scratch: make(map[int]*buffer.Buffer),
		log:     logger.Discard(),
	}
	for _, opt := range opts {
		opt(d)
	}

	var err error
	if d.pg, err = session.Graph(prefill.Name); err != nil {
		return nil, backend.WithOp("retrieve prefill graph "+prefill.Name, err)
	}
	if d.dg, err = session.Graph(decode.Name); err != nil {
		return nil, backend.WithOp("retrieve decode graph "+decode.Name, err)
	}

	if vocab.Len() < prefill.VocabSize {
		d.log.Warn("vocabulary smaller than graph output", "vocab", vocab.Len(), "graph_vocab", prefill.VocabSize)
	}
	d.log.Info("graphs selected", "prefill", prefill.String(), "decode", decode.String())
	return d, nil
}

func (d *Driver) BatchSize() int { return d.prefill.BatchSize }

func (d *Driver) ChunkLen() int { return d.prefill.ChunkLen }

func (d *Driver) PrefillShape() *graph.Shape { return d.prefill }

func (d *Driver) DecodeShape() *graph.Shape { return d.decode }

func (d *Driver) Vocab() *tokenizer.Vocab { return d.vocab }

// Close detaches both graphs and frees the logits scratch. The session is
// left open.
func (d *Driver) Close() error {
	errs := []error{d.prefill.DetachAll(), d.decode.DetachAll()}
	for size, b := range d.scratch {
		errs = append(errs, b.Release())
		delete(d.scratch, size)
	}
	return errors.Join(errs...)
}

func (d *Driver) alloc(n int) *buffer.Buffer {
	if d.tracker != nil {
		return d.tracker.Alloc(n)
	}
	return buffer.Alloc(n)
}

// logitsFor returns the scratch buffer sized for shape's logits slot.
func (d *Driver) logitsFor(shape *graph.Shape) (*buffer.Buffer, *graph.Slot) {
	slot := shape.Slot(graph.SlotLogits)
	n := slot.ExpectedBytes()
	b, ok := d.scratch[n]
	if !ok {
		b = d.alloc(n)
		d.scratch[n] = b
	}
	return b, slot
}

// execute runs g with shape's current attachments.
func (d *Driver) execute(ctx context.Context, phase, op string, g backend.Graph, shape *graph.Shape) error {
	inputs, outputs, err := backend.Bindings(shape)
	if err != nil {
		return err
	}
	if d.executeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.executeTimeout)
		defer cancel()
	}
	start := time.Now()
	err = d.session.Execute(ctx, g, inputs, outputs)
	d.metrics.ObserveExecute(phase, time.Since(start), err)
	return backend.WithOp(op, err)
}

// sample reads shape's logits out of the scratch buffer into dst.
func (d *Driver) sample(shape *graph.Shape, dst []int) error {
	buf, slot := d.logitsFor(shape)
	return d.sampler.SampleBatch(buf.Bytes(), slot.DType, shape.VocabSize, shape.BatchSize, dst)
}
