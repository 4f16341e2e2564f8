// Package reference is a host-side execution provider backed by a bigram
// logits table. It keeps a committed cache position per batch element and
// rejects any execute whose positions do not continue it, so it doubles as
// an ordering checker for the driver.
package reference

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/x448/float16"

	"github.com/samcharles93/kvrun/internal/backend"
	"github.com/samcharles93/kvrun/internal/graph"
	"github.com/samcharles93/kvrun/internal/logger"
)

// Provider status codes.
const (
	CodeInvalidBinding = 2
	CodeNonContiguous  = 3
	CodeTokenRange     = 4
	CodeQueueFull      = 5
	CodeUnsupported    = 6
)

// PadPosition marks a padding slot in position_ids.
const PadPosition = -1

func init() {
	backend.Register(backend.Reference, func() (backend.Provider, error) {
		return New(), nil
	})
}

type Provider struct{}

func New() *Provider { return &Provider{} }

func (*Provider) Name() string { return backend.Reference }

func (*Provider) Open(ctx context.Context, weights []byte, cfg backend.SessionConfig) (backend.Session, error) {
	if cfg.QueueDepth > 1 {
		return nil, &backend.Error{Op: "open session", Code: CodeUnsupported,
			Err: fmt.Errorf("queue depth %d not supported", cfg.QueueDepth)}
	}
	table, err := DecodeTable(weights)
	if err != nil {
		return nil, &backend.Error{Op: "open session", Code: CodeUnsupported, Err: err}
	}
	logger.FromContext(ctx).Debug("reference session opened", "vocab", table.Vocab, "devices", cfg.Devices)
	return &Session{table: table, devices: append([]int(nil), cfg.Devices...)}, nil
}

type graphHandle string

func (g graphHandle) Name() string { return string(g) }

// Session executes graphs against the bigram table.
type Session struct {
	table   *Table
	devices []int

	busy atomic.Bool

	mu        sync.Mutex
	committed []int64
	last      []int
	executes  int
	closed    bool
}

func (s *Session) Graph(name string) (backend.Graph, error) {
	if name == "" {
		return nil, &backend.Error{Op: "retrieve graph", Code: CodeInvalidBinding, Err: errors.New("empty graph name")}
	}
	return graphHandle(name), nil
}

// Executes returns the number of successful execute calls.
func (s *Session) Executes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.executes
}

// Committed returns the next expected cache position for batch element b.
func (s *Session) Committed(b int) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b < 0 || b >= len(s.committed) {
		return 0
	}
	return s.committed[b]
}

func (s *Session) Execute(ctx context.Context, g backend.Graph, inputs, outputs []backend.Binding) error {
	if !s.busy.CompareAndSwap(false, true) {
		return &backend.Error{Op: "execute", Code: CodeQueueFull, Err: errors.New("an execute is already in flight")}
	}
	defer s.busy.Store(false)

	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return &backend.Error{Op: "execute", Code: CodeUnsupported, Err: errors.New("session closed")}
	}

	ids, err := intBinding(inputs, graph.SlotInputIDs)
	if err != nil {
		return err
	}
	pos, err := intBinding(inputs, graph.SlotPositionIDs)
	if err != nil {
		return err
	}
	out, ok := backend.Find(outputs, graph.SlotLogits)
	if !ok {
		return bindingErr("missing %s output", graph.SlotLogits)
	}
	if len(ids.Dims) == 0 || len(ids.vals) != len(pos.vals) {
		return bindingErr("%s and %s disagree", graph.SlotInputIDs, graph.SlotPositionIDs)
	}

	batch := ids.Dims[0]
	seq := len(ids.vals) / batch
	vocab := s.table.Vocab
	if out.Elements() != batch*vocab {
		return bindingErr("%s holds %d elements, want %d", graph.SlotLogits, out.Elements(), batch*vocab)
	}
	s.grow(batch)

	// Validate every position before committing any, so a rejected execute
	// leaves the cache untouched.
	next := append([]int64(nil), s.committed...)
	last := append([]int(nil), s.last...)
	for b := 0; b < batch; b++ {
		for j := 0; j < seq; j++ {
			p := pos.vals[b*seq+j]
			if p == PadPosition {
				continue
			}
			if p == 0 {
				next[b] = 0
			}
			if p != next[b] {
				return &backend.Error{Op: "execute " + g.Name(), Code: CodeNonContiguous,
					Err: fmt.Errorf("batch %d: position %d, cache expects %d", b, p, next[b])}
			}
			tok := ids.vals[b*seq+j]
			if tok < 0 || tok >= int64(vocab) {
				return &backend.Error{Op: "execute " + g.Name(), Code: CodeTokenRange,
					Err: fmt.Errorf("batch %d: token %d outside vocab %d", b, tok, vocab)}
			}
			next[b]++
			last[b] = int(tok)
		}
	}

	if err := s.writeLogits(out, batch, last); err != nil {
		return err
	}
	s.committed = next
	s.last = last
	s.executes++
	return nil
}

func (s *Session) grow(batch int) {
	for len(s.committed) < batch {
		s.committed = append(s.committed, 0)
		s.last = append(s.last, 0)
	}
}

func (s *Session) writeLogits(out backend.Binding, batch int, last []int) error {
	dst := out.Buf.Bytes()
	if dst == nil {
		return bindingErr("%s buffer released", graph.SlotLogits)
	}
	vocab := s.table.Vocab
	switch out.DType {
	case graph.DTypeFloat32:
		for b := 0; b < batch; b++ {
			for j, v := range s.table.Row(last[b]) {
				putF32(dst[(b*vocab+j)*4:], v)
			}
		}
	case graph.DTypeFloat16:
		for b := 0; b < batch; b++ {
			for j, v := range s.table.Row(last[b]) {
				h := float16.Fromfloat32(v).Bits()
				dst[(b*vocab+j)*2] = byte(h)
				dst[(b*vocab+j)*2+1] = byte(h >> 8)
			}
		}
	default:
		return bindingErr("unsupported logits dtype %s", out.DType)
	}
	return nil
}

func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.committed = nil
	s.last = nil
	return nil
}

func bindingErr(format string, args ...any) error {
	return &backend.Error{Op: "bind", Code: CodeInvalidBinding, Err: fmt.Errorf(format, args...)}
}
