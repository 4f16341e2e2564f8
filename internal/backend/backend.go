// Package backend defines the execution capability the driver runs graphs on.
package backend

import (
	"context"
	"fmt"
	"strings"

	"github.com/samcharles93/kvrun/internal/buffer"
	"github.com/samcharles93/kvrun/internal/graph"
)

const (
	Reference = "reference"
	AIC       = "aic"
	Auto      = "auto"
)

// Provider opens sessions against a model's weights.
type Provider interface {
	Name() string
	Open(ctx context.Context, weights []byte, cfg SessionConfig) (Session, error)
}

// SessionConfig selects devices and execution parameters.
type SessionConfig struct {
	// Devices lists device ids to run on; empty lets the provider pick.
	Devices []int
	// QueueDepth is the number of executes allowed in flight. The driver
	// always uses 1.
	QueueDepth int
}

// Session is an open model on one or more devices.
//
// Execute runs g once with the given bindings and blocks until outputs are
// written. Implementations must not retain the bindings after returning.
type Session interface {
	Graph(name string) (Graph, error)
	Execute(ctx context.Context, g Graph, inputs, outputs []Binding) error
	Close() error
}

// Graph is a provider handle for one compiled graph.
type Graph interface {
	Name() string
}

// Binding pairs a slot description with the buffer bound to it.
type Binding struct {
	graph.Tensor
	Buf *buffer.Buffer
}

// Bindings collects the current attachments of shape in slot order. Every
// slot must be bound.
func Bindings(shape *graph.Shape) (inputs, outputs []Binding, err error) {
	collect := func(slots []*graph.Slot) ([]Binding, error) {
		out := make([]Binding, 0, len(slots))
		for _, sl := range slots {
			buf := sl.Attached()
			if buf == nil {
				return nil, fmt.Errorf("graph %q: slot %q is not bound", shape.Name, sl.Name)
			}
			out = append(out, Binding{Tensor: sl.Tensor, Buf: buf})
		}
		return out, nil
	}
	if inputs, err = collect(shape.Inputs); err != nil {
		return nil, nil, err
	}
	if outputs, err = collect(shape.Outputs); err != nil {
		return nil, nil, err
	}
	return inputs, outputs, nil
}

// Find returns the binding with the given slot name.
func Find(bs []Binding, name string) (Binding, bool) {
	for _, b := range bs {
		if b.Name == name {
			return b, true
		}
	}
	return Binding{}, false
}

func Normalize(name string) (string, error) {
	backend := strings.ToLower(strings.TrimSpace(name))
	if backend == "" {
		return Auto, nil
	}
	switch backend {
	case Reference, AIC, Auto:
		return backend, nil
	default:
		return "", fmt.Errorf("unknown backend %q (expected auto, %s)", backend, Available())
	}
}
