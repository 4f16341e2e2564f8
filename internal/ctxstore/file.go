// Package ctxstore is a typed view over an opened context binary.
package ctxstore

import (
	"errors"
	"fmt"

	"github.com/samcharles93/kvrun/internal/graph"
	"github.com/samcharles93/kvrun/internal/tokenizer"
	"github.com/samcharles93/kvrun/pkg/ctxbin"
)

var (
	ErrNoGraphs      = errors.New("ctxstore: binary declares no graphs")
	ErrNoVocab       = errors.New("ctxstore: binary has no embedded vocabulary")
	ErrNoWeights     = errors.New("ctxstore: binary has no weights section")
	ErrGraphNotFound = errors.New("ctxstore: graph not found")
)

type File struct {
	file     *ctxbin.File
	graphs   []ctxbin.GraphInfo
	metadata ctxbin.Metadata
}

func Open(path string) (*File, error) {
	cf, err := ctxbin.Open(path)
	if err != nil {
		return nil, err
	}
	f, err := fromContainer(cf)
	if err != nil {
		return nil, errors.Join(err, cf.Close())
	}
	return f, nil
}

// OpenBytes wraps an in-memory container.
func OpenBytes(data []byte) (*File, error) {
	cf, err := ctxbin.OpenBytes(data)
	if err != nil {
		return nil, err
	}
	return fromContainer(cf)
}

func fromContainer(cf *ctxbin.File) (*File, error) {
	info, err := cf.Payload(ctxbin.SectionGraphInfo)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoGraphs, err)
	}
	graphs, err := ctxbin.DecodeGraphInfo(info)
	if err != nil {
		return nil, err
	}
	if len(graphs) == 0 {
		return nil, ErrNoGraphs
	}

	var md ctxbin.Metadata
	if msec := cf.Section(ctxbin.SectionMetadata); msec != nil {
		if md, err = ctxbin.DecodeMetadata(cf.SectionData(msec)); err != nil {
			return nil, err
		}
	}
	return &File{file: cf, graphs: graphs, metadata: md}, nil
}

func (f *File) Close() error {
	if f == nil || f.file == nil {
		return nil
	}
	err := f.file.Close()
	f.file = nil
	f.graphs = nil
	return err
}

// Graphs returns the graph descriptors in declaration order.
func (f *File) Graphs() []ctxbin.GraphInfo { return f.graphs }

func (f *File) Metadata() ctxbin.Metadata { return f.metadata }

func (f *File) Sections() []ctxbin.Section {
	if f == nil || f.file == nil {
		return nil
	}
	return f.file.Sections
}

func (f *File) Size() int {
	if f == nil || f.file == nil {
		return 0
	}
	return len(f.file.Data)
}

// Graph looks up a descriptor by name.
func (f *File) Graph(name string) (ctxbin.GraphInfo, error) {
	for _, g := range f.graphs {
		if g.Name == name {
			return g, nil
		}
	}
	return ctxbin.GraphInfo{}, fmt.Errorf("%w: %q", ErrGraphNotFound, name)
}

// SelectGraphs picks the prefill and decode graphs: prefill is the last
// declared graph when there are several, otherwise the only one; decode is
// always the first declared graph.
func (f *File) SelectGraphs() (prefill, decode *graph.Shape, err error) {
	if len(f.graphs) == 0 {
		return nil, nil, ErrNoGraphs
	}
	pi := 0
	if len(f.graphs) > 1 {
		pi = len(f.graphs) - 1
	}
	if prefill, err = graph.FromInfo(f.graphs[pi]); err != nil {
		return nil, nil, fmt.Errorf("prefill graph: %w", err)
	}
	if decode, err = graph.FromInfo(f.graphs[0]); err != nil {
		return nil, nil, fmt.Errorf("decode graph: %w", err)
	}
	if prefill.BatchSize != decode.BatchSize || prefill.VocabSize != decode.VocabSize {
		return nil, nil, fmt.Errorf("%w: prefill %s and decode %s disagree on batch or vocab",
			graph.ErrInvalidShape, prefill, decode)
	}
	return prefill, decode, nil
}

// Weights returns the opaque weights payload. The slice aliases the mapping
// and is valid until Close.
func (f *File) Weights() ([]byte, error) {
	sec := f.file.Section(ctxbin.SectionWeights)
	if sec == nil {
		return nil, ErrNoWeights
	}
	return f.file.SectionData(sec), nil
}

// Vocab decodes the embedded vocabulary section.
func (f *File) Vocab() (*tokenizer.Vocab, error) {
	sec := f.file.Section(ctxbin.SectionVocab)
	if sec == nil {
		return nil, ErrNoVocab
	}
	return tokenizer.ParseVocab(f.file.SectionData(sec))
}
