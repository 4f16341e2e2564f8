package ctxbin

import (
	"fmt"
	"strings"

	"github.com/goccy/go-json"
)

const (
	GraphInfoVersion uint32 = 1
	MetadataVersion  uint32 = 1
)

// TensorInfo describes one named graph input or output.
type TensorInfo struct {
	Name  string   `json:"name"`
	DType string   `json:"dtype"`
	Dims  []uint32 `json:"dims"`
}

func (t TensorInfo) Rank() int { return len(t.Dims) }

// GraphInfo describes one compiled graph and its ordered tensor slots.
type GraphInfo struct {
	Name    string       `json:"name"`
	Inputs  []TensorInfo `json:"inputs"`
	Outputs []TensorInfo `json:"outputs"`
}

// Metadata carries optional model-level facts recorded at pack time.
type Metadata struct {
	Model         string `json:"model,omitempty"`
	ContextLength int    `json:"context_length,omitempty"`
	EOSTokenID    *int   `json:"eos_token_id,omitempty"`
}

type graphInfoSection struct {
	Graphs []GraphInfo `json:"graphs"`
}

// EncodeGraphInfo serializes graph descriptors in declaration order.
func EncodeGraphInfo(graphs []GraphInfo) ([]byte, error) {
	if err := validateGraphs(graphs); err != nil {
		return nil, err
	}
	return json.Marshal(graphInfoSection{Graphs: graphs})
}

// DecodeGraphInfo parses a graph info section payload, keeping declaration order.
func DecodeGraphInfo(data []byte) ([]GraphInfo, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty section", ErrInvalidGraphInfo)
	}
	var sec graphInfoSection
	if err := json.Unmarshal(data, &sec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidGraphInfo, err)
	}
	if err := validateGraphs(sec.Graphs); err != nil {
		return nil, err
	}
	return sec.Graphs, nil
}

func EncodeMetadata(md Metadata) ([]byte, error) {
	return json.Marshal(md)
}

func DecodeMetadata(data []byte) (Metadata, error) {
	var md Metadata
	if len(data) == 0 {
		return md, nil
	}
	if err := json.Unmarshal(data, &md); err != nil {
		return md, fmt.Errorf("decode metadata: %w", err)
	}
	return md, nil
}

func validateGraphs(graphs []GraphInfo) error {
	if len(graphs) == 0 {
		return fmt.Errorf("%w: no graphs declared", ErrInvalidGraphInfo)
	}
	names := make(map[string]struct{}, len(graphs))
	for i, g := range graphs {
		if strings.TrimSpace(g.Name) == "" {
			return fmt.Errorf("%w: graph %d has no name", ErrInvalidGraphInfo, i)
		}
		if _, dup := names[g.Name]; dup {
			return fmt.Errorf("%w: duplicate graph %q", ErrInvalidGraphInfo, g.Name)
		}
		names[g.Name] = struct{}{}
		if err := validateTensors(g.Name, "input", g.Inputs); err != nil {
			return err
		}
		if err := validateTensors(g.Name, "output", g.Outputs); err != nil {
			return err
		}
	}
	return nil
}

func validateTensors(graph, kind string, tensors []TensorInfo) error {
	seen := make(map[string]struct{}, len(tensors))
	for _, t := range tensors {
		if t.Name == "" {
			return fmt.Errorf("%w: graph %q has an unnamed %s", ErrInvalidGraphInfo, graph, kind)
		}
		if _, dup := seen[t.Name]; dup {
			return fmt.Errorf("%w: graph %q declares %s %q twice", ErrInvalidGraphInfo, graph, kind, t.Name)
		}
		seen[t.Name] = struct{}{}
		if len(t.Dims) == 0 {
			return fmt.Errorf("%w: %s %q of graph %q has rank 0", ErrInvalidGraphInfo, kind, t.Name, graph)
		}
		for _, d := range t.Dims {
			if d == 0 {
				return fmt.Errorf("%w: %s %q of graph %q has a zero dimension", ErrInvalidGraphInfo, kind, t.Name, graph)
			}
		}
	}
	return nil
}
