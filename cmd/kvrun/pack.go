package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"

	"github.com/samcharles93/kvrun/internal/backend/reference"
	"github.com/samcharles93/kvrun/internal/ctxstore"
	"github.com/samcharles93/kvrun/internal/graph"
	"github.com/samcharles93/kvrun/internal/logger"
	"github.com/samcharles93/kvrun/internal/tokenizer"
	"github.com/samcharles93/kvrun/pkg/ctxbin"
)

// packSpec is the specialization file accepted by pack. Each specialization
// becomes one graph; the one with the shortest seq_len is declared first and
// serves decode, the longest is declared last and serves prefill.
type packSpec struct {
	Model           string           `yaml:"model"`
	VocabSize       int              `yaml:"vocab_size"`
	IDsDType        string           `yaml:"ids_dtype"`
	LogitsDType     string           `yaml:"logits_dtype"`
	EOSTokenID      *int             `yaml:"eos_token_id"`
	Specializations []specialization `yaml:"specializations"`
}

type specialization struct {
	BatchSize int `yaml:"batch_size"`
	SeqLen    int `yaml:"seq_len"`
	CtxLen    int `yaml:"ctx_len"`
}

func parsePackSpec(data []byte) (packSpec, error) {
	var s packSpec
	if err := yaml.Unmarshal(data, &s); err != nil {
		return s, fmt.Errorf("parse specialization file: %w", err)
	}
	if s.IDsDType == "" {
		s.IDsDType = graph.DTypeInt64.String()
	}
	if s.LogitsDType == "" {
		s.LogitsDType = graph.DTypeFloat32.String()
	}
	return s, s.validate()
}

func (s packSpec) validate() error {
	if s.VocabSize <= 0 {
		return errors.New("vocab_size must be positive")
	}
	if len(s.Specializations) == 0 {
		return errors.New("at least one specialization is required")
	}
	for i, sp := range s.Specializations {
		if sp.BatchSize <= 0 || sp.SeqLen <= 0 {
			return fmt.Errorf("specialization %d: batch_size and seq_len must be positive", i)
		}
		if sp.BatchSize != s.Specializations[0].BatchSize {
			return fmt.Errorf("specialization %d: batch_size %d differs from %d", i, sp.BatchSize, s.Specializations[0].BatchSize)
		}
	}
	return nil
}

func (s packSpec) contextLength() int {
	n := 0
	for _, sp := range s.Specializations {
		n = max(n, sp.CtxLen)
	}
	return n
}

// graphs lays the specializations out in declaration order.
func (s packSpec) graphs() []ctxbin.GraphInfo {
	specs := slices.Clone(s.Specializations)
	slices.SortStableFunc(specs, func(a, b specialization) int { return a.SeqLen - b.SeqLen })

	out := make([]ctxbin.GraphInfo, len(specs))
	for i, sp := range specs {
		name := fmt.Sprintf("seq_%d", sp.SeqLen)
		switch {
		case len(specs) == 1:
			name = "prefill"
		case i == 0:
			name = "decode"
		case i == len(specs)-1:
			name = "prefill"
		}
		dims := []uint32{uint32(sp.BatchSize), uint32(sp.SeqLen)}
		out[i] = ctxbin.GraphInfo{
			Name: name,
			Inputs: []ctxbin.TensorInfo{
				{Name: graph.SlotInputIDs, DType: s.IDsDType, Dims: dims},
				{Name: graph.SlotPositionIDs, DType: s.IDsDType, Dims: dims},
			},
			Outputs: []ctxbin.TensorInfo{
				{Name: graph.SlotLogits, DType: s.LogitsDType, Dims: []uint32{uint32(sp.BatchSize), 1, uint32(s.VocabSize)}},
			},
		}
	}
	return out
}

func packCmd() *cli.Command {
	var (
		specPath    string
		outPath     string
		weightsPath string
		vocabPath   string
		seed        int64
	)

	return &cli.Command{
		Name:  "pack",
		Usage: "Build a context binary from a specialization file",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "spec",
				Usage:       "specialization YAML (vocab_size, dtypes, specializations)",
				Required:    true,
				Destination: &specPath,
			},
			&cli.StringFlag{
				Name:        "out",
				Aliases:     []string{"o"},
				Usage:       "output path",
				Value:       "context.bin",
				Destination: &outPath,
			},
			&cli.StringFlag{
				Name:        "weights",
				Usage:       "backend weights payload (default: synthetic reference bigram table)",
				Destination: &weightsPath,
			},
			&cli.StringFlag{
				Name:        "vocab",
				Usage:       "vocabulary file in tokens.bin layout to embed",
				Destination: &vocabPath,
			},
			&cli.Int64Flag{
				Name:        "seed",
				Usage:       "seed for the synthetic reference table",
				Value:       1,
				Destination: &seed,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			data, err := os.ReadFile(specPath)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			spec, err := parsePackSpec(data)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %s: %v", specPath, err), 1)
			}

			c := ctxstore.Contents{
				Graphs: spec.graphs(),
				Metadata: &ctxbin.Metadata{
					Model:         spec.Model,
					ContextLength: spec.contextLength(),
					EOSTokenID:    spec.EOSTokenID,
				},
			}

			if weightsPath != "" {
				wf, err := os.Open(weightsPath)
				if err != nil {
					return cli.Exit(fmt.Sprintf("error: %v", err), 1)
				}
				defer wf.Close()
				c.Weights = wf
			} else {
				c.Weights = syntheticWeights(spec.VocabSize, uint64(seed))
				log.Info("using synthetic reference weights", "vocab", spec.VocabSize, "seed", seed)
			}

			if vocabPath != "" {
				if c.Vocab, err = tokenizer.LoadVocab(vocabPath); err != nil {
					return cli.Exit(fmt.Sprintf("error: %v", err), 1)
				}
				if c.Vocab.Len() < spec.VocabSize {
					log.Warn("vocabulary smaller than vocab_size", "vocab", c.Vocab.Len(), "vocab_size", spec.VocabSize)
				}
			}

			if err := ctxstore.Write(outPath, c); err != nil {
				return cli.Exit(fmt.Sprintf("error: write %s: %v", outPath, err), 1)
			}
			if st, err := os.Stat(outPath); err == nil {
				log.Info("context binary written", "path", outPath, "graphs", len(c.Graphs), "size", humanize.IBytes(uint64(st.Size())))
			}
			return nil
		},
	}
}

func syntheticWeights(vocab int, seed uint64) io.Reader {
	return bytes.NewReader(reference.Synthetic(vocab, seed).Encode())
}
