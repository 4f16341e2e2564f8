package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/kvrun/internal/logger"
	"github.com/samcharles93/kvrun/internal/prompt"
	"github.com/samcharles93/kvrun/internal/tokenizer"
)

func chunkCmd() *cli.Command {
	var (
		ids       string
		text      string
		vocabPath string
		outDir    string
		batch     int64
		chunkLen  int64
		pad       int64
	)

	return &cli.Command{
		Name:  "chunk",
		Usage: "Split token ids into padded prompt chunk files",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "ids",
				Usage:       "comma or space separated token ids",
				Destination: &ids,
			},
			&cli.StringFlag{
				Name:        "text",
				Usage:       "prompt text encoded by longest match against --vocab",
				Destination: &text,
			},
			&cli.StringFlag{
				Name:        "vocab",
				Usage:       "vocabulary file used with --text",
				Value:       defaultVocabFile,
				Destination: &vocabPath,
			},
			&cli.StringFlag{
				Name:        "out",
				Aliases:     []string{"o"},
				Usage:       "output directory",
				Value:       defaultChunkDir,
				Destination: &outDir,
			},
			&cli.Int64Flag{
				Name:        "batch-size",
				Usage:       "graph batch size; every row receives the prompt",
				Value:       1,
				Destination: &batch,
			},
			&cli.Int64Flag{
				Name:        "chunk-len",
				Usage:       "prefill graph sequence length",
				Required:    true,
				Destination: &chunkLen,
			},
			&cli.Int64Flag{
				Name:        "pad-token",
				Usage:       "token id written into padding slots",
				Destination: &pad,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			var tokens []int64
			switch {
			case ids != "" && text != "":
				return cli.Exit("error: --ids and --text are mutually exclusive", 1)
			case ids != "":
				var err error
				if tokens, err = parseIDs(ids); err != nil {
					return cli.Exit(fmt.Sprintf("error: %v", err), 1)
				}
			case text != "":
				v, err := tokenizer.LoadVocab(vocabPath)
				if err != nil {
					return cli.Exit(fmt.Sprintf("error: %v", err), 1)
				}
				enc, err := v.Encode(text)
				if err != nil {
					return cli.Exit(fmt.Sprintf("error: %v", err), 1)
				}
				for _, id := range enc {
					tokens = append(tokens, int64(id))
				}
			default:
				return cli.Exit("error: --ids or --text is required", 1)
			}

			set, err := prompt.Split(tokens, int(batch), int(chunkLen), pad)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			defer set.Release()
			if err := prompt.WriteChunks(outDir, set); err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			log.Info("prompt chunks written", "dir", outDir, "chunks", set.Len(), "input_len", len(tokens))
			_, _ = fmt.Fprintf(cmd.Root().Writer, "num_chunks=%d input_len=%d\n", set.Len(), len(tokens))
			return nil
		},
	}
}

// parseIDs accepts ids separated by commas, spaces or both.
func parseIDs(s string) ([]int64, error) {
	fields := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' || r == '\n' || r == '\t' })
	out := make([]int64, 0, len(fields))
	for _, f := range fields {
		v, err := strconv.ParseInt(f, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("token id %q: %w", f, err)
		}
		if v < 0 {
			return nil, fmt.Errorf("token id %d is negative", v)
		}
		out = append(out, v)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no token ids in %q", s)
	}
	return out, nil
}
