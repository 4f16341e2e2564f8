package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"

	"github.com/goccy/go-json"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/kvrun/internal/backend"
	"github.com/samcharles93/kvrun/internal/inference"
	"github.com/samcharles93/kvrun/internal/logger"
	"github.com/samcharles93/kvrun/internal/prompt"
	"github.com/samcharles93/kvrun/internal/tokenizer"
)

const (
	defaultChunkDir = "prefill"
	positionalUsage = "[<context.bin> <prompt> <num_chunks> <input_len> <ctx_len> <gen_len> <profiling> <num_devices> <dev_1> ... <dev_n> [eos_token_id]]"
)

type runOptions struct {
	modelOptions

	prompt     string
	numChunks  int64
	inputLen   int64
	ctxLen     int64
	genLen     int64
	eos        *int
	autoEOS    bool
	chunkDir   string
	stopPolicy string
	stopIndex  int64
	stream     bool
	showStats  bool
}

func runCmd() *cli.Command {
	var (
		o   runOptions
		eos int64
	)

	return &cli.Command{
		Name:      "run",
		Usage:     "Prefill pre-chunked prompt files and decode greedily",
		ArgsUsage: positionalUsage,
		Flags: append(o.modelOptions.flags(),
			&cli.StringFlag{
				Name:        "prompt",
				Aliases:     []string{"p"},
				Usage:       "prompt text echoed before every output",
				Destination: &o.prompt,
			},
			&cli.Int64Flag{
				Name:        "num-chunks",
				Usage:       "number of prompt chunk file pairs",
				Value:       1,
				Destination: &o.numChunks,
			},
			&cli.Int64Flag{
				Name:        "input-len",
				Usage:       "true prompt length in tokens",
				Destination: &o.inputLen,
			},
			&cli.Int64Flag{
				Name:        "ctx-len",
				Usage:       "context length bound (0: value recorded in the binary, if any)",
				Destination: &o.ctxLen,
			},
			&cli.Int64Flag{
				Name:        "gen-len",
				Usage:       "tokens to generate per sequence",
				Value:       32,
				Destination: &o.genLen,
			},
			&cli.Int64Flag{
				Name:        "eos",
				Usage:       "end-of-sequence token id",
				Destination: &eos,
			},
			&cli.BoolFlag{
				Name:        "auto-eos",
				Usage:       "look for a well-known end-of-text token in the vocabulary when no id is given",
				Destination: &o.autoEOS,
			},
			&cli.StringFlag{
				Name:        "chunk-dir",
				Usage:       "directory holding input_ids_N.raw and position_ids_N.raw",
				Value:       defaultChunkDir,
				Destination: &o.chunkDir,
			},
			&cli.StringFlag{
				Name:        "stop-policy",
				Usage:       "which EOS ends the batch (any, all, sequence)",
				Value:       "any",
				Destination: &o.stopPolicy,
			},
			&cli.Int64Flag{
				Name:        "stop-index",
				Usage:       "sequence watched by --stop-policy=sequence",
				Destination: &o.stopIndex,
			},
			&cli.BoolFlag{
				Name:        "stream",
				Usage:       "print tokens as they are sampled",
				Destination: &o.stream,
			},
			&cli.BoolFlag{
				Name:        "show-stats",
				Usage:       "print a [RESULT] line with throughput",
				Destination: &o.showStats,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			applyModelConfig(cmd, config, &o.modelOptions)
			applyRunConfig(cmd, config, &o.chunkDir, &o.stopPolicy)
			if cmd.IsSet("eos") {
				v := int(eos)
				o.eos = &v
			}
			if cmd.Args().Present() {
				if err := parsePositional(cmd.Args().Slice(), &o); err != nil {
					return cli.Exit(fmt.Sprintf("error: %v", err), 1)
				}
			}

			ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
			defer stop()

			err := runGenerate(ctx, cmd.Root().Writer, o)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), backend.ExitCode(err))
			}
			return nil
		},
	}
}

// parsePositional fills o from the positional form
// <context.bin> <prompt> <num_chunks> <input_len> <ctx_len> <gen_len>
// <profiling> <num_devices> <dev_1> ... <dev_n> [eos_token_id].
// A nonzero profiling value turns on the [RESULT] line.
func parsePositional(args []string, o *runOptions) error {
	const fixed = 8
	if len(args) < fixed {
		return fmt.Errorf("expected at least %d positional arguments, got %d", fixed, len(args))
	}
	o.model = args[0]
	o.prompt = args[1]

	ints := []struct {
		name string
		dst  *int64
	}{
		{"num_chunks", &o.numChunks},
		{"input_len", &o.inputLen},
		{"ctx_len", &o.ctxLen},
		{"gen_len", &o.genLen},
	}
	for i, f := range ints {
		v, err := strconv.ParseInt(args[2+i], 10, 64)
		if err != nil {
			return fmt.Errorf("%s: %w", f.name, err)
		}
		*f.dst = v
	}

	profiling, err := strconv.Atoi(args[6])
	if err != nil {
		return fmt.Errorf("profiling: invalid value %q", args[6])
	}
	o.showStats = o.showStats || profiling != 0

	n, err := strconv.Atoi(args[7])
	if err != nil || n < 0 {
		return fmt.Errorf("num_devices: invalid value %q", args[7])
	}
	rest := args[fixed:]
	if len(rest) < n {
		return fmt.Errorf("num_devices is %d but only %d device ids follow", n, len(rest))
	}
	devices := make([]int, n)
	for i := range devices {
		if devices[i], err = strconv.Atoi(rest[i]); err != nil || devices[i] < 0 {
			return fmt.Errorf("device %d: invalid id %q", i+1, rest[i])
		}
	}
	o.devices = joinInts(devices)

	switch extra := rest[n:]; len(extra) {
	case 0:
	case 1:
		id, err := strconv.Atoi(extra[0])
		if err != nil {
			return fmt.Errorf("eos_token_id: %w", err)
		}
		o.eos = &id
	default:
		return fmt.Errorf("unexpected arguments after eos_token_id: %q", extra[1:])
	}
	return nil
}

func joinInts(v []int) string {
	b := make([]byte, 0, 4*len(v))
	for i, x := range v {
		if i > 0 {
			b = append(b, ',')
		}
		b = strconv.AppendInt(b, int64(x), 10)
	}
	return string(b)
}

func runGenerate(ctx context.Context, w io.Writer, o runOptions) error {
	log := logger.FromContext(ctx)
	switch {
	case o.numChunks <= 0:
		return fmt.Errorf("%w: num_chunks must be positive", inference.ErrConfig)
	case o.inputLen <= 0:
		return fmt.Errorf("%w: input_len must be positive", inference.ErrConfig)
	case o.genLen < 0:
		return fmt.Errorf("%w: gen_len must not be negative", inference.ErrConfig)
	}
	policy, err := inference.ParseStopPolicy(o.stopPolicy)
	if err != nil {
		return err
	}

	m, err := openModel(ctx, o.modelOptions)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := m.Close(); cerr != nil {
			log.Warn("close model", "error", cerr)
		}
	}()

	shape := m.driver.PrefillShape()
	set, err := prompt.LoadChunks(ctx, o.chunkDir, int(o.numChunks), shape.BatchSize*shape.ChunkLen)
	if err != nil {
		return fmt.Errorf("load prompt chunks: %w", err)
	}

	md := m.file.Metadata()
	ctxLen := int(o.ctxLen)
	if ctxLen == 0 {
		ctxLen = md.ContextLength
	}
	var scan *tokenizer.Vocab
	if o.autoEOS {
		scan = m.vocab
	}
	opts := inference.DecodeOptions{
		GenLen:     int(o.genLen),
		CtxLen:     ctxLen,
		StopPolicy: policy,
		StopIndex:  int(o.stopIndex),
	}
	if id, ok := tokenizer.ResolveEOS(o.eos, md.EOSTokenID, scan); ok {
		opts.EOS = &id
		log.Debug("eos token", "id", id)
	}
	if o.stream {
		opts.Stream = func(_ int, tok string) {
			_, _ = io.WriteString(w, tok)
		}
	}

	res, err := m.driver.Run(ctx, inference.Request{
		Prompt:        o.prompt,
		Chunks:        set,
		InputLen:      int(o.inputLen),
		DecodeOptions: opts,
	})
	if res != nil {
		if o.stream {
			_, _ = io.WriteString(w, "\n")
		}
		if perr := printResult(w, o.prompt, res, o.showStats); perr != nil {
			return errors.Join(err, perr)
		}
	}
	return err
}

func printResult(w io.Writer, promptText string, res *inference.Result, showStats bool) error {
	if _, err := fmt.Fprintf(w, "[INPUT] %s\n", promptText); err != nil {
		return err
	}
	for _, out := range res.Outputs() {
		if _, err := fmt.Fprintf(w, "[OUTPUT] %s\n", out); err != nil {
			return err
		}
	}
	if !showStats {
		return nil
	}
	b, err := json.Marshal(res.Stats)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "[RESULT] %s\n", b)
	return err
}
