package inference

import (
	"context"
	"errors"
	"fmt"

	"github.com/samcharles93/kvrun/internal/metrics"
	"github.com/samcharles93/kvrun/internal/prompt"
)

// Request is one end-to-end generation.
type Request struct {
	// Prompt seeds every sequence's output text.
	Prompt string
	Chunks *prompt.ChunkSet
	// InputLen is the true prompt length in tokens; decode starts there.
	InputLen int
	DecodeOptions
}

// Run prefills req.Chunks, samples the first token and decodes.
//
// Prefill failures return a nil Result. Decode failures return the partial
// Result together with an error wrapping ErrDecode.
func (d *Driver) Run(ctx context.Context, req Request) (*Result, error) {
	if err := d.checkRequest(req); err != nil {
		if req.Chunks != nil {
			err = errors.Join(err, req.Chunks.Release())
		}
		return nil, err
	}

	pre, err := d.Prefill(ctx, req.Chunks)
	if err != nil {
		return nil, err
	}
	if pre.Position != req.InputLen {
		d.log.Debug("prefill position differs from input length", "position", pre.Position, "input_len", req.InputLen)
	}
	d.metrics.AddTokens(metrics.PhasePrefill, req.InputLen*d.BatchSize())

	seqs := NewSequences(d.BatchSize(), req.Prompt, req.InputLen)
	if err := d.accept(seqs, pre.Tokens, req.DecodeOptions); err != nil {
		return nil, fmt.Errorf("%w: first token: %w", ErrPrefill, err)
	}

	res := &Result{
		Prompt:    req.Prompt,
		Sequences: seqs,
		Stats: Stats{
			PromptTokens:    req.InputLen,
			BatchSize:       d.BatchSize(),
			PrefillDuration: pre.Duration,
		},
	}

	dec, derr := d.Decode(ctx, seqs, req.DecodeOptions)
	res.Stats.DecodeSteps = dec.Steps
	res.Stats.GeneratedTokens = 1 + dec.Steps
	res.Stats.DecodeDuration = dec.Duration
	res.Stats.StopReason = dec.StopReason
	res.Stats.finish()

	d.metrics.ObserveRun(req.InputLen, string(dec.StopReason), res.Stats.PrefillTPS, res.Stats.DecodeTPS)
	d.log.Info("generation finished",
		"stop_reason", string(dec.StopReason),
		"decode_steps", dec.Steps,
		"prefill", pre.Duration,
		"decode", dec.Duration,
		"decode_tps", res.Stats.DecodeTPS,
	)
	return res, derr
}

func (d *Driver) checkRequest(req Request) error {
	switch {
	case req.Chunks == nil || req.Chunks.Len() == 0:
		return fmt.Errorf("%w: %w", ErrConfig, prompt.ErrNoChunks)
	case req.InputLen <= 0:
		return fmt.Errorf("%w: input_len must be positive, got %d", ErrConfig, req.InputLen)
	case req.GenLen < 0:
		return fmt.Errorf("%w: gen_len must not be negative, got %d", ErrConfig, req.GenLen)
	case d.ChunkLen()*req.Chunks.Len() < req.InputLen:
		return fmt.Errorf("%w: %d chunks of %d cannot hold input_len %d",
			ErrConfig, req.Chunks.Len(), d.ChunkLen(), req.InputLen)
	case req.CtxLen > 0 && req.InputLen >= req.CtxLen:
		return fmt.Errorf("%w: input_len %d leaves no room in ctx_len %d", ErrConfig, req.InputLen, req.CtxLen)
	}
	return nil
}
