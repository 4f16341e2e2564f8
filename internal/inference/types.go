package inference

import (
	"fmt"
	"strings"
	"time"
)

// StopReason records why generation ended.
type StopReason string

const (
	StopBudget    StopReason = "budget"
	StopEOS       StopReason = "eos"
	StopContext   StopReason = "context"
	StopError     StopReason = "error"
	StopCancelled StopReason = "cancelled"
)

// StopPolicy decides which finished sequences end the decode loop.
type StopPolicy int

const (
	// StopAny ends the loop as soon as any sequence samples EOS.
	StopAny StopPolicy = iota
	// StopAll ends the loop once every sequence has sampled EOS.
	StopAll
	// StopSequence ends the loop when the sequence at StopIndex samples EOS.
	StopSequence
)

func (p StopPolicy) String() string {
	switch p {
	case StopAny:
		return "any"
	case StopAll:
		return "all"
	case StopSequence:
		return "sequence"
	default:
		return fmt.Sprintf("StopPolicy(%d)", int(p))
	}
}

func ParseStopPolicy(s string) (StopPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "any":
		return StopAny, nil
	case "all":
		return StopAll, nil
	case "sequence", "seq":
		return StopSequence, nil
	default:
		return StopAny, fmt.Errorf("%w: unknown stop policy %q (expected any, all or sequence)", ErrConfig, s)
	}
}

// StreamFunc receives every token appended to sequence seq.
type StreamFunc func(seq int, token string)

// DecodeOptions controls the decode loop.
type DecodeOptions struct {
	// GenLen is the total number of tokens to generate per sequence,
	// including the one sampled after prefill.
	GenLen int
	// EOS is the end-of-sequence id; nil disables the check.
	EOS        *int
	StopPolicy StopPolicy
	StopIndex  int
	// CtxLen bounds the cache; 0 disables the guard.
	CtxLen int
	Stream StreamFunc
}

// Stats summarizes one run. Throughput follows the usual accelerator
// convention: prefill rate is the first token over prefill time, decode rate
// counts decode steps, total rate counts every generated token.
type Stats struct {
	PromptTokens    int           `json:"prompt_tokens"`
	GeneratedTokens int           `json:"generated_tokens"`
	DecodeSteps     int           `json:"decode_steps"`
	BatchSize       int           `json:"batch_size"`
	PrefillDuration time.Duration `json:"prefill_ns"`
	DecodeDuration  time.Duration `json:"decode_ns"`
	TotalDuration   time.Duration `json:"total_ns"`
	PrefillTPS      float64       `json:"prefill_tps"`
	DecodeTPS       float64       `json:"decode_tps"`
	TotalTPS        float64       `json:"total_tps"`
	StopReason      StopReason    `json:"stop_reason"`
}

func (s *Stats) finish() {
	s.TotalDuration = s.PrefillDuration + s.DecodeDuration
	if sec := s.PrefillDuration.Seconds(); sec > 0 {
		s.PrefillTPS = 1 / sec
	}
	if sec := s.DecodeDuration.Seconds(); sec > 0 {
		s.DecodeTPS = float64(s.DecodeSteps) / sec
	}
	if sec := s.TotalDuration.Seconds(); sec > 0 {
		s.TotalTPS = float64(s.GeneratedTokens) / sec
	}
}

// Result is the outcome of Run. It is returned alongside ErrDecode so the
// partial outputs can still be reported.
type Result struct {
	Prompt    string
	Sequences []*Sequence
	Stats     Stats
}

// Outputs returns the accumulated text of every sequence in batch order.
func (r *Result) Outputs() []string {
	out := make([]string, len(r.Sequences))
	for i, s := range r.Sequences {
		out[i] = s.Text()
	}
	return out
}
