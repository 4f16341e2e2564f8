package api

import (
	"context"
	"sync"

	"github.com/samcharles93/kvrun/internal/inference"
	"github.com/samcharles93/kvrun/internal/prompt"
	"github.com/samcharles93/kvrun/internal/tokenizer"
)

// Generator runs one generation request.
type Generator interface {
	Generate(ctx context.Context, req GenerateRequest, stream inference.StreamFunc) (*inference.Result, error)
}

// Defaults fill request fields the client leaves out.
type Defaults struct {
	GenLen     int
	CtxLen     int
	EOS        *int
	StopPolicy inference.StopPolicy
	PadToken   int64
}

// DriverService serializes requests onto a single driver. The driver owns
// the device session, so only one generation can be in flight.
type DriverService struct {
	mu       sync.Mutex
	driver   *inference.Driver
	defaults Defaults
}

func NewDriverService(driver *inference.Driver, defaults Defaults) *DriverService {
	return &DriverService{driver: driver, defaults: defaults}
}

func (s *DriverService) Generate(ctx context.Context, req GenerateRequest, stream inference.StreamFunc) (*inference.Result, error) {
	ids, text, err := s.promptIDs(req)
	if err != nil {
		return nil, err
	}
	opts, err := s.decodeOptions(req)
	if err != nil {
		return nil, err
	}
	opts.Stream = stream
	if opts.CtxLen > 0 && len(ids) >= opts.CtxLen {
		return nil, newInvalidRequest("prompt of %d tokens does not fit context length %d", len(ids), opts.CtxLen)
	}

	set, err := prompt.Split(ids, s.driver.BatchSize(), s.driver.ChunkLen(), s.defaults.PadToken)
	if err != nil {
		return nil, newInvalidRequest("%v", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.driver.Run(ctx, inference.Request{
		Prompt:        text,
		Chunks:        set,
		InputLen:      len(ids),
		DecodeOptions: opts,
	})
}

func (s *DriverService) promptIDs(req GenerateRequest) ([]int64, string, error) {
	vocab := s.driver.Vocab()
	if len(req.InputIDs) > 0 {
		ints := make([]int, len(req.InputIDs))
		for i, id := range req.InputIDs {
			if id < 0 || id >= int64(vocab.Len()) {
				return nil, "", newInvalidRequest("input_ids[%d] = %d is outside the vocabulary", i, id)
			}
			ints[i] = int(id)
		}
		text := req.Prompt
		if text == "" {
			decoded, err := vocab.Decode(ints)
			if err != nil {
				return nil, "", newInvalidRequest("%v", err)
			}
			text = decoded
		}
		return req.InputIDs, text, nil
	}
	if req.Prompt == "" {
		return nil, "", newInvalidRequest("prompt or input_ids is required")
	}
	ints, err := vocab.Encode(req.Prompt)
	if err != nil {
		return nil, "", newInvalidRequest("%v", err)
	}
	ids := make([]int64, len(ints))
	for i, id := range ints {
		ids[i] = int64(id)
	}
	return ids, req.Prompt, nil
}

func (s *DriverService) decodeOptions(req GenerateRequest) (inference.DecodeOptions, error) {
	opts := inference.DecodeOptions{
		GenLen:     s.defaults.GenLen,
		CtxLen:     s.defaults.CtxLen,
		StopPolicy: s.defaults.StopPolicy,
		StopIndex:  req.StopIndex,
	}
	eos, ok := tokenizer.ResolveEOS(req.EOSTokenID, s.defaults.EOS, s.driver.Vocab())
	if ok {
		opts.EOS = &eos
	}
	if req.GenLen != nil {
		if *req.GenLen < 0 {
			return opts, newInvalidRequest("gen_len must not be negative")
		}
		opts.GenLen = *req.GenLen
	}
	if req.StopPolicy != "" {
		p, err := inference.ParseStopPolicy(req.StopPolicy)
		if err != nil {
			return opts, newInvalidRequest("%v", err)
		}
		opts.StopPolicy = p
	}
	if opts.StopPolicy == inference.StopSequence && (req.StopIndex < 0 || req.StopIndex >= s.driver.BatchSize()) {
		return opts, newInvalidRequest("stop_index %d is outside batch size %d", req.StopIndex, s.driver.BatchSize())
	}
	return opts, nil
}
