package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"

	"github.com/samcharles93/kvrun/internal/backend"
	"github.com/samcharles93/kvrun/internal/ctxstore"
	"github.com/samcharles93/kvrun/internal/inference"
	"github.com/samcharles93/kvrun/internal/logger"
	"github.com/samcharles93/kvrun/internal/tokenizer"
)

const defaultVocabFile = "tokens.bin"

// model is an opened context binary with a live session and driver.
type model struct {
	file    *ctxstore.File
	session backend.Session
	driver  *inference.Driver
	vocab   *tokenizer.Vocab
}

func openModel(ctx context.Context, o modelOptions, opts ...inference.Option) (_ *model, err error) {
	log := logger.FromContext(ctx)
	if o.model == "" {
		return nil, errors.New("a context binary is required (--model)")
	}
	devices, err := parseDevices(o.devices)
	if err != nil {
		return nil, err
	}

	f, err := ctxstore.Open(o.model)
	if err != nil {
		return nil, fmt.Errorf("open context binary: %w", err)
	}
	m := &model{file: f}
	defer func() {
		if err != nil {
			err = errors.Join(err, m.Close())
		}
	}()

	prefill, decode, err := f.SelectGraphs()
	if err != nil {
		return nil, err
	}
	if m.vocab, err = loadVocab(o.vocab, o.model, f); err != nil {
		return nil, err
	}
	weights, err := f.Weights()
	if err != nil {
		return nil, err
	}
	log.Info("context binary loaded",
		"path", o.model,
		"size", humanize.IBytes(uint64(f.Size())),
		"graphs", len(f.Graphs()),
		"vocab", m.vocab.Len(),
	)

	provider := o.provider
	if provider == nil {
		if provider, err = backend.Lookup(o.backend); err != nil {
			return nil, err
		}
	}
	m.session, err = provider.Open(ctx, weights, backend.SessionConfig{Devices: devices, QueueDepth: 1})
	if err != nil {
		return nil, backend.WithOp("open "+provider.Name()+" session", err)
	}
	log.Debug("session opened", "backend", provider.Name(), "devices", devices)

	opts = append([]inference.Option{
		inference.WithLogger(log),
		inference.WithExecuteTimeout(o.executeTimeout),
	}, opts...)
	if m.driver, err = inference.NewDriver(m.session, prefill, decode, m.vocab, opts...); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *model) Close() error {
	var errs []error
	if m.driver != nil {
		errs = append(errs, m.driver.Close())
	}
	if m.session != nil {
		errs = append(errs, m.session.Close())
	}
	errs = append(errs, m.file.Close())
	return errors.Join(errs...)
}

// loadVocab resolves the vocabulary: an explicit file, then the embedded
// section, then tokens.bin in the working directory or beside the binary.
func loadVocab(explicit, modelPath string, f *ctxstore.File) (*tokenizer.Vocab, error) {
	if explicit != "" {
		return tokenizer.LoadVocab(explicit)
	}
	v, err := f.Vocab()
	if err == nil {
		return v, nil
	}
	if !errors.Is(err, ctxstore.ErrNoVocab) {
		return nil, err
	}
	for _, p := range []string{defaultVocabFile, filepath.Join(filepath.Dir(modelPath), defaultVocabFile)} {
		if _, serr := os.Stat(p); serr == nil {
			return tokenizer.LoadVocab(p)
		} else if !errors.Is(serr, fs.ErrNotExist) {
			return nil, serr
		}
	}
	return nil, fmt.Errorf("no vocabulary: pass --vocab, embed one with pack, or place %s next to the binary", defaultVocabFile)
}
