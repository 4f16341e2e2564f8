package ctxstore

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/samcharles93/kvrun/internal/tokenizer"
	"github.com/samcharles93/kvrun/pkg/ctxbin"
)

// Contents is everything a context binary can carry.
type Contents struct {
	Graphs   []ctxbin.GraphInfo
	Weights  io.Reader
	Vocab    *tokenizer.Vocab
	Metadata *ctxbin.Metadata
}

// Write creates path and fills it with c. The container is written to a
// temporary file in the same directory and renamed into place.
func Write(path string, c Contents) (err error) {
	if len(c.Graphs) == 0 {
		return ErrNoGraphs
	}
	w := ctxbin.NewWriter()

	info, err := ctxbin.EncodeGraphInfo(c.Graphs)
	if err != nil {
		return err
	}
	if err := w.Add(ctxbin.SectionGraphInfo, ctxbin.GraphInfoVersion, info); err != nil {
		return fmt.Errorf("graph info: %w", err)
	}
	if c.Weights != nil {
		if _, err := w.AddReader(ctxbin.SectionWeights, 1, c.Weights); err != nil {
			return fmt.Errorf("weights: %w", err)
		}
	}
	if c.Vocab != nil {
		var buf bytes.Buffer
		if err := tokenizer.WriteVocab(&buf, c.Vocab); err != nil {
			return err
		}
		if err := w.Add(ctxbin.SectionVocab, 1, buf.Bytes()); err != nil {
			return fmt.Errorf("vocab: %w", err)
		}
	}
	if c.Metadata != nil {
		md, err := ctxbin.EncodeMetadata(*c.Metadata)
		if err != nil {
			return err
		}
		if err := w.Add(ctxbin.SectionMetadata, ctxbin.MetadataVersion, md); err != nil {
			return fmt.Errorf("metadata: %w", err)
		}
	}

	f, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = f.Close()
			_ = os.Remove(f.Name())
		}
	}()
	if err = f.Chmod(0o644); err != nil {
		return err
	}
	if _, err = w.WriteTo(f); err != nil {
		return err
	}
	if err = f.Sync(); err != nil {
		return err
	}
	if err = f.Close(); err != nil {
		return err
	}
	return os.Rename(f.Name(), path)
}
