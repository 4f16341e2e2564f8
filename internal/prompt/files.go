package prompt

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/samcharles93/kvrun/internal/buffer"
)

const (
	inputIDsPattern    = "input_ids_%d.raw"
	positionIDsPattern = "position_ids_%d.raw"
)

// ChunkPaths returns the input_ids and position_ids file paths of chunk i.
func ChunkPaths(dir string, i int) (ids, pos string) {
	return filepath.Join(dir, fmt.Sprintf(inputIDsPattern, i)),
		filepath.Join(dir, fmt.Sprintf(positionIDsPattern, i))
}

// LoadChunks reads n chunk file pairs from dir concurrently. Each file must
// hold exactly elems int64 values. Chunks are returned in index order; on
// error every loaded buffer is released.
func LoadChunks(ctx context.Context, dir string, n, elems int) (*ChunkSet, error) {
	if n <= 0 {
		return nil, ErrNoChunks
	}
	chunks := make([]*Chunk, n)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i := 0; i < n; i++ {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			idsPath, posPath := ChunkPaths(dir, i)
			ids, err := loadRaw(idsPath, elems)
			if err != nil {
				return err
			}
			pos, err := loadRaw(posPath, elems)
			if err != nil {
				_ = ids.Release()
				return err
			}
			chunks[i] = &Chunk{InputIDs: ids, PositionIDs: pos}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		for _, c := range chunks {
			if c != nil {
				_ = c.Release()
			}
		}
		return nil, err
	}
	return NewChunkSet(chunks), nil
}

func loadRaw(path string, elems int) (*buffer.Buffer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load chunk: %w", err)
	}
	if len(data) != elems*8 {
		return nil, fmt.Errorf("%w: %s has %d bytes, want %d", ErrChunkSize, path, len(data), elems*8)
	}
	return buffer.Own(data), nil
}

// WriteChunks writes every chunk of set into dir using the chunk file naming
// scheme. Chunks are left in the set.
func WriteChunks(dir string, set *ChunkSet) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	for i, c := range set.chunks {
		idsPath, posPath := ChunkPaths(dir, i)
		if err := os.WriteFile(idsPath, c.InputIDs.Bytes(), 0o644); err != nil {
			return err
		}
		if err := os.WriteFile(posPath, c.PositionIDs.Bytes(), 0o644); err != nil {
			return err
		}
	}
	return nil
}
