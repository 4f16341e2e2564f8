package prompt

import (
	"fmt"

	"github.com/samcharles93/kvrun/internal/buffer"
)

// Split lays ids out as chunks of chunkLen for a graph of the given batch
// size. Every batch row receives the same prompt. The final chunk is padded
// with pad and PadPosition.
func Split(ids []int64, batch, chunkLen int, pad int64) (*ChunkSet, error) {
	if len(ids) == 0 {
		return nil, ErrEmptyPrompt
	}
	if batch <= 0 || chunkLen <= 0 {
		return nil, fmt.Errorf("prompt: invalid batch %d or chunk length %d", batch, chunkLen)
	}
	n := NumChunks(len(ids), chunkLen)
	chunks := make([]*Chunk, 0, n)
	for c := 0; c < n; c++ {
		in := make([]int64, batch*chunkLen)
		pos := make([]int64, batch*chunkLen)
		for j := 0; j < chunkLen; j++ {
			p := c*chunkLen + j
			tok, position := pad, PadPosition
			if p < len(ids) {
				tok, position = ids[p], int64(p)
			}
			for b := 0; b < batch; b++ {
				in[b*chunkLen+j] = tok
				pos[b*chunkLen+j] = position
			}
		}
		chunks = append(chunks, &Chunk{
			InputIDs:    buffer.FromInt64s(in),
			PositionIDs: buffer.FromInt64s(pos),
		})
	}
	return NewChunkSet(chunks), nil
}

// NumChunks returns the number of chunkLen chunks needed for n tokens.
func NumChunks(n, chunkLen int) int {
	if chunkLen <= 0 {
		return 0
	}
	return (n + chunkLen - 1) / chunkLen
}
