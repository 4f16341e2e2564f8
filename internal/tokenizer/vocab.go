package tokenizer

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
)

var (
	ErrTokenOutOfRange = errors.New("tokenizer: token id out of range")
	ErrInvalidVocab    = errors.New("tokenizer: invalid vocabulary file")
)

// Vocab maps token ids to their surface strings. It is read-only once built.
type Vocab struct {
	tokens []string

	once    sync.Once
	ids     map[string]int
	longest int
}

// NewVocab builds a vocabulary from an ordered token list.
func NewVocab(tokens []string) *Vocab {
	return &Vocab{tokens: append([]string(nil), tokens...)}
}

func (v *Vocab) Len() int {
	if v == nil {
		return 0
	}
	return len(v.tokens)
}

// TokenString returns the surface string for id.
func (v *Vocab) TokenString(id int) (string, error) {
	if id < 0 || id >= v.Len() {
		return "", fmt.Errorf("%w: %d (vocab size %d)", ErrTokenOutOfRange, id, v.Len())
	}
	return v.tokens[id], nil
}

// Decode concatenates the surface strings of ids.
func (v *Vocab) Decode(ids []int) (string, error) {
	var sb strings.Builder
	for _, id := range ids {
		s, err := v.TokenString(id)
		if err != nil {
			return "", err
		}
		sb.WriteString(s)
	}
	return sb.String(), nil
}

// Lookup returns the first id whose surface string equals s.
func (v *Vocab) Lookup(s string) (int, bool) {
	if v.Len() == 0 {
		return -1, false
	}
	index, _ := v.index()
	id, ok := index[s]
	if !ok {
		return -1, false
	}
	return id, true
}

func (v *Vocab) Tokens() []string {
	if v == nil {
		return nil
	}
	return v.tokens
}

// LoadVocab reads a vocabulary file from disk.
func LoadVocab(path string) (*Vocab, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read vocab: %w", err)
	}
	v, err := ParseVocab(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return v, nil
}

// ParseVocab decodes the tokens.bin layout: an ASCII decimal count terminated
// by NUL, followed by count NUL-terminated strings.
func ParseVocab(data []byte) (*Vocab, error) {
	end := bytes.IndexByte(data, 0)
	if end < 0 {
		return nil, fmt.Errorf("%w: missing count terminator", ErrInvalidVocab)
	}
	count, err := strconv.Atoi(strings.TrimSpace(string(data[:end])))
	if err != nil || count < 0 {
		return nil, fmt.Errorf("%w: bad count %q", ErrInvalidVocab, data[:end])
	}
	rest := data[end+1:]
	// Every token carries at least its terminator.
	if count > len(rest) {
		return nil, fmt.Errorf("%w: count %d exceeds the %d bytes that follow", ErrInvalidVocab, count, len(rest))
	}
	tokens := make([]string, 0, count)
	for i := range count {
		n := bytes.IndexByte(rest, 0)
		if n < 0 {
			return nil, fmt.Errorf("%w: token %d of %d is not terminated", ErrInvalidVocab, i, count)
		}
		tokens = append(tokens, string(rest[:n]))
		rest = rest[n+1:]
	}
	return &Vocab{tokens: tokens}, nil
}

// WriteVocab encodes v in the tokens.bin layout.
func WriteVocab(w io.Writer, v *Vocab) error {
	var buf bytes.Buffer
	buf.WriteString(strconv.Itoa(v.Len()))
	buf.WriteByte(0)
	for i, tok := range v.Tokens() {
		if strings.IndexByte(tok, 0) >= 0 {
			return fmt.Errorf("%w: token %d contains NUL", ErrInvalidVocab, i)
		}
		buf.WriteString(tok)
		buf.WriteByte(0)
	}
	_, err := w.Write(buf.Bytes())
	return err
}
