package inference

import (
	"strings"

	"github.com/samcharles93/kvrun/internal/tokenizer"
)

// Sequence is the decode state of one batch element.
type Sequence struct {
	Index         int
	CachePosition int
	LastToken     int
	Tokens        []int
	Finished      bool

	out strings.Builder
}

// NewSequences creates batch sequences seeded with prompt and positioned
// after inputLen prompt tokens.
func NewSequences(batch int, prompt string, inputLen int) []*Sequence {
	seqs := make([]*Sequence, batch)
	for i := range seqs {
		s := &Sequence{Index: i, CachePosition: inputLen}
		s.out.WriteString(prompt)
		seqs[i] = s
	}
	return seqs
}

// Text returns the prompt followed by every appended token string.
func (s *Sequence) Text() string { return s.out.String() }

// Appended returns the number of tokens appended after the prompt.
func (s *Sequence) Appended() int { return len(s.Tokens) }

func (s *Sequence) append(v *tokenizer.Vocab, tok int) (string, error) {
	str, err := v.TokenString(tok)
	if err != nil {
		return "", err
	}
	s.out.WriteString(str)
	s.Tokens = append(s.Tokens, tok)
	s.LastToken = tok
	return str, nil
}
