package tokenizer

import (
	"errors"
	"fmt"
	"unicode/utf8"
)

var ErrUnencodable = errors.New("tokenizer: text has no matching token")

// Encode splits text into ids by greedy longest match against the
// vocabulary. It is meant for quick prompts against small vocabularies; real
// prompts arrive pre-tokenized as chunk files or id lists.
func (v *Vocab) Encode(text string) ([]int, error) {
	index, longest := v.index()
	var ids []int
	for i := 0; i < len(text); {
		end := min(len(text), i+longest)
		matched := false
		for ; end > i; end-- {
			if id, ok := index[text[i:end]]; ok {
				ids = append(ids, id)
				i = end
				matched = true
				break
			}
		}
		if !matched {
			r, _ := utf8.DecodeRuneInString(text[i:])
			return nil, fmt.Errorf("%w: %q at byte %d", ErrUnencodable, r, i)
		}
	}
	return ids, nil
}

func (v *Vocab) index() (map[string]int, int) {
	v.once.Do(func() {
		v.ids = make(map[string]int, len(v.tokens))
		for i, tok := range v.tokens {
			if tok == "" {
				continue
			}
			if _, dup := v.ids[tok]; !dup {
				v.ids[tok] = i
			}
			v.longest = max(v.longest, len(tok))
		}
	})
	return v.ids, v.longest
}
