package tokenizer

import "strings"

var eosSpellings = []string{"</s>", "<|endoftext|>", "<|end_of_text|>", "<|eot_id|>", "<|im_end|>"}

// ResolveEOS picks the end-of-sequence id for a run. An explicit id wins,
// then the id recorded with the model, then a well-known end-of-text token
// found in the vocabulary. ok is false when no EOS applies.
func ResolveEOS(explicit, recorded *int, v *Vocab) (id int, ok bool) {
	if explicit != nil {
		return *explicit, true
	}
	if recorded != nil {
		return *recorded, true
	}
	for _, want := range eosSpellings {
		for i, tok := range v.Tokens() {
			if strings.EqualFold(strings.TrimSpace(tok), want) {
				return i, true
			}
		}
	}
	return -1, false
}
