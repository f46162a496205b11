// Copyright 2023 NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package tokenizer

import (
	"fmt"
	"strings"

	"github.com/nlpodyssey/gotokenizers/vocabulary"
)

// Tokenizer is the interface that wraps the basic tokenizers methods.
type Tokenizer interface {
	// Tokenize returns the sequence of token IDs for the given text.
	Tokenize(text string) ([]int, error)
	// ReconstructText returns the text corresponding to the given sequence of token IDs.
	ReconstructText(ids []int) (string, error)
}

// Special token strings every vocabulary must contain.
const (
	PadToken = "<pad>"
	BosToken = "<bos>"
	EosToken = "<eos>"
	UnkToken = "<unk>"
)

// SpecialTokens holds the IDs of the special tokens of a vocabulary.
type SpecialTokens struct {
	Pad int
	Bos int
	Eos int
	Unk int
}

// WordTokenizer maps whitespace-separated words to vocabulary IDs.
type WordTokenizer struct {
	vocab   *vocabulary.Vocabulary
	special SpecialTokens
}

var _ Tokenizer = &WordTokenizer{}

// Load loads a tokenizer from a JSON vocabulary file mapping each token to its ID.
func Load(filename string) (*WordTokenizer, error) {
	vocab, err := vocabulary.FromJSONFile(filename)
	if err != nil {
		return nil, fmt.Errorf("loading vocabulary from file %s: %w", filename, err)
	}
	tk, err := New(vocab)
	if err != nil {
		return nil, fmt.Errorf("vocabulary %s: %w", filename, err)
	}
	return tk, nil
}

// New returns a tokenizer over the given vocabulary.
func New(vocab *vocabulary.Vocabulary) (*WordTokenizer, error) {
	var sp SpecialTokens
	for _, s := range []struct {
		term string
		id   *int
	}{
		{PadToken, &sp.Pad},
		{BosToken, &sp.Bos},
		{EosToken, &sp.Eos},
		{UnkToken, &sp.Unk},
	} {
		id, ok := vocab.GetID(s.term)
		if !ok {
			return nil, fmt.Errorf("missing special token %s", s.term)
		}
		*s.id = id
	}
	return &WordTokenizer{vocab: vocab, special: sp}, nil
}

// SpecialTokens returns the IDs of the special tokens.
func (t *WordTokenizer) SpecialTokens() SpecialTokens {
	return t.special
}

// Size returns the vocabulary size.
func (t *WordTokenizer) Size() int {
	return t.vocab.Size()
}

// Tokenize returns the IDs of the words of text. Unknown words map to the
// unknown token.
func (t *WordTokenizer) Tokenize(text string) ([]int, error) {
	words := strings.Fields(text)
	ids := make([]int, len(words))
	for i, w := range words {
		id, ok := t.vocab.GetID(w)
		if !ok {
			id = t.special.Unk
		}
		ids[i] = id
	}
	return ids, nil
}

// ReconstructText joins the words of ids with spaces. It stops at the first
// end token and skips padding and start tokens.
func (t *WordTokenizer) ReconstructText(ids []int) (string, error) {
	words := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == t.special.Eos {
			break
		}
		if id == t.special.Pad || id == t.special.Bos {
			continue
		}
		w, ok := t.vocab.GetString(id)
		if !ok {
			return "", fmt.Errorf("token ID %d not in vocabulary", id)
		}
		words = append(words, w)
	}
	return strings.Join(words, " "), nil
}
