// Copyright 2023 NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package dataset loads the source side of a split and groups it into batches.
package dataset

import (
	"bufio"
	"fmt"
	"os"

	"github.com/nlpodyssey/beamflow/checkpoint"
	"github.com/nlpodyssey/beamflow/oracle"
	"github.com/nlpodyssey/beamflow/tokenizer"
	"github.com/nlpodyssey/beamflow/topology"
	"github.com/rs/zerolog/log"
)

// DefaultBatchSize is used when a non-positive batch size is given.
const DefaultBatchSize = 16

const maxLineSize = 1 << 20

// Vocabularies loads the tokenizers of the given data keys.
func Vocabularies(opts *checkpoint.Options, keys ...string) (map[string]*tokenizer.WordTokenizer, error) {
	out := make(map[string]*tokenizer.WordTokenizer, len(keys))
	for _, key := range keys {
		fn, ok := opts.Vocabulary[key]
		if !ok {
			return nil, fmt.Errorf("no vocabulary for %q", key)
		}
		tk, err := tokenizer.Load(fn)
		if err != nil {
			return nil, err
		}
		out[key] = tk
	}
	return out, nil
}

// Loader holds the items of a split.
type Loader struct {
	items     []oracle.Item
	batchSize int
}

// Config is the configuration of Load.
type Config struct {
	// Options provides the "<split>_set" data entry and the vocabularies.
	Options *checkpoint.Options
	// Topology selects the source keys to load.
	Topology topology.Topology
	// Split is the split name, such as "test".
	Split string
	// BatchSize is the number of items per batch.
	BatchSize int
	// Vocabularies are the source tokenizers by data key. When nil they are
	// loaded from the options.
	Vocabularies map[string]*tokenizer.WordTokenizer
}

// Load reads and tokenizes every source of the split. Sources are files
// with one sentence per line; each sentence is followed by the end token.
func Load(c Config) (*Loader, error) {
	set, ok := c.Options.Data[c.Split+"_set"]
	if !ok {
		return nil, fmt.Errorf("split %q is not defined in the data options", c.Split)
	}

	keys := make([]string, 0, len(c.Topology.Sources))
	for _, src := range c.Topology.Sources {
		if src.Kind != "Text" {
			return nil, fmt.Errorf("source %q: unsupported data kind %q", src.Key, src.Kind)
		}
		keys = append(keys, src.Key)
	}
	vocabs := c.Vocabularies
	if vocabs == nil {
		var err error
		if vocabs, err = Vocabularies(c.Options, keys...); err != nil {
			return nil, err
		}
	}

	lines := make(map[string][]string, len(keys))
	for _, key := range keys {
		fn, ok := set[key]
		if !ok {
			return nil, fmt.Errorf("split %q has no file for source %q", c.Split, key)
		}
		l, err := readLines(fn)
		if err != nil {
			return nil, err
		}
		log.Debug().Str("split", c.Split).Str("key", key).Str("file", fn).Int("lines", len(l)).Msg("source loaded")
		lines[key] = l
	}

	items, err := NewItems(lines, vocabs)
	if err != nil {
		return nil, fmt.Errorf("split %q: %w", c.Split, err)
	}
	return NewLoader(items, c.BatchSize), nil
}

// NewItems tokenizes parallel source sentences into items, indexed by
// position. Every key must have the same number of sentences.
func NewItems(sources map[string][]string, vocabs map[string]*tokenizer.WordTokenizer) ([]oracle.Item, error) {
	n := -1
	for key, sents := range sources {
		if n >= 0 && len(sents) != n {
			return nil, fmt.Errorf("source %q has %d sentences, expected %d", key, len(sents), n)
		}
		n = len(sents)
	}
	items := make([]oracle.Item, max(n, 0))
	for i := range items {
		items[i] = oracle.Item{Index: i, Source: make(oracle.Source, len(sources))}
	}
	for key, sents := range sources {
		tk, ok := vocabs[key]
		if !ok {
			return nil, fmt.Errorf("no vocabulary for %q", key)
		}
		eos := tk.SpecialTokens().Eos
		for i, s := range sents {
			ids, err := tk.Tokenize(s)
			if err != nil {
				return nil, fmt.Errorf("source %q, sentence %d: %w", key, i, err)
			}
			items[i].Source[key] = append(ids, eos)
		}
	}
	return items, nil
}

// NewLoader groups the items in batches of the given size.
func NewLoader(items []oracle.Item, batchSize int) *Loader {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Loader{items: items, batchSize: batchSize}
}

// Len returns the number of items.
func (l *Loader) Len() int {
	return len(l.items)
}

// Batches returns the items in order, in consecutive batches.
func (l *Loader) Batches() [][]oracle.Item {
	var out [][]oracle.Item
	for i := 0; i < len(l.items); i += l.batchSize {
		out = append(out, l.items[i:min(i+l.batchSize, len(l.items))])
	}
	return out
}

func readLines(filename string) (_ []string, err error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open %q: %w", filename, err)
	}
	defer func() {
		if e := f.Close(); e != nil && err == nil {
			err = e
		}
	}()

	var lines []string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %q: %w", filename, err)
	}
	return lines, nil
}
