// Copyright 2023 NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package beamflow

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/nlpodyssey/beamflow/decoder"
	"github.com/nlpodyssey/beamflow/filterchain"
)

// Suffix returns the output file suffix describing the decoding options.
func Suffix(o decoder.DecodingOptions) string {
	s := ""
	if o.LPAlpha != 0 {
		s += fmt.Sprintf(".lp_%.1f", o.LPAlpha)
	}
	if o.SuppressUnk {
		s += ".no_unk"
	}
	if o.WaitK > 0 {
		s += fmt.Sprintf(".waitk%d", o.WaitK)
	}
	s += fmt.Sprintf(".beam%d", o.BeamSize)
	if o.NBest {
		s += ".nbest"
	}
	return s
}

// OutputFilename returns "<output>.<split><suffix>".
func OutputFilename(output, split string, o decoder.DecodingOptions) string {
	return fmt.Sprintf("%s.%s%s", output, split, Suffix(o))
}

// Dump writes the translations of the split to its output file and
// returns the file name.
func (t *Translator) Dump(trans []Translation, split string) (_ string, err error) {
	opts := t.decoder.Options()
	fn := OutputFilename(t.opts.Output, split, opts)
	f, err := os.Create(fn)
	if err != nil {
		return "", fmt.Errorf("failed to create output file %q: %w", fn, err)
	}
	defer func() {
		if e := f.Close(); e != nil && err == nil {
			err = fmt.Errorf("failed to close output file %q: %w", fn, e)
		}
	}()
	if err = WriteTranslations(f, trans, opts.NBest, t.filter); err != nil {
		return "", fmt.Errorf("failed to write %q: %w", fn, err)
	}
	return fn, nil
}

// WriteTranslations post-processes and writes the translations. Single-best
// output has one line per sentence. N-best output has one
// "<index> ||| <text> ||| <score>" line per candidate, by descending score.
func WriteTranslations(w io.Writer, trans []Translation, nBest bool, filter *filterchain.Chain) error {
	bw := bufio.NewWriter(w)
	for _, tr := range trans {
		if !nBest {
			if _, err := fmt.Fprintln(bw, filter.ApplyOne(tr.Best().Text)); err != nil {
				return err
			}
			continue
		}
		cands := make([]Candidate, len(tr.Candidates))
		copy(cands, tr.Candidates)
		sort.SliceStable(cands, func(i, j int) bool {
			return cands[i].Score > cands[j].Score
		})
		for _, c := range cands {
			if _, err := fmt.Fprintf(bw, "%d ||| %s ||| %.5f\n", tr.Index, filter.ApplyOne(c.Text), c.Score); err != nil {
				return err
			}
		}
	}
	return bw.Flush()
}
