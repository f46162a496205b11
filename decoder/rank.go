// Copyright 2023 NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package decoder

import (
	"math"
	"sort"
)

// NormalizedScore returns logProb / length^alpha. With alpha = 0 the raw
// log-probability is returned unchanged. Lengths below 1 count as 1.
func NormalizedScore(logProb float64, length int, alpha float64) float64 {
	if alpha == 0 {
		return logProb
	}
	return logProb / math.Pow(float64(max(length, 1)), alpha)
}

// Rank sorts the hypotheses by descending score. Ties keep their order.
func Rank(hyps []Hypothesis) {
	sort.SliceStable(hyps, func(i, j int) bool {
		return hyps[i].Score > hyps[j].Score
	})
}

// result ranks the completed hypotheses of a terminal beam.
func (d *Decoder) result(b *beam) Result {
	hyps := make([]Hypothesis, 0, len(b.completed))
	for _, f := range b.completed {
		var seq []int
		if f.node != noParent {
			seq = b.arena.sequence(f.node)
		}
		length := len(seq)
		if !f.forced && length > 0 && seq[length-1] == d.opts.EndTokenID {
			seq = seq[:length-1]
		}
		hyps = append(hyps, Hypothesis{
			Tokens:  seq,
			LogProb: f.score,
			Length:  length,
			Score:   NormalizedScore(f.score, length, d.opts.LPAlpha),
			Forced:  f.forced,
		})
	}
	Rank(hyps)

	keep := len(hyps)
	if !d.opts.NBest {
		keep = min(keep, 1)
	} else {
		keep = min(keep, d.opts.BeamSize)
	}
	return Result{
		Index:      b.item.Index,
		Hypotheses: hyps[:keep],
	}
}
