// Copyright 2023 NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package decoder

import (
	"math"
)

var negInf = math.Inf(-1)

// ScoreControlFunc adjusts a fused log-probability vector in place before
// the candidates are ranked. Entries set to -Inf can never be selected.
type ScoreControlFunc func(logProbs []float64) []float64

// ScoreControl returns the adjustments required by the given options.
func ScoreControl(opts DecodingOptions) ScoreControlFunc {
	result := make([]ScoreControlFunc, 0, 1)
	if opts.SuppressUnk {
		result = append(result, SuppressTokensFunc(opts.UnkTokenID))
	}

	return func(logProbs []float64) []float64 {
		for _, p := range result {
			logProbs = p(logProbs)
		}
		return logProbs
	}
}

// SuppressTokensFunc forbids the given token IDs.
func SuppressTokensFunc(ids ...int) ScoreControlFunc {
	return func(logProbs []float64) []float64 {
		for _, id := range ids {
			if id >= 0 && id < len(logProbs) {
				logProbs[id] = negInf
			}
		}
		return logProbs
	}
}

// sanitize replaces NaN and +Inf entries with -Inf, returning the IDs of
// the replaced entries.
func sanitize(logProbs []float64) []int {
	var bad []int
	for i, v := range logProbs {
		if math.IsNaN(v) || math.IsInf(v, 1) {
			logProbs[i] = negInf
			bad = append(bad, i)
		}
	}
	return bad
}
