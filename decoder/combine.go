// Copyright 2023 NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package decoder

import (
	"errors"
	"fmt"
	"sort"

	"gonum.org/v1/gonum/floats"
)

// Combine fuses the log-probability vectors produced by the members of an
// ensemble for the same hypothesis, taking their arithmetic mean (that is,
// the geometric mean of the probabilities).
//
// The values of each entry are summed in ascending order, so the result is
// bit-for-bit the same for any ordering of dists.
func Combine(dists [][]float64) ([]float64, error) {
	if len(dists) == 0 {
		return nil, errors.New("no distributions to combine")
	}
	size := len(dists[0])
	for i, d := range dists[1:] {
		if len(d) != size {
			return nil, fmt.Errorf("distribution %d has size %d, expected %d", i+1, len(d), size)
		}
	}

	out := make([]float64, size)
	n := len(dists)
	if n == 1 {
		copy(out, dists[0])
		return out, nil
	}

	column := make([]float64, n)
	for i := range out {
		for j, d := range dists {
			column[j] = d[i]
		}
		if n > 2 {
			sort.Float64s(column)
		}
		out[i] = floats.Sum(column) / float64(n)
	}
	return out, nil
}
