// Copyright 2023 NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package decoder

import (
	"container/heap"
	"sort"
)

// candidate is a one-token expansion of an active hypothesis.
type candidate struct {
	// index is the enumeration order: hypothesis slot first, then token ID.
	index int
	hyp   int
	token int
	score float64
}

// better is the selection order: higher score first, and on equal scores
// the candidate enumerated first.
func better(a, b candidate) bool {
	if a.score != b.score {
		return a.score > b.score
	}
	return a.index < b.index
}

// worstFirst is a min-heap on the selection order.
type worstFirst []candidate

func (h worstFirst) Len() int            { return len(h) }
func (h worstFirst) Less(i, j int) bool  { return better(h[j], h[i]) }
func (h worstFirst) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *worstFirst) Push(x interface{}) { *h = append(*h, x.(candidate)) }
func (h *worstFirst) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// selectTop returns the best n candidates in selection order. The result
// is the prefix of a stable descending sort of cands by score.
func selectTop(cands []candidate, n int) []candidate {
	if n <= 0 {
		return nil
	}
	if n >= len(cands) {
		out := make([]candidate, len(cands))
		copy(out, cands)
		sort.Slice(out, func(i, j int) bool { return better(out[i], out[j]) })
		return out
	}

	h := make(worstFirst, 0, n+1)
	for _, c := range cands {
		if len(h) < n {
			heap.Push(&h, c)
			continue
		}
		if better(c, h[0]) {
			h[0] = c
			heap.Fix(&h, 0)
		}
	}
	out := []candidate(h)
	sort.Slice(out, func(i, j int) bool { return better(out[i], out[j]) })
	return out
}
