// Copyright 2023 NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package decoder

import (
	"github.com/nlpodyssey/beamflow/oracle"
)

// noParent marks the empty root of every search.
const noParent = -1

// node is one emitted token together with the arena index of its parent.
type node struct {
	parent int
	token  int
}

// arena stores every token emitted by a beam. Hypotheses only keep the
// index of their last node; full sequences are rebuilt on completion.
type arena struct {
	nodes []node
}

func (a *arena) push(parent, token int) int {
	a.nodes = append(a.nodes, node{parent: parent, token: token})
	return len(a.nodes) - 1
}

// sequence returns the tokens from the root to the node at idx.
func (a *arena) sequence(idx int) []int {
	n := 0
	for i := idx; i != noParent; i = a.nodes[i].parent {
		n++
	}
	seq := make([]int, n)
	for i := idx; i != noParent; i = a.nodes[i].parent {
		n--
		seq[n] = a.nodes[i].token
	}
	return seq
}

// hypothesis is an active slot of the frontier.
type hypothesis struct {
	node      int
	score     float64
	lastToken int
	// states holds one decoder state per ensemble member.
	states []oracle.State
}

// finished is a completed hypothesis, waiting to be ranked.
type finished struct {
	node   int
	score  float64
	forced bool
}

// beam is the search frontier of a single source item.
type beam struct {
	item   oracle.Item
	srcLen int
	// step is the number of tokens emitted so far by every active hypothesis.
	step      int
	arena     arena
	active    []hypothesis
	completed []finished
	terminal  bool
}

func newBeam(item oracle.Item, srcLen, bos int, states []oracle.State) *beam {
	return &beam{
		item:   item,
		srcLen: srcLen,
		active: []hypothesis{{
			node:      noParent,
			score:     0,
			lastToken: bos,
			states:    states,
		}},
	}
}

// complete moves an expansion ending with token to the completed set.
func (b *beam) complete(parent hypothesis, token int, score float64) {
	b.completed = append(b.completed, finished{
		node:  b.arena.push(parent.node, token),
		score: score,
	})
}

// forceFinish completes the given active hypotheses without an end token
// and marks the beam as terminal.
func (b *beam) forceFinish(hyps ...hypothesis) {
	for _, h := range hyps {
		b.completed = append(b.completed, finished{
			node:   h.node,
			score:  h.score,
			forced: true,
		})
	}
	b.active = nil
	b.terminal = true
}
