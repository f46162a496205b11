// Copyright 2023 NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package oracle defines the scoring interface that trained models expose
// to the decoder, and a registry of the available model types.
package oracle

import (
	"github.com/nlpodyssey/beamflow/checkpoint"
	"github.com/nlpodyssey/beamflow/topology"
	"github.com/nlpodyssey/spago/mat"
)

// Source holds the token IDs of one source item, by data key.
type Source map[string][]int

// Len returns the length of the sequence under the given key.
func (s Source) Len(key string) int {
	return len(s[key])
}

// Item is one source item of a batch.
type Item struct {
	// Index is the stable position of the item in its split.
	Index int
	// Source holds the input sequences.
	Source Source
	// Schedule optionally lists, for each decoding tick, how many source
	// tokens have arrived. Nil means the whole source is available from
	// the start. Ticks past the end of the schedule see the whole source.
	Schedule []int
}

// Arrived returns how many source tokens of length srcLen are available at tick.
func (it Item) Arrived(tick, srcLen int) int {
	if tick >= len(it.Schedule) {
		return srcLen
	}
	return min(it.Schedule[tick], srcLen)
}

// State is the opaque decoder state of one hypothesis for one model.
// Implementations must treat states as immutable: ScoreStep returns a new
// state and never modifies the one it receives, so that sibling
// hypotheses can share their parent's state.
type State any

// Model is a trained model used as a scoring oracle.
type Model interface {
	// Start returns the initial decoder state for the given source.
	Start(src Source) (State, error)
	// ScoreStep returns the log-probabilities over the target vocabulary of
	// the token following lastToken, together with the updated state.
	// Only the first visible tokens of the source may be attended.
	ScoreStep(state State, lastToken int, visible int) (mat.Matrix, State, error)
	// SupportsBeamSearch reports whether the model exposes step-wise
	// conditional distributions.
	SupportsBeamSearch() bool
	// Topology returns the tasks the model supports.
	Topology() topology.Topology
	// Options returns the training-time options of the model.
	Options() *checkpoint.Options
}
