// Copyright 2023 NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package lookup implements a table-based conditional translation model.
//
// The next-token logits are the row of the transition table selected by the
// last emitted token, plus the mean of the alignment rows of the visible
// source tokens.
package lookup

import (
	"fmt"

	"github.com/nlpodyssey/beamflow/checkpoint"
	"github.com/nlpodyssey/beamflow/oracle"
	"github.com/nlpodyssey/beamflow/topology"
	"github.com/nlpodyssey/spago/mat"
	"gonum.org/v1/gonum/floats"
)

// ModelType is the name under which the model is registered.
const ModelType = "lookup"

const (
	// TransitionWeight is a (target vocabulary x target vocabulary) table.
	TransitionWeight = "transition"
	// AlignmentWeight is a (source vocabulary x target vocabulary) table.
	AlignmentWeight = "alignment"
)

func init() {
	oracle.Register(ModelType, func(c *checkpoint.Checkpoint) (oracle.Model, error) {
		return New(c)
	})
}

// Model is a frozen lookup model.
type Model struct {
	opts       checkpoint.Options
	topology   topology.Topology
	sourceKey  string
	trgSize    int
	srcSize    int
	transition []float64
	alignment  []float64
}

var _ oracle.Model = &Model{}

// New builds the model from a checkpoint.
func New(c *checkpoint.Checkpoint) (*Model, error) {
	tp, err := topology.Parse(c.Options.Direction())
	if err != nil {
		return nil, fmt.Errorf("lookup: %w", err)
	}
	tr, err := c.Weight(TransitionWeight, -1, -1)
	if err != nil {
		return nil, fmt.Errorf("lookup: %w", err)
	}
	if tr.Rows() != tr.Columns() {
		return nil, fmt.Errorf("lookup: transition table must be square, actual %v", tr.Shape)
	}
	al, err := c.Weight(AlignmentWeight, -1, tr.Columns())
	if err != nil {
		return nil, fmt.Errorf("lookup: %w", err)
	}
	return &Model{
		opts:       c.Options.Clone(),
		topology:   tp,
		sourceKey:  tp.FirstSource().Key,
		trgSize:    tr.Columns(),
		srcSize:    al.Rows(),
		transition: tr.Data,
		alignment:  al.Data,
	}, nil
}

// state is the source sequence; the model has no recurrent memory.
type state []int

// Start validates the source and returns it as the initial state.
func (m *Model) Start(src oracle.Source) (oracle.State, error) {
	tokens, ok := src[m.sourceKey]
	if !ok {
		return nil, fmt.Errorf("lookup: missing source %q", m.sourceKey)
	}
	for _, t := range tokens {
		if t < 0 || t >= m.srcSize {
			return nil, fmt.Errorf("lookup: source token %d out of range [0, %d)", t, m.srcSize)
		}
	}
	return state(tokens), nil
}

// ScoreStep returns the log-probabilities of the next token.
func (m *Model) ScoreStep(s oracle.State, lastToken int, visible int) (mat.Matrix, oracle.State, error) {
	src, ok := s.(state)
	if !ok {
		return nil, nil, fmt.Errorf("lookup: unexpected state %T", s)
	}
	if lastToken < 0 || lastToken >= m.trgSize {
		return nil, nil, fmt.Errorf("lookup: token %d out of range [0, %d)", lastToken, m.trgSize)
	}
	visible = min(max(visible, 0), len(src))

	logits := make([]float64, m.trgSize)
	copy(logits, m.row(m.transition, lastToken))
	if visible > 0 {
		ctx := make([]float64, m.trgSize)
		for _, t := range src[:visible] {
			floats.Add(ctx, m.row(m.alignment, t))
		}
		floats.AddScaled(logits, 1/float64(visible), ctx)
	}
	return mat.NewVecDense[float64](oracle.LogSoftmax(logits)), src, nil
}

func (m *Model) row(table []float64, i int) []float64 {
	return table[i*m.trgSize : (i+1)*m.trgSize]
}

// SupportsBeamSearch returns true.
func (m *Model) SupportsBeamSearch() bool { return true }

// Topology returns the model topology.
func (m *Model) Topology() topology.Topology { return m.topology }

// Options returns the checkpoint options.
func (m *Model) Options() *checkpoint.Options { return &m.opts }
