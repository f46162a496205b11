// Copyright 2023 NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package bow implements a bag-of-embeddings conditioned translation model.
package bow

import (
	"fmt"
	"math"

	"github.com/nlpodyssey/beamflow/checkpoint"
	"github.com/nlpodyssey/beamflow/oracle"
	"github.com/nlpodyssey/beamflow/topology"
	"github.com/nlpodyssey/spago/mat"
	"gonum.org/v1/gonum/floats"
)

// ModelType is the name under which the model is registered.
const ModelType = "bow"

// Weight names.
const (
	SourceEmbeddings = "src_emb" // (source vocabulary x d_model)
	TargetEmbeddings = "trg_emb" // (target vocabulary x d_model)
	OutputWeight     = "out.w"   // (target vocabulary x d_model)
	OutputBias       = "out.b"   // (target vocabulary)
)

func init() {
	oracle.Register(ModelType, func(c *checkpoint.Checkpoint) (oracle.Model, error) {
		return New(c)
	})
}

// Model computes
//
//	h = tanh(mean(src_emb[x_1..x_visible]) + trg_emb[y_prev])
//	log p(y | ...) = log_softmax(out.w h + out.b)
type Model struct {
	opts      checkpoint.Options
	topology  topology.Topology
	sourceKey string
	dModel    int
	srcEmb    checkpoint.Tensor
	trgEmb    checkpoint.Tensor
	outW      mat.Matrix
	outB      []float64
}

var _ oracle.Model = &Model{}

// New builds the model from a checkpoint.
func New(c *checkpoint.Checkpoint) (*Model, error) {
	tp, err := topology.Parse(c.Options.Direction())
	if err != nil {
		return nil, fmt.Errorf("bow: %w", err)
	}
	src, err := c.Weight(SourceEmbeddings, -1, -1)
	if err != nil {
		return nil, fmt.Errorf("bow: %w", err)
	}
	d := src.Columns()
	trg, err := c.Weight(TargetEmbeddings, -1, d)
	if err != nil {
		return nil, fmt.Errorf("bow: %w", err)
	}
	w, err := c.Weight(OutputWeight, trg.Rows(), d)
	if err != nil {
		return nil, fmt.Errorf("bow: %w", err)
	}
	b, err := c.Weight(OutputBias, trg.Rows())
	if err != nil {
		return nil, fmt.Errorf("bow: %w", err)
	}
	outW, err := w.Matrix()
	if err != nil {
		return nil, fmt.Errorf("bow: %w", err)
	}
	return &Model{
		opts:      c.Options.Clone(),
		topology:  tp,
		sourceKey: tp.FirstSource().Key,
		dModel:    d,
		srcEmb:    src,
		trgEmb:    trg,
		outW:      outW,
		outB:      b.Data,
	}, nil
}

// state holds the running sums of the source embeddings: sums[i] is the
// sum of the first i of them. It is shared by every hypothesis of a beam.
type state struct {
	sums [][]float64
}

// Start precomputes the source prefix sums.
func (m *Model) Start(src oracle.Source) (oracle.State, error) {
	tokens, ok := src[m.sourceKey]
	if !ok {
		return nil, fmt.Errorf("bow: missing source %q", m.sourceKey)
	}
	sums := make([][]float64, len(tokens)+1)
	sums[0] = make([]float64, m.dModel)
	for i, t := range tokens {
		if t < 0 || t >= m.srcEmb.Rows() {
			return nil, fmt.Errorf("bow: source token %d out of range [0, %d)", t, m.srcEmb.Rows())
		}
		sums[i+1] = make([]float64, m.dModel)
		floats.AddTo(sums[i+1], sums[i], row(m.srcEmb, t))
	}
	return &state{sums: sums}, nil
}

// ScoreStep returns the log-probabilities of the next token.
func (m *Model) ScoreStep(s oracle.State, lastToken int, visible int) (mat.Matrix, oracle.State, error) {
	st, ok := s.(*state)
	if !ok {
		return nil, nil, fmt.Errorf("bow: unexpected state %T", s)
	}
	if lastToken < 0 || lastToken >= m.trgEmb.Rows() {
		return nil, nil, fmt.Errorf("bow: token %d out of range [0, %d)", lastToken, m.trgEmb.Rows())
	}
	visible = min(max(visible, 0), len(st.sums)-1)

	h := make([]float64, m.dModel)
	if visible > 0 {
		floats.AddScaled(h, 1/float64(visible), st.sums[visible])
	}
	floats.Add(h, row(m.trgEmb, lastToken))
	for i, v := range h {
		h[i] = math.Tanh(v)
	}

	logits := m.outW.Mul(mat.NewVecDense[float64](h)).Data().F64()
	out := make([]float64, len(logits))
	floats.AddTo(out, logits, m.outB)
	return mat.NewVecDense[float64](oracle.LogSoftmax(out)), st, nil
}

func row(t checkpoint.Tensor, i int) []float64 {
	c := t.Columns()
	return t.Data[i*c : (i+1)*c]
}

// SupportsBeamSearch returns true.
func (m *Model) SupportsBeamSearch() bool { return true }

// Topology returns the model topology.
func (m *Model) Topology() topology.Topology { return m.topology }

// Options returns the checkpoint options.
func (m *Model) Options() *checkpoint.Options { return &m.opts }
