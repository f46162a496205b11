// Copyright 2023 NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package bow

import (
	"math"
	"testing"

	"github.com/nlpodyssey/beamflow/checkpoint"
	"github.com/nlpodyssey/beamflow/oracle"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
)

func newCheckpoint() *checkpoint.Checkpoint {
	opts := checkpoint.NewOptions()
	opts.Train["model_type"] = ModelType
	opts.Model["direction"] = "src:Text -> trg:Text"
	return &checkpoint.Checkpoint{
		Options: opts,
		Weights: map[string]checkpoint.Tensor{
			SourceEmbeddings: {Shape: []int{2, 2}, Data: []float64{1, 0, 0, 1}},
			TargetEmbeddings: {Shape: []int{3, 2}, Data: make([]float64, 6)},
			OutputWeight:     {Shape: []int{3, 2}, Data: []float64{1, 0, 0, 1, 0, 0}},
			OutputBias:       {Shape: []int{3}, Data: []float64{0, 0, 0.5}},
		},
	}
}

func TestScoreStep(t *testing.T) {
	m, err := oracle.New(newCheckpoint())
	require.NoError(t, err)

	s, err := m.Start(oracle.Source{"src": {0, 1, 1}})
	require.NoError(t, err)

	lp, next, err := m.ScoreStep(s, 0, 1)
	require.NoError(t, err)
	assert.Equal(t, s, next)

	logits := []float64{math.Tanh(1), 0, 0.5}
	floats.AddConst(-floats.LogSumExp(logits), logits)
	assert.InDeltaSlice(t, logits, lp.Data().F64(), 1e-12)

	lp, _, err = m.ScoreStep(s, 0, 3)
	require.NoError(t, err)
	logits = []float64{math.Tanh(1.0 / 3), math.Tanh(2.0 / 3), 0.5}
	floats.AddConst(-floats.LogSumExp(logits), logits)
	assert.InDeltaSlice(t, logits, lp.Data().F64(), 1e-12)
	assert.InDelta(t, 0, floats.LogSumExp(lp.Data().F64()), 1e-12)
}

func TestNewShapeMismatch(t *testing.T) {
	c := newCheckpoint()
	c.Weights[OutputBias] = checkpoint.Tensor{Shape: []int{4}, Data: make([]float64, 4)}
	_, err := New(c)
	assert.Error(t, err)

	c = newCheckpoint()
	c.Options.Model["direction"] = "src:Text"
	_, err = New(c)
	assert.Error(t, err)
}
