// Copyright 2023 NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package decoder

import (
	"context"
	"math"
	"sync"
	"testing"

	"github.com/nlpodyssey/beamflow/checkpoint"
	"github.com/nlpodyssey/beamflow/oracle"
	"github.com/nlpodyssey/beamflow/topology"
	"github.com/nlpodyssey/spago/mat"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	tokA = 4
	tokB = 5
)

// scoreFunc returns the next-token log-probabilities given the emitted prefix.
type scoreFunc func(prefix []int, visible int) []float64

type fakeModel struct {
	score   scoreFunc
	noBeam  bool
	mu      sync.Mutex
	visible map[int][]int
}

func newFakeModel(f scoreFunc) *fakeModel {
	return &fakeModel{score: f, visible: map[int][]int{}}
}

func (m *fakeModel) Start(oracle.Source) (oracle.State, error) {
	return nil, nil
}

// ScoreStep keeps the emitted tokens as state. The first call receives the
// start token, which is not part of the output.
func (m *fakeModel) ScoreStep(state oracle.State, lastToken int, visible int) (mat.Matrix, oracle.State, error) {
	prev, started := state.([]int)
	tokens := make([]int, len(prev), len(prev)+1)
	copy(tokens, prev)
	if started {
		tokens = append(tokens, lastToken)
	}

	m.mu.Lock()
	m.visible[len(tokens)] = append(m.visible[len(tokens)], visible)
	m.mu.Unlock()

	return mat.NewVecDense[float64](m.score(tokens, visible)), tokens, nil
}

func (m *fakeModel) SupportsBeamSearch() bool { return !m.noBeam }

func (m *fakeModel) Topology() topology.Topology {
	return topology.MustParse("src:Text -> trg:Text")
}

func (m *fakeModel) Options() *checkpoint.Options {
	o := checkpoint.NewOptions()
	return &o
}

// logs converts probabilities over a vocabulary of six tokens to
// log-probabilities. Missing probabilities are zero.
func logs(p map[int]float64) []float64 {
	out := make([]float64, 6)
	for i := range out {
		out[i] = math.Log(p[i])
	}
	return out
}

func testOptions() DecodingOptions {
	opts := DefaultDecodingOptions()
	opts.MaxLen = 5
	return opts
}

func item(index int, src ...int) oracle.Item {
	return oracle.Item{Index: index, Source: oracle.Source{"src": src}}
}

func decode(t *testing.T, models []oracle.Model, opts DecodingOptions, batch ...oracle.Item) []Result {
	t.Helper()
	d, err := New(models, opts)
	require.NoError(t, err)
	results, err := d.Decode(context.Background(), batch)
	require.NoError(t, err)
	require.Len(t, results, len(batch))
	return results
}

func TestGreedy(t *testing.T) {
	m := newFakeModel(func(prefix []int, _ int) []float64 {
		if len(prefix) < 2 {
			return logs(map[int]float64{2: .1, 3: .2, tokA: .7})
		}
		return logs(map[int]float64{2: .9, 3: .05, tokA: .05})
	})
	opts := testOptions()
	opts.BeamSize = 1

	results := decode(t, []oracle.Model{m}, opts, item(0, 7, 8))
	best := results[0].Best()
	assert.Equal(t, []int{tokA, tokA}, best.Tokens)
	assert.Equal(t, 3, best.Length)
	assert.False(t, best.Forced)
	assert.InDelta(t, 2*math.Log(.7)+math.Log(.9), best.LogProb, 1e-12)
}

func TestGreedyToyVocabulary(t *testing.T) {
	const (
		bos = iota
		eos
		x
		y
	)
	// table[prev] holds the next-token probabilities over {bos, eos, x, y}.
	table := [4][4]float64{
		bos: {0, .1, .6, .3},
		x:   {0, .3, .2, .5},
		y:   {0, .7, .2, .1},
	}
	m := newFakeModel(func(prefix []int, _ int) []float64 {
		prev := bos
		if len(prefix) > 0 {
			prev = prefix[len(prefix)-1]
		}
		out := make([]float64, 4)
		for i, p := range table[prev] {
			out[i] = math.Log(p)
		}
		return out
	})
	opts := DefaultDecodingOptions()
	opts.BeamSize = 1
	opts.MaxLen = 5
	opts.BosTokenID, opts.EndTokenID, opts.UnkTokenID = bos, eos, y

	best := decode(t, []oracle.Model{m}, opts, item(0, 2, 3))[0].Best()
	assert.Equal(t, []int{x, y}, best.Tokens)
	assert.Equal(t, 3, best.Length)
	assert.False(t, best.Forced)
	assert.Equal(t, math.Log(.6)+math.Log(.5)+math.Log(.7), best.LogProb)
	assert.Equal(t, best.LogProb, best.Score)
}

func TestEnsembleMean(t *testing.T) {
	first := func(p map[int]float64) scoreFunc {
		return func(prefix []int, _ int) []float64 {
			if len(prefix) == 0 {
				return logs(p)
			}
			return logs(map[int]float64{2: 1})
		}
	}
	m1 := newFakeModel(first(map[int]float64{tokA: .9, tokB: .05, 2: .05}))
	m2 := newFakeModel(first(map[int]float64{tokA: .01, tokB: .5, 2: .49}))

	opts := testOptions()
	opts.BeamSize = 1
	results := decode(t, []oracle.Model{m1, m2}, opts, item(0, 7))

	// the mean of the log-probabilities favours b, the mean of the
	// probabilities would favour a
	best := results[0].Best()
	assert.Equal(t, []int{tokB}, best.Tokens)
	assert.InDelta(t, (math.Log(.05)+math.Log(.5))/2, best.LogProb, 1e-12)
}

func TestWaitK(t *testing.T) {
	m := newFakeModel(func(prefix []int, _ int) []float64 {
		if len(prefix) < 3 {
			return logs(map[int]float64{tokA: .8, 2: .2})
		}
		return logs(map[int]float64{2: 1})
	})
	opts := testOptions()
	opts.BeamSize = 1
	opts.WaitK = 2

	it := item(0, 7, 8, 9)
	it.Schedule = []int{1, 2, 3}

	d, err := New([]oracle.Model{m}, opts)
	require.NoError(t, err)

	b, err := d.newBeam(it)
	require.NoError(t, err)
	assert.False(t, d.canWrite(b, 0))
	assert.True(t, d.canWrite(b, 1))
	assert.Equal(t, 2, d.visible(b))

	results, err := d.Decode(context.Background(), []oracle.Item{it})
	require.NoError(t, err)
	assert.Equal(t, []int{tokA, tokA, tokA}, results[0].Best().Tokens)

	assert.Equal(t, map[int][]int{0: {2}, 1: {3}, 2: {3}, 3: {3}}, m.visible)
}

func TestWaitKDisabledSeesWholeSource(t *testing.T) {
	m := newFakeModel(func(prefix []int, _ int) []float64 {
		if len(prefix) < 1 {
			return logs(map[int]float64{tokA: .8, 2: .2})
		}
		return logs(map[int]float64{2: 1})
	})
	opts := testOptions()
	opts.BeamSize = 1

	it := item(0, 7, 8, 9)
	it.Schedule = []int{0, 0, 0}
	decode(t, []oracle.Model{m}, opts, it)
	assert.Equal(t, map[int][]int{0: {3}, 1: {3}}, m.visible)
}

func TestSuppressUnk(t *testing.T) {
	m := newFakeModel(func(prefix []int, _ int) []float64 {
		if len(prefix) == 0 {
			return logs(map[int]float64{3: .6, tokA: .3, 2: .1})
		}
		return logs(map[int]float64{2: .5, 3: .5})
	})
	opts := testOptions()
	opts.NBest = true
	opts.BeamSize = 4

	results := decode(t, []oracle.Model{m}, opts, item(0, 7))
	assert.Equal(t, []int{3}, results[0].Best().Tokens)

	opts.SuppressUnk = true
	results = decode(t, []oracle.Model{m}, opts, item(0, 7))
	require.NotEmpty(t, results[0].Hypotheses)
	for _, h := range results[0].Hypotheses {
		assert.NotContains(t, h.Tokens, 3)
	}
	assert.Equal(t, []int{tokA}, results[0].Best().Tokens)
}

func uniformNoEnd(_ []int, _ int) []float64 {
	return logs(map[int]float64{0: .1, 1: .1, 3: .2, tokA: .3, tokB: .3})
}

func TestBeamBound(t *testing.T) {
	for _, policy := range []Policy{Shrink, Replenish} {
		t.Run(string(policy), func(t *testing.T) {
			m := newFakeModel(func(prefix []int, _ int) []float64 {
				return logs(map[int]float64{2: .25, 3: .25, tokA: .25, tokB: .25})
			})
			opts := testOptions()
			opts.BeamSize = 3
			opts.NBest = true
			opts.Policy = policy

			d, err := New([]oracle.Model{m}, opts)
			require.NoError(t, err)
			steps := 0
			d.observe = func(b *beam) {
				steps++
				assert.LessOrEqual(t, len(b.active), opts.BeamSize)
				if policy == Shrink {
					assert.LessOrEqual(t, len(b.active)+len(b.completed), opts.BeamSize)
				}
			}
			results, err := d.Decode(context.Background(), []oracle.Item{item(0, 7)})
			require.NoError(t, err)
			assert.NotZero(t, steps)
			assert.LessOrEqual(t, len(results[0].Hypotheses), opts.BeamSize)
		})
	}
}

func TestCompletionGuarantee(t *testing.T) {
	m := newFakeModel(uniformNoEnd)
	opts := testOptions()
	opts.BeamSize = 3
	opts.NBest = true

	results := decode(t, []oracle.Model{m}, opts, item(0, 7), item(1, 8, 9))
	for _, r := range results {
		require.NotEmpty(t, r.Hypotheses)
		for _, h := range r.Hypotheses {
			assert.True(t, h.Forced)
			assert.Equal(t, opts.MaxLen, h.Length)
			assert.Len(t, h.Tokens, opts.MaxLen)
		}
	}
	assert.Equal(t, 0, results[0].Index)
	assert.Equal(t, 1, results[1].Index)
}

func TestDeterminism(t *testing.T) {
	newModels := func() []oracle.Model {
		return []oracle.Model{
			newFakeModel(func(prefix []int, visible int) []float64 {
				if len(prefix) > 2+visible%2 {
					return logs(map[int]float64{2: .7, tokA: .3})
				}
				return logs(map[int]float64{2: .1, 3: .2, tokA: .35, tokB: .35})
			}),
			newFakeModel(uniformNoEnd),
		}
	}
	opts := testOptions()
	opts.BeamSize = 4
	opts.NBest = true
	opts.LPAlpha = 0.6
	batch := []oracle.Item{item(0, 7), item(1, 7, 8), item(2, 7, 8, 9)}

	sequential := decode(t, newModels(), opts, batch...)
	for i := 0; i < 3; i++ {
		assert.Equal(t, sequential, decode(t, newModels(), opts, batch...))
	}
	opts.Workers = 4
	for i := 0; i < 3; i++ {
		assert.Equal(t, sequential, decode(t, newModels(), opts, batch...))
	}
}

func TestAlphaZeroIdentity(t *testing.T) {
	m := newFakeModel(func(prefix []int, _ int) []float64 {
		return logs(map[int]float64{2: .3, tokA: .4, tokB: .3})
	})
	opts := testOptions()
	opts.BeamSize = 5
	opts.NBest = true

	results := decode(t, []oracle.Model{m}, opts, item(0, 7))
	require.NotEmpty(t, results[0].Hypotheses)
	for _, h := range results[0].Hypotheses {
		assert.Equal(t, h.LogProb, h.Score)
	}
	assert.Equal(t, -3.25, NormalizedScore(-3.25, 7, 0))
	assert.Equal(t, -2.0, NormalizedScore(-4, 4, 0.5))
	assert.Equal(t, -4.0, NormalizedScore(-4, 0, 1))
}

func TestNBestOrdering(t *testing.T) {
	m := newFakeModel(func(prefix []int, _ int) []float64 {
		if len(prefix) == 0 {
			return logs(map[int]float64{2: .2, tokA: .5, tokB: .3})
		}
		return logs(map[int]float64{2: .6, tokA: .3, tokB: .1})
	})
	opts := testOptions()
	opts.BeamSize = 4
	opts.LPAlpha = 1
	opts.NBest = true

	nbest := decode(t, []oracle.Model{m}, opts, item(0, 7))[0]
	require.Len(t, nbest.Hypotheses, opts.BeamSize)
	for i := 1; i < len(nbest.Hypotheses); i++ {
		assert.GreaterOrEqual(t, nbest.Hypotheses[i-1].Score, nbest.Hypotheses[i].Score)
	}

	opts.NBest = false
	single := decode(t, []oracle.Model{m}, opts, item(0, 7))[0]
	require.Len(t, single.Hypotheses, 1)
	assert.Equal(t, nbest.Best(), single.Best())
}

func TestPolicies(t *testing.T) {
	score := func(prefix []int, _ int) []float64 {
		if len(prefix) == 0 {
			return logs(map[int]float64{2: .5, tokA: .3, tokB: .2})
		}
		return logs(map[int]float64{2: 1})
	}
	active := map[Policy]int{}
	results := map[Policy]Result{}
	for _, policy := range []Policy{Shrink, Replenish} {
		opts := testOptions()
		opts.BeamSize = 2
		opts.NBest = true
		opts.Policy = policy

		d, err := New([]oracle.Model{newFakeModel(score)}, opts)
		require.NoError(t, err)
		d.observe = func(b *beam) {
			if b.step == 1 {
				active[policy] = len(b.active)
			}
		}
		res, err := d.Decode(context.Background(), []oracle.Item{item(0, 7)})
		require.NoError(t, err)
		results[policy] = res[0]
	}

	assert.Equal(t, 1, active[Shrink])
	assert.Equal(t, 2, active[Replenish])

	for _, policy := range []Policy{Shrink, Replenish} {
		hyps := results[policy].Hypotheses
		require.Len(t, hyps, 2, policy)
		assert.Empty(t, hyps[0].Tokens)
		assert.Equal(t, []int{tokA}, hyps[1].Tokens)
	}
}

func TestReplenishSkipsEndBelowSelection(t *testing.T) {
	score := func(prefix []int, _ int) []float64 {
		if len(prefix) == 0 {
			return logs(map[int]float64{tokA: .4, tokB: .35, 2: .25})
		}
		return logs(map[int]float64{2: 1})
	}
	for _, policy := range []Policy{Shrink, Replenish} {
		t.Run(string(policy), func(t *testing.T) {
			opts := testOptions()
			opts.BeamSize = 2
			opts.NBest = true
			opts.Policy = policy

			d, err := New([]oracle.Model{newFakeModel(score)}, opts)
			require.NoError(t, err)
			d.observe = func(b *beam) {
				if b.step == 1 {
					assert.Empty(t, b.completed)
					assert.Len(t, b.active, 2)
				}
			}
			res, err := d.Decode(context.Background(), []oracle.Item{item(0, 7)})
			require.NoError(t, err)

			hyps := res[0].Hypotheses
			require.Len(t, hyps, 2)
			assert.Equal(t, []int{tokA}, hyps[0].Tokens)
			assert.Equal(t, []int{tokB}, hyps[1].Tokens)
		})
	}
}

func TestSelectionBound(t *testing.T) {
	for _, policy := range []Policy{Shrink, Replenish} {
		t.Run(string(policy), func(t *testing.T) {
			m := newFakeModel(func(prefix []int, _ int) []float64 {
				return logs(map[int]float64{2: .3, 3: .1, tokA: .35, tokB: .25})
			})
			opts := testOptions()
			opts.BeamSize = 3
			opts.NBest = true
			opts.Policy = policy

			d, err := New([]oracle.Model{m}, opts)
			require.NoError(t, err)
			prevCompleted := 0
			d.observe = func(b *beam) {
				room := opts.BeamSize - prevCompleted
				added := 0
				for _, f := range b.completed[prevCompleted:] {
					if !f.forced {
						added++
					}
				}
				assert.LessOrEqual(t, added, room)
				if !b.terminal {
					assert.LessOrEqual(t, len(b.active), room)
				}
				if policy == Shrink {
					assert.LessOrEqual(t, added+len(b.active), room)
				}
				prevCompleted = len(b.completed)
			}
			_, err = d.Decode(context.Background(), []oracle.Item{item(0, 7)})
			require.NoError(t, err)
		})
	}
}

func TestInvalidScores(t *testing.T) {
	m := newFakeModel(func(prefix []int, _ int) []float64 {
		out := logs(map[int]float64{2: .1})
		out[tokA] = math.NaN()
		out[tokB] = math.Inf(1)
		return out
	})
	opts := testOptions()
	opts.NBest = true

	res := decode(t, []oracle.Model{m}, opts, item(0, 7))[0]
	require.Len(t, res.Hypotheses, 1)
	assert.Empty(t, res.Best().Tokens)
	assert.False(t, res.Best().Forced)
	assert.InDelta(t, math.Log(.1), res.Best().LogProb, 1e-12)
}

func TestNoEligibleCandidate(t *testing.T) {
	m := newFakeModel(func(prefix []int, _ int) []float64 {
		if len(prefix) == 0 {
			return logs(map[int]float64{tokA: .6, tokB: .4})
		}
		return logs(map[int]float64{})
	})
	opts := testOptions()
	opts.BeamSize = 2
	opts.NBest = true

	res := decode(t, []oracle.Model{m}, opts, item(0, 7))[0]
	require.Len(t, res.Hypotheses, 1)
	assert.True(t, res.Best().Forced)
	assert.Equal(t, []int{tokA}, res.Best().Tokens)
}

func TestCombine(t *testing.T) {
	got, err := Combine([][]float64{{-1, -2}, {-3, -4}})
	require.NoError(t, err)
	assert.Equal(t, []float64{-2, -3}, got)

	_, err = Combine(nil)
	assert.Error(t, err)
	_, err = Combine([][]float64{{-1}, {-1, -2}})
	assert.Error(t, err)

	single := []float64{-0.5, -1.5}
	got, err = Combine([][]float64{single})
	require.NoError(t, err)
	assert.Equal(t, single, got)
	got[0] = 0
	assert.Equal(t, -0.5, single[0])
}

func TestCombineOrderIndependence(t *testing.T) {
	a := []float64{1e16, -0.1, -3}
	b := []float64{1, -0.2, math.Inf(-1)}
	c := []float64{-1e16, -0.3, -7}
	perms := [][][]float64{
		{a, b, c}, {a, c, b}, {b, a, c}, {b, c, a}, {c, a, b}, {c, b, a},
	}
	want, err := Combine(perms[0])
	require.NoError(t, err)
	for _, p := range perms[1:] {
		got, err := Combine(p)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	assert.True(t, math.IsInf(want[2], -1))
}

func TestSelectTopTieBreak(t *testing.T) {
	cands := []candidate{
		{index: 0, hyp: 0, token: 0, score: -1},
		{index: 1, hyp: 0, token: 1, score: -2},
		{index: 2, hyp: 0, token: 2, score: -1},
		{index: 3, hyp: 1, token: 0, score: -0.5},
		{index: 4, hyp: 1, token: 1, score: -1},
	}
	got := selectTop(cands, 3)
	assert.Equal(t, []int{3, 0, 2}, indices(got))

	assert.Equal(t, []int{3, 0, 2, 4, 1}, indices(selectTop(cands, 10)))
	assert.Empty(t, selectTop(cands, 0))
}

func indices(cs []candidate) []int {
	out := make([]int, len(cs))
	for i, c := range cs {
		out[i] = c.index
	}
	return out
}

func TestNewErrors(t *testing.T) {
	_, err := New(nil, DefaultDecodingOptions())
	assert.Error(t, err)

	m := newFakeModel(uniformNoEnd)
	m.noBeam = true
	_, err = New([]oracle.Model{m}, DefaultDecodingOptions())
	assert.Error(t, err)

	for _, mutate := range []func(*DecodingOptions){
		func(o *DecodingOptions) { o.BeamSize = 0 },
		func(o *DecodingOptions) { o.MaxLen = 0 },
		func(o *DecodingOptions) { o.WaitK = -1 },
		func(o *DecodingOptions) { o.Policy = "grow" },
		func(o *DecodingOptions) { o.LPAlpha = math.NaN() },
	} {
		opts := DefaultDecodingOptions()
		mutate(&opts)
		assert.Error(t, opts.Validate())
	}
}

func TestDecodeCanceled(t *testing.T) {
	d, err := New([]oracle.Model{newFakeModel(uniformNoEnd)}, testOptions())
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = d.Decode(ctx, []oracle.Item{item(0, 7)})
	assert.ErrorIs(t, err, context.Canceled)
}
