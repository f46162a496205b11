// Copyright 2023 NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package decoder

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/nlpodyssey/beamflow/oracle"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Policy decides what happens to the active beam when hypotheses finish.
type Policy string

const (
	// Shrink selects beam size minus completed candidates at every step, so
	// the active beam gets smaller as hypotheses finish. The beam is
	// terminal once beam size hypotheses are completed.
	Shrink Policy = "shrink"
	// Replenish selects the same candidates as Shrink, then backfills the
	// slots of the end tokens among them with the next best non-final
	// expansions, keeping beam size minus previously completed hypotheses
	// active. End tokens outside the selection never complete.
	Replenish Policy = "replenish"
)

// DecodingOptions contains the options for the ensemble beam search.
type DecodingOptions struct {
	// BeamSize is the maximum number of hypotheses tracked per source item.
	BeamSize int `yaml:"beam_size"`
	// MaxLen is the maximum number of tokens of a hypothesis, end token included.
	MaxLen int `yaml:"max_len"`
	// LPAlpha is the length penalty exponent; 0 disables length normalization.
	LPAlpha float64 `yaml:"lp_alpha"`
	// SuppressUnk forbids the generation of the unknown token.
	SuppressUnk bool `yaml:"suppress_unk"`
	// NBest keeps every completed hypothesis instead of the best one.
	NBest bool `yaml:"n_best"`
	// WaitK, when positive, makes output token t wait for t+WaitK source tokens.
	WaitK int `yaml:"wait_k"`
	// BosTokenID is fed to the models at the first step.
	BosTokenID int `yaml:"bos_token_id"`
	// EndTokenID is the end-of-sequence token.
	EndTokenID int `yaml:"end_token_id"`
	// UnkTokenID is the unknown token.
	UnkTokenID int `yaml:"unk_token_id"`
	// Policy is the beam replenishment policy (default "shrink").
	Policy Policy `yaml:"policy"`
	// Workers is the number of concurrent model queries within a step.
	// Values below 2 query the models sequentially.
	Workers int `yaml:"workers"`
}

// DefaultDecodingOptions returns the default decoding options.
func DefaultDecodingOptions() DecodingOptions {
	return DecodingOptions{
		BeamSize:   12,
		MaxLen:     100,
		BosTokenID: 1,
		EndTokenID: 2,
		UnkTokenID: 3,
		Policy:     Shrink,
		Workers:    1,
	}
}

// Validate checks the options.
func (o DecodingOptions) Validate() error {
	if o.BeamSize < 1 {
		return fmt.Errorf("invalid beam size %d: must be >= 1", o.BeamSize)
	}
	if o.MaxLen < 1 {
		return fmt.Errorf("invalid max length %d: must be >= 1", o.MaxLen)
	}
	if o.WaitK < 0 {
		return fmt.Errorf("invalid wait-k %d: must be >= 0", o.WaitK)
	}
	if math.IsNaN(o.LPAlpha) || math.IsInf(o.LPAlpha, 0) {
		return fmt.Errorf("invalid length penalty alpha %v", o.LPAlpha)
	}
	switch o.Policy {
	case Shrink, Replenish:
	default:
		return fmt.Errorf("invalid policy %q: expected %q or %q", o.Policy, Shrink, Replenish)
	}
	return nil
}

// Hypothesis is a completed output sequence.
type Hypothesis struct {
	// Tokens is the generated sequence, without the end token.
	Tokens []int
	// LogProb is the cumulative log-probability.
	LogProb float64
	// Length is the number of emitted tokens, end token included.
	Length int
	// Score is the length-normalized score used for ranking.
	Score float64
	// Forced reports whether the hypothesis was finished without an end
	// token, because of the length limit or because no expansion was valid.
	Forced bool
}

// Result holds the ranked hypotheses of one source item.
type Result struct {
	// Index is the index of the source item.
	Index int
	// Hypotheses are sorted by descending score. Without n-best only the
	// best one is kept.
	Hypotheses []Hypothesis
}

// Best returns the top-ranked hypothesis.
func (r Result) Best() Hypothesis {
	return r.Hypotheses[0]
}

// Decoder runs the ensemble beam search.
type Decoder struct {
	models       []oracle.Model
	sourceKey    string
	opts         DecodingOptions
	applyControl ScoreControlFunc
	// observe, when set, is called after every write step of a beam.
	observe func(b *beam)
}

// Option configures a Decoder.
type Option func(*Decoder)

// WithSourceKey sets the data key of the source whose length drives wait-k.
func WithSourceKey(key string) Option {
	return func(d *Decoder) {
		d.sourceKey = key
	}
}

// New returns a decoder over the given ensemble. Unless WithSourceKey is
// given, the source length used by wait-k is read from the first source of
// the first model's topology.
func New(models []oracle.Model, opts DecodingOptions, options ...Option) (*Decoder, error) {
	if len(models) == 0 {
		return nil, errors.New("at least one model is required")
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	for i, m := range models {
		if !m.SupportsBeamSearch() {
			return nil, fmt.Errorf("model %d does not support beam search", i)
		}
	}
	d := &Decoder{
		models:       models,
		sourceKey:    models[0].Topology().FirstSource().Key,
		opts:         opts,
		applyControl: ScoreControl(opts),
	}
	for _, o := range options {
		o(d)
	}
	return d, nil
}

// Options returns the decoding options.
func (d *Decoder) Options() DecodingOptions {
	return d.opts
}

// Decode searches every item of the batch until all beams are terminal,
// returning one result per item in batch order.
func (d *Decoder) Decode(ctx context.Context, batch []oracle.Item) ([]Result, error) {
	beams := make([]*beam, len(batch))
	for i, item := range batch {
		b, err := d.newBeam(item)
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", item.Index, err)
		}
		beams[i] = b
	}

	for tick := 0; ; tick++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		var writing []*beam
		done := true
		for _, b := range beams {
			if b.terminal {
				continue
			}
			done = false
			if d.canWrite(b, tick) {
				writing = append(writing, b)
				continue
			}
			log.Trace().Int("item", b.item.Index).Int("tick", tick).Msg("waiting for source tokens")
		}
		if done {
			break
		}
		if len(writing) == 0 {
			continue
		}

		steps, err := d.score(ctx, writing)
		if err != nil {
			return nil, err
		}
		for i, b := range writing {
			if err := d.advance(b, steps[i]); err != nil {
				return nil, fmt.Errorf("item %d: %w", b.item.Index, err)
			}
			if d.observe != nil {
				d.observe(b)
			}
		}
	}

	results := make([]Result, len(beams))
	for i, b := range beams {
		results[i] = d.result(b)
	}
	return results, nil
}

func (d *Decoder) newBeam(item oracle.Item) (*beam, error) {
	states := make([]oracle.State, len(d.models))
	for i, m := range d.models {
		s, err := m.Start(item.Source)
		if err != nil {
			return nil, fmt.Errorf("model %d failed to start: %w", i, err)
		}
		states[i] = s
	}
	return newBeam(item, item.Source.Len(d.sourceKey), d.opts.BosTokenID, states), nil
}

// stepScores holds, for every active hypothesis of a beam, the fused
// log-probabilities and the updated state of each model.
type stepScores struct {
	logProbs [][]float64
	states   [][]oracle.State
}

// score queries every model for every active hypothesis of the given beams.
// Each query writes into its own slot, so the outcome does not depend on
// the order in which concurrent queries complete.
func (d *Decoder) score(ctx context.Context, beams []*beam) ([]stepScores, error) {
	type query struct {
		beam, hyp, model int
	}

	nm := len(d.models)
	raw := make([][][][]float64, len(beams))
	steps := make([]stepScores, len(beams))
	var queries []query
	for bi, b := range beams {
		raw[bi] = make([][][]float64, len(b.active))
		steps[bi].states = make([][]oracle.State, len(b.active))
		for hi := range b.active {
			raw[bi][hi] = make([][]float64, nm)
			steps[bi].states[hi] = make([]oracle.State, nm)
			for mi := 0; mi < nm; mi++ {
				queries = append(queries, query{beam: bi, hyp: hi, model: mi})
			}
		}
	}

	run := func(q query) error {
		b := beams[q.beam]
		h := b.active[q.hyp]
		logProbs, state, err := d.models[q.model].ScoreStep(h.states[q.model], h.lastToken, d.visible(b))
		if err != nil {
			return fmt.Errorf("model %d failed to score item %d: %w", q.model, b.item.Index, err)
		}
		data := logProbs.Data().F64()
		v := make([]float64, len(data))
		copy(v, data)
		raw[q.beam][q.hyp][q.model] = v
		steps[q.beam].states[q.hyp][q.model] = state
		return nil
	}

	if d.opts.Workers < 2 {
		for _, q := range queries {
			if err := run(q); err != nil {
				return nil, err
			}
		}
	} else {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(d.opts.Workers)
		for _, q := range queries {
			q := q
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				return run(q)
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}

	for bi, b := range beams {
		steps[bi].logProbs = make([][]float64, len(b.active))
		for hi := range b.active {
			fused, err := Combine(raw[bi][hi])
			if err != nil {
				return nil, fmt.Errorf("item %d: incompatible model outputs: %w", b.item.Index, err)
			}
			if bad := sanitize(fused); len(bad) > 0 {
				log.Warn().Int("item", b.item.Index).Int("step", b.step).Ints("tokens", bad).
					Msg("invalid scores excluded from selection")
			}
			steps[bi].logProbs[hi] = d.applyControl(fused)
		}
	}
	return steps, nil
}

// advance performs one write step of the beam: expansion, selection,
// completion and termination.
func (d *Decoder) advance(b *beam, s stepScores) error {
	var cands []candidate
	for hi, h := range b.active {
		for tok, lp := range s.logProbs[hi] {
			if math.IsInf(lp, -1) {
				continue
			}
			cands = append(cands, candidate{
				index: len(cands),
				hyp:   hi,
				token: tok,
				score: h.score + lp,
			})
		}
	}

	if len(cands) == 0 {
		log.Warn().Int("item", b.item.Index).Int("step", b.step).Msg("no valid expansion, finishing beam with its best hypothesis")
		b.forceFinish(b.active[0])
		return nil
	}

	// Each active hypothesis has one end token candidate, so want covers
	// room non-final expansions.
	room := d.opts.BeamSize - len(b.completed)
	want := room
	if d.opts.Policy == Replenish {
		want = room + len(b.active)
	}

	next := make([]hypothesis, 0, room)
	for i, c := range selectTop(cands, want) {
		if i >= room && len(next) >= room {
			break
		}
		parent := b.active[c.hyp]
		if c.token == d.opts.EndTokenID {
			if i < room {
				b.complete(parent, c.token, c.score)
			}
			continue
		}
		next = append(next, hypothesis{
			node:      b.arena.push(parent.node, c.token),
			score:     c.score,
			lastToken: c.token,
			states:    s.states[c.hyp],
		})
	}
	b.active = next
	b.step++

	log.Trace().Int("item", b.item.Index).Int("step", b.step).Int("active", len(b.active)).
		Int("completed", len(b.completed)).Msg("beam step")

	switch {
	case len(b.completed) >= d.opts.BeamSize || len(b.active) == 0:
		b.active = nil
		b.terminal = true
	case b.step >= d.opts.MaxLen:
		b.forceFinish(b.active...)
	}
	return nil
}
