// Copyright 2023 NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package beamflow translates held-out data with an ensemble of trained
// models using beam search.
package beamflow

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/nlpodyssey/beamflow/checkpoint"
	"github.com/nlpodyssey/beamflow/dataset"
	"github.com/nlpodyssey/beamflow/decoder"
	"github.com/nlpodyssey/beamflow/filterchain"
	"github.com/nlpodyssey/beamflow/oracle"
	"github.com/nlpodyssey/beamflow/tokenizer"
	"github.com/nlpodyssey/beamflow/topology"
	"github.com/rs/zerolog/log"
)

// Options are the translation options.
type Options struct {
	// Models are the checkpoint files of the ensemble.
	Models []string
	// Splits are the data splits to translate, such as "val" or "test".
	Splits []string
	// Source replaces the input files of the single split, as "key:path,...".
	Source string
	// TaskID restricts the translation to a task, as a direction string.
	TaskID string
	// DisableFilters disables the post-processing filters.
	DisableFilters bool
	// Override is applied to the options of every checkpoint.
	Override []string
	// Output is the prefix of the output files.
	Output string
	// BatchSize is the number of sentences decoded together.
	BatchSize int
	// Decoding are the beam search options. The special token IDs are
	// taken from the target vocabulary.
	Decoding decoder.DecodingOptions
	// Recorder, if not nil, receives a summary of every translated split.
	Recorder Recorder
	// Metrics, if not nil, collects throughput metrics.
	Metrics *Metrics
}

// Summary describes the translation of one split.
type Summary struct {
	Split     string
	Output    string
	Models    []string
	Sentences int
	Duration  time.Duration
	Decoding  decoder.DecodingOptions
}

// Recorder keeps track of completed translations.
type Recorder interface {
	Record(ctx context.Context, s Summary) error
}

// Candidate is a decoded sentence with its final score.
type Candidate struct {
	Text   string
	Score  float64
	Forced bool
}

// Translation holds the ranked candidates of one source sentence.
type Translation struct {
	Index      int
	Candidates []Candidate
}

// Best returns the top-ranked candidate.
func (t Translation) Best() Candidate {
	return t.Candidates[0]
}

// Translator is the core struct of the library.
type Translator struct {
	opts      Options
	instances []oracle.Model
	// topology is the task, or the topology of the first instance.
	topology  topology.Topology
	filter    *filterchain.Chain
	srcVocabs map[string]*tokenizer.WordTokenizer
	trgVocab  *tokenizer.WordTokenizer
	decoder   *decoder.Decoder
	metrics   *Metrics
}

// New loads every checkpoint and sets up the translator.
func New(opts Options) (*Translator, error) {
	log.Info().
		Strs("models", opts.Models).
		Strs("splits", opts.Splits).
		Str("source", opts.Source).
		Str("task_id", opts.TaskID).
		Strs("override", opts.Override).
		Str("output", opts.Output).
		Int("batch_size", opts.BatchSize).
		Bool("disable_filters", opts.DisableFilters).
		Interface("decoding", opts.Decoding).
		Msg("translator options")

	instances := make([]oracle.Model, 0, len(opts.Models))
	for _, fn := range opts.Models {
		m, err := loadModel(fn, opts.Override)
		if err != nil {
			return nil, err
		}
		instances = append(instances, m)
	}
	return NewFromModels(instances, opts)
}

func loadModel(filename string, override []string) (oracle.Model, error) {
	c, err := checkpoint.Load(filename)
	if err != nil {
		return nil, err
	}
	if err := c.Options.Override(override); err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	m, err := oracle.New(c)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	if !m.SupportsBeamSearch() {
		return nil, configError(CheckCapability, ErrNoBeamSearch, "%s (model type %q)", filename, c.Options.ModelType())
	}
	log.Debug().Str("file", filename).Str("type", c.Options.ModelType()).Str("direction", c.Options.Direction()).Msg("model loaded")
	return m, nil
}

// NewFromModels sets up the translator over already built models.
func NewFromModels(instances []oracle.Model, opts Options) (*Translator, error) {
	if len(instances) == 0 {
		return nil, errors.New("at least one model is required")
	}
	for i, m := range instances {
		if !m.SupportsBeamSearch() {
			return nil, configError(CheckCapability, ErrNoBeamSearch, "model %d", i)
		}
	}
	task, err := sanityCheck(instances, opts)
	if err != nil {
		return nil, err
	}

	t := &Translator{
		opts:      opts,
		instances: instances,
		topology:  instances[0].Topology(),
		filter:    filterchain.Identity(),
		metrics:   opts.Metrics,
	}
	if task != nil {
		t.topology = *task
	}
	if t.metrics == nil {
		t.metrics = NewMetrics()
	}

	evalFilters := instances[0].Options().EvalFilters()
	if opts.DisableFilters || evalFilters == "" {
		log.Info().Msg("Post-processing filters disabled.")
	} else {
		if t.filter, err = filterchain.New(evalFilters); err != nil {
			return nil, err
		}
		log.Info().Str("filters", t.filter.String()).Msg("Post-processing filters enabled.")
	}

	if opts.Source != "" {
		if err := t.overrideSource(); err != nil {
			return nil, err
		}
	}

	if err := t.loadVocabularies(); err != nil {
		return nil, err
	}

	dopts := opts.Decoding
	sp := t.trgVocab.SpecialTokens()
	dopts.BosTokenID, dopts.EndTokenID, dopts.UnkTokenID = sp.Bos, sp.Eos, sp.Unk
	t.decoder, err = decoder.New(instances, dopts, decoder.WithSourceKey(t.topology.FirstSource().Key))
	if err != nil {
		return nil, err
	}
	return t, nil
}

// sanityCheck validates the ensemble against the options, returning the
// parsed task, if any.
func sanityCheck(instances []oracle.Model, opts Options) (*topology.Topology, error) {
	if opts.Source != "" && len(opts.Splits) > 1 {
		return nil, configError(CheckSplits, ErrSplitCount, "%d splits given", len(opts.Splits))
	}

	filters := instances[0].Options().EvalFilters()
	for i, m := range instances[1:] {
		if f := m.Options().EvalFilters(); f != filters {
			return nil, configError(CheckFilters, ErrFilterMismatch, "model 0 has %q, model %d has %q", filters, i+1, f)
		}
	}

	if len(instances) > 1 {
		log.Warn().Msg("Make sure you ensemble models with compatible vocabularies.")
	}

	if opts.TaskID == "" {
		return nil, nil
	}
	task, err := topology.Parse(opts.TaskID)
	if err != nil {
		return nil, configError(CheckTopology, err, "")
	}
	for i, m := range instances {
		if !task.IsIncludedIn(m.Topology()) {
			return nil, configError(CheckTopology, ErrTopology, "model %d (%s) cannot perform %s", i, m.Topology(), task)
		}
	}
	return &task, nil
}

// overrideSource rewrites the data set of the single split of the first
// instance with the ad-hoc input files.
func (t *Translator) overrideSource() error {
	if len(t.opts.Splits) == 0 {
		return configError(CheckSplits, ErrSplitCount, "no split given")
	}
	set := t.instances[0].Options().SplitSet(t.opts.Splits[0])
	log.Info().Msg("Input configuration:")
	for _, entry := range strings.Split(t.opts.Source, ",") {
		key, path, ok := strings.Cut(entry, ":")
		if !ok || key == "" || path == "" {
			return fmt.Errorf("invalid source %q: expected key:path", entry)
		}
		set[key] = path
		log.Info().Msgf(" %s: %s", key, path)
	}
	return nil
}

func (t *Translator) loadVocabularies() error {
	opts := t.instances[0].Options()
	var keys []string
	for _, src := range t.topology.Sources {
		if src.Kind == "Text" {
			keys = append(keys, src.Key)
		}
	}
	var err error
	if t.srcVocabs, err = dataset.Vocabularies(opts, keys...); err != nil {
		return err
	}
	trg, err := dataset.Vocabularies(opts, t.topology.FirstTarget().Key)
	if err != nil {
		return err
	}
	t.trgVocab = trg[t.topology.FirstTarget().Key]
	return nil
}

// Options returns the translator options, with the effective decoding options.
func (t *Translator) Options() Options {
	o := t.opts
	o.Decoding = t.decoder.Options()
	return o
}

// Metrics returns the throughput metrics.
func (t *Translator) Metrics() *Metrics {
	return t.metrics
}

// Filter returns the post-processing filter chain.
func (t *Translator) Filter() *filterchain.Chain {
	return t.filter
}

// Translate decodes every sentence of the split. The candidate texts are
// not post-processed.
func (t *Translator) Translate(ctx context.Context, split string) ([]Translation, error) {
	loader, err := dataset.Load(dataset.Config{
		Options:      t.instances[0].Options(),
		Topology:     t.topology,
		Split:        split,
		BatchSize:    t.opts.BatchSize,
		Vocabularies: t.srcVocabs,
	})
	if err != nil {
		return nil, err
	}

	log.Info().Str("split", split).Int("sentences", loader.Len()).Msg("Starting translation")
	start := time.Now()
	out := make([]Translation, 0, loader.Len())
	for i, batch := range loader.Batches() {
		tr, err := t.decodeBatch(ctx, split, batch)
		if err != nil {
			return nil, fmt.Errorf("split %q, batch %d: %w", split, i, err)
		}
		out = append(out, tr...)
		log.Debug().Str("split", split).Int("batch", i).Int("done", len(out)).Msg("batch decoded")
	}

	elapsed := time.Since(start)
	var perSecond float64
	if s := elapsed.Seconds(); s > 0 {
		perSecond = math.Floor(float64(len(out)) / s)
	}
	t.metrics.observeSplit(split, elapsed, perSecond)
	log.Info().Msgf("Took %.3f seconds, %d sent/sec", elapsed.Seconds(), int64(perSecond))
	return out, nil
}

// TranslateText decodes the given sentences of the first source. The
// candidate texts are post-processed.
func (t *Translator) TranslateText(ctx context.Context, sentences []string) ([]Translation, error) {
	if len(t.topology.Sources) != 1 {
		return nil, fmt.Errorf("text input requires a single source, the task has %d", len(t.topology.Sources))
	}
	key := t.topology.FirstSource().Key
	items, err := dataset.NewItems(map[string][]string{key: sentences}, t.srcVocabs)
	if err != nil {
		return nil, err
	}
	out, err := t.decodeBatch(ctx, "", items)
	if err != nil {
		return nil, err
	}
	for i := range out {
		for j := range out[i].Candidates {
			out[i].Candidates[j].Text = t.filter.ApplyOne(out[i].Candidates[j].Text)
		}
	}
	return out, nil
}

func (t *Translator) decodeBatch(ctx context.Context, split string, batch []oracle.Item) ([]Translation, error) {
	start := time.Now()
	results, err := t.decoder.Decode(ctx, batch)
	if err != nil {
		return nil, err
	}
	out := make([]Translation, len(results))
	forced := 0
	for i, r := range results {
		if r.Best().Forced {
			forced++
		}
		out[i] = Translation{Index: r.Index, Candidates: make([]Candidate, len(r.Hypotheses))}
		for j, h := range r.Hypotheses {
			text, err := t.trgVocab.ReconstructText(h.Tokens)
			if err != nil {
				return nil, fmt.Errorf("sentence %d: %w", r.Index, err)
			}
			out[i].Candidates[j] = Candidate{Text: text, Score: h.Score, Forced: h.Forced}
		}
	}
	t.metrics.observeBatch(split, len(batch), forced, time.Since(start))
	return out, nil
}

// Run translates every split and writes the results to the output files.
func (t *Translator) Run(ctx context.Context) error {
	log.Info().Strs("splits", t.opts.Splits).Msg("Will translate")
	for _, split := range t.opts.Splits {
		start := time.Now()
		tr, err := t.Translate(ctx, split)
		if err != nil {
			return err
		}
		fn, err := t.Dump(tr, split)
		if err != nil {
			return err
		}
		log.Info().Str("split", split).Str("file", fn).Msg("Hypotheses written")

		if t.opts.Recorder == nil {
			continue
		}
		err = t.opts.Recorder.Record(ctx, Summary{
			Split:     split,
			Output:    fn,
			Models:    t.opts.Models,
			Sentences: len(tr),
			Duration:  time.Since(start),
			Decoding:  t.decoder.Options(),
		})
		if err != nil {
			log.Warn().Err(err).Str("split", split).Msg("failed to record the run")
		}
	}
	return nil
}
