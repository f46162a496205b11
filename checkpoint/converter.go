// Copyright 2023 NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package checkpoint

import (
	"fmt"
	"os"
	"sort"

	"github.com/nlpodyssey/gopickle/pytorch"
	"github.com/nlpodyssey/gopickle/types"
	"github.com/rs/zerolog/log"
)

// ConverterConfig configures ConvertPyTorch.
type ConverterConfig struct {
	// InFilename is the PyTorch checkpoint to read.
	InFilename string
	// OutFilename is the checkpoint to write.
	OutFilename string
	// OverwriteIfExist overwrites OutFilename if it already exists (default "false").
	OverwriteIfExist bool
	// Override is applied to the imported options before writing.
	Override []string
}

// ConvertPyTorch converts a PyTorch checkpoint, a pickled dictionary with
// the keys "model" (the state dict), "opts" (option sections) and an
// optional "history", into the native format.
func ConvertPyTorch(config ConverterConfig) error {
	if !config.OverwriteIfExist && fileExists(config.OutFilename) {
		log.Debug().Str("checkpoint", config.OutFilename).Msg("Checkpoint already exists, skipping conversion")
		return nil
	}

	torchData, err := pytorch.Load(config.InFilename)
	if err != nil {
		return fmt.Errorf("failed to load torch checkpoint %q: %w", config.InFilename, err)
	}

	c, err := fromTorch(torchData)
	if err != nil {
		return fmt.Errorf("checkpoint conversion failed: %w", err)
	}
	if err = c.Options.Override(config.Override); err != nil {
		return err
	}

	log.Debug().Int("weights", len(c.Weights)).Str("model_type", c.Options.ModelType()).Msg("Writing converted checkpoint")
	return Dump(c, config.OutFilename)
}

func fileExists(name string) bool {
	info, err := os.Stat(name)
	return err == nil && !info.IsDir()
}

func fromTorch(torchData any) (*Checkpoint, error) {
	top, err := cast[*types.Dict](torchData)
	if err != nil {
		return nil, fmt.Errorf("unexpected checkpoint root: %w", err)
	}

	stateDict, ok := top.Get("model")
	if !ok {
		return nil, fmt.Errorf("checkpoint has no \"model\" entry")
	}
	weights, err := makeWeights(stateDict)
	if err != nil {
		return nil, fmt.Errorf("failed to read model params: %w", err)
	}

	c := &Checkpoint{
		Options: NewOptions(),
		Weights: weights,
		History: map[string]float64{},
	}

	if opts, ok := top.Get("opts"); ok {
		if err = readOptions(opts, &c.Options); err != nil {
			return nil, fmt.Errorf("failed to read options: %w", err)
		}
	}
	if history, ok := top.Get("history"); ok {
		readHistory(history, c.History)
	}
	return c, nil
}

func makeWeights(stateDict any) (map[string]Tensor, error) {
	od, err := cast[*types.OrderedDict](stateDict)
	if err != nil {
		return nil, err
	}

	weights := make(map[string]Tensor, od.Len())
	for k, item := range od.Map {
		name, err := cast[string](k)
		if err != nil {
			return nil, fmt.Errorf("wrong param name type: %w", err)
		}
		tensor, err := cast[*pytorch.Tensor](item.Value)
		if err != nil {
			return nil, fmt.Errorf("wrong value type for param %q: %w", name, err)
		}
		data, err := tensorData(tensor)
		if err != nil {
			return nil, fmt.Errorf("param %q: %w", name, err)
		}
		shape := make([]int, len(tensor.Size))
		copy(shape, tensor.Size)
		weights[name] = Tensor{Shape: shape, Data: data}
	}
	return weights, nil
}

func tensorData(t *pytorch.Tensor) ([]float64, error) {
	size := tensorDataSize(t)
	from, to := t.StorageOffset, t.StorageOffset+size
	switch st := t.Source.(type) {
	case *pytorch.FloatStorage:
		return widen(st.Data[from:to]), nil
	case *pytorch.HalfStorage:
		return widen(st.Data[from:to]), nil
	case *pytorch.BFloat16Storage:
		return widen(st.Data[from:to]), nil
	case *pytorch.DoubleStorage:
		out := make([]float64, size)
		copy(out, st.Data[from:to])
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported storage type %T", t.Source)
	}
}

func widen(d []float32) []float64 {
	out := make([]float64, len(d))
	for i, v := range d {
		out[i] = float64(v)
	}
	return out
}

func tensorDataSize(t *pytorch.Tensor) int {
	size := 1
	for _, v := range t.Size {
		size *= v
	}
	return size
}

func readOptions(opts any, o *Options) error {
	sections, err := cast[*types.Dict](opts)
	if err != nil {
		return err
	}
	for _, e := range *sections {
		k, v := e.Key, e.Value
		section, err := cast[string](k)
		if err != nil {
			return fmt.Errorf("wrong section name type: %w", err)
		}
		entries, err := cast[*types.Dict](v)
		if err != nil {
			return fmt.Errorf("section %q: %w", section, err)
		}
		switch section {
		case "train":
			readStrings(entries, o.Train)
		case "model":
			readStrings(entries, o.Model)
		case "vocabulary":
			readStrings(entries, o.Vocabulary)
		case "data":
			for _, entry := range *entries {
				name, ok := entry.Key.(string)
				if !ok {
					continue
				}
				set, ok := entry.Value.(*types.Dict)
				if !ok {
					continue
				}
				o.Data[name] = map[string]string{}
				readStrings(set, o.Data[name])
			}
		default:
			log.Trace().Str("section", section).Msg("Ignoring option section")
		}
	}
	return nil
}

func readStrings(d *types.Dict, out map[string]string) {
	keys := make([]string, 0, len(*d))
	for _, e := range *d {
		if s, ok := e.Key.(string); ok {
			keys = append(keys, s)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		v, _ := d.Get(k)
		if v == nil {
			continue
		}
		out[k] = fmt.Sprint(v)
	}
}

func readHistory(history any, out map[string]float64) {
	d, ok := history.(*types.Dict)
	if !ok {
		return
	}
	for _, e := range *d {
		name, ok := e.Key.(string)
		if !ok {
			continue
		}
		switch n := e.Value.(type) {
		case float64:
			out[name] = n
		case int:
			out[name] = float64(n)
		}
	}
}

func cast[T any](v any) (t T, _ error) {
	t, ok := v.(T)
	if !ok {
		return t, fmt.Errorf("type assertion failed: expected %T, actual %T", t, v)
	}
	return
}
