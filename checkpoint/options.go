// Copyright 2023 NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package checkpoint

import (
	"fmt"
	"sort"
	"strings"
)

// Options are the training-time options stored alongside the weights.
type Options struct {
	// Train holds training options such as "model_type" and "eval_filters".
	Train map[string]string `yaml:"train"`
	// Model holds architecture options; "direction" declares the topology.
	Model map[string]string `yaml:"model"`
	// Data maps a set name ("<split>_set") to its data key -> file path pairs.
	Data map[string]map[string]string `yaml:"data"`
	// Vocabulary maps a data key to its vocabulary file.
	Vocabulary map[string]string `yaml:"vocabulary"`
}

// NewOptions returns empty, initialized options.
func NewOptions() Options {
	return Options{
		Train:      map[string]string{},
		Model:      map[string]string{},
		Data:       map[string]map[string]string{},
		Vocabulary: map[string]string{},
	}
}

// ModelType returns the registered model type name.
func (o *Options) ModelType() string {
	return o.Train["model_type"]
}

// EvalFilters returns the post-processing filter specification.
func (o *Options) EvalFilters() string {
	return o.Train["eval_filters"]
}

// Direction returns the direction string of the model.
func (o *Options) Direction() string {
	return o.Model["direction"]
}

// SplitSet returns the data entry for the given split, creating it if missing.
func (o *Options) SplitSet(split string) map[string]string {
	if o.Data == nil {
		o.Data = map[string]map[string]string{}
	}
	name := split + "_set"
	set, ok := o.Data[name]
	if !ok {
		set = map[string]string{}
		o.Data[name] = set
	}
	return set
}

// Override applies a list of "section.key:value" entries. Data entries use
// "data.<set>.<key>:value".
func (o *Options) Override(list []string) error {
	for _, item := range list {
		path, value, ok := strings.Cut(item, ":")
		if !ok {
			return fmt.Errorf("invalid override %q: expected section.key:value", item)
		}
		section, key, ok := strings.Cut(path, ".")
		if !ok || key == "" {
			return fmt.Errorf("invalid override %q: expected section.key:value", item)
		}
		switch section {
		case "train":
			o.Train = setKey(o.Train, key, value)
		case "model":
			o.Model = setKey(o.Model, key, value)
		case "vocabulary":
			o.Vocabulary = setKey(o.Vocabulary, key, value)
		case "data":
			set, dataKey, ok := strings.Cut(key, ".")
			if !ok || dataKey == "" {
				return fmt.Errorf("invalid data override %q: expected data.<set>.<key>:value", item)
			}
			if o.Data == nil {
				o.Data = map[string]map[string]string{}
			}
			o.Data[set] = setKey(o.Data[set], dataKey, value)
		default:
			return fmt.Errorf("invalid override %q: unknown section %q", item, section)
		}
	}
	return nil
}

func setKey(m map[string]string, key, value string) map[string]string {
	if m == nil {
		m = map[string]string{}
	}
	m[key] = value
	return m
}

// Clone returns a deep copy of the options.
func (o Options) Clone() Options {
	c := NewOptions()
	for k, v := range o.Train {
		c.Train[k] = v
	}
	for k, v := range o.Model {
		c.Model[k] = v
	}
	for k, v := range o.Vocabulary {
		c.Vocabulary[k] = v
	}
	for set, entries := range o.Data {
		c.Data[set] = make(map[string]string, len(entries))
		for k, v := range entries {
			c.Data[set][k] = v
		}
	}
	return c
}

// sortedKeys is used to keep log output stable.
func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// String renders the options one "section.key: value" per line.
func (o Options) String() string {
	var sb strings.Builder
	write := func(section string, m map[string]string) {
		for _, k := range sortedKeys(m) {
			fmt.Fprintf(&sb, "%s.%s: %s\n", section, k, m[k])
		}
	}
	write("train", o.Train)
	write("model", o.Model)
	write("vocabulary", o.Vocabulary)
	sets := make([]string, 0, len(o.Data))
	for set := range o.Data {
		sets = append(sets, set)
	}
	sort.Strings(sets)
	for _, set := range sets {
		write("data."+set, o.Data[set])
	}
	return sb.String()
}
