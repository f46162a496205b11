// Copyright 2023 NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package topology describes which input and output modalities a model
// handles, using direction strings such as "src:Text, img:Image -> trg:Text".
package topology

import (
	"fmt"
	"strings"
)

// DataSource is one side of a direction: a data key and its modality.
type DataSource struct {
	Key  string
	Kind string
}

func (ds DataSource) String() string {
	return ds.Key + ":" + ds.Kind
}

// Topology is the parsed form of a direction string.
type Topology struct {
	Direction string
	Sources   []DataSource
	Targets   []DataSource
}

// Parse parses a direction string. A missing kind defaults to "Text".
func Parse(direction string) (Topology, error) {
	srcPart, trgPart, ok := strings.Cut(direction, "->")
	if !ok {
		return Topology{}, fmt.Errorf("invalid direction %q: missing \"->\"", direction)
	}
	srcs, err := parseSide(srcPart)
	if err != nil {
		return Topology{}, fmt.Errorf("invalid direction %q: %w", direction, err)
	}
	trgs, err := parseSide(trgPart)
	if err != nil {
		return Topology{}, fmt.Errorf("invalid direction %q: %w", direction, err)
	}
	return Topology{
		Direction: strings.TrimSpace(direction),
		Sources:   srcs,
		Targets:   trgs,
	}, nil
}

// MustParse is like Parse but panics on error.
func MustParse(direction string) Topology {
	t, err := Parse(direction)
	if err != nil {
		panic(err)
	}
	return t
}

func parseSide(s string) ([]DataSource, error) {
	var out []DataSource
	for _, field := range strings.Split(s, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		key, kind, found := strings.Cut(field, ":")
		key = strings.TrimSpace(key)
		kind = strings.TrimSpace(kind)
		if key == "" {
			return nil, fmt.Errorf("empty data key in %q", field)
		}
		if !found || kind == "" {
			kind = "Text"
		}
		out = append(out, DataSource{Key: key, Kind: kind})
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no data sources in %q", s)
	}
	return out, nil
}

// FirstSource returns the first source data source.
func (t Topology) FirstSource() DataSource {
	return t.Sources[0]
}

// FirstTarget returns the first target data source.
func (t Topology) FirstTarget() DataSource {
	return t.Targets[0]
}

// IsIncludedIn reports whether every source and target of t is also
// declared, with the same kind, by other.
func (t Topology) IsIncludedIn(other Topology) bool {
	return isSubset(t.Sources, other.Sources) && isSubset(t.Targets, other.Targets)
}

func isSubset(a, b []DataSource) bool {
	for _, x := range a {
		found := false
		for _, y := range b {
			if x == y {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func (t Topology) String() string {
	return t.Direction
}
