// Copyright 2023 NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package checkpoint

import (
	"bufio"
	"encoding/gob"
	"fmt"
	"io"
	"os"
	"sort"
)

// namedTensor is the unit of encoding for a single weight.
type namedTensor struct {
	Name   string
	Tensor Tensor
}

// gobEncode writes the checkpoint as a sequence of gob chunks: the options,
// the history, the number of weights and then each weight, sorted by name.
// Large weight sets are flushed chunk by chunk.
func gobEncode(obj *Checkpoint, w io.Writer) error {
	bw := bufio.NewWriter(w)
	encoder := gob.NewEncoder(bw)

	for _, chunk := range getChunksForGobEncoding(obj) {
		if err := encoder.Encode(chunk); err != nil {
			return err
		}
		if err := bw.Flush(); err != nil {
			return err
		}
	}
	return nil
}

func getChunksForGobEncoding(obj *Checkpoint) []interface{} {
	names := make([]string, 0, len(obj.Weights))
	for name := range obj.Weights {
		names = append(names, name)
	}
	sort.Strings(names)

	history := obj.History
	if history == nil {
		history = map[string]float64{}
	}
	chunks := []interface{}{
		obj.Options,
		history,
		len(names),
	}
	for _, name := range names {
		chunks = append(chunks, namedTensor{Name: name, Tensor: obj.Weights[name]})
	}
	return chunks
}

// loadFromFile uses Gob to deserialize checkpoint files to memory.
// See gobDecoding for further details.
func loadFromFile(filename string) (_ *Checkpoint, err error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer func() {
		if e := f.Close(); e != nil && err == nil {
			err = e
		}
	}()
	return gobDecoding(f)
}

func gobDecoding(r io.Reader) (*Checkpoint, error) {
	obj := &Checkpoint{
		Options: NewOptions(),
	}

	br := bufio.NewReader(r)
	decoder := gob.NewDecoder(br)

	if err := decoder.Decode(&obj.Options); err != nil {
		return nil, fmt.Errorf("failed to decode options: %w", err)
	}
	if err := decoder.Decode(&obj.History); err != nil {
		return nil, fmt.Errorf("failed to decode history: %w", err)
	}
	var n int
	if err := decoder.Decode(&n); err != nil {
		return nil, fmt.Errorf("failed to decode weights count: %w", err)
	}

	obj.Weights = make(map[string]Tensor, n)
	for i := 0; i < n; i++ {
		var nt namedTensor
		if err := decoder.Decode(&nt); err != nil {
			return nil, fmt.Errorf("failed to decode weight %d: %w", i, err)
		}
		obj.Weights[nt.Name] = nt.Tensor
	}

	if obj.Options.Train == nil {
		obj.Options.Train = map[string]string{}
	}
	if obj.Options.Model == nil {
		obj.Options.Model = map[string]string{}
	}
	if obj.Options.Data == nil {
		obj.Options.Data = map[string]map[string]string{}
	}
	if obj.Options.Vocabulary == nil {
		obj.Options.Vocabulary = map[string]string{}
	}
	return obj, nil
}
