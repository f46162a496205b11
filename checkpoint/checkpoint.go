// Copyright 2023 NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package checkpoint stores trained weights together with their options.
package checkpoint

import (
	"fmt"
	"os"

	"github.com/nlpodyssey/spago/mat"
)

// Tensor is a dense row-major array of weights.
type Tensor struct {
	Shape []int
	Data  []float64
}

// Rows returns the size of the first dimension.
func (t Tensor) Rows() int {
	if len(t.Shape) == 0 {
		return 0
	}
	return t.Shape[0]
}

// Columns returns the size of the second dimension, or 1 for vectors.
func (t Tensor) Columns() int {
	if len(t.Shape) < 2 {
		return 1
	}
	return t.Shape[1]
}

// Matrix returns the tensor as a spago matrix. Vectors become column vectors.
func (t Tensor) Matrix() (mat.Matrix, error) {
	switch len(t.Shape) {
	case 1:
		if t.Shape[0] != len(t.Data) {
			return nil, fmt.Errorf("tensor shape %v does not match data size %d", t.Shape, len(t.Data))
		}
		return mat.NewVecDense[float64](t.Data), nil
	case 2:
		if t.Shape[0]*t.Shape[1] != len(t.Data) {
			return nil, fmt.Errorf("tensor shape %v does not match data size %d", t.Shape, len(t.Data))
		}
		return mat.NewDense[float64](t.Shape[0], t.Shape[1], t.Data), nil
	default:
		return nil, fmt.Errorf("expected 1 or 2 dimensions, actual %d", len(t.Shape))
	}
}

// Checkpoint is a trained model as stored on disk.
type Checkpoint struct {
	Options Options
	Weights map[string]Tensor
	History map[string]float64
}

// Weight returns the named tensor, checking its shape when expected is not nil.
func (c *Checkpoint) Weight(name string, expected ...int) (Tensor, error) {
	t, ok := c.Weights[name]
	if !ok {
		return Tensor{}, fmt.Errorf("weight %q not found", name)
	}
	if len(expected) == 0 {
		return t, nil
	}
	if len(expected) != len(t.Shape) {
		return Tensor{}, fmt.Errorf("weight %q: expected shape %v, actual %v", name, expected, t.Shape)
	}
	for i, v := range expected {
		if v >= 0 && t.Shape[i] != v {
			return Tensor{}, fmt.Errorf("weight %q: expected shape %v, actual %v", name, expected, t.Shape)
		}
	}
	return t, nil
}

// Load reads a checkpoint from file.
func Load(filename string) (*Checkpoint, error) {
	c, err := loadFromFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("checkpoint file %q not found: %w", filename, err)
		}
		return nil, fmt.Errorf("failed to load checkpoint %q: %w", filename, err)
	}
	return c, nil
}

// Dump saves the checkpoint to a file.
// See gobEncode for further details.
func Dump(obj *Checkpoint, filename string) (err error) {
	f, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to open checkpoint file %q for writing: %w", filename, err)
	}
	defer func() {
		if e := f.Close(); e != nil && err == nil {
			err = fmt.Errorf("failed to close checkpoint file %q: %w", filename, e)
		}
	}()
	if err = gobEncode(obj, f); err != nil {
		return fmt.Errorf("failed to encode checkpoint: %w", err)
	}
	return nil
}
