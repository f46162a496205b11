// Copyright 2023 NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package oracle

import (
	"fmt"
	"sort"
	"sync"

	"github.com/nlpodyssey/beamflow/checkpoint"
)

// Factory builds a model in inference mode from a checkpoint.
type Factory func(c *checkpoint.Checkpoint) (Model, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

// Register makes a model type available by name. It panics if the name is
// already taken.
func Register(modelType string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, dup := registry[modelType]; dup {
		panic(fmt.Sprintf("oracle: model type %q registered twice", modelType))
	}
	registry[modelType] = f
}

// New builds the model declared by the checkpoint's "model_type" option.
func New(c *checkpoint.Checkpoint) (Model, error) {
	modelType := c.Options.ModelType()
	registryMu.RLock()
	f, ok := registry[modelType]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown model type %q (available: %v)", modelType, Types())
	}
	return f(c)
}

// Types returns the registered model types, sorted.
func Types() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	out := make([]string, 0, len(registry))
	for k := range registry {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
