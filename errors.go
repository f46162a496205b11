// Copyright 2023 NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package beamflow

import (
	"errors"
	"fmt"
)

// Names of the setup checks reported by ConfigError.
const (
	CheckCapability = "capability"
	CheckTopology   = "topology"
	CheckSplits     = "splits"
	CheckFilters    = "filters"
)

var (
	// ErrNoBeamSearch is reported when a model cannot be used for beam search.
	ErrNoBeamSearch = errors.New("model does not support beam search")
	// ErrTopology is reported when a model cannot perform the requested task.
	ErrTopology = errors.New("model is not compatible with the task")
	// ErrSplitCount is reported when an ad-hoc source is given with more than one split.
	ErrSplitCount = errors.New("only one split can be given together with an ad-hoc source")
	// ErrFilterMismatch is reported when the models disagree on the eval filters.
	ErrFilterMismatch = errors.New("eval filters differ between models")
)

// ConfigError is a fatal setup error.
type ConfigError struct {
	Check string
	Err   error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s check failed: %v", e.Check, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

func configError(check string, err error, format string, args ...any) *ConfigError {
	if format != "" {
		err = fmt.Errorf("%w: "+format, append([]any{err}, args...)...)
	}
	return &ConfigError{Check: check, Err: err}
}
