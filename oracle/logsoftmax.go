// Copyright 2023 NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package oracle

import (
	"gonum.org/v1/gonum/floats"
)

// LogSoftmax normalizes logits in place into log-probabilities and returns them.
func LogSoftmax(logits []float64) []float64 {
	if len(logits) == 0 {
		return logits
	}
	floats.AddConst(-floats.LogSumExp(logits), logits)
	return logits
}
