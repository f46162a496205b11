// Copyright 2023 NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package decoder

// required returns how many source tokens must be available before the
// output token at position step (0-based) can be written under wait-k.
func (d *Decoder) required(b *beam) int {
	if d.opts.WaitK <= 0 {
		return 0
	}
	return min(b.srcLen, b.step+d.opts.WaitK)
}

// canWrite reports whether the beam may emit a token at the given tick.
// When it cannot, the tick is spent reading source tokens.
func (d *Decoder) canWrite(b *beam, tick int) bool {
	if d.opts.WaitK <= 0 {
		return true
	}
	return b.item.Arrived(tick, b.srcLen) >= d.required(b)
}

// visible returns how much of the source the models may attend to when
// scoring the next token of the beam.
func (d *Decoder) visible(b *beam) int {
	if d.opts.WaitK <= 0 {
		return b.srcLen
	}
	return d.required(b)
}
