// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package combine

import (
	"math"
	"slices"

	"github.com/gomlx/imcombine/pkg/core/strided"
)

// sampleBuffer holds the samples of one pixel. It is reused for every pixel visited by one walker,
// and it must be reset to zeros between pixels, since the reducers' degenerate case reads from it.
type sampleBuffer struct {
	values []float64
}

// newSampleBuffer for ninputs inputs, with ninputs <= MaxArrays.
func newSampleBuffer(ninputs int) *sampleBuffer {
	return &sampleBuffer{values: make([]float64, ninputs)}
}

// collect the valid samples of column col of the inputs (at their current offsets) and sort them.
// It returns goodpix, the number of samples in the buffer.
//
// Without masks all inputs are valid. With masks, only inputs whose mask is 0 are.
// If fill is true and no input is valid, the first input with a non-zero value (masks ignored)
// is used as the only sample.
func (b *sampleBuffer) collect(inputs []*strided.View[float64], masks []*strided.View[uint8], col int, fill bool) int {
	goodpix := 0
	if masks == nil {
		for _, input := range inputs {
			b.values[goodpix] = input.At(col)
			goodpix++
		}
	} else {
		for i, input := range inputs {
			if masks[i].At(col) == 0 {
				b.values[goodpix] = input.At(col)
				goodpix++
			}
		}
		if goodpix == 0 && fill {
			for _, input := range inputs {
				if value := input.At(col); value != 0 {
					b.values[0] = value
					goodpix = 1
					break
				}
			}
		}
	}
	sortSamples(b.values[:goodpix])
	return goodpix
}

// sortSamples sorts the samples in ascending order.
//
// Where NaNs are placed depends on the sorting algorithm, since they never compare less than any value.
// Samples with NaNs are sorted with a plain exchange sort, which leaves each NaN at the position where
// the swaps of the other values put it: e.g. {1, NaN, 0} is sorted to {0, NaN, 1}.
func sortSamples(values []float64) {
	if !slices.ContainsFunc(values, math.IsNaN) {
		slices.Sort(values)
		return
	}
	for i := range values {
		for j := i + 1; j < len(values); j++ {
			if values[j] < values[i] {
				values[i], values[j] = values[j], values[i]
			}
		}
	}
}

// reset the buffer to zeros.
func (b *sampleBuffer) reset() {
	clear(b.values)
}
