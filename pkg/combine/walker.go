// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package combine

import (
	"github.com/gomlx/imcombine/pkg/core/strided"
)

// walker traverses all pixels of the output, combining the inputs for each one.
//
// It's not safe for concurrent use: each worker uses its own walker (see walker.clone), with its own
// views and sample buffer.
type walker struct {
	inputs   []*strided.View[float64]
	masks    []*strided.View[uint8]
	output   *strided.View[float64]
	reducer  Reducer
	lowTrim  int
	highTrim int
	filling  bool
	legacy   bool
	samples  *sampleBuffer

	// rowDone is called after each row of the innermost axis is combined. It may be nil.
	rowDone func()
}

func newWalker(inputs []*strided.View[float64], output *strided.View[float64], opts *Options) *walker {
	return &walker{
		inputs:   inputs,
		masks:    opts.Masks,
		output:   output,
		reducer:  opts.Statistic.Reducer(),
		lowTrim:  opts.LowTrim,
		highTrim: opts.HighTrim,
		filling:  opts.Statistic.IsFilling(),
		legacy:   opts.FillPolicy == FillLegacy,
		samples:  newSampleBuffer(len(inputs)),
	}
}

// clone returns a walker with cloned views and its own sample buffer.
func (w *walker) clone() *walker {
	w2 := *w
	w2.inputs = make([]*strided.View[float64], len(w.inputs))
	for i, input := range w.inputs {
		w2.inputs[i] = input.Clone()
	}
	if w.masks != nil {
		w2.masks = make([]*strided.View[uint8], len(w.masks))
		for i, mask := range w.masks {
			w2.masks[i] = mask.Clone()
		}
	}
	w2.output = w.output.Clone()
	w2.samples = newSampleBuffer(len(w.inputs))
	return &w2
}

// advance all views by count elements of the axis.
func (w *walker) advance(axis, count int) {
	for i, input := range w.inputs {
		input.Advance(axis, count)
		if w.masks != nil {
			w.masks[i].Advance(axis, count)
		}
	}
	w.output.Advance(axis, count)
}

// retreat undoes advance.
func (w *walker) retreat(axis, count int) {
	for i, input := range w.inputs {
		input.Retreat(axis, count)
		if w.masks != nil {
			w.masks[i].Retreat(axis, count)
		}
	}
	w.output.Retreat(axis, count)
}

// walk visits every index of axis and the following ones, in row-major order.
// Views are restored to their original offsets when it returns.
func (w *walker) walk(axis int) {
	rank := w.output.Rank()
	if axis >= rank-1 {
		w.row()
		return
	}
	for i := range w.output.Dim(axis) {
		w.enter(axis, i)
	}
}

// enter index i of axis and walk the following axes.
func (w *walker) enter(axis, i int) {
	w.advance(axis, i)
	w.walk(axis + 1)
	w.retreat(axis, i)
}

// row combines every column of the innermost axis at the current offsets.
// A scalar is taken as a row with one column.
func (w *walker) row() {
	cols := 1
	if rank := w.output.Rank(); rank > 0 {
		cols = w.output.Dim(rank - 1)
	}
	ninputs := len(w.inputs)
	fill := w.filling
	for col := range cols {
		goodpix := w.samples.collect(w.inputs, w.masks, col, fill)
		if w.legacy && ninputs != 1 {
			fill = false
		}
		w.output.Set(col, w.reducer(goodpix, w.lowTrim, w.highTrim, ninputs, w.samples.values))
		w.samples.reset()
	}
	if w.rowDone != nil {
		w.rowDone()
	}
}
