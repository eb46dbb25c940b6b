// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package combine merges a stack of same-shaped arrays into one, pixel by pixel, with a robust statistic:
// median, average or minimum, after optionally trimming the lowest and highest samples, and ignoring
// masked samples.
//
// It's the usual "stack combine" of repeated exposures of the same scene into a noise reduced one,
// rejecting bad pixels and outliers.
//
// The arrays are given as strided views of float64 (inputs and output) and uint8 (masks, non-zero
// means bad). The package doesn't allocate arrays nor converts them: see package stack for that.
//
// Example:
//
//	err := combine.Combine(inputs, output, combine.Options{
//		LowTrim:   1,
//		HighTrim:  1,
//		Statistic: combine.Average,
//	})
package combine

import (
	"sync/atomic"
	"time"

	"github.com/gomlx/imcombine/internal/workerspool"
	"github.com/gomlx/imcombine/pkg/core/strided"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Options for Combine.
type Options struct {
	// LowTrim and HighTrim are the number of lowest and highest samples discarded from each pixel.
	LowTrim, HighTrim int

	// Masks, if not nil, must have one mask per input, with the same shape.
	// A non-zero mask value marks the corresponding input value as bad.
	Masks []*strided.View[uint8]

	// Statistic used to reduce the samples of each pixel. Defaults to Median.
	Statistic Statistic

	// FillPolicy defines which pixels use the fallback sample with the filling statistics.
	// Defaults to FillUniform.
	FillPolicy FillPolicy

	// Parallelism is the number of workers combining slices of the outermost axis in parallel.
	// 0 (the default) runs everything in the calling goroutine, and -1 doesn't limit the number of workers.
	// Arrays with rank <= 1 are always combined in the calling goroutine.
	Parallelism int

	// Progress, if set, is called after each row of the innermost axis is combined, with the number of
	// rows done so far and the total. With Parallelism != 0 it is called from different goroutines.
	Progress func(done, total int)
}

// CombineByName combines the inputs into output using the statistic with the given name
// ("median", "average", "minimum", "imedian" or "iaverage"). masks can be nil.
//
// See Combine for details.
func CombineByName(inputs []*strided.View[float64], output *strided.View[float64], lowTrim, highTrim int,
	masks []*strided.View[uint8], statisticName string) error {
	if len(inputs) > MaxArrays {
		return errors.Wrapf(ErrTooManyArrays, "%d arrays given, at most %d can be combined", len(inputs), MaxArrays)
	}
	statistic, err := ParseStatistic(statisticName)
	if err != nil {
		return err
	}
	return Combine(inputs, output, Options{
		LowTrim:   lowTrim,
		HighTrim:  highTrim,
		Masks:     masks,
		Statistic: statistic,
	})
}

// Combine writes in each element of output the statistic of the samples of the inputs at the same position.
//
// For each pixel, the samples are the input values (only the ones whose mask is 0, if masks are given),
// sorted. opts.LowTrim lowest and opts.HighTrim highest samples are discarded, and the statistic is taken
// from the remaining ones:
//
//   - Median: the middle sample, or the mean of the two middle ones. If the trims would discard all samples,
//     they are reduced until at least one sample remains.
//   - Average: the mean of the samples.
//   - Minimum: the smallest sample.
//
// Pixels with no sample left result in 0. The filling statistics (IMedian, IAverage) use instead the
// first non-zero input value (ignoring masks) as the pixel's only sample, when all its samples are masked.
//
// All arrays must have the same dimensions. Errors are returned before any element of output is written,
// and can be matched with errors.Is against ErrTooManyArrays, ErrInvalidStatistic, ErrNoInputs, ErrNilOutput,
// ErrMaskCount, ErrShapeMismatch, ErrOutOfBounds and ErrNegativeTrim.
func Combine(inputs []*strided.View[float64], output *strided.View[float64], opts Options) error {
	if err := validate(inputs, output, &opts); err != nil {
		return err
	}
	start := time.Now()
	w := newWalker(inputs, output, &opts)
	rank := output.Rank()
	totalRows := 1
	for axis := 0; axis < rank-1; axis++ {
		totalRows *= output.Dim(axis)
	}
	if opts.Progress != nil {
		var done atomic.Int64
		w.rowDone = func() {
			opts.Progress(int(done.Add(1)), totalRows)
		}
	}

	pool := workerspool.New().SetMaxParallelism(opts.Parallelism)
	if !pool.IsEnabled() || rank <= 1 {
		w.walk(0)
	} else {
		pool.ForEach(output.Dim(0), func(i int) {
			w.clone().enter(0, i)
		})
	}
	if klog.V(1).Enabled() {
		klog.Infof("combine: %d arrays of dims %v with %s (trims low=%d, high=%d, masks=%v, parallelism=%d) in %s",
			len(inputs), output.Dims(), opts.Statistic, opts.LowTrim, opts.HighTrim, opts.Masks != nil,
			pool.MaxParallelism(), time.Since(start))
	}
	return nil
}

// validate all arguments before the traversal.
func validate(inputs []*strided.View[float64], output *strided.View[float64], opts *Options) error {
	if len(inputs) > MaxArrays {
		return errors.Wrapf(ErrTooManyArrays, "%d arrays given, at most %d can be combined", len(inputs), MaxArrays)
	}
	if !opts.Statistic.IsAStatistic() {
		return errors.Wrapf(ErrInvalidStatistic, "statistic %s", opts.Statistic)
	}
	if len(inputs) == 0 {
		return errors.WithStack(ErrNoInputs)
	}
	if output == nil {
		return errors.WithStack(ErrNilOutput)
	}
	if opts.LowTrim < 0 || opts.HighTrim < 0 {
		return errors.Wrapf(ErrNegativeTrim, "got low=%d, high=%d", opts.LowTrim, opts.HighTrim)
	}
	if opts.Masks != nil && len(opts.Masks) != len(inputs) {
		return errors.Wrapf(ErrMaskCount, "%d masks for %d inputs", len(opts.Masks), len(inputs))
	}
	if err := output.CheckBounds(); err != nil {
		return errors.Wrapf(ErrOutOfBounds, "output: %v", err)
	}
	for i, input := range inputs {
		if input == nil {
			return errors.Wrapf(ErrShapeMismatch, "input #%d is nil", i)
		}
		if !strided.SameDims(input, output) {
			return errors.Wrapf(ErrShapeMismatch, "input #%d has dims %v, output has dims %v", i, input.Dims(), output.Dims())
		}
		if err := input.CheckBounds(); err != nil {
			return errors.Wrapf(ErrOutOfBounds, "input #%d: %v", i, err)
		}
	}
	for i, mask := range opts.Masks {
		if mask == nil {
			return errors.Wrapf(ErrShapeMismatch, "mask #%d is nil", i)
		}
		if !strided.SameDims(mask, output) {
			return errors.Wrapf(ErrShapeMismatch, "mask #%d has dims %v, output has dims %v", i, mask.Dims(), output.Dims())
		}
		if err := mask.CheckBounds(); err != nil {
			return errors.Wrapf(ErrOutOfBounds, "mask #%d: %v", i, err)
		}
	}
	return nil
}
