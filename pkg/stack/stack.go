// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package stack combines stacks of tensors of any numeric dtype, using package combine.
//
// It takes care of what package combine leaves to the caller: it validates that all tensors
// have the same dimensions, converts them to float64 (and masks to uint8), and allocates
// and converts the output.
//
// Example, the median of 4 exposures, discarding the highest value of each pixel and the
// pixels saturated in each exposure:
//
//	combined, err := stack.New(exposures...).Trim(0, 1).Thresholds(nil, &saturation).Median()
package stack

import (
	"github.com/gomlx/exceptions"
	"github.com/gomlx/imcombine/pkg/combine"
	"github.com/gomlx/imcombine/pkg/core/dtypes"
	"github.com/gomlx/imcombine/pkg/core/shapes"
	"github.com/gomlx/imcombine/pkg/core/strided"
	"github.com/gomlx/imcombine/pkg/core/tensors"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Stack of arrays to combine, and the combination options.
// Create it with New, configure it with the chained methods, and finally call one of
// Median, Average, Minimum, IMedian, IAverage, Sum, Combine or CombineKind.
type Stack struct {
	arrays            []*tensors.Tensor
	masks             []*tensors.Tensor
	low, high         *float64
	lowTrim, highTrim int
	output            *tensors.Tensor
	outputDType       dtypes.DType
	parallelism       int
	fillPolicy        combine.FillPolicy
	progress          func(done, total int)
}

// New creates a Stack with the given arrays, all with the same dimensions.
func New(arrays ...*tensors.Tensor) *Stack {
	return &Stack{arrays: arrays}
}

// Trim sets the number of lowest and highest values of each pixel excluded from the combination.
// Both default to 0.
func (s *Stack) Trim(low, high int) *Stack {
	s.lowTrim, s.highTrim = low, high
	return s
}

// BadMasks sets one mask per array: non-zero (or true) values mark the corresponding array element
// as bad, and it is excluded from the combination.
// Masks can be of any dtype, see Threshold to create them.
func (s *Stack) BadMasks(masks ...*tensors.Tensor) *Stack {
	s.masks = masks
	return s
}

// Thresholds excludes from the combination the values < low or >= high, see Threshold.
// A nil low or high disables the corresponding bound.
//
// If BadMasks are also given, a value is excluded if it is bad in either.
func (s *Stack) Thresholds(low, high *float64) *Stack {
	s.low, s.high = low, high
	return s
}

// Output sets the tensor where to write the combined result. Its values are converted to its dtype,
// integer dtypes truncate toward zero.
//
// If not set, a new tensor is returned, see OutputDType.
func (s *Stack) Output(output *tensors.Tensor) *Stack {
	s.output = output
	return s
}

// OutputDType sets the dtype of the returned tensor, when no Output is given.
// It defaults to the dtype of the first array.
func (s *Stack) OutputDType(dtype dtypes.DType) *Stack {
	s.outputDType = dtype
	return s
}

// Parallelism sets the number of workers used to combine. See combine.Options.Parallelism.
func (s *Stack) Parallelism(parallelism int) *Stack {
	s.parallelism = parallelism
	return s
}

// FillPolicy sets which pixels are filled by IMedian and IAverage. See combine.FillPolicy.
func (s *Stack) FillPolicy(policy combine.FillPolicy) *Stack {
	s.fillPolicy = policy
	return s
}

// Progress sets a function called after each row of the innermost axis is combined.
// See combine.Options.Progress.
func (s *Stack) Progress(progress func(done, total int)) *Stack {
	s.progress = progress
	return s
}

// Median combines the arrays with their median. See combine.Median.
func (s *Stack) Median() (*tensors.Tensor, error) { return s.Combine(combine.Median) }

// Average combines the arrays with their mean. See combine.Average.
func (s *Stack) Average() (*tensors.Tensor, error) { return s.Combine(combine.Average) }

// Minimum combines the arrays with their minimum. See combine.Minimum.
func (s *Stack) Minimum() (*tensors.Tensor, error) { return s.Combine(combine.Minimum) }

// IMedian combines the arrays with their median, filling pixels with all values masked with
// the first non-zero value. See combine.IMedian.
func (s *Stack) IMedian() (*tensors.Tensor, error) { return s.Combine(combine.IMedian) }

// IAverage combines the arrays with their mean, filling pixels with all values masked with
// the first non-zero value. See combine.IAverage.
func (s *Stack) IAverage() (*tensors.Tensor, error) { return s.Combine(combine.IAverage) }

// Combine the arrays with the given statistic.
//
// It returns the output tensor: the one set with Output, or a new one.
func (s *Stack) Combine(statistic combine.Statistic) (output *tensors.Tensor, err error) {
	err = exceptions.TryCatch[error](func() {
		output = s.combineImpl(statistic)
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "stack.%s", statistic)
	}
	return output, nil
}

// CombineKind combines the arrays with the combination named kind, see ParseKind.
//
// Contrary to the other methods, it fails with ErrRejectAll if the trims would discard all the values of
// a pixel, that is, if len(arrays) - low - high < 1.
func (s *Stack) CombineKind(kind string) (*tensors.Tensor, error) {
	statistic, isSum, err := ParseKind(kind)
	if err != nil {
		return nil, errors.WithMessage(err, "stack.CombineKind")
	}
	if len(s.arrays) > 0 && len(s.arrays)-s.lowTrim-s.highTrim < 1 {
		return nil, errors.Wrapf(ErrRejectAll, "stack.CombineKind(%q): %d arrays with trims (%d, %d)",
			kind, len(s.arrays), s.lowTrim, s.highTrim)
	}
	if isSum {
		return s.Sum()
	}
	return s.Combine(statistic)
}

// Sum returns the element-wise sum of the arrays.
// Trims, masks and thresholds are not used. The output dtype is chosen as in Combine.
func (s *Stack) Sum() (output *tensors.Tensor, err error) {
	err = exceptions.TryCatch[error](func() {
		shape := s.validate()
		scratch := tensors.FromShape(shape.WithDType(dtypes.Float64))
		tensors.MustMutableFlatData(scratch, func(flat []float64) {
			for _, array := range s.arrays {
				for i, v := range toFloat64s(array) {
					flat[i] += v
				}
			}
		})
		output = s.writeOutput(scratch)
		klog.V(1).Infof("stack: summed %d arrays shaped %s", len(s.arrays), shape)
	})
	if err != nil {
		return nil, errors.WithMessage(err, "stack.Sum")
	}
	return output, nil
}

// validate the arrays, masks and output, and return the shape of the arrays. It panics on errors.
func (s *Stack) validate() shapes.Shape {
	if len(s.arrays) == 0 {
		panic(errors.WithStack(combine.ErrNoInputs))
	}
	if len(s.arrays) > combine.MaxArrays {
		panic(errors.Wrapf(combine.ErrTooManyArrays, "%d arrays given, at most %d can be combined",
			len(s.arrays), combine.MaxArrays))
	}
	if s.masks != nil && len(s.masks) != len(s.arrays) {
		panic(errors.Wrapf(combine.ErrMaskCount, "%d masks for %d arrays", len(s.masks), len(s.arrays)))
	}
	for i, array := range s.arrays {
		if err := array.CheckValid(); err != nil {
			panic(errors.WithMessagef(err, "array #%d", i))
		}
	}
	shape := s.arrays[0].Shape()
	for i, array := range s.arrays[1:] {
		checkDims(shape, array, "array", i+1)
	}
	for i, mask := range s.masks {
		if err := mask.CheckValid(); err != nil {
			panic(errors.WithMessagef(err, "mask #%d", i))
		}
		checkDims(shape, mask, "mask", i)
	}
	if s.output != nil {
		if err := s.output.CheckValid(); err != nil {
			panic(errors.WithMessage(err, "output"))
		}
		checkDims(shape, s.output, "output", 0)
	}
	return shape
}

// maskFlags returns the flags of the bad values of each array (1 for bad), merging the BadMasks and
// the Thresholds. It returns nil if there are neither.
func (s *Stack) maskFlags() [][]uint8 {
	if s.masks == nil && s.low == nil && s.high == nil {
		return nil
	}
	flags := make([][]uint8, len(s.arrays))
	for i, array := range s.arrays {
		if s.masks != nil {
			flags[i] = toMaskFlags(s.masks[i])
		} else {
			flags[i] = make([]uint8, array.Size())
		}
		if s.low == nil && s.high == nil {
			continue
		}
		for j, v := range toFloat64s(array) {
			if outsideThresholds(v, s.low, s.high) {
				flags[i][j] = 1
			}
		}
	}
	return flags
}

// combineImpl panics on errors.
func (s *Stack) combineImpl(statistic combine.Statistic) *tensors.Tensor {
	shape := s.validate()
	dims := shape.Dimensions
	inputs := make([]*strided.View[float64], len(s.arrays))
	for i, array := range s.arrays {
		inputs[i] = must1(strided.Contiguous(toFloat64s(array), dims...))
	}
	var masks []*strided.View[uint8]
	if flags := s.maskFlags(); flags != nil {
		masks = make([]*strided.View[uint8], len(flags))
		for i, maskFlags := range flags {
			masks[i] = must1(strided.Contiguous(maskFlags, dims...))
		}
	}
	scratch := tensors.FromShape(shape.WithDType(dtypes.Float64))
	tensors.MustMutableFlatData(scratch, func(flat []float64) {
		outputView := must1(strided.Contiguous(flat, dims...))
		err := combine.Combine(inputs, outputView, combine.Options{
			LowTrim:     s.lowTrim,
			HighTrim:    s.highTrim,
			Masks:       masks,
			Statistic:   statistic,
			FillPolicy:  s.fillPolicy,
			Parallelism: s.parallelism,
			Progress:    s.progress,
		})
		if err != nil {
			panic(err)
		}
	})
	output := s.writeOutput(scratch)
	klog.V(1).Infof("stack: combined %d arrays shaped %s with %s into %s", len(s.arrays), shape, statistic, output.DType())
	return output
}

// writeOutput converts the float64 result to the output dtype, and copies it to the Output tensor if one was given.
func (s *Stack) writeOutput(scratch *tensors.Tensor) *tensors.Tensor {
	outputDType := s.outputDType
	if s.output != nil {
		outputDType = s.output.DType()
	} else if outputDType == dtypes.InvalidDType {
		outputDType = s.arrays[0].DType()
	}
	result := scratch
	if outputDType != dtypes.Float64 {
		result = must1(tensors.ConvertDType(scratch, outputDType))
	}
	if s.output == nil {
		return result
	}
	must(result.ConstBytes(func(resultData []byte) {
		must(s.output.MutableBytes(func(data []byte) {
			copy(data, resultData)
		}))
	}))
	return s.output
}

// checkDims panics if the tensor doesn't have the same dimensions as shape.
func checkDims(shape shapes.Shape, t *tensors.Tensor, kind string, idx int) {
	if !shape.EqualDimensions(t.Shape()) {
		panic(errors.Wrapf(combine.ErrShapeMismatch, "%s #%d has shape %s, but array #0 has shape %s",
			kind, idx, t.Shape(), shape))
	}
}

// toFloat64s returns a copy of the tensor values as float64.
func toFloat64s(t *tensors.Tensor) []float64 {
	return must1(tensors.ToFloat64s(t))
}

// toMaskFlags converts the mask tensor to uint8 flags, 1 for non-zero (bad) values.
func toMaskFlags(t *tensors.Tensor) []uint8 {
	values := must1(tensors.ToFloat64s(t))
	flags := make([]uint8, len(values))
	for i, v := range values {
		if v != 0 {
			flags[i] = 1
		}
	}
	return flags
}

func must(err error) {
	if err != nil {
		panic(err)
	}
}

func must1[T any](value T, err error) T {
	must(err)
	return value
}
