// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package stack

import (
	"math"
	"sync/atomic"
	"testing"

	"github.com/gomlx/imcombine/pkg/combine"
	"github.com/gomlx/imcombine/pkg/core/dtypes"
	"github.com/gomlx/imcombine/pkg/core/tensors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// exampleArrays returns [a*16, a*4, a*2, a*8], with a = [[0, 1], [2, 3]].
func exampleArrays() []*tensors.Tensor {
	arrays := make([]*tensors.Tensor, 0, 4)
	for _, factor := range []int64{16, 4, 2, 8} {
		arrays = append(arrays, tensors.FromValue([][]int64{{0, factor}, {2 * factor, 3 * factor}}))
	}
	return arrays
}

// badMasks returns masks with all the values of arrays[2] marked as bad.
func badMasks() []*tensors.Tensor {
	masks := make([]*tensors.Tensor, 4)
	for i := range masks {
		masks[i] = tensors.FromScalarAndDimensions(i == 2, 2, 2)
	}
	return masks
}

func ptr(v float64) *float64 { return &v }

func TestMedian(t *testing.T) {
	arrays := exampleArrays()
	result, err := New(arrays...).Median()
	require.NoError(t, err)
	assert.Equal(t, dtypes.Int64, result.DType())
	assert.Equal(t, [][]int64{{0, 6}, {12, 18}}, result.Value())

	result, err = New(arrays...).Trim(0, 1).Median()
	require.NoError(t, err)
	assert.Equal(t, [][]int64{{0, 4}, {8, 12}}, result.Value())

	result, err = New(arrays...).Trim(1, 0).Median()
	require.NoError(t, err)
	assert.Equal(t, [][]int64{{0, 8}, {16, 24}}, result.Value())

	result, err = New(arrays...).BadMasks(badMasks()...).Median()
	require.NoError(t, err)
	assert.Equal(t, [][]int64{{0, 8}, {16, 24}}, result.Value())

	masks, err := Threshold(arrays, nil, ptr(25))
	require.NoError(t, err)
	result, err = New(arrays...).BadMasks(masks...).Median()
	require.NoError(t, err)
	assert.Equal(t, [][]int64{{0, 6}, {8, 12}}, result.Value())
}

func TestAverage(t *testing.T) {
	arrays := exampleArrays()
	result, err := New(arrays...).Average()
	require.NoError(t, err)
	assert.Equal(t, [][]int64{{0, 7}, {15, 22}}, result.Value())

	result, err = New(arrays...).Trim(0, 1).Average()
	require.NoError(t, err)
	assert.Equal(t, [][]int64{{0, 4}, {9, 14}}, result.Value())

	result, err = New(arrays...).Trim(1, 0).Average()
	require.NoError(t, err)
	assert.Equal(t, [][]int64{{0, 9}, {18, 28}}, result.Value())

	result, err = New(arrays...).OutputDType(dtypes.Float32).Average()
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{0, 7.5}, {15, 22.5}}, result.Value())

	result, err = New(arrays...).BadMasks(badMasks()...).Average()
	require.NoError(t, err)
	assert.Equal(t, [][]int64{{0, 9}, {18, 28}}, result.Value())

	masks, err := Threshold(arrays, nil, ptr(25))
	require.NoError(t, err)
	result, err = New(arrays...).BadMasks(masks...).Average()
	require.NoError(t, err)
	assert.Equal(t, [][]int64{{0, 7}, {9, 14}}, result.Value())
}

func TestMinimum(t *testing.T) {
	arrays := exampleArrays()
	result, err := New(arrays...).Minimum()
	require.NoError(t, err)
	assert.Equal(t, [][]int64{{0, 2}, {4, 6}}, result.Value())

	result, err = New(arrays...).Trim(0, 1).Minimum()
	require.NoError(t, err)
	assert.Equal(t, [][]int64{{0, 2}, {4, 6}}, result.Value())

	result, err = New(arrays...).Trim(1, 0).Minimum()
	require.NoError(t, err)
	assert.Equal(t, [][]int64{{0, 4}, {8, 12}}, result.Value())

	result, err = New(arrays...).BadMasks(badMasks()...).Minimum()
	require.NoError(t, err)
	assert.Equal(t, [][]int64{{0, 4}, {8, 12}}, result.Value())

	masks, err := Threshold(arrays, ptr(10), nil)
	require.NoError(t, err)
	result, err = New(arrays...).BadMasks(masks...).Minimum()
	require.NoError(t, err)
	assert.Equal(t, [][]int64{{0, 16}, {16, 12}}, result.Value())
}

func TestThresholdsWithBadMasks(t *testing.T) {
	arrays := exampleArrays()
	result, err := New(arrays...).Thresholds(nil, ptr(25)).Median()
	require.NoError(t, err)
	assert.Equal(t, [][]int64{{0, 6}, {8, 12}}, result.Value())

	// Values bad in either the masks or the thresholds are excluded.
	result, err = New(arrays...).BadMasks(badMasks()...).Thresholds(nil, ptr(25)).Median()
	require.NoError(t, err)
	assert.Equal(t, [][]int64{{0, 8}, {12, 18}}, result.Value())

	result, err = New(arrays...).BadMasks(badMasks()...).Thresholds(ptr(5), nil).Minimum()
	require.NoError(t, err)
	assert.Equal(t, [][]int64{{0, 8}, {8, 12}}, result.Value())
}

func TestSum(t *testing.T) {
	arrays := exampleArrays()
	result, err := New(arrays...).Sum()
	require.NoError(t, err)
	assert.Equal(t, [][]int64{{0, 30}, {60, 90}}, result.Value())

	// Masks and trims don't apply.
	result, err = New(arrays...).BadMasks(badMasks()...).Trim(1, 1).OutputDType(dtypes.Float32).Sum()
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{0, 30}, {60, 90}}, result.Value())

	_, err = New(arrays[0], tensors.FromValue([]int64{1})).Sum()
	require.ErrorIs(t, err, combine.ErrShapeMismatch)
}

func TestCombineKind(t *testing.T) {
	arrays := exampleArrays()
	for kind, want := range map[string][][]int64{
		"MEAN":    {{0, 7}, {15, 22}},
		"average": {{0, 7}, {15, 22}},
		"Median":  {{0, 6}, {12, 18}},
		"minimum": {{0, 2}, {4, 6}},
		" sum ":   {{0, 30}, {60, 90}},
	} {
		result, err := New(arrays...).CombineKind(kind)
		require.NoError(t, err, "kind=%q", kind)
		assert.Equal(t, want, result.Value(), "kind=%q", kind)
	}

	result, err := New(arrays...).BadMasks(badMasks()...).CombineKind("imean")
	require.NoError(t, err)
	assert.Equal(t, [][]int64{{0, 9}, {18, 28}}, result.Value())

	result, err = New(arrays...).Trim(2, 1).CombineKind("median")
	require.NoError(t, err)
	assert.Equal(t, [][]int64{{0, 8}, {16, 24}}, result.Value())

	_, err = New(arrays...).Trim(2, 2).CombineKind("median")
	require.ErrorIs(t, err, ErrRejectAll)
	_, err = New(arrays...).Trim(4, 0).CombineKind("sum")
	require.ErrorIs(t, err, ErrRejectAll)
	_, err = New().CombineKind("median")
	require.ErrorIs(t, err, combine.ErrNoInputs)
	_, err = New(arrays...).CombineKind("mode")
	require.ErrorIs(t, err, combine.ErrInvalidStatistic)
}

func TestParseKind(t *testing.T) {
	for _, name := range KindNames() {
		_, _, err := ParseKind(name)
		require.NoError(t, err, "name=%q", name)
	}
	assert.Len(t, KindNames(), 8)

	statistic, isSum, err := ParseKind("IMEAN")
	require.NoError(t, err)
	assert.False(t, isSum)
	assert.Equal(t, combine.IAverage, statistic)

	_, isSum, err = ParseKind("Sum")
	require.NoError(t, err)
	assert.True(t, isSum)
}

func TestFillingStatistics(t *testing.T) {
	arrays := []*tensors.Tensor{
		tensors.FromValue([]float64{0, 1, 0}),
		tensors.FromValue([]float64{5, 2, 0}),
		tensors.FromValue([]float64{6, 3, 0}),
	}
	masks := []*tensors.Tensor{
		tensors.FromValue([]uint8{1, 0, 1}),
		tensors.FromValue([]uint8{1, 0, 1}),
		tensors.FromValue([]uint8{1, 0, 1}),
	}
	result, err := New(arrays...).BadMasks(masks...).IMedian()
	require.NoError(t, err)
	assert.Equal(t, []float64{5, 2, 0}, result.Value())

	result, err = New(arrays...).BadMasks(masks...).IAverage()
	require.NoError(t, err)
	assert.Equal(t, []float64{5, 2, 0}, result.Value())

	result, err = New(arrays...).BadMasks(masks...).Median()
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 2, 0}, result.Value())

	// Legacy policy only fills the first pixel of the row.
	result, err = New(arrays...).BadMasks(masks...).FillPolicy(combine.FillLegacy).Combine(combine.IMedian)
	require.NoError(t, err)
	assert.Equal(t, []float64{5, 2, 0}, result.Value())
}

func TestOutput(t *testing.T) {
	arrays := exampleArrays()
	output := tensors.FromShape(arrays[0].Shape().WithDType(dtypes.Int16))
	result, err := New(arrays...).Output(output).Average()
	require.NoError(t, err)
	assert.Same(t, output, result)
	assert.Equal(t, [][]int16{{0, 7}, {15, 22}}, output.Value())

	// Output of the wrong shape: it is left untouched.
	wrongOutput := tensors.FromScalarAndDimensions(float64(-1), 4)
	_, err = New(arrays...).Output(wrongOutput).Median()
	require.ErrorIs(t, err, combine.ErrShapeMismatch)
	assert.Equal(t, []float64{-1, -1, -1, -1}, wrongOutput.Value())
}

func TestParallelismAndProgress(t *testing.T) {
	arrays := make([]*tensors.Tensor, 5)
	for i := range arrays {
		flat := make([]float32, 8*6*4)
		for j := range flat {
			flat[j] = float32((j*7+i*13)%17) - 8
		}
		arrays[i] = tensors.FromFlatDataAndDimensions(flat, 8, 6, 4)
	}
	serial, err := New(arrays...).Trim(1, 1).Average()
	require.NoError(t, err)
	var calls, finished atomic.Int32
	parallel, err := New(arrays...).Trim(1, 1).Parallelism(4).Progress(func(done, total int) {
		calls.Add(1)
		if done == total {
			finished.Add(1)
		}
	}).Average()
	require.NoError(t, err)
	assert.True(t, serial.Equal(parallel))
	assert.Equal(t, int32(8*6), calls.Load())
	assert.Equal(t, int32(1), finished.Load())
}

func TestErrors(t *testing.T) {
	arrays := exampleArrays()
	_, err := New().Median()
	require.ErrorIs(t, err, combine.ErrNoInputs)

	_, err = New(arrays[0], tensors.FromValue([]int64{1, 2, 3, 4})).Median()
	require.ErrorIs(t, err, combine.ErrShapeMismatch)
	assert.Contains(t, err.Error(), "all arrays must have identical shapes")

	_, err = New(arrays...).BadMasks(badMasks()[:2]...).Median()
	require.ErrorIs(t, err, combine.ErrMaskCount)

	_, err = New(arrays...).BadMasks(arrays[0], arrays[1], arrays[2], tensors.FromValue([]bool{true})).Median()
	require.ErrorIs(t, err, combine.ErrShapeMismatch)

	_, err = New(arrays...).Trim(-1, 0).Median()
	require.ErrorIs(t, err, combine.ErrNegativeTrim)

	_, err = New(arrays...).Combine(combine.Statistic(42))
	require.ErrorIs(t, err, combine.ErrInvalidStatistic)

	tooMany := make([]*tensors.Tensor, combine.MaxArrays+1)
	for i := range tooMany {
		tooMany[i] = arrays[0]
	}
	_, err = New(tooMany...).Median()
	require.ErrorIs(t, err, combine.ErrTooManyArrays)

	finalized := tensors.FromValue([][]int64{{1, 2}, {3, 4}})
	finalized.Finalize()
	_, err = New(arrays[0], finalized).Median()
	require.Error(t, err)
}

func TestThreshold(t *testing.T) {
	a := tensors.FromValue([]float64{0, 1, 3, 7, 9, math.NaN()})
	masks, err := Threshold([]*tensors.Tensor{a}, ptr(3), ptr(7))
	require.NoError(t, err)
	require.Len(t, masks, 1)
	assert.Equal(t, dtypes.Bool, masks[0].DType())
	assert.Equal(t, []bool{true, true, false, true, true, false}, masks[0].Value())

	masks, err = Threshold([]*tensors.Tensor{a}, nil, ptr(7))
	require.NoError(t, err)
	assert.Equal(t, []bool{false, false, false, true, true, false}, masks[0].Value())

	masks, err = Threshold([]*tensors.Tensor{a}, ptr(3), nil)
	require.NoError(t, err)
	assert.Equal(t, []bool{true, true, false, false, false, false}, masks[0].Value())

	masks, err = Threshold([]*tensors.Tensor{a}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []bool{false, false, false, false, false, false}, masks[0].Value())

	finalized := tensors.FromValue([]float64{1})
	finalized.Finalize()
	_, err = Threshold([]*tensors.Tensor{finalized}, nil, nil)
	require.Error(t, err)
}
