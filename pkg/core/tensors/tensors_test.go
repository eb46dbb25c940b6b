// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package tensors

import (
	"math"
	"testing"

	"github.com/gomlx/imcombine/pkg/core/dtypes"
	"github.com/gomlx/imcombine/pkg/core/shapes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"
)

func TestFromShape(t *testing.T) {
	tensor := FromShape(shapes.Make(dtypes.Float32, 2, 3))
	assert.Equal(t, 6, tensor.Size())
	assert.Equal(t, uintptr(24), tensor.Memory())
	MustConstFlatData(tensor, func(flat []float32) {
		assert.Equal(t, make([]float32, 6), flat)
	})

	// Zero-sized tensors are valid.
	empty := FromShape(shapes.Make(dtypes.Float64, 0, 3))
	require.NoError(t, empty.CheckValid())
	assert.Equal(t, 0, empty.Size())

	require.Panics(t, func() { FromShape(shapes.Invalid()) })
}

func TestFromValue(t *testing.T) {
	tensor := FromValue([][]float64{{1, 2}, {3, 5}, {7, 11}})
	assert.Equal(t, []int{3, 2}, tensor.Shape().Dimensions)
	assert.Equal(t, dtypes.Float64, tensor.DType())
	assert.Equal(t, [][]float64{{1, 2}, {3, 5}, {7, 11}}, tensor.Value())

	scalar := FromValue(uint8(7))
	assert.True(t, scalar.IsScalar())
	assert.Equal(t, uint8(7), ToScalar[uint8](scalar))

	ints := FromValue([]int{1, 2, 3})
	assert.Equal(t, dtypes.FromGenericsType[int](), ints.DType())
	MustConstFlatData(ints, func(flat []int) {
		assert.Equal(t, []int{1, 2, 3}, flat)
	})

	// Irregular shapes.
	require.Panics(t, func() { FromValue([][]float32{{1, 2}, {3}}) })
	// Empty slices.
	require.Panics(t, func() { FromValue([]float32{}) })
}

func TestFromFlatDataAndDimensions(t *testing.T) {
	tensor := FromFlatDataAndDimensions([]int32{1, 2, 3, 4, 5, 6}, 2, 3)
	assert.Equal(t, [][]int32{{1, 2, 3}, {4, 5, 6}}, tensor.Value())
	require.Panics(t, func() { FromFlatDataAndDimensions([]int32{1, 2, 3}, 2, 2) })

	filled := FromScalarAndDimensions(float32(3), 2, 2)
	assert.Equal(t, [][]float32{{3, 3}, {3, 3}}, filled.Value())
}

func TestFlatDataAccess(t *testing.T) {
	tensor := FromValue([]float64{1, 2, 3})
	err := ConstFlatData(tensor, func(flat []float32) {})
	require.Error(t, err, "dtype mismatch should be an error")

	MustMutableFlatData(tensor, func(flat []float64) {
		flat[1] = 20
	})
	values, err := CopyFlatData[float64](tensor)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 20, 3}, values)

	var numBytes int
	require.NoError(t, tensor.ConstBytes(func(data []byte) { numBytes = len(data) }))
	assert.Equal(t, 24, numBytes)

	tensor.Finalize()
	require.Error(t, tensor.CheckValid())
	require.Error(t, tensor.ConstFlatData(func(any) {}))
}

func TestCloneAndEqual(t *testing.T) {
	tensor := FromValue([][]int16{{1, 2}, {3, 4}})
	clone, err := tensor.Clone()
	require.NoError(t, err)
	assert.True(t, tensor.Equal(clone))
	MustMutableFlatData(clone, func(flat []int16) { flat[0] = 7 })
	assert.False(t, tensor.Equal(clone))
	assert.Equal(t, [][]int16{{1, 2}, {3, 4}}, tensor.Value())

	other := FromValue([][]float64{{1, 2}, {3, 4.05}})
	assert.True(t, tensor.InDelta(other, 0.1))
	assert.False(t, tensor.InDelta(other, 0.01))
	assert.False(t, tensor.InDelta(FromValue([]float64{1, 2, 3, 4}), 0.1))
}

func TestFromValueAllDTypes(t *testing.T) {
	for _, tc := range []struct {
		value any
		dtype dtypes.DType
		dims  []int
	}{
		{int8(-3), dtypes.Int8, nil},
		{[]int8{-1, 2}, dtypes.Int8, []int{2}},
		{[][]int16{{1}, {2}}, dtypes.Int16, []int{2, 1}},
		{[][][]uint32{{{7, 8, 9}}}, dtypes.Uint32, []int{1, 1, 3}},
		{[][][][]uint64{{{{1 << 40}}}}, dtypes.Uint64, []int{1, 1, 1, 1}},
		{[]float16.Float16{float16.Fromfloat32(1.5)}, dtypes.Float16, []int{1}},
	} {
		tensor := FromAnyValue(tc.value)
		assert.Equal(t, tc.dtype, tensor.DType(), "value=%#v", tc.value)
		if tc.dims == nil {
			assert.True(t, tensor.IsScalar())
		} else {
			assert.Equal(t, tc.dims, tensor.Shape().Dimensions)
		}
		assert.Equal(t, tc.value, tensor.Value())
	}

	// Generic entry points, checked at compile time against MultiDimensionSlice.
	assert.Equal(t, []int16{4, 5}, FromValue([]int16{4, 5}).Value())
	assert.Equal(t, [][]uint32{{1, 2}}, FromValue([][]uint32{{1, 2}}).Value())
	assert.Equal(t, uint64(9), FromValue(uint64(9)).Value())
	assert.Equal(t, dtypes.Float16, FromValue([][]float16.Float16{{0}}).DType())
}

func TestConvertDType(t *testing.T) {
	tensor := FromValue([]float64{-1.7, 0, 2.5, 300, math.NaN()})

	asUint8, err := ConvertDType(tensor, dtypes.Uint8)
	require.NoError(t, err)
	assert.Equal(t, []uint8{0, 0, 2, 255, 0}, asUint8.Value())

	asInt32, err := ConvertDType(tensor, dtypes.Int32)
	require.NoError(t, err)
	assert.Equal(t, []int32{-1, 0, 2, 300, 0}, asInt32.Value())

	asBool, err := ConvertDType(tensor, dtypes.Bool)
	require.NoError(t, err)
	assert.Equal(t, []bool{true, false, true, true, true}, asBool.Value())

	asF16, err := ConvertDType(FromValue([]float32{0.5, 2}), dtypes.Float16)
	require.NoError(t, err)
	MustConstFlatData(asF16, func(flat []float16.Float16) {
		assert.Equal(t, float32(0.5), flat[0].Float32())
		assert.Equal(t, float32(2), flat[1].Float32())
	})

	back, err := ConvertDType(FromValue([]bool{true, false}), dtypes.Float64)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 0}, back.Value())

	_, err = ConvertDType(tensor, dtypes.InvalidDType)
	require.Error(t, err)
}

func TestString(t *testing.T) {
	tensor := FromValue([]int8{1, 2})
	assert.Equal(t, "(Int8)[2]: [1 2]", tensor.String())
}
