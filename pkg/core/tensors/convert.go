// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package tensors

import (
	"math"

	"github.com/gomlx/imcombine/pkg/core/dtypes"
	"github.com/pkg/errors"
	"github.com/x448/float16"
)

// ConvertDType returns a new tensor with the values of t converted to the given dtype.
// If t already has the requested dtype, a clone is returned.
//
// Conversions go through float64:
//
//   - Float to integer truncates toward zero, and values out of the integer range are saturated.
//   - NaN converts to 0 for integer dtypes.
//   - Any non-zero value converts to true for Bool, and Bool converts to 0 or 1.
func ConvertDType(t *Tensor, dtype dtypes.DType) (*Tensor, error) {
	if err := t.CheckValid(); err != nil {
		return nil, err
	}
	if !dtype.IsSupported() {
		return nil, errors.Errorf("ConvertDType: unsupported dtype %s", dtype)
	}
	if t.DType() == dtype {
		return t.Clone()
	}
	values, err := ToFloat64s(t)
	if err != nil {
		return nil, err
	}
	converted := FromShape(t.shape.WithDType(dtype))
	converted.MustMutableFlatData(func(flat any) {
		fromFloat64s(values, flat)
	})
	return converted, nil
}

// ToFloat64s returns a copy of the tensor's flat values converted to float64.
// Bool values become 0 or 1.
func ToFloat64s(t *Tensor) (values []float64, err error) {
	err = t.ConstFlatData(func(flat any) {
		values = toFloat64s(flat)
	})
	return
}

func toFloat64s(flat any) []float64 {
	switch typed := flat.(type) {
	case []float64:
		return append([]float64(nil), typed...)
	case []float32:
		return convertSlice(typed)
	case []float16.Float16:
		out := make([]float64, len(typed))
		for ii, v := range typed {
			out[ii] = float64(v.Float32())
		}
		return out
	case []int64:
		return convertSlice(typed)
	case []int32:
		return convertSlice(typed)
	case []int16:
		return convertSlice(typed)
	case []int8:
		return convertSlice(typed)
	case []uint64:
		return convertSlice(typed)
	case []uint32:
		return convertSlice(typed)
	case []uint16:
		return convertSlice(typed)
	case []uint8:
		return convertSlice(typed)
	case []bool:
		out := make([]float64, len(typed))
		for ii, v := range typed {
			if v {
				out[ii] = 1
			}
		}
		return out
	}
	panic(errors.Errorf("unsupported flat data type %T", flat))
}

func convertSlice[T dtypes.Number](in []T) []float64 {
	out := make([]float64, len(in))
	for ii, v := range in {
		out[ii] = float64(v)
	}
	return out
}

func fromFloat64s(values []float64, flat any) {
	switch typed := flat.(type) {
	case []float64:
		copy(typed, values)
	case []float32:
		for ii, v := range values {
			typed[ii] = float32(v)
		}
	case []float16.Float16:
		for ii, v := range values {
			typed[ii] = float16.Fromfloat32(float32(v))
		}
	case []int64:
		truncateInto(typed, values, math.MinInt64, math.MaxInt64)
	case []int32:
		truncateInto(typed, values, math.MinInt32, math.MaxInt32)
	case []int16:
		truncateInto(typed, values, math.MinInt16, math.MaxInt16)
	case []int8:
		truncateInto(typed, values, math.MinInt8, math.MaxInt8)
	case []uint64:
		truncateInto(typed, values, 0, math.MaxUint64)
	case []uint32:
		truncateInto(typed, values, 0, math.MaxUint32)
	case []uint16:
		truncateInto(typed, values, 0, math.MaxUint16)
	case []uint8:
		truncateInto(typed, values, 0, math.MaxUint8)
	case []bool:
		for ii, v := range values {
			typed[ii] = v != 0
		}
	default:
		panic(errors.Errorf("unsupported flat data type %T", flat))
	}
}

// truncateInto converts values to an integer type, truncating toward zero and saturating at [minValue, maxValue].
func truncateInto[T dtypes.Number](out []T, values []float64, minValue, maxValue T) {
	for ii, v := range values {
		switch {
		case math.IsNaN(v):
			out[ii] = 0
		case v <= float64(minValue):
			out[ii] = minValue
		case v >= float64(maxValue):
			out[ii] = maxValue
		default:
			out[ii] = T(math.Trunc(v))
		}
	}
}
