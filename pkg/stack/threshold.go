// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package stack

import (
	"github.com/gomlx/imcombine/pkg/core/dtypes"
	"github.com/gomlx/imcombine/pkg/core/tensors"
	"github.com/pkg/errors"
)

// Threshold returns one Bool mask per array, true where the array value is < low or >= high.
// A nil low or high disables the corresponding bound: if both are nil, all masks are false.
// NaN values are never masked.
//
// The masks can be used as BadMasks, to exclude out-of-range values from the combination.
func Threshold(arrays []*tensors.Tensor, low, high *float64) ([]*tensors.Tensor, error) {
	masks := make([]*tensors.Tensor, len(arrays))
	for i, array := range arrays {
		values, err := tensors.ToFloat64s(array)
		if err != nil {
			return nil, errors.WithMessagef(err, "stack.Threshold: array #%d", i)
		}
		masks[i] = tensors.FromShape(array.Shape().WithDType(dtypes.Bool))
		tensors.MustMutableFlatData(masks[i], func(flat []bool) {
			for j, v := range values {
				flat[j] = outsideThresholds(v, low, high)
			}
		})
	}
	return masks, nil
}

// outsideThresholds is false for NaN.
func outsideThresholds(v float64, low, high *float64) bool {
	return (low != nil && v < *low) || (high != nil && v >= *high)
}
