// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package tensors implement a `Tensor`, a representation of a multidimensional array stored in host memory.
//
// Tensors are multidimensional arrays (from scalar with 0 dimensions, to arbitrarily large dimensions), defined
// by their shape (a data type and its axes' dimensions) and their actual content, stored as a flat Go slice
// in row-major order.
//
// There are various ways to construct a Tensor:
//
//   - FromShape(shape shapes.Shape): creates a tensor with the given shape, and zero values.
//
//   - FromScalarAndDimensions[T dtypes.Supported](value T, dimensions ...int): creates a Tensor with the
//     given dimensions, filled with the scalar value given.
//
//   - FromFlatDataAndDimensions[T dtypes.Supported](data []T, dimensions ...int): creates a Tensor with the
//     given dimensions and set the flattened values with the given data. Example:
//
//     t := FromFlatDataAndDimensions([]float64{1, 2, 3, 4}, 2, 2}) // Tensor with [[1,2], [3,4]]
//
//   - FromValue[S MultiDimensionSlice](value S): Generic conversion works with the scalar supported `DType`s
//     as well as with any arbitrary multidimensional slice of them. Slices of rank > 1 must be regular, that is
//     all the sub-slices must have the same shape. Example:
//
//     t := FromValue([][]float64{{1,2}, {3, 5}, {7, 11}})
//
// Access to the data is given through callbacks (ConstFlatData, MutableFlatData and their generic versions),
// during which the tensor is locked.
package tensors

import (
	"sync"

	"github.com/gomlx/imcombine/pkg/core/dtypes"
	"github.com/gomlx/imcombine/pkg/core/shapes"
	"github.com/pkg/errors"
)

// Tensor represents a multidimensional array defined by its shape -- a data type (dtypes.DType) and its axes'
// dimensions -- and its actual content stored as a flat (1D) slice of values.
type Tensor struct {
	// shape of the tensor, considered immutable.
	shape shapes.Shape

	// mu protects flat.
	mu sync.Mutex

	// flat holds the slice with actual data: a []T for the Go type T of the dtype.
	flat any
}

// Shape of Tensor.
func (t *Tensor) Shape() shapes.Shape { return t.shape }

// DType returns the DType of the tensor's shape.
func (t *Tensor) DType() dtypes.DType { return t.shape.DType }

// Rank returns the rank of the tensor's shape.
func (t *Tensor) Rank() int { return t.shape.Rank() }

// IsScalar returns whether the tensor represents a scalar value.
func (t *Tensor) IsScalar() bool { return t.shape.IsScalar() }

// Size returns the number of elements in the tensor.
func (t *Tensor) Size() int { return t.shape.Size() }

// Memory returns the number of bytes used by the tensor's data.
func (t *Tensor) Memory() uintptr { return t.shape.Memory() }

// Ok returns whether the Tensor is in a valid state: it is not nil, and it has data.
func (t *Tensor) Ok() bool {
	return t != nil && t.flat != nil && t.shape.Ok()
}

// CheckValid returns an error if the tensor is nil or its data was finalized.
func (t *Tensor) CheckValid() error {
	if t == nil {
		return errors.New("tensor is nil")
	}
	if !t.shape.Ok() {
		return errors.New("tensor shape is invalid")
	}
	if t.flat == nil {
		return errors.New("tensor has no data, was it finalized?")
	}
	return nil
}

// AssertValid panics if the tensor is not valid, see CheckValid.
func (t *Tensor) AssertValid() {
	if err := t.CheckValid(); err != nil {
		panic(err)
	}
}

// Finalize releases the tensor data. The tensor becomes invalid after that.
// It is a no-op on a nil tensor.
func (t *Tensor) Finalize() {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.flat = nil
}
