// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package strided implements View, an N-dimensional read/write window over a flat buffer,
// described by per-axis dimensions and strides, and a mutable base offset.
//
// Views are meant for nested traversals: to enter index `i` of an axis the offset is advanced
// by `stride[axis]*i`, and it is retreated by the same amount when leaving it. This way the
// innermost axis is read with At and written with Set without recomputing the full address.
//
// Strides are given in elements, not bytes. Use FromByteStrides for strides given in bytes,
// like the ones of NumPy.
package strided

import (
	"fmt"
	"unsafe"

	"github.com/pkg/errors"
)

// Element is the constraint on the data types a View can hold: float64 samples and uint8 mask flags.
type Element interface {
	float64 | uint8
}

// View over a flat buffer of T.
//
// The element at indices `(i_0, ..., i_{n-1})` is at `data[offset + Σ i_k*strides[k]]`, where
// offset is the current base offset, moved by Advance and Retreat.
//
// A View is not safe for concurrent use, since the offset is mutable: use Clone to get an
// independent View over the same data.
type View[T Element] struct {
	data    []T
	dims    []int
	strides []int
	offset  int
}

// New creates a View over data with the given dimensions and strides (in elements).
//
// Strides can be zero (broadcast) or negative, as long as CheckBounds holds.
// It returns an error if dims and strides have different lengths or if any dimension is negative.
// It doesn't check the bounds: see CheckBounds.
func New[T Element](data []T, dims, strides []int) (*View[T], error) {
	if len(dims) != len(strides) {
		return nil, errors.Errorf("strided.New: %d dimensions given, but %d strides", len(dims), len(strides))
	}
	for axis, dim := range dims {
		if dim < 0 {
			return nil, errors.Errorf("strided.New: negative dimension %d for axis %d", dim, axis)
		}
	}
	return &View[T]{
		data:    data,
		dims:    append([]int(nil), dims...),
		strides: append([]int(nil), strides...),
	}, nil
}

// FromByteStrides creates a View with strides given in bytes, each must be a multiple of the size of T.
func FromByteStrides[T Element](data []T, dims, byteStrides []int) (*View[T], error) {
	var zero T
	elementSize := int(unsafe.Sizeof(zero))
	strides := make([]int, len(byteStrides))
	for axis, byteStride := range byteStrides {
		if byteStride%elementSize != 0 {
			return nil, errors.Errorf("strided.FromByteStrides: stride of axis %d is %d bytes, not a multiple of the element size %d",
				axis, byteStride, elementSize)
		}
		strides[axis] = byteStride / elementSize
	}
	return New(data, dims, strides)
}

// Contiguous creates a View with row-major strides over data. The data must hold the product of
// the dimensions elements.
func Contiguous[T Element](data []T, dims ...int) (*View[T], error) {
	strides := make([]int, len(dims))
	size := 1
	for axis := len(dims) - 1; axis >= 0; axis-- {
		strides[axis] = size
		size *= max(dims[axis], 1)
	}
	view, err := New(data, dims, strides)
	if err != nil {
		return nil, err
	}
	if err = view.CheckBounds(); err != nil {
		return nil, err
	}
	return view, nil
}

// Rank returns the number of axes.
func (v *View[T]) Rank() int { return len(v.dims) }

// Dims returns the dimensions of each axis. It should not be changed.
func (v *View[T]) Dims() []int { return v.dims }

// Dim returns the dimension of the axis.
func (v *View[T]) Dim(axis int) int { return v.dims[axis] }

// Stride returns the stride in elements of the axis.
func (v *View[T]) Stride(axis int) int { return v.strides[axis] }

// Size returns the number of elements addressed by the view.
func (v *View[T]) Size() int {
	size := 1
	for _, dim := range v.dims {
		size *= dim
	}
	return size
}

// Offset returns the current base offset.
func (v *View[T]) Offset() int { return v.offset }

// Advance moves the base offset forward by count elements of the axis.
func (v *View[T]) Advance(axis, count int) {
	v.offset += v.strides[axis] * count
}

// Retreat moves the base offset back by count elements of the axis. It undoes Advance.
func (v *View[T]) Retreat(axis, count int) {
	v.offset -= v.strides[axis] * count
}

// lastStride is the stride of the innermost axis, or 0 for scalars.
func (v *View[T]) lastStride() int {
	if len(v.strides) == 0 {
		return 0
	}
	return v.strides[len(v.strides)-1]
}

// At returns the value at the given column of the innermost axis, relative to the current offset.
func (v *View[T]) At(col int) T {
	return v.data[v.offset+col*v.lastStride()]
}

// Set writes the value at the given column of the innermost axis, relative to the current offset.
func (v *View[T]) Set(col int, value T) {
	v.data[v.offset+col*v.lastStride()] = value
}

// Clone returns a View sharing the same data, with an independent offset.
func (v *View[T]) Clone() *View[T] {
	return &View[T]{
		data:    v.data,
		dims:    v.dims,
		strides: v.strides,
		offset:  v.offset,
	}
}

// CheckBounds returns an error if any element reachable from the current offset is outside the data buffer.
// Views with a zero dimension reach no elements and are always within bounds.
func (v *View[T]) CheckBounds() error {
	if v.Size() == 0 {
		return nil
	}
	lowest, highest := v.offset, v.offset
	for axis, dim := range v.dims {
		reach := (dim - 1) * v.strides[axis]
		if reach < 0 {
			lowest += reach
		} else {
			highest += reach
		}
	}
	if lowest < 0 || highest >= len(v.data) {
		return errors.Errorf("view %s reaches elements [%d, %d], but data has %d elements",
			v, lowest, highest, len(v.data))
	}
	return nil
}

// SameDims returns whether both views have the same dimensions.
// The element type of the other view may differ.
func SameDims[T1, T2 Element](v1 *View[T1], v2 *View[T2]) bool {
	if len(v1.dims) != len(v2.dims) {
		return false
	}
	for axis, dim := range v1.dims {
		if v2.dims[axis] != dim {
			return false
		}
	}
	return true
}

// String implements fmt.Stringer.
func (v *View[T]) String() string {
	var zero T
	return fmt.Sprintf("View[%T](dims=%v, strides=%v, offset=%d)", zero, v.dims, v.strides, v.offset)
}
