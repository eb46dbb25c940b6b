// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package combine

import (
	"strconv"

	"github.com/pkg/errors"
)

// MaxArrays is the maximum number of arrays that can be combined in one call.
const MaxArrays = 1800

// Errors returned by Combine, wrapped with context. Match them with errors.Is.
// They are all detected before the traversal starts, so the output is left untouched.
var (
	ErrTooManyArrays    = errors.New("too many arrays")
	ErrInvalidStatistic = errors.New("invalid combination function")
	ErrNoInputs         = errors.New("no input arrays")
	ErrNilOutput        = errors.New("output array is nil")
	ErrMaskCount        = errors.New("number of masks differs from number of inputs")
	ErrShapeMismatch    = errors.New("all arrays must have identical shapes")
	ErrOutOfBounds      = errors.New("array strides reach outside of its data")
	ErrNegativeTrim     = errors.New("trim counts must be non-negative")
)

func itoa(v int) string { return strconv.Itoa(v) }
