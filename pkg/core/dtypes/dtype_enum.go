// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package dtypes

// DType is an enum represents the data type of an array element.
//
// The numbering follows the GoMLX/PJRT enum, so values can be exchanged with tools built on it.
// Only the types that can be stacked (or used as masks) are defined here.
type DType int32

const (
	// InvalidDType serves as the zero value, for uninitialized shapes.
	InvalidDType DType = 0

	// Bool is a two-state predicate. Typically used for masks.
	Bool DType = 1

	// Int8 and the following are signed integral values of fixed width.
	Int8  DType = 2
	Int16 DType = 3
	Int32 DType = 4
	Int64 DType = 5

	// Uint8 and the following are unsigned integral values of fixed width.
	Uint8  DType = 6
	Uint16 DType = 7
	Uint32 DType = 8
	Uint64 DType = 9

	// Float16 is the IEEE 754 half-precision float, see github.com/x448/float16.
	Float16 DType = 10
	Float32 DType = 11
	Float64 DType = 12
)

// Aliases to the dtypes, shorter and closer to the NumPy names.
const (
	F16 = Float16
	F32 = Float32
	F64 = Float64
	S8  = Int8
	S16 = Int16
	S32 = Int32
	S64 = Int64
	U8  = Uint8
	U16 = Uint16
	U32 = Uint32
	U64 = Uint64
)

var dtypeNames = map[DType]string{
	InvalidDType: "InvalidDType",
	Bool:         "Bool",
	Int8:         "Int8",
	Int16:        "Int16",
	Int32:        "Int32",
	Int64:        "Int64",
	Uint8:        "Uint8",
	Uint16:       "Uint16",
	Uint32:       "Uint32",
	Uint64:       "Uint64",
	Float16:      "Float16",
	Float32:      "Float32",
	Float64:      "Float64",
}

// String implements fmt.Stringer.
func (dtype DType) String() string {
	if name, found := dtypeNames[dtype]; found {
		return name
	}
	return "DType(" + itoa(int(dtype)) + ")"
}

// MapOfNames to their dtypes. It includes also the short aliases and, after init(), the lower-case
// version of every name.
var MapOfNames = map[string]DType{
	"InvalidDType": InvalidDType,
	"Bool":         Bool,
	"Int8":         Int8,
	"Int16":        Int16,
	"Int32":        Int32,
	"Int64":        Int64,
	"Uint8":        Uint8,
	"Uint16":       Uint16,
	"Uint32":       Uint32,
	"Uint64":       Uint64,
	"Float16":      Float16,
	"Float32":      Float32,
	"Float64":      Float64,
	"F16":          Float16,
	"F32":          Float32,
	"F64":          Float64,
	"S8":           Int8,
	"S16":          Int16,
	"S32":          Int32,
	"S64":          Int64,
	"U8":           Uint8,
	"U16":          Uint16,
	"U32":          Uint32,
	"U64":          Uint64,
}
