// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package xslices provide missing functionality to the slices package.
package xslices

import (
	"flag"
	"fmt"
	"strings"
)

// FillSlice sets all elements of slice to value.
func FillSlice[T any](slice []T, value T) {
	if len(slice) == 0 {
		return
	}
	// Doubling copies are faster than a loop for large slices.
	slice[0] = value
	for filled := 1; filled < len(slice); filled *= 2 {
		copy(slice[filled:], slice[:filled])
	}
}

// Map returns the slice of fn applied to each element of in.
func Map[In, Out any](in []In, fn func(e In) Out) []Out {
	out := make([]Out, len(in))
	for i, e := range in {
		out[i] = fn(e)
	}
	return out
}

// Flag registers in flag.CommandLine a flag with a comma-separated list of values, each
// converted with parseFn. An empty value sets an empty list.
func Flag[T any](name string, defaultValue []T, usage string, parseFn func(value string) (T, error)) *[]T {
	f := &listFlag[T]{values: defaultValue, parseFn: parseFn}
	flag.Var(f, name, usage)
	return &f.values
}

// listFlag implements flag.Value for Flag.
type listFlag[T any] struct {
	values  []T
	parseFn func(value string) (T, error)
}

func (f *listFlag[T]) String() string {
	if f == nil {
		return ""
	}
	parts := make([]string, len(f.values))
	for i, v := range f.values {
		parts[i] = fmt.Sprint(v)
	}
	return strings.Join(parts, ",")
}

func (f *listFlag[T]) Set(list string) error {
	values := make([]T, 0)
	if list != "" {
		for _, part := range strings.Split(list, ",") {
			v, err := f.parseFn(part)
			if err != nil {
				return err
			}
			values = append(values, v)
		}
	}
	f.values = values
	return nil
}
