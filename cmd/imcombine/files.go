// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"path/filepath"
	"slices"
	"strings"

	"github.com/gomlx/imcombine/pkg/core/dtypes"
	"github.com/gomlx/imcombine/pkg/core/tensors"
	"github.com/gomlx/imcombine/pkg/core/tensors/images"
	"github.com/gomlx/imcombine/pkg/core/tensors/numpy"
	"github.com/gomlx/imcombine/pkg/support/xslices"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// loadInputs reads the arrays to combine, and returns them with a name for each.
//
// The inputs are either a single .npz file (all its arrays, sorted by name), or a list of .npy
// or image files. Images are read as float32 in [0, 1], grayscale unless rgb is set.
func loadInputs(paths []string, rgb bool) (arrays []*tensors.Tensor, names []string, err error) {
	if len(paths) == 1 && isNpz(paths[0]) {
		var arraysMap map[string]*tensors.Tensor
		arraysMap, err = numpy.FromNpzFile(paths[0])
		if err != nil {
			return
		}
		if len(arraysMap) == 0 {
			err = errors.Errorf("no arrays found in %q", paths[0])
			return
		}
		for name := range arraysMap {
			names = append(names, name)
		}
		slices.Sort(names)
		for _, name := range names {
			arrays = append(arrays, arraysMap[name])
		}
		klog.V(1).Infof("loaded %d arrays from %q", len(arrays), paths[0])
		return
	}

	for _, path := range paths {
		var t *tensors.Tensor
		switch {
		case isNpz(path):
			err = errors.Errorf(".npz file %q must be the only input", path)
		case isNpy(path):
			t, err = numpy.FromNpyFile(path)
		default:
			config := images.ToTensor(dtypes.Float32)
			if rgb {
				config.RGB()
			}
			t, err = images.LoadFile(path, config)
		}
		if err != nil {
			return nil, nil, err
		}
		klog.V(2).Infof("loaded %q: %s", path, t.Shape())
		arrays = append(arrays, t)
	}
	names = xslices.Map(paths, filepath.Base)
	return
}

// loadMasks reads one .npy mask per input.
func loadMasks(paths []string) ([]*tensors.Tensor, error) {
	masks := make([]*tensors.Tensor, 0, len(paths))
	for _, path := range paths {
		if !isNpy(path) {
			return nil, errors.Errorf("mask %q is not a .npy file", path)
		}
		mask, err := numpy.FromNpyFile(path)
		if err != nil {
			return nil, err
		}
		masks = append(masks, mask)
	}
	return masks, nil
}

// saveOutput writes the combined tensor to a .npy file, or to an image file, based on the
// extension of the path.
func saveOutput(output *tensors.Tensor, path string) error {
	if isNpy(path) {
		return numpy.ToNpyFile(output, path)
	}
	if isNpz(path) {
		return numpy.ToNpzFile(map[string]*tensors.Tensor{"combined": output}, path)
	}
	return images.SaveFile(output, path, images.ToImage())
}

func isNpy(path string) bool { return strings.EqualFold(filepath.Ext(path), ".npy") }
func isNpz(path string) bool { return strings.EqualFold(filepath.Ext(path), ".npz") }
