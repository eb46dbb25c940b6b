// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"flag"
	"math"
	"path/filepath"
	"testing"

	"github.com/gomlx/imcombine/pkg/combine"
	"github.com/gomlx/imcombine/pkg/core/dtypes"
	"github.com/gomlx/imcombine/pkg/core/tensors"
	"github.com/gomlx/imcombine/pkg/core/tensors/images"
	"github.com/gomlx/imcombine/pkg/core/tensors/numpy"
	"github.com/gomlx/imcombine/pkg/stack"
	"github.com/gomlx/imcombine/pkg/support/fsutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseOptionalFloat(t *testing.T) {
	v, err := parseOptionalFloat("mask_low", "")
	require.NoError(t, err)
	assert.Nil(t, v)

	v, err = parseOptionalFloat("mask_low", " 1.5e3 ")
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.Equal(t, 1500.0, *v)

	_, err = parseOptionalFloat("mask_high", "lots")
	require.ErrorContains(t, err, "-mask_high")
}

// setFlags sets the command-line flags for the duration of the test.
func setFlags(t *testing.T, values map[string]string) {
	for name, value := range values {
		f := flag.Lookup(name)
		require.NotNil(t, f, "flag -%s", name)
		require.NoError(t, flag.Set(name, value))
		t.Cleanup(func() { _ = flag.Set(name, f.DefValue) })
	}
}

func TestParseFlags(t *testing.T) {
	setFlags(t, map[string]string{"kind": "IMEAN", "mask_high": "3", "fill": "legacy", "dtype": "uint16"})
	cfg, err := parseFlags()
	require.NoError(t, err)
	assert.Equal(t, combine.IAverage, cfg.statistic)
	assert.False(t, cfg.isSum)
	assert.Equal(t, "iaverage", cfg.kindName())
	assert.Equal(t, combine.FillLegacy, cfg.fillPolicy)
	assert.Nil(t, cfg.maskLow)
	require.NotNil(t, cfg.maskHigh)
	assert.Equal(t, 3.0, *cfg.maskHigh)
	assert.Equal(t, dtypes.Uint16, cfg.dtype)

	setFlags(t, map[string]string{"kind": "Sum"})
	cfg, err = parseFlags()
	require.NoError(t, err)
	assert.Equal(t, "sum", cfg.kindName())

	setFlags(t, map[string]string{"kind": "mode"})
	_, err = parseFlags()
	require.ErrorIs(t, err, combine.ErrInvalidStatistic)
}

func TestRunWithMasksAndThresholds(t *testing.T) {
	dir := t.TempDir()
	var paths []string
	for i, values := range [][]float32{{1, 10}, {2, 20}, {3, 30}} {
		path := filepath.Join(dir, "frame"+string(rune('0'+i))+".npy")
		require.NoError(t, numpy.ToNpyFile(tensors.FromValue(values), path))
		paths = append(paths, path)
	}
	maskPath := filepath.Join(dir, "mask.npy")
	require.NoError(t, numpy.ToNpyFile(tensors.FromValue([]bool{false, true}), maskPath))
	outPath := filepath.Join(dir, "out.npy")
	setFlags(t, map[string]string{
		"kind":      "imean",
		"masks":     maskPath + "," + maskPath + "," + maskPath,
		"mask_high": "3",
		"out":       outPath,
		"progress":  "false",
	})
	require.NoError(t, run(paths))
	loaded, err := numpy.FromNpyFile(outPath)
	require.NoError(t, err)
	// Column 0: 3 is above the threshold. Column 1: all masked, filled with the first non-zero value.
	assert.Equal(t, []float32{1.5, 10}, loaded.Value())

	// The output exists now.
	require.ErrorIs(t, run(paths), fsutil.ErrExists)
	setFlags(t, map[string]string{"overwrite": "true", "kind": "sum"})
	require.NoError(t, run(paths))
	loaded, err = numpy.FromNpyFile(outPath)
	require.NoError(t, err)
	assert.Equal(t, []float32{6, 60}, loaded.Value())
}

func TestLoadInputsNpz(t *testing.T) {
	dir := t.TempDir()
	npzPath := filepath.Join(dir, "frames.npz")
	require.NoError(t, numpy.ToNpzFile(map[string]*tensors.Tensor{
		"frame_b": tensors.FromValue([]int16{4, 5}),
		"frame_a": tensors.FromValue([]int16{1, 2}),
		"frame_c": tensors.FromValue([]int16{7, 8}),
	}, npzPath))

	arrays, names, err := loadInputs([]string{npzPath}, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"frame_a", "frame_b", "frame_c"}, names)
	require.Len(t, arrays, 3)
	assert.Equal(t, []int16{1, 2}, arrays[0].Value())
	assert.Equal(t, []int16{7, 8}, arrays[2].Value())

	_, _, err = loadInputs([]string{npzPath, npzPath}, false)
	require.ErrorContains(t, err, "must be the only input")
}

func TestLoadInputsNpyAndMasks(t *testing.T) {
	dir := t.TempDir()
	var paths []string
	for i, values := range [][]float32{{1, 10}, {2, 20}, {3, 30}} {
		path := filepath.Join(dir, "frame"+string(rune('0'+i))+".npy")
		require.NoError(t, numpy.ToNpyFile(tensors.FromValue(values), path))
		paths = append(paths, path)
	}
	arrays, names, err := loadInputs(paths, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"frame0.npy", "frame1.npy", "frame2.npy"}, names)
	assert.Equal(t, []float32{2, 20}, arrays[1].Value())

	maskPath := filepath.Join(dir, "mask.npy")
	require.NoError(t, numpy.ToNpyFile(tensors.FromValue([]bool{false, true}), maskPath))
	masks, err := loadMasks([]string{maskPath, maskPath, maskPath})
	require.NoError(t, err)
	require.Len(t, masks, 3)
	assert.Equal(t, dtypes.Bool, masks[0].DType())

	_, err = loadMasks([]string{filepath.Join(dir, "mask.png")})
	require.Error(t, err)

	// Combining them the way run does, with an output written to .npy.
	result, err := stack.New(arrays...).BadMasks(masks...).IMedian()
	require.NoError(t, err)
	outPath := filepath.Join(dir, "out.npy")
	require.NoError(t, saveOutput(result, outPath))
	loaded, err := numpy.FromNpyFile(outPath)
	require.NoError(t, err)
	assert.Equal(t, []float32{2, 10}, loaded.Value())
}

func TestImagesRoundTrip(t *testing.T) {
	dir := t.TempDir()
	var paths []string
	for i, level := range []float32{0.2, 0.4, 0.6} {
		img := tensors.FromScalarAndDimensions(level, 3, 5)
		path := filepath.Join(dir, "img"+string(rune('0'+i))+".png")
		require.NoError(t, images.SaveFile(img, path, images.ToImage()))
		paths = append(paths, path)
	}
	arrays, _, err := loadInputs(paths, false)
	require.NoError(t, err)
	require.Len(t, arrays, 3)
	assert.Equal(t, []int{3, 5}, arrays[0].Shape().Dimensions)

	result, err := stack.New(arrays...).Median()
	require.NoError(t, err)
	outPath := filepath.Join(dir, "median.png")
	require.NoError(t, saveOutput(result, outPath))
	loaded, err := images.LoadFile(outPath, images.ToTensor(dtypes.Float32))
	require.NoError(t, err)
	values, err := tensors.ToFloat64s(loaded)
	require.NoError(t, err)
	for _, v := range values {
		assert.InDelta(t, 0.4, v, 1e-3)
	}

	rgbArrays, _, err := loadInputs(paths[:1], true)
	require.NoError(t, err)
	assert.Equal(t, []int{3, 5, 3}, rgbArrays[0].Shape().Dimensions)
}

func TestSummary(t *testing.T) {
	output := tensors.FromValue([]float64{1, 2, 3, 4, math.NaN()})
	st, err := computeOutputStats(output)
	require.NoError(t, err)
	assert.Equal(t, 4, st.count)
	assert.Equal(t, 2.5, st.mean)
	assert.InDelta(t, math.Sqrt(5.0/3.0), st.stdDev, 1e-12)
	assert.Equal(t, 2.0, st.median)
	assert.Equal(t, 1.0, st.min)
	assert.Equal(t, 4.0, st.max)

	st, err = computeOutputStats(tensors.FromValue([]float64{7}))
	require.NoError(t, err)
	assert.Equal(t, 0.0, st.stdDev)

	names := []string{"a", "b", "c", "d", "e", "f"}
	arrays := make([]*tensors.Tensor, len(names))
	for i := range arrays {
		arrays[i] = tensors.FromValue([]float64{1, 2, 3, 4, 5})
	}
	rows, err := summaryRows(names, arrays, output, config{statistic: combine.IAverage, fillPolicy: combine.FillLegacy})
	require.NoError(t, err)
	byName := make(map[string]string, len(rows))
	for _, row := range rows {
		require.Len(t, row, 2)
		byName[row[0]] = row[1]
	}
	assert.Equal(t, "6", byName["# inputs"])
	assert.Equal(t, "a, b, c, d, ... (2 more)", byName["inputs"])
	assert.Equal(t, "240 B", byName["input bytes"])
	assert.Equal(t, "iaverage", byName["combination"])
	assert.Equal(t, "legacy", byName["fill policy"])
	assert.Equal(t, "2.5", byName["mean"])
	assert.Equal(t, "[1, 4]", byName["range"])

	table, err := summaryTable(names, arrays, output, config{statistic: combine.Median})
	require.NoError(t, err)
	assert.Contains(t, table.Render(), "median")
}
