// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package images provides several functions to transform images back and
// forth from tensors, and to load and save them from/to files.
//
// Exposures are usually single channel, so by default images are converted to grayscale
// tensors shaped `[height, width]`. Use ToTensorConfig.RGB or ToTensorConfig.WithAlpha for
// `[height, width, channels]` tensors.
package images

import (
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/imcombine/pkg/core/dtypes"
	"github.com/gomlx/imcombine/pkg/core/shapes"
	"github.com/gomlx/imcombine/pkg/core/tensors"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// ToTensorConfig holds the configuration returned by the ToTensor function. Once
// configured, use Single or Batch to actually convert.
type ToTensorConfig struct {
	channels int
	maxValue float64
	dtype    dtypes.DType
}

// ToTensor converts an image (or batch) to a tensor.
//
// It returns a configuration object that can be further configured. Once set, use Single or Batch
// methods to convert an image or a batch of images.
//
// The default is converting to grayscale (1 channel, no channels axis).
func ToTensor(dtype dtypes.DType) *ToTensorConfig {
	tt := &ToTensorConfig{
		channels: 1,
		maxValue: 1.0,
		dtype:    dtype,
	}
	if !dtype.IsFloat() {
		tt.maxValue = 255.0
	}
	return tt
}

// RGB configures the conversion to keep the red, green and blue channels, so the converted
// tensor will have a trailing channels axis of dimension 3.
//
// It returns the ToTensorConfig object, so configuration calls can be cascaded.
func (tt *ToTensorConfig) RGB() *ToTensorConfig {
	tt.channels = 3
	return tt
}

// WithAlpha configures the conversion to keep the RGB and the alpha channels,
// so the converted tensor will have a trailing channels axis of dimension 4.
//
// It returns the ToTensorConfig object, so configuration calls can be cascaded.
func (tt *ToTensorConfig) WithAlpha() *ToTensorConfig {
	tt.channels = 4
	return tt
}

// MaxValue sets the value of a saturated channel. It defaults to 1.0 for float dtypes
// and 255 for integer types.
//
// It returns the ToTensorConfig object, so configuration calls can be cascaded.
func (tt *ToTensorConfig) MaxValue(v float64) *ToTensorConfig {
	tt.maxValue = v
	return tt
}

// Single converts the given img to a tensor shaped `[height, width]` (grayscale) or
// `[height, width, channels]`.
//
// It panics in case of error.
func (tt *ToTensorConfig) Single(img image.Image) *tensors.Tensor {
	return tt.convert([]image.Image{img}, false)
}

// Batch converts the given images to a tensor shaped `[batch_size, height, width]` (grayscale) or
// `[batch_size, height, width, channels]`. All images must have the same size.
//
// It panics in case of error.
func (tt *ToTensorConfig) Batch(images []image.Image) *tensors.Tensor {
	return tt.convert(images, true)
}

func (tt *ToTensorConfig) convert(images []image.Image, batch bool) *tensors.Tensor {
	if len(images) == 0 {
		exceptions.Panicf("images.ToTensor: no images given")
	}
	if !tt.dtype.IsFloat() && !tt.dtype.IsInt() {
		exceptions.Panicf("images.ToTensor does not support dtype %s", tt.dtype)
	}
	imgSize := images[0].Bounds().Size()
	dims := []int{imgSize.Y, imgSize.X}
	if tt.channels > 1 {
		dims = append(dims, tt.channels)
	}
	if batch {
		dims = append([]int{len(images)}, dims...)
	}
	values := tensors.FromShape(shapes.Make(dtypes.Float64, dims...))
	scale := tt.maxValue / float64(0xFFFF)
	tensors.MustMutableFlatData(values, func(flat []float64) {
		pos := 0
		for imgIdx, img := range images {
			if !img.Bounds().Size().Eq(imgSize) {
				exceptions.Panicf("image[%d] has size %s, but image[0] has size %s -- they must all be the same",
					imgIdx, img.Bounds().Size(), imgSize)
			}
			minPt := img.Bounds().Min
			for y := range imgSize.Y {
				for x := range imgSize.X {
					c := img.At(minPt.X+x, minPt.Y+y)
					if tt.channels == 1 {
						// color.Gray16Model applies the usual luminance weights.
						flat[pos] = float64(color.Gray16Model.Convert(c).(color.Gray16).Y) * scale
						pos++
						continue
					}
					r, g, b, a := c.RGBA()
					rgba := [4]uint32{r, g, b, a}
					for _, channel := range rgba[:tt.channels] {
						flat[pos] = float64(channel) * scale
						pos++
					}
				}
			}
		}
	})
	if tt.dtype == dtypes.Float64 {
		return values
	}
	if tt.dtype.IsInt() {
		// Round instead of truncating, so that values survive a round-trip.
		tensors.MustMutableFlatData(values, func(flat []float64) {
			for ii, v := range flat {
				flat[ii] = math.Round(v)
			}
		})
	}
	converted, err := tensors.ConvertDType(values, tt.dtype)
	if err != nil {
		panic(err)
	}
	return converted
}

// ToImageConfig holds the configuration returned by the ToImage function. Once
// configured, use Single or Batch to actually convert a tensor to image(s).
type ToImageConfig struct {
	maxValue float64
}

// ToImage returns a configuration that can be used to convert tensors to Images.
// Use Single or Batch to convert single images or batch of images at once.
//
// Grayscale tensors (no channels axis) are converted to *image.Gray16, the others to *image.NRGBA.
func ToImage() *ToImageConfig {
	return &ToImageConfig{}
}

// MaxValue sets the value of a saturated channel. It defaults to 1.0 for float dtypes
// and 255 for integer types. Values outside of `[0, maxValue]` are clipped.
//
// It returns the ToImageConfig object, so configuration calls can be cascaded.
func (ti *ToImageConfig) MaxValue(v float64) *ToImageConfig {
	ti.maxValue = v
	return ti
}

// Single converts a tensor shaped `[height, width]` or `[height, width, channels]` to an image.
//
// It panics in case of error.
func (ti *ToImageConfig) Single(t *tensors.Tensor) image.Image {
	var dims []int
	switch t.Rank() {
	case 2:
		dims = []int{1, t.Shape().Dimensions[0], t.Shape().Dimensions[1], 1}
	case 3:
		dims = append([]int{1}, t.Shape().Dimensions...)
	default:
		exceptions.Panicf("images.ToImage(%s).Single: tensor must be rank-2 (grayscale) or rank-3", t.Shape())
	}
	return ti.convert(t, dims)[0]
}

// Batch converts a tensor shaped `[batch_size, height, width]` or `[batch_size, height, width, channels]`
// to a collection of images.
//
// A rank-3 tensor is taken as a batch of grayscale images.
//
// It panics in case of error.
func (ti *ToImageConfig) Batch(t *tensors.Tensor) []image.Image {
	var dims []int
	switch t.Rank() {
	case 3:
		dims = append(t.Shape().Clone().Dimensions, 1)
	case 4:
		dims = t.Shape().Clone().Dimensions
	default:
		exceptions.Panicf("images.ToImage(%s).Batch: tensor must be rank-3 (grayscale) or rank-4", t.Shape())
	}
	return ti.convert(t, dims)
}

// convert with dims given as `[batch_size, height, width, channels]`.
func (ti *ToImageConfig) convert(t *tensors.Tensor, dims []int) []image.Image {
	numImages, height, width, channels := dims[0], dims[1], dims[2], dims[3]
	if channels != 1 && channels != 3 && channels != 4 {
		exceptions.Panicf("images.ToImage: tensor shaped %s has %d channels, only 1, 3 or 4 are supported",
			t.Shape(), channels)
	}
	maxValue := ti.maxValue
	if maxValue == 0 {
		maxValue = 255.0
		if t.DType().IsFloat() {
			maxValue = 1.0
		}
	}
	values, err := tensors.ToFloat64s(t)
	if err != nil {
		panic(err)
	}
	// normalize to [0, 1].
	normalize := func(v float64) float64 {
		v /= maxValue
		if v < 0 || math.IsNaN(v) {
			return 0
		}
		return min(v, 1)
	}
	images := make([]image.Image, 0, numImages)
	pos := 0
	for range numImages {
		rect := image.Rect(0, 0, width, height)
		if channels == 1 {
			img := image.NewGray16(rect)
			for y := range height {
				for x := range width {
					img.SetGray16(x, y, color.Gray16{Y: uint16(math.Round(normalize(values[pos]) * 0xFFFF))})
					pos++
				}
			}
			images = append(images, img)
			continue
		}
		img := image.NewNRGBA(rect)
		for y := range height {
			for x := range width {
				offset := y*img.Stride + x*4
				for c := range channels {
					img.Pix[offset+c] = uint8(math.Round(normalize(values[pos]) * 255))
					pos++
				}
				if channels < 4 {
					img.Pix[offset+3] = 255
				}
			}
		}
		images = append(images, img)
	}
	return images
}

// LoadFile reads an image file (any format supported by github.com/disintegration/imaging, with
// EXIF orientation applied) and converts it to a tensor using the given configuration.
func LoadFile(filePath string, config *ToTensorConfig) (t *tensors.Tensor, err error) {
	img, err := imaging.Open(filePath, imaging.AutoOrientation(true))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load image %q", filePath)
	}
	klog.V(2).Infof("images: loaded %q, size %s", filePath, img.Bounds().Size())
	err = exceptions.TryCatch[error](func() { t = config.Single(img) })
	if err != nil {
		return nil, errors.WithMessagef(err, "converting image %q", filePath)
	}
	return t, nil
}

// SaveFile converts the tensor to an image with the given configuration and saves it.
// The format is taken from the file extension (see github.com/disintegration/imaging.Save).
func SaveFile(t *tensors.Tensor, filePath string, config *ToImageConfig) error {
	var img image.Image
	err := exceptions.TryCatch[error](func() { img = config.Single(t) })
	if err != nil {
		return errors.WithMessagef(err, "converting tensor to image %q", filePath)
	}
	if err = imaging.Save(img, filePath); err != nil {
		return errors.Wrapf(err, "failed to save image %q", filePath)
	}
	return nil
}
