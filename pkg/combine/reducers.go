// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package combine

// Reducer reduces the sorted samples of one pixel to a value.
//
// goodpix is the number of valid samples, sorted at the start of samples. lowTrim and highTrim
// are the number of lowest and highest samples to discard. ninputs is the number of
// inputs, and samples has at least ninputs elements, the ones after goodpix set to zero.
type Reducer func(goodpix, lowTrim, highTrim, ninputs int, samples []float64) float64

// degenerate is the value of Median and Average when no sample survives.
// It is zero unless a sample was collected at the last position.
func degenerate(ninputs int, samples []float64) float64 {
	if ninputs > 0 {
		return samples[ninputs-1]
	}
	return 0
}

// reduceMedian returns the median of the samples left after trimming.
//
// If trimming would discard all samples, the trims are reduced by one at a time (each while
// still positive), until at least one sample survives.
func reduceMedian(goodpix, lowTrim, highTrim, ninputs int, samples []float64) float64 {
	m := goodpix - highTrim - lowTrim
	if m <= 0 && goodpix > 0 {
		for highTrim+lowTrim >= goodpix {
			if highTrim > 0 {
				highTrim--
			}
			if lowTrim > 0 {
				lowTrim--
			}
		}
		m = goodpix - highTrim - lowTrim
	}
	if m <= 0 {
		return degenerate(ninputs, samples)
	}
	mid := lowTrim + m/2
	if m%2 == 1 {
		return samples[mid]
	}
	return (samples[mid] + samples[mid-1]) / 2.0
}

// reduceAverage returns the mean of the samples left after trimming.
// Trims are not reduced.
func reduceAverage(goodpix, lowTrim, highTrim, ninputs int, samples []float64) float64 {
	m := goodpix - highTrim - lowTrim
	if m <= 0 {
		return degenerate(ninputs, samples)
	}
	var sum float64
	for _, v := range samples[lowTrim : lowTrim+m] {
		sum += v
	}
	return sum / float64(m)
}

// reduceMinimum returns the smallest sample left after trimming, or 0 if none is left.
func reduceMinimum(goodpix, lowTrim, highTrim, _ int, samples []float64) float64 {
	if goodpix-highTrim-lowTrim <= 0 {
		return 0
	}
	return samples[lowTrim]
}
