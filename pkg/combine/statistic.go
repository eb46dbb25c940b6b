// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package combine

import (
	"strings"

	"github.com/pkg/errors"
)

// Statistic selects how the samples of a pixel are reduced to one value.
//
// The "filling" variants (IMedian, IAverage) reduce the same way as Median and Average, but when a
// pixel has all of its samples masked, the first non-zero input value is used as its only sample.
type Statistic int

const (
	Median Statistic = iota
	Average
	Minimum
	IMedian
	IAverage
)

var statisticNames = [...]string{
	Median:   "median",
	Average:  "average",
	Minimum:  "minimum",
	IMedian:  "imedian",
	IAverage: "iaverage",
}

// StatisticValues returns all valid values of Statistic.
func StatisticValues() []Statistic {
	return []Statistic{Median, Average, Minimum, IMedian, IAverage}
}

// IsAStatistic returns whether s is one of the defined values.
func (s Statistic) IsAStatistic() bool {
	return s >= Median && s <= IAverage
}

// String returns the name used to select the statistic, e.g. "imedian".
func (s Statistic) String() string {
	if !s.IsAStatistic() {
		return "Statistic(" + itoa(int(s)) + ")"
	}
	return statisticNames[s]
}

// ParseStatistic returns the Statistic with the exact given name.
// Names are case-sensitive: "median", "average", "minimum", "imedian" or "iaverage".
//
// It returns an error wrapping ErrInvalidStatistic for any other name.
func ParseStatistic(name string) (Statistic, error) {
	for s, sName := range statisticNames {
		if sName == name {
			return Statistic(s), nil
		}
	}
	return Median, errors.Wrapf(ErrInvalidStatistic, "%q is not one of %s", name, strings.Join(statisticNames[:], ", "))
}

// IsFilling returns whether the statistic uses a fallback sample for pixels without valid samples.
// These are the statistics whose names start with "i".
func (s Statistic) IsFilling() bool {
	return s.IsAStatistic() && strings.HasPrefix(statisticNames[s], "i")
}

// Reducer returns the function used to reduce the samples of a pixel, or nil if s is invalid.
func (s Statistic) Reducer() Reducer {
	switch s {
	case Median, IMedian:
		return reduceMedian
	case Average, IAverage:
		return reduceAverage
	case Minimum:
		return reduceMinimum
	}
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (s Statistic) MarshalText() ([]byte, error) {
	if !s.IsAStatistic() {
		return nil, errors.Wrapf(ErrInvalidStatistic, "value %d", int(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Statistic) UnmarshalText(text []byte) error {
	parsed, err := ParseStatistic(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// FillPolicy defines for which pixels the fallback sample of the filling statistics is used.
type FillPolicy int

const (
	// FillUniform uses the fallback sample for every pixel.
	FillUniform FillPolicy = iota

	// FillLegacy uses the fallback sample only for the first pixel of each row of the innermost axis,
	// or for every pixel if there is only one input. It reproduces bit-for-bit the historical
	// behavior, where the fallback trigger was consumed by the first pixel of each row.
	FillLegacy
)

// String implements fmt.Stringer.
func (p FillPolicy) String() string {
	switch p {
	case FillUniform:
		return "uniform"
	case FillLegacy:
		return "legacy"
	}
	return "FillPolicy(" + itoa(int(p)) + ")"
}

// ParseFillPolicy parses "uniform" or "legacy".
func ParseFillPolicy(name string) (FillPolicy, error) {
	switch name {
	case "uniform":
		return FillUniform, nil
	case "legacy":
		return FillLegacy, nil
	}
	return FillUniform, errors.Errorf("invalid fill policy %q, valid values are \"uniform\" or \"legacy\"", name)
}
