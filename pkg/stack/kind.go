// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package stack

import (
	"strings"

	"github.com/gomlx/imcombine/pkg/combine"
	"github.com/pkg/errors"
)

// ErrRejectAll is returned by CombineKind when the trims discard all the values of every pixel.
var ErrRejectAll = errors.New("rejecting all pixels due to large low and/or high trims")

// KindSum is the name of the element-wise sum, see Stack.Sum.
const KindSum = "sum"

// kindAliases maps alternative names to the combine statistic names.
var kindAliases = map[string]string{
	"mean":  combine.Average.String(),
	"imean": combine.IAverage.String(),
}

// KindNames returns the names accepted by ParseKind, aliases included.
func KindNames() []string {
	names := make([]string, 0, len(combine.StatisticValues())+len(kindAliases)+1)
	for _, statistic := range combine.StatisticValues() {
		names = append(names, statistic.String())
	}
	return append(names, "mean", "imean", KindSum)
}

// ParseKind parses the name of a combination, case-insensitive: a combine.Statistic name, "mean" (average),
// "imean" (iaverage) or "sum".
// For "sum", isSum is true and statistic should be ignored.
//
// Unknown names return an error matching combine.ErrInvalidStatistic.
func ParseKind(name string) (statistic combine.Statistic, isSum bool, err error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == KindSum {
		return combine.Median, true, nil
	}
	if alias, found := kindAliases[name]; found {
		name = alias
	}
	statistic, err = combine.ParseStatistic(name)
	return statistic, false, err
}
