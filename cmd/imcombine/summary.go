// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/imcombine/pkg/core/tensors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// maxNamesListed in the summary, the others are elided.
const maxNamesListed = 4

var (
	oddRowStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFF")).
			PaddingLeft(1).PaddingRight(1)
	evenRowStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#999")).
			PaddingLeft(1).PaddingRight(1)

	titleStyle = lipgloss.NewStyle().Bold(true).Padding(1, 4, 1, 4)
)

func newPlainTable() *lgtable.Table {
	return lgtable.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))).
		StyleFunc(func(row, col int) (s lipgloss.Style) {
			if row%2 == 0 {
				s = oddRowStyle
			} else {
				s = evenRowStyle
			}
			if col == 0 {
				s = s.Align(lipgloss.Right)
			} else {
				s = s.Align(lipgloss.Left)
			}
			return
		})
}

// outputStats holds the statistics of the combined output, NaN values excluded.
type outputStats struct {
	count                          int
	mean, stdDev, median, min, max float64
}

// computeOutputStats returns the statistics of the non-NaN values of t.
func computeOutputStats(t *tensors.Tensor) (outputStats, error) {
	values, err := tensors.ToFloat64s(t)
	if err != nil {
		return outputStats{}, err
	}
	values = slices.DeleteFunc(values, math.IsNaN)
	st := outputStats{count: len(values)}
	if st.count == 0 {
		return st, nil
	}
	st.mean, st.stdDev = stat.MeanStdDev(values, nil)
	if st.count == 1 {
		st.stdDev = 0
	}
	slices.Sort(values)
	st.median = stat.Quantile(0.5, stat.Empirical, values, nil)
	st.min, st.max = floats.Min(values), floats.Max(values)
	return st, nil
}

// summaryRows returns the rows (name and value) of the summary table.
func summaryRows(names []string, arrays []*tensors.Tensor, output *tensors.Tensor, cfg config) ([][]string, error) {
	var inputBytes uintptr
	for _, array := range arrays {
		inputBytes += array.Memory()
	}
	listed := names
	if len(listed) > maxNamesListed {
		listed = append(slices.Clone(listed[:maxNamesListed]), fmt.Sprintf("... (%d more)", len(names)-maxNamesListed))
	}
	st, err := computeOutputStats(output)
	if err != nil {
		return nil, err
	}
	rows := [][]string{
		{"# inputs", humanize.Comma(int64(len(arrays)))},
		{"inputs", strings.Join(listed, ", ")},
		{"input shape", arrays[0].Shape().String()},
		{"input bytes", humanize.Bytes(uint64(inputBytes))},
		{"combination", cfg.kindName()},
		{"trims (low, high)", fmt.Sprintf("%d, %d", *flagNLow, *flagNHigh)},
		{"output shape", output.Shape().String()},
		{"output bytes", humanize.Bytes(uint64(output.Memory()))},
	}
	if !cfg.isSum && cfg.statistic.IsFilling() {
		rows = append(rows, []string{"fill policy", cfg.fillPolicy.String()})
	}
	if st.count > 0 {
		rows = append(rows,
			[]string{"mean", humanize.FtoaWithDigits(st.mean, 6)},
			[]string{"std-dev", humanize.FtoaWithDigits(st.stdDev, 6)},
			[]string{"median", humanize.FtoaWithDigits(st.median, 6)},
			[]string{"range", fmt.Sprintf("[%s, %s]",
				humanize.FtoaWithDigits(st.min, 6), humanize.FtoaWithDigits(st.max, 6))},
		)
	}
	return rows, nil
}

// summaryTable returns the summary of the combination, ready to render.
func summaryTable(names []string, arrays []*tensors.Tensor, output *tensors.Tensor, cfg config) (*lgtable.Table, error) {
	rows, err := summaryRows(names, arrays, output, cfg)
	if err != nil {
		return nil, err
	}
	table := newPlainTable()
	for _, row := range rows {
		table.Row(row...)
	}
	return table, nil
}
