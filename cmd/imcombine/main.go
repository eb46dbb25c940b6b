// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// imcombine combines a stack of exposures (numpy arrays or images) pixel by pixel, with
// the median, average or minimum of the values of each pixel.
//
// Example:
//
//	imcombine -kind=median -nhigh=1 -mask_high=60000 -out=combined.npy frame_*.npy
package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/gomlx/imcombine/pkg/combine"
	"github.com/gomlx/imcombine/pkg/core/dtypes"
	"github.com/gomlx/imcombine/pkg/core/tensors"
	"github.com/gomlx/imcombine/pkg/stack"
	"github.com/gomlx/imcombine/pkg/support/fsutil"
	"github.com/gomlx/imcombine/pkg/support/xslices"
	"github.com/janpfeifer/must"
	"github.com/muesli/termenv"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"k8s.io/klog/v2"
)

var (
	flagKind = flag.String("kind", "median",
		"Combination function, case-insensitive: one of median, average (or mean), minimum, imedian, "+
			"iaverage (or imean) or sum. imedian and iaverage fill pixels where all values are masked "+
			"with the first non-zero value. sum ignores masks and trims.")
	flagNLow  = flag.Int("nlow", 0, "Number of lowest values of each pixel excluded from the combination.")
	flagNHigh = flag.Int("nhigh", 0, "Number of highest values of each pixel excluded from the combination.")
	flagMasks = xslices.Flag("masks", nil,
		"Comma-separated list of .npy files with the bad pixel masks, one per input. Non-zero values are excluded.",
		func(value string) (string, error) { return value, nil })
	flagMaskLow = flag.String("mask_low", "",
		"If set, values below it are excluded from the combination, in addition to the -masks.")
	flagMaskHigh = flag.String("mask_high", "",
		"If set, values greater or equal to it are excluded from the combination, in addition to the -masks.")
	flagOut = flag.String("out", "",
		"Output file: a .npy file, or an image file (format taken from the extension).")
	flagDType = flag.String("dtype", "",
		"DType of the output, e.g.: \"float32\", \"uint16\". Defaults to the dtype of the first input.")
	flagParallelism = flag.Int("parallelism", 0,
		"Number of workers: 0 combines serially, a negative value uses as many workers as cores.")
	flagFill      = flag.String("fill", "uniform", "Which pixels imedian and iaverage fill: \"uniform\" or \"legacy\".")
	flagRGB       = flag.Bool("rgb", false, "Image inputs are read with their 3 color channels, instead of grayscale.")
	flagSummary   = flag.Bool("summary", false, "Display a summary of the inputs and the combined output.")
	flagProgress  = flag.Bool("progress", true, "Display a progress bar.")
	flagColor     = flag.Bool("color", true, "Use colors in the summary.")
	flagOverwrite = flag.Bool("overwrite", false, "Overwrite the -out file if it already exists.")
)

// progressThrottle is the minimum time between progress bar updates.
const progressThrottle = 100 * time.Millisecond

func main() {
	klog.InitFlags(nil)
	flag.Usage = func() {
		_, _ = fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] inputs...\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		klog.Errorf("Missing input files to combine. See 'imcombine -help'")
		os.Exit(1)
	}
	if *flagOut == "" {
		klog.Errorf("Missing -out file. See 'imcombine -help'")
		os.Exit(1)
	}
	if !*flagColor {
		lipgloss.SetColorProfile(termenv.Ascii)
	}
	must.M(run(args))
}

// config holds the parsed flags used by run.
type config struct {
	statistic  combine.Statistic
	isSum      bool
	fillPolicy combine.FillPolicy
	maskLow    *float64
	maskHigh   *float64
	dtype      dtypes.DType
}

// parseFlags validates and converts the string flags.
func parseFlags() (cfg config, err error) {
	cfg.statistic, cfg.isSum, err = stack.ParseKind(*flagKind)
	if err != nil {
		return
	}
	cfg.fillPolicy, err = combine.ParseFillPolicy(*flagFill)
	if err != nil {
		return
	}
	cfg.maskLow, err = parseOptionalFloat("mask_low", *flagMaskLow)
	if err != nil {
		return
	}
	cfg.maskHigh, err = parseOptionalFloat("mask_high", *flagMaskHigh)
	if err != nil {
		return
	}
	if *flagDType != "" {
		cfg.dtype, err = dtypes.FromName(*flagDType)
	}
	return
}

// kindName returns the canonical name of the combination.
func (cfg config) kindName() string {
	if cfg.isSum {
		return stack.KindSum
	}
	return cfg.statistic.String()
}

// parseOptionalFloat returns nil for an empty value.
func parseOptionalFloat(name, value string) (*float64, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid value %q for -%s", value, name)
	}
	return &v, nil
}

func run(inputPaths []string) error {
	cfg, err := parseFlags()
	if err != nil {
		return err
	}
	outPath, err := fsutil.ExpandHome(*flagOut)
	if err != nil {
		return err
	}
	if err = fsutil.CheckOutput(outPath, *flagOverwrite); err != nil {
		return err
	}
	inputPaths, err = fsutil.ExpandAll(inputPaths)
	if err != nil {
		return err
	}
	arrays, names, err := loadInputs(inputPaths, *flagRGB)
	if err != nil {
		return err
	}
	var masks []*tensors.Tensor
	if len(*flagMasks) > 0 {
		var maskPaths []string
		maskPaths, err = fsutil.ExpandAll(*flagMasks)
		if err != nil {
			return err
		}
		masks, err = loadMasks(maskPaths)
		if err != nil {
			return err
		}
	}
	klog.V(1).Infof("combining %d arrays with %s (nlow=%d, nhigh=%d, %d masks)",
		len(arrays), cfg.kindName(), *flagNLow, *flagNHigh, len(masks))

	s := stack.New(arrays...).
		Trim(*flagNLow, *flagNHigh).
		Thresholds(cfg.maskLow, cfg.maskHigh).
		FillPolicy(cfg.fillPolicy).
		Parallelism(*flagParallelism).
		OutputDType(cfg.dtype)
	if masks != nil {
		s.BadMasks(masks...)
	}
	showProgress := *flagProgress && !cfg.isSum
	if showProgress {
		s.Progress(newProgressFn())
	}
	output, err := s.CombineKind(cfg.kindName())
	if err != nil {
		return err
	}
	if showProgress {
		fmt.Println()
	}
	if err = saveOutput(output, outPath); err != nil {
		return err
	}
	if *flagSummary {
		table, err := summaryTable(names, arrays, output, cfg)
		if err != nil {
			return err
		}
		fmt.Println(titleStyle.Render("Summary"))
		fmt.Println(table.Render())
	}
	return nil
}

// newProgressFn returns a progress function that creates the progress bar on its first call,
// once the total number of rows is known.
func newProgressFn() func(done, total int) {
	var (
		once sync.Once
		bar  *progressbar.ProgressBar
	)
	return func(_, total int) {
		once.Do(func() {
			bar = progressbar.NewOptions(total,
				progressbar.OptionSetDescription("combining"),
				progressbar.OptionShowIts(),
				progressbar.OptionSetItsString("rows"),
				progressbar.OptionSetTheme(progressbar.ThemeASCII),
				progressbar.OptionThrottle(progressThrottle),
			)
		})
		// Rows may complete out of order with parallelism, so count them instead of using done.
		_ = bar.Add(1)
	}
}
