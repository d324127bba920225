// Copyright 2018 Rob Marissen.
// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"os"
	"os/signal"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/524D/mzquant/internal/cache"
	"github.com/524D/mzquant/internal/estimator"
	"github.com/524D/mzquant/internal/quant"
	"github.com/524D/mzquant/internal/reporter"
	"github.com/524D/mzquant/internal/store"

	"github.com/spf13/cobra"
)

// Program name and version, written to the JSON output
const progName = "mzQuant"

var progVersion = `Unknown`

// Format of output, if it ever changes we should still be able to parse
// output from old versions
const outputFormatVersion = "1.0"

const defaultScoreFilter = `MS:1002257(0.0:1e-2)MS:1001330(0.0:1e-2)MS:1001159(0.0:1e-2)MS:1002466(0.99:)`

const (
	infoDefault = iota
	infoSilent
	infoVerbose
)

// Command line parameters
type params struct {
	mzMLFilename       string
	mzIdentMlFilename  string
	outFilename        string // Filename where JSON quantification will be written
	dbFilename         string // Optional SQLite database that receives the run
	methodName         string // Built-in method
	methodFile         string // JSON method definition, overrides methodName
	reference          string // Reference label, first label if empty
	tolerance          float64
	mostAccurate       bool
	ignoreNull         bool
	includeUnvalidated bool
	assumeValidated    bool // PSMs without any filter score count as validated
	normalize          bool
	percentile         float64
	resolution         float64
	scoreFilter        string // PSM score filter to apply
	specFilter         string // Range of spectra to quantify
	minSpecIdx         int    // Lowest spectrum index to quantify
	maxSpecIdx         int    // Highest spectrum index to quantify
	workers            int
	cacheSize          int
	verbose            bool
	quiet              bool
	verbosity          int      // Verbosity of progress messages (infoDefault...)
	args               []string // Additional values passed on the command line
}

type scoreRange struct {
	minScore float64
	maxScore float64
	priority int
}

type scoreFilter map[string]scoreRange

// ErrRangeSpec is returned for a range where the lower bound exceeds the upper
var ErrRangeSpec = errors.New("invalid range specified")

var par params

var rootCmd = &cobra.Command{
	Use:   "mzquant",
	Short: "Reporter ion quantification of iTRAQ/TMT labelled MS data",
	Long: `mzquant computes reporter ion ratios for iTRAQ and TMT labelled samples.
Reporter peaks are corrected for isotopic impurities of the labels, and
spectrum ratios are combined into peptide and protein ratios with a robust
estimator that is insensitive to outliers.`,
	SilenceUsage: true,
}

var quantCmd = &cobra.Command{
	Use:   "quant [flags] <mzMLfile>",
	Short: "Quantify the identified spectra of an mzML file",
	Long: `Quantify the spectra of an mzML file that were identified in an accompanying
mzIdentML file. By default, the identifications are read from the mzML file
name with extension .mzid, and the result is written to <name>-quant.json.

Example:
  mzquant quant --method tmt10 --reference 126 yeast.mzML
  mzquant quant --method-file lot-A1234.json --db runs.db yeast.mzML`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		par.args = args
		if err := sanatizeParams(&par); err != nil {
			return err
		}
		return runQuant(cmd.Context(), par)
	},
}

var methodsCmd = &cobra.Command{
	Use:   "methods",
	Short: "List the built-in labelling methods",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return listMethods(cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.Version = progVersion
	rootCmd.AddCommand(quantCmd)
	rootCmd.AddCommand(methodsCmd)

	def := estimator.DefaultConfig()
	f := quantCmd.Flags()
	f.StringVar(&par.mzIdentMlFilename, "mzid", "",
		"mzIdentML `file` with identifications (default <mzML name>.mzid)")
	f.StringVarP(&par.outFilename, "out", "o", "",
		"output `file` for JSON results (default <mzML name>-quant.json)")
	f.StringVar(&par.dbFilename, "db", "", "also store the results in this SQLite `file`")
	f.StringVarP(&par.methodName, "method", "m", "itraq4",
		"built-in labelling `method`, see 'mzquant methods'")
	f.StringVar(&par.methodFile, "method-file", "",
		"JSON `file` with a labelling method, overrides --method")
	f.StringVarP(&par.reference, "reference", "r", "", "reference `label` (default first label)")
	f.Float64VarP(&par.tolerance, "tol", "t", 0,
		"reporter m/z tolerance in Da (default 0.05, or less than half the\nsmallest label spacing of the method)")
	f.BoolVar(&par.mostAccurate, "most-accurate", false,
		"use the peak closest to the label m/z instead of the first peak in the window")
	f.BoolVar(&par.ignoreNull, "ignore-null", false,
		"ignore labels without a reporter peak or with zero corrected intensity")
	f.BoolVar(&par.includeUnvalidated, "include-unvalidated", false,
		"also aggregate PSMs that did not pass the score filter")
	f.BoolVar(&par.assumeValidated, "assume-validated", false,
		"treat PSMs without any score from the score filter as validated")
	f.BoolVar(&par.normalize, "normalize", false,
		"divide protein ratios by the median protein ratio of each label")
	f.Float64Var(&par.percentile, "percentile", def.Percentile,
		"percentile of the log ratios that sets the robust estimator window")
	f.Float64Var(&par.resolution, "resolution", def.Resolution,
		"log10 resolution of the robust estimator")
	f.StringVar(&par.scoreFilter, "scorefilter", defaultScoreFilter,
		"PSM score `filter` as CV(min:max)..., the first listed CV term\nthat is present in an identification decides")
	f.StringVar(&par.specFilter, "specfilter", "",
		"only quantify spectra with an index in this `range`, e.g. 1000:2000")
	f.IntVarP(&par.workers, "workers", "j", 0, "number of parallel workers (default number of CPUs)")
	f.IntVar(&par.cacheSize, "cache-size", 100000, "number of cached quantifications, 0 disables the cache")
	f.BoolVarP(&par.verbose, "verbose", "v", false, "print progress and timing")
	f.BoolVarP(&par.quiet, "quiet", "q", false, "only print errors")
	quantCmd.MarkFlagsMutuallyExclusive("verbose", "quiet")
}

// Parse string like "12:60" into 2 values, 12 and 60
// Parameters min and max are the "default" min/max values,
// when a value is not specified (e.g. "12:"), the default is assigned
func parseIntRange(r string, min int, max int) (int, int, error) {
	re := regexp.MustCompile(`\s*(\-?\d*):(\-?\d*)`)
	m := re.FindStringSubmatch(r)
	minOut := min
	maxOut := max
	if len(m) >= 2 && m[1] != "" {
		minOut, _ = strconv.Atoi(m[1])
		if minOut < min {
			minOut = min
		}
	}
	if len(m) >= 3 && m[2] != "" {
		maxOut, _ = strconv.Atoi(m[2])
		if maxOut > max {
			maxOut = max
		}
	}
	var err error
	if minOut > maxOut {
		err = ErrRangeSpec
		minOut = maxOut
	}
	return minOut, maxOut, err
}

// Parse string like "-12.01e1:+6" into 2 values, -120.1 and 6.0
// Parameters min and max are the "default" min/max values,
// when a value is not specified (e.g. "-12.01e1:"), the default is assigned
func parseFloat64Range(r string, min float64, max float64) (
	float64, float64, error) {
	re := regexp.MustCompile(`\s*([-+]?[0-9]*\.?[0-9]*([eE][-+]?[0-9]+)?):([-+]?[0-9]*\.?[0-9]*([eE][-+]?[0-9]+)?)`)
	m := re.FindStringSubmatch(r)
	minOut := min
	maxOut := max
	if len(m) >= 2 && m[1] != "" {
		minOut, _ = strconv.ParseFloat(m[1], 64)
		if minOut < min {
			minOut = min
		}
	}
	if len(m) >= 4 && m[3] != "" {
		maxOut, _ = strconv.ParseFloat(m[3], 64)
		if maxOut > max {
			maxOut = max
		}
	}
	var err error
	if minOut > maxOut {
		err = ErrRangeSpec
		minOut = maxOut
	}
	return minOut, maxOut, err
}

func parseScoreFilter(scoreFilterStr string) (scoreFilter, error) {
	scoreFilt := make(scoreFilter)

	re := regexp.MustCompile(`([^\(]+)\(([^\)]*)\)`)
	matchedStringsList := re.FindAllStringSubmatch(scoreFilterStr, -1)
	for n, matchedStrings := range matchedStringsList {
		scoreName := strings.TrimSpace(matchedStrings[1])
		scoreRangeStr := matchedStrings[2]
		if _, ok := scoreFilt[scoreName]; ok {
			return nil, fmt.Errorf("%s defined more than once", scoreName)
		}
		minScore, maxScore, err := parseFloat64Range(scoreRangeStr,
			-math.MaxFloat64, math.MaxFloat64)
		if err != nil {
			return nil, fmt.Errorf("invalid range for score %s: %w", scoreName, err)
		}
		scoreFilt[scoreName] = scoreRange{minScore: minScore, maxScore: maxScore, priority: n}
	}
	return scoreFilt, nil
}

// sanatizeParams does some checks on parameters, and fills missing
// filenames if possible
func sanatizeParams(par *params) error {
	if len(par.args) != 1 {
		return errors.New("last argument must be name of mzML file")
	}

	mzml := par.args[0]
	par.mzMLFilename = mzml
	var extension = filepath.Ext(mzml)
	var startName = mzml[0 : len(mzml)-len(extension)]

	if par.mzIdentMlFilename == "" {
		par.mzIdentMlFilename = startName + ".mzid"
	}
	if par.outFilename == "" {
		par.outFilename = startName + "-quant.json"
	}

	var err error
	par.minSpecIdx, par.maxSpecIdx, err = parseIntRange(par.specFilter,
		0, math.MaxInt32)
	if err != nil {
		return fmt.Errorf("invalid value for parameter 'specfilter': %w", err)
	}
	if !(par.tolerance >= 0) {
		return fmt.Errorf("invalid tolerance %g, must be positive", par.tolerance)
	}
	if par.cacheSize < 0 {
		return fmt.Errorf("invalid cache size %d", par.cacheSize)
	}
	par.verbosity = infoDefault
	if par.verbose {
		par.verbosity = infoVerbose
	}
	if par.quiet {
		par.verbosity = infoSilent
	}
	return nil
}

// loadMethod returns the method from the method file if given, or else
// the built-in method
func loadMethod(par params) (*reporter.Method, error) {
	if par.methodFile == "" {
		return reporter.Lookup(par.methodName)
	}
	f, err := os.Open(par.methodFile)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	m, err := reporter.LoadMethod(f)
	if err != nil {
		return nil, fmt.Errorf("method file %s: %w", par.methodFile, err)
	}
	return m, nil
}

func quantConfig(par params) quant.Config {
	return quant.Config{
		Tolerance:             par.tolerance,
		Reference:             par.reference,
		MostAccurate:          par.mostAccurate,
		IgnoreNullIntensities: par.ignoreNull,
		IncludeUnvalidated:    par.includeUnvalidated,
		Normalize:             par.normalize,
		Workers:               par.workers,
		Estimator: estimator.Config{
			Percentile: par.percentile,
			Resolution: par.resolution,
		},
	}
}

func runQuant(ctx context.Context, par params) error {
	if ctx == nil {
		ctx = context.Background()
	}
	method, err := loadMethod(par)
	if err != nil {
		return err
	}
	if par.tolerance == 0 {
		par.tolerance = method.Tolerance()
		if par.verbosity == infoVerbose {
			fmt.Fprintf(os.Stderr, "Using tolerance %.4g Da for method %s\n", par.tolerance, method.Name)
		}
	}
	scoreFilt, err := parseScoreFilter(par.scoreFilter)
	if err != nil {
		return fmt.Errorf("invalid parameter 'scorefilter': %w", err)
	}

	var c *cache.Cache[*quant.Quant]
	if par.cacheSize > 0 {
		c, err = cache.New[*quant.Quant](par.cacheSize)
		if err != nil {
			return err
		}
	}
	q, err := quant.New(method, quantConfig(par), c)
	if err != nil {
		return err
	}
	if par.verbosity == infoVerbose {
		for i, cl := range q.Solution().Clusters() {
			fmt.Fprintf(os.Stderr, "Isotope cluster %d: %s\n", i+1, strings.Join(cl.Labels(), " "))
		}
	}

	t := time.Now()
	if par.verbosity == infoVerbose {
		fmt.Fprintf(os.Stderr, "Reading identifications from %s: ", par.mzIdentMlFilename)
	}
	mzIdentML, err := readMzIdentML(par.mzIdentMlFilename)
	if err != nil {
		return err
	}

	if par.verbosity == infoVerbose {
		fmt.Fprintf(os.Stderr, "%s\n", time.Since(t))
		t = time.Now()
		fmt.Fprintf(os.Stderr, "Reading MS data from %s: ", par.mzMLFilename)
	}
	mzML, err := readMzML(par.mzMLFilename)
	if err != nil {
		return err
	}

	if par.verbosity == infoVerbose {
		fmt.Fprintf(os.Stderr, "%s\n", time.Since(t))
		t = time.Now()
		fmt.Fprintf(os.Stderr, "Selecting identified spectra: ")
	}
	src := newSpectrumSource(&mzML, par.minSpecIdx, par.maxSpecIdx)
	src.quiet = par.verbosity == infoSilent
	psms, err := makePSMList(&mzIdentML, src, scoreFilt, par)
	if err != nil {
		return err
	}
	if par.verbosity == infoVerbose {
		fmt.Fprintf(os.Stderr, "%s\n", time.Since(t))
	}
	if len(psms) == 0 && par.verbosity != infoSilent {
		log.Print("No identified spectra will be quantified. Is the specified scorefilter applicable for this file?")
	}

	if par.verbosity == infoVerbose {
		t = time.Now()
		fmt.Fprintf(os.Stderr, "Quantifying %d PSMs: ", len(psms))
	}
	res, err := q.Run(ctx, src, psms)
	if err != nil {
		if par.verbosity == infoVerbose {
			fmt.Fprintln(os.Stderr)
		}
		return err
	}

	if par.verbosity == infoVerbose {
		fmt.Fprintf(os.Stderr, "%s\n", time.Since(t))
		t = time.Now()
		fmt.Fprintf(os.Stderr, "Writing results to %s: ", par.outFilename)
	}
	if err := writeQuant(res, q.Config(), src, par); err != nil {
		return err
	}
	if par.dbFilename != "" {
		if err := storeQuant(res, q.Config(), par); err != nil {
			return err
		}
	}
	if par.verbosity == infoVerbose {
		fmt.Fprintf(os.Stderr, "%s\n", time.Since(t))
	}
	if par.verbosity != infoSilent {
		log.Printf("Quantified %d spectra, %d peptides, %d proteins",
			len(res.Spectra), len(res.Peptides), len(res.Proteins))
	}
	return nil
}

func storeQuant(res *quant.Result, cfg quant.Config, par params) error {
	w, err := store.NewWriter(par.dbFilename)
	if err != nil {
		return err
	}
	runID, err := w.WriteRun(res, cfg)
	if err != nil {
		w.Close()
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	if par.verbosity != infoSilent {
		log.Printf("Stored run %s in %s", runID, par.dbFilename)
	}
	return nil
}

func listMethods(out io.Writer) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "METHOD\tLABELS\tM/Z")
	for _, name := range reporter.BuiltinNames() {
		m, err := reporter.Lookup(name)
		if err != nil {
			return err
		}
		labels := m.SortedByMz()
		fmt.Fprintf(tw, "%s\t%s\t%.4f-%.4f\n", m.Name, strings.Join(m.Names(), " "),
			labels[0].Mz, labels[len(labels)-1].Mz)
	}
	return tw.Flush()
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		if quant.IsCanceled(err) {
			fmt.Fprintln(os.Stderr, "Interrupted")
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}
