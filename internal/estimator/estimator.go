// Package estimator compiles many noisy ratios into one representative
// ratio. Small or degenerate sets fall back to the median; larger sets use a
// redescending M-estimate in log10 space, which ignores outlying ratios.
package estimator

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

var (
	// ErrNoCenter means the M-estimator scan found no candidate center.
	// It cannot happen for valid input and indicates a logic error.
	ErrNoCenter = errors.New("no qualifying M-estimator center")
	// ErrInvalidConfig is returned for a percentile or resolution out of range
	ErrInvalidConfig = errors.New("invalid estimator configuration")
)

// minRobust is the number of ratios below which the median is used
const minRobust = 6

// Config tunes the M-estimator. Zero fields take the defaults.
type Config struct {
	// Percentile of the log ratios that spans the estimator window
	Percentile float64 `json:"percentile"`
	// Resolution in log10 units. Sets closer together than this are
	// summarised by their median, and it bounds the center scan step.
	Resolution float64 `json:"resolution"`
}

// DefaultConfig returns the defaults
func DefaultConfig() Config {
	return Config{Percentile: 68, Resolution: 0.01}
}

// Validate reports whether the configuration is usable
func (c Config) Validate() error {
	_, err := c.withDefaults()
	return err
}

func (c Config) withDefaults() (Config, error) {
	d := DefaultConfig()
	if c.Percentile == 0 {
		c.Percentile = d.Percentile
	}
	if c.Resolution == 0 {
		c.Resolution = d.Resolution
	}
	if !(c.Percentile > 0 && c.Percentile <= 100) {
		return c, fmt.Errorf("%w: percentile %v not in (0,100]", ErrInvalidConfig, c.Percentile)
	}
	if !(c.Resolution > 0) || math.IsInf(c.Resolution, 0) {
		return c, fmt.Errorf("%w: resolution %v", ErrInvalidConfig, c.Resolution)
	}
	return c, nil
}

// Estimate is the aggregate of a set of ratios
type Estimate struct {
	Ratio float64 `json:"ratio"`
	// Window is the log10 width of the estimator window, 0 when the
	// ratio is a median or no data was given
	Window float64 `json:"window"`
	// Support counts the inputs within Window (log10) of Ratio
	Support int `json:"support"`
	N       int `json:"n"`
	// Score is Support/N scaled down by the window width
	Score float64 `json:"score"`
	// LogStdDev is the standard deviation of the log10 supporting ratios
	LogStdDev float64 `json:"logStdDev"`
}

// Aggregate returns the representative ratio of the given valid ratios.
// Callers must have removed ignored, NaN and sentinel ratios. The input is
// not modified.
func Aggregate(ratios []float64, cfg Config) (Estimate, error) {
	cfg, err := cfg.withDefaults()
	if err != nil {
		return Estimate{}, err
	}
	n := len(ratios)
	if n == 0 {
		return Estimate{}, nil
	}
	sorted := make([]float64, n)
	copy(sorted, ratios)
	sort.Float64s(sorted)

	logRatio, window, robust, err := aggregateSorted(sorted, cfg)
	if err != nil {
		return Estimate{}, err
	}
	est := Estimate{N: n}
	if robust {
		est.Ratio = math.Pow(10, logRatio)
		est.Window = window
	} else {
		est.Ratio = logRatio // plain value on the fallback paths
	}
	est.support(sorted)
	return est, nil
}

// aggregateSorted runs the fallback ladder. With robust set the result is a
// log10 value, otherwise a plain ratio.
func aggregateSorted(sorted []float64, cfg Config) (result, window float64, robust bool, err error) {
	n := len(sorted)
	if n < minRobust {
		return median(sorted), 0, false, nil
	}

	nZeros := 0
	for _, v := range sorted {
		if v <= 0 {
			nZeros++
		}
	}
	if nZeros == n {
		return 0, 0, false, nil
	}
	nLeft := n - 2*nZeros
	if nLeft < minRobust {
		return median(sorted), 0, false, nil
	}

	logs := make([]float64, 0, nLeft)
	for _, v := range sorted[nZeros : n-nZeros] {
		logs = append(logs, math.Log10(v))
	}
	if logs[len(logs)-1]-logs[0] <= cfg.Resolution {
		return median(sorted), 0, false, nil
	}

	complement := (100 - cfg.Percentile) / 200
	window = quantileR7(logs, 1-complement) - quantileR7(logs, complement)
	if window == 0 {
		return median(sorted), 0, false, nil
	}
	result, err = mEstimate(logs, window, cfg.Resolution)
	if err != nil {
		return 0, 0, false, err
	}
	return result, window, true, nil
}

// mEstimate scans candidate centers over the neighbourhoods of the sorted log
// ratios and returns the center with the smallest absolute biweight
// integral. Centers with equal integrals are averaged.
func mEstimate(logs []float64, window, resolution float64) (float64, error) {
	half := window / 2
	step := math.Min(0.01*window, resolution)
	ranges := scanRanges(logs, half)

	nMax := 0
	eachCenter(ranges, step, func(r0 float64) {
		from, to := neighbours(logs, r0, half)
		if to-from > nMax {
			nMax = to - from
		}
	})
	minCount := 0.9 * float64(nMax)

	var best []float64
	bestIntegral := math.Inf(1)
	eachCenter(ranges, step, func(r0 float64) {
		from, to := neighbours(logs, r0, half)
		if to-from == 0 || float64(to-from) < minCount {
			return
		}
		var integral float64
		for _, r := range logs[from:to] {
			d := r - r0
			u := d / window
			w := 1 - u*u
			integral += d * w * w
		}
		integral = math.Abs(integral)
		switch {
		case integral < bestIntegral:
			bestIntegral = integral
			best = append(best[:0], r0)
		case integral == bestIntegral:
			best = append(best, r0)
		}
	})
	if len(best) == 0 {
		return 0, fmt.Errorf("%w: %d log ratios, window %v", ErrNoCenter, len(logs), window)
	}
	var sum float64
	for _, c := range best {
		sum += c
	}
	return sum / float64(len(best)), nil
}

type span struct{ lo, hi float64 }

// scanRanges returns the merged intervals v±half of the sorted values
func scanRanges(sorted []float64, half float64) []span {
	var spans []span
	for _, v := range sorted {
		s := span{v - half, v + half}
		if k := len(spans) - 1; k >= 0 && s.lo <= spans[k].hi {
			if s.hi > spans[k].hi {
				spans[k].hi = s.hi
			}
			continue
		}
		spans = append(spans, s)
	}
	return spans
}

func eachCenter(spans []span, step float64, fn func(r0 float64)) {
	for _, s := range spans {
		for k := 0; ; k++ {
			r0 := s.lo + float64(k)*step
			if r0 > s.hi {
				break
			}
			fn(r0)
		}
	}
}

// neighbours returns the index range of sorted values within half of r0
func neighbours(sorted []float64, r0, half float64) (from, to int) {
	from = sort.Search(len(sorted), func(i int) bool {
		return sorted[i] >= r0 || r0-sorted[i] <= half
	})
	to = sort.Search(len(sorted), func(i int) bool {
		return sorted[i] > r0 && sorted[i]-r0 > half
	})
	return from, to
}

// median of sorted values, the mean of the middle pair for even length
func median(sorted []float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// quantileR7 returns the pth quantile of sorted values by the R-7 method
func quantileR7(sorted []float64, p float64) float64 {
	n := len(sorted)
	if p >= 1 {
		return sorted[n-1]
	}
	h := float64(n-1) * p
	i := int(h)
	if i+1 >= n {
		return sorted[n-1]
	}
	return sorted[i] + (h-math.Floor(h))*(sorted[i+1]-sorted[i])
}

func (e *Estimate) support(sorted []float64) {
	var logs []float64
	if e.Ratio <= 0 {
		for _, v := range sorted {
			if v <= 0 {
				e.Support++
			}
		}
	} else {
		center := math.Log10(e.Ratio)
		for _, v := range sorted {
			if v <= 0 {
				continue
			}
			lv := math.Log10(v)
			if e.Window == 0 {
				if v != e.Ratio {
					continue
				}
			} else if math.Abs(lv-center) > e.Window {
				continue
			}
			e.Support++
			logs = append(logs, lv)
		}
	}
	if len(logs) > 1 {
		e.LogStdDev = stat.StdDev(logs, nil)
	}
	if e.N > 0 {
		e.Score = float64(e.Support) / float64(e.N) / (1 + e.Window)
	}
}
