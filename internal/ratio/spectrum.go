package ratio

import (
	"fmt"
	"math"

	"github.com/524D/mzquant/internal/isotope"
	"github.com/524D/mzquant/internal/reporter"
)

// Unratioable is the ratio given to every non-reference label of a spectrum
// whose reference intensity is zero. It marks "no ratio possible", not an
// outlier, and such ratios are always ignored.
const Unratioable = float64(9e99)

// SpectrumRatios is the quantification of one spectrum
type SpectrumRatios struct {
	Matches     map[string]reporter.IonMatch
	Intensities map[string]float64 // isotope corrected
	Ratios      map[string]float64
	Ignored     map[string]bool // labels that must not be aggregated
}

// Usable reports whether the ratio of a label may be aggregated
func (sr SpectrumRatios) Usable(label string) bool {
	r, ok := sr.Ratios[label]
	return ok && !sr.Ignored[label] && !math.IsNaN(r) && !math.IsInf(r, 0) && r != Unratioable
}

// Calculator computes spectrum ratios for one method. It holds no mutable
// state, so one Calculator can serve many goroutines.
type Calculator struct {
	solution     *isotope.Solution
	reference    string
	mostAccurate bool
	ignoreNull   bool
}

// NewCalculator returns a calculator for the solved method. Reference must be
// one of the method labels.
func NewCalculator(solution *isotope.Solution, reference string,
	mostAccurate bool, ignoreNullIntensities bool) (*Calculator, error) {
	if _, ok := solution.Method().Label(reference); !ok {
		return nil, fmt.Errorf("%w: reference label %q not in method %s",
			reporter.ErrInvalidMethod, reference, solution.Method().Name)
	}
	return &Calculator{
		solution:     solution,
		reference:    reference,
		mostAccurate: mostAccurate,
		ignoreNull:   ignoreNullIntensities,
	}, nil
}

// Reference returns the reference label
func (c *Calculator) Reference() string { return c.reference }

// Compute matches the reporter peaks of a spectrum, corrects their
// intensities and divides them by the reference intensity.
func (c *Calculator) Compute(peaks []reporter.Peak) SpectrumRatios {
	method := c.solution.Method()
	matches := MatchPeaks(peaks, method, c.solution.Tolerance(), c.mostAccurate)
	corrected := c.solution.Deisotope(matches)

	sr := SpectrumRatios{
		Matches:     matches,
		Intensities: corrected,
		Ratios:      make(map[string]float64, len(method.Labels)),
		Ignored:     make(map[string]bool, len(method.Labels)),
	}

	ref := corrected[c.reference]
	if !(ref > 0) {
		for _, name := range method.Names() {
			if name == c.reference {
				sr.Ratios[name] = 0
			} else {
				sr.Ratios[name] = Unratioable
			}
			sr.Ignored[name] = true
		}
		return sr
	}

	for _, name := range method.Names() {
		v := corrected[name]
		sr.Ratios[name] = v / ref
		switch {
		case math.IsNaN(v):
			sr.Ignored[name] = true
		case c.ignoreNull && (matches[name].Peak == nil || v == 0):
			sr.Ignored[name] = true
		}
	}
	return sr
}

// ComputeSpectrumRatios is a one-shot form of Calculator.Compute. It returns
// the ratios and the set of ignored labels.
func ComputeSpectrumRatios(peaks []reporter.Peak, solution *isotope.Solution,
	reference string, mostAccurate bool) (map[string]float64, map[string]bool, error) {
	c, err := NewCalculator(solution, reference, mostAccurate, false)
	if err != nil {
		return nil, nil, err
	}
	sr := c.Compute(peaks)
	return sr.Ratios, sr.Ignored, nil
}
