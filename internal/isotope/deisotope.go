package isotope

import (
	"github.com/524D/mzquant/internal/reporter"
)

// Deisotope returns the corrected intensity of every label of this cluster.
// Labels without a match, or with a null match, count as intensity 0.
// Corrections below zero are noise artifacts and are floored to 0.
func (m *CorrectionMatrix) Deisotope(matches map[string]reporter.IonMatch) map[string]float64 {
	observed := make([]float64, m.Dim())
	for i, name := range m.labels {
		if im, ok := matches[name]; ok {
			observed[m.channel[i]] = im.Intensity()
		}
	}
	corrected := m.Correct(observed)

	out := make(map[string]float64, len(m.labels))
	for i, name := range m.labels {
		v := corrected[m.channel[i]]
		if !(v > 0) { // also catches NaN
			v = 0
		}
		out[name] = v
	}
	return out
}

// Deisotope corrects the reporter intensities of one spectrum for all
// clusters of the method.
func (s *Solution) Deisotope(matches map[string]reporter.IonMatch) map[string]float64 {
	out := make(map[string]float64, len(s.byLabel))
	for _, cm := range s.clusters {
		for name, v := range cm.Deisotope(matches) {
			out[name] = v
		}
	}
	return out
}
