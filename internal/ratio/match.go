// Package ratio finds reporter ion peaks in a spectrum and turns their
// isotope corrected intensities into ratios against a reference label.
package ratio

import (
	"math"
	"sort"

	"github.com/524D/mzquant/internal/reporter"
)

type window struct {
	label    string
	mz       float64
	min, max float64
}

// MatchPeaks assigns a peak to every label of the method. A peak matches a
// label when it lies within tolerance of the label m/z. With mostAccurate the
// closest peak wins (the lower m/z one on equal distance), otherwise the first
// peak in the window is taken. A peak is never assigned to more than one
// label. Labels without a peak get a null match.
// Peaks should be sorted by m/z; unsorted input is sorted on a copy.
func MatchPeaks(peaks []reporter.Peak, method *reporter.Method, tolerance float64,
	mostAccurate bool) map[string]reporter.IonMatch {

	if !peaksSorted(peaks) {
		sorted := make([]reporter.Peak, len(peaks))
		copy(sorted, peaks)
		sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Mz < sorted[j].Mz })
		peaks = sorted
	}

	labels := method.SortedByMz()
	windows := make([]window, len(labels))
	for i, l := range labels {
		windows[i] = window{label: l.Name, mz: l.Mz, min: l.Mz - tolerance, max: l.Mz + tolerance}
	}
	best := make([]int, len(windows)) // peak index per window, -1 for none
	for i := range best {
		best[i] = -1
	}

	upper := windows[len(windows)-1].max
	start := sort.Search(len(peaks), func(i int) bool { return peaks[i].Mz >= windows[0].min })
	for p := start; p < len(peaks); p++ {
		mz := peaks[p].Mz
		if mz > upper {
			break
		}
		// A peak feeds one label only, the nearest one if windows overlap
		w := -1
		for i := range windows {
			if mz < windows[i].min || mz > windows[i].max {
				continue
			}
			if w < 0 || math.Abs(mz-windows[i].mz) < math.Abs(mz-windows[w].mz) {
				w = i
			}
		}
		switch {
		case w < 0:
		case best[w] < 0:
			best[w] = p
		case mostAccurate &&
			math.Abs(mz-windows[w].mz) < math.Abs(peaks[best[w]].Mz-windows[w].mz):
			best[w] = p
		}
	}

	matches := make(map[string]reporter.IonMatch, len(windows))
	for w, win := range windows {
		im := reporter.IonMatch{Label: win.label}
		if best[w] >= 0 {
			pk := peaks[best[w]]
			im.Peak = &pk
		}
		matches[win.label] = im
	}
	return matches
}

func peaksSorted(peaks []reporter.Peak) bool {
	for i := 1; i < len(peaks); i++ {
		if peaks[i].Mz < peaks[i-1].Mz {
			return false
		}
	}
	return true
}
