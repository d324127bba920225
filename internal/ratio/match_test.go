package ratio

import (
	"testing"

	"github.com/524D/mzquant/internal/isotope"
	"github.com/524D/mzquant/internal/reporter"

	"github.com/google/go-cmp/cmp"
)

// plex4 has labels 114..117 spaced exactly one 13C apart, each losing 10%
// of its signal to the +1 channel
func plex4(t testing.TB) *reporter.Method {
	t.Helper()
	var labels []reporter.Label
	for i, name := range []string{"114", "115", "116", "117"} {
		labels = append(labels, reporter.Label{
			Name:     name,
			Mz:       114.1 + float64(i)*isotope.C13Spacing,
			Isotopes: reporter.IsotopeProfile{Plus1: 10},
		})
	}
	m, err := reporter.NewMethod("plex4", labels)
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func mz(t testing.TB, m *reporter.Method, name string) float64 {
	t.Helper()
	l, ok := m.Label(name)
	if !ok {
		t.Fatalf("no label %s", name)
	}
	return l.Mz
}

// matched returns the m/z of the matched peak per label, 0 for a null match
func matched(matches map[string]reporter.IonMatch) map[string]float64 {
	out := map[string]float64{}
	for l, im := range matches {
		if im.Peak != nil {
			out[l] = im.Peak.Mz
		} else {
			out[l] = 0
		}
	}
	return out
}

func TestMatchPeaks(t *testing.T) {
	m := plex4(t)
	m114 := mz(t, m, "114")
	m115 := mz(t, m, "115")
	m117 := mz(t, m, "117")

	peaks := []reporter.Peak{
		{Mz: 100, Intensity: 1},
		{Mz: m114 - 0.004, Intensity: 10},
		{Mz: m114 + 0.001, Intensity: 20},
		{Mz: m114 + 0.003, Intensity: 30},
		{Mz: m115 + 0.002, Intensity: 40},
		{Mz: m115 - 0.002 + 0.5, Intensity: 50}, // between windows
		{Mz: m117 + 0.02, Intensity: 60},        // just outside
		{Mz: 500, Intensity: 70},
	}

	tests := []struct {
		name         string
		mostAccurate bool
		want         map[string]float64
	}{
		{"first in window", false, map[string]float64{
			"114": m114 - 0.004, "115": m115 + 0.002, "116": 0, "117": 0,
		}},
		{"most accurate", true, map[string]float64{
			"114": m114 + 0.001, "115": m115 + 0.002, "116": 0, "117": 0,
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := matched(MatchPeaks(peaks, m, 0.01, tt.mostAccurate))
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("MatchPeaks mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestMatchPeaksTie(t *testing.T) {
	m := plex4(t)
	m114 := mz(t, m, "114")
	peaks := []reporter.Peak{
		{Mz: m114 - 0.00390625, Intensity: 1},
		{Mz: m114 + 0.00390625, Intensity: 2},
	}
	got := MatchPeaks(peaks, m, 0.01, true)
	if got["114"].Peak == nil || got["114"].Peak.Intensity != 1 {
		t.Errorf("equal distance: got %+v, want the lower m/z peak", got["114"].Peak)
	}
}

func TestMatchPeaksUnsorted(t *testing.T) {
	m := plex4(t)
	m114 := mz(t, m, "114")
	m116 := mz(t, m, "116")
	sorted := []reporter.Peak{
		{Mz: m114, Intensity: 1000},
		{Mz: m116 - 0.001, Intensity: 400},
		{Mz: m116, Intensity: 500},
	}
	shuffled := []reporter.Peak{sorted[2], sorted[0], sorted[1]}
	want := MatchPeaks(sorted, m, 0.01, true)
	got := MatchPeaks(shuffled, m, 0.01, true)
	if diff := cmp.Diff(matched(want), matched(got)); diff != "" {
		t.Errorf("unsorted input changed the match (-sorted +unsorted):\n%s", diff)
	}
	if shuffled[0].Mz != m116 {
		t.Error("MatchPeaks reordered the caller's slice")
	}
}

func TestMatchPeaksEmpty(t *testing.T) {
	m := plex4(t)
	got := MatchPeaks(nil, m, 0.01, false)
	if len(got) != 4 {
		t.Fatalf("got %d matches, want one per label", len(got))
	}
	for l, im := range got {
		if im.Peak != nil || im.Label != l {
			t.Errorf("label %s: got %+v, want a null match", l, im)
		}
	}
}

func TestMatchPeaksOverlappingWindows(t *testing.T) {
	// Labels 1.5 tolerance apart, so their windows overlap
	m, err := reporter.NewMethod("close", []reporter.Label{
		{Name: "a", Mz: 127.0},
		{Name: "b", Mz: 127.015},
	})
	if err != nil {
		t.Fatal(err)
	}
	peaks := []reporter.Peak{{Mz: 127.006, Intensity: 1000}}
	for _, mostAccurate := range []bool{false, true} {
		got := matched(MatchPeaks(peaks, m, 0.01, mostAccurate))
		want := map[string]float64{"a": 127.006, "b": 0}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("mostAccurate=%v: peak shared between labels (-want +got):\n%s", mostAccurate, diff)
		}
	}
}
