package ratio

import (
	"errors"
	"math"
	"testing"

	"github.com/524D/mzquant/internal/isotope"
	"github.com/524D/mzquant/internal/reporter"

	"github.com/google/go-cmp/cmp"
)

func newCalculator(t testing.TB, reference string, ignoreNull bool) *Calculator {
	t.Helper()
	s, err := isotope.Solve(plex4(t), 0.01)
	if err != nil {
		t.Fatal(err)
	}
	c, err := NewCalculator(s, reference, true, ignoreNull)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestComputeEndToEnd(t *testing.T) {
	c := newCalculator(t, "114", false)
	m := plex4(t)
	sr := c.Compute([]reporter.Peak{
		{Mz: mz(t, m, "114"), Intensity: 1000},
		{Mz: mz(t, m, "116"), Intensity: 500},
	})

	t114 := 1000 / 0.9
	t115 := -0.1 * t114 / 0.9
	t116 := (500 - 0.1*t115) / 0.9

	if sr.Intensities["115"] != 0 || sr.Intensities["117"] != 0 {
		t.Errorf("corrected 115/117 = %v/%v, want 0/0", sr.Intensities["115"], sr.Intensities["117"])
	}
	if got, want := sr.Ratios["116"], t116/t114; math.Abs(got-want) > 1e-12 {
		t.Errorf("ratio 116/114 = %v, want %v", got, want)
	}
	if sr.Ratios["116"] == 0.5 {
		t.Error("ratio 116/114 was computed from raw intensities")
	}
	if sr.Ratios["114"] != 1 || sr.Ignored["114"] {
		t.Errorf("reference ratio = %v ignored=%v, want 1 and not ignored", sr.Ratios["114"], sr.Ignored["114"])
	}
	if !sr.Usable("116") || !sr.Usable("114") {
		t.Error("matched labels not usable")
	}
}

func TestComputeEndToEndProfile(t *testing.T) {
	// Every label keeps 92% and leaks 1% one isotope down and 7% one up
	var labels []reporter.Label
	for i, name := range []string{"114", "115", "116", "117"} {
		labels = append(labels, reporter.Label{
			Name:     name,
			Mz:       114.1 + float64(i)*isotope.C13Spacing,
			Isotopes: reporter.IsotopeProfile{Minus1: 1, Ref: 92, Plus1: 7},
		})
	}
	m, err := reporter.NewMethod("contrived", labels)
	if err != nil {
		t.Fatal(err)
	}
	s, err := isotope.Solve(m, 0.01)
	if err != nil {
		t.Fatal(err)
	}
	c, err := NewCalculator(s, "114", true, false)
	if err != nil {
		t.Fatal(err)
	}
	sr := c.Compute([]reporter.Peak{
		{Mz: mz(t, m, "114"), Intensity: 1000},
		{Mz: mz(t, m, "116"), Intensity: 500},
	})

	// Exact solution of the tridiagonal 4x4 system; 115 and 117 come out
	// negative and are floored
	want := map[string]float64{"114": 1087.9213299461344, "115": 0, "116": 550.6873544576758, "117": 0}
	for l, w := range want {
		if got := sr.Intensities[l]; math.Abs(got-w) > 1e-9 {
			t.Errorf("corrected %s = %v, want %v", l, got, w)
		}
	}
	if got, want := sr.Ratios["116"], 8555.0/16901; math.Abs(got-want) > 1e-12 {
		t.Errorf("ratio 116/114 = %v, want %v", got, want)
	}
	if sr.Ratios["114"] != 1 || sr.Ignored["114"] {
		t.Errorf("reference ratio = %v ignored=%v, want 1 and not ignored", sr.Ratios["114"], sr.Ignored["114"])
	}
}

func TestComputeIgnoreNull(t *testing.T) {
	m := plex4(t)
	peaks := []reporter.Peak{
		{Mz: mz(t, m, "114"), Intensity: 1000},
		{Mz: mz(t, m, "116"), Intensity: 500},
	}
	tests := []struct {
		ignoreNull bool
		want       map[string]bool
	}{
		{false, map[string]bool{}},
		// 115 has a null match, 117 one too
		{true, map[string]bool{"115": true, "117": true}},
	}
	for _, tt := range tests {
		sr := newCalculator(t, "114", tt.ignoreNull).Compute(peaks)
		if diff := cmp.Diff(tt.want, sr.Ignored); diff != "" {
			t.Errorf("ignoreNull=%v: ignored mismatch (-want +got):\n%s", tt.ignoreNull, diff)
		}
	}
}

func TestComputeZeroReference(t *testing.T) {
	m := plex4(t)
	for _, peaks := range [][]reporter.Peak{
		nil,
		{{Mz: mz(t, m, "116"), Intensity: 500}},
		{{Mz: mz(t, m, "115"), Intensity: 0}, {Mz: mz(t, m, "116"), Intensity: 500}},
	} {
		sr := newCalculator(t, "115", false).Compute(peaks)
		for _, l := range m.Names() {
			if !sr.Ignored[l] {
				t.Errorf("label %s not ignored for zero reference", l)
			}
			if sr.Usable(l) {
				t.Errorf("label %s usable for zero reference", l)
			}
			want := Unratioable
			if l == "115" {
				want = 0
			}
			if sr.Ratios[l] != want {
				t.Errorf("ratio[%s] = %v, want %v", l, sr.Ratios[l], want)
			}
		}
	}
}

func TestComputeDeterministic(t *testing.T) {
	m := plex4(t)
	peaks := []reporter.Peak{
		{Mz: mz(t, m, "114") - 0.002, Intensity: 800},
		{Mz: mz(t, m, "114") + 0.001, Intensity: 900},
		{Mz: mz(t, m, "115"), Intensity: 300},
		{Mz: mz(t, m, "116") + 0.004, Intensity: 700},
		{Mz: mz(t, m, "117") - 0.004, Intensity: 200},
	}
	s, err := isotope.Solve(m, 0.01)
	if err != nil {
		t.Fatal(err)
	}
	first, firstIgnored, err := ComputeSpectrumRatios(peaks, s, "114", true)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 50; i++ {
		r, ign, err := ComputeSpectrumRatios(peaks, s, "114", true)
		if err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff(first, r); diff != "" {
			t.Fatalf("run %d: ratios changed (-first +now):\n%s", i, diff)
		}
		if diff := cmp.Diff(firstIgnored, ign); diff != "" {
			t.Fatalf("run %d: ignored set changed (-first +now):\n%s", i, diff)
		}
	}
}

func TestNewCalculatorUnknownReference(t *testing.T) {
	s, err := isotope.Solve(plex4(t), 0.01)
	if err != nil {
		t.Fatal(err)
	}
	_, err = NewCalculator(s, "113", false, false)
	if !errors.Is(err, reporter.ErrInvalidMethod) {
		t.Errorf("NewCalculator() error = %v, want ErrInvalidMethod", err)
	}
}
