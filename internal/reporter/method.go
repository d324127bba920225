// Package reporter holds the reporter-ion method definition and the per-spectrum
// ion matches that the quantification core works on.
package reporter

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"strings"
)

var (
	// ErrAmbiguousLabel means two labels cannot be told apart at the working tolerance
	ErrAmbiguousLabel = errors.New("reporter: ambiguous label assignment")
	// ErrSingularMatrix means the isotope correction matrix could not be inverted
	ErrSingularMatrix = errors.New("reporter: singular correction matrix")
	// ErrInvalidMethod means the method definition itself is malformed
	ErrInvalidMethod = errors.New("reporter: invalid method definition")
)

// ConfigError reports a fatal problem with a method definition, together with
// the labels and masses involved so an operator can fix the configuration.
type ConfigError struct {
	Labels []string
	Masses []float64
	Err    error
}

func (e *ConfigError) Error() string {
	parts := make([]string, len(e.Labels))
	for i, l := range e.Labels {
		if i < len(e.Masses) {
			parts[i] = fmt.Sprintf("%s (m/z %.5f)", l, e.Masses[i])
		} else {
			parts[i] = l
		}
	}
	return fmt.Sprintf("%v: %s", e.Err, strings.Join(parts, ", "))
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// IsotopeProfile describes how the isotopic envelope of one reporter ion is
// spread over its own channel and the channels up to two isotopes away,
// in percent. A Ref of zero or less means the reference share was not given
// and is derived as 100 minus the other four.
type IsotopeProfile struct {
	Minus2 float64 `json:"minus2"`
	Minus1 float64 `json:"minus1"`
	Ref    float64 `json:"ref,omitempty"`
	Plus1  float64 `json:"plus1"`
	Plus2  float64 `json:"plus2"`
}

// Fractions returns the profile as fractions of the total envelope, ordered
// -2, -1, 0, +1, +2.
func (p IsotopeProfile) Fractions() [5]float64 {
	ref := p.Ref
	if ref <= 0 {
		ref = 100 - p.Minus2 - p.Minus1 - p.Plus1 - p.Plus2
	}
	f := [5]float64{p.Minus2, p.Minus1, ref, p.Plus1, p.Plus2}
	sum := 0.0
	for _, v := range f {
		sum += v
	}
	if sum <= 0 {
		return [5]float64{0, 0, 1, 0, 0}
	}
	for i := range f {
		f[i] /= sum
	}
	return f
}

// Label is one reporter channel
type Label struct {
	Name     string         `json:"name"`
	Mz       float64        `json:"mz"`
	Isotopes IsotopeProfile `json:"isotopes"`
}

// Method is an ordered, validated set of labels. Do not modify a Method after
// it was returned by NewMethod; it is shared between goroutines.
type Method struct {
	Name   string  `json:"name"`
	Labels []Label `json:"labels"`
	index  map[string]int
}

// NewMethod validates the labels and returns an immutable method
func NewMethod(name string, labels []Label) (*Method, error) {
	if len(labels) == 0 {
		return nil, fmt.Errorf("%w: method %q has no labels", ErrInvalidMethod, name)
	}
	m := &Method{
		Name:   name,
		Labels: make([]Label, len(labels)),
		index:  make(map[string]int, len(labels)),
	}
	copy(m.Labels, labels)
	for i, l := range m.Labels {
		if l.Name == "" {
			return nil, fmt.Errorf("%w: label %d has no name", ErrInvalidMethod, i)
		}
		if _, ok := m.index[l.Name]; ok {
			return nil, fmt.Errorf("%w: label %s defined more than once", ErrInvalidMethod, l.Name)
		}
		if !(l.Mz > 0) || math.IsInf(l.Mz, 0) {
			return nil, fmt.Errorf("%w: label %s has invalid m/z %v", ErrInvalidMethod, l.Name, l.Mz)
		}
		p := l.Isotopes
		if p.Minus2 < 0 || p.Minus1 < 0 || p.Ref < 0 || p.Plus1 < 0 || p.Plus2 < 0 {
			return nil, fmt.Errorf("%w: label %s has a negative isotope contribution", ErrInvalidMethod, l.Name)
		}
		m.index[l.Name] = i
	}
	return m, nil
}

// LoadMethod reads a JSON method definition
func LoadMethod(r io.Reader) (*Method, error) {
	var def Method
	d := json.NewDecoder(r)
	d.DisallowUnknownFields()
	if err := d.Decode(&def); err != nil {
		return nil, fmt.Errorf("decoding method: %w", err)
	}
	return NewMethod(def.Name, def.Labels)
}

// Label returns the label with the given name
func (m *Method) Label(name string) (Label, bool) {
	i, ok := m.index[name]
	if !ok {
		return Label{}, false
	}
	return m.Labels[i], true
}

// Names returns the label names in method order
func (m *Method) Names() []string {
	names := make([]string, len(m.Labels))
	for i, l := range m.Labels {
		names[i] = l.Name
	}
	return names
}

// SortedByMz returns a copy of the labels, lowest m/z first
func (m *Method) SortedByMz() []Label {
	labels := make([]Label, len(m.Labels))
	copy(labels, m.Labels)
	sort.SliceStable(labels, func(i, j int) bool { return labels[i].Mz < labels[j].Mz })
	return labels
}

// DefaultTolerance in Da, for methods whose labels are well apart
const DefaultTolerance = 0.05

// MinSpacing returns the smallest m/z difference between two labels, or
// +Inf for a method with a single label.
func (m *Method) MinSpacing() float64 {
	labels := m.SortedByMz()
	spacing := math.Inf(1)
	for i := 1; i < len(labels); i++ {
		spacing = math.Min(spacing, labels[i].Mz-labels[i-1].Mz)
	}
	return spacing
}

// Tolerance returns DefaultTolerance, narrowed for methods with closely
// spaced labels so that no two label windows overlap.
func (m *Method) Tolerance() float64 {
	return math.Min(DefaultTolerance, 0.45*m.MinSpacing())
}

// CheckTolerance fails when the windows of two labels, tol wide on either
// side, touch or overlap. A peak in the overlap could not be assigned to
// either of them unambiguously.
func (m *Method) CheckTolerance(tol float64) error {
	labels := m.SortedByMz()
	for i := 1; i < len(labels); i++ {
		if labels[i].Mz-labels[i-1].Mz <= 2*tol {
			return &ConfigError{
				Labels: []string{labels[i-1].Name, labels[i].Name},
				Masses: []float64{labels[i-1].Mz, labels[i].Mz},
				Err:    ErrAmbiguousLabel,
			}
		}
	}
	return nil
}

// Peak is a centroided peak in an MS2 spectrum
type Peak struct {
	Mz        float64
	Intensity float64
}

// IonMatch couples a label to the peak that was found for it in one spectrum.
// Peak is nil when no peak fell within the tolerance window.
type IonMatch struct {
	Label string
	Peak  *Peak
}

// Intensity returns the matched peak intensity, or 0 for a null match
func (im IonMatch) Intensity() float64 {
	if im.Peak == nil {
		return 0
	}
	return im.Peak.Intensity
}
