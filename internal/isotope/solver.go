// Package isotope untangles the overlapping isotope envelopes of reporter ions.
//
// Labels whose reporter masses are whole 13C steps apart contaminate each
// other: part of the signal of one label shows up in the channels up to two
// isotopes above and below it. Solve groups such labels into clusters, builds
// the forward contamination matrix of every cluster and inverts it once.
// The resulting Solution is read-only and may be shared by any number of
// goroutines.
package isotope

import (
	"math"
	"sync"

	"github.com/524D/mzquant/internal/reporter"

	"gonum.org/v1/gonum/mat"
)

// C13Spacing is the mass difference between 13C and 12C
const C13Spacing = float64(1.0033548378)

// Isotope index of the lowest label of a cluster. Two virtual channels below
// it receive the -1 and -2 contributions.
const firstIndex = 2

// Largest isotope step that still links two labels into one cluster; the
// profiles do not reach further.
const maxStep = 2

// CorrectionMatrix is the solved correction for one cluster of labels
type CorrectionMatrix struct {
	labels  []string // label names, lowest m/z first
	channel []int    // isotope index of labels[i]
	lookup  map[string]int
	forward *mat.Dense
	inverse *mat.Dense
}

// Labels returns the label names in this cluster, lowest m/z first
func (m *CorrectionMatrix) Labels() []string {
	l := make([]string, len(m.labels))
	copy(l, m.labels)
	return l
}

// Channel returns the isotope index of a label within the cluster
func (m *CorrectionMatrix) Channel(label string) (int, bool) {
	i, ok := m.lookup[label]
	if !ok {
		return 0, false
	}
	return m.channel[i], true
}

// Dim returns the number of isotope channels, including virtual ones
func (m *CorrectionMatrix) Dim() int {
	r, _ := m.inverse.Dims()
	return r
}

// At returns element (i, j) of the inverted matrix
func (m *CorrectionMatrix) At(i, j int) float64 {
	return m.inverse.At(i, j)
}

// Forward returns a copy of the contamination matrix, mapping true channel
// intensities (columns) to observed intensities (rows).
func (m *CorrectionMatrix) Forward() *mat.Dense {
	return mat.DenseCopyOf(m.forward)
}

// Correct multiplies a vector of observed channel intensities (length Dim)
// by the inverse. The result is not floored.
func (m *CorrectionMatrix) Correct(observed []float64) []float64 {
	var res mat.VecDense
	res.MulVec(m.inverse, mat.NewVecDense(len(observed), observed))
	out := make([]float64, res.Len())
	for i := range out {
		out[i] = res.AtVec(i)
	}
	return out
}

// Solution holds the correction matrices of all clusters of a method
type Solution struct {
	method    *reporter.Method
	tolerance float64
	clusters  []*CorrectionMatrix
	byLabel   map[string]*CorrectionMatrix
}

// Method returns the method the solution was computed for
func (s *Solution) Method() *reporter.Method { return s.method }

// Tolerance returns the m/z tolerance the solution was computed for
func (s *Solution) Tolerance() float64 { return s.tolerance }

// Clusters returns the correction matrices, ordered by the m/z of their
// lowest label
func (s *Solution) Clusters() []*CorrectionMatrix {
	c := make([]*CorrectionMatrix, len(s.clusters))
	copy(c, s.clusters)
	return c
}

// Matrices maps every label to the matrix of its cluster
func (s *Solution) Matrices() map[string]*CorrectionMatrix {
	m := make(map[string]*CorrectionMatrix, len(s.byLabel))
	for k, v := range s.byLabel {
		m[k] = v
	}
	return m
}

type member struct {
	label reporter.Label
	index int
}

// Solve builds and inverts the correction matrices for a method.
// It fails with a *reporter.ConfigError when labels cannot be separated at
// the given tolerance or when a matrix cannot be inverted.
func Solve(method *reporter.Method, tolerance float64) (*Solution, error) {
	if err := method.CheckTolerance(tolerance); err != nil {
		return nil, err
	}
	s := &Solution{
		method:    method,
		tolerance: tolerance,
		byLabel:   make(map[string]*CorrectionMatrix, len(method.Labels)),
	}
	for _, cluster := range isotopeClusters(method.SortedByMz(), tolerance) {
		cm, err := solveCluster(cluster)
		if err != nil {
			return nil, err
		}
		s.clusters = append(s.clusters, cm)
		for _, name := range cm.labels {
			s.byLabel[name] = cm
		}
	}
	return s, nil
}

// isotopeClusters splits labels (sorted by m/z) into groups that are chained
// by one or two 13C steps. Labels that do not fit the current chain are
// left for the next cluster, so 15N and 13C labelled channels that differ by
// a few mDa end up in different clusters.
func isotopeClusters(labels []reporter.Label, tolerance float64) [][]member {
	var clusters [][]member
	remaining := labels
	for len(remaining) > 0 {
		cluster := []member{{label: remaining[0], index: firstIndex}}
		var rest []reporter.Label
		for _, l := range remaining[1:] {
			last := cluster[len(cluster)-1]
			delta := l.Mz - last.label.Mz
			k := math.Round(delta / C13Spacing)
			if k >= 1 && k <= maxStep && math.Abs(delta-k*C13Spacing) <= tolerance {
				cluster = append(cluster, member{label: l, index: last.index + int(k)})
			} else {
				rest = append(rest, l)
			}
		}
		clusters = append(clusters, cluster)
		remaining = rest
	}
	return clusters
}

func solveCluster(cluster []member) (*CorrectionMatrix, error) {
	dim := cluster[len(cluster)-1].index + firstIndex + 1
	forward := mat.NewDense(dim, dim, nil)
	occupied := make([]bool, dim)
	cm := &CorrectionMatrix{
		labels:  make([]string, len(cluster)),
		channel: make([]int, len(cluster)),
		lookup:  make(map[string]int, len(cluster)),
	}
	for i, mb := range cluster {
		j := mb.index
		occupied[j] = true
		cm.labels[i] = mb.label.Name
		cm.channel[i] = j
		cm.lookup[mb.label.Name] = i
		for d, f := range mb.label.Isotopes.Fractions() {
			row := j + d - 2
			if row >= 0 && row < dim {
				forward.Set(row, j, f)
			}
		}
	}
	// Channels without a label only see themselves
	for j, ok := range occupied {
		if !ok {
			forward.Set(j, j, 1)
		}
	}

	var inverse mat.Dense
	if err := inverse.Inverse(forward); err != nil {
		return nil, clusterError(cluster)
	}
	for _, v := range inverse.RawMatrix().Data {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, clusterError(cluster)
		}
	}
	cm.forward = forward
	cm.inverse = &inverse
	return cm, nil
}

func clusterError(cluster []member) error {
	e := &reporter.ConfigError{Err: reporter.ErrSingularMatrix}
	for _, mb := range cluster {
		e.Labels = append(e.Labels, mb.label.Name)
		e.Masses = append(e.Masses, mb.label.Mz)
	}
	return e
}

type solverKey struct {
	method    *reporter.Method
	tolerance float64
}

// Solver memoizes solutions per method and tolerance. Methods are told apart
// by pointer, not by name. The zero value is ready to use.
type Solver struct {
	mu     sync.Mutex
	solved map[solverKey]*Solution
}

// Solve returns the cached solution for method and tolerance, computing it
// on first use. Errors are not cached.
func (sv *Solver) Solve(method *reporter.Method, tolerance float64) (*Solution, error) {
	key := solverKey{method: method, tolerance: tolerance}
	sv.mu.Lock()
	defer sv.mu.Unlock()
	if s, ok := sv.solved[key]; ok {
		return s, nil
	}
	s, err := Solve(method, tolerance)
	if err != nil {
		return nil, err
	}
	if sv.solved == nil {
		sv.solved = make(map[solverKey]*Solution)
	}
	sv.solved[key] = s
	return s, nil
}
