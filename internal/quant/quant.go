// Package quant runs reporter ion quantification over a set of identified
// spectra: spectrum ratios first, then peptide ratios, then protein ratios.
package quant

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime"
	"sort"

	"github.com/524D/mzquant/internal/cache"
	"github.com/524D/mzquant/internal/estimator"
	"github.com/524D/mzquant/internal/isotope"
	"github.com/524D/mzquant/internal/ratio"
	"github.com/524D/mzquant/internal/reporter"

	"golang.org/x/sync/errgroup"
)

// Correction matrices are shared by all quantifiers of a method
var solver isotope.Solver

// SpectrumSource supplies the peak list of a spectrum
type SpectrumSource interface {
	Peaks(ctx context.Context, spectrumID string) ([]reporter.Peak, error)
}

// PSM is a peptide to spectrum match
type PSM struct {
	SpectrumID string
	Peptide    string
	Proteins   []string
	// Validated is false when an upstream filter rejected the match
	Validated bool
}

// Config holds the quantification settings
type Config struct {
	Tolerance             float64          `json:"tolerance"`
	Reference             string           `json:"reference"`
	MostAccurate          bool             `json:"mostAccurate"`
	IgnoreNullIntensities bool             `json:"ignoreNullIntensities"`
	IncludeUnvalidated    bool             `json:"includeUnvalidated"`
	Normalize             bool             `json:"normalize"`
	Workers               int              `json:"-"`
	Estimator             estimator.Config `json:"estimator"`
}

// Quant is the quantification of one spectrum, peptide or protein
type Quant struct {
	ID       string             `json:"id"`
	Children int                `json:"children,omitempty"`
	Ratios   map[string]float64 `json:"ratios"`
	// Intensities are the isotope corrected reporter intensities (spectra only)
	Intensities map[string]float64 `json:"intensities,omitempty"`
	// Estimates per label (peptides and proteins only)
	Estimates map[string]estimator.Estimate `json:"estimates,omitempty"`
	Ignored   map[string]bool               `json:"ignored,omitempty"`
	Validated bool                          `json:"validated"`
}

// usable reports whether the label ratio of q may feed an aggregate
func (q *Quant) usable(label string, ignoreNull bool) bool {
	if q.Ignored[label] {
		return false
	}
	r, ok := q.Ratios[label]
	if !ok || !validRatio(r) {
		return false
	}
	return r > 0 || !ignoreNull
}

func validRatio(r float64) bool {
	return !math.IsNaN(r) && !math.IsInf(r, 0) && r >= 0 && r != ratio.Unratioable
}

// Result holds all levels of a quantification run
type Result struct {
	Method    string   `json:"method"`
	Reference string   `json:"reference"`
	Labels    []string `json:"labels"`
	Spectra   []*Quant `json:"spectra"`
	Peptides  []*Quant `json:"peptides"`
	Proteins  []*Quant `json:"proteins"`
}

// Quantifier quantifies PSMs for one method and configuration
type Quantifier struct {
	method   *reporter.Method
	solution *isotope.Solution
	calc     *ratio.Calculator
	cfg      Config
	cache    *cache.Cache[*Quant]
}

// New solves the correction matrices of method and returns a quantifier.
// Configuration errors (ambiguous labels, singular matrices, an unknown
// reference) are returned here. The cache may be nil; a cache must not be
// shared between quantifiers with different settings.
func New(method *reporter.Method, cfg Config, c *cache.Cache[*Quant]) (*Quantifier, error) {
	if method == nil {
		return nil, fmt.Errorf("%w: no method", reporter.ErrInvalidMethod)
	}
	if err := cfg.Estimator.Validate(); err != nil {
		return nil, err
	}
	if cfg.Reference == "" {
		cfg.Reference = method.Labels[0].Name
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	solution, err := solver.Solve(method, cfg.Tolerance)
	if err != nil {
		return nil, err
	}
	calc, err := ratio.NewCalculator(solution, cfg.Reference, cfg.MostAccurate, cfg.IgnoreNullIntensities)
	if err != nil {
		return nil, err
	}
	return &Quantifier{method: method, solution: solution, calc: calc, cfg: cfg, cache: c}, nil
}

// Solution returns the solved correction matrices
func (q *Quantifier) Solution() *isotope.Solution { return q.solution }

// Config returns the effective configuration
func (q *Quantifier) Config() Config { return q.cfg }

// group is an entity with the IDs of its children
type group struct {
	id        string
	children  []string
	validated bool
}

// Run quantifies the PSMs. Spectra are processed first; peptides start only
// when every spectrum is done, and proteins when every peptide is done.
// On cancellation the context error is returned and no partial aggregate
// is cached.
func (q *Quantifier) Run(ctx context.Context, src SpectrumSource, psms []PSM) (*Result, error) {
	spectra, peptides, proteins := q.groups(psms)

	res := &Result{
		Method:    q.method.Name,
		Reference: q.cfg.Reference,
		Labels:    q.method.Names(),
	}

	var err error
	res.Spectra, err = q.stage(ctx, spectra, func(ctx context.Context, g group) (*Quant, error) {
		return q.spectrum(ctx, src, g)
	})
	if err != nil {
		return nil, err
	}
	spectrumByID := lookup(res.Spectra)
	res.Peptides, err = q.stage(ctx, peptides, func(ctx context.Context, g group) (*Quant, error) {
		return q.aggregate(ctx, cache.Peptide, g, spectrumByID)
	})
	if err != nil {
		return nil, err
	}
	peptideByID := lookup(res.Peptides)
	res.Proteins, err = q.stage(ctx, proteins, func(ctx context.Context, g group) (*Quant, error) {
		return q.aggregate(ctx, cache.Protein, g, peptideByID)
	})
	if err != nil {
		return nil, err
	}
	if q.cfg.Normalize {
		res.Proteins = normalize(res.Proteins, res.Labels)
	}
	return res, nil
}

// stage runs fn for every group on the worker pool and waits for all of them
func (q *Quantifier) stage(ctx context.Context, groups []group,
	fn func(context.Context, group) (*Quant, error)) ([]*Quant, error) {

	out := make([]*Quant, len(groups))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(q.cfg.Workers)
	for i := range groups {
		i := i
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			r, err := fn(ctx, groups[i])
			if err != nil {
				return err
			}
			out[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func lookup(qs []*Quant) map[string]*Quant {
	m := make(map[string]*Quant, len(qs))
	for _, q := range qs {
		m[q.ID] = q
	}
	return m
}

func (q *Quantifier) spectrum(ctx context.Context, src SpectrumSource, g group) (*Quant, error) {
	peaks, err := src.Peaks(ctx, g.id)
	if err != nil {
		return nil, fmt.Errorf("spectrum %s: %w", g.id, err)
	}
	key := cache.Key{Level: cache.Spectrum, ID: g.id, Children: len(peaks)}
	if v, ok := q.cacheGet(key); ok {
		return withValidation(v, g.validated), nil
	}
	sr := q.calc.Compute(peaks)
	r := &Quant{
		ID:          g.id,
		Ratios:      sr.Ratios,
		Intensities: sr.Intensities,
		Ignored:     make(map[string]bool),
		Validated:   g.validated,
	}
	for l, ign := range sr.Ignored {
		if ign {
			r.Ignored[l] = true
		}
	}
	q.cacheAdd(key, r)
	return r, nil
}

// withValidation returns a copy of a cached result with its validation
// status replaced
func withValidation(v *Quant, validated bool) *Quant {
	if v.Validated == validated {
		return v
	}
	c := *v
	c.Validated = validated
	return &c
}

// aggregate computes the ratio of every label of g from its children
func (q *Quantifier) aggregate(ctx context.Context, level cache.Level, g group,
	children map[string]*Quant) (*Quant, error) {

	key := cache.Key{Level: level, ID: g.id, Children: len(g.children)}
	if v, ok := q.cacheGet(key); ok {
		return withValidation(v, g.validated), nil
	}

	labels := q.method.Names()
	r := &Quant{
		ID:        g.id,
		Children:  len(g.children),
		Ratios:    make(map[string]float64, len(labels)),
		Estimates: make(map[string]estimator.Estimate, len(labels)),
		Ignored:   make(map[string]bool),
		Validated: g.validated,
	}
	ratios := make([]float64, 0, len(g.children))
	for _, label := range labels {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ratios = ratios[:0]
		for _, id := range g.children {
			c := children[id]
			if c == nil || !(c.Validated || q.cfg.IncludeUnvalidated) {
				continue
			}
			if c.usable(label, q.cfg.IgnoreNullIntensities) {
				ratios = append(ratios, c.Ratios[label])
			}
		}
		est, err := estimator.Aggregate(ratios, q.cfg.Estimator)
		if err != nil {
			return nil, fmt.Errorf("%s %s label %s: %w", level, g.id, label, err)
		}
		r.Ratios[label] = est.Ratio
		r.Estimates[label] = est
		if len(ratios) == 0 {
			r.Ignored[label] = true
		}
	}
	q.cacheAdd(key, r)
	return r, nil
}

func (q *Quantifier) cacheGet(key cache.Key) (*Quant, bool) {
	if q.cache == nil {
		return nil, false
	}
	return q.cache.Get(key)
}

func (q *Quantifier) cacheAdd(key cache.Key, v *Quant) {
	if q.cache != nil {
		q.cache.Add(key, v)
	}
}

// groups returns the unique spectra, peptides and proteins of the PSMs,
// each sorted by ID. An entity is validated when any of its PSMs is.
func (q *Quantifier) groups(psms []PSM) (spectra, peptides, proteins []group) {
	type acc struct {
		children  map[string]bool
		validated bool
	}
	spec := map[string]*acc{}
	pep := map[string]*acc{}
	prot := map[string]*acc{}
	add := func(m map[string]*acc, id, child string, validated bool) {
		a := m[id]
		if a == nil {
			a = &acc{children: map[string]bool{}}
			m[id] = a
		}
		if child != "" {
			a.children[child] = true
		}
		a.validated = a.validated || validated
	}
	for _, p := range psms {
		if p.SpectrumID == "" {
			continue
		}
		add(spec, p.SpectrumID, "", p.Validated)
		if p.Peptide == "" {
			continue
		}
		add(pep, p.Peptide, p.SpectrumID, p.Validated)
		for _, accession := range p.Proteins {
			add(prot, accession, p.Peptide, p.Validated)
		}
	}
	flatten := func(m map[string]*acc) []group {
		gs := make([]group, 0, len(m))
		for id, a := range m {
			g := group{id: id, validated: a.validated}
			for c := range a.children {
				g.children = append(g.children, c)
			}
			sort.Strings(g.children)
			gs = append(gs, g)
		}
		sort.Slice(gs, func(i, j int) bool { return gs[i].id < gs[j].id })
		return gs
	}
	return flatten(spec), flatten(pep), flatten(prot)
}

// normalize returns copies of the proteins with the ratios of each label
// divided by their median. The inputs may be cached and are left unchanged.
func normalize(proteins []*Quant, labels []string) []*Quant {
	out := make([]*Quant, len(proteins))
	for i, p := range proteins {
		c := *p
		c.Ratios = make(map[string]float64, len(p.Ratios))
		for l, r := range p.Ratios {
			c.Ratios[l] = r
		}
		c.Estimates = make(map[string]estimator.Estimate, len(p.Estimates))
		for l, e := range p.Estimates {
			c.Estimates[l] = e
		}
		out[i] = &c
	}

	for _, label := range labels {
		var rs []float64
		for _, p := range out {
			if r := p.Ratios[label]; !p.Ignored[label] && r > 0 && validRatio(r) {
				rs = append(rs, r)
			}
		}
		if len(rs) == 0 {
			continue
		}
		sort.Float64s(rs)
		m := rs[len(rs)/2]
		if len(rs)%2 == 0 {
			m = (rs[len(rs)/2-1] + rs[len(rs)/2]) / 2
		}
		for _, p := range out {
			if p.Ignored[label] {
				continue
			}
			p.Ratios[label] /= m
			if est, ok := p.Estimates[label]; ok {
				est.Ratio /= m
				p.Estimates[label] = est
			}
		}
	}
	return out
}

// IsCanceled reports whether err stems from a canceled or expired context
func IsCanceled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
