// Copyright 2018 Rob Marissen.
// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"os"
	"strconv"
	"sync"

	"github.com/524D/mzquant/internal/mzidentml"
	"github.com/524D/mzquant/internal/mzml"
	"github.com/524D/mzquant/internal/quant"
	"github.com/524D/mzquant/internal/reporter"
)

var (
	// errSpecFiltered means a spectrum lies outside the --specfilter range
	errSpecFiltered = errors.New("spectrum outside selected range")
	// errNotFragmentation means an identification points at an MS1 spectrum
	errNotFragmentation = errors.New("not a fragmentation spectrum")
)

// quantOutput is the JSON document written for a run
type quantOutput struct {
	// Version of the output, used when loading results written by
	// different versions of the software
	MzQuantVersion string       `json:"mzQuantVersion"`
	Program        string       `json:"program"`
	Settings       quant.Config `json:"settings"`
	Scans          []scanInfo   `json:"scans"`
	*quant.Result
}

// scanInfo describes a quantified spectrum
type scanInfo struct {
	ID            string  `json:"id"`
	RetentionTime float64 `json:"retentionTime"` // seconds, -1 if unknown
	PrecursorMz   float64 `json:"precursorMz,omitempty"`
	Charge        int     `json:"charge,omitempty"`
}

func readMzML(filename string) (mzml.MzML, error) {
	f, err := os.Open(filename)
	if err != nil {
		return mzml.MzML{}, err
	}
	defer f.Close()
	mzML, err := mzml.Read(f)
	if err != nil {
		return mzML, fmt.Errorf("mzml.Read %s: %w", filename, err)
	}
	return mzML, nil
}

func readMzIdentML(filename string) (mzidentml.MzIdentML, error) {
	f, err := os.Open(filename)
	if err != nil {
		return mzidentml.MzIdentML{}, err
	}
	defer f.Close()
	mzIdentML, err := mzidentml.Read(f)
	if err != nil {
		return mzIdentML, fmt.Errorf("mzidentml.Read %s: %w", filename, err)
	}
	return mzIdentML, nil
}

// spectrumSource serves the peaks of the spectra in an mzML file.
// The mzML content is only read, so Peaks may be called concurrently.
type spectrumSource struct {
	mzML        *mzml.MzML
	minSpecIdx  int
	maxSpecIdx  int
	warnProfile sync.Once
	quiet       bool
}

func newSpectrumSource(mzML *mzml.MzML, minSpecIdx, maxSpecIdx int) *spectrumSource {
	return &spectrumSource{mzML: mzML, minSpecIdx: minSpecIdx, maxSpecIdx: maxSpecIdx}
}

// index returns the scan index of a spectrum that may be quantified
func (s *spectrumSource) index(specID string) (int, error) {
	idx, err := s.mzML.ScanIndex(specID)
	if err != nil {
		return idx, fmt.Errorf("spectrum %s: %w", specID, err)
	}
	if idx < s.minSpecIdx || idx > s.maxSpecIdx {
		return idx, errSpecFiltered
	}
	level, err := s.mzML.MSLevel(idx)
	if err != nil {
		return idx, fmt.Errorf("spectrum %s: %w", specID, err)
	}
	if level < 2 {
		return idx, errNotFragmentation
	}
	return idx, nil
}

// scans returns retention time and precursor of the given spectra
func (s *spectrumSource) scans(ids []string) ([]scanInfo, error) {
	scans := make([]scanInfo, 0, len(ids))
	for _, id := range ids {
		idx, err := s.mzML.ScanIndex(id)
		if err != nil {
			return nil, fmt.Errorf("spectrum %s: %w", id, err)
		}
		info := scanInfo{ID: id}
		if info.RetentionTime, err = s.mzML.RetentionTime(idx); err != nil {
			return nil, fmt.Errorf("spectrum %s: %w", id, err)
		}
		precursors, err := s.mzML.Precursors(idx)
		if err != nil {
			return nil, err
		}
		if len(precursors) > 0 {
			info.PrecursorMz = precursors[0].Mz
			info.Charge = precursors[0].Charge
		}
		scans = append(scans, info)
	}
	return scans, nil
}

func (s *spectrumSource) Peaks(ctx context.Context, specID string) ([]reporter.Peak, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	idx, err := s.index(specID)
	if err != nil {
		return nil, err
	}
	peaks, err := s.mzML.ReadScan(idx)
	if err != nil {
		return nil, fmt.Errorf("spectrum %s: %w", specID, err)
	}
	if centroid, _ := s.mzML.Centroid(idx); !centroid && !s.quiet {
		s.warnProfile.Do(func() {
			log.Printf("Spectrum %s is not centroided, reporter ions may be matched on profile points", specID)
		})
	}
	out := make([]reporter.Peak, len(peaks))
	for i, p := range peaks {
		out[i] = reporter.Peak{Mz: p.Mz, Intensity: p.Intens}
	}
	return out, nil
}

// accept checks the scores of an identification against the score filter.
// The CV term with the highest priority (listed first in the filter)
// decides. found is false if none of the filter terms is present.
func (sf scoreFilter) accept(cvs []mzidentml.CVParam) (ok, found bool, err error) {
	curPrio := math.MaxInt32
	for _, cv := range cvs {
		// Check if the CV accession number or CV name matches scorefilter
		filt, match := sf[cv.Accession]
		if !match {
			filt, match = sf[cv.Name]
		}
		if !match || filt.priority >= curPrio {
			continue
		}
		score, err := strconv.ParseFloat(cv.Value, 64)
		if err != nil {
			return false, true, fmt.Errorf("invalid score value %q for %s", cv.Value, cv.Accession)
		}
		curPrio = filt.priority
		found = true
		ok = score >= filt.minScore && score <= filt.maxScore
	}
	return ok, found, nil
}

// makePSMList selects the identifications to quantify: top ranked,
// non-decoy, and present in the selected spectra. Identifications that
// fail the score filter are kept, but marked as not validated.
func makePSMList(mzIdentML *mzidentml.MzIdentML, src *spectrumSource,
	scoreFilt scoreFilter, par params) ([]quant.PSM, error) {
	psms := make([]quant.PSM, 0, mzIdentML.NumIdents())
	missing := 0
	for i := 0; i < mzIdentML.NumIdents(); i++ {
		ident, err := mzIdentML.Ident(i)
		if err != nil {
			return nil, err
		}
		if ident.Rank > 1 || ident.Decoy {
			continue
		}
		if _, err := src.index(ident.SpecID); err != nil {
			switch {
			case errors.Is(err, mzml.ErrInvalidScanID):
				missing++
			case errors.Is(err, errSpecFiltered), errors.Is(err, errNotFragmentation):
			default:
				return nil, err
			}
			continue
		}
		validated, found, err := scoreFilt.accept(ident.Cv)
		if err != nil {
			return nil, fmt.Errorf("identification %s: %w", ident.PepID, err)
		}
		if !found {
			validated = ident.PassThreshold || par.assumeValidated
		}
		psms = append(psms, quant.PSM{
			SpectrumID: ident.SpecID,
			Peptide:    ident.PepSeq,
			Proteins:   ident.Proteins,
			Validated:  validated,
		})
	}
	if missing > 0 && par.verbosity != infoSilent {
		log.Printf("%d identified spectra are missing from %s", missing, par.mzMLFilename)
	}
	return psms, nil
}

func writeQuant(res *quant.Result, cfg quant.Config, src *spectrumSource, par params) error {
	ids := make([]string, len(res.Spectra))
	for i, q := range res.Spectra {
		ids[i] = q.ID
	}
	scans, err := src.scans(ids)
	if err != nil {
		return err
	}
	out := quantOutput{
		MzQuantVersion: outputFormatVersion,
		Program:        progName + " " + progVersion,
		Settings:       cfg,
		Scans:          scans,
		Result:         res,
	}

	f, err := os.Create(par.outFilename)
	if err != nil {
		return err
	}
	e := json.NewEncoder(f)
	e.SetIndent(``, `  `) // Make output easier to read for humans
	if err := e.Encode(out); err != nil {
		f.Close()
		return fmt.Errorf("writing %s: %w", par.outFilename, err)
	}
	return f.Close()
}
