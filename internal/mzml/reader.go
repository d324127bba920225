package mzml

import (
	"bytes"
	"compress/zlib"
	"encoding/base64"
	"encoding/binary"
	"encoding/xml"
	"fmt"
	"io"
	"math"
	"strconv"

	"golang.org/x/net/html/charset"
)

// Read reads mzML file from an io.Reader
func Read(reader io.Reader) (MzML, error) {
	var mzML MzML

	d := xml.NewDecoder(reader)
	d.CharsetReader = charset.NewReaderLabel

	// We are only interested in mzML content, so skip over indexedmzML
	// and everything else
	for {
		t, tokenErr := d.Token()
		if tokenErr != nil {
			if tokenErr == io.EOF {
				break
			}
			return mzML, tokenErr
		}
		if t, ok := t.(xml.StartElement); ok && t.Name.Local == "mzML" {
			if err := d.DecodeElement(&mzML.content, &t); err != nil {
				return mzML, err
			}
		}
	}

	err := mzML.traverseScan()
	return mzML, err
}

// binaryEncoding holds the CV terms of a mzML binarydata section
//
// CV Terms for binary data compression
// MS:1000574 zlib compression
// MS:1000576 No Compression
// MS:1002312..MS:1002314, MS:1002746..MS:1002748 MS-Numpress variants
//
// CV Terms for binary data array types
// MS:1000514 m/z array
// MS:1000515 intensity array
//
// CV Terms for binary-data-type
// MS:1000521 32-bit float
// MS:1000523 64-bit float
type binaryEncoding struct {
	zlib      bool
	bits64    bool
	mz        bool
	intensity bool
}

func binaryDataPars(b *binaryDataArray) (binaryEncoding, error) {
	var enc binaryEncoding // default: uncompressed 32 bit
	for _, cvParam := range b.CvPar {
		switch cvParam.Accession {
		case `MS:1000574`:
			enc.zlib = true
		case `MS:1000514`:
			enc.mz = true
		case `MS:1000515`:
			enc.intensity = true
		case `MS:1000523`:
			enc.bits64 = true
		case `MS:1002312`, `MS:1002313`, `MS:1002314`,
			`MS:1002746`, `MS:1002747`, `MS:1002748`:
			return enc, fmt.Errorf("%w (CV term %s)", ErrUnsupportedCompression, cvParam.Accession)
		}
	}
	return enc, nil
}

// decodeFloats returns the values of a binary data array
func decodeFloats(b *binaryDataArray, enc binaryEncoding) ([]float64, error) {
	data, err := base64.StdEncoding.DecodeString(b.Binary)
	if err != nil {
		return nil, err
	}
	if enc.zlib {
		z, err := zlib.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		defer z.Close()
		if data, err = io.ReadAll(z); err != nil {
			return nil, err
		}
	}
	size := 4
	if enc.bits64 {
		size = 8
	}
	v := make([]float64, len(data)/size)
	for i := range v {
		if enc.bits64 {
			v[i] = math.Float64frombits(binary.LittleEndian.Uint64(data[i*8:]))
		} else {
			v[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:])))
		}
	}
	return v, nil
}

// NumSpecs returns the number of spectra
func (f *MzML) NumSpecs() int {
	return len(f.content.Run.SpectrumList.Spectrum)
}

func (f *MzML) spectrum(scanIndex int) (*spectrum, error) {
	if scanIndex < 0 || scanIndex >= f.NumSpecs() {
		return nil, ErrInvalidScanIndex
	}
	return &f.content.Run.SpectrumList.Spectrum[scanIndex], nil
}

// ReadScan reads a single scan
// scanIndex is the sequence number of the scan in the mzML file,
// This is not the same as the scan id that is specified
// in the mzML file! To read a scan using the mzML id,
// use ReadScan(f, ScanIndex(f, scanID))
func (f *MzML) ReadScan(scanIndex int) ([]Peak, error) {
	s, err := f.spectrum(scanIndex)
	if err != nil {
		return nil, err
	}
	p := make([]Peak, s.DefaultArrayLength)
	for i := range s.BinaryDataArrayList.BinaryDataArray {
		b := &s.BinaryDataArrayList.BinaryDataArray[i]
		enc, err := binaryDataPars(b)
		if err != nil {
			return nil, err
		}
		// We are only interested in mz and intensity
		if !enc.mz && !enc.intensity {
			continue
		}
		v, err := decodeFloats(b, enc)
		if err != nil {
			return nil, fmt.Errorf("spectrum %s: %w", s.ID, err)
		}
		if len(v) != len(p) {
			return nil, fmt.Errorf("%w: spectrum %s has %d values, want %d",
				ErrArrayLength, s.ID, len(v), len(p))
		}
		for j, x := range v {
			if enc.mz {
				p[j].Mz = x
			} else {
				p[j].Intens = x
			}
		}
	}
	return p, nil
}

// RetentionTime returns the retention time of a spectrum in seconds,
// or -1 if not present
func (f *MzML) RetentionTime(scanIndex int) (float64, error) {
	s, err := f.spectrum(scanIndex)
	if err != nil {
		return 0.0, err
	}
	for _, scan := range s.ScanList.Scan {
		for _, cvParam := range scan.CvPar {
			if cvParam.Accession == "MS:1000016" {
				retentionTime, err := strconv.ParseFloat(cvParam.Value, 64)
				// Check if the retention time is in minutes, otherwise assume it's seconds
				if cvParam.UnitAccession == "UO:0000031" ||
					cvParam.UnitAccession == "MS:1000038" {
					retentionTime *= 60
				}
				return retentionTime, err
			}
		}
	}
	return -1.0, nil
}

// Centroid returns true is the spectrum contains centroid peaks
func (f *MzML) Centroid(scanIndex int) (bool, error) {
	s, err := f.spectrum(scanIndex)
	if err != nil {
		return false, err
	}
	for _, cvParam := range s.CvPar {
		if cvParam.Accession == "MS:1000127" { // centroid spectrum
			return true, nil
		}
	}
	return false, nil
}

// MSLevel returns the MS level of a scan
func (f *MzML) MSLevel(scanIndex int) (int, error) {
	s, err := f.spectrum(scanIndex)
	if err != nil {
		return 0, err
	}
	for _, cvParam := range s.CvPar {
		if cvParam.Accession == "MS:1000511" { // ms level
			msLevel, err := strconv.ParseInt(cvParam.Value, 10, 64)
			return int(msLevel), err
		}
	}
	return 1, nil // If nothing else, guess it's MS1
}

// Precursors returns the selected ions of a scan. MS1 scans have none.
//
// CV Terms of a selected ion
// MS:1000744 selected ion m/z
// MS:1000041 charge state
// MS:1000042 peak intensity
func (f *MzML) Precursors(scanIndex int) ([]Precursor, error) {
	s, err := f.spectrum(scanIndex)
	if err != nil {
		return nil, err
	}
	var precursors []Precursor
	for _, pl := range s.PrecursorList {
		for _, xp := range pl.Precursor {
			for _, ion := range xp.SelectedIonList.SelectedIon {
				p := Precursor{SpectrumRef: xp.SpectrumRef}
				for _, cvParam := range ion.CvPar {
					var err error
					switch cvParam.Accession {
					case "MS:1000744":
						p.Mz, err = strconv.ParseFloat(cvParam.Value, 64)
					case "MS:1000041":
						p.Charge, err = strconv.Atoi(cvParam.Value)
					case "MS:1000042":
						p.Intensity, err = strconv.ParseFloat(cvParam.Value, 64)
					}
					if err != nil {
						return nil, fmt.Errorf("spectrum %s precursor %s: %w", s.ID, cvParam.Accession, err)
					}
				}
				for _, cvParam := range xp.Activation.CvPar {
					p.Activation = append(p.Activation, cvParam.Accession)
				}
				precursors = append(precursors, p)
			}
		}
	}
	return precursors, nil
}

// traverseScan fills the arrays f.index2id and f.id2Index
// to make scans accessible
func (f *MzML) traverseScan() error {
	f.index2id = make([]string, f.NumSpecs())
	f.id2Index = make(map[string]int, f.NumSpecs())
	for i, s := range f.content.Run.SpectrumList.Spectrum {
		if i != s.Index {
			return fmt.Errorf("%w: spectrum %s has index %d at position %d",
				ErrInvalidScanIndex, s.ID, s.Index, i)
		}
		f.index2id[i] = s.ID
		f.id2Index[s.ID] = i
	}
	return nil
}

// ScanIndex converts a scan identifier (the string used in the mzML file)
// into an index that is used to access the scans
func (f *MzML) ScanIndex(scanID string) (int, error) {
	if index, ok := f.id2Index[scanID]; ok {
		return index, nil
	}
	return 0, ErrInvalidScanID
}

// ScanID converts a scan index (used to access the scan data) into a scan id
// (used in the mzML file)
func (f *MzML) ScanID(scanIndex int) (string, error) {
	if scanIndex >= 0 && scanIndex < f.NumSpecs() {
		return f.index2id[scanIndex], nil
	}
	return "", ErrInvalidScanIndex
}
