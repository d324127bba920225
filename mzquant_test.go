package main

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/524D/mzquant/internal/isotope"
	"github.com/524D/mzquant/internal/mzidentml"
	"github.com/524D/mzquant/internal/mzml"
	"github.com/524D/mzquant/internal/quant"
	"github.com/524D/mzquant/internal/reporter"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func TestParseFloat64Range(t *testing.T) {
	// Test case 1: Valid input range
	min, max, err := parseFloat64Range("0.5:1.5", 0.0, 2.0)
	if err != nil {
		t.Errorf("Expected no error, got: %v", err)
	}
	if min != 0.5 {
		t.Errorf("Expected min to be 0.5, got: %f", min)
	}
	if max != 1.5 {
		t.Errorf("Expected max to be 1.5, got: %f", max)
	}

	// Test case 2: Empty input range
	min, max, err = parseFloat64Range("", 0.0, 2.0)
	if err != nil {
		t.Errorf("Expected no error, got: %v", err)
	}
	if min != 0.0 {
		t.Errorf("Expected min to be 0.0, got: %f", min)
	}
	if max != 2.0 {
		t.Errorf("Expected max to be 2.0, got: %f", max)
	}

	// Test case 3: Invalid input range
	min, max, err = parseFloat64Range("2.5:1.5", 0.0, 2.0)
	if !errors.Is(err, ErrRangeSpec) {
		t.Errorf("Expected error: %v, got: %v", ErrRangeSpec, err)
	}
	if min != 1.5 {
		t.Errorf("Expected min to be 1.5, got: %f", min)
	}
	if max != 1.5 {
		t.Errorf("Expected max to be 1.5, got: %f", max)
	}

	// Test case 4: Only max specified, with exponent
	min, max, err = parseFloat64Range(":1e-2", 0.0, 2.0)
	if err != nil {
		t.Errorf("Expected no error, got: %v", err)
	}
	if min != 0.0 {
		t.Errorf("Expected min to be 0.0, got: %f", min)
	}
	if max != 0.01 {
		t.Errorf("Expected max to be 0.01, got: %f", max)
	}

	// Test case 5: Only min specified, clipped to default
	min, max, err = parseFloat64Range("-12.01e1:", -100, 2.0)
	if err != nil {
		t.Errorf("Expected no error, got: %v", err)
	}
	if min != -100 {
		t.Errorf("Expected min to be -100, got: %f", min)
	}
	if max != 2.0 {
		t.Errorf("Expected max to be 2.0, got: %f", max)
	}
}

func TestParseIntRange(t *testing.T) {
	tests := []struct {
		in       string
		min, max int
		err      error
	}{
		{"", 0, math.MaxInt32, nil},
		{"10:20", 10, 20, nil},
		{"10:", 10, math.MaxInt32, nil},
		{":20", 0, 20, nil},
		{"-5:20", 0, 20, nil},
		{"20:10", 10, 10, ErrRangeSpec},
	}
	for _, tt := range tests {
		min, max, err := parseIntRange(tt.in, 0, math.MaxInt32)
		if min != tt.min || max != tt.max || !errors.Is(err, tt.err) {
			t.Errorf("parseIntRange(%q) = %d, %d, %v; want %d, %d, %v",
				tt.in, min, max, err, tt.min, tt.max, tt.err)
		}
	}
}

func TestParseScoreFilter(t *testing.T) {
	sf, err := parseScoreFilter(defaultScoreFilter)
	if err != nil {
		t.Fatal(err)
	}
	want := scoreFilter{
		"MS:1002257": {minScore: 0, maxScore: 1e-2, priority: 0},
		"MS:1001330": {minScore: 0, maxScore: 1e-2, priority: 1},
		"MS:1001159": {minScore: 0, maxScore: 1e-2, priority: 2},
		"MS:1002466": {minScore: 0.99, maxScore: math.MaxFloat64, priority: 3},
	}
	if diff := cmp.Diff(want, sf, cmp.AllowUnexported(scoreRange{})); diff != "" {
		t.Errorf("parseScoreFilter mismatch (-want +got):\n%s", diff)
	}

	if _, err := parseScoreFilter("MS:1002257(0:1)MS:1002257(0:2)"); err == nil {
		t.Error("parseScoreFilter accepted a duplicate score")
	}
	if _, err := parseScoreFilter("MS:1002257(2:1)"); !errors.Is(err, ErrRangeSpec) {
		t.Errorf("parseScoreFilter: error return %v, should be ErrRangeSpec", err)
	}
}

func TestScoreFilterAccept(t *testing.T) {
	sf, err := parseScoreFilter("MS:1002257(0.0:1e-2)Mascot:score(40:)")
	if err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		name      string
		cvs       []mzidentml.CVParam
		ok, found bool
	}{
		{"none", nil, false, false},
		{"unrelated", []mzidentml.CVParam{{Accession: "MS:1001171", Value: "80"}}, false, false},
		{"pass", []mzidentml.CVParam{{Accession: "MS:1002257", Value: "0.001"}}, true, true},
		{"fail", []mzidentml.CVParam{{Accession: "MS:1002257", Value: "0.5"}}, false, true},
		{"by name", []mzidentml.CVParam{{Accession: "MS:1001171", Name: "Mascot:score", Value: "41"}}, true, true},
		// The first filter term decides, regardless of the order in the file
		{"priority", []mzidentml.CVParam{
			{Accession: "MS:1001171", Name: "Mascot:score", Value: "41"},
			{Accession: "MS:1002257", Value: "0.5"},
		}, false, true},
		{"priority reversed", []mzidentml.CVParam{
			{Accession: "MS:1002257", Value: "0.001"},
			{Accession: "MS:1001171", Name: "Mascot:score", Value: "10"},
		}, true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, found, err := sf.accept(tt.cvs)
			if err != nil {
				t.Fatal(err)
			}
			if ok != tt.ok || found != tt.found {
				t.Errorf("accept = %v, %v; want %v, %v", ok, found, tt.ok, tt.found)
			}
		})
	}

	if _, _, err := sf.accept([]mzidentml.CVParam{{Accession: "MS:1002257", Value: "low"}}); err == nil {
		t.Error("accept: no error for a malformed score")
	}
}

// Test data: a 4-plex without isotope impurities, so the reporter
// intensities below are also the corrected intensities
var testLabels = []string{"114", "115", "116", "117"}

func labelMz(i int) float64 {
	return 114.1 + float64(i)*isotope.C13Spacing
}

type testSpectrum struct {
	id     string
	intens []float64
}

var testSpectra = []testSpectrum{
	{"scan=1", []float64{1000, 500, 2000, 100}},
	{"scan=2", []float64{1000, 1000, 2000, 0}},
	{"scan=3", []float64{1000, 2000, 1000, 300}},
	{"scan=4", []float64{1000, 9000, 9000, 9000}},
}

func encode64(v []float64) string {
	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, v)
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func testMzML() string {
	return buildMzML([]float64{labelMz(0), labelMz(1), labelMz(2), labelMz(3)}, testSpectra)
}

// buildMzML returns an mzML file with one MS2 spectrum per entry of
// spectra, with reporter peaks at labelMzs
func buildMzML(labelMzs []float64, spectra []testSpectrum) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="utf-8"?>
<mzML xmlns="http://psi.hupo.org/ms/mzml" version="1.1.0">
<run id="run1">
<spectrumList count="` + fmt.Sprint(len(spectra)) + `">
`)
	for i, s := range spectra {
		// A precursor peak follows the reporter ions
		mz := append(append([]float64{}, labelMzs...), 650.33)
		intens := append(append([]float64{}, s.intens...), 5e4)
		fmt.Fprintf(&b, `<spectrum index="%d" id="%s" defaultArrayLength="%d">
  <cvParam cvRef="MS" accession="MS:1000511" name="ms level" value="2"/>
  <cvParam cvRef="MS" accession="MS:1000127" name="centroid spectrum"/>
  <scanList count="1"><scan>
    <cvParam cvRef="MS" accession="MS:1000016" name="scan start time" value="%d" unitCvRef="UO" unitAccession="UO:0000031" unitName="minute"/>
  </scan></scanList>
  <precursorList count="1"><precursor>
    <selectedIonList count="1"><selectedIon>
      <cvParam cvRef="MS" accession="MS:1000744" name="selected ion m/z" value="650.33"/>
      <cvParam cvRef="MS" accession="MS:1000041" name="charge state" value="2"/>
    </selectedIon></selectedIonList>
  </precursor></precursorList>
  <binaryDataArrayList count="2">
    <binaryDataArray>
      <cvParam cvRef="MS" accession="MS:1000514" name="m/z array"/>
      <cvParam cvRef="MS" accession="MS:1000523" name="64-bit float"/>
      <cvParam cvRef="MS" accession="MS:1000576" name="no compression"/>
      <binary>%s</binary>
    </binaryDataArray>
    <binaryDataArray>
      <cvParam cvRef="MS" accession="MS:1000515" name="intensity array"/>
      <cvParam cvRef="MS" accession="MS:1000523" name="64-bit float"/>
      <cvParam cvRef="MS" accession="MS:1000576" name="no compression"/>
      <binary>%s</binary>
    </binaryDataArray>
  </binaryDataArrayList>
</spectrum>
`, i, s.id, len(mz), i+1, encode64(mz), encode64(intens))
	}
	b.WriteString(`</spectrumList>
</run>
</mzML>`)
	return b.String()
}

func sir(specID, items string) string {
	return fmt.Sprintf(`<SpectrumIdentificationResult id="SIR_%s" spectrumID="%s" spectraData_ref="sd">%s</SpectrumIdentificationResult>
`, specID, specID, items)
}

func sii(id string, rank int, pep, evalue string, evidence ...string) string {
	s := fmt.Sprintf(`<SpectrumIdentificationItem id="%s" rank="%d" chargeState="2" passThreshold="false" peptide_ref="%s">`, id, rank, pep)
	for _, e := range evidence {
		s += fmt.Sprintf(`<PeptideEvidenceRef peptideEvidence_ref="%s"/>`, e)
	}
	if evalue != "" {
		s += fmt.Sprintf(`<cvParam cvRef="PSI-MS" accession="MS:1002257" name="Comet:expectation value" value="%s"/>`, evalue)
	}
	return s + `</SpectrumIdentificationItem>`
}

func testMzIdentML() string {
	return `<?xml version="1.0" encoding="UTF-8"?>
<MzIdentML xmlns="http://psidev.info/psi/pi/mzIdentML/1.1" id="test" version="1.1.0">
<SequenceCollection>
  <DBSequence id="DB_P1" accession="P1"/>
  <DBSequence id="DB_P2" accession="P2"/>
  <DBSequence id="DB_REV" accession="REV_P1"/>
  <Peptide id="PEPA"><PeptideSequence>PEPA</PeptideSequence></Peptide>
  <Peptide id="PEPB"><PeptideSequence>PEPB</PeptideSequence></Peptide>
  <Peptide id="DECOY"><PeptideSequence>APEP</PeptideSequence></Peptide>
  <PeptideEvidence id="PE_A1" peptide_ref="PEPA" dBSequence_ref="DB_P1"/>
  <PeptideEvidence id="PE_B1" peptide_ref="PEPB" dBSequence_ref="DB_P1"/>
  <PeptideEvidence id="PE_B2" peptide_ref="PEPB" dBSequence_ref="DB_P2"/>
  <PeptideEvidence id="PE_D" peptide_ref="DECOY" dBSequence_ref="DB_REV" isDecoy="true"/>
</SequenceCollection>
<DataCollection><AnalysisData>
<SpectrumIdentificationList id="SIL_1">
` + sir("scan=1", sii("SII_1", 1, "PEPA", "0.001", "PE_A1")+sii("SII_1b", 2, "DECOY", "0.002", "PE_D")) +
		sir("scan=2", sii("SII_2", 1, "PEPA", "0.001", "PE_A1")) +
		sir("scan=3", sii("SII_3", 1, "PEPB", "0.001", "PE_B1", "PE_B2")) +
		sir("scan=4", sii("SII_4", 1, "PEPB", "0.5", "PE_B2")) +
		sir("scan=9", sii("SII_9", 1, "PEPA", "0.001", "PE_A1")) + `
</SpectrumIdentificationList>
</AnalysisData></DataCollection>
</MzIdentML>`
}

// writeTestFiles writes the mzML, mzid and method files and returns
// the parameters to quantify them
func writeTestFiles(t *testing.T) params {
	t.Helper()
	dir := t.TempDir()
	write := func(name, content string) string {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
		return path
	}
	var labels []reporter.Label
	for i, name := range testLabels {
		labels = append(labels, reporter.Label{Name: name, Mz: labelMz(i)})
	}
	method, err := json.Marshal(reporter.Method{Name: "pure4", Labels: labels})
	if err != nil {
		t.Fatal(err)
	}

	mzMLFile := write("sample.mzML", testMzML())
	write("sample.mzid", testMzIdentML())
	return params{
		args:        []string{mzMLFile},
		methodFile:  write("pure4.json", string(method)),
		reference:   "114",
		tolerance:   0.01,
		percentile:  68,
		resolution:  0.01,
		scoreFilter: defaultScoreFilter,
		cacheSize:   100,
		workers:     2,
		quiet:       true,
	}
}

func TestMakePSMList(t *testing.T) {
	par := writeTestFiles(t)
	if err := sanatizeParams(&par); err != nil {
		t.Fatal(err)
	}
	mzML, err := readMzML(par.mzMLFilename)
	if err != nil {
		t.Fatal(err)
	}
	mzIdentML, err := readMzIdentML(par.mzIdentMlFilename)
	if err != nil {
		t.Fatal(err)
	}
	scoreFilt, err := parseScoreFilter(par.scoreFilter)
	if err != nil {
		t.Fatal(err)
	}

	psms, err := makePSMList(&mzIdentML, newSpectrumSource(&mzML, 0, math.MaxInt32), scoreFilt, par)
	if err != nil {
		t.Fatal(err)
	}
	want := []quant.PSM{
		{SpectrumID: "scan=1", Peptide: "PEPA", Proteins: []string{"P1"}, Validated: true},
		{SpectrumID: "scan=2", Peptide: "PEPA", Proteins: []string{"P1"}, Validated: true},
		{SpectrumID: "scan=3", Peptide: "PEPB", Proteins: []string{"P1", "P2"}, Validated: true},
		{SpectrumID: "scan=4", Peptide: "PEPB", Proteins: []string{"P2"}, Validated: false},
	}
	if diff := cmp.Diff(want, psms); diff != "" {
		t.Errorf("makePSMList mismatch (-want +got):\n%s", diff)
	}

	// Spectrum filter on index
	psms, err = makePSMList(&mzIdentML, newSpectrumSource(&mzML, 1, 2), scoreFilt, par)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(want[1:3], psms); diff != "" {
		t.Errorf("makePSMList with spectrum filter mismatch (-want +got):\n%s", diff)
	}

	// Without a usable score, passThreshold decides unless validation is assumed
	psms, err = makePSMList(&mzIdentML, newSpectrumSource(&mzML, 0, 0), scoreFilter{}, par)
	if err != nil {
		t.Fatal(err)
	}
	if len(psms) != 1 || psms[0].Validated {
		t.Errorf("makePSMList without score filter = %+v", psms)
	}
	par.assumeValidated = true
	psms, err = makePSMList(&mzIdentML, newSpectrumSource(&mzML, 0, 0), scoreFilter{}, par)
	if err != nil {
		t.Fatal(err)
	}
	if len(psms) != 1 || !psms[0].Validated {
		t.Errorf("makePSMList assuming validation = %+v", psms)
	}
}

func TestSpectrumSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s.mzML")
	if err := os.WriteFile(path, []byte(testMzML()), 0o644); err != nil {
		t.Fatal(err)
	}
	mzML, err := readMzML(path)
	if err != nil {
		t.Fatal(err)
	}
	src := newSpectrumSource(&mzML, 0, 2)
	peaks, err := src.Peaks(context.Background(), "scan=3")
	if err != nil {
		t.Fatal(err)
	}
	if len(peaks) != 5 || peaks[1] != (reporter.Peak{Mz: labelMz(1), Intensity: 2000}) {
		t.Errorf("Peaks(scan=3) = %+v", peaks)
	}
	if _, err := src.Peaks(context.Background(), "scan=4"); !errors.Is(err, errSpecFiltered) {
		t.Errorf("Peaks(scan=4): error return %v, should be errSpecFiltered", err)
	}
	if _, err := src.Peaks(context.Background(), "scan=9"); !errors.Is(err, mzml.ErrInvalidScanID) {
		t.Errorf("Peaks(scan=9): error return %v, should be ErrInvalidScanID", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := src.Peaks(ctx, "scan=1"); !errors.Is(err, context.Canceled) {
		t.Errorf("Peaks on canceled context: error return %v", err)
	}
}

func TestRunQuant(t *testing.T) {
	par := writeTestFiles(t)
	par.dbFilename = filepath.Join(filepath.Dir(par.args[0]), "runs.db")
	if err := sanatizeParams(&par); err != nil {
		t.Fatal(err)
	}
	if err := runQuant(context.Background(), par); err != nil {
		t.Fatalf("runQuant: error return %v", err)
	}

	f, err := os.Open(par.outFilename)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	var out quantOutput
	if err := json.NewDecoder(f).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if out.MzQuantVersion != outputFormatVersion || out.Result == nil {
		t.Fatalf("unexpected output header %+v", out)
	}
	if out.Settings.Reference != "114" || out.Method != "pure4" {
		t.Errorf("settings = %+v, method %s", out.Settings, out.Method)
	}
	if len(out.Spectra) != 4 {
		t.Errorf("%d spectra quantified, want 4", len(out.Spectra))
	}
	wantScans := []scanInfo{
		{ID: "scan=1", RetentionTime: 60, PrecursorMz: 650.33, Charge: 2},
		{ID: "scan=2", RetentionTime: 120, PrecursorMz: 650.33, Charge: 2},
		{ID: "scan=3", RetentionTime: 180, PrecursorMz: 650.33, Charge: 2},
		{ID: "scan=4", RetentionTime: 240, PrecursorMz: 650.33, Charge: 2},
	}
	if diff := cmp.Diff(wantScans, out.Scans); diff != "" {
		t.Errorf("scans mismatch (-want +got):\n%s", diff)
	}

	ratios := func(qs []*quant.Quant) map[string]map[string]float64 {
		m := map[string]map[string]float64{}
		for _, q := range qs {
			m[q.ID] = q.Ratios
		}
		return m
	}
	// scan=4 failed the score filter and does not count for PEPB
	wantPeptides := map[string]map[string]float64{
		"PEPA": {"114": 1, "115": 0.75, "116": 2, "117": 0.05},
		"PEPB": {"114": 1, "115": 2, "116": 1, "117": 0.3},
	}
	wantProteins := map[string]map[string]float64{
		"P1": {"114": 1, "115": 1.375, "116": 1.5, "117": 0.175},
		"P2": {"114": 1, "115": 2, "116": 1, "117": 0.3},
	}
	approx := cmpopts.EquateApprox(1e-12, 0)
	if diff := cmp.Diff(wantPeptides, ratios(out.Peptides), approx); diff != "" {
		t.Errorf("peptide ratios mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(wantProteins, ratios(out.Proteins), approx); diff != "" {
		t.Errorf("protein ratios mismatch (-want +got):\n%s", diff)
	}

	db, err := sql.Open("sqlite3", par.dbFilename)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	var rows int
	if err := db.QueryRow(`SELECT COUNT(*) FROM RatioTable`).Scan(&rows); err != nil {
		t.Fatal(err)
	}
	if rows != (4+2+2)*len(testLabels) {
		t.Errorf("database holds %d ratios, want %d", rows, (4+2+2)*len(testLabels))
	}
}

func TestRunQuantErrors(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*params)
	}{
		{"unknown reference", func(p *params) { p.reference = "113" }},
		{"ambiguous labels", func(p *params) { p.tolerance = 2 }},
		{"missing mzid", func(p *params) { p.mzIdentMlFilename = p.mzIdentMlFilename + ".missing" }},
		{"bad method", func(p *params) { p.methodFile = ""; p.methodName = "itraq5" }},
		{"bad score filter", func(p *params) { p.scoreFilter = "MS:1002257(1:0)" }},
		{"bad estimator", func(p *params) { p.percentile = 120 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			par := writeTestFiles(t)
			if err := sanatizeParams(&par); err != nil {
				t.Fatal(err)
			}
			tt.modify(&par)
			if err := runQuant(context.Background(), par); err == nil {
				t.Error("runQuant: no error return")
			}
		})
	}

	par := writeTestFiles(t)
	if err := sanatizeParams(&par); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := runQuant(ctx, par); !quant.IsCanceled(err) {
		t.Errorf("runQuant on canceled context: error return %v", err)
	}
}

func TestSanatizeParams(t *testing.T) {
	par := params{args: []string{"/data/yeast.mzML"}, tolerance: 0.05, quiet: true}
	if err := sanatizeParams(&par); err != nil {
		t.Fatal(err)
	}
	if par.mzIdentMlFilename != "/data/yeast.mzid" || par.outFilename != "/data/yeast-quant.json" {
		t.Errorf("derived file names %s, %s", par.mzIdentMlFilename, par.outFilename)
	}
	if par.minSpecIdx != 0 || par.maxSpecIdx != math.MaxInt32 || par.verbosity != infoSilent {
		t.Errorf("sanatizeParams = %+v", par)
	}

	for _, p := range []params{
		{args: []string{"a.mzML"}, tolerance: -0.01},
		{args: []string{"a.mzML"}, tolerance: math.NaN()},
		{args: []string{"a.mzML"}, tolerance: 0.05, specFilter: "9:1"},
		{args: []string{"a.mzML"}, tolerance: 0.05, cacheSize: -1},
		{tolerance: 0.05},
	} {
		if err := sanatizeParams(&p); err == nil {
			t.Errorf("sanatizeParams(%+v): no error return", p)
		}
	}
}

func TestRunQuantDefaultTolerance(t *testing.T) {
	method, err := reporter.Lookup("tmt10")
	if err != nil {
		t.Fatal(err)
	}
	var labelMzs []float64
	for _, l := range method.Labels {
		labelMzs = append(labelMzs, l.Mz)
	}
	// 127C carries three times the signal of 127N, 6.3 mDa away
	intens := []float64{1000, 1000, 3000, 1000, 1000, 1000, 1000, 1000, 1000, 1000}
	var spectra []testSpectrum
	for i := 1; i <= 4; i++ {
		spectra = append(spectra, testSpectrum{fmt.Sprintf("scan=%d", i), intens})
	}
	dir := t.TempDir()
	mzMLFile := filepath.Join(dir, "tmt.mzML")
	if err := os.WriteFile(mzMLFile, []byte(buildMzML(labelMzs, spectra)), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "tmt.mzid"), []byte(testMzIdentML()), 0o644); err != nil {
		t.Fatal(err)
	}

	rootCmd.SetArgs([]string{"quant", "--method", "tmt10", "--reference", "126", "--quiet", mzMLFile})
	t.Cleanup(func() { rootCmd.SetArgs(nil) })
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		t.Fatalf("mzquant quant --method tmt10: error return %v", err)
	}

	f, err := os.Open(filepath.Join(dir, "tmt-quant.json"))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	var out quantOutput
	if err := json.NewDecoder(f).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if out.Result == nil {
		t.Fatal("no result in output")
	}
	if out.Settings.Tolerance != method.Tolerance() {
		t.Errorf("tolerance = %v, want %v", out.Settings.Tolerance, method.Tolerance())
	}
	if len(out.Peptides) != 2 {
		t.Fatalf("%d peptides quantified, want 2", len(out.Peptides))
	}
	for _, pep := range out.Peptides {
		n, c := pep.Ratios["127N"], pep.Ratios["127C"]
		if !(n > 0) || c < 2*n {
			t.Errorf("%s: 127N ratio %v, 127C ratio %v, want the 127C peak kept apart", pep.ID, n, c)
		}
	}
}

func TestListMethods(t *testing.T) {
	var buf bytes.Buffer
	if err := listMethods(&buf); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, name := range reporter.BuiltinNames() {
		if !strings.Contains(out, name) {
			t.Errorf("method %s not listed:\n%s", name, out)
		}
	}
	if !strings.Contains(out, "127N 127C") {
		t.Errorf("tmt10 labels not listed:\n%s", out)
	}
}
