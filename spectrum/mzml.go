package spectrum

import (
	"bufio"
	"bytes"
	"compress/zlib"
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
)

// PSI-MS controlled vocabulary accessions understood by the mzML reader.
const (
	cvMSLevel         = "MS:1000511"
	cvScanStartTime   = "MS:1000016"
	cvCentroid        = "MS:1000127"
	cvProfile         = "MS:1000128"
	cvTotalIonCurrent = "MS:1000285"
	cvMZArray         = "MS:1000514"
	cvIntensityArray  = "MS:1000515"
	cvFloat32         = "MS:1000521"
	cvFloat64         = "MS:1000523"
	cvZlib            = "MS:1000574"
	cvNoCompression   = "MS:1000576"

	uoSecond = "UO:0000010"
	uoMinute = "UO:0000031"
)

// maxBinaryArraySize bounds the decoded size of a single binary data array.
var maxBinaryArraySize int64 = 256 << 20

// MzMLSource reads recordings stored as mzML files.
//
// Only the parts of the format needed for replay are decoded: scan number, ms level,
// scan start time, centroid flag, total ion current and the m/z and intensity arrays.
// Spectra are returned in document order.
type MzMLSource struct{}

// Load parses the mzML file at path id.
func (MzMLSource) Load(ctx context.Context, id string) ([]Spectrum, error) {
	f, err := os.Open(id)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSourceLoad, err)
	}
	defer f.Close()

	return DecodeMzML(ctx, bufio.NewReader(f))
}

type mzmlCVParam struct {
	Accession     string `xml:"accession,attr"`
	Value         string `xml:"value,attr"`
	UnitName      string `xml:"unitName,attr"`
	UnitAccession string `xml:"unitAccession,attr"`
}

type mzmlScan struct {
	CVParams []mzmlCVParam `xml:"cvParam"`
}

type mzmlBinaryArray struct {
	CVParams []mzmlCVParam `xml:"cvParam"`
	Binary   string        `xml:"binary"`
}

type mzmlSpectrum struct {
	Index    int               `xml:"index,attr"`
	ID       string            `xml:"id,attr"`
	CVParams []mzmlCVParam     `xml:"cvParam"`
	Scans    []mzmlScan        `xml:"scanList>scan"`
	Arrays   []mzmlBinaryArray `xml:"binaryDataArrayList>binaryDataArray"`
}

// DecodeMzML parses spectra from an mzML (or indexedmzML) document.
func DecodeMzML(ctx context.Context, r io.Reader) ([]Spectrum, error) {
	dec := xml.NewDecoder(r)
	spectra := make([]Spectrum, 0, 64)
	sawRoot := false

	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: read mzml: %w", ErrSourceLoad, err)
		}

		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}

		switch start.Name.Local {
		case "mzML", "indexedmzML":
			sawRoot = true
		case "spectrum":
			if err := ctx.Err(); err != nil {
				return nil, err
			}

			var raw mzmlSpectrum
			if err := dec.DecodeElement(&raw, &start); err != nil {
				return nil, fmt.Errorf("%w: decode spectrum #%d: %w", ErrSourceLoad, len(spectra), err)
			}

			s, err := raw.toSpectrum()
			if err != nil {
				return nil, fmt.Errorf("%w: spectrum %q: %w", ErrSourceLoad, raw.ID, err)
			}
			spectra = append(spectra, s)
		}
	}

	if !sawRoot {
		return nil, fmt.Errorf("%w: document has no mzML root element", ErrSourceLoad)
	}

	if err := Validate(spectra); err != nil {
		return nil, err
	}

	return spectra, nil
}

func (m *mzmlSpectrum) toSpectrum() (Spectrum, error) {
	s := Spectrum{
		ScanNumber: scanNumberFromID(m.ID, m.Index),
	}

	ticSet := false
	for _, p := range m.CVParams {
		switch p.Accession {
		case cvMSLevel:
			lv, err := strconv.Atoi(p.Value)
			if err != nil {
				return s, fmt.Errorf("ms level %q: %w", p.Value, err)
			}
			s.MSLevel = lv
		case cvCentroid:
			s.Centroided = true
		case cvProfile:
			s.Centroided = false
		case cvTotalIonCurrent:
			tic, err := strconv.ParseFloat(p.Value, 64)
			if err != nil {
				return s, fmt.Errorf("total ion current %q: %w", p.Value, err)
			}
			s.TotalIonCurrent = tic
			ticSet = true
		}
	}

	if s.MSLevel == 0 {
		return s, errors.New("missing ms level")
	}

	for _, scan := range m.Scans {
		for _, p := range scan.CVParams {
			if p.Accession != cvScanStartTime {
				continue
			}

			rt, err := strconv.ParseFloat(p.Value, 64)
			if err != nil {
				return s, fmt.Errorf("scan start time %q: %w", p.Value, err)
			}

			if p.UnitAccession == uoSecond || strings.EqualFold(p.UnitName, "second") {
				rt /= 60
			}
			s.RetentionTime = rt
		}
	}

	var mzs, intensities []float64
	for _, arr := range m.Arrays {
		values, kind, err := arr.decode()
		if err != nil {
			return s, err
		}

		switch kind {
		case cvMZArray:
			mzs = values
		case cvIntensityArray:
			intensities = values
		}
	}

	if len(mzs) != len(intensities) {
		return s, fmt.Errorf("m/z array has %d values, intensity array has %d", len(mzs), len(intensities))
	}

	if len(mzs) > 0 {
		s.Peaks = make([]Peak, len(mzs))
		for i := range mzs {
			s.Peaks[i] = Peak{MZ: mzs[i], Intensity: intensities[i]}
		}
	}

	if !ticSet {
		s.TotalIonCurrent = sumIntensity(s.Peaks)
	}

	return s, nil
}

// decode returns the values of a binary array together with its array type accession.
func (a *mzmlBinaryArray) decode() ([]float64, string, error) {
	width := 8
	compressed := false
	kind := ""

	for _, p := range a.CVParams {
		switch p.Accession {
		case cvFloat32:
			width = 4
		case cvFloat64:
			width = 8
		case cvZlib:
			compressed = true
		case cvNoCompression:
			compressed = false
		case cvMZArray, cvIntensityArray:
			kind = p.Accession
		}
	}

	encoded := strings.Join(strings.Fields(a.Binary), "")
	if encoded == "" {
		return nil, kind, nil
	}

	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, kind, fmt.Errorf("base64: %w", err)
	}

	if compressed {
		zr, err := zlib.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, kind, fmt.Errorf("zlib: %w", err)
		}
		data, err = io.ReadAll(io.LimitReader(zr, maxBinaryArraySize+1))
		_ = zr.Close()
		if err != nil {
			return nil, kind, fmt.Errorf("zlib: %w", err)
		}
		if int64(len(data)) > maxBinaryArraySize {
			return nil, kind, fmt.Errorf("zlib: inflated array exceeds %d bytes", maxBinaryArraySize)
		}
	}

	if len(data)%width != 0 {
		return nil, kind, fmt.Errorf("binary length %d is not a multiple of %d", len(data), width)
	}

	values := make([]float64, len(data)/width)
	for i := range values {
		chunk := data[i*width : (i+1)*width]
		if width == 4 {
			values[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(chunk)))
		} else {
			values[i] = math.Float64frombits(binary.LittleEndian.Uint64(chunk))
		}
	}

	return values, kind, nil
}

// scanNumberFromID extracts N from a native id such as "controllerType=0 controllerNumber=1 scan=N".
// Ids without a scan term fall back to the 1-based spectrum index.
func scanNumberFromID(id string, index int) int {
	for _, field := range strings.Fields(id) {
		if v, ok := strings.CutPrefix(field, "scan="); ok {
			if n, err := strconv.Atoi(v); err == nil {
				return n
			}
		}
	}

	return index + 1
}
