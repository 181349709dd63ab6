package acquisition

import (
	"strconv"
	"time"

	"github.com/arloliu/go-msbridge/spectrum"
)

// TrailerAccessID is the trailer entry holding the running number of the originating request.
const TrailerAccessID = "Access id:"

// headerPlaceholders are reported by real instruments but carry no value in a replay.
// "SourceFragmentaiton" is spelled the way the vendor API spells it.
var headerPlaceholders = []string{
	"MassAnalyzer", "IonizationMode", "ScanRate", "ScanMode",
	"BasePeakIntensity", "BasePeakMass", "CycleNumber", "Microscans",
	"InjectTime", "ScanData", "Segments", "Monoisotopic",
	"FirstMass", "LastMass", "Checksum", "Average", "Dependent", "MSX",
	"SourceFragmentaiton", "SourceFragmentationEnergy",
}

// ResultScan is the instrument's reply to an accepted custom scan.
//
// A ResultScan is immutable once published; subscribers share the same value.
type ResultScan struct {
	ScanNumber    int   `json:"scanNumber"`
	MSLevel       int   `json:"msLevel"`
	RunningNumber int64 `json:"runningNumber"`
	// Elapsed is the time between instrument start and delivery.
	Elapsed         time.Duration `json:"elapsed"`
	TotalIonCurrent float64       `json:"tic"`
	// Centroids is nil unless the source spectrum was centroided.
	Centroids []spectrum.Peak `json:"centroids,omitempty"`
	// Header holds the vendor scan header entries.
	Header map[string]string `json:"header"`
}

// NewResultScan builds the result for spectrum s delivered to the request with runningNumber.
func NewResultScan(s spectrum.Spectrum, runningNumber int64, elapsed time.Duration) *ResultScan {
	rs := &ResultScan{
		ScanNumber:      s.ScanNumber,
		MSLevel:         s.MSLevel,
		RunningNumber:   runningNumber,
		Elapsed:         elapsed,
		TotalIonCurrent: s.TotalIonCurrent,
		Header:          make(map[string]string, len(headerPlaceholders)+6),
	}

	for _, key := range headerPlaceholders {
		rs.Header[key] = ""
	}
	rs.Header["Scan"] = strconv.Itoa(s.ScanNumber)
	rs.Header["MSOrder"] = strconv.Itoa(s.MSLevel)
	rs.Header["MasterScan"] = strconv.FormatInt(runningNumber, 10)
	rs.Header["StartTime"] = strconv.FormatFloat(elapsed.Seconds(), 'f', -1, 64)
	rs.Header["TIC"] = strconv.FormatFloat(s.TotalIonCurrent, 'f', -1, 64)
	rs.Header["Polarity"] = "0"

	if s.Centroided {
		rs.Centroids = make([]spectrum.Peak, len(s.Peaks))
		copy(rs.Centroids, s.Peaks)
	}

	return rs
}

// ScanType returns the scan type matching the MS level of the result.
func (r *ResultScan) ScanType() ScanType {
	return ScanTypeForLevel(r.MSLevel)
}

// CentroidCount returns the number of centroids, zero for profile data.
func (r *ResultScan) CentroidCount() int {
	return len(r.Centroids)
}

// Trailer looks up a trailer entry by name. Only TrailerAccessID is known.
func (r *ResultScan) Trailer(name string) (string, bool) {
	if name == TrailerAccessID {
		return strconv.FormatInt(r.RunningNumber, 10), true
	}

	return "", false
}
