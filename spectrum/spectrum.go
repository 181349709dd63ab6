// Package spectrum defines recorded mass spectra and the sources that load them.
//
// A recording is a finite, time-ordered sequence of spectra, typically parsed from an mzML file
// produced by a previous acquisition. The simulator replays such a recording; it never mutates
// the spectra it receives.
package spectrum

import (
	"fmt"
	"math"
)

// Peak is a single centroid of a spectrum.
type Peak struct {
	MZ        float64 `json:"mz" yaml:"mz"`
	Intensity float64 `json:"intensity" yaml:"intensity"`
}

// Spectrum is one recorded acquisition result.
type Spectrum struct {
	// ScanNumber is unique within a recording.
	ScanNumber int `json:"scan"`
	// MSLevel is 1 for full scans and 2 or higher for fragmentation scans.
	MSLevel int `json:"msLevel"`
	// RetentionTime is the scan start time in minutes, as stored in mzML.
	RetentionTime float64 `json:"rt"`
	// Centroided reports whether Peaks holds centroided data.
	Centroided bool `json:"centroided"`
	// Peaks are ordered by m/z as recorded.
	Peaks []Peak `json:"peaks,omitempty"`
	// TotalIonCurrent is the summed intensity reported by the instrument.
	TotalIonCurrent float64 `json:"tic"`
}

// IsMS1 reports whether the spectrum is a full scan.
func (s Spectrum) IsMS1() bool { return s.MSLevel == 1 }

// RetentionSeconds returns the retention time in seconds.
func (s Spectrum) RetentionSeconds() float64 { return s.RetentionTime * 60 }

// BasePeak returns the most intense peak. ok is false for an empty peak list.
func (s Spectrum) BasePeak() (peak Peak, ok bool) {
	for i, p := range s.Peaks {
		if i == 0 || p.Intensity > peak.Intensity {
			peak = p
		}
	}

	return peak, len(s.Peaks) > 0
}

// String returns a short description of the spectrum.
func (s Spectrum) String() string {
	return fmt.Sprintf("Spectrum(scan=%d, ms%d, rt=%.4fmin, peaks=%d)", s.ScanNumber, s.MSLevel, s.RetentionTime, len(s.Peaks))
}

// Validate checks the invariants a recording must satisfy before it can be replayed:
// scan numbers are unique, MS levels are positive and retention times are finite.
//
// Every violation wraps ErrSourceLoad.
func Validate(spectra []Spectrum) error {
	seen := make(map[int]struct{}, len(spectra))
	for i, s := range spectra {
		if s.MSLevel < 1 {
			return fmt.Errorf("%w: spectrum #%d (scan %d) has ms level %d", ErrSourceLoad, i, s.ScanNumber, s.MSLevel)
		}

		if math.IsNaN(s.RetentionTime) || math.IsInf(s.RetentionTime, 0) {
			return fmt.Errorf("%w: spectrum #%d (scan %d) has invalid retention time", ErrSourceLoad, i, s.ScanNumber)
		}

		if _, dup := seen[s.ScanNumber]; dup {
			return fmt.Errorf("%w: duplicate scan number %d", ErrSourceLoad, s.ScanNumber)
		}
		seen[s.ScanNumber] = struct{}{}
	}

	return nil
}

func sumIntensity(peaks []Peak) float64 {
	total := 0.0
	for _, p := range peaks {
		total += p.Intensity
	}

	return total
}
