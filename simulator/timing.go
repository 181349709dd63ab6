package simulator

import (
	"math"
	"time"

	"github.com/arloliu/go-msbridge/spectrum"
)

// DurationTable maps a scan number to the time the instrument needs to deliver that spectrum.
type DurationTable map[int]time.Duration

// BuildDurations derives service times from consecutive retention times of spectra.
//
// The duration of spectrum i is (rt[i+1] - rt[i]) minutes converted to seconds, clamped at zero
// for out of order timestamps. The last spectrum, which has no successor, gets fallback.
func BuildDurations(spectra []spectrum.Spectrum, fallback time.Duration) DurationTable {
	table := make(DurationTable, len(spectra))
	for i, s := range spectra {
		if i == len(spectra)-1 {
			table[s.ScanNumber] = fallback
			break
		}

		table[s.ScanNumber] = minutesBetween(s.RetentionTime, spectra[i+1].RetentionTime)
	}

	return table
}

// Lookup returns the duration stored for scanNumber.
func (t DurationTable) Lookup(scanNumber int) (time.Duration, bool) {
	d, ok := t[scanNumber]
	return d, ok
}

// For returns the duration stored for scanNumber, or fallback when the scan is unknown.
func (t DurationTable) For(scanNumber int, fallback time.Duration) time.Duration {
	if d, ok := t[scanNumber]; ok {
		return d
	}

	return fallback
}

// buildTimings builds the duration table for a recording according to stream.
func buildTimings(stream TimingStream, recording []spectrum.Spectrum, queues []*ScanQueue, fallback time.Duration) DurationTable {
	if stream == AcquisitionTiming {
		return BuildDurations(recording, fallback)
	}

	table := make(DurationTable, len(recording))
	for _, q := range queues {
		for scan, d := range BuildDurations(q.Spectra(), fallback) {
			table[scan] = d
		}
	}

	return table
}

func minutesBetween(from, to float64) time.Duration {
	delta := (to - from) * 60
	if delta <= 0 || math.IsNaN(delta) {
		return 0
	}

	return time.Duration(math.Round(delta * float64(time.Second)))
}
