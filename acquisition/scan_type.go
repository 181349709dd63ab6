package acquisition

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ScanType selects which part of a recording a custom scan draws from.
type ScanType uint8

const (
	// FullScan is a survey (MS1) scan.
	FullScan ScanType = iota + 1
	// MSnScan is a fragmentation (MS2 or higher) scan.
	MSnScan
)

// String returns the vendor name of the scan type.
func (t ScanType) String() string {
	switch t {
	case FullScan:
		return "Full"
	case MSnScan:
		return "MSn"
	default:
		return "unknown"
	}
}

// IsValid reports whether t is FullScan or MSnScan.
func (t ScanType) IsValid() bool { return t == FullScan || t == MSnScan }

// ParseScanType parses "Full" or "MSn", ignoring case.
func ParseScanType(s string) (ScanType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "full", "ms1":
		return FullScan, nil
	case "msn", "ms2":
		return MSnScan, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidScanType, s)
	}
}

// ScanTypeForLevel maps an MS level to the scan type whose queue holds it.
func ScanTypeForLevel(msLevel int) ScanType {
	if msLevel <= 1 {
		return FullScan
	}

	return MSnScan
}

func (t ScanType) MarshalJSON() ([]byte, error) {
	if !t.IsValid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidScanType, t)
	}

	return json.Marshal(t.String())
}

func (t *ScanType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	parsed, err := ParseScanType(s)
	if err != nil {
		return err
	}
	*t = parsed

	return nil
}
