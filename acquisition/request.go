package acquisition

import (
	"fmt"
	"math"
	"strconv"
	"time"
)

// Default vendor parameters attached to every custom scan.
const (
	DefaultAnalyzer       = "Orbitrap"
	DefaultPolarity       = "Positive"
	DefaultFullResolution = 120000
	DefaultMSnResolution  = 7500
	DefaultActivationType = "HCD"
	DefaultDataType       = "Centroid"
	DefaultAGCTarget      = 30000
	DefaultMaxIT          = 100
	DefaultMicroscans     = 1

	// MaxCollisionEnergy is the upper bound of the normalized collision energy.
	MaxCollisionEnergy = 200.0
)

// CustomScanRequest is a client's instruction to acquire one scan.
//
// Only ScanType influences which recorded spectrum a simulator returns; the remaining fields
// are carried for logging and for real instruments.
type CustomScanRequest struct {
	ScanType        ScanType `json:"scanType"`
	PrecursorMass   float64  `json:"precursorMass"`
	IsolationWidth  float64  `json:"isolationWidth"`
	CollisionEnergy float64  `json:"collisionEnergy"`
	// RunningNumber is a client assigned identifier echoed back on the result scan.
	RunningNumber int64 `json:"runningNumber"`
	// MaxProcessingDelay is the longest the instrument may wait for the client before it
	// continues on its own.
	MaxProcessingDelay time.Duration `json:"maxProcessingDelay"`

	Polarity   string  `json:"polarity,omitempty"`
	FirstMass  float64 `json:"firstMass,omitempty"`
	LastMass   float64 `json:"lastMass,omitempty"`
	Analyzer   string  `json:"analyzer,omitempty"`
	Resolution int     `json:"resolution,omitempty"`
}

// Validate checks the parameter ranges of the request. The returned error wraps ErrInvalidRequest.
func (r *CustomScanRequest) Validate() error {
	if !r.ScanType.IsValid() {
		return fmt.Errorf("%w: scan type %d", ErrInvalidRequest, r.ScanType)
	}

	checks := []struct {
		name  string
		value float64
	}{
		{"precursor mass", r.PrecursorMass},
		{"isolation width", r.IsolationWidth},
		{"first mass", r.FirstMass},
		{"last mass", r.LastMass},
	}
	for _, c := range checks {
		if math.IsNaN(c.value) || math.IsInf(c.value, 0) || c.value < 0 {
			return fmt.Errorf("%w: %s %v", ErrInvalidRequest, c.name, c.value)
		}
	}

	if math.IsNaN(r.CollisionEnergy) || r.CollisionEnergy < 0 || r.CollisionEnergy > MaxCollisionEnergy {
		return fmt.Errorf("%w: collision energy %v, should be in range of [0, %v]", ErrInvalidRequest, r.CollisionEnergy, MaxCollisionEnergy)
	}

	if r.MaxProcessingDelay < 0 {
		return fmt.Errorf("%w: max processing delay %v", ErrInvalidRequest, r.MaxProcessingDelay)
	}

	if r.FirstMass > 0 && r.LastMass > 0 && r.FirstMass > r.LastMass {
		return fmt.Errorf("%w: first mass %v is above last mass %v", ErrInvalidRequest, r.FirstMass, r.LastMass)
	}

	if r.Resolution < 0 {
		return fmt.Errorf("%w: resolution %d", ErrInvalidRequest, r.Resolution)
	}

	return nil
}

// Values renders the request as the key/value pairs a vendor scan control API expects.
func (r *CustomScanRequest) Values() map[string]string {
	analyzer := r.Analyzer
	if analyzer == "" {
		analyzer = DefaultAnalyzer
	}

	polarity := r.Polarity
	if polarity == "" {
		polarity = DefaultPolarity
	}

	resolution := r.Resolution
	if resolution == 0 {
		resolution = DefaultMSnResolution
		if r.ScanType == FullScan {
			resolution = DefaultFullResolution
		}
	}

	return map[string]string{
		"ScanType":           r.ScanType.String(),
		"PrecursorMass":      formatFloat(r.PrecursorMass),
		"IsolationWidth":     formatFloat(r.IsolationWidth),
		"CollisionEnergy":    formatFloat(r.CollisionEnergy),
		"FirstMass":          formatFloat(r.FirstMass),
		"LastMass":           formatFloat(r.LastMass),
		"Polarity":           polarity,
		"Analyzer":           analyzer,
		"OrbitrapResolution": strconv.Itoa(resolution),
		"ActivationType":     DefaultActivationType,
		"DataType":           DefaultDataType,
		"AGCTarget":          strconv.Itoa(DefaultAGCTarget),
		"MaxIT":              strconv.Itoa(DefaultMaxIT),
		"Microscans":         strconv.Itoa(DefaultMicroscans),
	}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
