package spectrum

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// YAMLSource loads recordings stored in the YAML fixture format:
//
//	spectra:
//	  - scan: 1
//	    ms_level: 1
//	    rt: 0.0          # minutes
//	    centroided: true
//	    tic: 1500        # optional, defaults to the summed peak intensity
//	    peaks:
//	      - [100.05, 500]
//	      - [200.10, 1000]
//
// Spectra are returned in file order.
type YAMLSource struct{}

type yamlRecording struct {
	Spectra []yamlSpectrum `yaml:"spectra"`
}

type yamlSpectrum struct {
	Scan       int         `yaml:"scan"`
	MSLevel    int         `yaml:"ms_level"`
	RT         float64     `yaml:"rt"`
	Centroided *bool       `yaml:"centroided"`
	TIC        *float64    `yaml:"tic"`
	Peaks      [][]float64 `yaml:"peaks"`
}

// Load reads the YAML recording at path id.
func (YAMLSource) Load(ctx context.Context, id string) ([]Spectrum, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	raw, err := os.ReadFile(id)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSourceLoad, err)
	}

	return DecodeYAML(bytes.NewReader(raw))
}

// DecodeYAML decodes a YAML recording from r.
func DecodeYAML(r io.Reader) ([]Spectrum, error) {
	var rec yamlRecording
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&rec); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: decode yaml: %w", ErrSourceLoad, err)
	}

	spectra := make([]Spectrum, 0, len(rec.Spectra))
	for i, ys := range rec.Spectra {
		s := Spectrum{
			ScanNumber:    ys.Scan,
			MSLevel:       ys.MSLevel,
			RetentionTime: ys.RT,
			Centroided:    true,
			Peaks:         make([]Peak, 0, len(ys.Peaks)),
		}

		if ys.Centroided != nil {
			s.Centroided = *ys.Centroided
		}

		for j, pair := range ys.Peaks {
			if len(pair) != 2 {
				return nil, fmt.Errorf("%w: spectrum #%d peak #%d: want [mz, intensity], got %d values", ErrSourceLoad, i, j, len(pair))
			}
			s.Peaks = append(s.Peaks, Peak{MZ: pair[0], Intensity: pair[1]})
		}

		if ys.TIC != nil {
			s.TotalIonCurrent = *ys.TIC
		} else {
			s.TotalIonCurrent = sumIntensity(s.Peaks)
		}

		spectra = append(spectra, s)
	}

	if err := Validate(spectra); err != nil {
		return nil, err
	}

	return spectra, nil
}

// EncodeYAML writes spectra to w in the format read by DecodeYAML.
func EncodeYAML(w io.Writer, spectra []Spectrum) error {
	rec := yamlRecording{Spectra: make([]yamlSpectrum, 0, len(spectra))}
	for _, s := range spectra {
		centroided := s.Centroided
		tic := s.TotalIonCurrent
		ys := yamlSpectrum{
			Scan:       s.ScanNumber,
			MSLevel:    s.MSLevel,
			RT:         s.RetentionTime,
			Centroided: &centroided,
			TIC:        &tic,
			Peaks:      make([][]float64, 0, len(s.Peaks)),
		}
		for _, p := range s.Peaks {
			ys.Peaks = append(ys.Peaks, []float64{p.MZ, p.Intensity})
		}
		rec.Spectra = append(rec.Spectra, ys)
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(&rec); err != nil {
		return fmt.Errorf("encode yaml: %w", err)
	}

	return enc.Close()
}
