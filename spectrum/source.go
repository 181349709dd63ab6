package spectrum

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// ErrSourceLoad indicates that a recording could not be turned into an ordered spectrum sequence.
var ErrSourceLoad = errors.New("spectrum source load failure")

// Source loads the ordered spectra of a recording identified by id.
type Source interface {
	Load(ctx context.Context, id string) ([]Spectrum, error)
}

// SourceFunc adapts a function to the Source interface.
type SourceFunc func(ctx context.Context, id string) ([]Spectrum, error)

// Load calls f(ctx, id).
func (f SourceFunc) Load(ctx context.Context, id string) ([]Spectrum, error) {
	return f(ctx, id)
}

// StaticSource serves a fixed, in-memory recording regardless of id.
type StaticSource []Spectrum

// Load returns a copy of the recording.
func (s StaticSource) Load(ctx context.Context, _ string) ([]Spectrum, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := make([]Spectrum, len(s))
	copy(out, s)

	return out, nil
}

// FileSource picks a loader from the file extension of id: ".mzML" files are parsed by MzMLSource,
// ".yaml" and ".yml" files by YAMLSource.
type FileSource struct{}

// Load dispatches to the loader matching the extension of id.
func (FileSource) Load(ctx context.Context, id string) ([]Spectrum, error) {
	src, err := OpenSource(id)
	if err != nil {
		return nil, err
	}

	return src.Load(ctx, id)
}

// OpenSource returns the loader suited for the file at path.
func OpenSource(path string) (Source, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mzml":
		return MzMLSource{}, nil
	case ".yaml", ".yml":
		return YAMLSource{}, nil
	default:
		return nil, fmt.Errorf("%w: unsupported recording format %q", ErrSourceLoad, filepath.Ext(path))
	}
}
