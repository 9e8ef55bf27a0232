// Package loader reads scalar volumes from voxel sources. Loading is the only
// asynchronous operation in volumexr: Request runs a source on its own
// goroutine and hands the result to a completion callback.
package loader

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"volumexr/internal/models"
)

// Source yields one VoxelField.
type Source interface {
	Load(ctx context.Context) (*models.VoxelField, error)
	String() string
}

// LoadError reports a source that could not be read.
type LoadError struct {
	Source string
	Err    error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("loading %s: %v", e.Source, e.Err)
}

// Unwrap returns the underlying error.
func (e *LoadError) Unwrap() error { return e.Err }

// Done receives the outcome of a Request. Exactly one of field and err is
// non-nil.
type Done func(field *models.VoxelField, err error)

// Load runs src synchronously. Failures are wrapped in *LoadError, except a
// *models.MalformedVolumeError which is returned as is.
func Load(ctx context.Context, src Source) (*models.VoxelField, error) {
	field, err := src.Load(ctx)
	if err != nil {
		var mve *models.MalformedVolumeError
		if errors.As(err, &mve) {
			return nil, err
		}
		return nil, &LoadError{Source: src.String(), Err: err}
	}
	if field == nil {
		return nil, &LoadError{Source: src.String(), Err: errors.New("source returned no volume")}
	}
	return field, nil
}

// Request starts loading src in the background and calls done from that
// goroutine when it finishes. There is no cancellation, timeout or retry: a
// stalled source simply never calls done. Callers that need the result on
// another goroutine must forward it themselves.
func Request(src Source, done Done) {
	go func() {
		log := logrus.WithField("source", src.String())
		log.Debug("volume load started")
		field, err := Load(context.Background(), src)
		if err != nil {
			log.WithError(err).Warn("volume load failed")
		} else {
			log.WithField("dims", field.Dims()).Info("volume loaded")
		}
		done(field, err)
	}()
}

// Options tune how file sources post-process their samples.
type Options struct {
	// Normalize rescales samples to [0, 1] using the field's min and max.
	Normalize bool
	// Workers bounds parallel slice decoding; zero means one per CPU.
	Workers int
}

// Open picks a source for path: a directory is read as a slice stack, a
// .nrrd or .nhdr file as NRRD.
func Open(path string, opts Options) (Source, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, &LoadError{Source: path, Err: err}
	}
	if info.IsDir() {
		return &SliceDir{Dir: path, Options: opts}, nil
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".nrrd", ".nhdr":
		return &NRRD{Path: path, Options: opts}, nil
	}
	return nil, &LoadError{Source: path, Err: errors.New("unsupported volume format")}
}

// Memory is a source backed by samples already in memory.
type Memory struct {
	Name    string
	Dims    models.Dims
	Samples []float32
}

// Load validates the samples against Dims.
func (m *Memory) Load(context.Context) (*models.VoxelField, error) {
	return models.NewVoxelField(m.Dims, m.Samples)
}

// String returns Name, or the dimensions when Name is empty.
func (m *Memory) String() string {
	if m.Name != "" {
		return m.Name
	}
	return "memory:" + m.Dims.String()
}

// Func adapts a function to Source.
type Func struct {
	Name string
	Fn   func(ctx context.Context) (*models.VoxelField, error)
}

// Load calls Fn.
func (f Func) Load(ctx context.Context) (*models.VoxelField, error) { return f.Fn(ctx) }

// String returns Name.
func (f Func) String() string { return f.Name }

func finish(field *models.VoxelField, opts Options) *models.VoxelField {
	if opts.Normalize {
		return field.Normalize()
	}
	return field
}
