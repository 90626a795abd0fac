package ml

import (
	"encoding/gob"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

const (
	// BundleFormat tags every bundle file so that unrelated gob data is rejected.
	BundleFormat = "go2netqos-model-bundle"
	// BundleVersion is the only layout this package reads.
	BundleVersion = 1
)

// ErrBundleFormat is returned for files that are not a usable model bundle.
var ErrBundleFormat = errors.New("invalid model bundle")

// ScorerKind selects how a bundle turns feature vectors into probabilities.
type ScorerKind string

const (
	ScorerTrees ScorerKind = "trees"
	ScorerONNX  ScorerKind = "onnx"
)

// Scaler standardises each input as (x - Mean[i]) / Scale[i].
type Scaler struct {
	Mean  []float64
	Scale []float64
}

// ONNXGraph is a serialized ONNX model taking a [1, n] float32 input and
// producing a [1, classes] float32 probability output.
type ONNXGraph struct {
	Model  []byte
	Input  string
	Output string
}

// Bundle is everything a trained model needs at inference time: the feature
// names it was trained on, optional preprocessing, the scorer and the label
// decoder.
type Bundle struct {
	Format  string
	Version int

	FeatureNames []string
	Scaler       *Scaler
	// Selector masks FeatureNames after scaling; nil keeps every feature.
	Selector []bool
	Labels   []string

	Kind  ScorerKind
	Trees *TreeEnsemble
	ONNX  *ONNXGraph
}

// NumInputs returns the width of the scorer input after feature selection.
func (b *Bundle) NumInputs() int {
	if b.Selector == nil {
		return len(b.FeatureNames)
	}
	n := 0
	for _, keep := range b.Selector {
		if keep {
			n++
		}
	}
	return n
}

// Validate checks the internal consistency of a bundle.
func (b *Bundle) Validate() error {
	if b.Format != BundleFormat {
		return fmt.Errorf("%w: unexpected format tag %q", ErrBundleFormat, b.Format)
	}
	if b.Version != BundleVersion {
		return fmt.Errorf("%w: unsupported version %d", ErrBundleFormat, b.Version)
	}
	if len(b.FeatureNames) == 0 {
		return fmt.Errorf("%w: no feature names", ErrBundleFormat)
	}
	if len(b.Labels) == 0 {
		return fmt.Errorf("%w: no labels", ErrBundleFormat)
	}
	if s := b.Scaler; s != nil {
		if len(s.Mean) != len(b.FeatureNames) || len(s.Scale) != len(b.FeatureNames) {
			return fmt.Errorf("%w: scaler has %d/%d entries for %d features",
				ErrBundleFormat, len(s.Mean), len(s.Scale), len(b.FeatureNames))
		}
	}
	if b.Selector != nil && len(b.Selector) != len(b.FeatureNames) {
		return fmt.Errorf("%w: selector has %d entries for %d features", ErrBundleFormat, len(b.Selector), len(b.FeatureNames))
	}

	switch b.Kind {
	case ScorerTrees:
		if b.Trees == nil {
			return fmt.Errorf("%w: tree scorer without trees", ErrBundleFormat)
		}
		if err := b.Trees.validate(b.NumInputs(), len(b.Labels)); err != nil {
			return fmt.Errorf("%w: %w", ErrBundleFormat, err)
		}
	case ScorerONNX:
		if b.ONNX == nil || len(b.ONNX.Model) == 0 {
			return fmt.Errorf("%w: onnx scorer without a graph", ErrBundleFormat)
		}
		if b.ONNX.Input == "" || b.ONNX.Output == "" {
			return fmt.Errorf("%w: onnx graph without input/output names", ErrBundleFormat)
		}
	default:
		return fmt.Errorf("%w: unknown scorer kind %q", ErrBundleFormat, b.Kind)
	}
	return nil
}

// ReadBundle decodes and validates a bundle.
func ReadBundle(r io.Reader) (*Bundle, error) {
	var b Bundle
	if err := gob.NewDecoder(r).Decode(&b); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBundleFormat, err)
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	return &b, nil
}

// LoadBundle reads a bundle file from disk.
func LoadBundle(path string) (*Bundle, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open model bundle: %w", err)
	}
	defer file.Close()
	return ReadBundle(file)
}

// WriteBundle stamps the format tag and version on b and encodes it.
func WriteBundle(w io.Writer, b *Bundle) error {
	b.Format = BundleFormat
	b.Version = BundleVersion
	if err := b.Validate(); err != nil {
		return err
	}
	return gob.NewEncoder(w).Encode(b)
}

// SaveBundle writes a bundle file, creating parent directories as needed.
func SaveBundle(path string, b *Bundle) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create bundle directory: %w", err)
	}
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create model bundle: %w", err)
	}
	if err := WriteBundle(file, b); err != nil {
		file.Close()
		return fmt.Errorf("failed to encode model bundle: %w", err)
	}
	return file.Close()
}
