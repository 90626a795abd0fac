package ml

import (
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

var ortInit struct {
	once sync.Once
	err  error
}

// initONNXRuntime loads the onnxruntime shared library once per process.
// An empty libPath uses the library's default lookup.
func initONNXRuntime(libPath string) error {
	ortInit.once.Do(func() {
		if libPath != "" {
			ort.SetSharedLibraryPath(libPath)
		}
		if !ort.IsInitialized() {
			ortInit.err = ort.InitializeEnvironment()
		}
	})
	return ortInit.err
}

// onnxScorer runs an ONNX graph through onnxruntime. The input and output
// tensors are bound to the session once and reused, so runs are serialized.
type onnxScorer struct {
	mu      sync.Mutex
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
}

func newONNXScorer(graph *ONNXGraph, numInputs, numClasses int, libPath string) (*onnxScorer, error) {
	if err := initONNXRuntime(libPath); err != nil {
		return nil, fmt.Errorf("failed to initialize onnxruntime: %w", err)
	}

	input, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(numInputs)))
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(numClasses)))
	if err != nil {
		input.Destroy()
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}
	session, err := ort.NewAdvancedSessionWithONNXData(graph.Model,
		[]string{graph.Input}, []string{graph.Output},
		[]ort.Value{input}, []ort.Value{output}, nil)
	if err != nil {
		input.Destroy()
		output.Destroy()
		return nil, fmt.Errorf("failed to create onnx session: %w", err)
	}
	return &onnxScorer{session: session, input: input, output: output}, nil
}

func (s *onnxScorer) Score(x []float64) ([]float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	in := s.input.GetData()
	if len(in) != len(x) {
		return nil, fmt.Errorf("onnx input expects %d values, got %d", len(in), len(x))
	}
	for i, v := range x {
		in[i] = float32(v)
	}
	if err := s.session.Run(); err != nil {
		return nil, fmt.Errorf("onnx run failed: %w", err)
	}
	out := s.output.GetData()
	probs := make([]float64, len(out))
	for i, v := range out {
		probs[i] = float64(v)
	}
	return probs, nil
}

func (s *onnxScorer) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.session.Destroy()
	s.input.Destroy()
	s.output.Destroy()
	return err
}
