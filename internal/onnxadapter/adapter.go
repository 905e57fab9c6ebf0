// Package onnxadapter wraps the ONNX Runtime Go bindings behind a narrow,
// typed tensor-in/tensor-out interface: load a model from a file or from an
// in-memory byte slice, discover its input/output names, and run it with
// named tensors. It treats the runtime itself as an opaque collaborator —
// graph optimization, memory-mapping, and kernel execution are entirely
// yalue/onnxruntime_go's concern; this package only shapes the I/O contract
// the rest of the engine programs against.
package onnxadapter

import (
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	ort "github.com/yalue/onnxruntime_go"
)

var (
	envOnce sync.Once
	envErr  error
)

// ensureEnv initializes the process-wide ONNX Runtime environment exactly
// once, matching the teacher's turn-detector singleton pattern.
func ensureEnv() error {
	envOnce.Do(func() {
		if ort.IsInitialized() {
			return
		}
		envErr = ort.InitializeEnvironment()
	})
	return envErr
}

// Tensor is a named, typed, shaped tensor value. Exactly one of the Data
// fields is populated, matching Kind.
type Tensor struct {
	Name string
	Shape []int64

	Float32Data []float32
	Int64Data   []int64
	BoolData    []uint8 // ONNX bool tensors are backed by bytes.
}

// Kind identifies which Data field of a Tensor is populated.
type Kind int

const (
	KindFloat32 Kind = iota
	KindInt64
	KindBool
)

func (t Tensor) Kind() Kind {
	switch {
	case t.Int64Data != nil:
		return KindInt64
	case t.BoolData != nil:
		return KindBool
	default:
		return KindFloat32
	}
}

// Model is a loaded ONNX session exposing named tensor I/O. A Model
// serializes concurrent Run calls behind its own mutex, mirroring the
// reference engine's per-model mutex (the underlying runtime session is
// not safe for concurrent Run calls).
type Model struct {
	mu          sync.Mutex
	session     *ort.DynamicAdvancedSession
	inputNames  []string
	outputNames []string
	logRuns     bool
}

// LoadOptions configures session construction.
type LoadOptions struct {
	// InputNames/OutputNames name every tensor the model's graph exposes.
	// LoadModel fills either list that is left empty from the model file
	// with DiscoverIO.
	InputNames, OutputNames []string
	IntraOpThreads          int
	LogRuns                 bool
}

// DiscoverIO reads a model's input and output tensor names without creating
// a session, so callers can build KV-cache plumbing (which tensors exist,
// in what order) before committing to session construction.
func DiscoverIO(path string) (inputNames, outputNames []string, err error) {
	if err := ensureEnv(); err != nil {
		return nil, nil, fmt.Errorf("onnxadapter: initializing runtime: %w", err)
	}
	inputs, outputs, err := ort.GetInputOutputInfo(path)
	if err != nil {
		return nil, nil, fmt.Errorf("onnxadapter: reading I/O info for %s: %w", path, err)
	}
	for _, in := range inputs {
		inputNames = append(inputNames, in.Name)
	}
	for _, out := range outputs {
		outputNames = append(outputNames, out.Name)
	}
	return inputNames, outputNames, nil
}

// LoadModel opens an ONNX model file and constructs a dynamic session whose
// input/output tensor shapes may vary from call to call. If opts does not
// name the input/output tensors, they are discovered via DiscoverIO first.
func LoadModel(path string, opts LoadOptions) (*Model, error) {
	if err := ensureEnv(); err != nil {
		return nil, fmt.Errorf("onnxadapter: initializing runtime: %w", err)
	}

	if len(opts.InputNames) == 0 || len(opts.OutputNames) == 0 {
		inputNames, outputNames, err := DiscoverIO(path)
		if err != nil {
			return nil, err
		}
		if len(opts.InputNames) == 0 {
			opts.InputNames = inputNames
		}
		if len(opts.OutputNames) == 0 {
			opts.OutputNames = outputNames
		}
	}

	sessionOpts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("onnxadapter: creating session options: %w", err)
	}
	defer sessionOpts.Destroy()

	threads := opts.IntraOpThreads
	if threads <= 0 {
		threads = max(1, runtime.NumCPU()/2)
	}
	if err := sessionOpts.SetIntraOpNumThreads(threads); err != nil {
		return nil, fmt.Errorf("onnxadapter: setting intra-op threads: %w", err)
	}

	session, err := ort.NewDynamicAdvancedSession(path, opts.InputNames, opts.OutputNames, sessionOpts)
	if err != nil {
		return nil, fmt.Errorf("onnxadapter: loading model %s: %w", path, err)
	}

	return &Model{
		session:     session,
		inputNames:  opts.InputNames,
		outputNames: opts.OutputNames,
		logRuns:     opts.LogRuns,
	}, nil
}

// InputNames/OutputNames return the tensor names discovered at load time.
func (m *Model) InputNames() []string  { return m.inputNames }
func (m *Model) OutputNames() []string { return m.outputNames }

// Run executes the model with the given named input tensors, in the order
// of m.InputNames(), and returns the named output tensors in the order of
// m.OutputNames(). Run holds the model's mutex for its duration: only one
// inference runs at a time per loaded model.
func (m *Model) Run(inputs []Tensor) ([]Tensor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	start := time.Now()

	inValues, destroyIn, err := toOrtValues(inputs)
	if err != nil {
		return nil, fmt.Errorf("onnxadapter: preparing inputs: %w", err)
	}
	defer destroyIn()

	outValues := make([]ort.Value, len(m.outputNames))

	if err := m.session.Run(inValues, outValues); err != nil {
		return nil, fmt.Errorf("onnxadapter: run failed: %w", err)
	}
	defer func() {
		for _, v := range outValues {
			if v != nil {
				v.Destroy()
			}
		}
	}()

	outputs, err := fromOrtValues(m.outputNames, outValues)
	if err != nil {
		return nil, fmt.Errorf("onnxadapter: reading outputs: %w", err)
	}

	if m.logRuns {
		slog.Debug("onnxadapter: model run", slog.Duration("latency", time.Since(start)), slog.Int("inputs", len(inputs)))
	}
	return outputs, nil
}

// Close releases the underlying session.
func (m *Model) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session.Destroy()
}

func toOrtValues(inputs []Tensor) ([]ort.Value, func(), error) {
	values := make([]ort.Value, 0, len(inputs))
	destroyers := make([]func(), 0, len(inputs))
	destroyAll := func() {
		for _, d := range destroyers {
			d()
		}
	}

	for _, in := range inputs {
		switch in.Kind() {
		case KindFloat32:
			shape := ort.NewShape(in.Shape...)
			tensor, err := ort.NewTensor(shape, in.Float32Data)
			if err != nil {
				destroyAll()
				return nil, nil, fmt.Errorf("tensor %q: %w", in.Name, err)
			}
			values = append(values, tensor)
			destroyers = append(destroyers, func() { tensor.Destroy() })
		case KindInt64:
			shape := ort.NewShape(in.Shape...)
			tensor, err := ort.NewTensor(shape, in.Int64Data)
			if err != nil {
				destroyAll()
				return nil, nil, fmt.Errorf("tensor %q: %w", in.Name, err)
			}
			values = append(values, tensor)
			destroyers = append(destroyers, func() { tensor.Destroy() })
		case KindBool:
			shape := ort.NewShape(in.Shape...)
			tensor, err := ort.NewTensor(shape, in.BoolData)
			if err != nil {
				destroyAll()
				return nil, nil, fmt.Errorf("tensor %q: %w", in.Name, err)
			}
			values = append(values, tensor)
			destroyers = append(destroyers, func() { tensor.Destroy() })
		}
	}
	return values, destroyAll, nil
}

func fromOrtValues(names []string, values []ort.Value) ([]Tensor, error) {
	out := make([]Tensor, len(values))
	for i, v := range values {
		tensor, ok := v.(*ort.Tensor[float32])
		if !ok {
			return nil, fmt.Errorf("output %q: expected float32 tensor, got %T", names[i], v)
		}
		shape := tensor.GetShape()
		out[i] = Tensor{
			Name:        names[i],
			Shape:       append([]int64(nil), shape...),
			Float32Data: append([]float32(nil), tensor.GetData()...),
		}
	}
	return out, nil
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
