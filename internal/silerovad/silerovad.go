// Package silerovad wraps the Silero VAD ONNX model as an
// internal/vad.SpeechProber: a stateful recurrent model that keeps a
// 64-sample trailing context and a recurrent state tensor across calls.
// Grounded on original_source/core/silero-vad.{h,cpp}.
package silerovad

import (
	"fmt"
	"sync"

	"github.com/lattice-audio/transcribe-go/internal/onnxadapter"
)

// contextSamples is the number of trailing samples from the previous
// window prepended to the next window as left-context.
const contextSamples = 64

// stateSize is 2*1*128, the LSTM-style recurrent state the model carries
// between predict calls.
const stateSize = 2 * 1 * 128

const sampleRate = 16000

const (
	inputName  = "input"
	stateName  = "state"
	srName     = "sr"
	outputName = "output"
	stateOutputName = "stateN"
)

// runner is the subset of *onnxadapter.Model this package depends on.
type runner interface {
	Run(inputs []onnxadapter.Tensor) ([]onnxadapter.Tensor, error)
}

var _ runner = (*onnxadapter.Model)(nil)

// Model wraps a loaded Silero VAD ONNX model and satisfies
// internal/vad.SpeechProber. Predict is stateful and NOT safe for
// concurrent use by multiple streams sharing one Model; callers create one
// Model per VAD Detector (see New).
type Model struct {
	session runner

	mu      sync.Mutex
	context []float32
	state   []float32
}

// New wraps an already-loaded ONNX session. Loading is the caller's
// responsibility via internal/onnxadapter.LoadModel.
func New(session runner) *Model {
	return &Model{
		session: session,
		context: make([]float32, contextSamples),
		state:   make([]float32, stateSize),
	}
}

// Predict runs one inference step on window, a hop-sized (typically 512
// sample, 32 ms at 16 kHz) chunk of audio, and returns the model's speech
// probability. It prepends the trailing context from the previous call,
// updates the recurrent state, and saves the new trailing context.
func (m *Model) Predict(window []float32) (float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	input := make([]float32, contextSamples+len(window))
	copy(input, m.context)
	copy(input[contextSamples:], window)

	outputs, err := m.session.Run([]onnxadapter.Tensor{
		{Name: inputName, Shape: []int64{1, int64(len(input))}, Float32Data: input},
		{Name: stateName, Shape: []int64{2, 1, 128}, Float32Data: m.state},
		{Name: srName, Shape: []int64{}, Int64Data: []int64{sampleRate}},
	})
	if err != nil {
		return 0, fmt.Errorf("silerovad: running model: %w", err)
	}

	var probability float32
	var foundProb, foundState bool
	for _, out := range outputs {
		switch out.Name {
		case outputName:
			if len(out.Float32Data) > 0 {
				probability = out.Float32Data[0]
				foundProb = true
			}
		case stateOutputName:
			if len(out.Float32Data) == stateSize {
				copy(m.state, out.Float32Data)
				foundState = true
			}
		}
	}
	if !foundProb && len(outputs) > 0 {
		probability = outputs[0].Float32Data[0]
		foundProb = true
	}
	if !foundState && len(outputs) > 1 {
		copy(m.state, outputs[1].Float32Data)
	}
	if !foundProb {
		return 0, fmt.Errorf("silerovad: model did not produce output tensor %q", outputName)
	}

	copy(m.context, input[len(input)-contextSamples:])
	return probability, nil
}

// Reset clears the recurrent state and trailing context, matching a fresh
// SileroVad construction. Callers should reset between unrelated streams
// if they ever reuse a Model rather than constructing one per stream.
func (m *Model) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.context {
		m.context[i] = 0
	}
	for i := range m.state {
		m.state[i] = 0
	}
}
