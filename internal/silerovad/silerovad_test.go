package silerovad

import (
	"testing"

	"github.com/matryer/is"

	"github.com/lattice-audio/transcribe-go/internal/onnxadapter"
)

type fakeSession struct {
	calls      int
	lastInput  []float32
	lastState  []float32
	probability float32
}

func (f *fakeSession) Run(inputs []onnxadapter.Tensor) ([]onnxadapter.Tensor, error) {
	f.calls++
	for _, in := range inputs {
		switch in.Name {
		case inputName:
			f.lastInput = in.Float32Data
		case stateName:
			f.lastState = append([]float32(nil), in.Float32Data...)
		}
	}
	newState := make([]float32, stateSize)
	for i := range newState {
		newState[i] = float32(f.calls)
	}
	return []onnxadapter.Tensor{
		{Name: outputName, Float32Data: []float32{f.probability}},
		{Name: stateOutputName, Float32Data: newState},
	}, nil
}

func TestPredictPrependsZeroContextOnFirstCall(t *testing.T) {
	is := is.New(t)
	session := &fakeSession{probability: 0.8}
	m := New(session)

	window := make([]float32, 512)
	for i := range window {
		window[i] = 1
	}

	prob, err := m.Predict(window)
	is.NoErr(err)
	is.Equal(prob, float32(0.8))
	is.Equal(len(session.lastInput), contextSamples+512)
	is.Equal(session.lastInput[0], float32(0)) // zero context on first call
	is.Equal(session.lastInput[contextSamples], float32(1))
}

func TestPredictCarriesStateAndContextAcrossCalls(t *testing.T) {
	is := is.New(t)
	session := &fakeSession{probability: 0.2}
	m := New(session)

	first := make([]float32, 512)
	for i := range first {
		first[i] = float32(i)
	}
	_, err := m.Predict(first)
	is.NoErr(err)

	second := make([]float32, 512)
	_, err = m.Predict(second)
	is.NoErr(err)

	// Second call's state input should be the first call's output state.
	is.Equal(session.lastState[0], float32(1))
	// Second call's context should be the trailing 64 samples of the first window.
	is.Equal(session.lastInput[0], first[len(first)-contextSamples])
}

func TestResetClearsContextAndState(t *testing.T) {
	is := is.New(t)
	session := &fakeSession{probability: 0.5}
	m := New(session)

	window := make([]float32, 512)
	for i := range window {
		window[i] = 5
	}
	_, err := m.Predict(window)
	is.NoErr(err)

	m.Reset()
	_, err = m.Predict(make([]float32, 512))
	is.NoErr(err)
	is.Equal(session.lastInput[0], float32(0))
	is.Equal(session.lastState[0], float32(0))
}
