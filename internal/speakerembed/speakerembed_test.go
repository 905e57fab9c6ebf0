package speakerembed

import (
	"testing"

	"github.com/matryer/is"

	"github.com/lattice-audio/transcribe-go/internal/onnxadapter"
)

type fakeSession struct {
	lastInput []float32
	output    []float32
}

func (f *fakeSession) Run(inputs []onnxadapter.Tensor) ([]onnxadapter.Tensor, error) {
	f.lastInput = inputs[0].Float32Data
	return []onnxadapter.Tensor{
		{Name: outputName, Shape: []int64{1, int64(len(f.output))}, Float32Data: f.output},
	}, nil
}

func TestEmbedPadsShortAudioByRepetition(t *testing.T) {
	is := is.New(t)
	session := &fakeSession{output: make([]float32, EmbeddingSize)}
	m := New(session)

	short := []float32{1, 2, 3}
	_, err := m.Embed(short)
	is.NoErr(err)

	is.Equal(len(session.lastInput), IdealInputSamples)
	is.Equal(session.lastInput[0], float32(1))
	is.Equal(session.lastInput[3], float32(1)) // wrapped around to the start again
}

func TestEmbedPassesLongAudioThroughUnpadded(t *testing.T) {
	is := is.New(t)
	session := &fakeSession{output: make([]float32, EmbeddingSize)}
	m := New(session)

	long := make([]float32, IdealInputSamples+1000)
	_, err := m.Embed(long)
	is.NoErr(err)
	is.Equal(len(session.lastInput), len(long))
}

func TestEmbedReturnsModelOutput(t *testing.T) {
	is := is.New(t)
	expected := make([]float32, EmbeddingSize)
	expected[0] = 0.5
	session := &fakeSession{output: expected}
	m := New(session)

	got, err := m.Embed(make([]float32, IdealInputSamples))
	is.NoErr(err)
	is.Equal(len(got), EmbeddingSize)
	is.Equal(got[0], float32(0.5))
}

func TestSampleRateAndIdealInputSamples(t *testing.T) {
	is := is.New(t)
	m := New(&fakeSession{})
	is.Equal(m.SampleRate(), 16000)
	is.Equal(m.IdealInputSamples(), IdealInputSamples)
}
