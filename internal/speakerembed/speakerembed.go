// Package speakerembed computes a fixed-dimension voice-print embedding
// from raw audio, used to feed the online speaker clusterer. Grounded on
// original_source/core/speaker-embedding-model.{h,cpp}.
package speakerembed

import "github.com/lattice-audio/transcribe-go/internal/onnxadapter"

// IdealInputSamples is the audio length, in samples at InputSampleRate,
// the model was trained to expect. Shorter audio is padded by repetition;
// longer audio is passed through as-is.
const IdealInputSamples = 80000

// EmbeddingSize is the dimensionality of the produced embedding vector.
const EmbeddingSize = 512

// InputSampleRate is the sample rate Embed expects its audio argument to
// already be resampled to.
const InputSampleRate = 16000

const (
	inputName  = "waveform"
	outputName = "embeddings"
)

// runner is the subset of *onnxadapter.Model this package depends on, so
// tests can substitute a fake session.
type runner interface {
	Run(inputs []onnxadapter.Tensor) ([]onnxadapter.Tensor, error)
}

var _ runner = (*onnxadapter.Model)(nil)

// Model wraps a loaded speaker-embedding ONNX model and satisfies
// pkg/orchestrator.SpeakerEmbedder.
type Model struct {
	session runner
}

// New wraps an already-loaded ONNX model. Loading (from file or memory) is
// the caller's responsibility via internal/onnxadapter.LoadModel.
func New(session runner) *Model {
	return &Model{session: session}
}

// SampleRate returns the sample rate Embed expects its input to be at.
func (m *Model) SampleRate() int { return InputSampleRate }

// IdealInputSamples returns the audio length Embed pads shorter input to.
func (m *Model) IdealInputSamples() int { return IdealInputSamples }

// Embed computes a 512-dimensional voice-print embedding from audio
// already resampled to InputSampleRate. Audio shorter than
// IdealInputSamples is extended by repeating it (not zero-padding), since
// the reference model expects a full-length utterance.
func (m *Model) Embed(audio []float32) ([]float32, error) {
	input := audio
	if len(input) < IdealInputSamples {
		input = padByRepetition(audio, IdealInputSamples)
	}

	outputs, err := m.session.Run([]onnxadapter.Tensor{
		{
			Name:        inputName,
			Shape:       []int64{1, int64(len(input))},
			Float32Data: input,
		},
	})
	if err != nil {
		return nil, err
	}

	for _, out := range outputs {
		if out.Name == outputName {
			return out.Float32Data, nil
		}
	}
	if len(outputs) == 1 {
		return outputs[0].Float32Data, nil
	}
	return nil, &MissingOutputError{Name: outputName}
}

// MissingOutputError is returned when a model run does not produce the
// expected named output tensor.
type MissingOutputError struct {
	Name string
}

func (e *MissingOutputError) Error() string {
	return "speakerembed: model did not produce output tensor " + e.Name
}

// padByRepetition extends audio to at least target samples by repeating
// it from the start, matching calculate_embedding's padding loop.
func padByRepetition(audio []float32, target int) []float32 {
	if len(audio) == 0 {
		return make([]float32, target)
	}
	out := make([]float32, target)
	for offset := 0; offset < target; offset += len(audio) {
		n := copy(out[offset:], audio)
		if n < len(audio) {
			break
		}
	}
	return out
}
