package orchestrator

import (
	"sync"

	"github.com/lattice-audio/transcribe-go/internal/vad"
)

// Transcriber turns a VAD segment's audio into text. Both the batch and
// streaming transcribers satisfy this; ModelSourceNone streams use a nil
// Transcriber and always leave Line.Text empty.
type Transcriber interface {
	Transcribe(audio []float32, audioDurationS float32) (string, error)
}

// SpeakerEmbedder produces a fixed-dimension embedding from raw audio, used
// to feed the Online clusterer. Implementations pad short audio by
// repetition to their ideal input length (see internal/speakerembed).
type SpeakerEmbedder interface {
	Embed(audio []float32) ([]float32, error)
	SampleRate() int
	IdealInputSamples() int
}

// streamState is one stream's mutable session state: its VAD, pending
// audio, and the Line history built up across TranscribeStream calls.
// Exclusively owned by the Orchestrator and borrowed by one caller at a
// time per stream id (guarded by mu).
type streamState struct {
	mu sync.Mutex

	id  int32
	vad *vad.Detector

	pending        []float32
	vadJustStopped bool

	orderedIDs []uint64
	lines      map[uint64]*Line

	lastTranscript Transcript

	speakerOrder map[uint64]uint32 // cluster id -> order it first appeared in this transcript

	debugWav *debugWavBuffer
}

func newStreamState(id int32, vadOpts vad.Options, prober vad.SpeechProber) *streamState {
	return &streamState{
		id:           id,
		vad:          vad.New(prober, vadOpts),
		lines:        make(map[uint64]*Line),
		speakerOrder: make(map[uint64]uint32),
	}
}
