package orchestrator

import "github.com/lattice-audio/transcribe-go/internal/transcribe"

// ModelSource selects where an Orchestrator's model bytes come from.
type ModelSource int

const (
	// ModelSourceFiles loads models from a directory on disk.
	ModelSourceFiles ModelSource = iota
	// ModelSourceMemory loads models from in-memory byte slices.
	ModelSourceMemory
	// ModelSourceNone disables transcription: segments are still detected
	// and clustered, but Line.Text is never populated.
	ModelSourceNone
)

// Flags modifies a single TranscribeStream call.
type Flags uint32

const (
	// ForceUpdate runs a transcription pass even if the pending buffer has
	// not yet accumulated TranscriptionIntervalS worth of audio.
	ForceUpdate Flags = 1 << iota
)

// Options configures an Orchestrator. DefaultOptions returns the documented
// defaults; New uses the fields as given.
type Options struct {
	ModelSource               ModelSource
	ModelPath                 string
	ModelArch                 transcribe.Arch
	TranscriptionIntervalS    float32
	VADThreshold               float32
	VADWindowCount              int
	VADHopSize                  int
	VADLookBehindSamples        int
	VADMaxSegmentDurationS      float32
	MaxTokensPerSecond          float32
	IdentifySpeakers            bool
	SpeakerIDClusterThreshold   float32
	ReturnAudioData             bool
	SaveInputWavPath            string
	LogORTRun                   bool
	SkipTranscription           bool
}

// DefaultOptions matches spec's documented OrchestratorOptions defaults.
func DefaultOptions() Options {
	return Options{
		ModelSource:               ModelSourceFiles,
		ModelArch:                 transcribe.ArchBase,
		TranscriptionIntervalS:    0.5,
		VADThreshold:              0.5,
		VADWindowCount:            32,
		VADHopSize:                512,
		VADLookBehindSamples:      4096,
		VADMaxSegmentDurationS:    15,
		MaxTokensPerSecond:        6.5,
		IdentifySpeakers:          true,
		SpeakerIDClusterThreshold: 0.8,
		ReturnAudioData:           true,
		LogORTRun:                 false,
		SkipTranscription:         false,
	}
}

// Line is one unit of displayed transcript, corresponding 1:1 with a VAD
// segment in its producing stream.
type Line struct {
	ID                        uint64
	Text                      string
	HasText                   bool
	Audio                     []float32
	StartTimeS                float32
	DurationS                 float32
	IsComplete                bool
	IsNew                     bool
	IsUpdated                 bool
	HasTextChanged            bool
	HasSpeakerID              bool
	SpeakerID                 uint64
	SpeakerIndex              uint32
	LastTranscriptionLatencyMS uint32
}

// Transcript is an ordered, append-only sequence of Lines: only the tail
// Line may be incomplete.
type Transcript struct {
	Lines []Line
}
