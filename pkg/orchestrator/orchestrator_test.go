package orchestrator

import (
	"testing"

	"github.com/matryer/is"

	"github.com/lattice-audio/transcribe-go/internal/transcribe"
)

// fixedTranscriber always returns the same text, regardless of audio.
type fixedTranscriber struct{ text string }

func (f fixedTranscriber) Transcribe(audio []float32, durationS float32) (string, error) {
	return f.text, nil
}

// fixedEmbedder returns a deterministic embedding of the configured size
// whose first element is the segment's first sample, so clustering runs
// without needing a real model.
type fixedEmbedder struct{ dim int }

func (f fixedEmbedder) Embed(audio []float32) ([]float32, error) {
	v := make([]float32, f.dim)
	if len(audio) > 0 {
		v[0] = audio[0]
	}
	return v, nil
}
func (f fixedEmbedder) SampleRate() int         { return 16000 }
func (f fixedEmbedder) IdealInputSamples() int  { return 80000 }

func testOptions() Options {
	opts := DefaultOptions()
	opts.TranscriptionIntervalS = 0
	opts.IdentifySpeakers = false
	return opts
}

func TestCreateStreamAssignsIncreasingHandles(t *testing.T) {
	is := is.New(t)
	o, err := New(testOptions(), nil, fixedTranscriber{text: "hello"}, nil)
	is.NoErr(err)

	a := o.CreateStream()
	b := o.CreateStream()
	is.True(b > a)
}

func TestAddAudioFailsWhenNotActive(t *testing.T) {
	is := is.New(t)
	o, err := New(testOptions(), nil, fixedTranscriber{text: "hi"}, nil)
	is.NoErr(err)

	id := o.CreateStream()
	err = o.AddAudio(id, make([]float32, 100), 16000)
	_, ok := err.(*NotActive)
	is.True(ok)
}

func TestInvalidHandleOnUnknownStream(t *testing.T) {
	is := is.New(t)
	o, err := New(testOptions(), nil, fixedTranscriber{text: "hi"}, nil)
	is.NoErr(err)

	err = o.Start(999)
	_, ok := err.(*InvalidHandle)
	is.True(ok)
}

func TestTranscribeStreamProducesLineFromSegment(t *testing.T) {
	is := is.New(t)
	opts := testOptions()
	opts.VADThreshold = 0 // everything is voice
	o, err := New(opts, nil, fixedTranscriber{text: "hello world"}, nil)
	is.NoErr(err)

	id := o.CreateStream()
	is.NoErr(o.Start(id))
	is.NoErr(o.AddAudio(id, make([]float32, 16000), 16000))

	transcript, err := o.TranscribeStream(id, 0)
	is.NoErr(err)
	is.True(len(transcript.Lines) >= 1)
	is.Equal(transcript.Lines[0].Text, "hello world")
	is.True(transcript.Lines[0].IsNew)
}

func TestTranscribeStreamMarksTailCompleteOnStop(t *testing.T) {
	is := is.New(t)
	opts := testOptions()
	opts.VADThreshold = 0
	o, err := New(opts, nil, fixedTranscriber{text: "partial"}, nil)
	is.NoErr(err)

	id := o.CreateStream()
	is.NoErr(o.Start(id))
	is.NoErr(o.AddAudio(id, make([]float32, 16000), 16000))
	_, err = o.TranscribeStream(id, 0)
	is.NoErr(err)

	is.NoErr(o.Stop(id))
	transcript, err := o.TranscribeStream(id, 0)
	is.NoErr(err)
	is.True(len(transcript.Lines) >= 1)
	is.True(transcript.Lines[len(transcript.Lines)-1].IsComplete)
}

func TestTranscribeWithoutStreamingAllSegmentsComplete(t *testing.T) {
	is := is.New(t)
	opts := testOptions()
	opts.VADThreshold = 0
	o, err := New(opts, nil, fixedTranscriber{text: "batch"}, nil)
	is.NoErr(err)

	transcript, err := o.TranscribeWithoutStreaming(make([]float32, 32000), 16000, 0)
	is.NoErr(err)
	is.True(len(transcript.Lines) >= 1)
	for _, line := range transcript.Lines {
		is.True(line.IsComplete)
	}
}

func TestTranscribeWithoutStreamingAssignsSpeakerWhenEnabled(t *testing.T) {
	is := is.New(t)
	opts := testOptions()
	opts.VADThreshold = 0
	opts.IdentifySpeakers = true
	o, err := New(opts, nil, fixedTranscriber{text: "batch"}, fixedEmbedder{dim: 512})
	is.NoErr(err)

	transcript, err := o.TranscribeWithoutStreaming(make([]float32, 32000), 16000, 0)
	is.NoErr(err)
	is.True(len(transcript.Lines) >= 1)
	for _, line := range transcript.Lines {
		is.True(line.HasSpeakerID)
	}
}

func TestModelSourceNoneLeavesTextEmpty(t *testing.T) {
	is := is.New(t)
	opts := testOptions()
	opts.VADThreshold = 0
	opts.ModelSource = ModelSourceNone
	opts.ModelArch = transcribe.ArchBase
	o, err := New(opts, nil, fixedTranscriber{text: "should not appear"}, nil)
	is.NoErr(err)

	id := o.CreateStream()
	is.NoErr(o.Start(id))
	is.NoErr(o.AddAudio(id, make([]float32, 16000), 16000))

	transcript, err := o.TranscribeStream(id, 0)
	is.NoErr(err)
	is.True(len(transcript.Lines) >= 1)
	is.Equal(transcript.Lines[0].Text, "")
	is.Equal(transcript.Lines[0].HasText, false)
}
