package intent

import (
	"testing"

	"github.com/matryer/is"

	"github.com/lattice-audio/transcribe-go/pkg/orchestrator"
)

// wordEmbedder maps a small fixed vocabulary to one-hot-ish vectors so
// cosine similarity behaves predictably in tests without a real model.
type wordEmbedder struct{}

func (wordEmbedder) Embed(text string) ([]float32, error) {
	switch text {
	case "turn on the lights":
		return []float32{1, 0, 0}, nil
	case "please turn the lights on":
		return []float32{0.9, 0.1, 0}, nil
	case "play some music":
		return []float32{0, 1, 0}, nil
	default:
		return []float32{0, 0, 1}, nil
	}
}

func TestProcessUtteranceFiresBestMatchAboveThreshold(t *testing.T) {
	is := is.New(t)
	r := New(wordEmbedder{}, 0.8)

	var fired string
	var sim float32
	is.NoErr(r.RegisterIntent("turn on the lights", func(u string, s float32) {
		fired = u
		sim = s
	}))
	is.NoErr(r.RegisterIntent("play some music", func(u string, s float32) {
		t.Fatalf("wrong intent fired: %s", u)
	}))

	matched, err := r.ProcessUtterance("please turn the lights on")
	is.NoErr(err)
	is.True(matched)
	is.Equal(fired, "please turn the lights on")
	is.True(sim > 0.8)
}

func TestProcessUtteranceBelowThresholdDoesNotFire(t *testing.T) {
	is := is.New(t)
	r := New(wordEmbedder{}, 0.999)

	fired := false
	is.NoErr(r.RegisterIntent("turn on the lights", func(u string, s float32) {
		fired = true
	}))

	matched, err := r.ProcessUtterance("please turn the lights on")
	is.NoErr(err)
	is.True(!matched)
	is.True(!fired)
}

func TestUnregisterIntentRemovesTrigger(t *testing.T) {
	is := is.New(t)
	r := New(wordEmbedder{}, 0.8)
	is.NoErr(r.RegisterIntent("turn on the lights", func(string, float32) {}))

	is.True(r.UnregisterIntent("turn on the lights"))
	is.Equal(r.IntentCount(), 0)
	is.True(!r.UnregisterIntent("turn on the lights"))
}

func TestRegisterIntentOverwritesExisting(t *testing.T) {
	is := is.New(t)
	r := New(wordEmbedder{}, 0.8)

	calls := 0
	is.NoErr(r.RegisterIntent("turn on the lights", func(string, float32) { calls++ }))
	is.NoErr(r.RegisterIntent("turn on the lights", func(string, float32) { calls += 10 }))
	is.Equal(r.IntentCount(), 1)

	_, err := r.ProcessUtterance("turn on the lights")
	is.NoErr(err)
	is.Equal(calls, 10)
}

func TestProcessTranscriptSkipsIncompleteAndAlreadyProcessedLines(t *testing.T) {
	is := is.New(t)
	r := New(wordEmbedder{}, 0.8)

	matches := 0
	is.NoErr(r.RegisterIntent("turn on the lights", func(string, float32) { matches++ }))

	transcript := &orchestrator.Transcript{
		Lines: []orchestrator.Line{
			{ID: 1, Text: "turn on the lights", HasText: true, IsComplete: false},
			{ID: 2, Text: "turn on the lights", HasText: true, IsComplete: true},
		},
	}

	is.NoErr(r.ProcessTranscript(transcript))
	is.Equal(matches, 1) // line 1 incomplete, skipped; line 2 fires

	// Re-processing the same transcript must not re-fire line 2.
	is.NoErr(r.ProcessTranscript(transcript))
	is.Equal(matches, 1)

	transcript.Lines[0].IsComplete = true
	is.NoErr(r.ProcessTranscript(transcript))
	is.Equal(matches, 2) // line 1 now complete and unseen, fires once
}

func TestClearIntentsRemovesAll(t *testing.T) {
	is := is.New(t)
	r := New(wordEmbedder{}, 0.8)
	is.NoErr(r.RegisterIntent("turn on the lights", func(string, float32) {}))
	is.NoErr(r.RegisterIntent("play some music", func(string, float32) {}))

	r.ClearIntents()
	is.Equal(r.IntentCount(), 0)
}

func TestSetThresholdUpdatesThresholdExactMatchStillFires(t *testing.T) {
	is := is.New(t)
	r := New(wordEmbedder{}, 0.5)
	matched := false
	is.NoErr(r.RegisterIntent("play some music", func(string, float32) { matched = true }))

	r.SetThreshold(0.99)
	is.Equal(r.Threshold(), float32(0.99))

	m, err := r.ProcessUtterance("play some music")
	is.NoErr(err)
	is.True(m) // exact match, similarity 1.0, still fires
	is.True(matched)
}
