package vad

import (
	"testing"

	"github.com/matryer/is"
)

// stepProber reports 1.0 once voiceStart samples have been processed and
// reverts to 0.0 after voiceStart+voiceLen, letting tests script a single
// speech region deterministically.
type stepProber struct {
	processed            int
	voiceStart, voiceLen int
}

func (p *stepProber) Predict(window []float32) (float32, error) {
	p.processed += len(window)
	if p.processed > p.voiceStart && p.processed <= p.voiceStart+p.voiceLen {
		return 1.0, nil
	}
	return 0.0, nil
}

func TestZeroThresholdTreatsEverythingAsVoice(t *testing.T) {
	is := is.New(t)
	d := New(nil, Options{Threshold: 0, HopSize: 512, WindowCount: 4, LookBehindSamples: 256, MaxSegmentDurationS: 15})
	d.Start()

	const lengthSeconds = 2.0
	samples := make([]float32, int(lengthSeconds*16000))
	is.NoErr(d.ProcessAudio(samples, 16000))
	d.Stop()

	segs := d.Segments()
	is.Equal(len(segs), 1)
	is.True(segs[0].IsComplete)
	is.True(segs[0].StartTimeS < float32(512)/16000)
	duration := segs[0].EndTimeS - segs[0].StartTimeS
	is.True(duration <= lengthSeconds)
	// exactly one hop is lost here; 1e-6 s absorbs float32 rounding of the
	// two sides, far below one sample (62.5e-6 s).
	is.True(duration >= lengthSeconds-float32(512)/16000-1e-6)
}

func TestOnlyTailSegmentMayBeIncomplete(t *testing.T) {
	is := is.New(t)
	prober := &stepProber{voiceStart: 1024, voiceLen: 2048}
	d := New(prober, Options{Threshold: 0.5, HopSize: 512, WindowCount: 1, LookBehindSamples: 512, MaxSegmentDurationS: 15})
	d.Start()

	samples := make([]float32, 16*512)
	is.NoErr(d.ProcessAudio(samples, 16000))

	incomplete := 0
	for i, s := range d.Segments() {
		if !s.IsComplete {
			incomplete++
			is.Equal(i, len(d.Segments())-1)
		}
	}
	is.True(incomplete <= 1)
}

func TestForcedFadeOutBoundsSegmentDuration(t *testing.T) {
	is := is.New(t)
	d := New(nil, Options{Threshold: 0, HopSize: 256, WindowCount: 4, LookBehindSamples: 256, MaxSegmentDurationS: 1})
	d.Start()

	// Feed far more than max_segment_duration worth of continuous "voice".
	samples := make([]float32, 16000*3)
	is.NoErr(d.ProcessAudio(samples, 16000))
	d.Stop()

	maxSamples := int(1 * 16000)
	for _, s := range d.Segments() {
		is.True(len(s.Audio) <= maxSamples+256) // allow one hop of slack
	}
}

func TestStartResetsState(t *testing.T) {
	is := is.New(t)
	d := New(nil, Options{Threshold: 0, HopSize: 512, WindowCount: 4, LookBehindSamples: 256, MaxSegmentDurationS: 15})
	d.Start()
	is.NoErr(d.ProcessAudio(make([]float32, 2048), 16000))
	is.True(len(d.Segments()) > 0)

	d.Start()
	is.Equal(len(d.Segments()), 0)
}
