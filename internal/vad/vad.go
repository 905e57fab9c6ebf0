// Package vad implements sliding-window voice-activity detection:
// resampling to 16 kHz, hop-sized classification via an injected speech
// probability oracle (the Silero tensor model), probability smoothing over
// a history window, look-behind padding on voice-start, and forced
// fade-out so no segment exceeds a configured maximum duration. Ported from
// original_source/core/voice-activity-detector.{h,cpp}.
package vad

import (
	"github.com/lattice-audio/transcribe-go/internal/resample"
)

const internalSampleRate = 16000

// SpeechProber returns the probability [0,1] that the given audio window
// contains speech. In production this wraps a Silero ONNX inference call;
// tests substitute a deterministic stub.
type SpeechProber interface {
	Predict(window []float32) (probability float32, err error)
}

// Segment is a maximal run of consecutive voice hops, bounded by silence or
// a forced max-duration fade-out.
type Segment struct {
	Audio       []float32
	StartTimeS  float32
	EndTimeS    float32
	IsComplete  bool
	JustUpdated bool
}

// Options configures a Detector. Zero values are replaced by
// DefaultOptions' values where documented.
type Options struct {
	Threshold             float32
	WindowCount           int
	HopSize               int
	LookBehindSamples     int
	MaxSegmentDurationS    float32
}

// DefaultOptions matches OrchestratorOptions' VAD defaults.
func DefaultOptions() Options {
	return Options{
		Threshold:          0.5,
		WindowCount:        32,
		HopSize:            512,
		LookBehindSamples:  4096,
		MaxSegmentDurationS: 15,
	}
}

// Detector is a per-stream VAD state machine. It is not safe for concurrent
// use; callers serialize ProcessAudio calls per stream (see the
// orchestrator's per-stream vad mutex).
type Detector struct {
	prober SpeechProber
	opts   Options

	maxSegmentSamples int

	probRing      []float32
	probRingIndex int

	lookBehind []float32

	remainder []float32

	segments []Segment

	currentSegmentAudio []float32

	previousIsVoice bool
	samplesProcessed uint64
	active           bool
}

// New creates a Detector. prober may be nil only if opts.Threshold == 0
// (every sample treated as voice; useful for tests and for
// skip_transcription-style pass-through segmentation).
func New(prober SpeechProber, opts Options) *Detector {
	if opts.WindowCount <= 0 {
		opts.WindowCount = DefaultOptions().WindowCount
	}
	if opts.HopSize <= 0 {
		opts.HopSize = DefaultOptions().HopSize
	}
	d := &Detector{
		prober:            prober,
		opts:              opts,
		maxSegmentSamples: int(opts.MaxSegmentDurationS * internalSampleRate),
	}
	return d
}

// IsActive reports whether Start has been called without a matching Stop.
func (d *Detector) IsActive() bool { return d.active }

// Segments returns the detector's current segment list. The slice is owned
// by the Detector; callers that need to retain it across the next
// ProcessAudio/Start call must copy it.
func (d *Detector) Segments() []Segment { return d.segments }

// Start resets all buffers and begins a new detection session.
func (d *Detector) Start() {
	d.active = true
	d.samplesProcessed = 0
	d.segments = nil
	d.currentSegmentAudio = nil
	d.lookBehind = make([]float32, d.opts.LookBehindSamples)
	d.remainder = nil
	d.probRing = make([]float32, d.opts.WindowCount)
	d.probRingIndex = 0
	d.previousIsVoice = false
}

// Stop ends the session. If a segment was in progress, it is finalized.
func (d *Detector) Stop() {
	d.active = false
	if d.previousIsVoice {
		d.onVoiceEnd()
	}
}

// ProcessAudio resamples buf to 16 kHz, appends it to the pending remainder,
// and classifies it hop_size samples at a time. It is a no-op if the
// detector is not active.
func (d *Detector) ProcessAudio(buf []float32, sampleRate int) error {
	if !d.active {
		return nil
	}
	for i := range d.segments {
		d.segments[i].JustUpdated = false
	}

	resampled := resample.Samples(buf, sampleRate, internalSampleRate)

	processing := append(d.remainder, resampled...)
	hop := d.opts.HopSize
	for len(processing) >= hop {
		if err := d.processChunk(processing[:hop]); err != nil {
			return err
		}
		processing = processing[hop:]
	}
	d.remainder = append([]float32(nil), processing...)
	return nil
}

func (d *Detector) processChunk(chunk []float32) error {
	hop := len(chunk)
	d.samplesProcessed += uint64(hop)

	// advance look-behind ring: drop the oldest hop samples, append chunk.
	if hop >= len(d.lookBehind) {
		copy(d.lookBehind, chunk[hop-len(d.lookBehind):])
	} else {
		copy(d.lookBehind, d.lookBehind[hop:])
		copy(d.lookBehind[len(d.lookBehind)-hop:], chunk)
	}

	var smoothed float32
	if d.opts.Threshold > 0 {
		p, err := d.prober.Predict(chunk)
		if err != nil {
			return err
		}
		d.probRing[d.probRingIndex] = p
		d.probRingIndex = (d.probRingIndex + 1) % len(d.probRing)
		var sum float32
		for _, v := range d.probRing {
			sum += v
		}
		smoothed = sum / float32(len(d.probRing))
	} else {
		smoothed = 1.0
	}

	if d.maxSegmentSamples > 0 {
		fadeStart := (d.maxSegmentSamples * 2) / 3
		// length the segment reaches if this chunk and the chunk that closes
		// it are both appended, so the fade ends it below the maximum.
		segmentLen := len(d.currentSegmentAudio) + 2*hop
		if segmentLen > fadeStart {
			fadeFactor := float32(segmentLen-fadeStart) / float32(d.maxSegmentSamples-fadeStart)
			if fadeFactor < 0 {
				fadeFactor = 0
			} else if fadeFactor > 1 {
				fadeFactor = 1
			}
			smoothed *= 1 - fadeFactor
		}
	}

	currentIsVoice := smoothed > d.opts.Threshold

	switch {
	case currentIsVoice && !d.previousIsVoice:
		lookBehindSize := d.opts.LookBehindSamples
		if int(d.samplesProcessed) < lookBehindSize {
			lookBehindSize = int(d.samplesProcessed)
		}
		d.currentSegmentAudio = append([]float32(nil), d.lookBehind[len(d.lookBehind)-lookBehindSize:]...)
		d.onVoiceStart()
	case !currentIsVoice && d.previousIsVoice:
		d.currentSegmentAudio = append(d.currentSegmentAudio, chunk...)
		d.onVoiceEnd()
		d.currentSegmentAudio = nil
		d.lookBehind = make([]float32, d.opts.LookBehindSamples)
	case currentIsVoice && d.previousIsVoice:
		d.currentSegmentAudio = append(d.currentSegmentAudio, chunk...)
		d.onVoiceContinuing()
	}

	d.previousIsVoice = currentIsVoice
	return nil
}

func (d *Detector) secondsFromSamples(n uint64) float32 {
	return float32(n) / internalSampleRate
}

func (d *Detector) onVoiceStart() {
	currentTime := d.secondsFromSamples(d.samplesProcessed)
	startTime := currentTime - d.secondsFromSamples(uint64(len(d.currentSegmentAudio)))
	d.segments = append(d.segments, Segment{
		Audio:       append([]float32(nil), d.currentSegmentAudio...),
		StartTimeS:  startTime,
		EndTimeS:    currentTime,
		IsComplete:  false,
		JustUpdated: true,
	})
}

func (d *Detector) onVoiceContinuing() {
	seg := &d.segments[len(d.segments)-1]
	seg.Audio = append([]float32(nil), d.currentSegmentAudio...)
	seg.EndTimeS = d.secondsFromSamples(d.samplesProcessed)
	seg.IsComplete = false
	seg.JustUpdated = true
}

func (d *Detector) onVoiceEnd() {
	if len(d.segments) == 0 {
		// Stop() called before any segment was ever opened; nothing to finalize.
		return
	}
	seg := &d.segments[len(d.segments)-1]
	seg.Audio = append([]float32(nil), d.currentSegmentAudio...)
	seg.EndTimeS = d.secondsFromSamples(d.samplesProcessed)
	seg.IsComplete = true
	seg.JustUpdated = true
}
