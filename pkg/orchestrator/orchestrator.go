// Package orchestrator implements the per-stream state machine that ties
// the Resampler, VAD Engine, Transcriber, UTF-8 sanitizer, and Online
// Clusterer together into a transcript-producing API: create a stream, feed
// it audio, and periodically ask for its transcript snapshot. Ported from
// the reference engine's orchestrator layer described across its
// component-design and concurrency sections.
package orchestrator

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lattice-audio/transcribe-go/internal/cluster"
	"github.com/lattice-audio/transcribe-go/internal/resample"
	"github.com/lattice-audio/transcribe-go/internal/sanitize"
	"github.com/lattice-audio/transcribe-go/internal/vad"
)

const internalSampleRate = 16000

// Orchestrator owns every stream, the shared speaker clusterer, and the
// loaded model(s). It is safe for concurrent use across different stream
// ids; calls on the same stream id are serialized by that stream's mutex.
type Orchestrator struct {
	opts Options

	streamsMu    sync.Mutex
	streams      map[int32]*streamState
	nextStreamID int32

	lineIDMu   sync.Mutex
	nextLineID uint64

	batchMu     sync.Mutex
	batchStream *streamState

	transcriber Transcriber
	prober      vad.SpeechProber

	clusterMu       sync.Mutex
	clusterer       *cluster.Online
	speakerEmbedder SpeakerEmbedder

	events *listenerRegistry
}

// New constructs an Orchestrator. transcriber may be nil when
// opts.ModelSource == ModelSourceNone or opts.SkipTranscription is set;
// speakerEmbedder may be nil when opts.IdentifySpeakers is false.
func New(opts Options, prober vad.SpeechProber, transcriber Transcriber, speakerEmbedder SpeakerEmbedder) (*Orchestrator, error) {
	seed, err := randomUint64()
	if err != nil {
		return nil, fmt.Errorf("orchestrator: seeding line id generator: %w", err)
	}

	return &Orchestrator{
		opts:            opts,
		streams:         make(map[int32]*streamState),
		nextLineID:      seed,
		transcriber:     transcriber,
		prober:          prober,
		clusterer:       cluster.New(cluster.Options{EmbeddingSize: 512, Threshold: opts.SpeakerIDClusterThreshold}),
		speakerEmbedder: speakerEmbedder,
		events:          newListenerRegistry(),
	}, nil
}

func randomUint64() (uint64, error) {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(buf[:]), nil
}

func (o *Orchestrator) vadOptions() vad.Options {
	return vad.Options{
		Threshold:           o.opts.VADThreshold,
		WindowCount:         o.opts.VADWindowCount,
		HopSize:             o.opts.VADHopSize,
		LookBehindSamples:   o.opts.VADLookBehindSamples,
		MaxSegmentDurationS: o.opts.VADMaxSegmentDurationS,
	}
}

func (o *Orchestrator) nextLine() uint64 {
	o.lineIDMu.Lock()
	defer o.lineIDMu.Unlock()
	id := o.nextLineID
	o.nextLineID++
	return id
}

// RegisterListener adds a listener invoked synchronously (on the calling
// goroutine) for every Line transition produced by TranscribeStream /
// TranscribeWithoutStreaming. Returns a token for Unregister.
func (o *Orchestrator) RegisterListener(l Listener) uuid.UUID {
	return o.events.Register(l)
}

// UnregisterListener removes a previously registered listener.
func (o *Orchestrator) UnregisterListener(token uuid.UUID) {
	o.events.Unregister(token)
}

// CreateStream allocates a new stream and returns its handle.
func (o *Orchestrator) CreateStream() int32 {
	o.streamsMu.Lock()
	defer o.streamsMu.Unlock()
	id := o.nextStreamID
	o.nextStreamID++
	o.streams[id] = newStreamState(id, o.vadOptions(), o.prober)
	return id
}

func (o *Orchestrator) lookupStream(id int32) (*streamState, error) {
	o.streamsMu.Lock()
	defer o.streamsMu.Unlock()
	s, ok := o.streams[id]
	if !ok {
		return nil, &InvalidHandle{StreamID: id}
	}
	return s, nil
}

// Start clears the stream's line history (invalidating any previously
// handed-out snapshots) and begins a new VAD detection session.
func (o *Orchestrator) Start(id int32) error {
	s, err := o.lookupStream(id)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lines = make(map[uint64]*Line)
	s.orderedIDs = nil
	s.pending = nil
	s.lastTranscript = Transcript{}
	s.speakerOrder = make(map[uint64]uint32)
	s.vad.Start()

	if o.opts.SaveInputWavPath != "" {
		buf, err := newDebugWavBuffer(o.opts.SaveInputWavPath)
		if err != nil {
			slog.Warn("orchestrator: failed to open debug wav", slog.String("path", o.opts.SaveInputWavPath), slog.Any("error", err))
		} else {
			s.debugWav = buf
		}
	}
	return nil
}

// Stop ends the VAD session (finalizing any in-progress segment) and
// flushes any pending debug WAV data.
func (o *Orchestrator) Stop(id int32) error {
	s, err := o.lookupStream(id)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.vad.Stop()
	s.vadJustStopped = true

	if s.debugWav != nil {
		if err := s.debugWav.Close(); err != nil {
			slog.Warn("orchestrator: failed to close debug wav", slog.Any("error", err))
		}
		s.debugWav = nil
	}
	return nil
}

// AddAudio resamples samples to 16 kHz and appends them to the stream's
// pending buffer, to be consumed by the next TranscribeStream call.
func (o *Orchestrator) AddAudio(id int32, samples []float32, sampleRate int) error {
	s, err := o.lookupStream(id)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.vad.IsActive() {
		return &NotActive{StreamID: id}
	}

	resampled := resample.Samples(samples, sampleRate, internalSampleRate)
	s.pending = append(s.pending, resampled...)

	if s.debugWav != nil {
		if err := s.debugWav.Append(resampled); err != nil {
			slog.Warn("orchestrator: failed to write debug wav", slog.Any("error", err))
		}
	}
	return nil
}

// TranscribeStream runs a transcription pass over the stream's pending
// audio if enough has accumulated (or flags forces it), merges the result
// into the stream's Line history, and returns a snapshot of the transcript.
func (o *Orchestrator) TranscribeStream(id int32, flags Flags) (*Transcript, error) {
	s, err := o.lookupStream(id)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	return o.transcribeLocked(s, flags)
}

func (o *Orchestrator) transcribeLocked(s *streamState, flags Flags) (*Transcript, error) {
	for _, line := range s.lines {
		line.IsNew = false
		line.IsUpdated = false
		line.HasTextChanged = false
	}

	pendingDurationS := float32(len(s.pending)) / internalSampleRate
	proceed := pendingDurationS >= o.opts.TranscriptionIntervalS || flags&ForceUpdate != 0 || s.vadJustStopped
	if !proceed {
		snap := o.snapshot(s)
		s.lastTranscript = snap
		return &snap, nil
	}

	pending := s.pending
	s.pending = nil
	if err := s.vad.ProcessAudio(pending, internalSampleRate); err != nil {
		return nil, &InferenceError{Underlying: err}
	}
	s.vadJustStopped = false

	segments := s.vad.Segments()
	justTransitionedComplete := make(map[uint64]bool)

	for i, seg := range segments {
		if !seg.JustUpdated {
			continue
		}
		for len(s.orderedIDs) <= i {
			s.orderedIDs = append(s.orderedIDs, o.nextLine())
		}
		lineID := s.orderedIDs[i]

		line, existed := s.lines[lineID]
		if !existed {
			line = &Line{ID: lineID}
			s.lines[lineID] = line
		}

		oldText := line.Text
		wasComplete := line.IsComplete

		var text string
		var latencyMS uint32
		if o.transcriber != nil && !o.opts.SkipTranscription && o.opts.ModelSource != ModelSourceNone {
			var err error
			text, latencyMS, err = o.transcribeSegment(seg)
			if err != nil {
				return nil, &InferenceError{Underlying: err}
			}
		}

		line.HasText = o.transcriber != nil && !o.opts.SkipTranscription && o.opts.ModelSource != ModelSourceNone
		line.Text = sanitize.UTF8(text)
		if o.opts.ReturnAudioData {
			line.Audio = append([]float32(nil), seg.Audio...)
		}
		line.StartTimeS = seg.StartTimeS
		line.DurationS = seg.EndTimeS - seg.StartTimeS
		line.IsComplete = seg.IsComplete
		line.IsNew = !existed
		line.IsUpdated = true
		line.HasTextChanged = oldText != line.Text
		line.LastTranscriptionLatencyMS = latencyMS

		if line.IsComplete && !wasComplete {
			justTransitionedComplete[lineID] = true
		}
	}

	if !s.vad.IsActive() && len(s.orderedIDs) > 0 {
		tailID := s.orderedIDs[len(s.orderedIDs)-1]
		if tail, ok := s.lines[tailID]; ok && !tail.IsComplete {
			tail.IsComplete = true
			tail.IsUpdated = true
			justTransitionedComplete[tailID] = true
		}
	}

	if o.opts.IdentifySpeakers && o.speakerEmbedder != nil {
		for lineID := range justTransitionedComplete {
			line := s.lines[lineID]
			if err := o.assignSpeaker(s, line); err != nil {
				slog.Warn("orchestrator: speaker assignment failed", slog.Any("error", err))
			}
		}
	}

	snap := o.snapshot(s)
	o.dispatchEvents(s, snap)
	s.lastTranscript = snap
	return &snap, nil
}

func (o *Orchestrator) transcribeSegment(seg vad.Segment) (text string, latencyMS uint32, err error) {
	start := time.Now()
	text, err = o.transcriber.Transcribe(seg.Audio, seg.EndTimeS-seg.StartTimeS)
	if err != nil {
		return "", 0, err
	}
	return text, uint32(time.Since(start).Milliseconds()), nil
}

func (o *Orchestrator) assignSpeaker(s *streamState, line *Line) error {
	ideal := o.speakerEmbedder.IdealInputSamples()
	audio := padByRepetition(line.Audio, ideal)

	embedding, err := o.speakerEmbedder.Embed(audio)
	if err != nil {
		return fmt.Errorf("embedding speaker audio: %w", err)
	}

	o.clusterMu.Lock()
	speakerID, err := o.clusterer.EmbedAndCluster(embedding, line.DurationS)
	o.clusterMu.Unlock()
	if err != nil {
		return fmt.Errorf("clustering: %w", err)
	}

	line.HasSpeakerID = true
	line.SpeakerID = speakerID
	if idx, ok := s.speakerOrder[speakerID]; ok {
		line.SpeakerIndex = idx
	} else {
		idx := uint32(len(s.speakerOrder))
		s.speakerOrder[speakerID] = idx
		line.SpeakerIndex = idx
	}
	return nil
}

// padByRepetition repeats audio end-to-end until it reaches at least
// target samples, matching the reference engine's "pad by repetition to
// the ideal length" policy for short segments fed to the speaker embedder.
func padByRepetition(audio []float32, target int) []float32 {
	if len(audio) == 0 || len(audio) >= target {
		if len(audio) > target {
			return audio[:target]
		}
		return audio
	}
	out := make([]float32, 0, target)
	for len(out) < target {
		out = append(out, audio...)
	}
	return out[:target]
}

func (o *Orchestrator) snapshot(s *streamState) Transcript {
	lines := make([]Line, 0, len(s.orderedIDs))
	for _, id := range s.orderedIDs {
		if line, ok := s.lines[id]; ok {
			lines = append(lines, *line)
		}
	}
	return Transcript{Lines: lines}
}

func (o *Orchestrator) dispatchEvents(s *streamState, snap Transcript) {
	for _, line := range snap.Lines {
		if line.IsNew {
			o.events.dispatch(Event{Kind: EventLineStarted, StreamID: s.id, Line: line})
		} else if line.IsUpdated {
			o.events.dispatch(Event{Kind: EventLineUpdated, StreamID: s.id, Line: line})
		}
		if line.HasTextChanged {
			o.events.dispatch(Event{Kind: EventLineTextChanged, StreamID: s.id, Line: line})
		}
		if line.IsComplete && line.IsUpdated {
			o.events.dispatch(Event{Kind: EventLineCompleted, StreamID: s.id, Line: line})
		}
	}
}

// TranscribeWithoutStreaming transcribes a complete buffer of audio in one
// call, using a lazily-created implicit "batch stream" shared across calls.
// All emitted segments are complete, and speaker ids are always assigned
// when identification is enabled.
func (o *Orchestrator) TranscribeWithoutStreaming(samples []float32, sampleRate int, flags Flags) (*Transcript, error) {
	o.batchMu.Lock()
	defer o.batchMu.Unlock()

	if o.batchStream == nil {
		o.batchStream = newStreamState(-1, o.vadOptions(), o.prober)
	}
	s := o.batchStream

	s.mu.Lock()
	defer s.mu.Unlock()

	s.lines = make(map[uint64]*Line)
	s.orderedIDs = nil
	s.pending = nil
	s.speakerOrder = make(map[uint64]uint32)
	s.vad.Start()

	resampled := resample.Samples(samples, sampleRate, internalSampleRate)
	if err := s.vad.ProcessAudio(resampled, internalSampleRate); err != nil {
		return nil, &InferenceError{Underlying: err}
	}
	s.vad.Stop()
	s.vadJustStopped = true

	return o.transcribeLocked(s, flags|ForceUpdate)
}
