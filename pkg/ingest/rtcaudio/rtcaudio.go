// Package rtcaudio ingests a LiveKit room's remote audio tracks into the
// transcription engine: one stream per remote participant, decoded
// from Opus/RTP to PCM and handed to StreamSink.AddAudio. Grounded on
// agents/worker.go's room-connect and track-handling logic (OnTrackSubscribed,
// handleAudioTrack, convertRTPToAudio) and on its RTP/Opus decoding
// (hraban/opus decodes what pion/webrtc delivers as RTP payloads).
package rtcaudio

import (
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/hraban/opus"
	lksdk "github.com/livekit/server-sdk-go"
	"github.com/pion/webrtc/v3"
)

const opusSampleRate = 48000
const opusChannels = 1

// opusFrameSamples is the largest PCM frame hraban/opus.Decode will be
// asked to fill: 120 ms at 48 kHz, the maximum frame size Opus defines.
const opusFrameSamples = 5760

// StreamSink is the subset of the Orchestrator's API rtcaudio needs,
// declared narrowly so this package doesn't import pkg/orchestrator.
type StreamSink interface {
	CreateStream() int32
	Start(streamID int32) error
	AddAudio(streamID int32, samples []float32, sampleRate int) error
	Stop(streamID int32) error
}

// Room connects to a LiveKit room and feeds each subscribed remote
// participant's microphone audio into its own engine stream.
type Room struct {
	sink   StreamSink
	logger *slog.Logger

	mu       sync.Mutex
	streams  map[string]int32 // participant identity -> stream id
	decoders map[string]*opus.Decoder

	room *lksdk.Room
}

// Options configures the room connection.
type Options struct {
	URL          string
	APIKey       string
	APISecret    string
	RoomName     string
	Identity     string
	IgnoreTracks func(identity string) bool // e.g. skip the agent's own published audio
}

// NewRoom constructs a Room bound to sink. Connect must be called to
// actually join the LiveKit room.
func NewRoom(sink StreamSink, logger *slog.Logger) *Room {
	if logger == nil {
		logger = slog.Default()
	}
	return &Room{
		sink:     sink,
		logger:   logger,
		streams:  make(map[string]int32),
		decoders: make(map[string]*opus.Decoder),
	}
}

// Connect joins the LiveKit room described by opts and begins transcribing
// every subscribed participant's microphone track. It returns once
// connected; track handling continues on background goroutines until
// Close is called.
func (r *Room) Connect(opts Options) error {
	connectInfo := lksdk.ConnectInfo{
		APIKey:              opts.APIKey,
		APISecret:           opts.APISecret,
		RoomName:            opts.RoomName,
		ParticipantIdentity: opts.Identity,
	}

	callback := &lksdk.RoomCallback{
		OnParticipantDisconnected: func(participant *lksdk.RemoteParticipant) {
			r.closeStream(participant.Identity())
		},
		ParticipantCallback: lksdk.ParticipantCallback{
			OnTrackSubscribed: func(track *webrtc.TrackRemote, publication *lksdk.RemoteTrackPublication, rp *lksdk.RemoteParticipant) {
				if track.Kind() != webrtc.RTPCodecTypeAudio {
					return
				}
				if opts.IgnoreTracks != nil && opts.IgnoreTracks(rp.Identity()) {
					return
				}
				go r.handleAudioTrack(track, rp.Identity())
			},
			OnTrackUnsubscribed: func(track *webrtc.TrackRemote, publication *lksdk.RemoteTrackPublication, rp *lksdk.RemoteParticipant) {
				if track.Kind() == webrtc.RTPCodecTypeAudio {
					r.closeStream(rp.Identity())
				}
			},
		},
	}

	room, err := lksdk.ConnectToRoom(opts.URL, connectInfo, callback)
	if err != nil {
		return fmt.Errorf("rtcaudio: connecting to room %s: %w", opts.RoomName, err)
	}
	r.room = room
	return nil
}

// Close disconnects from the room and stops every open stream.
func (r *Room) Close() error {
	r.mu.Lock()
	identities := make([]string, 0, len(r.streams))
	for id := range r.streams {
		identities = append(identities, id)
	}
	r.mu.Unlock()

	for _, id := range identities {
		r.closeStream(id)
	}
	if r.room != nil {
		r.room.Disconnect()
	}
	return nil
}

func (r *Room) streamFor(identity string) (int32, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok := r.streams[identity]; ok {
		return id, nil
	}
	id := r.sink.CreateStream()
	if err := r.sink.Start(id); err != nil {
		return 0, err
	}
	r.streams[identity] = id
	return id, nil
}

func (r *Room) closeStream(identity string) {
	r.mu.Lock()
	id, ok := r.streams[identity]
	if ok {
		delete(r.streams, identity)
		delete(r.decoders, identity)
	}
	r.mu.Unlock()

	if ok {
		if err := r.sink.Stop(id); err != nil {
			r.logger.Warn("rtcaudio: stopping stream", slog.String("participant", identity), slog.Any("error", err))
		}
	}
}

func (r *Room) decoderFor(identity string) (*opus.Decoder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if dec, ok := r.decoders[identity]; ok {
		return dec, nil
	}
	dec, err := opus.NewDecoder(opusSampleRate, opusChannels)
	if err != nil {
		return nil, fmt.Errorf("rtcaudio: creating opus decoder: %w", err)
	}
	r.decoders[identity] = dec
	return dec, nil
}

// handleAudioTrack reads RTP packets from track until it ends, decoding
// each Opus payload and forwarding the resulting PCM to the participant's
// stream.
func (r *Room) handleAudioTrack(track *webrtc.TrackRemote, identity string) {
	streamID, err := r.streamFor(identity)
	if err != nil {
		r.logger.Error("rtcaudio: creating stream", slog.String("participant", identity), slog.Any("error", err))
		return
	}

	pcmBuffer := make([]int16, opusFrameSamples)

	for {
		packet, _, err := track.ReadRTP()
		if err != nil {
			if err != io.EOF {
				r.logger.Warn("rtcaudio: reading RTP packet", slog.String("participant", identity), slog.Any("error", err))
			}
			return
		}
		if len(packet.Payload) == 0 {
			continue
		}

		decoder, err := r.decoderFor(identity)
		if err != nil {
			r.logger.Error("rtcaudio: decoder", slog.Any("error", err))
			continue
		}

		n, err := decoder.Decode(packet.Payload, pcmBuffer)
		if err != nil {
			r.logger.Warn("rtcaudio: decoding opus frame", slog.String("participant", identity), slog.Any("error", err))
			continue
		}
		if n == 0 {
			continue
		}

		samples := int16ToFloat32(pcmBuffer[:n])
		if err := r.sink.AddAudio(streamID, samples, opusSampleRate); err != nil {
			r.logger.Warn("rtcaudio: adding audio", slog.String("participant", identity), slog.Any("error", err))
		}
	}
}

func int16ToFloat32(samples []int16) []float32 {
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = float32(s) / 32768.0
	}
	return out
}
