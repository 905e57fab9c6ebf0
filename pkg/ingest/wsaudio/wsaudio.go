// Package wsaudio ingests live audio pushed over a websocket connection:
// each connection becomes one engine stream, binary frames are decoded as
// little-endian float32 PCM and handed to StreamSink.AddAudio, and
// transcript updates are pushed back as JSON events. Styled after the
// teacher's WebSocketClient (internal/worker/websocket.go) JSON
// signal/command framing, turned server-side.
package wsaudio

import (
	"encoding/binary"
	"log/slog"
	"math"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/lattice-audio/transcribe-go/pkg/orchestrator"
)

// StreamSink is the subset of the Orchestrator's API wsaudio needs.
type StreamSink interface {
	CreateStream() int32
	Start(streamID int32) error
	AddAudio(streamID int32, samples []float32, sampleRate int) error
	TranscribeStream(streamID int32, flags orchestrator.Flags) (*orchestrator.Transcript, error)
	Stop(streamID int32) error
}

var _ StreamSink = (*orchestrator.Orchestrator)(nil)

// Line mirrors the fields a websocket client needs from orchestrator.Line.
type Line struct {
	ID         uint64  `json:"id"`
	Text       string  `json:"text"`
	IsComplete bool    `json:"is_complete"`
	IsNew      bool    `json:"is_new"`
	StartTimeS float32 `json:"start_time_s"`
}

// event is the JSON message shape pushed to clients after each audio
// frame; mirrors the teacher's Signal{Type, Data} envelope.
type event struct {
	Type  string `json:"type"`
	Lines []Line `json:"lines,omitempty"`
	Error string `json:"error,omitempty"`
}

// Server upgrades incoming HTTP connections to websockets and streams each
// connection's audio into its own stream.
type Server struct {
	sink       StreamSink
	upgrader   websocket.Upgrader
	sampleRate int
	logger     *slog.Logger
}

// NewServer constructs a Server. sampleRate is the rate incoming PCM
// frames are assumed to be encoded at; the sink resamples internally.
func NewServer(sink StreamSink, sampleRate int, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		sink:       sink,
		sampleRate: sampleRate,
		logger:     logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// ServeHTTP implements http.Handler: each request upgrades to a websocket
// and is handled on its own stream until the client disconnects.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("wsaudio: upgrade failed", slog.Any("error", err))
		return
	}
	defer conn.Close()

	streamID := s.sink.CreateStream()
	if err := s.sink.Start(streamID); err != nil {
		s.writeEvent(conn, event{Type: "error", Error: err.Error()})
		return
	}
	defer func() {
		if err := s.sink.Stop(streamID); err != nil {
			s.logger.Warn("wsaudio: stopping stream", slog.Int("stream", int(streamID)), slog.Any("error", err))
		}
		transcript, err := s.sink.TranscribeStream(streamID, 0)
		if err == nil {
			s.writeEvent(conn, toEvent(transcript))
		}
	}()

	s.logger.Info("wsaudio: stream connected", slog.Int("stream", int(streamID)))

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			s.logger.Debug("wsaudio: connection closed", slog.Int("stream", int(streamID)), slog.Any("error", err))
			return
		}
		if msgType != websocket.BinaryMessage {
			continue
		}

		samples := decodeFloat32LE(data)
		if err := s.sink.AddAudio(streamID, samples, s.sampleRate); err != nil {
			s.writeEvent(conn, event{Type: "error", Error: err.Error()})
			continue
		}

		transcript, err := s.sink.TranscribeStream(streamID, 0)
		if err != nil {
			s.writeEvent(conn, event{Type: "error", Error: err.Error()})
			continue
		}
		s.writeEvent(conn, toEvent(transcript))
	}
}

func (s *Server) writeEvent(conn *websocket.Conn, ev event) {
	if err := conn.WriteJSON(ev); err != nil {
		s.logger.Warn("wsaudio: writing event", slog.Any("error", err))
	}
}

func toEvent(t *orchestrator.Transcript) event {
	lines := make([]Line, len(t.Lines))
	for i, l := range t.Lines {
		lines[i] = Line{ID: l.ID, Text: l.Text, IsComplete: l.IsComplete, IsNew: l.IsNew, StartTimeS: l.StartTimeS}
	}
	return event{Type: "transcript", Lines: lines}
}

// decodeFloat32LE interprets data as a sequence of little-endian float32
// samples, dropping any trailing partial sample.
func decodeFloat32LE(data []byte) []float32 {
	n := len(data) / 4
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		bits := binary.LittleEndian.Uint32(data[i*4:])
		out[i] = math.Float32frombits(bits)
	}
	return out
}
