package wsaudio

import (
	"encoding/binary"
	"math"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/matryer/is"

	"github.com/lattice-audio/transcribe-go/pkg/orchestrator"
)

type fakeSink struct {
	mu       sync.Mutex
	nextID   int32
	received map[int32][]float32
}

func newFakeSink() *fakeSink {
	return &fakeSink{received: make(map[int32][]float32)}
}

func (f *fakeSink) CreateStream() int32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	return f.nextID
}

func (f *fakeSink) Start(int32) error { return nil }
func (f *fakeSink) Stop(int32) error  { return nil }

func (f *fakeSink) AddAudio(id int32, samples []float32, sampleRate int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.received[id] = append(f.received[id], samples...)
	return nil
}

func (f *fakeSink) TranscribeStream(id int32, flags orchestrator.Flags) (*orchestrator.Transcript, error) {
	return &orchestrator.Transcript{Lines: []orchestrator.Line{{ID: 1, Text: "hi", IsComplete: true}}}, nil
}

func encodeFloat32LE(samples []float32) []byte {
	out := make([]byte, len(samples)*4)
	for i, s := range samples {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(s))
	}
	return out
}

func TestServeHTTPDecodesBinaryFramesAndRepliesWithTranscript(t *testing.T) {
	is := is.New(t)
	sink := newFakeSink()
	server := NewServer(sink, 16000, nil)

	httpServer := httptest.NewServer(server)
	defer httpServer.Close()

	wsURL := "ws" + strings.TrimPrefix(httpServer.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	is.NoErr(err)
	defer conn.Close()

	samples := []float32{0.1, -0.2, 0.3}
	is.NoErr(conn.WriteMessage(websocket.BinaryMessage, encodeFloat32LE(samples)))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev event
	is.NoErr(conn.ReadJSON(&ev))
	is.Equal(ev.Type, "transcript")
	is.Equal(len(ev.Lines), 1)
	is.Equal(ev.Lines[0].Text, "hi")
}

func TestDecodeFloat32LEDropsTrailingPartialSample(t *testing.T) {
	is := is.New(t)
	samples := []float32{1, 2, 3}
	data := append(encodeFloat32LE(samples), 0x01, 0x02) // 2 extra trailing bytes
	got := decodeFloat32LE(data)
	is.Equal(len(got), 3)
	is.Equal(got[0], float32(1))
}
