package orchestrator

import "github.com/lattice-audio/transcribe-go/pkg/ingest/wav"

const debugWavSampleRate = 16000

// debugWavBuffer accumulates resampled audio and flushes a second's worth
// at a time to OrchestratorOptions.SaveInputWavPath, matching
// add_audio_to_stream's "flushes once per accumulated second" contract.
type debugWavBuffer struct {
	writer  *wav.Writer
	pending []float32
}

func newDebugWavBuffer(path string) (*debugWavBuffer, error) {
	w, err := wav.NewWriter(path, debugWavSampleRate)
	if err != nil {
		return nil, err
	}
	return &debugWavBuffer{writer: w}, nil
}

// Append appends samples (already resampled to 16 kHz) and flushes whole
// seconds to disk as they accumulate.
func (d *debugWavBuffer) Append(samples []float32) error {
	d.pending = append(d.pending, samples...)
	for len(d.pending) >= debugWavSampleRate {
		if err := d.writer.WriteSamples(d.pending[:debugWavSampleRate]); err != nil {
			return err
		}
		d.pending = d.pending[debugWavSampleRate:]
	}
	return nil
}

// Close flushes any remaining partial second and closes the file.
func (d *debugWavBuffer) Close() error {
	if len(d.pending) > 0 {
		if err := d.writer.WriteSamples(d.pending); err != nil {
			return err
		}
		d.pending = nil
	}
	return d.writer.Close()
}
