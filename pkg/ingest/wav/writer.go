package wav

import (
	"encoding/binary"
	"fmt"
	"os"
)

// Writer incrementally appends mono float32 PCM to a 16-bit WAV file,
// finalizing the header on Close. Used for OrchestratorOptions'
// save_input_wav_path debug dump.
type Writer struct {
	file           *os.File
	sampleRate     uint32
	samplesWritten uint32
}

// NewWriter creates filename and writes a placeholder header (sizes are
// patched in on Close).
func NewWriter(filename string, sampleRate uint32) (*Writer, error) {
	file, err := os.Create(filename)
	if err != nil {
		return nil, fmt.Errorf("wav: creating %s: %w", filename, err)
	}
	w := &Writer{file: file, sampleRate: sampleRate}
	if err := w.writeHeader(); err != nil {
		file.Close()
		return nil, fmt.Errorf("wav: writing header: %w", err)
	}
	return w, nil
}

// WriteSamples appends mono float32 samples in [-1.0, 1.0].
func (w *Writer) WriteSamples(samples []float32) error {
	for _, s := range samples {
		if err := binary.Write(w.file, binary.LittleEndian, floatToInt16(s)); err != nil {
			return fmt.Errorf("wav: writing sample: %w", err)
		}
		w.samplesWritten++
	}
	return nil
}

// Close finalizes the WAV header with the true chunk/data sizes.
func (w *Writer) Close() error {
	if w.file == nil {
		return nil
	}

	dataSize := w.samplesWritten * 2
	chunkSize := dataSize + 36

	if _, err := w.file.Seek(4, 0); err != nil {
		return fmt.Errorf("wav: seeking to chunk size: %w", err)
	}
	if err := binary.Write(w.file, binary.LittleEndian, chunkSize); err != nil {
		return fmt.Errorf("wav: writing chunk size: %w", err)
	}

	if _, err := w.file.Seek(40, 0); err != nil {
		return fmt.Errorf("wav: seeking to data size: %w", err)
	}
	if err := binary.Write(w.file, binary.LittleEndian, dataSize); err != nil {
		return fmt.Errorf("wav: writing data size: %w", err)
	}

	err := w.file.Close()
	w.file = nil
	return err
}

func (w *Writer) writeHeader() error {
	if _, err := w.file.WriteString("RIFF"); err != nil {
		return err
	}
	if err := binary.Write(w.file, binary.LittleEndian, uint32(0)); err != nil {
		return err
	}
	if _, err := w.file.WriteString("WAVE"); err != nil {
		return err
	}
	if _, err := w.file.WriteString("fmt "); err != nil {
		return err
	}
	if err := binary.Write(w.file, binary.LittleEndian, uint32(16)); err != nil {
		return err
	}
	if err := binary.Write(w.file, binary.LittleEndian, uint16(1)); err != nil { // PCM
		return err
	}
	if err := binary.Write(w.file, binary.LittleEndian, uint16(1)); err != nil { // mono
		return err
	}
	if err := binary.Write(w.file, binary.LittleEndian, w.sampleRate); err != nil {
		return err
	}
	byteRate := w.sampleRate * 2
	if err := binary.Write(w.file, binary.LittleEndian, byteRate); err != nil {
		return err
	}
	if err := binary.Write(w.file, binary.LittleEndian, uint16(2)); err != nil { // block align
		return err
	}
	if err := binary.Write(w.file, binary.LittleEndian, uint16(16)); err != nil { // bits per sample
		return err
	}
	if _, err := w.file.WriteString("data"); err != nil {
		return err
	}
	return binary.Write(w.file, binary.LittleEndian, uint32(0))
}
