// Package wav reads and writes PCM WAV files as float32 mono samples, the
// engine's native AudioSample representation. Adapted from the teacher's
// pkg/audio/wav reader/writer: chunk-walking RIFF parsing and header
// layout are unchanged, but output is []float32 samples (any sample rate,
// mono or stereo-downmixed) rather than fixed-rate rtc.AudioFrame byte
// buffers, since downstream consumers resample internally anyway.
package wav

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
)

// Header describes a WAV file's format chunk and data chunk size.
type Header struct {
	NumChannels   uint16
	SampleRate    uint32
	BitsPerSample uint16
	DataSize      uint32
}

// Reader reads a WAV file's PCM samples as float32, downmixing stereo to
// mono by averaging channels.
type Reader struct {
	file   *os.File
	header Header
}

// NewReader opens filename and parses its RIFF/WAVE header.
func NewReader(filename string) (*Reader, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("wav: opening %s: %w", filename, err)
	}
	r := &Reader{file: file}
	if err := r.readHeader(); err != nil {
		file.Close()
		return nil, fmt.Errorf("wav: reading header of %s: %w", filename, err)
	}
	return r, nil
}

// Header returns the parsed format information.
func (r *Reader) Header() Header { return r.header }

// ReadAll reads the entire PCM payload as mono float32 samples in
// [-1.0, 1.0], along with the file's native sample rate.
func (r *Reader) ReadAll() (samples []float32, sampleRate int, err error) {
	if r.header.BitsPerSample != 16 {
		return nil, 0, fmt.Errorf("wav: only 16-bit PCM is supported, got %d-bit", r.header.BitsPerSample)
	}

	raw, err := io.ReadAll(io.LimitReader(r.file, int64(r.header.DataSize)))
	if err != nil {
		return nil, 0, fmt.Errorf("wav: reading data chunk: %w", err)
	}

	channels := int(r.header.NumChannels)
	if channels < 1 {
		channels = 1
	}
	frameBytes := 2 * channels
	frameCount := len(raw) / frameBytes

	samples = make([]float32, frameCount)
	for i := 0; i < frameCount; i++ {
		var sum int32
		for ch := 0; ch < channels; ch++ {
			off := i*frameBytes + ch*2
			sum += int32(int16(binary.LittleEndian.Uint16(raw[off : off+2])))
		}
		samples[i] = float32(sum) / float32(channels) / 32768.0
	}

	return samples, int(r.header.SampleRate), nil
}

// Close closes the underlying file.
func (r *Reader) Close() error {
	if r.file == nil {
		return nil
	}
	return r.file.Close()
}

func (r *Reader) readHeader() error {
	var riff [12]byte
	if _, err := io.ReadFull(r.file, riff[:]); err != nil {
		return fmt.Errorf("reading RIFF header: %w", err)
	}
	if string(riff[0:4]) != "RIFF" || string(riff[8:12]) != "WAVE" {
		return fmt.Errorf("not a RIFF/WAVE file")
	}

	if err := r.readFmtChunk(); err != nil {
		return err
	}
	return r.readDataChunk()
}

func (r *Reader) readFmtChunk() error {
	for {
		var chunkHeader [8]byte
		if _, err := io.ReadFull(r.file, chunkHeader[:]); err != nil {
			return fmt.Errorf("reading chunk header: %w", err)
		}
		chunkID := string(chunkHeader[0:4])
		chunkSize := binary.LittleEndian.Uint32(chunkHeader[4:8])

		if chunkID == "fmt " {
			if chunkSize < 16 {
				return fmt.Errorf("fmt chunk too small: %d bytes", chunkSize)
			}
			var fmtData [16]byte
			if _, err := io.ReadFull(r.file, fmtData[:]); err != nil {
				return fmt.Errorf("reading fmt data: %w", err)
			}
			audioFormat := binary.LittleEndian.Uint16(fmtData[0:2])
			if audioFormat != 1 {
				return fmt.Errorf("only PCM format is supported, got format %d", audioFormat)
			}
			r.header.NumChannels = binary.LittleEndian.Uint16(fmtData[2:4])
			r.header.SampleRate = binary.LittleEndian.Uint32(fmtData[4:8])
			r.header.BitsPerSample = binary.LittleEndian.Uint16(fmtData[14:16])

			if chunkSize > 16 {
				if _, err := r.file.Seek(int64(chunkSize-16), io.SeekCurrent); err != nil {
					return fmt.Errorf("skipping fmt data: %w", err)
				}
			}
			return nil
		}

		if _, err := r.file.Seek(int64(chunkSize), io.SeekCurrent); err != nil {
			return fmt.Errorf("skipping chunk %q: %w", chunkID, err)
		}
	}
}

func (r *Reader) readDataChunk() error {
	for {
		var chunkHeader [8]byte
		if _, err := io.ReadFull(r.file, chunkHeader[:]); err != nil {
			return fmt.Errorf("reading chunk header: %w", err)
		}
		chunkID := string(chunkHeader[0:4])
		chunkSize := binary.LittleEndian.Uint32(chunkHeader[4:8])

		if chunkID == "data" {
			r.header.DataSize = chunkSize
			return nil
		}

		if _, err := r.file.Seek(int64(chunkSize), io.SeekCurrent); err != nil {
			return fmt.Errorf("skipping chunk %q: %w", chunkID, err)
		}
	}
}

// floatToInt16 clamps and quantizes a [-1.0, 1.0] sample to 16-bit PCM.
func floatToInt16(s float32) int16 {
	v := float64(s) * 32767.0
	if v > 32767 {
		v = 32767
	} else if v < -32768 {
		v = -32768
	}
	return int16(math.Round(v))
}
