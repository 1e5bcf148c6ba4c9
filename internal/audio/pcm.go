// Package audio turns the raw speech payload returned by the generative-AI service into
// samples and playable WAV files.
package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// Speech payload format: 16-bit signed little-endian PCM, mono, 24 kHz.
const (
	SampleRate    = 24000
	Channels      = 1
	BitsPerSample = 16
)

// ErrDecode classifies payloads that cannot be interpreted as PCM16.
var ErrDecode = errors.New("audio decode error")

// DecodePCM16 splits raw little-endian bytes into 16-bit samples.
func DecodePCM16(data []byte) ([]int16, error) {
	if len(data)%2 != 0 {
		return nil, fmt.Errorf("%w: %d bytes is not a whole number of 16-bit samples", ErrDecode, len(data))
	}

	samples := make([]int16, len(data)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(data[2*i:]))
	}
	return samples, nil
}

// Normalize maps samples into [-1, 1).
func Normalize(samples []int16) []float32 {
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = float32(s) / 32768.0
	}
	return out
}

// Duration returns the playback length of pcm in seconds at the given format.
func Duration(pcm []byte, sampleRate, channels int) float64 {
	if sampleRate <= 0 || channels <= 0 {
		return 0
	}
	frames := len(pcm) / (2 * channels)
	return float64(frames) / float64(sampleRate)
}

// EncodeWAV prefixes 16-bit PCM with a canonical 44-byte RIFF/WAVE header.
func EncodeWAV(pcm []byte, sampleRate, channels int) ([]byte, error) {
	if len(pcm)%2 != 0 {
		return nil, fmt.Errorf("%w: %d bytes is not a whole number of 16-bit samples", ErrDecode, len(pcm))
	}
	if sampleRate <= 0 || channels <= 0 {
		return nil, fmt.Errorf("%w: invalid format %d Hz, %d channels", ErrDecode, sampleRate, channels)
	}

	blockAlign := channels * BitsPerSample / 8
	byteRate := sampleRate * blockAlign

	var buf bytes.Buffer
	buf.Grow(44 + len(pcm))

	header := []any{
		[4]byte{'R', 'I', 'F', 'F'},
		uint32(36 + len(pcm)),
		[4]byte{'W', 'A', 'V', 'E'},
		[4]byte{'f', 'm', 't', ' '},
		uint32(16), // fmt chunk size
		uint16(1),  // PCM
		uint16(channels),
		uint32(sampleRate),
		uint32(byteRate),
		uint16(blockAlign),
		uint16(BitsPerSample),
		[4]byte{'d', 'a', 't', 'a'},
		uint32(len(pcm)),
	}
	for _, field := range header {
		if err := binary.Write(&buf, binary.LittleEndian, field); err != nil {
			return nil, fmt.Errorf("write wav header: %w", err)
		}
	}
	buf.Write(pcm)

	return buf.Bytes(), nil
}
