// Package audio provides PCM plumbing shared by providers: fixed-size frame
// slicing for network byte streams and WAV encoding for upload-style APIs.
package audio

import (
	"time"

	"github.com/auricle-ai/auricle-go/pkg/rtc"
)

const defaultFrameDuration = 10 * time.Millisecond

// ByteStream buffers raw 16-bit PCM arriving in arbitrary network-sized
// chunks and re-slices it into fixed-duration frames. Decoded TTS audio
// passes through one of these before playout.
type ByteStream struct {
	sampleRate     int
	numChannels    int
	bytesPerFrame  int
	samplesPerFrame int

	buf []byte
}

// NewByteStream creates a stream emitting frames of the given duration.
// A zero duration selects 10 ms.
func NewByteStream(sampleRate, numChannels int, frameDuration time.Duration) *ByteStream {
	if frameDuration <= 0 {
		frameDuration = defaultFrameDuration
	}
	samplesPerFrame := int(time.Duration(sampleRate) * frameDuration / time.Second)
	return &ByteStream{
		sampleRate:      sampleRate,
		numChannels:     numChannels,
		samplesPerFrame: samplesPerFrame,
		bytesPerFrame:   samplesPerFrame * numChannels * 2,
	}
}

// Write appends data and returns every complete frame now available.
func (s *ByteStream) Write(data []byte) []*rtc.AudioFrame {
	s.buf = append(s.buf, data...)

	var frames []*rtc.AudioFrame
	for len(s.buf) >= s.bytesPerFrame {
		chunk := make([]byte, s.bytesPerFrame)
		copy(chunk, s.buf[:s.bytesPerFrame])
		s.buf = s.buf[s.bytesPerFrame:]

		frames = append(frames, &rtc.AudioFrame{
			Data:              chunk,
			SampleRate:        s.sampleRate,
			SamplesPerChannel: s.samplesPerFrame,
			NumChannels:       s.numChannels,
		})
	}
	return frames
}

// Flush returns the buffered remainder as one short frame, or nil when the
// buffer is empty. The remainder is truncated to whole samples.
func (s *ByteStream) Flush() []*rtc.AudioFrame {
	sampleBytes := s.numChannels * 2
	usable := len(s.buf) / sampleBytes * sampleBytes
	if usable == 0 {
		s.buf = s.buf[:0]
		return nil
	}

	chunk := make([]byte, usable)
	copy(chunk, s.buf[:usable])
	s.buf = s.buf[:0]

	return []*rtc.AudioFrame{{
		Data:              chunk,
		SampleRate:        s.sampleRate,
		SamplesPerChannel: usable / sampleBytes,
		NumChannels:       s.numChannels,
	}}
}
