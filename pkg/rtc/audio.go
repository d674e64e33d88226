// Package rtc defines the audio frame type that moves through the pipeline's
// bounded channels, between capture, recognition, synthesis and playout.
package rtc

import (
	"fmt"
	"time"
)

// AudioFrame represents a span of 16-bit little-endian PCM audio.
// Len(Data) == SamplesPerChannel * NumChannels * 2.
// Fields are immutable after creation except Data when processed in-place.
type AudioFrame struct {
	Data              []byte // 16-bit PCM, little-endian
	SampleRate        int
	SamplesPerChannel int
	NumChannels       int // 1 or 2
	Timestamp         time.Duration
}

// NewAudioFrame creates an AudioFrame and validates that the data length
// matches SamplesPerChannel * NumChannels * 2.
func NewAudioFrame(data []byte, sampleRate, numChannels, samplesPerChannel int) (*AudioFrame, error) {
	expectedLen := samplesPerChannel * numChannels * 2
	if len(data) != expectedLen {
		return nil, fmt.Errorf("audio frame data length mismatch: got %d bytes, expected %d for %dHz %d-channel frame",
			len(data), expectedLen, sampleRate, numChannels)
	}

	return &AudioFrame{
		Data:              data,
		SampleRate:        sampleRate,
		SamplesPerChannel: samplesPerChannel,
		NumChannels:       numChannels,
	}, nil
}

// Clone creates a deep copy of the AudioFrame.
func (f *AudioFrame) Clone() *AudioFrame {
	data := make([]byte, len(f.Data))
	copy(data, f.Data)

	return &AudioFrame{
		Data:              data,
		SampleRate:        f.SampleRate,
		SamplesPerChannel: f.SamplesPerChannel,
		NumChannels:       f.NumChannels,
		Timestamp:         f.Timestamp,
	}
}

// Duration returns the playback duration represented by this frame.
func (f *AudioFrame) Duration() time.Duration {
	if f.SampleRate == 0 {
		return 0
	}
	return time.Duration(f.SamplesPerChannel) * time.Second / time.Duration(f.SampleRate)
}

// CombineFrames concatenates the PCM data of frames that share a sample rate
// and channel count. Used by batching recognizers that upload whole
// utterances at once.
func CombineFrames(frames []AudioFrame) (*AudioFrame, error) {
	if len(frames) == 0 {
		return nil, fmt.Errorf("no frames to combine")
	}

	sampleRate := frames[0].SampleRate
	numChannels := frames[0].NumChannels

	totalSize := 0
	totalSamples := 0
	for _, frame := range frames {
		if frame.SampleRate != sampleRate || frame.NumChannels != numChannels {
			return nil, fmt.Errorf("cannot combine frames with mixed formats: %dHz/%dch vs %dHz/%dch",
				sampleRate, numChannels, frame.SampleRate, frame.NumChannels)
		}
		totalSize += len(frame.Data)
		totalSamples += frame.SamplesPerChannel
	}

	combined := make([]byte, 0, totalSize)
	for _, frame := range frames {
		combined = append(combined, frame.Data...)
	}

	return &AudioFrame{
		Data:              combined,
		SampleRate:        sampleRate,
		SamplesPerChannel: totalSamples,
		NumChannels:       numChannels,
	}, nil
}
