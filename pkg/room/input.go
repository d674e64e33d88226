package room

import (
	"encoding/binary"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/hraban/opus"
	"github.com/pion/webrtc/v3"

	"github.com/auricle-ai/auricle-go/pkg/audio"
	"github.com/auricle-ai/auricle-go/pkg/rtc"
)

// Browsers publish opus at the webrtc clock rate.
const webrtcSampleRate = 48000

// micCapture reads RTP from one remote audio track, decodes the opus
// payload, resamples to the pipeline rate and emits fixed 10ms frames.
// Frames are dropped while the gate is closed.
type micCapture struct {
	track      *webrtc.TrackRemote
	gate       *AudioGate
	sampleRate int
	logger     *slog.Logger

	frames  chan *rtc.AudioFrame
	stopped chan struct{}
}

func newMicCapture(track *webrtc.TrackRemote, gate *AudioGate, sampleRate int, logger *slog.Logger) *micCapture {
	c := &micCapture{
		track:      track,
		gate:       gate,
		sampleRate: sampleRate,
		logger:     logger,
		frames:     make(chan *rtc.AudioFrame, 256),
		stopped:    make(chan struct{}),
	}
	go c.run()
	return c
}

func (c *micCapture) stop() {
	select {
	case <-c.stopped:
	default:
		close(c.stopped)
	}
}

func (c *micCapture) run() {
	defer close(c.frames)

	decoder, err := opus.NewDecoder(webrtcSampleRate, 1)
	if err != nil {
		c.logger.Error("creating opus decoder failed", "error", err)
		return
	}

	stream := audio.NewByteStream(c.sampleRate, 1, 10*time.Millisecond)
	// 120ms at 48kHz, the largest opus frame.
	pcm := make([]int16, 5760)

	for {
		select {
		case <-c.stopped:
			return
		default:
		}

		packet, _, err := c.track.ReadRTP()
		if err != nil {
			if errors.Is(err, io.EOF) {
				c.logger.Debug("microphone track ended")
			} else {
				c.logger.Warn("reading rtp failed", "error", err)
			}
			return
		}
		if len(packet.Payload) == 0 {
			continue
		}

		n, err := decoder.Decode(packet.Payload, pcm)
		if err != nil {
			c.logger.Warn("opus decode failed", "error", err)
			continue
		}
		if n == 0 {
			continue
		}

		if c.gate.Closed() {
			continue
		}

		data := int16ToBytes(pcm[:n])
		data = audio.Resample(data, webrtcSampleRate, c.sampleRate)
		for _, frame := range stream.Write(data) {
			select {
			case c.frames <- frame:
			case <-c.stopped:
				return
			}
		}
	}
}

func int16ToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}
