package room

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/hraban/opus"
	lksdk "github.com/livekit/server-sdk-go"
	"github.com/pion/webrtc/v3"
	webrtcmedia "github.com/pion/webrtc/v3/pkg/media"

	"github.com/auricle-ai/auricle-go/pkg/audio"
	"github.com/auricle-ai/auricle-go/pkg/rtc"
)

// opus frames on the wire are 20ms.
const (
	opusFrameSamples  = webrtcSampleRate / 50
	opusFrameDuration = 20 * time.Millisecond
)

// TrackSink publishes pipeline audio on a local opus track. CaptureFrame
// blocks when the track is far enough ahead, which is the backpressure the
// playout relies on for pacing.
type TrackSink struct {
	track    *lksdk.LocalSampleTrack
	provider *sampleProvider
	encoder  *opus.Encoder

	mu     sync.Mutex
	pcm    []int16
	packet []byte
	closed bool
}

func newTrackSink(ctx context.Context) (*TrackSink, error) {
	track, err := lksdk.NewLocalSampleTrack(webrtc.RTPCodecCapability{
		MimeType: webrtc.MimeTypeOpus,
	})
	if err != nil {
		return nil, fmt.Errorf("room: creating voice track: %w", err)
	}

	encoder, err := opus.NewEncoder(webrtcSampleRate, 1, opus.AppVoIP)
	if err != nil {
		return nil, fmt.Errorf("room: creating opus encoder: %w", err)
	}

	provider := newSampleProvider(ctx)
	if err := track.StartWrite(provider, func() {}); err != nil {
		return nil, fmt.Errorf("room: starting track write: %w", err)
	}

	return &TrackSink{
		track:    track,
		provider: provider,
		encoder:  encoder,
		packet:   make([]byte, 4000),
	}, nil
}

// CaptureFrame encodes and queues one PCM frame. Input frames may be at any
// rate; they are resampled to the webrtc clock rate.
func (s *TrackSink) CaptureFrame(frame *rtc.AudioFrame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("room: sink closed")
	}

	data := audio.Resample(frame.Data, frame.SampleRate, webrtcSampleRate)
	s.pcm = append(s.pcm, bytesToInt16(data)...)

	for len(s.pcm) >= opusFrameSamples {
		chunk := s.pcm[:opusFrameSamples]
		s.pcm = s.pcm[opusFrameSamples:]

		n, err := s.encoder.Encode(chunk, s.packet)
		if err != nil {
			return fmt.Errorf("room: opus encode: %w", err)
		}
		payload := make([]byte, n)
		copy(payload, s.packet[:n])

		if err := s.provider.queue(webrtcmedia.Sample{
			Data:     payload,
			Duration: opusFrameDuration,
		}); err != nil {
			return err
		}
	}
	return nil
}

// Close stops the sample provider; the track sends silence afterwards.
func (s *TrackSink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.provider.close()
}

// sampleProvider hands queued opus packets to the local track. The queue is
// short on purpose so a burst of synthesis cannot run far ahead of playout.
type sampleProvider struct {
	ctx     context.Context
	samples chan webrtcmedia.Sample
	done    chan struct{}
	once    sync.Once
}

func newSampleProvider(ctx context.Context) *sampleProvider {
	return &sampleProvider{
		ctx:     ctx,
		samples: make(chan webrtcmedia.Sample, 5),
		done:    make(chan struct{}),
	}
}

func (p *sampleProvider) queue(sample webrtcmedia.Sample) error {
	select {
	case p.samples <- sample:
		return nil
	case <-p.done:
		return errors.New("room: sink closed")
	case <-p.ctx.Done():
		return p.ctx.Err()
	}
}

func (p *sampleProvider) NextSample(ctx context.Context) (webrtcmedia.Sample, error) {
	select {
	case sample := <-p.samples:
		return sample, nil
	case <-p.done:
		return webrtcmedia.Sample{}, io.EOF
	case <-p.ctx.Done():
		return webrtcmedia.Sample{}, p.ctx.Err()
	case <-ctx.Done():
		return webrtcmedia.Sample{}, ctx.Err()
	}
}

func (p *sampleProvider) OnBind() error   { return nil }
func (p *sampleProvider) OnUnbind() error { return nil }

func (p *sampleProvider) Close() error {
	p.close()
	return nil
}

func (p *sampleProvider) close() {
	p.once.Do(func() { close(p.done) })
}

func bytesToInt16(data []byte) []int16 {
	out := make([]int16, len(data)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return out
}
