package room

import (
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/matryer/is"
	webrtcmedia "github.com/pion/webrtc/v3/pkg/media"
)

func TestGateTogglesDiscard(t *testing.T) {
	is := is.New(t)

	gate := &AudioGate{}
	is.True(!gate.Closed())

	gate.SetClosed(true)
	is.True(gate.Closed())

	gate.SetClosed(false)
	is.True(!gate.Closed())
}

func TestSampleProviderDeliversInOrder(t *testing.T) {
	is := is.New(t)

	p := newSampleProvider(context.Background())
	defer p.close()

	go func() {
		p.queue(webrtcmedia.Sample{Data: []byte{1}, Duration: opusFrameDuration})
		p.queue(webrtcmedia.Sample{Data: []byte{2}, Duration: opusFrameDuration})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	sample, err := p.NextSample(ctx)
	is.NoErr(err)
	is.Equal(sample.Data, []byte{1})

	sample, err = p.NextSample(ctx)
	is.NoErr(err)
	is.Equal(sample.Data, []byte{2})
}

func TestSampleProviderEOFAfterClose(t *testing.T) {
	is := is.New(t)

	p := newSampleProvider(context.Background())
	p.close()

	_, err := p.NextSample(context.Background())
	is.Equal(err, io.EOF)

	is.True(p.queue(webrtcmedia.Sample{}) != nil)
}

func TestSampleProviderQueueBlocksWhenFull(t *testing.T) {
	is := is.New(t)

	p := newSampleProvider(context.Background())
	defer p.close()

	for i := 0; i < cap(p.samples); i++ {
		is.NoErr(p.queue(webrtcmedia.Sample{Duration: opusFrameDuration}))
	}

	blocked := make(chan error, 1)
	go func() {
		blocked <- p.queue(webrtcmedia.Sample{Duration: opusFrameDuration})
	}()

	select {
	case <-blocked:
		t.Fatal("queue did not block on a full provider")
	case <-time.After(50 * time.Millisecond):
	}

	_, err := p.NextSample(context.Background())
	is.NoErr(err)
	is.NoErr(<-blocked)
}

func TestTranscriptionSegmentPayload(t *testing.T) {
	is := is.New(t)

	payload, err := TranscriptionSegment{
		ID:          "seg-1",
		Participant: "agent",
		Text:        "hello there",
		Final:       true,
	}.marshal()
	is.NoErr(err)

	var packet transcriptionPacket
	is.NoErr(json.Unmarshal(payload, &packet))
	is.Equal(packet.Type, "transcription")
	is.Equal(packet.Segment.Text, "hello there")
	is.True(packet.Segment.Final)
}

func TestNewRoomValidatesConfig(t *testing.T) {
	is := is.New(t)

	_, err := NewRoom(Config{Token: "tok"})
	is.True(err != nil)

	_, err = NewRoom(Config{URL: "wss://host"})
	is.True(err != nil)

	r, err := NewRoom(Config{URL: "wss://host", Token: "tok"})
	is.NoErr(err)
	is.Equal(r.cfg.SampleRate, 16000)
}
