package audio

import (
	"testing"
	"time"

	"github.com/auricle-ai/auricle-go/pkg/rtc"
	"github.com/matryer/is"
)

func TestByteStream(t *testing.T) {
	is := is.New(t)

	// 16 kHz mono, 10 ms frames = 160 samples = 320 bytes.
	bs := NewByteStream(16000, 1, 0)

	frames := bs.Write(make([]byte, 100))
	is.Equal(len(frames), 0) // under one frame, buffered

	frames = bs.Write(make([]byte, 620))
	is.Equal(len(frames), 2)
	for _, f := range frames {
		is.Equal(len(f.Data), 320)
		is.Equal(f.SamplesPerChannel, 160)
		is.Equal(f.Duration(), 10*time.Millisecond)
	}

	// 720 - 640 = 80 bytes remain.
	rest := bs.Flush()
	is.Equal(len(rest), 1)
	is.Equal(len(rest[0].Data), 80)
	is.Equal(rest[0].SamplesPerChannel, 40)

	is.Equal(len(bs.Flush()), 0) // empty after flush
}

func TestByteStream_TruncatesPartialSamples(t *testing.T) {
	is := is.New(t)

	bs := NewByteStream(16000, 2, 0)
	bs.Write(make([]byte, 7)) // not a whole stereo sample

	rest := bs.Flush()
	is.Equal(len(rest), 1)
	is.Equal(len(rest[0].Data), 4) // 7 bytes → one whole 4-byte sample pair
}

func TestWAVRoundTrip(t *testing.T) {
	is := is.New(t)

	pcm := make([]byte, 640)
	for i := range pcm {
		pcm[i] = byte(i)
	}
	frame, err := rtc.NewAudioFrame(pcm, 16000, 1, 320)
	is.NoErr(err)

	decoded, err := DecodeWAV(EncodeWAV(frame))
	is.NoErr(err)
	is.Equal(decoded.SampleRate, 16000)
	is.Equal(decoded.NumChannels, 1)
	is.Equal(decoded.SamplesPerChannel, 320)
	is.Equal(decoded.Data, pcm)
}

func TestDecodeWAV_Rejects(t *testing.T) {
	is := is.New(t)

	_, err := DecodeWAV([]byte("not a wav file"))
	is.True(err != nil)

	_, err = DecodeWAV([]byte("RIFF\x00\x00\x00\x00WAVE"))
	is.True(err != nil) // no fmt/data chunks
}
