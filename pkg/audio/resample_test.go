package audio

import (
	"encoding/binary"
	"testing"

	"github.com/matryer/is"
)

func pcm(samples ...int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

func TestResampleIdentity(t *testing.T) {
	is := is.New(t)

	data := pcm(1, 2, 3, 4)
	is.Equal(Resample(data, 16000, 16000), data)
}

func TestResampleHalvesSampleCount(t *testing.T) {
	is := is.New(t)

	data := pcm(100, 200, 300, 400, 500, 600, 700, 800)
	out := Resample(data, 48000, 24000)
	is.Equal(len(out), len(data)/2)

	first := int16(binary.LittleEndian.Uint16(out))
	is.Equal(first, int16(100))
}

func TestResampleDoublesSampleCount(t *testing.T) {
	is := is.New(t)

	data := pcm(0, 1000)
	out := Resample(data, 24000, 48000)
	is.Equal(len(out), 8)

	// Interpolated midpoint sits between the two source samples.
	mid := int16(binary.LittleEndian.Uint16(out[2:]))
	is.True(mid > 0 && mid < 1000)
}
