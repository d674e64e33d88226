package audio

import (
	"encoding/binary"
)

// Resample converts 16-bit mono PCM between sample rates by linear
// interpolation. Good enough for speech between the 48kHz webrtc rate and
// the model rates; not a band-limited resampler.
func Resample(data []byte, fromRate, toRate int) []byte {
	if fromRate == toRate || len(data) < 2 {
		return data
	}

	srcCount := len(data) / 2
	ratio := float64(toRate) / float64(fromRate)
	dstCount := int(float64(srcCount) * ratio)
	out := make([]byte, dstCount*2)

	for i := 0; i < dstCount; i++ {
		pos := float64(i) / ratio
		idx := int(pos)
		frac := pos - float64(idx)

		s0 := int16(binary.LittleEndian.Uint16(data[idx*2:]))
		s1 := s0
		if idx+1 < srcCount {
			s1 = int16(binary.LittleEndian.Uint16(data[(idx+1)*2:]))
		}

		sample := int16(float64(s0)*(1-frac) + float64(s1)*frac)
		binary.LittleEndian.PutUint16(out[i*2:], uint16(sample))
	}
	return out
}
