package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/auricle-ai/auricle-go/pkg/rtc"
)

// EncodeWAV wraps a PCM frame in a RIFF/WAVE container. Upload-style
// recognition APIs require a container around raw PCM.
func EncodeWAV(frame *rtc.AudioFrame) []byte {
	var buf bytes.Buffer

	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(36+len(frame.Data)))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(&buf, binary.LittleEndian, uint16(frame.NumChannels))
	binary.Write(&buf, binary.LittleEndian, uint32(frame.SampleRate))
	byteRate := uint32(frame.SampleRate * frame.NumChannels * 2)
	binary.Write(&buf, binary.LittleEndian, byteRate)
	blockAlign := uint16(frame.NumChannels * 2)
	binary.Write(&buf, binary.LittleEndian, blockAlign)
	binary.Write(&buf, binary.LittleEndian, uint16(16)) // bits per sample

	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, uint32(len(frame.Data)))
	buf.Write(frame.Data)

	return buf.Bytes()
}

// DecodeWAV extracts 16-bit PCM from a RIFF/WAVE container.
func DecodeWAV(data []byte) (*rtc.AudioFrame, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, fmt.Errorf("audio: not a RIFF/WAVE file")
	}

	var (
		sampleRate  int
		numChannels int
		bitsPerSample int
		pcm         []byte
	)

	// Walk chunks; only "fmt " and "data" matter.
	off := 12
	for off+8 <= len(data) {
		id := string(data[off : off+4])
		size := int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		body := off + 8
		if body+size > len(data) {
			return nil, fmt.Errorf("audio: truncated %q chunk", id)
		}

		switch id {
		case "fmt ":
			if size < 16 {
				return nil, fmt.Errorf("audio: short fmt chunk")
			}
			format := binary.LittleEndian.Uint16(data[body : body+2])
			if format != 1 {
				return nil, fmt.Errorf("audio: unsupported WAV format %d, want PCM", format)
			}
			numChannels = int(binary.LittleEndian.Uint16(data[body+2 : body+4]))
			sampleRate = int(binary.LittleEndian.Uint32(data[body+4 : body+8]))
			bitsPerSample = int(binary.LittleEndian.Uint16(data[body+14 : body+16]))
		case "data":
			pcm = data[body : body+size]
		}

		// Chunks are word-aligned.
		off = body + size + size%2
	}

	if sampleRate == 0 || numChannels == 0 {
		return nil, fmt.Errorf("audio: missing fmt chunk")
	}
	if bitsPerSample != 16 {
		return nil, fmt.Errorf("audio: unsupported sample width %d bits, want 16", bitsPerSample)
	}
	if pcm == nil {
		return nil, fmt.Errorf("audio: missing data chunk")
	}

	return rtc.NewAudioFrame(pcm, sampleRate, numChannels, len(pcm)/(numChannels*2))
}
