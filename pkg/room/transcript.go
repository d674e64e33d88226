package room

import (
	"encoding/json"
)

// TranscriptionSegment is the data-channel payload clients render as live
// captions. Participant distinguishes the user's recognized speech from the
// agent's paced transcript.
type TranscriptionSegment struct {
	ID          string `json:"id"`
	Participant string `json:"participant"`
	Text        string `json:"text"`
	Final       bool   `json:"final"`
}

type transcriptionPacket struct {
	Type    string               `json:"type"`
	Segment TranscriptionSegment `json:"segment"`
}

func (s TranscriptionSegment) marshal() ([]byte, error) {
	return json.Marshal(transcriptionPacket{Type: "transcription", Segment: s})
}
