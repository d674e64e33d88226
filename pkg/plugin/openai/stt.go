package openai

import (
	"bytes"
	"context"
	"errors"

	"github.com/google/uuid"
	goopenai "github.com/sashabaranov/go-openai"

	"github.com/auricle-ai/auricle-go/pkg/ai/stt"
	"github.com/auricle-ai/auricle-go/pkg/audio"
	"github.com/auricle-ai/auricle-go/pkg/rtc"
)

// STT transcribes whole utterances through the Whisper API. It has no
// streaming session; wrap it with stt.StreamAdapter to drive it from VAD
// segments.
type STT struct {
	client   *goopenai.Client
	model    string
	language string
}

// NewSTT creates the Whisper provider.
func NewSTT(cfg Config, language string) (*STT, error) {
	cfg, err := cfg.resolve(defaultSTTModel)
	if err != nil {
		return nil, err
	}
	return &STT{client: cfg.client(), model: cfg.Model, language: language}, nil
}

func (s *STT) Label() string { return "openai." + s.model }

func (s *STT) Capabilities() stt.Capabilities {
	return stt.Capabilities{Streaming: false, InterimResults: false}
}

func (s *STT) Recognize(ctx context.Context, frame *rtc.AudioFrame, opts stt.RecognizeOptions) (*stt.SpeechEvent, error) {
	wav := audio.EncodeWAV(frame)

	language := opts.Language
	if language == "" {
		language = s.language
	}

	resp, err := s.client.CreateTranscription(ctx, goopenai.AudioRequest{
		Model:    s.model,
		FilePath: "audio.wav",
		Reader:   bytes.NewReader(wav),
		Language: language,
	})
	if err != nil {
		return nil, wrapError("transcription", err)
	}

	return &stt.SpeechEvent{
		Type:      stt.SpeechEventFinalTranscript,
		RequestID: uuid.NewString(),
		Alternatives: []stt.SpeechData{{
			Text:       resp.Text,
			Language:   language,
			Confidence: 1,
			EndTime:    frame.Duration(),
		}},
		Usage: &stt.RecognitionUsage{AudioDuration: frame.Duration()},
	}, nil
}

func (s *STT) Stream(ctx context.Context, opts stt.RecognizeOptions) (stt.RecognizeStream, error) {
	return nil, errors.New("openai: whisper has no streaming api, wrap with stt.NewStreamAdapter")
}
