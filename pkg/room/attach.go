package room

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/auricle-ai/auricle-go/pkg/pipeline"
	"github.com/auricle-ai/auricle-go/pkg/transcription"
)

// Attach wires the agent to the room: microphone frames in, synthesized
// voice out, and the microphone gate closed while uninterruptible speech
// plays. It blocks until the linked participant publishes audio, then
// starts the agent.
func Attach(ctx context.Context, r *Room, agent *pipeline.VoicePipelineAgent) (*TrackSink, error) {
	frames, err := r.AudioInput(ctx)
	if err != nil {
		return nil, err
	}

	sink, err := r.PublishVoice(ctx)
	if err != nil {
		return nil, err
	}

	gate := r.Gate()
	agent.On(pipeline.EventAgentStartedSpeaking, func(any) {
		gate.SetClosed(agent.PlayingUninterruptible())
	})
	agent.On(pipeline.EventAgentStoppedSpeaking, func(any) {
		gate.SetClosed(false)
	})

	if err := agent.Start(ctx, frames, sink); err != nil {
		sink.Close()
		return nil, err
	}
	return sink, nil
}

// TranscriptionOptions returns pipeline options that forward both sides of
// the conversation to the room's data channel.
func (r *Room) TranscriptionOptions(userIdentity, agentIdentity string) []pipeline.Option {
	return []pipeline.Option{
		pipeline.WithUserTranscriptHandler(func(text string, final bool) {
			r.publishSegment(TranscriptionSegment{
				ID:          uuid.NewString(),
				Participant: userIdentity,
				Text:        text,
				Final:       final,
			})
		}),
		pipeline.WithAgentTranscriptHandler(func(seg transcription.Segment) {
			r.publishSegment(TranscriptionSegment{
				ID:          seg.ID,
				Participant: agentIdentity,
				Text:        seg.Text,
				Final:       seg.Final,
			})
		}),
	}
}

func (r *Room) publishSegment(seg TranscriptionSegment) {
	if err := r.PublishTranscription(seg); err != nil {
		slog.Warn("publishing transcription failed", "error", err)
	}
}
