// Package room connects the voice pipeline to a LiveKit room: it
// subscribes to a participant's microphone track, feeds decoded audio to
// the agent, publishes the agent's voice on a local track, and forwards
// transcription segments over the data channel.
package room

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/livekit/protocol/livekit"
	lksdk "github.com/livekit/server-sdk-go"
	"github.com/pion/webrtc/v3"

	"github.com/auricle-ai/auricle-go/pkg/rtc"
)

// Config connects one agent to one room.
type Config struct {
	URL   string
	Token string
	Name  string

	// Participant restricts audio capture to one identity; empty links the
	// first participant that publishes a microphone track.
	Participant string

	// SampleRate of the frames delivered to the agent.
	SampleRate int
}

// Room wraps the LiveKit connection for one agent session.
type Room struct {
	cfg    Config
	gate   *AudioGate
	logger *slog.Logger

	mu        sync.Mutex
	room      *lksdk.Room
	capture   *micCapture
	connected bool

	// audioTracks delivers one capture channel per linked microphone track.
	audioTracks chan <-chan *rtc.AudioFrame
}

// NewRoom creates the wrapper. Connect establishes the connection.
func NewRoom(cfg Config) (*Room, error) {
	if cfg.URL == "" {
		return nil, errors.New("room: url is required")
	}
	if cfg.Token == "" {
		return nil, errors.New("room: token is required")
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 16000
	}
	return &Room{
		cfg:         cfg,
		gate:        &AudioGate{},
		logger:      slog.Default().With("room", cfg.Name),
		audioTracks: make(chan (<-chan *rtc.AudioFrame), 1),
	}, nil
}

// Gate returns the microphone gate.
func (r *Room) Gate() *AudioGate { return r.gate }

// Connect joins the room and begins watching for microphone tracks.
func (r *Room) Connect(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.connected {
		return errors.New("room: already connected")
	}

	callback := &lksdk.RoomCallback{
		OnParticipantConnected:    r.onParticipantConnected,
		OnParticipantDisconnected: r.onParticipantDisconnected,
		ParticipantCallback: lksdk.ParticipantCallback{
			OnTrackSubscribed:   r.onTrackSubscribed,
			OnTrackUnsubscribed: r.onTrackUnsubscribed,
		},
	}

	room, err := lksdk.ConnectToRoomWithToken(r.cfg.URL, r.cfg.Token, callback)
	if err != nil {
		return fmt.Errorf("room: connecting: %w", err)
	}
	r.room = room
	r.connected = true
	r.logger.Info("connected to room", "url", r.cfg.URL)
	return nil
}

// AudioInput blocks until the linked participant's microphone track is
// subscribed and returns its frame channel.
func (r *Room) AudioInput(ctx context.Context) (<-chan *rtc.AudioFrame, error) {
	select {
	case frames := <-r.audioTracks:
		return frames, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// PublishVoice creates and publishes the agent's audio track and returns
// the sink the playout writes into.
func (r *Room) PublishVoice(ctx context.Context) (*TrackSink, error) {
	r.mu.Lock()
	room := r.room
	r.mu.Unlock()
	if room == nil {
		return nil, errors.New("room: not connected")
	}

	sink, err := newTrackSink(ctx)
	if err != nil {
		return nil, err
	}

	if _, err := room.LocalParticipant.PublishTrack(sink.track, &lksdk.TrackPublicationOptions{
		Name:   "agent-voice",
		Source: livekit.TrackSource_MICROPHONE,
	}); err != nil {
		sink.Close()
		return nil, fmt.Errorf("room: publishing voice track: %w", err)
	}
	return sink, nil
}

// PublishTranscription sends one transcription segment over the reliable
// data channel.
func (r *Room) PublishTranscription(seg TranscriptionSegment) error {
	r.mu.Lock()
	room := r.room
	r.mu.Unlock()
	if room == nil {
		return errors.New("room: not connected")
	}
	payload, err := seg.marshal()
	if err != nil {
		return err
	}
	return room.LocalParticipant.PublishData(payload, livekit.DataPacket_RELIABLE, nil)
}

// Disconnect leaves the room and stops audio capture.
func (r *Room) Disconnect() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.connected {
		return
	}
	r.connected = false
	if r.capture != nil {
		r.capture.stop()
		r.capture = nil
	}
	if r.room != nil {
		r.room.Disconnect()
	}
	r.logger.Info("disconnected from room")
}

func (r *Room) onParticipantConnected(participant *lksdk.RemoteParticipant) {
	r.logger.Info("participant connected", "identity", participant.Identity())
}

func (r *Room) onParticipantDisconnected(participant *lksdk.RemoteParticipant) {
	r.logger.Info("participant disconnected", "identity", participant.Identity())
}

func (r *Room) onTrackSubscribed(track *webrtc.TrackRemote, publication *lksdk.RemoteTrackPublication, participant *lksdk.RemoteParticipant) {
	if publication.Kind() != lksdk.TrackKindAudio {
		return
	}
	if r.cfg.Participant != "" && participant.Identity() != r.cfg.Participant {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.capture != nil {
		return
	}

	r.logger.Info("linking microphone track",
		"identity", participant.Identity(), "track", publication.SID())

	capture := newMicCapture(track, r.gate, r.cfg.SampleRate, r.logger)
	r.capture = capture
	select {
	case r.audioTracks <- capture.frames:
	default:
	}
}

func (r *Room) onTrackUnsubscribed(track *webrtc.TrackRemote, publication *lksdk.RemoteTrackPublication, participant *lksdk.RemoteParticipant) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.capture != nil && r.capture.track == track {
		r.capture.stop()
		r.capture = nil
	}
}
