package config

import (
	"testing"
	"time"

	"github.com/matryer/is"
)

func TestParseAppliesDefaults(t *testing.T) {
	is := is.New(t)

	cfg, err := Parse([]byte("agent:\n  language: es\n"))
	is.NoErr(err)
	is.Equal(cfg.Agent.Language, "es")
	is.Equal(cfg.Providers.VAD.Name, "silero")
	is.Equal(cfg.Providers.TTS.Name, "elevenlabs")
}

func TestParseDurationsAndProviders(t *testing.T) {
	is := is.New(t)

	cfg, err := Parse([]byte(`
agent:
  allow_interruptions: false
  interrupt_speech_duration: 750ms
  min_endpointing_delay: 400ms
  max_endpointing_delay: 5s
providers:
  tts:
    name: openai
    options:
      voice: nova
worker:
  url: wss://dispatch.example.com
  agent_name: concierge
  max_jobs: 4
`))
	is.NoErr(err)
	is.Equal(*cfg.Agent.AllowInterruptions, false)
	is.Equal(time.Duration(cfg.Agent.InterruptSpeechDuration), 750*time.Millisecond)
	is.Equal(time.Duration(cfg.Agent.MaxEndpointingDelay), 5*time.Second)
	is.Equal(cfg.Providers.TTS.Name, "openai")
	is.Equal(cfg.Providers.TTS.Options["voice"], "nova")
	is.Equal(cfg.Worker.MaxJobs, 4)
}

func TestParseRejectsBadDuration(t *testing.T) {
	is := is.New(t)

	_, err := Parse([]byte("agent:\n  min_endpointing_delay: fast\n"))
	is.True(err != nil)
}

func TestAgentOptionsOmitsUnsetFields(t *testing.T) {
	is := is.New(t)

	cfg, err := Parse([]byte("agent: {}\n"))
	is.NoErr(err)
	is.Equal(len(cfg.AgentOptions()), 0)

	cfg, err = Parse([]byte("agent:\n  language: en\n  preemptive_synthesis: true\n"))
	is.NoErr(err)
	is.Equal(len(cfg.AgentOptions()), 2)
}

func TestBuildProvidersRequiresNames(t *testing.T) {
	is := is.New(t)

	cfg := &Config{}
	_, _, _, _, err := cfg.BuildProviders()
	is.True(err != nil)
}
