// Package config loads YAML agent configuration: pipeline tuning, provider
// selection, and worker connection settings. API keys stay in the
// environment and are resolved by the provider plugins themselves.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/auricle-ai/auricle-go/pkg/ai/llm"
	"github.com/auricle-ai/auricle-go/pkg/ai/stt"
	"github.com/auricle-ai/auricle-go/pkg/ai/tts"
	"github.com/auricle-ai/auricle-go/pkg/ai/vad"
	"github.com/auricle-ai/auricle-go/pkg/pipeline"
	"github.com/auricle-ai/auricle-go/pkg/plugin"
)

// Duration parses YAML values like "500ms" or "6s".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parsing duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) or(fallback time.Duration) time.Duration {
	if d == 0 {
		return fallback
	}
	return time.Duration(d)
}

// Agent tunes the voice pipeline. Zero values keep the pipeline defaults.
type Agent struct {
	AllowInterruptions      *bool    `yaml:"allow_interruptions"`
	InterruptSpeechDuration Duration `yaml:"interrupt_speech_duration"`
	InterruptMinWords       int      `yaml:"interrupt_min_words"`
	MinEndpointingDelay     Duration `yaml:"min_endpointing_delay"`
	MaxEndpointingDelay     Duration `yaml:"max_endpointing_delay"`
	MaxNestedFunctionCalls  int      `yaml:"max_nested_function_calls"`
	PreemptiveSynthesis     bool     `yaml:"preemptive_synthesis"`
	Language                string   `yaml:"language"`
	SystemPrompt            string   `yaml:"system_prompt"`

	Transcription Transcription `yaml:"transcription"`
}

// Transcription controls transcript forwarding.
type Transcription struct {
	User       *bool   `yaml:"user"`
	Agent      *bool   `yaml:"agent"`
	AgentSpeed float64 `yaml:"agent_speed"`
}

// Provider selects a registered plugin by name with its plugin-specific
// settings.
type Provider struct {
	Name    string         `yaml:"name"`
	Options map[string]any `yaml:"options"`
}

// Providers names one plugin per pipeline stage.
type Providers struct {
	VAD Provider `yaml:"vad"`
	STT Provider `yaml:"stt"`
	LLM Provider `yaml:"llm"`
	TTS Provider `yaml:"tts"`
}

// Worker holds dispatch connection settings.
type Worker struct {
	URL       string `yaml:"url"`
	Token     string `yaml:"token"`
	AgentName string `yaml:"agent_name"`
	MaxJobs   int    `yaml:"max_jobs"`
}

// Config is the root of the YAML file.
type Config struct {
	Agent     Agent     `yaml:"agent"`
	Providers Providers `yaml:"providers"`
	Worker    Worker    `yaml:"worker"`
}

// Default returns a config that builds a working agent once provider names
// are filled in.
func Default() *Config {
	return &Config{
		Providers: Providers{
			VAD: Provider{Name: "silero"},
			STT: Provider{Name: "openai"},
			LLM: Provider{Name: "openai"},
			TTS: Provider{Name: "elevenlabs"},
		},
	}
}

// Load reads and parses a YAML config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML on top of the defaults.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return cfg, nil
}

// AgentOptions converts the agent section into pipeline options. Unset
// fields produce no option so the pipeline defaults apply.
func (c *Config) AgentOptions() []pipeline.Option {
	a := c.Agent
	var opts []pipeline.Option

	if a.AllowInterruptions != nil {
		opts = append(opts, pipeline.WithAllowInterruptions(*a.AllowInterruptions))
	}
	if a.InterruptSpeechDuration != 0 {
		opts = append(opts, pipeline.WithInterruptSpeechDuration(time.Duration(a.InterruptSpeechDuration)))
	}
	if a.InterruptMinWords > 0 {
		opts = append(opts, pipeline.WithInterruptMinWords(a.InterruptMinWords))
	}
	if a.MinEndpointingDelay != 0 || a.MaxEndpointingDelay != 0 {
		opts = append(opts, pipeline.WithEndpointingDelay(
			a.MinEndpointingDelay.or(500*time.Millisecond),
			a.MaxEndpointingDelay.or(6*time.Second),
		))
	}
	if a.MaxNestedFunctionCalls > 0 {
		opts = append(opts, pipeline.WithMaxNestedFunctionCalls(a.MaxNestedFunctionCalls))
	}
	if a.PreemptiveSynthesis {
		opts = append(opts, pipeline.WithPreemptiveSynthesis(true))
	}
	if a.Language != "" {
		opts = append(opts, pipeline.WithLanguage(a.Language))
	}
	if a.SystemPrompt != "" {
		chatCtx := llm.NewChatContext()
		chatCtx.AppendMessage(llm.RoleSystem, a.SystemPrompt)
		opts = append(opts, pipeline.WithChatContext(chatCtx))
	}

	t := a.Transcription
	if t.User != nil || t.Agent != nil || t.AgentSpeed > 0 {
		topts := pipeline.TranscriptionOptions{
			UserTranscription:       t.User == nil || *t.User,
			AgentTranscription:      t.Agent == nil || *t.Agent,
			AgentTranscriptionSpeed: t.AgentSpeed,
		}
		opts = append(opts, pipeline.WithTranscriptionOptions(topts))
	}

	return opts
}

// BuildProviders instantiates the configured plugins through the registry.
func (c *Config) BuildProviders() (vad.VAD, stt.STT, llm.LLM, tts.TTS, error) {
	v, err := build[vad.VAD]("vad", c.Providers.VAD)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	s, err := build[stt.STT]("stt", c.Providers.STT)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	l, err := build[llm.LLM]("llm", c.Providers.LLM)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	t, err := build[tts.TTS]("tts", c.Providers.TTS)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	return v, s, l, t, nil
}

func build[T any](kind string, p Provider) (T, error) {
	var zero T
	if p.Name == "" {
		return zero, fmt.Errorf("no %s provider configured", kind)
	}
	factory, ok := plugin.Get(kind, p.Name)
	if !ok {
		return zero, fmt.Errorf("unknown %s provider %q", kind, p.Name)
	}
	instance, err := factory(p.Options)
	if err != nil {
		return zero, fmt.Errorf("creating %s provider %q: %w", kind, p.Name, err)
	}
	typed, ok := instance.(T)
	if !ok {
		return zero, fmt.Errorf("%s provider %q has the wrong type %T", kind, p.Name, instance)
	}
	return typed, nil
}
