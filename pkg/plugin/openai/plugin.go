package openai

import (
	"github.com/auricle-ai/auricle-go/pkg/plugin"
)

func init() {
	plugin.RegisterWithMetadata(&plugin.Plugin{
		Kind:        "llm",
		Name:        "openai",
		Description: "OpenAI chat completions with streaming tool calls",
		Version:     "1.0.0",
		Config: map[string]any{
			"api_key":  "OpenAI API key, defaults to OPENAI_API_KEY",
			"base_url": "override the API endpoint",
			"model":    defaultLLMModel,
		},
		Factory: func(cfg map[string]any) (any, error) {
			return NewLLM(configFromMap(cfg))
		},
	})

	plugin.RegisterWithMetadata(&plugin.Plugin{
		Kind:        "stt",
		Name:        "openai",
		Description: "Whisper batch transcription",
		Version:     "1.0.0",
		Config: map[string]any{
			"api_key":  "OpenAI API key, defaults to OPENAI_API_KEY",
			"base_url": "override the API endpoint",
			"model":    defaultSTTModel,
			"language": "hint language code, for example en",
		},
		Factory: func(cfg map[string]any) (any, error) {
			language, _ := cfg["language"].(string)
			return NewSTT(configFromMap(cfg), language)
		},
	})

	plugin.RegisterWithMetadata(&plugin.Plugin{
		Kind:        "tts",
		Name:        "openai",
		Description: "OpenAI speech synthesis, 24kHz PCM",
		Version:     "1.0.0",
		Config: map[string]any{
			"api_key":  "OpenAI API key, defaults to OPENAI_API_KEY",
			"base_url": "override the API endpoint",
			"model":    defaultTTSModel,
			"voice":    defaultVoice,
			"speed":    1.0,
		},
		Factory: func(cfg map[string]any) (any, error) {
			voice, _ := cfg["voice"].(string)
			speed, _ := cfg["speed"].(float64)
			return NewTTS(configFromMap(cfg), voice, speed)
		},
	})
}
