package elevenlabs

import (
	"github.com/auricle-ai/auricle-go/pkg/plugin"
)

func init() {
	plugin.RegisterWithMetadata(&plugin.Plugin{
		Kind:        "tts",
		Name:        "elevenlabs",
		Description: "ElevenLabs streaming speech synthesis over websocket",
		Version:     "1.0.0",
		Config: map[string]any{
			"api_key":       "ElevenLabs API key, defaults to ELEVEN_API_KEY",
			"base_url":      defaultBaseURL,
			"voice_id":      defaultVoiceID,
			"model":         defaultModel,
			"language":      "restrict synthesis to one language code",
			"output_format": defaultOutputFormat,
		},
		Factory: func(cfg map[string]any) (any, error) {
			out := Config{}
			if v, ok := cfg["api_key"].(string); ok {
				out.APIKey = v
			}
			if v, ok := cfg["base_url"].(string); ok {
				out.BaseURL = v
			}
			if v, ok := cfg["voice_id"].(string); ok {
				out.VoiceID = v
			}
			if v, ok := cfg["model"].(string); ok {
				out.Model = v
			}
			if v, ok := cfg["language"].(string); ok {
				out.Language = v
			}
			if v, ok := cfg["output_format"].(string); ok {
				out.OutputFormat = v
			}
			return NewTTS(out)
		},
	})
}
