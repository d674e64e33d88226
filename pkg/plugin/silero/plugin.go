package silero

import (
	"time"

	"github.com/auricle-ai/auricle-go/pkg/plugin"
)

func init() {
	plugin.RegisterWithMetadata(&plugin.Plugin{
		Kind:        "vad",
		Name:        "silero",
		Description: "Silero voice activity detection through the ONNX runtime",
		Version:     "1.0.0",
		Config: map[string]any{
			"activation_threshold": defaultActivationThreshold,
			"min_speech_ms":        int(defaultMinSpeechDuration / time.Millisecond),
			"min_silence_ms":       int(defaultMinSilenceDuration / time.Millisecond),
			"prefix_padding_ms":    int(defaultPrefixPaddingDuration / time.Millisecond),
			"sample_rate":          defaultSampleRate,
			"model_path":           "model directory, defaults to AURICLE_MODEL_PATH",
		},
		Downloader: NewDownloader(""),
		Factory: func(cfg map[string]any) (any, error) {
			var opts []Option
			if v, ok := cfg["activation_threshold"].(float64); ok {
				opts = append(opts, WithActivationThreshold(v))
			}
			if v, ok := cfg["min_speech_ms"].(int); ok {
				opts = append(opts, WithMinSpeechDuration(time.Duration(v)*time.Millisecond))
			}
			if v, ok := cfg["min_silence_ms"].(int); ok {
				opts = append(opts, WithMinSilenceDuration(time.Duration(v)*time.Millisecond))
			}
			if v, ok := cfg["prefix_padding_ms"].(int); ok {
				opts = append(opts, WithPrefixPaddingDuration(time.Duration(v)*time.Millisecond))
			}
			if v, ok := cfg["sample_rate"].(int); ok {
				opts = append(opts, WithSampleRate(v))
			}
			if v, ok := cfg["model_path"].(string); ok {
				opts = append(opts, WithModelPath(v))
			}
			return New(opts...), nil
		},
	})
}
