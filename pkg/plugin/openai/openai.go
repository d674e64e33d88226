// Package openai provides OpenAI-backed providers: streaming chat
// completions with tool calls, Whisper batch recognition, and speech
// synthesis.
package openai

import (
	"errors"
	"fmt"
	"os"

	goopenai "github.com/sashabaranov/go-openai"

	"github.com/auricle-ai/auricle-go/pkg/ai"
)

const (
	defaultLLMModel = "gpt-4o-mini"
	defaultSTTModel = "whisper-1"
	defaultTTSModel = "tts-1"
	defaultVoice    = "alloy"
)

// Config holds the shared OpenAI settings.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
}

func (c Config) resolve(defaultModel string) (Config, error) {
	if c.APIKey == "" {
		c.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if c.APIKey == "" {
		return c, errors.New("openai: missing api key (set OPENAI_API_KEY or provide api_key)")
	}
	if c.Model == "" {
		c.Model = defaultModel
	}
	return c, nil
}

func (c Config) client() *goopenai.Client {
	if c.BaseURL != "" {
		cfg := goopenai.DefaultConfig(c.APIKey)
		cfg.BaseURL = c.BaseURL
		return goopenai.NewClientWithConfig(cfg)
	}
	return goopenai.NewClient(c.APIKey)
}

func configFromMap(cfg map[string]any) Config {
	out := Config{}
	if v, ok := cfg["api_key"].(string); ok {
		out.APIKey = v
	}
	if v, ok := cfg["base_url"].(string); ok {
		out.BaseURL = v
	}
	if v, ok := cfg["model"].(string); ok {
		out.Model = v
	}
	return out
}

// wrapError maps SDK failures onto the shared retry taxonomy.
func wrapError(op string, err error) error {
	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) {
		return ai.NewAPIStatusError(fmt.Sprintf("openai: %s failed", op), apiErr.HTTPStatusCode, err)
	}
	var reqErr *goopenai.RequestError
	if errors.As(err, &reqErr) {
		return ai.NewAPIStatusError(fmt.Sprintf("openai: %s failed", op), reqErr.HTTPStatusCode, err)
	}
	return ai.NewRetryableAPIError(fmt.Sprintf("openai: %s failed", op), err)
}
