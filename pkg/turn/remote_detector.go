package turn

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/auricle-ai/auricle-go/pkg/ai/llm"
)

// RemoteDetector delegates end-of-utterance prediction to an HTTP inference
// endpoint, falling back to a local detector when the endpoint fails.
type RemoteDetector struct {
	endpoint   string
	httpClient *http.Client
	fallback   Detector
}

// NewRemoteDetector creates a remote detector. fallback may be nil.
func NewRemoteDetector(endpoint string, fallback Detector) *RemoteDetector {
	return &RemoteDetector{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: 2 * time.Second},
		fallback:   fallback,
	}
}

type remoteMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type remoteRequest struct {
	Messages []remoteMessage `json:"messages"`
	Language string          `json:"language,omitempty"`
}

type remoteResponse struct {
	Probability float64 `json:"eou_probability"`
	Error       string  `json:"error,omitempty"`
}

func (d *RemoteDetector) SupportsLanguage(language string) bool {
	if d.fallback != nil {
		return d.fallback.SupportsLanguage(language)
	}
	return true
}

func (d *RemoteDetector) UnlikelyThreshold(language string) (float64, error) {
	if d.fallback != nil {
		return d.fallback.UnlikelyThreshold(language)
	}
	switch language {
	case "en", "en-US", "en-GB":
		return 0.85, nil
	default:
		return 0.80, nil
	}
}

func (d *RemoteDetector) PredictEndOfTurn(ctx context.Context, chatCtx *llm.ChatContext, language string) (float64, error) {
	payload := remoteRequest{Language: language}
	for _, msg := range chatCtx.Messages {
		if msg.Content == "" {
			continue
		}
		payload.Messages = append(payload.Messages, remoteMessage{
			Role:    string(msg.Role),
			Content: msg.Content,
		})
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return d.fallbackPredict(ctx, chatCtx, language, fmt.Errorf("marshaling request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, bytes.NewReader(body))
	if err != nil {
		return d.fallbackPredict(ctx, chatCtx, language, fmt.Errorf("creating request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return d.fallbackPredict(ctx, chatCtx, language, fmt.Errorf("http request: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return d.fallbackPredict(ctx, chatCtx, language, fmt.Errorf("http %d: %s", resp.StatusCode, msg))
	}

	var out remoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return d.fallbackPredict(ctx, chatCtx, language, fmt.Errorf("decoding response: %w", err))
	}
	if out.Error != "" {
		return d.fallbackPredict(ctx, chatCtx, language, fmt.Errorf("remote error: %s", out.Error))
	}
	if out.Probability < 0 || out.Probability > 1 {
		return d.fallbackPredict(ctx, chatCtx, language, fmt.Errorf("probability %f out of range", out.Probability))
	}
	return out.Probability, nil
}

func (d *RemoteDetector) fallbackPredict(ctx context.Context, chatCtx *llm.ChatContext, language string, cause error) (float64, error) {
	if d.fallback == nil {
		return 0, fmt.Errorf("turn: remote prediction failed with no fallback: %w", cause)
	}
	slog.Warn("remote turn detection failed, using fallback", "error", cause)
	return d.fallback.PredictEndOfTurn(ctx, chatCtx, language)
}
