// Package fake provides a scriptable turn detector for tests.
package fake

import (
	"context"
	"sync"

	"github.com/auricle-ai/auricle-go/pkg/ai/llm"
)

// FakeDetector returns a fixed probability and threshold.
type FakeDetector struct {
	mu sync.Mutex

	Probability float64
	Threshold   float64
	Err         error

	// Predictions counts PredictEndOfTurn calls.
	Predictions int
}

// New creates a detector predicting the given probability against a 0.5
// threshold.
func New(probability float64) *FakeDetector {
	return &FakeDetector{Probability: probability, Threshold: 0.5}
}

func (d *FakeDetector) SupportsLanguage(language string) bool { return true }

func (d *FakeDetector) UnlikelyThreshold(language string) (float64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.Threshold, nil
}

func (d *FakeDetector) PredictEndOfTurn(ctx context.Context, chatCtx *llm.ChatContext, language string) (float64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Predictions++
	if d.Err != nil {
		return 0, d.Err
	}
	return d.Probability, nil
}
