// Package turn provides end-of-utterance detection: given the recent chat
// history, how likely is it that the user has finished their turn? The
// orchestrator uses the prediction to stretch or shrink its endpointing
// delay before replying.
package turn

import (
	"context"

	"github.com/auricle-ai/auricle-go/pkg/ai/llm"
)

// Detector predicts whether the user has finished speaking.
type Detector interface {
	// SupportsLanguage reports whether the detector has a tuned threshold
	// for the language.
	SupportsLanguage(language string) bool

	// UnlikelyThreshold returns the probability below which the turn is
	// considered unfinished for the language.
	UnlikelyThreshold(language string) (float64, error)

	// PredictEndOfTurn returns the probability in [0, 1] that the user has
	// finished their turn given the recent chat history.
	PredictEndOfTurn(ctx context.Context, chatCtx *llm.ChatContext, language string) (float64, error)
}
