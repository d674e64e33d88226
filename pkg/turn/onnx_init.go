package turn

import (
	"github.com/auricle-ai/auricle-go/pkg/internal/onnxenv"
)

func ensureOrtEnv() error {
	return onnxenv.Ensure()
}
