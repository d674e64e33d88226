package turn

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/sugarme/tokenizer"
	"github.com/sugarme/tokenizer/pretrained"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/auricle-ai/auricle-go/pkg/ai/llm"
	"github.com/auricle-ai/auricle-go/pkg/turn/internal"
)

const (
	modelFileRel = "onnx/model_q8.onnx"

	// The model was trained on a fixed window: at most this many tokens,
	// left-truncated, from at most maxChatTurns recent messages.
	maxInputTokens = 128
	maxChatTurns   = 6
)

// ONNXDetector runs end-of-utterance inference locally with an ONNX model.
// Model, tokenizer and threshold table are loaded lazily on first use.
type ONNXDetector struct {
	modelInfo internal.ModelInfo
	modelPath string

	sessionOnce sync.Once
	session     *ort.DynamicAdvancedSession
	sessionErr  error

	tokenizerOnce sync.Once
	tokenizer     *tokenizer.Tokenizer
	tokenizerErr  error

	languagesOnce sync.Once
	languages     map[string]float64
	languagesErr  error
}

// NewONNXDetector creates a local detector for the named model
// ("english" or "multilingual"). An empty modelPath selects the default
// model directory.
func NewONNXDetector(modelName, modelPath string) (*ONNXDetector, error) {
	var modelInfo internal.ModelInfo
	found := false
	for _, model := range internal.AllModels {
		if model.Name == modelName {
			modelInfo = model
			found = true
			break
		}
	}
	if !found {
		return nil, fmt.Errorf("turn: unknown model %q", modelName)
	}

	if modelPath == "" {
		modelPath = DefaultModelPath()
	}
	return &ONNXDetector{modelInfo: modelInfo, modelPath: modelPath}, nil
}

func (d *ONNXDetector) SupportsLanguage(language string) bool {
	if err := d.loadLanguages(); err != nil {
		return false
	}
	_, ok := d.languages[language]
	return ok
}

func (d *ONNXDetector) UnlikelyThreshold(language string) (float64, error) {
	if err := d.loadLanguages(); err != nil {
		return 0, err
	}
	threshold, ok := d.languages[language]
	if !ok {
		return 0, fmt.Errorf("turn: unsupported language %q", language)
	}
	return threshold, nil
}

func (d *ONNXDetector) PredictEndOfTurn(ctx context.Context, chatCtx *llm.ChatContext, language string) (float64, error) {
	start := time.Now()

	if err := d.loadSession(); err != nil {
		return 0, fmt.Errorf("turn: loading session: %w", err)
	}
	if err := d.loadTokenizer(); err != nil {
		return 0, fmt.Errorf("turn: loading tokenizer: %w", err)
	}

	tokens, err := d.tokenizeChat(chatCtx)
	if err != nil {
		return 0, fmt.Errorf("turn: tokenizing chat: %w", err)
	}
	if len(tokens) == 0 {
		return 0.5, nil
	}

	probability, err := d.runInference(ctx, tokens)
	if err != nil {
		return 0, fmt.Errorf("turn: inference: %w", err)
	}

	if latency := time.Since(start); latency > 25*time.Millisecond {
		slog.Debug("slow turn-detector inference", "latency", latency)
	}
	return probability, nil
}

func (d *ONNXDetector) loadSession() error {
	d.sessionOnce.Do(func() {
		modelFile := internal.ModelFilePath(d.modelPath, d.modelInfo.Revision, modelFileRel)
		if _, err := os.Stat(modelFile); os.IsNotExist(err) {
			d.sessionErr = fmt.Errorf("model file not found: %s (run 'auricle turn download-models' first)", modelFile)
			return
		}

		if err := ensureOrtEnv(); err != nil {
			d.sessionErr = fmt.Errorf("initializing onnxruntime: %w", err)
			return
		}

		options, err := ort.NewSessionOptions()
		if err != nil {
			d.sessionErr = fmt.Errorf("creating session options: %w", err)
			return
		}
		defer options.Destroy()

		if err := options.SetIntraOpNumThreads(max(1, runtime.NumCPU()/2)); err != nil {
			d.sessionErr = fmt.Errorf("setting intra-op threads: %w", err)
			return
		}
		if err := options.SetInterOpNumThreads(1); err != nil {
			d.sessionErr = fmt.Errorf("setting inter-op threads: %w", err)
			return
		}
		if err := options.AddSessionConfigEntry("session.dynamic_block_base", "4"); err != nil {
			d.sessionErr = fmt.Errorf("setting dynamic block base: %w", err)
			return
		}

		d.session, d.sessionErr = ort.NewDynamicAdvancedSession(
			modelFile,
			[]string{"input_ids"},
			[]string{"logits"},
			options,
		)
	})
	return d.sessionErr
}

func (d *ONNXDetector) loadTokenizer() error {
	d.tokenizerOnce.Do(func() {
		tokenizerFile := internal.ModelFilePath(d.modelPath, d.modelInfo.Revision, "tokenizer.json")
		if _, err := os.Stat(tokenizerFile); os.IsNotExist(err) {
			d.tokenizerErr = fmt.Errorf("tokenizer file not found: %s (run 'auricle turn download-models' first)", tokenizerFile)
			return
		}
		d.tokenizer, d.tokenizerErr = pretrained.FromFile(tokenizerFile)
	})
	return d.tokenizerErr
}

func (d *ONNXDetector) loadLanguages() error {
	d.languagesOnce.Do(func() {
		langFile := internal.ModelFilePath(d.modelPath, d.modelInfo.Revision, "languages.json")
		file, err := os.Open(langFile)
		if err != nil {
			d.languagesErr = fmt.Errorf("turn: opening languages.json: %w", err)
			return
		}
		defer file.Close()

		if err := json.NewDecoder(file).Decode(&d.languages); err != nil {
			d.languagesErr = fmt.Errorf("turn: decoding languages.json: %w", err)
		}
	})
	return d.languagesErr
}

// tokenizeChat renders the recent history with the model's chat template and
// tokenizes it, left-truncated to the trained window.
func (d *ONNXDetector) tokenizeChat(chatCtx *llm.ChatContext) ([]int64, error) {
	messages := chatCtx.Messages
	if len(messages) > maxChatTurns {
		messages = messages[len(messages)-maxChatTurns:]
	}

	// Template from the model config:
	// <|im_start|><|role|>content<|im_end|> per message.
	var chatText string
	for _, msg := range messages {
		if msg.Content == "" {
			continue
		}
		chatText += fmt.Sprintf("<|im_start|><|%s|>%s<|im_end|>", string(msg.Role), msg.Content)
	}

	encoding, err := d.tokenizer.EncodeSingle(chatText, false)
	if err != nil {
		return nil, err
	}

	ids := encoding.GetIds()
	if len(ids) > maxInputTokens {
		ids = ids[len(ids)-maxInputTokens:]
	}

	out := make([]int64, len(ids))
	for i, id := range ids {
		out[i] = int64(id)
	}
	return out, nil
}

func (d *ONNXDetector) runInference(ctx context.Context, tokens []int64) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	inputShape := ort.NewShape(1, int64(len(tokens)))
	inputTensor, err := ort.NewTensor(inputShape, tokens)
	if err != nil {
		return 0, fmt.Errorf("creating input tensor: %w", err)
	}
	defer inputTensor.Destroy()

	outputs := []ort.Value{nil}
	if err := d.session.Run([]ort.Value{inputTensor}, outputs); err != nil {
		return 0, fmt.Errorf("running session: %w", err)
	}
	defer outputs[0].Destroy()

	outputTensor, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return 0, fmt.Errorf("unexpected output tensor type %T", outputs[0])
	}
	data := outputTensor.GetData()
	if len(data) == 0 {
		return 0, fmt.Errorf("empty output tensor")
	}

	prob := float64(data[0])
	if prob < 0 {
		prob = 0
	} else if prob > 1 {
		prob = 1
	}
	return prob, nil
}

// DefaultModelPath returns where models are stored unless overridden.
func DefaultModelPath() string {
	if path := os.Getenv("AURICLE_MODEL_PATH"); path != "" {
		return path
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "auricle-models")
	}
	return filepath.Join(homeDir, ".auricle", "models")
}
