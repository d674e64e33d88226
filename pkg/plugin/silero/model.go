package silero

import (
	"fmt"
	"os"
	"runtime"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/auricle-ai/auricle-go/pkg/internal/onnxenv"
)

// The Silero model is stateful: each call consumes one fixed window of
// samples plus the recurrent state from the previous call.
const (
	stateSize = 2 * 1 * 128

	windowSize16k = 512
	windowSize8k  = 256
)

// inference scores windows of float32 samples in [-1, 1]. Implementations
// keep the recurrent state between calls; reset clears it.
type inference interface {
	windowSize() int
	infer(window []float32) (float32, error)
	reset()
	destroy()
}

type model struct {
	session    *ort.DynamicAdvancedSession
	sampleRate int64
	state      []float32
}

func loadModel(modelFile string, sampleRate int) (*model, error) {
	if _, err := os.Stat(modelFile); os.IsNotExist(err) {
		return nil, fmt.Errorf("silero: model file not found: %s (run 'auricle plugin download' first)", modelFile)
	}
	if err := onnxenv.Ensure(); err != nil {
		return nil, fmt.Errorf("silero: initializing onnxruntime: %w", err)
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("silero: creating session options: %w", err)
	}
	defer options.Destroy()

	if err := options.SetIntraOpNumThreads(max(1, runtime.NumCPU()/2)); err != nil {
		return nil, fmt.Errorf("silero: setting intra-op threads: %w", err)
	}
	if err := options.SetInterOpNumThreads(1); err != nil {
		return nil, fmt.Errorf("silero: setting inter-op threads: %w", err)
	}

	session, err := ort.NewDynamicAdvancedSession(
		modelFile,
		[]string{"input", "state", "sr"},
		[]string{"output", "stateN"},
		options,
	)
	if err != nil {
		return nil, fmt.Errorf("silero: creating session: %w", err)
	}

	return &model{
		session:    session,
		sampleRate: int64(sampleRate),
		state:      make([]float32, stateSize),
	}, nil
}

func (m *model) windowSize() int {
	if m.sampleRate == 8000 {
		return windowSize8k
	}
	return windowSize16k
}

func (m *model) infer(window []float32) (float32, error) {
	inputTensor, err := ort.NewTensor(ort.NewShape(1, int64(len(window))), window)
	if err != nil {
		return 0, fmt.Errorf("silero: creating input tensor: %w", err)
	}
	defer inputTensor.Destroy()

	stateTensor, err := ort.NewTensor(ort.NewShape(2, 1, 128), m.state)
	if err != nil {
		return 0, fmt.Errorf("silero: creating state tensor: %w", err)
	}
	defer stateTensor.Destroy()

	srTensor, err := ort.NewTensor(ort.NewShape(1), []int64{m.sampleRate})
	if err != nil {
		return 0, fmt.Errorf("silero: creating sample-rate tensor: %w", err)
	}
	defer srTensor.Destroy()

	outputs := []ort.Value{nil, nil}
	if err := m.session.Run([]ort.Value{inputTensor, stateTensor, srTensor}, outputs); err != nil {
		return 0, fmt.Errorf("silero: running session: %w", err)
	}
	defer outputs[0].Destroy()
	defer outputs[1].Destroy()

	probTensor, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return 0, fmt.Errorf("silero: unexpected output tensor type %T", outputs[0])
	}
	probData := probTensor.GetData()
	if len(probData) == 0 {
		return 0, fmt.Errorf("silero: empty output tensor")
	}

	stateOut, ok := outputs[1].(*ort.Tensor[float32])
	if !ok {
		return 0, fmt.Errorf("silero: unexpected state tensor type %T", outputs[1])
	}
	copy(m.state, stateOut.GetData())

	prob := probData[0]
	if prob < 0 {
		prob = 0
	} else if prob > 1 {
		prob = 1
	}
	return prob, nil
}

func (m *model) reset() {
	for i := range m.state {
		m.state[i] = 0
	}
}

func (m *model) destroy() {
	if m.session != nil {
		m.session.Destroy()
		m.session = nil
	}
}
