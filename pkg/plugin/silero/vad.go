// Package silero runs the Silero voice activity detection model locally
// through the ONNX runtime. The detector scores fixed windows of audio and
// turns the probabilities into start and end of speech decisions with
// hysteresis, so a single noisy window does not flip the state.
package silero

import (
	"os"
	"path/filepath"
	"time"

	"github.com/auricle-ai/auricle-go/pkg/ai/vad"
)

// ModelFileName is the ONNX model file expected under the model path.
const ModelFileName = "silero_vad.onnx"

const (
	defaultActivationThreshold = 0.5
	// Once speaking, the bar to stay speaking is lower than the bar to
	// start. This keeps brief dips mid-sentence from splitting utterances.
	deactivationOffset = 0.15

	defaultMinSpeechDuration     = 50 * time.Millisecond
	defaultMinSilenceDuration    = 550 * time.Millisecond
	defaultPrefixPaddingDuration = 500 * time.Millisecond
	defaultMaxBufferedSpeech     = 60 * time.Second
	defaultSampleRate            = 16000
)

type options struct {
	activationThreshold float64
	minSpeechDuration   time.Duration
	minSilenceDuration  time.Duration
	prefixPadding       time.Duration
	maxBufferedSpeech   time.Duration
	sampleRate          int
	modelPath           string
}

func defaultOptions() options {
	return options{
		activationThreshold: defaultActivationThreshold,
		minSpeechDuration:   defaultMinSpeechDuration,
		minSilenceDuration:  defaultMinSilenceDuration,
		prefixPadding:       defaultPrefixPaddingDuration,
		maxBufferedSpeech:   defaultMaxBufferedSpeech,
		sampleRate:          defaultSampleRate,
	}
}

// Option configures the detector.
type Option func(*options)

// WithActivationThreshold sets the probability above which a window counts
// as speech.
func WithActivationThreshold(threshold float64) Option {
	return func(o *options) { o.activationThreshold = threshold }
}

// WithMinSpeechDuration sets how long windows must stay above the threshold
// before start of speech fires.
func WithMinSpeechDuration(d time.Duration) Option {
	return func(o *options) { o.minSpeechDuration = d }
}

// WithMinSilenceDuration sets how long windows must stay below the threshold
// before end of speech fires.
func WithMinSilenceDuration(d time.Duration) Option {
	return func(o *options) { o.minSilenceDuration = d }
}

// WithPrefixPaddingDuration sets how much audio from before the activation
// is included in the buffered speech.
func WithPrefixPaddingDuration(d time.Duration) Option {
	return func(o *options) { o.prefixPadding = d }
}

// WithMaxBufferedSpeech caps the audio buffered for one speech run.
func WithMaxBufferedSpeech(d time.Duration) Option {
	return func(o *options) { o.maxBufferedSpeech = d }
}

// WithSampleRate sets the expected input sample rate, 8000 or 16000.
func WithSampleRate(rate int) Option {
	return func(o *options) { o.sampleRate = rate }
}

// WithModelPath overrides the model directory.
func WithModelPath(path string) Option {
	return func(o *options) { o.modelPath = path }
}

// VAD creates Silero detection streams. Each stream loads its own model
// session since the recurrent state is per stream.
type VAD struct {
	opts options
	load func() (inference, error)
}

// New creates the detector. The model is loaded lazily per stream; call
// Load to surface a missing model file at startup instead.
func New(opts ...Option) *VAD {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	v := &VAD{opts: o}
	v.load = func() (inference, error) {
		return loadModel(v.modelFile(), v.opts.sampleRate)
	}
	return v
}

func (v *VAD) modelFile() string {
	path := v.opts.modelPath
	if path == "" {
		path = DefaultModelPath()
	}
	return filepath.Join(path, ModelFileName)
}

// Load verifies the model file loads. The loaded session is discarded;
// streams load their own.
func (v *VAD) Load() error {
	m, err := v.load()
	if err != nil {
		return err
	}
	m.destroy()
	return nil
}

func (v *VAD) Capabilities() vad.Capabilities {
	window := windowSize16k
	if v.opts.sampleRate == 8000 {
		window = windowSize8k
	}
	return vad.Capabilities{
		UpdateInterval: time.Duration(window) * time.Second / time.Duration(v.opts.sampleRate),
	}
}

// Stream opens a detection session.
func (v *VAD) Stream() vad.Stream {
	return newStream(v.opts, v.load)
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
