package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/auricle-ai/auricle-go/pkg/ai"
	"github.com/auricle-ai/auricle-go/pkg/ai/llm"
	"github.com/auricle-ai/auricle-go/pkg/ai/stt"
	"github.com/auricle-ai/auricle-go/pkg/ai/tts"
	"github.com/auricle-ai/auricle-go/pkg/ai/vad"
	"github.com/auricle-ai/auricle-go/pkg/metrics"
	"github.com/auricle-ai/auricle-go/pkg/rtc"
	"github.com/auricle-ai/auricle-go/pkg/tokenize"
	"github.com/auricle-ai/auricle-go/pkg/transcription"
	"github.com/auricle-ai/auricle-go/pkg/turn"
)

const (
	// minTimePlayedForCommit is how much of a reply must actually play
	// before the user turn it answers is committed to the chat context.
	// Below it, a near-immediate barge-in leaves the history untouched.
	minTimePlayedForCommit = 100 * time.Millisecond

	// continueMarker is sent as the user message when a reply is synthesized
	// without a user turn, telling the model to continue its previous answer.
	continueMarker = "<continue>"

	// transcriptInterruptWords forces an interruption check once this many
	// words accumulated, covering speech runs VAD fails to detect.
	transcriptInterruptWords = 3

	// playoutPollInterval is how often the playout wait re-checks whether
	// the user turn can be committed.
	playoutPollInterval = 200 * time.Millisecond
)

// BeforeLLMFunc intercepts reply synthesis before the default completion
// request. Returning an invalid source with proceed true falls through to the
// default LLM call; proceed false cancels the reply entirely.
type BeforeLLMFunc func(agent *VoicePipelineAgent, chatCtx *llm.ChatContext) (source SpeechSource, proceed bool, err error)

// BeforeTTSFunc rewrites the text about to be spoken. The transcript shown
// to users keeps the original text.
type BeforeTTSFunc func(agent *VoicePipelineAgent, text <-chan string) <-chan string

// TranscriptionOptions control transcript forwarding and pacing.
type TranscriptionOptions struct {
	UserTranscription  bool
	AgentTranscription bool

	// AgentTranscriptionSpeed paces agent captions, in hyphenated word parts
	// per second. Zero selects the default.
	AgentTranscriptionSpeed float64

	WordTokenizer tokenize.WordTokenizer
	Hyphenate     func(word string) []string
}

type options struct {
	allowInterruptions      bool
	interruptSpeechDuration time.Duration
	interruptMinWords       int
	minEndpointingDelay     time.Duration
	maxEndpointingDelay     time.Duration
	maxNestedFncCalls       int
	preemptiveSynthesis     bool
	language                string

	beforeLLM BeforeLLMFunc
	beforeTTS BeforeTTSFunc

	transcription TranscriptionOptions

	chatCtx      *llm.ChatContext
	fncCtx       *llm.FunctionContext
	turnDetector turn.Detector

	onUserTranscript  func(text string, final bool)
	onAgentTranscript func(seg transcription.Segment)

	conn ai.ConnectOptions
}

func defaultOptions() options {
	return options{
		allowInterruptions:      true,
		interruptSpeechDuration: 500 * time.Millisecond,
		interruptMinWords:       0,
		minEndpointingDelay:     500 * time.Millisecond,
		maxEndpointingDelay:     6 * time.Second,
		maxNestedFncCalls:       1,
		transcription: TranscriptionOptions{
			UserTranscription:  true,
			AgentTranscription: true,
			WordTokenizer:      tokenize.NewWordTokenizer(tokenize.WithIgnorePunctuation(false)),
			Hyphenate:          tokenize.HyphenateWord,
		},
		conn: ai.DefaultConnectOptions,
	}
}

// Option configures the agent.
type Option func(*options)

// WithAllowInterruptions controls whether user speech can cut agent speech.
func WithAllowInterruptions(allow bool) Option {
	return func(o *options) { o.allowInterruptions = allow }
}

// WithInterruptSpeechDuration sets how much raw user speech interrupts the
// agent.
func WithInterruptSpeechDuration(d time.Duration) Option {
	return func(o *options) { o.interruptSpeechDuration = d }
}

// WithInterruptMinWords requires a minimum transcribed word count before an
// interruption is honored. Zero disables the check.
func WithInterruptMinWords(n int) Option {
	return func(o *options) { o.interruptMinWords = n }
}

// WithEndpointingDelay sets the minimum and maximum silence before a user
// turn is considered over.
func WithEndpointingDelay(min, max time.Duration) Option {
	return func(o *options) {
		o.minEndpointingDelay = min
		o.maxEndpointingDelay = max
	}
}

// WithMaxNestedFunctionCalls caps tool round-trips per reply.
func WithMaxNestedFunctionCalls(n int) Option {
	return func(o *options) { o.maxNestedFncCalls = n }
}

// WithPreemptiveSynthesis starts reply synthesis on every final transcript
// instead of waiting for turn validation.
func WithPreemptiveSynthesis(enabled bool) Option {
	return func(o *options) { o.preemptiveSynthesis = enabled }
}

// WithLanguage sets the recognition and turn-detection language.
func WithLanguage(language string) Option {
	return func(o *options) { o.language = language }
}

// WithBeforeLLM installs the reply-synthesis hook.
func WithBeforeLLM(fn BeforeLLMFunc) Option {
	return func(o *options) { o.beforeLLM = fn }
}

// WithBeforeTTS installs the spoken-text rewrite hook.
func WithBeforeTTS(fn BeforeTTSFunc) Option {
	return func(o *options) { o.beforeTTS = fn }
}

// WithTranscriptionOptions replaces the transcript forwarding options.
func WithTranscriptionOptions(topts TranscriptionOptions) Option {
	return func(o *options) {
		if topts.WordTokenizer == nil {
			topts.WordTokenizer = o.transcription.WordTokenizer
		}
		if topts.Hyphenate == nil {
			topts.Hyphenate = o.transcription.Hyphenate
		}
		o.transcription = topts
	}
}

// WithChatContext seeds the persistent conversation, typically with a system
// prompt.
func WithChatContext(chatCtx *llm.ChatContext) Option {
	return func(o *options) { o.chatCtx = chatCtx }
}

// WithFunctionContext exposes callable functions to the model.
func WithFunctionContext(fncCtx *llm.FunctionContext) Option {
	return func(o *options) { o.fncCtx = fncCtx }
}

// WithTurnDetector plugs in an end-of-utterance model refining endpointing.
func WithTurnDetector(detector turn.Detector) Option {
	return func(o *options) { o.turnDetector = detector }
}

// WithUserTranscriptHandler receives user transcripts as they arrive.
func WithUserTranscriptHandler(fn func(text string, final bool)) Option {
	return func(o *options) { o.onUserTranscript = fn }
}

// WithAgentTranscriptHandler receives paced agent transcript segments.
func WithAgentTranscriptHandler(fn func(seg transcription.Segment)) Option {
	return func(o *options) { o.onAgentTranscript = fn }
}

// WithConnectOptions sets retry and timeout behavior for provider calls.
func WithConnectOptions(conn ai.ConnectOptions) Option {
	return func(o *options) { o.conn = conn }
}

// VoicePipelineAgent is a voice assistant built from a VAD, an STT, an LLM
// and a TTS. It listens on an audio source, detects turns, synthesizes
// replies, plays them on a sink, and maintains the conversation history
// through interruptions and tool calls.
type VoicePipelineAgent struct {
	emitter

	opts options

	vad vad.VAD
	stt stt.STT
	llm llm.LLM
	tts tts.TTS

	chatCtx *llm.ChatContext
	fncCtx  *llm.FunctionContext

	humanInput *HumanInput
	output     *AgentOutput
	playout    *AgentPlayout
	validation *deferredReplyValidation

	ctx    context.Context
	cancel context.CancelFunc

	mu                 sync.Mutex
	started            bool
	transcribedText    string
	transcribedInterim string
	speechQ            []*SpeechHandle
	speechQChanged     chan struct{}
	playingSpeech      *SpeechHandle
	pendingAgentReply  *SpeechHandle
	lastSpeechTime     time.Time
	lastFinalTime      time.Time
}

// NewVoicePipelineAgent assembles an agent. Non-streaming STT and TTS
// providers are wrapped with their stream adapters automatically.
func NewVoicePipelineAgent(v vad.VAD, s stt.STT, l llm.LLM, t tts.TTS, opts ...Option) *VoicePipelineAgent {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	if !s.Capabilities().Streaming {
		s = stt.NewStreamAdapter(s, v)
	}
	if !t.Capabilities().Streaming {
		t = tts.NewStreamAdapter(t, tokenize.NewSentenceTokenizer())
	}

	chatCtx := o.chatCtx
	if chatCtx == nil {
		chatCtx = llm.NewChatContext()
	}
	fncCtx := o.fncCtx
	if fncCtx == nil {
		fncCtx = llm.NewFunctionContext()
	}

	return &VoicePipelineAgent{
		opts:           o,
		vad:            v,
		stt:            s,
		llm:            l,
		tts:            t,
		chatCtx:        chatCtx,
		fncCtx:         fncCtx,
		speechQChanged: make(chan struct{}, 1),
	}
}

// ChatContext returns the persistent conversation history.
func (a *VoicePipelineAgent) ChatContext() *llm.ChatContext {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.chatCtx
}

// FunctionContext returns the functions exposed to the model.
func (a *VoicePipelineAgent) FunctionContext() *llm.FunctionContext { return a.fncCtx }

// Start begins listening on the audio source and playing on the sink. The
// agent runs until the context is cancelled or Close is called.
func (a *VoicePipelineAgent) Start(ctx context.Context, frames <-chan *rtc.AudioFrame, sink AudioSink) error {
	a.mu.Lock()
	if a.started {
		a.mu.Unlock()
		return errors.New("pipeline: agent already started")
	}
	a.started = true
	a.mu.Unlock()

	a.ctx, a.cancel = context.WithCancel(ctx)

	a.playout = NewAgentPlayout(sink)
	a.playout.setCallbacks(
		func() { a.emit(EventAgentStartedSpeaking, nil) },
		func(interrupted bool) { a.emit(EventAgentStoppedSpeaking, interrupted) },
	)

	a.output = NewAgentOutput(a.tts, a.playout, a.opts.conn)
	a.output.onMetrics = func(m metrics.TTS) { a.emit(EventMetricsCollected, m) }

	a.validation = newDeferredReplyValidation(
		a.opts.minEndpointingDelay,
		a.opts.maxEndpointingDelay,
		a.opts.turnDetector,
		a.chatSnapshot,
		a.validateReplyIfPossible,
	)

	a.humanInput = NewHumanInput(a.vad, a.stt, frames, a.opts.language, a.opts.conn)
	a.humanInput.onStartOfSpeech = a.onStartOfSpeech
	a.humanInput.onVADInferenceDone = a.onVADInferenceDone
	a.humanInput.onEndOfSpeech = a.onEndOfSpeech
	a.humanInput.onInterimTranscript = a.onInterimTranscript
	a.humanInput.onFinalTranscript = a.onFinalTranscript
	a.humanInput.onMetrics = func(m metrics.STT) { a.emit(EventMetricsCollected, m) }
	if err := a.humanInput.Start(a.ctx); err != nil {
		a.cancel()
		return err
	}

	go a.mainLoop()
	return nil
}

// Close stops the agent. In-flight speech is interrupted.
func (a *VoicePipelineAgent) Close() {
	if a.cancel != nil {
		a.cancel()
	}
	if a.validation != nil {
		a.validation.Close()
	}
	if a.humanInput != nil {
		a.humanInput.Close()
	}
	a.Interrupt(true)
}

// Say speaks the source, interleaving with the queue: while another speech
// plays it is nested into that speech's turn.
func (a *VoicePipelineAgent) Say(source SpeechSource, allowInterruptions, addToChatCtx bool) (*SpeechHandle, error) {
	a.mu.Lock()
	started := a.started
	a.mu.Unlock()
	if !started {
		return nil, errors.New("pipeline: agent not started")
	}
	if !source.valid() {
		return nil, errors.New("pipeline: empty speech source")
	}

	handle := newSaySpeechHandle(allowInterruptions, addToChatCtx)
	synthesis := a.synthesizeAgentSpeech(handle.id, source)
	handle.Initialize(source, synthesis)

	a.mu.Lock()
	playing := a.playingSpeech
	var target *SpeechHandle
	if playing != nil && !playing.nestedSpeechFinished() {
		target = playing
	} else if len(a.speechQ) > 0 {
		target = a.speechQ[0]
	}
	a.mu.Unlock()

	if target != nil {
		target.AddNestedSpeech(handle)
	} else {
		a.addSpeechForPlayout(handle)
	}
	return handle, nil
}

// Interrupt cuts the current speech if it allows interruptions. With all,
// pending and queued speeches are cancelled too.
func (a *VoicePipelineAgent) Interrupt(all bool) {
	a.mu.Lock()
	pending := a.pendingAgentReply
	queued := append([]*SpeechHandle(nil), a.speechQ...)
	playing := a.playingSpeech
	a.mu.Unlock()

	if all {
		if pending != nil {
			pending.Cancel(false)
		}
		for _, speech := range queued {
			speech.Cancel(true)
		}
	}
	if playing != nil && playing.AllowInterruptions() {
		playing.Interrupt()
	}
}

// PlayingUninterruptible reports whether the current speech refuses
// interruptions. Transports use it to gate the microphone.
func (a *VoicePipelineAgent) PlayingUninterruptible() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.playingSpeech != nil && !a.playingSpeech.AllowInterruptions()
}

func (a *VoicePipelineAgent) chatSnapshot(transcript string) *llm.ChatContext {
	a.mu.Lock()
	defer a.mu.Unlock()
	snapshot := a.chatCtx.Copy()
	snapshot.AppendMessage(llm.RoleUser, transcript)
	return snapshot
}

func (a *VoicePipelineAgent) onStartOfSpeech(ev vad.Event) {
	a.emit(EventUserStartedSpeaking, ev)
	a.validation.OnHumanStartOfSpeech()
}

func (a *VoicePipelineAgent) onVADInferenceDone(ev vad.Event) {
	a.mu.Lock()
	playing := a.playingSpeech
	if ev.RawAccumulatedSpeech > 0 {
		a.lastSpeechTime = time.Now().Add(-ev.RawAccumulatedSilence)
	}
	a.mu.Unlock()

	if playing != nil && playing.AllowInterruptions() {
		a.playout.SetTargetVolume(1 - ev.Probability)
	}
	if ev.RawAccumulatedSpeech >= a.opts.interruptSpeechDuration {
		a.interruptIfPossible()
	}
}

func (a *VoicePipelineAgent) onEndOfSpeech(ev vad.Event) {
	a.emit(EventUserStoppedSpeaking, ev)
	a.validation.OnHumanEndOfSpeech()
	a.playout.SetTargetVolume(1)
}

func (a *VoicePipelineAgent) onInterimTranscript(ev stt.SpeechEvent) {
	if len(ev.Alternatives) == 0 {
		return
	}
	text := ev.Alternatives[0].Text

	a.mu.Lock()
	a.transcribedInterim = text
	a.mu.Unlock()

	if a.opts.transcription.UserTranscription && a.opts.onUserTranscript != nil {
		a.opts.onUserTranscript(text, false)
	}
}

func (a *VoicePipelineAgent) onFinalTranscript(ev stt.SpeechEvent) {
	if len(ev.Alternatives) == 0 {
		return
	}
	alt := ev.Alternatives[0]
	if alt.Text == "" {
		return
	}

	a.mu.Lock()
	if a.transcribedText != "" {
		a.transcribedText += " "
	}
	a.transcribedText += alt.Text
	a.lastFinalTime = time.Now()
	words := len(a.opts.transcription.WordTokenizer.Tokenize(a.transcribedText))
	playing := a.playingSpeech
	a.mu.Unlock()

	if a.opts.transcription.UserTranscription && a.opts.onUserTranscript != nil {
		a.opts.onUserTranscript(alt.Text, true)
	}

	if a.opts.preemptiveSynthesis && (playing == nil || playing.AllowInterruptions()) {
		a.synthesizeAgentReply()
	}

	a.validation.OnHumanFinalTranscript(alt.Text, alt.Language)

	// VAD can miss quiet speech; the transcript arriving is itself evidence
	// the user is talking over the agent.
	if words >= transcriptInterruptWords {
		a.interruptIfPossible()
	}
}

func (a *VoicePipelineAgent) interruptIfPossible() {
	a.mu.Lock()
	playing := a.playingSpeech
	a.mu.Unlock()
	if playing != nil && a.shouldInterrupt(playing) {
		playing.Interrupt()
	}
}

func (a *VoicePipelineAgent) shouldInterrupt(playing *SpeechHandle) bool {
	if !playing.AllowInterruptions() || playing.Interrupted() {
		return false
	}
	if a.opts.interruptMinWords > 0 {
		a.mu.Lock()
		text := a.transcribedText
		if len(a.transcribedInterim) > len(text) {
			text = a.transcribedInterim
		}
		a.mu.Unlock()
		if len(a.opts.transcription.WordTokenizer.Tokenize(text)) < a.opts.interruptMinWords {
			return false
		}
	}
	return true
}

// validateReplyIfPossible turns the accumulated transcript into a queued
// reply. Called by the deferred validation once the user turn is over.
func (a *VoicePipelineAgent) validateReplyIfPossible() {
	a.mu.Lock()
	transcript := a.transcribedText
	playing := a.playingSpeech
	a.mu.Unlock()

	if transcript == "" {
		return
	}

	if playing != nil && !playing.Interrupted() {
		ignore := false
		if !playing.AllowInterruptions() {
			slog.Debug("skipping reply validation, current speech does not allow interruptions",
				"speech_id", playing.ID())
			ignore = true
		} else if !a.shouldInterrupt(playing) {
			slog.Debug("skipping reply validation, interrupt threshold not met",
				"speech_id", playing.ID())
			ignore = true
		}
		if ignore {
			a.mu.Lock()
			a.transcribedText = ""
			a.mu.Unlock()
			return
		}
	}

	a.mu.Lock()
	pending := a.pendingAgentReply
	a.mu.Unlock()
	if pending == nil {
		if a.opts.preemptiveSynthesis {
			return
		}
		a.synthesizeAgentReply()
	}

	a.mu.Lock()
	pending = a.pendingAgentReply
	queued := append([]*SpeechHandle(nil), a.speechQ...)
	lastSpeech := a.lastSpeechTime
	lastFinal := a.lastFinalTime
	a.pendingAgentReply = nil
	a.transcribedInterim = ""
	a.mu.Unlock()

	if pending == nil {
		return
	}

	// Timing can leave an older validated reply still queued; a newer one
	// supersedes it.
	for _, speech := range queued {
		if speech.IsReply() && speech.AllowInterruptions() {
			speech.Interrupt()
		}
	}

	slog.Debug("validated agent reply", "speech_id", pending.ID(), "text", transcript)

	if !lastSpeech.IsZero() {
		transcriptionDelay := lastFinal.Sub(lastSpeech)
		if transcriptionDelay < 0 {
			transcriptionDelay = 0
		}
		a.emit(EventMetricsCollected, metrics.PipelineEOU{
			Base: metrics.Base{
				Timestamp:  time.Now(),
				SequenceID: pending.ID(),
			},
			EndOfUtteranceDelay: time.Since(lastSpeech),
			TranscriptionDelay:  transcriptionDelay,
		})
	}

	a.addSpeechForPlayout(pending)
}

// synthesizeAgentReply creates a fresh pending reply, cancelling any
// previous one still unvalidated.
func (a *VoicePipelineAgent) synthesizeAgentReply() {
	a.mu.Lock()
	old := a.pendingAgentReply
	handle := newReplySpeechHandle(a.opts.allowInterruptions, true, a.transcribedText)
	a.pendingAgentReply = handle
	a.mu.Unlock()

	if old != nil {
		old.Cancel(false)
	}
	go a.synthesizeAnswerTask(handle)
}

func (a *VoicePipelineAgent) synthesizeAnswerTask(handle *SpeechHandle) {
	a.mu.Lock()
	copied := a.chatCtx.Copy()
	playing := a.playingSpeech
	a.mu.Unlock()

	// A speech still playing and uncommitted is part of the conversation the
	// model should see: include what was actually heard so far.
	if playing != nil && playing.Initialized() &&
		(playing.UserQuestion() == "" || playing.UserCommitted()) && !playing.SpeechCommitted() {
		copied.Messages = append(copied.Messages, playing.extraToolsMessages...)
		copied.AppendMessage(llm.RoleAssistant, playing.Synthesis().PlayedText())
	}

	userInput := handle.UserQuestion()
	if userInput == "" {
		userInput = continueMarker
	}
	copied.AppendMessage(llm.RoleUser, userInput)

	var source SpeechSource
	if a.opts.beforeLLM != nil {
		src, proceed, err := a.opts.beforeLLM(a, copied)
		if err != nil {
			slog.Error("before-llm hook failed, using default completion", "error", err)
		} else if !proceed {
			// The hook rejected this turn: drop the transcript it was
			// answering and cancel the reply.
			a.mu.Lock()
			a.transcribedText = strings.TrimSpace(strings.TrimPrefix(a.transcribedText, handle.UserQuestion()))
			a.mu.Unlock()
			handle.Cancel(false)
			return
		} else if src.valid() {
			source = src
		}
	}

	if !source.valid() {
		stream, err := a.llm.Chat(a.ctx, llm.ChatOptions{
			ChatCtx: copied,
			FncCtx:  a.fncCtx,
			Conn:    a.opts.conn,
		})
		if err != nil {
			slog.Error("reply completion failed", "speech_id", handle.ID(), "error", err)
			handle.Cancel(false)
			return
		}
		source = LLMStreamSource(stream)
	}

	if handle.Interrupted() {
		if stream := source.LLMStream(); stream != nil {
			stream.Close()
		}
		return
	}

	synthesis := a.synthesizeAgentSpeech(handle.ID(), source)
	handle.Initialize(source, synthesis)
}

// synthesizeAgentSpeech starts TTS for a source and returns its handle. The
// transcript branch bypasses the before-TTS hook so captions show the
// original text.
func (a *VoicePipelineAgent) synthesizeAgentSpeech(speechID string, source SpeechSource) *SynthesisHandle {
	fwd := transcription.NewForwarder(transcription.Options{
		Speed:         a.opts.transcription.AgentTranscriptionSpeed,
		WordTokenizer: a.opts.transcription.WordTokenizer,
		Hyphenate:     a.opts.transcription.Hyphenate,
		OnSegment: func(seg transcription.Segment) {
			if a.opts.transcription.AgentTranscription && a.opts.onAgentTranscript != nil {
				a.opts.onAgentTranscript(seg)
			}
		},
	})

	var textCh <-chan string
	switch source.kind {
	case sourceText:
		textCh = textChan(source.text)
	case sourceTextStream:
		textCh = source.textStream
	case sourceLLMStream:
		textCh = llmStreamText(a.ctx, source.llmStream, a.llm.Label(), func(m metrics.LLM) {
			m.SequenceID = speechID
			a.emit(EventMetricsCollected, m)
		})
	}

	ttsCh, transcriptCh := teeText(a.ctx, textCh)
	if a.opts.beforeTTS != nil {
		ttsCh = a.opts.beforeTTS(a, ttsCh)
	}
	return a.output.Synthesize(a.ctx, speechID, ttsCh, transcriptCh, fwd)
}

func (a *VoicePipelineAgent) addSpeechForPlayout(handle *SpeechHandle) {
	a.mu.Lock()
	a.speechQ = append(a.speechQ, handle)
	a.mu.Unlock()

	select {
	case a.speechQChanged <- struct{}{}:
	default:
	}
}

func (a *VoicePipelineAgent) mainLoop() {
	for {
		select {
		case <-a.speechQChanged:
		case <-a.ctx.Done():
			return
		}

		for {
			a.mu.Lock()
			if len(a.speechQ) == 0 {
				a.mu.Unlock()
				break
			}
			speech := a.speechQ[0]
			a.speechQ = a.speechQ[1:]
			a.playingSpeech = speech
			a.mu.Unlock()

			a.playSpeech(speech)

			a.mu.Lock()
			a.playingSpeech = nil
			a.mu.Unlock()
		}
	}
}

// playSpeech drives one speech to completion: playout, user and agent
// commitment, tool execution, and any nested speech queued meanwhile.
func (a *VoicePipelineAgent) playSpeech(handle *SpeechHandle) {
	if err := handle.WaitForInitialization(a.ctx); err != nil {
		return
	}

	synthesis := handle.Synthesis()
	play, err := synthesis.Play()
	if err != nil {
		return
	}

	userQuestion := handle.UserQuestion()

	commitUserQuestion := func() {
		if userQuestion == "" || synthesis.Interrupted() || handle.UserCommitted() {
			return
		}
		usingTools := speechUsesTools(handle)

		// Validation races playout: require the reply to have actually been
		// heard before the user turn is committed, unless the reply cannot
		// be interrupted anyway or tools are already running.
		if handle.AllowInterruptions() && !usingTools {
			if strings.TrimSpace(synthesis.PlayedText()) == "" {
				return
			}
			if play.TimePlayed() < minTimePlayedForCommit && !playoutDone(play) {
				return
			}
		}

		userMsg := llm.NewChatMessage(llm.RoleUser, userQuestion)
		a.mu.Lock()
		a.chatCtx.Append(userMsg)
		a.transcribedText = strings.TrimSpace(strings.TrimPrefix(a.transcribedText, userQuestion))
		a.mu.Unlock()
		handle.MarkUserCommitted()
		a.emit(EventUserSpeechCommitted, userMsg)
	}

	// Wait for playout, polling so the user turn commits as soon as enough
	// audio played.
	ticker := time.NewTicker(playoutPollInterval)
	for done := false; !done; {
		select {
		case <-play.Done():
			done = true
		case <-ticker.C:
		case <-a.ctx.Done():
			ticker.Stop()
			return
		}
		commitUserQuestion()
		if handle.Interrupted() {
			done = true
		}
	}
	ticker.Stop()
	commitUserQuestion()

	a.playout.SetTargetVolume(1)

	collectedText := synthesis.PlayedText()
	interrupted := handle.Interrupted()
	usingTools := speechUsesTools(handle)

	var committedMsgID string
	if handle.AddToChatCtx() && (userQuestion == "" || handle.UserCommitted()) {
		a.mu.Lock()
		if len(handle.extraToolsMessages) > 0 {
			// The text of a tool round-trip may already sit in the history
			// under fncTextMessageID: keep it in exactly one place.
			if handle.fncTextMessageID != "" {
				if n := len(a.chatCtx.Messages); n > 0 && a.chatCtx.Messages[n-1].ID == handle.fncTextMessageID {
					a.chatCtx.Messages = a.chatCtx.Messages[:n-1]
				} else {
					handle.extraToolsMessages[0].Content = ""
				}
			}
			a.chatCtx.Messages = append(a.chatCtx.Messages, handle.extraToolsMessages...)
		}

		text := collectedText
		if interrupted {
			text += "..."
		}
		msg := llm.NewChatMessage(llm.RoleAssistant, text)
		a.chatCtx.Append(msg)
		committedMsgID = msg.ID
		a.mu.Unlock()

		handle.MarkSpeechCommitted()
		if interrupted {
			a.emit(EventAgentSpeechInterrupted, msg)
		} else {
			a.emit(EventAgentSpeechCommitted, msg)
		}
	}

	if usingTools && !interrupted && handle.FunctionNestedDepth() < a.opts.maxNestedFncCalls {
		go a.executeFunctionCalls(handle, collectedText, committedMsgID)
	} else {
		handle.MarkNestedSpeechDone()
	}

	// Nested speech driver: tool replies and mid-speech Say calls play here,
	// inside this speech's turn.
	for {
		if nested := handle.popNestedSpeech(); nested != nil {
			a.mu.Lock()
			a.playingSpeech = nested
			a.mu.Unlock()

			a.playSpeech(nested)

			a.mu.Lock()
			a.playingSpeech = handle
			a.mu.Unlock()
			continue
		}
		if handle.nestedSpeechFinished() {
			return
		}
		select {
		case <-handle.NestedSpeechChanged():
		case <-handle.NestedSpeechDone():
		case <-a.ctx.Done():
			return
		}
	}
}

// executeFunctionCalls runs the tool calls of a finished speech and queues
// the follow-up reply as nested speech.
func (a *VoicePipelineAgent) executeFunctionCalls(handle *SpeechHandle, collectedText, committedMsgID string) {
	defer handle.MarkNestedSpeechDone()

	stream := handle.Source().LLMStream()
	calls := stream.FunctionCalls()
	if len(calls) == 0 {
		return
	}

	a.emit(EventFunctionCallsCollected, calls)

	callCtx := newAgentCallContext(a, stream)
	called := stream.ExecuteFunctions(withCallContext(a.ctx, callCtx))
	for _, c := range called {
		if c.Err != nil {
			slog.Error("function call failed",
				"function", c.CallInfo.FunctionName, "error", c.Err)
		}
	}

	a.emit(EventFunctionCallsFinished, called)

	toolCallsMsg := llm.NewChatMessage(llm.RoleAssistant, collectedText)
	toolCallsMsg.ToolCalls = calls

	extraToolsMessages := []*llm.ChatMessage{toolCallsMsg}
	for _, c := range called {
		extraToolsMessages = append(extraToolsMessages, c.ToolMessage())
	}
	extraToolsMessages = append(extraToolsMessages, callCtx.ExtraChatMessages()...)

	// The follow-up completion sees the tool outcomes. At the nesting cap
	// the function declarations are withheld so the model must answer in
	// prose, unless the provider requires them to stay.
	depth := handle.FunctionNestedDepth() + 1
	fncCtx := a.fncCtx
	if depth >= a.opts.maxNestedFncCalls && !a.llm.Capabilities().RequiresPersistentFunctions {
		fncCtx = nil
	}

	a.mu.Lock()
	answerCtx := a.chatCtx.Copy()
	a.mu.Unlock()
	answerCtx.Messages = append(answerCtx.Messages, extraToolsMessages...)

	answerStream, err := a.llm.Chat(a.ctx, llm.ChatOptions{
		ChatCtx: answerCtx,
		FncCtx:  fncCtx,
		Conn:    a.opts.conn,
	})
	if err != nil {
		slog.Error("tool follow-up completion failed", "speech_id", handle.ID(), "error", err)
		return
	}

	toolSpeech := newToolSpeechHandle(
		handle.AllowInterruptions(),
		handle.AddToChatCtx(),
		extraToolsMessages,
		committedMsgID,
		depth,
	)
	source := LLMStreamSource(answerStream)
	toolSpeech.Initialize(source, a.synthesizeAgentSpeech(toolSpeech.ID(), source))
	handle.AddNestedSpeech(toolSpeech)
}

// speechUsesTools reports whether the speech's completion requested tool
// calls.
func speechUsesTools(handle *SpeechHandle) bool {
	stream := handle.Source().LLMStream()
	return stream != nil && len(stream.FunctionCalls()) > 0
}

func playoutDone(play *PlayoutHandle) bool {
	select {
	case <-play.Done():
		return true
	default:
		return false
	}
}
