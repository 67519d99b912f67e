package router

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sayverb/voicerouter/internal/action"
	"github.com/sayverb/voicerouter/internal/domindex"
	"github.com/sayverb/voicerouter/internal/events"
	"github.com/sayverb/voicerouter/internal/kws"
	"github.com/sayverb/voicerouter/internal/label"
	"github.com/sayverb/voicerouter/internal/matcher"
	"github.com/sayverb/voicerouter/internal/vad"
	"github.com/sayverb/voicerouter/pkg/audio"
	"github.com/sayverb/voicerouter/pkg/dom"
	providerasr "github.com/sayverb/voicerouter/pkg/provider/asr"
	providerkws "github.com/sayverb/voicerouter/pkg/provider/kws"
	providervad "github.com/sayverb/voicerouter/pkg/provider/vad"
)

// Wake keyword names recognized by the state machine.
const (
	KeywordOpen   = "open"
	KeywordClick  = "click"
	KeywordHelp   = "help"
	KeywordStop   = "stop"
	KeywordCancel = "cancel"
)

const (
	defaultCaptureTimeoutMs = 5000
	defaultHighlightMs      = 300
	defaultWarmupFrames     = 40
)

var (
	// ErrNotListening is returned by commands that require LISTENING_ON (or
	// beyond) but the engine is currently LISTENING_OFF.
	ErrNotListening = errors.New("router: engine is not listening")
	// ErrNoConfirmationPending is returned by ConfirmAction/CancelConfirmation
	// outside AWAITING_CONFIRMATION.
	ErrNoConfirmationPending = errors.New("router: no confirmation is pending")
	// ErrNoAmbiguityPending is returned by SelectDisambiguationTarget when the
	// engine is not holding an ambiguous resolution.
	ErrNoAmbiguityPending = errors.New("router: no ambiguous resolution is pending")
	// ErrUnknownCandidate is returned by SelectDisambiguationTarget when id
	// does not match one of the held candidates.
	ErrUnknownCandidate = errors.New("router: id does not match a pending candidate")
	// ErrDestroyed is returned by any command after Destroy.
	ErrDestroyed = errors.New("router: engine has been destroyed")
)

// Config holds the FSM timing knobs.
type Config struct {
	CaptureTimeoutMs    int64
	HighlightMs         int64
	WarmupFrames        int
	CollisionPolicy     matcher.CollisionPolicy
	FuzzyThreshold      float64
	FuzzyMargin         float64
	GlobalDenySelectors []string

	// Now returns the current time; defaults to time.Now. Overridable for
	// deterministic tests.
	Now func() time.Time
}

func (c Config) captureTimeout() time.Duration {
	ms := c.CaptureTimeoutMs
	if ms <= 0 {
		ms = defaultCaptureTimeoutMs
	}
	return time.Duration(ms) * time.Millisecond
}

func (c Config) highlight() time.Duration {
	ms := c.HighlightMs
	if ms <= 0 {
		ms = defaultHighlightMs
	}
	return time.Duration(ms) * time.Millisecond
}

func (c Config) warmupFrames() int {
	if c.WarmupFrames <= 0 {
		return defaultWarmupFrames
	}
	return c.WarmupFrames
}

func (c Config) matcherConfig() matcher.Config {
	return matcher.Config{
		CollisionPolicy: c.CollisionPolicy,
		FuzzyThreshold:  c.FuzzyThreshold,
		FuzzyMargin:     c.FuzzyMargin,
	}
}

// Dependencies wires the engine to its collaborators: the KWS backbone and
// per-keyword classifier heads, the VAD session, the ASR engine, and the DOM
// host collaborator.
type Dependencies struct {
	// Mel and Embedding run the shared KWS backbone stages.
	Mel, Embedding providerkws.Session

	// Keywords maps keyword name (KeywordOpen, KeywordClick, ...) to its
	// classifier head configuration.
	Keywords map[string]kws.KeywordConfig

	// VAD is the voice-activity-detection session used during capture.
	VAD       providervad.SessionHandle
	VADConfig vad.Config

	// ASR transcribes a captured utterance.
	ASR providerasr.Engine

	// Document returns the live DOM document to index. Called fresh on every
	// resolution so it always reflects current page state.
	Document func() dom.Document

	// OnKeywordScore, if non-nil, receives every keyword's raw score on
	// every embedding window, for live metering. It is not used for state
	// transitions.
	OnKeywordScore func(keyword string, score float64)
}

type pendingAction struct {
	target domindex.Target
	kind   action.Kind
}

// Engine is the single finite-state-machine core. All state mutation,
// event emission, and matcher/indexer calls happen on the
// calling goroutine under Engine's mutex; only ASR transcription and the
// capture-timeout/highlight timers cross goroutine boundaries, and both
// carry the request id so late completions can be dropped.
type Engine struct {
	mu sync.Mutex

	cfg  Config
	deps Dependencies
	bus  *events.Bus
	now  func() time.Time

	kwsPipeline *kws.Pipeline
	vadDetector *vad.Detector

	state     State
	requestID string
	wired     bool
	destroyed bool

	index      domindex.Index
	capturing  bool
	captureBuf []float32

	captureTimer   *time.Timer
	highlightTimer *time.Timer

	pendingCandidates []domindex.Target
	pending           pendingAction
}

// New constructs an Engine in LISTENING_OFF, wiring the KWS pipeline and VAD
// detector to itself. The engine does not start listening until
// StartListening is called.
func New(cfg Config, deps Dependencies) *Engine {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	e := &Engine{
		cfg:   cfg,
		deps:  deps,
		bus:   events.NewBus(),
		now:   now,
		state: StateListeningOff,
	}
	e.kwsPipeline = kws.New(kws.Config{
		Mel:       deps.Mel,
		Embedding: deps.Embedding,
		Keywords:  deps.Keywords,
		OnScore:   deps.OnKeywordScore,
		OnDetect:  e.onKeywordDetected,
		Now:       now,
	})
	vc := deps.VADConfig
	vc.OnSpeechStart = nil
	vc.OnSpeechEnd = e.onSpeechEnd
	vc.Now = now
	e.vadDetector = vad.New(deps.VAD, vc)
	return e
}

// Init initializes the ASR engine. A failure is fatal: it is returned and
// also surfaced as an EngineError event.
func (e *Engine) Init(ctx context.Context) error {
	if err := e.deps.ASR.Init(ctx); err != nil {
		e.mu.Lock()
		e.emitLocked(events.KindEngineError, "", EngineErrorPayload{
			Code:    ErrASRInitFailed,
			Message: err.Error(),
		})
		e.mu.Unlock()
		return fmt.Errorf("router: init asr: %w", err)
	}
	return nil
}

// ProcessAudioFrame feeds one 80 ms PCM frame into the engine. KWS always
// consumes it while listening is enabled; the capture buffer and VAD
// additionally consume it while a request is capturing.
//
// Neither the KWS pipeline nor the VAD detector is called with e.mu held:
// both can synchronously invoke a callback (onKeywordDetected/onSpeechEnd)
// that itself locks e.mu, and Go's mutex is not reentrant.
func (e *Engine) ProcessAudioFrame(frame audio.Frame) {
	e.mu.Lock()
	wired := e.wired
	e.mu.Unlock()
	if !wired {
		return
	}
	e.kwsPipeline.ProcessFrame(frame)

	e.mu.Lock()
	capturing := e.capturing
	if capturing {
		e.captureBuf = append(e.captureBuf, frame.Samples[:]...)
	}
	e.mu.Unlock()
	if capturing {
		e.vadDetector.ProcessFrame(frame)
	}
}

// StartListening transitions LISTENING_OFF -> LISTENING_ON, warming up the
// KWS pipeline and wiring the audio frame stream to it.
func (e *Engine) StartListening() error {
	e.mu.Lock()
	if e.destroyed {
		e.mu.Unlock()
		return ErrDestroyed
	}
	if e.state != StateListeningOff {
		e.mu.Unlock()
		return nil
	}
	e.wired = true
	e.state = StateListeningOn
	e.mu.Unlock()

	// Warmup runs the pipeline synchronously and may itself fire OnDetect
	// (e.onKeywordDetected), which re-enters and locks e.mu; it must not run
	// while this call already holds the lock.
	e.kwsPipeline.Warmup(e.cfg.warmupFrames())

	e.mu.Lock()
	e.emitLocked(events.KindListeningChanged, "", ListeningChangedPayload{Enabled: true})
	e.mu.Unlock()
	return nil
}

// StopListening transitions LISTENING_ON (or any in-flight state) back to
// LISTENING_OFF. A request in flight is cancelled first.
func (e *Engine) StopListening() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.destroyed {
		return ErrDestroyed
	}
	if e.state == StateListeningOff {
		return nil
	}
	if e.state != StateListeningOn {
		e.cancelActiveRequestLocked(CaptureEndStop)
	}
	e.wired = false
	e.kwsPipeline.Stop()
	e.state = StateListeningOff
	e.emitLocked(events.KindListeningChanged, "", ListeningChangedPayload{Enabled: false})
	return nil
}

// Cancel aborts the in-flight request, if any, without disabling listening.
func (e *Engine) Cancel() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.destroyed {
		return ErrDestroyed
	}
	if e.state == StateListeningOff || e.state == StateListeningOn {
		return nil
	}
	e.cancelActiveRequestLocked(CaptureEndCancel)
	return nil
}

// SimulateTranscript bypasses the audio path: a request id is minted, the
// target index is built and TargetIndexBuilt emitted, TranscriptReady is
// emitted synchronously, and resolution proceeds exactly as the real
// path's does.
func (e *Engine) SimulateTranscript(text string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.destroyed {
		return ErrDestroyed
	}
	if e.state != StateListeningOn {
		return ErrNotListening
	}
	reqID := e.mintRequestID()
	e.requestID = reqID

	index := domindex.Build(e.deps.Document(), domindex.Config{GlobalDenySelectors: e.cfg.GlobalDenySelectors})
	e.emitTargetIndexBuiltLocked(reqID, index)
	e.emitLocked(events.KindTranscriptReady, reqID, TranscriptReadyPayload{RequestID: reqID, Transcript: text})

	e.state = StateResolvingTarget
	e.resolveLocked(reqID, index, text)
	return nil
}

// ConfirmAction runs the pending action after a high-risk confirmation.
func (e *Engine) ConfirmAction() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.destroyed {
		return ErrDestroyed
	}
	if e.state != StateAwaitingConfirm {
		return ErrNoConfirmationPending
	}
	pa := e.pending
	e.pending = pendingAction{}
	e.state = StateExecuting
	e.executeLocked(e.requestID, pa.target)
	return nil
}

// CancelConfirmation declines the pending action and returns to
// LISTENING_ON without executing anything.
func (e *Engine) CancelConfirmation() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.destroyed {
		return ErrDestroyed
	}
	if e.state != StateAwaitingConfirm {
		return ErrNoConfirmationPending
	}
	e.pending = pendingAction{}
	e.transitionToListeningOnLocked()
	return nil
}

// SelectDisambiguationTarget resolves an ambiguous hold by running the
// action for the chosen candidate.
func (e *Engine) SelectDisambiguationTarget(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.destroyed {
		return ErrDestroyed
	}
	if e.state != StateError || e.pendingCandidates == nil {
		return ErrNoAmbiguityPending
	}
	var chosen *domindex.Target
	for i := range e.pendingCandidates {
		if e.pendingCandidates[i].ID == id {
			chosen = &e.pendingCandidates[i]
			break
		}
	}
	if chosen == nil {
		return ErrUnknownCandidate
	}
	e.pendingCandidates = nil
	e.state = StateExecuting
	e.executeLocked(e.requestID, *chosen)
	return nil
}

// On registers listener on the engine's event bus.
func (e *Engine) On(listener events.Listener) (unsubscribe func()) {
	return e.bus.On(listener)
}

// GetEventHistory returns every event emitted since construction (or the
// last Clear on the underlying bus).
func (e *Engine) GetEventHistory() []events.Event {
	return e.bus.History()
}

// GetState returns the engine's current state.
func (e *Engine) GetState() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// GetConfig returns the engine's configuration.
func (e *Engine) GetConfig() Config {
	return e.cfg
}

// GetCurrentIndex returns the most recently built target index.
func (e *Engine) GetCurrentIndex() domindex.Index {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.index
}

// Destroy releases every owned session and clears buffers. The engine must
// not be used after Destroy.
func (e *Engine) Destroy() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.destroyed {
		return nil
	}
	e.stopTimersLocked()
	if e.capturing {
		e.vadDetector.Stop()
	}
	e.kwsPipeline.Stop()
	e.captureBuf = nil
	e.index = domindex.Index{}
	e.destroyed = true
	e.wired = false
	e.state = StateListeningOff
	err := e.deps.ASR.Close()
	for _, s := range []providerkws.Session{e.deps.Mel, e.deps.Embedding} {
		if s != nil {
			err = errors.Join(err, s.Close())
		}
	}
	for _, k := range e.deps.Keywords {
		if k.Classifier != nil {
			err = errors.Join(err, k.Classifier.Close())
		}
	}
	if e.deps.VAD != nil {
		err = errors.Join(err, e.deps.VAD.Close())
	}
	return err
}

// onKeywordDetected is the KWS pipeline's OnDetect callback. It always
// emits KeywordDetected, then applies whatever state transition is assigned
// to (current state, keyword).
func (e *Engine) onKeywordDetected(d kws.Detection) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.emitLocked(events.KindKeywordDetected, e.requestID, KeywordDetectedPayload{Keyword: d.Keyword, Confidence: d.Score})

	switch e.state {
	case StateListeningOn:
		switch d.Keyword {
		case KeywordOpen, KeywordClick:
			e.beginCaptureLocked()
		case KeywordHelp, KeywordStop, KeywordCancel:
			// emit only; no capture to interrupt.
		}
	case StateCapturingTarget:
		switch d.Keyword {
		case KeywordStop, KeywordCancel:
			e.cancelActiveRequestLocked(CaptureEndCancel)
		}
	}
}

// beginCaptureLocked implements LISTENING_ON -> CAPTURING_TARGET.
func (e *Engine) beginCaptureLocked() {
	reqID := e.mintRequestID()
	e.requestID = reqID
	e.capturing = true
	e.captureBuf = e.captureBuf[:0]
	e.state = StateCapturingTarget
	e.emitLocked(events.KindCaptureStarted, reqID, CaptureStartedPayload{RequestID: reqID})

	timeout := e.cfg.captureTimeout()
	e.captureTimer = time.AfterFunc(timeout, func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if e.destroyed || e.requestID != reqID || e.state != StateCapturingTarget {
			return
		}
		e.endCaptureLocked(CaptureEndTimeout)
	})
}

// onSpeechEnd is the VAD detector's OnSpeechEnd callback.
func (e *Engine) onSpeechEnd() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateCapturingTarget {
		return
	}
	e.endCaptureLocked(CaptureEndVAD)
}

// endCaptureLocked detaches the capture buffer, stops VAD and the capture
// timer, and either discards the buffer (stop/cancel) or hands it to ASR
// (vad/timeout).
func (e *Engine) endCaptureLocked(reason CaptureEndReason) {
	reqID := e.requestID
	e.stopTimersLocked()
	e.capturing = false
	e.vadDetector.Stop()
	buf := e.captureBuf
	e.captureBuf = nil
	e.emitLocked(events.KindCaptureEnded, reqID, CaptureEndedPayload{RequestID: reqID, Reason: reason})

	switch reason {
	case CaptureEndStop, CaptureEndCancel:
		e.transitionToListeningOnLocked()
	case CaptureEndVAD, CaptureEndTimeout:
		e.state = StateTranscribing
		e.emitLocked(events.KindTranscriptionStarted, reqID, TranscriptionStartedPayload{RequestID: reqID})
		samples := append([]float32(nil), buf...)
		go e.transcribe(reqID, samples)
	}
}

// cancelActiveRequestLocked aborts whatever request is in flight and
// returns to LISTENING_ON. Safe to call from any non-terminal state.
func (e *Engine) cancelActiveRequestLocked(reason CaptureEndReason) {
	reqID := e.requestID
	e.stopTimersLocked()
	if e.capturing {
		e.capturing = false
		e.vadDetector.Stop()
		e.captureBuf = nil
		e.emitLocked(events.KindCaptureEnded, reqID, CaptureEndedPayload{RequestID: reqID, Reason: reason})
	}
	e.pendingCandidates = nil
	e.pending = pendingAction{}
	e.requestID = "" // retire; drops any in-flight ASR completion for reqID
	e.transitionToListeningOnLocked()
}

// transcribe runs ASR off the engine goroutine and reports back through
// asrCompleteLocked, which drops the result if reqID has since been
// retired or superseded.
func (e *Engine) transcribe(reqID string, samples []float32) {
	transcript, err := e.deps.ASR.Transcribe(context.Background(), samples)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.asrCompleteLocked(reqID, transcript, err)
}

func (e *Engine) asrCompleteLocked(reqID, transcript string, err error) {
	if e.destroyed || e.requestID != reqID || e.state != StateTranscribing {
		return
	}
	if err != nil {
		e.emitLocked(events.KindEngineError, reqID, EngineErrorPayload{RequestID: reqID, Code: ErrASRFailed, Message: err.Error()})
		e.transitionToListeningOnLocked()
		return
	}
	transcript = strings.TrimSpace(transcript)
	if transcript == "" {
		e.emitLocked(events.KindEngineError, reqID, EngineErrorPayload{RequestID: reqID, Code: ErrNoSpeechDetected, Message: "no speech detected"})
		e.transitionToListeningOnLocked()
		return
	}
	e.emitLocked(events.KindTranscriptReady, reqID, TranscriptReadyPayload{RequestID: reqID, Transcript: transcript})

	index := domindex.Build(e.deps.Document(), domindex.Config{GlobalDenySelectors: e.cfg.GlobalDenySelectors})
	e.emitTargetIndexBuiltLocked(reqID, index)
	e.state = StateResolvingTarget
	e.resolveLocked(reqID, index, transcript)
}

// resolveLocked runs the matcher against transcript and index, then applies
// the RESOLVING_TARGET transition matching the outcome.
func (e *Engine) resolveLocked(reqID string, index domindex.Index, transcript string) {
	e.index = index
	normalized := label.Normalize(transcript)
	result := matcher.Resolve(normalized, index, e.cfg.matcherConfig())

	switch result.Outcome {
	case matcher.OutcomeUnique:
		target := result.Target
		e.emitLocked(events.KindTargetResolved, reqID, TargetResolvedPayload{
			RequestID: reqID, TargetID: target.ID, Label: target.NormalizedLabel, Match: string(result.Match),
		})
		kind := action.DefaultAction(target.Handle)
		e.emitLocked(events.KindActionProposed, reqID, ActionProposedPayload{
			RequestID: reqID, Action: string(kind), TargetID: target.ID, Risk: target.Risk,
		})
		if target.Risk == "high" {
			e.pending = pendingAction{target: target, kind: kind}
			e.state = StateAwaitingConfirm
			e.emitLocked(events.KindConfirmationRequired, reqID, ConfirmationRequiredPayload{
				RequestID: reqID, Action: string(kind), TargetID: target.ID, Label: target.NormalizedLabel,
			})
			return
		}
		e.state = StateExecuting
		delay := e.cfg.highlight()
		e.highlightTimer = time.AfterFunc(delay, func() {
			e.mu.Lock()
			defer e.mu.Unlock()
			if e.destroyed || e.requestID != reqID || e.state != StateExecuting {
				return
			}
			e.executeLocked(reqID, target)
		})

	case matcher.OutcomeAmbiguous:
		candidates := make([]CandidateSummary, len(result.Candidates))
		for i, c := range result.Candidates {
			candidates[i] = CandidateSummary{TargetID: c.ID, Label: c.NormalizedLabel}
		}
		e.emitLocked(events.KindTargetResolutionFailed, reqID, TargetResolutionFailedPayload{
			RequestID: reqID, Reason: "ambiguous", Details: AmbiguousDetails{Candidates: candidates},
		})
		e.pendingCandidates = result.Candidates
		e.state = StateError

	case matcher.OutcomeNoMatch:
		e.emitLocked(events.KindTargetResolutionFailed, reqID, TargetResolutionFailedPayload{RequestID: reqID, Reason: "no_match"})
		e.transitionToListeningOnLocked()

	case matcher.OutcomeMisconfiguration:
		labels := make([]string, len(result.CollisionGroups))
		for i, g := range result.CollisionGroups {
			labels[i] = g.Label
		}
		e.emitLocked(events.KindTargetResolutionFailed, reqID, TargetResolutionFailedPayload{
			RequestID: reqID, Reason: "misconfiguration", Details: MisconfigDetails{DuplicateLabels: labels},
		})
		e.transitionToListeningOnLocked()
	}
}

// executeLocked runs the action and returns to LISTENING_ON, surfacing
// failures as both ActionExecuted{ok:false} and an EngineError.
func (e *Engine) executeLocked(reqID string, target domindex.Target) {
	res := action.Execute(target)
	e.emitLocked(events.KindActionExecuted, reqID, ActionExecutedPayload{
		RequestID: reqID, Action: string(res.Action), TargetID: target.ID, OK: res.OK, Error: res.Error,
	})
	if !res.OK {
		e.emitLocked(events.KindEngineError, reqID, EngineErrorPayload{RequestID: reqID, Code: ErrExecutionFailed, Message: res.Error})
	}
	e.transitionToListeningOnLocked()
}

// transitionToListeningOnLocked returns to LISTENING_ON without touching
// the wired/warm-up state (listening was never disabled).
func (e *Engine) transitionToListeningOnLocked() {
	e.stopTimersLocked()
	e.state = StateListeningOn
}

func (e *Engine) stopTimersLocked() {
	if e.captureTimer != nil {
		e.captureTimer.Stop()
		e.captureTimer = nil
	}
	if e.highlightTimer != nil {
		e.highlightTimer.Stop()
		e.highlightTimer = nil
	}
}

func (e *Engine) emitTargetIndexBuiltLocked(reqID string, index domindex.Index) {
	e.emitLocked(events.KindTargetIndexBuilt, reqID, TargetIndexBuiltPayload{
		RequestID: reqID, TargetCount: len(index.Targets), Scope: string(index.Scope),
	})
}

func (e *Engine) emitLocked(kind events.Kind, requestID string, payload any) {
	e.bus.Emit(events.Event{Kind: kind, Timestamp: e.now(), RequestID: requestID, Payload: payload})
}

// mintRequestID produces a fresh 16-byte hex request id.
func (e *Engine) mintRequestID() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand.Read failing is a platform-level failure; fall back
		// to a timestamp-derived id rather than propagating from a
		// callback with no error return.
		return hex.EncodeToString([]byte(fmt.Sprintf("%016x", e.now().UnixNano())))
	}
	return hex.EncodeToString(buf)
}
