package router

import (
	"testing"
	"time"

	"github.com/sayverb/voicerouter/internal/events"
	"github.com/sayverb/voicerouter/internal/kws"
	"github.com/sayverb/voicerouter/internal/matcher"
	"github.com/sayverb/voicerouter/pkg/audio"
	"github.com/sayverb/voicerouter/pkg/dom"
	"github.com/sayverb/voicerouter/pkg/dom/domtest"
	asrmock "github.com/sayverb/voicerouter/pkg/provider/asr/mock"
	kwsmock "github.com/sayverb/voicerouter/pkg/provider/kws/mock"
	vadmock "github.com/sayverb/voicerouter/pkg/provider/vad/mock"
)

func visibleRect() []dom.Rect { return []dom.Rect{{Width: 10, Height: 10}} }

func withVoiceID(id string, attrs map[string]string) map[string]string {
	out := map[string]string{"data-voice-id": id}
	for k, v := range attrs {
		out[k] = v
	}
	return out
}

func fixedMel(value float32) *kwsmock.Session {
	out := make([]float32, 5*audio.MelBins)
	for i := range out {
		out[i] = value
	}
	return &kwsmock.Session{Output: out}
}

func fixedEmbedding(value float32) *kwsmock.Session {
	out := make([]float32, audio.EmbeddingDims)
	for i := range out {
		out[i] = value
	}
	return &kwsmock.Session{Output: out}
}

func scoreClassifier(score float32) *kwsmock.Session {
	return &kwsmock.Session{Output: []float32{score}}
}

// newTestEngine builds a started Engine whose KWS/VAD/ASR are quiescent
// mocks and whose document is doc, suitable for SimulateTranscript-driven
// tests that never touch the audio path.
func newTestEngine(t *testing.T, doc *domtest.Document, cfgOverride func(*Config)) *Engine {
	t.Helper()
	cfg := Config{HighlightMs: 1, CaptureTimeoutMs: 5000}
	if cfgOverride != nil {
		cfgOverride(&cfg)
	}
	e := New(cfg, Dependencies{
		Mel:       fixedMel(0),
		Embedding: fixedEmbedding(0),
		VAD:       &vadmock.Session{},
		ASR:       &asrmock.Engine{},
		Document:  func() dom.Document { return doc },
	})
	if err := e.StartListening(); err != nil {
		t.Fatalf("StartListening: %v", err)
	}
	return e
}

func waitForKind(t *testing.T, ch <-chan events.Event, kind events.Kind, timeout time.Duration) events.Event {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case ev := <-ch:
			if ev.Kind == kind {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for event kind %q", kind)
		}
	}
}

func subscribeAll(e *Engine) <-chan events.Event {
	ch := make(chan events.Event, 64)
	e.On(func(ev events.Event) { ch <- ev })
	return ch
}

func TestEngine_StartListening_EmitsListeningChanged(t *testing.T) {
	doc := domtest.NewDocument(&domtest.Element{Tag: "body", ID: "root"})
	e := New(Config{}, Dependencies{
		Mel: fixedMel(0), Embedding: fixedEmbedding(0),
		VAD: &vadmock.Session{}, ASR: &asrmock.Engine{},
		Document: func() dom.Document { return doc },
	})
	ch := subscribeAll(e)
	if err := e.StartListening(); err != nil {
		t.Fatalf("StartListening: %v", err)
	}
	ev := waitForKind(t, ch, events.KindListeningChanged, time.Second)
	p := ev.Payload.(ListeningChangedPayload)
	if !p.Enabled {
		t.Errorf("Enabled = false, want true")
	}
	if e.GetState() != StateListeningOn {
		t.Errorf("state = %q, want LISTENING_ON", e.GetState())
	}

	// idempotent
	if err := e.StartListening(); err != nil {
		t.Fatalf("second StartListening: %v", err)
	}
}

func TestEngine_Scenario1_ExactUniqueClick(t *testing.T) {
	submit := &domtest.Element{Tag: "button", ID: "submit", Text: "Submit", Rects: visibleRect(), Attrs: withVoiceID("submit", nil)}
	doc := domtest.NewDocument(submit)
	e := newTestEngine(t, doc, nil)
	ch := subscribeAll(e)

	if err := e.SimulateTranscript("Submit"); err != nil {
		t.Fatalf("SimulateTranscript: %v", err)
	}

	// SimulateTranscript's synchronous emits land on ch in the order the
	// scenario walkthrough specifies: TargetIndexBuilt, then
	// TranscriptReady.
	first := <-ch
	second := <-ch
	if first.Kind != events.KindTargetIndexBuilt || second.Kind != events.KindTranscriptReady {
		t.Fatalf("event order = %q, %q; want TargetIndexBuilt, TranscriptReady", first.Kind, second.Kind)
	}

	tr := waitForKind(t, ch, events.KindTargetResolved, time.Second)
	rp := tr.Payload.(TargetResolvedPayload)
	if rp.Label != "submit" || rp.Match != "exact" || rp.TargetID != "submit" {
		t.Fatalf("TargetResolved = %+v, want label=submit match=exact id=submit", rp)
	}
	ae := waitForKind(t, ch, events.KindActionExecuted, time.Second)
	ap := ae.Payload.(ActionExecutedPayload)
	if !ap.OK {
		t.Fatalf("ActionExecuted.OK = false, want true: %+v", ap)
	}
	if submit.ClickCalls != 1 {
		t.Errorf("ClickCalls = %d, want 1", submit.ClickCalls)
	}
	if got := e.GetState(); got != StateListeningOn {
		t.Errorf("final state = %q, want LISTENING_ON", got)
	}
}

func TestEngine_Scenario2_SynonymResolves(t *testing.T) {
	link := &domtest.Element{
		Tag: "a", ID: "billing", Rects: visibleRect(),
		Attrs: withVoiceID("billing", map[string]string{
			"href": "/billing", "data-voice-label": "Billing", "data-voice-synonyms": "invoices, payments",
		}),
	}
	doc := domtest.NewDocument(link)
	e := newTestEngine(t, doc, nil)
	ch := subscribeAll(e)

	if err := e.SimulateTranscript("invoices"); err != nil {
		t.Fatalf("SimulateTranscript: %v", err)
	}
	tr := waitForKind(t, ch, events.KindTargetResolved, time.Second)
	rp := tr.Payload.(TargetResolvedPayload)
	if rp.Label != "billing" || rp.Match != "exact" {
		t.Fatalf("TargetResolved = %+v, want label=billing match=exact", rp)
	}
	waitForKind(t, ch, events.KindActionExecuted, time.Second)
	if link.ClickCalls != 1 {
		t.Errorf("ClickCalls = %d, want 1", link.ClickCalls)
	}
}

func TestEngine_Scenario3_FuzzyUnique(t *testing.T) {
	submit := &domtest.Element{Tag: "button", ID: "submit", Text: "Submit", Rects: visibleRect(), Attrs: withVoiceID("submit", nil)}
	other := &domtest.Element{Tag: "button", ID: "cancel", Text: "Cancel", Rects: visibleRect(), Attrs: withVoiceID("cancel", nil)}
	doc := domtest.NewDocument(&domtest.Element{Tag: "body", ID: "root", Children: []*domtest.Element{submit, other}})
	e := newTestEngine(t, doc, nil)
	ch := subscribeAll(e)

	// "submi" is one deletion away from "submit" (similarity 5/6 ~= 0.83,
	// above the default 0.7 fuzzy threshold) and far from "cancel".
	if err := e.SimulateTranscript("submi"); err != nil {
		t.Fatalf("SimulateTranscript: %v", err)
	}
	tr := waitForKind(t, ch, events.KindTargetResolved, time.Second)
	rp := tr.Payload.(TargetResolvedPayload)
	if rp.Match != "fuzzy" || rp.TargetID != "submit" {
		t.Fatalf("TargetResolved = %+v, want fuzzy match on submit", rp)
	}
	waitForKind(t, ch, events.KindActionExecuted, time.Second)
	if submit.ClickCalls != 1 {
		t.Errorf("ClickCalls = %d, want 1", submit.ClickCalls)
	}
}

func twoDeletes() (*domtest.Document, *domtest.Element, *domtest.Element) {
	a := &domtest.Element{Tag: "button", ID: "del-a", Text: "Delete", Rects: visibleRect(), Attrs: withVoiceID("del-a", nil)}
	b := &domtest.Element{Tag: "button", ID: "del-b", Text: "Delete", Rects: visibleRect(), Attrs: withVoiceID("del-b", nil)}
	doc := domtest.NewDocument(&domtest.Element{Tag: "body", ID: "root", Children: []*domtest.Element{a, b}})
	return doc, a, b
}

func TestEngine_Scenario4_AmbiguousDisambiguate(t *testing.T) {
	doc, _, b := twoDeletes()
	e := newTestEngine(t, doc, func(c *Config) { c.CollisionPolicy = matcher.CollisionDisambiguate })
	ch := subscribeAll(e)

	if err := e.SimulateTranscript("delete"); err != nil {
		t.Fatalf("SimulateTranscript: %v", err)
	}
	failed := waitForKind(t, ch, events.KindTargetResolutionFailed, time.Second)
	fp := failed.Payload.(TargetResolutionFailedPayload)
	if fp.Reason != "ambiguous" {
		t.Fatalf("Reason = %q, want ambiguous", fp.Reason)
	}
	details := fp.Details.(AmbiguousDetails)
	if len(details.Candidates) != 2 {
		t.Fatalf("Candidates = %v, want 2", details.Candidates)
	}
	if got := e.GetState(); got != StateError {
		t.Fatalf("state = %q, want ERROR (ambiguous hold)", got)
	}

	if err := e.SelectDisambiguationTarget("del-b"); err != nil {
		t.Fatalf("SelectDisambiguationTarget: %v", err)
	}
	ae := waitForKind(t, ch, events.KindActionExecuted, time.Second)
	ap := ae.Payload.(ActionExecutedPayload)
	if !ap.OK || ap.TargetID != "del-b" {
		t.Fatalf("ActionExecuted = %+v, want ok targetId=del-b", ap)
	}
	if b.ClickCalls != 1 {
		t.Errorf("del-b ClickCalls = %d, want 1", b.ClickCalls)
	}
	if e.GetState() != StateListeningOn {
		t.Errorf("final state = %q, want LISTENING_ON", e.GetState())
	}
}

func TestEngine_Scenario5_ErrorPolicyMisconfiguration(t *testing.T) {
	doc, _, _ := twoDeletes()
	e := newTestEngine(t, doc, func(c *Config) { c.CollisionPolicy = matcher.CollisionError })
	ch := subscribeAll(e)

	if err := e.SimulateTranscript("submit"); err != nil {
		t.Fatalf("SimulateTranscript: %v", err)
	}
	failed := waitForKind(t, ch, events.KindTargetResolutionFailed, time.Second)
	fp := failed.Payload.(TargetResolutionFailedPayload)
	if fp.Reason != "misconfiguration" {
		t.Fatalf("Reason = %q, want misconfiguration", fp.Reason)
	}
	if e.GetState() != StateListeningOn {
		t.Errorf("final state = %q, want LISTENING_ON", e.GetState())
	}
}

func TestEngine_Scenario6_HighRiskConfirmation(t *testing.T) {
	del := &domtest.Element{
		Tag: "button", ID: "delete-account", Text: "Delete Account", Rects: visibleRect(),
		Attrs: withVoiceID("delete-account", map[string]string{"data-voice-risk": "high"}),
	}
	doc := domtest.NewDocument(del)
	e := newTestEngine(t, doc, nil)
	ch := subscribeAll(e)

	if err := e.SimulateTranscript("delete account"); err != nil {
		t.Fatalf("SimulateTranscript: %v", err)
	}
	waitForKind(t, ch, events.KindTargetResolved, time.Second)
	cr := waitForKind(t, ch, events.KindConfirmationRequired, time.Second)
	cp := cr.Payload.(ConfirmationRequiredPayload)
	if cp.TargetID != "delete-account" {
		t.Fatalf("ConfirmationRequired targetId = %q, want delete-account", cp.TargetID)
	}
	if e.GetState() != StateAwaitingConfirm {
		t.Fatalf("state = %q, want AWAITING_CONFIRMATION", e.GetState())
	}

	if err := e.ConfirmAction(); err != nil {
		t.Fatalf("ConfirmAction: %v", err)
	}
	ae := waitForKind(t, ch, events.KindActionExecuted, time.Second)
	if !ae.Payload.(ActionExecutedPayload).OK {
		t.Fatalf("ActionExecuted not ok: %+v", ae.Payload)
	}
	if del.ClickCalls != 1 {
		t.Errorf("ClickCalls = %d, want 1", del.ClickCalls)
	}
	if e.GetState() != StateListeningOn {
		t.Errorf("final state = %q, want LISTENING_ON", e.GetState())
	}
}

func TestEngine_Scenario6b_CancelConfirmationRunsNoAction(t *testing.T) {
	del := &domtest.Element{
		Tag: "button", ID: "delete-account", Text: "Delete Account", Rects: visibleRect(),
		Attrs: withVoiceID("delete-account", map[string]string{"data-voice-risk": "high"}),
	}
	doc := domtest.NewDocument(del)
	e := newTestEngine(t, doc, nil)
	ch := subscribeAll(e)

	if err := e.SimulateTranscript("delete account"); err != nil {
		t.Fatalf("SimulateTranscript: %v", err)
	}
	waitForKind(t, ch, events.KindConfirmationRequired, time.Second)

	if err := e.CancelConfirmation(); err != nil {
		t.Fatalf("CancelConfirmation: %v", err)
	}
	if del.ClickCalls != 0 {
		t.Errorf("ClickCalls = %d, want 0 (cancelled)", del.ClickCalls)
	}
	if e.GetState() != StateListeningOn {
		t.Errorf("state = %q, want LISTENING_ON", e.GetState())
	}
}

func TestEngine_Scenario7_ModalScope(t *testing.T) {
	bgClose := &domtest.Element{Tag: "button", ID: "bg-close", Text: "Close", Rects: visibleRect(), Attrs: withVoiceID("bg-close", nil)}
	dialogClose := &domtest.Element{Tag: "button", ID: "dialog-close", Text: "Close", Rects: visibleRect(), Attrs: withVoiceID("dialog-close", nil)}
	dialog := &domtest.Element{
		Tag: "div", ID: "dialog", Rects: visibleRect(),
		Attrs:    map[string]string{"role": "dialog", "aria-modal": "true"},
		Children: []*domtest.Element{dialogClose},
	}
	root := &domtest.Element{Tag: "body", ID: "root", Children: []*domtest.Element{bgClose, dialog}}
	doc := domtest.NewDocument(root)
	e := newTestEngine(t, doc, nil)
	ch := subscribeAll(e)

	if err := e.SimulateTranscript("close"); err != nil {
		t.Fatalf("SimulateTranscript: %v", err)
	}
	built := waitForKind(t, ch, events.KindTargetIndexBuilt, time.Second)
	bp := built.Payload.(TargetIndexBuiltPayload)
	if bp.Scope != "modal" {
		t.Fatalf("Scope = %q, want modal", bp.Scope)
	}
	tr := waitForKind(t, ch, events.KindTargetResolved, time.Second)
	rp := tr.Payload.(TargetResolvedPayload)
	if rp.TargetID != "dialog-close" {
		t.Fatalf("resolved targetId = %q, want the dialog's close button", rp.TargetID)
	}
	waitForKind(t, ch, events.KindActionExecuted, time.Second)
	if bgClose.ClickCalls != 0 {
		t.Errorf("background Close was clicked; scope should have excluded it")
	}
	if dialogClose.ClickCalls != 1 {
		t.Errorf("dialog Close ClickCalls = %d, want 1", dialogClose.ClickCalls)
	}
}

// TestEngine_KWSCooldown_SuppressesRepeatKeywordDetected warms the pipeline
// up under an injected clock so the "open" classifier's stable score fires
// once, cancels the resulting capture, advances the clock by less than the
// keyword's cooldown, and feeds another frame: exactly one
// KeywordDetected("open") should be observed within the cooldown window.
func TestEngine_KWSCooldown_SuppressesRepeatKeywordDetected(t *testing.T) {
	doc := domtest.NewDocument(&domtest.Element{Tag: "body", ID: "root"})
	clock := time.Unix(0, 0)
	now := func() time.Time { return clock }

	e := New(Config{Now: now, WarmupFrames: 40}, Dependencies{
		Mel:       fixedMel(0),
		Embedding: fixedEmbedding(0),
		Keywords: map[string]kws.KeywordConfig{
			KeywordOpen: {Classifier: scoreClassifier(0.9), Threshold: 0.5, CooldownMs: 1500},
		},
		VAD:      &vadmock.Session{},
		ASR:      &asrmock.Engine{},
		Document: func() dom.Document { return doc },
	})
	ch := subscribeAll(e)
	if err := e.StartListening(); err != nil {
		t.Fatalf("StartListening: %v", err)
	}

	first := waitForKind(t, ch, events.KindKeywordDetected, time.Second)
	if first.Payload.(KeywordDetectedPayload).Keyword != KeywordOpen {
		t.Fatalf("first detection keyword = %+v, want open", first.Payload)
	}

	// Cancel the capture "open" just triggered so the engine returns to
	// LISTENING_ON and can detect "open" again.
	if err := e.Cancel(); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	waitForKind(t, ch, events.KindCaptureEnded, time.Second)

	// Advance the clock by less than the 1500 ms cooldown and feed one more
	// frame: the classifier still scores 0.9 but must not re-fire.
	clock = clock.Add(300 * time.Millisecond)
	var frame audio.Frame
	e.ProcessAudioFrame(frame)

	select {
	case ev := <-ch:
		t.Fatalf("unexpected event during cooldown: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}

	// Advance past the cooldown and confirm it fires again.
	clock = clock.Add(1500 * time.Millisecond)
	e.ProcessAudioFrame(frame)
	second := waitForKind(t, ch, events.KindKeywordDetected, time.Second)
	if second.Payload.(KeywordDetectedPayload).Keyword != KeywordOpen {
		t.Fatalf("second detection keyword = %+v, want open", second.Payload)
	}
}

func TestEngine_CancelDuringCapture_DiscardsBufferAndReturnsToListening(t *testing.T) {
	doc := domtest.NewDocument(&domtest.Element{Tag: "body", ID: "root"})
	e := New(Config{}, Dependencies{
		Mel: fixedMel(0), Embedding: fixedEmbedding(0),
		VAD: &vadmock.Session{}, ASR: &asrmock.Engine{},
		Document: func() dom.Document { return doc },
	})
	if err := e.StartListening(); err != nil {
		t.Fatalf("StartListening: %v", err)
	}
	ch := subscribeAll(e)
	e.mu.Lock()
	e.beginCaptureLocked()
	e.mu.Unlock()

	if e.GetState() != StateCapturingTarget {
		t.Fatalf("state = %q, want CAPTURING_TARGET", e.GetState())
	}
	waitForKind(t, ch, events.KindCaptureStarted, time.Second)
	e.ProcessAudioFrame(audio.Frame{}) // put one frame in the capture buffer

	if err := e.Cancel(); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	ended := waitForKind(t, ch, events.KindCaptureEnded, time.Second)
	if ended.Payload.(CaptureEndedPayload).Reason != CaptureEndCancel {
		t.Fatalf("CaptureEnded reason = %v, want cancel", ended.Payload.(CaptureEndedPayload).Reason)
	}
	e.mu.Lock()
	bufLen := len(e.captureBuf)
	e.mu.Unlock()
	if bufLen != 0 {
		t.Errorf("capture buffer len = %d after cancel, want 0 (discarded)", bufLen)
	}
	if e.GetState() != StateListeningOn {
		t.Errorf("state = %q, want LISTENING_ON", e.GetState())
	}
}

func TestEngine_CaptureTimeout_TriggersTranscription(t *testing.T) {
	submit := &domtest.Element{Tag: "button", ID: "submit", Text: "Submit", Rects: visibleRect(), Attrs: withVoiceID("submit", nil)}
	doc := domtest.NewDocument(submit)
	asr := &asrmock.Engine{TranscribeResult: "submit"}
	e := New(Config{CaptureTimeoutMs: 20, HighlightMs: 1}, Dependencies{
		Mel: fixedMel(0), Embedding: fixedEmbedding(0),
		VAD: &vadmock.Session{}, ASR: asr,
		Document: func() dom.Document { return doc },
	})
	if err := e.StartListening(); err != nil {
		t.Fatalf("StartListening: %v", err)
	}
	ch := subscribeAll(e)
	e.mu.Lock()
	e.beginCaptureLocked()
	e.mu.Unlock()

	waitForKind(t, ch, events.KindCaptureStarted, time.Second)
	ended := waitForKind(t, ch, events.KindCaptureEnded, time.Second)
	if ended.Payload.(CaptureEndedPayload).Reason != CaptureEndTimeout {
		t.Fatalf("CaptureEnded reason = %v, want timeout", ended.Payload.(CaptureEndedPayload).Reason)
	}
	waitForKind(t, ch, events.KindTranscriptionStarted, time.Second)
	waitForKind(t, ch, events.KindActionExecuted, time.Second)
	if submit.ClickCalls != 1 {
		t.Errorf("ClickCalls = %d, want 1", submit.ClickCalls)
	}
}

func TestEngine_StopListening_CancelsInFlightRequestFirst(t *testing.T) {
	doc := domtest.NewDocument(&domtest.Element{Tag: "body", ID: "root"})
	e := New(Config{}, Dependencies{
		Mel: fixedMel(0), Embedding: fixedEmbedding(0),
		VAD: &vadmock.Session{}, ASR: &asrmock.Engine{},
		Document: func() dom.Document { return doc },
	})
	if err := e.StartListening(); err != nil {
		t.Fatalf("StartListening: %v", err)
	}
	e.mu.Lock()
	e.beginCaptureLocked()
	e.mu.Unlock()

	if err := e.StopListening(); err != nil {
		t.Fatalf("StopListening: %v", err)
	}
	if e.GetState() != StateListeningOff {
		t.Fatalf("state = %q, want LISTENING_OFF", e.GetState())
	}
}

func TestEngine_SimulateTranscript_RequiresListeningOn(t *testing.T) {
	doc := domtest.NewDocument(&domtest.Element{Tag: "body", ID: "root"})
	e := New(Config{}, Dependencies{
		Mel: fixedMel(0), Embedding: fixedEmbedding(0),
		VAD: &vadmock.Session{}, ASR: &asrmock.Engine{},
		Document: func() dom.Document { return doc },
	})
	if err := e.SimulateTranscript("anything"); err != ErrNotListening {
		t.Fatalf("err = %v, want ErrNotListening", err)
	}
}

func TestEngine_Destroy_ReleasesASR(t *testing.T) {
	doc := domtest.NewDocument(&domtest.Element{Tag: "body", ID: "root"})
	asr := &asrmock.Engine{}
	e := New(Config{}, Dependencies{
		Mel: fixedMel(0), Embedding: fixedEmbedding(0),
		VAD: &vadmock.Session{}, ASR: asr,
		Document: func() dom.Document { return doc },
	})
	if err := e.Destroy(); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
	if asr.CloseCallCount != 1 {
		t.Errorf("CloseCallCount = %d, want 1", asr.CloseCallCount)
	}
	if err := e.StartListening(); err != ErrDestroyed {
		t.Errorf("StartListening after Destroy = %v, want ErrDestroyed", err)
	}
}
