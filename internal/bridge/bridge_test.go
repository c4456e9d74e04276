package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/origen-labs/voicebridge/internal/agent"
	"github.com/origen-labs/voicebridge/internal/call"
	"github.com/origen-labs/voicebridge/internal/callops"
	"github.com/origen-labs/voicebridge/internal/config"
	"github.com/origen-labs/voicebridge/internal/observability"
	"github.com/origen-labs/voicebridge/internal/realtime"
	"github.com/origen-labs/voicebridge/internal/telnyx"
	"github.com/origen-labs/voicebridge/internal/transcript"
)

var errSocketClosed = errors.New("socket closed")

type fakeTelephony struct {
	frames chan []byte

	mu      sync.Mutex
	written []writtenFrame
	closed  chan struct{}
	once    sync.Once
}

type writtenFrame struct {
	Event    string `json:"event"`
	StreamID string `json:"stream_id"`
	Media    *struct {
		Payload string `json:"payload"`
	} `json:"media"`
	Mark *struct {
		Name string `json:"name"`
	} `json:"mark"`
}

func newFakeTelephony() *fakeTelephony {
	return &fakeTelephony{
		frames: make(chan []byte, 64),
		closed: make(chan struct{}),
	}
}

func (f *fakeTelephony) push(frame string) { f.frames <- []byte(frame) }

func (f *fakeTelephony) ReadMessage() (int, []byte, error) {
	select {
	case data := <-f.frames:
		return 1, data, nil
	case <-f.closed:
		return 0, nil, errSocketClosed
	}
}

func (f *fakeTelephony) WriteJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var frame writtenFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.written = append(f.written, frame)
	return nil
}

func (f *fakeTelephony) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeTelephony) frameLog() []writtenFrame {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]writtenFrame, len(f.written))
	copy(out, f.written)
	return out
}

type fakeModel struct {
	events chan realtime.ServerEvent

	mu              sync.Mutex
	sessionUpdates  []realtime.SessionConfig
	responses       []realtime.ResponseRequest
	appendedAudio   []string
	functionOutputs map[string]string
	once            sync.Once
}

func newFakeModel() *fakeModel {
	return &fakeModel{
		events:          make(chan realtime.ServerEvent, 64),
		functionOutputs: make(map[string]string),
	}
}

func (f *fakeModel) Events() <-chan realtime.ServerEvent { return f.events }

func (f *fakeModel) UpdateSession(cfg realtime.SessionConfig) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessionUpdates = append(f.sessionUpdates, cfg)
	return nil
}

func (f *fakeModel) CreateResponse(req realtime.ResponseRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses = append(f.responses, req)
	return nil
}

func (f *fakeModel) AppendAudio(audioBase64 string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.appendedAudio = append(f.appendedAudio, audioBase64)
	return nil
}

func (f *fakeModel) SendFunctionOutput(callID, output string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.functionOutputs[callID] = output
	return nil
}

func (f *fakeModel) Close() error {
	f.once.Do(func() { close(f.events) })
	return nil
}

type fakeControl struct {
	mu        sync.Mutex
	transfers []telnyx.TransferRequest
	hangups   []string

	transferErr error
}

func (f *fakeControl) Transfer(_ context.Context, callControlID string, req telnyx.TransferRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.transferErr != nil {
		return f.transferErr
	}
	f.transfers = append(f.transfers, req)
	return nil
}

func (f *fakeControl) Hangup(_ context.Context, callControlID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hangups = append(f.hangups, callControlID)
	return nil
}

func testProfile() agent.Profile {
	return agent.Profile{
		Model:        "gpt-realtime",
		Voice:        "marin",
		Instructions: "You are a helpful receptionist.",
		Greeting:     "Hello! How can I help you today?",
		Departments: []config.Department{
			{Name: "sales", SIPURI: "sip:sales@example.com"},
		},
	}
}

type fixture struct {
	bridge  *Bridge
	tel     *fakeTelephony
	model   *fakeModel
	control *fakeControl
	pending *callops.Store
	store   *transcript.InMemoryStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	profile := testProfile()
	pending := callops.NewStore()
	control := &fakeControl{}
	metrics := observability.NewMetrics("test_bridge_" + t.Name())
	store := transcript.NewInMemoryStore()
	model := newFakeModel()

	b := New(Options{
		Profile:          profile,
		Dial:             func(context.Context) (ModelConn, error) { return model, nil },
		Dispatcher:       callops.NewDispatcher(pending, profile),
		Executor:         callops.NewExecutor(pending, control, metrics),
		Pending:          pending,
		Calls:            call.NewManager(),
		Transcripts:      store,
		Metrics:          metrics,
		SetupTimeout:     time.Second,
		DrainGracePeriod: 5 * time.Millisecond,
	})

	return &fixture{bridge: b, tel: newFakeTelephony(), model: model, control: control, pending: pending, store: store}
}

const startFrame = `{"event":"start","stream_id":"st-1","start":{"call_control_id":"cc-1"}}`

func TestBridgeRelaysAudioInOrder(t *testing.T) {
	f := newFixture(t)
	f.tel.push(startFrame)

	f.model.events <- realtime.ServerEvent{Type: realtime.TypeSessionUpdated}
	for _, payload := range []string{"chunk-a", "chunk-b", "chunk-c"} {
		f.model.events <- realtime.ServerEvent{Type: realtime.TypeOutputAudioDelta, Delta: payload}
	}
	_ = f.model.Close()

	f.bridge.Run(context.Background(), f.tel)

	if len(f.model.sessionUpdates) != 1 {
		t.Fatalf("expected one session.update, got %d", len(f.model.sessionUpdates))
	}
	if len(f.model.responses) != 1 {
		t.Fatalf("expected greeting response, got %d responses", len(f.model.responses))
	}
	if f.model.responses[0].Instructions != "Hello! How can I help you today?" {
		t.Fatalf("unexpected greeting instructions: %q", f.model.responses[0].Instructions)
	}

	var payloads []string
	for _, frame := range f.tel.frameLog() {
		if frame.Event != "media" {
			t.Fatalf("unexpected frame %q in audio-only session", frame.Event)
		}
		if frame.StreamID != "st-1" {
			t.Fatalf("media frame carries wrong stream id %q", frame.StreamID)
		}
		payloads = append(payloads, frame.Media.Payload)
	}
	want := []string{"chunk-a", "chunk-b", "chunk-c"}
	if len(payloads) != len(want) {
		t.Fatalf("expected %d media frames, got %d", len(want), len(payloads))
	}
	for i := range want {
		if payloads[i] != want[i] {
			t.Fatalf("media frame %d: expected %q, got %q", i, want[i], payloads[i])
		}
	}
}

func TestBridgeForwardsCallerAudio(t *testing.T) {
	f := newFixture(t)
	f.tel.push(startFrame)
	f.tel.push(`not json at all`)
	f.tel.push(`{"event":"media","media":{"payload":"pcmu-frame-1"}}`)
	f.tel.push(`{"event":"media","media":{"payload":"pcmu-frame-2"}}`)
	f.tel.push(`{"event":"stop"}`)

	f.model.events <- realtime.ServerEvent{Type: realtime.TypeSessionCreated}

	f.bridge.Run(context.Background(), f.tel)

	if len(f.model.appendedAudio) != 2 {
		t.Fatalf("expected 2 forwarded audio frames, got %d", len(f.model.appendedAudio))
	}
	if f.model.appendedAudio[0] != "pcmu-frame-1" || f.model.appendedAudio[1] != "pcmu-frame-2" {
		t.Fatalf("forwarded audio mangled: %v", f.model.appendedAudio)
	}
}

func TestBridgeClearsQueuedAudioOnBargeIn(t *testing.T) {
	f := newFixture(t)
	f.tel.push(startFrame)

	f.model.events <- realtime.ServerEvent{Type: realtime.TypeSessionUpdated}
	f.model.events <- realtime.ServerEvent{Type: realtime.TypeOutputAudioDelta, Delta: "before"}
	f.model.events <- realtime.ServerEvent{Type: realtime.TypeSpeechStarted}
	f.model.events <- realtime.ServerEvent{Type: realtime.TypeOutputAudioDelta, Delta: "after"}
	_ = f.model.Close()

	f.bridge.Run(context.Background(), f.tel)

	frames := f.tel.frameLog()
	if len(frames) != 3 {
		t.Fatalf("expected media, clear, media; got %d frames", len(frames))
	}
	if frames[0].Event != "media" || frames[1].Event != "clear" || frames[2].Event != "media" {
		t.Fatalf("unexpected frame sequence: %s, %s, %s", frames[0].Event, frames[1].Event, frames[2].Event)
	}
}

func TestBridgeExecutesHangupAfterGoodbye(t *testing.T) {
	f := newFixture(t)
	f.tel.push(startFrame)

	f.model.events <- realtime.ServerEvent{Type: realtime.TypeSessionUpdated}
	f.model.events <- realtime.ServerEvent{
		Type:      realtime.TypeFunctionCallArgsDone,
		CallID:    "fc-1",
		Name:      "end_call",
		Arguments: `{"reason":"caller_request"}`,
	}
	f.model.events <- realtime.ServerEvent{Type: realtime.TypeOutputAudioDone}

	f.bridge.Run(context.Background(), f.tel)

	if got := f.model.functionOutputs["fc-1"]; got != "Thank you for calling! Have a wonderful day!" {
		t.Fatalf("unexpected function output: %q", got)
	}
	// Greeting plus the spoken acknowledgment.
	if len(f.model.responses) != 2 {
		t.Fatalf("expected 2 responses, got %d", len(f.model.responses))
	}

	frames := f.tel.frameLog()
	if len(frames) != 1 || frames[0].Event != "mark" || frames[0].Mark.Name != "audio_end" {
		t.Fatalf("expected a single audio_end mark frame, got %+v", frames)
	}

	if len(f.control.hangups) != 1 || f.control.hangups[0] != "cc-1" {
		t.Fatalf("expected hangup for cc-1, got %v", f.control.hangups)
	}
	if f.pending.HasPending("cc-1") {
		t.Fatalf("pending operation should be deleted after execution")
	}
}

func TestBridgeTransferFallsBackToHangup(t *testing.T) {
	f := newFixture(t)
	f.control.transferErr = errors.New("destination rejected")
	f.tel.push(startFrame)

	f.model.events <- realtime.ServerEvent{Type: realtime.TypeSessionUpdated}
	f.model.events <- realtime.ServerEvent{
		Type:      realtime.TypeFunctionCallArgsDone,
		CallID:    "fc-2",
		Name:      "transfer_call",
		Arguments: `{"department":"sales","reason":"pricing question"}`,
	}
	f.model.events <- realtime.ServerEvent{Type: realtime.TypeOutputAudioDone}

	f.bridge.Run(context.Background(), f.tel)

	if len(f.control.transfers) != 0 {
		t.Fatalf("transfer should have been rejected, got %v", f.control.transfers)
	}
	if len(f.control.hangups) != 1 {
		t.Fatalf("expected fallback hangup, got %v", f.control.hangups)
	}
}

func TestInboundMediaTouchesSession(t *testing.T) {
	f := newFixture(t)
	created := f.bridge.calls.Create("cc-9", "st-9")

	time.Sleep(5 * time.Millisecond)
	f.tel.push(`{"event":"media","media":{"payload":"pcmu"}}`)
	f.tel.push(`{"event":"stop"}`)

	f.bridge.inbound(f.tel, f.model, "cc-9")

	sess, err := f.bridge.calls.Get("cc-9")
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if !sess.LastActivityAt.After(created.LastActivityAt) {
		t.Fatalf("LastActivityAt not advanced by media: %v vs %v", sess.LastActivityAt, created.LastActivityAt)
	}
}

func TestBridgeStreamEndedBeforeStart(t *testing.T) {
	f := newFixture(t)
	dialCalled := false
	f.bridge.dial = func(context.Context) (ModelConn, error) {
		dialCalled = true
		return f.model, nil
	}

	f.tel.push(`{"event":"connected"}`)
	f.tel.push(`{"event":"stop"}`)

	done := make(chan struct{})
	go func() {
		defer close(done)
		f.bridge.Run(context.Background(), f.tel)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("bridge did not return after stop before start")
	}
	if dialCalled {
		t.Fatalf("model should not be dialed when the stream ends before start")
	}
}

func TestBridgeSetupTimeoutTearsDown(t *testing.T) {
	f := newFixture(t)
	f.bridge.setupTimeout = 10 * time.Millisecond
	f.tel.push(startFrame)
	// No session confirmation ever arrives.

	done := make(chan struct{})
	go func() {
		defer close(done)
		f.bridge.Run(context.Background(), f.tel)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("bridge did not tear down on setup timeout")
	}
	if len(f.model.responses) != 0 {
		t.Fatalf("no greeting should be sent without session confirmation")
	}
}

func TestBridgeRecordsTranscripts(t *testing.T) {
	f := newFixture(t)
	f.tel.push(startFrame)

	f.model.events <- realtime.ServerEvent{Type: realtime.TypeSessionUpdated}
	f.model.events <- realtime.ServerEvent{Type: realtime.TypeInputTranscriptDone, Transcript: "Call me back at +1 555 123 9876 about billing"}
	f.model.events <- realtime.ServerEvent{Type: realtime.TypeResponseDone, ResponseTranscript: "Sure, let me help with that."}
	_ = f.model.Close()

	f.bridge.Run(context.Background(), f.tel)

	entries, err := f.store.Recent(context.Background(), "cc-1", 10)
	if err != nil {
		t.Fatalf("Recent returned error: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 transcript entries, got %d", len(entries))
	}
	caller := entries[0]
	if caller.Role != transcript.RoleCaller || !caller.Redacted {
		t.Fatalf("unexpected caller entry: %+v", caller)
	}
	if strings.Contains(caller.Text, "9876") || !strings.Contains(caller.Text, "[REDACTED_PHONE]") {
		t.Fatalf("phone number not redacted: %q", caller.Text)
	}
	assistant := entries[1]
	if assistant.Role != transcript.RoleAssistant || assistant.Text != "Sure, let me help with that." || assistant.Redacted {
		t.Fatalf("unexpected assistant entry: %+v", assistant)
	}
}
