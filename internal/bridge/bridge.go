package bridge

import (
	"context"
	"log"
	"time"

	"github.com/origen-labs/voicebridge/internal/agent"
	"github.com/origen-labs/voicebridge/internal/call"
	"github.com/origen-labs/voicebridge/internal/callops"
	"github.com/origen-labs/voicebridge/internal/observability"
	"github.com/origen-labs/voicebridge/internal/realtime"
	"github.com/origen-labs/voicebridge/internal/telnyx"
	"github.com/origen-labs/voicebridge/internal/transcript"
)

// TelephonyConn is the slice of the media websocket the bridge needs.
// *websocket.Conn satisfies it.
type TelephonyConn interface {
	ReadMessage() (int, []byte, error)
	WriteJSON(v any) error
	Close() error
}

// ModelConn is the slice of the realtime connection the bridge needs.
// *realtime.Conn satisfies it.
type ModelConn interface {
	Events() <-chan realtime.ServerEvent
	UpdateSession(cfg realtime.SessionConfig) error
	CreateResponse(req realtime.ResponseRequest) error
	AppendAudio(audioBase64 string) error
	SendFunctionOutput(callID, output string) error
	Close() error
}

// ModelDialer opens a realtime connection for one call.
type ModelDialer func(ctx context.Context) (ModelConn, error)

// Bridge runs the per-call session between the telephony media socket and
// the realtime model socket.
type Bridge struct {
	profile     agent.Profile
	dial        ModelDialer
	dispatcher  *callops.Dispatcher
	executor    *callops.Executor
	pending     *callops.Store
	calls       *call.Manager
	transcripts transcript.Store
	metrics     *observability.Metrics

	setupTimeout time.Duration
	drainGrace   time.Duration
}

type Options struct {
	Profile     agent.Profile
	Dial        ModelDialer
	Dispatcher  *callops.Dispatcher
	Executor    *callops.Executor
	Pending     *callops.Store
	Calls       *call.Manager
	Transcripts transcript.Store
	Metrics     *observability.Metrics

	SetupTimeout     time.Duration
	DrainGracePeriod time.Duration
}

func New(opts Options) *Bridge {
	if opts.SetupTimeout <= 0 {
		opts.SetupTimeout = 10 * time.Second
	}
	if opts.DrainGracePeriod <= 0 {
		opts.DrainGracePeriod = 2 * time.Second
	}
	return &Bridge{
		profile:      opts.Profile,
		dial:         opts.Dial,
		dispatcher:   opts.Dispatcher,
		executor:     opts.Executor,
		pending:      opts.Pending,
		calls:        opts.Calls,
		transcripts:  opts.Transcripts,
		metrics:      opts.Metrics,
		setupTimeout: opts.SetupTimeout,
		drainGrace:   opts.DrainGracePeriod,
	}
}

// Run drives one call session to completion. It owns both sockets from this
// point on and always closes them before returning. Errors end the session;
// they are logged, never propagated.
func (b *Bridge) Run(ctx context.Context, tel TelephonyConn) {
	defer func() { _ = tel.Close() }()

	streamID, callControlID, ok := b.awaitStart(tel)
	if !ok {
		return
	}

	setupStart := time.Now()
	log.Printf("bridge: media stream %s started for call %s", streamID, callControlID)

	b.calls.Create(callControlID, streamID)
	b.metrics.ActiveCalls.Inc()
	b.metrics.CallEvents.WithLabelValues("stream_started").Inc()
	defer func() {
		b.metrics.ActiveCalls.Dec()
		if _, err := b.calls.Close(callControlID); err != nil {
			log.Printf("bridge: closing session for %s: %v", callControlID, err)
		}
		b.pending.Delete(callControlID)
		log.Printf("bridge: session cleanup complete for call %s", callControlID)
	}()

	model, err := b.dial(ctx)
	if err != nil {
		log.Printf("bridge: dialing model for %s failed: %v", callControlID, err)
		return
	}
	defer func() { _ = model.Close() }()

	if err := model.UpdateSession(b.profile.SessionConfig()); err != nil {
		log.Printf("bridge: session.update for %s failed: %v", callControlID, err)
		return
	}
	if !b.awaitSessionConfirmation(ctx, model, callControlID) {
		return
	}
	b.metrics.ObserveSetupLatency(time.Since(setupStart))

	if err := model.CreateResponse(b.profile.GreetingRequest()); err != nil {
		log.Printf("bridge: greeting for %s failed: %v", callControlID, err)
		return
	}
	log.Printf("bridge: queued greeting for call %s", callControlID)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	router := &eventRouter{
		bridge:        b,
		tel:           tel,
		model:         model,
		streamID:      streamID,
		callControlID: callControlID,
	}

	outboundDone := make(chan struct{})
	go func() {
		defer close(outboundDone)
		router.run(ctx)
	}()

	inboundDone := make(chan struct{})
	go func() {
		defer close(inboundDone)
		b.inbound(tel, model, callControlID)
	}()

	select {
	case <-outboundDone:
	case <-inboundDone:
	case <-ctx.Done():
	}

	// Teardown in fixed order: stop the peer loop, then close both sockets
	// to unblock any reads, then wait for both loops to finish.
	cancel()
	_ = model.Close()
	_ = tel.Close()
	<-outboundDone
	<-inboundDone
}

// awaitStart consumes telephony frames until the start frame arrives. A
// stop, callEnded, or socket close before start ends the session quietly.
func (b *Bridge) awaitStart(tel TelephonyConn) (streamID, callControlID string, ok bool) {
	for {
		_, data, err := tel.ReadMessage()
		if err != nil {
			log.Printf("bridge: media socket closed before start: %v", err)
			return "", "", false
		}
		frame, err := telnyx.ParseStreamFrame(data)
		if err != nil {
			log.Printf("bridge: skipping malformed media frame: %v", err)
			continue
		}
		switch frame.Event {
		case telnyx.EventConnected:
		case telnyx.EventStart:
			if frame.Start == nil || frame.Start.CallControlID == "" {
				log.Printf("bridge: start frame missing call_control_id, skipping")
				continue
			}
			return frame.StreamID, frame.Start.CallControlID, true
		case telnyx.EventStop, telnyx.EventCallEnded:
			log.Printf("bridge: media stream ended before start (%s)", frame.Event)
			return "", "", false
		default:
			log.Printf("bridge: ignoring %q frame before start", frame.Event)
		}
	}
}

// awaitSessionConfirmation waits for the model to acknowledge the session
// configuration. Other events arriving first are logged and skipped; a
// timeout or closed socket is a fatal setup error.
func (b *Bridge) awaitSessionConfirmation(ctx context.Context, model ModelConn, callControlID string) bool {
	timer := time.NewTimer(b.setupTimeout)
	defer timer.Stop()

	for {
		select {
		case evt, ok := <-model.Events():
			if !ok {
				log.Printf("bridge: model socket closed before session confirmation for %s", callControlID)
				return false
			}
			switch evt.Type {
			case realtime.TypeSessionCreated, realtime.TypeSessionUpdated:
				log.Printf("bridge: model session confirmed for %s (%s)", callControlID, evt.Type)
				return true
			default:
				log.Printf("bridge: ignoring %s before session confirmation", evt.Type)
			}
		case <-timer.C:
			log.Printf("bridge: timed out waiting for session confirmation for %s", callControlID)
			return false
		case <-ctx.Done():
			return false
		}
	}
}

// inbound relays caller audio to the model until the stream ends.
func (b *Bridge) inbound(tel TelephonyConn, model ModelConn, callControlID string) {
	for {
		_, data, err := tel.ReadMessage()
		if err != nil {
			log.Printf("bridge: media socket closed for %s: %v", callControlID, err)
			return
		}
		frame, err := telnyx.ParseStreamFrame(data)
		if err != nil {
			log.Printf("bridge: skipping malformed media frame for %s: %v", callControlID, err)
			continue
		}
		switch frame.Event {
		case telnyx.EventMedia:
			if frame.Media == nil || frame.Media.Payload == "" {
				continue
			}
			if err := model.AppendAudio(frame.Media.Payload); err != nil {
				log.Printf("bridge: forwarding audio for %s failed: %v", callControlID, err)
				return
			}
			b.metrics.RelayedFrames.WithLabelValues("inbound").Inc()
			_ = b.calls.Touch(callControlID)
		case telnyx.EventStop, telnyx.EventCallEnded:
			log.Printf("bridge: media stream ended for %s (%s)", callControlID, frame.Event)
			b.metrics.CallEvents.WithLabelValues("stream_ended").Inc()
			return
		case telnyx.EventConnected:
		default:
			log.Printf("bridge: unhandled media event %q for %s", frame.Event, callControlID)
		}
	}
}
