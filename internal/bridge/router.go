package bridge

import (
	"context"
	"log"
	"time"

	"github.com/origen-labs/voicebridge/internal/policy"
	"github.com/origen-labs/voicebridge/internal/realtime"
	"github.com/origen-labs/voicebridge/internal/telnyx"
	"github.com/origen-labs/voicebridge/internal/transcript"
)

const audioEndMark = "audio_end"

// eventRouter is the outbound half of the bridge: it consumes model events
// and relays audio back toward the call. It runs on a single goroutine so
// media frames keep the model's emission order.
type eventRouter struct {
	bridge        *Bridge
	tel           TelephonyConn
	model         ModelConn
	streamID      string
	callControlID string
}

func (r *eventRouter) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-r.model.Events():
			if !ok {
				log.Printf("bridge: model socket closed for %s", r.callControlID)
				return
			}
			if done := r.route(ctx, evt); done {
				return
			}
		}
	}
}

// route handles one model event. It reports true when the outbound loop
// should stop because the call is ending.
func (r *eventRouter) route(ctx context.Context, evt realtime.ServerEvent) bool {
	r.bridge.metrics.ModelEvents.WithLabelValues(string(evt.Type)).Inc()

	switch evt.Type {
	case realtime.TypeOutputAudioDelta:
		if evt.Delta == "" {
			return false
		}
		if err := r.tel.WriteJSON(telnyx.NewMediaFrame(r.streamID, evt.Delta)); err != nil {
			log.Printf("bridge: relaying audio for %s failed: %v", r.callControlID, err)
			return true
		}
		r.bridge.metrics.RelayedFrames.WithLabelValues("outbound").Inc()

	case realtime.TypeOutputAudioDone:
		if err := r.tel.WriteJSON(telnyx.NewMarkFrame(r.streamID, audioEndMark)); err != nil {
			log.Printf("bridge: sending mark for %s failed: %v", r.callControlID, err)
			return true
		}
		if r.bridge.pending.HasPending(r.callControlID) {
			return r.executePending(ctx)
		}

	case realtime.TypeSpeechStarted:
		log.Printf("bridge: caller started speaking on %s, clearing queued audio", r.callControlID)
		if err := r.tel.WriteJSON(telnyx.NewClearFrame(r.streamID)); err != nil {
			log.Printf("bridge: sending clear for %s failed: %v", r.callControlID, err)
			return true
		}

	case realtime.TypeSpeechStopped:
		log.Printf("bridge: caller stopped speaking on %s", r.callControlID)

	case realtime.TypeResponseCreated:
		log.Printf("bridge: model response started for %s", r.callControlID)

	case realtime.TypeResponseDone:
		log.Printf("bridge: model response completed for %s", r.callControlID)
		r.saveTranscript(ctx, transcript.RoleAssistant, evt.ResponseTranscript)

	case realtime.TypeInputTranscriptDone:
		log.Printf("bridge: caller transcript on %s: %s", r.callControlID, evt.Transcript)
		r.saveTranscript(ctx, transcript.RoleCaller, evt.Transcript)

	case realtime.TypeOutputTranscriptDelta:
		if evt.Delta != "" {
			log.Printf("bridge: model transcript delta on %s: %s", r.callControlID, evt.Delta)
		}

	case realtime.TypeFunctionCallArgsDone:
		r.handleFunctionCall(evt)

	case realtime.TypeError:
		log.Printf("bridge: model error on %s: %s (%s)", r.callControlID, evt.ErrorMessage, evt.ErrorCode)

	case realtime.TypeSessionCreated, realtime.TypeSessionUpdated:
		log.Printf("bridge: model session event %s for %s", evt.Type, r.callControlID)

	default:
		log.Printf("bridge: unhandled model event %s for %s", evt.Type, r.callControlID)
	}
	return false
}

// handleFunctionCall runs the tool and asks the model to voice the result.
// The acknowledgment is forced verbatim the same way the greeting is, so the
// caller hears the goodbye or transfer line before the pending operation
// executes.
func (r *eventRouter) handleFunctionCall(evt realtime.ServerEvent) {
	log.Printf("bridge: model called %s on %s", evt.Name, r.callControlID)
	result := r.bridge.dispatcher.HandleFunctionCall(evt.Name, evt.Arguments, r.callControlID)

	if err := r.model.SendFunctionOutput(evt.CallID, result); err != nil {
		log.Printf("bridge: sending function output for %s failed: %v", r.callControlID, err)
		return
	}
	err := r.model.CreateResponse(realtime.ResponseRequest{
		OutputModalities: []string{"audio"},
		Input:            []any{},
		Instructions:     result,
	})
	if err != nil {
		log.Printf("bridge: requesting acknowledgment response for %s failed: %v", r.callControlID, err)
	}
}

// executePending lets buffered audio drain on the telephony side, then runs
// the recorded call-control action and stops the loop.
func (r *eventRouter) executePending(ctx context.Context) bool {
	if err := r.bridge.calls.Closing(r.callControlID); err != nil {
		log.Printf("bridge: marking %s closing: %v", r.callControlID, err)
	}
	log.Printf("bridge: pending operation for %s, draining for %s", r.callControlID, r.bridge.drainGrace)

	timer := time.NewTimer(r.bridge.drainGrace)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
		return true
	}

	r.bridge.executor.ExecutePending(ctx, r.callControlID)
	return true
}

func (r *eventRouter) saveTranscript(ctx context.Context, role, text string) {
	if text == "" || r.bridge.transcripts == nil {
		return
	}
	redactedText, redacted := policy.RedactPII(text)
	entry := transcript.Entry{
		CallControlID: r.callControlID,
		Role:          role,
		Text:          redactedText,
		Redacted:      redacted,
	}
	if err := r.bridge.transcripts.Save(ctx, entry); err != nil {
		log.Printf("bridge: saving %s transcript for %s: %v", role, r.callControlID, err)
	}
}
