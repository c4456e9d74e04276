package telnyx

import (
	"encoding/json"
	"fmt"
)

// Media socket frame events, as delivered on the bidirectional streaming
// websocket that streaming_start points at this service.
const (
	EventConnected = "connected"
	EventStart     = "start"
	EventMedia     = "media"
	EventStop      = "stop"
	EventCallEnded = "callEnded"
	EventMark      = "mark"
	EventClear     = "clear"
)

// StreamFrame is one inbound frame from the media socket.
type StreamFrame struct {
	Event          string `json:"event"`
	SequenceNumber string `json:"sequence_number,omitempty"`
	StreamID       string `json:"stream_id,omitempty"`
	Start          *struct {
		CallControlID string `json:"call_control_id"`
		MediaFormat   struct {
			Encoding   string `json:"encoding"`
			SampleRate int    `json:"sample_rate"`
			Channels   int    `json:"channels"`
		} `json:"media_format"`
	} `json:"start,omitempty"`
	Media *struct {
		Track     string `json:"track"`
		Chunk     string `json:"chunk"`
		Timestamp string `json:"timestamp"`
		Payload   string `json:"payload"`
	} `json:"media,omitempty"`
}

// ParseStreamFrame decodes a raw media socket message.
func ParseStreamFrame(raw []byte) (StreamFrame, error) {
	var f StreamFrame
	if err := json.Unmarshal(raw, &f); err != nil {
		return StreamFrame{}, fmt.Errorf("invalid stream frame: %w", err)
	}
	return f, nil
}

// MediaFrame carries base64 PCMU audio back toward the call.
type MediaFrame struct {
	Event    string       `json:"event"`
	StreamID string       `json:"stream_id"`
	Media    MediaPayload `json:"media"`
}

type MediaPayload struct {
	Payload string `json:"payload"`
}

func NewMediaFrame(streamID, payload string) MediaFrame {
	return MediaFrame{Event: EventMedia, StreamID: streamID, Media: MediaPayload{Payload: payload}}
}

// MarkFrame tags the end of a queued audio segment so playback completion
// can be correlated on the provider side.
type MarkFrame struct {
	Event    string      `json:"event"`
	StreamID string      `json:"stream_id"`
	Mark     MarkPayload `json:"mark"`
}

type MarkPayload struct {
	Name string `json:"name"`
}

func NewMarkFrame(streamID, name string) MarkFrame {
	return MarkFrame{Event: EventMark, StreamID: streamID, Mark: MarkPayload{Name: name}}
}

// ClearFrame flushes any audio Telnyx has queued for playback. Sent on
// barge-in so the caller can interrupt mid-utterance.
type ClearFrame struct {
	Event    string `json:"event"`
	StreamID string `json:"stream_id"`
}

func NewClearFrame(streamID string) ClearFrame {
	return ClearFrame{Event: EventClear, StreamID: streamID}
}
