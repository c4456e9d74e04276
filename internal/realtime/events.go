package realtime

import (
	"encoding/json"
	"fmt"
	"strings"
)

// EventType identifies realtime server event variants.
type EventType string

const (
	TypeSessionCreated        EventType = "session.created"
	TypeSessionUpdated        EventType = "session.updated"
	TypeOutputAudioDelta      EventType = "response.output_audio.delta"
	TypeOutputAudioDone       EventType = "response.output_audio.done"
	TypeSpeechStarted         EventType = "input_audio_buffer.speech_started"
	TypeSpeechStopped         EventType = "input_audio_buffer.speech_stopped"
	TypeResponseCreated       EventType = "response.created"
	TypeResponseDone          EventType = "response.done"
	TypeFunctionCallArgsDone  EventType = "response.function_call_arguments.done"
	TypeOutputTranscriptDelta EventType = "response.output_audio_transcript.delta"
	TypeInputTranscriptDone   EventType = "conversation.item.input_audio_transcription.completed"
	TypeError                 EventType = "error"
)

// ServerEvent is one decoded event from the realtime socket. Only the fields
// relevant to the event's type are populated; unrecognized types keep the
// raw tag so the router can log them.
type ServerEvent struct {
	Type EventType

	// Audio or transcript delta payload.
	Delta string

	// Function call fields (response.function_call_arguments.done).
	CallID    string
	Name      string
	Arguments string

	// Completed caller transcription.
	Transcript string

	// Assistant transcript extracted from response.done output items.
	ResponseTranscript string

	// Error event detail.
	ErrorCode    string
	ErrorMessage string
}

type rawServerEvent struct {
	Type       string `json:"type"`
	Delta      string `json:"delta"`
	CallID     string `json:"call_id"`
	Name       string `json:"name"`
	Arguments  string `json:"arguments"`
	Transcript string `json:"transcript"`
	Response   *struct {
		Output []struct {
			Content []struct {
				Type       string `json:"type"`
				Transcript string `json:"transcript"`
			} `json:"content"`
		} `json:"output"`
	} `json:"response"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// ParseServerEvent decodes one realtime message. Unknown type tags are not
// an error; they come back with their tag intact so callers can log and
// continue.
func ParseServerEvent(raw []byte) (ServerEvent, error) {
	var r rawServerEvent
	if err := json.Unmarshal(raw, &r); err != nil {
		return ServerEvent{}, fmt.Errorf("invalid server event: %w", err)
	}
	if strings.TrimSpace(r.Type) == "" {
		return ServerEvent{}, fmt.Errorf("server event missing type tag")
	}

	evt := ServerEvent{
		Type:       EventType(r.Type),
		Delta:      r.Delta,
		CallID:     r.CallID,
		Name:       r.Name,
		Arguments:  r.Arguments,
		Transcript: r.Transcript,
	}
	if r.Error != nil {
		evt.ErrorCode = r.Error.Code
		evt.ErrorMessage = r.Error.Message
	}
	if evt.Type == TypeResponseDone && r.Response != nil {
		var sb strings.Builder
		for _, item := range r.Response.Output {
			for _, part := range item.Content {
				if part.Transcript == "" {
					continue
				}
				if sb.Len() > 0 {
					sb.WriteString(" ")
				}
				sb.WriteString(part.Transcript)
			}
		}
		evt.ResponseTranscript = sb.String()
	}
	return evt, nil
}
