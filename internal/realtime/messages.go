package realtime

import "encoding/json"

// SessionConfig is the session.update payload sent once per call before the
// greeting. Immutable after the session is confirmed.
type SessionConfig struct {
	Type             string           `json:"type"`
	Model            string           `json:"model"`
	OutputModalities []string         `json:"output_modalities"`
	Audio            AudioConfig      `json:"audio"`
	Instructions     string           `json:"instructions"`
	Tools            []ToolDefinition `json:"tools,omitempty"`
	ToolChoice       string           `json:"tool_choice,omitempty"`
}

type AudioConfig struct {
	Input  AudioInput  `json:"input"`
	Output AudioOutput `json:"output"`
}

type AudioInput struct {
	Format        AudioFormat    `json:"format"`
	Transcription *Transcription `json:"transcription,omitempty"`
	TurnDetection *TurnDetection `json:"turn_detection,omitempty"`
}

type AudioOutput struct {
	Format AudioFormat `json:"format"`
	Voice  string      `json:"voice"`
}

type AudioFormat struct {
	Type string `json:"type"`
}

type Transcription struct {
	Model string `json:"model"`
}

type TurnDetection struct {
	Type              string `json:"type"`
	Eagerness         string `json:"eagerness,omitempty"`
	CreateResponse    bool   `json:"create_response"`
	InterruptResponse bool   `json:"interrupt_response"`
}

// ToolDefinition declares one callable function to the model.
type ToolDefinition struct {
	Type        string          `json:"type"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// ResponseRequest is the response.create payload. An empty (non-nil) Input
// tells the model to ignore prior conversation context, which is how the
// deterministic greeting is forced.
type ResponseRequest struct {
	OutputModalities []string `json:"output_modalities"`
	Input            []any    `json:"input"`
	Instructions     string   `json:"instructions"`
}

type sessionUpdate struct {
	Type    string        `json:"type"`
	Session SessionConfig `json:"session"`
}

type responseCreate struct {
	Type     string          `json:"type"`
	Response ResponseRequest `json:"response"`
}

type audioAppend struct {
	Type  string `json:"type"`
	Audio string `json:"audio"`
}

type itemCreate struct {
	Type string             `json:"type"`
	Item functionCallOutput `json:"item"`
}

type functionCallOutput struct {
	Type   string `json:"type"`
	CallID string `json:"call_id"`
	Output string `json:"output"`
}
