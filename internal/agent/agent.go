package agent

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/origen-labs/voicebridge/internal/config"
	"github.com/origen-labs/voicebridge/internal/realtime"
)

// Profile holds everything needed to configure the model session for one
// call: voice, prompt text, greeting, and the live department table.
type Profile struct {
	Model        string
	Voice        string
	Instructions string
	Greeting     string
	Departments  []config.Department
}

func NewProfile(cfg config.Config) Profile {
	return Profile{
		Model:        cfg.RealtimeModel,
		Voice:        cfg.AgentVoice,
		Instructions: cfg.AgentInstructions,
		Greeting:     cfg.AgentGreeting,
		Departments:  cfg.Departments,
	}
}

// Department looks up a configured transfer destination by name.
func (p Profile) Department(name string) (config.Department, bool) {
	for _, d := range p.Departments {
		if d.Name == name {
			return d, true
		}
	}
	return config.Department{}, false
}

// DepartmentNames lists the configured transfer destinations in table order.
func (p Profile) DepartmentNames() []string {
	names := make([]string, 0, len(p.Departments))
	for _, d := range p.Departments {
		names = append(names, d.Name)
	}
	return names
}

// SessionConfig builds the immutable model session configuration for a call.
// Telnyx delivers PCMU frames and plays PCMU back, so both audio formats are
// locked to audio/pcmu and the payloads can be relayed verbatim.
func (p Profile) SessionConfig() realtime.SessionConfig {
	cfg := realtime.SessionConfig{
		Type:             "realtime",
		Model:            p.Model,
		OutputModalities: []string{"audio"},
		Audio: realtime.AudioConfig{
			Input: realtime.AudioInput{
				Format:        realtime.AudioFormat{Type: "audio/pcmu"},
				Transcription: &realtime.Transcription{Model: "whisper-1"},
				TurnDetection: &realtime.TurnDetection{
					Type:              "semantic_vad",
					Eagerness:         "auto",
					CreateResponse:    true,
					InterruptResponse: true,
				},
			},
			Output: realtime.AudioOutput{
				Format: realtime.AudioFormat{Type: "audio/pcmu"},
				Voice:  p.Voice,
			},
		},
		Instructions: p.renderedInstructions(),
	}
	if tools := p.Tools(); len(tools) > 0 {
		cfg.Tools = tools
		cfg.ToolChoice = "auto"
	}
	return cfg
}

// GreetingRequest forces verbatim utterance of the configured greeting,
// independent of the freeform instructions, so the first thing the caller
// hears is deterministic.
func (p Profile) GreetingRequest() realtime.ResponseRequest {
	return realtime.ResponseRequest{
		OutputModalities: []string{"audio"},
		Input:            []any{},
		Instructions:     p.Greeting,
	}
}

// Tools returns the function definitions for the session. end_call is always
// present; transfer_call only exists when departments are configured, with
// its department enum derived from the live table.
func (p Profile) Tools() []realtime.ToolDefinition {
	endCallParams, _ := json.Marshal(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"reason": map[string]any{
				"type":        "string",
				"description": "The reason for ending the call",
				"enum":        []string{"conversation_complete", "caller_request", "escalation_needed"},
			},
		},
		"required": []string{"reason"},
	})

	tools := []realtime.ToolDefinition{{
		Type:        "function",
		Name:        "end_call",
		Description: "End the current phone call when the caller wants to hang up or the conversation is complete.",
		Parameters:  endCallParams,
	}}

	if len(p.Departments) == 0 {
		return tools
	}

	transferParams, _ := json.Marshal(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"department": map[string]any{
				"type":        "string",
				"description": "The department to transfer the call to",
				"enum":        p.DepartmentNames(),
			},
			"reason": map[string]any{
				"type":        "string",
				"description": "The reason for the transfer",
			},
		},
		"required": []string{"department", "reason"},
	})

	return append(tools, realtime.ToolDefinition{
		Type:        "function",
		Name:        "transfer_call",
		Description: "Transfer the call to a different department or extension when the caller needs specialized assistance.",
		Parameters:  transferParams,
	})
}

func (p Profile) renderedInstructions() string {
	if len(p.Departments) == 0 {
		return p.Instructions
	}
	transfer := fmt.Sprintf("\n- When a caller needs specialized assistance, use the transfer_call function to connect them to the right department."+
		"\n- Available departments for transfer: %s. IMPORTANT: Never call both transfer_call and end_call in the same conversation. Choose one action only.",
		strings.Join(p.DepartmentNames(), ", "))
	return p.Instructions + transfer
}
