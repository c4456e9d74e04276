package realtime

import (
	"encoding/json"
	"testing"
)

func TestParseServerEventAudioDelta(t *testing.T) {
	raw := []byte(`{"type":"response.output_audio.delta","delta":"AAEC"}`)
	evt, err := ParseServerEvent(raw)
	if err != nil {
		t.Fatalf("ParseServerEvent() error = %v", err)
	}
	if evt.Type != TypeOutputAudioDelta {
		t.Fatalf("Type = %q, want %q", evt.Type, TypeOutputAudioDelta)
	}
	if evt.Delta != "AAEC" {
		t.Fatalf("Delta = %q, want %q", evt.Delta, "AAEC")
	}
}

func TestParseServerEventFunctionCall(t *testing.T) {
	raw := []byte(`{"type":"response.function_call_arguments.done","call_id":"call_1","name":"transfer_call","arguments":"{\"department\":\"billing\",\"reason\":\"caller request\"}"}`)
	evt, err := ParseServerEvent(raw)
	if err != nil {
		t.Fatalf("ParseServerEvent() error = %v", err)
	}
	if evt.Type != TypeFunctionCallArgsDone || evt.Name != "transfer_call" || evt.CallID != "call_1" {
		t.Fatalf("unexpected event: %+v", evt)
	}

	var args map[string]string
	if err := json.Unmarshal([]byte(evt.Arguments), &args); err != nil {
		t.Fatalf("arguments not parseable: %v", err)
	}
	if args["department"] != "billing" {
		t.Fatalf("department = %q, want billing", args["department"])
	}
}

func TestParseServerEventResponseDoneTranscript(t *testing.T) {
	raw := []byte(`{"type":"response.done","response":{"output":[{"content":[{"type":"output_audio","transcript":"Thanks for calling."},{"type":"output_audio","transcript":"Goodbye!"}]}]}}`)
	evt, err := ParseServerEvent(raw)
	if err != nil {
		t.Fatalf("ParseServerEvent() error = %v", err)
	}
	want := "Thanks for calling. Goodbye!"
	if evt.ResponseTranscript != want {
		t.Fatalf("ResponseTranscript = %q, want %q", evt.ResponseTranscript, want)
	}
}

func TestParseServerEventUnknownTypePassesThrough(t *testing.T) {
	raw := []byte(`{"type":"rate_limits.updated"}`)
	evt, err := ParseServerEvent(raw)
	if err != nil {
		t.Fatalf("ParseServerEvent() error = %v", err)
	}
	if evt.Type != "rate_limits.updated" {
		t.Fatalf("Type = %q, want raw tag preserved", evt.Type)
	}
}

func TestParseServerEventRejectsMalformed(t *testing.T) {
	if _, err := ParseServerEvent([]byte("not-json")); err == nil {
		t.Fatalf("ParseServerEvent() should reject malformed input")
	}
	if _, err := ParseServerEvent([]byte(`{"delta":"x"}`)); err == nil {
		t.Fatalf("ParseServerEvent() should reject missing type tag")
	}
}

func TestResponseRequestEncodesEmptyInput(t *testing.T) {
	data, err := json.Marshal(responseCreate{
		Type:     "response.create",
		Response: ResponseRequest{OutputModalities: []string{"audio"}, Input: []any{}, Instructions: "Say hi."},
	})
	if err != nil {
		t.Fatalf("marshal error = %v", err)
	}
	var got map[string]any
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal error = %v", err)
	}
	resp := got["response"].(map[string]any)
	input, ok := resp["input"].([]any)
	if !ok || len(input) != 0 {
		t.Fatalf("input = %v, want empty array present", resp["input"])
	}
}
