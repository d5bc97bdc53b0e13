package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/tabhub/tabhub/pkg/assistant"
)

func TestParseScenario(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{
			name: "no flag returns echo",
			args: []string{"mock-assistant"},
			want: "echo",
		},
		{
			name: "separate flag and value",
			args: []string{"mock-assistant", "--scenario", "slow"},
			want: "slow",
		},
		{
			name: "equals syntax",
			args: []string{"mock-assistant", "--scenario=failing"},
			want: "failing",
		},
		{
			name: "survives assistant CLI flags",
			args: []string{"mock-assistant", "-p", "--output-format", "stream-json", "--scenario", "tool-roundtrip"},
			want: "tool-roundtrip",
		},
		{
			name: "dangling flag without value",
			args: []string{"mock-assistant", "--scenario"},
			want: "echo",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseScenario(tt.args)
			if got != tt.want {
				t.Errorf("parseScenario(%v) = %q, want %q", tt.args, got, tt.want)
			}
		})
	}
}

func TestParseDelay(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want time.Duration
	}{
		{
			name: "no flag returns default",
			args: []string{"mock-assistant"},
			want: 2 * time.Second,
		},
		{
			name: "separate flag and value",
			args: []string{"mock-assistant", "--delay", "150ms"},
			want: 150 * time.Millisecond,
		},
		{
			name: "equals syntax",
			args: []string{"mock-assistant", "--delay=3s"},
			want: 3 * time.Second,
		},
		{
			name: "garbage falls back to default",
			args: []string{"mock-assistant", "--delay", "soon"},
			want: 2 * time.Second,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseDelay(tt.args)
			if got != tt.want {
				t.Errorf("parseDelay(%v) = %v, want %v", tt.args, got, tt.want)
			}
		})
	}
}

// decodeFrames parses every line the scenario wrote as a protocol message.
func decodeFrames(t *testing.T, out *bytes.Buffer) []assistant.Message {
	t.Helper()
	var msgs []assistant.Message
	scanner := bufio.NewScanner(out)
	for scanner.Scan() {
		var m assistant.Message
		if err := json.Unmarshal(scanner.Bytes(), &m); err != nil {
			t.Fatalf("line %d is not a protocol frame: %v", len(msgs)+1, err)
		}
		msgs = append(msgs, m)
	}
	return msgs
}

func TestEchoScenarioFrames(t *testing.T) {
	var out bytes.Buffer
	enc := json.NewEncoder(&out)

	runScenario(enc, scenarioEcho, 0, "hello there", 1)

	msgs := decodeFrames(t, &out)
	if len(msgs) != 2 {
		t.Fatalf("echo scenario wrote %d frames, want 2", len(msgs))
	}
	if msgs[0].Type != assistant.MessageTypeAssistant {
		t.Errorf("first frame type = %q, want assistant", msgs[0].Type)
	}
	if got := msgs[0].Message.Content[0].Text; got != "You said: hello there" {
		t.Errorf("text = %q", got)
	}
	if msgs[1].Type != assistant.MessageTypeResult {
		t.Errorf("last frame type = %q, want result", msgs[1].Type)
	}
	if msgs[1].IsError {
		t.Error("result frame reports an error")
	}
}

func TestRoundtripScenarioFrames(t *testing.T) {
	var out bytes.Buffer
	enc := json.NewEncoder(&out)

	runScenario(enc, scenarioToolRoundtrip, 0, "inspect the readme", 3)

	msgs := decodeFrames(t, &out)
	if len(msgs) != 4 {
		t.Fatalf("roundtrip scenario wrote %d frames, want 4", len(msgs))
	}

	toolUse := msgs[0].Message.Content[0]
	if toolUse.Type != assistant.ContentTypeToolUse || toolUse.Name != "Read" {
		t.Errorf("first frame is not a Read tool_use: %+v", toolUse)
	}
	if toolUse.ID == "" {
		t.Error("tool_use id is empty")
	}

	toolResult := msgs[1].Message.Content[0]
	if toolResult.Type != assistant.ContentTypeToolResult {
		t.Errorf("second frame is not a tool_result: %+v", toolResult)
	}
	if toolResult.ToolUseID != toolUse.ID {
		t.Errorf("tool_result id %q does not match tool_use id %q", toolResult.ToolUseID, toolUse.ID)
	}

	if msgs[2].Type != assistant.MessageTypeAssistant {
		t.Errorf("third frame type = %q, want assistant", msgs[2].Type)
	}
	if msgs[3].Type != assistant.MessageTypeResult {
		t.Errorf("fourth frame type = %q, want result", msgs[3].Type)
	}
	if msgs[3].NumTurns != 3 {
		t.Errorf("num_turns = %d, want 3", msgs[3].NumTurns)
	}
}
