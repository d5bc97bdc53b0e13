package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/tabhub/tabhub/pkg/assistant"
)

// Scenario names selected with --scenario.
const (
	scenarioEcho          = "echo"
	scenarioToolRoundtrip = "tool-roundtrip"
	scenarioSlow          = "slow"
	scenarioFailing       = "failing"
)

// runScenario emits the scripted response for one prompt.
func runScenario(enc *json.Encoder, scenario string, delay time.Duration, prompt string, turn int) {
	switch scenario {
	case scenarioToolRoundtrip:
		scenarioRoundtrip(enc, prompt, turn)
	case scenarioSlow:
		time.Sleep(delay)
		scenarioEchoPrompt(enc, prompt, turn)
	case scenarioFailing:
		// main exits non-zero after this turn; say something first so the
		// transcript shows the child was reached.
		emitText(enc, "About to fail on purpose.")
	default:
		scenarioEchoPrompt(enc, prompt, turn)
	}
}

// scenarioEchoPrompt: one text frame quoting the prompt, then a result.
func scenarioEchoPrompt(enc *json.Encoder, prompt string, turn int) {
	emitText(enc, "You said: "+prompt)
	emitResult(enc, fmt.Sprintf("echoed %d prompt(s)", turn), turn)
}

// scenarioRoundtrip: tool_use -> tool_result -> text -> result, the full
// transcript-entry spread the broker parses out of real sessions.
func scenarioRoundtrip(enc *json.Encoder, prompt string, turn int) {
	toolID := fmt.Sprintf("toolu_mock_%d", turn)

	_ = enc.Encode(assistant.Message{
		Type:      assistant.MessageTypeAssistant,
		SessionID: sessionID,
		Message: &assistant.ChatMessage{
			Role: "assistant",
			Content: []assistant.ContentBlock{
				{
					Type:  assistant.ContentTypeToolUse,
					ID:    toolID,
					Name:  "Read",
					Input: json.RawMessage(`{"file_path":"README.md"}`),
				},
			},
			Model:      "mock",
			StopReason: "tool_use",
		},
	})

	_ = enc.Encode(assistant.Message{
		Type:      assistant.MessageTypeUser,
		SessionID: sessionID,
		Message: &assistant.ChatMessage{
			Role: "user",
			Content: []assistant.ContentBlock{
				{
					Type:      assistant.ContentTypeToolResult,
					ToolUseID: toolID,
					Content:   json.RawMessage(`"# mock readme"`),
				},
			},
		},
	})

	emitText(enc, "Read the file; prompt was: "+prompt)
	emitResult(enc, "roundtrip complete", turn)
}

// emitInit prints the init frame a real CLI emits on startup. The broker
// ignores it.
func emitInit(enc *json.Encoder) {
	_ = enc.Encode(assistant.Message{
		Type:      assistant.MessageTypeSystem,
		Subtype:   "init",
		SessionID: sessionID,
	})
}

// emitText prints one assistant text frame.
func emitText(enc *json.Encoder, text string) {
	_ = enc.Encode(assistant.Message{
		Type:      assistant.MessageTypeAssistant,
		SessionID: sessionID,
		Message: &assistant.ChatMessage{
			Role: "assistant",
			Content: []assistant.ContentBlock{
				{Type: assistant.ContentTypeText, Text: text},
			},
			Model:      "mock",
			StopReason: "end_turn",
		},
	})
}

// emitResult prints the end-of-turn result frame with token-shaped numbers.
func emitResult(enc *json.Encoder, summary string, turn int) {
	raw, err := json.Marshal(summary)
	if err != nil {
		raw = json.RawMessage(`"done"`)
	}
	_ = enc.Encode(assistant.Message{
		Type:       assistant.MessageTypeResult,
		Subtype:    "success",
		SessionID:  sessionID,
		Result:     raw,
		CostUSD:    0.0042,
		DurationMS: int64(120 * turn),
		NumTurns:   turn,
	})
}
