// Package main implements a mock assistant binary that speaks the
// stream-JSON protocol over stdin/stdout. It generates scripted responses
// for supervisor tests and local development without a real CLI install.
package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"
)

// sessionID is a unique identifier for this mock process instance. Each
// session spawns its own process, so the PID is unique across parallel
// sessions.
var sessionID = fmt.Sprintf("mock-session-%d", os.Getpid())

func main() {
	scenario := parseScenario(os.Args)
	delay := parseDelay(os.Args)

	enc := json.NewEncoder(os.Stdout)
	emitInit(enc)

	scanner := bufio.NewScanner(os.Stdin)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 10*1024*1024)

	turns := 0
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var msg incomingMessage
		if err := json.Unmarshal(line, &msg); err != nil {
			continue
		}
		if msg.Type != "user" || msg.Message == nil {
			continue
		}

		turns++
		runScenario(enc, scenario, delay, msg.Message.Content, turns)

		if scenario == scenarioFailing {
			fmt.Fprintln(os.Stderr, "mock-assistant: scripted failure")
			os.Exit(1)
		}
	}

	if err := scanner.Err(); err != nil {
		fmt.Fprintf(os.Stderr, "mock-assistant: scanner error: %v\n", err)
		os.Exit(1)
	}
}

// incomingMessage is the stdin frame the broker writes for each prompt.
type incomingMessage struct {
	Type    string `json:"type"`
	Message *struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"message"`
}

// parseScenario extracts --scenario from argv. Manual scanning, not the flag
// package: the broker spawns children with assistant CLI flags the mock must
// tolerate (-p, --output-format, --permission-mode, ...).
func parseScenario(args []string) string {
	for i, arg := range args[1:] {
		if arg == "--scenario" && i+1 < len(args)-1 {
			return args[i+2]
		}
		if strings.HasPrefix(arg, "--scenario=") {
			return strings.TrimPrefix(arg, "--scenario=")
		}
	}
	if env := os.Getenv("MOCK_ASSISTANT_SCENARIO"); env != "" {
		return env
	}
	return scenarioEcho
}

// parseDelay extracts --delay for the slow scenario. Defaults to 2s.
func parseDelay(args []string) time.Duration {
	raw := ""
	for i, arg := range args[1:] {
		if arg == "--delay" && i+1 < len(args)-1 {
			raw = args[i+2]
		}
		if strings.HasPrefix(arg, "--delay=") {
			raw = strings.TrimPrefix(arg, "--delay=")
		}
	}
	if raw == "" {
		raw = os.Getenv("MOCK_ASSISTANT_DELAY")
	}
	if d, err := time.ParseDuration(raw); err == nil && d > 0 {
		return d
	}
	return 2 * time.Second
}
