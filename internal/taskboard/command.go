package taskboard

import (
	"fmt"
	"strconv"
	"strings"
)

// Execute runs one string command against the board. The first token is the
// verb; quoted tokens keep their spaces. caller is the shell name recorded
// by claim. The result is the natural value of the verb: a list of items, a
// single item, the column view, or the rendered board summary.
func (s *Service) Execute(command, caller string) (interface{}, error) {
	tokens := splitCommand(command)
	if len(tokens) == 0 {
		return nil, fmt.Errorf("empty task command")
	}
	verb, args := strings.ToLower(tokens[0]), tokens[1:]

	switch verb {
	case "list":
		column := ""
		if len(args) > 0 {
			column = args[0]
		}
		return s.List(column)

	case "add":
		if len(args) == 0 {
			return nil, fmt.Errorf(`usage: add "title" [column]`)
		}
		column := ""
		if len(args) > 1 {
			column = args[1]
		}
		return s.Add(args[0], column)

	case "move":
		if len(args) < 2 {
			return nil, fmt.Errorf(`usage: move <id> <column> ["reason"]`)
		}
		id, err := parseID(args[0])
		if err != nil {
			return nil, err
		}
		reason := ""
		if len(args) > 2 {
			reason = args[2]
		}
		return s.Move(id, args[1], reason)

	case "claim":
		if len(args) == 0 {
			return nil, fmt.Errorf("usage: claim <id>")
		}
		id, err := parseID(args[0])
		if err != nil {
			return nil, err
		}
		return s.Claim(id, caller)

	case "block":
		if len(args) < 2 {
			return nil, fmt.Errorf(`usage: block <id> "reason"`)
		}
		id, err := parseID(args[0])
		if err != nil {
			return nil, err
		}
		return s.Block(id, args[1])

	case "done":
		if len(args) == 0 {
			return nil, fmt.Errorf("usage: done <id>")
		}
		id, err := parseID(args[0])
		if err != nil {
			return nil, err
		}
		return s.Done(id)

	case "trash":
		if len(args) == 0 {
			return nil, fmt.Errorf("usage: trash <id>")
		}
		id, err := parseID(args[0])
		if err != nil {
			return nil, err
		}
		return s.Trash(id)

	case "detail":
		if len(args) == 0 {
			return nil, fmt.Errorf("usage: detail <id>")
		}
		id, err := parseID(args[0])
		if err != nil {
			return nil, err
		}
		return s.Detail(id)

	case "board":
		return s.Board(), nil

	default:
		return nil, fmt.Errorf("unknown task command %q (expected list, add, move, claim, block, done, trash, detail, or board)", verb)
	}
}

func parseID(token string) (int, error) {
	id, err := strconv.Atoi(token)
	if err != nil || id < 1 {
		return 0, fmt.Errorf("invalid task id %q", token)
	}
	return id, nil
}

// splitCommand tokenizes on whitespace while keeping double-quoted spans as
// single tokens. An unterminated quote runs to the end of the line.
func splitCommand(command string) []string {
	var tokens []string
	var current strings.Builder
	inQuote := false
	hasToken := false

	flush := func() {
		if hasToken {
			tokens = append(tokens, current.String())
			current.Reset()
			hasToken = false
		}
	}

	for _, r := range command {
		switch {
		case r == '"':
			inQuote = !inQuote
			hasToken = true
		case !inQuote && (r == ' ' || r == '\t' || r == '\n' || r == '\r'):
			flush()
		default:
			current.WriteRune(r)
			hasToken = true
		}
	}
	flush()
	return tokens
}

// FormatItem renders one task for text surfaces (terminal notices, MCP tool
// output).
func FormatItem(item Item) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "#%d [%s] %s", item.ID, item.Column, item.Title)
	for _, key := range []string{MetaClaimed, MetaStarted, MetaCompleted, MetaReason} {
		if v, ok := item.Metadata[key]; ok {
			fmt.Fprintf(&sb, " (%s: %s)", key, v)
		}
	}
	return sb.String()
}

// FormatItems renders a task list one item per line; an empty list reads
// "no tasks".
func FormatItems(items []Item) string {
	if len(items) == 0 {
		return "no tasks"
	}
	lines := make([]string, 0, len(items))
	for _, item := range items {
		lines = append(lines, FormatItem(item))
	}
	return strings.Join(lines, "\n")
}
