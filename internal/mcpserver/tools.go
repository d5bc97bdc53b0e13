package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/tabhub/tabhub/internal/common/logger"
)

func registerTools(s *server.MCPServer, cfg Config, log *logger.Logger) {
	// Execute-in-browser tool
	s.AddTool(
		mcp.NewTool("browser_execute",
			mcp.WithDescription(
				"Execute an action in a live browser window. The call is routed to "+
					"one window (the focused one unless window_id is given) and the "+
					"page's reply is returned. Failures (no windows, timeout, "+
					"disconnect) come back as a reply with success=false.",
			),
			mcp.WithString("channel",
				mcp.Required(),
				mcp.Description("Capability channel the page listens on (e.g. dom, nav, screenshot)"),
			),
			mcp.WithString("action",
				mcp.Required(),
				mcp.Description("Action within the channel (e.g. query, goto, capture)"),
			),
			mcp.WithObject("payload",
				mcp.Description("Arguments for the action (optional)"),
			),
			mcp.WithString("window_id",
				mcp.Description("Target a specific window instead of the focused one (optional)"),
			),
			mcp.WithNumber("timeout_ms",
				mcp.Description("Reply timeout in milliseconds (optional, broker default applies)"),
			),
		),
		browserExecuteHandler(cfg, log),
	)

	// List Windows tool
	s.AddTool(
		mcp.NewTool("browser_windows",
			mcp.WithDescription("List connected browser windows and which one is focused. Use this to get window IDs for targeted browser_execute calls."),
		),
		browserWindowsHandler(cfg, log),
	)

	// List Tasks tool
	s.AddTool(
		mcp.NewTool("tasks_list",
			mcp.WithDescription("List tasks on the shared board. Without a column this returns the working set (done and trash excluded)."),
			mcp.WithString("column",
				mcp.Description("Only tasks in this column: queued, in_progress, blocked, review, done, icebox, trash (optional)"),
			),
		),
		tasksListHandler(cfg, log),
	)

	// Add Task tool
	s.AddTool(
		mcp.NewTool("task_add",
			mcp.WithDescription("Add a task to the shared board"),
			mcp.WithString("title",
				mcp.Required(),
				mcp.Description("The task title"),
			),
			mcp.WithString("column",
				mcp.Description("Column to add into, defaults to queued (optional)"),
			),
		),
		taskAddHandler(cfg, log),
	)

	// Move Task tool
	s.AddTool(
		mcp.NewTool("task_move",
			mcp.WithDescription("Move a task to another board column"),
			mcp.WithString("task_id",
				mcp.Required(),
				mcp.Description("The task ID to move"),
			),
			mcp.WithString("column",
				mcp.Required(),
				mcp.Description("Destination column: queued, in_progress, blocked, review, done, icebox, trash"),
			),
			mcp.WithString("reason",
				mcp.Description("Why the task moved, recorded on the task (optional)"),
			),
		),
		taskMoveHandler(cfg, log),
	)

	// Status tool
	s.AddTool(
		mcp.NewTool("status_get",
			mcp.WithDescription("Read the shared status line and drain pending push notices"),
		),
		statusGetHandler(cfg, log),
	)

	log.Info("registered MCP tools", zap.Int("count", 6))
}

func browserExecuteHandler(cfg Config, log *logger.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		channel, err := req.RequireString("channel")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		action, err := req.RequireString("action")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		body := map[string]interface{}{
			"channel": channel,
			"action":  action,
		}
		args := req.GetArguments()
		if payload, ok := args["payload"]; ok && payload != nil {
			body["payload"] = payload
		}
		if windowID := req.GetString("window_id", ""); windowID != "" {
			body["windowId"] = windowID
		}
		if timeoutMs, ok := args["timeout_ms"].(float64); ok && timeoutMs > 0 {
			body["timeoutMs"] = int(timeoutMs)
		}

		raw, _ := json.Marshal(body)
		endpoint := fmt.Sprintf("%s/api/v1/browser/execute", cfg.BrokerURL)

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(raw))
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to create request: %v", err)), nil
		}
		httpReq.Header.Set("Content-Type", "application/json")

		resp, err := http.DefaultClient.Do(httpReq)
		if err != nil {
			log.Error("failed to execute in browser", zap.Error(err))
			return mcp.NewToolResultError(fmt.Sprintf("Failed to execute in browser: %v", err)), nil
		}
		defer func() { _ = resp.Body.Close() }()

		var result json.RawMessage
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to parse response: %v", err)), nil
		}

		if resp.StatusCode >= 400 {
			return mcp.NewToolResultError(fmt.Sprintf("API error (%d): %s", resp.StatusCode, string(result))), nil
		}

		formatted, _ := json.MarshalIndent(result, "", "  ")
		return mcp.NewToolResultText(string(formatted)), nil
	}
}

func browserWindowsHandler(cfg Config, log *logger.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		endpoint := fmt.Sprintf("%s/api/v1/browser/windows", cfg.BrokerURL)
		resp, err := http.Get(endpoint)
		if err != nil {
			log.Error("failed to fetch windows", zap.Error(err))
			return mcp.NewToolResultError(fmt.Sprintf("Failed to fetch windows: %v", err)), nil
		}
		defer func() { _ = resp.Body.Close() }()

		var result json.RawMessage
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to parse response: %v", err)), nil
		}

		formatted, _ := json.MarshalIndent(result, "", "  ")
		return mcp.NewToolResultText(string(formatted)), nil
	}
}

func tasksListHandler(cfg Config, log *logger.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		endpoint := fmt.Sprintf("%s/api/v1/tasks", cfg.BrokerURL)
		if column := req.GetString("column", ""); column != "" {
			endpoint += "?column=" + url.QueryEscape(column)
		}

		resp, err := http.Get(endpoint)
		if err != nil {
			log.Error("failed to fetch tasks", zap.Error(err))
			return mcp.NewToolResultError(fmt.Sprintf("Failed to fetch tasks: %v", err)), nil
		}
		defer func() { _ = resp.Body.Close() }()

		var result json.RawMessage
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to parse response: %v", err)), nil
		}

		if resp.StatusCode >= 400 {
			return mcp.NewToolResultError(fmt.Sprintf("API error (%d): %s", resp.StatusCode, string(result))), nil
		}

		formatted, _ := json.MarshalIndent(result, "", "  ")
		return mcp.NewToolResultText(string(formatted)), nil
	}
}

func taskAddHandler(cfg Config, log *logger.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		title, err := req.RequireString("title")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		payload := map[string]interface{}{
			"title": title,
		}
		if column := req.GetString("column", ""); column != "" {
			payload["column"] = column
		}

		body, _ := json.Marshal(payload)
		endpoint := fmt.Sprintf("%s/api/v1/tasks", cfg.BrokerURL)

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to create request: %v", err)), nil
		}
		httpReq.Header.Set("Content-Type", "application/json")

		resp, err := http.DefaultClient.Do(httpReq)
		if err != nil {
			log.Error("failed to add task", zap.Error(err))
			return mcp.NewToolResultError(fmt.Sprintf("Failed to add task: %v", err)), nil
		}
		defer func() { _ = resp.Body.Close() }()

		var result json.RawMessage
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to parse response: %v", err)), nil
		}

		if resp.StatusCode >= 400 {
			return mcp.NewToolResultError(fmt.Sprintf("API error (%d): %s", resp.StatusCode, string(result))), nil
		}

		formatted, _ := json.MarshalIndent(result, "", "  ")
		return mcp.NewToolResultText(string(formatted)), nil
	}
}

func taskMoveHandler(cfg Config, log *logger.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		taskID, err := req.RequireString("task_id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		column, err := req.RequireString("column")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		payload := map[string]interface{}{
			"column": column,
		}
		if reason := req.GetString("reason", ""); reason != "" {
			payload["reason"] = reason
		}

		body, _ := json.Marshal(payload)
		endpoint := fmt.Sprintf("%s/api/v1/tasks/%s/move", cfg.BrokerURL, url.PathEscape(taskID))

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to create request: %v", err)), nil
		}
		httpReq.Header.Set("Content-Type", "application/json")

		resp, err := http.DefaultClient.Do(httpReq)
		if err != nil {
			log.Error("failed to move task", zap.Error(err))
			return mcp.NewToolResultError(fmt.Sprintf("Failed to move task: %v", err)), nil
		}
		defer func() { _ = resp.Body.Close() }()

		var result json.RawMessage
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to parse response: %v", err)), nil
		}

		if resp.StatusCode >= 400 {
			return mcp.NewToolResultError(fmt.Sprintf("API error (%d): %s", resp.StatusCode, string(result))), nil
		}

		formatted, _ := json.MarshalIndent(result, "", "  ")
		return mcp.NewToolResultText(string(formatted)), nil
	}
}

func statusGetHandler(cfg Config, log *logger.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		endpoint := fmt.Sprintf("%s/api/v1/status", cfg.BrokerURL)
		resp, err := http.Get(endpoint)
		if err != nil {
			log.Error("failed to fetch status", zap.Error(err))
			return mcp.NewToolResultError(fmt.Sprintf("Failed to fetch status: %v", err)), nil
		}
		defer func() { _ = resp.Body.Close() }()

		var result json.RawMessage
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to parse response: %v", err)), nil
		}

		formatted, _ := json.MarshalIndent(result, "", "  ")
		return mcp.NewToolResultText(string(formatted)), nil
	}
}
