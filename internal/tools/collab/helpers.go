package collab

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/jharju/weft/internal/mcpserver"
)

// caller recovers the calling agent from the MCP session, or errors when the
// request carries no session identity.
func caller(ctx context.Context) (string, error) {
	agent := mcpserver.CallerAgent(ctx)
	if agent == "" {
		return "", fmt.Errorf("no agent session")
	}
	return agent, nil
}

// jsonResult renders v as a JSON tool result.
func jsonResult(v any) *mcp.CallToolResult {
	b, err := json.Marshal(v)
	if err != nil {
		return errResult(fmt.Sprintf("marshal result: %v", err))
	}
	return mcp.NewToolResultText(string(b))
}

// errResult renders a validation failure as a tool-result JSON payload.
// Validation errors never throw through the transport.
func errResult(msg string) *mcp.CallToolResult {
	b, _ := json.Marshal(map[string]string{"status": "error", "error": msg})
	return mcp.NewToolResultText(string(b))
}

// stringArg returns a string argument or "".
func stringArg(args map[string]any, key string) string {
	v, _ := args[key].(string)
	return v
}

// intArg returns a numeric argument as int, or def when absent.
func intArg(args map[string]any, key string, def int) int {
	if v, ok := args[key].(float64); ok {
		return int(v)
	}
	return def
}

// boolArg returns a boolean argument, or def when absent.
func boolArg(args map[string]any, key string, def bool) bool {
	if v, ok := args[key].(bool); ok {
		return v
	}
	return def
}

// stringSliceArg returns a []string argument (JSON arrays arrive as []any).
func stringSliceArg(args map[string]any, key string) []string {
	raw, ok := args[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// stringMapArg returns a map[string]string argument.
func stringMapArg(args map[string]any, key string) map[string]string {
	raw, ok := args[key].(map[string]any)
	if !ok {
		return nil
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out
}
