package assistant

import (
	"context"
	"encoding/json"

	"github.com/af-corp/convo-gateway/internal/types"
)

// ToolExecutor answers a tool call requested by a run. args is the decoded
// JSON arguments and may be any JSON value, not only an object. The returned
// string is submitted verbatim as the tool output.
type ToolExecutor interface {
	Execute(ctx context.Context, call types.ToolCall, args any) (string, error)
}

// ToolExecutorFunc adapts a function to ToolExecutor.
type ToolExecutorFunc func(ctx context.Context, call types.ToolCall, args any) (string, error)

func (f ToolExecutorFunc) Execute(ctx context.Context, call types.ToolCall, args any) (string, error) {
	return f(ctx, call, args)
}

// ObjectArgs returns args as a JSON object, or nil when the arguments were
// some other JSON value.
func ObjectArgs(args any) map[string]any {
	m, _ := args.(map[string]any)
	return m
}

// PlaceholderOutput is what PlaceholderExecutor reports for every call.
const PlaceholderOutput = "Tool executed successfully"

// PlaceholderExecutor acknowledges every tool call without running anything.
// The output is the JSON encoding of PlaceholderOutput.
type PlaceholderExecutor struct{}

func (PlaceholderExecutor) Execute(_ context.Context, _ types.ToolCall, _ any) (string, error) {
	b, err := json.Marshal(PlaceholderOutput)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
