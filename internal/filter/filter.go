package filter

import (
	"context"
	"fmt"

	"github.com/af-corp/convo-gateway/internal/types"
)

// Action represents the filter decision.
type Action string

const (
	ActionPass  Action = "pass"
	ActionFlag  Action = "flag"
	ActionBlock Action = "block"
)

// Result is returned by each filter.
type Result struct {
	Action     Action
	FilterName string
	Message    string
	Detections int
	Score      float64
}

// Filter inspects caller-authored content before it is sent upstream.
type Filter interface {
	Name() string
	Enabled() bool
	Scan(ctx context.Context, messages []types.Message) Result
}

// BlockedError is returned when a filter refuses to forward content.
type BlockedError struct {
	Result Result
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("blocked by %s filter: %s", e.Result.FilterName, e.Result.Message)
}

// Chain runs filters in order, stopping on the first Block.
type Chain struct {
	filters []Filter
}

// NewChain creates a filter chain from the given filters.
func NewChain(filters ...Filter) *Chain {
	return &Chain{filters: filters}
}

// Run executes all enabled filters in order. Returns all results and a pointer
// to the first blocking result (nil if no filter blocked).
func (c *Chain) Run(ctx context.Context, messages []types.Message) ([]Result, *Result) {
	var results []Result
	for _, f := range c.filters {
		if !f.Enabled() {
			continue
		}
		r := f.Scan(ctx, messages)
		results = append(results, r)
		if r.Action == ActionBlock {
			return results, &r
		}
	}
	return results, nil
}

type operationKey struct{}

// WithOperation records which gateway operation the content belongs to.
func WithOperation(ctx context.Context, op string) context.Context {
	return context.WithValue(ctx, operationKey{}, op)
}

// OperationFromContext returns the operation set by WithOperation, or "".
func OperationFromContext(ctx context.Context) string {
	op, _ := ctx.Value(operationKey{}).(string)
	return op
}

// CallerAuthored drops assistant turns, which came from upstream and were
// already returned to the caller once.
func CallerAuthored(messages []types.Message) []types.Message {
	out := make([]types.Message, 0, len(messages))
	for _, m := range messages {
		if m.Role == types.RoleAssistant {
			continue
		}
		out = append(out, m)
	}
	return out
}
