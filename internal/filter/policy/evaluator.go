// Package policy lets operators veto outbound requests with Rego policies.
// A policy package convo.policy must define a boolean allow and a string
// reason; the evaluator queries both.
package policy

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/open-policy-agent/opa/rego"

	"github.com/af-corp/convo-gateway/internal/config"
	"github.com/af-corp/convo-gateway/internal/filter"
	"github.com/af-corp/convo-gateway/internal/types"
)

const query = "[data.convo.policy.allow, data.convo.policy.reason]"

const defaultEvalTimeout = 100 * time.Millisecond

// Input is the document policies evaluate as input.
type Input struct {
	Operation string       `json:"operation"`
	Request   RequestInput `json:"request"`
	Time      TimeInput    `json:"time"`
}

type RequestInput struct {
	MessageCount int      `json:"message_count"`
	TotalChars   int      `json:"total_chars"`
	LongestChars int      `json:"longest_chars"`
	Roles        []string `json:"roles"`
}

type TimeInput struct {
	Hour int    `json:"hour"`
	Day  string `json:"day"`
}

// Evaluator implements filter.Filter on top of a prepared OPA query.
type Evaluator struct {
	mu       sync.RWMutex
	prepared *rego.PreparedEvalQuery
	cfg      func() config.PolicyFilterConfig
	now      func() time.Time
}

// NewEvaluator creates a policy evaluator. Call Load to compile policies;
// until then every request is denied.
func NewEvaluator(cfg func() config.PolicyFilterConfig) *Evaluator {
	return &Evaluator{cfg: cfg, now: time.Now}
}

func (e *Evaluator) Name() string  { return "policy" }
func (e *Evaluator) Enabled() bool { return e.cfg().Enabled }

// Load compiles every .rego file in the configured bundle directory.
func (e *Evaluator) Load() error {
	dir := e.cfg().BundlePath
	paths, err := filepath.Glob(filepath.Join(dir, "*.rego"))
	if err != nil {
		return fmt.Errorf("list rego files: %w", err)
	}
	modules := make(map[string]string, len(paths))
	for _, p := range paths {
		src, err := os.ReadFile(p)
		if err != nil {
			return fmt.Errorf("read %s: %w", p, err)
		}
		modules[filepath.Base(p)] = string(src)
	}
	if len(modules) == 0 {
		slog.Warn("no rego files found, all requests will be denied", "path", dir)
		return nil
	}
	if err := e.LoadModules(modules); err != nil {
		return err
	}
	slog.Info("opa policies loaded", "path", dir, "modules", len(modules))
	return nil
}

// LoadModules compiles the given module sources, keyed by file name, and
// swaps them in atomically.
func (e *Evaluator) LoadModules(modules map[string]string) error {
	opts := []func(*rego.Rego){rego.Query(query)}
	for name, src := range modules {
		opts = append(opts, rego.Module(name, src))
	}
	prepared, err := rego.New(opts...).PrepareForEval(context.Background())
	if err != nil {
		return fmt.Errorf("prepare rego: %w", err)
	}

	e.mu.Lock()
	e.prepared = &prepared
	e.mu.Unlock()
	return nil
}

// Evaluate runs the policies against input and returns the decision.
func (e *Evaluator) Evaluate(ctx context.Context, input Input) (bool, string, error) {
	e.mu.RLock()
	prepared := e.prepared
	e.mu.RUnlock()

	if prepared == nil {
		return false, "no policies loaded", nil
	}

	timeout := e.cfg().EvaluationTimeout
	if timeout <= 0 {
		timeout = defaultEvalTimeout
	}
	evalCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	results, err := prepared.Eval(evalCtx, rego.EvalInput(input))
	if err != nil {
		return false, "", fmt.Errorf("evaluate policy: %w", err)
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return false, "policy is undefined", nil
	}

	// [allow, reason]
	arr, ok := results[0].Expressions[0].Value.([]interface{})
	if !ok || len(arr) < 2 {
		return false, "unexpected policy result format", nil
	}
	allowed, _ := arr[0].(bool)
	reason, _ := arr[1].(string)
	return allowed, reason, nil
}

// BuildInput summarises the caller content for policy evaluation. Policies
// see sizes and roles, never the text itself.
func (e *Evaluator) BuildInput(op string, messages []types.Message) Input {
	now := e.now().UTC()
	in := Input{
		Operation: op,
		Request:   RequestInput{MessageCount: len(messages), Roles: make([]string, 0, len(messages))},
		Time:      TimeInput{Hour: now.Hour(), Day: now.Weekday().String()},
	}
	for _, m := range messages {
		n := utf8.RuneCountInString(m.Content)
		in.Request.TotalChars += n
		if n > in.Request.LongestChars {
			in.Request.LongestChars = n
		}
		in.Request.Roles = append(in.Request.Roles, string(m.Role))
	}
	return in
}

// Scan implements filter.Filter. Evaluation errors fail closed.
func (e *Evaluator) Scan(ctx context.Context, messages []types.Message) filter.Result {
	input := e.BuildInput(filter.OperationFromContext(ctx), messages)

	allowed, reason, err := e.Evaluate(ctx, input)
	if err != nil {
		slog.ErrorContext(ctx, "policy evaluation failed", "error", err)
		return filter.Result{
			Action:     filter.ActionBlock,
			FilterName: "policy",
			Message:    "Policy evaluation failed",
		}
	}
	if !allowed {
		return filter.Result{
			Action:     filter.ActionBlock,
			FilterName: "policy",
			Message:    "Request denied by policy: " + reason,
		}
	}
	return filter.Result{Action: filter.ActionPass, FilterName: "policy"}
}
