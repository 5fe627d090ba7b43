package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/af-corp/convo-gateway/internal/config"
	"github.com/af-corp/convo-gateway/internal/telemetry"
	"github.com/af-corp/convo-gateway/internal/types"
)

const tracerName = "github.com/af-corp/convo-gateway/internal/upstream"

// Operation names used for metrics and span names.
const (
	OpChatCompletion    = "chat_completion"
	OpCreateAssistant   = "create_assistant"
	OpCreateThread      = "create_thread"
	OpCreateMessage     = "create_message"
	OpCreateRun         = "create_run"
	OpRetrieveRun       = "retrieve_run"
	OpSubmitToolOutputs = "submit_tool_outputs"
	OpListMessages      = "list_messages"
)

// emptyParameters is sent for function tools declared without a schema.
var emptyParameters = json.RawMessage(`{"type":"object","properties":{}}`)

// ErrNoChoices is returned when a chat completion comes back without choices.
var ErrNoChoices = errors.New("chat completion returned no choices")

// OpenAIClient talks to the OpenAI chat completion and Assistants APIs. Every
// call passes through a circuit breaker and is recorded in metrics and traces.
type OpenAIClient struct {
	client  *openai.Client
	breaker *CircuitBreaker
	metrics *telemetry.Metrics
	tracer  trace.Tracer
}

// NewOpenAIClient builds a client from the upstream and breaker config.
func NewOpenAIClient(cfg config.UpstreamConfig, cb config.CircuitBreakerConfig, metrics *telemetry.Metrics) *OpenAIClient {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	oc.OrgID = cfg.OrgID
	oc.HTTPClient = &http.Client{Timeout: cfg.Timeout}

	return &OpenAIClient{
		client:  openai.NewClientWithConfig(oc),
		breaker: NewCircuitBreaker(cb.FailureThreshold, cb.RecoveryProbeInterval),
		metrics: metrics,
		tracer:  otel.Tracer(tracerName),
	}
}

// Breaker exposes the circuit breaker for health reporting.
func (c *OpenAIClient) Breaker() *CircuitBreaker { return c.breaker }

func (c *OpenAIClient) call(ctx context.Context, op string, fn func(context.Context) error, attrs ...attribute.KeyValue) error {
	ctx, span := c.tracer.Start(ctx, "upstream."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attrs...),
	)
	defer span.End()

	err := c.breaker.Do(func() error { return fn(ctx) }, func(err error) bool {
		// A deadline or cancellation on the caller's context is the
		// caller's budget running out, not the upstream failing.
		return ctx.Err() == nil && isUpstreamFailure(err)
	})
	c.metrics.RecordUpstreamCall(op, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// ChatCompletion sends one chat completion and returns the first choice.
func (c *OpenAIClient) ChatCompletion(ctx context.Context, model string, messages []types.Message, maxTokens int) (string, error) {
	var answer string
	err := c.call(ctx, OpChatCompletion, func(ctx context.Context) error {
		resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model:     model,
			Messages:  toChatMessages(messages),
			MaxTokens: maxTokens,
		})
		if err != nil {
			return err
		}
		if len(resp.Choices) == 0 {
			return ErrNoChoices
		}
		answer = resp.Choices[0].Message.Content
		return nil
	}, attribute.String("model", model))
	return answer, err
}

// CreateAssistant registers an assistant and returns its id.
func (c *OpenAIClient) CreateAssistant(ctx context.Context, spec types.AssistantSpec) (string, error) {
	var id string
	err := c.call(ctx, OpCreateAssistant, func(ctx context.Context) error {
		a, err := c.client.CreateAssistant(ctx, toAssistantRequest(spec))
		if err != nil {
			return err
		}
		id = a.ID
		return nil
	}, attribute.String("model", spec.Model))
	return id, err
}

func (c *OpenAIClient) CreateThread(ctx context.Context) (string, error) {
	var id string
	err := c.call(ctx, OpCreateThread, func(ctx context.Context) error {
		t, err := c.client.CreateThread(ctx, openai.ThreadRequest{})
		if err != nil {
			return err
		}
		id = t.ID
		return nil
	})
	return id, err
}

// CreateMessage appends a user message to the thread.
func (c *OpenAIClient) CreateMessage(ctx context.Context, threadID, content string) (types.ThreadMessage, error) {
	var msg types.ThreadMessage
	err := c.call(ctx, OpCreateMessage, func(ctx context.Context) error {
		m, err := c.client.CreateMessage(ctx, threadID, openai.MessageRequest{
			Role:    openai.ChatMessageRoleUser,
			Content: content,
		})
		if err != nil {
			return err
		}
		msg = fromMessage(m)
		return nil
	}, attribute.String("thread_id", threadID))
	return msg, err
}

func (c *OpenAIClient) CreateRun(ctx context.Context, threadID, assistantID string) (types.Run, error) {
	var run types.Run
	err := c.call(ctx, OpCreateRun, func(ctx context.Context) error {
		r, err := c.client.CreateRun(ctx, threadID, openai.RunRequest{AssistantID: assistantID})
		if err != nil {
			return err
		}
		run = fromRun(r)
		return nil
	}, attribute.String("thread_id", threadID), attribute.String("assistant_id", assistantID))
	return run, err
}

func (c *OpenAIClient) RetrieveRun(ctx context.Context, threadID, runID string) (types.Run, error) {
	var run types.Run
	err := c.call(ctx, OpRetrieveRun, func(ctx context.Context) error {
		r, err := c.client.RetrieveRun(ctx, threadID, runID)
		if err != nil {
			return err
		}
		run = fromRun(r)
		return nil
	}, attribute.String("thread_id", threadID), attribute.String("run_id", runID))
	return run, err
}

// SubmitToolOutputs answers every pending tool call of a run in one request.
func (c *OpenAIClient) SubmitToolOutputs(ctx context.Context, threadID, runID string, outputs []types.ToolOutput) (types.Run, error) {
	req := openai.SubmitToolOutputsRequest{ToolOutputs: make([]openai.ToolOutput, 0, len(outputs))}
	for _, o := range outputs {
		req.ToolOutputs = append(req.ToolOutputs, openai.ToolOutput{ToolCallID: o.ToolCallID, Output: o.Output})
	}

	var run types.Run
	err := c.call(ctx, OpSubmitToolOutputs, func(ctx context.Context) error {
		r, err := c.client.SubmitToolOutputs(ctx, threadID, runID, req)
		if err != nil {
			return err
		}
		run = fromRun(r)
		return nil
	}, attribute.String("thread_id", threadID), attribute.String("run_id", runID))
	return run, err
}

// ListMessages returns the thread's messages, newest first.
func (c *OpenAIClient) ListMessages(ctx context.Context, threadID string) ([]types.ThreadMessage, error) {
	var msgs []types.ThreadMessage
	err := c.call(ctx, OpListMessages, func(ctx context.Context) error {
		order := "desc"
		list, err := c.client.ListMessage(ctx, threadID, nil, &order, nil, nil, nil)
		if err != nil {
			return err
		}
		msgs = make([]types.ThreadMessage, 0, len(list.Messages))
		for _, m := range list.Messages {
			msgs = append(msgs, fromMessage(m))
		}
		return nil
	}, attribute.String("thread_id", threadID))
	return msgs, err
}

// isUpstreamFailure decides whether err says something about upstream health.
// Caller cancellation and client-side 4xx errors do not count; 429 does.
func isUpstreamFailure(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return isServerStatus(apiErr.HTTPStatusCode)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return isServerStatus(reqErr.HTTPStatusCode)
	}
	return true
}

func isServerStatus(code int) bool {
	return code >= 500 || code == http.StatusTooManyRequests
}

func toChatMessages(messages []types.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		out = append(out, openai.ChatCompletionMessage{Role: string(m.Role), Content: m.Content})
	}
	return out
}

func toAssistantRequest(spec types.AssistantSpec) openai.AssistantRequest {
	name := spec.Name
	instructions := spec.Instructions
	temperature := float32(spec.Temperature)
	topP := float32(spec.TopP)

	tools := make([]openai.AssistantTool, 0, len(spec.Tools))
	for _, t := range spec.Tools {
		tool := openai.AssistantTool{Type: openai.AssistantToolType(t.Type)}
		if t.Function != nil {
			params := t.Function.Parameters
			if len(params) == 0 {
				params = emptyParameters
			}
			tool.Function = &openai.FunctionDefinition{
				Name:        t.Function.Name,
				Description: t.Function.Description,
				Parameters:  params,
			}
		}
		tools = append(tools, tool)
	}

	return openai.AssistantRequest{
		Model:        spec.Model,
		Name:         &name,
		Instructions: &instructions,
		Tools:        tools,
		Temperature:  &temperature,
		TopP:         &topP,
	}
}

func fromRun(r openai.Run) types.Run {
	run := types.Run{
		ID:       r.ID,
		ThreadID: r.ThreadID,
		Status:   types.RunStatus(r.Status),
	}
	if r.LastError != nil {
		run.LastError = fmt.Sprintf("%s: %s", r.LastError.Code, r.LastError.Message)
	}
	if r.RequiredAction != nil && r.RequiredAction.SubmitToolOutputs != nil {
		for _, tc := range r.RequiredAction.SubmitToolOutputs.ToolCalls {
			run.ToolCalls = append(run.ToolCalls, types.ToolCall{
				ID:        tc.ID,
				Type:      string(tc.Type),
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			})
		}
	}
	return run
}

// fromMessage flattens the text blocks of a thread message, one per line.
func fromMessage(m openai.Message) types.ThreadMessage {
	var parts []string
	for _, c := range m.Content {
		if c.Text != nil {
			parts = append(parts, c.Text.Value)
		}
	}
	return types.ThreadMessage{
		ID:      m.ID,
		Role:    types.Role(m.Role),
		Content: strings.Join(parts, "\n"),
	}
}
