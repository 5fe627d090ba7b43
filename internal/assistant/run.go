package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/af-corp/convo-gateway/internal/config"
	"github.com/af-corp/convo-gateway/internal/types"
)

// ProcessMessage runs the configured assistant on a thread and returns the
// newest thread message once the run completes. Tool calls requested along
// the way are answered by the tool executor.
func (s *Service) ProcessMessage(ctx context.Context, req types.ProcessMessageRequest) (types.ProcessMessageResponse, error) {
	if req.ThreadID == "" {
		return types.ProcessMessageResponse{}, validationErr(msgNoThreadID)
	}
	cfg := s.cfg()
	assistantID := cfg.Upstream.AssistantID
	if assistantID == "" {
		return types.ProcessMessageResponse{}, validationErr(msgNoAssistant)
	}

	ctx, span := s.tracer.Start(ctx, "assistant.ProcessMessage")
	defer span.End()
	span.SetAttributes(attribute.String("thread_id", req.ThreadID), attribute.String("assistant_id", assistantID))

	run, err := s.upstream.CreateRun(ctx, req.ThreadID, assistantID)
	if err != nil {
		s.metrics.RecordRunOutcome("error")
		return types.ProcessMessageResponse{}, upstreamErr(msgUnexpected, "create_run", err)
	}
	if run.ThreadID == "" {
		run.ThreadID = req.ThreadID
	}

	run, err = s.driveRun(ctx, span, run, cfg.Polling)
	if err != nil {
		s.recordRunError(err)
		span.SetStatus(codes.Error, err.Error())
		return types.ProcessMessageResponse{}, err
	}
	s.metrics.RecordRunOutcome(string(run.Status))

	msgs, err := s.upstream.ListMessages(ctx, req.ThreadID)
	if err != nil {
		return types.ProcessMessageResponse{}, upstreamErr(msgUnexpected, "list_messages", err)
	}
	if len(msgs) == 0 {
		return types.ProcessMessageResponse{}, upstreamErr(msgUnexpected, "list_messages", errors.New(msgNoThreadMessages))
	}
	return types.ProcessMessageResponse{AssistantMessage: msgs[0].Content}, nil
}

// driveRun advances a run until it completes. Pending states are polled at
// the configured interval, requires_action is answered with tool outputs and
// every other state is an UnexpectedStateError. The whole loop is bounded by
// the polling timeout.
func (s *Service) driveRun(ctx context.Context, span trace.Span, run types.Run, p config.PollingConfig) (types.Run, error) {
	pollCtx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()

	ticker := time.NewTicker(p.Interval)
	defer ticker.Stop()

	toolRounds := 0
	for {
		s.logger.DebugContext(ctx, "run status", "thread_id", run.ThreadID, "run_id", run.ID, "status", run.Status)
		span.AddEvent("run_status", trace.WithAttributes(attribute.String("status", string(run.Status))))

		switch {
		case run.Status == types.RunStatusCompleted:
			return run, nil

		case run.Status.IsPending():
			select {
			case <-pollCtx.Done():
				return run, s.pollErr(ctx, pollCtx, "retrieve_run")
			case <-ticker.C:
			}
			next, err := s.upstream.RetrieveRun(pollCtx, run.ThreadID, run.ID)
			if err != nil {
				if pollCtx.Err() != nil {
					return run, s.pollErr(ctx, pollCtx, "retrieve_run")
				}
				return run, upstreamErr(msgUnexpected, "retrieve_run", err)
			}
			run = carryIDs(next, run)

		case run.Status == types.RunStatusRequiresAction:
			toolRounds++
			if p.MaxToolRounds > 0 && toolRounds > p.MaxToolRounds {
				return run, &UnexpectedStateError{
					Status: run.Status,
					Reason: fmt.Sprintf("run still requires action after %d tool rounds", p.MaxToolRounds),
				}
			}
			if len(run.ToolCalls) == 0 {
				return run, &UnexpectedStateError{Status: run.Status, Reason: "run requires action but reported no tool calls"}
			}
			outputs, err := s.answerToolCalls(pollCtx, run.ToolCalls)
			if err != nil {
				return run, upstreamErr(msgToolOutputs, "tool_call", err)
			}
			next, err := s.upstream.SubmitToolOutputs(pollCtx, run.ThreadID, run.ID, outputs)
			if err != nil {
				if pollCtx.Err() != nil {
					return run, s.pollErr(ctx, pollCtx, "submit_tool_outputs")
				}
				return run, upstreamErr(msgToolOutputs, "submit_tool_outputs", err)
			}
			run = carryIDs(next, run)

		default:
			reason := run.LastError
			if reason == "" {
				reason = fmt.Sprintf("run ended with status %q", run.Status)
			}
			return run, &UnexpectedStateError{Status: run.Status, Reason: reason}
		}
	}
}

// answerToolCalls produces exactly one output per call, in call order.
func (s *Service) answerToolCalls(ctx context.Context, calls []types.ToolCall) ([]types.ToolOutput, error) {
	outputs := make([]types.ToolOutput, 0, len(calls))
	for _, call := range calls {
		var args any
		if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
			return nil, fmt.Errorf("parse arguments of %s (%s): %w", call.Name, call.ID, err)
		}
		out, err := s.tools.Execute(ctx, call, args)
		if err != nil {
			s.logger.WarnContext(ctx, "tool call failed", "function", call.Name, "tool_call_id", call.ID, "error", err)
			out = fmt.Sprintf("Failed to run due to %v", err)
		}
		s.metrics.RecordToolCall(call.Name)
		outputs = append(outputs, types.ToolOutput{ToolCallID: call.ID, Output: out})
	}
	return outputs, nil
}

// pollErr reports why the poll loop stopped: the caller went away or the
// polling timeout elapsed.
func (s *Service) pollErr(ctx, pollCtx context.Context, op string) error {
	if err := ctx.Err(); err != nil {
		return upstreamErr(msgUnexpected, op, err)
	}
	return upstreamErr(msgRunTimeout, op, pollCtx.Err())
}

func (s *Service) recordRunError(err error) {
	var stateErr *UnexpectedStateError
	if errors.As(err, &stateErr) {
		s.metrics.RecordRunOutcome(string(stateErr.Status))
		return
	}
	if errors.Is(err, context.DeadlineExceeded) {
		s.metrics.RecordRunOutcome("timeout")
		return
	}
	s.metrics.RecordRunOutcome("error")
}

// carryIDs keeps the run and thread ids when an upstream response omits them.
func carryIDs(next, prev types.Run) types.Run {
	if next.ID == "" {
		next.ID = prev.ID
	}
	if next.ThreadID == "" {
		next.ThreadID = prev.ThreadID
	}
	return next
}
