package assistant

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/af-corp/convo-gateway/internal/types"
)

func weatherCall(id string) types.ToolCall {
	return types.ToolCall{ID: id, Type: "function", Name: "get_weather", Arguments: `{"city":"Paris"}`}
}

func TestProcessMessage_Completed(t *testing.T) {
	up := &fakeUpstream{
		runStates: []types.Run{
			newRun("run_1", types.RunStatusQueued),
			newRun("run_1", types.RunStatusInProgress),
			newRun("run_1", types.RunStatusCompleted),
		},
		messages: []types.ThreadMessage{
			{ID: "msg_2", Role: types.RoleAssistant, Content: "Hello there"},
			{ID: "msg_1", Role: types.RoleUser, Content: "hi!"},
		},
	}
	svc, metrics := newTestService(t, up, testConfig())

	resp, err := svc.ProcessMessage(context.Background(), types.ProcessMessageRequest{ThreadID: "thread_1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.AssistantMessage != "Hello there" {
		t.Errorf("expected newest message, got %q", resp.AssistantMessage)
	}
	if up.retrieves != 2 {
		t.Errorf("expected 2 polls, got %d", up.retrieves)
	}
	if len(up.submissions) != 0 {
		t.Errorf("expected no tool submissions, got %d", len(up.submissions))
	}
	if v := testutil.ToFloat64(metrics.RunOutcomeTotal.WithLabelValues("completed")); v != 1 {
		t.Errorf("expected completed outcome recorded, got %f", v)
	}
}

func TestProcessMessage_RequiresActionSubmitsOncePerCall(t *testing.T) {
	up := &fakeUpstream{
		runStates: []types.Run{
			newRun("run_1", types.RunStatusRequiresAction, weatherCall("call_1")),
			newRun("run_1", types.RunStatusQueued),
			newRun("run_1", types.RunStatusCompleted),
		},
		messages: []types.ThreadMessage{{ID: "msg_2", Role: types.RoleAssistant, Content: "Sunny"}},
	}
	svc, metrics := newTestService(t, up, testConfig())

	resp, err := svc.ProcessMessage(context.Background(), types.ProcessMessageRequest{ThreadID: "thread_1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.AssistantMessage != "Sunny" {
		t.Errorf("expected Sunny, got %q", resp.AssistantMessage)
	}
	if len(up.submissions) != 1 {
		t.Fatalf("expected exactly 1 submission, got %d", len(up.submissions))
	}
	sub := up.submissions[0]
	if sub.runID != "run_1" || sub.threadID != "thread_1" {
		t.Errorf("unexpected submission target %s/%s", sub.threadID, sub.runID)
	}
	if len(sub.outputs) != 1 || sub.outputs[0].ToolCallID != "call_1" {
		t.Fatalf("expected one output keyed by call_1, got %+v", sub.outputs)
	}
	if sub.outputs[0].Output != `"Tool executed successfully"` {
		t.Errorf("unexpected placeholder output %s", sub.outputs[0].Output)
	}
	if up.retrieves < 1 {
		t.Error("expected a re-poll after submission")
	}
	if v := testutil.ToFloat64(metrics.ToolCallTotal.WithLabelValues("get_weather")); v != 1 {
		t.Errorf("expected 1 tool call recorded, got %f", v)
	}
}

func TestProcessMessage_MultipleToolCallsSingleSubmission(t *testing.T) {
	up := &fakeUpstream{
		runStates: []types.Run{
			newRun("run_1", types.RunStatusRequiresAction, weatherCall("call_1"), weatherCall("call_2")),
			newRun("run_1", types.RunStatusCompleted),
		},
		messages: []types.ThreadMessage{{Content: "done"}},
	}
	svc, _ := newTestService(t, up, testConfig())

	if _, err := svc.ProcessMessage(context.Background(), types.ProcessMessageRequest{ThreadID: "thread_1"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(up.submissions) != 1 {
		t.Fatalf("expected 1 submission, got %d", len(up.submissions))
	}
	outs := up.submissions[0].outputs
	if len(outs) != 2 || outs[0].ToolCallID != "call_1" || outs[1].ToolCallID != "call_2" {
		t.Errorf("expected outputs for call_1 and call_2 in order, got %+v", outs)
	}
}

func TestProcessMessage_CustomToolExecutor(t *testing.T) {
	up := &fakeUpstream{
		runStates: []types.Run{
			newRun("run_1", types.RunStatusRequiresAction, weatherCall("call_1")),
			newRun("run_1", types.RunStatusCompleted),
		},
		messages: []types.ThreadMessage{{Content: "done"}},
	}
	var gotCity any
	exec := ToolExecutorFunc(func(_ context.Context, _ types.ToolCall, args any) (string, error) {
		gotCity = ObjectArgs(args)["city"]
		return `{"temp":21}`, nil
	})
	svc, _ := newTestService(t, up, testConfig(), WithToolExecutor(exec))

	if _, err := svc.ProcessMessage(context.Background(), types.ProcessMessageRequest{ThreadID: "thread_1"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotCity != "Paris" {
		t.Errorf("expected parsed argument Paris, got %v", gotCity)
	}
	if out := up.submissions[0].outputs[0].Output; out != `{"temp":21}` {
		t.Errorf("unexpected output %s", out)
	}
}

func TestProcessMessage_ToolErrorBecomesOutput(t *testing.T) {
	up := &fakeUpstream{
		runStates: []types.Run{
			newRun("run_1", types.RunStatusRequiresAction, weatherCall("call_1")),
			newRun("run_1", types.RunStatusCompleted),
		},
		messages: []types.ThreadMessage{{Content: "done"}},
	}
	exec := ToolExecutorFunc(func(context.Context, types.ToolCall, any) (string, error) {
		return "", errors.New("weather service offline")
	})
	svc, _ := newTestService(t, up, testConfig(), WithToolExecutor(exec))

	if _, err := svc.ProcessMessage(context.Background(), types.ProcessMessageRequest{ThreadID: "thread_1"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out := up.submissions[0].outputs[0].Output; !strings.Contains(out, "weather service offline") {
		t.Errorf("expected tool error in output, got %s", out)
	}
}

func TestProcessMessage_InvalidToolArguments(t *testing.T) {
	bad := types.ToolCall{ID: "call_1", Type: "function", Name: "get_weather", Arguments: "{not json"}
	up := &fakeUpstream{runStates: []types.Run{newRun("run_1", types.RunStatusRequiresAction, bad)}}
	svc, _ := newTestService(t, up, testConfig())

	_, err := svc.ProcessMessage(context.Background(), types.ProcessMessageRequest{ThreadID: "thread_1"})
	var uErr *UpstreamError
	if !errors.As(err, &uErr) || uErr.Message != "Error processing tool outputs" {
		t.Fatalf("expected 'Error processing tool outputs', got %v", err)
	}
	if len(up.submissions) != 0 {
		t.Error("nothing should be submitted when arguments are invalid")
	}
}

func TestProcessMessage_NonObjectToolArguments(t *testing.T) {
	tests := []struct {
		args string
		want any
	}{
		{`[1,2]`, []any{1.0, 2.0}},
		{`"x"`, "x"},
		{`42`, 42.0},
		{`null`, nil},
	}
	for _, tt := range tests {
		t.Run(tt.args, func(t *testing.T) {
			call := types.ToolCall{ID: "call_1", Type: "function", Name: "f", Arguments: tt.args}
			up := &fakeUpstream{
				runStates: []types.Run{
					newRun("run_1", types.RunStatusRequiresAction, call),
					newRun("run_1", types.RunStatusCompleted),
				},
				messages: []types.ThreadMessage{{Content: "done"}},
			}
			var got any
			exec := ToolExecutorFunc(func(_ context.Context, _ types.ToolCall, args any) (string, error) {
				got = args
				return "ok", nil
			})
			svc, _ := newTestService(t, up, testConfig(), WithToolExecutor(exec))

			if _, err := svc.ProcessMessage(context.Background(), types.ProcessMessageRequest{ThreadID: "thread_1"}); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("expected args %#v, got %#v", tt.want, got)
			}
			if ObjectArgs(got) != nil {
				t.Errorf("expected no object args for %s", tt.args)
			}
			if len(up.submissions) != 1 || up.submissions[0].outputs[0].Output != "ok" {
				t.Errorf("expected one submission with output ok, got %+v", up.submissions)
			}
		})
	}
}

func TestProcessMessage_SubmitFailure(t *testing.T) {
	up := &fakeUpstream{
		runStates: []types.Run{newRun("run_1", types.RunStatusRequiresAction, weatherCall("call_1"))},
		submitErr: errUpstream,
	}
	svc, _ := newTestService(t, up, testConfig())

	_, err := svc.ProcessMessage(context.Background(), types.ProcessMessageRequest{ThreadID: "thread_1"})
	var uErr *UpstreamError
	if !errors.As(err, &uErr) || uErr.Message != "Error processing tool outputs" {
		t.Fatalf("expected 'Error processing tool outputs', got %v", err)
	}
	if !errors.Is(err, errUpstream) {
		t.Error("expected upstream error to be wrapped")
	}
}

func TestProcessMessage_RequiresActionWithoutToolCalls(t *testing.T) {
	up := &fakeUpstream{runStates: []types.Run{newRun("run_1", types.RunStatusRequiresAction)}}
	svc, _ := newTestService(t, up, testConfig())

	_, err := svc.ProcessMessage(context.Background(), types.ProcessMessageRequest{ThreadID: "thread_1"})
	var sErr *UnexpectedStateError
	if !errors.As(err, &sErr) || sErr.Status != types.RunStatusRequiresAction {
		t.Fatalf("expected UnexpectedStateError(requires_action), got %v", err)
	}
}

func TestProcessMessage_ToolRoundLimit(t *testing.T) {
	up := &fakeUpstream{runStates: []types.Run{newRun("run_1", types.RunStatusRequiresAction, weatherCall("call_1"))}}
	cfg := testConfig()
	cfg.Polling.MaxToolRounds = 3
	svc, _ := newTestService(t, up, cfg)

	_, err := svc.ProcessMessage(context.Background(), types.ProcessMessageRequest{ThreadID: "thread_1"})
	var sErr *UnexpectedStateError
	if !errors.As(err, &sErr) {
		t.Fatalf("expected UnexpectedStateError, got %v", err)
	}
	if len(up.submissions) != 3 {
		t.Errorf("expected 3 submissions before giving up, got %d", len(up.submissions))
	}
}

func TestProcessMessage_TerminalFailureStates(t *testing.T) {
	for _, status := range []types.RunStatus{
		types.RunStatusFailed,
		types.RunStatusExpired,
		types.RunStatusCancelled,
		types.RunStatusIncomplete,
		types.RunStatus("something_new"),
	} {
		t.Run(string(status), func(t *testing.T) {
			r := newRun("run_1", status)
			r.LastError = "server_error: boom"
			up := &fakeUpstream{runStates: []types.Run{newRun("run_1", types.RunStatusInProgress), r}}
			svc, metrics := newTestService(t, up, testConfig())

			_, err := svc.ProcessMessage(context.Background(), types.ProcessMessageRequest{ThreadID: "thread_1"})
			var sErr *UnexpectedStateError
			if !errors.As(err, &sErr) {
				t.Fatalf("expected UnexpectedStateError, got %v", err)
			}
			if sErr.Status != status {
				t.Errorf("expected status %s, got %s", status, sErr.Status)
			}
			if sErr.Reason != "server_error: boom" {
				t.Errorf("expected last error as reason, got %q", sErr.Reason)
			}
			if v := testutil.ToFloat64(metrics.RunOutcomeTotal.WithLabelValues(string(status))); v != 1 {
				t.Errorf("expected outcome %s recorded, got %f", status, v)
			}
		})
	}
}

func TestProcessMessage_PollTimeout(t *testing.T) {
	up := &fakeUpstream{runStates: []types.Run{newRun("run_1", types.RunStatusInProgress)}}
	cfg := testConfig()
	cfg.Polling.Timeout = 30 * time.Millisecond
	svc, metrics := newTestService(t, up, cfg)

	start := time.Now()
	_, err := svc.ProcessMessage(context.Background(), types.ProcessMessageRequest{ThreadID: "thread_1"})
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("poll loop did not stop at its timeout, took %s", elapsed)
	}
	var uErr *UpstreamError
	if !errors.As(err, &uErr) {
		t.Fatalf("expected UpstreamError, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected context.DeadlineExceeded, got %v", err)
	}
	if v := testutil.ToFloat64(metrics.RunOutcomeTotal.WithLabelValues("timeout")); v != 1 {
		t.Errorf("expected timeout outcome recorded, got %f", v)
	}
}

func TestProcessMessage_CallerCancellation(t *testing.T) {
	up := &fakeUpstream{runStates: []types.Run{newRun("run_1", types.RunStatusInProgress)}}
	cfg := testConfig()
	cfg.Polling.Timeout = time.Minute
	svc, _ := newTestService(t, up, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := svc.ProcessMessage(ctx, types.ProcessMessageRequest{ThreadID: "thread_1"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected the caller's deadline to end polling, got %v", err)
	}
}

func TestProcessMessage_Validation(t *testing.T) {
	up := &fakeUpstream{runStates: []types.Run{newRun("run_1", types.RunStatusCompleted)}}

	svc, _ := newTestService(t, up, testConfig())
	_, err := svc.ProcessMessage(context.Background(), types.ProcessMessageRequest{})
	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Errorf("expected ValidationError for missing thread_id, got %v", err)
	}

	cfg := testConfig()
	cfg.Upstream.AssistantID = ""
	svc, _ = newTestService(t, up, cfg)
	_, err = svc.ProcessMessage(context.Background(), types.ProcessMessageRequest{ThreadID: "thread_1"})
	if !errors.As(err, &vErr) {
		t.Errorf("expected ValidationError for missing assistant id, got %v", err)
	}
	if up.runIdx != 0 {
		t.Error("expected no run to be created")
	}
}

func TestProcessMessage_UpstreamFailures(t *testing.T) {
	tests := []struct {
		name string
		up   *fakeUpstream
	}{
		{"create run", &fakeUpstream{runErr: errUpstream}},
		{"retrieve run", &fakeUpstream{
			runStates:   []types.Run{newRun("run_1", types.RunStatusQueued)},
			retrieveErr: errUpstream,
		}},
		{"list messages", &fakeUpstream{
			runStates: []types.Run{newRun("run_1", types.RunStatusCompleted)},
			listErr:   errUpstream,
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _ := newTestService(t, tt.up, testConfig())
			_, err := svc.ProcessMessage(context.Background(), types.ProcessMessageRequest{ThreadID: "thread_1"})
			var uErr *UpstreamError
			if !errors.As(err, &uErr) {
				t.Fatalf("expected UpstreamError, got %v", err)
			}
			if !strings.Contains(uErr.Error(), errUpstream.Error()) {
				t.Errorf("expected upstream text in %q", uErr.Error())
			}
		})
	}
}

func TestProcessMessage_EmptyThread(t *testing.T) {
	up := &fakeUpstream{runStates: []types.Run{newRun("run_1", types.RunStatusCompleted)}}
	svc, _ := newTestService(t, up, testConfig())

	_, err := svc.ProcessMessage(context.Background(), types.ProcessMessageRequest{ThreadID: "thread_1"})
	var uErr *UpstreamError
	if !errors.As(err, &uErr) {
		t.Fatalf("expected UpstreamError for an empty thread, got %v", err)
	}
}

func TestPlaceholderExecutor(t *testing.T) {
	out, err := PlaceholderExecutor{}.Execute(context.Background(), weatherCall("c"), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != `"Tool executed successfully"` {
		t.Errorf("unexpected output %s", out)
	}
}
