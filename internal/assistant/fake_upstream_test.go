package assistant

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/af-corp/convo-gateway/internal/config"
	"github.com/af-corp/convo-gateway/internal/telemetry"
	"github.com/af-corp/convo-gateway/internal/types"
)

var errUpstream = errors.New("upstream is down")

type submission struct {
	threadID string
	runID    string
	outputs  []types.ToolOutput
}

// fakeUpstream records every call. Run states are served from runStates in
// order: the first entry is returned by CreateRun, each RetrieveRun or
// SubmitToolOutputs consumes the next one.
type fakeUpstream struct {
	mu sync.Mutex

	answer     string
	chatErr    error
	chatCalls  int
	chatModel  string
	chatMaxTok int
	chatMsgs   []types.Message

	assistantID   string
	assistantErr  error
	assistantSpec types.AssistantSpec

	threadID  string
	threadErr error

	messageErr   error
	addedThread  string
	addedContent string

	runErr      error
	retrieveErr error
	submitErr   error
	runStates   []types.Run
	runIdx      int
	retrieves   int
	submissions []submission

	listErr  error
	messages []types.ThreadMessage
}

func (f *fakeUpstream) ChatCompletion(_ context.Context, model string, messages []types.Message, maxTokens int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chatCalls++
	f.chatModel = model
	f.chatMaxTok = maxTokens
	f.chatMsgs = messages
	return f.answer, f.chatErr
}

func (f *fakeUpstream) CreateAssistant(_ context.Context, spec types.AssistantSpec) (string, error) {
	f.assistantSpec = spec
	return f.assistantID, f.assistantErr
}

func (f *fakeUpstream) CreateThread(context.Context) (string, error) {
	return f.threadID, f.threadErr
}

func (f *fakeUpstream) CreateMessage(_ context.Context, threadID, content string) (types.ThreadMessage, error) {
	f.addedThread = threadID
	f.addedContent = content
	if f.messageErr != nil {
		return types.ThreadMessage{}, f.messageErr
	}
	return types.ThreadMessage{ID: "msg_new", Role: types.RoleUser, Content: content}, nil
}

func (f *fakeUpstream) nextRun() types.Run {
	if f.runIdx >= len(f.runStates) {
		return f.runStates[len(f.runStates)-1]
	}
	r := f.runStates[f.runIdx]
	f.runIdx++
	return r
}

func (f *fakeUpstream) CreateRun(_ context.Context, threadID, _ string) (types.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.runErr != nil {
		return types.Run{}, f.runErr
	}
	return f.nextRun(), nil
}

func (f *fakeUpstream) RetrieveRun(ctx context.Context, _, _ string) (types.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.retrieves++
	if f.retrieveErr != nil {
		return types.Run{}, f.retrieveErr
	}
	if err := ctx.Err(); err != nil {
		return types.Run{}, err
	}
	return f.nextRun(), nil
}

func (f *fakeUpstream) SubmitToolOutputs(_ context.Context, threadID, runID string, outputs []types.ToolOutput) (types.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submissions = append(f.submissions, submission{threadID: threadID, runID: runID, outputs: outputs})
	if f.submitErr != nil {
		return types.Run{}, f.submitErr
	}
	return f.nextRun(), nil
}

func (f *fakeUpstream) ListMessages(context.Context, string) ([]types.ThreadMessage, error) {
	return f.messages, f.listErr
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Upstream.APIKey = "sk-test"
	cfg.Upstream.AssistantID = "asst_configured"
	cfg.Polling.Interval = time.Millisecond
	cfg.Polling.Timeout = time.Second
	return cfg
}

func newTestService(t *testing.T, up Upstream, cfg *config.Config, opts ...Option) (*Service, *telemetry.Metrics) {
	t.Helper()
	metrics := telemetry.NewMetricsWith(prometheus.NewRegistry())
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewService(up, func() *config.Config { return cfg }, metrics, logger, opts...), metrics
}

func newRun(id string, status types.RunStatus, calls ...types.ToolCall) types.Run {
	return types.Run{ID: id, ThreadID: "thread_1", Status: status, ToolCalls: calls}
}
