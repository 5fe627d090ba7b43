package assistant

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/af-corp/convo-gateway/internal/cache"
	"github.com/af-corp/convo-gateway/internal/config"
	"github.com/af-corp/convo-gateway/internal/filter"
	"github.com/af-corp/convo-gateway/internal/telemetry"
	"github.com/af-corp/convo-gateway/internal/types"
)

const tracerName = "github.com/af-corp/convo-gateway/internal/assistant"

// Caller-facing messages.
const (
	msgNoQuestion         = "No question provided"
	msgNoThreadID         = "No thread_id provided"
	msgNoAssistant        = "No assistant configured"
	msgUnexpected         = "An unexpected error occurred"
	msgCreateAssistant    = "Failed to create assistant"
	msgCreateThread       = "Failed to create thread"
	msgAddMessage         = "Failed to add message"
	msgToolOutputs        = "Error processing tool outputs"
	msgRunTimeout         = "Timed out waiting for run to finish"
	msgNoThreadMessages   = "Thread has no messages"
	msgInvalidHistoryRole = "Invalid role in chat_history"
)

// Upstream is the vendor API the gateway forwards to. Implementations must be
// safe for concurrent use.
type Upstream interface {
	ChatCompletion(ctx context.Context, model string, messages []types.Message, maxTokens int) (string, error)
	CreateAssistant(ctx context.Context, spec types.AssistantSpec) (string, error)
	CreateThread(ctx context.Context) (string, error)
	CreateMessage(ctx context.Context, threadID, content string) (types.ThreadMessage, error)
	CreateRun(ctx context.Context, threadID, assistantID string) (types.Run, error)
	RetrieveRun(ctx context.Context, threadID, runID string) (types.Run, error)
	SubmitToolOutputs(ctx context.Context, threadID, runID string, outputs []types.ToolOutput) (types.Run, error)
	ListMessages(ctx context.Context, threadID string) ([]types.ThreadMessage, error)
}

// Service implements the conversation gateway operations. It holds no
// conversation state: threads, messages and runs live upstream.
type Service struct {
	upstream Upstream
	tools    ToolExecutor
	cache    cache.ResponseCache
	filters  *filter.Chain
	cfg      func() *config.Config
	metrics  *telemetry.Metrics
	logger   *slog.Logger
	tracer   trace.Tracer
}

type Option func(*Service)

// WithToolExecutor replaces the placeholder tool executor.
func WithToolExecutor(e ToolExecutor) Option {
	return func(s *Service) { s.tools = e }
}

// WithCache enables answer caching for direct queries.
func WithCache(c cache.ResponseCache) Option {
	return func(s *Service) { s.cache = c }
}

// WithFilters runs the chain over caller content before it goes upstream.
func WithFilters(c *filter.Chain) Option {
	return func(s *Service) { s.filters = c }
}

// NewService creates the gateway service. cfg is read on every call so
// reloaded settings apply to the next request.
func NewService(up Upstream, cfg func() *config.Config, metrics *telemetry.Metrics, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		upstream: up,
		tools:    PlaceholderExecutor{},
		cfg:      cfg,
		metrics:  metrics,
		logger:   logger,
		tracer:   otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// screen runs the filter chain over caller content for op, recording every
// non-pass action.
func (s *Service) screen(ctx context.Context, op string, messages []types.Message) error {
	if s.filters == nil {
		return nil
	}
	results, blocked := s.filters.Run(filter.WithOperation(ctx, op), messages)
	for _, r := range results {
		if r.Action != filter.ActionPass {
			s.metrics.RecordFilterAction(r.FilterName, string(r.Action))
		}
		if r.Action == filter.ActionFlag {
			s.logger.WarnContext(ctx, "content flagged", "filter", r.FilterName, "score", r.Score, "detections", r.Detections)
		}
	}
	if blocked != nil {
		return &filter.BlockedError{Result: *blocked}
	}
	return nil
}
