package assistant

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/af-corp/convo-gateway/internal/cache"
	"github.com/af-corp/convo-gateway/internal/types"
)

// DirectQuery answers a question with a single chat completion. The prompt
// is the configured system instruction, then the caller's history in order,
// then the question as a user turn.
func (s *Service) DirectQuery(ctx context.Context, req types.QueryRequest) (types.QueryResponse, error) {
	if req.Question == "" {
		return types.QueryResponse{}, validationErr(msgNoQuestion)
	}
	for i, m := range req.ChatHistory {
		if _, ok := types.ParseRole(string(m.Role)); !ok {
			return types.QueryResponse{}, validationErr(fmt.Sprintf("%s at index %d: %q", msgInvalidHistoryRole, i, m.Role))
		}
	}

	cfg := s.cfg().Chat
	ctx, span := s.tracer.Start(ctx, "assistant.DirectQuery")
	defer span.End()
	span.SetAttributes(attribute.String("model", cfg.Model), attribute.Int("history_len", len(req.ChatHistory)))

	caller := make([]types.Message, 0, len(req.ChatHistory)+1)
	caller = append(caller, req.ChatHistory...)
	caller = append(caller, types.Message{Role: types.RoleUser, Content: req.Question})
	if err := s.screen(ctx, "direct_query", caller); err != nil {
		return types.QueryResponse{}, err
	}

	messages := make([]types.Message, 0, len(caller)+1)
	messages = append(messages, types.Message{Role: types.RoleSystem, Content: cfg.SystemPrompt})
	messages = append(messages, caller...)

	var key string
	if s.cache != nil {
		key = cache.Key(cfg.Model, cfg.MaxTokens, messages)
		if answer, ok := s.cache.Get(ctx, key); ok {
			s.metrics.RecordCache("hit")
			span.SetAttributes(attribute.Bool("cache_hit", true))
			return types.QueryResponse{Answer: answer}, nil
		}
		s.metrics.RecordCache("miss")
	}

	answer, err := s.upstream.ChatCompletion(ctx, cfg.Model, messages, cfg.MaxTokens)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return types.QueryResponse{}, upstreamErr(msgUnexpected, "chat_completion", err)
	}

	if s.cache != nil {
		s.cache.Set(ctx, key, answer)
	}
	return types.QueryResponse{Answer: answer}, nil
}
