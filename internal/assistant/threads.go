package assistant

import (
	"context"

	"go.opentelemetry.io/otel/attribute"

	"github.com/af-corp/convo-gateway/internal/types"
)

// CreateAssistant registers a new assistant upstream using the configured
// assistant model and returns its id.
func (s *Service) CreateAssistant(ctx context.Context, req types.CreateAssistantRequest) (types.CreateAssistantResponse, error) {
	spec := req.Spec(s.cfg().Chat.AssistantModel)

	ctx, span := s.tracer.Start(ctx, "assistant.CreateAssistant")
	defer span.End()
	span.SetAttributes(attribute.String("model", spec.Model), attribute.Int("tools", len(spec.Tools)))

	id, err := s.upstream.CreateAssistant(ctx, spec)
	if err != nil {
		return types.CreateAssistantResponse{}, upstreamErr(msgCreateAssistant, "create_assistant", err)
	}
	return types.CreateAssistantResponse{AssistantID: id}, nil
}

func (s *Service) CreateThread(ctx context.Context) (types.CreateThreadResponse, error) {
	ctx, span := s.tracer.Start(ctx, "assistant.CreateThread")
	defer span.End()

	id, err := s.upstream.CreateThread(ctx)
	if err != nil {
		return types.CreateThreadResponse{}, upstreamErr(msgCreateThread, "create_thread", err)
	}
	return types.CreateThreadResponse{ThreadID: id}, nil
}

// AddMessage appends a user message to a thread. An absent message defaults
// to "hi!".
func (s *Service) AddMessage(ctx context.Context, req types.AddMessageRequest) (types.AddMessageResponse, error) {
	if req.ThreadID == "" {
		return types.AddMessageResponse{}, validationErr(msgNoThreadID)
	}
	content := req.Content()

	ctx, span := s.tracer.Start(ctx, "assistant.AddMessage")
	defer span.End()
	span.SetAttributes(attribute.String("thread_id", req.ThreadID))

	if err := s.screen(ctx, "add_message", []types.Message{{Role: types.RoleUser, Content: content}}); err != nil {
		return types.AddMessageResponse{}, err
	}

	msg, err := s.upstream.CreateMessage(ctx, req.ThreadID, content)
	if err != nil {
		return types.AddMessageResponse{}, upstreamErr(msgAddMessage, "create_message", err)
	}
	return types.AddMessageResponse{MessageID: msg.ID, Content: msg.Content}, nil
}
