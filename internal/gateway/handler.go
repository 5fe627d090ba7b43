package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/af-corp/convo-gateway/internal/assistant"
	"github.com/af-corp/convo-gateway/internal/filter"
	"github.com/af-corp/convo-gateway/internal/httputil"
	"github.com/af-corp/convo-gateway/internal/telemetry"
	"github.com/af-corp/convo-gateway/internal/types"
)

const maxBodyBytes = 1 << 20

const msgRunNotCompleted = "Run did not complete"

// Conversation is the set of operations exposed over HTTP.
type Conversation interface {
	DirectQuery(ctx context.Context, req types.QueryRequest) (types.QueryResponse, error)
	CreateAssistant(ctx context.Context, req types.CreateAssistantRequest) (types.CreateAssistantResponse, error)
	CreateThread(ctx context.Context) (types.CreateThreadResponse, error)
	AddMessage(ctx context.Context, req types.AddMessageRequest) (types.AddMessageResponse, error)
	ProcessMessage(ctx context.Context, req types.ProcessMessageRequest) (types.ProcessMessageResponse, error)
}

// Handler holds dependencies for the gateway HTTP handlers.
type Handler struct {
	conv    Conversation
	metrics *telemetry.Metrics
	logger  *slog.Logger
}

func NewHandler(conv Conversation, metrics *telemetry.Metrics, logger *slog.Logger) *Handler {
	return &Handler{conv: conv, metrics: metrics, logger: logger}
}

// Query handles POST /query.
func (h *Handler) Query(w http.ResponseWriter, r *http.Request) {
	var req types.QueryRequest
	if !h.decode(w, r, &req) {
		return
	}
	resp, err := h.conv.DirectQuery(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

// CreateAssistant handles POST /create_assistant.
func (h *Handler) CreateAssistant(w http.ResponseWriter, r *http.Request) {
	var req types.CreateAssistantRequest
	if !h.decode(w, r, &req) {
		return
	}
	resp, err := h.conv.CreateAssistant(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

// CreateThread handles POST /create_thread. Any request body is ignored.
func (h *Handler) CreateThread(w http.ResponseWriter, r *http.Request) {
	resp, err := h.conv.CreateThread(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

// AddMessage handles POST /add_message.
func (h *Handler) AddMessage(w http.ResponseWriter, r *http.Request) {
	var req types.AddMessageRequest
	if !h.decode(w, r, &req) {
		return
	}
	resp, err := h.conv.AddMessage(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

// ProcessMessage handles POST /process_message.
func (h *Handler) ProcessMessage(w http.ResponseWriter, r *http.Request) {
	var req types.ProcessMessageRequest
	if !h.decode(w, r, &req) {
		return
	}
	resp, err := h.conv.ProcessMessage(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

// decode reads a JSON body into v. An empty body leaves v at its zero value
// so that missing-field validation produces the usual messages.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	reqID := RequestIDFromContext(r.Context())
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		httputil.WriteBadRequestError(w, reqID, "Failed to read request body")
		return false
	}
	defer r.Body.Close()
	if len(body) > maxBodyBytes {
		httputil.WriteError(w, reqID, http.StatusRequestEntityTooLarge, httputil.ErrorBody{Message: "Request body too large"})
		return false
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return true
	}
	if err := json.Unmarshal(body, v); err != nil {
		h.logger.WarnContext(r.Context(), "invalid request body", "request_id", reqID, "route", r.URL.Path, "error", err)
		httputil.WriteBadRequestError(w, reqID, "Invalid JSON: "+err.Error())
		return false
	}
	return true
}

// writeError maps the closed error set of the assistant package onto HTTP.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	reqID := RequestIDFromContext(ctx)
	log := h.logger.With("request_id", reqID, "route", r.URL.Path, "error", err)

	var (
		validationErr *assistant.ValidationError
		blockedErr    *filter.BlockedError
		stateErr      *assistant.UnexpectedStateError
		upstreamErr   *assistant.UpstreamError
	)
	switch {
	case errors.As(err, &validationErr):
		log.InfoContext(ctx, "request rejected")
		httputil.WriteBadRequestError(w, reqID, validationErr.Message)

	case errors.As(err, &blockedErr):
		log.WarnContext(ctx, "request blocked by filter",
			"filter", blockedErr.Result.FilterName,
			"detections", blockedErr.Result.Detections,
			"score", blockedErr.Result.Score,
		)
		httputil.WriteContentBlockedError(w, reqID, blockedErr.Result.Message, blockedErr.Error())

	case errors.As(err, &stateErr):
		log.ErrorContext(ctx, "run ended in unexpected state", "run_status", stateErr.Status)
		httputil.WriteError(w, reqID, http.StatusInternalServerError, httputil.ErrorBody{
			Message:   msgRunNotCompleted,
			Error:     stateErr.Reason,
			RunStatus: string(stateErr.Status),
		})

	case errors.As(err, &upstreamErr):
		log.ErrorContext(ctx, "upstream call failed", "operation", upstreamErr.Op)
		httputil.WriteInternalError(w, reqID, upstreamErr.Message, upstreamErr.Err)

	default:
		log.ErrorContext(ctx, "unexpected error")
		httputil.WriteInternalError(w, reqID, "An unexpected error occurred", err)
	}
}

// Instrument records request count and latency for route.
func (h *Handler) Instrument(route string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			duration := time.Since(start)
			h.metrics.RecordRequest(telemetry.RequestLabels{
				Route:      route,
				Status:     strconv.Itoa(status),
				DurationMs: float64(duration.Milliseconds()),
			})
			h.logger.InfoContext(r.Context(), "request completed",
				"request_id", RequestIDFromContext(r.Context()),
				"route", route,
				"status", status,
				"duration_ms", duration.Milliseconds(),
			)
		})
	}
}
