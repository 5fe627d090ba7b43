package gateway

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/af-corp/convo-gateway/internal/httputil"
	"github.com/af-corp/convo-gateway/internal/web"
)

// NewRouter wires the HTTP surface: the chat page, its assets, the health
// check and the five conversation routes. upstreamState reports the upstream
// circuit breaker state for /healthz and may be nil.
func NewRouter(h *Handler, site *web.Site, version string, upstreamState func() string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(RequestID)

	r.Get("/", site.Index)
	r.Handle("/static/*", site.Static())
	r.Get("/healthz", healthHandler(version, upstreamState))

	r.With(h.Instrument("/query")).Post("/query", h.Query)
	r.With(h.Instrument("/create_assistant")).Post("/create_assistant", h.CreateAssistant)
	r.With(h.Instrument("/create_thread")).Post("/create_thread", h.CreateThread)
	r.With(h.Instrument("/add_message")).Post("/add_message", h.AddMessage)
	r.With(h.Instrument("/process_message")).Post("/process_message", h.ProcessMessage)

	return r
}

// healthHandler always answers 200 so the process stays in rotation; an open
// upstream breaker only downgrades the status to "degraded".
func healthHandler(version string, upstreamState func() string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body := map[string]string{
			"status":  "healthy",
			"version": version,
		}
		if upstreamState != nil {
			state := upstreamState()
			body["upstream"] = state
			if state == "open" {
				body["status"] = "degraded"
			}
		}
		httputil.WriteJSON(w, http.StatusOK, body)
	}
}
