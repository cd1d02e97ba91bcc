package http

import (
	"net/http"

	"github.com/chatreplay/chatreplay/internal/lookup"
)

// ServiceName identifies the replay server in health responses.
const ServiceName = "chatreplay"

// NewMux wires the API routes for engine. Any extra middleware wraps the
// default chain, outermost first.
func NewMux(engine *lookup.Engine, extra ...func(http.Handler) http.Handler) *http.ServeMux {
	middleware := ChainMiddleware(append(extra, DefaultMiddleware())...)

	mux := http.NewServeMux()
	mux.Handle("POST /v1/chat/completions", middleware(NewChatHandler(engine)))
	mux.Handle("GET /v1/stats", middleware(StatsHandler(engine)))
	mux.HandleFunc("GET /health", HealthHandler(ServiceName, engine))
	return mux
}
