package http

import (
	"net/http"

	"github.com/chatreplay/chatreplay/internal/index"
	"github.com/chatreplay/chatreplay/internal/observability"
)

// StatsSource exposes the counters reported by the status endpoints.
type StatsSource interface {
	Stats() observability.Snapshot
	Index() *index.Index
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
	Keys    int    `json:"keys"`
}

// StatsResponse is the body of GET /v1/stats.
type StatsResponse struct {
	Index   index.Stats            `json:"index"`
	Lookups observability.Snapshot `json:"lookups"`
}

// HealthHandler reports liveness and the size of the served index.
func HealthHandler(service string, src StatsSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, HealthResponse{
			Status:  "ok",
			Service: service,
			Keys:    src.Index().Len(),
		})
	}
}

// StatsHandler reports build and lookup statistics.
func StatsHandler(src StatsSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, StatsResponse{
			Index:   src.Index().Stats(),
			Lookups: src.Stats(),
		})
	}
}
