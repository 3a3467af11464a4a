package service

import (
	"net/http"
	"time"

	"github.com/R3E-Network/compile_service/internal/httputil"
)

// =============================================================================
// Standard Response Types
// =============================================================================

// HealthResponse is the standard response for /health endpoint.
type HealthResponse struct {
	Status    string         `json:"status"`
	Service   string         `json:"service"`
	Version   string         `json:"version"`
	Timestamp string         `json:"timestamp"`
	Details   map[string]any `json:"details,omitempty"`
}

// InfoResponse is the body of GET /info. Statistics carries whatever the
// service registered with WithStats.
type InfoResponse struct {
	ID         string `json:"id"`
	Service    string `json:"service"`
	Version    string `json:"version"`
	Uptime     string `json:"uptime"`
	Statistics any    `json:"statistics,omitempty"`
}

// =============================================================================
// Standard Handlers
// =============================================================================

// HealthHandler returns a standardized /health handler for BaseService.
// Degraded and unhealthy states are reported in the body; the status code
// stays 200 so the process is never restarted for a full disk.
func HealthHandler(s *BaseService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := HealthResponse{
			Status:    s.HealthStatus(),
			Service:   s.Name(),
			Version:   s.Version(),
			Timestamp: time.Now().Format(time.RFC3339),
			Details:   s.HealthDetails(),
		}
		httputil.WriteJSON(w, http.StatusOK, resp)
	}
}

// InfoHandler serves identity, uptime and the registered statistics.
func InfoHandler(s *BaseService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var stats any
		if s.statsFn != nil {
			stats = s.statsFn()
		}
		httputil.WriteJSON(w, http.StatusOK, InfoResponse{
			ID:         s.ID(),
			Service:    s.Name(),
			Version:    s.Version(),
			Uptime:     s.Uptime().Round(time.Second).String(),
			Statistics: stats,
		})
	}
}

// =============================================================================
// Route Registration
// =============================================================================

// RegisterStandardRoutes registers the standard /health and /info endpoints.
func (b *BaseService) RegisterStandardRoutes() {
	b.router.HandleFunc("/health", HealthHandler(b)).Methods(http.MethodGet)
	b.router.HandleFunc("/info", InfoHandler(b)).Methods(http.MethodGet)
}
