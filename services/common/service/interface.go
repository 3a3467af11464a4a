// Package service provides common service infrastructure: the router,
// lifecycle hooks, standard routes and health tracking.
package service

import (
	"context"

	"github.com/gorilla/mux"
)

// Service is the lifecycle every HTTP service exposes to its entry point.
type Service interface {
	ID() string
	Name() string
	Version() string
	Router() *mux.Router
	Start(ctx context.Context) error
	Stop() error
}

// HealthChecker is implemented by services that report a health status.
type HealthChecker interface {
	HealthStatus() string
	HealthDetails() map[string]any
}
