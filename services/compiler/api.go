package compilersvc

import (
	"net/http"

	"github.com/R3E-Network/compile_service/internal/errors"
	"github.com/R3E-Network/compile_service/internal/httputil"
	"github.com/R3E-Network/compile_service/internal/middleware"
)

// =============================================================================
// API Routes
// =============================================================================

// registerRoutes registers HTTP handlers.
func (s *Service) registerRoutes() {
	router := s.Router()
	if s.metrics != nil {
		router.Use(middleware.MetricsMiddleware(ServiceID, s.metrics))
		router.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	}

	s.RegisterStandardRoutes()
	router.HandleFunc("/", s.handleHello).Methods(http.MethodGet)
	router.Handle("/compile", s.rateLimiter.Handler(http.HandlerFunc(s.handleCompile))).Methods(http.MethodPost)

	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteError(w, &errors.ServiceError{
			Code:       errors.CodeInvalidRequest,
			Message:    "no such endpoint",
			HTTPStatus: http.StatusNotFound,
		})
	})
	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteError(w, &errors.ServiceError{
			Code:       errors.CodeInvalidRequest,
			Message:    "method " + r.Method + " not allowed",
			HTTPStatus: http.StatusMethodNotAllowed,
		})
	})
}
