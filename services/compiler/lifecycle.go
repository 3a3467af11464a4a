package compilersvc

import (
	"context"
	"time"
)

// =============================================================================
// Lifecycle
// =============================================================================

// Start hydrates the service, launches the janitor worker and starts the
// rate limiter cleanup loop.
func (s *Service) Start(ctx context.Context) error {
	if err := s.BaseService.Start(ctx); err != nil {
		return err
	}
	if s.rateLimiter.Enabled() {
		s.rateLimiter.StartCleanup(time.Minute)
	}
	return nil
}

// hydrate sweeps leftovers of a previous process before any worker runs. A
// failed sweep is logged; the next scheduled one retries it.
func (s *Service) hydrate(ctx context.Context) error {
	if s.janitor == nil {
		return nil
	}
	if _, err := s.janitor.Sweep(time.Now()); err != nil {
		s.Logger().WithContext(ctx).WithError(err).Warn("initial scratch sweep failed")
	}
	return nil
}

// runJanitor runs the sweep schedule until the service stops.
func (s *Service) runJanitor(ctx context.Context) {
	s.janitor.Start()
	select {
	case <-ctx.Done():
	case <-s.StopChan():
	}
	s.janitor.Stop()
}

// Stop stops background work and rejects further compiles. Call it after the
// HTTP server has drained.
func (s *Service) Stop() error {
	s.stopOnce.Do(s.shutdown)
	return s.BaseService.Stop()
}

func (s *Service) shutdown() {
	if s.janitor != nil {
		s.janitor.Stop()
	}
	if s.rateLimiter.Enabled() {
		s.rateLimiter.Stop()
	}
	s.limiter.Close()

	if s.validator != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.validator.Close(ctx); err != nil {
			s.Logger().WithContext(ctx).WithError(err).Warn("failed to close artifact validator")
		}
	}
}
