// Package compilersvc implements the model compile service.
//
// POST /compile turns model source text into a WebAssembly module by invoking
// an external compiler. Each request gets a private scratch directory that is
// removed once the artifact has been streamed or the request failed. Compiles
// run behind a concurrency limiter in their own goroutine so a slow compile
// never blocks the rest of the API.
package compilersvc

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/R3E-Network/compile_service/internal/artifact"
	"github.com/R3E-Network/compile_service/internal/compiler"
	"github.com/R3E-Network/compile_service/internal/errors"
	"github.com/R3E-Network/compile_service/internal/limiter"
	"github.com/R3E-Network/compile_service/internal/logging"
	"github.com/R3E-Network/compile_service/internal/metrics"
	"github.com/R3E-Network/compile_service/internal/middleware"
	"github.com/R3E-Network/compile_service/services/common/service"
)

// =============================================================================
// Service Constants
// =============================================================================

const (
	ServiceID   = "compiler"
	ServiceName = "Compile Service"
	Version     = "1.0.0"

	DefaultCompileTimeout  = 2 * time.Minute
	DefaultMaxRequestBytes = 1 << 20
)

// Config holds service configuration.
type Config struct {
	Compiler  compiler.Compiler
	Scratch   *artifact.Scratch
	Limiter   *limiter.Limiter
	Validator *artifact.Validator
	Metrics   *metrics.Metrics
	Logger    *logging.Logger

	// RateLimiter applies to /compile only. Nil disables it.
	RateLimiter *middleware.RateLimiter

	CompileTimeout   time.Duration
	MaxRequestBytes  int64
	ValidateMaxBytes int64

	// JanitorSchedule enables the stale scratch sweep when set.
	JanitorSchedule string
	JanitorMaxAge   time.Duration

	AllowedOrigins   []string
	MinFreeDiskBytes uint64
}

// Service implements the compile service.
type Service struct {
	*service.BaseService

	compiler    compiler.Compiler
	scratch     *artifact.Scratch
	limiter     *limiter.Limiter
	validator   *artifact.Validator
	janitor     *artifact.Janitor
	metrics     *metrics.Metrics
	rateLimiter *middleware.RateLimiter
	stats       *service.ServiceMetrics

	compileTimeout   time.Duration
	maxRequestBytes  int64
	validateMaxBytes int64
	allowedOrigins   []string

	stopOnce sync.Once
}

// New creates a new compile service.
func New(cfg Config) (*Service, error) {
	if cfg.Compiler == nil {
		return nil, fmt.Errorf("compiler is required")
	}
	if cfg.Scratch == nil {
		return nil, fmt.Errorf("scratch storage is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	lim := cfg.Limiter
	if lim == nil {
		lim = limiter.New(limiter.DefaultConfig())
	}
	compileTimeout := cfg.CompileTimeout
	if compileTimeout <= 0 {
		compileTimeout = DefaultCompileTimeout
	}
	maxRequestBytes := cfg.MaxRequestBytes
	if maxRequestBytes <= 0 {
		maxRequestBytes = DefaultMaxRequestBytes
	}
	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	base := service.NewBase(service.BaseConfig{
		ID:               ServiceID,
		Name:             ServiceName,
		Version:          Version,
		Logger:           logger,
		ScratchRoot:      cfg.Scratch.Root(),
		MinFreeDiskBytes: cfg.MinFreeDiskBytes,
	})

	s := &Service{
		BaseService:      base,
		compiler:         cfg.Compiler,
		scratch:          cfg.Scratch,
		limiter:          lim,
		validator:        cfg.Validator,
		metrics:          cfg.Metrics,
		rateLimiter:      cfg.RateLimiter,
		stats:            service.NewServiceMetrics(ServiceID),
		compileTimeout:   compileTimeout,
		maxRequestBytes:  maxRequestBytes,
		validateMaxBytes: cfg.ValidateMaxBytes,
		allowedOrigins:   origins,
	}

	if cfg.JanitorSchedule != "" {
		janitor, err := artifact.NewJanitor(cfg.Scratch, artifact.JanitorConfig{
			Schedule: cfg.JanitorSchedule,
			MaxAge:   cfg.JanitorMaxAge,
			OnSweep:  s.onSweep,
		}, logger)
		if err != nil {
			return nil, err
		}
		s.janitor = janitor
	}

	base.WithStats(s.statistics)
	base.WithHydrate(s.hydrate)
	if s.janitor != nil {
		base.AddWorker(s.runJanitor)
	}
	if s.metrics != nil {
		base.AddTickerWorker(5*time.Second, func(context.Context) error {
			s.publishGauges()
			return nil
		})
	}

	s.registerRoutes()
	return s, nil
}

// Handler returns the full HTTP handler: CORS outermost so preflights never
// hit method matching, then request tracing, then the router.
func (s *Service) Handler() http.Handler {
	traced := middleware.NewTracingMiddleware(s.Logger()).Handler(s.Router())
	return middleware.NewCORSMiddleware(s.allowedOrigins).Handler(traced)
}

// =============================================================================
// Compile
// =============================================================================

// Compile runs the compiler for req and returns the checked artifact. The
// caller must Close it, which also removes the scratch directory. Every error
// is a *errors.ServiceError and leaves nothing on disk once the compiler has
// returned.
func (s *Service) Compile(ctx context.Context, req *CompileRequest) (*artifact.Artifact, error) {
	start := time.Now()
	art, err := s.compile(ctx, req)
	s.recordOutcome(ctx, req.Name, art, err, time.Since(start))
	if err != nil {
		return nil, err
	}
	return art, nil
}

type compileResult struct {
	art *artifact.Artifact
	err error
}

func (s *Service) compile(ctx context.Context, req *CompileRequest) (*artifact.Artifact, error) {
	h, err := s.scratch.Acquire(req.Name)
	if err != nil {
		return nil, errors.ArtifactIO("failed to allocate artifact storage").WithCause(err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.compileTimeout)
	defer cancel()

	done := make(chan compileResult, 1)
	go func() {
		art, err := s.runCompiler(ctx, h, req)
		done <- compileResult{art: art, err: err}
	}()

	var res compileResult
	select {
	case res = <-done:
	case <-ctx.Done():
		// The compiler may not honour cancellation; the directory goes away
		// once it actually returns.
		go func() {
			if res := <-done; res.art != nil {
				res.art.Close()
				return
			}
			h.Release()
		}()
		return nil, errors.From(ctx.Err())
	}

	if res.err != nil {
		h.Release()
		return nil, s.classify(h, res.err)
	}
	return res.art, nil
}

// runCompiler holds one limiter permit across the compile and the artifact
// checks. Streaming happens after the permit is returned.
func (s *Service) runCompiler(ctx context.Context, h *artifact.Handle, req *CompileRequest) (*artifact.Artifact, error) {
	if err := s.limiter.Acquire(ctx); err != nil {
		return nil, err
	}
	defer s.limiter.Release()
	s.publishGauges()

	if err := s.compiler.Compile(ctx, req.Text, h.OutputPath(), req.Name, compiler.WasmOptions(), true); err != nil {
		return nil, err
	}

	art, err := artifact.Open(ctx, h, artifact.OpenOptions{
		Validator:        s.validator,
		ValidateMaxBytes: s.validateMaxBytes,
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, errors.ArtifactIO(artifactMessage(err)).WithCause(err)
	}
	return art, nil
}

// classify maps a compile failure onto the service error taxonomy.
func (s *Service) classify(h *artifact.Handle, err error) *errors.ServiceError {
	var compileErr *compiler.Error
	switch {
	case stderrors.As(err, &compileErr):
		return errors.CompilationFailed(h.Scrub(compileErr.Message)).WithCause(err)
	case stderrors.Is(err, limiter.ErrLimitExceeded):
		return errors.Busy("compile queue is full, retry later").WithCause(err)
	case stderrors.Is(err, limiter.ErrAcquireTimeout):
		return errors.Busy("timed out waiting for a compile slot").WithCause(err)
	case stderrors.Is(err, limiter.ErrLimiterClosed):
		return errors.Busy("service is shutting down").WithCause(err)
	case stderrors.Is(err, compiler.ErrCompilerUnavailable):
		return errors.Internal("compiler is unavailable").WithCause(err)
	}
	return errors.From(err)
}

func artifactMessage(err error) string {
	switch {
	case stderrors.Is(err, artifact.ErrMissing):
		return artifact.ErrMissing.Error()
	case stderrors.Is(err, artifact.ErrEmpty):
		return artifact.ErrEmpty.Error()
	case stderrors.Is(err, artifact.ErrInvalid):
		return artifact.ErrInvalid.Error()
	}
	return "failed to read compiled artifact"
}

func (s *Service) recordOutcome(ctx context.Context, name string, art *artifact.Artifact, err error, d time.Duration) {
	entry := s.Logger().WithContext(ctx).WithField("model", name).WithField("duration_ms", d.Milliseconds())

	if err != nil {
		svcErr := errors.From(err)
		s.stats.RecordFailure(d, string(svcErr.Code))
		if s.metrics != nil {
			s.metrics.RecordCompile(string(svcErr.Code), d)
		}
		entry = entry.WithField("code", svcErr.Code)
		if svcErr.HTTPStatus >= http.StatusInternalServerError && svcErr.Code != errors.CodeCompilationFailed {
			entry.WithError(svcErr.Unwrap()).Error("compile failed")
		} else {
			entry.Info("compile rejected")
		}
		s.publishGauges()
		return
	}

	s.stats.RecordSuccess(d)
	if s.metrics != nil {
		s.metrics.RecordCompile("success", d)
		s.metrics.RecordArtifactSize(art.Size)
	}
	entry.WithField("bytes", art.Size).Info("compile succeeded")
	s.publishGauges()
}

func (s *Service) publishGauges() {
	if s.metrics == nil {
		return
	}
	s.metrics.RecordLimiter(s.limiter.Stats())
	s.metrics.RecordScratchPending(s.scratch.Pending())
}

func (s *Service) onSweep(removed int) {
	if s.metrics != nil {
		s.metrics.RecordJanitorRemovals(removed)
	}
}

// statistics feeds /info.
func (s *Service) statistics() any {
	stats := Statistics{
		Compiles:       s.stats.Export(),
		Limiter:        s.limiter.Stats(),
		ScratchRoot:    s.scratch.Root(),
		PendingHandles: s.scratch.Pending(),
		CompileTimeout: s.compileTimeout.String(),
	}
	if s.janitor != nil {
		at, removed := s.janitor.LastSweep()
		js := &JanitorStats{Removed: removed}
		if !at.IsZero() {
			js.LastSweep = at.Format(time.RFC3339)
		}
		stats.Janitor = js
	}
	if s.rateLimiter.Enabled() {
		n := s.rateLimiter.Size()
		stats.RateLimitedClients = &n
	}
	return stats
}
