// Package main is the compile service entry point.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/R3E-Network/compile_service/internal/artifact"
	"github.com/R3E-Network/compile_service/internal/compiler"
	"github.com/R3E-Network/compile_service/internal/config"
	"github.com/R3E-Network/compile_service/internal/limiter"
	"github.com/R3E-Network/compile_service/internal/logging"
	"github.com/R3E-Network/compile_service/internal/metrics"
	"github.com/R3E-Network/compile_service/internal/middleware"
	compilersvc "github.com/R3E-Network/compile_service/services/compiler"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file (overrides CONFIG_FILE)")
	flag.Parse()

	if err := run(*configPath); err != nil {
		log.Fatalf("compile service: %v", err)
	}
}

func run(configPath string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := logging.New(logging.Config{
		Service: compilersvc.ServiceID,
		Level:   cfg.LogLevel,
		Format:  cfg.LogFormat,
	})

	scratch, err := artifact.NewScratch(cfg.ScratchDir)
	if err != nil {
		return err
	}

	var validator *artifact.Validator
	if cfg.ValidateArtifact {
		validator = artifact.NewValidator(ctx)
	}

	var m *metrics.Metrics
	if cfg.MetricsEnabled {
		m = metrics.New("")
	}

	var rl *middleware.RateLimiter
	if cfg.RateLimitRPS > 0 {
		rl = middleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst, logger)
	}

	svc, err := compilersvc.New(compilersvc.Config{
		Compiler: compiler.NewCommand(cfg.CompilerBin, cfg.CompilerArgs),
		Scratch:  scratch,
		Limiter: limiter.New(limiter.Config{
			MaxConcurrent:  cfg.MaxConcurrent,
			QueueSize:      cfg.QueueSize,
			AcquireTimeout: cfg.AcquireTimeout,
		}),
		Validator:        validator,
		Metrics:          m,
		Logger:           logger,
		RateLimiter:      rl,
		CompileTimeout:   cfg.CompileTimeout,
		MaxRequestBytes:  cfg.MaxRequestBytes,
		ValidateMaxBytes: cfg.ValidateMaxBytes,
		JanitorSchedule:  cfg.JanitorSchedule,
		JanitorMaxAge:    cfg.JanitorMaxAge,
		AllowedOrigins:   cfg.AllowedOrigins,
		MinFreeDiskBytes: cfg.MinFreeDiskBytes,
	})
	if err != nil {
		return fmt.Errorf("create service: %w", err)
	}

	if err := svc.Start(ctx); err != nil {
		return fmt.Errorf("start service: %w", err)
	}

	server := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      svc.Handler(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.WithFields(map[string]interface{}{
			"addr":     cfg.ListenAddr,
			"compiler": cfg.CompilerBin,
			"scratch":  scratch.Root(),
		}).Info("listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
		close(serverErr)
	}()

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.WithFields(map[string]interface{}{"signal": sig.String()}).Info("shutting down")
	case err := <-serverErr:
		if err != nil {
			svc.Stop()
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithContext(shutdownCtx).WithError(err).Warn("shutdown error")
	}

	// Abandoned compiles still hold scratch directories; give them a moment
	// to return before the process exits.
	deadline := time.Now().Add(5 * time.Second)
	for scratch.Pending() > 0 && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}

	if err := svc.Stop(); err != nil {
		return fmt.Errorf("stop service: %w", err)
	}
	logger.WithContext(ctx).Info("service stopped")
	return nil
}
