package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wolfman30/finsight-ai/cmd/mainconfig"
	"github.com/wolfman30/finsight-ai/internal/analysis"
	"github.com/wolfman30/finsight-ai/internal/api/router"
	"github.com/wolfman30/finsight-ai/internal/app/bootstrap"
	appconfig "github.com/wolfman30/finsight-ai/internal/config"
	"github.com/wolfman30/finsight-ai/internal/finnum"
	httpmiddleware "github.com/wolfman30/finsight-ai/internal/http/middleware"
	"github.com/wolfman30/finsight-ai/internal/observability/metrics"
	"github.com/wolfman30/finsight-ai/pkg/logging"
)

func main() {
	_ = godotenv.Load()

	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting finsight-ai API server",
		"env", cfg.Env,
		"port", cfg.Port,
		"provider", cfg.LLMProvider,
	)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, closeClient, err := bootstrap.BuildCompletionClient(ctx, cfg, logger, mainconfig.LoadAWSConfig)
	if err != nil {
		logger.Error("failed to build completion client", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := closeClient(); err != nil {
			logger.Warn("failed to close completion client", "error", err)
		}
	}()

	metricsHandler, llmMetrics := setupMetrics()
	analyzer, err := bootstrap.BuildAnalyzer(client, cfg, llmMetrics, logger)
	if err != nil {
		logger.Error("failed to build analyzer", "error", err)
		os.Exit(1)
	}

	r := router.New(&router.Config{
		Logger:             logger,
		AnalysisHandler:    analysis.NewHandler(analyzer, logger),
		NumbersHandler:     finnum.NewHandler(logger),
		MetricsHandler:     metricsHandler,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		RateLimiter:        httpmiddleware.NewRateLimiter(ctx, cfg.RateLimitRPS, cfg.RateLimitBurst),
	})
	srv := newServer(cfg, r)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		logger.Error("server error", "error", err)
		os.Exit(1)
	}

	logger.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
	fmt.Println("Server exited gracefully")
}

func setupMetrics() (http.Handler, *metrics.LLMMetrics) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), metrics.NewLLMMetrics(reg)
}

// newServer sizes the write timeout for a full fallback chain: the primary
// call plus every backoff wait and fallback call.
func newServer(cfg *appconfig.Config, handler http.Handler) *http.Server {
	var backoff time.Duration
	delay := cfg.LLMRetryBaseDelay
	for i := 0; i < cfg.LLMMaxRetries; i++ {
		backoff += delay
		delay *= 2
	}
	write := time.Duration(cfg.LLMMaxRetries+1)*cfg.LLMRequestTimeout + backoff + 15*time.Second

	return &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      write,
		IdleTimeout:       60 * time.Second,
	}
}
