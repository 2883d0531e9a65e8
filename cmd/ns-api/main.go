package main

import (
	"Go2DNSPrint/internal/api"
	"Go2DNSPrint/internal/config"
	"Go2DNSPrint/internal/engine/extractor"
	"Go2DNSPrint/internal/logger"
	"Go2DNSPrint/internal/metrics"
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path of the configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.Errorf("Failed to load configuration: %v", err)
		os.Exit(1)
	}
	logCfg, err := cfg.Logging.Logger()
	if err != nil {
		logger.Errorf("Invalid logging configuration: %v", err)
		os.Exit(1)
	}
	if err := logger.Initialize(logCfg); err != nil {
		logger.Errorf("Failed to initialize logger: %v", err)
		os.Exit(1)
	}
	defer logger.GetLogger().Close()

	ext, err := cfg.Build()
	if err != nil {
		logger.Errorf("Invalid extraction configuration: %v", err)
		return
	}
	m, err := metrics.New(prometheus.DefaultRegisterer)
	if err != nil {
		logger.Errorf("Failed to register metrics: %v", err)
		return
	}
	ex := extractor.New(ext, extractor.WithObserver(m))

	server := &http.Server{
		Addr:              cfg.API.ListenAddr,
		Handler:           api.NewRouter(ex, m.Handler(), cfg.API.CaptureRoot),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("API server starting on %s (capture root '%s')", server.Addr, cfg.API.CaptureRoot)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		logger.Errorf("Could not listen on %s: %v", server.Addr, err)
		return
	}
	logger.Infof("API server shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Errorf("Server forced to shutdown: %v", err)
		return
	}
	logger.Infof("API server exiting")
}
