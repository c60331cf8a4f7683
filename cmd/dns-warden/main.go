package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"dns-warden/pkg/api"
	"dns-warden/pkg/classify"
	"dns-warden/pkg/config"
	"dns-warden/pkg/dnsproxy"
	"dns-warden/pkg/fetch"
	"dns-warden/pkg/forwarder"
	"dns-warden/pkg/logging"
	"dns-warden/pkg/moderate"
	"dns-warden/pkg/storage"
	"dns-warden/pkg/telemetry"
)

var (
	configPath = flag.String("config", "config.yml", "Path to configuration file")
	version    = "dev"
	buildTime  = "unknown"
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(&cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	logging.SetGlobal(logger)

	logger.Info("DNS Warden starting",
		"version", version,
		"build_time", buildTime,
	)

	ctx := context.Background()
	telem, err := telemetry.New(ctx, &cfg.Telemetry, logger)
	if err != nil {
		logger.Error("Failed to initialize telemetry", "error", err)
		os.Exit(1)
	}

	metrics, err := telem.InitMetrics()
	if err != nil {
		logger.Error("Failed to initialize metrics", "error", err)
		os.Exit(1)
	}

	store, err := storage.NewSQLiteStore(&cfg.Storage, metrics, logger)
	if err != nil {
		logger.Error("Failed to open storage", "error", err)
		os.Exit(1)
	}

	// Classification pipeline: queue -> fetcher -> moderator -> store.
	queue := classify.NewQueue(cfg.Classifier.QueueCapacity)
	fetcher := fetch.NewSiteFetcher(&cfg.Fetcher, logger)
	moderator := moderate.NewOpenAIModerator(&cfg.Moderation, logger)
	classifier := classify.NewClassifier(&cfg.Classifier, queue, store, fetcher, moderator, metrics, logger)
	classifier.Start()

	fwd := forwarder.NewForwarder(&cfg.Upstream, logger)
	handler := dnsproxy.NewHandler(store, fwd, queue, metrics, logger)
	dnsServer := dnsproxy.NewServer(&cfg.DNS, handler, logger, metrics)

	apiServer := api.New(&cfg.API, store, logger, version)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	serverCtx, serverCancel := context.WithCancel(ctx)
	defer serverCancel()

	errChan := make(chan error, 2)
	go func() {
		if err := dnsServer.Start(serverCtx); err != nil {
			errChan <- fmt.Errorf("dns server: %w", err)
		}
	}()
	go func() {
		if err := apiServer.Start(serverCtx); err != nil {
			errChan <- fmt.Errorf("api server: %w", err)
		}
	}()

	logger.Info("DNS Warden is running",
		"dns_address", cfg.DNS.Address(),
		"api_address", cfg.API.Address(),
		"upstream", cfg.Upstream.Server,
	)

	exitCode := 0
	select {
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", "signal", sig.String())
	case err := <-errChan:
		logger.Error("Server error", "error", err)
		exitCode = 1
	}
	serverCancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := dnsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during DNS server shutdown", "error", err)
	}
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during API server shutdown", "error", err)
	}

	// Let queued classifications finish before the store goes away.
	classifier.Stop()

	if err := store.Close(); err != nil {
		logger.Error("Error closing storage", "error", err)
	}
	if err := telem.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during telemetry shutdown", "error", err)
	}

	logger.Info("DNS Warden stopped")
	os.Exit(exitCode)
}
