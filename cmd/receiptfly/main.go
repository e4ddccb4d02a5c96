package main

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"

	"github.com/xiaotiantakumi/receiptfly/internal/app"
	"github.com/xiaotiantakumi/receiptfly/internal/config"
	"github.com/xiaotiantakumi/receiptfly/internal/obs"
	"github.com/xiaotiantakumi/receiptfly/internal/receipt"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

const serviceName = "receiptfly"

func main() {
	cfg, fs, err := config.Parse(serviceName, os.Args[1:])
	if errors.Is(err, ff.ErrHelp) {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		os.Exit(0)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if cfg.Version {
		fmt.Println(version)
		os.Exit(0)
	}

	logger := obs.NewLogger(os.Stdout, cfg.LogLevel, cfg.LogFormat, serviceName)
	slog.SetDefault(logger)
	obs.SetAppInfo(serviceName, version)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("Server failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	shutdownTracing, err := obs.InitTracing(ctx, cfg.OTLPEndpoint, serviceName)
	if err != nil {
		logger.Error("Failed to initialize tracing", "error", err)
	} else {
		defer shutdownTracing(context.Background())
	}

	backends, err := app.Open(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer backends.Close()

	var wg sync.WaitGroup
	// An in-memory queue only reaches workers in this process
	if cfg.QueueBackend == "memory" {
		worker, closeClients, err := app.NewWorker(ctx, cfg, backends, logger)
		if err != nil {
			return err
		}
		defer closeClients()
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := app.RunWorker(ctx, cfg, backends, worker, logger); err != nil {
				logger.Error("Worker stopped", "error", err)
			}
		}()
	}

	service := receipt.NewService(backends.Repo, backends.Blobs, backends.Jobs, receipt.ServiceConfig{
		Container:    cfg.UploadContainer,
		UploadURLTTL: cfg.UploadURLTTL,
	}, logger)
	server := receipt.NewServer(service, receipt.BasicAuth{Username: cfg.AuthUser, Password: cfg.AuthPass}, logger)

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", obs.MetricsHandler())
	mux.Handle("/", obs.WrapHTTP(serviceName, server.Handler()))

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Server started", "address", fmt.Sprintf("http://localhost%s", httpServer.Addr), "version", version)
		if cfg.AuthUser != "" || cfg.AuthPass != "" {
			logger.Info("Basic auth enabled", "user", cfg.AuthUser)
		}
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("serving http: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP shutdown failed", "error", err)
	}
	wg.Wait()
	return nil
}
