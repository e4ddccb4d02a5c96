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
	"syscall"
	"time"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"

	"github.com/xiaotiantakumi/receiptfly/internal/app"
	"github.com/xiaotiantakumi/receiptfly/internal/config"
	"github.com/xiaotiantakumi/receiptfly/internal/obs"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

const serviceName = "receiptfly-worker"

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
	if cfg.QueueBackend == "memory" {
		fmt.Fprintln(os.Stderr, "error: the standalone worker needs --queue redis; run receiptfly for in-process ingestion")
		os.Exit(1)
	}

	logger := obs.NewLogger(os.Stdout, cfg.LogLevel, cfg.LogFormat, serviceName)
	slog.SetDefault(logger)
	obs.SetAppInfo(serviceName, version)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("Worker failed", "error", err)
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

	worker, closeClients, err := app.NewWorker(ctx, cfg, backends, logger)
	if err != nil {
		return err
	}
	defer closeClients()

	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("GET /metrics", obs.MetricsHandler())
		mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
		metricsServer := &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
		go func() {
			logger.Info("Metrics server started", "address", cfg.MetricsAddr)
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("Metrics server failed", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = metricsServer.Shutdown(shutdownCtx)
		}()
	}

	err = app.RunWorker(ctx, cfg, backends, worker, logger)
	logger.Info("Worker stopped", "version", version)
	return err
}
