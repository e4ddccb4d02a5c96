// Package app wires configured backends into the services both binaries run.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/xiaotiantakumi/receiptfly/internal/blob"
	"github.com/xiaotiantakumi/receiptfly/internal/config"
	"github.com/xiaotiantakumi/receiptfly/internal/extraction"
	"github.com/xiaotiantakumi/receiptfly/internal/ingest"
	"github.com/xiaotiantakumi/receiptfly/internal/lock"
	"github.com/xiaotiantakumi/receiptfly/internal/queue"
	"github.com/xiaotiantakumi/receiptfly/internal/receipt"
	"github.com/xiaotiantakumi/receiptfly/internal/scanning"
)

// Backends are the stores shared by intake and ingestion
type Backends struct {
	Blobs blob.Store
	Jobs  queue.Queue
	Repo  receipt.Repository
	Redis redis.UniversalClient

	closers []func() error
}

// Close releases every opened backend, last opened first
func (b *Backends) Close() error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		errs = append(errs, b.closers[i]())
	}
	return errors.Join(errs...)
}

// Open connects the blob store, job queue and repository selected by cfg
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Backends, error) {
	b := &Backends{}
	if err := b.open(ctx, cfg, logger); err != nil {
		_ = b.Close()
		return nil, err
	}
	return b, nil
}

func (b *Backends) open(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	if cfg.UsesRedis() {
		rdb := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    []string{cfg.RedisAddr},
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		b.closers = append(b.closers, rdb.Close)
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connecting to redis: %w", err)
		}
		b.Redis = rdb
		logger.Info("Connected to redis", "addr", cfg.RedisAddr)
	}

	switch cfg.BlobBackend {
	case "oss":
		store, err := blob.NewOSSStore(blob.OSSConfig{
			Bucket:           cfg.OSSBucket,
			Region:           cfg.OSSRegion,
			InternalEndpoint: cfg.OSSEndpoint,
			PublicEndpoint:   cfg.OSSPublicEndpoint,
			Prefix:           cfg.OSSPrefix,
			AccessKeyID:      cfg.OSSAccessKeyID,
			AccessKeySecret:  cfg.OSSAccessSecret,
		})
		if err != nil {
			return fmt.Errorf("initializing oss storage: %w", err)
		}
		b.Blobs = store
		logger.Info("Using OSS storage", "bucket", cfg.OSSBucket)
	default:
		store, err := blob.NewLocalStorage(cfg.StoragePath)
		if err != nil {
			return fmt.Errorf("initializing storage: %w", err)
		}
		b.Blobs = store
		logger.Info("Using local storage", "path", cfg.StoragePath)
	}

	switch cfg.QueueBackend {
	case "memory":
		b.Jobs = queue.NewMemoryQueue(cfg.ClaimMinIdle)
		logger.Warn("Using in-memory queue; jobs are lost on restart")
	default:
		q := queue.NewRedisStreamQueue(b.Redis, queue.RedisStreamConfig{
			Stream:       cfg.Stream,
			Group:        cfg.Group,
			Consumer:     ConsumerName(cfg),
			MaxLen:       int64(cfg.StreamMaxLen),
			ClaimMinIdle: cfg.ClaimMinIdle,
			ClaimCount:   int64(cfg.ClaimBatch),
		}, logger)
		if err := q.EnsureGroup(ctx); err != nil {
			return err
		}
		b.Jobs = q
	}

	switch cfg.RepoBackend {
	case "postgres":
		repo, err := receipt.NewPostgresRepository(ctx, receipt.PostgresConfig{DSN: cfg.PostgresDSN}, logger)
		if err != nil {
			return err
		}
		b.Repo = repo
	default:
		repo, err := receipt.NewBoltRepository(cfg.DBPath)
		if err != nil {
			return fmt.Errorf("initializing database: %w", err)
		}
		b.Repo = repo
		logger.Info("Using bolt database", "path", cfg.DBPath)
	}
	b.closers = append(b.closers, b.Repo.Close)
	return nil
}

// ConsumerName returns the configured consumer name or hostname-pid
func ConsumerName(cfg *config.Config) string {
	if cfg.Consumer != "" {
		return cfg.Consumer
	}
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "receiptfly"
	}
	return host + "-" + strconv.Itoa(os.Getpid())
}

// NewWorker builds the OCR and extraction clients and the ingestion Worker.
// The returned close func releases the clients.
func NewWorker(ctx context.Context, cfg *config.Config, b *Backends, logger *slog.Logger) (*ingest.Worker, func() error, error) {
	var ocr scanning.TextExtractor
	switch cfg.OCRBackend {
	case "tesseract":
		ocr = scanning.NewTesseract(cfg.TesseractBin, cfg.TesseractLang, scanning.ExecRunner{})
		logger.Info("Using tesseract for text extraction", "lang", cfg.TesseractLang)
	default:
		key := cfg.VisionKey
		if key == "" {
			key = os.Getenv("GOOGLE_VISION_API_KEY")
		}
		vision, err := scanning.NewVision(ctx, key)
		if err != nil {
			return nil, nil, fmt.Errorf("initializing vision: %w", err)
		}
		ocr = vision
		logger.Info("Using Cloud Vision for text extraction")
	}

	prompt := extraction.NewPrompt("")
	if cfg.PromptFile != "" {
		p, err := extraction.LoadPrompt(cfg.PromptFile)
		if err != nil {
			return nil, nil, err
		}
		prompt = p
	}

	closeFn := func() error { return nil }
	var extractor extraction.Extractor
	switch cfg.LLMBackend {
	case "ollama":
		extractor = extraction.NewOllama(cfg.OllamaURL, cfg.OllamaModel, prompt, logger)
		logger.Info("Using Ollama for structured extraction", "url", cfg.OllamaURL, "model", cfg.OllamaModel)
	default:
		key := cfg.GeminiKey
		if key == "" {
			key = os.Getenv("GEMINI_API_KEY")
		}
		gemini, err := extraction.NewGemini(ctx, key, cfg.GeminiModel, prompt, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("initializing gemini: %w", err)
		}
		extractor = gemini
		closeFn = gemini.Close
		logger.Info("Using Gemini for structured extraction", "model", cfg.GeminiModel)
	}

	wcfg := ingest.Config{
		DefaultAccountTitles: cfg.DefaultAccountTitles,
		DefaultCategories:    cfg.DefaultCategories,
		WorkDir:              cfg.WorkDir,
		BlobTimeout:          cfg.BlobTimeout,
		OCRTimeout:           cfg.OCRTimeout,
		LLMTimeout:           cfg.LLMTimeout,
		PersistTimeout:       cfg.PersistTimeout,
		LockTTL:              cfg.LockTTL,
	}
	opts := []ingest.Option{ingest.WithLogger(logger)}

	if cfg.DraftCacheTTL > 0 {
		if b.Redis != nil {
			opts = append(opts, ingest.WithDraftCache(ingest.NewRedisDraftCache(b.Redis, "", cfg.DraftCacheTTL)))
		} else {
			opts = append(opts, ingest.WithDraftCache(ingest.NewMemoryDraftCache(cfg.DraftCacheTTL)))
		}
	}
	if cfg.LockEnabled {
		opts = append(opts, ingest.WithLocker(lock.New(b.Redis, "")))
	}

	w := ingest.NewWorker(wcfg, b.Blobs, scanning.NewNormalizer(cfg.DPI), ocr, extractor, b.Repo, opts...)
	return w, closeFn, nil
}

// RunWorker consumes jobs until ctx ends
func RunWorker(ctx context.Context, cfg *config.Config, b *Backends, w *ingest.Worker, logger *slog.Logger) error {
	consumer := queue.NewConsumer(b.Jobs, queue.ConsumerConfig{
		Concurrency:   cfg.Concurrency,
		ShutdownGrace: cfg.ShutdownGrace,
	}, logger)
	logger.Info("Worker started", "concurrency", cfg.Concurrency, "queue", cfg.QueueBackend)
	return consumer.Run(ctx, w.Handle)
}
