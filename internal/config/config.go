package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/peterbourgon/ff/v4"
)

// EnvPrefix prefixes every flag's environment variable, e.g. RECEIPTFLY_REDIS_ADDR
const EnvPrefix = "RECEIPTFLY"

// Config holds the settings shared by the API server and the worker
type Config struct {
	Version bool

	// HTTP
	Port        int
	AuthUser    string
	AuthPass    string
	MetricsAddr string

	// Logging and tracing
	LogLevel     string
	LogFormat    string
	OTLPEndpoint string

	// Blob storage
	BlobBackend       string
	StoragePath       string
	OSSBucket         string
	OSSRegion         string
	OSSEndpoint       string
	OSSPublicEndpoint string
	OSSPrefix         string
	OSSAccessKeyID    string
	OSSAccessSecret   string
	UploadContainer   string
	UploadURLTTL      time.Duration
	BlobTimeout       time.Duration

	// Queue
	QueueBackend  string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	Stream        string
	Group         string
	Consumer      string
	StreamMaxLen  int
	ClaimMinIdle  time.Duration
	ClaimBatch    int

	// Repository
	RepoBackend    string
	DBPath         string
	PostgresDSN    string
	PersistTimeout time.Duration

	// Text extraction
	OCRBackend    string
	VisionKey     string
	TesseractBin  string
	TesseractLang string
	OCRTimeout    time.Duration
	DPI           float64

	// Structured extraction
	LLMBackend  string
	GeminiKey   string
	GeminiModel string
	OllamaURL   string
	OllamaModel string
	PromptFile  string
	LLMTimeout  time.Duration

	// Worker
	Concurrency          int
	ShutdownGrace        time.Duration
	WorkDir              string
	DraftCacheTTL        time.Duration
	LockEnabled          bool
	LockTTL              time.Duration
	DefaultAccountTitles []string
	DefaultCategories    []string
}

// Parse reads flags from args, then RECEIPTFLY_* environment variables.
// The returned flag set is for printing help with ffhelp.
func Parse(name string, args []string) (*Config, *ff.FlagSet, error) {
	fs := ff.NewFlagSet(name)
	var (
		version = fs.BoolLong("version", "Show version information")

		port        = fs.IntLong("port", 8080, "HTTP server port")
		authUser    = fs.StringLong("auth-user", "", "Basic auth username (optional)")
		authPass    = fs.StringLong("auth-pass", "", "Basic auth password (optional)")
		metricsAddr = fs.StringLong("metrics-addr", ":9090", "Address for the worker's /metrics endpoint; empty disables it")

		logLevel     = fs.StringLong("log-level", "info", "Log level: debug, info, warn or error")
		logFormat    = fs.StringLong("log-format", "json", "Log format: json or text")
		otlpEndpoint = fs.StringLong("otlp-endpoint", "", "OTLP gRPC endpoint for traces (host:port); empty disables tracing")

		blobBackend       = fs.StringLong("blob", "local", "Blob store: 'local' or 'oss'")
		storagePath       = fs.StringLong("storage", "./receipts", "Storage directory path for the local blob store")
		ossBucket         = fs.StringLong("oss-bucket", "", "OSS bucket name")
		ossRegion         = fs.StringLong("oss-region", "", "OSS region, e.g. cn-hangzhou")
		ossEndpoint       = fs.StringLong("oss-endpoint", "", "OSS endpoint used for reads and writes")
		ossPublicEndpoint = fs.StringLong("oss-public-endpoint", "", "OSS endpoint used in signed upload URLs (defaults to --oss-endpoint)")
		ossAccessKeyID    = fs.StringLong("oss-access-key-id", "", "Static OSS access key id (defaults to the Alibaba credential chain)")
		ossAccessSecret   = fs.StringLong("oss-access-key-secret", "", "Static OSS access key secret")
		ossPrefix         = fs.StringLong("oss-prefix", "", "Key prefix for every object")
		uploadContainer   = fs.StringLong("upload-container", "receipt-images", "Container uploaded documents are stored in")
		uploadURLTTL      = fs.DurationLong("upload-url-ttl", time.Hour, "Lifetime of signed upload URLs")
		blobTimeout       = fs.DurationLong("blob-timeout", 30*time.Second, "Timeout for reading a document")

		queueBackend  = fs.StringLong("queue", "redis", "Job queue: 'redis' or 'memory' (memory only reaches workers in the same process)")
		redisAddr     = fs.StringLong("redis-addr", "localhost:6379", "Redis address")
		redisPassword = fs.StringLong("redis-password", "", "Redis password")
		redisDB       = fs.IntLong("redis-db", 0, "Redis database number")
		stream        = fs.StringLong("stream", "receiptfly:ocr-jobs", "Redis stream holding jobs")
		group         = fs.StringLong("group", "receiptfly-workers", "Redis consumer group")
		consumer      = fs.StringLong("consumer", "", "Consumer name within the group (defaults to hostname-pid)")
		streamMaxLen  = fs.IntLong("stream-max-len", 100000, "Approximate cap on stream length")
		claimMinIdle  = fs.DurationLong("claim-min-idle", 10*time.Minute, "Visibility window before an unacknowledged job is redelivered; must exceed the longest job")
		claimBatch    = fs.IntLong("claim-batch", 100, "Maximum pending jobs reclaimed per claim pass")

		repoBackend    = fs.StringLong("repository", "bolt", "Receipt repository: 'bolt' or 'postgres'")
		dbPath         = fs.StringLong("db", "receiptfly.db", "Database file path for the bolt repository")
		postgresDSN    = fs.StringLong("postgres-dsn", "", "PostgreSQL connection string")
		persistTimeout = fs.DurationLong("persist-timeout", 15*time.Second, "Timeout for saving a receipt")

		ocrBackend    = fs.StringLong("ocr", "vision", "Text extraction backend: 'vision' or 'tesseract'")
		visionKey     = fs.StringLong("vision-key", "", "Google Cloud Vision API key")
		tesseractBin  = fs.StringLong("tesseract-bin", "tesseract", "Path to the tesseract binary")
		tesseractLang = fs.StringLong("tesseract-lang", "jpn+eng", "Tesseract languages")
		ocrTimeout    = fs.DurationLong("ocr-timeout", 60*time.Second, "Timeout for one text extraction call")
		dpi           = fs.Float64Long("dpi", 300, "Resolution for rendering the first page of PDFs")

		llmBackend  = fs.StringLong("llm", "gemini", "Structured extraction backend: 'gemini' or 'ollama'")
		geminiKey   = fs.StringLong("gemini-key", "", "Google Gemini API key")
		geminiModel = fs.StringLong("gemini-model", "gemini-flash-lite-latest", "Google Gemini model name")
		ollamaURL   = fs.StringLong("ollama-url", "http://localhost:11434", "Ollama API base URL")
		ollamaModel = fs.StringLong("ollama-model", "qwen2.5", "Ollama model name")
		promptFile  = fs.StringLong("prompt-file", "", "File overriding the extraction prompt template")
		llmTimeout  = fs.DurationLong("llm-timeout", 120*time.Second, "Timeout for one structured extraction call")

		concurrency   = fs.IntLong("concurrency", 4, "Jobs processed in parallel per worker")
		shutdownGrace = fs.DurationLong("shutdown-grace", 30*time.Second, "How long in-flight jobs may finish after shutdown starts")
		workDir       = fs.StringLong("work-dir", "", "Directory for per-job temp files (defaults to the system temp dir)")
		draftCacheTTL = fs.DurationLong("draft-cache-ttl", 24*time.Hour, "How long generated drafts are kept for redelivered jobs; 0 disables the cache")
		lockEnabled   = fs.BoolLong("job-lock", "Lock jobs in Redis while they are processed")
		lockTTL       = fs.DurationLong("job-lock-ttl", 5*time.Minute, "Expiry of a job lock if its worker dies")
		accountTitles = fs.StringLong("default-account-titles", "", "Comma separated account titles used when a job has none")
		categories    = fs.StringLong("default-categories", "", "Comma separated categories used when a job has none")
	)

	if err := ff.Parse(fs, args, ff.WithEnvVarPrefix(EnvPrefix)); err != nil {
		return nil, fs, err
	}

	cfg := &Config{
		Version:              *version,
		Port:                 *port,
		AuthUser:             *authUser,
		AuthPass:             *authPass,
		MetricsAddr:          *metricsAddr,
		LogLevel:             *logLevel,
		LogFormat:            *logFormat,
		OTLPEndpoint:         *otlpEndpoint,
		BlobBackend:          strings.ToLower(*blobBackend),
		StoragePath:          *storagePath,
		OSSBucket:            *ossBucket,
		OSSRegion:            *ossRegion,
		OSSEndpoint:          *ossEndpoint,
		OSSPublicEndpoint:    *ossPublicEndpoint,
		OSSPrefix:            *ossPrefix,
		OSSAccessKeyID:       *ossAccessKeyID,
		OSSAccessSecret:      *ossAccessSecret,
		UploadContainer:      *uploadContainer,
		UploadURLTTL:         *uploadURLTTL,
		BlobTimeout:          *blobTimeout,
		QueueBackend:         strings.ToLower(*queueBackend),
		RedisAddr:            *redisAddr,
		RedisPassword:        *redisPassword,
		RedisDB:              *redisDB,
		Stream:               *stream,
		Group:                *group,
		Consumer:             *consumer,
		StreamMaxLen:         *streamMaxLen,
		ClaimMinIdle:         *claimMinIdle,
		ClaimBatch:           *claimBatch,
		RepoBackend:          strings.ToLower(*repoBackend),
		DBPath:               *dbPath,
		PostgresDSN:          *postgresDSN,
		PersistTimeout:       *persistTimeout,
		OCRBackend:           strings.ToLower(*ocrBackend),
		VisionKey:            *visionKey,
		TesseractBin:         *tesseractBin,
		TesseractLang:        *tesseractLang,
		OCRTimeout:           *ocrTimeout,
		DPI:                  *dpi,
		LLMBackend:           strings.ToLower(*llmBackend),
		GeminiKey:            *geminiKey,
		GeminiModel:          *geminiModel,
		OllamaURL:            *ollamaURL,
		OllamaModel:          *ollamaModel,
		PromptFile:           *promptFile,
		LLMTimeout:           *llmTimeout,
		Concurrency:          *concurrency,
		ShutdownGrace:        *shutdownGrace,
		WorkDir:              *workDir,
		DraftCacheTTL:        *draftCacheTTL,
		LockEnabled:          *lockEnabled,
		LockTTL:              *lockTTL,
		DefaultAccountTitles: SplitList(*accountTitles),
		DefaultCategories:    SplitList(*categories),
	}
	if cfg.Version {
		return cfg, fs, nil
	}
	if err := cfg.Validate(); err != nil {
		return nil, fs, err
	}
	return cfg, fs, nil
}

// Validate checks backend names and the settings each backend needs
func (c *Config) Validate() error {
	check := func(flag, value string, allowed ...string) error {
		for _, a := range allowed {
			if value == a {
				return nil
			}
		}
		return fmt.Errorf("invalid --%s %q: must be one of %s", flag, value, strings.Join(allowed, ", "))
	}
	if err := check("blob", c.BlobBackend, "local", "oss"); err != nil {
		return err
	}
	if err := check("queue", c.QueueBackend, "redis", "memory"); err != nil {
		return err
	}
	if err := check("repository", c.RepoBackend, "bolt", "postgres"); err != nil {
		return err
	}
	if err := check("ocr", c.OCRBackend, "vision", "tesseract"); err != nil {
		return err
	}
	if err := check("llm", c.LLMBackend, "gemini", "ollama"); err != nil {
		return err
	}
	if c.BlobBackend == "oss" && strings.TrimSpace(c.OSSBucket) == "" {
		return fmt.Errorf("--oss-bucket is required with --blob oss")
	}
	if c.RepoBackend == "postgres" && strings.TrimSpace(c.PostgresDSN) == "" {
		return fmt.Errorf("--postgres-dsn is required with --repository postgres")
	}
	if c.LockEnabled && c.QueueBackend != "redis" {
		return fmt.Errorf("--job-lock needs redis; use it with --queue redis")
	}
	if c.Concurrency < 1 {
		return fmt.Errorf("--concurrency must be at least 1")
	}
	if c.ClaimBatch < 1 {
		return fmt.Errorf("--claim-batch must be at least 1")
	}
	if longest := c.LongestJob(); c.ClaimMinIdle <= longest {
		return fmt.Errorf("--claim-min-idle %s must exceed the longest job (%s), or a running job is redelivered", c.ClaimMinIdle, longest)
	}
	return nil
}

// LongestJob is the worst-case time one job can spend in its timed steps:
// the blob read, OCR, two generation attempts and the repository write.
func (c *Config) LongestJob() time.Duration {
	return c.BlobTimeout + c.OCRTimeout + 2*c.LLMTimeout + c.PersistTimeout
}

// UsesRedis reports whether any component needs a Redis connection
func (c *Config) UsesRedis() bool {
	return c.QueueBackend == "redis" || c.LockEnabled
}

// SplitList splits a comma separated list, dropping blanks
func SplitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
