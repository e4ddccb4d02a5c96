package ingest

import (
	"path"
	"slices"
	"time"

	"github.com/xiaotiantakumi/receiptfly/internal/extraction"
	"github.com/xiaotiantakumi/receiptfly/internal/queue"
)

// DefaultAccountTitles is used when a job does not carry its own list
var DefaultAccountTitles = []string{
	"消耗品費", "旅費交通費", "交際費", "福利厚生費", "会議費", "事務用品費", "雑費", "事業主貸", "未払金", "現金",
}

// DefaultCategories is used when a job does not carry its own list
var DefaultCategories = []string{
	"消耗品費", "旅費交通費", "交際費", "福利厚生費", "会議費", "事務用品費", "雑費", "食費", "被服費",
}

// Config is fixed for the life of a Worker
type Config struct {
	DefaultAccountTitles []string
	DefaultCategories    []string

	// WorkDir holds per-job temp dirs; empty means os.TempDir()
	WorkDir string

	BlobTimeout    time.Duration
	OCRTimeout     time.Duration
	LLMTimeout     time.Duration
	PersistTimeout time.Duration

	// LockTTL bounds how long a crashed worker keeps a job locked
	LockTTL time.Duration
}

// DefaultConfig returns the stock vocabularies and timeouts
func DefaultConfig() Config {
	return Config{
		DefaultAccountTitles: slices.Clone(DefaultAccountTitles),
		DefaultCategories:    slices.Clone(DefaultCategories),
		BlobTimeout:          30 * time.Second,
		OCRTimeout:           60 * time.Second,
		LLMTimeout:           120 * time.Second,
		PersistTimeout:       15 * time.Second,
		LockTTL:              5 * time.Minute,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if len(c.DefaultAccountTitles) == 0 {
		c.DefaultAccountTitles = d.DefaultAccountTitles
	}
	if len(c.DefaultCategories) == 0 {
		c.DefaultCategories = d.DefaultCategories
	}
	if c.BlobTimeout <= 0 {
		c.BlobTimeout = d.BlobTimeout
	}
	if c.OCRTimeout <= 0 {
		c.OCRTimeout = d.OCRTimeout
	}
	if c.LLMTimeout <= 0 {
		c.LLMTimeout = d.LLMTimeout
	}
	if c.PersistTimeout <= 0 {
		c.PersistTimeout = d.PersistTimeout
	}
	if c.LockTTL <= 0 {
		c.LockTTL = d.LockTTL
	}
	c.DefaultAccountTitles = slices.Clone(c.DefaultAccountTitles)
	c.DefaultCategories = slices.Clone(c.DefaultCategories)
	return c
}

// Vocabulary resolves the lists a job's draft must draw from, in order
func (c Config) Vocabulary(job queue.Job) extraction.Vocabulary {
	v := extraction.Vocabulary{
		AccountTitles: job.AccountTitles,
		Categories:    job.Categories,
	}
	if len(v.AccountTitles) == 0 {
		v.AccountTitles = c.DefaultAccountTitles
	}
	if len(v.Categories) == 0 {
		v.Categories = c.DefaultCategories
	}
	return v
}

// documentExt picks the extension that decides how the document is normalized
func documentExt(job queue.Job) string {
	if ext := path.Ext(job.DocumentLocation.Key); ext != "" {
		return ext
	}
	return path.Ext(job.OriginalFileName)
}
