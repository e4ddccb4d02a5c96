package receipt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/xiaotiantakumi/receiptfly/internal/blob"
	"github.com/xiaotiantakumi/receiptfly/internal/queue"
)

// DefaultContainer holds uploaded receipt documents
const DefaultContainer = "receipt-images"

// ErrSigningUnsupported is returned when the blob store cannot issue upload URLs
var ErrSigningUnsupported = errors.New("blob store does not support signed uploads")

// JobOptions carries the per-job vocabulary; empty lists select the worker defaults
type JobOptions struct {
	AccountTitles []string `json:"accountTitles,omitempty"`
	Categories    []string `json:"categories,omitempty"`
}

// ServiceConfig configures a Service
type ServiceConfig struct {
	Container    string
	UploadURLTTL time.Duration
}

// Service handles intake (upload + enqueue) and read-back of receipts
type Service struct {
	repo       Repository
	blobs      blob.Store
	jobs       queue.Queue
	cfg        ServiceConfig
	ids        IDGenerator
	timeSource TimeSource
	logger     *slog.Logger
}

// NewService creates a new Service with default ID generator and time source
func NewService(repo Repository, blobs blob.Store, jobs queue.Queue, cfg ServiceConfig, logger *slog.Logger) *Service {
	return NewServiceWithDeps(repo, blobs, jobs, cfg, logger, UUIDGenerator{}, SystemClock{})
}

// NewServiceWithDeps creates a new Service with custom dependencies for testing
func NewServiceWithDeps(repo Repository, blobs blob.Store, jobs queue.Queue, cfg ServiceConfig, logger *slog.Logger, ids IDGenerator, timeSrc TimeSource) *Service {
	if cfg.Container == "" {
		cfg.Container = DefaultContainer
	}
	if cfg.UploadURLTTL <= 0 {
		cfg.UploadURLTTL = time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:       repo,
		blobs:      blobs,
		jobs:       jobs,
		cfg:        cfg,
		ids:        ids,
		timeSource: timeSrc,
		logger:     logger,
	}
}

var (
	unsafeFilenameChars = regexp.MustCompile(`[^\p{L}\p{N}\s\-_]`)
	repeatedSpaces      = regexp.MustCompile(`\s+`)
	safeExtension       = regexp.MustCompile(`^\.[a-z0-9]+$`)
)

// sanitizeFilename cleans up a filename by removing special characters and truncating length
func sanitizeFilename(filename string) string {
	filename = filepath.Base(strings.ReplaceAll(filename, "\\", "/"))
	ext := strings.ToLower(filepath.Ext(filename))
	base := strings.TrimSuffix(filename, filepath.Ext(filename))

	base = unsafeFilenameChars.ReplaceAllString(base, "")
	base = repeatedSpaces.ReplaceAllString(base, " ")
	base = strings.TrimSpace(base)

	// Phone cameras produce long names; 50 runes is plenty for display.
	if runes := []rune(base); len(runes) > 50 {
		base = string(runes[:50])
	}
	if base == "" {
		base = "receipt"
	}
	if !safeExtension.MatchString(ext) {
		ext = ""
	}
	return base + ext
}

func (s *Service) newJob(loc blob.Location, jobID, originalName string, opts JobOptions) queue.Job {
	return queue.Job{
		JobID:            jobID,
		DocumentLocation: loc,
		CreatedAt:        s.timeSource.Now().UTC(),
		AccountTitles:    opts.AccountTitles,
		Categories:       opts.Categories,
		OriginalFileName: originalName,
	}
}

// UploadDocument stores the raw document and enqueues an ingestion job for it
func (s *Service) UploadDocument(ctx context.Context, filename string, data []byte, opts JobOptions) (queue.Job, error) {
	if len(data) == 0 {
		return queue.Job{}, errors.New("document is empty")
	}
	jobID := s.ids.JobID()
	loc := blob.Location{
		Container: s.cfg.Container,
		Key:       fmt.Sprintf("%s_%s", jobID, sanitizeFilename(filename)),
	}

	if _, err := s.blobs.Put(ctx, loc, data, map[string]string{blob.MetaOriginalFilename: filename}); err != nil {
		return queue.Job{}, fmt.Errorf("saving document: %w", err)
	}

	job := s.newJob(loc, jobID, filename, opts)
	if err := s.jobs.Enqueue(ctx, job); err != nil {
		// Clean up the stored document since nothing will process it
		if _, delErr := s.blobs.Delete(ctx, loc); delErr != nil {
			s.logger.Warn("Failed to delete orphaned document", "location", loc.String(), "error", delErr)
		}
		return queue.Job{}, fmt.Errorf("enqueueing job: %w", err)
	}

	s.logger.Info("Queued receipt document", "job_id", job.JobID, "location", loc.String(), "size", len(data))
	return job, nil
}

// EnqueueDocuments enqueues one job per already-uploaded "<container>/<key>" path
func (s *Service) EnqueueDocuments(ctx context.Context, paths []string, opts JobOptions) ([]queue.Job, error) {
	if len(paths) == 0 {
		return nil, errors.New("at least one blob path is required")
	}
	locs := make([]blob.Location, 0, len(paths))
	for _, p := range paths {
		loc, err := blob.ParseLocation(p)
		if err != nil {
			return nil, err
		}
		locs = append(locs, loc)
	}

	jobs := make([]queue.Job, 0, len(locs))
	for _, loc := range locs {
		job := s.newJob(loc, s.ids.JobID(), filepath.Base(loc.Key), opts)
		if err := s.jobs.Enqueue(ctx, job); err != nil {
			return jobs, fmt.Errorf("enqueueing job for %s: %w", loc, err)
		}
		s.logger.Info("Queued receipt document", "job_id", job.JobID, "location", loc.String())
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// SignUpload returns a short-lived URL the client can PUT a document to, and its location
func (s *Service) SignUpload(ctx context.Context, filename string) (string, blob.Location, error) {
	signer, ok := s.blobs.(blob.Signer)
	if !ok {
		return "", blob.Location{}, ErrSigningUnsupported
	}
	loc := blob.Location{
		Container: s.cfg.Container,
		Key:       fmt.Sprintf("%s_%s", s.ids.JobID(), sanitizeFilename(filename)),
	}
	url, err := signer.SignUploadURL(loc, s.cfg.UploadURLTTL)
	if err != nil {
		return "", blob.Location{}, fmt.Errorf("signing upload: %w", err)
	}
	return url, loc, nil
}

// GetReceipt retrieves a receipt by ID
func (s *Service) GetReceipt(ctx context.Context, id string) (*Receipt, error) {
	receipt, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("getting receipt: %w", err)
	}
	return receipt, nil
}

// ListReceipts returns all receipts
func (s *Service) ListReceipts(ctx context.Context) ([]*Receipt, error) {
	receipts, err := s.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing receipts: %w", err)
	}
	return receipts, nil
}

// DeleteReceipt removes a receipt
func (s *Service) DeleteReceipt(ctx context.Context, id string) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return fmt.Errorf("deleting receipt: %w", err)
	}
	return nil
}

// ExportReceipts renders every receipt as an XLSX workbook
func (s *Service) ExportReceipts(ctx context.Context) ([]byte, error) {
	receipts, err := s.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing receipts: %w", err)
	}
	data, err := ExportXLSX(receipts)
	if err != nil {
		return nil, fmt.Errorf("exporting receipts: %w", err)
	}
	return data, nil
}
