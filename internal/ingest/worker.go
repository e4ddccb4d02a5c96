package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/xiaotiantakumi/receiptfly/internal/blob"
	"github.com/xiaotiantakumi/receiptfly/internal/extraction"
	"github.com/xiaotiantakumi/receiptfly/internal/lock"
	"github.com/xiaotiantakumi/receiptfly/internal/obs"
	"github.com/xiaotiantakumi/receiptfly/internal/queue"
	"github.com/xiaotiantakumi/receiptfly/internal/receipt"
	"github.com/xiaotiantakumi/receiptfly/internal/scanning"
)

// Normalizer turns a raw document into an image the OCR backend accepts
type Normalizer interface {
	Normalize(data []byte, ext string) ([]byte, string, error)
}

// Locker keeps two workers from processing the same job at once
type Locker interface {
	Key(jobID string) string
	Acquire(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
	Refresh(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key, token string) (bool, error)
}

// Worker drives one job at a time through
// received, normalizing, extracting, generating and persisting.
// A Worker is safe for concurrent use; jobs share no mutable state.
type Worker struct {
	cfg        Config
	blobs      blob.Store
	normalizer Normalizer
	ocr        scanning.TextExtractor
	extractor  extraction.Extractor
	repo       receipt.Repository

	cache  DraftCache
	locker Locker
	sink   ResultSink
	logger *slog.Logger
	ids    receipt.IDGenerator
	clock  receipt.TimeSource
	tracer trace.Tracer
}

// Option configures optional Worker collaborators
type Option func(*Worker)

// WithDraftCache enables skipping straight to persisting on redelivery
func WithDraftCache(c DraftCache) Option { return func(w *Worker) { w.cache = c } }

// WithLocker enables the in-flight job lock
func WithLocker(l Locker) Option { return func(w *Worker) { w.locker = l } }

// WithResultSink receives every final Result
func WithResultSink(s ResultSink) Option { return func(w *Worker) { w.sink = s } }

func WithLogger(l *slog.Logger) Option { return func(w *Worker) { w.logger = l } }

func WithIDGenerator(g receipt.IDGenerator) Option { return func(w *Worker) { w.ids = g } }

func WithClock(c receipt.TimeSource) Option { return func(w *Worker) { w.clock = c } }

func WithTracer(t trace.Tracer) Option { return func(w *Worker) { w.tracer = t } }

// NewWorker creates a Worker. cfg is copied; zero fields take their defaults.
func NewWorker(cfg Config, blobs blob.Store, normalizer Normalizer, ocr scanning.TextExtractor,
	extractor extraction.Extractor, repo receipt.Repository, opts ...Option) *Worker {
	w := &Worker{
		cfg:        cfg.withDefaults(),
		blobs:      blobs,
		normalizer: normalizer,
		ocr:        ocr,
		extractor:  extractor,
		repo:       repo,
		logger:     slog.Default(),
		ids:        receipt.UUIDGenerator{},
		clock:      receipt.SystemClock{},
		tracer:     obs.Tracer("receiptfly/ingest"),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Handle adapts Process to the queue consumer's ack policy: success and
// non-retryable failures are acknowledged, retryable failures stay pending.
func (w *Worker) Handle(ctx context.Context, d *queue.Delivery) error {
	if d.Raw != nil {
		w.logger.Error("Dropping undecodable job", "message_id", d.ID, "payload", string(d.Raw))
		return queue.Terminal(newFailure("", StateReceived, KindInvalidJob, errors.New("undecodable job payload")))
	}
	if d.Redelivered {
		w.logger.Info("Job redelivered", "job_id", d.Job.JobID, "message_id", d.ID)
	}

	res := w.Process(ctx, d.Job)
	switch {
	case res.Failure == nil:
		return nil
	case res.Failure.Retryable:
		return res.Failure
	default:
		return queue.Terminal(res.Failure)
	}
}

// Process runs one job to completion or failure
func (w *Worker) Process(ctx context.Context, job queue.Job) Result {
	start := time.Now()
	ctx, span := w.tracer.Start(ctx, "ingest.job", trace.WithAttributes(
		attribute.String("job.id", job.JobID),
		attribute.String("job.document", job.DocumentLocation.String()),
	))
	defer span.End()

	logger := w.logger.With("job_id", job.JobID)
	logger.Info("Processing job", "location", job.DocumentLocation.String())

	receiptID, err := w.run(ctx, job, logger)
	res := Result{JobID: job.JobID, ReceiptID: receiptID, Duration: time.Since(start)}

	if err != nil {
		f, ok := AsFailure(err)
		if !ok {
			f = newFailure(job.JobID, StateFailed, KindPersistenceError, err)
		}
		res.Failure = f
		span.RecordError(f)
		span.SetStatus(codes.Error, string(f.Kind))

		outcome := "failed"
		if f.Retryable {
			outcome = "retry"
		}
		logger.Error("Job failed", "state", f.State, "kind", f.Kind, "retryable", f.Retryable, "error", f.Err)
		obs.RecordJob(outcome, string(f.Kind), res.Duration)
	} else {
		span.SetAttributes(attribute.String("receipt.id", receiptID))
		logger.Info("Job completed", "receipt_id", receiptID, "duration", res.Duration)
		obs.RecordJob("completed", "", res.Duration)
	}

	if w.sink != nil && res.Final() {
		w.sink.Publish(ctx, res)
	}
	return res
}

func (w *Worker) run(ctx context.Context, job queue.Job, logger *slog.Logger) (string, error) {
	if err := job.Validate(); err != nil {
		return "", newFailure(job.JobID, StateReceived, KindInvalidJob, err)
	}

	if w.locker != nil {
		release, err := w.acquire(ctx, job, logger)
		if err != nil {
			return "", err
		}
		defer release()
	}

	vocab := w.cfg.Vocabulary(job)

	draft := w.cachedDraft(ctx, job, logger)
	if draft == nil {
		var err error
		if draft, err = w.generateDraft(ctx, job, vocab, logger); err != nil {
			return "", err
		}
		w.cacheDraft(ctx, job, draft, logger)
	}

	r := w.buildReceipt(job, draft, logger)
	err := w.step(ctx, StatePersisting, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, w.cfg.PersistTimeout)
		defer cancel()
		if _, err := w.repo.Create(ctx, r); err != nil {
			return newFailure(job.JobID, StatePersisting, KindPersistenceError, err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	if w.cache != nil {
		if err := w.cache.Delete(ctx, job.JobID); err != nil {
			logger.Warn("Failed to drop cached draft", "error", err)
		}
	}
	return r.ID, nil
}

// generateDraft runs the steps from fetching the document to structured extraction
func (w *Worker) generateDraft(ctx context.Context, job queue.Job, vocab extraction.Vocabulary, logger *slog.Logger) (*extraction.Draft, error) {
	var data []byte
	err := w.step(ctx, StateReceived, func(ctx context.Context) error {
		var err error
		data, err = w.fetch(ctx, job)
		return err
	})
	if err != nil {
		return nil, err
	}

	var (
		image []byte
		ext   string
	)
	err = w.step(ctx, StateNormalizing, func(ctx context.Context) error {
		var err error
		image, ext, err = w.normalizer.Normalize(data, documentExt(job))
		switch {
		case err == nil:
			return nil
		case errors.Is(err, scanning.ErrUnsupportedFormat):
			return newFailure(job.JobID, StateNormalizing, KindUnsupportedFormat, err)
		default:
			return newFailure(job.JobID, StateNormalizing, KindConversionFailed, err)
		}
	})
	if err != nil {
		return nil, err
	}
	if strings.EqualFold(documentExt(job), ".pdf") {
		logger.Info("Only the first page of the document is processed")
	}

	var text string
	err = w.step(ctx, StateExtracting, func(ctx context.Context) error {
		var err error
		text, err = w.extractText(ctx, job, image, ext)
		return err
	})
	if err != nil {
		return nil, err
	}

	var draft *extraction.Draft
	err = w.step(ctx, StateGenerating, func(ctx context.Context) error {
		var err error
		draft, err = w.generate(ctx, job, text, vocab, logger)
		return err
	})
	return draft, err
}

func (w *Worker) fetch(ctx context.Context, job queue.Job) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, w.cfg.BlobTimeout)
	defer cancel()

	data, err := w.blobs.Get(ctx, job.DocumentLocation)
	switch {
	case err == nil:
		return data, nil
	case errors.Is(err, blob.ErrNotFound):
		return nil, newFailure(job.JobID, StateReceived, KindDocumentNotFound, err)
	case errors.Is(err, blob.ErrInvalidLocation):
		return nil, newFailure(job.JobID, StateReceived, KindInvalidJob, err)
	default:
		return nil, newFailure(job.JobID, StateReceived, KindBlobUnavailable, err)
	}
}

// extractText stages the image in a job-scoped temp dir that is removed before returning
func (w *Worker) extractText(ctx context.Context, job queue.Job, image []byte, ext string) (string, error) {
	dir, err := os.MkdirTemp(w.cfg.WorkDir, "receiptfly-job-")
	if err != nil {
		return "", newFailure(job.JobID, StateExtracting, KindExtractionUnavailable, fmt.Errorf("creating work dir: %w", err))
	}
	defer os.RemoveAll(dir)

	imagePath := filepath.Join(dir, "document"+ext)
	if err := os.WriteFile(imagePath, image, 0600); err != nil {
		return "", newFailure(job.JobID, StateExtracting, KindExtractionUnavailable, fmt.Errorf("staging image: %w", err))
	}

	ctx, cancel := context.WithTimeout(ctx, w.cfg.OCRTimeout)
	defer cancel()

	text, err := w.ocr.ExtractText(ctx, imagePath)
	switch {
	case errors.Is(err, scanning.ErrExtractionRejected):
		return "", newFailure(job.JobID, StateExtracting, KindExtractionRejected, err)
	case err != nil:
		return "", newFailure(job.JobID, StateExtracting, KindExtractionUnavailable, err)
	case strings.TrimSpace(text) == "":
		return "", newFailure(job.JobID, StateExtracting, KindEmptyText, errors.New("no text found in document"))
	}
	return text, nil
}

// generate calls the extractor, retrying a malformed response once
func (w *Worker) generate(ctx context.Context, job queue.Job, text string, vocab extraction.Vocabulary, logger *slog.Logger) (*extraction.Draft, error) {
	const maxAttempts = 2
	for attempt := 1; ; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, w.cfg.LLMTimeout)
		draft, err := w.extractor.ExtractReceipt(callCtx, text, vocab)
		cancel()
		if err == nil {
			return draft, nil
		}
		if errors.Is(err, extraction.ErrMalformedResponse) && attempt < maxAttempts {
			logger.Warn("Malformed extraction response, retrying", "attempt", attempt, "error", err)
			continue
		}
		return nil, newFailure(job.JobID, StateGenerating, generationKind(err), err)
	}
}

func generationKind(err error) Kind {
	switch {
	case errors.Is(err, extraction.ErrEmptyExtractionInput):
		return KindEmptyExtractionInput
	case errors.Is(err, extraction.ErrMalformedResponse):
		return KindMalformedResponse
	case errors.Is(err, extraction.ErrIncompleteDraft):
		return KindIncompleteDraft
	case errors.Is(err, extraction.ErrRejected):
		return KindGenerationRejected
	default:
		return KindGenerationUnavailable
	}
}

func (w *Worker) buildReceipt(job queue.Job, draft *extraction.Draft, logger *slog.Logger) *receipt.Receipt {
	now := w.clock.Now().UTC()
	name := job.OriginalFileName
	if name == "" {
		name = path.Base(job.DocumentLocation.Key)
	}

	r := &receipt.Receipt{
		ID:                 w.ids.ReceiptID(),
		Store:              draft.Store,
		Date:               draft.Date,
		Address:            draft.Address,
		Tel:                draft.Tel,
		PaymentMethod:      draft.PaymentMethod,
		RegistrationNumber: draft.RegistrationNumber,
		CreditAccount:      draft.CreditAccount,
		OriginalFileName:   name,
		SourceJobID:        job.JobID,
		Items:              make([]receipt.LineItem, 0, len(draft.Items)),
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	for _, it := range draft.Items {
		amount := 0
		if it.Amount != nil {
			amount = *it.Amount
		}
		r.Items = append(r.Items, receipt.LineItem{
			ID:           w.ids.LineItemID(),
			Name:         it.Name,
			Amount:       amount,
			IsTaxReturn:  it.IsTaxReturn,
			Category:     it.Category,
			AICategory:   it.AICategory,
			AIRisk:       receipt.NormalizeRisk(it.AIRisk),
			Memo:         it.Memo,
			TaxType:      it.TaxType,
			AccountTitle: it.AccountTitle,
		})
	}
	r.RecalculateTotal()
	if draft.Total != nil && *draft.Total != r.Total {
		logger.Warn("Printed total differs from item sum", "printed_total", *draft.Total, "total", r.Total)
	}
	return r
}

func (w *Worker) cachedDraft(ctx context.Context, job queue.Job, logger *slog.Logger) *extraction.Draft {
	if w.cache == nil {
		return nil
	}
	draft, ok, err := w.cache.Get(ctx, job.JobID)
	if err != nil {
		logger.Warn("Failed to read cached draft", "error", err)
		return nil
	}
	if !ok {
		return nil
	}
	logger.Info("Resuming from cached draft")
	return draft
}

func (w *Worker) cacheDraft(ctx context.Context, job queue.Job, draft *extraction.Draft, logger *slog.Logger) {
	if w.cache == nil {
		return
	}
	if err := w.cache.Put(ctx, job.JobID, draft); err != nil {
		logger.Warn("Failed to cache draft", "error", err)
	}
}

// acquire takes the job lock and keeps it alive until the returned release is called
func (w *Worker) acquire(ctx context.Context, job queue.Job, logger *slog.Logger) (func(), error) {
	token, err := lock.Token()
	if err != nil {
		return nil, newFailure(job.JobID, StateReceived, KindJobLocked, err)
	}
	key := w.locker.Key(job.JobID)
	ttl := w.cfg.LockTTL

	ok, err := w.locker.Acquire(ctx, key, token, ttl)
	if err != nil {
		return nil, newFailure(job.JobID, StateReceived, KindJobLocked, fmt.Errorf("acquiring lock: %w", err))
	}
	if !ok {
		return nil, newFailure(job.JobID, StateReceived, KindJobLocked, ErrJobLocked)
	}

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(ttl / 3)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if held, err := w.locker.Refresh(ctx, key, token, ttl); err != nil || !held {
					logger.Warn("Failed to refresh job lock", "held", held, "error", err)
				}
			}
		}
	}()

	return func() {
		close(stop)
		wg.Wait()
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if _, err := w.locker.Release(releaseCtx, key, token); err != nil {
			logger.Warn("Failed to release job lock", "error", err)
		}
	}, nil
}

// step runs fn as a traced, timed pipeline stage
func (w *Worker) step(ctx context.Context, state State, fn func(ctx context.Context) error) error {
	ctx, span := w.tracer.Start(ctx, "ingest."+string(state))
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	obs.ObserveStage(string(state), time.Since(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}
