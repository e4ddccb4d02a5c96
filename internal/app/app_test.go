package app

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/xiaotiantakumi/receiptfly/internal/blob"
	"github.com/xiaotiantakumi/receiptfly/internal/config"
	"github.com/xiaotiantakumi/receiptfly/internal/queue"
	"github.com/xiaotiantakumi/receiptfly/internal/receipt"
)

var _ = Describe("Open", func() {
	var (
		cfg    *config.Config
		logger *slog.Logger
	)

	BeforeEach(func() {
		dir := GinkgoT().TempDir()
		var err error
		cfg, _, err = config.Parse("receiptfly-test", []string{
			"--queue", "memory",
			"--storage", filepath.Join(dir, "blobs"),
			"--db", filepath.Join(dir, "receipts.db"),
			"--ocr", "tesseract",
			"--llm", "ollama",
			"--default-categories", "食費",
		})
		Expect(err).NotTo(HaveOccurred())
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	})

	It("opens the local backends", func() {
		b, err := Open(context.Background(), cfg, logger)
		Expect(err).NotTo(HaveOccurred())
		defer b.Close()

		Expect(b.Blobs).To(BeAssignableToTypeOf(&blob.LocalStorage{}))
		Expect(b.Jobs).To(BeAssignableToTypeOf(&queue.MemoryQueue{}))
		Expect(b.Repo).To(BeAssignableToTypeOf(&receipt.BoltRepository{}))
		Expect(b.Redis).To(BeNil())
	})

	It("builds a worker that drains the queue until cancelled", func() {
		b, err := Open(context.Background(), cfg, logger)
		Expect(err).NotTo(HaveOccurred())
		defer b.Close()

		w, closeClients, err := NewWorker(context.Background(), cfg, b, logger)
		Expect(err).NotTo(HaveOccurred())
		defer closeClients()

		ctx, cancel := context.WithCancel(context.Background())
		Expect(b.Jobs.Enqueue(ctx, queue.Job{
			JobID:            "job-1",
			DocumentLocation: blob.Location{Container: "receipt-images", Key: "missing.png"},
		})).To(Succeed())

		done := make(chan error, 1)
		go func() { done <- RunWorker(ctx, cfg, b, w, logger) }()

		mq := b.Jobs.(*queue.MemoryQueue)
		Eventually(func() int { return mq.Len() + mq.InFlight() }).Should(BeZero())
		cancel()
		Eventually(done, 5*time.Second).Should(Receive(BeNil()))
	})

	It("fails when the database cannot be opened", func() {
		cfg.DBPath = filepath.Join(GinkgoT().TempDir(), "missing", "dir", "receipts.db")
		_, err := Open(context.Background(), cfg, logger)
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("ConsumerName", func() {
	It("prefers the configured name", func() {
		Expect(ConsumerName(&config.Config{Consumer: "worker-a"})).To(Equal("worker-a"))
	})

	It("falls back to host and pid", func() {
		Expect(ConsumerName(&config.Config{})).To(MatchRegexp(`^.+-\d+$`))
	})
})
