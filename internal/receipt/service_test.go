package receipt

import (
	"context"
	"errors"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/xiaotiantakumi/receiptfly/internal/blob"
	"github.com/xiaotiantakumi/receiptfly/internal/queue"
)

// failingQueue rejects every enqueue
type failingQueue struct {
	queue.Queue
	err error
}

func (f failingQueue) Enqueue(ctx context.Context, job queue.Job) error { return f.err }

// signingStore adds upload signing to a local store
type signingStore struct {
	*blob.LocalStorage
	signed []blob.Location
}

func (s *signingStore) SignUploadURL(loc blob.Location, ttl time.Duration) (string, error) {
	s.signed = append(s.signed, loc)
	return "https://uploads.example.test/" + loc.String() + "?ttl=" + ttl.String(), nil
}

var _ = Describe("sanitizeFilename", func() {
	DescribeTable("cleans names",
		func(in, want string) {
			Expect(sanitizeFilename(in)).To(Equal(want))
		},
		Entry("plain", "receipt.jpg", "receipt.jpg"),
		Entry("keeps japanese", "領収書 5月.PNG", "領収書 5月.png"),
		Entry("strips path", "../../etc/passwd", "passwd"),
		Entry("strips windows path", `C:\Users\me\scan.pdf`, "scan.pdf"),
		Entry("drops punctuation", "my#receipt!(1).heic", "myreceipt1.heic"),
		Entry("collapses whitespace", "a   b\tc.jpg", "a b c.jpg"),
		Entry("falls back when empty", "!!!.jpg", "receipt.jpg"),
		Entry("drops odd extensions", "scan.p?f", "scan"),
	)

	It("truncates long names", func() {
		long := ""
		for range 80 {
			long += "あ"
		}
		Expect([]rune(sanitizeFilename(long + ".jpg"))).To(HaveLen(54))
	})
})

var _ = Describe("Service", func() {
	var (
		ctx     context.Context
		repo    *BoltRepository
		store   *blob.LocalStorage
		jobs    *queue.MemoryQueue
		service *Service
		now     time.Time
	)

	BeforeEach(func() {
		ctx = context.Background()
		dir := GinkgoT().TempDir()
		var err error
		repo, err = NewBoltRepository(filepath.Join(dir, "receipts.db"))
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(repo.Close)
		store, err = blob.NewLocalStorage(filepath.Join(dir, "blobs"))
		Expect(err).NotTo(HaveOccurred())
		jobs = queue.NewMemoryQueue(time.Minute)
		now = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	})

	JustBeforeEach(func() {
		if service == nil {
			service = NewServiceWithDeps(repo, store, jobs, ServiceConfig{}, discardLogger, &sequentialIDs{}, fixedClock{now})
		}
	})

	AfterEach(func() {
		service = nil
	})

	Describe("UploadDocument", func() {
		It("stores the document and queues a job pointing at it", func() {
			job, err := service.UploadDocument(ctx, "領収書.jpg", []byte("jpeg-bytes"), JobOptions{Categories: []string{"食費"}})
			Expect(err).NotTo(HaveOccurred())
			Expect(job.JobID).To(Equal("job-1"))
			Expect(job.DocumentLocation).To(Equal(blob.Location{Container: DefaultContainer, Key: "job-1_領収書.jpg"}))
			Expect(job.OriginalFileName).To(Equal("領収書.jpg"))
			Expect(job.Categories).To(Equal([]string{"食費"}))
			Expect(job.CreatedAt).To(Equal(now))

			data, err := store.Get(ctx, job.DocumentLocation)
			Expect(err).NotTo(HaveOccurred())
			Expect(data).To(Equal([]byte("jpeg-bytes")))

			meta, err := store.Metadata(job.DocumentLocation)
			Expect(err).NotTo(HaveOccurred())
			Expect(meta).To(HaveKeyWithValue(blob.MetaOriginalFilename, "領収書.jpg"))

			d, err := jobs.Receive(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(d.Job.JobID).To(Equal("job-1"))
		})

		It("rejects empty documents", func() {
			_, err := service.UploadDocument(ctx, "a.jpg", nil, JobOptions{})
			Expect(err).To(HaveOccurred())
			Expect(jobs.Len()).To(BeZero())
		})

		When("enqueueing fails", func() {
			BeforeEach(func() {
				service = NewServiceWithDeps(repo, store, failingQueue{err: errors.New("queue down")}, ServiceConfig{}, discardLogger, &sequentialIDs{}, fixedClock{now})
			})

			It("removes the stored document", func() {
				_, err := service.UploadDocument(ctx, "a.jpg", []byte("x"), JobOptions{})
				Expect(err).To(MatchError(ContainSubstring("queue down")))

				_, err = store.Get(ctx, blob.Location{Container: DefaultContainer, Key: "job-1_a.jpg"})
				Expect(err).To(MatchError(blob.ErrNotFound))
			})
		})
	})

	Describe("EnqueueDocuments", func() {
		It("queues one job per path", func() {
			queued, err := service.EnqueueDocuments(ctx, []string{"receipt-images/a.jpg", "/receipt-images/b.pdf"}, JobOptions{})
			Expect(err).NotTo(HaveOccurred())
			Expect(queued).To(HaveLen(2))
			Expect(queued[1].DocumentLocation.Key).To(Equal("b.pdf"))
			Expect(queued[1].OriginalFileName).To(Equal("b.pdf"))
			Expect(jobs.Len()).To(Equal(2))
		})

		It("queues nothing when a path is invalid", func() {
			_, err := service.EnqueueDocuments(ctx, []string{"receipt-images/a.jpg", "no-key"}, JobOptions{})
			Expect(err).To(HaveOccurred())
			Expect(jobs.Len()).To(BeZero())
		})

		It("refuses a path that leaves its container", func() {
			_, err := service.EnqueueDocuments(ctx, []string{"receipt-images/../../etc/passwd.png"}, JobOptions{})
			Expect(err).To(MatchError(blob.ErrInvalidLocation))
			Expect(jobs.Len()).To(BeZero())
		})

		It("requires at least one path", func() {
			_, err := service.EnqueueDocuments(ctx, nil, JobOptions{})
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("SignUpload", func() {
		It("fails when the store cannot sign", func() {
			_, _, err := service.SignUpload(ctx, "a.jpg")
			Expect(err).To(MatchError(ErrSigningUnsupported))
		})

		When("the store signs uploads", func() {
			var signer *signingStore

			BeforeEach(func() {
				signer = &signingStore{LocalStorage: store}
				service = NewServiceWithDeps(repo, signer, jobs, ServiceConfig{UploadURLTTL: 5 * time.Minute}, discardLogger, &sequentialIDs{}, fixedClock{now})
			})

			It("signs a sanitized key in the upload container", func() {
				url, loc, err := service.SignUpload(ctx, "../scan 1.pdf")
				Expect(err).NotTo(HaveOccurred())
				Expect(loc).To(Equal(blob.Location{Container: DefaultContainer, Key: "job-1_scan 1.pdf"}))
				Expect(url).To(ContainSubstring("ttl=5m0s"))
				Expect(signer.signed).To(ConsistOf(loc))
			})
		})
	})

	Describe("read-back", func() {
		BeforeEach(func() {
			_, err := repo.Create(ctx, sampleReceipt("receipt-a", now))
			Expect(err).NotTo(HaveOccurred())
		})

		It("gets, lists and deletes receipts", func() {
			got, err := service.GetReceipt(ctx, "receipt-a")
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Store).To(Equal("コンビニ"))

			all, err := service.ListReceipts(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(all).To(HaveLen(1))

			Expect(service.DeleteReceipt(ctx, "receipt-a")).To(Succeed())
			_, err = service.GetReceipt(ctx, "receipt-a")
			Expect(err).To(MatchError(ErrNotFound))
		})

		It("exports a workbook", func() {
			data, err := service.ExportReceipts(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(data[:2]).To(Equal([]byte("PK")))
		})
	})
})
