package receipt

import (
	"context"
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

// repositoryContract runs the behaviour every Repository implementation must share
func repositoryContract(newRepo func() Repository) {
	var (
		ctx  context.Context
		repo Repository
		base time.Time
	)

	BeforeEach(func() {
		ctx = context.Background()
		repo = newRepo()
		base = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	})

	Describe("Create", func() {
		It("stores the receipt with its items in order", func() {
			_, err := repo.Create(ctx, sampleReceipt("receipt-a", base))
			Expect(err).NotTo(HaveOccurred())

			got, err := repo.GetByID(ctx, "receipt-a")
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Store).To(Equal("コンビニ"))
			Expect(got.Total).To(Equal(1500))
			Expect(got.SourceJobID).To(Equal("job-receipt-a"))
			Expect(got.CreatedAt).To(BeTemporally("~", base, time.Millisecond))
			Expect(got.Items).To(HaveLen(2))
			Expect(got.Items[0].Name).To(Equal("ノート"))
			Expect(got.Items[1].IsTaxReturn).To(BeTrue())
			Expect(got.Items[1].AIRisk).To(Equal(RiskMedium))
		})

		It("rejects a duplicate id", func() {
			_, err := repo.Create(ctx, sampleReceipt("receipt-a", base))
			Expect(err).NotTo(HaveOccurred())
			_, err = repo.Create(ctx, sampleReceipt("receipt-a", base))
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("GetByID", func() {
		It("returns ErrNotFound for a missing receipt", func() {
			_, err := repo.GetByID(ctx, "missing")
			Expect(err).To(MatchError(ErrNotFound))
		})
	})

	Describe("List", func() {
		It("returns an empty list when nothing is stored", func() {
			receipts, err := repo.List(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(receipts).To(BeEmpty())
		})

		It("orders receipts newest first", func() {
			for i, id := range []string{"receipt-old", "receipt-new", "receipt-mid"} {
				created := base.Add(time.Duration([]int{0, 2, 1}[i]) * time.Hour)
				_, err := repo.Create(ctx, sampleReceipt(id, created))
				Expect(err).NotTo(HaveOccurred())
			}

			receipts, err := repo.List(ctx)
			Expect(err).NotTo(HaveOccurred())
			ids := make([]string, 0, len(receipts))
			for _, r := range receipts {
				ids = append(ids, r.ID)
				Expect(r.Items).To(HaveLen(2))
			}
			Expect(ids).To(Equal([]string{"receipt-new", "receipt-mid", "receipt-old"}))
		})
	})

	Describe("Update", func() {
		It("replaces fields and items", func() {
			r := sampleReceipt("receipt-a", base)
			_, err := repo.Create(ctx, r)
			Expect(err).NotTo(HaveOccurred())

			r.Store = "書店"
			r.Items = r.Items[:1]
			r.RecalculateTotal()
			_, err = repo.Update(ctx, r)
			Expect(err).NotTo(HaveOccurred())

			got, err := repo.GetByID(ctx, "receipt-a")
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Store).To(Equal("書店"))
			Expect(got.Total).To(Equal(500))
			Expect(got.Items).To(HaveLen(1))
		})

		It("returns ErrNotFound for a missing receipt", func() {
			_, err := repo.Update(ctx, sampleReceipt("missing", base))
			Expect(err).To(MatchError(ErrNotFound))
		})
	})

	Describe("Delete", func() {
		It("removes the receipt", func() {
			_, err := repo.Create(ctx, sampleReceipt("receipt-a", base))
			Expect(err).NotTo(HaveOccurred())

			Expect(repo.Delete(ctx, "receipt-a")).To(Succeed())
			_, err = repo.GetByID(ctx, "receipt-a")
			Expect(err).To(MatchError(ErrNotFound))
		})

		It("returns ErrNotFound for a missing receipt", func() {
			Expect(repo.Delete(ctx, "missing")).To(MatchError(ErrNotFound))
		})
	})
}

var _ = Describe("BoltRepository", func() {
	repositoryContract(func() Repository {
		repo, err := NewBoltRepository(filepath.Join(GinkgoT().TempDir(), "test.db"))
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(repo.Close)
		return repo
	})

	It("persists across reopen", func() {
		path := filepath.Join(GinkgoT().TempDir(), "reopen.db")
		repo, err := NewBoltRepository(path)
		Expect(err).NotTo(HaveOccurred())
		_, err = repo.Create(context.Background(), sampleReceipt("receipt-a", time.Now()))
		Expect(err).NotTo(HaveOccurred())
		Expect(repo.Close()).To(Succeed())

		repo, err = NewBoltRepository(path)
		Expect(err).NotTo(HaveOccurred())
		defer repo.Close()
		got, err := repo.GetByID(context.Background(), "receipt-a")
		Expect(err).NotTo(HaveOccurred())
		Expect(got.Items).To(HaveLen(2))
	})
})

var _ = Describe("PostgresRepository", func() {
	repositoryContract(func() Repository {
		dsn := os.Getenv("RECEIPTFLY_TEST_POSTGRES_DSN")
		if dsn == "" {
			Skip("RECEIPTFLY_TEST_POSTGRES_DSN not set")
		}
		ctx := context.Background()
		repo, err := NewPostgresRepository(ctx, PostgresConfig{DSN: dsn}, discardLogger)
		Expect(err).NotTo(HaveOccurred())
		_, err = repo.pool.Exec(ctx, "TRUNCATE receipts CASCADE")
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(repo.Close)
		return repo
	})
})
