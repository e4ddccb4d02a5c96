package lock

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Client", func() {
	Describe("Key", func() {
		It("uses the default prefix", func() {
			Expect(New(nil, "").Key(" job-1 ")).To(Equal("receiptfly:lock:job:job-1"))
		})

		It("uses a custom prefix", func() {
			Expect(New(nil, "test:").Key("job-1")).To(Equal("test:job-1"))
		})
	})

	Describe("argument checks", func() {
		It("rejects an empty token before touching redis", func() {
			ok, err := New(nil, "").Acquire(context.Background(), "k", " ", time.Second)
			Expect(err).To(HaveOccurred())
			Expect(ok).To(BeFalse())
		})
	})
})

var _ = Describe("Token", func() {
	It("returns distinct hex tokens", func() {
		a, err := Token()
		Expect(err).NotTo(HaveOccurred())
		b, err := Token()
		Expect(err).NotTo(HaveOccurred())
		Expect(a).To(MatchRegexp(`^[0-9a-f]{32}$`))
		Expect(a).NotTo(Equal(b))
	})
})

var _ = Describe("normalizeTTL", func() {
	It("falls back for non-positive values", func() {
		Expect(normalizeTTL(0)).To(Equal(10 * time.Minute))
		Expect(normalizeTTL(time.Minute)).To(Equal(time.Minute))
	})
})
