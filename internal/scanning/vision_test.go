package scanning

import (
	"context"
	"net/http"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"
	"google.golang.org/api/option"
)

var _ = Describe("VisionExtractor", func() {
	var (
		server    *ghttp.Server
		extractor *VisionExtractor
		imagePath string
		text      string
		err       error
	)

	BeforeEach(func() {
		server = ghttp.NewServer()
		imagePath = filepath.Join(GinkgoT().TempDir(), "receipt.png")
		Expect(os.WriteFile(imagePath, []byte("png bytes"), 0600)).To(Succeed())

		var newErr error
		extractor, newErr = NewVision(context.Background(), "test-key", option.WithEndpoint(server.URL()+"/"))
		Expect(newErr).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		server.Close()
	})

	JustBeforeEach(func() {
		text, err = extractor.ExtractText(context.Background(), imagePath)
	})

	When("the image contains text", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.CombineHandlers(
				ghttp.VerifyRequest("POST", "/v1/images:annotate"),
				ghttp.VerifyContentType("application/json"),
				ghttp.RespondWith(http.StatusOK, `{"responses":[{"textAnnotations":[{"description":"ローソン\n合計 ¥500"},{"description":"ローソン"}]}]}`),
			))
		})

		It("joins every annotation", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(text).To(Equal("ローソン\n合計 ¥500\nローソン"))
		})
	})

	When("the image has no text", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.RespondWith(http.StatusOK, `{"responses":[{}]}`))
		})

		It("returns an empty string without error", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(text).To(BeEmpty())
		})
	})

	When("the service is unavailable", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.RespondWith(http.StatusServiceUnavailable, `{"error":{"code":503,"message":"backend error"}}`))
		})

		It("returns ErrExtractionUnavailable", func() {
			Expect(err).To(MatchError(ErrExtractionUnavailable))
		})
	})

	When("the request is throttled", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.RespondWith(http.StatusTooManyRequests, `{"error":{"code":429,"message":"quota"}}`))
		})

		It("returns ErrExtractionUnavailable", func() {
			Expect(err).To(MatchError(ErrExtractionUnavailable))
		})
	})

	When("the request is rejected", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.RespondWith(http.StatusBadRequest, `{"error":{"code":400,"message":"bad image"}}`))
		})

		It("returns ErrExtractionRejected", func() {
			Expect(err).To(MatchError(ErrExtractionRejected))
		})
	})

	When("the image itself is rejected", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.RespondWith(http.StatusOK, `{"responses":[{"error":{"code":3,"message":"Bad image data."}}]}`))
		})

		It("returns ErrExtractionRejected", func() {
			Expect(err).To(MatchError(ErrExtractionRejected))
			Expect(err.Error()).To(ContainSubstring("Bad image data"))
		})
	})
})
