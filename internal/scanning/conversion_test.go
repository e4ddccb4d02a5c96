package scanning

import (
	"bytes"
	"image"
	"image/color"
	"image/png"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Normalizer", func() {
	var (
		normalizer *Normalizer
		data       []byte
		ext        string
		out        []byte
		outExt     string
		err        error
	)

	BeforeEach(func() {
		normalizer = NewNormalizer(72)
	})

	JustBeforeEach(func() {
		out, outExt, err = normalizer.Normalize(data, ext)
	})

	When("the document is a raster image", func() {
		BeforeEach(func() {
			img := image.NewRGBA(image.Rect(0, 0, 4, 4))
			img.Set(1, 1, color.White)
			var buf bytes.Buffer
			Expect(png.Encode(&buf, img)).To(Succeed())
			data = buf.Bytes()
			ext = ".JPG"
		})

		It("returns the input unchanged", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(Equal(data))
		})

		It("lower-cases the extension", func() {
			Expect(outExt).To(Equal(".jpg"))
		})
	})

	When("the extension has no leading dot", func() {
		BeforeEach(func() {
			data = []byte("raw")
			ext = "webp"
		})

		It("still recognises it", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(outExt).To(Equal(".webp"))
		})
	})

	When("the document is a multi-page PDF", func() {
		BeforeEach(func() {
			data = buildPDF([2]int{200, 100}, [2]int{100, 300})
			ext = ".pdf"
		})

		It("renders a PNG", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(outExt).To(Equal(".png"))
			_, format, decodeErr := image.DecodeConfig(bytes.NewReader(out))
			Expect(decodeErr).NotTo(HaveOccurred())
			Expect(format).To(Equal("png"))
		})

		It("renders only the first page", func() {
			cfg, decodeErr := png.DecodeConfig(bytes.NewReader(out))
			Expect(decodeErr).NotTo(HaveOccurred())
			Expect(cfg.Width).To(BeNumerically("~", 200, 2))
			Expect(cfg.Height).To(BeNumerically("~", 100, 2))
		})

		It("is deterministic", func() {
			again, againExt, againErr := normalizer.Normalize(data, ext)
			Expect(againErr).NotTo(HaveOccurred())
			Expect(againExt).To(Equal(outExt))
			Expect(again).To(Equal(out))
		})
	})

	When("the PDF is rendered at a higher DPI", func() {
		BeforeEach(func() {
			normalizer = NewNormalizer(144)
			data = buildPDF([2]int{200, 100})
			ext = ".pdf"
		})

		It("scales the page", func() {
			cfg, decodeErr := png.DecodeConfig(bytes.NewReader(out))
			Expect(decodeErr).NotTo(HaveOccurred())
			Expect(cfg.Width).To(BeNumerically("~", 400, 2))
		})
	})

	When("the PDF is corrupt", func() {
		BeforeEach(func() {
			data = []byte("%PDF-1.4 this is not really a pdf")
			ext = ".pdf"
		})

		It("returns ErrConversionFailed", func() {
			Expect(err).To(MatchError(ErrConversionFailed))
		})
	})

	When("the HEIC image cannot be decoded", func() {
		BeforeEach(func() {
			data = []byte("not an heic image")
			ext = ".heic"
		})

		It("returns ErrConversionFailed", func() {
			Expect(err).To(MatchError(ErrConversionFailed))
		})
	})

	When("the format is not supported", func() {
		BeforeEach(func() {
			data = []byte("PK\x03\x04")
			ext = ".docx"
		})

		It("returns ErrUnsupportedFormat", func() {
			Expect(err).To(MatchError(ErrUnsupportedFormat))
			Expect(out).To(BeNil())
		})
	})

	When("there is no extension and the content is not HEIC", func() {
		BeforeEach(func() {
			data = []byte("plain text")
			ext = ""
		})

		It("returns ErrUnsupportedFormat", func() {
			Expect(err).To(MatchError(ErrUnsupportedFormat))
		})
	})
})

var _ = Describe("isHEIC", func() {
	It("detects the heic ftyp brand", func() {
		Expect(isHEIC([]byte("\x00\x00\x00\x18ftypheic\x00\x00\x00\x00"))).To(BeTrue())
	})

	It("rejects other content", func() {
		Expect(isHEIC([]byte("\x89PNG\r\n\x1a\n\x00\x00\x00\x0d"))).To(BeFalse())
		Expect(isHEIC([]byte("short"))).To(BeFalse())
	})
})
