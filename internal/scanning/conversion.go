package scanning

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/png"
	"strings"

	"github.com/gen2brain/go-fitz"
	"github.com/gen2brain/heic"
)

var (
	// ErrUnsupportedFormat is returned for extensions the normalizer does not handle
	ErrUnsupportedFormat = errors.New("unsupported document format")

	// ErrConversionFailed is returned when a supported document cannot be rendered
	ErrConversionFailed = errors.New("document conversion failed")
)

// DefaultDPI is the resolution used to rasterize PDF pages
const DefaultDPI = 300

var rasterExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".gif":  true,
	".webp": true,
	".bmp":  true,
	".tif":  true,
	".tiff": true,
}

// Normalizer turns an uploaded document into a single raster image that the
// text extraction backends accept. Only the first page of a PDF is rendered.
type Normalizer struct {
	dpi float64
}

// NewNormalizer creates a Normalizer rendering PDFs at dpi (DefaultDPI when <= 0)
func NewNormalizer(dpi float64) *Normalizer {
	if dpi <= 0 {
		dpi = DefaultDPI
	}
	return &Normalizer{dpi: dpi}
}

// Normalize returns the image bytes and the extension that describes them.
// Raster inputs are returned unchanged.
func (n *Normalizer) Normalize(data []byte, ext string) ([]byte, string, error) {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	if ext == "" && isHEIC(data) {
		ext = ".heic"
	}

	switch {
	case rasterExtensions[ext]:
		return data, ext, nil
	case ext == ".pdf":
		img, err := n.pdfToPNG(data)
		if err != nil {
			return nil, "", fmt.Errorf("%w: %w", ErrConversionFailed, err)
		}
		return img, ".png", nil
	case ext == ".heic" || ext == ".heif":
		img, err := heicToPNG(data)
		if err != nil {
			return nil, "", fmt.Errorf("%w: %w", ErrConversionFailed, err)
		}
		return img, ".png", nil
	default:
		return nil, "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
}

// pdfToPNG renders the first page of a PDF
func (n *Normalizer) pdfToPNG(pdfData []byte) ([]byte, error) {
	doc, err := fitz.NewFromMemory(pdfData)
	if err != nil {
		return nil, fmt.Errorf("opening PDF: %w", err)
	}
	defer doc.Close()

	if doc.NumPage() < 1 {
		return nil, errors.New("PDF has no pages")
	}

	img, err := doc.ImageDPI(0, n.dpi)
	if err != nil {
		return nil, fmt.Errorf("rendering PDF page: %w", err)
	}

	return encodePNG(img)
}

// heicToPNG decodes HEIC/HEIF (common on iPhones), which the standard image package can't read
func heicToPNG(data []byte) ([]byte, error) {
	img, err := heic.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decoding HEIC/HEIF image: %w", err)
	}
	return encodePNG(img)
}

func encodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encoding PNG: %w", err)
	}
	return buf.Bytes(), nil
}

// isHEIC checks the ftyp box brand for HEIC/HEIF content
func isHEIC(data []byte) bool {
	if len(data) < 12 || string(data[4:8]) != "ftyp" {
		return false
	}
	switch string(data[8:12]) {
	case "heic", "heix", "heif", "mif1", "msf1":
		return true
	}
	return false
}
