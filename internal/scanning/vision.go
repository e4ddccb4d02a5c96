package scanning

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"

	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	vision "google.golang.org/api/vision/v1"
)

// VisionExtractor implements TextExtractor using Google Cloud Vision TEXT_DETECTION
type VisionExtractor struct {
	service *vision.Service
}

// NewVision creates a new VisionExtractor. Extra client options (endpoint,
// HTTP client) are appended after the API key.
func NewVision(ctx context.Context, apiKey string, opts ...option.ClientOption) (*VisionExtractor, error) {
	if apiKey == "" {
		return nil, errors.New("vision api key is required")
	}

	svc, err := vision.NewService(ctx, append([]option.ClientOption{option.WithAPIKey(apiKey)}, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("creating vision client: %w", err)
	}

	return &VisionExtractor{service: svc}, nil
}

// ExtractText runs text detection over the image and joins every annotation
func (v *VisionExtractor) ExtractText(ctx context.Context, imagePath string) (string, error) {
	data, err := os.ReadFile(imagePath)
	if err != nil {
		return "", fmt.Errorf("%w: reading image: %w", ErrExtractionUnavailable, err)
	}

	req := &vision.BatchAnnotateImagesRequest{
		Requests: []*vision.AnnotateImageRequest{
			{
				Image:    &vision.Image{Content: base64.StdEncoding.EncodeToString(data)},
				Features: []*vision.Feature{{Type: "TEXT_DETECTION"}},
			},
		},
	}

	resp, err := v.service.Images.Annotate(req).Context(ctx).Do()
	if err != nil {
		return "", classifyVisionError(err)
	}
	if len(resp.Responses) == 0 {
		return "", nil
	}

	r := resp.Responses[0]
	if r.Error != nil && r.Error.Code != 0 {
		return "", fmt.Errorf("%w: vision error %d: %s", ErrExtractionRejected, r.Error.Code, r.Error.Message)
	}

	texts := make([]string, 0, len(r.TextAnnotations))
	for _, a := range r.TextAnnotations {
		if a == nil || a.Description == "" {
			continue
		}
		texts = append(texts, a.Description)
	}
	return strings.Join(texts, "\n"), nil
}

func classifyVisionError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %w", ErrExtractionUnavailable, err)
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		if apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= 500 {
			return fmt.Errorf("%w: %w", ErrExtractionUnavailable, err)
		}
		if apiErr.Code >= 400 {
			return fmt.Errorf("%w: %w", ErrExtractionRejected, err)
		}
	}
	return fmt.Errorf("%w: %w", ErrExtractionUnavailable, err)
}
