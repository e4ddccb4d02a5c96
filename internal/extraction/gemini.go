package extraction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// DefaultGeminiModel is used when no model name is configured
const DefaultGeminiModel = "gemini-flash-lite-latest"

// Gemini implements Extractor using Google Gemini structured output
type Gemini struct {
	client    *genai.Client
	modelName string
	prompt    *Prompt
	logger    *slog.Logger
}

// NewGemini creates a new Gemini extractor
func NewGemini(ctx context.Context, apiKey, modelName string, prompt *Prompt, logger *slog.Logger, opts ...option.ClientOption) (*Gemini, error) {
	if apiKey == "" {
		return nil, errors.New("gemini api key is required")
	}
	if modelName == "" {
		modelName = DefaultGeminiModel
	}
	if prompt == nil {
		prompt = NewPrompt("")
	}
	if logger == nil {
		logger = slog.Default()
	}

	client, err := genai.NewClient(ctx, append([]option.ClientOption{option.WithAPIKey(apiKey)}, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}

	return &Gemini{
		client:    client,
		modelName: modelName,
		prompt:    prompt,
		logger:    logger,
	}, nil
}

// ExtractReceipt asks Gemini for a draft constrained by the vocabulary schema
func (g *Gemini) ExtractReceipt(ctx context.Context, text string, vocab Vocabulary) (*Draft, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyExtractionInput
	}

	model := g.client.GenerativeModel(g.modelName)
	model.SystemInstruction = genai.NewUserContent(genai.Text(systemInstruction))
	model.ResponseMIMEType = "application/json"
	model.ResponseSchema = geminiSchema(vocab)

	resp, err := model.GenerateContent(ctx, genai.Text(g.prompt.Render(text, vocab)))
	if err != nil {
		return nil, classifyGeminiError(err)
	}

	out := responseText(resp)
	if out == "" {
		return nil, fmt.Errorf("%w: no response from gemini", ErrMalformedResponse)
	}

	return parseDraft(out, vocab, g.logger)
}

// Close closes the Gemini client
func (g *Gemini) Close() error {
	return g.client.Close()
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			b.WriteString(string(text))
		}
	}
	return strings.TrimSpace(b.String())
}

// geminiSchema mirrors BuildDraftSchema in the genai schema types
func geminiSchema(vocab Vocabulary) *genai.Schema {
	str := func(desc string) *genai.Schema {
		return &genai.Schema{Type: genai.TypeString, Description: desc}
	}
	enum := func(desc string, values []string) *genai.Schema {
		s := str(desc)
		if len(values) > 0 {
			s.Format = "enum"
			s.Enum = values
		}
		return s
	}

	item := &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"name":         str("商品名"),
			"amount":       {Type: genai.TypeInteger, Description: "金額"},
			"isTaxReturn":  {Type: genai.TypeBoolean, Description: "税込還元フラグ"},
			"category":     enum("カテゴリ", vocab.Categories),
			"aiCategory":   enum("AIカテゴリ", vocab.Categories),
			"aiRisk":       enum("AIリスク", riskLevels),
			"memo":         str("メモ（任意）"),
			"taxType":      enum("税率", taxTypes),
			"accountTitle": enum("勘定科目", vocab.AccountTitles),
		},
		Required: []string{"name", "amount"},
	}

	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"store":              str("店舗名"),
			"date":               str("日付"),
			"total":              {Type: genai.TypeInteger, Description: "合計金額"},
			"address":            str("住所（任意）"),
			"tel":                str("電話番号（任意）"),
			"paymentMethod":      str("支払い方法（任意）"),
			"registrationNumber": str("登録番号（任意）"),
			"creditAccount":      str("貸方科目（任意）"),
			"items":              {Type: genai.TypeArray, Items: item},
		},
		Required: []string{"store", "date", "items"},
	}
}

func classifyGeminiError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	var blocked *genai.BlockedError
	if errors.As(err, &blocked) {
		return fmt.Errorf("%w: %w", ErrRejected, err)
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		if apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= 500 {
			return fmt.Errorf("%w: %w", ErrUnavailable, err)
		}
		return fmt.Errorf("%w: %w", ErrRejected, err)
	}

	if st, ok := status.FromError(err); ok {
		switch st.Code() {
		case codes.InvalidArgument, codes.PermissionDenied, codes.NotFound, codes.FailedPrecondition, codes.Unauthenticated:
			return fmt.Errorf("%w: %w", ErrRejected, err)
		}
	}

	return fmt.Errorf("%w: %w", ErrUnavailable, err)
}
