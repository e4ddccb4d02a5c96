package extraction

import (
	"errors"
	"net/http"

	"github.com/google/generative-ai-go/genai"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"google.golang.org/api/googleapi"
)

var _ = Describe("BuildDraftSchema", func() {
	var itemProps map[string]any

	BeforeEach(func() {
		schema := BuildDraftSchema(testVocab)
		items := schema["properties"].(map[string]any)["items"].(map[string]any)
		itemProps = items["items"].(map[string]any)["properties"].(map[string]any)
	})

	It("constrains account titles to the vocabulary", func() {
		Expect(itemProps["accountTitle"]).To(HaveKeyWithValue("enum", testVocab.AccountTitles))
	})

	It("constrains categories to the vocabulary", func() {
		Expect(itemProps["category"]).To(HaveKeyWithValue("enum", testVocab.Categories))
		Expect(itemProps["aiCategory"]).To(HaveKeyWithValue("enum", testVocab.Categories))
	})

	It("requires store, date and items", func() {
		Expect(BuildDraftSchema(testVocab)).To(HaveKeyWithValue("required", []string{"store", "date", "items"}))
	})

	When("a vocabulary list is empty", func() {
		It("omits the enum", func() {
			schema := BuildDraftSchema(Vocabulary{})
			items := schema["properties"].(map[string]any)["items"].(map[string]any)
			props := items["items"].(map[string]any)["properties"].(map[string]any)
			Expect(props["accountTitle"]).NotTo(HaveKey("enum"))
		})
	})
})

var _ = Describe("geminiSchema", func() {
	It("mirrors the vocabulary enums", func() {
		schema := geminiSchema(testVocab)
		item := schema.Properties["items"].Items
		Expect(item.Properties["accountTitle"].Enum).To(Equal(testVocab.AccountTitles))
		Expect(item.Properties["category"].Enum).To(Equal(testVocab.Categories))
		Expect(item.Properties["amount"].Type).To(Equal(genai.TypeInteger))
		Expect(schema.Required).To(ConsistOf("store", "date", "items"))
	})
})

var _ = Describe("responseText", func() {
	It("concatenates text parts of the first candidate", func() {
		resp := &genai.GenerateContentResponse{
			Candidates: []*genai.Candidate{
				{Content: &genai.Content{Parts: []genai.Part{genai.Text(`{"store":`), genai.Text(`"s"}`)}}},
			},
		}
		Expect(responseText(resp)).To(Equal(`{"store":"s"}`))
	})

	It("returns empty for a response without candidates", func() {
		Expect(responseText(&genai.GenerateContentResponse{})).To(BeEmpty())
		Expect(responseText(nil)).To(BeEmpty())
	})
})

var _ = Describe("classifyGeminiError", func() {
	DescribeTable("maps errors to retryability",
		func(err error, want error) {
			Expect(classifyGeminiError(err)).To(MatchError(want))
		},
		Entry("throttled", &googleapi.Error{Code: http.StatusTooManyRequests}, ErrUnavailable),
		Entry("server error", &googleapi.Error{Code: http.StatusInternalServerError}, ErrUnavailable),
		Entry("bad request", &googleapi.Error{Code: http.StatusBadRequest}, ErrRejected),
		Entry("blocked prompt", &genai.BlockedError{}, ErrRejected),
		Entry("unknown transport error", errors.New("connection reset"), ErrUnavailable),
	)
})

var _ = Describe("Prompt", func() {
	It("substitutes the vocabulary and OCR text", func() {
		out := NewPrompt("titles={accountTitles} cats={categories} text={ocrText}").Render("合計 500", testVocab)
		Expect(out).To(Equal("titles=消耗品費, 旅費交通費, 会議費 cats=消耗品費, 食費 text=合計 500"))
	})

	It("uses the default template when none is given", func() {
		out := NewPrompt("").Render("合計 500", testVocab)
		Expect(out).To(ContainSubstring("リストにない値は使用しないでください。"))
		Expect(out).To(ContainSubstring("消耗品費, 旅費交通費, 会議費"))
		Expect(out).To(ContainSubstring("合計 500"))
	})
})
