package extraction

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"
)

var _ = Describe("Ollama", func() {
	var (
		server    *ghttp.Server
		extractor *Ollama
		text      string
		draft     *Draft
		err       error
	)

	chatReply := func(content string) string {
		b, marshalErr := json.Marshal(ollamaChatResponse{Message: ollamaMessage{Role: "assistant", Content: content}, Done: true})
		Expect(marshalErr).NotTo(HaveOccurred())
		return string(b)
	}

	BeforeEach(func() {
		server = ghttp.NewServer()
		extractor = NewOllama(server.URL(), "test-model", nil, discardLogger)
		text = "ローソン\nおにぎり 150\n合計 150"
	})

	AfterEach(func() {
		server.Close()
	})

	JustBeforeEach(func() {
		draft, err = extractor.ExtractReceipt(context.Background(), text, testVocab)
	})

	When("the model returns a valid draft", func() {
		var (
			captured ollamaChatRequest
			raw      map[string]any
		)

		BeforeEach(func() {
			server.AppendHandlers(ghttp.CombineHandlers(
				ghttp.VerifyRequest("POST", "/api/chat"),
				ghttp.VerifyContentType("application/json"),
				func(w http.ResponseWriter, r *http.Request) {
					body, readErr := io.ReadAll(r.Body)
					Expect(readErr).NotTo(HaveOccurred())
					Expect(json.Unmarshal(body, &captured)).To(Succeed())
					Expect(json.Unmarshal(body, &raw)).To(Succeed())
				},
				ghttp.RespondWith(http.StatusOK, chatReply(`{"store":"ローソン","date":"2024-05-01","items":[{"name":"おにぎり","amount":150,"accountTitle":"会議費"}]}`)),
			))
		})

		It("returns the draft", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(draft.Store).To(Equal("ローソン"))
			Expect(draft.Items[0].AccountTitle).To(Equal("会議費"))
		})

		It("sends the schema and the rendered prompt", func() {
			Expect(captured.Model).To(Equal("test-model"))
			Expect(captured.Stream).To(BeFalse())
			Expect(captured.Format).To(HaveKey("properties"))
			Expect(captured.Messages).To(HaveLen(2))
			Expect(captured.Messages[1].Content).To(ContainSubstring("おにぎり 150"))
			Expect(captured.Messages[1].Content).To(ContainSubstring("消耗品費, 旅費交通費, 会議費"))
		})

		It("leaves sampling at the model default so a retry can differ", func() {
			Expect(raw).NotTo(HaveKey("options"))
		})
	})

	When("the OCR text is blank", func() {
		BeforeEach(func() {
			text = "  \n\t "
		})

		It("returns ErrEmptyExtractionInput without calling the server", func() {
			Expect(err).To(MatchError(ErrEmptyExtractionInput))
			Expect(server.ReceivedRequests()).To(BeEmpty())
		})
	})

	When("the model returns prose", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.RespondWith(http.StatusOK, chatReply("Sorry, I can't help with that.")))
		})

		It("returns ErrMalformedResponse", func() {
			Expect(err).To(MatchError(ErrMalformedResponse))
		})
	})

	When("the model omits the items", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.RespondWith(http.StatusOK, chatReply(`{"store":"ローソン","date":"2024-05-01"}`)))
		})

		It("returns ErrIncompleteDraft", func() {
			Expect(err).To(MatchError(ErrIncompleteDraft))
		})
	})

	When("the server fails", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.RespondWith(http.StatusInternalServerError, "model crashed"))
		})

		It("returns ErrUnavailable", func() {
			Expect(err).To(MatchError(ErrUnavailable))
		})
	})

	When("the model does not exist", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.RespondWith(http.StatusNotFound, `{"error":"model not found"}`))
		})

		It("returns ErrRejected", func() {
			Expect(err).To(MatchError(ErrRejected))
		})
	})
})
