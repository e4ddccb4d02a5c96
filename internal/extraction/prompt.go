package extraction

import (
	"fmt"
	"os"
	"strings"
)

// systemInstruction frames every generation request
const systemInstruction = "You are a helpful assistant that extracts receipt information from OCR text and returns structured JSON data."

// DefaultPromptTemplate is the Japanese receipt prompt. {accountTitles},
// {categories} and {ocrText} are substituted per request.
const DefaultPromptTemplate = `あなたはレシートOCR結果から構造化されたレシートデータを生成するAIアシスタントです。

OCRで抽出されたテキストから、以下の情報を抽出してJSON形式で返してください：

- 店舗名（store）
- 日付（date）
- 合計金額（total）
- 住所（address、任意）
- 電話番号（tel、任意）
- 支払い方法（paymentMethod、任意）
- 登録番号（registrationNumber、任意）
- 貸方科目（creditAccount、任意）
- 明細項目（items）のリスト

各明細項目には以下を含めてください：
- 商品名（name）
- 金額（amount）
- 税込還元フラグ（isTaxReturn）
- カテゴリ（category、以下のリストから選択）
- AIカテゴリ（aiCategory、以下のリストから選択）
- AIリスク（aiRisk、"Low"、"Medium"、"High"のいずれか）
- メモ（memo、任意）
- 税率（taxType、"10%"、"8%"、"0%"のいずれか）
- 勘定科目（accountTitle、以下のリストから選択）

利用可能な勘定科目リスト：
{accountTitles}

利用可能なカテゴリリスト：
{categories}

OCR結果テキスト：
{ocrText}

上記のOCR結果から情報を抽出し、指定された形式でJSONを返してください。
勘定科目とカテゴリは、提供されたリストの中から最も適切なものを選択してください。
リストにない値は使用しないでください。`

// Prompt renders the user prompt for a request
type Prompt struct {
	template string
}

// NewPrompt creates a Prompt; an empty template selects DefaultPromptTemplate
func NewPrompt(template string) *Prompt {
	if strings.TrimSpace(template) == "" {
		template = DefaultPromptTemplate
	}
	return &Prompt{template: template}
}

// LoadPrompt reads a template from path
func LoadPrompt(path string) (*Prompt, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading prompt template: %w", err)
	}
	return NewPrompt(string(b)), nil
}

// Render substitutes the OCR text and vocabulary into the template
func (p *Prompt) Render(text string, vocab Vocabulary) string {
	return strings.NewReplacer(
		"{accountTitles}", strings.Join(vocab.AccountTitles, ", "),
		"{categories}", strings.Join(vocab.Categories, ", "),
		"{ocrText}", text,
	).Replace(p.template)
}
