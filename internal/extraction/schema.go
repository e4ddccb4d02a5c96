package extraction

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// riskLevels and taxTypes are fixed by the receipt model
var (
	riskLevels = []string{"Low", "Medium", "High"}
	taxTypes   = []string{"10%", "8%", "0%"}
)

// BuildDraftSchema returns the JSON schema the model is asked to follow.
// accountTitle, category and aiCategory are enums of the supplied vocabulary.
func BuildDraftSchema(vocab Vocabulary) map[string]any {
	str := func(desc string) map[string]any {
		return map[string]any{"type": "string", "description": desc}
	}
	enum := func(desc string, values []string) map[string]any {
		s := str(desc)
		if len(values) > 0 {
			s["enum"] = values
		}
		return s
	}

	item := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"name":         str("商品名"),
			"amount":       map[string]any{"type": "integer", "description": "金額"},
			"isTaxReturn":  map[string]any{"type": "boolean", "description": "税込還元フラグ"},
			"category":     enum("カテゴリ", vocab.Categories),
			"aiCategory":   enum("AIカテゴリ", vocab.Categories),
			"aiRisk":       enum("AIリスク", riskLevels),
			"memo":         str("メモ（任意）"),
			"taxType":      enum("税率", taxTypes),
			"accountTitle": enum("勘定科目", vocab.AccountTitles),
		},
		"required": []string{"name", "amount"},
	}

	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"store":              str("店舗名"),
			"date":               str("日付"),
			"total":              map[string]any{"type": "integer", "description": "合計金額"},
			"address":            str("住所（任意）"),
			"tel":                str("電話番号（任意）"),
			"paymentMethod":      str("支払い方法（任意）"),
			"registrationNumber": str("登録番号（任意）"),
			"creditAccount":      str("貸方科目（任意）"),
			"items":              map[string]any{"type": "array", "items": item},
		},
		"required": []string{"store", "date", "items"},
	}
}

// responseShapeSchema checks types only. Missing fields are reported by
// Draft.Validate and out-of-vocabulary values by Draft.Constrain.
const responseShapeSchema = `{
  "type": "object",
  "properties": {
    "store": {"type": ["string", "null"]},
    "date": {"type": ["string", "null"]},
    "total": {"type": ["integer", "null"]},
    "address": {"type": ["string", "null"]},
    "tel": {"type": ["string", "null"]},
    "paymentMethod": {"type": ["string", "null"]},
    "registrationNumber": {"type": ["string", "null"]},
    "creditAccount": {"type": ["string", "null"]},
    "items": {
      "type": ["array", "null"],
      "items": {
        "type": "object",
        "properties": {
          "name": {"type": ["string", "null"]},
          "amount": {"type": ["integer", "null"]},
          "isTaxReturn": {"type": ["boolean", "null"]},
          "category": {"type": ["string", "null"]},
          "aiCategory": {"type": ["string", "null"]},
          "aiRisk": {"type": ["string", "null"]},
          "memo": {"type": ["string", "null"]},
          "taxType": {"type": ["string", "null"]},
          "accountTitle": {"type": ["string", "null"]}
        }
      }
    }
  }
}`

var responseShape = jsonschema.MustCompileString("draft-response.json", responseShapeSchema)

// validateShape decodes data with json.Number so integer checks are exact
func validateShape(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	if err := responseShape.Validate(v); err != nil {
		return fmt.Errorf("response does not match schema: %w", err)
	}
	return nil
}
