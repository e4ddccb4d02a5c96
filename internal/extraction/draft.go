package extraction

import (
	"fmt"
	"strings"
)

// Draft is the typed result of structured extraction, before ids and totals are assigned
type Draft struct {
	Store              string      `json:"store"`
	Date               string      `json:"date"`
	Total              *int        `json:"total,omitempty"`
	Address            string      `json:"address,omitempty"`
	Tel                string      `json:"tel,omitempty"`
	PaymentMethod      string      `json:"paymentMethod,omitempty"`
	RegistrationNumber string      `json:"registrationNumber,omitempty"`
	CreditAccount      string      `json:"creditAccount,omitempty"`
	Items              []DraftItem `json:"items"`
}

// DraftItem is one extracted line item
type DraftItem struct {
	Name         string `json:"name"`
	Amount       *int   `json:"amount"`
	IsTaxReturn  bool   `json:"isTaxReturn,omitempty"`
	Category     string `json:"category,omitempty"`
	AICategory   string `json:"aiCategory,omitempty"`
	AIRisk       string `json:"aiRisk,omitempty"`
	Memo         string `json:"memo,omitempty"`
	TaxType      string `json:"taxType,omitempty"`
	AccountTitle string `json:"accountTitle,omitempty"`
}

// Validate checks the fields every receipt needs
func (d *Draft) Validate() error {
	if strings.TrimSpace(d.Store) == "" {
		return fmt.Errorf("%w: store is missing", ErrIncompleteDraft)
	}
	if strings.TrimSpace(d.Date) == "" {
		return fmt.Errorf("%w: date is missing", ErrIncompleteDraft)
	}
	if len(d.Items) == 0 {
		return fmt.Errorf("%w: no items", ErrIncompleteDraft)
	}
	for i, item := range d.Items {
		if strings.TrimSpace(item.Name) == "" {
			return fmt.Errorf("%w: item %d has no name", ErrIncompleteDraft, i)
		}
		if item.Amount == nil {
			return fmt.Errorf("%w: item %d has no amount", ErrIncompleteDraft, i)
		}
	}
	return nil
}

// ItemsTotal sums the item amounts
func (d *Draft) ItemsTotal() int {
	total := 0
	for _, item := range d.Items {
		if item.Amount != nil {
			total += *item.Amount
		}
	}
	return total
}

// Constrain clears account titles and categories outside vocab and returns
// a description of each cleared value
func (d *Draft) Constrain(vocab Vocabulary) []string {
	var cleared []string
	for i := range d.Items {
		item := &d.Items[i]
		if item.AccountTitle != "" && !vocab.AllowsAccountTitle(item.AccountTitle) {
			cleared = append(cleared, fmt.Sprintf("items[%d].accountTitle=%q", i, item.AccountTitle))
			item.AccountTitle = ""
		}
		if item.Category != "" && !vocab.AllowsCategory(item.Category) {
			cleared = append(cleared, fmt.Sprintf("items[%d].category=%q", i, item.Category))
			item.Category = ""
		}
		if item.AICategory != "" && !vocab.AllowsCategory(item.AICategory) {
			cleared = append(cleared, fmt.Sprintf("items[%d].aiCategory=%q", i, item.AICategory))
			item.AICategory = ""
		}
	}
	return cleared
}
