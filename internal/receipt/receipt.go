package receipt

import (
	"time"

	"github.com/google/uuid"
)

// Risk levels assigned to line items
const (
	RiskLow    = "Low"
	RiskMedium = "Medium"
	RiskHigh   = "High"
)

// Receipt represents a persisted expense record
type Receipt struct {
	ID                 string     `json:"id"`
	Store              string     `json:"store"`
	Date               string     `json:"date"` // As printed on the receipt; not normalized
	Total              int        `json:"total"`
	Address            string     `json:"address,omitempty"`
	Tel                string     `json:"tel,omitempty"`
	PaymentMethod      string     `json:"paymentMethod,omitempty"`
	RegistrationNumber string     `json:"registrationNumber,omitempty"`
	CreditAccount      string     `json:"creditAccount,omitempty"`
	OriginalFileName   string     `json:"originalFileName,omitempty"`
	SourceJobID        string     `json:"sourceJobId,omitempty"`
	Items              []LineItem `json:"items"`
	CreatedAt          time.Time  `json:"createdAt"`
	UpdatedAt          time.Time  `json:"updatedAt"`
}

// LineItem is one purchased item on a receipt
type LineItem struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Amount       int    `json:"amount"`
	IsTaxReturn  bool   `json:"isTaxReturn"`
	Category     string `json:"category,omitempty"`
	AICategory   string `json:"aiCategory,omitempty"`
	AIRisk       string `json:"aiRisk"`
	Memo         string `json:"memo,omitempty"`
	TaxType      string `json:"taxType,omitempty"`
	AccountTitle string `json:"accountTitle,omitempty"`
}

// RecalculateTotal sets Total to the sum of the item amounts
func (r *Receipt) RecalculateTotal() {
	total := 0
	for _, item := range r.Items {
		total += item.Amount
	}
	r.Total = total
}

// NormalizeRisk maps unknown or empty risk values to RiskLow
func NormalizeRisk(risk string) string {
	switch risk {
	case RiskLow, RiskMedium, RiskHigh:
		return risk
	default:
		return RiskLow
	}
}

// IDGenerator generates unique IDs for jobs, receipts and line items
type IDGenerator interface {
	JobID() string
	ReceiptID() string
	LineItemID() string
}

// UUIDGenerator produces uuid job ids, "receipt-<uuid>" and "transaction-<uuid>"
type UUIDGenerator struct{}

func (UUIDGenerator) JobID() string      { return uuid.NewString() }
func (UUIDGenerator) ReceiptID() string  { return "receipt-" + uuid.NewString() }
func (UUIDGenerator) LineItemID() string { return "transaction-" + uuid.NewString() }

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

// SystemClock provides the current time
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }
