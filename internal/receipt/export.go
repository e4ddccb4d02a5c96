package receipt

import (
	"bytes"
	"fmt"

	"github.com/xuri/excelize/v2"
)

const (
	receiptsSheet = "Receipts"
	itemsSheet    = "Items"
)

var (
	receiptHeaders = []string{"Receipt ID", "Store", "Date", "Total", "Payment Method", "Registration Number", "Credit Account", "Original File", "Created At"}
	itemHeaders    = []string{"Receipt ID", "Store", "Date", "Item", "Amount", "Account Title", "Category", "AI Category", "AI Risk", "Tax Type", "Tax Return", "Memo"}
)

// ExportXLSX writes receipts and their line items to a workbook with one sheet each
func ExportXLSX(receipts []*Receipt) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", receiptsSheet); err != nil {
		return nil, fmt.Errorf("naming sheet: %w", err)
	}
	if _, err := f.NewSheet(itemsSheet); err != nil {
		return nil, fmt.Errorf("creating sheet: %w", err)
	}

	writeRow := func(sheet string, row int, values []any) error {
		for i, v := range values {
			cell, err := excelize.CoordinatesToCellName(i+1, row)
			if err != nil {
				return err
			}
			if err := f.SetCellValue(sheet, cell, v); err != nil {
				return err
			}
		}
		return nil
	}
	headerRow := func(headers []string) []any {
		out := make([]any, len(headers))
		for i, h := range headers {
			out[i] = h
		}
		return out
	}

	if err := writeRow(receiptsSheet, 1, headerRow(receiptHeaders)); err != nil {
		return nil, fmt.Errorf("writing header: %w", err)
	}
	if err := writeRow(itemsSheet, 1, headerRow(itemHeaders)); err != nil {
		return nil, fmt.Errorf("writing header: %w", err)
	}

	itemRow := 2
	for i, r := range receipts {
		err := writeRow(receiptsSheet, i+2, []any{
			r.ID, r.Store, r.Date, r.Total, r.PaymentMethod, r.RegistrationNumber, r.CreditAccount,
			r.OriginalFileName, r.CreatedAt.Format("2006-01-02 15:04:05"),
		})
		if err != nil {
			return nil, fmt.Errorf("writing receipt %s: %w", r.ID, err)
		}
		for _, item := range r.Items {
			err := writeRow(itemsSheet, itemRow, []any{
				r.ID, r.Store, r.Date, item.Name, item.Amount, item.AccountTitle, item.Category,
				item.AICategory, item.AIRisk, item.TaxType, item.IsTaxReturn, item.Memo,
			})
			if err != nil {
				return nil, fmt.Errorf("writing item %s: %w", item.ID, err)
			}
			itemRow++
		}
	}

	_ = f.SetColWidth(receiptsSheet, "A", "A", 46)
	_ = f.SetColWidth(receiptsSheet, "B", "B", 24)
	_ = f.SetColWidth(itemsSheet, "A", "A", 46)
	_ = f.SetColWidth(itemsSheet, "D", "D", 28)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("writing workbook: %w", err)
	}
	return bytes.Clone(buf.Bytes()), nil
}
