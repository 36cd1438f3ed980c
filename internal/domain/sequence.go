package domain

import "fmt"

const InvoiceCounter = "invoices"

type SequenceCounter struct {
	Name  string `gorm:"primaryKey;type:varchar(64)"`
	Value int64  `gorm:"not null;default:0"`
}

func (SequenceCounter) TableName() string { return "sequence_counters" }

// FormatInvoiceNumber renders a counter value as a zero-padded invoice number.
func FormatInvoiceNumber(n int64) string {
	return fmt.Sprintf("%06d", n)
}
