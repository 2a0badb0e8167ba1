package models

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// PaymentStatus is the canonical store-local status. It is deliberately
// coarser than the API-side status set: the gateway only cares whether an
// order can still be fulfilled.
type PaymentStatus string

const (
	StatusPending   PaymentStatus = "pending"
	StatusCompleted PaymentStatus = "completed"
	StatusFailed    PaymentStatus = "failed"
)

// Terminal reports whether no further status writes are allowed.
func (s PaymentStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// PaymentRecord is the one row kept per order. InvoiceID is the destination
// assigned by the Payment API at creation time and never changes; OrderID
// is unique so a retried checkout replaces the row instead of duplicating it.
type PaymentRecord struct {
	ID        uint            `gorm:"primaryKey"`
	OrderID   uint            `gorm:"uniqueIndex;not null"`
	InvoiceID string          `gorm:"size:255;index;not null"`
	Amount    decimal.Decimal `gorm:"type:decimal(16,8);not null"`
	Currency  string          `gorm:"size:10;not null"`
	Status    PaymentStatus   `gorm:"size:20;not null"`
	Metadata  string          `gorm:"type:text"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (PaymentRecord) TableName() string {
	return "breez_payments"
}

// PaymentMetadata is the free-form payload serialized into the metadata
// column: everything the thank-you page and the sweeper need that is not a
// first-class column.
type PaymentMetadata struct {
	PaymentMethod string          `json:"payment_method"` // LIGHTNING or BITCOIN_ADDRESS
	ExchangeRate  decimal.Decimal `json:"exchange_rate"`
	AmountSat     int64           `json:"amount_sat"`
	FeesSat       int64           `json:"fees_sat,omitempty"`
	ExpiresAt     int64           `json:"expires_at"` // unix seconds
}

// Expired reports whether the client-side payment window has passed. A zero
// ExpiresAt means no window was recorded and the payment never expires here.
func (m PaymentMetadata) Expired(now time.Time) bool {
	return m.ExpiresAt > 0 && now.Unix() > m.ExpiresAt
}

// EncodeMetadata serializes metadata for the text column.
func EncodeMetadata(m PaymentMetadata) (string, error) {
	data, err := json.Marshal(m)
	return string(data), err
}

// DecodeMetadata parses the metadata column. An empty column yields the
// zero value rather than an error, matching rows written before a field
// existed.
func DecodeMetadata(raw string) (PaymentMetadata, error) {
	var m PaymentMetadata
	if raw == "" {
		return m, nil
	}
	err := json.Unmarshal([]byte(raw), &m)
	return m, err
}

// AutoMigrate creates the payments table.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&PaymentRecord{})
}
