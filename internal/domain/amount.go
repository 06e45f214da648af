package domain

import (
	"github.com/shopspring/decimal" // Fixed-point money amounts
	"gorm.io/gorm"                  // GORM ORM library
	"gorm.io/gorm/schema"           // Field metadata for column types
)

const (
	AmountScale         = 8  // Digits kept after the decimal point
	AmountIntegerDigits = 12 // Digits allowed before the decimal point
)

var maxAmount = decimal.New(1, AmountIntegerDigits) // Exclusive bound on |amount|

// Amount is a money value stored without rounding on every supported database
type Amount struct {
	decimal.Decimal
}

// NewAmount wraps a decimal value
func NewAmount(d decimal.Decimal) Amount {
	return Amount{Decimal: d}
}

// Fits reports whether d can be stored as an Amount without losing digits
func Fits(d decimal.Decimal) bool {
	return d.Equal(d.Truncate(AmountScale)) && d.Abs().LessThan(maxAmount)
}

// GormDBDataType keeps sqlite amounts as text, where NUMERIC affinity would
// turn them into floats
func (Amount) GormDBDataType(db *gorm.DB, field *schema.Field) string {
	if db.Dialector.Name() == "sqlite" {
		return "text"
	}
	return "decimal(20,8)"
}
