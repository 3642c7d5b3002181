package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CreditAccount holds the credit limit a supplier extends to a buyer.
// The row doubles as the lock target that serializes all mutations for
// the (buyer, supplier) pair; available credit is always derived, never
// stored here.
type CreditAccount struct {
	ID         uuid.UUID       `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	BuyerID    uuid.UUID       `gorm:"column:buyer_id;type:uuid;not null;uniqueIndex:idx_credit_accounts_pair"`
	SupplierID uuid.UUID       `gorm:"column:supplier_id;type:uuid;not null;uniqueIndex:idx_credit_accounts_pair"`
	Limit      decimal.Decimal `gorm:"column:credit_limit;type:numeric(14,2);not null"`
	Blocked    bool            `gorm:"column:blocked;not null;default:false"`
	CreatedAt  time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt  time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}
