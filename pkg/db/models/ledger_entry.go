package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/stockroom-hq/stockroom-backend/pkg/enums"
)

// LedgerEntry records an immutable credit-affecting event for a
// (buyer, supplier) account. Corrections are new adjustment rows.
type LedgerEntry struct {
	ID         uuid.UUID             `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	BuyerID    uuid.UUID             `gorm:"column:buyer_id;type:uuid;not null;index:idx_ledger_entries_pair"`
	SupplierID uuid.UUID             `gorm:"column:supplier_id;type:uuid;not null;index:idx_ledger_entries_pair"`
	OrderID    *uuid.UUID            `gorm:"column:order_id;type:uuid"`
	EntryType  enums.LedgerEntryType `gorm:"column:entry_type;type:ledger_entry_type_enum;not null"`
	Amount     decimal.Decimal       `gorm:"column:amount;type:numeric(14,2);not null"`
	Memo       *string               `gorm:"column:memo"`
	CreatedAt  time.Time             `gorm:"column:created_at;autoCreateTime"`
}
