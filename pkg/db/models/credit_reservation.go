package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/stockroom-hq/stockroom-backend/pkg/enums"
)

// CreditReservation is a hold against available credit for one order.
// The unique order id constraint guarantees at most one reservation per
// order for the lifetime of the system.
type CreditReservation struct {
	ID         uuid.UUID               `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID    uuid.UUID               `gorm:"column:order_id;type:uuid;not null;uniqueIndex:idx_credit_reservations_order"`
	BuyerID    uuid.UUID               `gorm:"column:buyer_id;type:uuid;not null"`
	SupplierID uuid.UUID               `gorm:"column:supplier_id;type:uuid;not null"`
	Amount     decimal.Decimal         `gorm:"column:amount;type:numeric(14,2);not null"`
	Status     enums.ReservationStatus `gorm:"column:status;type:reservation_status_enum;not null;default:'active'"`
	CreatedAt  time.Time               `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt  time.Time               `gorm:"column:updated_at;autoUpdateTime"`
}
