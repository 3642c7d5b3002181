package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/stockroom-hq/stockroom-backend/pkg/enums"
)

// Order is the buyer-facing order coordinated by the fulfillment core.
// Status is mutated only through the order state tracker.
type Order struct {
	ID         uuid.UUID          `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	BuyerID    uuid.UUID          `gorm:"column:buyer_id;type:uuid;not null"`
	SupplierID *uuid.UUID         `gorm:"column:supplier_id;type:uuid"`
	Category   string             `gorm:"column:category;not null"`
	Amount     decimal.Decimal    `gorm:"column:amount;type:numeric(14,2);not null"`
	Status     enums.OrderStatus  `gorm:"column:status;type:order_status_enum;not null;default:'created'"`
	History    []OrderStateChange `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	CreatedAt  time.Time          `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt  time.Time          `gorm:"column:updated_at;autoUpdateTime"`
}
