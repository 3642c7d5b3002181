package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/stockroom-hq/stockroom-backend/pkg/enums"
)

// OrderStateChange is an append-only record of one order status transition.
// Rows are never edited or deleted.
type OrderStateChange struct {
	ID          uuid.UUID         `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID     uuid.UUID         `gorm:"column:order_id;type:uuid;not null;index;uniqueIndex:idx_order_state_changes_once"`
	FromStatus  enums.OrderStatus `gorm:"column:from_status;type:order_status_enum;not null;uniqueIndex:idx_order_state_changes_once"`
	ToStatus    enums.OrderStatus `gorm:"column:to_status;type:order_status_enum;not null;uniqueIndex:idx_order_state_changes_once"`
	PerformedBy string            `gorm:"column:performed_by;not null"`
	Reason      *string           `gorm:"column:reason"`
	CreatedAt   time.Time         `gorm:"column:created_at;autoCreateTime"`
}
