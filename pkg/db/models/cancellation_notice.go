package models

import (
	"time"

	"github.com/google/uuid"
)

// CancellationNotice records that a non-winning supplier should be told
// the order went elsewhere. Notification delivery happens downstream;
// this core only records the fact.
type CancellationNotice struct {
	ID          uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	BroadcastID uuid.UUID `gorm:"column:broadcast_id;type:uuid;not null;uniqueIndex:idx_cancellation_notices_once"`
	SupplierID  uuid.UUID `gorm:"column:supplier_id;type:uuid;not null;uniqueIndex:idx_cancellation_notices_once"`
	Reason      string    `gorm:"column:reason;not null"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
}
