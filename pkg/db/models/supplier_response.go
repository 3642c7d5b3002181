package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/stockroom-hq/stockroom-backend/pkg/enums"
)

// SupplierResponse is one supplier's answer to a broadcast. The unique
// (broadcast, supplier) constraint lets a supplier respond exactly once.
type SupplierResponse struct {
	ID           uuid.UUID                  `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	BroadcastID  uuid.UUID                  `gorm:"column:broadcast_id;type:uuid;not null;uniqueIndex:idx_supplier_responses_once"`
	SupplierID   uuid.UUID                  `gorm:"column:supplier_id;type:uuid;not null;uniqueIndex:idx_supplier_responses_once"`
	ResponseType enums.SupplierResponseType `gorm:"column:response_type;type:supplier_response_type_enum;not null"`
	RespondedAt  time.Time                  `gorm:"column:responded_at;autoCreateTime"`
}
