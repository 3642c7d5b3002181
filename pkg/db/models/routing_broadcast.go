package models

import (
	"time"

	"github.com/google/uuid"

	dbtypes "github.com/stockroom-hq/stockroom-backend/pkg/db/types"
	"github.com/stockroom-hq/stockroom-backend/pkg/enums"
)

// RoutingBroadcast is one routing round offering an order to a set of
// eligible suppliers. LockedSupplierID is write-once: it moves from null
// to the winning supplier exactly once and is never overwritten.
type RoutingBroadcast struct {
	ID                uuid.UUID             `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID           uuid.UUID             `gorm:"column:order_id;type:uuid;not null;uniqueIndex:idx_routing_broadcasts_order"`
	BuyerID           uuid.UUID             `gorm:"column:buyer_id;type:uuid;not null"`
	Category          string                `gorm:"column:category;not null"`
	Status            enums.BroadcastStatus `gorm:"column:status;type:broadcast_status_enum;not null;default:'pending'"`
	EligibleSuppliers dbtypes.UUIDArray     `gorm:"column:eligible_suppliers;type:uuid[];not null"`
	LockedSupplierID  *uuid.UUID            `gorm:"column:locked_supplier_id;type:uuid"`
	Attempt           int                   `gorm:"column:attempt;not null;default:1"`
	Responses         []SupplierResponse    `gorm:"foreignKey:BroadcastID;constraint:OnDelete:CASCADE"`
	ExpiresAt         time.Time             `gorm:"column:expires_at;not null"`
	CreatedAt         time.Time             `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time             `gorm:"column:updated_at;autoUpdateTime"`
}

// IsEligible reports whether the supplier belongs to the broadcast set.
func (b *RoutingBroadcast) IsEligible(supplierID uuid.UUID) bool {
	for _, candidate := range b.EligibleSuppliers {
		if candidate == supplierID {
			return true
		}
	}
	return false
}
