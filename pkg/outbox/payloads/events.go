package payloads

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/stockroom-hq/stockroom-backend/pkg/enums"
)

// OrderTransitionedEvent is emitted after every committed status change.
type OrderTransitionedEvent struct {
	OrderID        uuid.UUID         `json:"order_id"`
	BuyerID        uuid.UUID         `json:"buyer_id"`
	FromStatus     enums.OrderStatus `json:"from_status"`
	ToStatus       enums.OrderStatus `json:"to_status"`
	PerformedBy    string            `json:"performed_by"`
	Reason         string            `json:"reason,omitempty"`
	TransitionedAt time.Time         `json:"transitioned_at"`
}

// ReservationDeclinedEvent reports a reserve attempt that was refused.
type ReservationDeclinedEvent struct {
	OrderID    uuid.UUID       `json:"order_id"`
	BuyerID    uuid.UUID       `json:"buyer_id"`
	SupplierID uuid.UUID       `json:"supplier_id"`
	Requested  decimal.Decimal `json:"requested"`
	Available  decimal.Decimal `json:"available"`
	Reason     string          `json:"reason"`
}

// ReservationReleasedEvent is emitted when a hold is returned to the buyer.
type ReservationReleasedEvent struct {
	ReservationID uuid.UUID       `json:"reservation_id"`
	OrderID       uuid.UUID       `json:"order_id"`
	BuyerID       uuid.UUID       `json:"buyer_id"`
	SupplierID    uuid.UUID       `json:"supplier_id"`
	Amount        decimal.Decimal `json:"amount"`
	ReleasedAt    time.Time       `json:"released_at"`
}

// ReservationConvertedEvent is emitted when a hold becomes a settled debit.
type ReservationConvertedEvent struct {
	ReservationID uuid.UUID       `json:"reservation_id"`
	OrderID       uuid.UUID       `json:"order_id"`
	BuyerID       uuid.UUID       `json:"buyer_id"`
	SupplierID    uuid.UUID       `json:"supplier_id"`
	Amount        decimal.Decimal `json:"amount"`
	ConvertedAt   time.Time       `json:"converted_at"`
}

// WinnerLockedEvent announces which supplier won a routing broadcast.
type WinnerLockedEvent struct {
	BroadcastID uuid.UUID `json:"broadcast_id"`
	OrderID     uuid.UUID `json:"order_id"`
	SupplierID  uuid.UUID `json:"supplier_id"`
	LockedAt    time.Time `json:"locked_at"`
}

// CancellationRecordedEvent tells a losing supplier their acceptance did not win.
type CancellationRecordedEvent struct {
	BroadcastID uuid.UUID `json:"broadcast_id"`
	OrderID     uuid.UUID `json:"order_id"`
	SupplierID  uuid.UUID `json:"supplier_id"`
	Reason      string    `json:"reason"`
}

// BroadcastExpiredEvent is emitted when a broadcast passes its deadline unlocked.
type BroadcastExpiredEvent struct {
	BroadcastID   uuid.UUID `json:"broadcast_id"`
	OrderID       uuid.UUID `json:"order_id"`
	ExpiredAt     time.Time `json:"expired_at"`
	Rebroadcast   bool      `json:"rebroadcast"`
	ResponseCount int       `json:"response_count"`
}

// AccountBlockChangedEvent reports a manual block or unblock on a credit account.
type AccountBlockChangedEvent struct {
	AccountID  uuid.UUID `json:"account_id"`
	BuyerID    uuid.UUID `json:"buyer_id"`
	SupplierID uuid.UUID `json:"supplier_id"`
	Blocked    bool      `json:"blocked"`
	ChangedAt  time.Time `json:"changed_at"`
}

// AdjustmentRecordedEvent reports a manual ledger correction.
type AdjustmentRecordedEvent struct {
	EntryID    uuid.UUID       `json:"entry_id"`
	BuyerID    uuid.UUID       `json:"buyer_id"`
	SupplierID uuid.UUID       `json:"supplier_id"`
	Amount     decimal.Decimal `json:"amount"`
	Memo       string          `json:"memo,omitempty"`
}
