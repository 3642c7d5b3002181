package enums

import "fmt"

// OutboxAggregateType maps to the aggregate_type enum in Postgres.
type OutboxAggregateType string

const (
	AggregateOrder         OutboxAggregateType = "order"
	AggregateCreditAccount OutboxAggregateType = "credit_account"
	AggregateReservation   OutboxAggregateType = "credit_reservation"
	AggregateBroadcast     OutboxAggregateType = "routing_broadcast"
)

var validAggregateTypes = []OutboxAggregateType{
	AggregateOrder,
	AggregateCreditAccount,
	AggregateReservation,
	AggregateBroadcast,
}

// IsValid reports whether the value matches the canonical aggregate_type enum.
func (a OutboxAggregateType) IsValid() bool {
	for _, candidate := range validAggregateTypes {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseOutboxAggregateType converts raw input into OutboxAggregateType.
func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	for _, candidate := range validAggregateTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid aggregate type %q", value)
}

// OutboxEventType maps to the event_type enum in Postgres.
type OutboxEventType string

const (
	EventOrderTransitioned    OutboxEventType = "order_transitioned"
	EventReservationDeclined  OutboxEventType = "reservation_declined"
	EventReservationReleased  OutboxEventType = "reservation_released"
	EventReservationConverted OutboxEventType = "reservation_converted"
	EventWinnerLocked         OutboxEventType = "winner_locked"
	EventCancellationRecorded OutboxEventType = "cancellation_recorded"
	EventBroadcastExpired     OutboxEventType = "broadcast_expired"
	EventAccountBlockChanged  OutboxEventType = "account_block_changed"
	EventAdjustmentRecorded   OutboxEventType = "adjustment_recorded"
)

var validOutboxEventTypes = []OutboxEventType{
	EventOrderTransitioned,
	EventReservationDeclined,
	EventReservationReleased,
	EventReservationConverted,
	EventWinnerLocked,
	EventCancellationRecorded,
	EventBroadcastExpired,
	EventAccountBlockChanged,
	EventAdjustmentRecorded,
}

// IsValid reports whether the value matches the canonical event_type enum.
func (e OutboxEventType) IsValid() bool {
	for _, candidate := range validOutboxEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	for _, candidate := range validOutboxEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event type %q", value)
}
