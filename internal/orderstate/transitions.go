package orderstate

import "github.com/stockroom-hq/stockroom-backend/pkg/enums"

// allowedNext is the full lifecycle graph keyed by current status. Cancellation
// is handled separately because it is reachable from every non-terminal state.
var allowedNext = map[enums.OrderStatus][]enums.OrderStatus{
	enums.OrderStatusCreated:        {enums.OrderStatusValidated},
	enums.OrderStatusValidated:      {enums.OrderStatusCreditReserved, enums.OrderStatusFailed},
	enums.OrderStatusCreditReserved: {enums.OrderStatusPendingBids, enums.OrderStatusFailed},
	enums.OrderStatusPendingBids:    {enums.OrderStatusVendorAccepted, enums.OrderStatusFailed},
	enums.OrderStatusVendorAccepted: {enums.OrderStatusOutForDelivery, enums.OrderStatusFailed},
	enums.OrderStatusOutForDelivery: {enums.OrderStatusDelivered, enums.OrderStatusFailed},
}

// CanTransition reports whether the lifecycle graph permits moving from one
// status to another. Terminal states permit nothing.
func CanTransition(from, to enums.OrderStatus) bool {
	if from.IsTerminal() {
		return false
	}
	if to == enums.OrderStatusCancelled {
		return true
	}
	for _, candidate := range allowedNext[from] {
		if candidate == to {
			return true
		}
	}
	return false
}
