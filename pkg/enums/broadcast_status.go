package enums

import "fmt"

// BroadcastStatus tracks the lifecycle of a routing broadcast.
type BroadcastStatus string

const (
	BroadcastStatusPending BroadcastStatus = "pending"
	BroadcastStatusLocked  BroadcastStatus = "locked"
	BroadcastStatusExpired BroadcastStatus = "expired"
)

var validBroadcastStatuses = []BroadcastStatus{
	BroadcastStatusPending,
	BroadcastStatusLocked,
	BroadcastStatusExpired,
}

// String implements fmt.Stringer.
func (s BroadcastStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is a known BroadcastStatus.
func (s BroadcastStatus) IsValid() bool {
	for _, candidate := range validBroadcastStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseBroadcastStatus converts raw input into a BroadcastStatus.
func ParseBroadcastStatus(value string) (BroadcastStatus, error) {
	for _, candidate := range validBroadcastStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid broadcast status %q", value)
}
