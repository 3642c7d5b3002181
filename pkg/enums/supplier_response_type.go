package enums

import "fmt"

// SupplierResponseType is the answer a supplier gives to a broadcast.
type SupplierResponseType string

const (
	SupplierResponseAccept SupplierResponseType = "accept"
	SupplierResponseReject SupplierResponseType = "reject"
)

var validSupplierResponseTypes = []SupplierResponseType{
	SupplierResponseAccept,
	SupplierResponseReject,
}

// IsValid reports whether the value is a known SupplierResponseType.
func (t SupplierResponseType) IsValid() bool {
	for _, candidate := range validSupplierResponseTypes {
		if candidate == t {
			return true
		}
	}
	return false
}

// ParseSupplierResponseType converts raw input into a SupplierResponseType.
func ParseSupplierResponseType(value string) (SupplierResponseType, error) {
	for _, candidate := range validSupplierResponseTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid supplier response type %q", value)
}
