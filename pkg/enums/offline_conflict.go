package enums

import "fmt"

// ConflictType classifies why a queued mutation could not be applied.
type ConflictType string

const (
	ConflictPrice    ConflictType = "PRICE"
	ConflictQuantity ConflictType = "QUANTITY"
	ConflictTax      ConflictType = "TAX"
	ConflictUnknown  ConflictType = "UNKNOWN"
)

// IsValid reports whether the value is a known conflict type.
func (t ConflictType) IsValid() bool {
	switch t {
	case ConflictPrice, ConflictQuantity, ConflictTax, ConflictUnknown:
		return true
	}
	return false
}

// ConflictStatus tracks operator adjudication of a conflict record.
type ConflictStatus string

const (
	ConflictStatusOpen      ConflictStatus = "OPEN"
	ConflictStatusResolved  ConflictStatus = "RESOLVED"
	ConflictStatusEscalated ConflictStatus = "ESCALATED"
)

var validConflictStatuses = []ConflictStatus{
	ConflictStatusOpen,
	ConflictStatusResolved,
	ConflictStatusEscalated,
}

// IsValid reports whether the value is a known conflict status.
func (s ConflictStatus) IsValid() bool {
	for _, candidate := range validConflictStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseConflictStatus converts raw input into ConflictStatus.
func ParseConflictStatus(value string) (ConflictStatus, error) {
	for _, candidate := range validConflictStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid conflict status %q", value)
}

// Resolvable reports whether an operator may still approve the conflict.
// Escalated conflicts stay open for mutation purposes.
func (s ConflictStatus) Resolvable() bool {
	return s == ConflictStatusOpen || s == ConflictStatusEscalated
}
