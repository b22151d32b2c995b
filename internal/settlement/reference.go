package settlement

import (
	"github.com/google/uuid"
)

// ReferencePrefix starts every settlement reference.
const ReferencePrefix = "TXN-"

// ReferenceGenerator issues unique settlement references.
type ReferenceGenerator interface {
	NewReference() (string, error)
}

// UUIDv7References issues "TXN-" + UUIDv7 references: time-ordered with a
// random tail, so two settlements in the same millisecond still differ.
type UUIDv7References struct{}

func (UUIDv7References) NewReference() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return ReferencePrefix + id.String(), nil
}
