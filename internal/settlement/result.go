package settlement

import (
	"time"

	"github.com/shopspring/decimal"
)

// StatusSuccess is the only status a returned Result carries.
const StatusSuccess = "success"

// Result is what a caller learns about a committed settlement.
type Result struct {
	Reference  string
	Status     string
	Amount     decimal.Decimal
	NewBalance decimal.Decimal
	Currency   string
	ItemCount  int
	Timestamp  time.Time
}
