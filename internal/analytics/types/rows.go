package types

import (
	"math/big"
	"time"

	cbigquery "cloud.google.com/go/bigquery"
)

// SettlementFactRow mirrors the settlement_facts BigQuery schema.
type SettlementFactRow struct {
	EventID      string             `bigquery:"event_id"`
	Reference    string             `bigquery:"reference"`
	UserID       int64              `bigquery:"user_id"`
	CartID       int64              `bigquery:"cart_id"`
	TotalAmount  *big.Rat           `bigquery:"total_amount"`
	BalanceAfter *big.Rat           `bigquery:"balance_after"`
	Currency     string             `bigquery:"currency"`
	ItemCount    int64              `bigquery:"item_count"`
	SettledAt    time.Time          `bigquery:"settled_at"`
	IngestedAt   time.Time          `bigquery:"ingested_at"`
	Payload      cbigquery.NullJSON `bigquery:"payload"`
}

// SettlementLineFactRow mirrors the settlement_line_facts BigQuery schema.
type SettlementLineFactRow struct {
	EventID     string    `bigquery:"event_id"`
	Reference   string    `bigquery:"reference"`
	LineNo      int64     `bigquery:"line_no"`
	ProductID   int64     `bigquery:"product_id"`
	ProductName string    `bigquery:"product_name"`
	Quantity    int64     `bigquery:"quantity"`
	UnitPrice   *big.Rat  `bigquery:"unit_price"`
	Subtotal    *big.Rat  `bigquery:"subtotal"`
	SettledAt   time.Time `bigquery:"settled_at"`
}
