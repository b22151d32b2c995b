package payloads

import "time"

// SettlementCompletedEvent is published once per committed settlement.
type SettlementCompletedEvent struct {
	Reference    string               `json:"reference"`
	UserID       int64                `json:"user_id"`
	CartID       int64                `json:"cart_id"`
	TotalAmount  string               `json:"total_amount"`
	BalanceAfter string               `json:"balance_after"`
	Currency     string               `json:"currency"`
	ItemCount    int                  `json:"item_count"`
	Lines        []SettlementLineItem `json:"lines"`
	SettledAt    time.Time            `json:"settled_at"`
}

// SettlementLineItem is one purchased product inside the event.
type SettlementLineItem struct {
	ProductID int64  `json:"product_id"`
	Name      string `json:"name"`
	Quantity  int    `json:"quantity"`
	UnitPrice string `json:"unit_price"`
	Subtotal  string `json:"subtotal"`
}
