package notifications

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Receipt is everything a channel needs to tell a shopper their checkout
// went through. It is built from committed data only.
type Receipt struct {
	Reference  string
	UserID     int64
	Name       string
	Email      string
	Phone      string
	Amount     decimal.Decimal
	NewBalance decimal.Decimal
	Currency   string
	Lines      []ReceiptLine
	SettledAt  time.Time
}

// ReceiptLine is one purchased product.
type ReceiptLine struct {
	Name      string
	Brand     string
	Quantity  int
	UnitPrice decimal.Decimal
	Subtotal  decimal.Decimal
}

func currencySymbol(code string) string {
	switch strings.ToUpper(code) {
	case "", "INR":
		return "Rs."
	default:
		return strings.ToUpper(code) + " "
	}
}

func formatMoney(currency string, amount decimal.Decimal) string {
	return currencySymbol(currency) + amount.StringFixed(2)
}

// EmailSubject is the receipt email subject line.
func EmailSubject(storeName string) string {
	return "Payment Receipt - " + storeName
}

// RenderEmailBody renders the plain-text receipt email.
func RenderEmailBody(storeName string, r Receipt) string {
	var b strings.Builder
	name := r.Name
	if name == "" {
		name = "there"
	}
	fmt.Fprintf(&b, "Hi %s,\r\n\r\n", name)
	fmt.Fprintf(&b, "Thank you for shopping at %s. Your payment was successful.\r\n\r\n", storeName)
	fmt.Fprintf(&b, "Transaction ID: %s\r\n", r.Reference)
	fmt.Fprintf(&b, "Date: %s\r\n\r\n", r.SettledAt.UTC().Format("02 Jan 2006 15:04 MST"))
	for _, line := range r.Lines {
		label := line.Name
		if line.Brand != "" {
			label = line.Brand + " " + line.Name
		}
		fmt.Fprintf(&b, "  %-32s %3d x %10s = %10s\r\n",
			label, line.Quantity, line.UnitPrice.StringFixed(2), line.Subtotal.StringFixed(2))
	}
	fmt.Fprintf(&b, "\r\nAmount paid: %s\r\n", formatMoney(r.Currency, r.Amount))
	fmt.Fprintf(&b, "Wallet balance: %s\r\n\r\n", formatMoney(r.Currency, r.NewBalance))
	b.WriteString("The amount has been debited from your wallet.\r\n")
	return b.String()
}

// RenderSMS renders the short receipt text message.
func RenderSMS(storeName string, r Receipt) string {
	return fmt.Sprintf("%s: Payment of %s successful. Txn: %s", storeName, formatMoney(r.Currency, r.Amount), r.Reference)
}
