package enums

// SettlementStatus is settlements.settlement_status. Only successful
// settlements are ever written; rejected checkouts leave no ledger row.
type SettlementStatus string

const SettlementStatusSuccess SettlementStatus = "SUCCESS"

var settlementStatuses = newSet("settlement status", SettlementStatusSuccess)

func (s SettlementStatus) IsValid() bool { return settlementStatuses.contains(s) }

// PaymentMethod is the funding source recorded on a settlement.
type PaymentMethod string

const PaymentMethodWallet PaymentMethod = "WALLET"

var paymentMethods = newSet("payment method", PaymentMethodWallet)

func (p PaymentMethod) IsValid() bool { return paymentMethods.contains(p) }

// Currency denominates a wallet. Settlement never converts between
// currencies.
type Currency string

const (
	CurrencyINR Currency = "INR"

	DefaultCurrency = CurrencyINR
)

var currencies = newSet("currency", CurrencyINR)

func (c Currency) IsValid() bool { return currencies.contains(c) }

func ParseCurrency(value string) (Currency, error) { return currencies.parse(value) }

// NotificationChannel names a receipt delivery channel.
type NotificationChannel string

const (
	NotificationChannelEmail NotificationChannel = "email"
	NotificationChannelSMS   NotificationChannel = "sms"
)
