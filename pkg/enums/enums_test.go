package enums

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseOutboxTypes(t *testing.T) {
	eventType, err := ParseOutboxEventType("settlement_completed")
	require.NoError(t, err)
	require.Equal(t, EventSettlementCompleted, eventType)

	_, err = ParseOutboxEventType("SETTLEMENT_COMPLETED")
	require.EqualError(t, err, `invalid event type "SETTLEMENT_COMPLETED"`)

	aggregate, err := ParseOutboxAggregateType("wallet")
	require.NoError(t, err)
	require.Equal(t, AggregateWallet, aggregate)

	_, err = ParseOutboxAggregateType("")
	require.Error(t, err)
}

func TestIsValid(t *testing.T) {
	require.True(t, SettlementStatusSuccess.IsValid())
	require.False(t, SettlementStatus("FAILED").IsValid())
	require.True(t, PaymentMethodWallet.IsValid())
	require.True(t, OutboxDLQReasonMaxAttempts.IsValid())
	require.False(t, OutboxDLQErrorReason("timeout").IsValid())
	require.True(t, DefaultCurrency.IsValid())

	c, err := ParseCurrency("INR")
	require.NoError(t, err)
	require.Equal(t, CurrencyINR, c)
	_, err = ParseCurrency("USD")
	require.Error(t, err)
}
