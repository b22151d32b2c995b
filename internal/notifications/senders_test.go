package notifications

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/smtp"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/smartpay-pos/smartpay-backend/pkg/config"
)

func sampleReceipt() Receipt {
	return Receipt{
		Reference:  "TXN-0190",
		UserID:     3,
		Name:       "Asha",
		Email:      "asha@example.com",
		Phone:      "98765 43210",
		Amount:     decimal.RequireFromString("60"),
		NewBalance: decimal.RequireFromString("40"),
		Currency:   "INR",
		Lines: []ReceiptLine{{
			Name:      "Milk",
			Brand:     "Amul",
			Quantity:  2,
			UnitPrice: decimal.RequireFromString("30"),
			Subtotal:  decimal.RequireFromString("60"),
		}},
		SettledAt: time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestRenderReceipt(t *testing.T) {
	body := RenderEmailBody("SmartPay", sampleReceipt())
	require.Contains(t, body, "Hi Asha,")
	require.Contains(t, body, "Transaction ID: TXN-0190")
	require.Contains(t, body, "Amul Milk")
	require.Contains(t, body, "Amount paid: Rs.60.00")
	require.Contains(t, body, "Wallet balance: Rs.40.00")

	require.Equal(t, "SmartPay: Payment of Rs.60.00 successful. Txn: TXN-0190", RenderSMS("SmartPay", sampleReceipt()))
	require.Equal(t, "Payment Receipt - SmartPay", EmailSubject("SmartPay"))
}

func TestEmailSender_Send(t *testing.T) {
	cfg := config.NotificationsConfig{SMTPHost: "smtp.example.com", SMTPPort: 587, FromEmail: "receipts@example.com", SMTPUsername: "u", SMTPPassword: "p"}
	sender, err := NewEmailSender(cfg, "SmartPay")
	require.NoError(t, err)

	var gotAddr, gotFrom string
	var gotTo []string
	var gotMsg []byte
	sender.send = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotFrom, gotTo, gotMsg = addr, from, to, msg
		return nil
	}

	require.NoError(t, sender.Send(context.Background(), sampleReceipt()))
	require.Equal(t, "smtp.example.com:587", gotAddr)
	require.Equal(t, "receipts@example.com", gotFrom)
	require.Equal(t, []string{"asha@example.com"}, gotTo)
	require.Contains(t, string(gotMsg), "Subject: Payment Receipt - SmartPay\r\n")
	require.Contains(t, string(gotMsg), "Content-Type: text/plain")

	noEmail := sampleReceipt()
	noEmail.Email = ""
	require.ErrorIs(t, sender.Send(context.Background(), noEmail), ErrNoRecipient)
}

func TestNewEmailSenderRequiresConfig(t *testing.T) {
	_, err := NewEmailSender(config.NotificationsConfig{}, "SmartPay")
	require.Error(t, err)
}

func TestSMSSender_Send(t *testing.T) {
	var got smsRequest
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	sender, err := NewSMSSender(config.NotificationsConfig{SMSGatewayURL: srv.URL, SMSGatewayToken: "tok", SMSSenderID: "SMRTPY"}, "SmartPay", srv.Client())
	require.NoError(t, err)

	require.NoError(t, sender.Send(context.Background(), sampleReceipt()))
	require.Equal(t, "Bearer tok", auth)
	require.Equal(t, "+919876543210", got.To)
	require.Equal(t, "SMRTPY", got.SenderID)
	require.True(t, strings.HasPrefix(got.Message, "SmartPay: Payment of Rs.60.00"))
}

func TestSMSSender_GatewayError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	sender, err := NewSMSSender(config.NotificationsConfig{SMSGatewayURL: srv.URL}, "SmartPay", srv.Client())
	require.NoError(t, err)

	err = sender.Send(context.Background(), sampleReceipt())
	require.Error(t, err)
	require.Contains(t, err.Error(), "429")

	noPhone := sampleReceipt()
	noPhone.Phone = " "
	require.ErrorIs(t, sender.Send(context.Background(), noPhone), ErrNoRecipient)
}

func TestNewSendersFollowsConfig(t *testing.T) {
	senders, err := NewSenders(config.NotificationsConfig{}, "SmartPay", nil)
	require.NoError(t, err)
	require.Empty(t, senders)

	senders, err = NewSenders(config.NotificationsConfig{
		SMTPHost:      "smtp.example.com",
		FromEmail:     "r@example.com",
		SMSGatewayURL: "https://sms.example.com",
	}, "SmartPay", nil)
	require.NoError(t, err)
	require.Len(t, senders, 2)
}

func TestNormalizePhone(t *testing.T) {
	require.Equal(t, "+14155550100", normalizePhone("+1 415-555-0100"))
	require.Equal(t, "+919876543210", normalizePhone("09876543210"))
	require.Equal(t, "", normalizePhone(""))
}
