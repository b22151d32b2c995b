package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/smartpay-pos/smartpay-backend/pkg/config"
	"github.com/smartpay-pos/smartpay-backend/pkg/enums"
)

// SMSSender posts receipts to an HTTP SMS gateway as JSON.
type SMSSender struct {
	url       string
	token     string
	senderID  string
	storeName string
	client    *http.Client
}

type smsRequest struct {
	To       string `json:"to"`
	SenderID string `json:"sender_id"`
	Message  string `json:"message"`
}

// NewSMSSender builds a gateway sender. A nil client uses http.DefaultClient;
// per-send deadlines come from the dispatcher context.
func NewSMSSender(cfg config.NotificationsConfig, storeName string, client *http.Client) (*SMSSender, error) {
	if !cfg.SMSEnabled() {
		return nil, fmt.Errorf("sms gateway url is required")
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &SMSSender{
		url:       cfg.SMSGatewayURL,
		token:     cfg.SMSGatewayToken,
		senderID:  cfg.SMSSenderID,
		storeName: storeName,
		client:    client,
	}, nil
}

func (s *SMSSender) Channel() enums.NotificationChannel {
	return enums.NotificationChannelSMS
}

func (s *SMSSender) Send(ctx context.Context, receipt Receipt) error {
	to := normalizePhone(receipt.Phone)
	if to == "" {
		return ErrNoRecipient
	}
	body, err := json.Marshal(smsRequest{
		To:       to,
		SenderID: s.senderID,
		Message:  RenderSMS(s.storeName, receipt),
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("sms gateway: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("sms gateway status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// normalizePhone defaults bare ten-digit numbers to the +91 country code.
func normalizePhone(phone string) string {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return ""
	}
	phone = strings.NewReplacer(" ", "", "-", "").Replace(phone)
	if strings.HasPrefix(phone, "+") {
		return phone
	}
	return "+91" + strings.TrimPrefix(phone, "0")
}

// NewSenders builds every channel sender the configuration enables.
func NewSenders(cfg config.NotificationsConfig, storeName string, client *http.Client) ([]Sender, error) {
	var senders []Sender
	if cfg.EmailEnabled() {
		email, err := NewEmailSender(cfg, storeName)
		if err != nil {
			return nil, err
		}
		senders = append(senders, email)
	}
	if cfg.SMSEnabled() {
		sms, err := NewSMSSender(cfg, storeName, client)
		if err != nil {
			return nil, err
		}
		senders = append(senders, sms)
	}
	return senders, nil
}
