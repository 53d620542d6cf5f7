// Package notify sends customer emails through an HTTP mail relay.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/dappfactory/orderflow/internal/app/domain/order"
	"github.com/dappfactory/orderflow/pkg/logger"
)

// Config holds the relay endpoint and sender identity.
type Config struct {
	Endpoint string
	APIKey   string
	From     string
	Timeout  time.Duration
}

// Mailer posts messages to the relay. Orders without a contact email are
// skipped silently; email is best effort throughout the lifecycle.
type Mailer struct {
	cfg    Config
	client *http.Client
	log    *logger.Logger
}

type message struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// NewMailer constructs a mailer. A nil client gets a timeout-bounded
// default.
func NewMailer(cfg Config, client *http.Client, log *logger.Logger) *Mailer {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	if log == nil {
		log = logger.NewDefault("notify")
	}
	return &Mailer{cfg: cfg, client: client, log: log}
}

// SendPaymentConfirmation emails the payment receipt.
func (m *Mailer) SendPaymentConfirmation(ctx context.Context, o order.Order) error {
	body := fmt.Sprintf(
		"Payment received for %s.\n\nOrder %s\nAmount: %.4f SOL\n\nGeneration has started; we will email you when your project is ready.\n",
		o.Spec.Name, o.ID, float64(o.Payment.Amount)/float64(order.LamportsPerSOL))
	return m.send(ctx, o, "Payment confirmed: "+o.Spec.Name, body)
}

// SendCompletion emails the download link details.
func (m *Mailer) SendCompletion(ctx context.Context, o order.Order) error {
	if o.Download == nil {
		return fmt.Errorf("order %s has no download", o.ID)
	}
	body := fmt.Sprintf(
		"Your project %s is ready.\n\nOrder %s\nDownload token: %s\nExpires: %s\nDownloads allowed: %d\n",
		o.Spec.Name, o.ID, o.Download.Token,
		o.Download.ExpiresAt.Format(time.RFC1123), o.Download.MaxDownloads)
	return m.send(ctx, o, "Your project is ready: "+o.Spec.Name, body)
}

func (m *Mailer) send(ctx context.Context, o order.Order, subject, body string) error {
	if o.Spec.ContactEmail == "" {
		m.log.WithField("order_id", o.ID).Debug("no contact email, skipping notification")
		return nil
	}

	payload, err := json.Marshal(message{
		From:    m.cfg.From,
		To:      o.Spec.ContactEmail,
		Subject: subject,
		Body:    body,
	})
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.cfg.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build mail request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if m.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+m.cfg.APIKey)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("send mail: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("mail relay returned %d", resp.StatusCode)
	}
	m.log.WithField("order_id", o.ID).WithField("subject", subject).Debug("notification sent")
	return nil
}
