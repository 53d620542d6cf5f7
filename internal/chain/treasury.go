package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dappfactory/orderflow/pkg/logger"
)

// TreasurySigner issues reversing transfers from the treasury account
// through a signing endpoint. The treasury key never enters this process;
// the signer service holds it and exposes a single transfer operation.
type TreasurySigner struct {
	client   *http.Client
	endpoint *url.URL
	apiKey   string
	log      *logger.Logger
}

// NewTreasurySigner constructs a signer client for the given endpoint.
func NewTreasurySigner(client *http.Client, endpoint, apiKey string, log *logger.Logger) (*TreasurySigner, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("treasury signer endpoint required")
	}
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse signer endpoint: %w", err)
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if log == nil {
		log = logger.NewDefault("treasury-signer")
	}
	return &TreasurySigner{
		client:   client,
		endpoint: parsed,
		apiKey:   strings.TrimSpace(apiKey),
		log:      log,
	}, nil
}

// IssueRefund requests a signed transfer of the given lamport amount back
// to the recipient and returns the resulting transaction signature.
func (t *TreasurySigner) IssueRefund(ctx context.Context, recipient string, lamports int64, memo string) (string, error) {
	payload := struct {
		Recipient string `json:"recipient"`
		Lamports  int64  `json:"lamports"`
		Memo      string `json:"memo,omitempty"`
	}{Recipient: recipient, Lamports: lamports, Memo: memo}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal transfer request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint.String(), bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build transfer request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if t.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+t.apiKey)
	}

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("transfer request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("treasury signer status %d", resp.StatusCode)
	}

	var result struct {
		Signature string `json:"signature"`
		Error     string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode transfer response: %w", err)
	}
	if result.Error != "" {
		return "", fmt.Errorf("treasury signer: %s", result.Error)
	}
	if result.Signature == "" {
		return "", fmt.Errorf("treasury signer returned no signature")
	}

	t.log.WithField("recipient", recipient).
		WithField("lamports", lamports).
		Info("treasury refund issued")
	return result.Signature, nil
}
