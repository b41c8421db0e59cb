// Package test holds black-box checks against a running tronwatch server.
package test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"os"
	"testing"
	"time"
)

const (
	// Test subscriber
	TestUserID = 424242

	// Test addresses (valid base58check, not real wallets)
	TestWatchedAddress  = "TBXSw8fM4jpQkGc6zZjsVABFpVN7UvXPdV"
	TestWatchedHex      = "411111111111111111111111111111111111111111"
	TestReceiverAddress = "TD5gsCwxykWsLN9aPrq2TAfNjByuZKYp4E"

	// USDT contract, always activated on mainnet
	MainnetUSDTContract = "TR7NHqjeKQxGTCi8q8ZY4pL8otSzgjLj6t"
)

// baseURL returns the server under test, skipping when none is configured.
func baseURL(t *testing.T) string {
	t.Helper()
	url := os.Getenv("TRONWATCH_BASE_URL")
	if url == "" {
		t.Skip("TRONWATCH_BASE_URL not set")
	}
	return url
}

var client = &http.Client{Timeout: 30 * time.Second}

func doJSON(t *testing.T, method, url string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("Failed to marshal request: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("Failed to build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Failed to make %s request: %v", method, err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
}

// OrderResponse mirrors the order payload returned by the API
type OrderResponse struct {
	OrderID        string         `json:"order_id"`
	UserID         int64          `json:"user_id"`
	OrderType      string         `json:"order_type"`
	Status         string         `json:"status"`
	Currency       string         `json:"currency"`
	ExpectedAmount string         `json:"expected_amount"`
	Details        map[string]any `json:"details"`
	ExpiresAt      time.Time      `json:"expires_at"`
	Reused         bool           `json:"reused"`
}

type SubscriptionResponse struct {
	UserID           int64  `json:"user_id"`
	Address          string `json:"address"`
	Nickname         string `json:"nickname"`
	NotifyOnIncoming bool   `json:"notify_on_incoming"`
	NotifyOnOutgoing bool   `json:"notify_on_outgoing"`
	NotifyTRX        bool   `json:"notify_trx"`
	NotifyUSDT       bool   `json:"notify_usdt"`
	Created          bool   `json:"created"`
}

// ErrorResponse represents the API error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}
