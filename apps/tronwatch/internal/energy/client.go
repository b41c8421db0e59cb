// Package energy rents TRON energy from the kuaizu.io vendor.
package energy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	DefaultBaseURL = "https://api.kuaizu.io"

	RentAmount  = 65000
	RentMinutes = 15

	codeSuccess = 1
)

// RejectedError is returned when the vendor answers but refuses the request.
type RejectedError struct {
	Code int
	Msg  string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("vendor rejected request: code=%d msg=%s", e.Code, e.Msg)
}

type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *zap.Logger
}

func NewClient(baseURL, apiKey string, logger *zap.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
	}
}

type envelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

type rentRequest struct {
	APIKey         string `json:"apiKey"`
	ResType        string `json:"resType"`
	PayNums        int    `json:"payNums"`
	RentTime       int    `json:"rentTime"`
	ReceiveAddress string `json:"receiveAddress"`
}

// Rent delegates RentAmount energy for RentMinutes to receiver and returns the delegation transaction hash.
func (c *Client) Rent(ctx context.Context, receiver string) (string, error) {
	req := rentRequest{
		APIKey:         c.apiKey,
		ResType:        "ENERGY",
		PayNums:        RentAmount,
		RentTime:       RentMinutes,
		ReceiveAddress: receiver,
	}

	var data struct {
		Hash string `json:"hash"`
	}
	if err := c.call(ctx, "/api/rent", req, &data); err != nil {
		return "", err
	}

	c.logger.Info("Rented energy", zap.String("receiver", receiver), zap.String("hash", data.Hash))
	return data.Hash, nil
}

// Balance returns the vendor account balance.
func (c *Client) Balance(ctx context.Context) (decimal.Decimal, error) {
	var data struct {
		Balance decimal.Decimal `json:"balance"`
	}
	if err := c.call(ctx, "/api/balance", map[string]string{"apiKey": c.apiKey}, &data); err != nil {
		return decimal.Zero, err
	}
	return data.Balance, nil
}

func (c *Client) call(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("vendor request %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("vendor %s returned status %d", path, resp.StatusCode)
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("failed to decode vendor response: %w", err)
	}
	if env.Code != codeSuccess {
		return &RejectedError{Code: env.Code, Msg: env.Msg}
	}
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("failed to decode vendor data: %w", err)
		}
	}
	return nil
}
