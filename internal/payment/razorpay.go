package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// RazorpayClient is a Gateway backed by the Razorpay REST API.
type RazorpayClient struct {
	keyID     string
	keySecret string
	baseURL   string
	http      *http.Client
	logger    *zap.Logger
}

// NewRazorpayClient creates a Razorpay client. baseURL is normally
// https://api.razorpay.com/v1.
func NewRazorpayClient(keyID, keySecret, baseURL string, logger *zap.Logger) *RazorpayClient {
	return &RazorpayClient{
		keyID:     keyID,
		keySecret: keySecret,
		baseURL:   strings.TrimRight(baseURL, "/"),
		http:      &http.Client{Timeout: 10 * time.Second},
		logger:    logger,
	}
}

func (c *RazorpayClient) Name() string { return "razorpay" }

// CreateOrder creates a remote order for amountMinor.
func (c *RazorpayClient) CreateOrder(ctx context.Context, amountMinor int64, currency, receipt string) (*Order, error) {
	body := map[string]interface{}{
		"amount":   amountMinor,
		"currency": currency,
		"receipt":  receipt,
	}

	var order Order
	if err := c.do(ctx, http.MethodPost, "/orders", body, &order); err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}

	c.logger.Info("Gateway order created",
		zap.String("order_id", order.ID),
		zap.String("receipt", receipt),
		zap.Int64("amount", amountMinor))
	return &order, nil
}

// VerifySignature checks the checkout signature with the key secret.
func (c *RazorpayClient) VerifySignature(orderID, paymentID, signature string) bool {
	return Verify(c.keySecret, orderID, paymentID, signature)
}

// Refund refunds amountMinor of a captured payment.
func (c *RazorpayClient) Refund(ctx context.Context, paymentID string, amountMinor int64) (string, error) {
	var out struct {
		ID string `json:"id"`
	}
	path := fmt.Sprintf("/payments/%s/refund", paymentID)
	if err := c.do(ctx, http.MethodPost, path, map[string]interface{}{"amount": amountMinor}, &out); err != nil {
		return "", fmt.Errorf("refund payment %s: %w", paymentID, err)
	}
	return out.ID, nil
}

func (c *RazorpayClient) do(ctx context.Context, method, path string, in, out interface{}) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.SetBasicAuth(c.keyID, c.keySecret)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 300 {
		var apiErr struct {
			Error struct {
				Code        string `json:"code"`
				Description string `json:"description"`
			} `json:"error"`
		}
		_ = json.Unmarshal(respBody, &apiErr)
		return fmt.Errorf("gateway returned %d: %s %s", resp.StatusCode, apiErr.Error.Code, apiErr.Error.Description)
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
