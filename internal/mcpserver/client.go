package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Config holds the configuration for connecting to the Sentra API.
type Config struct {
	APIURL string // Base URL, e.g. "http://localhost:8080"
	Token  string // Optional bearer token. Without one the API uses its demo sender.
}

// SentraClient is a pure HTTP client for the Sentra API.
type SentraClient struct {
	cfg        Config
	httpClient *http.Client
}

// NewSentraClient creates a new client for the Sentra API.
func NewSentraClient(cfg Config) *SentraClient {
	return &SentraClient{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// apiError represents an error response from the API.
type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// doRequest makes an HTTP request to the API and returns the response body.
func (c *SentraClient) doRequest(ctx context.Context, method, path string, query url.Values, body any) (json.RawMessage, error) {
	u, err := url.Parse(c.cfg.APIURL + path)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var apiErr apiError
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Message != "" {
			return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, apiErr.Message)
		}
		return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, string(respBody))
	}

	return json.RawMessage(respBody), nil
}

// AnalyzePayment scores a payment without starting it.
func (c *SentraClient) AnalyzePayment(ctx context.Context, destination, amount, note string) (json.RawMessage, error) {
	body := map[string]any{
		"destination": destination,
		"amount":      json.Number(amount),
	}
	if note != "" {
		body["note"] = note
	}
	return c.doRequest(ctx, http.MethodPost, "/v1/risk/analyze", nil, body)
}

// ResolveReceiver looks up who owns a destination.
func (c *SentraClient) ResolveReceiver(ctx context.Context, destination string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/v1/receivers/"+url.PathEscape(destination), nil, nil)
}

// StartPayment opens a payment attempt and returns it with its verdict.
func (c *SentraClient) StartPayment(ctx context.Context, destination, amount, note string) (json.RawMessage, error) {
	body := map[string]any{
		"destination": destination,
		"amount":      amount,
	}
	if note != "" {
		body["note"] = note
	}
	return c.doRequest(ctx, http.MethodPost, "/v1/payments/intent", nil, body)
}

// ConfirmPayment confirms an open payment attempt.
func (c *SentraClient) ConfirmPayment(ctx context.Context, paymentID string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodPost, "/v1/payments/"+url.PathEscape(paymentID)+"/confirm", nil, nil)
}

// CancelPayment abandons an open payment attempt.
func (c *SentraClient) CancelPayment(ctx context.Context, paymentID string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodPost, "/v1/payments/"+url.PathEscape(paymentID)+"/cancel", nil, nil)
}

// ReportFraud marks a destination as fraudulent for the caller.
func (c *SentraClient) ReportFraud(ctx context.Context, destination string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodPost, "/v1/fraud-reports", nil, map[string]string{
		"destination": destination,
	})
}

// ListReported returns the destinations the caller has reported.
func (c *SentraClient) ListReported(ctx context.Context) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/v1/fraud-reports", nil, nil)
}

// GetTrustScore returns the caller's trust score.
func (c *SentraClient) GetTrustScore(ctx context.Context) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/v1/trust-score", nil, nil)
}

// ListTransactions returns the newest entries of the caller's ledger.
func (c *SentraClient) ListTransactions(ctx context.Context, limit int) (json.RawMessage, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	return c.doRequest(ctx, http.MethodGet, "/v1/transactions", q, nil)
}
