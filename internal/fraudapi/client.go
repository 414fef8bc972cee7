// Package fraudapi is the HTTP client for the external fraud-scoring and
// identity platform.
//
// Every call presents the caller's bearer credential, taken from the
// context (see auth.WithCredential). All failures are reported as
// ErrUnavailable wrapping the concrete cause, so callers can fall back
// with a single errors.Is check.
package fraudapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sentrapay/sentra/internal/auth"
	"github.com/sentrapay/sentra/internal/traces"
)

var (
	// ErrUnavailable is the remote-unavailable condition.
	ErrUnavailable = errors.New("fraudapi: remote unavailable")
	// ErrNoCredential means the request carried no bearer token to forward.
	ErrNoCredential = errors.New("fraudapi: no credential")
	// ErrMalformed means the platform answered with an unusable body.
	ErrMalformed = errors.New("fraudapi: malformed response")
)

// StatusError is a non-2xx answer from the platform.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("fraudapi: status %d: %s", e.Code, e.Message)
}

// Config configures the client.
type Config struct {
	BaseURL string        // e.g. "https://fraud.example/api"
	Timeout time.Duration // outer bound per request; callers usually set a tighter context deadline
}

// Client talks to the platform over HTTP/JSON.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a Client.
func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// ScoreIntent asks the platform to score a payment intent.
func (c *Client) ScoreIntent(ctx context.Context, req IntentRequest) (*IntentResponse, error) {
	var resp IntentResponse
	if err := c.do(ctx, http.MethodPost, "/payment/intent", req, &resp); err != nil {
		return nil, err
	}
	if !KnownLevel(resp.RiskLevel) {
		return nil, unavailable(fmt.Errorf("%w: unknown risk_level %q", ErrMalformed, resp.RiskLevel))
	}
	if resp.RiskScore != nil && (*resp.RiskScore < 0 || *resp.RiskScore > 1) {
		return nil, unavailable(fmt.Errorf("%w: risk_score %v out of range", ErrMalformed, *resp.RiskScore))
	}
	return &resp, nil
}

// ValidateReceiver looks up a destination's identity.
func (c *Client) ValidateReceiver(ctx context.Context, destination string) (*ReceiverRecord, error) {
	var rec ReceiverRecord
	if err := c.do(ctx, http.MethodGet, "/receiver/validate/"+url.PathEscape(destination), nil, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// ListTransactions fetches the sender's transaction history.
func (c *Client) ListTransactions(ctx context.Context, senderID string) ([]TransactionRecord, error) {
	var recs []TransactionRecord
	if err := c.do(ctx, http.MethodGet, "/user/"+url.PathEscape(senderID)+"/transactions", nil, &recs); err != nil {
		return nil, err
	}
	return recs, nil
}

// ConfirmPayment tells the platform the user acknowledged (or cancelled)
// a scored payment.
func (c *Client) ConfirmPayment(ctx context.Context, req ConfirmRequest) (*ConfirmResponse, error) {
	var resp ConfirmResponse
	if err := c.do(ctx, http.MethodPost, "/payment/confirm", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) (err error) {
	ctx, span := traces.StartSpan(ctx, "fraudapi "+method+" "+routeOf(path))
	defer func() {
		traces.Fail(span, err)
		span.End()
	}()

	token := auth.CredentialFrom(ctx)
	if token == "" {
		return unavailable(ErrNoCredential)
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("fraudapi: marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return unavailable(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return unavailable(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return unavailable(fmt.Errorf("read response: %w", err))
	}

	if resp.StatusCode >= 300 {
		return unavailable(&StatusError{Code: resp.StatusCode, Message: errorMessage(respBody)})
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return unavailable(fmt.Errorf("%w: %v", ErrMalformed, err))
	}
	return nil
}

// errorMessage extracts a message from {"message"}, {"error"} or FastAPI's
// {"detail"} bodies.
func errorMessage(body []byte) string {
	var e struct {
		Message string `json:"message"`
		Error   string `json:"error"`
		Detail  any    `json:"detail"`
	}
	if json.Unmarshal(body, &e) == nil {
		switch {
		case e.Message != "":
			return e.Message
		case e.Error != "":
			return e.Error
		case e.Detail != nil:
			return fmt.Sprint(e.Detail)
		}
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return msg
}

// routeOf strips identifiers so span names stay low-cardinality.
func routeOf(path string) string {
	switch {
	case strings.HasPrefix(path, "/receiver/validate/"):
		return "/receiver/validate/{id}"
	case strings.HasPrefix(path, "/user/"):
		return "/user/{id}/transactions"
	}
	return path
}

func unavailable(cause error) error {
	return fmt.Errorf("%w: %w", ErrUnavailable, cause)
}

// Reason classifies a failure for metrics and logs.
func Reason(err error) string {
	var se *StatusError
	var ne net.Error
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNoCredential):
		return "no_credential"
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &ne) && ne.Timeout():
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	case errors.As(err, &se):
		return "status"
	case errors.Is(err, ErrMalformed):
		return "decode"
	default:
		return "transport"
	}
}

// Retryable reports whether a failed call may succeed on retry. Missing
// credentials, undecodable bodies and 4xx answers other than 429 will not.
func Retryable(err error) bool {
	if errors.Is(err, ErrNoCredential) || errors.Is(err, ErrMalformed) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code >= http.StatusInternalServerError || se.Code == http.StatusTooManyRequests
	}
	return true
}
