package fraudapi

import (
	"encoding/json"
	"strings"
)

// IntentRequest is the body of POST /payment/intent.
type IntentRequest struct {
	Amount   float64 `json:"amount"`
	Receiver string  `json:"receiver"`
	Note     string  `json:"note,omitempty"`
	DeviceID string  `json:"device_id,omitempty"`
}

// Analysis is one dimension of the platform's breakdown. Score is on a
// 0-100 scale.
type Analysis struct {
	Score  *float64 `json:"score"`
	Weight float64  `json:"weight,omitempty"`
	Status string   `json:"status,omitempty"`
}

// Breakdown carries the per-dimension analyses. Any of them may be absent.
type Breakdown struct {
	Behavior *Analysis `json:"behavior_analysis,omitempty"`
	Amount   *Analysis `json:"amount_analysis,omitempty"`
	Receiver *Analysis `json:"receiver_analysis,omitempty"`
}

// MissingScore is the normalized value used for an absent breakdown entry.
const MissingScore = 0.5

// Scores returns the breakdown normalized to [0,1]. Missing entries,
// including a nil Breakdown, read as MissingScore.
func (b *Breakdown) Scores() (behavior, amount, receiver float64) {
	if b == nil {
		return MissingScore, MissingScore, MissingScore
	}
	return b.Behavior.normalized(), b.Amount.normalized(), b.Receiver.normalized()
}

func (a *Analysis) normalized() float64 {
	if a == nil || a.Score == nil {
		return MissingScore
	}
	s := *a.Score / 100
	switch {
	case s < 0:
		return 0
	case s > 1:
		return 1
	}
	return s
}

// Factor is a human-readable risk factor. The platform sends either plain
// strings or objects such as {"factor": "...", "severity": "..."}.
type Factor string

// UnmarshalJSON accepts a string or an object with a factor, description,
// message or reason field, in that order of preference.
func (f *Factor) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = Factor(s)
		return nil
	}
	var obj map[string]any
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	for _, key := range []string{"factor", "description", "message", "reason"} {
		if v, ok := obj[key].(string); ok && v != "" {
			*f = Factor(v)
			return nil
		}
	}
	*f = ""
	return nil
}

// IntentResponse is the body returned by POST /payment/intent.
type IntentResponse struct {
	TransactionID string     `json:"transaction_id"`
	RiskScore     *float64   `json:"risk_score"`
	RiskLevel     string     `json:"risk_level"`
	Action        string     `json:"action"`
	RiskFactors   []Factor   `json:"risk_factors"`
	Breakdown     *Breakdown `json:"risk_breakdown,omitempty"`
	Message       string     `json:"message,omitempty"`
}

// Blocks reports whether the platform decided to block the payment.
func (r *IntentResponse) Blocks() bool {
	return strings.EqualFold(r.Action, ActionBlock)
}

// Remote risk levels.
const (
	LevelLow      = "LOW"
	LevelModerate = "MODERATE"
	LevelMedium   = "MEDIUM"
	LevelHigh     = "HIGH"
	LevelVeryHigh = "VERY_HIGH"
)

// Remote actions.
const (
	ActionAllow = "ALLOW"
	ActionWarn  = "WARN"
	ActionBlock = "BLOCK"
)

// KnownLevel reports whether level is one the platform documents.
func KnownLevel(level string) bool {
	switch strings.ToUpper(level) {
	case LevelLow, LevelModerate, LevelMedium, LevelHigh, LevelVeryHigh:
		return true
	}
	return false
}

// ReceiverMetadata is optional detail about a receiver.
type ReceiverMetadata struct {
	IsMerchant     bool   `json:"is_merchant"`
	AccountAgeDays int    `json:"account_age_days"`
	FraudReports   int    `json:"fraud_reports"`
	LastChecked    string `json:"last_checked,omitempty"`
}

// ReceiverRecord is the body of GET /receiver/validate/{id}.
type ReceiverRecord struct {
	Status          string            `json:"status"`
	VPA             string            `json:"vpa"`
	UPIID           string            `json:"upi_id,omitempty"`
	Name            *string           `json:"name"`
	Bank            *string           `json:"bank"`
	Verified        bool              `json:"verified"`
	ReputationScore *float64          `json:"reputation_score"`
	Metadata        *ReceiverMetadata `json:"metadata,omitempty"`
	Error           string            `json:"error,omitempty"`
}

// Found reports whether the platform knows the receiver.
func (r *ReceiverRecord) Found() bool {
	return strings.EqualFold(r.Status, "success") && r.Name != nil && *r.Name != ""
}

// TransactionRecord is one entry of GET /user/{id}/transactions.
// Timestamps are ISO-8601, with or without an offset.
type TransactionRecord struct {
	TransactionID string   `json:"transaction_id"`
	Receiver      string   `json:"receiver"`
	Amount        float64  `json:"amount"`
	Status        string   `json:"status"`
	RiskScore     *float64 `json:"risk_score"`
	RiskLevel     string   `json:"risk_level"`
	Timestamp     string   `json:"timestamp"`
}

// Transaction statuses.
const (
	StatusCompleted = "COMPLETED"
	StatusBlocked   = "BLOCKED"
	StatusCancelled = "CANCELLED"
)

// ConfirmRequest is the body of POST /payment/confirm.
type ConfirmRequest struct {
	TransactionID    string `json:"transaction_id"`
	UserAcknowledged bool   `json:"user_acknowledged"`
}

// ConfirmResponse is the body returned by POST /payment/confirm.
type ConfirmResponse struct {
	TransactionID string `json:"transaction_id"`
	Status        string `json:"status"`
	Message       string `json:"message,omitempty"`
	Timestamp     string `json:"timestamp,omitempty"`
}
