package ledger

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sentrapay/sentra/internal/fraudapi"
	"github.com/sentrapay/sentra/internal/risk"
)

// Timestamp layouts accepted from the platform. Layouts without a zone
// are read as UTC.
var recordLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05",
}

// ToRecord encodes tx in the platform's history format.
func ToRecord(tx Transaction) fraudapi.TransactionRecord {
	score := tx.RiskScore
	status := fraudapi.StatusCompleted
	if tx.Blocked {
		status = fraudapi.StatusBlocked
	}
	return fraudapi.TransactionRecord{
		TransactionID: tx.ID,
		Receiver:      tx.Recipient,
		Amount:        tx.Amount.InexactFloat64(),
		Status:        status,
		RiskScore:     &score,
		RiskLevel:     string(tx.RiskCategory),
		Timestamp:     tx.Timestamp.Format(time.RFC3339Nano),
	}
}

// FromRecord decodes a platform history record. Timestamps are normalized
// to UTC and the category follows the same rule as live verdicts: see
// risk.PlatformScore.
func FromRecord(rec fraudapi.TransactionRecord) (Transaction, error) {
	if rec.TransactionID == "" {
		return Transaction{}, fmt.Errorf("%w: missing transaction_id", ErrMalformedRecord)
	}
	ts, err := parseTimestamp(rec.Timestamp)
	if err != nil {
		return Transaction{}, fmt.Errorf("%w: %s: %v", ErrMalformedRecord, rec.TransactionID, err)
	}

	score, _ := risk.PlatformScore(rec.RiskScore, rec.RiskLevel)
	if !(score >= 0 && score <= 1) {
		return Transaction{}, fmt.Errorf("%w: %s: risk score %v out of range", ErrMalformedRecord, rec.TransactionID, score)
	}

	tx := Transaction{
		ID:           rec.TransactionID,
		Recipient:    strings.ToLower(strings.TrimSpace(rec.Receiver)),
		Amount:       decimal.NewFromFloat(rec.Amount),
		Timestamp:    ts,
		RiskScore:    score,
		RiskCategory: risk.CategoryFor(score),
		Blocked:      strings.EqualFold(rec.Status, fraudapi.StatusBlocked),
	}
	if err := tx.Validate(); err != nil {
		return Transaction{}, fmt.Errorf("%w: %s: %v", ErrMalformedRecord, rec.TransactionID, err)
	}
	return tx, nil
}

func parseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("missing timestamp")
	}
	for _, layout := range recordLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}
