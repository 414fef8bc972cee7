// Package risk scores outgoing payments.
//
// A Coordinator runs an ordered list of strategies for every payment: a
// denylist check for destinations the sender has reported, the remote
// fraud-scoring platform, and the on-device-equivalent local Analyzer. The
// first strategy to produce a result wins; the local analyzer never fails,
// so a verdict is always returned for valid input. Scores range from 0.0
// (safe) to 1.0 (high risk).
package risk

import (
	"context"
	"math"
	"time"

	"github.com/sentrapay/sentra/internal/pagination"
	"github.com/sentrapay/sentra/internal/receiver"
)

// Category is the coarse risk bucket derived from a score.
type Category string

const (
	CategoryLow    Category = "LOW"
	CategoryMedium Category = "MEDIUM"
	CategoryHigh   Category = "HIGH"
)

// Category thresholds.
const (
	HighThreshold   = 0.7
	MediumThreshold = 0.4
)

// CategoryFor buckets a score.
func CategoryFor(score float64) Category {
	switch {
	case score >= HighThreshold:
		return CategoryHigh
	case score >= MediumThreshold:
		return CategoryMedium
	default:
		return CategoryLow
	}
}

// Provenance says which path produced a result.
type Provenance string

const (
	ProvenanceRemote Provenance = "remote"
	ProvenanceLocal  Provenance = "local"
)

// Decision is what the payment flow should do with a verdict.
type Decision string

const (
	DecisionAllow Decision = "allow"
	DecisionWarn  Decision = "warn"
	DecisionBlock Decision = "block"
)

// Result is a risk verdict. Blocked is only ever set by the remote
// platform or by the sender's own fraud report, never from the category.
type Result struct {
	Score         float64  `json:"score"`
	Category      Category `json:"category"`
	Factors       []string `json:"factors"`
	Blocked       bool     `json:"blocked"`
	BehaviorScore float64  `json:"behaviorScore"`
	AmountScore   float64  `json:"amountScore"`
	ReceiverScore float64  `json:"receiverScore"`
	TransactionID string   `json:"transactionId,omitempty"`
}

// Decision maps the result onto allow/warn/block.
func (r Result) Decision() Decision {
	switch {
	case r.Blocked:
		return DecisionBlock
	case r.Category == CategoryLow:
		return DecisionAllow
	default:
		return DecisionWarn
	}
}

// Fallback records a strategy that failed before the winning one.
type Fallback struct {
	Strategy string `json:"strategy"`
	Reason   string `json:"reason"`
	Error    string `json:"error"`
}

// Verdict is the outcome of one analysis: the result plus where it came
// from.
type Verdict struct {
	ID          string         `json:"id"`
	SenderID    string         `json:"senderId"`
	Destination string         `json:"destination"`
	Amount      float64        `json:"amount"`
	Result      Result         `json:"result"`
	Decision    Decision       `json:"decision"`
	Provenance  Provenance     `json:"provenance"`
	Strategy    string         `json:"strategy"`
	Receiver    *receiver.Info `json:"receiver,omitempty"`
	Fallbacks   []Fallback     `json:"fallbacks,omitempty"`
	EvaluatedAt time.Time      `json:"evaluatedAt"`
}

// ListOption configures optional parameters for list queries.
type ListOption func(*listOpts)

type listOpts struct {
	cursor *pagination.Cursor
}

func applyListOpts(opts []ListOption) listOpts {
	var o listOpts
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// WithCursor restricts results to verdicts older than the cursor position.
func WithCursor(c *pagination.Cursor) ListOption {
	return func(o *listOpts) {
		o.cursor = c
	}
}

// Store persists verdicts as an audit trail.
type Store interface {
	Record(ctx context.Context, v *Verdict) error
	// ListBySender returns verdicts newest first.
	ListBySender(ctx context.Context, senderID string, limit int, opts ...ListOption) ([]*Verdict, error)
}

// clamp01 bounds v to [0,1]. NaN is treated as maximal risk.
func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 1
	}
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
