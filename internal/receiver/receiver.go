// Package receiver resolves payment destinations to an identity record.
//
// Resolution never fails: when the platform cannot be reached, does not
// know the destination, or the identifier is malformed, the result is the
// unknown-receiver sentinel (unverified, reputation 0.5).
package receiver

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sentrapay/sentra/internal/fraudapi"
	"github.com/sentrapay/sentra/internal/logging"
	"github.com/sentrapay/sentra/internal/metrics"
	"github.com/sentrapay/sentra/internal/validation"
)

// UnknownName is the display name of the sentinel record.
const UnknownName = "Unknown Receiver"

// DefaultReputation is the reputation assumed when none is known.
const DefaultReputation = 0.5

// ErrEmptyDestination is returned for an empty identifier.
var ErrEmptyDestination = errors.New("receiver: destination is required")

// Info is what is known about a destination.
type Info struct {
	Destination    string  `json:"destination"`
	Name           string  `json:"name"`
	Bank           string  `json:"bank,omitempty"`
	Verified       bool    `json:"verified"`
	Reputation     float64 `json:"reputation"`
	IsMerchant     bool    `json:"isMerchant"`
	AccountAgeDays int     `json:"accountAgeDays"`
	FraudReports   int     `json:"fraudReports"`
}

// Unknown returns the sentinel record for destination.
func Unknown(destination string) Info {
	return Info{Destination: destination, Name: UnknownName, Reputation: DefaultReputation}
}

// IsUnknown reports whether i is the sentinel.
func (i Info) IsUnknown() bool {
	return !i.Verified && i.Name == UnknownName
}

// Lookup is the remote identity lookup.
type Lookup interface {
	ValidateReceiver(ctx context.Context, destination string) (*fraudapi.ReceiverRecord, error)
}

// Verifier resolves destinations through a Lookup with a bounded wait.
type Verifier struct {
	lookup  Lookup
	timeout time.Duration
	logger  *slog.Logger
}

// NewVerifier creates a Verifier. A nil lookup resolves everything to the
// sentinel and a nil logger discards output.
func NewVerifier(lookup Lookup, timeout time.Duration, logger *slog.Logger) *Verifier {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Verifier{lookup: lookup, timeout: timeout, logger: logger}
}

// Resolve returns the identity record for destination. The only error is
// ErrEmptyDestination.
func (v *Verifier) Resolve(ctx context.Context, destination string) (Info, error) {
	dest := validation.NormalizeDestination(destination)
	if dest == "" {
		return Info{}, ErrEmptyDestination
	}
	if !validation.IsValidHandle(dest) || v.lookup == nil {
		return Unknown(dest), nil
	}

	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	rec, err := v.lookup.ValidateReceiver(ctx, dest)
	if err != nil {
		metrics.ReceiverLookupFailures.Inc()
		v.logger.Warn("receiver lookup failed, using unknown receiver",
			"destination", dest, "reason", fraudapi.Reason(err), "error", err)
		return Unknown(dest), nil
	}
	if !rec.Found() {
		return Unknown(dest), nil
	}
	return fromRecord(dest, rec), nil
}

func fromRecord(dest string, rec *fraudapi.ReceiverRecord) Info {
	info := Info{
		Destination: dest,
		Name:        *rec.Name,
		Verified:    rec.Verified,
		Reputation:  DefaultReputation,
	}
	if rec.Bank != nil {
		info.Bank = *rec.Bank
	}
	if rec.ReputationScore != nil {
		info.Reputation = clamp01(*rec.ReputationScore)
	}
	if md := rec.Metadata; md != nil {
		info.IsMerchant = md.IsMerchant
		info.AccountAgeDays = md.AccountAgeDays
		info.FraudReports = md.FraudReports
	}
	return info
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
