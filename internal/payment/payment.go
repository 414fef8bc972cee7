// Package payment drives one payment attempt from destination entry to
// confirmation.
//
// Flow:
//  1. Sender enters a destination and amount → receiver resolved
//  2. Risk analyzed → attempt allowed, warned or blocked
//  3. Sender confirms (allowed/warned only) → transaction appended to the ledger
//  4. Sender cancels → nothing recorded
//  5. Sender reports the destination → open attempts to it are blocked
//  6. Abandoned attempts expire
package payment

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sentrapay/sentra/internal/receiver"
	"github.com/sentrapay/sentra/internal/risk"
	"github.com/sentrapay/sentra/internal/validation"
)

var (
	ErrAttemptNotFound = errors.New("payment attempt not found")
	ErrInvalidState    = errors.New("invalid payment state for this operation")
	ErrAttemptExpired  = errors.New("payment attempt expired")
)

// State is the stage of a payment attempt.
type State string

const (
	StateIdle              State = "idle"
	StateReceiverResolving State = "receiver_resolving"
	StateReceiverResolved  State = "receiver_resolved"
	StateRiskAnalyzing     State = "risk_analyzing"
	StateAllowed           State = "allowed"
	StateWarned            State = "warned"
	StateBlocked           State = "blocked"   // terminal, never confirmable
	StateConfirmed         State = "confirmed" // transaction recorded
	StateCancelled         State = "cancelled" // sender backed out
	StateExpired           State = "expired"   // abandoned past its TTL
)

// DefaultTTL is how long an allowed or warned attempt waits for the sender.
const DefaultTTL = 15 * time.Minute

var transitions = map[State][]State{
	StateIdle:              {StateReceiverResolving},
	StateReceiverResolving: {StateReceiverResolved},
	StateReceiverResolved:  {StateRiskAnalyzing},
	StateRiskAnalyzing:     {StateAllowed, StateWarned, StateBlocked},
	StateAllowed:           {StateConfirmed, StateCancelled, StateBlocked, StateExpired},
	StateWarned:            {StateConfirmed, StateCancelled, StateBlocked, StateExpired},
}

// CanTransition reports whether from → to is a legal step.
func CanTransition(from, to State) bool {
	return slices.Contains(transitions[from], to)
}

// Transition is one recorded step of an attempt.
type Transition struct {
	From   State     `json:"from"`
	To     State     `json:"to"`
	Reason string    `json:"reason,omitempty"`
	At     time.Time `json:"at"`
}

// Attempt is one payment from entry to a terminal state.
type Attempt struct {
	ID            string          `json:"id"`
	SenderID      string          `json:"senderId"`
	Destination   string          `json:"destination"`
	Amount        decimal.Decimal `json:"amount"`
	Note          string          `json:"note,omitempty"`
	DeviceID      string          `json:"deviceId,omitempty"`
	State         State           `json:"state"`
	Receiver      *receiver.Info  `json:"receiver,omitempty"`
	Verdict       *risk.Verdict   `json:"verdict,omitempty"`
	TransactionID string          `json:"transactionId,omitempty"`
	History       []Transition    `json:"history"`
	ExpiresAt     time.Time       `json:"expiresAt"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

// IsOpen reports whether the attempt awaits the sender's decision.
func (a *Attempt) IsOpen() bool {
	return a.State == StateAllowed || a.State == StateWarned
}

// IsTerminal returns true if the attempt is in a final state.
func (a *Attempt) IsTerminal() bool {
	switch a.State {
	case StateBlocked, StateConfirmed, StateCancelled, StateExpired:
		return true
	}
	return false
}

// advance moves the attempt to the next state and records the step.
func (a *Attempt) advance(to State, reason string, now time.Time) error {
	if !CanTransition(a.State, to) {
		return fmt.Errorf("%w: %s → %s", ErrInvalidState, a.State, to)
	}
	a.History = append(a.History, Transition{From: a.State, To: to, Reason: reason, At: now})
	a.State = to
	a.UpdatedAt = now
	return nil
}

// Clone returns a deep copy.
func (a *Attempt) Clone() *Attempt {
	c := *a
	c.History = slices.Clone(a.History)
	if a.Receiver != nil {
		info := *a.Receiver
		c.Receiver = &info
	}
	if a.Verdict != nil {
		v := *a.Verdict
		v.Result.Factors = slices.Clone(a.Verdict.Result.Factors)
		v.Fallbacks = slices.Clone(a.Verdict.Fallbacks)
		c.Verdict = &v
	}
	return &c
}

// stateForDecision maps a risk decision onto the attempt state.
func stateForDecision(d risk.Decision) State {
	switch d {
	case risk.DecisionBlock:
		return StateBlocked
	case risk.DecisionAllow:
		return StateAllowed
	default:
		return StateWarned
	}
}

// Store persists attempts.
type Store interface {
	Create(ctx context.Context, a *Attempt) error
	Get(ctx context.Context, id string) (*Attempt, error)
	Update(ctx context.Context, a *Attempt) error
	ListOpen(ctx context.Context, senderID string) ([]*Attempt, error)
	ListExpired(ctx context.Context, before time.Time, limit int) ([]*Attempt, error)
}

// StartRequest contains the parameters for starting a payment.
type StartRequest struct {
	Destination string          `json:"destination"`
	Amount      decimal.Decimal `json:"amount"`
	Note        string          `json:"note,omitempty"`
	DeviceID    string          `json:"device_id,omitempty"`
}

// Validate checks and normalizes the request in place.
func (r *StartRequest) Validate() error {
	r.Destination = validation.NormalizeDestination(r.Destination)
	r.Note = validation.SanitizeString(r.Note, validation.MaxNoteLength)
	if errs := validation.Validate(
		validation.Required("destination", r.Destination),
		validation.MaxLength("destination", r.Destination, validation.MaxDestinationLength),
		validation.PositiveAmount("amount", r.Amount),
	); len(errs) > 0 {
		return errs
	}
	return nil
}
