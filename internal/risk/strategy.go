package risk

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sentrapay/sentra/internal/auth"
	"github.com/sentrapay/sentra/internal/circuitbreaker"
	"github.com/sentrapay/sentra/internal/fraudapi"
	"github.com/sentrapay/sentra/internal/receiver"
	"github.com/sentrapay/sentra/internal/sender"
)

// ErrNotApplicable is returned by a strategy that has nothing to say about
// a request. The coordinator moves on without recording a fallback.
var ErrNotApplicable = errors.New("risk: strategy not applicable")

// RemoteBreakerKey is the circuit breaker key guarding remote scoring.
const RemoteBreakerKey = "fraud-scoring"

// Strategy is one way of producing a result.
type Strategy interface {
	Name() string
	Evaluate(ctx context.Context, ev *Evaluation) (Result, Provenance, error)
}

// Resolver resolves destinations to identities.
type Resolver interface {
	Resolve(ctx context.Context, destination string) (receiver.Info, error)
}

// Denylist answers whether a sender has reported a destination.
type Denylist interface {
	IsReported(ctx context.Context, senderID, destination string) bool
}

// Scorer is the remote scoring endpoint.
type Scorer interface {
	ScoreIntent(ctx context.Context, req fraudapi.IntentRequest) (*fraudapi.IntentResponse, error)
}

// ActivitySource reports a sender's recent payment activity.
type ActivitySource interface {
	Velocity(ctx context.Context, senderID string, now time.Time) (Velocity, error)
}

// Evaluation is the shared state for one analysis. The receiver is
// resolved at most once, and only when a strategy needs it.
type Evaluation struct {
	Request  Request
	Profile  *sender.Profile
	Velocity Velocity

	resolver Resolver
	receiver *receiver.Info
}

// Receiver resolves the destination on first use.
func (ev *Evaluation) Receiver(ctx context.Context) receiver.Info {
	if ev.receiver != nil {
		return *ev.receiver
	}
	info := receiver.Unknown(ev.Request.Destination)
	if ev.resolver != nil {
		if r, err := ev.resolver.Resolve(ctx, ev.Request.Destination); err == nil {
			info = r
		}
	}
	ev.receiver = &info
	return info
}

// Input assembles the local analyzer input.
func (ev *Evaluation) Input(ctx context.Context, reported bool) Input {
	return Input{
		Destination: ev.Request.Destination,
		Amount:      ev.Request.Amount,
		Profile:     ev.Profile,
		Receiver:    ev.Receiver(ctx),
		Reported:    reported,
		DeviceID:    ev.Request.DeviceID,
		Velocity:    ev.Velocity,
	}
}

// DenylistStrategy short-circuits destinations the sender has reported.
type DenylistStrategy struct {
	list     Denylist
	analyzer *Analyzer
}

func NewDenylistStrategy(list Denylist, analyzer *Analyzer) *DenylistStrategy {
	return &DenylistStrategy{list: list, analyzer: analyzer}
}

func (s *DenylistStrategy) Name() string { return "denylist" }

func (s *DenylistStrategy) Evaluate(ctx context.Context, ev *Evaluation) (Result, Provenance, error) {
	if !s.list.IsReported(ctx, ev.Request.SenderID, ev.Request.Destination) {
		return Result{}, "", ErrNotApplicable
	}
	return s.analyzer.Score(ev.Input(ctx, true)), ProvenanceLocal, nil
}

// RemoteStrategy asks the fraud platform, guarded by a circuit breaker and
// a per-call timeout.
type RemoteStrategy struct {
	scorer  Scorer
	breaker *circuitbreaker.Breaker
	timeout time.Duration
}

// DefaultRemoteTimeout bounds one remote scoring call.
const DefaultRemoteTimeout = 3 * time.Second

func NewRemoteStrategy(scorer Scorer, breaker *circuitbreaker.Breaker, timeout time.Duration) *RemoteStrategy {
	if timeout <= 0 {
		timeout = DefaultRemoteTimeout
	}
	return &RemoteStrategy{scorer: scorer, breaker: breaker, timeout: timeout}
}

func (s *RemoteStrategy) Name() string { return "remote" }

func (s *RemoteStrategy) Evaluate(ctx context.Context, ev *Evaluation) (Result, Provenance, error) {
	// Anonymous requests cannot be scored remotely. Not a platform failure,
	// so the breaker is left alone.
	if auth.CredentialFrom(ctx) == "" {
		return Result{}, "", fmt.Errorf("%w: %w", fraudapi.ErrUnavailable, fraudapi.ErrNoCredential)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var resp *fraudapi.IntentResponse
	call := func() error {
		var err error
		resp, err = s.scorer.ScoreIntent(ctx, fraudapi.IntentRequest{
			Amount:   ev.Request.Amount,
			Receiver: ev.Request.Destination,
			Note:     ev.Request.Note,
			DeviceID: ev.Request.DeviceID,
		})
		return err
	}
	var err error
	if s.breaker != nil {
		err = s.breaker.Execute(RemoteBreakerKey, call)
	} else {
		err = call()
	}
	if err != nil {
		return Result{}, "", err
	}
	return FromRemote(resp), ProvenanceRemote, nil
}

// Representative scores for a remote level that arrives without a score.
var levelScores = map[string]float64{
	fraudapi.LevelLow:      0.2,
	fraudapi.LevelModerate: 0.55,
	fraudapi.LevelMedium:   0.55,
	fraudapi.LevelHigh:     0.85,
	fraudapi.LevelVeryHigh: 0.95,
}

// PlatformScore picks the score for a platform verdict or history record.
// An explicit score always wins and the level only fills in when the score
// is missing. Categories are then derived from the score with CategoryFor,
// so a level that disagrees with the score is ignored. ok is false when
// neither field is usable.
func PlatformScore(score *float64, level string) (float64, bool) {
	if score != nil {
		return *score, true
	}
	s, ok := levelScores[strings.ToUpper(strings.TrimSpace(level))]
	return s, ok
}

// FromRemote maps a platform response onto a Result, scoring it with
// PlatformScore.
func FromRemote(resp *fraudapi.IntentResponse) Result {
	score, _ := PlatformScore(resp.RiskScore, resp.RiskLevel)
	score = clamp01(score)
	behavior, amount, recv := resp.Breakdown.Scores()

	factors := make([]string, 0, len(resp.RiskFactors))
	for _, f := range resp.RiskFactors {
		if s := strings.TrimSpace(string(f)); s != "" {
			factors = append(factors, s)
		}
	}

	return Result{
		Score:         round3(score),
		Category:      CategoryFor(round3(score)),
		Factors:       factors,
		Blocked:       resp.Blocks(),
		BehaviorScore: round3(behavior),
		AmountScore:   round3(amount),
		ReceiverScore: round3(recv),
		TransactionID: resp.TransactionID,
	}
}

// LocalStrategy runs the local analyzer. It never fails.
type LocalStrategy struct {
	analyzer *Analyzer
	list     Denylist
}

func NewLocalStrategy(analyzer *Analyzer, list Denylist) *LocalStrategy {
	return &LocalStrategy{analyzer: analyzer, list: list}
}

func (s *LocalStrategy) Name() string { return "local" }

func (s *LocalStrategy) Evaluate(ctx context.Context, ev *Evaluation) (Result, Provenance, error) {
	reported := s.list != nil && s.list.IsReported(ctx, ev.Request.SenderID, ev.Request.Destination)
	return s.analyzer.Score(ev.Input(ctx, reported)), ProvenanceLocal, nil
}

// failureReason classifies a strategy error for metrics.
func failureReason(err error) string {
	if errors.Is(err, circuitbreaker.ErrOpen) {
		return "circuit_open"
	}
	var pe *panicError
	if errors.As(err, &pe) {
		return "panic"
	}
	return fraudapi.Reason(err)
}
