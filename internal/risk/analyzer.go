package risk

import (
	"math"
	"time"

	"github.com/sentrapay/sentra/internal/receiver"
	"github.com/sentrapay/sentra/internal/sender"
)

// Weights combine the three sub-scores. They need not sum to one; the
// composite is normalized by their total.
type Weights struct {
	Behavior float64
	Amount   float64
	Receiver float64
}

// Config tunes the local analyzer.
type Config struct {
	Weights Weights

	// AmountFloor is the baseline used when the sender's average is lower
	// or unknown.
	AmountFloor float64
	// AmountHalfRatio is the amount/baseline ratio that scores 0.5.
	AmountHalfRatio float64

	// FactorThreshold is the sub-score above which a factor is reported.
	FactorThreshold float64

	LowTrustThreshold float64
	LowTrustPenalty   float64

	// DevicePenalty is added to the behavior score when the payment comes
	// from a device the sender has not paid from before. Senders with no
	// known devices are not penalized.
	DevicePenalty float64

	Velocity VelocityConfig
}

// VelocityConfig tunes the recent-activity penalties added to the behavior
// score. A zero count disables its rule. Within each window only the
// stronger tier applies.
type VelocityConfig struct {
	BurstCount   int // earlier payments within BurstWindow
	BurstPenalty float64
	RapidCount   int // stronger BurstWindow tier
	RapidPenalty float64

	HourlyCount       int // earlier payments within HourWindow
	HourlyPenalty     float64
	HourlyHighCount   int
	HourlyHighPenalty float64

	// DormantAfter is the quiet period before a burst that marks a dormant
	// account waking up.
	DormantAfter   time.Duration
	DormantPenalty float64
}

// Activity windows for velocity checks.
const (
	BurstWindow = 5 * time.Minute
	HourWindow  = time.Hour
)

// Velocity summarizes the sender's payments before the one being scored.
type Velocity struct {
	LastFiveMinutes int // payments within BurstWindow
	LastHour        int // payments within HourWindow
	// QuietBefore is the gap between the oldest payment in BurstWindow and
	// the payment before it. Zero when either is missing.
	QuietBefore time.Duration
}

// Behavior sub-scores.
const (
	behaviorFamiliar        = 0.05
	behaviorUnfamiliar      = 0.35
	behaviorNewToUnfamiliar = 0.7
)

// Factor messages, in the order they are reported.
const (
	FactorNewSenderUnfamiliar = "New account paying an unfamiliar recipient"
	FactorUnfamiliarLowTrust  = "Unfamiliar recipient and low account trust"
	FactorLargeAmount         = "Amount is unusually large for this account"
	FactorReported            = "Recipient was reported as fraudulent"
	FactorUnverifiedReceiver  = "Unverified recipient with low reputation"
	FactorLowReputation       = "Recipient has a low reputation score"
	FactorNewDevice           = "Payment from a device not used before"
	FactorVelocity            = "Many payments in a short time"
	FactorDormantBurst        = "Dormant account suddenly active"
)

// DefaultConfig returns the production tuning.
func DefaultConfig() Config {
	return Config{
		Weights:           Weights{Behavior: 0.35, Amount: 0.25, Receiver: 0.40},
		AmountFloor:       1000,
		AmountHalfRatio:   3,
		FactorThreshold:   0.5,
		LowTrustThreshold: 50,
		LowTrustPenalty:   0.15,
		DevicePenalty:     0.15,
		Velocity: VelocityConfig{
			BurstCount:        3,
			BurstPenalty:      0.15,
			RapidCount:        5,
			RapidPenalty:      0.25,
			HourlyCount:       10,
			HourlyPenalty:     0.10,
			HourlyHighCount:   15,
			HourlyHighPenalty: 0.20,
			DormantAfter:      7 * 24 * time.Hour,
			DormantPenalty:    0.35,
		},
	}
}

// Input is everything the local analyzer looks at.
type Input struct {
	Destination string
	Amount      float64
	Profile     *sender.Profile // nil means a brand-new sender
	Receiver    receiver.Info
	Reported    bool // sender has reported Destination as fraudulent
	DeviceID    string
	Velocity    Velocity
}

// Analyzer is the local risk analyzer. Score is a pure function of its
// input and never fails.
type Analyzer struct {
	cfg Config
}

// NewAnalyzer creates an analyzer. Zero weights, floor, half ratio and
// factor threshold fall back to DefaultConfig; a zero penalty disables its
// rule.
func NewAnalyzer(cfg Config) *Analyzer {
	def := DefaultConfig()
	if cfg.Weights.Behavior+cfg.Weights.Amount+cfg.Weights.Receiver <= 0 {
		cfg.Weights = def.Weights
	}
	if cfg.AmountFloor <= 0 {
		cfg.AmountFloor = def.AmountFloor
	}
	if cfg.AmountHalfRatio <= 0 {
		cfg.AmountHalfRatio = def.AmountHalfRatio
	}
	if cfg.FactorThreshold <= 0 {
		cfg.FactorThreshold = def.FactorThreshold
	}
	return &Analyzer{cfg: cfg}
}

// Score computes a verdict from the input.
func (a *Analyzer) Score(in Input) Result {
	behavior, behaviorFactor, signals := a.behaviorScore(in)
	amount := a.amountScore(in)
	recv, recvFactor := a.receiverScore(in)

	w := a.cfg.Weights
	composite := (w.Behavior*behavior + w.Amount*amount + w.Receiver*recv) /
		(w.Behavior + w.Amount + w.Receiver)
	score := round3(clamp01(composite))

	factors := make([]string, 0, 3+len(signals))
	if behavior > a.cfg.FactorThreshold {
		factors = append(factors, behaviorFactor)
	}
	factors = append(factors, signals...)
	if amount > a.cfg.FactorThreshold {
		factors = append(factors, FactorLargeAmount)
	}
	if recv > a.cfg.FactorThreshold {
		factors = append(factors, recvFactor)
	}

	res := Result{
		Score:         score,
		Category:      CategoryFor(score),
		Factors:       factors,
		BehaviorScore: round3(behavior),
		AmountScore:   round3(amount),
		ReceiverScore: round3(recv),
	}

	if in.Reported {
		res.Score = 1
		res.Category = CategoryHigh
		res.Blocked = true
	}
	return res
}

// behaviorScore returns the sub-score, the factor describing the base
// familiarity signal, and factors for any device or velocity penalty.
func (a *Analyzer) behaviorScore(in Input) (float64, string, []string) {
	p := in.Profile
	var score float64
	msg := FactorNewSenderUnfamiliar
	switch {
	case p.Knows(in.Destination):
		score = behaviorFamiliar
	case p.IsNew():
		score = behaviorNewToUnfamiliar
	default:
		score = behaviorUnfamiliar
		msg = FactorUnfamiliarLowTrust
	}
	if p != nil && a.cfg.LowTrustPenalty > 0 && p.TrustScore < a.cfg.LowTrustThreshold {
		score += a.cfg.LowTrustPenalty
	}

	var signals []string
	if a.cfg.DevicePenalty > 0 && in.DeviceID != "" && p != nil &&
		len(p.KnownDevices) > 0 && !p.KnowsDevice(in.DeviceID) {
		score += a.cfg.DevicePenalty
		signals = append(signals, FactorNewDevice)
	}
	bump, velocity := a.velocityPenalty(in.Velocity)
	score += bump
	signals = append(signals, velocity...)

	return clamp01(score), msg, signals
}

func (a *Analyzer) velocityPenalty(v Velocity) (float64, []string) {
	c := a.cfg.Velocity
	var bump float64
	burst := false
	switch {
	case c.RapidCount > 0 && v.LastFiveMinutes >= c.RapidCount:
		bump += c.RapidPenalty
		burst = true
	case c.BurstCount > 0 && v.LastFiveMinutes >= c.BurstCount:
		bump += c.BurstPenalty
		burst = true
	}
	switch {
	case c.HourlyHighCount > 0 && v.LastHour >= c.HourlyHighCount:
		bump += c.HourlyHighPenalty
	case c.HourlyCount > 0 && v.LastHour >= c.HourlyCount:
		bump += c.HourlyPenalty
	}

	var factors []string
	if bump > 0 {
		factors = append(factors, FactorVelocity)
	}
	if burst && c.DormantAfter > 0 && v.QuietBefore > c.DormantAfter {
		bump += c.DormantPenalty
		factors = append(factors, FactorDormantBurst)
	}
	return bump, factors
}

// amountScore rises smoothly with r = amount/baseline as r²/(r²+h²), so
// typical amounts score near zero and a single large outlier climbs
// quickly toward one. It is evaluated as 1/(1+(h/r)²), which stays finite
// for any r.
func (a *Analyzer) amountScore(in Input) float64 {
	baseline := a.cfg.AmountFloor
	if in.Profile != nil && in.Profile.AverageAmount > baseline {
		baseline = in.Profile.AverageAmount
	}
	if in.Amount <= 0 {
		return 0
	}
	q := a.cfg.AmountHalfRatio / (in.Amount / baseline)
	return clamp01(1 / (1 + q*q))
}

func (a *Analyzer) receiverScore(in Input) (float64, string) {
	if in.Reported {
		return 1, FactorReported
	}
	score := clamp01(1 - in.Receiver.Reputation)
	if !in.Receiver.Verified {
		return score, FactorUnverifiedReceiver
	}
	return score, FactorLowReputation
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
