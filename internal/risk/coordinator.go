package risk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sentrapay/sentra/internal/idgen"
	"github.com/sentrapay/sentra/internal/logging"
	"github.com/sentrapay/sentra/internal/metrics"
	"github.com/sentrapay/sentra/internal/pagination"
	"github.com/sentrapay/sentra/internal/sender"
	"github.com/sentrapay/sentra/internal/traces"
	"github.com/sentrapay/sentra/internal/validation"
)

// Request is a payment to be analyzed.
type Request struct {
	SenderID    string  `json:"-"`
	Destination string  `json:"destination"`
	Amount      float64 `json:"amount"`
	Note        string  `json:"note,omitempty"`
	DeviceID    string  `json:"device_id,omitempty"`
}

// Validate checks and normalizes the request in place.
func (r *Request) Validate() error {
	r.Destination = validation.NormalizeDestination(r.Destination)
	r.Note = validation.SanitizeString(r.Note, validation.MaxNoteLength)
	if errs := validation.Validate(
		validation.Required("destination", r.Destination),
		validation.MaxLength("destination", r.Destination, validation.MaxDestinationLength),
		validation.PositiveFloat("amount", r.Amount),
	); len(errs) > 0 {
		return errs
	}
	return nil
}

// Coordinator produces a verdict for every valid request by running its
// strategies in order until one succeeds.
type Coordinator struct {
	strategies []Strategy
	analyzer   *Analyzer
	resolver   Resolver
	profiles   sender.Store
	activity   ActivitySource
	store      Store
	logger     *slog.Logger
	now        func() time.Time
}

// Option configures a Coordinator.
type Option func(*coordinatorConfig)

type coordinatorConfig struct {
	analyzer *Analyzer
	denylist Denylist
	remote   *RemoteStrategy
	resolver Resolver
	profiles sender.Store
	activity ActivitySource
	store    Store
	logger   *slog.Logger
}

// WithAnalyzer overrides the local analyzer.
func WithAnalyzer(a *Analyzer) Option { return func(c *coordinatorConfig) { c.analyzer = a } }

// WithDenylist enables the reported-destination short circuit.
func WithDenylist(d Denylist) Option { return func(c *coordinatorConfig) { c.denylist = d } }

// WithRemote enables remote scoring ahead of the local analyzer.
func WithRemote(s *RemoteStrategy) Option { return func(c *coordinatorConfig) { c.remote = s } }

// WithResolver sets the receiver resolver used by local scoring.
func WithResolver(r Resolver) Option { return func(c *coordinatorConfig) { c.resolver = r } }

// WithProfiles sets where sender profiles are read from.
func WithProfiles(s sender.Store) Option { return func(c *coordinatorConfig) { c.profiles = s } }

// WithActivity sets where recent payment activity is read from.
func WithActivity(a ActivitySource) Option { return func(c *coordinatorConfig) { c.activity = a } }

// WithStore records every verdict.
func WithStore(s Store) Option { return func(c *coordinatorConfig) { c.store = s } }

// WithLogger sets the fallback logger.
func WithLogger(l *slog.Logger) Option { return func(c *coordinatorConfig) { c.logger = l } }

// NewCoordinator builds the strategy chain: denylist, remote, local.
func NewCoordinator(opts ...Option) *Coordinator {
	cfg := coordinatorConfig{}
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.analyzer == nil {
		cfg.analyzer = NewAnalyzer(DefaultConfig())
	}
	if cfg.logger == nil {
		cfg.logger = logging.Discard()
	}

	var chain []Strategy
	if cfg.denylist != nil {
		chain = append(chain, NewDenylistStrategy(cfg.denylist, cfg.analyzer))
	}
	if cfg.remote != nil {
		chain = append(chain, cfg.remote)
	}
	chain = append(chain, NewLocalStrategy(cfg.analyzer, cfg.denylist))

	return &Coordinator{
		strategies: chain,
		analyzer:   cfg.analyzer,
		resolver:   cfg.resolver,
		profiles:   cfg.profiles,
		activity:   cfg.activity,
		store:      cfg.store,
		logger:     cfg.logger,
		now:        time.Now,
	}
}

// Analyze scores a payment. The only error is a validation.ValidationErrors
// for malformed input; remote failures are absorbed by falling back.
func (c *Coordinator) Analyze(ctx context.Context, req Request) (*Verdict, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	start := c.now()

	ctx, span := traces.StartSpan(ctx, "risk.Analyze",
		traces.SenderID(req.SenderID),
		traces.Destination(req.Destination),
		traces.Amount(req.Amount),
	)
	defer span.End()

	ev := &Evaluation{
		Request:  req,
		Profile:  c.profile(ctx, req.SenderID),
		Velocity: c.velocity(ctx, req.SenderID, start),
		resolver: c.resolver,
	}
	v := &Verdict{
		ID:          idgen.WithPrefix("ra_"),
		SenderID:    req.SenderID,
		Destination: req.Destination,
		Amount:      req.Amount,
	}

	done := false
	for _, s := range c.strategies {
		res, prov, err := c.evaluate(ctx, s, ev)
		if errors.Is(err, ErrNotApplicable) {
			continue
		}
		if err != nil {
			reason := failureReason(err)
			if s.Name() == "remote" {
				metrics.RemoteScoringFailures.WithLabelValues(reason).Inc()
			}
			logging.L(ctx).Warn("risk strategy failed, falling back",
				"strategy", s.Name(), "reason", reason, "error", err)
			v.Fallbacks = append(v.Fallbacks, Fallback{Strategy: s.Name(), Reason: reason, Error: err.Error()})
			continue
		}
		v.Result, v.Provenance, v.Strategy = res, prov, s.Name()
		done = true
		break
	}
	if !done {
		// Only reachable if the local strategy itself panicked.
		v.Result = c.analyzer.Score(ev.Input(ctx, false))
		v.Provenance, v.Strategy = ProvenanceLocal, "local"
	}
	if v.Result.Factors == nil {
		v.Result.Factors = []string{}
	}
	if ev.receiver != nil {
		info := *ev.receiver
		v.Receiver = &info
	}
	v.Decision = v.Result.Decision()
	v.EvaluatedAt = c.now().UTC()

	metrics.RiskAnalysesTotal.WithLabelValues(string(v.Provenance), string(v.Result.Category)).Inc()
	metrics.RiskAnalysisDuration.WithLabelValues(string(v.Provenance)).Observe(c.now().Sub(start).Seconds())
	span.SetAttributes(
		traces.Provenance(string(v.Provenance)),
		traces.Category(string(v.Result.Category)),
		traces.Strategy(v.Strategy),
	)

	if c.store != nil {
		if err := c.store.Record(ctx, v); err != nil {
			logging.L(ctx).Error("failed to record risk assessment", "assessment_id", v.ID, "error", err)
		}
	}
	return v, nil
}

// Outcome is delivered by AnalyzeAsync.
type Outcome struct {
	Verdict *Verdict
	Err     error
}

// AnalyzeAsync runs Analyze in the background. The channel receives exactly
// one Outcome and is then closed.
func (c *Coordinator) AnalyzeAsync(ctx context.Context, req Request) <-chan Outcome {
	ch := make(chan Outcome, 1)
	go func() {
		defer close(ch)
		v, err := c.Analyze(ctx, req)
		ch <- Outcome{Verdict: v, Err: err}
	}()
	return ch
}

// History returns one page of recorded verdicts for a sender, newest first,
// and the cursor for the next page ("" when there is none).
func (c *Coordinator) History(ctx context.Context, senderID string, limit int, cursor *pagination.Cursor) ([]*Verdict, string, error) {
	if c.store == nil {
		return []*Verdict{}, "", nil
	}
	verdicts, err := c.store.ListBySender(ctx, senderID, limit+1, WithCursor(cursor))
	if err != nil {
		return nil, "", err
	}
	page, next, _ := pagination.ComputePage(verdicts, limit, func(v *Verdict) (time.Time, string) {
		return v.EvaluatedAt, v.ID
	})
	return page, next, nil
}

type panicError struct {
	value any
}

func (e *panicError) Error() string { return fmt.Sprintf("risk: strategy panicked: %v", e.value) }

func (c *Coordinator) evaluate(ctx context.Context, s Strategy, ev *Evaluation) (res Result, prov Provenance, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &panicError{value: r}
		}
	}()
	return s.Evaluate(ctx, ev)
}

func (c *Coordinator) profile(ctx context.Context, senderID string) *sender.Profile {
	if c.profiles == nil || senderID == "" {
		return nil
	}
	p, err := c.profiles.Get(ctx, senderID)
	if err != nil {
		if !errors.Is(err, sender.ErrNotFound) {
			logging.L(ctx).Warn("failed to load sender profile, scoring as new sender", "error", err)
		}
		return nil
	}
	return p
}

func (c *Coordinator) velocity(ctx context.Context, senderID string, now time.Time) Velocity {
	if c.activity == nil || senderID == "" {
		return Velocity{}
	}
	v, err := c.activity.Velocity(ctx, senderID, now)
	if err != nil {
		logging.L(ctx).Warn("failed to load recent activity, skipping velocity checks", "error", err)
		return Velocity{}
	}
	return v
}
