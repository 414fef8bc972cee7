package payment

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sentrapay/sentra/internal/fraudapi"
	"github.com/sentrapay/sentra/internal/fraudreport"
	"github.com/sentrapay/sentra/internal/idgen"
	"github.com/sentrapay/sentra/internal/ledger"
	"github.com/sentrapay/sentra/internal/logging"
	"github.com/sentrapay/sentra/internal/metrics"
	"github.com/sentrapay/sentra/internal/realtime"
	"github.com/sentrapay/sentra/internal/receiver"
	"github.com/sentrapay/sentra/internal/retry"
	"github.com/sentrapay/sentra/internal/risk"
	"github.com/sentrapay/sentra/internal/sender"
	"github.com/sentrapay/sentra/internal/syncutil"
	"github.com/sentrapay/sentra/internal/traces"
	"github.com/sentrapay/sentra/internal/trust"
	"github.com/sentrapay/sentra/internal/validation"
)

// Resolver looks up who a destination belongs to.
type Resolver interface {
	Resolve(ctx context.Context, destination string) (receiver.Info, error)
}

// Analyzer produces a risk verdict.
type Analyzer interface {
	Analyze(ctx context.Context, req risk.Request) (*risk.Verdict, error)
}

// Confirmer forwards the sender's decision to the platform.
type Confirmer interface {
	ConfirmPayment(ctx context.Context, req fraudapi.ConfirmRequest) (*fraudapi.ConfirmResponse, error)
}

// Notifier pushes events to the sender's live connections.
type Notifier interface {
	Publish(senderID string, typ realtime.EventType, data any)
}

type nopNotifier struct{}

func (nopNotifier) Publish(string, realtime.EventType, any) {}

// Service implements the payment attempt lifecycle.
type Service struct {
	store     Store
	resolver  Resolver
	analyzer  Analyzer
	book      *ledger.Book
	registry  *fraudreport.Registry
	profiles  sender.Store
	confirmer Confirmer
	notifier  Notifier
	policy    retry.Policy
	locks     *syncutil.KeyedMutex // per-sender, so confirm and report cannot interleave
	ttl       time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

// NewService creates a new payment service.
func NewService(store Store, resolver Resolver, analyzer Analyzer, book *ledger.Book,
	registry *fraudreport.Registry, profiles sender.Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Service{
		store:    store,
		resolver: resolver,
		analyzer: analyzer,
		book:     book,
		registry: registry,
		profiles: profiles,
		notifier: nopNotifier{},
		policy:   retry.DefaultPolicy,
		locks:    syncutil.NewKeyedMutex(64),
		ttl:      DefaultTTL,
		logger:   logger,
		now:      time.Now,
	}
}

// WithConfirmer forwards confirmations and cancellations to the platform.
func (s *Service) WithConfirmer(c Confirmer) *Service {
	s.confirmer = c
	return s
}

// WithNotifier adds a live event sink.
func (s *Service) WithNotifier(n Notifier) *Service {
	if n != nil {
		s.notifier = n
	}
	return s
}

// WithTTL sets how long open attempts wait before expiring.
func (s *Service) WithTTL(ttl time.Duration) *Service {
	if ttl > 0 {
		s.ttl = ttl
	}
	return s
}

// WithRetryPolicy sets the policy for forwarding confirmations.
func (s *Service) WithRetryPolicy(p retry.Policy) *Service {
	s.policy = p
	return s
}

// Start runs a new attempt through receiver resolution and risk analysis.
// The returned attempt is allowed, warned or blocked. The only errors are
// validation failures and store failures.
func (s *Service) Start(ctx context.Context, senderID, displayName string, req StartRequest) (*Attempt, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	ctx, span := traces.StartSpan(ctx, "payment.Start",
		traces.SenderID(senderID),
		traces.Destination(req.Destination),
	)
	defer span.End()

	if _, err := sender.Ensure(ctx, s.profiles, senderID, displayName); err != nil {
		return nil, fmt.Errorf("load sender profile: %w", err)
	}

	now := s.now().UTC()
	a := &Attempt{
		ID:          idgen.WithPrefix("pay_"),
		SenderID:    senderID,
		Destination: req.Destination,
		Amount:      req.Amount,
		Note:        req.Note,
		DeviceID:    req.DeviceID,
		State:       StateIdle,
		History:     []Transition{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	log := logging.L(ctx).With("attempt_id", a.ID, "destination", a.Destination)

	_ = a.advance(StateReceiverResolving, "", now)
	if err := s.store.Create(ctx, a); err != nil {
		return nil, fmt.Errorf("create attempt: %w", err)
	}

	info, err := s.resolver.Resolve(ctx, a.Destination)
	if err != nil {
		// Destination already validated; fall back to the sentinel.
		info = receiver.Unknown(a.Destination)
	}
	a.Receiver = &info
	_ = a.advance(StateReceiverResolved, "", s.now().UTC())
	_ = a.advance(StateRiskAnalyzing, "", s.now().UTC())

	v, err := s.analyzer.Analyze(ctx, risk.Request{
		SenderID:    senderID,
		Destination: a.Destination,
		Amount:      a.Amount.InexactFloat64(),
		Note:        a.Note,
		DeviceID:    a.DeviceID,
	})
	if err != nil {
		traces.Fail(span, err)
		return nil, err
	}
	a.Verdict = v

	unlock, err := s.locks.Lock(ctx, senderID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	next, reason := stateForDecision(v.Decision), v.Strategy
	// A report filed while the analysis was in flight still wins.
	if next != StateBlocked && s.registry != nil && s.registry.IsReported(ctx, senderID, a.Destination) {
		next, reason = StateBlocked, "fraud_reported"
	}
	now = s.now().UTC()
	_ = a.advance(next, reason, now)

	if next == StateBlocked {
		tx := a.transaction(now, true)
		a.TransactionID = tx.ID
		if err := s.store.Update(ctx, a); err != nil {
			return nil, fmt.Errorf("update attempt: %w", err)
		}
		if err := s.record(ctx, a, tx); err != nil {
			log.Error("failed to record blocked transaction", "error", err)
		}
		metrics.PaymentAttemptsTotal.WithLabelValues("blocked").Inc()
		log.Info("payment blocked", "score", v.Result.Score, "provenance", v.Provenance)
		s.notifier.Publish(senderID, realtime.EventPaymentBlocked, a)
		return a, nil
	}

	a.ExpiresAt = now.Add(s.ttl)
	if err := s.store.Update(ctx, a); err != nil {
		return nil, fmt.Errorf("update attempt: %w", err)
	}
	metrics.OpenAttempts.Inc()
	log.Info("payment analyzed", "state", a.State, "score", v.Result.Score, "provenance", v.Provenance)
	s.notifier.Publish(senderID, realtime.EventVerdict, a)
	return a, nil
}

// Get returns the sender's attempt. Attempts of other senders are reported
// as not found.
func (s *Service) Get(ctx context.Context, senderID, id string) (*Attempt, error) {
	a, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.SenderID != senderID {
		return nil, ErrAttemptNotFound
	}
	return a, nil
}

// Confirm completes an allowed or warned attempt: the transaction is
// appended to the ledger, the sender's profile and trust score are
// updated, and the platform is told the sender acknowledged the payment.
func (s *Service) Confirm(ctx context.Context, senderID, id string) (*Attempt, error) {
	ctx, span := traces.StartSpan(ctx, "payment.Confirm",
		traces.SenderID(senderID),
		traces.AttemptID(id),
	)
	defer span.End()

	unlock, err := s.locks.Lock(ctx, senderID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	a, err := s.openAttempt(ctx, senderID, id)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	tx := a.transaction(now, false)
	if err := s.book.Append(ctx, senderID, tx); err != nil {
		traces.Fail(span, err)
		return nil, fmt.Errorf("record transaction: %w", err)
	}
	a.TransactionID = tx.ID
	_ = a.advance(StateConfirmed, "", now)
	if err := s.store.Update(ctx, a); err != nil {
		return nil, fmt.Errorf("update attempt: %w", err)
	}
	metrics.OpenAttempts.Dec()
	metrics.PaymentAttemptsTotal.WithLabelValues("confirmed").Inc()

	s.updateProfile(ctx, a, true)
	s.forward(ctx, a, true)

	logging.L(ctx).Info("payment confirmed", "attempt_id", a.ID, "transaction_id", tx.ID)
	s.notifier.Publish(senderID, realtime.EventPaymentConfirmed, a)
	return a, nil
}

// Cancel abandons an allowed or warned attempt. Nothing is recorded.
func (s *Service) Cancel(ctx context.Context, senderID, id string) (*Attempt, error) {
	unlock, err := s.locks.Lock(ctx, senderID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	a, err := s.openAttempt(ctx, senderID, id)
	if err != nil {
		return nil, err
	}
	_ = a.advance(StateCancelled, "cancelled_by_sender", s.now().UTC())
	if err := s.store.Update(ctx, a); err != nil {
		return nil, fmt.Errorf("update attempt: %w", err)
	}
	metrics.OpenAttempts.Dec()
	metrics.PaymentAttemptsTotal.WithLabelValues("cancelled").Inc()

	s.forward(ctx, a, false)
	s.notifier.Publish(senderID, realtime.EventPaymentCancelled, a)
	return a, nil
}

// Report files a fraud report for destination and blocks every open
// attempt the sender has to it. It reports whether the destination was
// newly added.
func (s *Service) Report(ctx context.Context, senderID, destination string) (bool, error) {
	added, err := s.registry.Report(ctx, senderID, destination)
	if err != nil {
		return false, err
	}
	dest := validation.NormalizeDestination(destination)
	s.notifier.Publish(senderID, realtime.EventFraudReported, map[string]any{"destination": dest})

	unlock, err := s.locks.Lock(ctx, senderID)
	if err != nil {
		return added, err
	}
	defer unlock()

	open, err := s.store.ListOpen(ctx, senderID)
	if err != nil {
		return added, fmt.Errorf("list open attempts: %w", err)
	}
	for _, a := range open {
		if a.Destination != dest {
			continue
		}
		now := s.now().UTC()
		a.Verdict.Result = risk.Result{
			Score:         1,
			Category:      risk.CategoryHigh,
			Factors:       []string{risk.FactorReported},
			Blocked:       true,
			BehaviorScore: a.Verdict.Result.BehaviorScore,
			AmountScore:   a.Verdict.Result.AmountScore,
			ReceiverScore: 1,
			TransactionID: a.Verdict.Result.TransactionID,
		}
		a.Verdict.Decision = risk.DecisionBlock
		_ = a.advance(StateBlocked, "fraud_reported", now)
		tx := a.transaction(now, true)
		a.TransactionID = tx.ID
		if err := s.store.Update(ctx, a); err != nil {
			return added, fmt.Errorf("update attempt: %w", err)
		}
		metrics.OpenAttempts.Dec()
		metrics.PaymentAttemptsTotal.WithLabelValues("blocked").Inc()
		if err := s.record(ctx, a, tx); err != nil {
			logging.L(ctx).Error("failed to record blocked transaction", "attempt_id", a.ID, "error", err)
		}
		logging.L(ctx).Info("open payment blocked by fraud report", "attempt_id", a.ID)
		s.notifier.Publish(senderID, realtime.EventPaymentBlocked, a)
	}
	return added, nil
}

// ExpireStale moves open attempts past their deadline to expired and
// returns how many were expired.
func (s *Service) ExpireStale(ctx context.Context, limit int) (int, error) {
	stale, err := s.store.ListExpired(ctx, s.now(), limit)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, candidate := range stale {
		if s.expire(ctx, candidate) {
			n++
		}
	}
	return n, nil
}

func (s *Service) expire(ctx context.Context, candidate *Attempt) bool {
	unlock, err := s.locks.Lock(ctx, candidate.SenderID)
	if err != nil {
		return false
	}
	defer unlock()

	// Re-read under the lock; the sender may have confirmed meanwhile.
	a, err := s.store.Get(ctx, candidate.ID)
	if err != nil || !a.IsOpen() {
		return false
	}
	if err := a.advance(StateExpired, "ttl", s.now().UTC()); err != nil {
		return false
	}
	if err := s.store.Update(ctx, a); err != nil {
		s.logger.Warn("failed to expire attempt", "attempt_id", a.ID, "error", err)
		return false
	}
	metrics.OpenAttempts.Dec()
	metrics.PaymentAttemptsTotal.WithLabelValues("expired").Inc()
	s.notifier.Publish(a.SenderID, realtime.EventPaymentExpired, a)
	return true
}

// openAttempt loads an attempt the sender may still act on. Callers hold
// the sender lock.
func (s *Service) openAttempt(ctx context.Context, senderID, id string) (*Attempt, error) {
	a, err := s.Get(ctx, senderID, id)
	if err != nil {
		return nil, err
	}
	if !a.IsOpen() {
		return nil, fmt.Errorf("%w: attempt is %s", ErrInvalidState, a.State)
	}
	if !a.ExpiresAt.IsZero() && s.now().After(a.ExpiresAt) {
		s.expireLocked(ctx, a)
		return nil, ErrAttemptExpired
	}
	return a, nil
}

func (s *Service) expireLocked(ctx context.Context, a *Attempt) {
	if err := a.advance(StateExpired, "ttl", s.now().UTC()); err != nil {
		return
	}
	if err := s.store.Update(ctx, a); err != nil {
		s.logger.Warn("failed to expire attempt", "attempt_id", a.ID, "error", err)
		return
	}
	metrics.OpenAttempts.Dec()
	metrics.PaymentAttemptsTotal.WithLabelValues("expired").Inc()
}

// record appends a blocked transaction and refreshes the trust score.
func (s *Service) record(ctx context.Context, a *Attempt, tx ledger.Transaction) error {
	if err := s.book.Append(ctx, a.SenderID, tx); err != nil {
		return err
	}
	s.updateProfile(ctx, a, false)
	return nil
}

// updateProfile folds the attempt into the sender's profile. Only
// completed payments count towards history; every ledger change
// refreshes the trust score.
func (s *Service) updateProfile(ctx context.Context, a *Attempt, completed bool) {
	log := logging.L(ctx)
	p, err := sender.Ensure(ctx, s.profiles, a.SenderID, "")
	if err != nil {
		log.Error("failed to load sender profile", "error", err)
		return
	}
	now := s.now().UTC()
	if completed {
		p.RecordPayment(a.Destination, a.Amount.InexactFloat64(), now)
		p.RememberDevice(a.DeviceID)
	}
	l, err := s.book.For(ctx, a.SenderID)
	if err != nil {
		log.Error("failed to load ledger for trust score", "error", err)
		return
	}
	summary := trust.Summarize(l.All())
	p.TrustScore = summary.Score
	p.UpdatedAt = now
	if err := s.profiles.Put(ctx, p); err != nil {
		log.Error("failed to save sender profile", "error", err)
		return
	}
	s.notifier.Publish(a.SenderID, realtime.EventTrustUpdated, summary)
}

// forward tells the platform about the sender's decision. Only attempts
// scored remotely carry a platform transaction id; failures are logged
// and never undo the local state change.
func (s *Service) forward(ctx context.Context, a *Attempt, acknowledged bool) {
	if s.confirmer == nil || a.Verdict == nil || a.Verdict.Result.TransactionID == "" {
		return
	}
	req := fraudapi.ConfirmRequest{
		TransactionID:    a.Verdict.Result.TransactionID,
		UserAcknowledged: acknowledged,
	}
	err := retry.Do(ctx, s.policy, func(ctx context.Context) error {
		_, err := s.confirmer.ConfirmPayment(ctx, req)
		if err != nil && !fraudapi.Retryable(err) {
			return retry.Permanent(err)
		}
		return err
	})
	if err != nil {
		logging.L(ctx).Warn("failed to forward payment decision",
			"attempt_id", a.ID, "acknowledged", acknowledged, "reason", fraudapi.Reason(err), "error", err)
	}
}

// transaction builds the ledger entry for the attempt. A platform
// transaction id is reused so history sync deduplicates against it.
func (a *Attempt) transaction(now time.Time, blocked bool) ledger.Transaction {
	tx := ledger.Transaction{
		ID:        idgen.TransactionID(now),
		Recipient: a.Destination,
		Amount:    a.Amount,
		Timestamp: now,
		Blocked:   blocked,
	}
	if a.Verdict != nil {
		tx.RiskScore = a.Verdict.Result.Score
		tx.RiskCategory = a.Verdict.Result.Category
		if id := a.Verdict.Result.TransactionID; id != "" {
			tx.ID = id
		}
	}
	return tx
}
