package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/okian/yieldboard/internal/domain/model"
	"github.com/okian/yieldboard/internal/domain/settlement"
	"github.com/okian/yieldboard/pkg/logger"
	"github.com/okian/yieldboard/pkg/metrics"
	"golang.org/x/sync/errgroup"
)

// outcome is the bookkeeping written with a transition.
type outcome struct {
	lastError string
	ref       string
	next      time.Time
}

// tracked is a record moving through the settlement state machine.
type tracked interface {
	Key() string
	Request() settlement.Request
	Status() model.PayoutStatus
	Attempts() int
	// NextAttempt is the earliest time a failed-retryable record may be sent
	// again; zero means now.
	NextAttempt() time.Time
	// transition moves the record to `to`; entering submitted counts an attempt.
	transition(ctx context.Context, to model.PayoutStatus, o outcome) error
}

type payoutRecord struct {
	store Store
	p     model.Payout
}

func (r *payoutRecord) Key() string                 { return r.p.Key() }
func (r *payoutRecord) Status() model.PayoutStatus  { return r.p.Status }
func (r *payoutRecord) Attempts() int               { return r.p.Attempts }
func (r *payoutRecord) NextAttempt() time.Time      { return r.p.NextAttemptAt }
func (r *payoutRecord) Request() settlement.Request {
	return settlement.Request{
		Key:       r.p.Key(),
		Kind:      settlement.KindPayout,
		AccountID: r.p.AccountID,
		EpochID:   r.p.EpochID,
		Amount:    r.p.Total,
	}
}

func (r *payoutRecord) transition(ctx context.Context, to model.PayoutStatus, o outcome) error {
	next, err := r.store.TransitionPayout(ctx, r.p.AccountID, r.p.EpochID, r.p.Status, to, func(p *model.Payout) {
		if to == model.StatusSubmitted {
			p.Attempts++
		}
		p.LastError = o.lastError
		if o.ref != "" {
			p.SettlementRef = o.ref
		}
		p.NextAttemptAt = o.next
	})
	if err != nil {
		return err
	}
	r.p = *next
	metrics.RecordPayoutTransition(string(to))
	return nil
}

type withdrawalRecord struct {
	store Store
	w     model.Withdrawal
}

func (r *withdrawalRecord) Key() string                { return r.w.Key() }
func (r *withdrawalRecord) Status() model.PayoutStatus { return r.w.Status }
func (r *withdrawalRecord) Attempts() int              { return r.w.Attempts }
func (r *withdrawalRecord) NextAttempt() time.Time     { return time.Time{} }
func (r *withdrawalRecord) Request() settlement.Request {
	return settlement.Request{
		Key:       r.w.Key(),
		Kind:      settlement.KindWithdrawal,
		AccountID: r.w.AccountID,
		Amount:    r.w.Amount,
	}
}

func (r *withdrawalRecord) transition(ctx context.Context, to model.PayoutStatus, o outcome) error {
	next, err := r.store.TransitionWithdrawal(ctx, r.w.ID, r.w.Status, to, func(w *model.Withdrawal) {
		if to == model.StatusSubmitted {
			w.Attempts++
		}
		w.LastError = o.lastError
	})
	if err != nil {
		return err
	}
	r.w = *next
	return nil
}

// settleEpoch drives every unresolved payout of epochID with bounded
// parallelism.
func (s *Scheduler) settleEpoch(ctx context.Context, epochID model.EpochID) error {
	payouts, err := s.store.ListEpochPayouts(ctx, epochID)
	if err != nil {
		return fmt.Errorf("list payouts %d: %w", epochID, err)
	}
	records := make([]tracked, 0, len(payouts))
	for _, p := range payouts {
		if !p.Status.Resolved() {
			records = append(records, &payoutRecord{store: s.store, p: p})
		}
	}
	if err := s.settleAll(ctx, records); err != nil {
		return fmt.Errorf("settle epoch %d: %w", epochID, err)
	}
	s.refreshUnresolved(ctx)
	return nil
}

// SettleWithdrawals drives every unresolved withdrawal. The scheduler is the
// only component that submits withdrawals.
func (s *Scheduler) SettleWithdrawals(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ws, err := s.store.ListWithdrawals(ctx, model.StatusPending, model.StatusSubmitted, model.StatusFailedRetryable)
	if err != nil {
		return fmt.Errorf("list withdrawals: %w", err)
	}
	records := make([]tracked, len(ws))
	for i := range ws {
		records[i] = &withdrawalRecord{store: s.store, w: ws[i]}
	}
	if err := s.settleAll(ctx, records); err != nil {
		return fmt.Errorf("settle withdrawals: %w", err)
	}
	return nil
}

func (s *Scheduler) settleAll(ctx context.Context, records []tracked) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, rec := range records {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			return s.settle(gctx, rec)
		})
	}
	return g.Wait()
}

// settle advances one record until it is confirmed, failed-terminal, or the
// context ends. A record found in submitted is reconciled against the
// settlement layer before anything is resent.
func (s *Scheduler) settle(ctx context.Context, rec tracked) error {
	// Outcomes of a call that was sent must be recorded even if ctx ends.
	durable := context.WithoutCancel(ctx)

	if rec.Status() == model.StatusSubmitted {
		done, err := s.reconcile(ctx, durable, rec)
		if err != nil || done {
			return err
		}
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.retryInitial
	bo.MaxInterval = s.retryMax
	bo.MaxElapsedTime = 0
	bo.Reset()

	// A record resumed from an earlier pass keeps its persisted retry time.
	var wait time.Duration
	if rec.Status() == model.StatusFailedRetryable {
		wait = rec.NextAttempt().Sub(s.now())
	}

	for {
		if rec.Status() == model.StatusFailedRetryable && rec.Attempts() >= s.maxAttempts {
			return s.giveUp(durable, rec)
		}
		if wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil
			case <-timer.C:
			}
		}
		if ctx.Err() != nil {
			return nil
		}

		if err := rec.transition(ctx, model.StatusSubmitted, outcome{}); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return fmt.Errorf("mark %s submitted: %w", rec.Key(), err)
		}

		var (
			done bool
			err  error
		)
		done, wait, err = s.submit(durable, rec, bo)
		if err != nil || done {
			return err
		}
	}
}

// submit performs the one settlement call of a submitted record and records
// its result. done reports whether the record reached a resolved state;
// otherwise wait is the delay before the next attempt.
func (s *Scheduler) submit(ctx context.Context, rec tracked, bo backoff.BackOff) (done bool, wait time.Duration, err error) {
	sctx, cancel := context.WithTimeout(ctx, s.submitTimeout)
	defer cancel()

	start := time.Now()
	rcpt, serr := s.settler.Submit(sctx, rec.Request())
	metrics.RecordSettlementLatency(float64(time.Since(start).Milliseconds()))

	switch {
	case serr == nil && rcpt.State == settlement.StateConfirmed:
		metrics.RecordSettlementAttempt("confirmed")
		if terr := rec.transition(ctx, model.StatusConfirmed, outcome{ref: rcpt.Reference}); terr != nil {
			return false, 0, fmt.Errorf("mark %s confirmed: %w", rec.Key(), terr)
		}
		s.recordResolved(rec, model.StatusConfirmed)
		return true, 0, nil

	case settlement.IsTerminal(serr) || (serr == nil && rcpt.State == settlement.StateRejected):
		metrics.RecordSettlementAttempt("rejected")
		reason := rcpt.Reason
		if serr != nil {
			reason = serr.Error()
		}
		if terr := rec.transition(ctx, model.StatusFailedTerminal, outcome{lastError: reason}); terr != nil {
			return false, 0, fmt.Errorf("mark %s failed: %w", rec.Key(), terr)
		}
		s.recordResolved(rec, model.StatusFailedTerminal)
		s.logger.Warn(ctx, "settlement rejected, operator review required",
			logger.String("key", rec.Key()),
			logger.String("reason", reason),
		)
		return true, 0, nil

	default:
		metrics.RecordSettlementAttempt("retryable")
		reason := "settlement not confirmed"
		if serr != nil {
			reason = serr.Error()
		}
		wait = bo.NextBackOff()
		next := s.now().Add(wait)
		if terr := rec.transition(ctx, model.StatusFailedRetryable, outcome{lastError: reason, next: next}); terr != nil {
			return false, 0, fmt.Errorf("mark %s retryable: %w", rec.Key(), terr)
		}
		s.logger.Warn(ctx, "settlement failed, will retry",
			logger.String("key", rec.Key()),
			logger.Int("attempt", rec.Attempts()),
			logger.String("reason", reason),
		)
		return false, wait, nil
	}
}

// reconcile resolves a record left in submitted by asking the settlement layer
// what it received. done is true when no resubmission is needed. An unknown
// outcome counts as a failed attempt; resending under the same key is safe.
func (s *Scheduler) reconcile(ctx, durable context.Context, rec tracked) (bool, error) {
	sctx, cancel := context.WithTimeout(ctx, s.submitTimeout)
	defer cancel()

	rcpt, found, err := s.settler.Status(sctx, rec.Key())
	if err != nil {
		if ctx.Err() != nil {
			return true, nil
		}
		metrics.RecordSettlementAttempt("unknown")
		s.logger.Warn(ctx, "settlement status unavailable, will resubmit",
			logger.String("key", rec.Key()),
			logger.Int("attempt", rec.Attempts()),
			logger.Error(err),
		)
		return false, rec.transition(durable, model.StatusFailedRetryable, outcome{
			lastError: "settlement status unavailable: " + err.Error(),
			next:      s.now().Add(s.retryInitial),
		})
	}
	switch {
	case !found:
		return false, rec.transition(durable, model.StatusFailedRetryable, outcome{lastError: "not received by settlement"})
	case rcpt.State == settlement.StateConfirmed:
		if err := rec.transition(durable, model.StatusConfirmed, outcome{ref: rcpt.Reference}); err != nil {
			return false, err
		}
		s.recordResolved(rec, model.StatusConfirmed)
		return true, nil
	case rcpt.State == settlement.StateRejected:
		if err := rec.transition(durable, model.StatusFailedTerminal, outcome{lastError: rcpt.Reason}); err != nil {
			return false, err
		}
		s.recordResolved(rec, model.StatusFailedTerminal)
		return true, nil
	default:
		return false, rec.transition(durable, model.StatusFailedRetryable, outcome{
			lastError: "settlement still in flight",
			next:      s.now().Add(s.retryInitial),
		})
	}
}

func (s *Scheduler) giveUp(ctx context.Context, rec tracked) error {
	if err := rec.transition(ctx, model.StatusFailedTerminal, outcome{lastError: fmt.Sprintf("gave up after %d attempts", rec.Attempts())}); err != nil {
		return fmt.Errorf("mark %s failed: %w", rec.Key(), err)
	}
	s.recordResolved(rec, model.StatusFailedTerminal)
	s.logger.Warn(ctx, "settlement attempts exhausted, operator review required",
		logger.String("key", rec.Key()),
		logger.Int("attempts", rec.Attempts()),
	)
	return nil
}

func (s *Scheduler) recordResolved(rec tracked, status model.PayoutStatus) {
	if _, ok := rec.(*withdrawalRecord); ok {
		metrics.RecordWithdrawal(string(status))
	}
}

func (s *Scheduler) refreshUnresolved(ctx context.Context) {
	unresolved, err := s.store.ListUnresolvedPayouts(ctx)
	if err == nil {
		metrics.UpdateUnresolvedPayouts(len(unresolved))
	}
}

// Redrive moves a failed-terminal payout back to pending with a fresh attempt
// budget and settles it again under its original idempotency key.
func (s *Scheduler) Redrive(ctx context.Context, accountID string, epochID model.EpochID) (*model.Payout, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.store.GetPayout(ctx, accountID, epochID)
	if err != nil {
		return nil, fmt.Errorf("load payout: %w", err)
	}
	if p == nil || p.Status != model.StatusFailedTerminal {
		return p, fmt.Errorf("%w: %s", ErrNotRedrivable, model.PayoutKey(accountID, epochID))
	}
	p, err = s.store.TransitionPayout(ctx, accountID, epochID, model.StatusFailedTerminal, model.StatusPending, func(p *model.Payout) {
		p.Attempts = 0
		p.LastError = ""
		p.NextAttemptAt = time.Time{}
	})
	if err != nil {
		return nil, fmt.Errorf("redrive %s: %w", model.PayoutKey(accountID, epochID), err)
	}
	metrics.RecordPayoutTransition(string(model.StatusPending))
	s.logger.Info(ctx, "payout redriven",
		logger.String("account", accountID),
		logger.Uint64("epoch", epochID),
	)

	rec := &payoutRecord{store: s.store, p: *p}
	if err := s.settle(ctx, rec); err != nil {
		return &rec.p, err
	}
	s.refreshUnresolved(ctx)
	return &rec.p, nil
}
