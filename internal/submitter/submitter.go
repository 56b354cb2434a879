// Package submitter submits signed transactions and tracks them to a
// terminal state.
package submitter

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gagliardetto/solana-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/stablepay/stablepay/internal/errors"
	"github.com/stablepay/stablepay/internal/ledger"
)

var (
	submissionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stablepay_submissions_total",
		Help: "Transaction submissions by terminal outcome",
	}, []string{"outcome"})

	confirmationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "stablepay_confirmation_duration_seconds",
		Help:    "Time from submission to confirmed",
		Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
	})
)

// Outcome is the terminal state of one submission attempt.
type Outcome string

const (
	OutcomeConfirmed Outcome = "confirmed"
	OutcomeFailed    Outcome = "failed"
	OutcomeTimedOut  Outcome = "timed_out"
)

// Receipt is the result of tracking a submitted transaction. Signature
// is set whenever the ledger assigned one, including timed-out attempts
// whose final state is unknown.
type Receipt struct {
	Signature    solana.Signature
	Outcome      Outcome
	ExecutionErr string
}

// Submitter drives one signed transaction through
// Submitted -> (Confirmed | Failed | TimedOut).
type Submitter struct {
	ledger           ledger.Client
	logger           *slog.Logger
	maxSubmitRetries uint64
	initialBackoff   time.Duration
	pollInterval     time.Duration
}

// Option configures a Submitter.
type Option func(*Submitter)

// WithMaxSubmitRetries bounds retries of the submission RPC call.
func WithMaxSubmitRetries(n uint64) Option {
	return func(s *Submitter) { s.maxSubmitRetries = n }
}

// WithPollInterval sets the confirmation poll cadence.
func WithPollInterval(d time.Duration) Option {
	return func(s *Submitter) { s.pollInterval = d }
}

// WithInitialBackoff sets the first retry delay.
func WithInitialBackoff(d time.Duration) Option {
	return func(s *Submitter) { s.initialBackoff = d }
}

// New creates a Submitter with short, bounded retry defaults.
func New(client ledger.Client, logger *slog.Logger, opts ...Option) *Submitter {
	s := &Submitter{
		ledger:           client,
		logger:           logger.With("component", "submitter"),
		maxSubmitRetries: 3,
		initialBackoff:   200 * time.Millisecond,
		pollInterval:     time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Submit sends a signed transaction and resolves only once its status is
// known. Retries apply to the submission call alone, never to a
// transaction the ledger already executed and failed. The wait is
// bounded by the checkpoint's validity horizon: once the chain passes
// LastValidBlockHeight the attempt is abandoned as indeterminate.
func (s *Submitter) Submit(ctx context.Context, tx *solana.Transaction, checkpoint ledger.Checkpoint) (*Receipt, error) {
	sig, err := s.submitWithRetry(ctx, tx)
	if err != nil {
		submissionsTotal.WithLabelValues(string(OutcomeFailed)).Inc()
		return &Receipt{Outcome: OutcomeFailed}, err
	}

	s.logger.Info("transaction submitted", "signature", sig.String())
	start := time.Now()

	receipt, err := s.awaitConfirmation(ctx, sig, checkpoint)
	submissionsTotal.WithLabelValues(string(receipt.Outcome)).Inc()
	if receipt.Outcome == OutcomeConfirmed {
		confirmationDuration.Observe(time.Since(start).Seconds())
	}
	return receipt, err
}

func (s *Submitter) submitWithRetry(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	var sig solana.Signature

	op := func() error {
		var err error
		sig, err = s.ledger.SubmitTransaction(ctx, tx)
		if err == nil {
			return nil
		}
		if errors.Is(err, errors.KindLedgerExecution) {
			// Resubmitting would repeat the failure or double-spend.
			return backoff.Permanent(err)
		}
		s.logger.Warn("transient submission failure, retrying", "error", err)
		return err
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = s.initialBackoff
	policy.MaxInterval = 2 * time.Second

	err := backoff.Retry(op, backoff.WithMaxRetries(backoff.WithContext(policy, ctx), s.maxSubmitRetries))
	if err != nil {
		if errors.Is(err, errors.KindLedgerExecution) {
			return sig, err
		}
		return sig, errors.Wrap(err, errors.KindSubmissionFailed, "submission retries exhausted")
	}
	return sig, nil
}

func (s *Submitter) awaitConfirmation(ctx context.Context, sig solana.Signature, checkpoint ledger.Checkpoint) (*Receipt, error) {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		status, err := s.ledger.SignatureStatus(ctx, sig)
		if err != nil {
			// Transient status-poll failures do not abandon the attempt;
			// the blockhash horizon bounds the wait.
			s.logger.Warn("signature status query failed", "signature", sig.String(), "error", err)
		} else {
			if status.Failed() {
				return &Receipt{Signature: sig, Outcome: OutcomeFailed, ExecutionErr: status.ExecutionErr},
					errors.Newf(errors.KindLedgerExecution, "transaction failed on-ledger: %s", status.ExecutionErr)
			}
			if status.Level == ledger.ConfirmationFinalized {
				return &Receipt{Signature: sig, Outcome: OutcomeConfirmed}, nil
			}
		}

		height, err := s.ledger.BlockHeight(ctx)
		if err == nil && height > checkpoint.LastValidBlockHeight {
			return &Receipt{Signature: sig, Outcome: OutcomeTimedOut},
				errors.Newf(errors.KindConfirmationTimeout,
					"checkpoint expired before confirmation of %s; final state unknown", sig)
		}

		select {
		case <-ctx.Done():
			return &Receipt{Signature: sig, Outcome: OutcomeTimedOut},
				errors.Wrap(ctx.Err(), errors.KindConfirmationTimeout, "confirmation wait abandoned; final state unknown")
		case <-ticker.C:
		}
	}
}
