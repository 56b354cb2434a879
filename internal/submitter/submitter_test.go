package submitter

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stablepay/stablepay/internal/errors"
	"github.com/stablepay/stablepay/internal/ledger"
	"github.com/stablepay/stablepay/internal/ledger/ledgertest"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fastSubmitter(client ledger.Client) *Submitter {
	return New(client, testLogger(),
		WithInitialBackoff(time.Millisecond),
		WithPollInterval(time.Millisecond))
}

func TestSubmitConfirms(t *testing.T) {
	fake := &ledgertest.Fake{}
	s := fastSubmitter(fake)

	receipt, err := s.Submit(context.Background(), &solana.Transaction{}, ledger.Checkpoint{LastValidBlockHeight: 100})
	require.NoError(t, err)
	assert.Equal(t, OutcomeConfirmed, receipt.Outcome)
	assert.Equal(t, 1, fake.SubmittedCount())
}

func TestSubmitRetriesTransientThenConfirms(t *testing.T) {
	fake := &ledgertest.Fake{
		SubmitErrs: []error{
			errors.New(errors.KindSubmissionTransient, "connection reset"),
			nil,
		},
	}
	s := fastSubmitter(fake)

	receipt, err := s.Submit(context.Background(), &solana.Transaction{}, ledger.Checkpoint{LastValidBlockHeight: 100})
	require.NoError(t, err)
	assert.Equal(t, OutcomeConfirmed, receipt.Outcome)
	assert.Equal(t, 1, fake.SubmittedCount())
}

func TestSubmitDoesNotRetryExecutionRejection(t *testing.T) {
	fake := &ledgertest.Fake{
		SubmitErrs: []error{
			errors.New(errors.KindLedgerExecution, "insufficient funds"),
			errors.New(errors.KindLedgerExecution, "insufficient funds"),
		},
	}
	s := fastSubmitter(fake)

	receipt, err := s.Submit(context.Background(), &solana.Transaction{}, ledger.Checkpoint{LastValidBlockHeight: 100})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.KindLedgerExecution))
	assert.Equal(t, OutcomeFailed, receipt.Outcome)
	assert.Len(t, fake.SubmitErrs, 1, "rejected exactly once, no resubmission")
}

func TestSubmitRetriesExhausted(t *testing.T) {
	transient := errors.New(errors.KindSubmissionTransient, "node unavailable")
	fake := &ledgertest.Fake{SubmitErrs: []error{transient, transient, transient, transient}}
	s := New(fake, testLogger(),
		WithInitialBackoff(time.Millisecond),
		WithMaxSubmitRetries(2))

	receipt, err := s.Submit(context.Background(), &solana.Transaction{}, ledger.Checkpoint{LastValidBlockHeight: 100})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.KindSubmissionFailed))
	assert.Equal(t, OutcomeFailed, receipt.Outcome)
	assert.Equal(t, 0, fake.SubmittedCount())
}

func TestOnLedgerFailureDuringConfirmation(t *testing.T) {
	fake := &ledgertest.Fake{
		Statuses: []ledger.SignatureStatus{{ExecutionErr: "custom program error: 0x1"}},
	}
	s := fastSubmitter(fake)

	receipt, err := s.Submit(context.Background(), &solana.Transaction{}, ledger.Checkpoint{LastValidBlockHeight: 100})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.KindLedgerExecution))
	assert.Equal(t, OutcomeFailed, receipt.Outcome)
	assert.Equal(t, "custom program error: 0x1", receipt.ExecutionErr)
}

func TestCheckpointExpiryTimesOut(t *testing.T) {
	fake := &ledgertest.Fake{
		// Never finalizes; the chain advances past the validity horizon.
		Statuses:   []ledger.SignatureStatus{{Level: ledger.ConfirmationProcessed}},
		Height:     10,
		HeightStep: 10,
	}
	s := fastSubmitter(fake)

	receipt, err := s.Submit(context.Background(), &solana.Transaction{}, ledger.Checkpoint{LastValidBlockHeight: 5})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.KindConfirmationTimeout))
	assert.Equal(t, OutcomeTimedOut, receipt.Outcome)
}

func TestAbandonedWaitTimesOut(t *testing.T) {
	fake := &ledgertest.Fake{
		Statuses: []ledger.SignatureStatus{{Level: ledger.ConfirmationProcessed}},
	}
	s := New(fake, testLogger(), WithPollInterval(time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	receipt, err := s.Submit(ctx, &solana.Transaction{}, ledger.Checkpoint{LastValidBlockHeight: 100})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.KindConfirmationTimeout))
	assert.Equal(t, OutcomeTimedOut, receipt.Outcome)
}
