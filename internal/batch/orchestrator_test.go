package batch

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stablepay/stablepay/internal/builder"
	"github.com/stablepay/stablepay/internal/domain"
	"github.com/stablepay/stablepay/internal/errors"
	"github.com/stablepay/stablepay/internal/ledger"
	"github.com/stablepay/stablepay/internal/ledger/ledgertest"
	"github.com/stablepay/stablepay/internal/signing"
	"github.com/stablepay/stablepay/internal/submitter"
)

// memRecorder captures bookkeeping writes in memory.
type memRecorder struct {
	mu        sync.Mutex
	records   []*domain.TransactionRecord
	batches   []*domain.BatchRun
	appendErr error
}

func (m *memRecorder) AppendRecord(ctx context.Context, record *domain.TransactionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.appendErr != nil {
		return m.appendErr
	}
	m.records = append(m.records, record)
	return nil
}

func (m *memRecorder) UpdateRecordStatus(context.Context, string, domain.RecordStatus, string) error {
	return nil
}

func (m *memRecorder) AppendBatch(ctx context.Context, run *domain.BatchRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batches = append(m.batches, run)
	return nil
}

func (m *memRecorder) ListRecords(context.Context) ([]domain.TransactionRecord, error) {
	return nil, nil
}

func (m *memRecorder) ListBatches(context.Context) ([]domain.BatchRun, error) { return nil, nil }

type fixture struct {
	fake     *ledgertest.Fake
	wallet   *solana.Wallet
	recorder *memRecorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return &fixture{
		fake:     &ledgertest.Fake{},
		wallet:   solana.NewWallet(),
		recorder: &memRecorder{},
	}
}

// orchestrator wires the fixture; a nil gateway signs with the fixture
// wallet.
func (f *fixture) orchestrator(gateway signing.Gateway) *Orchestrator {
	if gateway == nil {
		gateway = signing.NewKeypairGateway(f.wallet.PrivateKey)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	b := builder.New(f.fake, builder.Asset{
		Symbol:   "USDC",
		Mint:     solana.NewWallet().PublicKey(),
		Decimals: builder.USDCDecimals,
	})
	sub := submitter.New(f.fake, logger,
		submitter.WithInitialBackoff(time.Millisecond),
		submitter.WithPollInterval(time.Millisecond))
	return New(b, gateway, sub, f.recorder, logger)
}

func (f *fixture) intent(amount string) domain.PaymentIntent {
	return domain.PaymentIntent{
		Sender:    f.wallet.PublicKey().String(),
		Recipient: solana.NewWallet().PublicKey().String(),
		Amount:    decimal.RequireFromString(amount),
		Asset:     "USDC",
	}
}

func TestRunCompletesAllItems(t *testing.T) {
	f := newFixture(t)
	o := f.orchestrator(nil)
	run := domain.NewBatchRun("payroll", []domain.PaymentIntent{
		f.intent("10"), f.intent("20"), f.intent("30"),
	})

	require.NoError(t, o.Run(context.Background(), run))

	assert.Equal(t, domain.BatchCompleted, run.Status)
	assert.Empty(t, run.FailedItems())
	assert.Equal(t, 3, f.fake.SubmittedCount())
	require.Len(t, f.recorder.records, 3)
	for i, record := range f.recorder.records {
		assert.Equal(t, run.ID, record.BatchID, "item %d tagged with the run", i)
		assert.Equal(t, domain.RecordConfirmed, record.Status)
		assert.NotEmpty(t, record.Signature)
		assert.Equal(t, run.Items[i].Intent.Recipient, record.Intent.Recipient, "items processed in order")
	}
	require.Len(t, f.recorder.batches, 1)
}

func TestRunValidationGateBlocksEverything(t *testing.T) {
	f := newFixture(t)
	var signCalls int
	o := f.orchestrator(signing.GatewayFunc(func(ctx context.Context, tx *solana.Transaction) (*solana.Transaction, error) {
		signCalls++
		return tx, nil
	}))

	run := domain.NewBatchRun("bad", []domain.PaymentIntent{
		f.intent("10"),
		f.intent("0"), // invalid amount poisons the whole run
		f.intent("30"),
	})

	err := o.Run(context.Background(), run)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.KindValidation))

	assert.Equal(t, 0, signCalls, "nothing signed for an invalid run")
	assert.Equal(t, 0, f.fake.SubmittedCount())
	for _, item := range run.Items {
		assert.Equal(t, domain.ItemQueued, item.Status)
	}
	assert.Empty(t, f.recorder.records)
}

func TestRunContinuesPastSigningDecline(t *testing.T) {
	f := newFixture(t)
	keypair := signing.NewKeypairGateway(f.wallet.PrivateKey)

	var call int
	o := f.orchestrator(signing.GatewayFunc(func(ctx context.Context, tx *solana.Transaction) (*solana.Transaction, error) {
		call++
		if call == 2 {
			return nil, errors.UserRejected("declined in wallet")
		}
		return keypair.Sign(ctx, tx)
	}))

	run := domain.NewBatchRun("mixed", []domain.PaymentIntent{
		f.intent("1"), f.intent("2"), f.intent("3"),
	})

	require.NoError(t, o.Run(context.Background(), run))

	assert.Equal(t, domain.BatchPartiallyCompleted, run.Status)
	assert.Equal(t, []int{1}, run.FailedItems())
	assert.Equal(t, domain.ItemFailed, run.Items[1].Status)
	assert.Equal(t, domain.RecordRejected, run.Items[1].Record.Status)
	assert.Empty(t, run.Items[1].Record.Signature, "a rejected item never reached the ledger")
	assert.Equal(t, 2, f.fake.SubmittedCount(), "remaining items still settle")
}

func TestRunSurvivesRecorderFailure(t *testing.T) {
	f := newFixture(t)
	f.recorder.appendErr = errors.New(errors.KindHistory, "disk full")
	o := f.orchestrator(nil)

	run := domain.NewBatchRun("audit-degraded", []domain.PaymentIntent{f.intent("5")})
	require.NoError(t, o.Run(context.Background(), run))

	// Settled payments stay settled even when bookkeeping fails.
	assert.Equal(t, domain.BatchCompleted, run.Status)
	assert.Equal(t, 1, f.fake.SubmittedCount())
}

func TestPayConfirmed(t *testing.T) {
	f := newFixture(t)
	o := f.orchestrator(nil)

	record, err := o.Pay(context.Background(), f.intent("7.25"))
	require.NoError(t, err)
	assert.Equal(t, domain.RecordConfirmed, record.Status)
	assert.NotEmpty(t, record.Signature)
	assert.Empty(t, record.BatchID, "direct payments carry no batch tag")
}

func TestPayTimeoutIsIndeterminate(t *testing.T) {
	f := newFixture(t)
	// Chain already past the checkpoint horizon; status never finalizes.
	f.fake.Statuses = []ledger.SignatureStatus{{Level: ledger.ConfirmationProcessed}}
	f.fake.Height = 1
	o := f.orchestrator(nil)

	record, err := o.Pay(context.Background(), f.intent("7.25"))
	require.Error(t, err)
	assert.True(t, errors.IsIndeterminate(err))
	assert.Equal(t, domain.RecordPending, record.Status)
	assert.NotEmpty(t, record.Signature, "signature kept for later re-query")
}

func TestPayKeepsLedgerExecutionKind(t *testing.T) {
	f := newFixture(t)
	f.fake.SubmitErrs = []error{errors.New(errors.KindLedgerExecution, "insufficient funds")}
	o := f.orchestrator(nil)

	record, err := o.Pay(context.Background(), f.intent("9"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.KindLedgerExecution),
		"an on-ledger rejection is not a retries-exhausted failure")
	assert.Equal(t, domain.RecordFailed, record.Status)
	assert.Empty(t, record.Signature)
}

func TestPayRejectedSigning(t *testing.T) {
	f := newFixture(t)
	o := f.orchestrator(signing.GatewayFunc(func(ctx context.Context, tx *solana.Transaction) (*solana.Transaction, error) {
		return nil, errors.UserRejected("declined")
	}))

	record, err := o.Pay(context.Background(), f.intent("1"))
	require.Error(t, err)
	assert.True(t, errors.IsUserRejected(err))
	assert.Equal(t, domain.RecordRejected, record.Status)
	assert.Equal(t, 0, f.fake.SubmittedCount())
}
