// Package ledgertest provides a scripted in-memory ledger.Client for
// package tests.
package ledgertest

import (
	"context"
	"sync"

	"github.com/gagliardetto/solana-go"

	"github.com/stablepay/stablepay/internal/ledger"
)

// Fake is a scripted ledger.Client. Zero value is usable: every account
// exists, submissions succeed, and the first status poll reports a
// finalized clean execution.
type Fake struct {
	mu sync.Mutex

	Checkpoint    ledger.Checkpoint
	CheckpointErr error

	// MissingAccounts marks accounts that do not exist on-ledger.
	MissingAccounts map[solana.PublicKey]bool
	AccountErr      error
	// AccountQueries records every existence check, in order.
	AccountQueries []solana.PublicKey

	// SubmitErrs are consumed one per SubmitTransaction call; a nil entry
	// (or exhaustion) means success.
	SubmitErrs []error
	Submitted  []*solana.Transaction

	// Statuses are consumed one per SignatureStatus call; the last entry
	// repeats once exhausted.
	Statuses   []ledger.SignatureStatus
	StatusErr  error
	statusCall int

	// Height advances by HeightStep on every BlockHeight call.
	Height     uint64
	HeightStep uint64
}

func (f *Fake) LatestCheckpoint(ctx context.Context) (ledger.Checkpoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.CheckpointErr != nil {
		return ledger.Checkpoint{}, f.CheckpointErr
	}
	return f.Checkpoint, nil
}

func (f *Fake) AccountExists(ctx context.Context, account solana.PublicKey) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.AccountQueries = append(f.AccountQueries, account)
	if f.AccountErr != nil {
		return false, f.AccountErr
	}
	return !f.MissingAccounts[account], nil
}

func (f *Fake) SubmitTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var err error
	if len(f.SubmitErrs) > 0 {
		err, f.SubmitErrs = f.SubmitErrs[0], f.SubmitErrs[1:]
	}
	if err != nil {
		return solana.Signature{}, err
	}
	f.Submitted = append(f.Submitted, tx)
	if len(tx.Signatures) > 0 {
		return tx.Signatures[0], nil
	}
	return solana.Signature{}, nil
}

func (f *Fake) SignatureStatus(ctx context.Context, sig solana.Signature) (ledger.SignatureStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.StatusErr != nil {
		return ledger.SignatureStatus{}, f.StatusErr
	}
	if len(f.Statuses) == 0 {
		return ledger.SignatureStatus{Level: ledger.ConfirmationFinalized}, nil
	}
	i := f.statusCall
	if i >= len(f.Statuses) {
		i = len(f.Statuses) - 1
	}
	f.statusCall++
	return f.Statuses[i], nil
}

func (f *Fake) BlockHeight(ctx context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	h := f.Height
	f.Height += f.HeightStep
	return h, nil
}

// MarkMissing marks an account as absent on-ledger.
func (f *Fake) MarkMissing(account solana.PublicKey) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.MissingAccounts == nil {
		f.MissingAccounts = make(map[solana.PublicKey]bool)
	}
	f.MissingAccounts[account] = true
}

// SubmittedCount returns how many transactions reached the fake ledger.
func (f *Fake) SubmittedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Submitted)
}
