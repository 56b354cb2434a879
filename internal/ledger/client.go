// Package ledger narrows the blockchain RPC surface to the four
// capabilities the orchestration core needs: account-info queries,
// recent-checkpoint queries, transaction submission, and confirmation
// queries.
package ledger

import (
	"context"

	"github.com/gagliardetto/solana-go"
)

// Checkpoint is a short-lived reference a transaction must cite. Once
// the chain's block height passes LastValidBlockHeight the transaction
// can no longer be submitted and must be rebuilt.
type Checkpoint struct {
	Blockhash            solana.Hash
	LastValidBlockHeight uint64
}

// ConfirmationLevel reports how far a submitted transaction has
// progressed toward finality.
type ConfirmationLevel string

const (
	ConfirmationUnknown   ConfirmationLevel = "unknown"
	ConfirmationProcessed ConfirmationLevel = "processed"
	ConfirmationConfirmed ConfirmationLevel = "confirmed"
	ConfirmationFinalized ConfirmationLevel = "finalized"
)

// SignatureStatus is the observed state of one submitted transaction.
type SignatureStatus struct {
	Level ConfirmationLevel
	// ExecutionErr carries the on-ledger execution error, empty when the
	// transaction executed cleanly (or has not been observed yet).
	ExecutionErr string
}

// Failed reports an on-ledger execution error.
func (s SignatureStatus) Failed() bool { return s.ExecutionErr != "" }

// Client is the ledger RPC contract consumed by the core.
type Client interface {
	// LatestCheckpoint fetches a fresh blockhash and its validity horizon.
	LatestCheckpoint(ctx context.Context) (Checkpoint, error)

	// AccountExists reports whether the account is present on-ledger.
	AccountExists(ctx context.Context, account solana.PublicKey) (bool, error)

	// SubmitTransaction sends a signed transaction. Errors are classified:
	// transport failures carry KindSubmissionTransient, preflight or
	// execution rejections carry KindLedgerExecution.
	SubmitTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error)

	// SignatureStatus queries confirmation progress for a signature.
	SignatureStatus(ctx context.Context, sig solana.Signature) (SignatureStatus, error)

	// BlockHeight returns the chain's current block height, used to
	// bound confirmation waits by the checkpoint's validity horizon.
	BlockHeight(ctx context.Context) (uint64, error)
}
