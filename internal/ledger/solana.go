package ledger

import (
	"context"
	stderrors "errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/jsonrpc"

	"github.com/stablepay/stablepay/internal/errors"
)

// SolanaClient implements Client against a Solana JSON-RPC endpoint.
type SolanaClient struct {
	rpc *rpc.Client
}

// NewSolanaClient connects to the given RPC endpoint.
func NewSolanaClient(endpoint string) *SolanaClient {
	return &SolanaClient{rpc: rpc.New(endpoint)}
}

func (c *SolanaClient) LatestCheckpoint(ctx context.Context) (Checkpoint, error) {
	out, err := c.rpc.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	if err != nil {
		return Checkpoint{}, errors.Wrap(err, errors.KindSubmissionTransient, "fetching latest blockhash")
	}
	return Checkpoint{
		Blockhash:            out.Value.Blockhash,
		LastValidBlockHeight: out.Value.LastValidBlockHeight,
	}, nil
}

func (c *SolanaClient) AccountExists(ctx context.Context, account solana.PublicKey) (bool, error) {
	_, err := c.rpc.GetAccountInfo(ctx, account)
	if err != nil {
		if stderrors.Is(err, rpc.ErrNotFound) {
			return false, nil
		}
		return false, errors.Wrap(err, errors.KindSubmissionTransient,
			fmt.Sprintf("querying account %s", account))
	}
	return true, nil
}

func (c *SolanaClient) SubmitTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	sig, err := c.rpc.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		PreflightCommitment: rpc.CommitmentConfirmed,
	})
	if err != nil {
		// Preflight simulation failures come back as JSON-RPC errors and
		// would fail identically on resubmission.
		var rpcErr *jsonrpc.RPCError
		if stderrors.As(err, &rpcErr) {
			return solana.Signature{}, errors.Wrap(err, errors.KindLedgerExecution, "transaction rejected by ledger")
		}
		return solana.Signature{}, errors.Wrap(err, errors.KindSubmissionTransient, "sending transaction")
	}
	return sig, nil
}

func (c *SolanaClient) SignatureStatus(ctx context.Context, sig solana.Signature) (SignatureStatus, error) {
	out, err := c.rpc.GetSignatureStatuses(ctx, false, sig)
	if err != nil {
		return SignatureStatus{}, errors.Wrap(err, errors.KindSubmissionTransient, "querying signature status")
	}
	if len(out.Value) == 0 || out.Value[0] == nil {
		return SignatureStatus{Level: ConfirmationUnknown}, nil
	}
	st := out.Value[0]
	status := SignatureStatus{Level: confirmationLevel(st.ConfirmationStatus)}
	if st.Err != nil {
		status.ExecutionErr = fmt.Sprintf("%v", st.Err)
	}
	return status, nil
}

func (c *SolanaClient) BlockHeight(ctx context.Context) (uint64, error) {
	height, err := c.rpc.GetBlockHeight(ctx, rpc.CommitmentConfirmed)
	if err != nil {
		return 0, errors.Wrap(err, errors.KindSubmissionTransient, "querying block height")
	}
	return height, nil
}

func confirmationLevel(s rpc.ConfirmationStatusType) ConfirmationLevel {
	switch s {
	case rpc.ConfirmationStatusProcessed:
		return ConfirmationProcessed
	case rpc.ConfirmationStatusConfirmed:
		return ConfirmationConfirmed
	case rpc.ConfirmationStatusFinalized:
		return ConfirmationFinalized
	default:
		return ConfirmationUnknown
	}
}
