package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"time"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"

	"github.com/stablepay/stablepay/internal/errors"
	"github.com/stablepay/stablepay/internal/ledger"
	"github.com/stablepay/stablepay/internal/submitter"
	"github.com/stablepay/stablepay/internal/x402"
)

// blockhashValidityMargin approximates how many blocks a just-signed
// transaction's checkpoint stays valid. The server does not know the
// client's exact horizon, so the wait is bounded by this margin past the
// height observed at settlement start.
const blockhashValidityMargin = 150

// Settler turns a payment proof into a settled ledger transaction. The
// client shifted settlement authority here: it sent a signed transaction
// it never submitted, and this server submits, confirms, and only then
// releases the gated resource.
type Settler struct {
	store     *Store
	ledger    ledger.Client
	submitter *submitter.Submitter
	network   string
	logger    *slog.Logger
}

// NewSettler wires a Settler.
func NewSettler(store *Store, client ledger.Client, sub *submitter.Submitter, network string, logger *slog.Logger) *Settler {
	return &Settler{
		store:     store,
		ledger:    client,
		submitter: sub,
		network:   network,
		logger:    logger.With("component", "settler"),
	}
}

// Settle decodes and settles one X-Payment proof header. Settlement is
// idempotent on the transaction signature: a replayed proof returns the
// cached result without a second ledger submission, and failed attempts
// are released for retry rather than cached.
func (s *Settler) Settle(ctx context.Context, proofHeader, resource string) (*x402.PaymentDetails, error) {
	tx, envelope, err := decodeProof(proofHeader)
	if err != nil {
		return nil, err
	}
	if s.network != "" && envelope.Network != s.network {
		return nil, errors.Newf(errors.KindServerVerification,
			"proof is for network %q, this resource settles on %q", envelope.Network, s.network)
	}
	if len(tx.Signatures) == 0 || tx.Signatures[0].IsZero() {
		return nil, errors.New(errors.KindServerVerification, "proof transaction is unsigned")
	}
	signature := tx.Signatures[0].String()

	if existing, err := s.store.LookupSettlement(ctx, signature); err != nil {
		if err == ErrSettleInProgress {
			return nil, errors.Wrap(err, errors.KindServerVerification, "proof already being settled")
		}
		return nil, errors.Wrap(err, errors.KindInternal, "settlement lookup")
	} else if existing != nil {
		s.logger.Info("replayed proof answered from cache", "signature", signature)
		return &x402.PaymentDetails{Signature: existing.Signature, Network: s.network}, nil
	}

	if err := s.store.ReserveSettlement(ctx, signature, resource); err != nil {
		if err == ErrSettleInProgress {
			return nil, errors.Wrap(err, errors.KindServerVerification, "proof already being settled")
		}
		return nil, errors.Wrap(err, errors.KindInternal, "settlement reservation")
	}

	height, err := s.ledger.BlockHeight(ctx)
	if err != nil {
		s.release(ctx, signature)
		return nil, errors.Wrap(err, errors.KindServerVerification, "ledger unavailable for settlement")
	}

	receipt, err := s.submitter.Submit(ctx, tx, ledger.Checkpoint{
		LastValidBlockHeight: height + blockhashValidityMargin,
	})
	if err != nil {
		s.release(ctx, signature)
		return nil, errors.Wrap(err, errors.KindServerVerification, "payment transaction did not settle")
	}

	payer := ""
	if accounts := tx.Message.AccountKeys; len(accounts) > 0 {
		payer = accounts[0].String()
	}
	settled := &SettledPayment{
		Signature: receipt.Signature.String(),
		Payer:     payer,
		Resource:  resource,
		SettledAt: time.Now().UTC(),
	}
	if err := s.store.CompleteSettlement(ctx, settled); err != nil {
		// The payment is on-ledger; losing the cache entry only costs a
		// future replay lookup.
		s.logger.Error("recording settlement failed", "signature", signature, "error", err)
	}

	s.logger.Info("proof settled", "signature", signature, "payer", payer, "resource", resource)
	return &x402.PaymentDetails{Signature: receipt.Signature.String(), Network: s.network}, nil
}

func (s *Settler) release(ctx context.Context, signature string) {
	if err := s.store.ReleaseSettlement(ctx, signature); err != nil {
		s.logger.Error("releasing settlement reservation failed", "signature", signature, "error", err)
	}
}

func decodeProof(header string) (*solana.Transaction, *x402.ProofEnvelope, error) {
	decoded, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		return nil, nil, errors.Wrap(err, errors.KindServerVerification, "payment header is not base64")
	}
	var envelope x402.ProofEnvelope
	if err := json.Unmarshal(decoded, &envelope); err != nil {
		return nil, nil, errors.Wrap(err, errors.KindServerVerification, "payment header is not a proof envelope")
	}
	raw, err := base64.StdEncoding.DecodeString(envelope.Payload.SerializedTransaction)
	if err != nil {
		return nil, nil, errors.Wrap(err, errors.KindServerVerification, "proof transaction is not base64")
	}
	tx, err := solana.TransactionFromDecoder(bin.NewBinDecoder(raw))
	if err != nil {
		return nil, nil, errors.Wrap(err, errors.KindServerVerification, "proof transaction does not deserialize")
	}
	return tx, &envelope, nil
}
