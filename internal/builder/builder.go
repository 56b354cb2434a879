// Package builder turns payment intents into unsigned transfer
// transactions ready for signing.
package builder

import (
	"context"

	"github.com/gagliardetto/solana-go"
	associatedtokenaccount "github.com/gagliardetto/solana-go/programs/associated-token-account"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/shopspring/decimal"

	"github.com/stablepay/stablepay/internal/domain"
	"github.com/stablepay/stablepay/internal/errors"
	"github.com/stablepay/stablepay/internal/ledger"
)

// Asset identifies a token and its precision.
type Asset struct {
	Symbol   string
	Mint     solana.PublicKey
	Decimals uint8
}

// USDCDecimals is the precision of the stablecoin in use.
const USDCDecimals uint8 = 6

// BuiltTransaction is an unsigned transfer plus the context needed to
// submit and confirm it. Owned by the orchestration step that built it;
// a stale checkpoint means rebuild, never resubmit.
type BuiltTransaction struct {
	Tx              *solana.Transaction
	Checkpoint      ledger.Checkpoint
	AmountBaseUnits uint64
	// CreatesRecipientAccount reports that the build discovered no
	// recipient token account and prepended a creation instruction.
	CreatesRecipientAccount bool
}

// Builder constructs transfer transactions. Pure with respect to the
// intent: its only ledger access is read-only existence and checkpoint
// queries.
type Builder struct {
	ledger ledger.Client
	assets map[string]Asset
}

// New creates a Builder with the given asset registry.
func New(client ledger.Client, assets ...Asset) *Builder {
	registry := make(map[string]Asset, len(assets))
	for _, a := range assets {
		registry[a.Symbol] = a
	}
	return &Builder{ledger: client, assets: registry}
}

// ResolveAsset looks up a registered asset by symbol.
func (b *Builder) ResolveAsset(symbol string) (Asset, error) {
	asset, ok := b.assets[symbol]
	if !ok {
		return Asset{}, errors.Newf(errors.KindValidation, "unknown asset %q", symbol)
	}
	return asset, nil
}

// Build constructs a transfer for an intent whose asset is registered.
func (b *Builder) Build(ctx context.Context, intent domain.PaymentIntent) (*BuiltTransaction, error) {
	asset, err := b.ResolveAsset(intent.Asset)
	if err != nil {
		return nil, err
	}
	return b.BuildWithAsset(ctx, intent, asset)
}

// BuildWithAsset constructs a transfer using an explicitly supplied
// asset, e.g. a mint delivered out-of-band by an x402 requirement.
func (b *Builder) BuildWithAsset(ctx context.Context, intent domain.PaymentIntent, asset Asset) (*BuiltTransaction, error) {
	amount, err := AmountToBaseUnits(intent.Amount, asset.Decimals)
	if err != nil {
		return nil, err
	}

	sender, err := solana.PublicKeyFromBase58(intent.Sender)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindValidation, "invalid sender address")
	}
	recipient, err := solana.PublicKeyFromBase58(intent.Recipient)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindValidation, "invalid recipient address")
	}

	// Token sub-accounts derive deterministically from (owner, mint).
	senderATA, _, err := solana.FindAssociatedTokenAddress(sender, asset.Mint)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindInternal, "deriving sender token account")
	}
	recipientATA, _, err := solana.FindAssociatedTokenAddress(recipient, asset.Mint)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindInternal, "deriving recipient token account")
	}

	recipientExists, err := b.ledger.AccountExists(ctx, recipientATA)
	if err != nil {
		return nil, err
	}

	var instructions []solana.Instruction
	if !recipientExists {
		instructions = append(instructions,
			associatedtokenaccount.NewCreateInstruction(sender, recipient, asset.Mint).Build())
	}
	instructions = append(instructions,
		token.NewTransferCheckedInstruction(
			amount, asset.Decimals,
			senderATA, asset.Mint, recipientATA,
			sender, nil,
		).Build())
	if intent.Memo != "" {
		instructions = append(instructions,
			solana.NewInstruction(solana.MemoProgramID, solana.AccountMetaSlice{}, []byte(intent.Memo)))
	}

	checkpoint, err := b.ledger.LatestCheckpoint(ctx)
	if err != nil {
		return nil, err
	}

	tx, err := solana.NewTransaction(instructions, checkpoint.Blockhash, solana.TransactionPayer(sender))
	if err != nil {
		return nil, errors.Wrap(err, errors.KindInternal, "assembling transaction")
	}

	return &BuiltTransaction{
		Tx:                      tx,
		Checkpoint:              checkpoint,
		AmountBaseUnits:         amount,
		CreatesRecipientAccount: !recipientExists,
	}, nil
}

// AmountToBaseUnits converts a human-unit decimal amount to the asset's
// smallest integer unit. Non-positive amounts are rejected; fractional
// digits beyond the asset's precision are rounded half-up.
func AmountToBaseUnits(amount decimal.Decimal, decimals uint8) (uint64, error) {
	if !amount.IsPositive() {
		return 0, errors.Newf(errors.KindValidation, "invalid amount %s: must be positive", amount)
	}
	shifted := amount.Shift(int32(decimals)).Round(0)
	units := shifted.BigInt()
	if !units.IsUint64() {
		return 0, errors.Newf(errors.KindValidation, "invalid amount %s: exceeds transferable range", amount)
	}
	u := units.Uint64()
	if u == 0 {
		return 0, errors.Newf(errors.KindValidation, "invalid amount %s: below asset precision", amount)
	}
	return u, nil
}
