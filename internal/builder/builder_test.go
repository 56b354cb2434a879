package builder

import (
	"context"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stablepay/stablepay/internal/domain"
	"github.com/stablepay/stablepay/internal/errors"
	"github.com/stablepay/stablepay/internal/ledger/ledgertest"
)

func TestAmountToBaseUnits(t *testing.T) {
	cases := []struct {
		name    string
		amount  string
		want    uint64
		wantErr bool
	}{
		{"whole units", "5", 5_000_000, false},
		{"trailing zeros", "100.00", 100_000_000, false},
		{"smallest unit", "0.000001", 1, false},
		{"rounds half up past precision", "0.0000015", 2, false},
		{"below precision", "0.0000001", 0, true},
		{"zero", "0", 0, true},
		{"negative", "-3", 0, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := AmountToBaseUnits(decimal.RequireFromString(tc.amount), USDCDecimals)
			if tc.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, errors.KindValidation))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func testAsset() Asset {
	return Asset{Symbol: "USDC", Mint: solana.NewWallet().PublicKey(), Decimals: USDCDecimals}
}

func testIntent(sender, recipient solana.PublicKey, amount string) domain.PaymentIntent {
	return domain.PaymentIntent{
		Sender:    sender.String(),
		Recipient: recipient.String(),
		Amount:    decimal.RequireFromString(amount),
		Asset:     "USDC",
	}
}

func TestBuildExistingRecipientAccount(t *testing.T) {
	fake := &ledgertest.Fake{}
	asset := testAsset()
	sender := solana.NewWallet().PublicKey()
	recipient := solana.NewWallet().PublicKey()

	b := New(fake, asset)
	built, err := b.Build(context.Background(), testIntent(sender, recipient, "12.5"))
	require.NoError(t, err)

	assert.False(t, built.CreatesRecipientAccount)
	assert.Len(t, built.Tx.Message.Instructions, 1)
	assert.Equal(t, uint64(12_500_000), built.AmountBaseUnits)
	assert.Equal(t, sender, built.Tx.Message.AccountKeys[0], "sender pays the fee")

	// Existence was decided by querying the derived token account.
	recipientATA, _, err := solana.FindAssociatedTokenAddress(recipient, asset.Mint)
	require.NoError(t, err)
	assert.Contains(t, fake.AccountQueries, recipientATA)

	// Rebuilding the same intent never emits a creation instruction for
	// an account that already exists.
	rebuilt, err := b.Build(context.Background(), testIntent(sender, recipient, "12.5"))
	require.NoError(t, err)
	assert.Len(t, rebuilt.Tx.Message.Instructions, 1)
	assert.Equal(t, built.AmountBaseUnits, rebuilt.AmountBaseUnits)
}

func TestBuildPrependsCreateInstruction(t *testing.T) {
	fake := &ledgertest.Fake{}
	asset := testAsset()
	sender := solana.NewWallet().PublicKey()
	recipient := solana.NewWallet().PublicKey()

	recipientATA, _, err := solana.FindAssociatedTokenAddress(recipient, asset.Mint)
	require.NoError(t, err)
	fake.MarkMissing(recipientATA)

	b := New(fake, asset)
	built, err := b.Build(context.Background(), testIntent(sender, recipient, "100.00"))
	require.NoError(t, err)

	assert.True(t, built.CreatesRecipientAccount)
	assert.Len(t, built.Tx.Message.Instructions, 2, "create instruction precedes the transfer")
	assert.Equal(t, uint64(100_000_000), built.AmountBaseUnits)
}

func TestBuildAppendsMemo(t *testing.T) {
	fake := &ledgertest.Fake{}
	b := New(fake, testAsset())

	intent := testIntent(solana.NewWallet().PublicKey(), solana.NewWallet().PublicKey(), "2")
	intent.Memo = "invoice 42"

	built, err := b.Build(context.Background(), intent)
	require.NoError(t, err)
	assert.Len(t, built.Tx.Message.Instructions, 2)
}

func TestBuildRejectsUnknownAsset(t *testing.T) {
	b := New(&ledgertest.Fake{}, testAsset())
	intent := testIntent(solana.NewWallet().PublicKey(), solana.NewWallet().PublicKey(), "1")
	intent.Asset = "EURC"

	_, err := b.Build(context.Background(), intent)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.KindValidation))
}

func TestBuildRejectsBadRecipientAddress(t *testing.T) {
	b := New(&ledgertest.Fake{}, testAsset())
	intent := testIntent(solana.NewWallet().PublicKey(), solana.NewWallet().PublicKey(), "1")
	intent.Recipient = "not-an-address"

	_, err := b.Build(context.Background(), intent)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.KindValidation))
}

func TestBuildCarriesCheckpoint(t *testing.T) {
	fake := &ledgertest.Fake{}
	fake.Checkpoint.LastValidBlockHeight = 900

	b := New(fake, testAsset())
	built, err := b.Build(context.Background(), testIntent(solana.NewWallet().PublicKey(), solana.NewWallet().PublicKey(), "1"))
	require.NoError(t, err)
	assert.Equal(t, uint64(900), built.Checkpoint.LastValidBlockHeight)
}
