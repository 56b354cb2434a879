// Package signing abstracts the wallet that holds transfer authority.
package signing

import (
	"context"
	"os"
	"sync"

	"github.com/gagliardetto/solana-go"

	"github.com/stablepay/stablepay/internal/errors"
)

// Gateway requests a signature for a transaction. A decline by the
// holder of signing authority is a first-class outcome (KindUserRejected),
// not a crash; batch callers branch on it without aborting the run.
//
// A signing authority is a single shared resource per session:
// implementations must hold at most one pending signature request at a
// time.
type Gateway interface {
	Sign(ctx context.Context, tx *solana.Transaction) (*solana.Transaction, error)
}

// KeypairGateway signs with a locally loaded keypair. A mutex serializes
// requests so concurrent callers queue rather than race.
type KeypairGateway struct {
	mu  sync.Mutex
	key solana.PrivateKey
}

// NewKeypairGateway wraps an in-memory private key.
func NewKeypairGateway(key solana.PrivateKey) *KeypairGateway {
	return &KeypairGateway{key: key}
}

// LoadKeypairGateway reads a Solana keygen file.
func LoadKeypairGateway(path string) (*KeypairGateway, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, errors.Wrap(err, errors.KindConfiguration, "keypair file not found")
	}
	key, err := solana.PrivateKeyFromSolanaKeygenFile(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindConfiguration, "loading keypair file")
	}
	return &KeypairGateway{key: key}, nil
}

// PublicKey returns the signing authority's wallet address.
func (g *KeypairGateway) PublicKey() solana.PublicKey {
	return g.key.PublicKey()
}

func (g *KeypairGateway) Sign(ctx context.Context, tx *solana.Transaction) (*solana.Transaction, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(err, errors.KindUserRejected, "signing abandoned before start")
	}

	_, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(g.key.PublicKey()) {
			return &g.key
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.KindInternal, "signing transaction")
	}
	return tx, nil
}

// GatewayFunc adapts a function to the Gateway interface.
type GatewayFunc func(ctx context.Context, tx *solana.Transaction) (*solana.Transaction, error)

func (f GatewayFunc) Sign(ctx context.Context, tx *solana.Transaction) (*solana.Transaction, error) {
	return f(ctx, tx)
}
