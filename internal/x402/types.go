// Package x402 implements the client side of the pay-per-request
// challenge/response protocol: a resource server answers 402 with
// structured payment requirements, and the client re-requests the
// resource carrying proof of payment in a header.
package x402

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// PaymentHeader carries the proof envelope on the retried request.
const PaymentHeader = "X-Payment"

// SchemeExact is the only payment scheme this client negotiates.
const SchemeExact = "exact"

// Version is the protocol version spoken by this client.
const Version = 1

// Challenge is the 402 response body.
type Challenge struct {
	X402Version int           `json:"x402Version"`
	Accepts     []Requirement `json:"accepts"`
	Error       string        `json:"error,omitempty"`
}

// Requirement is one acceptable payment option offered by the server.
// Ephemeral: fetched per access attempt, never persisted.
type Requirement struct {
	Scheme            string `json:"scheme"`
	Network           string `json:"network"`
	MaxAmountRequired string `json:"maxAmountRequired"`
	Resource          string `json:"resource"`
	Description       string `json:"description,omitempty"`
	MimeType          string `json:"mimeType,omitempty"`
	PayTo             string `json:"payTo"`
	MaxTimeoutSeconds int    `json:"maxTimeoutSeconds"`
	Asset             string `json:"asset"`
	Extra             Extra  `json:"extra"`
}

// Extra is provider data delivered out-of-band of the core protocol:
// the token mint and the recipient's raw wallet behind PayTo.
type Extra struct {
	Mint            string          `json:"mint,omitempty"`
	RecipientWallet string          `json:"recipientWallet,omitempty"`
	AmountUSDC      decimal.Decimal `json:"amountUSDC,omitempty"`
}

// AmountDecimal converts MaxAmountRequired (smallest asset unit) into
// human units at the given precision.
func (r Requirement) AmountDecimal(decimals int32) (decimal.Decimal, error) {
	base, err := decimal.NewFromString(r.MaxAmountRequired)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("bad maxAmountRequired %q: %w", r.MaxAmountRequired, err)
	}
	return base.Shift(-decimals), nil
}

// DisplayAmount renders the price for display, preferring the provider's
// explicit USDC hint.
func (r Requirement) DisplayAmount() string {
	if !r.Extra.AmountUSDC.IsZero() {
		return fmt.Sprintf("%s USDC", r.Extra.AmountUSDC)
	}
	amount, err := r.AmountDecimal(6)
	if err != nil {
		return r.MaxAmountRequired
	}
	return fmt.Sprintf("%s USDC", amount)
}

// ProofEnvelope is the payload the client sends instead of submitting
// the transaction itself: the server, not the client, performs ledger
// submission and verification.
type ProofEnvelope struct {
	X402Version int          `json:"x402Version"`
	Network     string       `json:"network"`
	Payload     ProofPayload `json:"payload"`
}

// ProofPayload wraps the signed, serialized transaction.
type ProofPayload struct {
	SerializedTransaction string `json:"serializedTransaction"`
}

// PaymentDetails is the settlement metadata a server attaches to the
// gated response.
type PaymentDetails struct {
	Signature string `json:"signature,omitempty"`
	Network   string `json:"network,omitempty"`
}

// Result is a successful negotiation: the gated payload plus whatever
// settlement metadata the server reported.
type Result struct {
	Content json.RawMessage
	Details PaymentDetails
}

type settledResponse struct {
	PaymentDetails PaymentDetails `json:"paymentDetails"`
}
