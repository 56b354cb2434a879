package x402

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"

	"github.com/stablepay/stablepay/internal/builder"
	"github.com/stablepay/stablepay/internal/domain"
	"github.com/stablepay/stablepay/internal/errors"
	"github.com/stablepay/stablepay/internal/history"
	"github.com/stablepay/stablepay/internal/signing"
)

// State is the negotiation machine:
// Idle -> RequirementsFetched -> Processing -> (Success | Errored).
// Errored restarts into Processing on manual retry, never automatically.
type State string

const (
	StateIdle                State = "idle"
	StateRequirementsFetched State = "requirements_fetched"
	StateProcessing          State = "processing"
	StateSuccess             State = "success"
	StateErrored             State = "errored"
)

// Client negotiates paid access to a gated resource.
type Client struct {
	http     *http.Client
	builder  *builder.Builder
	gateway  signing.Gateway
	recorder history.Recorder
	logger   *slog.Logger

	wallet    string // payer wallet address; empty means not connected
	network   string
	maxAmount decimal.Decimal // zero means unlimited

	mu          sync.Mutex
	state       State
	resourceURL string
	requirement *Requirement
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the transport (tests).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithMaxAmount caps what the client will agree to pay per access, in
// human units.
func WithMaxAmount(max decimal.Decimal) Option {
	return func(c *Client) { c.maxAmount = max }
}

// WithRecorder enables post-success bookkeeping.
func WithRecorder(r history.Recorder) Option {
	return func(c *Client) { c.recorder = r }
}

// NewClient creates a negotiation client for one payer wallet.
func NewClient(b *builder.Builder, g signing.Gateway, wallet, network string, logger *slog.Logger, opts ...Option) *Client {
	c := &Client{
		http:     &http.Client{Timeout: 30 * time.Second},
		builder:  b,
		gateway:  g,
		recorder: history.Discard{},
		logger:   logger.With("component", "x402"),
		wallet:   wallet,
		network:  network,
		state:    StateIdle,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State reports the current machine state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Requirement returns the selected payment option, if any.
func (c *Client) Requirement() *Requirement {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.requirement
}

// Fetch GETs the resource and selects a payment option from its
// challenge. A non-402 response or an empty/unusable accepts list leaves
// the client Idle with nothing signed.
func (c *Client) Fetch(ctx context.Context, resourceURL string) (*Requirement, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, resourceURL, nil)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindProtocol, "building resource request")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindProtocol, "requirement fetch failed")
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindProtocol, "reading challenge response")
	}

	if resp.StatusCode != http.StatusPaymentRequired {
		return nil, errors.Newf(errors.KindProtocol,
			"expected a payment challenge, server answered %d", resp.StatusCode)
	}

	var challenge Challenge
	if err := json.Unmarshal(body, &challenge); err != nil {
		return nil, errors.Wrap(err, errors.KindProtocol, "invalid requirement: malformed challenge body")
	}
	if len(challenge.Accepts) == 0 {
		return nil, errors.Protocol("invalid requirement: challenge offers no payment options")
	}

	requirement, err := c.selectRequirement(challenge.Accepts)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.state = StateRequirementsFetched
	c.resourceURL = resourceURL
	c.requirement = requirement
	c.mu.Unlock()
	return requirement, nil
}

// selectRequirement applies the only negotiation strategy implemented:
// first-offer-accept. The protocol does not shop among multiple offers;
// the first exact-scheme entry on the client's network wins.
func (c *Client) selectRequirement(accepts []Requirement) (*Requirement, error) {
	for i := range accepts {
		r := accepts[i]
		if r.Scheme != SchemeExact {
			continue
		}
		if c.network != "" && r.Network != "" && r.Network != c.network {
			continue
		}
		return &r, nil
	}
	return nil, errors.Protocol("invalid requirement: no acceptable payment option in challenge")
}

// Pay builds, signs, and proves payment for the previously fetched
// requirement, then returns the gated payload. The signed transaction is
// never submitted to the ledger by the client; settlement authority
// stays with the resource server.
func (c *Client) Pay(ctx context.Context) (*Result, error) {
	c.mu.Lock()
	if c.state != StateRequirementsFetched && c.state != StateErrored {
		state := c.state
		c.mu.Unlock()
		return nil, errors.Newf(errors.KindProtocol, "no requirement to pay in state %q", state)
	}
	c.state = StateProcessing
	requirement := c.requirement
	resourceURL := c.resourceURL
	c.mu.Unlock()

	result, err := c.pay(ctx, requirement, resourceURL)
	c.mu.Lock()
	switch {
	case err == nil:
		c.state = StateSuccess
	case errors.Is(err, errors.KindServerVerification):
		// Retryable: re-running Pay re-signs and re-proves.
		c.state = StateErrored
	default:
		// Nothing moved; the resource stays inaccessible.
		c.state = StateIdle
	}
	c.mu.Unlock()
	return result, err
}

// Get is Fetch followed by Pay.
func (c *Client) Get(ctx context.Context, resourceURL string) (*Result, error) {
	if _, err := c.Fetch(ctx, resourceURL); err != nil {
		return nil, err
	}
	return c.Pay(ctx)
}

func (c *Client) pay(ctx context.Context, requirement *Requirement, resourceURL string) (*Result, error) {
	if c.wallet == "" {
		return nil, errors.Configuration("wallet not connected")
	}
	if requirement.Extra.Mint == "" {
		return nil, errors.Protocol("missing mint info: provider supplied no token mint")
	}
	recipient := requirement.Extra.RecipientWallet
	if recipient == "" {
		return nil, errors.Protocol("missing recipient info: provider supplied no recipient wallet")
	}
	mint, err := solana.PublicKeyFromBase58(requirement.Extra.Mint)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindProtocol, "missing mint info: provider mint is not a valid address")
	}

	amount, err := requirement.AmountDecimal(int32(builder.USDCDecimals))
	if err != nil {
		return nil, errors.Wrap(err, errors.KindProtocol, "invalid requirement amount")
	}
	if !c.maxAmount.IsZero() && amount.GreaterThan(c.maxAmount) {
		return nil, errors.Newf(errors.KindValidation,
			"requirement of %s exceeds the configured maximum of %s", amount, c.maxAmount)
	}

	intent := domain.PaymentIntent{
		Sender:    c.wallet,
		Recipient: recipient,
		Amount:    amount,
		Asset:     requirement.Asset,
	}
	built, err := c.builder.BuildWithAsset(ctx, intent, builder.Asset{
		Symbol:   "USDC",
		Mint:     mint,
		Decimals: builder.USDCDecimals,
	})
	if err != nil {
		return nil, err
	}

	signed, err := c.gateway.Sign(ctx, built.Tx)
	if err != nil {
		if errors.IsUserRejected(err) {
			c.logger.Info("signing declined, resource stays inaccessible")
			return nil, err
		}
		return nil, err
	}

	header, err := encodeProof(signed, requirement.Network)
	if err != nil {
		return nil, err
	}

	if requirement.MaxTimeoutSeconds > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(requirement.MaxTimeoutSeconds)*time.Second)
		defer cancel()
	}

	result, err := c.submitProof(ctx, resourceURL, header)
	if err != nil {
		return nil, err
	}

	record := domain.NewTransactionRecord(intent, "")
	record.Status = domain.RecordConfirmed
	record.Signature = result.Details.Signature
	if record.Signature == "" && len(signed.Signatures) > 0 {
		// Some servers settle without echoing the transaction signature.
		// The client signed the transfer, so the signature is known
		// locally; confirmed records always carry one.
		record.Signature = signed.Signatures[0].String()
	}
	if appendErr := c.recorder.AppendRecord(ctx, record); appendErr != nil {
		c.logger.Warn("recording x402 payment failed", "error", appendErr)
	}
	return result, nil
}

// encodeProof double-encodes the envelope: the signed transaction bytes
// are base64 inside the JSON envelope, and the envelope itself is base64
// for the header.
func encodeProof(tx *solana.Transaction, network string) (string, error) {
	raw, err := tx.MarshalBinary()
	if err != nil {
		return "", errors.Wrap(err, errors.KindInternal, "serializing signed transaction")
	}
	envelope := ProofEnvelope{
		X402Version: Version,
		Network:     network,
		Payload: ProofPayload{
			SerializedTransaction: base64.StdEncoding.EncodeToString(raw),
		},
	}
	encoded, err := json.Marshal(envelope)
	if err != nil {
		return "", errors.Wrap(err, errors.KindInternal, "encoding proof envelope")
	}
	return base64.StdEncoding.EncodeToString(encoded), nil
}

func (c *Client) submitProof(ctx context.Context, resourceURL, header string) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, resourceURL, nil)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindInternal, "building proof request")
	}
	req.Header.Set(PaymentHeader, header)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindServerVerification, "proof submission failed")
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindServerVerification, "reading settlement response")
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Pass the server's message through verbatim.
		return nil, errors.Newf(errors.KindServerVerification,
			"server rejected payment proof: %s", serverMessage(body, resp.StatusCode))
	}

	// The server verified settlement; no client-side confirmation poll.
	var settled settledResponse
	_ = json.Unmarshal(body, &settled)
	return &Result{Content: body, Details: settled.PaymentDetails}, nil
}

func serverMessage(body []byte, status int) string {
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		if payload.Error != "" {
			return payload.Error
		}
		if payload.Message != "" {
			return payload.Message
		}
	}
	if len(body) > 0 {
		const max = 200
		if len(body) > max {
			return string(body[:max])
		}
		return string(body)
	}
	return http.StatusText(status)
}
