package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PaymentIntent is one desired transfer, in human units. Immutable once
// created; produced by a caller or by an x402 requirement.
type PaymentIntent struct {
	Sender    string          `json:"sender"`
	Recipient string          `json:"recipient"`
	Amount    decimal.Decimal `json:"amount"`
	Asset     string          `json:"asset"`
	Memo      string          `json:"memo,omitempty"`
}

// RecordStatus is the lifecycle of a submitted transfer.
type RecordStatus string

const (
	RecordPending   RecordStatus = "pending"
	RecordConfirmed RecordStatus = "confirmed"
	RecordFailed    RecordStatus = "failed"
	RecordRejected  RecordStatus = "rejected"
)

// TransactionRecord is the durable result of a transfer attempt.
// Append-only: records are created at submission time and only the
// confirmation step updates their status. Signature is set iff the
// status is pending or confirmed; failed and rejected attempts never
// reached the ledger under a known signature.
type TransactionRecord struct {
	ID        string        `json:"id"`
	Intent    PaymentIntent `json:"intent"`
	Signature string        `json:"signature,omitempty"`
	Status    RecordStatus  `json:"status"`
	Error     string        `json:"error,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
	BatchID   string        `json:"batch_id,omitempty"`
}

// NewTransactionRecord creates a record for one intent.
func NewTransactionRecord(intent PaymentIntent, batchID string) *TransactionRecord {
	return &TransactionRecord{
		ID:        uuid.NewString(),
		Intent:    intent,
		Status:    RecordPending,
		Timestamp: time.Now().UTC(),
		BatchID:   batchID,
	}
}

// ItemStatus is the visible state of one batch item.
type ItemStatus string

const (
	ItemQueued     ItemStatus = "queued"
	ItemProcessing ItemStatus = "processing"
	ItemCompleted  ItemStatus = "completed"
	ItemFailed     ItemStatus = "failed"
)

// BatchItem pairs an intent with its outcome.
type BatchItem struct {
	Intent PaymentIntent      `json:"intent"`
	Status ItemStatus         `json:"status"`
	Record *TransactionRecord `json:"record,omitempty"`
}

// BatchStatus is the aggregate state of a run, derived from its items.
type BatchStatus string

const (
	BatchPending            BatchStatus = "pending"
	BatchProcessing         BatchStatus = "processing"
	BatchCompleted          BatchStatus = "completed"
	BatchPartiallyCompleted BatchStatus = "partially_completed"
	BatchFailed             BatchStatus = "failed"
)

// BatchRun is a named, non-atomic collection of intents executed
// sequentially under one label, e.g. a payroll run. Items transition
// independently; the run is never rolled back.
type BatchRun struct {
	ID        string      `json:"id"`
	Name      string      `json:"name"`
	Items     []BatchItem `json:"items"`
	Status    BatchStatus `json:"status"`
	CreatedAt time.Time   `json:"created_at"`
}

// NewBatchRun creates a run with every item queued.
func NewBatchRun(name string, intents []PaymentIntent) *BatchRun {
	items := make([]BatchItem, len(intents))
	for i, intent := range intents {
		items[i] = BatchItem{Intent: intent, Status: ItemQueued}
	}
	return &BatchRun{
		ID:        uuid.NewString(),
		Name:      name,
		Items:     items,
		Status:    BatchPending,
		CreatedAt: time.Now().UTC(),
	}
}

// DeriveStatus recomputes the aggregate from item states. Completed only
// when every item completed; partially completed when at least one did.
func (b *BatchRun) DeriveStatus() BatchStatus {
	completed, failed := 0, 0
	for _, item := range b.Items {
		switch item.Status {
		case ItemCompleted:
			completed++
		case ItemFailed:
			failed++
		}
	}
	switch {
	case completed == len(b.Items):
		return BatchCompleted
	case completed > 0:
		return BatchPartiallyCompleted
	case failed > 0:
		return BatchFailed
	default:
		return BatchPending
	}
}

// FailedItems returns the indexes of items that did not complete, for
// re-running the batch restricted to the failed subset.
func (b *BatchRun) FailedItems() []int {
	var failed []int
	for i, item := range b.Items {
		if item.Status == ItemFailed {
			failed = append(failed, i)
		}
	}
	return failed
}

// Payee is a stored recipient with an optional default amount.
type Payee struct {
	ID            int64           `json:"id"`
	Name          string          `json:"name"`
	Wallet        string          `json:"wallet"`
	DefaultAmount decimal.Decimal `json:"default_amount"`
	CreatedAt     time.Time       `json:"created_at"`
}
