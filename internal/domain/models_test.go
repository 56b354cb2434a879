package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intents(n int) []PaymentIntent {
	out := make([]PaymentIntent, n)
	for i := range out {
		out[i] = PaymentIntent{
			Sender:    "s",
			Recipient: "r",
			Amount:    decimal.RequireFromString("1"),
			Asset:     "USDC",
		}
	}
	return out
}

func TestDeriveStatus(t *testing.T) {
	cases := []struct {
		name     string
		statuses []ItemStatus
		want     BatchStatus
	}{
		{"all completed", []ItemStatus{ItemCompleted, ItemCompleted}, BatchCompleted},
		{"some completed", []ItemStatus{ItemCompleted, ItemFailed}, BatchPartiallyCompleted},
		{"none completed", []ItemStatus{ItemFailed, ItemFailed}, BatchFailed},
		{"partial with queued remainder", []ItemStatus{ItemCompleted, ItemQueued}, BatchPartiallyCompleted},
		{"untouched", []ItemStatus{ItemQueued, ItemQueued}, BatchPending},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			run := NewBatchRun("test", intents(len(tc.statuses)))
			for i, s := range tc.statuses {
				run.Items[i].Status = s
			}
			assert.Equal(t, tc.want, run.DeriveStatus())
		})
	}
}

func TestFailedItems(t *testing.T) {
	run := NewBatchRun("test", intents(4))
	run.Items[0].Status = ItemCompleted
	run.Items[1].Status = ItemFailed
	run.Items[2].Status = ItemCompleted
	run.Items[3].Status = ItemFailed

	assert.Equal(t, []int{1, 3}, run.FailedItems())
}

func TestNewBatchRunQueuesEverything(t *testing.T) {
	run := NewBatchRun("payroll", intents(3))
	require.NotEmpty(t, run.ID)
	assert.Equal(t, BatchPending, run.Status)
	for _, item := range run.Items {
		assert.Equal(t, ItemQueued, item.Status)
	}
}

func TestNewTransactionRecord(t *testing.T) {
	record := NewTransactionRecord(intents(1)[0], "batch-9")
	require.NotEmpty(t, record.ID)
	assert.Equal(t, RecordPending, record.Status)
	assert.Equal(t, "batch-9", record.BatchID)
	assert.Empty(t, record.Signature)
}
