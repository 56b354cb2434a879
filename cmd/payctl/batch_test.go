package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stablepay/stablepay/internal/domain"
	"github.com/stablepay/stablepay/internal/errors"
)

func TestRunOutcomeError(t *testing.T) {
	run := domain.NewBatchRun("payroll", []domain.PaymentIntent{{}, {}})

	run.Items[0].Status = domain.ItemCompleted
	run.Items[1].Status = domain.ItemCompleted
	run.Status = run.DeriveStatus()
	assert.NoError(t, runOutcomeError(run))

	run.Items[1].Status = domain.ItemFailed
	run.Status = run.DeriveStatus()
	err := runOutcomeError(run)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.KindSubmissionFailed))
	assert.Contains(t, err.Error(), "partially_completed")
	assert.Contains(t, err.Error(), "[1]")

	run.Items[0].Status = domain.ItemFailed
	run.Status = run.DeriveStatus()
	require.Error(t, runOutcomeError(run))
}
